package backtest

// tracker 记录顶层每一步结束时的账户权益。
type tracker struct {
	equity  []float64
	returns []float64
}

func newTracker(initial float64) *tracker {
	return &tracker{equity: []float64{initial}}
}

// advance 追加一步权益并计算收益率。
func (t *tracker) advance(value float64) {
	prev := t.equity[len(t.equity)-1]
	if prev != 0 {
		t.returns = append(t.returns, value/prev-1)
	} else {
		t.returns = append(t.returns, 0)
	}
	t.equity = append(t.equity, value)
}

func (t *tracker) equityHistory() []float64 {
	return append([]float64(nil), t.equity...)
}

func (t *tracker) returnHistory() []float64 {
	return append([]float64(nil), t.returns...)
}
