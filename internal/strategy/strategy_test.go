package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-sim/internal/exchange"
	"trades-sim/internal/execution"
	"trades-sim/internal/market"
	"trades-sim/internal/position"
)

var day0 = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

func dayN(n int) time.Time { return day0.AddDate(0, 0, n) }

func series(inst string, closes ...float64) []market.Quote {
	out := make([]market.Quote, 0, len(closes))
	for i, c := range closes {
		out = append(out, market.Quote{
			Instrument: inst, Time: dayN(i),
			Open: c, High: c, Low: c, Close: c, VWAP: c, Volume: 1e6, Factor: 1,
		})
	}
	return out
}

func momentumSource(t *testing.T) *market.MemorySource {
	t.Helper()
	var quotes []market.Quote
	quotes = append(quotes, series("A", 10, 11, 12, 13)...)
	quotes = append(quotes, series("B", 10, 9, 8, 7)...)
	quotes = append(quotes, series("C", 10, 10, 10, 10)...)
	src, err := market.NewMemorySource(quotes)
	require.NoError(t, err)
	return src
}

func snapshot(value int64, holdings map[string]int64) position.Snapshot {
	s := position.EmptySnapshot()
	s.Cash = decimal.NewFromInt(value)
	s.Value = decimal.NewFromInt(value)
	for inst, amount := range holdings {
		s.Positions[inst] = position.Position{Instrument: inst, Amount: amount}
	}
	return s
}

func TestTopK_BuysLeaderAndLiquidatesOthers(t *testing.T) {
	src := momentumSource(t)
	strat, err := New(Config{Kind: KindTopK, TopK: 1, Lookback: 2, RiskDegree: 0.95}, src, 100)
	require.NoError(t, err)

	d, err := strat.GenerateDecision(execution.StrategyInput{
		Start:   dayN(3),
		End:     dayN(4),
		Account: snapshot(100000, map[string]int64{"B": 500}),
	})
	require.NoError(t, err)

	// A 的 2 期动量 (12/10-1)=20% 最高；95000/12 取整到 100 股
	assert.Equal(t, map[string]int64{"A": 7900, "B": 0}, d.Targets)
	assert.Equal(t, dayN(3), d.Start)
	require.NoError(t, d.Validate(src))
}

func TestTopK_KeepsExistingLeaderPosition(t *testing.T) {
	src := momentumSource(t)
	strat, err := New(Config{Kind: KindTopK, TopK: 2, Lookback: 2, RiskDegree: 1}, src, 100)
	require.NoError(t, err)

	d, err := strat.GenerateDecision(execution.StrategyInput{
		Start:   dayN(3),
		Account: snapshot(100000, map[string]int64{"A": 300}),
	})
	require.NoError(t, err)
	// 第二名 C (0%) 分到 50000/10
	assert.Equal(t, map[string]int64{"A": 300, "C": 5000}, d.Targets)
}

func TestTopK_NotEnoughHistory(t *testing.T) {
	src := momentumSource(t)
	strat, err := New(Config{Kind: KindTopK, TopK: 1, Lookback: 2, RiskDegree: 1}, src, 100)
	require.NoError(t, err)

	d, err := strat.GenerateDecision(execution.StrategyInput{Start: dayN(1), Account: snapshot(100000, nil)})
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestTopK_TrendFilterDropsInstrumentsBelowAverage(t *testing.T) {
	src := momentumSource(t)
	strat, err := New(Config{Kind: KindTopK, TopK: 3, Lookback: 2, RiskDegree: 1, TrendFilter: true}, src, 100)
	require.NoError(t, err)

	d, err := strat.GenerateDecision(execution.StrategyInput{Start: dayN(3), Account: snapshot(90000, nil)})
	require.NoError(t, err)
	// B 收盘 8 低于均线 8.5；A、C 各分 30000
	assert.Equal(t, map[string]int64{"A": 2500, "C": 3000}, d.Targets)
}

func TestTopK_MaxRSISkipsOverbought(t *testing.T) {
	src := momentumSource(t)
	strat, err := New(Config{Kind: KindTopK, TopK: 1, Lookback: 2, RiskDegree: 1, MaxRSI: 80}, src, 100)
	require.NoError(t, err)

	d, err := strat.GenerateDecision(execution.StrategyInput{Start: dayN(3), Account: snapshot(100000, nil)})
	require.NoError(t, err)
	// A 连涨 RSI=100 被剔除，C 动量次高
	assert.Equal(t, map[string]int64{"C": 10000}, d.Targets)
}

func successFill(inst string, dir exchange.Direction, amount int64) exchange.Fill {
	return exchange.Fill{
		Order:      exchange.Order{Instrument: inst, Direction: dir, Amount: amount},
		DealAmount: amount,
		Status:     exchange.StatusSuccess,
	}
}

func TestTWAP_SplitsAcrossRemainingSteps(t *testing.T) {
	twap := NewTWAP(100)
	parent := &execution.Decision{
		Targets: map[string]int64{"A": 1000, "B": 0},
		Orders:  []execution.OrderIntent{{Instrument: "C", Direction: exchange.DirectionBuy, Amount: 100}},
	}
	acc := snapshot(100000, map[string]int64{"B": 400})

	var prev *execution.Result
	var gotA, gotB []int64
	for k := 0; k < 4; k++ {
		d, err := twap.GenerateDecision(execution.StrategyInput{Step: k, Steps: 4, Parent: parent, Previous: prev, Account: acc})
		require.NoError(t, err)

		res := execution.Result{}
		for i, o := range d.Orders {
			if i == 0 && k == 0 {
				assert.Equal(t, exchange.DirectionSell, o.Direction, "sells first")
			}
			switch o.Instrument {
			case "A":
				gotA = append(gotA, o.Amount)
			case "B":
				gotB = append(gotB, o.Amount)
			}
			res.Fills = append(res.Fills, successFill(o.Instrument, o.Direction, o.Amount))
		}
		prev = &res
	}

	assert.Equal(t, []int64{200, 200, 300, 300}, gotA)
	assert.Equal(t, []int64{100, 100, 100, 100}, gotB)
}

func TestTWAP_CarriesUnfilledRemainder(t *testing.T) {
	twap := NewTWAP(100)
	parent := &execution.Decision{Orders: []execution.OrderIntent{{Instrument: "A", Direction: exchange.DirectionBuy, Amount: 400}}}

	d, err := twap.GenerateDecision(execution.StrategyInput{Step: 0, Steps: 2, Parent: parent})
	require.NoError(t, err)
	require.Len(t, d.Orders, 1)
	assert.Equal(t, int64(200), d.Orders[0].Amount)

	rejected := execution.Result{Fills: []exchange.Fill{{Order: exchange.Order{Instrument: "A", Direction: exchange.DirectionBuy}, Status: exchange.StatusRejectedLimit}}}
	d, err = twap.GenerateDecision(execution.StrategyInput{Step: 1, Steps: 2, Parent: parent, Previous: &rejected})
	require.NoError(t, err)
	require.Len(t, d.Orders, 1)
	assert.Equal(t, int64(400), d.Orders[0].Amount)
}

func TestPassthroughAndHold(t *testing.T) {
	parent := &execution.Decision{Targets: map[string]int64{"A": 100}}

	d, err := Passthrough{}.GenerateDecision(execution.StrategyInput{Step: 0, Parent: parent})
	require.NoError(t, err)
	assert.Equal(t, parent.Targets, d.Targets)

	d, err = Passthrough{}.GenerateDecision(execution.StrategyInput{Step: 1, Parent: parent})
	require.NoError(t, err)
	assert.True(t, d.Empty())

	d, err = Hold{}.GenerateDecision(execution.StrategyInput{Parent: parent})
	require.NoError(t, err)
	assert.True(t, d.Empty())

	called := false
	f := Func(func(in execution.StrategyInput) (execution.Decision, error) {
		called = true
		return execution.Decision{}, nil
	})
	_, err = f.GenerateDecision(execution.StrategyInput{})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestConfigValidate(t *testing.T) {
	src := momentumSource(t)

	_, err := New(Config{Kind: "ml"}, src, 100)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = Config{Kind: KindTopK}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topk")
	assert.Contains(t, err.Error(), "lookback")
	assert.Contains(t, err.Error(), "risk_degree")

	err = Config{Kind: KindTopK, TopK: 1, Lookback: 1, RiskDegree: 1, MaxRSI: 120}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_rsi")

	for _, k := range []Kind{KindTWAP, KindPassthrough, KindHold} {
		s, err := New(Config{Kind: k}, src, 100)
		require.NoError(t, err)
		assert.NotNil(t, s)
	}
}
