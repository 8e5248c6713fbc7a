package market

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Source 为只读行情数据源，回测期间预加载且同步可用。
type Source interface {
	Instruments() []string
	Has(instrument string) bool
	Get(instrument string, ts time.Time, field Field) (float64, bool, error)
	IsSuspended(instrument string, ts time.Time) (bool, error)
	Window(instrument string, start, end time.Time) (Quote, error)
	History(instrument string, end time.Time, n int) ([]float64, error)
}

// MemorySource 以内存切片保存全部行情，创建后不再修改，可在多个回测间共享。
type MemorySource struct {
	bars  map[string][]Quote
	names []string
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource 按标的整理行情并补齐前收盘。同一标的时间重复视为数据错误。
func NewMemorySource(quotes []Quote) (*MemorySource, error) {
	bars := make(map[string][]Quote)
	for _, q := range quotes {
		if q.Instrument == "" {
			return nil, fmt.Errorf("market: 行情缺少标的代码 time=%s", q.Time.Format(time.RFC3339))
		}
		if q.Factor == 0 || math.IsNaN(q.Factor) {
			q.Factor = 1
		}
		bars[q.Instrument] = append(bars[q.Instrument], q)
	}

	names := make([]string, 0, len(bars))
	for name, series := range bars {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Time.Before(series[j].Time)
		})
		prevClose := math.NaN()
		for i := range series {
			if i > 0 && !series[i].Time.After(series[i-1].Time) {
				return nil, fmt.Errorf("market: %s 存在重复时间点 %s", name, series[i].Time.Format(time.RFC3339))
			}
			if series[i].PrevClose == 0 {
				series[i].PrevClose = prevClose
			}
			if !series[i].Suspended && !math.IsNaN(series[i].Close) {
				prevClose = series[i].Close
			}
		}
		bars[name] = series
		names = append(names, name)
	}
	sort.Strings(names)

	return &MemorySource{bars: bars, names: names}, nil
}

// Instruments 返回全部标的（排序后）。
func (s *MemorySource) Instruments() []string {
	return append([]string(nil), s.names...)
}

// Has 判断标的是否存在。
func (s *MemorySource) Has(instrument string) bool {
	_, ok := s.bars[instrument]
	return ok
}

// Calendar 汇总全部标的时间点构建指定粒度的日历。
func (s *MemorySource) Calendar(freq Freq) (*Calendar, error) {
	seen := make(map[int64]time.Time)
	for _, series := range s.bars {
		for _, q := range series {
			seen[q.Time.UnixNano()] = q.Time
		}
	}
	times := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	// 比数据更粗的粒度取每个区间的首个时间点
	out := times[:0]
	var last time.Time
	for i, ts := range times {
		b := freq.Bucket(ts)
		if i > 0 && b.Equal(last) {
			continue
		}
		last = b
		out = append(out, ts)
	}
	return NewCalendar(freq, out)
}

func (s *MemorySource) series(instrument string) ([]Quote, error) {
	series, ok := s.bars[instrument]
	if !ok {
		return nil, fmt.Errorf("market: %s: %w", instrument, ErrUnknownInstrument)
	}
	return series, nil
}

func (s *MemorySource) bar(instrument string, ts time.Time) (Quote, error) {
	series, err := s.series(instrument)
	if err != nil {
		return Quote{}, err
	}
	idx := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(ts) })
	if idx >= len(series) || !series[idx].Time.Equal(ts) {
		return Quote{}, fmt.Errorf("market: %s 缺少 %s 的行情: %w", instrument, ts.Format(time.RFC3339), ErrMissingField)
	}
	return series[idx], nil
}

// Get 读取单个字段，值缺失时 ok=false。
func (s *MemorySource) Get(instrument string, ts time.Time, field Field) (float64, bool, error) {
	q, err := s.bar(instrument, ts)
	if err != nil {
		return 0, false, err
	}
	v, ok := q.Value(field)
	return v, ok, nil
}

// IsSuspended 判断标的在 ts 是否停牌。
func (s *MemorySource) IsSuspended(instrument string, ts time.Time) (bool, error) {
	q, err := s.bar(instrument, ts)
	if err != nil {
		return false, err
	}
	return q.Suspended, nil
}

// Window 聚合 [start, end) 内的行情。区间内全部停牌时返回 Suspended=true。
func (s *MemorySource) Window(instrument string, start, end time.Time) (Quote, error) {
	series, err := s.series(instrument)
	if err != nil {
		return Quote{}, err
	}
	lo := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(start) })
	hi := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(end) })
	if lo >= hi {
		return Quote{}, fmt.Errorf("market: %s 在 [%s, %s) 无行情: %w",
			instrument, start.Format(time.RFC3339), end.Format(time.RFC3339), ErrMissingField)
	}
	return aggregate(instrument, start, series[lo:hi]), nil
}

func aggregate(instrument string, start time.Time, bars []Quote) Quote {
	out := Quote{
		Instrument: instrument,
		Time:       start,
		Open:       math.NaN(),
		High:       math.NaN(),
		Low:        math.NaN(),
		Close:      math.NaN(),
		VWAP:       math.NaN(),
		Factor:     bars[0].Factor,
		PrevClose:  bars[0].PrevClose,
		Suspended:  true,
		LimitBuy:   true,
		LimitSell:  true,
	}

	var (
		turnover  float64
		vwapSum   float64
		vwapCount int
	)
	for _, b := range bars {
		if b.Suspended {
			continue
		}
		if out.Suspended {
			out.Suspended = false
			out.Open = b.Open
			out.High = b.High
			out.Low = b.Low
		}
		out.High = math.Max(out.High, b.High)
		out.Low = math.Min(out.Low, b.Low)
		out.Close = b.Close
		out.Factor = b.Factor
		out.Volume += b.Volume
		out.LimitBuy = out.LimitBuy && b.LimitBuy
		out.LimitSell = out.LimitSell && b.LimitSell
		if !math.IsNaN(b.VWAP) {
			turnover += b.VWAP * b.Volume
			vwapSum += b.VWAP
			vwapCount++
		}
	}

	if out.Suspended {
		out.LimitBuy = false
		out.LimitSell = false
		return out
	}
	switch {
	case out.Volume > 0 && turnover > 0:
		out.VWAP = turnover / out.Volume
	case vwapCount > 0:
		out.VWAP = vwapSum / float64(vwapCount)
	}
	return out
}

// History 返回 end 之前最近 n 个未停牌收盘价（按时间升序）。
func (s *MemorySource) History(instrument string, end time.Time, n int) ([]float64, error) {
	series, err := s.series(instrument)
	if err != nil {
		return nil, err
	}
	hi := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(end) })
	closes := make([]float64, 0, n)
	for i := hi - 1; i >= 0 && len(closes) < n; i-- {
		if series[i].Suspended || math.IsNaN(series[i].Close) {
			continue
		}
		closes = append(closes, series[i].Close)
	}
	for i, j := 0, len(closes)-1; i < j; i, j = i+1, j-1 {
		closes[i], closes[j] = closes[j], closes[i]
	}
	return closes, nil
}
