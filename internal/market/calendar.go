package market

import (
	"fmt"
	"sort"
	"time"
)

// Calendar 为某一粒度下严格递增、去重的时间序列，运行期间只读共享。
type Calendar struct {
	freq  Freq
	times []time.Time
	end   time.Time
}

// NewCalendar 校验并创建日历。ts 必须严格递增，且每个粒度区间内至多一个时间点；
// 日线日历的各时间点须处于同一日内时刻。
func NewCalendar(freq Freq, times []time.Time) (*Calendar, error) {
	if freq.Duration <= 0 {
		return nil, fmt.Errorf("market: 日历粒度无效: %w", ErrCalendar)
	}
	for i, ts := range times {
		if !freq.Aligned(ts) {
			return nil, fmt.Errorf("market: 时间点 %s 未对齐粒度 %s: %w", ts.Format(time.RFC3339), freq, ErrCalendar)
		}
		if i == 0 {
			continue
		}
		if err := checkOrder(freq, times[i-1], ts); err != nil {
			return nil, err
		}
		if freq.Daily() && timeOfDay(ts) != timeOfDay(times[0]) {
			return nil, fmt.Errorf("market: 日线时间点 %s 与 %s 的日内时刻不一致: %w",
				ts.Format(time.RFC3339), times[0].Format(time.RFC3339), ErrCalendar)
		}
	}

	cp := make([]time.Time, len(times))
	copy(cp, times)
	return &Calendar{freq: freq, times: cp}, nil
}

func checkOrder(freq Freq, prev, ts time.Time) error {
	if !ts.After(prev) {
		return fmt.Errorf("market: 日历非严格递增 %s -> %s: %w",
			prev.Format(time.RFC3339), ts.Format(time.RFC3339), ErrCalendar)
	}
	if freq.Bucket(prev).Equal(freq.Bucket(ts)) {
		return fmt.Errorf("market: %s 与 %s 落在同一 %s 区间: %w",
			prev.Format(time.RFC3339), ts.Format(time.RFC3339), freq, ErrCalendar)
	}
	return nil
}

func timeOfDay(ts time.Time) time.Duration {
	return ts.Sub(DayStart(ts))
}

// Freq 返回日历粒度。
func (c *Calendar) Freq() Freq {
	return c.freq
}

// Len 返回时间点数量。
func (c *Calendar) Len() int {
	return len(c.times)
}

// At 返回第 i 个时间点。
func (c *Calendar) At(i int) time.Time {
	return c.times[i]
}

// Times 返回全部时间点的副本。
func (c *Calendar) Times() []time.Time {
	return append([]time.Time(nil), c.times...)
}

// Index 返回首个不早于 ts 的时间点下标。
func (c *Calendar) Index(ts time.Time) int {
	return sort.Search(len(c.times), func(i int) bool {
		return !c.times[i].Before(ts)
	})
}

// Slice 返回 [start, end) 内的子日历，零值 end 表示不设上界。
func (c *Calendar) Slice(start, end time.Time) *Calendar {
	lo := c.Index(start)
	hi := len(c.times)
	if !end.IsZero() {
		hi = c.Index(end)
	}
	if hi < lo {
		hi = lo
	}
	return &Calendar{freq: c.freq, times: c.times[lo:hi:hi], end: end}
}

// Window 返回第 i 个时间点覆盖的区间 [t_i, t_{i+1})。
// 最后一个时间点以粒度长度收尾，并受 Slice 上界约束。
func (c *Calendar) Window(i int) (time.Time, time.Time) {
	start := c.times[i]
	if i+1 < len(c.times) {
		return start, c.times[i+1]
	}
	end := c.freq.Bucket(start).Add(c.freq.Duration)
	if c.freq.Daily() {
		end = DayStart(start).AddDate(0, 0, 1)
	}
	if !c.end.IsZero() && c.end.Before(end) {
		end = c.end
	}
	return start, end
}

// Resample 将日历重采样到更粗的粒度，每个区间取首个时间点。
func (c *Calendar) Resample(freq Freq) (*Calendar, error) {
	if freq.Finer(c.freq) {
		return nil, fmt.Errorf("market: 不能从 %s 重采样到更细的 %s: %w", c.freq, freq, ErrCalendar)
	}
	out := make([]time.Time, 0, len(c.times))
	var last time.Time
	for i, ts := range c.times {
		b := freq.Bucket(ts)
		if i > 0 && b.Equal(last) {
			continue
		}
		last = b
		out = append(out, ts)
	}
	return &Calendar{freq: freq, times: out, end: c.end}, nil
}
