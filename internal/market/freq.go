package market

import (
	"fmt"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Freq 描述日历粒度（内部 duration + 标准 key）。
type Freq struct {
	Key      string
	Duration time.Duration
}

var supportedFreqs = map[string]Freq{
	"1min":  {Key: "1min", Duration: time.Minute},
	"5min":  {Key: "5min", Duration: 5 * time.Minute},
	"15min": {Key: "15min", Duration: 15 * time.Minute},
	"30min": {Key: "30min", Duration: 30 * time.Minute},
	"1h":    {Key: "1h", Duration: time.Hour},
	"1d":    {Key: "1d", Duration: day},
}

var freqAliases = map[string]string{
	"1m":     "1min",
	"minute": "1min",
	"5m":     "5min",
	"15m":    "15min",
	"30m":    "30min",
	"60min":  "1h",
	"60m":    "1h",
	"hour":   "1h",
	"day":    "1d",
	"daily":  "1d",
}

// ParseFreq 返回标准化粒度定义。
func ParseFreq(input string) (Freq, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if alias, ok := freqAliases[key]; ok {
		key = alias
	}
	f, ok := supportedFreqs[key]
	if !ok {
		return Freq{}, fmt.Errorf("market: 不支持的粒度 %q: %w", input, ErrCalendar)
	}
	return f, nil
}

// Daily 表示日线粒度。
func (f Freq) Daily() bool {
	return f.Duration >= day
}

func (f Freq) String() string {
	return f.Key
}

// Finer 判断 f 是否比 other 更细。
func (f Freq) Finer(other Freq) bool {
	return f.Duration < other.Duration
}

// Bucket 返回 ts 所在粒度区间的起点，日线以自然日划分。
func (f Freq) Bucket(ts time.Time) time.Time {
	y, m, d := ts.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
	if f.Daily() || f.Duration <= 0 {
		return dayStart
	}
	offset := ts.Sub(dayStart)
	return dayStart.Add(offset - offset%f.Duration)
}

// Aligned 判断 ts 是否落在粒度边界上。日线单个时间点总是对齐，
// 各时间点日内时刻一致由 NewCalendar 检查。
func (f Freq) Aligned(ts time.Time) bool {
	if f.Daily() {
		return true
	}
	return f.Bucket(ts).Equal(ts)
}

// DayStart 返回 ts 所在自然日的零点。
func DayStart(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}
