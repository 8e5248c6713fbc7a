package indicator

import (
	"math"
)

// Series 为某标的截至某时刻的收盘价序列，按时间升序。
type Series struct {
	Instrument string
	Close      []float64
}

// Len 返回序列长度。
func (s Series) Len() int {
	return len(s.Close)
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}
