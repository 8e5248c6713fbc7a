package market

import (
	"math"
	"time"
)

// Field 为行情字段名。
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
	FieldVWAP   Field = "vwap"
	FieldFactor Field = "factor"
)

// ParseField 校验价格字段名。
func ParseField(name string) (Field, bool) {
	switch f := Field(name); f {
	case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume, FieldVWAP, FieldFactor:
		return f, true
	default:
		return "", false
	}
}

// Quote 为某标的在某时间点（或区间）的只读行情快照。
type Quote struct {
	Instrument string
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	VWAP       float64
	Factor     float64
	PrevClose  float64
	Suspended  bool
	LimitBuy   bool // 涨停，不可买入
	LimitSell  bool // 跌停，不可卖出
}

// Value 读取字段值，NaN 或未知字段视为缺失。
func (q Quote) Value(f Field) (float64, bool) {
	var v float64
	switch f {
	case FieldOpen:
		v = q.Open
	case FieldHigh:
		v = q.High
	case FieldLow:
		v = q.Low
	case FieldClose:
		v = q.Close
	case FieldVolume:
		v = q.Volume
	case FieldVWAP:
		v = q.VWAP
	case FieldFactor:
		v = q.Factor
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Change 返回相对前收盘的涨跌幅，前收盘缺失时返回 ok=false。
func (q Quote) Change() (float64, bool) {
	if math.IsNaN(q.PrevClose) || q.PrevClose <= 0 {
		return 0, false
	}
	if math.IsNaN(q.Close) {
		return 0, false
	}
	return q.Close/q.PrevClose - 1, true
}
