package market

import "errors"

var (
	// ErrCalendar 表示日历非法（非递增、重复或粒度不一致），属于配置错误。
	ErrCalendar = errors.New("invalid calendar")
	// ErrUnknownInstrument 表示请求的标的不在数据源覆盖范围内。
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrMissingField 表示行情缺少必要字段，不能以 0 代替。
	ErrMissingField = errors.New("missing quote field")
)
