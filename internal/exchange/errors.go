package exchange

import (
	"errors"
)

var (
	// ErrInvalidConfig 表示成本或涨跌停配置非法，回测不能启动。
	ErrInvalidConfig = errors.New("invalid exchange config")
)
