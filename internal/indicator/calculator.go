package indicator

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"

	"trades-sim/internal/market"
)

// Result 为一次指标计算的汇总，历史不足时对应值为 NaN。
type Result struct {
	Instrument string
	End        time.Time
	Series     Series
	Close      float64
	ROC        float64 // lookback 期变动率（百分比）
	SMA        float64
	RSI        float64
}

// Ready 判断动量是否可用。
func (r Result) Ready() bool {
	return !math.IsNaN(r.ROC)
}

// Calculator 基于行情历史计算排序用指标并带有简单缓存。
type Calculator struct {
	source   market.Source
	lookback int

	mu    sync.Mutex
	cache map[string]Result
}

// NewCalculator 创建 Calculator，lookback 为动量窗口长度。
func NewCalculator(source market.Source, lookback int) (*Calculator, error) {
	if source == nil {
		return nil, errors.New("indicator: 行情数据源不能为空")
	}
	if lookback < 1 {
		return nil, fmt.Errorf("indicator: lookback 必须为正: %d", lookback)
	}
	return &Calculator{
		source:   source,
		lookback: lookback,
		cache:    make(map[string]Result),
	}, nil
}

// Lookback 返回动量窗口长度。
func (c *Calculator) Lookback() int {
	return c.lookback
}

// Compute 计算 end 之前（不含）的指标，只使用已发生的行情。
func (c *Calculator) Compute(instrument string, end time.Time) (Result, error) {
	key := fmt.Sprintf("%s:%d", instrument, end.UnixNano())

	c.mu.Lock()
	if r, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	closes, err := c.source.History(instrument, end, c.lookback+1)
	if err != nil {
		return Result{}, fmt.Errorf("indicator: 读取 %s 历史失败: %w", instrument, err)
	}
	result := c.calculate(Series{Instrument: instrument, Close: closes})
	result.End = end

	c.mu.Lock()
	c.cache[key] = result
	c.mu.Unlock()
	return result, nil
}

func (c *Calculator) calculate(series Series) Result {
	result := Result{
		Instrument: series.Instrument,
		Series:     series,
		Close:      Last(series.Close),
		ROC:        math.NaN(),
		SMA:        math.NaN(),
		RSI:        math.NaN(),
	}
	n := series.Len()
	if n > c.lookback {
		result.ROC = Last(talib.Roc(series.Close, c.lookback))
		if c.lookback >= 2 {
			result.RSI = Last(talib.Rsi(series.Close, c.lookback))
		}
	}
	if n >= c.lookback {
		result.SMA = Last(talib.Sma(series.Close, c.lookback))
	}
	return result
}
