package backtest

import (
	"math"
	"time"

	"trades-sim/internal/exchange"
	"trades-sim/internal/market"
)

// Metrics 记录回测绩效指标。
type Metrics struct {
	TotalReturn      float64        `json:"total_return" yaml:"total_return"`
	AnnualizedReturn float64        `json:"annualized_return" yaml:"annualized_return"`
	MaxDrawdown      float64        `json:"max_drawdown" yaml:"max_drawdown"`
	SharpeRatio      float64        `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	TotalCost        float64        `json:"total_cost" yaml:"total_cost"`
	TradedValue      float64        `json:"traded_value" yaml:"traded_value"`
	Turnover         float64        `json:"turnover" yaml:"turnover"` // 成交额 / 平均权益
	Steps            int            `json:"steps" yaml:"steps"`
	FillCounts       map[string]int `json:"fill_counts" yaml:"fill_counts"`
}

// tradingHoursPerDay 按 A 股 4 小时交易时段折算日内粒度。
const (
	tradingDaysPerYear = 252
	tradingHoursPerDay = 4
)

// PeriodsPerYear 返回粒度对应的年化步数。
func PeriodsPerYear(freq market.Freq) float64 {
	if freq.Daily() || freq.Duration <= 0 {
		return tradingDaysPerYear
	}
	perDay := float64(tradingHoursPerDay*time.Hour) / float64(freq.Duration)
	if perDay < 1 {
		perDay = 1
	}
	return tradingDaysPerYear * perDay
}

func calculateMetrics(equity []float64, returns []float64, periodsPerYear float64) Metrics {
	m := Metrics{FillCounts: make(map[string]int)}
	if len(equity) == 0 {
		return m
	}

	initial := equity[0]
	final := equity[len(equity)-1]
	if initial > 0 {
		m.TotalReturn = final/initial - 1
	}
	m.Steps = len(returns)
	if m.Steps > 0 && initial > 0 && final > 0 {
		m.AnnualizedReturn = math.Pow(final/initial, periodsPerYear/float64(m.Steps)) - 1
	}

	m.MaxDrawdown = computeDrawdown(equity)
	m.SharpeRatio = computeSharpe(returns, periodsPerYear)
	return m
}

// addFills 统计成本、成交额与各状态笔数。
func (m *Metrics) addFills(fills []exchange.Fill, equity []float64) {
	for _, s := range exchange.Statuses() {
		m.FillCounts[string(s)] = 0
	}
	for _, f := range fills {
		m.FillCounts[string(f.Status)]++
		if f.Success() {
			m.TotalCost += f.TradeCost.InexactFloat64()
			m.TradedValue += f.TradeValue.InexactFloat64()
		}
	}
	if avg := average(equity); avg > 0 {
		m.Turnover = m.TradedValue / avg
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func computeDrawdown(equity []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Abs(maxDD)
}

func computeSharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := average(returns)

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return (mean / std) * math.Sqrt(periodsPerYear)
}
