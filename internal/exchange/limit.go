package exchange

import "trades-sim/internal/market"

// LimitRule 判定标的在给定行情下是否因涨跌停无法买入或卖出。
// 规则只需对每个 (标的, 时间) 给出布尔结果，更复杂的表达式可以实现该接口接入。
type LimitRule interface {
	Locked(q market.Quote) (buyLocked, sellLocked bool)
}

// PercentLimit 以相对前收盘的涨跌幅判定：涨幅达到阈值不可买，跌幅达到阈值不可卖。
type PercentLimit struct {
	Threshold float64
}

// Locked 实现 LimitRule。前收盘缺失时视为未触及涨跌停。
func (p PercentLimit) Locked(q market.Quote) (bool, bool) {
	change, ok := q.Change()
	if !ok {
		return false, false
	}
	return change >= p.Threshold, change <= -p.Threshold
}

// FlagLimit 直接读取行情中的涨跌停标记。
type FlagLimit struct{}

// Locked 实现 LimitRule。
func (FlagLimit) Locked(q market.Quote) (bool, bool) {
	return q.LimitBuy, q.LimitSell
}

// LimitFunc 允许使用函数作为涨跌停规则。
type LimitFunc func(q market.Quote) (bool, bool)

// Locked 实现 LimitRule。
func (f LimitFunc) Locked(q market.Quote) (bool, bool) {
	if f == nil {
		return false, false
	}
	return f(q)
}

func lockedFor(rule LimitRule, forbidAll bool, q market.Quote, dir Direction) bool {
	if rule == nil {
		return false
	}
	buy, sell := rule.Locked(q)
	if forbidAll {
		return buy || sell
	}
	if dir == DirectionBuy {
		return buy
	}
	return sell
}
