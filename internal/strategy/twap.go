package strategy

import (
	"sort"

	"trades-sim/internal/exchange"
	"trades-sim/internal/execution"
)

// TWAP 把上层决策的净委托平均拆到剩余子步，未成交部分顺延，最后一步补齐余量。
// 状态在每个上层步的第 0 个子步重建。
type TWAP struct {
	tradeUnit int64
	plan      map[string]int64 // 带符号的计划数量，正为买入
	done      map[string]int64
	order     []string
}

// NewTWAP 创建 TWAP 策略。
func NewTWAP(tradeUnit int64) *TWAP {
	return &TWAP{tradeUnit: tradeUnit}
}

// GenerateDecision 实现 execution.Strategy。
func (s *TWAP) GenerateDecision(in execution.StrategyInput) (execution.Decision, error) {
	if in.Step == 0 {
		s.start(in)
	} else {
		s.record(in.Previous)
	}
	if len(s.plan) == 0 {
		return execution.Decision{}, nil
	}

	remainingSteps := int64(in.Steps - in.Step)
	if remainingSteps < 1 {
		remainingSteps = 1
	}

	var d execution.Decision
	for _, inst := range s.order {
		left := s.plan[inst] - s.done[inst]
		if left == 0 || (left > 0) != (s.plan[inst] > 0) {
			continue
		}
		amount := abs(left)
		if remainingSteps > 1 {
			amount /= remainingSteps
			if s.tradeUnit > 0 {
				amount = amount / s.tradeUnit * s.tradeUnit
			}
		}
		if amount == 0 {
			continue
		}
		dir := exchange.DirectionBuy
		if left < 0 {
			dir = exchange.DirectionSell
		}
		d.Orders = append(d.Orders, execution.OrderIntent{Instrument: inst, Direction: dir, Amount: amount})
	}
	return d, nil
}

func (s *TWAP) start(in execution.StrategyInput) {
	s.plan = make(map[string]int64)
	s.done = make(map[string]int64)
	s.order = s.order[:0]
	if in.Parent == nil {
		return
	}
	for inst, target := range in.Parent.Targets {
		if diff := target - in.Account.Amount(inst); diff != 0 {
			s.plan[inst] += diff
		}
	}
	for _, o := range in.Parent.Orders {
		if o.Direction == exchange.DirectionBuy {
			s.plan[o.Instrument] += o.Amount
		} else {
			s.plan[o.Instrument] -= o.Amount
		}
	}
	for inst, v := range s.plan {
		if v == 0 {
			delete(s.plan, inst)
			continue
		}
		s.order = append(s.order, inst)
	}
	// 先卖后买，同方向按代码排序
	sort.Slice(s.order, func(i, j int) bool {
		si, sj := s.plan[s.order[i]] < 0, s.plan[s.order[j]] < 0
		if si != sj {
			return si
		}
		return s.order[i] < s.order[j]
	})
}

func (s *TWAP) record(prev *execution.Result) {
	if prev == nil {
		return
	}
	for _, f := range prev.Fills {
		if !f.Success() {
			continue
		}
		if f.Order.Direction == exchange.DirectionBuy {
			s.done[f.Order.Instrument] += f.DealAmount
		} else {
			s.done[f.Order.Instrument] -= f.DealAmount
		}
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
