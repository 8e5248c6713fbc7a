package strategy

import "trades-sim/internal/execution"

// Passthrough 在第一个子步原样转发上层决策，其余子步不交易。
type Passthrough struct{}

// GenerateDecision 实现 execution.Strategy。
func (Passthrough) GenerateDecision(in execution.StrategyInput) (execution.Decision, error) {
	if in.Step != 0 || in.Parent == nil {
		return execution.Decision{}, nil
	}
	return execution.Decision{
		Targets: in.Parent.Targets,
		Orders:  in.Parent.Orders,
	}, nil
}
