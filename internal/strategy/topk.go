package strategy

import (
	"math"
	"sort"

	"trades-sim/internal/execution"
	"trades-sim/internal/indicator"
)

// TopK 按动量排序，等权持有前 K 个标的。
// 仍在前 K 的持仓保持不动，跌出前 K 的清仓，新进入的按 risk_degree 分配资金。
type TopK struct {
	calc       *indicator.Calculator
	universe   []string
	k          int
	riskDegree float64
	tradeUnit  int64

	trend  bool
	maxRSI float64
}

// TopKOption 调整候选过滤规则。
type TopKOption func(*TopK)

// WithTrendFilter 剔除收盘价低于均线的标的。
func WithTrendFilter() TopKOption {
	return func(s *TopK) {
		s.trend = true
	}
}

// WithMaxRSI 剔除 RSI 高于 v 的标的，RSI 不可用时不过滤。
func WithMaxRSI(v float64) TopKOption {
	return func(s *TopK) {
		s.maxRSI = v
	}
}

// NewTopK 创建 TopK 策略。
func NewTopK(calc *indicator.Calculator, universe []string, k int, riskDegree float64, tradeUnit int64, opts ...TopKOption) *TopK {
	u := append([]string(nil), universe...)
	sort.Strings(u)
	s := &TopK{calc: calc, universe: u, k: k, riskDegree: riskDegree, tradeUnit: tradeUnit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TopK) eligible(r indicator.Result) bool {
	if !r.Ready() || math.IsNaN(r.Close) || r.Close <= 0 {
		return false
	}
	if s.trend && (math.IsNaN(r.SMA) || r.Close < r.SMA) {
		return false
	}
	if s.maxRSI > 0 && !math.IsNaN(r.RSI) && r.RSI > s.maxRSI {
		return false
	}
	return true
}

type scored struct {
	instrument string
	score      float64
	close      float64
}

// rank 返回 start 之前动量最高的至多 K 个标的及其最近收盘价。
func (s *TopK) rank(in execution.StrategyInput) ([]scored, error) {
	var candidates []scored
	for _, inst := range s.universe {
		r, err := s.calc.Compute(inst, in.Start)
		if err != nil {
			return nil, err
		}
		if !s.eligible(r) {
			continue
		}
		candidates = append(candidates, scored{instrument: inst, score: r.ROC, close: r.Close})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].instrument < candidates[j].instrument
	})
	if len(candidates) > s.k {
		candidates = candidates[:s.k]
	}
	return candidates, nil
}

// GenerateDecision 实现 execution.Strategy。
func (s *TopK) GenerateDecision(in execution.StrategyInput) (execution.Decision, error) {
	top, err := s.rank(in)
	if err != nil {
		return execution.Decision{}, err
	}
	d := execution.Decision{Start: in.Start, End: in.End}
	if len(top) == 0 {
		return d, nil
	}

	targets := make(map[string]int64, len(top)+len(in.Account.Positions))
	for inst := range in.Account.Positions {
		targets[inst] = 0
	}

	budget := in.Account.Value.InexactFloat64() * s.riskDegree / float64(s.k)
	for _, c := range top {
		if held := in.Account.Amount(c.instrument); held > 0 {
			targets[c.instrument] = held
			continue
		}
		shares := int64(math.Floor(budget / c.close))
		if s.tradeUnit > 0 {
			shares = shares / s.tradeUnit * s.tradeUnit
		}
		targets[c.instrument] = shares
	}

	for inst, amount := range targets {
		if amount == 0 && in.Account.Amount(inst) == 0 {
			delete(targets, inst)
		}
	}
	d.Targets = targets
	return d, nil
}
