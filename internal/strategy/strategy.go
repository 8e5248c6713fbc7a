package strategy

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"trades-sim/internal/execution"
	"trades-sim/internal/indicator"
	"trades-sim/internal/market"
)

// ErrInvalidConfig 表示策略配置非法。
var ErrInvalidConfig = errors.New("strategy: 配置无效")

// Kind 为策略类型，集合封闭，在构建时解析。
type Kind string

const (
	KindTopK        Kind = "topk"
	KindTWAP        Kind = "twap"
	KindPassthrough Kind = "passthrough"
	KindHold        Kind = "hold"
)

// Config 描述一层执行器绑定的策略。
type Config struct {
	Kind       Kind    `mapstructure:"kind" yaml:"kind"`
	TopK       int     `mapstructure:"topk" yaml:"topk,omitempty"`
	Lookback   int     `mapstructure:"lookback" yaml:"lookback,omitempty"`
	RiskDegree float64 `mapstructure:"risk_degree" yaml:"risk_degree,omitempty"`
	// TrendFilter 只保留收盘价不低于 lookback 期均线的标的。
	TrendFilter bool `mapstructure:"trend_filter" yaml:"trend_filter,omitempty"`
	// MaxRSI 大于 0 时剔除 RSI 高于该值的标的（超买）。
	MaxRSI float64 `mapstructure:"max_rsi" yaml:"max_rsi,omitempty"`
}

// Validate 校验配置。
func (c Config) Validate() error {
	var err error
	switch c.Kind {
	case KindTopK:
		if c.TopK <= 0 {
			err = multierr.Append(err, fmt.Errorf("topk 必须为正: %d", c.TopK))
		}
		if c.Lookback <= 0 {
			err = multierr.Append(err, fmt.Errorf("lookback 必须为正: %d", c.Lookback))
		}
		if c.RiskDegree <= 0 || c.RiskDegree > 1 {
			err = multierr.Append(err, fmt.Errorf("risk_degree 必须位于(0,1]: %v", c.RiskDegree))
		}
		if c.MaxRSI < 0 || c.MaxRSI > 100 {
			err = multierr.Append(err, fmt.Errorf("max_rsi 必须位于[0,100]: %v", c.MaxRSI))
		}
		if c.MaxRSI > 0 && c.Lookback < 2 {
			err = multierr.Append(err, fmt.Errorf("max_rsi 需要 lookback 至少为 2: %d", c.Lookback))
		}
	case KindTWAP, KindPassthrough, KindHold:
	default:
		err = multierr.Append(err, fmt.Errorf("未知策略类型 %q", c.Kind))
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Func 允许使用函数作为策略。
type Func func(in execution.StrategyInput) (execution.Decision, error)

// GenerateDecision 实现 execution.Strategy。
func (f Func) GenerateDecision(in execution.StrategyInput) (execution.Decision, error) {
	return f(in)
}

// Hold 始终返回空决策。
type Hold struct{}

// GenerateDecision 实现 execution.Strategy。
func (Hold) GenerateDecision(execution.StrategyInput) (execution.Decision, error) {
	return execution.Decision{}, nil
}

// New 根据配置构建策略。tradeUnit 为交易单位，用于目标股数取整。
func New(cfg Config, source market.Source, tradeUnit int64) (execution.Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindTopK:
		calc, err := indicator.NewCalculator(source, cfg.Lookback)
		if err != nil {
			return nil, err
		}
		var opts []TopKOption
		if cfg.TrendFilter {
			opts = append(opts, WithTrendFilter())
		}
		if cfg.MaxRSI > 0 {
			opts = append(opts, WithMaxRSI(cfg.MaxRSI))
		}
		return NewTopK(calc, source.Instruments(), cfg.TopK, cfg.RiskDegree, tradeUnit, opts...), nil
	case KindTWAP:
		return NewTWAP(tradeUnit), nil
	case KindPassthrough:
		return Passthrough{}, nil
	default:
		return Hold{}, nil
	}
}

var (
	_ execution.Strategy = Func(nil)
	_ execution.Strategy = Hold{}
	_ execution.Strategy = Passthrough{}
	_ execution.Strategy = (*TWAP)(nil)
	_ execution.Strategy = (*TopK)(nil)
)
