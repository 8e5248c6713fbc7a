package backtest

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"trades-sim/internal/exchange"
	"trades-sim/internal/market"
	"trades-sim/internal/strategy"
)

// ErrInvalidConfig 表示回测配置非法，回测不能启动。
var ErrInvalidConfig = errors.New("backtest: 配置无效")

// LevelConfig 描述执行器层级中的一层：该层粒度与为该层生成决策的策略。
type LevelConfig struct {
	Freq     string          `mapstructure:"freq" yaml:"freq"`
	Strategy strategy.Config `mapstructure:"strategy" yaml:"strategy"`
}

// Config 定义一次回测的参数，构建后不再修改。
type Config struct {
	Name        string          `mapstructure:"name" yaml:"name"`
	Start       time.Time       `mapstructure:"start" yaml:"start"`                 // 开始时间（含）
	End         time.Time       `mapstructure:"end" yaml:"end"`                     // 结束时间（不含）
	InitialCash float64         `mapstructure:"initial_cash" yaml:"initial_cash"`   // 初始资金
	Seed        int64           `mapstructure:"seed" yaml:"seed"`                   // 委托编号种子
	Levels      []LevelConfig   `mapstructure:"levels" yaml:"levels"`               // 从粗到细
	Exchange    exchange.Config `mapstructure:"exchange" yaml:"exchange"`
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = 1_000_000
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return cfg
}

// Validate 校验层级结构与各层配置，多个问题合并返回。
func (c Config) Validate() error {
	var err error
	if !c.End.IsZero() && !c.End.After(c.Start) {
		err = multierr.Append(err, fmt.Errorf("end %s 必须晚于 start %s",
			c.End.Format(time.RFC3339), c.Start.Format(time.RFC3339)))
	}
	if c.InitialCash < 0 {
		err = multierr.Append(err, fmt.Errorf("initial_cash 不能为负: %v", c.InitialCash))
	}
	if len(c.Levels) == 0 {
		err = multierr.Append(err, errors.New("至少需要一层执行器"))
	}

	var prev market.Freq
	for i, lvl := range c.Levels {
		f, ferr := market.ParseFreq(lvl.Freq)
		if ferr != nil {
			err = multierr.Append(err, fmt.Errorf("levels[%d]: %w", i, ferr))
			continue
		}
		if i > 0 && prev.Duration > 0 && prev.Finer(f) {
			err = multierr.Append(err, fmt.Errorf("levels[%d]: 粒度 %s 比上层 %s 更粗", i, f, prev))
		}
		prev = f
		if serr := lvl.Strategy.Validate(); serr != nil {
			err = multierr.Append(err, fmt.Errorf("levels[%d]: %w", i, serr))
		}
	}
	if eerr := c.Exchange.Validate(); eerr != nil {
		err = multierr.Append(err, eerr)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
