package backtest

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-sim/internal/exchange"
	"trades-sim/internal/execution"
	"trades-sim/internal/market"
	"trades-sim/internal/position"
	"trades-sim/internal/strategy"
)

// Build 按配置构建一次回测：账户、撮合器、各层日历、执行器与策略。
// source 只读，可在多次回测间共享；其余对象均为本次回测独占。
func Build(cfg Config, source Data, recorder Recorder, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: 行情数据源不能为空", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalize()

	freqs := make([]market.Freq, len(cfg.Levels))
	for i, lvl := range cfg.Levels {
		f, err := market.ParseFreq(lvl.Freq)
		if err != nil {
			return nil, err
		}
		freqs[i] = f
	}

	leafFreq := freqs[len(freqs)-1]
	fine, err := source.Calendar(leafFreq)
	if err != nil {
		return nil, fmt.Errorf("backtest: 构建 %s 日历失败: %w", leafFreq, err)
	}

	account, err := position.NewAccount(decimal.NewFromFloat(cfg.InitialCash), logger.Named("position"))
	if err != nil {
		return nil, err
	}
	ex, err := exchange.New(cfg.Exchange, source, logger.Named("exchange"))
	if err != nil {
		return nil, err
	}

	strategies := make([]execution.Strategy, len(cfg.Levels))
	for i, lvl := range cfg.Levels {
		s, err := strategy.New(lvl.Strategy, source, cfg.Exchange.TradeUnit)
		if err != nil {
			return nil, fmt.Errorf("backtest: levels[%d] 策略: %w", i, err)
		}
		strategies[i] = s
	}

	var exec execution.Executor
	exec, err = execution.NewSimulatorExecutor(fine, ex, account, logger.Named("execution"), execution.WithIDSeed(cfg.Seed))
	if err != nil {
		return nil, err
	}
	for i := len(freqs) - 2; i >= 0; i-- {
		cal, err := fine.Resample(freqs[i])
		if err != nil {
			return nil, fmt.Errorf("backtest: 重采样到 %s 失败: %w", freqs[i], err)
		}
		// 第 i 层执行器的子步决策由第 i+1 层策略生成
		exec, err = execution.NewNestedExecutor(cal, exec, strategies[i+1], account, source, logger.Named("execution"))
		if err != nil {
			return nil, err
		}
	}

	return NewEngine(cfg, freqs[0], exec, strategies[0], account, recorder, logger.Named("backtest"))
}

// Data 为回测所需的行情与日历来源。
type Data interface {
	market.Source
	Calendar(freq market.Freq) (*market.Calendar, error)
}

var _ Data = (*market.MemorySource)(nil)
