package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-sim/internal/exchange"
	"trades-sim/internal/execution"
	"trades-sim/internal/id"
	"trades-sim/internal/market"
	"trades-sim/internal/position"
)

// Result 汇总回测结果。
type Result struct {
	RunID       string            `json:"run_id" yaml:"run_id"`
	Name        string            `json:"name" yaml:"name"`
	Start       time.Time         `json:"start" yaml:"start"`
	End         time.Time         `json:"end" yaml:"end"`
	Metrics     Metrics           `json:"metrics" yaml:"metrics"`
	EquityCurve []float64         `json:"equity_curve" yaml:"equity_curve"`
	Steps       []StepRecord      `json:"steps" yaml:"steps"`
	Fills       []exchange.Fill   `json:"fills" yaml:"fills"`
	Final       position.Snapshot `json:"final" yaml:"final"`
}

// Engine 推进顶层日历：向顶层策略索取决策，驱动执行器并记录指标。
// 一个 Engine 独占自己的账户与执行器，只能 Run 一次。
type Engine struct {
	cfg      Config
	freq     market.Freq
	top      execution.Executor
	strategy execution.Strategy
	account  *position.Account
	recorder Recorder
	logger   *zap.Logger
	ran      bool
}

// NewEngine 构建回测引擎。freq 为顶层执行器的粒度，用于年化指标。
func NewEngine(cfg Config, freq market.Freq, top execution.Executor, strat execution.Strategy, account *position.Account, recorder Recorder, logger *zap.Logger) (*Engine, error) {
	if top == nil {
		return nil, fmt.Errorf("backtest: 顶层执行器不能为空")
	}
	if strat == nil {
		return nil, fmt.Errorf("backtest: 顶层策略不能为空")
	}
	if account == nil {
		return nil, fmt.Errorf("backtest: 账户不能为空")
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:      cfg.normalize(),
		freq:     freq,
		top:      top,
		strategy: strat,
		account:  account,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Account 返回回测账户。
func (e *Engine) Account() *position.Account {
	return e.account
}

// Run 执行完整回测流程。ctx 取消只在两步之间生效，已执行的步不会回滚。
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if e.ran {
		return Result{}, errors.New("backtest: 引擎只能运行一次")
	}
	e.ran = true

	runID := id.New()
	logger := e.logger.With(zap.String("run_id", runID), zap.String("name", e.cfg.Name))

	result := Result{RunID: runID, Name: e.cfg.Name, Start: e.cfg.Start, End: e.cfg.End}
	info := RunInfo{
		ID:          runID,
		Name:        e.cfg.Name,
		Start:       e.cfg.Start,
		End:         e.cfg.End,
		InitialCash: e.account.Cash(),
		StartedAt:   time.Now().UTC(),
		Config:      e.cfg,
	}
	if err := e.recorder.StartRun(ctx, info); err != nil {
		return Result{}, fmt.Errorf("backtest: 记录回测开始失败: %w", err)
	}

	if err := e.top.Reset(e.cfg.Start, e.cfg.End); err != nil {
		return e.fail(ctx, logger, result, err)
	}

	logger.Info("回测开始",
		zap.Time("start", e.cfg.Start),
		zap.Time("end", e.cfg.End),
		zap.Int("steps", e.top.Len()),
		zap.String("initial_cash", info.InitialCash.String()),
	)

	track := newTracker(e.account.Value().InexactFloat64())
	var prev *execution.Result
	for k := 0; !e.top.Finished(); k++ {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, logger, result, fmt.Errorf("backtest: 回测在第 %d 步前中止: %w", k, err))
		}

		start, end := e.top.Window()
		d, err := e.strategy.GenerateDecision(execution.StrategyInput{
			Start:    start,
			End:      end,
			Step:     k,
			Steps:    e.top.Len(),
			Previous: prev,
			Account:  e.account.Snapshot(),
		})
		if err != nil {
			return e.fail(ctx, logger, result, fmt.Errorf("backtest: 顶层策略在 %s 生成决策失败: %w", start.Format(time.RFC3339), err))
		}

		res, err := e.top.Step(d)
		if err != nil {
			return e.fail(ctx, logger, result, fmt.Errorf("backtest: 第 %d 步执行失败: %w", k, err))
		}
		prev = &res

		value := e.account.Value()
		track.advance(value.InexactFloat64())

		step := StepRecord{
			Index:       k,
			Start:       start,
			End:         end,
			Value:       value,
			Cash:        e.account.Cash(),
			Cost:        res.Costs,
			TradedValue: res.TradedValue,
			Fills:       len(res.Fills),
			Successful:  res.Successful(),
			SubSteps:    res.SubSteps,
			Rejected:    res.Rejected,
		}
		result.Steps = append(result.Steps, step)
		if err := e.recorder.RecordStep(ctx, runID, step, res.Fills); err != nil {
			return e.fail(ctx, logger, result, fmt.Errorf("backtest: 记录第 %d 步失败: %w", k, err))
		}

		logger.Debug("顶层步完成",
			zap.Int("step", k),
			zap.Time("start", start),
			zap.String("value", value.String()),
			zap.Int("fills", step.Fills),
		)
	}

	equity := track.equityHistory()
	result.Metrics = calculateMetrics(equity, track.returnHistory(), PeriodsPerYear(e.freq))
	result.Fills = e.top.Collect().Fills
	result.Metrics.addFills(result.Fills, equity)
	result.EquityCurve = equity
	result.Final = e.account.Snapshot()

	if err := e.recorder.FinishRun(ctx, runID, result, nil); err != nil {
		return result, fmt.Errorf("backtest: 记录回测结束失败: %w", err)
	}

	logger.Info("回测完成",
		zap.Float64("total_return", result.Metrics.TotalReturn),
		zap.Float64("max_drawdown", result.Metrics.MaxDrawdown),
		zap.Float64("sharpe", result.Metrics.SharpeRatio),
		zap.Int("fills", len(result.Fills)),
	)
	return result, nil
}

// fail 记录中止原因后返回错误。数据或决策错误不重试。
func (e *Engine) fail(ctx context.Context, logger *zap.Logger, result Result, runErr error) (Result, error) {
	logger.Error("回测中止", zap.Error(runErr))
	// ctx 可能已取消，结束记录使用独立的 context
	if err := e.recorder.FinishRun(context.WithoutCancel(ctx), result.RunID, result, runErr); err != nil {
		logger.Warn("记录回测中止失败", zap.Error(err))
	}
	return result, runErr
}
