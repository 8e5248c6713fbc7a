package execution

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-sim/internal/market"
)

// NestedExecutor 把自身一个时间步拆成子执行器粒度的若干子步，
// 每个子步由内层策略在上层决策约束下生成细化决策。
type NestedExecutor struct {
	stepper

	inner    Executor
	strategy Strategy
	account  AccountView
	universe Universe
	logger   *zap.Logger
}

var _ Executor = (*NestedExecutor)(nil)

// NewNestedExecutor 创建非叶子执行器。cal 的粒度必须不细于内层日历。
func NewNestedExecutor(cal *market.Calendar, inner Executor, strategy Strategy, account AccountView, universe Universe, logger *zap.Logger) (*NestedExecutor, error) {
	if cal == nil {
		return nil, errors.New("execution: 日历不能为空")
	}
	if inner == nil {
		return nil, errors.New("execution: 内层执行器不能为空")
	}
	if strategy == nil {
		return nil, errors.New("execution: 内层策略不能为空")
	}
	if account == nil {
		return nil, errors.New("execution: 账户视图不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NestedExecutor{
		stepper:  newStepper(cal),
		inner:    inner,
		strategy: strategy,
		account:  account,
		universe: universe,
		logger:   logger,
	}, nil
}

// Reset 实现 Executor。内层在每一步开始时再绑定到子区间。
func (e *NestedExecutor) Reset(start, end time.Time) error {
	if !end.IsZero() && !end.After(start) {
		return fmt.Errorf("execution: 区间 [%s, %s) 为空: %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), market.ErrCalendar)
	}
	e.reset(start, end)
	return nil
}

// Step 实现 Executor。子步严格按日历顺序执行，任一子步出错立即返回。
func (e *NestedExecutor) Step(d Decision) (Result, error) {
	start, end, err := e.begin()
	if err != nil {
		return Result{}, err
	}
	if err := d.Validate(e.universe); err != nil {
		e.rollback()
		return Result{}, err
	}

	if err := e.inner.Reset(start, end); err != nil {
		return Result{}, err
	}

	parent := d
	var prev *Result
	for k := 0; !e.inner.Finished(); k++ {
		subStart, subEnd := e.inner.Window()
		sub, err := e.strategy.GenerateDecision(StrategyInput{
			Start:    subStart,
			End:      subEnd,
			Step:     k,
			Steps:    e.inner.Len(),
			Previous: prev,
			Parent:   &parent,
			Account:  e.account.Snapshot(),
		})
		if err != nil {
			return Result{}, fmt.Errorf("execution: 内层策略在 %s 生成决策失败: %w", subStart.Format(time.RFC3339), err)
		}
		r, err := e.inner.Step(sub)
		if err != nil {
			return Result{}, err
		}
		prev = &r
	}

	res := e.inner.Collect()
	res.Start, res.End = start, end

	e.logger.Debug("嵌套步完成",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("sub_steps", res.SubSteps),
		zap.Int("fills", len(res.Fills)),
	)

	e.finish(res)
	return res, nil
}

// Collect 实现 Executor。
func (e *NestedExecutor) Collect() Result { return e.collect() }

// Window 实现 Executor。
func (e *NestedExecutor) Window() (time.Time, time.Time) { return e.window() }

// Len 实现 Executor。
func (e *NestedExecutor) Len() int { return e.length() }

// Finished 实现 Executor。
func (e *NestedExecutor) Finished() bool { return e.state == StateFinished }

// State 实现 Executor。
func (e *NestedExecutor) State() State { return e.state }
