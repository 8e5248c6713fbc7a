package execution

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"trades-sim/internal/exchange"
	"trades-sim/internal/id"
	"trades-sim/internal/market"
	"trades-sim/internal/position"
)

// stepper 维护日历片段、游标与状态，供各执行器复用。
type stepper struct {
	calendar *market.Calendar
	slice    *market.Calendar
	idx      int
	state    State
	total    Result
}

func newStepper(cal *market.Calendar) stepper {
	return stepper{calendar: cal, state: StateNew}
}

func (s *stepper) reset(start, end time.Time) {
	s.slice = s.calendar.Slice(start, end)
	s.idx = 0
	s.total = newResult(start, end)
	s.state = StateIdle
	if s.slice.Len() == 0 {
		s.state = StateFinished
	}
}

// begin 检查状态并进入 Stepping，返回当前步区间。
func (s *stepper) begin() (time.Time, time.Time, error) {
	switch s.state {
	case StateIdle:
	case StateFinished:
		return time.Time{}, time.Time{}, ErrFinished
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: 当前状态 %s", ErrNotReset, s.state)
	}
	s.state = StateStepping
	start, end := s.slice.Window(s.idx)
	return start, end, nil
}

// rollback 在尚未产生副作用时退回 Idle。
func (s *stepper) rollback() {
	s.state = StateIdle
}

// finish 记录该步结果并推进游标。
func (s *stepper) finish(res Result) {
	s.state = StateAggregating
	s.total.merge(res)
	s.idx++
	if s.idx >= s.slice.Len() {
		s.state = StateFinished
		return
	}
	s.state = StateIdle
}

func (s *stepper) window() (time.Time, time.Time) {
	if s.slice == nil || s.idx >= s.slice.Len() {
		return time.Time{}, time.Time{}
	}
	return s.slice.Window(s.idx)
}

func (s *stepper) length() int {
	if s.slice == nil {
		return 0
	}
	return s.slice.Len()
}

func (s *stepper) collect() Result {
	out := newResult(s.total.Start, s.total.End)
	out.merge(s.total)
	return out
}

// SimulatorExecutor 为叶子执行器：把决策转换为委托，逐笔撮合并记入账户。
type SimulatorExecutor struct {
	stepper

	exchange *exchange.Exchange
	account  *position.Account
	ids      *id.Generator
	logger   *zap.Logger

	day   time.Time
	dealt map[string]int64
}

var _ Executor = (*SimulatorExecutor)(nil)

// SimulatorOption 调整叶子执行器。
type SimulatorOption func(*SimulatorExecutor)

// WithIDSeed 设置委托编号的随机种子，相同种子得到相同编号序列。
func WithIDSeed(seed int64) SimulatorOption {
	return func(e *SimulatorExecutor) {
		e.ids = id.NewGenerator(seed)
	}
}

// NewSimulatorExecutor 创建叶子执行器。cal 为该层粒度的完整日历。
func NewSimulatorExecutor(cal *market.Calendar, ex *exchange.Exchange, account *position.Account, logger *zap.Logger, opts ...SimulatorOption) (*SimulatorExecutor, error) {
	if cal == nil {
		return nil, errors.New("execution: 日历不能为空")
	}
	if ex == nil {
		return nil, errors.New("execution: 撮合器不能为空")
	}
	if account == nil {
		return nil, errors.New("execution: 账户不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &SimulatorExecutor{
		stepper:  newStepper(cal),
		exchange: ex,
		account:  account,
		ids:      id.NewGenerator(0),
		logger:   logger,
		dealt:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Reset 实现 Executor。当日已成交量跨 Reset 保留，只在交易日切换时清零，
// 上层执行器在日内多次重绑子区间时累计成交量限制仍然成立。
func (e *SimulatorExecutor) Reset(start, end time.Time) error {
	if !end.IsZero() && !end.After(start) {
		return fmt.Errorf("execution: 区间 [%s, %s) 为空: %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), market.ErrCalendar)
	}
	e.reset(start, end)
	return nil
}

// Step 实现 Executor。委托按提交顺序撮合，同一标的的成交依次记账。
func (e *SimulatorExecutor) Step(d Decision) (Result, error) {
	start, end, err := e.begin()
	if err != nil {
		return Result{}, err
	}
	if err := d.Validate(e.exchange.Source()); err != nil {
		e.rollback()
		return Result{}, err
	}

	if day := market.DayStart(start); !day.Equal(e.day) {
		e.day = day
		e.dealt = make(map[string]int64)
	}

	res := newResult(start, end)
	res.SubSteps = 1

	if d.Active(start) {
		orders, err := e.buildOrders(d, start, end)
		if err != nil {
			return Result{}, err
		}
		for _, order := range orders {
			fill, err := e.exchange.Deal(order, e.account, e.dealt[order.Instrument])
			if err != nil {
				return Result{}, err
			}
			if err := e.account.Apply(fill); err != nil {
				return Result{}, fmt.Errorf("execution: 记账失败: %w", err)
			}
			if fill.Success() {
				e.dealt[order.Instrument] += fill.DealAmount
			}
			res.addFill(fill)
		}
	}

	prices, err := e.exchange.ClosePrices(e.account.Instruments(), start, end)
	if err != nil {
		return Result{}, err
	}
	e.account.MarkToMarket(prices)

	e.logger.Debug("叶子步完成",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("fills", len(res.Fills)),
		zap.Int("success", res.Successful()),
	)

	e.finish(res)
	return res, nil
}

// buildOrders 目标持仓先卖后买（按标的排序），之后是显式委托（保持提交顺序）。
func (e *SimulatorExecutor) buildOrders(d Decision, start, end time.Time) ([]exchange.Order, error) {
	insts := make([]string, 0, len(d.Targets))
	for inst := range d.Targets {
		insts = append(insts, inst)
	}
	sort.Strings(insts)

	var sells, buys []OrderIntent
	for _, inst := range insts {
		diff := d.Targets[inst] - e.account.Amount(inst)
		switch {
		case diff < 0:
			sells = append(sells, OrderIntent{Instrument: inst, Direction: exchange.DirectionSell, Amount: -diff})
		case diff > 0:
			buys = append(buys, OrderIntent{Instrument: inst, Direction: exchange.DirectionBuy, Amount: diff})
		}
	}

	intents := make([]OrderIntent, 0, len(sells)+len(buys)+len(d.Orders))
	intents = append(intents, sells...)
	intents = append(intents, buys...)
	intents = append(intents, d.Orders...)

	orders := make([]exchange.Order, 0, len(intents))
	for _, in := range intents {
		factor, err := e.factor(in.Instrument, start)
		if err != nil {
			return nil, err
		}
		orders = append(orders, exchange.Order{
			ID:         e.ids.Next(start),
			Instrument: in.Instrument,
			Direction:  in.Direction,
			Amount:     in.Amount,
			Start:      start,
			End:        end,
			Factor:     factor,
		})
	}
	return orders, nil
}

// factor 读取复权因子，缺失时返回 0，由撮合器使用区间行情中的因子。
func (e *SimulatorExecutor) factor(instrument string, ts time.Time) (float64, error) {
	v, ok, err := e.exchange.Source().Get(instrument, ts, market.FieldFactor)
	if err != nil {
		if errors.Is(err, market.ErrMissingField) {
			return 0, nil
		}
		return 0, fmt.Errorf("execution: 读取 %s 复权因子失败: %w", instrument, err)
	}
	if !ok {
		return 0, nil
	}
	return v, nil
}

// Collect 实现 Executor。
func (e *SimulatorExecutor) Collect() Result { return e.collect() }

// Window 实现 Executor。
func (e *SimulatorExecutor) Window() (time.Time, time.Time) { return e.window() }

// Len 实现 Executor。
func (e *SimulatorExecutor) Len() int { return e.length() }

// Finished 实现 Executor。
func (e *SimulatorExecutor) Finished() bool { return e.state == StateFinished }

// State 实现 Executor。
func (e *SimulatorExecutor) State() State { return e.state }
