package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"trades-sim/internal/exchange"
)

var (
	// ErrMalformedDecision 表示决策引用了未知标的或数量非法，当前步立即失败。
	ErrMalformedDecision = errors.New("execution: 决策不合法")
	// ErrNotReset 表示执行器未 Reset 或处于中间状态。
	ErrNotReset = errors.New("execution: 执行器未就绪")
	// ErrFinished 表示日历已耗尽。
	ErrFinished = errors.New("execution: 执行器已结束")
)

// State 为执行器状态。
type State string

const (
	StateNew         State = "new"
	StateIdle        State = "idle"
	StateStepping    State = "stepping"
	StateAggregating State = "aggregating"
	StateFinished    State = "finished"
)

// OrderIntent 为决策中的显式委托，方向与数量由策略给定。
type OrderIntent struct {
	Instrument string             `json:"instrument" yaml:"instrument"`
	Direction  exchange.Direction `json:"direction" yaml:"direction"`
	Amount     int64              `json:"amount" yaml:"amount"`
}

// Decision 为策略在一个时间窗口内的交易意图，生成后不可修改。
// Targets 为目标持仓（股），Orders 为显式委托，两者可同时出现。
// Start/End 为零值时表示不限有效期。
type Decision struct {
	Start   time.Time        `json:"start" yaml:"start"`
	End     time.Time        `json:"end" yaml:"end"`
	Targets map[string]int64 `json:"targets,omitempty" yaml:"targets,omitempty"`
	Orders  []OrderIntent    `json:"orders,omitempty" yaml:"orders,omitempty"`
}

// Empty 判断决策是否不含任何交易意图。
func (d Decision) Empty() bool {
	return len(d.Targets) == 0 && len(d.Orders) == 0
}

// Active 判断 ts 是否位于决策有效期内。
func (d Decision) Active(ts time.Time) bool {
	if !d.Start.IsZero() && ts.Before(d.Start) {
		return false
	}
	if !d.End.IsZero() && !ts.Before(d.End) {
		return false
	}
	return true
}

// Universe 为可投资标的集合。
type Universe interface {
	Has(instrument string) bool
}

// Validate 校验决策，所有问题合并后包装为 ErrMalformedDecision。
func (d Decision) Validate(universe Universe) error {
	var err error
	if !d.Start.IsZero() && !d.End.IsZero() && !d.End.After(d.Start) {
		err = multierr.Append(err, fmt.Errorf("有效期 [%s, %s) 为空",
			d.Start.Format(time.RFC3339), d.End.Format(time.RFC3339)))
	}
	for inst, target := range d.Targets {
		if universe != nil && !universe.Has(inst) {
			err = multierr.Append(err, fmt.Errorf("未知标的 %q", inst))
		}
		if target < 0 {
			err = multierr.Append(err, fmt.Errorf("%s 目标持仓 %d 为负", inst, target))
		}
	}
	for i, o := range d.Orders {
		if universe != nil && !universe.Has(o.Instrument) {
			err = multierr.Append(err, fmt.Errorf("第 %d 笔委托未知标的 %q", i, o.Instrument))
		}
		if o.Amount <= 0 {
			err = multierr.Append(err, fmt.Errorf("第 %d 笔委托数量 %d 非正", i, o.Amount))
		}
		if !o.Direction.Valid() {
			err = multierr.Append(err, fmt.Errorf("第 %d 笔委托方向 %q 非法", i, o.Direction))
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedDecision, err)
	}
	return nil
}

// Result 为一个或多个执行步的汇总结果，是子层唯一向上暴露的数据。
type Result struct {
	Start       time.Time               `json:"start" yaml:"start"`
	End         time.Time               `json:"end" yaml:"end"`
	Fills       []exchange.Fill         `json:"fills" yaml:"fills"`
	Costs       decimal.Decimal         `json:"costs" yaml:"costs"`
	TradedValue decimal.Decimal         `json:"traded_value" yaml:"traded_value"`
	SubSteps    int                     `json:"sub_steps" yaml:"sub_steps"` // 覆盖的最细粒度步数
	Rejected    map[exchange.Status]int `json:"rejected,omitempty" yaml:"rejected,omitempty"`
}

func newResult(start, end time.Time) Result {
	return Result{
		Start:       start,
		End:         end,
		Costs:       decimal.Zero,
		TradedValue: decimal.Zero,
		Rejected:    make(map[exchange.Status]int),
	}
}

func (r *Result) addFill(f exchange.Fill) {
	r.Fills = append(r.Fills, f)
	if f.Success() {
		r.Costs = r.Costs.Add(f.TradeCost)
		r.TradedValue = r.TradedValue.Add(f.TradeValue)
		return
	}
	if r.Rejected == nil {
		r.Rejected = make(map[exchange.Status]int)
	}
	r.Rejected[f.Status]++
}

// merge 按日历顺序拼接后一段结果。
func (r *Result) merge(o Result) {
	if r.Start.IsZero() || (!o.Start.IsZero() && o.Start.Before(r.Start)) {
		r.Start = o.Start
	}
	if o.End.After(r.End) {
		r.End = o.End
	}
	r.Fills = append(r.Fills, o.Fills...)
	r.Costs = r.Costs.Add(o.Costs)
	r.TradedValue = r.TradedValue.Add(o.TradedValue)
	r.SubSteps += o.SubSteps
	if len(o.Rejected) > 0 && r.Rejected == nil {
		r.Rejected = make(map[exchange.Status]int)
	}
	for s, n := range o.Rejected {
		r.Rejected[s] += n
	}
}

// Successful 返回成功成交笔数。
func (r Result) Successful() int {
	n := 0
	for _, f := range r.Fills {
		if f.Success() {
			n++
		}
	}
	return n
}
