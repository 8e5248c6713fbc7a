package execution

import (
	"time"

	"trades-sim/internal/position"
)

// Executor 为按日历推进的执行节点。叶子节点直接撮合，非叶子节点委托给更细粒度的子执行器。
//
// 生命周期：Reset → (Step)* → Finished。每次 Step 内部依次经过 Stepping 与 Aggregating，
// 完成后回到 Idle，日历耗尽时进入 Finished。
type Executor interface {
	// Reset 绑定到 [start, end) 内的日历片段并清空累计结果。
	Reset(start, end time.Time) error
	// Step 执行当前时间点，返回该步的汇总结果。
	Step(d Decision) (Result, error)
	// Collect 返回自 Reset 以来所有步的汇总结果。
	Collect() Result
	// Window 返回下一步将要执行的区间。
	Window() (time.Time, time.Time)
	// Len 返回当前日历片段的步数。
	Len() int
	Finished() bool
	State() State
}

// StrategyInput 为策略生成决策时可见的上下文。
type StrategyInput struct {
	Start    time.Time
	End      time.Time
	Step     int               // 当前层内的步序号，从 0 开始
	Steps    int               // 当前层总步数
	Previous *Result           // 上一步执行结果，首步为 nil
	Parent   *Decision         // 上层决策，顶层为 nil
	Account  position.Snapshot // 账户只读视图
}

// Strategy 根据上一步结果生成本步决策。
type Strategy interface {
	GenerateDecision(in StrategyInput) (Decision, error)
}

// AccountView 提供账户只读快照，中间层节点不持有账户本身。
type AccountView interface {
	Snapshot() position.Snapshot
}
