package monitor

import (
	"time"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventRunFinished EventType = "run_finished"
	EventRunFailed   EventType = "run_failed"
	EventRejection   EventType = "rejection"
)

// Event 封装通用监控事件。
type Event struct {
	RunID     string      `json:"run_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RunStatus 为回测记录状态。
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// Run 为 backtest_runs 中的一行。
type Run struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	InitialCash string    `json:"initial_cash"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	TotalReturn float64   `json:"total_return"`
	MaxDrawdown float64   `json:"max_drawdown"`
	Sharpe      float64   `json:"sharpe"`
	FinalValue  string    `json:"final_value,omitempty"`
}

// RejectionPayload 记录一步中各拒绝状态的笔数。
type RejectionPayload struct {
	Step     int            `json:"step"`
	Start    time.Time      `json:"start"`
	Rejected map[string]int `json:"rejected"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
