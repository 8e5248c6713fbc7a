package backtest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trades-sim/internal/exchange"
)

// RunInfo 描述一次回测的元信息。
type RunInfo struct {
	ID          string
	Name        string
	Start       time.Time
	End         time.Time
	InitialCash decimal.Decimal
	StartedAt   time.Time
	Config      Config
}

// StepRecord 为顶层一步的指标。
type StepRecord struct {
	Index       int                     `json:"index" yaml:"index"`
	Start       time.Time               `json:"start" yaml:"start"`
	End         time.Time               `json:"end" yaml:"end"`
	Value       decimal.Decimal         `json:"value" yaml:"value"`
	Cash        decimal.Decimal         `json:"cash" yaml:"cash"`
	Cost        decimal.Decimal         `json:"cost" yaml:"cost"`
	TradedValue decimal.Decimal         `json:"traded_value" yaml:"traded_value"`
	Fills       int                     `json:"fills" yaml:"fills"`
	Successful  int                     `json:"successful" yaml:"successful"`
	SubSteps    int                     `json:"sub_steps" yaml:"sub_steps"`
	Rejected    map[exchange.Status]int `json:"rejected,omitempty" yaml:"rejected,omitempty"`
}

// Recorder 接收回测过程中向上暴露的指标，供报告与分析使用。
type Recorder interface {
	StartRun(ctx context.Context, info RunInfo) error
	RecordStep(ctx context.Context, runID string, step StepRecord, fills []exchange.Fill) error
	// FinishRun 在回测结束时调用，runErr 非空表示回测中止。
	FinishRun(ctx context.Context, runID string, result Result, runErr error) error
}
