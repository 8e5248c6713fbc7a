package backtest

import (
	"context"
	"sync"

	"trades-sim/internal/exchange"
)

// NopRecorder 丢弃全部记录。
type NopRecorder struct{}

func (NopRecorder) StartRun(context.Context, RunInfo) error { return nil }

func (NopRecorder) RecordStep(context.Context, string, StepRecord, []exchange.Fill) error {
	return nil
}

func (NopRecorder) FinishRun(context.Context, string, Result, error) error { return nil }

// MemoryRecorder 在内存中保存记录，适合测试与小规模参数扫描。
type MemoryRecorder struct {
	mu       sync.Mutex
	Runs     map[string]RunInfo
	Steps    map[string][]StepRecord
	Fills    map[string][]exchange.Fill
	Finished map[string]error
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		Runs:     make(map[string]RunInfo),
		Steps:    make(map[string][]StepRecord),
		Fills:    make(map[string][]exchange.Fill),
		Finished: make(map[string]error),
	}
}

func (r *MemoryRecorder) StartRun(_ context.Context, info RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Runs[info.ID] = info
	return nil
}

func (r *MemoryRecorder) RecordStep(_ context.Context, runID string, step StepRecord, fills []exchange.Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps[runID] = append(r.Steps[runID], step)
	r.Fills[runID] = append(r.Fills[runID], fills...)
	return nil
}

func (r *MemoryRecorder) FinishRun(_ context.Context, runID string, _ Result, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Finished[runID] = runErr
	return nil
}

var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*MemoryRecorder)(nil)
)
