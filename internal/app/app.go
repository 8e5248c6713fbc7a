package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-sim/internal/backtest"
	"trades-sim/internal/config"
	"trades-sim/internal/exchange"
	"trades-sim/internal/market"
	"trades-sim/internal/monitor"
	"trades-sim/internal/store"
)

// ErrStorageDisabled 表示未启用回测记录存储。
var ErrStorageDisabled = errors.New("app: 未启用 storage，无法查询回测记录")

// App 聚合核心依赖并驱动回测生命周期。
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	monitor *monitor.Service
}

// New 创建 App 实例。store 为 nil 时回测结果不落库。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger, store: st}
	if st != nil {
		svc, err := monitor.NewService(ctx, st, logger.Named("monitor"))
		if err != nil {
			return nil, err
		}
		a.monitor = svc
	}
	return a, nil
}

// Monitor 返回监控服务，未启用存储时为 nil。
func (a *App) Monitor() *monitor.Service {
	return a.monitor
}

func (a *App) recorder() backtest.Recorder {
	if a.monitor == nil {
		return backtest.NopRecorder{}
	}
	return a.monitor
}

func (a *App) loadData() (*market.MemorySource, error) {
	began := time.Now()
	src, err := market.LoadCSV(a.cfg.Data.Path)
	if err != nil {
		return nil, fmt.Errorf("app: 加载行情失败: %w", err)
	}
	a.logger.Info("行情已加载",
		zap.String("path", a.cfg.Data.Path),
		zap.Int("instruments", len(src.Instruments())),
		zap.Duration("elapsed", time.Since(began)),
	)
	return src, nil
}

// Run 执行配置中的单次回测。
func (a *App) Run(ctx context.Context) (backtest.Result, error) {
	src, err := a.loadData()
	if err != nil {
		return backtest.Result{}, err
	}
	engine, err := backtest.Build(a.cfg.Backtest, src, a.recorder(), a.logger)
	if err != nil {
		return backtest.Result{}, err
	}
	return engine.Run(ctx)
}

// Sweep 按 sweep.variants 并行运行多次回测，未配置变体时只运行基础配置。
func (a *App) Sweep(ctx context.Context) ([]backtest.SweepResult, error) {
	src, err := a.loadData()
	if err != nil {
		return nil, err
	}

	variants := a.cfg.Variants()
	if len(variants) == 0 {
		variants = []backtest.Variant{{Name: a.cfg.Backtest.Name, Config: a.cfg.Backtest}}
	}

	a.logger.Info("参数扫描开始",
		zap.Int("variants", len(variants)),
		zap.Int("parallelism", a.cfg.Sweep.Parallelism),
	)
	results, err := backtest.Sweep(ctx, variants, src, a.cfg.Sweep.Parallelism, a.recorder(), a.logger)
	if err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			a.logger.Warn("变体回测失败", zap.String("variant", r.Variant.Name), zap.Error(r.Err))
		}
	}
	a.logger.Info("参数扫描完成", zap.Int("variants", len(results)), zap.Int("failed", failed))
	return results, nil
}

// Fills 查询已落库回测的成交记录。
func (a *App) Fills(ctx context.Context, runID, instrument string) ([]exchange.Fill, error) {
	if a.monitor == nil {
		return nil, ErrStorageDisabled
	}
	if _, err := a.monitor.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return a.monitor.ListFills(ctx, runID, instrument)
}

// Serve 启动只读查询服务，阻塞到 ctx 取消或服务出错。
func (a *App) Serve(ctx context.Context, addr string) error {
	if a.monitor == nil {
		return ErrStorageDisabled
	}
	errCh, err := startMonitorServer(ctx, a.monitor, addr, a.logger.Named("server"))
	if err != nil {
		return err
	}
	return a.waitServer(ctx, errCh)
}

// waitServer 阻塞到服务退出或 ctx 取消，取消后等待关闭完成。
func (a *App) waitServer(ctx context.Context, errCh <-chan error) error {
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: 服务异常退出: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("查询服务收到退出信号，正在停止")
	if err := <-errCh; err != nil {
		return fmt.Errorf("app: 服务异常退出: %w", err)
	}
	return nil
}
