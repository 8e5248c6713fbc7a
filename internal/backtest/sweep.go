package backtest

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Variant 为参数扫描中的一组配置。
type Variant struct {
	Name   string
	Config Config
}

// SweepResult 为单个变体的结果，Err 非空表示该变体失败。
type SweepResult struct {
	Variant Variant
	Result  Result
	Err     error
}

// Sweep 并行运行多个互不共享状态的回测，行情数据源只读共享。
// parallelism <= 0 时使用 CPU 数。单个变体失败不影响其他变体，ctx 取消时全部中止。
func Sweep(ctx context.Context, variants []Variant, data Data, parallelism int, recorder Recorder, logger *zap.Logger) ([]SweepResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	results := make([]SweepResult, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, v := range variants {
		cfg := v.Config
		if v.Name != "" {
			cfg.Name = v.Name
		}
		results[i].Variant = v

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return err
			}
			engine, err := Build(cfg, data, recorder, logger.With(zap.String("variant", cfg.Name)))
			if err != nil {
				results[i].Err = err
				return nil
			}
			res, err := engine.Run(gctx)
			results[i].Result = res
			results[i].Err = err
			if err != nil && gctx.Err() != nil {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("backtest: 参数扫描中止: %w", err)
	}
	return results, nil
}
