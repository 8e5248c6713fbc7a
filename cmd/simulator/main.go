package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trades-sim/internal/app"
	"trades-sim/internal/backtest"
	"trades-sim/internal/config"
	"trades-sim/internal/log"
	"trades-sim/internal/store"
)

var (
	configPath string
	reportPath string
)

// env 为一次命令执行准备的依赖。
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	app    *app.App
	close  func()
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	var sqliteStore *store.Store
	if cfg.Storage.Enabled {
		sqliteStore, err = store.NewSQLite(cfg.Storage)
		if err != nil {
			_ = logger.Sync()
			return nil, fmt.Errorf("初始化数据库失败: %w", err)
		}
	}

	closeFn := func() {
		if sqliteStore != nil {
			if closeErr := sqliteStore.Close(); closeErr != nil {
				logger.Warn("关闭数据库失败", zap.Error(closeErr))
			}
		}
		_ = logger.Sync()
	}

	a, err := app.New(ctx, cfg, logger, sqliteStore)
	if err != nil {
		closeFn()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, app: a, close: closeFn}, nil
}

var rootCmd = &cobra.Command{
	Use:           "simulator",
	Short:         "多层级执行回测模拟器",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "按配置运行一次回测",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		res, err := e.app.Run(cmd.Context())
		if err != nil {
			return err
		}
		if reportPath != "" {
			if err := backtest.SaveReport(reportPath, res); err != nil {
				return err
			}
			e.logger.Info("报告已写入", zap.String("path", reportPath))
			return nil
		}
		return backtest.WriteReport(cmd.OutOrStdout(), res)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "并行运行 sweep.variants 中的全部变体",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		results, err := e.app.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VARIANT\tRUN_ID\tRETURN\tMAX_DD\tSHARPE\tFILLS\tERROR")
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t%v\n", r.Variant.Name, r.Err)
				continue
			}
			m := r.Result.Metrics
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%.3f\t%d\t\n",
				r.Variant.Name, r.Result.RunID, m.TotalReturn, m.MaxDrawdown, m.SharpeRatio, len(r.Result.Fills))
		}
		return w.Flush()
	},
}

var fillsCmd = &cobra.Command{
	Use:   "fills <run-id>",
	Short: "列出已落库回测的成交记录",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		instrument, _ := cmd.Flags().GetString("instrument")
		fills, err := e.app.Fills(cmd.Context(), args[0], instrument)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ORDER_ID\tSTART\tINSTRUMENT\tDIR\tAMOUNT\tDEALT\tPRICE\tCOST\tSTATUS")
		for _, f := range fills {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
				f.Order.ID, f.Order.Start.Format("2006-01-02 15:04"), f.Order.Instrument, f.Order.Direction,
				f.Order.Amount, f.DealAmount, f.DealPrice.StringFixed(3), f.TradeCost.StringFixed(2), f.Status)
		}
		return w.Flush()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动回测记录只读查询接口",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		addr, _ := cmd.Flags().GetString("addr")
		return e.app.Serve(cmd.Context(), addr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	runCmd.Flags().StringVar(&reportPath, "report", "", "将 YAML 报告写入文件，默认输出到标准输出")
	fillsCmd.Flags().String("instrument", "", "只列出指定标的")
	serveCmd.Flags().String("addr", ":8090", "监听地址")

	rootCmd.AddCommand(runCmd, sweepCmd, fillsCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "运行失败: %v\n", err)
		os.Exit(1)
	}
}
