package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"trades-sim/internal/backtest"
)

// Config 聚合了模拟器运行所需的全部配置项。
type Config struct {
	Logging  LoggingConfig   `mapstructure:"logging"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Data     DataConfig      `mapstructure:"data"`
	Backtest backtest.Config `mapstructure:"backtest"`
	Sweep    SweepConfig     `mapstructure:"sweep"`
}

// StorageConfig 管理回测记录数据库。
type StorageConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// DataConfig 指定行情来源。
type DataConfig struct {
	Path string `mapstructure:"path"` // CSV 文件
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SweepConfig 描述参数扫描，每个变体在 backtest 基础配置上覆盖部分字段。
type SweepConfig struct {
	Parallelism int             `mapstructure:"parallelism"`
	Variants    []VariantConfig `mapstructure:"variants"`
}

// VariantConfig 为单个变体的覆盖项，零值表示沿用基础配置。
type VariantConfig struct {
	Name        string                 `mapstructure:"name"`
	Seed        int64                  `mapstructure:"seed"`
	InitialCash float64                `mapstructure:"initial_cash"`
	Levels      []backtest.LevelConfig `mapstructure:"levels"`
}

// Variants 将扫描配置展开为回测变体。
func (c *Config) Variants() []backtest.Variant {
	out := make([]backtest.Variant, 0, len(c.Sweep.Variants))
	for i, v := range c.Sweep.Variants {
		cfg := c.Backtest
		cfg.Levels = append([]backtest.LevelConfig(nil), c.Backtest.Levels...)
		if v.Seed != 0 {
			cfg.Seed = v.Seed
		}
		if v.InitialCash > 0 {
			cfg.InitialCash = v.InitialCash
		}
		if len(v.Levels) > 0 {
			cfg.Levels = append([]backtest.LevelConfig(nil), v.Levels...)
		}
		name := v.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", c.Backtest.Name, i)
		}
		out = append(out, backtest.Variant{Name: name, Config: cfg})
	}
	return out
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.Data.Path == "" {
		err = multierr.Append(err, errors.New("data.path 不能为空"))
	}
	if c.Storage.Enabled {
		if c.Storage.Path == "" && !c.Storage.InMemory {
			err = multierr.Append(err, errors.New("storage.path 不能为空"))
		}
		if c.Storage.MaxOpenConns <= 0 {
			err = multierr.Append(err, errors.New("storage.max_open_conns 必须大于0"))
		}
		if c.Storage.MaxIdleConns < 0 {
			err = multierr.Append(err, errors.New("storage.max_idle_conns 不能为负"))
		}
		if c.Storage.ConnMaxLifetime < 0 {
			err = multierr.Append(err, errors.New("storage.conn_max_lifetime 不能为负"))
		}
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Backtest.Start.IsZero() || c.Backtest.End.IsZero() {
		err = multierr.Append(err, errors.New("backtest.start 与 backtest.end 必须配置"))
	}
	if berr := c.Backtest.Validate(); berr != nil {
		err = multierr.Append(err, berr)
	}
	if c.Sweep.Parallelism < 0 {
		err = multierr.Append(err, errors.New("sweep.parallelism 不能为负"))
	}
	seen := make(map[string]bool, len(c.Sweep.Variants))
	for i, v := range c.Sweep.Variants {
		if v.Name == "" {
			continue
		}
		if seen[v.Name] {
			err = multierr.Append(err, fmt.Errorf("sweep.variants[%d]: 名称 %q 重复", i, v.Name))
		}
		seen[v.Name] = true
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
