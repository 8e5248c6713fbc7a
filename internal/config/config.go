package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "sim"
)

// Load 读取配置文件并结合环境变量（SIM_ 前缀）返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.path", "data/quotes.csv")

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.path", "data/trades_sim.db")
	v.SetDefault("storage.max_open_conns", 4)
	v.SetDefault("storage.max_idle_conns", 4)
	v.SetDefault("storage.conn_max_lifetime", "1h")
	v.SetDefault("storage.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("backtest.name", "default")
	v.SetDefault("backtest.initial_cash", 1_000_000)
	v.SetDefault("backtest.seed", 1)

	v.SetDefault("backtest.exchange.open_cost", 0.0005)
	v.SetDefault("backtest.exchange.close_cost", 0.0015)
	v.SetDefault("backtest.exchange.min_cost", 5)
	v.SetDefault("backtest.exchange.trade_unit", 100)
	v.SetDefault("backtest.exchange.limit_rule", "percent")
	v.SetDefault("backtest.exchange.limit_threshold", 0.095)
	v.SetDefault("backtest.exchange.deal_price", "close")

	v.SetDefault("sweep.parallelism", 0)
}

// timeLayouts 为 start/end 接受的格式，均按 UTC 解析。
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// stringToTimeHook 把字符串解析为 time.Time。
func stringToTimeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range timeLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("无法解析时间 %q", s)
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
