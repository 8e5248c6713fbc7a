package exchange

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"trades-sim/internal/market"
)

// LimitRuleKind 选择涨跌停判定方式。
type LimitRuleKind string

const (
	LimitRuleNone    LimitRuleKind = ""
	LimitRulePercent LimitRuleKind = "percent" // 相对前收盘涨跌幅
	LimitRuleFlags   LimitRuleKind = "flags"   // 行情自带 limit_buy / limit_sell 布尔列
)

// VolumeMode 选择成交量上限口径。
type VolumeMode string

const (
	VolumeModeNone       VolumeMode = ""
	VolumeModeCurrent    VolumeMode = "current"    // 委托区间内成交量
	VolumeModeCumulative VolumeMode = "cumulative" // 当日累计成交量扣除已成交
)

// VolumeThreshold 成交量上限，Ratio 为可占用比例。
type VolumeThreshold struct {
	Mode  VolumeMode `mapstructure:"mode" yaml:"mode"`
	Ratio float64    `mapstructure:"ratio" yaml:"ratio"`
}

// Config 为撮合成本与约束，构建后整个回测期间不变。
type Config struct {
	OpenCost              float64         `mapstructure:"open_cost" yaml:"open_cost"`
	CloseCost             float64         `mapstructure:"close_cost" yaml:"close_cost"`
	MinCost               float64         `mapstructure:"min_cost" yaml:"min_cost"`
	ImpactCost            float64         `mapstructure:"impact_cost" yaml:"impact_cost"`
	TradeUnit             int64           `mapstructure:"trade_unit" yaml:"trade_unit"`
	LimitThreshold        float64         `mapstructure:"limit_threshold" yaml:"limit_threshold"`
	LimitRule             LimitRuleKind   `mapstructure:"limit_rule" yaml:"limit_rule"`
	ForbidAllTradeAtLimit bool            `mapstructure:"forbid_all_trade_at_limit" yaml:"forbid_all_trade_at_limit"`
	VolumeThreshold       VolumeThreshold `mapstructure:"volume_threshold" yaml:"volume_threshold"`
	DealPrice             string          `mapstructure:"deal_price" yaml:"deal_price"`
	BuyPrice              string          `mapstructure:"buy_price" yaml:"buy_price"`
	SellPrice             string          `mapstructure:"sell_price" yaml:"sell_price"`
}

// DefaultConfig 返回 A 股常用参数。
func DefaultConfig() Config {
	return Config{
		OpenCost:       0.0005,
		CloseCost:      0.0015,
		MinCost:        5,
		TradeUnit:      100,
		LimitThreshold: 0.095,
		LimitRule:      LimitRulePercent,
		DealPrice:      string(market.FieldClose),
	}
}

var dealPriceFields = map[market.Field]bool{
	market.FieldClose: true,
	market.FieldOpen:  true,
	market.FieldVWAP:  true,
}

// Validate 校验配置，多个问题合并返回。
func (c Config) Validate() error {
	var err error

	if c.OpenCost < 0 || c.CloseCost < 0 {
		err = multierr.Append(err, errors.New("open_cost/close_cost 不能为负"))
	}
	if c.MinCost < 0 {
		err = multierr.Append(err, errors.New("min_cost 不能为负"))
	}
	if c.ImpactCost < 0 || c.ImpactCost >= 1 {
		err = multierr.Append(err, errors.New("impact_cost 必须位于[0,1)"))
	}
	if c.TradeUnit < 0 {
		err = multierr.Append(err, errors.New("trade_unit 不能为负"))
	}

	switch c.LimitRule {
	case LimitRuleNone, LimitRuleFlags:
	case LimitRulePercent:
		if c.LimitThreshold <= 0 || c.LimitThreshold >= 1 {
			err = multierr.Append(err, errors.New("limit_threshold 必须位于(0,1)"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("未知 limit_rule %q", c.LimitRule))
	}

	switch c.VolumeThreshold.Mode {
	case VolumeModeNone:
	case VolumeModeCurrent, VolumeModeCumulative:
		if c.VolumeThreshold.Ratio <= 0 || c.VolumeThreshold.Ratio > 1 {
			err = multierr.Append(err, errors.New("volume_threshold.ratio 必须位于(0,1]"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("未知 volume_threshold.mode %q", c.VolumeThreshold.Mode))
	}

	for _, name := range []string{c.DealPrice, c.BuyPrice, c.SellPrice} {
		if name == "" {
			continue
		}
		f, ok := market.ParseField(name)
		if !ok || !dealPriceFields[f] {
			err = multierr.Append(err, fmt.Errorf("不支持的成交价字段 %q", name))
		}
	}
	if c.DealPrice == "" && (c.BuyPrice == "" || c.SellPrice == "") {
		err = multierr.Append(err, errors.New("deal_price 为空时必须同时配置 buy_price 与 sell_price"))
	}

	if err != nil {
		return fmt.Errorf("exchange: %w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// PriceField 返回该方向使用的成交价字段。
func (c Config) PriceField(dir Direction) market.Field {
	name := c.DealPrice
	switch {
	case dir == DirectionBuy && c.BuyPrice != "":
		name = c.BuyPrice
	case dir == DirectionSell && c.SellPrice != "":
		name = c.SellPrice
	}
	return market.Field(name)
}

// CostRate 返回该方向的费率。
func (c Config) CostRate(dir Direction) float64 {
	if dir == DirectionBuy {
		return c.OpenCost
	}
	return c.CloseCost
}

// Rule 根据配置构建涨跌停规则，未配置时返回 nil。
func (c Config) Rule() LimitRule {
	switch c.LimitRule {
	case LimitRulePercent:
		return PercentLimit{Threshold: c.LimitThreshold}
	case LimitRuleFlags:
		return FlagLimit{}
	default:
		return nil
	}
}
