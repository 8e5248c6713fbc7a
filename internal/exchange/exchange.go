package exchange

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-sim/internal/market"
)

// Exchange 按历史行情撮合委托，计算成交价、成交量与交易成本。
// 撮合本身不持有可变状态，相同输入总是得到相同 Fill。
type Exchange struct {
	cfg    Config
	rule   LimitRule
	source market.Source
	logger *zap.Logger
}

// Option 调整 Exchange 构建参数。
type Option func(*Exchange)

// WithLimitRule 使用自定义涨跌停规则替换配置中的规则。
func WithLimitRule(rule LimitRule) Option {
	return func(e *Exchange) {
		e.rule = rule
	}
}

// New 校验配置并创建撮合器，配置非法时回测不能启动。
func New(cfg Config, source market.Source, logger *zap.Logger, opts ...Option) (*Exchange, error) {
	if source == nil {
		return nil, errors.New("exchange: 行情数据源不能为空")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Exchange{
		cfg:    cfg,
		rule:   cfg.Rule(),
		source: source,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config 返回撮合配置。
func (e *Exchange) Config() Config {
	return e.cfg
}

// Source 返回行情数据源。
func (e *Exchange) Source() market.Source {
	return e.source
}

// Deal 读取委托区间的行情并撮合。返回的错误只可能是数据完整性问题。
func (e *Exchange) Deal(order Order, holdings Holdings, dealt int64) (Fill, error) {
	quote, err := e.source.Window(order.Instrument, order.Start, order.End)
	if err != nil {
		return Fill{}, fmt.Errorf("exchange: 读取 %s 行情失败: %w", order.Instrument, err)
	}

	in := MatchInput{
		Cash:    holdings.Cash(),
		Holding: holdings.Amount(order.Instrument),
		Dealt:   dealt,
	}
	if e.cfg.VolumeThreshold.Mode == VolumeModeCumulative && !quote.Suspended {
		dayQuote, err := e.source.Window(order.Instrument, market.DayStart(order.Start), order.End)
		if err != nil {
			return Fill{}, fmt.Errorf("exchange: 读取 %s 当日成交量失败: %w", order.Instrument, err)
		}
		in.DayVolume = dayQuote.Volume
	}

	fill, err := e.Match(order, quote, in)
	if err != nil {
		return Fill{}, err
	}

	if !fill.Success() {
		e.logger.Debug("委托被拒绝",
			zap.String("order_id", order.ID),
			zap.String("instrument", order.Instrument),
			zap.String("direction", string(order.Direction)),
			zap.Int64("amount", order.Amount),
			zap.String("status", string(fill.Status)),
		)
	}
	return fill, nil
}

// Match 依次执行停牌、涨跌停、定价、取整、成交量、成本与资金检查，得到唯一的 Fill。
// 只依赖入参与不可变配置。
func (e *Exchange) Match(order Order, quote market.Quote, in MatchInput) (Fill, error) {
	if quote.Suspended {
		return rejected(order, StatusRejectedSuspended), nil
	}

	if lockedFor(e.rule, e.cfg.ForbidAllTradeAtLimit, quote, order.Direction) {
		return rejected(order, StatusRejectedLimit), nil
	}

	price, err := e.dealPrice(order, quote)
	if err != nil {
		return Fill{}, err
	}

	factor := order.Factor
	if factor <= 0 || math.IsNaN(factor) {
		factor = quote.Factor
	}

	amount := order.Amount
	if order.Direction == DirectionSell && amount > in.Holding {
		amount = in.Holding
	}
	amount = roundLot(amount, factor, e.cfg.TradeUnit)
	if amount <= 0 {
		return rejected(order, StatusRejectedZeroAmount), nil
	}

	if capacity, ok := e.volumeCapacity(quote, in); ok {
		capacity = roundLot(capacity, factor, e.cfg.TradeUnit)
		if capacity < amount {
			amount = capacity
		}
		if amount <= 0 {
			fill := rejected(order, StatusRejectedNoVolume)
			fill.DealPrice = price
			return fill, nil
		}
	}

	rate := decimal.NewFromFloat(e.cfg.CostRate(order.Direction))
	minCost := decimal.NewFromFloat(e.cfg.MinCost)

	value, cost := tradeValueCost(amount, price, rate, minCost)
	if order.Direction == DirectionBuy && value.Add(cost).GreaterThan(in.Cash) {
		amount = affordable(amount, price, rate, minCost, in.Cash, factor, e.cfg.TradeUnit)
		if amount <= 0 {
			fill := rejected(order, StatusRejectedInsufficientCash)
			fill.DealPrice = price
			return fill, nil
		}
		value, cost = tradeValueCost(amount, price, rate, minCost)
	}
	// 卖出所得不足以支付最低手续费时拒绝，现金不能为负
	if order.Direction == DirectionSell && in.Cash.Add(value).LessThan(cost) {
		fill := rejected(order, StatusRejectedInsufficientCash)
		fill.DealPrice = price
		return fill, nil
	}

	return Fill{
		Order:      order,
		DealAmount: amount,
		DealPrice:  price,
		TradeValue: value,
		TradeCost:  cost,
		Status:     StatusSuccess,
	}, nil
}

func (e *Exchange) dealPrice(order Order, quote market.Quote) (decimal.Decimal, error) {
	field := e.cfg.PriceField(order.Direction)
	raw, ok := quote.Value(field)
	if !ok || raw <= 0 {
		return decimal.Zero, fmt.Errorf("exchange: %s 在 %s 缺少有效的 %s 价格: %w",
			order.Instrument, order.Start.Format(time.RFC3339), field, market.ErrMissingField)
	}

	price := decimal.NewFromFloat(raw)
	if e.cfg.ImpactCost > 0 {
		impact := decimal.NewFromFloat(e.cfg.ImpactCost)
		if order.Direction == DirectionBuy {
			price = price.Mul(decimal.NewFromInt(1).Add(impact))
		} else {
			price = price.Mul(decimal.NewFromInt(1).Sub(impact))
		}
	}
	return price, nil
}

func (e *Exchange) volumeCapacity(quote market.Quote, in MatchInput) (int64, bool) {
	vt := e.cfg.VolumeThreshold
	switch vt.Mode {
	case VolumeModeCurrent:
		return int64(math.Floor(quote.Volume * vt.Ratio)), true
	case VolumeModeCumulative:
		left := int64(math.Floor(in.DayVolume*vt.Ratio)) - in.Dealt
		if left < 0 {
			left = 0
		}
		return left, true
	default:
		return 0, false
	}
}

func tradeValueCost(amount int64, price, rate, minCost decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	value := price.Mul(decimal.NewFromInt(amount))
	cost := decimal.Max(value.Mul(rate), minCost)
	return value, cost
}

// affordable 返回现金可承担的最大整手数量（含手续费）。
func affordable(amount int64, price, rate, minCost, cash decimal.Decimal, factor float64, unit int64) int64 {
	perShare := price.Mul(decimal.NewFromInt(1).Add(rate))
	if !perShare.IsPositive() {
		return 0
	}
	upper := cash.Div(perShare).Floor().IntPart()
	if upper < amount {
		amount = upper
	}
	amount = roundLot(amount, factor, unit)
	for amount > 0 {
		value, cost := tradeValueCost(amount, price, rate, minCost)
		if !value.Add(cost).GreaterThan(cash) {
			return amount
		}
		amount = roundLot(amount-1, factor, unit)
	}
	return 0
}

// roundLot 将数量按真实股数向下取整到 unit 的整数倍，余数舍弃。
func roundLot(amount int64, factor float64, unit int64) int64 {
	if amount <= 0 {
		return 0
	}
	if unit <= 0 {
		return amount
	}
	if factor <= 0 || math.IsNaN(factor) || factor == 1 {
		return amount / unit * unit
	}
	shares := float64(amount) * factor
	lots := math.Floor(shares/float64(unit) + 1e-9)
	return int64(math.Floor(lots*float64(unit)/factor + 1e-9))
}

// ClosePrices 返回 [start, end) 内各标的最后成交价，停牌标的不出现在结果中。
func (e *Exchange) ClosePrices(instruments []string, start, end time.Time) (map[string]float64, error) {
	prices := make(map[string]float64, len(instruments))
	for _, inst := range instruments {
		q, err := e.source.Window(inst, start, end)
		if err != nil {
			return nil, fmt.Errorf("exchange: 读取 %s 收盘价失败: %w", inst, err)
		}
		if q.Suspended {
			continue
		}
		if v, ok := q.Value(market.FieldClose); ok {
			prices[inst] = v
		}
	}
	return prices, nil
}
