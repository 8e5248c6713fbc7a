package position

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-sim/internal/exchange"
)

// ErrInvalidFill 表示成交回报与账户状态不一致，账户保持不变。
var ErrInvalidFill = errors.New("position: 非法成交回报")

// Position 描述单个标的的持仓。
// Book 为持仓账面成本，均价 = Book / Amount。
type Position struct {
	Instrument string          `json:"instrument" yaml:"instrument"`
	Amount     int64           `json:"amount" yaml:"amount"`
	Book       decimal.Decimal `json:"book" yaml:"book"`
	LastPrice  float64         `json:"last_price" yaml:"last_price"`
}

// AvgCost 返回加权平均成本。
func (p Position) AvgCost() decimal.Decimal {
	if p.Amount == 0 {
		return decimal.Zero
	}
	return p.Book.Div(decimal.NewFromInt(p.Amount))
}

// MarketValue 以最近价格估值。
func (p Position) MarketValue() decimal.Decimal {
	return decimal.NewFromFloat(p.LastPrice).Mul(decimal.NewFromInt(p.Amount))
}

// Account 维护现金与持仓，只能通过 Apply 成交回报修改。
// 单次回测内单线程使用，不做加锁。
type Account struct {
	initial   decimal.Decimal
	cash      decimal.Decimal
	positions map[string]*Position

	totalCost   decimal.Decimal
	turnover    decimal.Decimal
	realizedPnL decimal.Decimal

	logger *zap.Logger
}

// NewAccount 以初始资金创建空仓账户。
func NewAccount(cash decimal.Decimal, logger *zap.Logger) (*Account, error) {
	if cash.IsNegative() {
		return nil, fmt.Errorf("position: 初始资金不能为负: %s", cash)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Account{
		initial:     cash,
		cash:        cash,
		positions:   make(map[string]*Position),
		totalCost:   decimal.Zero,
		turnover:    decimal.Zero,
		realizedPnL: decimal.Zero,
		logger:      logger,
	}, nil
}

// Cash 返回可用现金。
func (a *Account) Cash() decimal.Decimal {
	return a.cash
}

// InitialCash 返回初始资金。
func (a *Account) InitialCash() decimal.Decimal {
	return a.initial
}

// Amount 返回持仓数量，未持有时为 0。
func (a *Account) Amount(instrument string) int64 {
	if p, ok := a.positions[instrument]; ok {
		return p.Amount
	}
	return 0
}

// Position 返回持仓副本。
func (a *Account) Position(instrument string) (Position, bool) {
	p, ok := a.positions[instrument]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Instruments 返回持仓标的，按代码排序。
func (a *Account) Instruments() []string {
	out := make([]string, 0, len(a.positions))
	for inst := range a.positions {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// TotalCost 返回累计交易成本。
func (a *Account) TotalCost() decimal.Decimal { return a.totalCost }

// Turnover 返回累计成交额。
func (a *Account) Turnover() decimal.Decimal { return a.turnover }

// RealizedPnL 返回累计已实现盈亏（卖出所得扣除对应账面成本，不含手续费）。
func (a *Account) RealizedPnL() decimal.Decimal { return a.realizedPnL }

// Apply 记入一笔成交。非成功回报不修改账户。
// 校验在任何修改之前完成，失败时账户保持原状。
func (a *Account) Apply(fill exchange.Fill) error {
	if !fill.Success() {
		return nil
	}
	if fill.DealAmount <= 0 {
		return fmt.Errorf("%w: 成交数量 %d", ErrInvalidFill, fill.DealAmount)
	}

	inst := fill.Order.Instrument
	switch fill.Order.Direction {
	case exchange.DirectionBuy:
		a.applyBuy(inst, fill)
	case exchange.DirectionSell:
		held := a.Amount(inst)
		if fill.DealAmount > held {
			return fmt.Errorf("%w: 卖出 %s %d 超过持仓 %d", ErrInvalidFill, inst, fill.DealAmount, held)
		}
		a.applySell(inst, fill)
	default:
		return fmt.Errorf("%w: 未知方向 %q", ErrInvalidFill, fill.Order.Direction)
	}

	a.totalCost = a.totalCost.Add(fill.TradeCost)
	a.turnover = a.turnover.Add(fill.TradeValue)

	a.logger.Debug("成交入账",
		zap.String("order_id", fill.Order.ID),
		zap.String("instrument", inst),
		zap.String("direction", string(fill.Order.Direction)),
		zap.Int64("deal_amount", fill.DealAmount),
		zap.String("deal_price", fill.DealPrice.String()),
		zap.String("cash", a.cash.String()),
	)
	return nil
}

func (a *Account) applyBuy(inst string, fill exchange.Fill) {
	a.cash = a.cash.Sub(fill.TradeValue).Sub(fill.TradeCost)

	p, ok := a.positions[inst]
	if !ok {
		p = &Position{Instrument: inst, Book: decimal.Zero}
		a.positions[inst] = p
	}
	p.Amount += fill.DealAmount
	p.Book = p.Book.Add(fill.TradeValue)
	p.LastPrice = fill.DealPrice.InexactFloat64()
}

func (a *Account) applySell(inst string, fill exchange.Fill) {
	a.cash = a.cash.Add(fill.TradeValue).Sub(fill.TradeCost)

	p := a.positions[inst]
	var removed decimal.Decimal
	if fill.DealAmount == p.Amount {
		removed = p.Book
	} else {
		removed = p.Book.Mul(decimal.NewFromInt(fill.DealAmount)).Div(decimal.NewFromInt(p.Amount))
	}
	a.realizedPnL = a.realizedPnL.Add(fill.TradeValue.Sub(removed))

	p.Amount -= fill.DealAmount
	p.Book = p.Book.Sub(removed)
	p.LastPrice = fill.DealPrice.InexactFloat64()
	if p.Amount == 0 {
		delete(a.positions, inst)
	}
}

// MarkToMarket 更新持仓的最近价格，只影响估值。
// prices 中缺失的标的（如停牌）沿用上一次价格。
func (a *Account) MarkToMarket(prices map[string]float64) {
	for inst, p := range a.positions {
		if px, ok := prices[inst]; ok && px > 0 {
			p.LastPrice = px
		}
	}
}

// HoldingsValue 返回持仓市值合计。
func (a *Account) HoldingsValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.positions {
		total = total.Add(p.MarketValue())
	}
	return total
}

// BookValue 返回持仓账面成本合计。
func (a *Account) BookValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.positions {
		total = total.Add(p.Book)
	}
	return total
}

// Value 返回账户总值 = 现金 + Σ 数量 × 最近价格。
func (a *Account) Value() decimal.Decimal {
	return a.cash.Add(a.HoldingsValue())
}

// Snapshot 返回账户的深拷贝，供策略只读使用。
func (a *Account) Snapshot() Snapshot {
	positions := make(map[string]Position, len(a.positions))
	for inst, p := range a.positions {
		positions[inst] = *p
	}
	return Snapshot{
		Cash:        a.cash,
		Value:       a.Value(),
		Positions:   positions,
		TotalCost:   a.totalCost,
		Turnover:    a.turnover,
		RealizedPnL: a.realizedPnL,
	}
}
