package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction 表示下单方向。
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid 判断方向是否合法。
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Status 为撮合结果状态。拒绝属于正常业务结果，不是错误。
type Status string

const (
	StatusSuccess                  Status = "success"
	StatusRejectedSuspended        Status = "rejected-suspended"
	StatusRejectedLimit            Status = "rejected-limit"
	StatusRejectedNoVolume         Status = "rejected-no-volume"
	StatusRejectedInsufficientCash Status = "rejected-insufficient-cash"
	// StatusRejectedZeroAmount 表示取整到交易单位后为 0，或卖出时无可用持仓。
	StatusRejectedZeroAmount Status = "rejected-zero-amount"
)

// Statuses 返回全部状态，按固定顺序。
func Statuses() []Status {
	return []Status{
		StatusSuccess,
		StatusRejectedSuspended,
		StatusRejectedLimit,
		StatusRejectedNoVolume,
		StatusRejectedInsufficientCash,
		StatusRejectedZeroAmount,
	}
}

// Order 为叶子执行器生成的具体委托，创建后不可修改。
type Order struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Amount     int64     `json:"amount"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Factor     float64   `json:"factor"` // 复权因子，取整时按真实股数计算交易单位
}

// Fill 为一笔委托的撮合结果，每个 Order 恰好产生一个。
type Fill struct {
	Order      Order           `json:"order"`
	DealAmount int64           `json:"deal_amount"`
	DealPrice  decimal.Decimal `json:"deal_price"`
	TradeValue decimal.Decimal `json:"trade_value"`
	TradeCost  decimal.Decimal `json:"trade_cost"`
	Status     Status          `json:"status"`
}

// Success 判断是否成交。
func (f Fill) Success() bool {
	return f.Status == StatusSuccess
}

// Partial 判断是否部分成交。
func (f Fill) Partial() bool {
	return f.Success() && f.DealAmount < f.Order.Amount
}

func rejected(order Order, status Status) Fill {
	return Fill{
		Order:      order,
		DealPrice:  decimal.Zero,
		TradeValue: decimal.Zero,
		TradeCost:  decimal.Zero,
		Status:     status,
	}
}

// Holdings 为撮合所需的只读账户视图。
type Holdings interface {
	Cash() decimal.Decimal
	Amount(instrument string) int64
}

// MatchInput 为撮合的账户与成交量上下文。
type MatchInput struct {
	Cash      decimal.Decimal
	Holding   int64
	Dealt     int64   // 同一交易日该标的此前已成交数量
	DayVolume float64 // 当日截至委托区间结束的累计成交量
}
