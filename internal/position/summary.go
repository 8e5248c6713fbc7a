package position

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Snapshot 为某一时刻的账户只读视图。
type Snapshot struct {
	Cash        decimal.Decimal     `json:"cash" yaml:"cash"`
	Value       decimal.Decimal     `json:"value" yaml:"value"`
	Positions   map[string]Position `json:"positions" yaml:"positions"`
	TotalCost   decimal.Decimal     `json:"total_cost" yaml:"total_cost"`
	Turnover    decimal.Decimal     `json:"turnover" yaml:"turnover"`
	RealizedPnL decimal.Decimal     `json:"realized_pnl" yaml:"realized_pnl"`
}

// Amount 返回快照中的持仓数量。
func (s Snapshot) Amount(instrument string) int64 {
	return s.Positions[instrument].Amount
}

// Summary 为单个持仓的报告行。
type Summary struct {
	Instrument  string  `json:"instrument" yaml:"instrument"`
	Amount      int64   `json:"amount" yaml:"amount"`
	AvgCost     float64 `json:"avg_cost" yaml:"avg_cost"`
	LastPrice   float64 `json:"last_price" yaml:"last_price"`
	MarketValue float64 `json:"market_value" yaml:"market_value"`
	Weight      float64 `json:"weight" yaml:"weight"` // 占账户总值比例
}

// Summaries 返回按标的排序的持仓摘要。
func (s Snapshot) Summaries() []Summary {
	out := make([]Summary, 0, len(s.Positions))
	for inst, p := range s.Positions {
		mv := p.MarketValue()
		var weight float64
		if s.Value.IsPositive() {
			weight = mv.Div(s.Value).InexactFloat64()
		}
		out = append(out, Summary{
			Instrument:  inst,
			Amount:      p.Amount,
			AvgCost:     p.AvgCost().InexactFloat64(),
			LastPrice:   p.LastPrice,
			MarketValue: mv.InexactFloat64(),
			Weight:      weight,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// EmptySnapshot 返回无持仓、无现金的快照。
func EmptySnapshot() Snapshot {
	return Snapshot{Positions: map[string]Position{}}
}
