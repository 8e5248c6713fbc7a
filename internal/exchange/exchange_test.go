package exchange

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-sim/internal/market"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func scenarioConfig() Config {
	return Config{
		OpenCost:  0.0015,
		CloseCost: 0.0025,
		MinCost:   5,
		TradeUnit: 100,
		DealPrice: string(market.FieldClose),
	}
}

func quoteAt(close float64) market.Quote {
	return market.Quote{
		Instrument: "X",
		Time:       t0,
		Open:       close,
		High:       close,
		Low:        close,
		Close:      close,
		VWAP:       close,
		Volume:     1e6,
		Factor:     1,
		PrevClose:  close,
	}
}

func newTestExchange(t *testing.T, cfg Config, quotes ...market.Quote) *Exchange {
	t.Helper()
	if len(quotes) == 0 {
		quotes = []market.Quote{quoteAt(10)}
	}
	src, err := market.NewMemorySource(quotes)
	require.NoError(t, err)
	ex, err := New(cfg, src, nil)
	require.NoError(t, err)
	return ex
}

func buyOrder(amount int64) Order {
	return Order{ID: "o1", Instrument: "X", Direction: DirectionBuy, Amount: amount, Start: t0, End: t0.Add(24 * time.Hour), Factor: 1}
}

func sellOrder(amount int64) Order {
	o := buyOrder(amount)
	o.Direction = DirectionSell
	return o
}

func cash(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func TestMatch_BuyRoundsToLotAndChargesMinCost(t *testing.T) {
	ex := newTestExchange(t, scenarioConfig())

	fill, err := ex.Match(buyOrder(250), quoteAt(10), MatchInput{Cash: cash(5000)})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, fill.Status)
	assert.Equal(t, int64(200), fill.DealAmount)
	assert.True(t, fill.TradeValue.Equal(cash(2000)), "trade value %s", fill.TradeValue)
	assert.True(t, fill.TradeCost.Equal(cash(5)), "trade cost %s", fill.TradeCost)
	assert.True(t, fill.Partial())
}

func TestMatch_InsufficientCashBelowOneLot(t *testing.T) {
	ex := newTestExchange(t, scenarioConfig())

	fill, err := ex.Match(buyOrder(250), quoteAt(10), MatchInput{Cash: cash(1000)})
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedInsufficientCash, fill.Status)
	assert.Equal(t, int64(0), fill.DealAmount)
	assert.True(t, fill.TradeValue.IsZero())
}

func TestMatch_InsufficientCashReducesToAffordableLots(t *testing.T) {
	ex := newTestExchange(t, scenarioConfig())

	// 2000 元只够 100 股：200 股需 2000 + 5。
	fill, err := ex.Match(buyOrder(500), quoteAt(10), MatchInput{Cash: cash(2000)})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, fill.Status)
	assert.Equal(t, int64(100), fill.DealAmount)
	assert.True(t, fill.TradeValue.Add(fill.TradeCost).LessThanOrEqual(cash(2000)))
}

func TestMatch_SuspendedDominates(t *testing.T) {
	cfg := scenarioConfig()
	cfg.LimitRule = LimitRuleFlags
	cfg.VolumeThreshold = VolumeThreshold{Mode: VolumeModeCurrent, Ratio: 0.1}
	ex := newTestExchange(t, cfg)

	q := quoteAt(10)
	q.Suspended = true
	q.LimitBuy = true
	q.LimitSell = true
	q.Volume = 0

	for _, o := range []Order{buyOrder(100), sellOrder(100)} {
		fill, err := ex.Match(o, q, MatchInput{Cash: cash(1e6), Holding: 1000})
		require.NoError(t, err)
		assert.Equal(t, StatusRejectedSuspended, fill.Status)
	}
}

func TestMatch_PercentLimit(t *testing.T) {
	cfg := scenarioConfig()
	cfg.LimitRule = LimitRulePercent
	cfg.LimitThreshold = 0.095
	ex := newTestExchange(t, cfg)

	up := quoteAt(11)
	up.PrevClose = 10

	fill, err := ex.Match(buyOrder(100), up, MatchInput{Cash: cash(1e6)})
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedLimit, fill.Status)

	fill, err = ex.Match(sellOrder(100), up, MatchInput{Holding: 100})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, fill.Status, "selling at limit-up is allowed")

	down := quoteAt(9)
	down.PrevClose = 10
	fill, err = ex.Match(sellOrder(100), down, MatchInput{Holding: 100})
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedLimit, fill.Status)
}

func TestMatch_ForbidAllTradeAtLimit(t *testing.T) {
	cfg := scenarioConfig()
	cfg.LimitRule = LimitRuleFlags
	cfg.ForbidAllTradeAtLimit = true
	ex := newTestExchange(t, cfg)

	q := quoteAt(10)
	q.LimitBuy = true

	fill, err := ex.Match(sellOrder(100), q, MatchInput{Holding: 100})
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedLimit, fill.Status)
}

func TestMatch_CustomLimitRule(t *testing.T) {
	src, err := market.NewMemorySource([]market.Quote{quoteAt(10)})
	require.NoError(t, err)
	ex, err := New(scenarioConfig(), src, nil, WithLimitRule(LimitFunc(func(q market.Quote) (bool, bool) {
		return q.Close >= 10, false
	})))
	require.NoError(t, err)

	fill, err := ex.Match(buyOrder(100), quoteAt(10), MatchInput{Cash: cash(1e6)})
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedLimit, fill.Status)
}

func TestMatch_ImpactCostAdjustsPrice(t *testing.T) {
	cfg := scenarioConfig()
	cfg.ImpactCost = 0.01
	ex := newTestExchange(t, cfg)

	fill, err := ex.Match(buyOrder(100), quoteAt(10), MatchInput{Cash: cash(1e6)})
	require.NoError(t, err)
	assert.True(t, fill.DealPrice.Equal(cash(10.1)), "buy price %s", fill.DealPrice)

	fill, err = ex.Match(sellOrder(100), quoteAt(10), MatchInput{Holding: 100})
	require.NoError(t, err)
	assert.True(t, fill.DealPrice.Equal(cash(9.9)), "sell price %s", fill.DealPrice)
}

func TestMatch_DistinctBuySellPriceFields(t *testing.T) {
	cfg := scenarioConfig()
	cfg.DealPrice = ""
	cfg.BuyPrice = "open"
	cfg.SellPrice = "vwap"
	ex := newTestExchange(t, cfg)

	q := quoteAt(10)
	q.Open = 9.5
	q.VWAP = 10.5

	fill, err := ex.Match(buyOrder(100), q, MatchInput{Cash: cash(1e6)})
	require.NoError(t, err)
	assert.True(t, fill.DealPrice.Equal(cash(9.5)))

	fill, err = ex.Match(sellOrder(100), q, MatchInput{Holding: 100})
	require.NoError(t, err)
	assert.True(t, fill.DealPrice.Equal(cash(10.5)))
}

func TestMatch_MissingPriceIsFatal(t *testing.T) {
	ex := newTestExchange(t, scenarioConfig())
	q := quoteAt(10)
	q.Close = math.NaN()

	_, err := ex.Match(buyOrder(100), q, MatchInput{Cash: cash(1e6)})
	assert.ErrorIs(t, err, market.ErrMissingField)
}

func TestMatch_SellCappedAtHolding(t *testing.T) {
	ex := newTestExchange(t, scenarioConfig())

	fill, err := ex.Match(sellOrder(1000), quoteAt(10), MatchInput{Holding: 300})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, fill.Status)
	assert.Equal(t, int64(300), fill.DealAmount)
	// 3000 * 0.0025 = 7.5
	assert.True(t, fill.TradeCost.Equal(cash(7.5)), "cost %s", fill.TradeCost)

	fill, err = ex.Match(sellOrder(100), quoteAt(10), MatchInput{Holding: 0})
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedZeroAmount, fill.Status)
}

func TestMatch_SellRejectedWhenProceedsCannotCoverMinCost(t *testing.T) {
	cfg := scenarioConfig()
	ex := newTestExchange(t, cfg)

	// 100 股 * 0.01 = 1 元，不足以支付 5 元最低手续费
	fill, err := ex.Match(sellOrder(100), quoteAt(0.01), MatchInput{Holding: 100})
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedInsufficientCash, fill.Status)
	assert.Equal(t, int64(0), fill.DealAmount)
	assert.True(t, fill.TradeCost.IsZero())

	fill, err = ex.Match(sellOrder(100), quoteAt(0.01), MatchInput{Holding: 100, Cash: cash(4)})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, fill.Status)
	assert.True(t, cash(4).Add(fill.TradeValue).Sub(fill.TradeCost).IsZero())
}

func TestMatch_VolumeThresholdCurrent(t *testing.T) {
	cfg := scenarioConfig()
	cfg.VolumeThreshold = VolumeThreshold{Mode: VolumeModeCurrent, Ratio: 0.1}
	ex := newTestExchange(t, cfg)

	q := quoteAt(10)
	q.Volume = 2550

	fill, err := ex.Match(buyOrder(1000), q, MatchInput{Cash: cash(1e6)})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, fill.Status)
	assert.Equal(t, int64(200), fill.DealAmount)

	q.Volume = 900
	fill, err = ex.Match(buyOrder(1000), q, MatchInput{Cash: cash(1e6)})
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedNoVolume, fill.Status)
}

func TestMatch_VolumeThresholdCumulative(t *testing.T) {
	cfg := scenarioConfig()
	cfg.VolumeThreshold = VolumeThreshold{Mode: VolumeModeCumulative, Ratio: 0.5}
	ex := newTestExchange(t, cfg)

	fill, err := ex.Match(buyOrder(1000), quoteAt(10), MatchInput{Cash: cash(1e6), DayVolume: 1000, Dealt: 300})
	require.NoError(t, err)
	assert.Equal(t, int64(200), fill.DealAmount)

	fill, err = ex.Match(buyOrder(1000), quoteAt(10), MatchInput{Cash: cash(1e6), DayVolume: 1000, Dealt: 500})
	require.NoError(t, err)
	assert.Equal(t, StatusRejectedNoVolume, fill.Status)
}

func TestRoundLot(t *testing.T) {
	assert.Equal(t, int64(200), roundLot(250, 1, 100))
	assert.Equal(t, int64(0), roundLot(99, 1, 100))
	assert.Equal(t, int64(250), roundLot(250, 1, 0))
	// factor=2：真实股数翻倍，100 股一手对应 50 单位。
	assert.Equal(t, int64(100), roundLot(120, 2, 100))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, scenarioConfig().Validate())
	require.NoError(t, DefaultConfig().Validate())

	bad := scenarioConfig()
	bad.OpenCost = -1
	bad.LimitRule = "expr"
	bad.DealPrice = "bid"
	bad.VolumeThreshold = VolumeThreshold{Mode: "rolling", Ratio: 1}
	err := bad.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "limit_rule")
	assert.Contains(t, err.Error(), "bid")

	_, err = New(bad, nil, nil)
	require.Error(t, err)
}

type fakeHoldings struct {
	cash    decimal.Decimal
	amounts map[string]int64
}

func (f fakeHoldings) Cash() decimal.Decimal { return f.cash }
func (f fakeHoldings) Amount(instrument string) int64 { return f.amounts[instrument] }

func TestDeal_ReadsWindowAndPropagatesDataErrors(t *testing.T) {
	cfg := scenarioConfig()
	cfg.VolumeThreshold = VolumeThreshold{Mode: VolumeModeCumulative, Ratio: 0.5}
	q1 := quoteAt(10)
	q1.Volume = 400
	q2 := quoteAt(10)
	q2.Time = t0.Add(time.Hour)
	q2.Volume = 600
	ex := newTestExchange(t, cfg, q1, q2)

	order := buyOrder(1000)
	order.Start = t0.Add(time.Hour)
	order.End = t0.Add(2 * time.Hour)

	fill, err := ex.Deal(order, fakeHoldings{cash: cash(1e6)}, 100)
	require.NoError(t, err)
	// 当日累计 1000 * 0.5 - 100 = 400
	assert.Equal(t, int64(400), fill.DealAmount)

	order.Instrument = "Y"
	_, err = ex.Deal(order, fakeHoldings{cash: cash(1e6)}, 0)
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)
}

func TestClosePrices_SkipsSuspended(t *testing.T) {
	a := quoteAt(10)
	b := quoteAt(20)
	b.Instrument = "Y"
	b.Suspended = true
	ex := newTestExchange(t, scenarioConfig(), a, b)

	prices, err := ex.ClosePrices([]string{"X", "Y"}, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"X": 10}, prices)
}
