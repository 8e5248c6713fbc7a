package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-sim/internal/market"
)

var start = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

func source(t *testing.T, closes ...float64) *market.MemorySource {
	t.Helper()
	quotes := make([]market.Quote, 0, len(closes))
	for i, c := range closes {
		quotes = append(quotes, market.Quote{
			Instrument: "A", Time: start.AddDate(0, 0, i),
			Open: c, High: c, Low: c, Close: c, VWAP: c, Volume: 100, Factor: 1,
		})
	}
	src, err := market.NewMemorySource(quotes)
	require.NoError(t, err)
	return src
}

func TestCalculator_ComputeUsesOnlyPastCloses(t *testing.T) {
	calc, err := NewCalculator(source(t, 10, 11, 12, 100), 2)
	require.NoError(t, err)

	r, err := calc.Compute("A", start.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.True(t, r.Ready())
	assert.Equal(t, []float64{10, 11, 12}, r.Series.Close)
	assert.InDelta(t, 20.0, r.ROC, 1e-9)
	assert.InDelta(t, 11.5, r.SMA, 1e-9)
	assert.InDelta(t, 100.0, r.RSI, 1e-9, "only gains")
	assert.Equal(t, 12.0, r.Close)

	cached, err := calc.Compute("A", start.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, r.ROC, cached.ROC)
}

func TestCalculator_NotReadyWithShortHistory(t *testing.T) {
	calc, err := NewCalculator(source(t, 10, 11), 5)
	require.NoError(t, err)

	r, err := calc.Compute("A", start.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.False(t, r.Ready())
	assert.True(t, math.IsNaN(r.SMA))
	assert.True(t, math.IsNaN(Last(nil)))
}

func TestCalculator_Errors(t *testing.T) {
	_, err := NewCalculator(nil, 2)
	assert.Error(t, err)

	calc, err := NewCalculator(source(t, 10), 2)
	require.NoError(t, err)
	_, err = calc.Compute("ZZZ", start)
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)
}
