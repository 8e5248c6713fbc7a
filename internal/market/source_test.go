package market

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `instrument,datetime,open,high,low,close,volume,vwap,factor,suspended,limit_buy,limit_sell
AAA,2024-01-02 09:30,10,10.5,9.8,10.2,1000,10.1,1,0,0,0
AAA,2024-01-02 09:35,10.2,10.6,10.1,10.4,3000,10.3,1,0,1,0
BBB,2024-01-02 09:30,,,,,0,,1,1,0,0
BBB,2024-01-02 09:35,20,20,20,20,500,20,1,0,0,1
AAA,2024-01-02 09:40,10.4,10.4,10.0,10.0,2000,10.2,1,0,1,0
`

func loadSample(t *testing.T) *MemorySource {
	t.Helper()
	src, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	return src
}

func TestReadCSV_SortsAndFillsPrevClose(t *testing.T) {
	src := loadSample(t)
	assert.Equal(t, []string{"AAA", "BBB"}, src.Instruments())

	v, ok, err := src.Get("AAA", at("2024-01-02 09:35"), FieldClose)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10.4, v)

	q, err := src.Window("AAA", at("2024-01-02 09:35"), at("2024-01-02 09:40"))
	require.NoError(t, err)
	assert.Equal(t, 10.2, q.PrevClose)

	_, ok, err = src.Get("BBB", at("2024-01-02 09:30"), FieldClose)
	require.NoError(t, err)
	assert.False(t, ok, "suspended bar has no close")

	suspended, err := src.IsSuspended("BBB", at("2024-01-02 09:30"))
	require.NoError(t, err)
	assert.True(t, suspended)
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("instrument,datetime,open\nAAA,2024-01-02,1\n"))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestMemorySource_WindowAggregates(t *testing.T) {
	src := loadSample(t)

	q, err := src.Window("AAA", at("2024-01-02 09:30"), at("2024-01-02 10:00"))
	require.NoError(t, err)
	assert.False(t, q.Suspended)
	assert.Equal(t, 10.0, q.Open)
	assert.Equal(t, 10.0, q.Close)
	assert.Equal(t, 10.6, q.High)
	assert.Equal(t, 9.8, q.Low)
	assert.Equal(t, 6000.0, q.Volume)
	assert.InDelta(t, (10.1*1000+10.3*3000+10.2*2000)/6000, q.VWAP, 1e-9)
	assert.False(t, q.LimitBuy, "09:30 traded off the limit")

	q, err = src.Window("AAA", at("2024-01-02 09:35"), at("2024-01-02 10:00"))
	require.NoError(t, err)
	assert.True(t, q.LimitBuy)

	// 停牌 bar 不参与涨跌停判断
	q, err = src.Window("BBB", at("2024-01-02 09:30"), at("2024-01-02 10:00"))
	require.NoError(t, err)
	assert.True(t, q.LimitSell)
	assert.False(t, q.LimitBuy)
}

func TestMemorySource_WindowSuspendedAndErrors(t *testing.T) {
	src := loadSample(t)

	q, err := src.Window("BBB", at("2024-01-02 09:30"), at("2024-01-02 09:35"))
	require.NoError(t, err)
	assert.True(t, q.Suspended)
	assert.True(t, math.IsNaN(q.Close))

	_, err = src.Window("CCC", at("2024-01-02 09:30"), at("2024-01-02 09:35"))
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	_, err = src.Window("AAA", at("2024-01-03 09:30"), at("2024-01-03 09:35"))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestMemorySource_HistorySkipsSuspended(t *testing.T) {
	src := loadSample(t)

	closes, err := src.History("AAA", at("2024-01-02 09:40"), 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{10.2, 10.4}, closes)

	closes, err = src.History("BBB", at("2024-01-02 10:00"), 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{20}, closes)
}

func TestMemorySource_Calendar(t *testing.T) {
	src := loadSample(t)
	freq, _ := ParseFreq("5min")
	cal, err := src.Calendar(freq)
	require.NoError(t, err)
	assert.Equal(t, 3, cal.Len())

	daily, _ := ParseFreq("1d")
	cal, err = src.Calendar(daily)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at("2024-01-02 09:30")}, cal.Times())
}

func TestNewMemorySource_DuplicateTimestamp(t *testing.T) {
	_, err := NewMemorySource([]Quote{
		{Instrument: "AAA", Time: at("2024-01-02 09:30"), Close: 1},
		{Instrument: "AAA", Time: at("2024-01-02 09:30"), Close: 2},
	})
	require.Error(t, err)
}
