package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trades-sim/internal/backtest"
	"trades-sim/internal/config"
	"trades-sim/internal/exchange"
	"trades-sim/internal/monitor"
	"trades-sim/internal/store"
	"trades-sim/internal/strategy"
)

var day1 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func writeQuotes(t *testing.T) string {
	t.Helper()
	closes := map[string][]float64{
		"A": {10, 11, 12, 12.5, 13},
		"B": {10, 9, 8, 7.5, 7},
	}
	var b strings.Builder
	b.WriteString("instrument,datetime,open,high,low,close,volume\n")
	for _, inst := range []string{"A", "B"} {
		for d, c := range closes[inst] {
			ts := day1.AddDate(0, 0, d).Add(15 * time.Hour).Format("2006-01-02 15:04")
			fmt.Fprintf(&b, "%s,%s,%v,%v,%v,%v,1000000\n", inst, ts, c, c, c, c)
		}
	}
	path := filepath.Join(t.TempDir(), "quotes.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Data: config.DataConfig{Path: writeQuotes(t)},
		Backtest: backtest.Config{
			Name:        "app",
			Start:       day1,
			End:         day1.AddDate(0, 0, 5),
			InitialCash: 100_000,
			Seed:        9,
			Levels: []backtest.LevelConfig{
				{Freq: "1d", Strategy: strategy.Config{Kind: strategy.KindTopK, TopK: 1, Lookback: 1, RiskDegree: 0.9}},
			},
			Exchange: exchange.DefaultConfig(),
		},
		Sweep: config.SweepConfig{
			Parallelism: 2,
			Variants: []config.VariantConfig{
				{Name: "seed-1", Seed: 1},
				{Name: "half", Levels: []backtest.LevelConfig{
					{Freq: "1d", Strategy: strategy.Config{Kind: strategy.KindTopK, TopK: 1, Lookback: 1, RiskDegree: 0.5}},
				}},
			},
		},
	}
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	st, err := store.NewSQLite(config.StorageConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	a, err := New(context.Background(), cfg, zap.NewNop(), st)
	require.NoError(t, err)
	return a
}

func TestApp_RunPersistsFills(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()

	res, err := a.Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, res.Fills)

	fills, err := a.Fills(ctx, res.RunID, "")
	require.NoError(t, err)
	require.Len(t, fills, len(res.Fills))
	assert.Equal(t, res.Fills[0].Order.ID, fills[0].Order.ID)

	_, err = a.Fills(ctx, "nope", "")
	assert.ErrorIs(t, err, monitor.ErrRunNotFound)
}

func TestApp_Sweep(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()

	results, err := a.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
		run, err := a.Monitor().GetRun(ctx, r.Result.RunID)
		require.NoError(t, err)
		assert.Equal(t, r.Variant.Name, run.Name)
		assert.Equal(t, monitor.RunFinished, run.Status)
	}
	assert.Greater(t, results[0].Result.Final.Amount("A"), results[1].Result.Final.Amount("A"))
}

func TestApp_WithoutStorage(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil, nil)
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.NoError(t, err)

	_, err = a.Fills(context.Background(), "any", "")
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestApp_MissingData(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Path = filepath.Join(t.TempDir(), "missing.csv")
	a := newApp(t, cfg)

	_, err := a.Run(context.Background())
	assert.Error(t, err)
}

func TestMonitorRouter(t *testing.T) {
	a := newApp(t, testConfig(t))
	res, err := a.Run(context.Background())
	require.NoError(t, err)

	router := newMonitorRouter(a.Monitor())
	get := func(path string, out any) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if out != nil && w.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
		}
		return w.Code
	}

	var detail struct {
		Run monitor.Run `json:"run"`
	}
	require.Equal(t, http.StatusOK, get("/api/runs/"+res.RunID, &detail))
	assert.Equal(t, res.RunID, detail.Run.ID)
	assert.Equal(t, monitor.RunFinished, detail.Run.Status)

	var list struct {
		Runs []monitor.Run `json:"runs"`
	}
	require.Equal(t, http.StatusOK, get("/api/runs?limit=5", &list))
	require.Len(t, list.Runs, 1)

	var fills struct {
		Fills []exchange.Fill `json:"fills"`
	}
	require.Equal(t, http.StatusOK, get("/api/runs/"+res.RunID+"/fills?instrument=A", &fills))
	require.NotEmpty(t, fills.Fills)
	for _, f := range fills.Fills {
		assert.Equal(t, "A", f.Order.Instrument)
	}

	var steps struct {
		Steps []backtest.StepRecord `json:"steps"`
	}
	require.Equal(t, http.StatusOK, get("/api/runs/"+res.RunID+"/steps", &steps))
	assert.Len(t, steps.Steps, len(res.Steps))

	var events struct {
		Events []monitor.Event `json:"events"`
	}
	require.Equal(t, http.StatusOK, get("/api/events?type=RUN_FINISHED&limit=5", &events))
	assert.Len(t, events.Events, 1)

	assert.Equal(t, http.StatusNotFound, get("/api/runs/unknown/fills", nil))
	assert.Equal(t, http.StatusNotFound, get("/api/runs/unknown", nil))
}

var errAccept = errors.New("accept failed")

type brokenListener struct{ net.Listener }

func (l brokenListener) Accept() (net.Conn, error) { return nil, errAccept }

func TestApp_ServeReturnsServerError(t *testing.T) {
	a := newApp(t, testConfig(t))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := serveMonitor(context.Background(), a.Monitor(), brokenListener{ln}, zap.NewNop())
	err = a.waitServer(context.Background(), errCh)
	assert.ErrorIs(t, err, errAccept)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
