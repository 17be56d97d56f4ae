package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risklab/signalgate/internal/config"
	"github.com/risklab/signalgate/internal/guards"
	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/regime"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	return New(cfg, nil, nil, nil)
}

func sectorSignal(symbol, sector string) *market.Signal {
	return &market.Signal{
		Symbol: symbol, Sector: sector, Direction: market.Long,
		Price: 1600, Strength: 100, Class: market.ClassRegular,
		RewardRisk: 2.5, VolumeMult: 2.0, ATR: 25,
		Factors: market.FactorBundle{
			MTFAlignment: 100, RelativeStrength: 100, LiquidityTier: 1,
			Divergence: 100, TimeOfDayMode: "open_drive",
			ExecutionSafety: 100, ExitClarity: 100,
		},
	}
}

func admittableSignal(symbol string) *market.Signal {
	return sectorSignal(symbol, "BANKING")
}

func TestHandleSignal_AdmitsAndRegisters(t *testing.T) {
	e := newTestEngine(t)

	res := e.HandleSignal(admittableSignal("HDFCBANK"))
	require.True(t, res.Allowed)
	assert.Equal(t, guards.ActionEmit, res.Action)
	assert.NotEmpty(t, res.SignalID) // engine assigns an ID

	require.Len(t, e.Positions(), 1)
	assert.Equal(t, "HDFCBANK", e.Positions()[0].Symbol)
	assert.Len(t, e.Status().Portfolio.Active, 1)
	assert.NotEmpty(t, e.ConfidenceHistory())
}

func TestHandleSignal_ConcurrentAdmissionsHonorExposureCap(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.HandleSignal(sectorSignal("HDFCBANK", "BANKING")).Allowed)
	require.True(t, e.HandleSignal(sectorSignal("INFY", "IT")).Allowed)
	require.InDelta(t, 20000.0, e.book.Exposure(), 1e-9)

	// 10000 of headroom under the 30000 UNKNOWN cap: exactly one of the
	// racing admissions may land.
	candidates := map[string]string{
		"SUNPHARMA": "PHARMA",
		"ITC":       "FMCG",
		"RELIANCE":  "ENERGY",
		"MARUTI":    "AUTO",
	}
	var wg sync.WaitGroup
	var admitted atomic.Int32
	for sym, sector := range candidates {
		wg.Add(1)
		go func(sym, sector string) {
			defer wg.Done()
			if e.HandleSignal(sectorSignal(sym, sector)).Allowed {
				admitted.Add(1)
			}
		}(sym, sector)
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	limit := e.book.ExposureCap(regime.Unknown)
	assert.LessOrEqual(t, e.book.Exposure(), limit)
	assert.Equal(t, 3, e.book.PositionCount())
}

func TestHandleSignal_RejectsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.HandleSignal(admittableSignal("HDFCBANK")).Allowed)

	res := e.HandleSignal(admittableSignal("HDFCBANK"))
	assert.False(t, res.Allowed)
	assert.Equal(t, guards.ReasonDuplicatePosition, res.BlockReason)
}

func TestHandleTick_ExitSettlesPortfolio(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.HandleSignal(admittableSignal("HDFCBANK")).Allowed)

	now := time.Now()
	e.HandleTick(market.Tick{Symbol: "HDFCBANK", LTP: 1660, Timestamp: now})
	require.Len(t, e.Positions(), 1) // trail armed, still riding

	e.HandleTick(market.Tick{Symbol: "HDFCBANK", LTP: 1615, Timestamp: now})
	assert.Empty(t, e.Positions())

	snap := e.Status()
	assert.Empty(t, snap.Portfolio.Active)
	// 0.9375% on the 10000 at risk
	assert.InDelta(t, 93.75, snap.Portfolio.DailyPnL, 1e-9)
	assert.Equal(t, 1, snap.Stats.Trades)
	assert.Equal(t, 1, snap.Stats.Wins)
}

func TestReclassify_UsesLatestBenchmark(t *testing.T) {
	e := newTestEngine(t)

	// No benchmark yet: a pass is a no-op.
	e.reclassify(context.Background())
	assert.Equal(t, "UNKNOWN", e.Status().Regime.Current)

	e.HandleBenchmark(market.BenchmarkUpdate{
		Open: 100, High: 100, Low: 95.5, Last: 96, VWAP: 96,
		Timestamp: time.Now(),
	})
	e.reclassify(context.Background())
	assert.Equal(t, "PANIC_DAY", e.Status().Regime.Current)

	// Panic-day floors now reject what UNKNOWN admitted.
	res := e.HandleSignal(admittableSignal("HDFCBANK"))
	assert.False(t, res.Allowed)
	assert.Equal(t, guards.ReasonLowConfidence, res.BlockReason)
}

func TestLossStreakLocksAdmissions(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()
	for _, sym := range []string{"A", "B", "C"} {
		e.book.RecordClose(sym, -100, now)
	}

	res := e.HandleSignal(admittableSignal("HDFCBANK"))
	assert.False(t, res.Allowed)
	assert.Equal(t, guards.ReasonPortfolioLocked, res.BlockReason)
}

func TestDailyReset(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.HandleSignal(admittableSignal("HDFCBANK")).Allowed)
	now := time.Now()
	e.HandleTick(market.Tick{Symbol: "HDFCBANK", LTP: 1660, Timestamp: now})
	e.HandleTick(market.Tick{Symbol: "HDFCBANK", LTP: 1615, Timestamp: now})
	require.NotZero(t, e.Status().Portfolio.DailyPnL)

	e.DailyReset()
	assert.Zero(t, e.Status().Portfolio.DailyPnL)
	assert.Empty(t, e.Status().Portfolio.ClosedToday)
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.Engine.RegimeInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}

func runUntilCancelled(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}

func TestRun_FlattensOpenPositionsOnShutdown(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.Engine.RegimeInterval = 10 * time.Millisecond
	require.True(t, e.HandleSignal(admittableSignal("HDFCBANK")).Allowed)
	e.HandleTick(market.Tick{Symbol: "HDFCBANK", LTP: 1660, Timestamp: time.Now()})
	require.Len(t, e.Positions(), 1)

	runUntilCancelled(t, e)

	assert.Empty(t, e.Positions())
	snap := e.Status()
	require.Len(t, snap.Portfolio.ClosedToday, 1)
	// closed at the 1660 mark: 3.75% on the 10000 at risk
	assert.InDelta(t, 375.0, snap.Portfolio.DailyPnL, 1e-9)
	assert.Zero(t, snap.Portfolio.Exposure)
}

func TestRun_AutoCloseDisabledKeepsPositions(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.Engine.AutoCloseOnExit = false
	e.cfg.Engine.RegimeInterval = 10 * time.Millisecond
	require.True(t, e.HandleSignal(admittableSignal("HDFCBANK")).Allowed)

	runUntilCancelled(t, e)

	assert.Len(t, e.Positions(), 1)
}
