package exits

import (
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/regime"
)

type stubRegimes struct {
	r   regime.Regime
	vol float64
}

func (s *stubRegimes) Current() regime.Regime { return s.r }
func (s *stubRegimes) Volatility() float64    { return s.vol }

func testConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func newTestCommander(t *testing.T, r regime.Regime) (*Commander, *stubRegimes) {
	t.Helper()
	src := &stubRegimes{r: r}
	return NewCommander(testConfig(t), src), src
}

func longEntry(symbol string, price, atr float64) *market.Signal {
	return &market.Signal{
		Symbol: symbol, Direction: market.Long, Price: price,
		Strength: 80, ATR: atr,
	}
}

func tick(symbol string, ltp float64) market.Tick {
	return market.Tick{Symbol: symbol, LTP: ltp, Timestamp: time.Now()}
}

func TestTrailingStop_ArmRideExit(t *testing.T) {
	c, _ := newTestCommander(t, regime.Unknown)
	c.Register(longEntry("HDFCBANK", 1600, 25), regime.Unknown, 0, time.Now())

	// 0.625% profit, below the 1.5% arming floor.
	require.Nil(t, c.OnTick(tick("HDFCBANK", 1610)))
	assert.False(t, c.Get("HDFCBANK").Trailing.Active)

	// 3.75% profit arms the trail at the water mark.
	require.Nil(t, c.OnTick(tick("HDFCBANK", 1660)))
	trail := c.Get("HDFCBANK").Trailing
	require.True(t, trail.Active)
	assert.Equal(t, 1660.0, trail.WaterMark)
	assert.Equal(t, 1622.5, trail.StopPrice) // 1660 - 25*1.5

	// Still above the stop, position rides.
	require.Nil(t, c.OnTick(tick("HDFCBANK", 1630)))

	sig := c.OnTick(tick("HDFCBANK", 1615))
	require.NotNil(t, sig)
	assert.Equal(t, CategoryTrailing, sig.Category)
	assert.Equal(t, SubATRTrail, sig.Subtype)
	assert.InDelta(t, 0.9375, sig.PnLPct, 1e-9)
	assert.InDelta(t, 3.75, sig.MaxPnLPct, 1e-9)
}

func TestTrailingStop_NeverLoosens(t *testing.T) {
	c, _ := newTestCommander(t, regime.Unknown)
	c.Register(longEntry("TCS", 1600, 25), regime.Unknown, 0, time.Now())

	require.Nil(t, c.OnTick(tick("TCS", 1660)))
	require.Equal(t, 1622.5, c.Get("TCS").Trailing.StopPrice)

	// A pullback above the stop must not widen it.
	require.Nil(t, c.OnTick(tick("TCS", 1630)))
	assert.Equal(t, 1622.5, c.Get("TCS").Trailing.StopPrice)
	require.Nil(t, c.OnTick(tick("TCS", 1650)))
	assert.Equal(t, 1622.5, c.Get("TCS").Trailing.StopPrice)

	// A new high tightens it.
	require.Nil(t, c.OnTick(tick("TCS", 1700)))
	assert.Equal(t, 1662.5, c.Get("TCS").Trailing.StopPrice)

	sig := c.OnTick(tick("TCS", 1640))
	require.NotNil(t, sig)
	assert.Equal(t, SubATRTrail, sig.Subtype)
}

func TestTrailingStop_Short(t *testing.T) {
	c, _ := newTestCommander(t, regime.Unknown)
	sig := &market.Signal{Symbol: "NIFTY", Direction: market.Short, Price: 1600, Strength: 80, ATR: 25}
	c.Register(sig, regime.Unknown, 0, time.Now())

	require.Nil(t, c.OnTick(tick("NIFTY", 1540))) // 3.75% in favor
	trail := c.Get("NIFTY").Trailing
	require.True(t, trail.Active)
	assert.Equal(t, 1577.5, trail.StopPrice) // 1540 + 37.5

	out := c.OnTick(tick("NIFTY", 1580))
	require.NotNil(t, out)
	assert.Equal(t, SubATRTrail, out.Subtype)
}

func TestOnTick_UnknownAndClosedSymbolsAreNoOps(t *testing.T) {
	c, _ := newTestCommander(t, regime.Unknown)
	assert.Nil(t, c.OnTick(tick("GHOST", 100)))

	c.Register(longEntry("INFY", 1600, 25), regime.Unknown, 0, time.Now())
	require.Nil(t, c.OnTick(tick("INFY", 1660)))
	require.NotNil(t, c.OnTick(tick("INFY", 1615)))

	// Position retired; a stale tick for the same symbol does nothing.
	assert.Nil(t, c.OnTick(tick("INFY", 1500)))
	assert.Nil(t, c.Get("INFY"))
}

func TestClose_Manual(t *testing.T) {
	c, _ := newTestCommander(t, regime.Unknown)
	now := time.Now()
	c.Register(longEntry("RELIANCE", 100, 2), regime.Unknown, 0, now)

	closed, err := c.Close("RELIANCE", 102, now, "operator close")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, closed.PnLPct, 1e-9)
	assert.Equal(t, "operator close", closed.Reason)

	_, err = c.Close("RELIANCE", 103, now, "again")
	assert.ErrorIs(t, err, ErrNotActive)
	_, err = c.Close("NEVEROPEN", 10, now, "")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestOptionExits_ThetaAccelAndIVCrush(t *testing.T) {
	c, _ := newTestCommander(t, regime.Unknown)
	sig := longEntry("NIFTY24SEP24000CE", 145.5, 0)
	sig.IsOption = true
	sig.Underlying = "NIFTY"
	sig.Greeks = &market.GreeksSnapshot{Theta: -3, IV: 18, OI: 100000}
	c.Register(sig, regime.Unknown, 0, time.Now())

	tk := tick("NIFTY24SEP24000CE", 145.5)
	tk.Greeks = &market.GreeksSnapshot{Theta: -8, IV: 14, OI: 100000}

	out := c.OnTick(tk)
	require.NotNil(t, out)
	assert.Equal(t, CategoryOption, out.Category)
	assert.Equal(t, SubThetaAccel, out.Subtype) // 2.67x decay outranks nothing, first option check

	// IV crushed 22.2% from 18 rides along as a second condition.
	require.Len(t, out.Conditions, 2)
	assert.Equal(t, SubIVCrush, out.Conditions[1].Subtype)
}

func TestOptionExits_IgnoredForCashPositions(t *testing.T) {
	c, _ := newTestCommander(t, regime.Unknown)
	c.Register(longEntry("SBIN", 600, 8), regime.Unknown, 0, time.Now())

	tk := tick("SBIN", 600)
	tk.Greeks = &market.GreeksSnapshot{Theta: -20, IV: 5, OI: 10}
	assert.Nil(t, c.OnTick(tk))
}

func TestRegimeExits(t *testing.T) {
	t.Run("panic is unconditional", func(t *testing.T) {
		c, src := newTestCommander(t, regime.TrendDay)
		c.Register(longEntry("AXISBANK", 1100, 15), regime.TrendDay, 50, time.Now())

		src.r = regime.PanicDay
		out := c.OnTick(tick("AXISBANK", 1100))
		require.NotNil(t, out)
		assert.Equal(t, CategoryRegime, out.Category)
		assert.Equal(t, SubPanic, out.Subtype)
	})

	t.Run("adverse shift from trend entry", func(t *testing.T) {
		c, src := newTestCommander(t, regime.TrendDay)
		c.Register(longEntry("AXISBANK", 1100, 15), regime.TrendDay, 50, time.Now())

		src.r = regime.RangeDay
		out := c.OnTick(tick("AXISBANK", 1100))
		require.NotNil(t, out)
		assert.Equal(t, SubRegimeFlip, out.Subtype)
	})

	t.Run("benign shift holds", func(t *testing.T) {
		c, src := newTestCommander(t, regime.Expansion)
		c.Register(longEntry("AXISBANK", 1100, 15), regime.Expansion, 50, time.Now())

		src.r = regime.TrendDay // expansion entries survive a trend day
		assert.Nil(t, c.OnTick(tick("AXISBANK", 1100)))
	})

	t.Run("volatility collapse", func(t *testing.T) {
		c, _ := newTestCommander(t, regime.TrendDay)
		c.Register(longEntry("AXISBANK", 1100, 15), regime.TrendDay, 60, time.Now())

		tk := tick("AXISBANK", 1100)
		tk.Volatility = 20 // a third of entry, under the 0.5 ratio
		out := c.OnTick(tk)
		require.NotNil(t, out)
		assert.Equal(t, SubVolCollapse, out.Subtype)
	})

	t.Run("breadth collapse under a long", func(t *testing.T) {
		c, _ := newTestCommander(t, regime.TrendDay)
		c.Register(longEntry("AXISBANK", 1100, 15), regime.TrendDay, 50, time.Now())

		tk := tick("AXISBANK", 1100)
		tk.BreadthPct = 20
		out := c.OnTick(tk)
		require.NotNil(t, out)
		assert.Equal(t, SubBreadthCollapse, out.Subtype)
	})
}

func TestStructuralExits(t *testing.T) {
	t.Run("swing break", func(t *testing.T) {
		c, _ := newTestCommander(t, regime.Unknown)
		c.Register(longEntry("WIPRO", 100, 2), regime.Unknown, 0, time.Now())

		lows := []float64{100, 99, 98, 99, 100, 100.5, 101}
		tk := tick("WIPRO", 97.8) // under swing low 98 past the 0.10% buffer
		tk.Candles5m = candlesFromLows(lows)

		out := c.OnTick(tk)
		require.NotNil(t, out)
		assert.Equal(t, CategoryStructural, out.Category)
		assert.Equal(t, SubSwingBreak, out.Subtype)
	})

	t.Run("vwap break needs prior profit", func(t *testing.T) {
		c, _ := newTestCommander(t, regime.Unknown)
		c.Register(longEntry("WIPRO", 100, 2), regime.Unknown, 0, time.Now())

		// Straight to a losing VWAP cross: the position never saw profit.
		tk := tick("WIPRO", 99.5)
		tk.VWAP = 100.2
		assert.Nil(t, c.OnTick(tk))

		// After a profitable leg the same cross exits.
		require.Nil(t, c.OnTick(tick("WIPRO", 101)))
		tk = tick("WIPRO", 99.5)
		tk.VWAP = 100.2
		out := c.OnTick(tk)
		require.NotNil(t, out)
		assert.Equal(t, SubVWAPBreak, out.Subtype)
	})

	t.Run("opposite ignition", func(t *testing.T) {
		c, _ := newTestCommander(t, regime.Unknown)
		c.Register(longEntry("WIPRO", 100, 2), regime.Unknown, 0, time.Now())

		tk := tick("WIPRO", 100)
		tk.Ignition = &market.IgnitionReading{Direction: market.Short, Strength: 80}
		out := c.OnTick(tk)
		require.NotNil(t, out)
		assert.Equal(t, SubOppositeIgnition, out.Subtype)

		// Below the strength floor it is noise.
		c.Register(longEntry("WIPRO", 100, 2), regime.Unknown, 0, time.Now())
		tk.Ignition.Strength = 50
		assert.Nil(t, c.OnTick(tk))
	})
}

func TestSwingPatternBroken(t *testing.T) {
	c, _ := newTestCommander(t, regime.Unknown)
	c.Register(longEntry("LT", 100, 2), regime.Unknown, 0, time.Now())

	// Two swing lows with the second one lower: higher-low sequence broken.
	lows := []float64{100, 99, 98, 99, 100, 99, 97, 98, 100, 101}
	tk := tick("LT", 99) // above both swing levels, only the pattern fires
	tk.Candles5m = candlesFromLows(lows)

	out := c.OnTick(tk)
	require.NotNil(t, out)
	assert.Equal(t, CategoryTrailing, out.Category)
	assert.Equal(t, SubSwingPattern, out.Subtype)
}

func TestExitPriority(t *testing.T) {
	assert.Greater(t, CategoryStructural.Priority(), CategoryTrailing.Priority())
	assert.Greater(t, CategoryTrailing.Priority(), CategoryOption.Priority())
	assert.Greater(t, CategoryOption.Priority(), CategoryRegime.Priority())

	t.Run("trailing outranks regime", func(t *testing.T) {
		c, src := newTestCommander(t, regime.TrendDay)
		c.Register(longEntry("HDFCBANK", 1600, 25), regime.TrendDay, 50, time.Now())
		require.Nil(t, c.OnTick(tick("HDFCBANK", 1660)))

		src.r = regime.PanicDay
		out := c.OnTick(tick("HDFCBANK", 1615)) // stop cross and panic together
		require.NotNil(t, out)
		assert.Equal(t, CategoryTrailing, out.Category)
		require.Len(t, out.Conditions, 2)
	})

	t.Run("structural outranks trailing", func(t *testing.T) {
		c, _ := newTestCommander(t, regime.Unknown)
		c.Register(longEntry("HDFCBANK", 1600, 25), regime.Unknown, 0, time.Now())
		require.Nil(t, c.OnTick(tick("HDFCBANK", 1660)))

		tk := tick("HDFCBANK", 1615) // stop cross plus opposite ignition
		tk.Ignition = &market.IgnitionReading{Direction: market.Short, Strength: 90}
		out := c.OnTick(tk)
		require.NotNil(t, out)
		assert.Equal(t, CategoryStructural, out.Category)
		assert.Equal(t, SubOppositeIgnition, out.Subtype)
	})
}

func TestHistoryAndStats(t *testing.T) {
	c, _ := newTestCommander(t, regime.Unknown)
	now := time.Now()

	for sym, exit := range map[string]float64{"A": 102, "B": 99, "C": 104} {
		c.Register(longEntry(sym, 100, 2), regime.Unknown, 0, now)
		_, err := c.Close(sym, exit, now, "test")
		require.NoError(t, err)
	}

	s := c.Stats()
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 66.67, s.WinRate, 0.01)
	assert.InDelta(t, 3.0, s.AvgWinPct, 1e-9)
	assert.InDelta(t, 1.0, s.AvgLossPct, 1e-9)
	assert.InDelta(t, 6.0, s.ProfitFactor, 1e-9)
	assert.Len(t, c.History(), 3)
}

func TestHistoryRingBounded(t *testing.T) {
	cfg := testConfig(t)
	cfg.HistorySize = 2
	c := NewCommander(cfg, nil)
	now := time.Now()

	for _, sym := range []string{"A", "B", "C", "D"} {
		c.Register(longEntry(sym, 100, 2), regime.Unknown, 0, now)
		_, err := c.Close(sym, 101, now, "test")
		require.NoError(t, err)
	}

	hist := c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "C", hist[0].Symbol)
	assert.Equal(t, "D", hist[1].Symbol)
}

func candlesFromLows(lows []float64) []market.Candle {
	out := make([]market.Candle, len(lows))
	for i, l := range lows {
		out[i] = market.Candle{Open: l + 1, High: l + 2, Low: l, Close: l + 1}
	}
	return out
}
