package portfolio

import (
	"fmt"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/regime"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func longSignal(symbol, sector string) *market.Signal {
	return &market.Signal{
		Symbol: symbol, Sector: sector, Direction: market.Long,
		Price: 100, Strength: 70,
	}
}

func TestRiskAmount(t *testing.T) {
	c := NewCommander(testConfig(t))
	assert.Equal(t, 10000.0, c.RiskAmount()) // 1% of 1M
}

func TestRegisterAndClose_Exposure(t *testing.T) {
	c := NewCommander(testConfig(t))
	now := time.Now()

	c.Register(longSignal("RELIANCE", "ENERGY"), now)
	c.Register(longSignal("TCS", "IT"), now)
	assert.Equal(t, 2, c.PositionCount())
	assert.Equal(t, 20000.0, c.Exposure())
	assert.True(t, c.Has("TCS"))
	assert.Equal(t, 1, c.SectorCount("IT"))

	c.RecordClose("TCS", 500, now)
	assert.Equal(t, 1, c.PositionCount())
	assert.Equal(t, 10000.0, c.Exposure())
	assert.False(t, c.Has("TCS"))
	assert.Equal(t, 500.0, c.DailyPnL())
}

func TestLossStreakLock(t *testing.T) {
	cfg := testConfig(t)
	cfg.LossStreakLock = 3
	cfg.LockDurationMinutes = 45
	c := NewCommander(cfg)
	now := time.Now()

	for i := 0; i < 2; i++ {
		c.RecordClose(fmt.Sprintf("SYM%d", i), -100, now)
		locked, _ := c.IsLocked(now)
		assert.False(t, locked, "after %d losses", i+1)
	}

	c.RecordClose("SYM2", -100, now)
	locked, reason := c.IsLocked(now)
	assert.True(t, locked)
	assert.Equal(t, "3 consecutive losses", reason)
	assert.Equal(t, 3, c.ConsecutiveLosses())

	// Still locked one minute before expiry, clear one minute after.
	locked, _ = c.IsLocked(now.Add(44 * time.Minute))
	assert.True(t, locked)
	locked, reason = c.IsLocked(now.Add(46 * time.Minute))
	assert.False(t, locked)
	assert.Empty(t, reason)
}

func TestWinResetsLossStreak(t *testing.T) {
	c := NewCommander(testConfig(t))
	now := time.Now()

	c.RecordClose("A", -100, now)
	c.RecordClose("B", -100, now)
	c.RecordClose("C", 250, now)
	assert.Zero(t, c.ConsecutiveLosses())

	// Breakeven counts as a win for streak purposes.
	c.RecordClose("D", -100, now)
	c.RecordClose("E", 0, now)
	assert.Zero(t, c.ConsecutiveLosses())
}

func TestCorrelation_Lookup(t *testing.T) {
	c := NewCommander(testConfig(t))

	assert.Equal(t, 0.90, c.Correlation("BANKING", "FINANCE"))
	assert.Equal(t, 0.90, c.Correlation("FINANCE", "BANKING")) // symmetric
	assert.Equal(t, 0.70, c.Correlation("METALS", "ENERGY"))   // reverse row only
	assert.Equal(t, 1.0, c.Correlation("IT", "IT"))
	assert.Equal(t, 0.30, c.Correlation("IT", "SHIPPING")) // unknown pair
}

func TestMaxCorrelation(t *testing.T) {
	c := NewCommander(testConfig(t))
	now := time.Now()
	c.Register(longSignal("HDFCBANK", "BANKING"), now)
	c.Register(longSignal("INFY", "IT"), now)

	assert.Equal(t, 0.90, c.MaxCorrelation("FINANCE"))
	assert.Equal(t, 1.0, c.MaxCorrelation("IT"))
	assert.Equal(t, 0.30, c.MaxCorrelation("PHARMA")) // IT row beats the BANKING row
}

func TestExposureCap_RegimeKeyed(t *testing.T) {
	c := NewCommander(testConfig(t))

	assert.Equal(t, 80000.0, c.ExposureCap(regime.TrendDay))
	assert.Equal(t, 15000.0, c.ExposureCap(regime.PanicDay))
	assert.Equal(t, 30000.0, c.ExposureCap(regime.Unknown))
	assert.Equal(t, 30000.0, c.ExposureCap(regime.Regime(99))) // falls back to UNKNOWN
}

func TestDailyLossLimit(t *testing.T) {
	c := NewCommander(testConfig(t))
	assert.Equal(t, -30000.0, c.DailyLossLimit())
}

func TestUnderlyingCount(t *testing.T) {
	c := NewCommander(testConfig(t))
	now := time.Now()
	sig := longSignal("NIFTY24SEP24000CE", "INDEX")
	sig.Underlying = "NIFTY"
	c.Register(sig, now)

	assert.Equal(t, 1, c.UnderlyingCount("NIFTY"))
	assert.Zero(t, c.UnderlyingCount("BANKNIFTY"))
	assert.Zero(t, c.UnderlyingCount("")) // cash positions never count
}

func TestDailyReset(t *testing.T) {
	c := NewCommander(testConfig(t))
	now := time.Now()

	c.Register(longSignal("RELIANCE", "ENERGY"), now)
	for i := 0; i < 3; i++ {
		c.RecordClose(fmt.Sprintf("SYM%d", i), -100, now)
	}
	locked, _ := c.IsLocked(now)
	require.True(t, locked)

	c.DailyReset()

	locked, _ = c.IsLocked(now)
	assert.False(t, locked)
	assert.Zero(t, c.PositionCount())
	assert.Zero(t, c.Exposure())
	assert.Zero(t, c.DailyPnL())
	assert.Zero(t, c.ConsecutiveLosses())

	// Limits and the correlation table survive the reset.
	assert.Equal(t, 0.90, c.Correlation("BANKING", "FINANCE"))
	assert.Equal(t, 80000.0, c.ExposureCap(regime.TrendDay))
}

func TestSnapshot(t *testing.T) {
	c := NewCommander(testConfig(t))
	now := time.Now()
	c.Register(longSignal("RELIANCE", "ENERGY"), now)
	c.RecordClose("TCS", -250, now)

	snap := c.Snapshot()
	assert.Len(t, snap.Active, 1)
	assert.Len(t, snap.ClosedToday, 1)
	assert.Equal(t, -250.0, snap.DailyPnL)
	assert.Equal(t, 1, snap.ConsecutiveLosses)
	assert.False(t, snap.Locked)
}
