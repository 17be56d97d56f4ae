package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/regime"
)

// Config holds portfolio-level risk limits.
type Config struct {
	Capital         float64 `yaml:"capital" default:"1000000" validate:"gt=0"`
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct" default:"1.0" validate:"gt=0"`

	MaxPositions     int `yaml:"max_positions" default:"5" validate:"min=1"`
	MaxPerSector     int `yaml:"max_per_sector" default:"2" validate:"min=1"`
	MaxPerUnderlying int `yaml:"max_per_underlying" default:"2" validate:"min=1"`

	// Pairwise sector correlation: a soft breach downgrades, a hard breach
	// blocks. Unknown pairs read as CorrelationDefault.
	CorrelationSoftCap   float64 `yaml:"correlation_soft_cap" default:"0.65"`
	CorrelationHardCap   float64 `yaml:"correlation_hard_cap" default:"0.85"`
	CorrelationDefault   float64 `yaml:"correlation_default" default:"0.30"`
	CorrelationDowngrade float64 `yaml:"correlation_downgrade" default:"0.85"`

	LossStreakLock      int `yaml:"loss_streak_lock" default:"3" validate:"min=1"`
	LockDurationMinutes int `yaml:"lock_duration_minutes" default:"45" validate:"min=1"`

	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct" default:"3.0" validate:"gt=0"`

	// Capital-at-risk cap as percent of capital, keyed by Regime.String().
	ExposureCapPct map[string]float64 `yaml:"exposure_cap_pct"`

	// Static sector correlation table, symmetric by construction.
	Correlations map[string]map[string]float64 `yaml:"correlations"`
}

// DefaultExposureCaps returns the per-regime capital-at-risk caps (percent of
// capital) used when the config file does not override them.
func DefaultExposureCaps() map[string]float64 {
	return map[string]float64{
		regime.Compression.String(): 3.0,
		regime.Expansion.String():   6.0,
		regime.TrendDay.String():    8.0,
		regime.RangeDay.String():    4.0,
		regime.PanicDay.String():    1.5,
		regime.Unknown.String():     3.0,
	}
}

// DefaultCorrelations returns the built-in sector correlation table.
func DefaultCorrelations() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"BANKING": {"BANKING": 1.0, "FINANCE": 0.90, "AUTO": 0.55, "IT": 0.35, "PHARMA": 0.25, "ENERGY": 0.45, "METALS": 0.50, "FMCG": 0.30},
		"FINANCE": {"FINANCE": 1.0, "BANKING": 0.90, "AUTO": 0.50, "IT": 0.35, "PHARMA": 0.25, "ENERGY": 0.40, "METALS": 0.45, "FMCG": 0.30},
		"AUTO":    {"AUTO": 1.0, "METALS": 0.60, "ENERGY": 0.50, "IT": 0.30, "PHARMA": 0.20, "FMCG": 0.35},
		"IT":      {"IT": 1.0, "PHARMA": 0.30, "ENERGY": 0.25, "FMCG": 0.25, "METALS": 0.30},
		"PHARMA":  {"PHARMA": 1.0, "FMCG": 0.40},
		"ENERGY":  {"ENERGY": 1.0, "METALS": 0.70},
		"METALS":  {"METALS": 1.0},
		"FMCG":    {"FMCG": 1.0},
	}
}

// Record is the commander's simplified view of an open position;
// the exit commander owns the full lifecycle record.
type Record struct {
	Symbol     string           `json:"symbol"`
	Sector     string           `json:"sector"`
	Underlying string           `json:"underlying,omitempty"`
	Direction  market.Direction `json:"direction"`
	RiskAmount float64          `json:"risk_amount"`
	OpenedAt   time.Time        `json:"opened_at"`
}

// ClosedTrade is one finished trade in today's ledger.
type ClosedTrade struct {
	Symbol   string    `json:"symbol"`
	PnL      float64   `json:"pnl"`
	ClosedAt time.Time `json:"closed_at"`
}

// Snapshot is the observable portfolio state.
type Snapshot struct {
	Active            []Record      `json:"active"`
	ClosedToday       []ClosedTrade `json:"closed_today"`
	ConsecutiveWins   int           `json:"consecutive_wins"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	Locked            bool          `json:"locked"`
	LockUntil         time.Time     `json:"lock_until,omitempty"`
	LockReason        string        `json:"lock_reason,omitempty"`
	DailyPnL          float64       `json:"daily_pnl"`
	Exposure          float64       `json:"exposure"`
}

// Commander owns portfolio-level bookkeeping: active records, exposure,
// streaks, and the loss-streak lock. One mutex serializes admission checks
// against close events.
type Commander struct {
	cfg Config

	mu          sync.Mutex
	active      map[string]Record
	closedToday []ClosedTrade
	wins        int
	losses      int
	locked      bool
	lockUntil   time.Time
	lockReason  string
	dailyPnL    float64
	exposure    float64
}

// NewCommander creates a commander with an empty book.
func NewCommander(cfg Config) *Commander {
	if cfg.ExposureCapPct == nil {
		cfg.ExposureCapPct = DefaultExposureCaps()
	}
	if cfg.Correlations == nil {
		cfg.Correlations = DefaultCorrelations()
	}
	return &Commander{
		cfg:    cfg,
		active: make(map[string]Record),
	}
}

// RiskAmount computes the capital at risk for one new position.
func (c *Commander) RiskAmount() float64 {
	return c.cfg.Capital * c.cfg.RiskPerTradePct / 100.0
}

// Register adds an admitted signal to the book and bumps exposure.
func (c *Commander) Register(sig *market.Signal, now time.Time) Record {
	rec := Record{
		Symbol:     sig.Symbol,
		Sector:     sig.Sector,
		Underlying: sig.Underlying,
		Direction:  sig.Direction,
		RiskAmount: c.RiskAmount(),
		OpenedAt:   now,
	}
	c.mu.Lock()
	c.active[rec.Symbol] = rec
	c.exposure += rec.RiskAmount
	c.mu.Unlock()
	return rec
}

// RecordClose settles a position: releases exposure, updates the daily P&L
// and the win/loss streak, and arms the lock when the streak limit is hit.
func (c *Commander) RecordClose(symbol string, pnl float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.active[symbol]; ok {
		c.exposure -= rec.RiskAmount
		if c.exposure < 0 {
			c.exposure = 0
		}
		delete(c.active, symbol)
	}
	c.closedToday = append(c.closedToday, ClosedTrade{Symbol: symbol, PnL: pnl, ClosedAt: now})
	c.dailyPnL += pnl

	if pnl < 0 {
		c.losses++
		c.wins = 0
		if c.losses >= c.cfg.LossStreakLock && !c.locked {
			c.locked = true
			c.lockUntil = now.Add(time.Duration(c.cfg.LockDurationMinutes) * time.Minute)
			c.lockReason = fmt.Sprintf("%d consecutive losses", c.losses)
			log.Warn().
				Str("component", "portfolio").
				Int("losses", c.losses).
				Time("lock_until", c.lockUntil).
				Msg("loss streak lock engaged")
		}
	} else {
		c.wins++
		c.losses = 0
	}
}

// IsLocked reports the lock state, lazily clearing an expired lock.
func (c *Commander) IsLocked(now time.Time) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked && now.After(c.lockUntil) {
		c.locked = false
		c.lockReason = ""
		log.Info().Str("component", "portfolio").Msg("loss streak lock expired")
	}
	return c.locked, c.lockReason
}

// PositionCount returns the number of open records.
func (c *Commander) PositionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Has reports whether a symbol is already open.
func (c *Commander) Has(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[symbol]
	return ok
}

// SectorCount returns open records in a sector.
func (c *Commander) SectorCount(sector string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, rec := range c.active {
		if rec.Sector == sector {
			n++
		}
	}
	return n
}

// UnderlyingCount returns open option records on an underlying.
func (c *Commander) UnderlyingCount(underlying string) int {
	if underlying == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, rec := range c.active {
		if rec.Underlying == underlying {
			n++
		}
	}
	return n
}

// Correlation looks up the static sector pair correlation; unknown pairs
// read as the configured default.
func (c *Commander) Correlation(a, b string) float64 {
	if a == b && a != "" {
		return 1.0
	}
	if row, ok := c.cfg.Correlations[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	if row, ok := c.cfg.Correlations[b]; ok {
		if v, ok := row[a]; ok {
			return v
		}
	}
	return c.cfg.CorrelationDefault
}

// MaxCorrelation returns the highest pairwise correlation between the
// candidate's sector and any open position's sector.
func (c *Commander) MaxCorrelation(sector string) float64 {
	c.mu.Lock()
	sectors := make([]string, 0, len(c.active))
	for _, rec := range c.active {
		sectors = append(sectors, rec.Sector)
	}
	c.mu.Unlock()

	max := 0.0
	for _, s := range sectors {
		if v := c.Correlation(sector, s); v > max {
			max = v
		}
	}
	return max
}

// Exposure returns the current capital at risk.
func (c *Commander) Exposure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure
}

// ExposureCap returns the regime-specific capital-at-risk cap in currency.
func (c *Commander) ExposureCap(r regime.Regime) float64 {
	pct, ok := c.cfg.ExposureCapPct[r.String()]
	if !ok {
		pct = c.cfg.ExposureCapPct[regime.Unknown.String()]
	}
	return c.cfg.Capital * pct / 100.0
}

// DailyPnL returns today's realized P&L.
func (c *Commander) DailyPnL() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dailyPnL
}

// DailyLossLimit returns the halt level as a negative currency amount.
func (c *Commander) DailyLossLimit() float64 {
	return -c.cfg.Capital * c.cfg.DailyLossLimitPct / 100.0
}

// Config returns the commander's limit configuration.
func (c *Commander) Config() Config {
	return c.cfg
}

// ConsecutiveLosses returns the current loss streak.
func (c *Commander) ConsecutiveLosses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.losses
}

// DailyReset clears positions, streaks, lock state, exposure and today's
// ledger. The correlation table and limits survive.
func (c *Commander) DailyReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = make(map[string]Record)
	c.closedToday = nil
	c.wins, c.losses = 0, 0
	c.locked = false
	c.lockUntil = time.Time{}
	c.lockReason = ""
	c.dailyPnL = 0
	c.exposure = 0
	log.Info().Str("component", "portfolio").Msg("daily reset")
}

// Snapshot returns a copy of the observable state.
func (c *Commander) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := make([]Record, 0, len(c.active))
	for _, rec := range c.active {
		active = append(active, rec)
	}
	closed := make([]ClosedTrade, len(c.closedToday))
	copy(closed, c.closedToday)
	return Snapshot{
		Active:            active,
		ClosedToday:       closed,
		ConsecutiveWins:   c.wins,
		ConsecutiveLosses: c.losses,
		Locked:            c.locked,
		LockUntil:         c.lockUntil,
		LockReason:        c.lockReason,
		DailyPnL:          c.dailyPnL,
		Exposure:          c.exposure,
	}
}
