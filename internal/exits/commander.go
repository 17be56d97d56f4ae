package exits

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/regime"
)

// ErrNotActive is returned when a close targets a position that is already
// gone. A tick racing a manual close treats this as a benign no-op.
var ErrNotActive = errors.New("position not active")

// RegimeSource is the classifier view the commander consults on each tick.
type RegimeSource interface {
	Current() regime.Regime
	Volatility() float64
}

// Config holds all exit thresholds.
type Config struct {
	SwingLookback       int     `yaml:"swing_lookback" default:"30" validate:"min=5"`
	SwingBreakBufferPct float64 `yaml:"swing_break_buffer_pct" default:"0.10"`

	VWAPMinProfitPct float64 `yaml:"vwap_min_profit_pct" default:"0.5"`
	VWAPBufferPct    float64 `yaml:"vwap_buffer_pct" default:"0.10"`

	OppositeIgnitionMin float64 `yaml:"opposite_ignition_min" default:"70"`

	ATRMultiplier       float64 `yaml:"atr_multiplier" default:"1.5" validate:"gt=0"`
	MinProfitToTrailPct float64 `yaml:"min_profit_to_trail_pct" default:"1.5"`

	VolCollapseRatio   float64 `yaml:"vol_collapse_ratio" default:"0.5"`
	BreadthCollapseMin float64 `yaml:"breadth_collapse_min" default:"30"`

	ThetaAccelRatio float64 `yaml:"theta_accel_ratio" default:"2.0"`
	IVCrushPct      float64 `yaml:"iv_crush_pct" default:"20"`
	OIDropPct       float64 `yaml:"oi_drop_pct" default:"20"`

	HistorySize int `yaml:"history_size" default:"200" validate:"min=1"`

	// AdverseShifts maps an entry regime to the regimes that invalidate it.
	AdverseShifts map[string][]string `yaml:"adverse_shifts"`
}

// DefaultAdverseShifts returns the built-in entry-regime vulnerability map.
func DefaultAdverseShifts() map[string][]string {
	return map[string][]string{
		regime.TrendDay.String():  {regime.RangeDay.String(), regime.Compression.String()},
		regime.Expansion.String(): {regime.Compression.String()},
		regime.RangeDay.String():  {regime.TrendDay.String(), regime.Expansion.String()},
	}
}

// Commander owns every registered position and re-evaluates the four exit
// categories on each tick. Categories are independent; when several fire at
// once the highest-priority condition becomes the emitted signal and the
// rest ride along for audit.
type Commander struct {
	cfg     Config
	regimes RegimeSource

	mu        sync.RWMutex
	positions map[string]*Position
	history   []ClosedPosition
}

// NewCommander creates an exit commander with an empty book.
func NewCommander(cfg Config, regimes RegimeSource) *Commander {
	if cfg.AdverseShifts == nil {
		cfg.AdverseShifts = DefaultAdverseShifts()
	}
	return &Commander{
		cfg:       cfg,
		regimes:   regimes,
		positions: make(map[string]*Position),
	}
}

// Register opens a position from an admitted signal, snapshotting the entry
// regime, volatility, ATR and Greeks.
func (c *Commander) Register(sig *market.Signal, entryRegime regime.Regime, entryVol float64, now time.Time) *Position {
	p := &Position{
		ID:              uuid.NewString(),
		Token:           sig.Token,
		Symbol:          sig.Symbol,
		Sector:          sig.Sector,
		Underlying:      sig.Underlying,
		Direction:       sig.Direction,
		IsOption:        sig.IsOption,
		EntryPrice:      sig.Price,
		EntryTime:       now,
		Status:          StatusActive,
		HighWater:       sig.Price,
		LowWater:        sig.Price,
		LastPrice:       sig.Price,
		EntryRegime:     entryRegime,
		EntryRegimeName: entryRegime.String(),
		EntryVolatility: entryVol,
		EntryATR:        sig.ATR,
		Trailing:        TrailingStopState{EntryATR: sig.ATR},
	}
	if sig.Greeks != nil {
		p.EntryGreeks = *sig.Greeks
	}

	c.mu.Lock()
	c.positions[p.Symbol] = p
	c.mu.Unlock()

	log.Info().
		Str("component", "exits").
		Str("symbol", p.Symbol).
		Str("direction", string(p.Direction)).
		Float64("entry", p.EntryPrice).
		Str("regime", p.EntryRegimeName).
		Msg("position registered")
	return p
}

// OnTick updates bookkeeping for the instrument's position and evaluates
// all exit categories. A firing exit closes the position and returns the
// signal; ticks for unknown or already-closed symbols return nil.
func (c *Commander) OnTick(tick market.Tick) *Signal {
	c.mu.RLock()
	p := c.positions[tick.Symbol]
	c.mu.RUnlock()
	if p == nil || tick.LTP <= 0 {
		return nil
	}

	p.mu.Lock()
	if p.Status != StatusActive {
		p.mu.Unlock()
		return nil
	}

	p.updateMarks(tick.LTP)
	c.updateTrailing(p, tick)

	var conds []Condition
	conds = append(conds, c.structuralConditions(p, tick)...)
	conds = append(conds, c.trailingConditions(p, tick)...)
	conds = append(conds, c.optionConditions(p, tick)...)
	conds = append(conds, c.regimeConditions(p, tick)...)
	if len(conds) == 0 {
		p.mu.Unlock()
		return nil
	}

	winner := conds[0]
	for _, cond := range conds[1:] {
		if cond.Priority > winner.Priority {
			winner = cond
		}
	}

	sig := &Signal{
		ID:         uuid.NewString(),
		PositionID: p.ID,
		Token:      p.Token,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Category:   winner.Category,
		Subtype:    winner.Subtype,
		Reason:     winner.Reason,
		Priority:   winner.Priority,
		Price:      tick.LTP,
		PnLPct:     p.PnLPct,
		MaxPnLPct:  p.MaxPnLPct,
		Conditions: conds,
		Timestamp:  tick.Timestamp,
	}
	p.Status = StatusClosed
	closed := c.closedRecord(p, tick.LTP, tick.Timestamp, winner.Category, winner.Subtype, winner.Reason)
	p.mu.Unlock()

	c.retire(closed)

	log.Info().
		Str("component", "exits").
		Str("symbol", sig.Symbol).
		Str("category", string(sig.Category)).
		Str("subtype", string(sig.Subtype)).
		Float64("pnl_pct", sig.PnLPct).
		Int("conditions", len(sig.Conditions)).
		Msg("exit signal")
	return sig
}

// Close closes a position manually (execution-layer initiated). Racing an
// in-flight evaluation is safe: whoever flips Status first wins.
func (c *Commander) Close(symbol string, price float64, now time.Time, reason string) (ClosedPosition, error) {
	c.mu.RLock()
	p := c.positions[symbol]
	c.mu.RUnlock()
	if p == nil {
		return ClosedPosition{}, ErrNotActive
	}

	p.mu.Lock()
	if p.Status != StatusActive {
		p.mu.Unlock()
		return ClosedPosition{}, ErrNotActive
	}
	if price > 0 {
		p.updateMarks(price)
	} else {
		price = p.LastPrice
	}
	p.Status = StatusClosed
	closed := c.closedRecord(p, price, now, "", "", reason)
	p.mu.Unlock()

	c.retire(closed)
	return closed, nil
}

// closedRecord snapshots a terminal position. Caller holds p.mu.
func (c *Commander) closedRecord(p *Position, price float64, now time.Time, cat Category, sub Subtype, reason string) ClosedPosition {
	return ClosedPosition{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		PnLPct:     p.pnlPct(price),
		MaxPnLPct:  p.MaxPnLPct,
		Category:   cat,
		Subtype:    sub,
		Reason:     reason,
		EntryTime:  p.EntryTime,
		ExitTime:   now,
	}
}

// retire moves a closed position out of the active map into the bounded
// history ring, releasing all per-position trailing and swing state.
func (c *Commander) retire(closed ClosedPosition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, closed.Symbol)
	c.history = append(c.history, closed)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
}

// Get returns the active position for a symbol, or nil.
func (c *Commander) Get(symbol string) *Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions[symbol]
}

// Active returns copies of all open positions.
func (c *Commander) Active() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		p.mu.Lock()
		cp := Position{
			ID: p.ID, Token: p.Token, Symbol: p.Symbol, Sector: p.Sector,
			Underlying: p.Underlying, Direction: p.Direction, IsOption: p.IsOption,
			EntryPrice: p.EntryPrice, EntryTime: p.EntryTime, Status: p.Status,
			HighWater: p.HighWater, LowWater: p.LowWater, LastPrice: p.LastPrice,
			PnLPct: p.PnLPct, MaxPnLPct: p.MaxPnLPct,
			EntryRegime: p.EntryRegime, EntryRegimeName: p.EntryRegimeName,
			EntryVolatility: p.EntryVolatility, EntryATR: p.EntryATR,
			EntryGreeks: p.EntryGreeks, Trailing: p.Trailing,
		}
		p.mu.Unlock()
		out = append(out, cp)
	}
	return out
}

// History returns the closed-position ring, oldest first.
func (c *Commander) History() []ClosedPosition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ClosedPosition, len(c.history))
	copy(out, c.history)
	return out
}

// Stats computes win-rate and profit-factor over the history ring.
func (c *Commander) Stats() Stats {
	hist := c.History()
	var s Stats
	var winSum, lossSum float64
	for _, t := range hist {
		s.Trades++
		if t.PnLPct >= 0 {
			s.Wins++
			winSum += t.PnLPct
		} else {
			s.Losses++
			lossSum += -t.PnLPct
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100.0
	}
	if s.Wins > 0 {
		s.AvgWinPct = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossPct = lossSum / float64(s.Losses)
	}
	if lossSum > 0 {
		s.ProfitFactor = winSum / lossSum
	}
	return s
}
