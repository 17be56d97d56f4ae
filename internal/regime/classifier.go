package regime

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/risklab/signalgate/internal/market"
)

// Config holds classifier rule thresholds. All values are overridable from
// the yaml config surface.
type Config struct {
	MinBars int `yaml:"min_bars" default:"10" validate:"min=5"`

	// ATR slope rules (percent change, recent 5 bars vs prior 5)
	ATRSlopeExpansion   float64 `yaml:"atr_slope_expansion" default:"15.0"`
	ATRSlopeCompression float64 `yaml:"atr_slope_compression" default:"-10.0"`

	// Opening range rules (first 3 five-minute bars, percent of price)
	OpeningRangeBars        int     `yaml:"opening_range_bars" default:"3"`
	OpeningRangeCompression float64 `yaml:"opening_range_compression" default:"0.5"`
	OpeningRangeExpansion   float64 `yaml:"opening_range_expansion" default:"1.2"`

	// VWAP distance rules (percent)
	VWAPDistTrend float64 `yaml:"vwap_dist_trend" default:"0.8"`
	VWAPDistRange float64 `yaml:"vwap_dist_range" default:"0.25"`

	// Range expansion rules (day range / opening range)
	RangeExpansionTrend float64 `yaml:"range_expansion_trend" default:"2.5"`
	RangeExpansionRange float64 `yaml:"range_expansion_range" default:"1.3"`

	// Panic rules
	PanicDayMovePct  float64 `yaml:"panic_day_move_pct" default:"2.5"`
	PanicDayRangePct float64 `yaml:"panic_day_range_pct" default:"3.0"`
	PanicATRSlope    float64 `yaml:"panic_atr_slope" default:"40.0"`

	HistorySize int `yaml:"history_size" default:"50" validate:"min=1"`

	// Admission floors per regime, keyed by Regime.String()
	Thresholds map[string]Thresholds `yaml:"thresholds"`
}

// DefaultThresholds returns the per-regime admission floors used when the
// yaml config does not override them.
func DefaultThresholds() map[string]Thresholds {
	return map[string]Thresholds{
		Compression.String(): {MinSignalStrength: 75, MinRewardRisk: 2.0, MinConfidence: 70, MinVolumeMult: 2.0},
		Expansion.String():   {MinSignalStrength: 60, MinRewardRisk: 1.5, MinConfidence: 60, MinVolumeMult: 1.3},
		TrendDay.String():    {MinSignalStrength: 55, MinRewardRisk: 1.4, MinConfidence: 55, MinVolumeMult: 1.2},
		RangeDay.String():    {MinSignalStrength: 70, MinRewardRisk: 1.8, MinConfidence: 65, MinVolumeMult: 1.6},
		PanicDay.String():    {MinSignalStrength: 85, MinRewardRisk: 2.5, MinConfidence: 80, MinVolumeMult: 2.5},
		Unknown.String():     {MinSignalStrength: 70, MinRewardRisk: 1.8, MinConfidence: 65, MinVolumeMult: 1.5},
	}
}

// Transition records one regime change for the bounded history ring.
type Transition struct {
	Timestamp  time.Time `json:"timestamp"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Confidence float64   `json:"confidence"`
}

// State is a point-in-time snapshot of the classifier for readers.
type State struct {
	Current     string       `json:"current"`
	Previous    string       `json:"previous"`
	Confidence  float64      `json:"confidence"` // winning category score
	Volatility  float64      `json:"volatility"` // 0-100
	StartedAt   time.Time    `json:"started_at"`
	Transitions []Transition `json:"transitions"`
}

// Classifier labels the session from benchmark candles and exposes
// regime-specific admission thresholds. A single mutex serializes
// reclassification against concurrent readers.
type Classifier struct {
	cfg Config

	mu         sync.RWMutex
	current    Regime
	previous   Regime
	confidence float64
	volatility float64
	startedAt  time.Time
	history    []Transition
}

// NewClassifier creates a classifier starting in the UNKNOWN regime.
func NewClassifier(cfg Config) *Classifier {
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	return &Classifier{cfg: cfg, current: Unknown, previous: Unknown}
}

// metrics are the derived classification inputs. Zero means "not computable"
// for every field, which contributes no category points.
type metrics struct {
	atrSlope5   float64
	atrSlope15  float64
	orPct       float64
	vwapDist    float64
	rangeExp    float64
	dayMovePct  float64
	dayRangePct float64
}

func (c *Classifier) computeMetrics(u market.BenchmarkUpdate) metrics {
	var m metrics
	if len(u.Candles5m) >= c.cfg.MinBars {
		m.atrSlope5 = market.ATRSlope(u.Candles5m, 5)
		m.orPct = market.OpeningRangePct(u.Candles5m, c.cfg.OpeningRangeBars)
		orHigh, orLow := market.OpeningRange(u.Candles5m, c.cfg.OpeningRangeBars)
		m.rangeExp = market.RangeExpansion(u.High, u.Low, orHigh, orLow)
	}
	if len(u.Candles15m) >= c.cfg.MinBars {
		m.atrSlope15 = market.ATRSlope(u.Candles15m, 5)
	}
	m.vwapDist = market.VWAPDistancePct(u.Last, u.VWAP)
	if u.Open > 0 {
		m.dayMovePct = math.Abs(u.Last-u.Open) / u.Open * 100.0
		m.dayRangePct = (u.High - u.Low) / u.Open * 100.0
	}
	return m
}

// score converts metrics into category points via the fixed rule set.
func (c *Classifier) score(m metrics) map[Regime]float64 {
	s := map[Regime]float64{}

	if m.atrSlope5 >= c.cfg.ATRSlopeExpansion {
		s[Expansion] += 2
		s[TrendDay] += 1
	}
	if m.atrSlope5 <= c.cfg.ATRSlopeCompression {
		s[Compression] += 2
	}
	if m.atrSlope15 >= c.cfg.ATRSlopeExpansion {
		s[TrendDay] += 1
		s[Expansion] += 1
	}
	if m.atrSlope15 <= c.cfg.ATRSlopeCompression {
		s[RangeDay] += 1
	}

	if m.orPct > 0 && m.orPct <= c.cfg.OpeningRangeCompression {
		s[Compression] += 2
	}
	if m.orPct >= c.cfg.OpeningRangeExpansion {
		s[Expansion] += 1
	}

	if m.vwapDist >= c.cfg.VWAPDistTrend {
		s[TrendDay] += 2
	} else if m.vwapDist > 0 && m.vwapDist <= c.cfg.VWAPDistRange {
		s[RangeDay] += 2
	}

	if m.rangeExp >= c.cfg.RangeExpansionTrend {
		s[TrendDay] += 1
		s[Expansion] += 1
	} else if m.rangeExp > 0 && m.rangeExp <= c.cfg.RangeExpansionRange {
		s[RangeDay] += 1
		s[Compression] += 1
	}

	if p := c.panicScore(m); p > 0 {
		s[PanicDay] = p
	}
	return s
}

// panicScore measures the fast-selloff fingerprint: big move, wide range,
// rapid ATR expansion.
func (c *Classifier) panicScore(m metrics) float64 {
	p := 0.0
	if m.dayMovePct >= c.cfg.PanicDayMovePct {
		p += 2
	}
	if m.dayRangePct >= c.cfg.PanicDayRangePct {
		p += 2
	}
	if m.atrSlope5 >= c.cfg.PanicATRSlope {
		p += 1
	}
	return p
}

// classify is the pure decision function: highest score wins, ties resolved
// by tieBreakOrder. All-zero scores yield UNKNOWN.
func classify(scores map[Regime]float64) (Regime, float64) {
	best, bestScore := Unknown, 0.0
	for _, r := range tieBreakOrder {
		if scores[r] > bestScore {
			best, bestScore = r, scores[r]
		}
	}
	return best, bestScore
}

// volatilityScore is a clamped linear combination of the raw metrics.
func volatilityScore(m metrics) float64 {
	v := m.dayRangePct*18 + math.Max(0, m.atrSlope5)*0.9 + m.vwapDist*12
	return math.Max(0, math.Min(100, v))
}

// Reclassify recomputes the regime from a benchmark update. It is called on
// a fixed interval by the engine; concurrent readers see either the old or
// the new state, never a partial one.
func (c *Classifier) Reclassify(u market.BenchmarkUpdate) State {
	m := c.computeMetrics(u)
	next, conf := classify(c.score(m))
	vol := volatilityScore(m)

	c.mu.Lock()
	defer c.mu.Unlock()

	if next != c.current {
		t := Transition{Timestamp: u.Timestamp, From: c.current.String(), To: next.String(), Confidence: conf}
		c.history = append(c.history, t)
		if len(c.history) > c.cfg.HistorySize {
			c.history = c.history[len(c.history)-c.cfg.HistorySize:]
		}
		c.previous = c.current
		c.current = next
		c.startedAt = u.Timestamp
		log.Info().
			Str("component", "regime").
			Str("from", t.From).
			Str("to", t.To).
			Float64("confidence", conf).
			Float64("volatility", vol).
			Msg("regime transition")
	}
	c.confidence = conf
	c.volatility = vol
	return c.snapshotLocked()
}

// Current returns the active regime.
func (c *Classifier) Current() Regime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Volatility returns the latest 0-100 volatility score.
func (c *Classifier) Volatility() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.volatility
}

// Thresholds returns the admission floors for the given regime, falling back
// to the UNKNOWN row for unconfigured regimes.
func (c *Classifier) Thresholds(r Regime) Thresholds {
	if t, ok := c.cfg.Thresholds[r.String()]; ok {
		return t
	}
	return c.cfg.Thresholds[Unknown.String()]
}

// Snapshot returns a copy of the full classifier state.
func (c *Classifier) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Classifier) snapshotLocked() State {
	hist := make([]Transition, len(c.history))
	copy(hist, c.history)
	return State{
		Current:     c.current.String(),
		Previous:    c.previous.String(),
		Confidence:  c.confidence,
		Volatility:  c.volatility,
		StartedAt:   c.startedAt,
		Transitions: hist,
	}
}
