package market

import (
	"time"
)

// Direction is the trade side of a signal or position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Candle is a single OHLCV bar.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// GreeksSnapshot carries the option Greeks delivered with a tick or at entry.
// Zero values mean the feed did not supply that field.
type GreeksSnapshot struct {
	Theta float64 `json:"theta"`
	IV    float64 `json:"iv"`
	OI    float64 `json:"oi"`
}

// IgnitionReading reports the external momentum-ignition detector's view at
// tick time.
type IgnitionReading struct {
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"` // 0-100
}

// Tick is a per-instrument market-data update pushed by the feed.
type Tick struct {
	Token      int64            `json:"token"`
	Symbol     string           `json:"symbol"`
	LTP        float64          `json:"ltp"`
	VWAP       float64          `json:"vwap"`
	BreadthPct float64          `json:"breadth_pct"` // % of universe advancing, 0-100
	Volatility float64          `json:"volatility"`  // current 0-100 volatility score
	Candles5m  []Candle         `json:"candles_5m,omitempty"`
	Candles15m []Candle         `json:"candles_15m,omitempty"`
	Greeks     *GreeksSnapshot  `json:"greeks,omitempty"`
	Ignition   *IgnitionReading `json:"ignition,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// BenchmarkUpdate feeds the regime classifier with benchmark-index data.
type BenchmarkUpdate struct {
	Candles5m  []Candle  `json:"candles_5m"`
	Candles15m []Candle  `json:"candles_15m"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Last       float64   `json:"last"`
	VWAP       float64   `json:"vwap"`
	BreadthPct float64   `json:"breadth_pct"`
	Timestamp  time.Time `json:"timestamp"`
}

// FactorBundle holds the pre-fetched heuristic factor values attached to a
// candidate signal. Factors the upstream calculators could not produce are
// left at their zero value; consumers treat non-positive readings as missing
// where zero is not a meaningful level.
type FactorBundle struct {
	MTFAlignment     float64 `json:"mtf_alignment"`     // 0-100, multi-timeframe agreement
	RelativeStrength float64 `json:"relative_strength"` // vs benchmark, 0-100
	GammaCluster     float64 `json:"gamma_cluster"`     // strike-cluster strength 0-100
	ThetaRisk        float64 `json:"theta_risk"`        // 0-100, higher = safer decay profile
	OIVelocity       float64 `json:"oi_velocity"`       // 0-100
	LiquidityTier    int     `json:"liquidity_tier"`    // 1 (best) .. 4, 0 = unknown
	Correlation      float64 `json:"correlation"`       // -1..1 vs portfolio
	Divergence       float64 `json:"divergence"`        // 0-100 price/indicator divergence
	TimeOfDayMode    string  `json:"time_of_day_mode"`  // "open_drive", "midday", "close_rotation"
	ExecutionSafety  float64 `json:"execution_safety"`  // 0-100 spread/depth quality
	CrowdTrap        float64 `json:"crowd_trap"`        // 0-100 probability of a crowded trade
	ExitClarity      float64 `json:"exit_clarity"`      // 0-100, presence of clean invalidation level
}

// StrengthClass buckets raw signal strength for threshold selection.
type StrengthClass string

const (
	ClassRegular StrengthClass = "regular"
	ClassStrong  StrengthClass = "strong"
)

// Signal is a candidate trade produced by the upstream signal generator.
// Read-only to the gating pipeline.
type Signal struct {
	ID         string          `json:"id"`
	Token      int64           `json:"token"`
	Symbol     string          `json:"symbol"`
	Sector     string          `json:"sector"`
	Underlying string          `json:"underlying,omitempty"` // options only
	Direction  Direction       `json:"direction"`
	Price      float64         `json:"price"`
	Strength   float64         `json:"strength"` // raw 0-100
	Class      StrengthClass   `json:"class"`
	IsOption   bool            `json:"is_option"`
	Greeks     *GreeksSnapshot `json:"greeks,omitempty"`
	Factors    FactorBundle    `json:"factors"`
	ATR        float64         `json:"atr"`
	RewardRisk float64         `json:"reward_risk"`
	VolumeMult float64         `json:"volume_mult"` // current volume vs average
	CreatedAt  time.Time       `json:"created_at"`
}

// Valid performs boundary validation of the fields the pipeline depends on.
func (s *Signal) Valid() bool {
	if s.Symbol == "" || s.Price <= 0 {
		return false
	}
	if s.Direction != Long && s.Direction != Short {
		return false
	}
	if s.Strength < 0 || s.Strength > 100 {
		return false
	}
	return true
}
