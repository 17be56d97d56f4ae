package confidence

import (
	"math"
	"sync"

	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/regime"
)

// Weights assigns each scored factor its share of the 0-100 composite.
// They must sum to 100; Load validates that.
type Weights struct {
	MTFAlignment    float64 `yaml:"mtf_alignment" default:"12"`
	Breadth         float64 `yaml:"breadth" default:"8"`
	RelStrength     float64 `yaml:"rel_strength" default:"10"`
	GammaCluster    float64 `yaml:"gamma_cluster" default:"7"`
	ThetaMoneyness  float64 `yaml:"theta_moneyness" default:"6"`
	OIVelocity      float64 `yaml:"oi_velocity" default:"6"`
	RegimeFit       float64 `yaml:"regime_fit" default:"8"`
	Liquidity       float64 `yaml:"liquidity" default:"6"`
	CorrDivergence  float64 `yaml:"corr_divergence" default:"6"`
	TimeOfDay       float64 `yaml:"time_of_day" default:"5"`
	ExecutionSafety float64 `yaml:"execution_safety" default:"8"`
	RegimeAlignment float64 `yaml:"regime_alignment" default:"5"`
	PortfolioCorr   float64 `yaml:"portfolio_corr" default:"5"`
	CrowdTrap       float64 `yaml:"crowd_trap" default:"5"`
	ExitClarity     float64 `yaml:"exit_clarity" default:"3"`
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	return w.MTFAlignment + w.Breadth + w.RelStrength + w.GammaCluster +
		w.ThetaMoneyness + w.OIVelocity + w.RegimeFit + w.Liquidity +
		w.CorrDivergence + w.TimeOfDay + w.ExecutionSafety + w.RegimeAlignment +
		w.PortfolioCorr + w.CrowdTrap + w.ExitClarity
}

// Config holds scoring weights and the per-class minimum floors.
type Config struct {
	Weights Weights `yaml:"weights"`

	// Minimum composite score by strength class. Strong setups carry larger
	// size downstream, so they face the higher floor.
	MinScoreRegular float64 `yaml:"min_score_regular" default:"60" validate:"min=0,max=100"`
	MinScoreStrong  float64 `yaml:"min_score_strong" default:"70" validate:"min=0,max=100"`

	HistorySize int `yaml:"history_size" default:"100" validate:"min=1"`
}

// Context carries the non-signal inputs a score depends on.
type Context struct {
	Regime           regime.Regime
	RegimeConfidence float64 // winning category score from the classifier
	RegimeThresholds regime.Thresholds
	BreadthPct       float64 // 0-100
	PortfolioCorr    float64 // max pairwise correlation vs open positions, 0-1
}

// FactorScore is one row of the per-signal breakdown.
type FactorScore struct {
	Name   string  `json:"name"`
	Raw    float64 `json:"raw"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// Result is the composite confidence verdict for one signal. The engine only
// scores; the guard pipeline applies the threshold.
type Result struct {
	Symbol    string        `json:"symbol"`
	Score     float64       `json:"score"`
	Grade     string        `json:"grade"`
	Threshold float64       `json:"threshold"`
	MeetsMin  bool          `json:"meets_min"`
	Breakdown []FactorScore `json:"breakdown"`
}

// Engine aggregates weighted factors into a 0-100 confidence score.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	history []Result
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Grade maps a composite score onto the fixed letter bands.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A+"
	case score >= 80:
		return "A"
	case score >= 70:
		return "B"
	case score >= 60:
		return "C"
	case score >= 50:
		return "D"
	default:
		return "F"
	}
}

// Threshold returns the minimum required score for a class in a regime: the
// class floor raised to the regime's own confidence floor when stricter.
func (e *Engine) Threshold(class market.StrengthClass, th regime.Thresholds) float64 {
	floor := e.cfg.MinScoreRegular
	if class == market.ClassStrong {
		floor = e.cfg.MinScoreStrong
	}
	return math.Max(floor, th.MinConfidence)
}

// Score computes the full weighted breakdown for a signal. Factors the feed
// could not produce contribute zero, never an error.
func (e *Engine) Score(sig *market.Signal, ctx Context) Result {
	w := e.cfg.Weights
	f := sig.Factors

	rows := []FactorScore{
		{Name: "mtf_alignment", Raw: f.MTFAlignment, Weight: w.MTFAlignment, Score: scale(f.MTFAlignment, w.MTFAlignment)},
		{Name: "breadth", Raw: ctx.BreadthPct, Weight: w.Breadth, Score: breadthScore(sig.Direction, ctx.BreadthPct, w.Breadth)},
		{Name: "rel_strength", Raw: f.RelativeStrength, Weight: w.RelStrength, Score: scale(f.RelativeStrength, w.RelStrength)},
		{Name: "regime_fit", Raw: sig.Strength, Weight: w.RegimeFit, Score: regimeFitScore(sig.Strength, ctx.RegimeThresholds.MinSignalStrength, w.RegimeFit)},
		{Name: "liquidity", Raw: float64(f.LiquidityTier), Weight: w.Liquidity, Score: liquidityScore(f.LiquidityTier, w.Liquidity)},
		{Name: "corr_divergence", Raw: f.Correlation, Weight: w.CorrDivergence, Score: corrDivergenceScore(f.Correlation, f.Divergence, w.CorrDivergence)},
		{Name: "time_of_day", Raw: 0, Weight: w.TimeOfDay, Score: timeOfDayScore(f.TimeOfDayMode, w.TimeOfDay)},
		{Name: "execution_safety", Raw: f.ExecutionSafety, Weight: w.ExecutionSafety, Score: scale(f.ExecutionSafety, w.ExecutionSafety)},
		{Name: "regime_alignment", Raw: ctx.RegimeConfidence, Weight: w.RegimeAlignment, Score: regimeAlignmentScore(ctx.Regime, ctx.RegimeConfidence, w.RegimeAlignment)},
		{Name: "portfolio_corr", Raw: ctx.PortfolioCorr, Weight: w.PortfolioCorr, Score: inversePenalty(clamp01(ctx.PortfolioCorr), w.PortfolioCorr)},
		{Name: "crowd_trap", Raw: f.CrowdTrap, Weight: w.CrowdTrap, Score: inversePenalty(f.CrowdTrap/100.0, w.CrowdTrap)},
		{Name: "exit_clarity", Raw: f.ExitClarity, Weight: w.ExitClarity, Score: scale(f.ExitClarity, w.ExitClarity)},
	}

	// Option-only factors stay at zero for cash instruments.
	gc, tm, oi := 0.0, 0.0, 0.0
	if sig.IsOption {
		gc = scale(f.GammaCluster, w.GammaCluster)
		tm = scale(f.ThetaRisk, w.ThetaMoneyness)
		oi = scale(f.OIVelocity, w.OIVelocity)
	}
	rows = append(rows,
		FactorScore{Name: "gamma_cluster", Raw: f.GammaCluster, Weight: w.GammaCluster, Score: gc},
		FactorScore{Name: "theta_moneyness", Raw: f.ThetaRisk, Weight: w.ThetaMoneyness, Score: tm},
		FactorScore{Name: "oi_velocity", Raw: f.OIVelocity, Weight: w.OIVelocity, Score: oi},
	)

	total := 0.0
	for _, r := range rows {
		total += r.Score
	}
	total = math.Min(total, 100)

	threshold := e.Threshold(sig.Class, ctx.RegimeThresholds)
	res := Result{
		Symbol:    sig.Symbol,
		Score:     total,
		Grade:     Grade(total),
		Threshold: threshold,
		MeetsMin:  total >= threshold,
		Breakdown: rows,
	}

	e.mu.Lock()
	e.history = append(e.history, res)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[len(e.history)-e.cfg.HistorySize:]
	}
	e.mu.Unlock()

	return res
}

// History returns the recent scoring results, newest last.
func (e *Engine) History() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.history))
	copy(out, e.history)
	return out
}

// scale maps a 0-100 raw reading linearly into [0, weight].
func scale(raw, weight float64) float64 {
	return clamp01(raw/100.0) * weight
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// inversePenalty rewards the absence of a 0-1 risk reading.
func inversePenalty(risk, weight float64) float64 {
	return (1 - clamp01(risk)) * weight
}

// breadthScore favors advancing breadth for longs and declining for shorts.
func breadthScore(dir market.Direction, breadthPct, weight float64) float64 {
	if breadthPct <= 0 {
		return 0
	}
	if dir == market.Short {
		breadthPct = 100 - breadthPct
	}
	return scale(breadthPct, weight)
}

// regimeFitScore pays out only above the regime's strength floor, scaling to
// full weight as strength approaches 100.
func regimeFitScore(strength, floor, weight float64) float64 {
	if strength < floor {
		return 0
	}
	if floor >= 100 {
		return weight
	}
	return clamp01((strength-floor)/(100-floor)) * weight
}

// liquidityScore pays a fixed fraction per tier; tier 0 means unknown.
func liquidityScore(tier int, weight float64) float64 {
	switch tier {
	case 1:
		return weight
	case 2:
		return weight * 0.75
	case 3:
		return weight * 0.40
	case 4:
		return weight * 0.15
	default:
		return 0
	}
}

// corrDivergenceScore splits the weight between low portfolio correlation
// and confirmed price/indicator divergence.
func corrDivergenceScore(corr, divergence, weight float64) float64 {
	low := (1 - clamp01(math.Abs(corr))) * weight / 2
	return low + scale(divergence, weight/2)
}

func timeOfDayScore(mode string, weight float64) float64 {
	switch mode {
	case "open_drive":
		return weight
	case "close_rotation":
		return weight * 0.7
	case "midday":
		return weight * 0.4
	default:
		return 0
	}
}

// regimeAlignmentScore pays out with classifier conviction, nothing during
// UNKNOWN or PANIC_DAY sessions.
func regimeAlignmentScore(r regime.Regime, conviction, weight float64) float64 {
	if r == regime.Unknown || r == regime.PanicDay {
		return 0
	}
	return clamp01(conviction/6.0) * weight
}
