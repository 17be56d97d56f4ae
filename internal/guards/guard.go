package guards

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/risklab/signalgate/internal/confidence"
	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/regime"
)

// Action is the pipeline's aggregate verdict.
type Action string

const (
	ActionEmit      Action = "EMIT"
	ActionBlock     Action = "BLOCK"
	ActionDowngrade Action = "DOWNGRADE"
)

// Reason is a machine-readable code accompanying every block or downgrade.
type Reason string

const (
	ReasonPortfolioLocked    Reason = "PORTFOLIO_LOCKED"
	ReasonLossStreakWarning  Reason = "LOSS_STREAK_WARNING"
	ReasonMaxPositions       Reason = "MAX_POSITIONS"
	ReasonDuplicatePosition  Reason = "DUPLICATE_POSITION"
	ReasonSectorCap          Reason = "SECTOR_CONCENTRATION"
	ReasonUnderlyingCap      Reason = "UNDERLYING_CONCENTRATION"
	ReasonCorrelation        Reason = "CORRELATION_CAP"
	ReasonExposureCap        Reason = "EXPOSURE_CAP"
	ReasonDailyLoss          Reason = "DAILY_LOSS_LIMIT"
	ReasonLowConfidence      Reason = "LOW_CONFIDENCE"
	ReasonRegimeMismatch     Reason = "REGIME_MISMATCH"
	ReasonExecutionUnsafe    Reason = "EXECUTION_UNSAFE"
	ReasonCrowdTrap          Reason = "CROWD_TRAP"
	ReasonInvalidSignal      Reason = "INVALID_SIGNAL"
	ReasonStateUnavailable   Reason = "STATE_UNAVAILABLE"
	ReasonInternalCheckError Reason = "INTERNAL_CHECK_ERROR"
)

// CheckResult is one guard's outcome.
type CheckResult struct {
	Name      string  `json:"name"`
	Allowed   bool    `json:"allowed"`
	Skipped   bool    `json:"skipped,omitempty"` // could not compute, treated as neutral
	Reason    Reason  `json:"reason,omitempty"`
	Detail    string  `json:"detail,omitempty"`
	Downgrade float64 `json:"downgrade,omitempty"` // <1.0 applies a partial downgrade
}

func allow(name string) CheckResult {
	return CheckResult{Name: name, Allowed: true, Downgrade: 1.0}
}

func skip(name, detail string) CheckResult {
	return CheckResult{Name: name, Allowed: true, Skipped: true, Detail: detail, Downgrade: 1.0}
}

func block(name string, reason Reason, detail string) CheckResult {
	return CheckResult{Name: name, Allowed: false, Reason: reason, Detail: detail, Downgrade: 1.0}
}

func downgrade(name string, reason Reason, detail string, factor float64) CheckResult {
	return CheckResult{Name: name, Allowed: true, Reason: reason, Detail: detail, Downgrade: factor}
}

// Context carries the pre-fetched state a guard may consult. Guards never do
// I/O; everything is resolved before evaluation starts.
type Context struct {
	Now              time.Time
	Regime           regime.Regime
	RegimeConfidence float64
	Thresholds       regime.Thresholds
	Volatility       float64
	BreadthPct       float64
	Confidence       *confidence.Result
}

// Guard is one independent admission check.
type Guard interface {
	Name() string
	// Critical guards fail closed: missing state or an internal error blocks
	// the signal instead of skipping the check.
	Critical() bool
	Evaluate(ctx context.Context, sig *market.Signal, gc *Context) CheckResult
}

// Result is the aggregated pipeline verdict with the full audit trail.
type Result struct {
	SignalID        string             `json:"signal_id"`
	Symbol          string             `json:"symbol"`
	Action          Action             `json:"action"`
	Allowed         bool               `json:"allowed"`
	BlockReason     Reason             `json:"block_reason,omitempty"`
	BlockDetail     string             `json:"block_detail,omitempty"`
	DowngradeFactor float64            `json:"downgrade_factor"`
	Checks          []CheckResult      `json:"checks"`
	Confidence      *confidence.Result `json:"confidence,omitempty"`
	EvaluatedAt     time.Time          `json:"evaluated_at"`
}

// Config tunes the pipeline's own checks and the critical-flag overrides.
type Config struct {
	MinExecutionSafety  float64 `yaml:"min_execution_safety" default:"40" validate:"min=0,max=100"`
	CrowdTrapBlock      float64 `yaml:"crowd_trap_block" default:"80" validate:"min=0,max=100"`
	CrowdTrapSoft       float64 `yaml:"crowd_trap_soft" default:"60" validate:"min=0,max=100"`
	CrowdTrapDowngrade  float64 `yaml:"crowd_trap_downgrade" default:"0.85" validate:"gt=0,lte=1"`
	VolumeDowngrade     float64 `yaml:"volume_downgrade" default:"0.9" validate:"gt=0,lte=1"`
	LossStreakDowngrade float64 `yaml:"loss_streak_downgrade" default:"0.9" validate:"gt=0,lte=1"`

	// Critical overrides the per-guard fail-closed default, keyed by guard
	// name. Absent keys keep the guard's built-in posture.
	Critical map[string]bool `yaml:"critical"`
}

// Pipeline runs the ordered guard list and aggregates one verdict.
type Pipeline struct {
	cfg    Config
	guards []Guard
	engine *confidence.Engine
}

// NewPipeline builds the fixed-priority guard chain. The order is part of
// the contract: state guards run before quality guards so the authoritative
// block reason is always the cheapest hard stop.
func NewPipeline(cfg Config, book Book, engine *confidence.Engine) *Pipeline {
	p := &Pipeline{cfg: cfg, engine: engine}
	p.guards = []Guard{
		&lockStatusGuard{book: book},
		&positionCountGuard{book: book},
		&sectorCapGuard{book: book},
		&underlyingCapGuard{book: book},
		&correlationGuard{book: book},
		&exposureCapGuard{book: book},
		&dailyLossGuard{book: book},
		&confidenceGuard{},
		&regimeCompatGuard{cfg: cfg},
		&executionSafetyGuard{cfg: cfg},
		&crowdTrapGuard{cfg: cfg},
		&lossStreakWarnGuard{book: book, cfg: cfg},
	}
	return p
}

// Guards exposes the ordered chain for diagnostics.
func (p *Pipeline) Guards() []Guard {
	return p.guards
}

func (p *Pipeline) critical(g Guard) bool {
	if v, ok := p.cfg.Critical[g.Name()]; ok {
		return v
	}
	return g.Critical()
}

// Evaluate runs every guard in priority order against one candidate signal.
// The first hard block short-circuits; otherwise downgrade factors multiply.
func (p *Pipeline) Evaluate(ctx context.Context, sig *market.Signal, gc *Context) Result {
	res := Result{
		SignalID:        sig.ID,
		Symbol:          sig.Symbol,
		DowngradeFactor: 1.0,
		EvaluatedAt:     gc.Now,
	}

	// Boundary validation: malformed signals never reach the guards.
	if !sig.Valid() {
		res.Action = ActionBlock
		res.BlockReason = ReasonInvalidSignal
		res.BlockDetail = "signal failed boundary validation"
		return res
	}

	// Score once; the confidence guard and the audit trail both use it.
	if p.engine != nil {
		conf := p.engine.Score(sig, confidence.Context{
			Regime:           gc.Regime,
			RegimeConfidence: gc.RegimeConfidence,
			RegimeThresholds: gc.Thresholds,
			BreadthPct:       gc.BreadthPct,
			PortfolioCorr:    portfolioCorr(sig, p.guards),
		})
		gc.Confidence = &conf
		res.Confidence = &conf
	}

	for _, g := range p.guards {
		check := p.runGuard(g, ctx, sig, gc)
		res.Checks = append(res.Checks, check)

		if !check.Allowed {
			res.Action = ActionBlock
			res.BlockReason = check.Reason
			res.BlockDetail = check.Detail
			log.Debug().
				Str("component", "guards").
				Str("symbol", sig.Symbol).
				Str("guard", check.Name).
				Str("reason", string(check.Reason)).
				Msg("signal blocked")
			return res
		}
		if check.Downgrade > 0 && check.Downgrade < 1.0 {
			res.DowngradeFactor *= check.Downgrade
		}
	}

	res.Allowed = true
	if res.DowngradeFactor < 1.0 {
		res.Action = ActionDowngrade
	} else {
		res.Action = ActionEmit
	}
	return res
}

// runGuard executes one check with panic isolation. A panicking critical
// guard blocks; a panicking non-critical guard is skipped.
func (p *Pipeline) runGuard(g Guard, ctx context.Context, sig *market.Signal, gc *Context) (check CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "guards").
				Str("guard", g.Name()).
				Interface("panic", r).
				Msg("guard check panicked")
			if p.critical(g) {
				check = block(g.Name(), ReasonInternalCheckError, "internal check error, failing closed")
			} else {
				check = skip(g.Name(), "internal check error, skipped")
			}
		}
	}()
	return g.Evaluate(ctx, sig, gc)
}

// portfolioCorr pulls the max pairwise sector correlation for scoring from
// whichever guard holds the book.
func portfolioCorr(sig *market.Signal, chain []Guard) float64 {
	for _, g := range chain {
		if cg, ok := g.(*correlationGuard); ok && cg.book != nil {
			return cg.book.MaxCorrelation(sig.Sector)
		}
	}
	return 0
}
