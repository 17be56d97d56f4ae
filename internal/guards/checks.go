package guards

import (
	"context"
	"fmt"
	"time"

	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/portfolio"
	"github.com/risklab/signalgate/internal/regime"
)

// Book is the slice of portfolio state the guards consult.
// *portfolio.Commander satisfies it; tests substitute a stub.
type Book interface {
	IsLocked(now time.Time) (bool, string)
	PositionCount() int
	Has(symbol string) bool
	SectorCount(sector string) int
	UnderlyingCount(underlying string) int
	MaxCorrelation(sector string) float64
	Exposure() float64
	ExposureCap(r regime.Regime) float64
	RiskAmount() float64
	DailyPnL() float64
	DailyLossLimit() float64
	ConsecutiveLosses() int
	Config() portfolio.Config
}

// lockStatusGuard blocks all admissions while the loss-streak lock is armed.
type lockStatusGuard struct{ book Book }

func (g *lockStatusGuard) Name() string   { return "lock_status" }
func (g *lockStatusGuard) Critical() bool { return true }

func (g *lockStatusGuard) Evaluate(_ context.Context, _ *market.Signal, gc *Context) CheckResult {
	if g.book == nil {
		return block(g.Name(), ReasonStateUnavailable, "portfolio state unavailable")
	}
	if locked, why := g.book.IsLocked(gc.Now); locked {
		return block(g.Name(), ReasonPortfolioLocked, why)
	}
	return allow(g.Name())
}

// positionCountGuard caps simultaneous open positions and rejects duplicates.
type positionCountGuard struct{ book Book }

func (g *positionCountGuard) Name() string   { return "position_count" }
func (g *positionCountGuard) Critical() bool { return false }

func (g *positionCountGuard) Evaluate(_ context.Context, sig *market.Signal, _ *Context) CheckResult {
	if g.book == nil {
		return skip(g.Name(), "portfolio state unavailable")
	}
	if g.book.Has(sig.Symbol) {
		return block(g.Name(), ReasonDuplicatePosition, fmt.Sprintf("%s already open", sig.Symbol))
	}
	max := g.book.Config().MaxPositions
	if n := g.book.PositionCount(); n >= max {
		return block(g.Name(), ReasonMaxPositions, fmt.Sprintf("%d of %d positions open", n, max))
	}
	return allow(g.Name())
}

// sectorCapGuard limits open positions per sector.
type sectorCapGuard struct{ book Book }

func (g *sectorCapGuard) Name() string   { return "sector_concentration" }
func (g *sectorCapGuard) Critical() bool { return false }

func (g *sectorCapGuard) Evaluate(_ context.Context, sig *market.Signal, _ *Context) CheckResult {
	if g.book == nil {
		return skip(g.Name(), "portfolio state unavailable")
	}
	if sig.Sector == "" {
		return skip(g.Name(), "sector unknown")
	}
	max := g.book.Config().MaxPerSector
	if n := g.book.SectorCount(sig.Sector); n >= max {
		return block(g.Name(), ReasonSectorCap, fmt.Sprintf("%d of %d open in %s", n, max, sig.Sector))
	}
	return allow(g.Name())
}

// underlyingCapGuard limits open option positions per underlying.
type underlyingCapGuard struct{ book Book }

func (g *underlyingCapGuard) Name() string   { return "underlying_concentration" }
func (g *underlyingCapGuard) Critical() bool { return false }

func (g *underlyingCapGuard) Evaluate(_ context.Context, sig *market.Signal, _ *Context) CheckResult {
	if !sig.IsOption || sig.Underlying == "" {
		return skip(g.Name(), "not an option")
	}
	if g.book == nil {
		return skip(g.Name(), "portfolio state unavailable")
	}
	max := g.book.Config().MaxPerUnderlying
	if n := g.book.UnderlyingCount(sig.Underlying); n >= max {
		return block(g.Name(), ReasonUnderlyingCap, fmt.Sprintf("%d of %d open on %s", n, max, sig.Underlying))
	}
	return allow(g.Name())
}

// correlationGuard blocks at the hard pairwise-correlation cap and degrades
// confidence at the soft cap.
type correlationGuard struct{ book Book }

func (g *correlationGuard) Name() string   { return "correlation" }
func (g *correlationGuard) Critical() bool { return false }

func (g *correlationGuard) Evaluate(_ context.Context, sig *market.Signal, _ *Context) CheckResult {
	if g.book == nil {
		return skip(g.Name(), "portfolio state unavailable")
	}
	if sig.Sector == "" {
		return skip(g.Name(), "sector unknown")
	}
	cfg := g.book.Config()
	corr := g.book.MaxCorrelation(sig.Sector)
	switch {
	case corr >= cfg.CorrelationHardCap:
		return block(g.Name(), ReasonCorrelation, fmt.Sprintf("max pairwise correlation %.2f >= %.2f", corr, cfg.CorrelationHardCap))
	case corr >= cfg.CorrelationSoftCap:
		return downgrade(g.Name(), ReasonCorrelation,
			fmt.Sprintf("max pairwise correlation %.2f >= %.2f", corr, cfg.CorrelationSoftCap),
			cfg.CorrelationDowngrade)
	}
	return allow(g.Name())
}

// exposureCapGuard enforces the regime-specific capital-at-risk cap.
type exposureCapGuard struct{ book Book }

func (g *exposureCapGuard) Name() string   { return "exposure_cap" }
func (g *exposureCapGuard) Critical() bool { return true }

func (g *exposureCapGuard) Evaluate(_ context.Context, _ *market.Signal, gc *Context) CheckResult {
	if g.book == nil {
		return block(g.Name(), ReasonStateUnavailable, "portfolio state unavailable")
	}
	cap := g.book.ExposureCap(gc.Regime)
	next := g.book.Exposure() + g.book.RiskAmount()
	if next > cap {
		return block(g.Name(), ReasonExposureCap,
			fmt.Sprintf("exposure %.0f would exceed %s cap %.0f", next, gc.Regime, cap))
	}
	return allow(g.Name())
}

// dailyLossGuard halts admissions once today's realized loss hits the limit.
type dailyLossGuard struct{ book Book }

func (g *dailyLossGuard) Name() string   { return "daily_loss" }
func (g *dailyLossGuard) Critical() bool { return true }

func (g *dailyLossGuard) Evaluate(_ context.Context, _ *market.Signal, _ *Context) CheckResult {
	if g.book == nil {
		return block(g.Name(), ReasonStateUnavailable, "portfolio state unavailable")
	}
	if pnl := g.book.DailyPnL(); pnl <= g.book.DailyLossLimit() {
		return block(g.Name(), ReasonDailyLoss, fmt.Sprintf("daily pnl %.0f at limit %.0f", pnl, g.book.DailyLossLimit()))
	}
	return allow(g.Name())
}

// confidenceGuard applies the regime/class-dependent score floor.
type confidenceGuard struct{}

func (g *confidenceGuard) Name() string   { return "confidence" }
func (g *confidenceGuard) Critical() bool { return false }

func (g *confidenceGuard) Evaluate(_ context.Context, _ *market.Signal, gc *Context) CheckResult {
	if gc.Confidence == nil {
		return skip(g.Name(), "confidence score unavailable")
	}
	if !gc.Confidence.MeetsMin {
		return block(g.Name(), ReasonLowConfidence,
			fmt.Sprintf("score %.1f below threshold %.1f (grade %s)",
				gc.Confidence.Score, gc.Confidence.Threshold, gc.Confidence.Grade))
	}
	return allow(g.Name())
}

// regimeCompatGuard checks the signal against the regime's admission floors:
// strength and reward:risk block, a thin volume multiple only downgrades.
type regimeCompatGuard struct{ cfg Config }

func (g *regimeCompatGuard) Name() string   { return "regime_compatibility" }
func (g *regimeCompatGuard) Critical() bool { return false }

func (g *regimeCompatGuard) Evaluate(_ context.Context, sig *market.Signal, gc *Context) CheckResult {
	th := gc.Thresholds
	if sig.Strength < th.MinSignalStrength {
		return block(g.Name(), ReasonRegimeMismatch,
			fmt.Sprintf("strength %.0f below %s floor %.0f", sig.Strength, gc.Regime, th.MinSignalStrength))
	}
	if sig.RewardRisk > 0 && sig.RewardRisk < th.MinRewardRisk {
		return block(g.Name(), ReasonRegimeMismatch,
			fmt.Sprintf("reward:risk %.2f below %s floor %.2f", sig.RewardRisk, gc.Regime, th.MinRewardRisk))
	}
	if sig.VolumeMult > 0 && sig.VolumeMult < th.MinVolumeMult {
		return downgrade(g.Name(), ReasonRegimeMismatch,
			fmt.Sprintf("volume %.2fx below %s floor %.2fx", sig.VolumeMult, gc.Regime, th.MinVolumeMult),
			g.cfg.VolumeDowngrade)
	}
	return allow(g.Name())
}

// executionSafetyGuard blocks when spread/depth quality is too poor to fill.
type executionSafetyGuard struct{ cfg Config }

func (g *executionSafetyGuard) Name() string   { return "execution_safety" }
func (g *executionSafetyGuard) Critical() bool { return false }

func (g *executionSafetyGuard) Evaluate(_ context.Context, sig *market.Signal, _ *Context) CheckResult {
	safety := sig.Factors.ExecutionSafety
	if safety <= 0 {
		return skip(g.Name(), "execution safety unavailable")
	}
	if safety < g.cfg.MinExecutionSafety {
		return block(g.Name(), ReasonExecutionUnsafe,
			fmt.Sprintf("execution safety %.0f below %.0f", safety, g.cfg.MinExecutionSafety))
	}
	return allow(g.Name())
}

// crowdTrapGuard rejects setups that look like crowded consensus trades.
type crowdTrapGuard struct{ cfg Config }

func (g *crowdTrapGuard) Name() string   { return "crowd_trap" }
func (g *crowdTrapGuard) Critical() bool { return false }

func (g *crowdTrapGuard) Evaluate(_ context.Context, sig *market.Signal, _ *Context) CheckResult {
	trap := sig.Factors.CrowdTrap
	switch {
	case trap >= g.cfg.CrowdTrapBlock:
		return block(g.Name(), ReasonCrowdTrap, fmt.Sprintf("crowd trap probability %.0f", trap))
	case trap >= g.cfg.CrowdTrapSoft:
		return downgrade(g.Name(), ReasonCrowdTrap,
			fmt.Sprintf("elevated crowd trap probability %.0f", trap), g.cfg.CrowdTrapDowngrade)
	}
	return allow(g.Name())
}

// lossStreakWarnGuard softens size one loss short of the lock. Never blocks.
type lossStreakWarnGuard struct {
	book Book
	cfg  Config
}

func (g *lossStreakWarnGuard) Name() string   { return "loss_streak_warning" }
func (g *lossStreakWarnGuard) Critical() bool { return false }

func (g *lossStreakWarnGuard) Evaluate(_ context.Context, _ *market.Signal, _ *Context) CheckResult {
	if g.book == nil {
		return skip(g.Name(), "portfolio state unavailable")
	}
	losses := g.book.ConsecutiveLosses()
	if limit := g.book.Config().LossStreakLock; losses > 0 && losses == limit-1 {
		return downgrade(g.Name(), ReasonLossStreakWarning,
			fmt.Sprintf("%d consecutive losses, one from lock", losses), g.cfg.LossStreakDowngrade)
	}
	return allow(g.Name())
}
