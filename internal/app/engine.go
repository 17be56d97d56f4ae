package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/risklab/signalgate/internal/confidence"
	"github.com/risklab/signalgate/internal/config"
	"github.com/risklab/signalgate/internal/exits"
	"github.com/risklab/signalgate/internal/guards"
	"github.com/risklab/signalgate/internal/journal"
	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/metrics"
	"github.com/risklab/signalgate/internal/portfolio"
	"github.com/risklab/signalgate/internal/regime"
	"github.com/risklab/signalgate/internal/snapshot"
)

var regimeNames = []string{"UNKNOWN", "COMPRESSION", "EXPANSION", "TREND_DAY", "RANGE_DAY", "PANIC_DAY"}

// Engine wires the decision pipeline together and owns the run loop: the
// regime reclassification ticker, tick dispatch, and admission handling.
type Engine struct {
	cfg        *config.Config
	classifier *regime.Classifier
	scorer     *confidence.Engine
	book       *portfolio.Commander
	pipeline   *guards.Pipeline
	exiter     *exits.Commander
	rec        *metrics.Recorder

	publisher *snapshot.Publisher // optional
	journal   *journal.Journal    // optional

	classifying atomic.Bool // reclassification re-entry guard

	// admitMu spans guard evaluation and registration: the cap guards read
	// the exposure and position counts that Register bumps, so two in-flight
	// admissions must never see the same headroom.
	admitMu sync.Mutex

	mu            sync.Mutex
	lastBenchmark *market.BenchmarkUpdate
}

// New assembles an engine from configuration. Publisher and journal may be
// nil; both are observability sinks.
func New(cfg *config.Config, rec *metrics.Recorder, pub *snapshot.Publisher, jour *journal.Journal) *Engine {
	classifier := regime.NewClassifier(cfg.Regime)
	scorer := confidence.NewEngine(cfg.Confidence)
	book := portfolio.NewCommander(cfg.Portfolio)
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		scorer:     scorer,
		book:       book,
		pipeline:   guards.NewPipeline(cfg.Guards, book, scorer),
		exiter:     exits.NewCommander(cfg.Exits, classifier),
		rec:        rec,
		publisher:  pub,
		journal:    jour,
	}
}

// Run drives the reclassification ticker until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Engine.RegimeInterval)
	defer ticker.Stop()
	log.Info().
		Str("component", "engine").
		Dur("interval", e.cfg.Engine.RegimeInterval).
		Msg("engine running")

	for {
		select {
		case <-ctx.Done():
			if e.cfg.Engine.AutoCloseOnExit {
				e.flattenAll("engine shutdown")
			}
			log.Info().Str("component", "engine").Msg("engine stopped")
			return
		case <-ticker.C:
			e.reclassify(ctx)
		}
	}
}

// flattenAll closes every open position at its last mark and settles the
// results with the portfolio and the journal.
func (e *Engine) flattenAll(reason string) {
	now := time.Now()
	for _, p := range e.exiter.Active() {
		closed, err := e.exiter.Close(p.Symbol, 0, now, reason)
		if err != nil {
			continue
		}
		pnl := e.book.RiskAmount() * closed.PnLPct / 100.0
		e.book.RecordClose(closed.Symbol, pnl, now)
		if e.journal != nil {
			jctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := e.journal.RecordClose(jctx, closed); err != nil {
				log.Warn().Str("component", "engine").Err(err).Msg("journal write failed")
			}
			cancel()
		}
		log.Info().
			Str("component", "engine").
			Str("symbol", closed.Symbol).
			Float64("pnl_pct", closed.PnLPct).
			Msg("position flattened on shutdown")
	}
}

// reclassify runs one classification pass. The atomic flag keeps a slow pass
// from overlapping the next tick.
func (e *Engine) reclassify(ctx context.Context) {
	if !e.classifying.CompareAndSwap(false, true) {
		log.Warn().Str("component", "engine").Msg("reclassification already in progress, skipping")
		return
	}
	defer e.classifying.Store(false)

	e.mu.Lock()
	update := e.lastBenchmark
	e.mu.Unlock()
	if update == nil {
		return
	}

	state := e.classifier.Reclassify(*update)
	if e.rec != nil {
		e.rec.SetRegime(regimeNames, state.Current)
		e.rec.SetVolatility(state.Volatility)
	}
	e.publish(ctx)
}

func (e *Engine) publish(ctx context.Context) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, e.Status()); err != nil {
		log.Warn().Str("component", "engine").Err(err).Msg("snapshot publish failed")
	}
}

// HandleBenchmark stores the latest benchmark update for the next
// reclassification pass.
func (e *Engine) HandleBenchmark(update market.BenchmarkUpdate) {
	e.mu.Lock()
	e.lastBenchmark = &update
	e.mu.Unlock()
}

// HandleTick routes a market tick to the exit commander and settles any
// resulting close with the portfolio and the journal.
func (e *Engine) HandleTick(tick market.Tick) {
	start := time.Now()
	if e.rec != nil {
		e.rec.RecordTick()
	}

	sig := e.exiter.OnTick(tick)
	if sig != nil {
		e.settleExit(sig, tick.Timestamp)
	}

	if e.rec != nil {
		e.rec.ObserveEvaluation("exit", time.Since(start).Seconds())
	}
}

func (e *Engine) settleExit(sig *exits.Signal, ts time.Time) {
	// Daily P&L is tracked risk-normalized: percent return on the capital
	// that was at risk for the position.
	pnl := e.book.RiskAmount() * sig.PnLPct / 100.0
	e.book.RecordClose(sig.Symbol, pnl, ts)

	if e.rec != nil {
		e.rec.RecordExit(string(sig.Category), string(sig.Subtype))
		e.updatePortfolioMetrics()
	}
	if e.journal != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, closed := range e.exiter.History() {
				if closed.PositionID != sig.PositionID {
					continue
				}
				if err := e.journal.RecordClose(ctx, closed); err != nil {
					log.Warn().Str("component", "engine").Err(err).Msg("journal write failed")
				}
				return
			}
		}()
	}
}

// HandleSignal runs a candidate signal through the guard pipeline and, when
// admitted, registers the position with both commanders.
func (e *Engine) HandleSignal(sig *market.Signal) guards.Result {
	start := time.Now()
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	now := time.Now()
	current := e.classifier.Current()
	state := e.classifier.Snapshot()

	gc := &guards.Context{
		Now:              now,
		Regime:           current,
		RegimeConfidence: state.Confidence,
		Thresholds:       e.classifier.Thresholds(current),
		Volatility:       state.Volatility,
		BreadthPct:       e.breadth(),
	}
	e.admitMu.Lock()
	result := e.pipeline.Evaluate(context.Background(), sig, gc)
	if result.Allowed {
		e.book.Register(sig, now)
		e.exiter.Register(sig, current, state.Volatility, now)
	}
	e.admitMu.Unlock()

	if e.rec != nil {
		e.rec.RecordAdmission(string(result.Action))
		if result.Action == guards.ActionBlock {
			e.rec.RecordBlock(string(result.BlockReason))
		}
		e.rec.ObserveEvaluation("admission", time.Since(start).Seconds())
		if result.Allowed {
			e.updatePortfolioMetrics()
		}
	}
	return result
}

func (e *Engine) breadth() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastBenchmark == nil {
		return 0
	}
	return e.lastBenchmark.BreadthPct
}

func (e *Engine) updatePortfolioMetrics() {
	snap := e.book.Snapshot()
	e.rec.SetPortfolio(snap.Exposure, len(snap.Active), snap.DailyPnL)
}

// Status assembles the full observability snapshot.
func (e *Engine) Status() snapshot.Status {
	return snapshot.Status{
		Regime:    e.classifier.Snapshot(),
		Portfolio: e.book.Snapshot(),
		Stats:     e.exiter.Stats(),
		Timestamp: time.Now(),
	}
}

// Positions returns copies of the open positions.
func (e *Engine) Positions() []exits.Position {
	return e.exiter.Active()
}

// ExitHistory returns the closed-position ring, oldest first.
func (e *Engine) ExitHistory() []exits.ClosedPosition {
	return e.exiter.History()
}

// ConfidenceHistory returns recent scoring results for diagnostics.
func (e *Engine) ConfidenceHistory() []confidence.Result {
	return e.scorer.History()
}

// DailyReset clears portfolio state for a new session.
func (e *Engine) DailyReset() {
	e.book.DailyReset()
	if e.rec != nil {
		e.updatePortfolioMetrics()
	}
}
