package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder instruments the decision pipeline with Prometheus metrics.
type Recorder struct {
	admissions    *prometheus.CounterVec
	blocks        *prometheus.CounterVec
	exitSignals   *prometheus.CounterVec
	ticks         prometheus.Counter
	regimeGauge   *prometheus.GaugeVec
	volatility    prometheus.Gauge
	exposure      prometheus.Gauge
	openPositions prometheus.Gauge
	dailyPnL      prometheus.Gauge
	evalLatency   *prometheus.HistogramVec
}

// New registers the signalgate metric set on the default registry.
func New() *Recorder {
	return &Recorder{
		admissions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_admissions_total",
				Help: "Signal admission verdicts by action",
			},
			[]string{"action"},
		),
		blocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_blocks_total",
				Help: "Blocked signals by reason code",
			},
			[]string{"reason"},
		),
		exitSignals: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_exit_signals_total",
				Help: "Exit signals by category and subtype",
			},
			[]string{"category", "subtype"},
		),
		ticks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "signalgate_ticks_total",
				Help: "Market ticks processed",
			},
		),
		regimeGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalgate_regime",
				Help: "Current market regime (1 for the active label)",
			},
			[]string{"regime"},
		),
		volatility: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalgate_volatility_score",
				Help: "Current 0-100 volatility score",
			},
		),
		exposure: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalgate_exposure",
				Help: "Capital at risk across open positions",
			},
		),
		openPositions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalgate_open_positions",
				Help: "Number of open positions",
			},
		),
		dailyPnL: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalgate_daily_pnl",
				Help: "Realized P&L today",
			},
		),
		evalLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalgate_evaluation_duration_seconds",
				Help:    "Duration of pipeline and exit evaluations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
}

// RecordAdmission counts one pipeline verdict.
func (r *Recorder) RecordAdmission(action string) {
	r.admissions.WithLabelValues(action).Inc()
}

// RecordBlock counts one blocked signal by reason code.
func (r *Recorder) RecordBlock(reason string) {
	r.blocks.WithLabelValues(reason).Inc()
}

// RecordExit counts one emitted exit signal.
func (r *Recorder) RecordExit(category, subtype string) {
	r.exitSignals.WithLabelValues(category, subtype).Inc()
}

// RecordTick counts one processed market tick.
func (r *Recorder) RecordTick() {
	r.ticks.Inc()
}

// SetRegime flips the active regime label.
func (r *Recorder) SetRegime(regimes []string, current string) {
	for _, name := range regimes {
		v := 0.0
		if name == current {
			v = 1.0
		}
		r.regimeGauge.WithLabelValues(name).Set(v)
	}
}

// SetVolatility records the current volatility score.
func (r *Recorder) SetVolatility(v float64) {
	r.volatility.Set(v)
}

// SetPortfolio records exposure, open-position count and daily P&L.
func (r *Recorder) SetPortfolio(exposure float64, open int, dailyPnL float64) {
	r.exposure.Set(exposure)
	r.openPositions.Set(float64(open))
	r.dailyPnL.Set(dailyPnL)
}

// ObserveEvaluation records one evaluation duration.
func (r *Recorder) ObserveEvaluation(stage string, seconds float64) {
	r.evalLatency.WithLabelValues(stage).Observe(seconds)
}
