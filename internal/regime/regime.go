package regime

// Regime labels the structure of the current trading session.
type Regime int

const (
	Unknown Regime = iota
	Compression
	Expansion
	TrendDay
	RangeDay
	PanicDay
)

func (r Regime) String() string {
	switch r {
	case Compression:
		return "COMPRESSION"
	case Expansion:
		return "EXPANSION"
	case TrendDay:
		return "TREND_DAY"
	case RangeDay:
		return "RANGE_DAY"
	case PanicDay:
		return "PANIC_DAY"
	default:
		return "UNKNOWN"
	}
}

// tieBreakOrder resolves equal category scores deterministically. Earlier
// entries win: a panic reading always outranks a trend reading at equal score.
var tieBreakOrder = []Regime{PanicDay, TrendDay, Expansion, RangeDay, Compression}

// Thresholds are the regime-dependent admission floors exposed to the guard
// pipeline.
type Thresholds struct {
	MinSignalStrength float64 `yaml:"min_signal_strength" json:"min_signal_strength"`
	MinRewardRisk     float64 `yaml:"min_reward_risk" json:"min_reward_risk"`
	MinConfidence     float64 `yaml:"min_confidence" json:"min_confidence"`
	MinVolumeMult     float64 `yaml:"min_volume_mult" json:"min_volume_mult"`
}
