package exits

import (
	"time"

	"github.com/risklab/signalgate/internal/market"
)

// Category groups exit conditions; priority decides which simultaneous
// trigger becomes the emitted signal.
type Category string

const (
	CategoryStructural Category = "STRUCTURAL"
	CategoryTrailing   Category = "TRAILING"
	CategoryOption     Category = "OPTION"
	CategoryRegime     Category = "REGIME"
)

// Priority returns the category rank; higher wins.
func (c Category) Priority() int {
	switch c {
	case CategoryStructural:
		return 4
	case CategoryTrailing:
		return 3
	case CategoryOption:
		return 2
	case CategoryRegime:
		return 1
	default:
		return 0
	}
}

// Subtype identifies the specific condition inside a category.
type Subtype string

const (
	SubSwingBreak       Subtype = "SWING_BREAK"
	SubVWAPBreak        Subtype = "VWAP_BREAK"
	SubOppositeIgnition Subtype = "OPPOSITE_IGNITION"
	SubATRTrail         Subtype = "ATR_TRAIL"
	SubSwingPattern     Subtype = "SWING_PATTERN"
	SubRegimeFlip       Subtype = "REGIME_FLIP"
	SubPanic            Subtype = "PANIC"
	SubVolCollapse      Subtype = "VOL_COLLAPSE"
	SubBreadthCollapse  Subtype = "BREADTH_COLLAPSE"
	SubThetaAccel       Subtype = "THETA_ACCEL"
	SubIVCrush          Subtype = "IV_CRUSH"
	SubOIReversal       Subtype = "OI_REVERSAL"
)

// Condition is one triggered exit check. All simultaneous conditions ride
// along on the emitted signal for audit.
type Condition struct {
	Category Category `json:"category"`
	Subtype  Subtype  `json:"subtype"`
	Reason   string   `json:"reason"`
	Priority int      `json:"priority"`
}

// Signal is the exit instruction handed to the execution layer.
type Signal struct {
	ID         string           `json:"id"`
	PositionID string           `json:"position_id"`
	Token      int64            `json:"token"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	Category   Category         `json:"category"`
	Subtype    Subtype          `json:"subtype"`
	Reason     string           `json:"reason"`
	Priority   int              `json:"priority"`
	Price      float64          `json:"price"`
	PnLPct     float64          `json:"pnl_pct"`
	MaxPnLPct  float64          `json:"max_pnl_pct"`
	Conditions []Condition      `json:"conditions"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ClosedPosition is the bounded-history record of a finished position.
type ClosedPosition struct {
	PositionID string           `json:"position_id"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	EntryPrice float64          `json:"entry_price"`
	ExitPrice  float64          `json:"exit_price"`
	PnLPct     float64          `json:"pnl_pct"`
	MaxPnLPct  float64          `json:"max_pnl_pct"`
	Category   Category         `json:"category,omitempty"`
	Subtype    Subtype          `json:"subtype,omitempty"`
	Reason     string           `json:"reason"`
	EntryTime  time.Time        `json:"entry_time"`
	ExitTime   time.Time        `json:"exit_time"`
}

// Stats summarizes the closed-position history ring.
type Stats struct {
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"` // 0-100
	ProfitFactor float64 `json:"profit_factor"`
	AvgWinPct    float64 `json:"avg_win_pct"`
	AvgLossPct   float64 `json:"avg_loss_pct"`
}
