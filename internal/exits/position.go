package exits

import (
	"sync"
	"time"

	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/regime"
)

// Status is the position lifecycle state. ACTIVE to CLOSED is the only
// transition and CLOSED is terminal.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// TrailingStopState tracks the ATR trail for one position. The stop only
// ever moves in the position's favor.
type TrailingStopState struct {
	Active    bool    `json:"active"`
	StopPrice float64 `json:"stop_price"`
	WaterMark float64 `json:"water_mark"` // favorable extreme since activation
	EntryATR  float64 `json:"entry_atr"`
}

// Position is the exit commander's full lifecycle record. Each position has
// its own mutex so tick evaluation never blocks other instruments.
type Position struct {
	mu sync.Mutex

	ID         string           `json:"id"`
	Token      int64            `json:"token"`
	Symbol     string           `json:"symbol"`
	Sector     string           `json:"sector"`
	Underlying string           `json:"underlying,omitempty"`
	Direction  market.Direction `json:"direction"`
	IsOption   bool             `json:"is_option"`

	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	Status     Status    `json:"status"`

	HighWater float64 `json:"high_water"`
	LowWater  float64 `json:"low_water"`
	LastPrice float64 `json:"last_price"`
	PnLPct    float64 `json:"pnl_pct"`
	MaxPnLPct float64 `json:"max_pnl_pct"`

	EntryRegime     regime.Regime         `json:"-"`
	EntryRegimeName string                `json:"entry_regime"`
	EntryVolatility float64               `json:"entry_volatility"`
	EntryATR        float64               `json:"entry_atr"`
	EntryGreeks     market.GreeksSnapshot `json:"entry_greeks,omitempty"`

	Trailing TrailingStopState `json:"trailing"`
}

// pnlPct returns the signed unrealized return for price.
func (p *Position) pnlPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Direction == market.Long {
		return (price - p.EntryPrice) / p.EntryPrice * 100.0
	}
	return (p.EntryPrice - price) / p.EntryPrice * 100.0
}

// updateMarks refreshes water marks and PnL bookkeeping. Runs on every tick
// whether or not an exit fires. Caller holds p.mu.
func (p *Position) updateMarks(price float64) {
	p.LastPrice = price
	if price > p.HighWater {
		p.HighWater = price
	}
	if price < p.LowWater || p.LowWater == 0 {
		p.LowWater = price
	}
	p.PnLPct = p.pnlPct(price)
	if p.PnLPct > p.MaxPnLPct {
		p.MaxPnLPct = p.PnLPct
	}
}

// favorableMark is the water mark on the position's profitable side.
func (p *Position) favorableMark() float64 {
	if p.Direction == market.Long {
		return p.HighWater
	}
	return p.LowWater
}
