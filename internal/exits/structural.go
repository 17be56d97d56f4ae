package exits

import (
	"fmt"

	"github.com/risklab/signalgate/internal/market"
)

// structuralConditions detects technical-level breaks: opposing swing level,
// VWAP loss on a winner, and opposite momentum ignition.
// Caller holds p.mu.
func (c *Commander) structuralConditions(p *Position, tick market.Tick) []Condition {
	var out []Condition

	if level := c.opposingSwingLevel(p, tick.Candles5m); level > 0 {
		buf := c.cfg.SwingBreakBufferPct / 100.0
		broke := false
		if p.Direction == market.Long && tick.LTP < level*(1-buf) {
			broke = true
		}
		if p.Direction == market.Short && tick.LTP > level*(1+buf) {
			broke = true
		}
		if broke {
			out = append(out, Condition{
				Category: CategoryStructural,
				Subtype:  SubSwingBreak,
				Reason:   fmt.Sprintf("price %.2f broke swing level %.2f by more than %.2f%%", tick.LTP, level, c.cfg.SwingBreakBufferPct),
				Priority: CategoryStructural.Priority(),
			})
		}
	}

	// VWAP break protects positions that have already been in profit.
	if tick.VWAP > 0 && p.MaxPnLPct >= c.cfg.VWAPMinProfitPct {
		buf := c.cfg.VWAPBufferPct / 100.0
		broke := false
		if p.Direction == market.Long && tick.LTP < tick.VWAP*(1-buf) {
			broke = true
		}
		if p.Direction == market.Short && tick.LTP > tick.VWAP*(1+buf) {
			broke = true
		}
		if broke {
			out = append(out, Condition{
				Category: CategoryStructural,
				Subtype:  SubVWAPBreak,
				Reason:   fmt.Sprintf("price %.2f crossed VWAP %.2f against position after %.2f%% peak profit", tick.LTP, tick.VWAP, p.MaxPnLPct),
				Priority: CategoryStructural.Priority(),
			})
		}
	}

	if ig := tick.Ignition; ig != nil && ig.Direction == p.Direction.Opposite() && ig.Strength >= c.cfg.OppositeIgnitionMin {
		out = append(out, Condition{
			Category: CategoryStructural,
			Subtype:  SubOppositeIgnition,
			Reason:   fmt.Sprintf("opposite %s ignition at strength %.0f", ig.Direction, ig.Strength),
			Priority: CategoryStructural.Priority(),
		})
	}

	return out
}

// opposingSwingLevel is the most recent swing point on the stop side of the
// position, over the configured lookback window. 0 when no swing exists.
func (c *Commander) opposingSwingLevel(p *Position, candles []market.Candle) float64 {
	if len(candles) > c.cfg.SwingLookback {
		candles = candles[len(candles)-c.cfg.SwingLookback:]
	}
	if p.Direction == market.Long {
		return market.LastSwingLow(candles)
	}
	return market.LastSwingHigh(candles)
}
