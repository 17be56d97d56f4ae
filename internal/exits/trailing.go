package exits

import (
	"fmt"

	"github.com/risklab/signalgate/internal/market"
)

// updateTrailing arms and tightens the ATR trail. The stop never loosens:
// each recomputation keeps the tighter of old and new. Caller holds p.mu.
func (c *Commander) updateTrailing(p *Position, tick market.Tick) {
	t := &p.Trailing
	if t.EntryATR <= 0 {
		return
	}

	if !t.Active {
		if p.PnLPct < c.cfg.MinProfitToTrailPct {
			return
		}
		t.Active = true
		t.WaterMark = p.favorableMark()
		t.StopPrice = c.stopFor(p, t.WaterMark)
		return
	}

	mark := p.favorableMark()
	if p.Direction == market.Long && mark > t.WaterMark {
		t.WaterMark = mark
	}
	if p.Direction == market.Short && mark < t.WaterMark {
		t.WaterMark = mark
	}
	next := c.stopFor(p, t.WaterMark)
	if p.Direction == market.Long && next > t.StopPrice {
		t.StopPrice = next
	}
	if p.Direction == market.Short && next < t.StopPrice {
		t.StopPrice = next
	}
}

func (c *Commander) stopFor(p *Position, waterMark float64) float64 {
	dist := p.Trailing.EntryATR * c.cfg.ATRMultiplier
	if p.Direction == market.Long {
		return waterMark - dist
	}
	return waterMark + dist
}

// trailingConditions fires on a stop cross or a broken swing sequence.
// Caller holds p.mu.
func (c *Commander) trailingConditions(p *Position, tick market.Tick) []Condition {
	var out []Condition

	if t := p.Trailing; t.Active {
		crossed := (p.Direction == market.Long && tick.LTP <= t.StopPrice) ||
			(p.Direction == market.Short && tick.LTP >= t.StopPrice)
		if crossed {
			out = append(out, Condition{
				Category: CategoryTrailing,
				Subtype:  SubATRTrail,
				Reason:   fmt.Sprintf("price %.2f crossed trailing stop %.2f (mark %.2f, ATR %.2f x %.1f)", tick.LTP, t.StopPrice, t.WaterMark, t.EntryATR, c.cfg.ATRMultiplier),
				Priority: CategoryTrailing.Priority(),
			})
		}
	}

	if reason, broken := c.swingPatternBroken(p, tick.Candles5m); broken {
		out = append(out, Condition{
			Category: CategoryTrailing,
			Subtype:  SubSwingPattern,
			Reason:   reason,
			Priority: CategoryTrailing.Priority(),
		})
	}

	return out
}

// swingPatternBroken checks the higher-low (LONG) / lower-high (SHORT)
// sequence over the rolling extrema window.
func (c *Commander) swingPatternBroken(p *Position, candles []market.Candle) (string, bool) {
	if len(candles) > c.cfg.SwingLookback {
		candles = candles[len(candles)-c.cfg.SwingLookback:]
	}
	if p.Direction == market.Long {
		lows := market.SwingLows(candles)
		if n := len(lows); n >= 2 && lows[n-1].Price < lows[n-2].Price {
			return fmt.Sprintf("higher-low pattern broken: swing low %.2f under prior %.2f", lows[n-1].Price, lows[n-2].Price), true
		}
		return "", false
	}
	highs := market.SwingHighs(candles)
	if n := len(highs); n >= 2 && highs[n-1].Price > highs[n-2].Price {
		return fmt.Sprintf("lower-high pattern broken: swing high %.2f over prior %.2f", highs[n-1].Price, highs[n-2].Price), true
	}
	return "", false
}
