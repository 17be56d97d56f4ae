package exits

import (
	"fmt"
	"math"

	"github.com/risklab/signalgate/internal/market"
)

// optionConditions covers decay-side risk for option positions: theta
// acceleration, IV crush, and OI reversal. Caller holds p.mu.
func (c *Commander) optionConditions(p *Position, tick market.Tick) []Condition {
	if !p.IsOption || tick.Greeks == nil {
		return nil
	}
	var out []Condition
	g := tick.Greeks

	if entry := math.Abs(p.EntryGreeks.Theta); entry > 0 {
		if ratio := math.Abs(g.Theta) / entry; ratio >= c.cfg.ThetaAccelRatio {
			out = append(out, Condition{
				Category: CategoryOption,
				Subtype:  SubThetaAccel,
				Reason:   fmt.Sprintf("theta accelerated %.2fx from entry %.2f", ratio, p.EntryGreeks.Theta),
				Priority: CategoryOption.Priority(),
			})
		}
	}

	if entry := p.EntryGreeks.IV; entry > 0 && g.IV > 0 {
		if drop := (entry - g.IV) / entry * 100.0; drop >= c.cfg.IVCrushPct {
			out = append(out, Condition{
				Category: CategoryOption,
				Subtype:  SubIVCrush,
				Reason:   fmt.Sprintf("IV crushed %.1f%% from entry %.1f", drop, entry),
				Priority: CategoryOption.Priority(),
			})
		}
	}

	if entry := p.EntryGreeks.OI; entry > 0 && g.OI > 0 && p.Direction == market.Long {
		if drop := (entry - g.OI) / entry * 100.0; drop >= c.cfg.OIDropPct {
			out = append(out, Condition{
				Category: CategoryOption,
				Subtype:  SubOIReversal,
				Reason:   fmt.Sprintf("open interest dropped %.1f%% from entry", drop),
				Priority: CategoryOption.Priority(),
			})
		}
	}

	return out
}
