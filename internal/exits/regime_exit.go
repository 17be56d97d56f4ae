package exits

import (
	"fmt"

	"github.com/risklab/signalgate/internal/market"
	"github.com/risklab/signalgate/internal/regime"
)

// regimeConditions fires when the session turns against the entry context:
// an adverse regime shift, an outright panic, a volatility collapse, or a
// breadth collapse under a long. Caller holds p.mu.
func (c *Commander) regimeConditions(p *Position, tick market.Tick) []Condition {
	var out []Condition
	if c.regimes == nil {
		return out
	}
	current := c.regimes.Current()

	if current == regime.PanicDay {
		out = append(out, Condition{
			Category: CategoryRegime,
			Subtype:  SubPanic,
			Reason:   "market shifted to PANIC_DAY",
			Priority: CategoryRegime.Priority(),
		})
	} else if current != p.EntryRegime && c.adverse(p.EntryRegimeName, current.String()) {
		out = append(out, Condition{
			Category: CategoryRegime,
			Subtype:  SubRegimeFlip,
			Reason:   fmt.Sprintf("regime shifted %s -> %s, adverse for this entry", p.EntryRegimeName, current),
			Priority: CategoryRegime.Priority(),
		})
	}

	if p.EntryVolatility > 0 && tick.Volatility > 0 {
		if ratio := tick.Volatility / p.EntryVolatility; ratio < c.cfg.VolCollapseRatio {
			out = append(out, Condition{
				Category: CategoryRegime,
				Subtype:  SubVolCollapse,
				Reason:   fmt.Sprintf("volatility collapsed to %.0f%% of entry", ratio*100),
				Priority: CategoryRegime.Priority(),
			})
		}
	}

	if p.Direction == market.Long && tick.BreadthPct > 0 && tick.BreadthPct < c.cfg.BreadthCollapseMin {
		out = append(out, Condition{
			Category: CategoryRegime,
			Subtype:  SubBreadthCollapse,
			Reason:   fmt.Sprintf("breadth %.0f%% below %.0f%% floor", tick.BreadthPct, c.cfg.BreadthCollapseMin),
			Priority: CategoryRegime.Priority(),
		})
	}

	return out
}

func (c *Commander) adverse(entryRegime, current string) bool {
	for _, r := range c.cfg.AdverseShifts[entryRegime] {
		if r == current {
			return true
		}
	}
	return false
}
