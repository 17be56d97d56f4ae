package market

import "math"

// TrueRange returns the true range of bar cur given the previous close.
func TrueRange(cur Candle, prevClose float64) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prevClose)
	lc := math.Abs(cur.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR computes the simple-average true range over the last period bars.
// Returns 0 when there is not enough history.
func ATR(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	start := len(candles) - period
	sum := 0.0
	for i := start; i < len(candles); i++ {
		sum += TrueRange(candles[i], candles[i-1].Close)
	}
	return sum / float64(period)
}

// ATRSlope compares the ATR of the last n bars against the prior n bars and
// returns the percent change. Needs 2n+1 bars; otherwise 0.
func ATRSlope(candles []Candle, n int) float64 {
	if n <= 0 || len(candles) < 2*n+1 {
		return 0
	}
	recent := ATR(candles, n)
	prior := ATR(candles[:len(candles)-n], n)
	if prior == 0 {
		return 0
	}
	return (recent - prior) / prior * 100.0
}

// OpeningRange returns the high-low span of the first bars of the session.
func OpeningRange(candles []Candle, bars int) (high, low float64) {
	if len(candles) == 0 || bars <= 0 {
		return 0, 0
	}
	if bars > len(candles) {
		bars = len(candles)
	}
	high, low = candles[0].High, candles[0].Low
	for _, c := range candles[1:bars] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low
}

// OpeningRangePct returns the opening-range width as a percent of its midpoint.
func OpeningRangePct(candles []Candle, bars int) float64 {
	high, low := OpeningRange(candles, bars)
	mid := (high + low) / 2
	if mid == 0 {
		return 0
	}
	return (high - low) / mid * 100.0
}

// VWAPDistancePct is the absolute distance of last from vwap in percent.
func VWAPDistancePct(last, vwap float64) float64 {
	if vwap == 0 {
		return 0
	}
	return math.Abs(last-vwap) / vwap * 100.0
}

// RangeExpansion is the current day range divided by the opening range.
func RangeExpansion(dayHigh, dayLow, orHigh, orLow float64) float64 {
	or := orHigh - orLow
	if or <= 0 {
		return 0
	}
	return (dayHigh - dayLow) / or
}

// SwingPoint is a local extreme in a candle series.
type SwingPoint struct {
	Index int
	Price float64
}

// SwingHighs returns bars whose high exceeds both two neighbors on each side.
func SwingHighs(candles []Candle) []SwingPoint {
	var out []SwingPoint
	for i := 2; i < len(candles)-2; i++ {
		h := candles[i].High
		if h > candles[i-1].High && h > candles[i-2].High &&
			h > candles[i+1].High && h > candles[i+2].High {
			out = append(out, SwingPoint{Index: i, Price: h})
		}
	}
	return out
}

// SwingLows returns bars whose low undercuts both two neighbors on each side.
func SwingLows(candles []Candle) []SwingPoint {
	var out []SwingPoint
	for i := 2; i < len(candles)-2; i++ {
		l := candles[i].Low
		if l < candles[i-1].Low && l < candles[i-2].Low &&
			l < candles[i+1].Low && l < candles[i+2].Low {
			out = append(out, SwingPoint{Index: i, Price: l})
		}
	}
	return out
}

// LastSwingHigh returns the most recent swing high, or 0 when none exists.
func LastSwingHigh(candles []Candle) float64 {
	highs := SwingHighs(candles)
	if len(highs) == 0 {
		return 0
	}
	return highs[len(highs)-1].Price
}

// LastSwingLow returns the most recent swing low, or 0 when none exists.
func LastSwingLow(candles []Candle) float64 {
	lows := SwingLows(candles)
	if len(lows) == 0 {
		return 0
	}
	return lows[len(lows)-1].Price
}
