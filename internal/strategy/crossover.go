package strategy

import (
	"math"

	"SpikeTrader/internal/calculator"
	"SpikeTrader/internal/model"
)

// CrossoverSignal times entries from moving averages.
type CrossoverSignal interface {
	Crossing(series model.PriceSeries, long, short, span int, minSlope, minSlopeDiff float64) bool
}

// SMACrossover fires on a fresh short-over-long SMA crossover at the last
// sample whose short slope and spread slope both clear their minimums.
type SMACrossover struct{}

// Crossing reports whether series ends on a qualifying crossover.
func (SMACrossover) Crossing(series model.PriceSeries, long, short, span int, minSlope, minSlopeDiff float64) bool {
	n := len(series)
	if n < 2 || long <= 0 || short <= 0 || span <= 0 {
		return false
	}
	longMA := calculator.SMASeries(series, long)
	shortMA := calculator.SMASeries(series, short)
	shortSlope := calculator.Slope(shortMA, span)
	spreadSlope := calculator.Slope(calculator.Spread(shortMA, longMA), span)

	last, prev := n-1, n-2
	for _, v := range []float64{longMA[last], shortMA[last], longMA[prev], shortMA[prev], shortSlope[last], spreadSlope[last]} {
		if math.IsNaN(v) {
			return false
		}
	}
	crossed := shortMA[last] > longMA[last] && shortMA[prev] <= longMA[prev]
	return crossed && shortSlope[last] > minSlope && spreadSlope[last] > minSlopeDiff
}
