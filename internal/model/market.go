package model

import "time"

// Granularity is the bar width requested from a data source.
type Granularity string

const (
	Minute         Granularity = "1Min"
	FiveMinutes    Granularity = "5Min"
	FifteenMinutes Granularity = "15Min"
	Day            Granularity = "1Day"
)

// PriceSeries holds close prices, oldest first.
type PriceSeries []float64

// Clean reports whether every close is a usable positive price.
// A zero anywhere marks missing data and invalidates the whole window.
func (p PriceSeries) Clean() bool {
	if len(p) == 0 {
		return false
	}
	for _, v := range p {
		if !(v > 0) {
			return false
		}
	}
	return true
}

// Last returns the most recent close, or 0 for an empty series.
func (p PriceSeries) Last() float64 {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1]
}

// Clock is the brokerage's view of the trading session.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// UntilOpen returns the time left before the next session opens.
func (c Clock) UntilOpen() time.Duration {
	if c.IsOpen || c.NextOpen.IsZero() {
		return 0
	}
	return c.NextOpen.Sub(c.Timestamp)
}

// OHLCV represents a single candlestick bar.
type OHLCV struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Closes extracts the close prices of bars in order.
func Closes(bars []OHLCV) PriceSeries {
	out := make(PriceSeries, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
