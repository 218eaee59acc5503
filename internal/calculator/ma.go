package calculator

import "math"

// SMASeries computes the trailing simple moving average of values over period,
// aligned with the input. Indices before the first full window are NaN.
func SMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Slope returns the discrete rate of change (s[i] - s[i-span]) / span, aligned
// with s. Entries without a defined predecessor are NaN.
func Slope(s []float64, span int) []float64 {
	out := make([]float64, len(s))
	for i := range s {
		if span <= 0 || i < span {
			out[i] = math.NaN()
			continue
		}
		out[i] = (s[i] - s[i-span]) / float64(span)
	}
	return out
}

// Spread returns a - b element-wise. Both slices must have equal length.
func Spread(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
