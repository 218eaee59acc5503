package calculator

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrSeriesTooShort means the series cannot support the test's lag structure.
	ErrSeriesTooShort = errors.New("series too short for ADF regression")
	// ErrConstantSeries means every value is identical.
	ErrConstantSeries = errors.New("series is constant")
	// ErrDegenerateRegression means the regression matrix is singular or fits exactly.
	ErrDegenerateRegression = errors.New("degenerate ADF regression")
)

// ADFResult is the outcome of an augmented Dickey-Fuller test with a constant.
type ADFResult struct {
	Stat     float64
	PValue   float64
	UsedLag  int
	NObs     int
	Critical map[string]float64 // keyed "1%", "5%", "10%"
	ICBest   float64
}

// MinADFLength is the shortest series ADF accepts.
const MinADFLength = 4

// ADFMaxLag is the Schwert upper bound on augmentation lags, capped so the
// regression keeps at least one residual degree of freedom.
func ADFMaxLag(n int) int {
	lag := int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	if limit := n/2 - 2; limit < lag {
		lag = limit
	}
	return lag
}

// ADF runs the augmented Dickey-Fuller unit-root test (constant, no trend)
// choosing the lag by AIC, then refits the chosen lag on the longest sample.
func ADF(x []float64) (ADFResult, error) {
	n := len(x)
	if n < MinADFLength {
		return ADFResult{}, fmt.Errorf("%w: %d points, need %d", ErrSeriesTooShort, n, MinADFLength)
	}
	lo, hi := x[0], x[0]
	for _, v := range x {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if lo == hi {
		return ADFResult{}, ErrConstantSeries
	}

	maxlag := ADFMaxLag(n)
	if maxlag < 0 {
		return ADFResult{}, fmt.Errorf("%w: %d points", ErrSeriesTooShort, n)
	}
	dx := make([]float64, n-1)
	for i := range dx {
		dx[i] = x[i+1] - x[i]
	}

	bestLag, bestIC := -1, math.Inf(1)
	for lag := 0; lag <= maxlag; lag++ {
		y, design := adfDesign(x, dx, maxlag, lag)
		fit, err := ols(y, design)
		if err != nil {
			continue
		}
		if ic := fit.aic(); ic < bestIC {
			bestLag, bestIC = lag, ic
		}
	}
	if bestLag < 0 {
		return ADFResult{}, ErrDegenerateRegression
	}

	y, design := adfDesign(x, dx, bestLag, bestLag)
	fit, err := ols(y, design)
	if err != nil {
		return ADFResult{}, err
	}
	stat := fit.tvalues[1]
	if math.IsNaN(stat) || math.IsInf(stat, 0) {
		return ADFResult{}, ErrDegenerateRegression
	}

	return ADFResult{
		Stat:     stat,
		PValue:   MacKinnonP(stat),
		UsedLag:  bestLag,
		NObs:     fit.nobs,
		Critical: MacKinnonCritical(fit.nobs),
		ICBest:   bestIC,
	}, nil
}

// adfDesign regresses dx[t] on [1, x[t], dx[t-1] .. dx[t-lags]] for every t
// from trim to the end, so fits with different lags share one sample.
func adfDesign(x, dx []float64, trim, lags int) ([]float64, *mat.Dense) {
	rows := len(dx) - trim
	cols := 2 + lags
	y := make([]float64, rows)
	data := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		t := trim + r
		y[r] = dx[t]
		data = append(data, 1, x[t])
		for l := 1; l <= lags; l++ {
			data = append(data, dx[t-l])
		}
	}
	return y, mat.NewDense(rows, cols, data)
}

// MacKinnon (1994) response surface for the constant-only, single-series case.
var (
	tauMax   = 2.74
	tauMin   = -18.83
	tauStar  = -1.61
	tauSmall = []float64{2.1659, 1.4412, 3.8269e-2}
	tauLarge = []float64{1.7339, 9.3202e-1, -1.2745e-1, -1.0368e-2}
)

// MacKinnonP returns the approximate p-value of an ADF statistic.
func MacKinnonP(stat float64) float64 {
	switch {
	case stat > tauMax:
		return 1
	case stat < tauMin:
		return 0
	}
	coef := tauLarge
	if stat <= tauStar {
		coef = tauSmall
	}
	return distuv.UnitNormal.CDF(polyval(coef, stat))
}

// MacKinnon (2010) finite-sample critical value coefficients.
var critCoef = []struct {
	level string
	coef  []float64
}{
	{"1%", []float64{-3.43035, -6.5393, -16.786, -79.433}},
	{"5%", []float64{-2.86154, -2.8903, -4.234, -40.040}},
	{"10%", []float64{-2.56677, -1.5384, -2.809, 0}},
}

// MacKinnonCritical returns the 1%, 5% and 10% critical values for nobs observations.
func MacKinnonCritical(nobs int) map[string]float64 {
	inv := 1 / float64(nobs)
	out := make(map[string]float64, len(critCoef))
	for _, c := range critCoef {
		out[c.level] = polyval(c.coef, inv)
	}
	return out
}

// polyval evaluates coef[0] + coef[1]*x + coef[2]*x^2 + ...
func polyval(coef []float64, x float64) float64 {
	var out float64
	for i := len(coef) - 1; i >= 0; i-- {
		out = out*x + coef[i]
	}
	return out
}
