package calculator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// olsFit holds the pieces of an ordinary least squares fit the ADF test needs.
type olsFit struct {
	beta    []float64
	tvalues []float64
	ssr     float64
	nobs    int
	k       int
}

// aic matches the usual OLS definition: -2*llf + 2*k.
func (f olsFit) aic() float64 {
	n := float64(f.nobs)
	llf := -n/2*math.Log(2*math.Pi) - n/2*math.Log(f.ssr/n) - n/2
	return -2*llf + 2*float64(f.k)
}

func ols(y []float64, x *mat.Dense) (olsFit, error) {
	n, k := x.Dims()
	if n != len(y) {
		return olsFit{}, fmt.Errorf("ols: %d observations, %d rows", len(y), n)
	}
	if n <= k {
		return olsFit{}, ErrSeriesTooShort
	}

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, mat.NewVecDense(n, y)); err != nil {
		return olsFit{}, fmt.Errorf("%w: %v", ErrDegenerateRegression, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	var ssr float64
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		ssr += r * r
	}

	var xtx, inv mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err != nil {
		return olsFit{}, fmt.Errorf("%w: %v", ErrDegenerateRegression, err)
	}

	sigma2 := ssr / float64(n-k)
	fit := olsFit{
		beta:    make([]float64, k),
		tvalues: make([]float64, k),
		ssr:     ssr,
		nobs:    n,
		k:       k,
	}
	for i := 0; i < k; i++ {
		fit.beta[i] = beta.AtVec(i)
		fit.tvalues[i] = fit.beta[i] / math.Sqrt(sigma2*inv.At(i, i))
	}
	return fit, nil
}
