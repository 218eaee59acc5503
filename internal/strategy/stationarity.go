package strategy

import (
	"errors"
	"fmt"

	"SpikeTrader/internal/calculator"
	"SpikeTrader/internal/model"
)

// StationarityTest decides whether a series is mean-reverting.
type StationarityTest interface {
	Stationary(series model.PriceSeries) (bool, error)
}

// DefaultSignificance is the p-value ceiling for a stationary verdict.
const DefaultSignificance = 0.05

// ADFTest applies the augmented Dickey-Fuller test.
type ADFTest struct {
	Significance float64
}

// Test returns the raw ADF result with its verdict. The series is
// stationary when the p-value is at or below the significance level and
// the statistic is below every critical value. Constant and degenerate
// series are not stationary; a series too short for the test is a
// configuration error.
func (t ADFTest) Test(series model.PriceSeries) (calculator.ADFResult, bool, error) {
	alpha := t.Significance
	if alpha <= 0 {
		alpha = DefaultSignificance
	}
	res, err := calculator.ADF(series)
	switch {
	case errors.Is(err, calculator.ErrSeriesTooShort):
		return res, false, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	case errors.Is(err, calculator.ErrConstantSeries), errors.Is(err, calculator.ErrDegenerateRegression):
		return res, false, nil
	case err != nil:
		return res, false, err
	}
	if res.PValue > alpha {
		return res, false, nil
	}
	for _, cv := range res.Critical {
		if !(res.Stat < cv) {
			return res, false, nil
		}
	}
	return res, true, nil
}

// Stationary returns the verdict of Test.
func (t ADFTest) Stationary(series model.PriceSeries) (bool, error) {
	_, ok, err := t.Test(series)
	return ok, err
}
