package strategy

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"SpikeTrader/internal/model"
)

// DefaultMinimumReserve is the cash that must remain after any purchase.
const DefaultMinimumReserve = 500.0

// Rejection explains why a sized trade was not admitted.
type Rejection int

const (
	Admitted Rejection = iota
	RejectFlatSeries
	RejectZeroQty
	RejectUnderfunded
)

// String names the rejection for logs.
func (r Rejection) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case RejectFlatSeries:
		return "flat_series"
	case RejectZeroQty:
		return "zero_qty"
	case RejectUnderfunded:
		return "underfunded"
	default:
		return "unknown"
	}
}

// PositionSizer converts a signal into an admitted order intent.
type PositionSizer interface {
	Size(series model.PriceSeries, targetProfit, cash, ceiling, allocated float64) (*model.OrderIntent, Rejection)
}

// VolatilitySizer buys enough shares that a half standard deviation move
// earns the target profit.
type VolatilitySizer struct {
	MinimumReserve float64
	TrailPercent   float64
}

// Size sizes a trade from half the sample standard deviation and gates it on reserve and ceiling.
func (v VolatilitySizer) Size(series model.PriceSeries, targetProfit, cash, ceiling, allocated float64) (*model.OrderIntent, Rejection) {
	if len(series) < 2 || constant(series) {
		return nil, RejectFlatSeries
	}
	halfStd := stat.StdDev(series, nil) / 2
	if halfStd == 0 || math.IsNaN(halfStd) || math.IsInf(halfStd, 0) {
		return nil, RejectFlatSeries
	}
	qty := math.Max(0, math.Round(targetProfit/halfStd))
	if qty == 0 {
		return nil, RejectZeroQty
	}

	price := series.Last()
	cost := price * qty
	if cash-cost <= v.MinimumReserve || cost >= ceiling-allocated {
		return nil, RejectUnderfunded
	}
	return &model.OrderIntent{
		Qty:          qty,
		Price:        price,
		Cost:         cost,
		EntryType:    model.Market,
		EntryTIF:     model.IOC,
		ExitType:     model.TrailingStop,
		ExitTIF:      model.GTC,
		TrailPercent: v.TrailPercent,
	}, Admitted
}

func constant(series model.PriceSeries) bool {
	for _, v := range series[1:] {
		if v != series[0] {
			return false
		}
	}
	return true
}
