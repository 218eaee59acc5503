package collector

import (
	"context"

	"SpikeTrader/internal/model"
)

// Fetcher defines the interface for fetching historical bars.
type Fetcher interface {
	FetchBars(ctx context.Context, symbol string, g model.Granularity, count int) ([]model.OHLCV, error)
	Name() string
}
