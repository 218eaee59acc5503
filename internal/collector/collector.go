package collector

import (
	"context"
	"fmt"
	"time"

	"SpikeTrader/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Price float64
	// Bars, when set, is returned for every symbol instead of generated data.
	Bars map[string][]model.OHLCV
	Now  func() time.Time
}

// Name identifies the source in logs.
func (m *MockFetcher) Name() string { return "mock" }

// FetchBars returns the fixed bars for symbol, or synthetic ones ending now.
func (m *MockFetcher) FetchBars(_ context.Context, symbol string, g model.Granularity, count int) ([]model.OHLCV, error) {
	if bars, ok := m.Bars[symbol]; ok {
		return tail(bars, count), nil
	}
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}
	return generateMockBars(m.Price, count, step(g), now), nil
}

func generateMockBars(basePrice float64, count int, width time.Duration, end time.Time) []model.OHLCV {
	if basePrice <= 0 {
		basePrice = 100
	}
	bars := make([]model.OHLCV, count)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + float64(i-count/2)*0.001)
		bars[i] = model.OHLCV{
			Time:   end.Add(-time.Duration(count-i) * width),
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		}
	}
	return bars
}

func step(g model.Granularity) time.Duration {
	switch g {
	case model.FiveMinutes:
		return 5 * time.Minute
	case model.FifteenMinutes:
		return 15 * time.Minute
	case model.Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func tail(bars []model.OHLCV, count int) []model.OHLCV {
	if count > 0 && len(bars) > count {
		return bars[len(bars)-count:]
	}
	return bars
}

// Closes fetches the most recent count bars and returns their closes, oldest first.
func Closes(ctx context.Context, f Fetcher, symbol string, g model.Granularity, count int) (model.PriceSeries, error) {
	bars, err := f.FetchBars(ctx, symbol, g, count)
	if err != nil {
		return nil, fmt.Errorf("fetch %s bars for %s: %w", g, symbol, err)
	}
	return model.Closes(tail(bars, count)), nil
}

// LastPrice returns the latest usable close for symbol, skipping empty bars.
func LastPrice(ctx context.Context, f Fetcher, symbol string) (float64, error) {
	closes, err := Closes(ctx, f, symbol, model.Minute, 5)
	if err != nil {
		return 0, err
	}
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] > 0 {
			return closes[i], nil
		}
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}
