package strategy

import (
	"context"
	"fmt"

	"SpikeTrader/internal/broker"
	"SpikeTrader/internal/model"
)

// ExposureGuard reports whether a symbol already has exposure.
type ExposureGuard interface {
	HasConflict(ctx context.Context, symbol string) (bool, error)
}

// BrokerGuard asks the brokerage on every call; nothing is cached because
// other strategies and fills change the answer between calls.
type BrokerGuard struct {
	Broker broker.Brokerage
}

// HasConflict checks fresh positions, then open orders, for symbol.
func (g BrokerGuard) HasConflict(ctx context.Context, symbol string) (bool, error) {
	positions, err := g.Broker.ListPositions(ctx)
	if err != nil {
		return false, fmt.Errorf("list positions: %w", err)
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return true, nil
		}
	}
	orders, err := g.Broker.ListOrders(ctx, model.StatusOpen)
	if err != nil {
		return false, fmt.Errorf("list open orders: %w", err)
	}
	for _, o := range orders {
		if o.Symbol == symbol {
			return true, nil
		}
	}
	return false, nil
}
