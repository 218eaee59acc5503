// Package broker defines the brokerage surface the trading core depends on
// and the Alpaca adapters that implement it.
package broker

import (
	"context"
	"errors"
	"fmt"

	"SpikeTrader/internal/model"
)

// ErrNotFound is matched by APIError values carrying a 404.
var ErrNotFound = errors.New("not found")

// Brokerage is shared by every strategy. Implementations must be safe for
// concurrent use: strategies run one after another, but operator commands
// query the brokerage from their own goroutine while a pass is in flight.
type Brokerage interface {
	GetAccount(ctx context.Context) (model.AccountSnapshot, error)
	GetClock(ctx context.Context) (model.Clock, error)
	GetHistoricalCloses(ctx context.Context, symbol string, g model.Granularity, count int) (model.PriceSeries, error)
	ListPositions(ctx context.Context) ([]model.Position, error)
	ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	SubmitOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	CancelOrder(ctx context.Context, id string) error
	ClosePosition(ctx context.Context, symbol string) error
	GetAccountConfigurations(ctx context.Context) (model.AccountConfigurations, error)
	UpdateAccountConfigurations(ctx context.Context, cfg model.AccountConfigurations) (model.AccountConfigurations, error)
}

// APIError is a non-2xx brokerage response.
type APIError struct {
	Status  int
	Code    int
	Message string
}

// Error formats the status, code and message.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("brokerage: status %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("brokerage: status %d: %s", e.Status, e.Message)
}

// Is matches ErrNotFound for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == 404
}

// CancelAllOpenOrders cancels every open order and returns how many were canceled.
// Orders that disappear before the cancel lands are not counted as failures.
func CancelAllOpenOrders(ctx context.Context, b Brokerage) (int, error) {
	orders, err := b.ListOrders(ctx, model.StatusOpen)
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}
	var errs []error
	n := 0
	for _, o := range orders {
		if err := b.CancelOrder(ctx, o.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("cancel %s (%s): %w", o.ID, o.Symbol, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
