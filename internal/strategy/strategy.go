// Package strategy turns price series into orders: it detects stationary
// price spikes with a confirmed moving-average crossover, sizes the trade,
// checks for existing exposure and submits entry and protective exit orders.
package strategy

import (
	"context"
	"errors"
)

// ErrInvalidConfig marks errors that no amount of retrying will fix.
// The scheduler stops when it sees one.
var ErrInvalidConfig = errors.New("invalid strategy configuration")

// Strategy is one independently configured trading strategy.
type Strategy interface {
	Name() string
	// EvaluateAndAct runs one evaluation pass over every configured symbol.
	EvaluateAndAct(ctx context.Context) error
	// CheckExits closes this strategy's positions that reached the profit target.
	CheckExits(ctx context.Context) error
}

// Reporter is implemented by strategies that count opportunities.
type Reporter interface {
	Opportunities() int
}
