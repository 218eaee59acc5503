// Package paper simulates a brokerage account on SQLite so strategies can run
// end to end without a live account.
package paper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"SpikeTrader/internal/broker"
	"SpikeTrader/internal/collector"
	"SpikeTrader/internal/model"
)

var _ broker.Brokerage = (*Broker)(nil)

// Broker fills market orders at the latest close reported by Fetcher.
// Trailing stops rest until a mark-to-market sees the price fall through
// the stop; marks happen on every position or order listing.
type Broker struct {
	Fetcher collector.Fetcher
	// AlwaysOpen reports the market open regardless of the time of day.
	AlwaysOpen bool
	Now        func() time.Time

	store *Store
	loc   *time.Location
	log   zerolog.Logger
	mu    sync.Mutex
}

// New returns a Broker on store. startingCash seeds a fresh account and is
// ignored when the database already holds one.
func New(store *Store, f collector.Fetcher, startingCash float64, log zerolog.Logger) (*Broker, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load exchange timezone: %w", err)
	}
	if err := store.init(decimal.NewFromFloat(startingCash)); err != nil {
		return nil, fmt.Errorf("init account: %w", err)
	}
	return &Broker{
		Fetcher: f,
		Now:     time.Now,
		store:   store,
		loc:     loc,
		log:     log.With().Str("component", "paper").Logger(),
	}, nil
}

func rejected(status int, msg string) error {
	return &broker.APIError{Status: status, Message: msg}
}

func (b *Broker) price(ctx context.Context, symbol string) (float64, error) {
	return collector.LastPrice(ctx, b.Fetcher, symbol)
}

// GetAccount reports cash as buying power; a suspended account is trading-blocked.
func (b *Broker) GetAccount(ctx context.Context) (model.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, err := b.store.account()
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	cash := l.Cash.InexactFloat64()
	return model.AccountSnapshot{Cash: cash, BuyingPower: cash, TradingBlocked: l.Config.SuspendTrade}, nil
}

// GetClock reports the simulated session.
func (b *Broker) GetClock(context.Context) (model.Clock, error) {
	now := b.Now()
	if b.AlwaysOpen {
		t := now.In(b.loc)
		return model.Clock{Timestamp: t, IsOpen: true, NextOpen: t, NextClose: t.Add(24 * time.Hour)}, nil
	}
	return sessionClock(now, b.loc), nil
}

// sessionClock applies regular exchange hours, 09:30 to 16:00 on weekdays.
// Exchange holidays are not modeled.
func sessionClock(now time.Time, loc *time.Location) model.Clock {
	t := now.In(loc)
	open := time.Date(t.Year(), t.Month(), t.Day(), 9, 30, 0, 0, loc)
	closeAt := time.Date(t.Year(), t.Month(), t.Day(), 16, 0, 0, 0, loc)

	c := model.Clock{Timestamp: t}
	if tradingDay(t) && !t.Before(open) && t.Before(closeAt) {
		c.IsOpen = true
		c.NextOpen = nextTradingDay(open.AddDate(0, 0, 1))
		c.NextClose = closeAt
		return c
	}
	if !t.Before(open) {
		open = open.AddDate(0, 0, 1)
	}
	c.NextOpen = nextTradingDay(open)
	c.NextClose = time.Date(c.NextOpen.Year(), c.NextOpen.Month(), c.NextOpen.Day(), 16, 0, 0, 0, loc)
	return c
}

func tradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func nextTradingDay(t time.Time) time.Time {
	for !tradingDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// GetHistoricalCloses reads closes straight from the bar source.
func (b *Broker) GetHistoricalCloses(ctx context.Context, symbol string, g model.Granularity, count int) (model.PriceSeries, error) {
	return collector.Closes(ctx, b.Fetcher, symbol, g, count)
}

// ListPositions marks to market, then lists holdings by symbol.
func (b *Broker) ListPositions(ctx context.Context) ([]model.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.markToMarket(ctx); err != nil {
		b.log.Warn().Err(err).Msg("mark to market incomplete")
	}
	holdings, err := b.store.positions()
	if err != nil {
		return nil, err
	}
	out := make([]model.Position, len(holdings))
	for i, h := range holdings {
		out[i] = h.position()
	}
	return out, nil
}

// ListOrders marks to market, then lists orders oldest first.
func (b *Broker) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.markToMarket(ctx); err != nil {
		b.log.Warn().Err(err).Msg("mark to market incomplete")
	}
	orders, err := b.store.orders(status)
	if err != nil {
		return nil, err
	}
	out := make([]model.Order, len(orders))
	for i, o := range orders {
		out[i] = o.Order
	}
	return out, nil
}

// MarkToMarket reprices open positions and triggers trailing stops.
func (b *Broker) MarkToMarket(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.markToMarket(ctx)
}

func (b *Broker) markToMarket(ctx context.Context) error {
	prices := make(map[string]float64)
	var errs []error
	quote := func(symbol string) (float64, bool) {
		if p, ok := prices[symbol]; ok {
			return p, p > 0
		}
		p, err := b.price(ctx, symbol)
		if err != nil {
			errs = append(errs, err)
			p = 0
		}
		prices[symbol] = p
		return p, p > 0
	}

	open, err := b.store.orders(model.StatusOpen)
	if err != nil {
		return err
	}
	for _, o := range open {
		if o.Type != model.TrailingStop {
			continue
		}
		p, ok := quote(o.Symbol)
		if !ok {
			continue
		}
		if p > o.HighWater {
			o.HighWater = p
			if err := b.store.saveOrder(o); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if p > o.stopPrice() {
			continue
		}

		h, held, err := b.store.position(o.Symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !held {
			o.Status = model.StatusCanceled
			if err := b.store.saveOrder(o); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if o.Qty > h.Qty {
			o.Qty = h.Qty
		}
		if _, err := b.store.fill(o, p); err != nil {
			errs = append(errs, fmt.Errorf("fill stop %s: %w", o.ID, err))
			continue
		}
		b.log.Info().Str("symbol", o.Symbol).Float64("price", p).Float64("high_water", o.HighWater).
			Float64("qty", o.Qty).Msg("trailing stop triggered")
	}

	holdings, err := b.store.positions()
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, h := range holdings {
		if p, ok := quote(h.Symbol); ok {
			if err := b.store.markPrice(h.Symbol, p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SubmitOrder accepts market and trailing stop orders.
func (b *Broker) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	if req.Symbol == "" {
		return model.Order{}, rejected(http.StatusUnprocessableEntity, "symbol is required")
	}
	if !(req.Qty > 0) {
		return model.Order{}, rejected(http.StatusUnprocessableEntity, "qty must be > 0")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o := order{Order: model.Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Qty:           req.Qty,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Status:        model.StatusNew,
		TrailPercent:  req.TrailPercent,
		TrailPrice:    req.TrailPrice,
		CreatedAt:     b.Now().UTC(),
	}}
	if o.ClientOrderID == "" {
		o.ClientOrderID = "paper-" + uuid.NewString()
	}

	switch req.Type {
	case model.Market:
		return b.submitMarket(ctx, o)
	case model.TrailingStop:
		return b.submitTrailingStop(ctx, o)
	default:
		return model.Order{}, rejected(http.StatusUnprocessableEntity, fmt.Sprintf("order type %q is not supported", req.Type))
	}
}

func (b *Broker) submitMarket(ctx context.Context, o order) (model.Order, error) {
	p, err := b.price(ctx, o.Symbol)
	if err != nil {
		return model.Order{}, fmt.Errorf("quote %s: %w", o.Symbol, err)
	}

	switch o.Side {
	case model.Buy:
		l, err := b.store.account()
		if err != nil {
			return model.Order{}, err
		}
		cost := decimal.NewFromFloat(p).Mul(decimal.NewFromFloat(o.Qty))
		if cost.GreaterThan(l.Cash) {
			if o.TimeInForce != model.IOC {
				return model.Order{}, rejected(http.StatusForbidden, "insufficient buying power")
			}
			o.Status = model.StatusCanceled
			if err := b.store.saveOrder(o); err != nil {
				return model.Order{}, err
			}
			b.log.Info().Str("symbol", o.Symbol).Str("cost", cost.StringFixed(2)).Msg("unfunded immediate-or-cancel order canceled")
			return o.Order, nil
		}
	case model.Sell:
		if err := b.checkHeld(o.Symbol, o.Qty, ""); err != nil {
			return model.Order{}, err
		}
	default:
		return model.Order{}, rejected(http.StatusUnprocessableEntity, fmt.Sprintf("side %q is not supported", o.Side))
	}

	filled, err := b.store.fill(o, p)
	if err != nil {
		return model.Order{}, err
	}
	b.log.Info().Str("symbol", o.Symbol).Str("side", string(o.Side)).Float64("qty", o.Qty).
		Float64("price", p).Msg("market order filled")
	return filled.Order, nil
}

func (b *Broker) submitTrailingStop(ctx context.Context, o order) (model.Order, error) {
	if o.Side != model.Sell {
		return model.Order{}, rejected(http.StatusUnprocessableEntity, "trailing stops must sell")
	}
	if (o.TrailPercent > 0) == (o.TrailPrice > 0) {
		return model.Order{}, rejected(http.StatusUnprocessableEntity, "exactly one of trail_percent and trail_price is required")
	}
	if err := b.checkHeld(o.Symbol, o.Qty, o.ID); err != nil {
		return model.Order{}, err
	}
	p, err := b.price(ctx, o.Symbol)
	if err != nil {
		return model.Order{}, fmt.Errorf("quote %s: %w", o.Symbol, err)
	}
	o.HighWater = p
	if err := b.store.saveOrder(o); err != nil {
		return model.Order{}, err
	}
	b.log.Info().Str("symbol", o.Symbol).Float64("qty", o.Qty).Float64("stop", o.stopPrice()).Msg("trailing stop accepted")
	return o.Order, nil
}

// checkHeld rejects sells that would exceed the shares not already committed
// to other open sell orders. Short selling is never simulated.
func (b *Broker) checkHeld(symbol string, qty float64, except string) error {
	h, held, err := b.store.position(symbol)
	if err != nil {
		return err
	}
	if !held {
		return rejected(http.StatusForbidden, "insufficient qty available for order")
	}
	open, err := b.store.orders(model.StatusOpen)
	if err != nil {
		return err
	}
	available := h.Qty
	for _, o := range open {
		if o.Symbol == symbol && o.Side == model.Sell && o.ID != except {
			available -= o.Qty
		}
	}
	if qty > available {
		return rejected(http.StatusForbidden, fmt.Sprintf("insufficient qty available for order (requested: %g, available: %g)", qty, available))
	}
	return nil
}

// CancelOrder cancels a working order.
func (b *Broker) CancelOrder(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok, err := b.store.order(id)
	if err != nil {
		return err
	}
	if !ok {
		return rejected(http.StatusNotFound, "order not found")
	}
	if o.Status != model.StatusNew {
		return rejected(http.StatusUnprocessableEntity, fmt.Sprintf("order is %s and cannot be canceled", o.Status))
	}
	o.Status = model.StatusCanceled
	return b.store.saveOrder(o)
}

// ClosePosition sells the whole position at the latest price. Open orders on
// the symbol are canceled first.
func (b *Broker) ClosePosition(ctx context.Context, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, held, err := b.store.position(symbol)
	if err != nil {
		return err
	}
	if !held {
		return rejected(http.StatusNotFound, "position does not exist")
	}
	p, err := b.price(ctx, symbol)
	if err != nil {
		return fmt.Errorf("quote %s: %w", symbol, err)
	}

	open, err := b.store.orders(model.StatusOpen)
	if err != nil {
		return err
	}
	for _, o := range open {
		if o.Symbol != symbol {
			continue
		}
		o.Status = model.StatusCanceled
		if err := b.store.saveOrder(o); err != nil {
			return err
		}
	}

	o := order{Order: model.Order{
		ID:            uuid.NewString(),
		ClientOrderID: "paper-" + uuid.NewString(),
		Symbol:        symbol,
		Qty:           h.Qty,
		Side:          model.Sell,
		Type:          model.Market,
		TimeInForce:   model.TIFDay,
		Status:        model.StatusNew,
		CreatedAt:     b.Now().UTC(),
	}}
	if _, err := b.store.fill(o, p); err != nil {
		return err
	}
	b.log.Info().Str("symbol", symbol).Float64("qty", h.Qty).Float64("price", p).Msg("position closed")
	return nil
}

// GetAccountConfigurations returns the stored switches.
func (b *Broker) GetAccountConfigurations(context.Context) (model.AccountConfigurations, error) {
	l, err := b.store.account()
	if err != nil {
		return model.AccountConfigurations{}, err
	}
	return l.Config, nil
}

// UpdateAccountConfigurations stores cfg as given.
func (b *Broker) UpdateAccountConfigurations(_ context.Context, cfg model.AccountConfigurations) (model.AccountConfigurations, error) {
	if err := b.store.saveConfigurations(cfg); err != nil {
		return model.AccountConfigurations{}, err
	}
	return cfg, nil
}
