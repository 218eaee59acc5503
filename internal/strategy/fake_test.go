package strategy

import (
	"context"
	"errors"
	"fmt"

	"SpikeTrader/internal/model"
)

// fakeBroker is an in-memory Brokerage that records what the strategy asks for.
type fakeBroker struct {
	closes    map[string]model.PriceSeries
	closesErr map[string]error
	account   model.AccountSnapshot
	positions []model.Position
	orders    []model.Order
	submitErr map[model.OrderType]error
	listErr   error
	// entryStatus, when set, is reported for market orders instead of new.
	entryStatus model.OrderStatus

	closeRequests []string
	submitted     []model.OrderRequest
	canceled      []string
	closed        []string
	calls         []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		closes:    map[string]model.PriceSeries{},
		closesErr: map[string]error{},
		submitErr: map[model.OrderType]error{},
		account:   model.AccountSnapshot{Cash: 10000, BuyingPower: 20000},
	}
}

func (f *fakeBroker) GetAccount(context.Context) (model.AccountSnapshot, error) {
	f.calls = append(f.calls, "GetAccount")
	return f.account, nil
}

func (f *fakeBroker) GetClock(context.Context) (model.Clock, error) {
	return model.Clock{IsOpen: true}, nil
}

func (f *fakeBroker) GetHistoricalCloses(_ context.Context, symbol string, _ model.Granularity, count int) (model.PriceSeries, error) {
	f.closeRequests = append(f.closeRequests, symbol)
	if err := f.closesErr[symbol]; err != nil {
		return nil, err
	}
	s := f.closes[symbol]
	if len(s) > count {
		s = s[len(s)-count:]
	}
	return s, nil
}

func (f *fakeBroker) ListPositions(context.Context) ([]model.Position, error) {
	f.calls = append(f.calls, "ListPositions")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.positions, nil
}

func (f *fakeBroker) ListOrders(_ context.Context, status model.OrderStatus) ([]model.Order, error) {
	f.calls = append(f.calls, "ListOrders")
	if status != model.StatusOpen {
		return nil, fmt.Errorf("unexpected status %s", status)
	}
	return f.orders, nil
}

func (f *fakeBroker) SubmitOrder(_ context.Context, req model.OrderRequest) (model.Order, error) {
	f.calls = append(f.calls, "SubmitOrder")
	if err := f.submitErr[req.Type]; err != nil {
		return model.Order{}, err
	}
	f.submitted = append(f.submitted, req)
	status := model.StatusNew
	if req.Type == model.Market && f.entryStatus != "" {
		status = f.entryStatus
	}
	return model.Order{ID: fmt.Sprintf("o-%d", len(f.submitted)), Symbol: req.Symbol, Qty: req.Qty,
		Side: req.Side, Type: req.Type, TimeInForce: req.TimeInForce, Status: status}, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, id string) error {
	f.calls = append(f.calls, "CancelOrder")
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeBroker) ClosePosition(_ context.Context, symbol string) error {
	f.calls = append(f.calls, "ClosePosition")
	f.closed = append(f.closed, symbol)
	return nil
}

func (f *fakeBroker) GetAccountConfigurations(context.Context) (model.AccountConfigurations, error) {
	return model.AccountConfigurations{}, nil
}

func (f *fakeBroker) UpdateAccountConfigurations(_ context.Context, cfg model.AccountConfigurations) (model.AccountConfigurations, error) {
	return cfg, nil
}

func (f *fakeBroker) count(call string) int {
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

type stubTest struct {
	ok    bool
	err   error
	calls int
}

func (s *stubTest) Stationary(model.PriceSeries) (bool, error) {
	s.calls++
	return s.ok, s.err
}

type stubCross struct {
	ok    bool
	calls int
}

func (s *stubCross) Crossing(model.PriceSeries, int, int, int, float64, float64) bool {
	s.calls++
	return s.ok
}

type countingSizer struct {
	inner PositionSizer
	calls int
}

func (c *countingSizer) Size(series model.PriceSeries, targetProfit, cash, ceiling, allocated float64) (*model.OrderIntent, Rejection) {
	c.calls++
	return c.inner.Size(series, targetProfit, cash, ceiling, allocated)
}

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, text string) {
	r.messages = append(r.messages, text)
}

var errBrokerDown = errors.New("brokerage unavailable")

// alternating returns n closes swinging between lo and lo+2, ending on lo+2
// when n is even. Its sample standard deviation is sqrt(n/(n-1)).
func alternating(n int, lo float64) model.PriceSeries {
	out := make(model.PriceSeries, n)
	for i := range out {
		out[i] = lo
		if i%2 == 1 {
			out[i] = lo + 2
		}
	}
	return out
}
