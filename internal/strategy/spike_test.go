package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"SpikeTrader/internal/model"
)

func testConfig(symbols ...string) model.StrategyConfig {
	return model.StrategyConfig{
		Name:           "tier1",
		Symbols:        symbols,
		CapitalCeiling: 5000,
		LongWindow:     10,
		ShortWindow:    3,
		SlopeSpan:      2,
		MinSlope:       0.01,
		MinSlopeDiff:   0.01,
		TargetProfit:   5,
		TrailPercent:   1,
	}
}

type harness struct {
	broker *fakeBroker
	test   *stubTest
	cross  *stubCross
	sizer  *countingSizer
	notes  *recordingNotifier
	strat  *SpikeStrategy
}

func newHarness(t *testing.T, cfg model.StrategyConfig) *harness {
	t.Helper()
	h := &harness{
		broker: newFakeBroker(),
		test:   &stubTest{},
		cross:  &stubCross{},
		sizer:  &countingSizer{inner: VolatilitySizer{MinimumReserve: DefaultMinimumReserve, TrailPercent: cfg.TrailPercent}},
		notes:  &recordingNotifier{},
	}
	s, err := NewSpikeStrategy(cfg, h.broker, zerolog.Nop(),
		WithStationarityTest(h.test), WithCrossover(h.cross), WithSizer(h.sizer), WithNotifier(h.notes))
	if err != nil {
		t.Fatalf("NewSpikeStrategy returned error: %v", err)
	}
	h.strat = s
	return h
}

func (h *harness) fire(ok bool) {
	h.test.ok = ok
	h.cross.ok = ok
}

func TestNewSpikeStrategyRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("AAPL")
	cfg.ShortWindow = 20
	_, err := NewSpikeStrategy(cfg, newFakeBroker(), zerolog.Nop())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewSpikeStrategy(testConfig("AAPL"), nil, zerolog.Nop()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for nil brokerage, got %v", err)
	}
}

func TestFireSubmitsEntryThenTrailingStop(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.closes["AAPL"] = alternating(12, 100)
	h.fire(true)

	if err := h.strat.EvaluateAndAct(context.Background()); err != nil {
		t.Fatalf("EvaluateAndAct returned error: %v", err)
	}
	if len(h.broker.submitted) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(h.broker.submitted))
	}
	entry, stop := h.broker.submitted[0], h.broker.submitted[1]
	// half std = sqrt(12/11)/2 ≈ 0.522, 5/0.522 ≈ 9.57 → 10 shares
	if entry.Symbol != "AAPL" || entry.Qty != 10 || entry.Side != model.Buy ||
		entry.Type != model.Market || entry.TimeInForce != model.IOC {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if stop.Symbol != "AAPL" || stop.Qty != 10 || stop.Side != model.Sell ||
		stop.Type != model.TrailingStop || stop.TimeInForce != model.GTC || stop.TrailPercent != 1 {
		t.Fatalf("unexpected stop: %+v", stop)
	}
	if h.strat.Opportunities() != 1 {
		t.Fatalf("expected 1 opportunity, got %d", h.strat.Opportunities())
	}
	if len(h.notes.messages) != 1 || !strings.Contains(h.notes.messages[0], "AAPL") {
		t.Fatalf("expected entry notification, got %v", h.notes.messages)
	}
}

func TestUnusableSeriesSkipsSymbol(t *testing.T) {
	tests := []struct {
		name   string
		series model.PriceSeries
	}{
		{"zero close", func() model.PriceSeries { s := alternating(12, 100); s[5] = 0; return s }()},
		{"negative close", func() model.PriceSeries { s := alternating(12, 100); s[11] = -1; return s }()},
		{"too few points", alternating(8, 100)},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig("AAPL"))
			h.broker.closes["AAPL"] = tt.series
			h.fire(true)

			if err := h.strat.EvaluateAndAct(context.Background()); err != nil {
				t.Fatalf("EvaluateAndAct returned error: %v", err)
			}
			if h.test.calls != 0 || h.cross.calls != 0 || h.sizer.calls != 0 {
				t.Fatalf("signals ran on unusable data: test=%d cross=%d sizer=%d",
					h.test.calls, h.cross.calls, h.sizer.calls)
			}
			if len(h.broker.submitted) != 0 {
				t.Fatal("orders submitted on unusable data")
			}
		})
	}
}

func TestRequestsLongWindowPlusTwo(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.closes["AAPL"] = alternating(40, 100)

	if err := h.strat.EvaluateAndAct(context.Background()); err != nil {
		t.Fatalf("EvaluateAndAct returned error: %v", err)
	}
	if h.test.calls != 1 {
		t.Fatalf("expected the test to run once, ran %d", h.test.calls)
	}
}

func TestOneCycleLookback(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.closes["AAPL"] = alternating(12, 100)
	ctx := context.Background()

	steps := []struct {
		stationary, crossing bool
		wantOrders           int
	}{
		{true, false, 0},  // stationary only
		{false, true, 2},  // crossing now, stationary last cycle
		{false, false, 2}, // crossing last cycle but no stationarity in either
		{false, true, 2},  // stationarity is two cycles old
		{true, false, 4},  // stationary now, crossing last cycle
	}
	for i, st := range steps {
		h.test.ok, h.cross.ok = st.stationary, st.crossing
		h.broker.positions, h.broker.orders = nil, nil
		if err := h.strat.EvaluateAndAct(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if len(h.broker.submitted) != st.wantOrders {
			t.Fatalf("cycle %d: expected %d orders, got %d", i, st.wantOrders, len(h.broker.submitted))
		}
	}
}

func TestSymbolsAreIndependent(t *testing.T) {
	h := newHarness(t, testConfig("AAPL", "MSFT"))
	h.broker.closes["AAPL"] = alternating(12, 100)
	h.broker.closes["MSFT"] = alternating(12, 100)
	ctx := context.Background()

	h.test.ok = true
	h.broker.closes["MSFT"] = nil // MSFT unusable this cycle
	if err := h.strat.EvaluateAndAct(ctx); err != nil {
		t.Fatal(err)
	}
	h.test.ok, h.cross.ok = false, true
	h.broker.closes["MSFT"] = alternating(12, 100)
	if err := h.strat.EvaluateAndAct(ctx); err != nil {
		t.Fatal(err)
	}
	// only AAPL carried a stationary verdict into this cycle
	if len(h.broker.submitted) != 2 || h.broker.submitted[0].Symbol != "AAPL" {
		t.Fatalf("unexpected orders: %+v", h.broker.submitted)
	}
}

func TestOpenOrderBlocksSubmit(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.closes["AAPL"] = alternating(12, 100)
	h.broker.orders = []model.Order{{ID: "x", Symbol: "AAPL", Status: model.StatusNew}}
	h.fire(true)

	if err := h.strat.EvaluateAndAct(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.broker.count("SubmitOrder") != 0 {
		t.Fatal("submit_order called despite an open order")
	}
}

func TestOpenPositionBlocksSubmit(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.closes["AAPL"] = alternating(12, 100)
	h.broker.positions = []model.Position{{Symbol: "AAPL", Qty: 3, MarketValue: 300}}
	h.fire(true)

	if err := h.strat.EvaluateAndAct(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.broker.count("SubmitOrder") != 0 {
		t.Fatal("submit_order called despite an open position")
	}
}

func TestUnderfundedSkipsGuardAndSubmit(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.closes["AAPL"] = alternating(12, 58) // last 60, qty 10, cost 600
	h.broker.account.Cash = 1000
	h.fire(true)

	if err := h.strat.EvaluateAndAct(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.sizer.calls != 1 {
		t.Fatalf("expected sizer to run once, ran %d", h.sizer.calls)
	}
	if h.broker.count("SubmitOrder") != 0 || h.broker.count("ListOrders") != 0 {
		t.Fatalf("underfunded trade reached the guard or brokerage: %v", h.broker.calls)
	}
}

func TestAllocatedCountsOnlyOwnSymbols(t *testing.T) {
	h := newHarness(t, testConfig("AAPL", "MSFT"))
	h.broker.closes["AAPL"] = alternating(12, 100) // cost 1020
	h.broker.closes["MSFT"] = nil
	h.broker.positions = []model.Position{{Symbol: "XOM", MarketValue: 100000}}
	h.fire(true)

	if err := h.strat.EvaluateAndAct(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.broker.submitted) != 2 {
		t.Fatalf("foreign positions must not count against the ceiling, got %d orders", len(h.broker.submitted))
	}

	h2 := newHarness(t, testConfig("AAPL", "MSFT"))
	h2.broker.closes["AAPL"] = alternating(12, 100)
	h2.broker.positions = []model.Position{{Symbol: "MSFT", MarketValue: 4000}}
	h2.fire(true)
	if err := h2.strat.EvaluateAndAct(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h2.broker.submitted) != 0 {
		t.Fatal("4000 allocated + 1020 cost must exceed the 5000 ceiling")
	}
}

func TestTradingBlockedSkipsOrders(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.closes["AAPL"] = alternating(12, 100)
	h.broker.account.TradingBlocked = true
	h.fire(true)

	if err := h.strat.EvaluateAndAct(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.broker.count("SubmitOrder") != 0 {
		t.Fatal("orders submitted on a blocked account")
	}
}

func TestCanceledEntryPlacesNoStop(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.closes["AAPL"] = alternating(12, 100)
	h.broker.entryStatus = model.StatusCanceled
	h.fire(true)

	if err := h.strat.EvaluateAndAct(context.Background()); err != nil {
		t.Fatalf("EvaluateAndAct returned error: %v", err)
	}
	if len(h.broker.submitted) != 1 || h.broker.submitted[0].Type != model.Market {
		t.Fatalf("only the entry should be submitted, got %+v", h.broker.submitted)
	}
	if len(h.notes.messages) != 0 {
		t.Fatalf("no notification expected for an unfilled entry, got %v", h.notes.messages)
	}
	if h.strat.Opportunities() != 1 {
		t.Fatalf("the signal still counts as an opportunity, got %d", h.strat.Opportunities())
	}
}

func TestStopFailureLeavesEntryInPlace(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.closes["AAPL"] = alternating(12, 100)
	h.broker.submitErr[model.TrailingStop] = errBrokerDown
	h.fire(true)

	err := h.strat.EvaluateAndAct(context.Background())
	if err == nil || !errors.Is(err, errBrokerDown) {
		t.Fatalf("expected stop failure to be reported, got %v", err)
	}
	if errors.Is(err, ErrInvalidConfig) {
		t.Fatal("brokerage failure must not be a configuration error")
	}
	if len(h.broker.submitted) != 1 || h.broker.submitted[0].Type != model.Market {
		t.Fatalf("entry should stand alone, got %+v", h.broker.submitted)
	}
	if len(h.broker.canceled) != 0 || len(h.broker.closed) != 0 {
		t.Fatal("nothing should be rolled back")
	}
	if len(h.notes.messages) != 1 || !strings.Contains(h.notes.messages[0], "Unprotected") {
		t.Fatalf("expected unprotected-position warning, got %v", h.notes.messages)
	}
}

func TestBrokerErrorAbandonsOnlyThatSymbol(t *testing.T) {
	h := newHarness(t, testConfig("AAPL", "MSFT"))
	h.broker.closesErr["AAPL"] = errBrokerDown
	h.broker.closes["MSFT"] = alternating(12, 100)
	h.fire(true)

	err := h.strat.EvaluateAndAct(context.Background())
	if !errors.Is(err, errBrokerDown) || errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected wrapped brokerage error, got %v", err)
	}
	if len(h.broker.submitted) != 2 || h.broker.submitted[0].Symbol != "MSFT" {
		t.Fatalf("MSFT should still trade, got %+v", h.broker.submitted)
	}
}

func TestConfigErrorStopsPass(t *testing.T) {
	h := newHarness(t, testConfig("AAPL", "MSFT"))
	h.broker.closes["AAPL"] = alternating(12, 100)
	h.broker.closes["MSFT"] = alternating(12, 100)
	h.test.err = ErrInvalidConfig

	err := h.strat.EvaluateAndAct(context.Background())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if len(h.broker.closeRequests) != 1 {
		t.Fatalf("MSFT should not be evaluated after a configuration error, requests: %v", h.broker.closeRequests)
	}
}

func TestCheckExitsOnlyTouchesOwnSymbols(t *testing.T) {
	h := newHarness(t, testConfig("AAPL", "MSFT"))
	h.broker.positions = []model.Position{
		{Symbol: "AAPL", Qty: 10, UnrealizedPL: 6},
		{Symbol: "MSFT", Qty: 5, UnrealizedPL: 5}, // not above target
		{Symbol: "XOM", Qty: 50, UnrealizedPL: 500},
	}
	h.broker.orders = []model.Order{
		{ID: "stop-aapl", Symbol: "AAPL"},
		{ID: "stop-msft", Symbol: "MSFT"},
		{ID: "stop-xom", Symbol: "XOM"},
	}

	if err := h.strat.CheckExits(context.Background()); err != nil {
		t.Fatalf("CheckExits returned error: %v", err)
	}
	if len(h.broker.canceled) != 1 || h.broker.canceled[0] != "stop-aapl" {
		t.Fatalf("unexpected cancels: %v", h.broker.canceled)
	}
	if len(h.broker.closed) != 1 || h.broker.closed[0] != "AAPL" {
		t.Fatalf("unexpected closes: %v", h.broker.closed)
	}
	// cancel must precede close
	var cancelAt, closeAt int
	for i, c := range h.broker.calls {
		switch c {
		case "CancelOrder":
			cancelAt = i
		case "ClosePosition":
			closeAt = i
		}
	}
	if cancelAt > closeAt {
		t.Fatalf("position closed before its orders were canceled: %v", h.broker.calls)
	}
}

func TestCheckExitsListError(t *testing.T) {
	h := newHarness(t, testConfig("AAPL"))
	h.broker.listErr = errBrokerDown
	if err := h.strat.CheckExits(context.Background()); !errors.Is(err, errBrokerDown) {
		t.Fatalf("expected brokerage error, got %v", err)
	}
}

func TestEndToEndWithRealComponents(t *testing.T) {
	cfg := testConfig("AAPL")
	cfg.LongWindow, cfg.ShortWindow, cfg.SlopeSpan = 5, 3, 1
	b := newFakeBroker()
	s, err := NewSpikeStrategy(cfg, b, zerolog.Nop(), WithMinimumReserve(500))
	if err != nil {
		t.Fatal(err)
	}
	// flat then a step: crossover fires but a near-constant series is not stationary
	b.closes["AAPL"] = model.PriceSeries{10, 10, 10, 10, 10, 10, 12}
	if err := s.EvaluateAndAct(context.Background()); err != nil {
		t.Fatalf("EvaluateAndAct returned error: %v", err)
	}
	if len(b.submitted) != 0 {
		t.Fatalf("expected no trade without stationarity, got %+v", b.submitted)
	}
}
