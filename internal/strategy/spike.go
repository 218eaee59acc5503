package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"SpikeTrader/internal/broker"
	"SpikeTrader/internal/metrics"
	"SpikeTrader/internal/model"
	"SpikeTrader/internal/notifier"
)

// SpikeStrategy buys short-lived price spikes that are both stationary and
// confirmed by a moving-average crossover, protecting each entry with a
// trailing stop and taking profit once the target is reached.
type SpikeStrategy struct {
	cfg    model.StrategyConfig
	broker broker.Brokerage
	state  *model.SignalState

	stationarity StationarityTest
	crossover    CrossoverSignal
	sizer        PositionSizer
	guard        ExposureGuard
	notify       notifier.Notifier
	log          zerolog.Logger

	// read by command handlers while a pass runs
	opportunities atomic.Int64
}

// Option customizes a SpikeStrategy.
type Option func(*SpikeStrategy)

// WithStationarityTest replaces the ADF test.
func WithStationarityTest(t StationarityTest) Option {
	return func(s *SpikeStrategy) { s.stationarity = t }
}

// WithCrossover replaces the SMA crossover signal.
func WithCrossover(c CrossoverSignal) Option {
	return func(s *SpikeStrategy) { s.crossover = c }
}

// WithSizer replaces the volatility sizer.
func WithSizer(p PositionSizer) Option {
	return func(s *SpikeStrategy) { s.sizer = p }
}

// WithGuard replaces the brokerage-backed exposure check.
func WithGuard(g ExposureGuard) Option {
	return func(s *SpikeStrategy) { s.guard = g }
}

// WithNotifier sets where entry, stop-failure and exit messages go.
func WithNotifier(n notifier.Notifier) Option {
	return func(s *SpikeStrategy) { s.notify = n }
}

// WithMinimumReserve sets the reserve of the default sizer.
func WithMinimumReserve(reserve float64) Option {
	return func(s *SpikeStrategy) {
		s.sizer = VolatilitySizer{MinimumReserve: reserve, TrailPercent: s.cfg.TrailPercent}
	}
}

// NewSpikeStrategy validates cfg and wires the default components.
// The brokerage is shared with other strategies and is not owned.
func NewSpikeStrategy(cfg model.StrategyConfig, b broker.Brokerage, log zerolog.Logger, opts ...Option) (*SpikeStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: strategy %q has no brokerage", ErrInvalidConfig, cfg.Name)
	}
	s := &SpikeStrategy{
		cfg:          cfg,
		broker:       b,
		state:        model.NewSignalState(),
		stationarity: ADFTest{},
		crossover:    SMACrossover{},
		sizer:        VolatilitySizer{MinimumReserve: DefaultMinimumReserve, TrailPercent: cfg.TrailPercent},
		guard:        BrokerGuard{Broker: b},
		notify:       notifier.Nop{},
		log:          log.With().Str("strategy", cfg.Name).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the configured strategy name.
func (s *SpikeStrategy) Name() string { return s.cfg.Name }

// Config returns the strategy's parameters.
func (s *SpikeStrategy) Config() model.StrategyConfig { return s.cfg }

// Opportunities counts signals fired since the strategy was created.
// It is safe to call while a pass is running.
func (s *SpikeStrategy) Opportunities() int { return int(s.opportunities.Load()) }

// EvaluateAndAct evaluates every symbol in order and rolls the signal state
// once at the end. A brokerage failure abandons only the affected symbol;
// a configuration error stops the pass and is returned.
func (s *SpikeStrategy) EvaluateAndAct(ctx context.Context) error {
	defer s.state.Roll()

	var errs []error
	for _, symbol := range s.cfg.Symbols {
		if err := s.evaluate(ctx, symbol); err != nil {
			if errors.Is(err, ErrInvalidConfig) {
				return err
			}
			s.log.Error().Err(err).Str("symbol", symbol).Msg("symbol evaluation failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SpikeStrategy) evaluate(ctx context.Context, symbol string) error {
	log := s.log.With().Str("symbol", symbol).Logger()
	want := s.cfg.WindowSize()

	series, err := s.broker.GetHistoricalCloses(ctx, symbol, model.Minute, want)
	if err != nil {
		s.state.Set(symbol, model.Signals{})
		return s.brokerErr("get_closes", symbol, err)
	}
	if len(series) < want || !series.Clean() {
		s.state.Set(symbol, model.Signals{})
		metrics.SignalsTotal.WithLabelValues(s.cfg.Name, metrics.KindSkipped).Inc()
		log.Debug().Int("points", len(series)).Int("want", want).Msg("unusable price data, skipping")
		return nil
	}

	stationary, err := s.stationarity.Stationary(series)
	if err != nil {
		s.state.Set(symbol, model.Signals{})
		return fmt.Errorf("stationarity %s: %w", symbol, err)
	}
	crossing := s.crossover.Crossing(series, s.cfg.LongWindow, s.cfg.ShortWindow, s.cfg.SlopeSpan,
		s.cfg.MinSlope, s.cfg.MinSlopeDiff)
	s.state.Set(symbol, model.Signals{Stationary: stationary, Crossing: crossing})

	log.Debug().Bool("stationary", stationary).Bool("crossing", crossing).
		Bool("prev_stationary", s.state.Previous(symbol).Stationary).
		Bool("prev_crossing", s.state.Previous(symbol).Crossing).
		Msg("signals")

	if !s.state.Fire(symbol) {
		return nil
	}
	s.opportunities.Add(1)
	metrics.SignalsTotal.WithLabelValues(s.cfg.Name, metrics.KindFired).Inc()
	log.Info().Float64("last", series.Last()).Msg("buying opportunity")

	return s.enter(ctx, symbol, series, log)
}

func (s *SpikeStrategy) enter(ctx context.Context, symbol string, series model.PriceSeries, log zerolog.Logger) error {
	acct, err := s.broker.GetAccount(ctx)
	if err != nil {
		return s.brokerErr("get_account", symbol, err)
	}
	log.Info().Float64("cash", acct.Cash).Float64("buying_power", acct.BuyingPower).Msg("account")

	allocated, err := s.allocated(ctx)
	if err != nil {
		return s.brokerErr("list_positions", symbol, err)
	}

	intent, rej := s.sizer.Size(series, s.cfg.TargetProfit, acct.Cash, s.cfg.CapitalCeiling, allocated)
	if rej != Admitted {
		metrics.SignalsTotal.WithLabelValues(s.cfg.Name, metrics.KindRejected).Inc()
		log.Info().Stringer("reason", rej).Float64("cash", acct.Cash).Float64("allocated", allocated).
			Msg("trade not admitted")
		return nil
	}
	intent.Symbol = symbol

	if acct.TradingBlocked {
		log.Warn().Msg("account is restricted from trading, skipping order")
		return nil
	}

	conflict, err := s.guard.HasConflict(ctx, symbol)
	if err != nil {
		return s.brokerErr("exposure_check", symbol, err)
	}
	if conflict {
		metrics.SignalsTotal.WithLabelValues(s.cfg.Name, metrics.KindConflicted).Inc()
		log.Info().Msg("open order or position exists, skipping")
		return nil
	}

	entry, err := s.broker.SubmitOrder(ctx, intent.Entry())
	if err != nil {
		return s.brokerErr("submit_entry", symbol, err)
	}
	if entry.Status == model.StatusCanceled {
		// unfilled immediate-or-cancel: no position to protect
		log.Info().Str("order_id", entry.ID).Float64("qty", intent.Qty).Msg("entry canceled unfilled, no stop placed")
		return nil
	}
	metrics.OrdersTotal.WithLabelValues(s.cfg.Name, string(model.Buy)).Inc()
	log.Info().Str("order_id", entry.ID).Float64("qty", intent.Qty).Float64("cost", intent.Cost).Msg("entry submitted")

	// The stop is a separate submission; a failure here leaves the entry unprotected.
	stop, err := s.broker.SubmitOrder(ctx, intent.Exit())
	if err != nil {
		s.notify.Notify(ctx, notifier.FormatStopFailed(s.cfg.Name, symbol, err))
		return s.brokerErr("submit_stop", symbol, err)
	}
	metrics.OrdersTotal.WithLabelValues(s.cfg.Name, string(model.Sell)).Inc()
	log.Info().Str("order_id", stop.ID).Float64("trail_percent", intent.TrailPercent).Msg("trailing stop submitted")

	s.notify.Notify(ctx, notifier.FormatEntry(s.cfg.Name, *intent))
	return nil
}

// allocated sums the market value currently held in this strategy's symbols.
func (s *SpikeStrategy) allocated(ctx context.Context) (float64, error) {
	positions, err := s.broker.ListPositions(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range positions {
		if s.cfg.Owns(p.Symbol) {
			total += p.MarketValue
		}
	}
	return total, nil
}

// CheckExits closes positions in this strategy's symbols whose unrealized
// profit exceeds the target, canceling their open orders first.
func (s *SpikeStrategy) CheckExits(ctx context.Context) error {
	positions, err := s.broker.ListPositions(ctx)
	if err != nil {
		return s.brokerErr("list_positions", "", err)
	}

	var errs []error
	var orders []model.Order
	ordersLoaded := false
	for _, p := range positions {
		if !s.cfg.Owns(p.Symbol) {
			continue
		}
		log := s.log.With().Str("symbol", p.Symbol).Logger()
		log.Debug().Float64("qty", p.Qty).Float64("unrealized_pl", p.UnrealizedPL).Msg("position")
		if !(p.UnrealizedPL > s.cfg.TargetProfit) {
			continue
		}

		if !ordersLoaded {
			orders, err = s.broker.ListOrders(ctx, model.StatusOpen)
			if err != nil {
				return errors.Join(append(errs, s.brokerErr("list_orders", p.Symbol, err))...)
			}
			ordersLoaded = true
		}
		if err := s.exit(ctx, p, orders, log); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SpikeStrategy) exit(ctx context.Context, p model.Position, orders []model.Order, log zerolog.Logger) error {
	for _, o := range orders {
		if o.Symbol != p.Symbol {
			continue
		}
		if err := s.broker.CancelOrder(ctx, o.ID); err != nil && !errors.Is(err, broker.ErrNotFound) {
			return s.brokerErr("cancel_order", p.Symbol, err)
		}
		log.Info().Str("order_id", o.ID).Msg("canceled open order")
	}
	if err := s.broker.ClosePosition(ctx, p.Symbol); err != nil {
		return s.brokerErr("close_position", p.Symbol, err)
	}
	metrics.ExitsTotal.WithLabelValues(s.cfg.Name).Inc()
	log.Info().Float64("unrealized_pl", p.UnrealizedPL).Msg("position closed for profit")
	s.notify.Notify(ctx, notifier.FormatExit(s.cfg.Name, p))
	return nil
}

func (s *SpikeStrategy) brokerErr(op, symbol string, err error) error {
	metrics.BrokerErrorsTotal.WithLabelValues(op).Inc()
	if symbol == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %s: %w", op, symbol, err)
}
