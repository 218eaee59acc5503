package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"SpikeTrader/internal/broker"
	"SpikeTrader/internal/metrics"
	"SpikeTrader/internal/model"
	"SpikeTrader/internal/notifier"
	"SpikeTrader/internal/strategy"
)

// ErrSessionRunning is returned when a session is already in progress.
var ErrSessionRunning = errors.New("trading session already running")

// Scheduler runs every registered strategy once per cycle while the market is open.
type Scheduler struct {
	Broker     broker.Brokerage
	Strategies []strategy.Strategy
	Notifier   notifier.Notifier
	Cron       *cron.Cron

	// Cycle is the target wall-clock period of one pass over all strategies.
	Cycle time.Duration
	// OpenPoll is how often the clock is re-read while waiting.
	OpenPoll time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	log     zerolog.Logger
	running atomic.Bool
	fatal   chan error
}

// NewScheduler creates a Scheduler sharing b across strategies.
func NewScheduler(b broker.Brokerage, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Broker:   b,
		Notifier: notifier.Nop{},
		Cycle:    60 * time.Second,
		OpenPoll: 60 * time.Second,
		Now:      time.Now,
		Sleep:    sleepCtx,
		log:      log.With().Str("component", "scheduler").Logger(),
		fatal:    make(chan error, 1),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Add registers a strategy; strategies run in registration order.
func (s *Scheduler) Add(st strategy.Strategy) {
	s.Strategies = append(s.Strategies, st)
	s.log.Info().Str("strategy", st.Name()).Int("count", len(s.Strategies)).Msg("strategy registered")
}

func (s *Scheduler) names() []string {
	out := make([]string, len(s.Strategies))
	for i, st := range s.Strategies {
		out[i] = st.Name()
	}
	return out
}

// Prepare disables short selling on the account and logs its state.
func (s *Scheduler) Prepare(ctx context.Context) error {
	acct, err := s.Broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acct.TradingBlocked {
		s.log.Warn().Msg("account is currently restricted from trading")
	} else {
		s.log.Info().Float64("cash", acct.Cash).Float64("buying_power", acct.BuyingPower).Msg("account is not blocked")
	}

	cfg, err := s.Broker.GetAccountConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("get account configurations: %w", err)
	}
	if !cfg.NoShorting {
		cfg.NoShorting = true
		if cfg, err = s.Broker.UpdateAccountConfigurations(ctx, cfg); err != nil {
			return fmt.Errorf("disable shorting: %w", err)
		}
		s.log.Info().Msg("short selling is now disabled on this account")
	}
	s.log.Info().Bool("no_shorting", cfg.NoShorting).Str("dtbp_check", cfg.DTBPCheck).
		Str("trade_confirm_email", cfg.TradeConfirmEmail).Bool("suspend_trade", cfg.SuspendTrade).
		Msg("account configurations")
	return nil
}

// WaitForOpen blocks until the brokerage reports the market open.
func (s *Scheduler) WaitForOpen(ctx context.Context) error {
	announced := false
	for {
		clock, err := s.Broker.GetClock(ctx)
		switch {
		case err != nil:
			metrics.BrokerErrorsTotal.WithLabelValues("get_clock").Inc()
			s.log.Warn().Err(err).Msg("read clock failed")
		case clock.IsOpen:
			if !announced {
				s.log.Info().Msg("market is already open")
			} else {
				s.log.Info().Msg("market opened")
			}
			return nil
		default:
			if !announced {
				s.log.Info().Msg("market is not yet open, waiting for it to open")
				announced = true
			}
			s.log.Info().Int("minutes", int(clock.UntilOpen().Minutes())).Time("next_open", clock.NextOpen).
				Msg("minutes until market open")
		}
		if err := s.Sleep(ctx, s.OpenPoll); err != nil {
			return err
		}
	}
}

// Run cycles through the strategies until the market closes. Each cycle is
// paced to Cycle measured from its start; an overrunning cycle is followed
// immediately by the next with no catch-up. Strategy passes run to
// completion even if ctx is cancelled meanwhile.
func (s *Scheduler) Run(ctx context.Context) error {
	passCtx := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock, err := s.Broker.GetClock(ctx)
		if err != nil {
			metrics.BrokerErrorsTotal.WithLabelValues("get_clock").Inc()
			s.log.Warn().Err(err).Msg("read clock failed, retrying")
			if err := s.Sleep(ctx, s.OpenPoll); err != nil {
				return err
			}
			continue
		}
		if !clock.IsOpen {
			s.log.Info().Msg("market closed, stopping")
			return nil
		}

		start := s.Now()
		if err := s.cycle(passCtx); err != nil {
			return err
		}
		elapsed := s.Now().Sub(start)
		metrics.CyclesTotal.Inc()
		metrics.CycleSeconds.Observe(elapsed.Seconds())

		wait := s.Cycle - elapsed
		if wait <= 0 {
			s.log.Warn().Dur("elapsed", elapsed).Msg("cycle overran its period, starting next immediately")
			continue
		}
		s.log.Debug().Dur("elapsed", elapsed).Dur("wait", wait).Msg("cycle done")
		if err := s.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) error {
	for _, st := range s.Strategies {
		if err := st.EvaluateAndAct(ctx); err != nil {
			if errors.Is(err, strategy.ErrInvalidConfig) {
				return fmt.Errorf("strategy %q: %w", st.Name(), err)
			}
			s.log.Error().Err(err).Str("strategy", st.Name()).Msg("evaluation pass had errors")
		}
	}
	for _, st := range s.Strategies {
		if err := st.CheckExits(ctx); err != nil {
			if errors.Is(err, strategy.ErrInvalidConfig) {
				return fmt.Errorf("strategy %q: %w", st.Name(), err)
			}
			s.log.Error().Err(err).Str("strategy", st.Name()).Msg("exit pass had errors")
		}
	}
	s.logOpportunities()
	return nil
}

// logOpportunities logs each strategy's count in registration order.
func (s *Scheduler) logOpportunities() {
	for _, st := range s.Strategies {
		if r, ok := st.(strategy.Reporter); ok {
			s.log.Info().Str("strategy", st.Name()).Int("opportunities", r.Opportunities()).Msg("opportunities found this run")
		}
	}
}

func (s *Scheduler) opportunities() map[string]int {
	out := make(map[string]int, len(s.Strategies))
	for _, st := range s.Strategies {
		if r, ok := st.(strategy.Reporter); ok {
			out[st.Name()] = r.Opportunities()
		}
	}
	return out
}

// RunSession waits for the open and trades until the close. Only one
// session runs at a time.
func (s *Scheduler) RunSession(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	defer s.running.Store(false)

	if err := s.WaitForOpen(ctx); err != nil {
		return err
	}
	s.log.Info().Strs("strategies", s.names()).Msg("session started")
	s.Notifier.Notify(ctx, notifier.FormatSession(true, s.names(), s.Now()))

	err := s.Run(ctx)

	s.log.Info().Err(err).Msg("session ended")
	s.Notifier.Notify(ctx, notifier.FormatSession(false, nil, s.Now()))
	return err
}

// ScheduleSessions registers a cron job that starts a session on the
// six-field cron expression expr, evaluated in loc.
func (s *Scheduler) ScheduleSessions(ctx context.Context, expr string, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	s.Cron = cron.New(cron.WithSeconds(), cron.WithLocation(loc))
	if _, err := s.Cron.AddFunc(expr, func() { s.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("register session task: %w", err)
	}
	return nil
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	err := s.RunSession(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, ErrSessionRunning):
		s.log.Warn().Msg("previous session still running, skipping")
	case errors.Is(err, strategy.ErrInvalidConfig):
		select {
		case s.fatal <- err:
		default:
		}
	default:
		s.log.Error().Err(err).Msg("session failed")
	}
}

// Fatal delivers errors that should stop the process.
func (s *Scheduler) Fatal() <-chan error { return s.fatal }

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	if s.Cron == nil {
		return
	}
	s.Cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.Cron == nil {
		return
	}
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	switch command {
	case "/status":
		acct, err := s.Broker.GetAccount(ctx)
		if err != nil {
			return fmt.Sprintf("❌ account unavailable: %v", err)
		}
		clock, err := s.Broker.GetClock(ctx)
		if err != nil {
			return fmt.Sprintf("❌ clock unavailable: %v", err)
		}
		return notifier.FormatStatus(acct, clock, s.opportunities())
	case "/positions":
		positions, err := s.Broker.ListPositions(ctx)
		if err != nil {
			return fmt.Sprintf("❌ positions unavailable: %v", err)
		}
		return notifier.FormatPositions(positions)
	case "/orders":
		orders, err := s.Broker.ListOrders(ctx, model.StatusOpen)
		if err != nil {
			return fmt.Sprintf("❌ orders unavailable: %v", err)
		}
		return fmt.Sprintf("Open orders: %d", len(orders))
	default:
		return "Commands:\n• /status\n• /positions\n• /orders"
	}
}
