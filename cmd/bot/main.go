package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"SpikeTrader/internal/broker"
	"SpikeTrader/internal/collector"
	"SpikeTrader/internal/config"
	"SpikeTrader/internal/logx"
	"SpikeTrader/internal/metrics"
	"SpikeTrader/internal/notifier"
	"SpikeTrader/internal/paper"
	"SpikeTrader/internal/scheduler"
	"SpikeTrader/internal/strategy"
)

func main() {
	cfgPath := flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to the YAML config")
	runNow := flag.Bool("now", os.Getenv("RUN_ON_START") == "true", "run a trading session immediately")
	cancelAll := flag.Bool("cancel-all", false, "cancel every open order and exit")
	flag.Parse()

	boot := logx.Console("info")
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		boot.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("config validation")
	}

	log := logx.New(cfg.LogLevel, nil)
	log.Info().Str("mode", cfg.Broker.Mode).Msg("SpikeTrader starting")

	b, cleanup, err := newBrokerage(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init brokerage")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *cancelAll {
		n, err := broker.CancelAllOpenOrders(ctx, b)
		if err != nil {
			log.Error().Err(err).Int("canceled", n).Msg("cancel all open orders")
			os.Exit(1)
		}
		log.Info().Int("canceled", n).Msg("all open orders canceled")
		return
	}

	var notify notifier.Notifier = notifier.Nop{}
	var tn *notifier.TelegramNotifier
	if cfg.NotifyEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		notify = tn
		go tn.Run(ctx)
	}

	sched := scheduler.NewScheduler(b, log)
	sched.Notifier = notify
	sched.Cycle = cfg.Schedule.Cycle
	sched.OpenPoll = cfg.Schedule.OpenPoll
	for _, sc := range cfg.StrategyConfigs() {
		st, err := strategy.NewSpikeStrategy(sc, b, log,
			strategy.WithNotifier(notify),
			strategy.WithMinimumReserve(cfg.Account.MinimumReserve),
		)
		if err != nil {
			log.Fatal().Err(err).Str("strategy", sc.Name).Msg("build strategy")
		}
		sched.Add(st)
	}

	if err := sched.Prepare(ctx); err != nil {
		log.Fatal().Err(err).Msg("prepare account")
	}

	srv := metrics.Serve(cfg.Metrics.Addr, log)
	log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics listening")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	if a, ok := b.(*broker.Alpaca); ok && cfg.Broker.Stream {
		ts := broker.NewTradeStream(a.BaseURL, cfg.Broker.StreamURL, cfg.Broker.KeyID, cfg.Broker.SecretKey, log)
		go func() {
			if err := ts.Run(ctx, tradeUpdateHandler(ctx, log, notify)); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("trade stream stopped")
			}
		}()
	}

	if *runNow {
		log.Info().Msg("running a session now")
		if err := sched.RunSession(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("session failed")
		}
		log.Info().Msg("SpikeTrader stopped")
		return
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		log.Fatal().Err(err).Msg("load schedule timezone")
	}
	if err := sched.ScheduleSessions(ctx, cfg.Schedule.SessionCron, loc); err != nil {
		log.Fatal().Err(err).Msg("register session task")
	}
	sched.Start()
	log.Info().Str("cron", cfg.Schedule.SessionCron).Str("tz", cfg.Schedule.Timezone).
		Msg("SpikeTrader is running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, stopping...")
	case err := <-sched.Fatal():
		log.Error().Err(err).Msg("invalid configuration, stopping")
	}
	stop()
	sched.Stop()
	log.Info().Msg("SpikeTrader stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newBrokerage(cfg *config.Config, log zerolog.Logger) (broker.Brokerage, func(), error) {
	if cfg.Broker.Mode == config.ModeAlpaca {
		a := broker.NewAlpaca(cfg.Broker.BaseURL, cfg.Broker.DataURL, cfg.Broker.KeyID, cfg.Broker.SecretKey, cfg.Proxy)
		log.Info().Str("base_url", a.BaseURL).Msg("using alpaca brokerage")
		return a, func() {}, nil
	}

	var f collector.Fetcher
	switch cfg.Paper.DataSource {
	case "mock":
		f = &collector.MockFetcher{Price: 100}
	default:
		f = collector.NewYahooFetcher(cfg.Proxy)
	}

	if dir := filepath.Dir(cfg.Paper.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := paper.OpenStore(cfg.Paper.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	pb, err := paper.New(store, f, cfg.Paper.StartingCash, log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	pb.AlwaysOpen = cfg.Paper.AlwaysOpen
	log.Info().Str("db", cfg.Paper.SQLitePath).Str("data_source", f.Name()).Msg("using paper brokerage")
	return pb, func() { store.Close() }, nil
}

func tradeUpdateHandler(ctx context.Context, log zerolog.Logger, notify notifier.Notifier) func(broker.TradeUpdate) {
	return func(u broker.TradeUpdate) {
		metrics.TradeUpdatesTotal.WithLabelValues(u.Event).Inc()
		ev := log.Info().Str("event", u.Event).Str("symbol", u.Order.Symbol).Str("side", string(u.Order.Side))
		switch u.Event {
		case "fill", "partial_fill":
			ev.Float64("price", u.Price).Float64("qty", u.Qty).Msg("order filled")
			notify.Notify(ctx, fmt.Sprintf("✅ %s %s %g @ $%.2f (%s)", u.Order.Side, u.Order.Symbol, u.Qty, u.Price, u.Event))
		default:
			ev.Msg("trade update")
		}
	}
}
