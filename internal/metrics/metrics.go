package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "spiketrader_cycles_total", Help: "Evaluation cycles completed"},
	)
	CycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spiketrader_cycle_seconds",
			Help:    "Wall time of one evaluation cycle",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
		},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spiketrader_signals_total", Help: "Signal outcomes per strategy"},
		[]string{"strategy", "kind"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spiketrader_orders_total", Help: "Orders submitted"},
		[]string{"strategy", "side"},
	)
	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spiketrader_exits_total", Help: "Positions closed for profit"},
		[]string{"strategy"},
	)
	BrokerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spiketrader_broker_errors_total", Help: "Failed brokerage calls"},
		[]string{"op"},
	)
	TradeUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spiketrader_trade_updates_total", Help: "Trade update events received"},
		[]string{"event"},
	)
)

// Signal kinds.
const (
	KindFired      = "fired"
	KindSkipped    = "skipped"
	KindRejected   = "rejected"
	KindConflicted = "conflict"
)

func init() {
	prometheus.MustRegister(CyclesTotal, CycleSeconds, SignalsTotal, OrdersTotal,
		ExitsTotal, BrokerErrorsTotal, TradeUpdatesTotal)
}

// Handler serves /metrics and a trivial /healthz.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve starts Handler on addr in the background. A listener failure, such
// as the port being taken, is logged.
func Serve(addr string, log zerolog.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}
