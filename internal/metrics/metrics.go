// Package metrics provides Prometheus metrics for the trading engine.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Lifecycle
	Buys          *prometheus.CounterVec
	Exits         *prometheus.CounterVec
	PartialTakes  prometheus.Counter
	BuyRejections *prometheus.CounterVec

	// Portfolio
	OpenPositions prometheus.Gauge
	SlotsUsed     prometheus.Gauge
	TradingPaused prometheus.Gauge

	// Monitor
	CycleDuration  prometheus.Histogram
	QuoteFailures  prometheus.Counter
	Reconciliation *prometheus.CounterVec

	// Supervisor
	TaskRestarts *prometheus.CounterVec
}

func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "intraday_trader"
	}
	f := promauto.With(reg)

	return &Metrics{
		Buys: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "buys_total",
			Help:      "Filled entries and pyramid adds by strategy",
		}, []string{"strategy"}),
		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "exits_total",
			Help:      "Full exits by reason kind",
		}, []string{"reason"}),
		PartialTakes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "partial_takes_total",
			Help:      "Partial profit-takes executed",
		}),
		BuyRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "buy_rejections_total",
			Help:      "Buys refused before or at the venue, by cause",
		}, []string{"cause"}),

		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "open_positions",
			Help:      "Positions currently tracked",
		}),
		SlotsUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "slots_used",
			Help:      "Capital slots in use (sum of pyramid level + 1)",
		}),
		TradingPaused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "trading_paused",
			Help:      "1 while new buys are disabled",
		}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one monitoring cycle",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		QuoteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "quote_failures_total",
			Help:      "Positions skipped for a cycle because the quote failed",
		}),
		Reconciliation: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "reconciliation_events_total",
			Help:      "Ledger corrections by kind",
		}, []string{"kind"}),

		TaskRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "task_restarts_total",
			Help:      "Supervised task restarts by task",
		}, []string{"task"}),
	}
}

func (m *Metrics) RecordBuy(strategy string) {
	if m == nil {
		return
	}
	m.Buys.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RecordExit(reason string) {
	if m == nil {
		return
	}
	m.Exits.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPartial() {
	if m == nil {
		return
	}
	m.PartialTakes.Inc()
}

func (m *Metrics) RecordBuyRejection(cause string) {
	if m == nil {
		return
	}
	m.BuyRejections.WithLabelValues(cause).Inc()
}

// SetPortfolio updates the portfolio gauges.
func (m *Metrics) SetPortfolio(positions, slots int, paused bool) {
	if m == nil {
		return
	}
	m.OpenPositions.Set(float64(positions))
	m.SlotsUsed.Set(float64(slots))
	if paused {
		m.TradingPaused.Set(1)
	} else {
		m.TradingPaused.Set(0)
	}
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordQuoteFailure() {
	if m == nil {
		return
	}
	m.QuoteFailures.Inc()
}

func (m *Metrics) RecordReconciliation(kind string) {
	if m == nil {
		return
	}
	m.Reconciliation.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRestart(task string) {
	if m == nil {
		return
	}
	m.TaskRestarts.WithLabelValues(task).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
