package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "solarb"

// NewRegistry returns a registry carrying the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg in the Prometheus text format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}
	return nil
}

// EngineMetrics tracks the scan and execution pipeline
type EngineMetrics struct {
	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	SnapshotAge    prometheus.Gauge
	PoolsLoaded    prometheus.Gauge
	Opportunities  *prometheus.CounterVec
	Skipped        *prometheus.CounterVec
	Executions     *prometheus.CounterVec
	NetProfit      prometheus.Counter
	ProfitPerTrade prometheus.Histogram
}

// NewEngineMetrics registers engine metrics with reg; a nil reg leaves them unregistered
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	factory := promauto.With(reg)
	return &EngineMetrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Number of completed scan ticks",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Time spent per scan tick",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		SnapshotAge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "snapshot_age_seconds",
			Help:      "Age of the pool snapshot when the tick started",
		}),
		PoolsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pools_loaded",
			Help:      "Pools in the current graph",
		}),
		Opportunities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "opportunities_total",
			Help:      "Opportunities found by source",
		}, []string{"source"}),
		Skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "skipped_total",
			Help:      "Opportunities not executed by reason",
		}, []string{"reason"}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Execution attempts by outcome",
		}, []string{"outcome"}),
		NetProfit: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "net_profit_total",
			Help:      "Estimated net profit of landed trades in start-token units",
		}),
		ProfitPerTrade: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "net_profit_per_trade",
			Help:      "Estimated net profit per landed trade",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

// SignalMetrics tracks event delivery in the signal monitor
type SignalMetrics struct {
	Published    *prometheus.CounterVec
	Delivered    *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	QueueDepth   prometheus.Gauge
	SourceErrors *prometheus.CounterVec
}

// NewSignalMetrics registers signal metrics with reg; a nil reg leaves them unregistered
func NewSignalMetrics(reg prometheus.Registerer) *SignalMetrics {
	factory := promauto.With(reg)
	return &SignalMetrics{
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "published_total",
			Help:      "Events accepted into the dispatch queue",
		}, []string{"kind"}),
		Delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "delivered_total",
			Help:      "Event deliveries to subscribers",
		}, []string{"kind"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "dropped_total",
			Help:      "Events dropped because the dispatch queue was full",
		}, []string{"kind"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "queue_depth",
			Help:      "Events waiting for dispatch",
		}),
		SourceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "source_errors_total",
			Help:      "Failures reported by event sources",
		}, []string{"source"}),
	}
}
