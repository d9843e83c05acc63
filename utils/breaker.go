package utils

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/config"
)

// CircuitBreaker trips after ErrorThreshold errors inside one ResetInterval window
// and stays open for CooldownPeriod.
type CircuitBreaker struct {
	name        string
	config      config.CircuitBreakerConfig
	errorCount  int
	lastReset   time.Time
	lastTripped time.Time
	tripped     bool
	now         func() time.Time
	mu          sync.Mutex
	logger      *zap.Logger
	metrics     struct {
		tripCount  prometheus.Counter
		errorCount prometheus.Counter
		healthy    prometheus.Gauge
	}
}

func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig, logger *zap.Logger, reg prometheus.Registerer) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	cb.lastReset = cb.now()

	factory := promauto.With(reg)
	labels := prometheus.Labels{"breaker": name}
	cb.metrics.tripCount = factory.NewCounter(prometheus.CounterOpts{
		Namespace:   "solarb",
		Subsystem:   "circuit_breaker",
		Name:        "trips_total",
		Help:        "Total number of circuit breaker trips",
		ConstLabels: labels,
	})
	cb.metrics.errorCount = factory.NewCounter(prometheus.CounterOpts{
		Namespace:   "solarb",
		Subsystem:   "circuit_breaker",
		Name:        "errors_total",
		Help:        "Total number of errors recorded by circuit breaker",
		ConstLabels: labels,
	})
	cb.metrics.healthy = factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   "solarb",
		Subsystem:   "circuit_breaker",
		Name:        "healthy",
		Help:        "1 while the breaker is closed",
		ConstLabels: labels,
	})
	cb.metrics.healthy.Set(1)

	return cb
}

// RecordError counts a failure and reports whether it tripped the breaker
func (cb *CircuitBreaker) RecordError(err error) bool {
	if !cb.config.Enabled {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.errorCount.Inc()
	cb.rollWindow()
	if cb.tripped {
		return false
	}

	cb.errorCount++
	if cb.errorCount < cb.config.ErrorThreshold {
		return false
	}

	cb.tripped = true
	cb.lastTripped = cb.now()
	cb.metrics.tripCount.Inc()
	cb.metrics.healthy.Set(0)
	cb.logger.Warn("Circuit breaker tripped",
		zap.String("breaker", cb.name),
		zap.Int("error_count", cb.errorCount),
		zap.Error(err))
	return true
}

// RecordSuccess clears the error count of the current window
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.errorCount = 0
	}
}

// IsHealthy reports whether work may proceed, closing the breaker once the cooldown has passed
func (cb *CircuitBreaker) IsHealthy() bool {
	if !cb.config.Enabled {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.tripped && cb.now().Sub(cb.lastTripped) >= cb.config.CooldownPeriod.Std() {
		cb.tripped = false
		cb.errorCount = 0
		cb.lastReset = cb.now()
		cb.metrics.healthy.Set(1)
		cb.logger.Info("Circuit breaker reset",
			zap.String("breaker", cb.name),
			zap.Duration("cooldown_period", cb.config.CooldownPeriod.Std()))
	}
	return !cb.tripped
}

func (cb *CircuitBreaker) rollWindow() {
	if cb.now().Sub(cb.lastReset) >= cb.config.ResetInterval.Std() {
		if !cb.tripped {
			cb.errorCount = 0
		}
		cb.lastReset = cb.now()
	}
}
