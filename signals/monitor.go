package signals

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/utils"
	"github.com/michaelpento.lv/solarb/utils/metrics"
)

// Source produces events until ctx ends or it fails
type Source interface {
	Name() string
	Run(ctx context.Context, publish func(Event) bool) error
}

type Config struct {
	QueueSize      int
	ReconnectDelay time.Duration
}

// Monitor fans events out to per-kind subscribers.
// Producers never block: Publish enqueues into a bounded queue drained by Run, and drops on overflow.
type Monitor struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.SignalMetrics

	mu    sync.Mutex
	feeds map[Kind]*event.FeedOf[Event]
	scope event.SubscriptionScope
	queue chan Event
}

func NewMonitor(cfg Config, logger *zap.Logger, reg prometheus.Registerer) *Monitor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Monitor{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewSignalMetrics(reg),
		feeds:   make(map[Kind]*event.FeedOf[Event]),
		queue:   make(chan Event, cfg.QueueSize),
	}
}

func (m *Monitor) feed(kind Kind) *event.FeedOf[Event] {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[kind]
	if !ok {
		f = new(event.FeedOf[Event])
		m.feeds[kind] = f
	}
	return f
}

// Subscribe registers a buffered receiver for one kind.
// A subscriber that stops reading without unsubscribing stalls dispatch and causes drops.
func (m *Monitor) Subscribe(kind Kind, buffer int) (<-chan Event, Subscription) {
	ch := make(chan Event, buffer)
	sub := m.scope.Track(m.feed(kind).Subscribe(ch))
	return ch, sub
}

// Publish enqueues ev and reports whether it was accepted
func (m *Monitor) Publish(ev Event) bool {
	select {
	case m.queue <- ev:
		m.metrics.Published.WithLabelValues(string(ev.Kind)).Inc()
		m.metrics.QueueDepth.Set(float64(len(m.queue)))
		return true
	default:
		m.metrics.Dropped.WithLabelValues(string(ev.Kind)).Inc()
		m.logger.Debug("Signal queue full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.String("pool", ev.PoolID))
		return false
	}
}

// Run dispatches queued events until ctx is cancelled, then ends every subscription
func (m *Monitor) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, m.scope.Close)
	defer stop()
	defer m.scope.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			m.metrics.QueueDepth.Set(float64(len(m.queue)))
			n := m.feed(ev.Kind).Send(ev)
			m.metrics.Delivered.WithLabelValues(string(ev.Kind)).Add(float64(n))
		}
	}
}

// Close ends every subscription
func (m *Monitor) Close() {
	m.scope.Close()
}

// RunSource keeps src running until ctx ends, restarting it after failures.
// Failures feed breaker; while it is open the source is not restarted.
func (m *Monitor) RunSource(ctx context.Context, src Source, breaker *utils.CircuitBreaker) {
	for {
		if breaker == nil || breaker.IsHealthy() {
			err := src.Run(ctx, m.Publish)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				m.metrics.SourceErrors.WithLabelValues(src.Name()).Inc()
				m.logger.Warn("Signal source failed", zap.String("source", src.Name()), zap.Error(err))
				if breaker != nil {
					breaker.RecordError(err)
				}
			} else if breaker != nil {
				breaker.RecordSuccess()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ReconnectDelay):
		}
	}
}
