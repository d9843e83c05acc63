package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatusFunc contributes fields to the periodic status line
type StatusFunc func() []zap.Field

// Stats is a point-in-time view of the process
type Stats struct {
	Goroutines  int
	HeapAlloc   uint64
	HeapObjects uint64
	GCPause     time.Duration
	Uptime      time.Duration
}

// SystemMonitor periodically logs process stats together with component status
type SystemMonitor struct {
	interval time.Duration
	logger   *zap.Logger
	started  time.Time

	mu     sync.Mutex
	status map[string]StatusFunc
	names  []string
}

func NewSystemMonitor(interval time.Duration, logger *zap.Logger) *SystemMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SystemMonitor{
		interval: interval,
		logger:   logger,
		started:  time.Now(),
		status:   make(map[string]StatusFunc),
	}
}

// AddStatus registers fn under name; a later registration replaces it
func (m *SystemMonitor) AddStatus(name string, fn StatusFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.status[name]; !ok {
		m.names = append(m.names, name)
	}
	m.status[name] = fn
}

// Stats collects the current process stats
func (m *SystemMonitor) Stats() Stats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return Stats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   memStats.HeapAlloc,
		HeapObjects: memStats.HeapObjects,
		GCPause:     time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]),
		Uptime:      time.Since(m.started),
	}
}

// Fields renders stats and every registered status, in registration order
func (m *SystemMonitor) Fields() []zap.Field {
	s := m.Stats()
	fields := []zap.Field{
		zap.Duration("uptime", s.Uptime.Round(time.Second)),
		zap.Int("goroutines", s.Goroutines),
		zap.Uint64("heapAlloc", s.HeapAlloc),
		zap.Uint64("heapObjects", s.HeapObjects),
		zap.Duration("gcPause", s.GCPause),
	}

	m.mu.Lock()
	fns := make([]StatusFunc, 0, len(m.names))
	for _, name := range m.names {
		fns = append(fns, m.status[name])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fields = append(fields, fn()...)
	}
	return fields
}

// Run logs a status line every interval until ctx is cancelled
func (m *SystemMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.logger.Info("Engine status", m.Fields()...)
		}
	}
}
