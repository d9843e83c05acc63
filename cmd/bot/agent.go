package bot

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/michaelpento.lv/solarb/dex"
)

// ScanFunc runs one detection and execution pass for an agent
type ScanFunc func(ctx context.Context, a *Agent) error

// Agent is one monitoring context: a snapshot source, its start tokens and a scan schedule
type Agent struct {
	Name     string
	Source   dex.SnapshotSource
	Starts   []solana.PublicKey
	Interval time.Duration

	flight  singleflight.Group
	trigger chan struct{}
	logger  *zap.Logger
}

func NewAgent(name string, source dex.SnapshotSource, starts []solana.PublicKey, interval time.Duration, logger *zap.Logger) *Agent {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Agent{
		Name:     name,
		Source:   source,
		Starts:   starts,
		Interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger.With(zap.String("agent", name)),
	}
}

// Trigger requests an out-of-cycle scan. Requests made while one is pending collapse into it.
func (a *Agent) Trigger() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Scan runs scan unless one is already in flight, in which case it waits for and shares that result
func (a *Agent) Scan(ctx context.Context, scan ScanFunc) (shared bool, err error) {
	_, err, shared = a.flight.Do(a.Name, func() (interface{}, error) {
		return nil, scan(ctx, a)
	})
	return shared, err
}

// Run scans on every tick and trigger until ctx is cancelled
func (a *Agent) Run(ctx context.Context, scan ScanFunc) {
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	a.logger.Info("Agent started", zap.Duration("interval", a.Interval), zap.Int("startTokens", len(a.Starts)))
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Agent stopped")
			return
		case <-ticker.C:
		case <-a.trigger:
			a.logger.Debug("Out-of-cycle scan requested")
		}

		if _, err := a.Scan(ctx, scan); err != nil && ctx.Err() == nil {
			a.logger.Warn("Scan failed", zap.Error(err))
		}
	}
}
