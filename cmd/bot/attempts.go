package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/types"
)

type AttemptConfig struct {
	MaxSize       int
	EvictionTime  time.Duration
	PruneInterval time.Duration
}

// AttemptCache remembers recently attempted opportunities by canonical key hash
type AttemptCache struct {
	cfg    AttemptConfig
	logger *zap.Logger
	cache  *lru.Cache
	mu     sync.Mutex
	now    func() time.Time
}

func NewAttemptCache(cfg AttemptConfig, logger *zap.Logger) (*AttemptCache, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1024
	}
	if cfg.EvictionTime <= 0 {
		cfg.EvictionTime = 30 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = cfg.EvictionTime
	}
	cache, err := lru.New(cfg.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &AttemptCache{
		cfg:    cfg,
		logger: logger,
		cache:  cache,
		now:    time.Now,
	}, nil
}

// MarkAttempted records that opp is being executed now
func (c *AttemptCache) MarkAttempted(opp *types.ArbitrageOpportunity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(opp.KeyHash(), c.now())
}

// RecentlyAttempted reports whether opp was attempted within the eviction window
func (c *AttemptCache) RecentlyAttempted(opp *types.ArbitrageOpportunity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := opp.KeyHash()
	value, ok := c.cache.Get(key)
	if !ok {
		return false
	}
	if c.now().Sub(value.(time.Time)) > c.cfg.EvictionTime {
		c.cache.Remove(key)
		return false
	}
	return true
}

func (c *AttemptCache) Len() int {
	return c.cache.Len()
}

// Prune drops expired entries and returns how many were removed
func (c *AttemptCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.cache.Keys() {
		if value, ok := c.cache.Peek(key); ok {
			if now.Sub(value.(time.Time)) > c.cfg.EvictionTime {
				c.cache.Remove(key)
				removed++
			}
		}
	}
	return removed
}

func (c *AttemptCache) StartPruning(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Prune(); n > 0 {
				c.logger.Debug("Pruned attempt cache", zap.Int("removed", n), zap.Int("remaining", c.Len()))
			}
		}
	}
}
