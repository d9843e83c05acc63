package bot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/solarb/dex"
	"github.com/michaelpento.lv/solarb/types"
	"github.com/michaelpento.lv/solarb/utils/testutils"
)

func TestAgentTriggerCoalesces(t *testing.T) {
	a := NewAgent("a", &dex.StaticSource{}, nil, time.Hour, zaptest.NewLogger(t))
	assert.True(t, a.Trigger())
	assert.False(t, a.Trigger(), "pending request absorbs the second")
}

func TestAgentScanSingleFlight(t *testing.T) {
	a := NewAgent("a", &dex.StaticSource{}, nil, time.Hour, zaptest.NewLogger(t))

	var calls atomic.Int32
	release := make(chan struct{})
	scan := func(ctx context.Context, a *Agent) error {
		calls.Add(1)
		<-release
		return nil
	}

	results := make(chan bool, 2)
	go func() {
		shared, _ := a.Scan(context.Background(), scan)
		results <- shared
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	go func() {
		shared, _ := a.Scan(context.Background(), scan)
		results <- shared
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.True(t, <-results)
	assert.True(t, <-results)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAgentRunStopsOnCancel(t *testing.T) {
	a := NewAgent("a", &dex.StaticSource{}, nil, time.Millisecond, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		a.Run(ctx, func(ctx context.Context, a *Agent) error {
			calls.Add(1)
			return nil
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestAgentRegistry(t *testing.T) {
	r := NewAgentRegistry()
	logger := zaptest.NewLogger(t)
	require.NoError(t, r.Add(NewAgent("beta", &dex.StaticSource{}, nil, 0, logger)))
	require.NoError(t, r.Add(NewAgent("alpha", &dex.StaticSource{}, nil, 0, logger)))
	assert.Error(t, r.Add(NewAgent("alpha", &dex.StaticSource{}, nil, 0, logger)))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)

	a, ok := r.Get("beta")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, a.Interval)
}

func TestAttemptCache(t *testing.T) {
	cache, err := NewAttemptCache(AttemptConfig{MaxSize: 2, EvictionTime: time.Minute}, zaptest.NewLogger(t))
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }

	sol := testutils.NewToken("SOL", 9)
	usdc := testutils.NewToken("USDC", 6)
	pool := func(id string) *types.PoolState { return testutils.NewPool(id, types.DexOrca, sol, usdc, 1, 1, 30) }
	a := opportunity(sol, "1", pool("p1"), pool("p2"))
	b := opportunity(sol, "1", pool("p2"), pool("p1"))
	c := opportunity(sol, "1", pool("p3"), pool("p1"))

	cache.MarkAttempted(a)
	assert.True(t, cache.RecentlyAttempted(a))
	assert.False(t, cache.RecentlyAttempted(b), "pool order is part of the key")

	t.Run("Expires", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		assert.False(t, cache.RecentlyAttempted(a))
		assert.Zero(t, cache.Len())
	})

	t.Run("Prune", func(t *testing.T) {
		cache.MarkAttempted(a)
		now = now.Add(30 * time.Second)
		cache.MarkAttempted(b)
		now = now.Add(45 * time.Second)

		assert.Equal(t, 1, cache.Prune())
		assert.True(t, cache.RecentlyAttempted(b))
	})

	t.Run("BoundedSize", func(t *testing.T) {
		cache.MarkAttempted(a)
		cache.MarkAttempted(c)
		assert.Equal(t, 2, cache.Len())
		assert.False(t, cache.RecentlyAttempted(b), "least recently used entry evicted")
	})
}

func TestOutcomeStore(t *testing.T) {
	s := NewOutcomeStore(2)
	s.Record(Outcome{PlanID: "1", State: OutcomeSkipped})
	s.Record(Outcome{PlanID: "2", State: string(types.BundleLanded)})
	s.Record(Outcome{PlanID: "3", State: string(types.BundleLanded)})

	recent := s.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].PlanID)
	assert.Equal(t, "2", recent[1].PlanID)
	assert.True(t, recent[0].Landed())
	assert.False(t, recent[0].At.IsZero())

	assert.Equal(t, map[string]int{OutcomeSkipped: 1, "landed": 2}, s.Counts())
	assert.Len(t, s.Recent(1), 1)
}
