package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/solarb/bundler"
	"github.com/michaelpento.lv/solarb/config"
	"github.com/michaelpento.lv/solarb/dex"
	"github.com/michaelpento.lv/solarb/flashloan"
	"github.com/michaelpento.lv/solarb/flashloan/lending"
	"github.com/michaelpento.lv/solarb/jito"
	"github.com/michaelpento.lv/solarb/risk"
	"github.com/michaelpento.lv/solarb/signals"
	"github.com/michaelpento.lv/solarb/simulator"
	"github.com/michaelpento.lv/solarb/strategies/arbitrage"
	"github.com/michaelpento.lv/solarb/types"
	"github.com/michaelpento.lv/solarb/utils"
	"github.com/michaelpento.lv/solarb/utils/testutils"
	"github.com/michaelpento.lv/solarb/wallet"
)

const (
	solUnit  = 1_000_000_000
	usdcUnit = 1_000_000
)

type memoAdapter struct{ kind types.DexKind }

func (a memoAdapter) Dex() types.DexKind { return a.kind }

func (a memoAdapter) SwapInstructions(ctx context.Context, step types.ArbitrageStep, owner solana.PublicKey, minOut cosmath.Int) ([]solana.Instruction, error) {
	return []solana.Instruction{testutils.Instruction(owner, "swap:"+step.Pool.ID)}, nil
}

type fixedCosts struct{}

func (fixedCosts) EstimateCost(numHops int, flashLoan bool) uint64           { return 10_000 }
func (fixedCosts) EstimateArbitrageUnits(numHops int, flashLoan bool) uint32 { return 200_000 }
func (fixedCosts) PriorityFee() uint64                                       { return 1_000 }

// loanHeavyCosts prices the borrow-wrapped transaction far above any profit.
type loanHeavyCosts struct{ fixedCosts }

func (loanHeavyCosts) EstimateCost(numHops int, flashLoan bool) uint64 {
	if flashLoan {
		return 1000 * solUnit
	}
	return 10_000
}

type fakeCapital struct{ amount uint64 }

func (c fakeCapital) Available(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	return c.amount, nil
}

type fakeRelay struct {
	mu     sync.Mutex
	sent   int
	status types.BundleStatus
}

func (r *fakeRelay) SendBundle(ctx context.Context, txs [][]byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
	return "relay-bundle", nil
}

func (r *fakeRelay) GetBundleStatus(ctx context.Context, id string) (types.BundleStatus, error) {
	return r.status, nil
}

type fakeRPC struct {
	mu   sync.Mutex
	sent int
	last *solana.Transaction
}

func (r *fakeRPC) Broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
	r.last = tx
	return tx.Signatures[0], nil
}

func (r *fakeRPC) SignatureStatus(ctx context.Context, sig solana.Signature) (types.BundleStatus, error) {
	return types.BundleStatus{State: types.BundlePending}, nil
}

func (r *fakeRPC) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{7, 7, 7}, nil
}

type fakeBackend struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (b *fakeBackend) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*simulator.SimulationResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fail {
		return &simulator.SimulationResult{Success: false, Err: "custom program error: 0x1"}, nil
	}
	return &simulator.SimulationResult{Success: true, UnitsConsumed: 50_000}, nil
}

type fixture struct {
	bot     *Bot
	agent   *Agent
	relay   *fakeRelay
	rpc     *fakeRPC
	backend *fakeBackend
	signers *wallet.Pool
	sol     *types.TokenInfo
	source  *dex.StaticSource
}

// newFixture wires a bot over SOL quoted at 150 USDC on orca and 160 USDC on raydium
func newFixture(t *testing.T, mutate func(*Options, *Deps)) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	sol := testutils.NewToken("SOL", 9)
	usdc := testutils.NewToken("USDC", 6)
	f := &fixture{
		relay:   &fakeRelay{status: types.BundleStatus{State: types.BundleLanded, Slot: 42}},
		rpc:     &fakeRPC{},
		backend: &fakeBackend{},
		sol:     sol,
		source: &dex.StaticSource{Pools: []*types.PoolState{
			testutils.NewPool("orca-sol-usdc", types.DexOrca, sol, usdc, 1000*solUnit, 150_000*usdcUnit, 30),
			testutils.NewPool("ray-sol-usdc", types.DexRaydiumAMM, sol, usdc, 1000*solUnit, 160_000*usdcUnit, 25),
		}},
	}

	signers, err := wallet.NewPool([]solana.PrivateKey{testutils.NewSigner(t)}, nil, time.Minute, logger, nil)
	require.NoError(t, err)
	f.signers = signers

	bundles, err := bundler.NewManager(bundler.Config{
		UseBundles:     true,
		BaseTip:        10_000,
		MaxTip:         1_000_000,
		ComputeUnitCap: 400_000,
	}, f.relay, f.rpc, f.rpc, simulator.NewSimulator(f.backend, logger), jito.NewTipSelector(nil), logger, nil)
	require.NoError(t, err)

	opts := Options{
		MaxExecutionsPerTick: 3,
		MaxSnapshotAge:       time.Minute,
		SlippageBps:          50,
		UseBundles:           true,
		BaseTip:              10_000,
		MaxTip:               1_000_000,
		TrackInterval:        time.Millisecond,
		TrackMaxPolls:        3,
	}
	deps := Deps{
		Pathfinder: arbitrage.NewPathfinder(arbitrage.Config{MaxHops: 2, MinProfitPercent: 0.1, BaseTipLamports: 10_000},
			dex.NewValuator(true, false, 1), fixedCosts{}, logger),
		Scorer:   risk.NewScorer(risk.DefaultConfig(), nil, nil, logger),
		Signers:  signers,
		Capital:  fakeCapital{amount: 1000 * solUnit},
		Adapters: dex.NewAdapterRegistry(memoAdapter{types.DexOrca}, memoAdapter{types.DexRaydiumAMM}),
		Bundles:  bundles,
		Costs:    fixedCosts{},
	}
	if mutate != nil {
		mutate(&opts, &deps)
	}

	b, err := New(opts, deps, logger, nil)
	require.NoError(t, err)
	f.bot = b
	f.agent = NewAgent("main", f.source, []solana.PublicKey{sol.Mint}, time.Hour, logger)
	require.NoError(t, b.AddAgent(f.agent))
	return f
}

func (f *fixture) lastOutcome(t *testing.T) Outcome {
	t.Helper()
	recent := f.bot.Outcomes().Recent(1)
	require.Len(t, recent, 1)
	return recent[0]
}

func TestTickLandsBestCandidate(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.bot.tick(context.Background(), f.agent))

	out := f.lastOutcome(t)
	assert.Equal(t, string(types.BundleLanded), out.State)
	assert.Equal(t, uint64(42), out.Slot)
	assert.False(t, out.UsedFlashLoan)
	assert.True(t, out.NetProfit.IsPositive())
	assert.Greater(t, out.TipLamports, uint64(10_000))
	assert.Equal(t, 1, f.relay.sent)
	assert.Equal(t, 1, f.rpc.sent)
	assert.Equal(t, 2, f.backend.calls, "trade and tip transactions simulated")
	assert.Equal(t, 1, f.signers.Available(), "lease released")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.bot.metrics.Executions.WithLabelValues("landed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.bot.metrics.Ticks))

	t.Run("RecentAttemptSkipped", func(t *testing.T) {
		require.NoError(t, f.bot.tick(context.Background(), f.agent))
		assert.Equal(t, 1, f.relay.sent)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.bot.metrics.Skipped.WithLabelValues("recent")))
	})
}

func TestTickDryRun(t *testing.T) {
	f := newFixture(t, func(o *Options, d *Deps) { o.DryRun = true })
	require.NoError(t, f.bot.tick(context.Background(), f.agent))

	assert.Equal(t, OutcomeDryRun, f.lastOutcome(t).State)
	assert.Equal(t, 2, f.backend.calls)
	assert.Zero(t, f.relay.sent)
	assert.Zero(t, f.rpc.sent)
}

func TestTickSkips(t *testing.T) {
	t.Run("InsufficientCapital", func(t *testing.T) {
		f := newFixture(t, func(o *Options, d *Deps) { d.Capital = fakeCapital{} })
		require.NoError(t, f.bot.tick(context.Background(), f.agent))

		out := f.lastOutcome(t)
		assert.Equal(t, OutcomeSkipped, out.State)
		assert.Equal(t, "capital", out.Reason)
		assert.Zero(t, f.backend.calls)
	})

	t.Run("SignerBusy", func(t *testing.T) {
		f := newFixture(t, nil)
		lease, err := f.signers.Acquire(context.Background())
		require.NoError(t, err)
		defer lease.Release()

		require.NoError(t, f.bot.tick(context.Background(), f.agent))
		assert.Equal(t, "signer_busy", f.lastOutcome(t).Reason)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.bot.metrics.Skipped.WithLabelValues("signer_busy")))
	})
}

func TestExecuteAbandonsStalePlan(t *testing.T) {
	f := newFixture(t, func(o *Options, d *Deps) { o.MaxSnapshotAge = 50 * time.Millisecond })
	g, opps, err := f.bot.Detect(context.Background(), f.agent)
	require.NoError(t, err)
	require.NotEmpty(t, opps)

	stale := *opps[0]
	stale.SnapshotAt = time.Now().Add(-time.Second)
	out := f.bot.Execute(context.Background(), f.agent.Name, g, &stale)

	assert.Equal(t, OutcomeAbandoned, out.State)
	assert.Equal(t, "stale", out.Reason)
	assert.Zero(t, f.backend.calls, "nothing signed or simulated")
	assert.Equal(t, 1, f.signers.Available())
}

type agedSource struct{ age time.Duration }

func (s agedSource) Fetch(ctx context.Context) (*dex.Snapshot, error) {
	return &dex.Snapshot{TakenAt: time.Now().Add(-s.age)}, nil
}

// sequenceSource serves each pool set once, then repeats the last
type sequenceSource struct {
	mu    sync.Mutex
	sets  [][]*types.PoolState
	calls int
}

func (s *sequenceSource) Fetch(ctx context.Context) (*dex.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.sets)-1)
	s.calls++
	return &dex.Snapshot{Pools: s.sets[i], TakenAt: time.Now()}, nil
}

func TestTickScoresRiskAgainstFreshSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	detected := f.source.Pools
	src := &sequenceSource{sets: [][]*types.PoolState{detected, detected[:1]}}
	agent := NewAgent("fresh", src, []solana.PublicKey{f.sol.Mint}, time.Hour, zaptest.NewLogger(t))

	require.NoError(t, f.bot.tick(context.Background(), agent))

	assert.Equal(t, 2, src.calls, "pools refetched before risk scoring")
	out := f.lastOutcome(t)
	assert.Equal(t, OutcomeSkipped, out.State)
	assert.Equal(t, "risk", out.Reason, "pool gone since detection")
	assert.Zero(t, f.relay.sent)
}

func TestDetectRejectsStaleSnapshot(t *testing.T) {
	f := newFixture(t, func(o *Options, d *Deps) { o.MaxSnapshotAge = time.Second })
	agent := NewAgent("old", agedSource{age: time.Minute}, nil, time.Hour, zaptest.NewLogger(t))

	_, _, err := f.bot.Detect(context.Background(), agent)
	assert.ErrorIs(t, err, types.ErrStalePlan)
}

func TestSimulationFailureTripsBreaker(t *testing.T) {
	breaker := utils.NewCircuitBreaker("execution", config.CircuitBreakerConfig{
		Enabled:        true,
		ErrorThreshold: 1,
		ResetInterval:  config.Duration(time.Hour),
		CooldownPeriod: config.Duration(time.Hour),
	}, zaptest.NewLogger(t), nil)
	f := newFixture(t, func(o *Options, d *Deps) { d.Breaker = breaker })
	f.backend.fail = true

	require.NoError(t, f.bot.tick(context.Background(), f.agent))
	out := f.lastOutcome(t)
	assert.Equal(t, string(types.BundleFailed), out.State)
	assert.Equal(t, "simulation", out.Reason)
	assert.Zero(t, f.relay.sent)
	assert.False(t, breaker.IsHealthy())

	require.NoError(t, f.bot.tick(context.Background(), f.agent))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.bot.metrics.Skipped.WithLabelValues("breaker_open")))
	assert.Len(t, f.bot.Outcomes().Recent(0), 1)
}

type fixedBalances uint64

func (b fixedBalances) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return uint64(b), nil
}

func TestExecuteWithFlashLoan(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	var loans *flashloan.Manager
	f := newFixture(t, func(o *Options, d *Deps) {
		d.Capital = fakeCapital{}
		loans = flashloan.NewManager(flashloan.Config{Enabled: true}, zaptest.NewLogger(t), nil)
		d.FlashLoans = loans
	})

	provider, err := lending.NewProvider(lending.Config{
		Name:          "solend",
		ProgramID:     programID,
		LendingMarket: solana.NewWallet().PublicKey(),
		FeeBps:        9,
		Reserves: map[solana.PublicKey]lending.Reserve{
			f.sol.Mint: {
				Address:         solana.NewWallet().PublicKey(),
				LiquiditySupply: solana.NewWallet().PublicKey(),
				FeeReceiver:     solana.NewWallet().PublicKey(),
			},
		},
	}, fixedBalances(1_000_000*solUnit), zaptest.NewLogger(t))
	require.NoError(t, err)
	loans.AddProvider(provider)

	require.NoError(t, f.bot.tick(context.Background(), f.agent))

	out := f.lastOutcome(t)
	assert.Equal(t, string(types.BundleLanded), out.State)
	assert.True(t, out.UsedFlashLoan)
	require.NotNil(t, f.rpc.last)
	assert.Contains(t, f.rpc.last.Message.AccountKeys, programID, "borrow and repay wrap the swaps")
	assert.Equal(t, 1.0, loans.SuccessRate())
}

func TestExecuteSkipsLoanWhenLoanGasExceedsProfit(t *testing.T) {
	var loans *flashloan.Manager
	f := newFixture(t, func(o *Options, d *Deps) {
		d.Capital = fakeCapital{}
		d.Costs = loanHeavyCosts{}
		loans = flashloan.NewManager(flashloan.Config{Enabled: true}, zaptest.NewLogger(t), nil)
		d.FlashLoans = loans
	})

	provider, err := lending.NewProvider(lending.Config{
		Name:          "solend",
		ProgramID:     solana.NewWallet().PublicKey(),
		LendingMarket: solana.NewWallet().PublicKey(),
		FeeBps:        9,
		Reserves: map[solana.PublicKey]lending.Reserve{
			f.sol.Mint: {
				Address:         solana.NewWallet().PublicKey(),
				LiquiditySupply: solana.NewWallet().PublicKey(),
				FeeReceiver:     solana.NewWallet().PublicKey(),
			},
		},
	}, fixedBalances(1_000_000*solUnit), zaptest.NewLogger(t))
	require.NoError(t, err)
	loans.AddProvider(provider)

	require.NoError(t, f.bot.tick(context.Background(), f.agent))

	out := f.lastOutcome(t)
	assert.Equal(t, OutcomeSkipped, out.State)
	assert.Equal(t, "capital", out.Reason)
	assert.False(t, out.UsedFlashLoan)
	assert.Zero(t, f.relay.sent)
}

func opportunity(start *types.TokenInfo, net string, pools ...*types.PoolState) *types.ArbitrageOpportunity {
	steps := make([]types.ArbitrageStep, len(pools))
	for i, p := range pools {
		steps[i] = types.ArbitrageStep{Pool: p, TokenIn: start, TokenOut: start}
	}
	return &types.ArbitrageOpportunity{
		Path:      types.ArbitragePath{Steps: steps},
		NetProfit: decimal.RequireFromString(net),
	}
}

func TestDedupeAndSelect(t *testing.T) {
	sol := testutils.NewToken("SOL", 9)
	usdc := testutils.NewToken("USDC", 6)
	pool := func(id string) *types.PoolState {
		return testutils.NewPool(id, types.DexOrca, sol, usdc, 1, 1, 30)
	}
	p1, p2, p3, p4, p5, p6 := pool("p1"), pool("p2"), pool("p3"), pool("p4"), pool("p5"), pool("p6")

	weaker := opportunity(sol, "0.1", p1, p2)
	stronger := opportunity(sol, "0.3", p1, p2)
	overlapping := opportunity(sol, "0.2", p2, p3)
	disjoint := opportunity(sol, "0.05", p4, p5)
	losing := opportunity(sol, "-0.1", p6, p6)

	deduped := Dedupe([]*types.ArbitrageOpportunity{weaker, overlapping, stronger, disjoint, losing})
	require.Len(t, deduped, 4)
	assert.Same(t, stronger, deduped[0], "higher net profit wins the key")
	assert.Same(t, overlapping, deduped[1])
	assert.Same(t, losing, deduped[3])

	f := newFixture(t, nil)
	picked := f.bot.selectCandidates(deduped, 3)
	require.Len(t, picked, 2)
	assert.Same(t, stronger, picked[0])
	assert.Same(t, disjoint, picked[1])
	assert.Equal(t, float64(1), testutil.ToFloat64(f.bot.metrics.Skipped.WithLabelValues("overlap")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.bot.metrics.Skipped.WithLabelValues("unprofitable")))

	assert.Len(t, f.bot.selectCandidates(deduped, 1), 1)
}

func TestSignalTriggersScan(t *testing.T) {
	monitor := signals.NewMonitor(signals.Config{QueueSize: 8}, zaptest.NewLogger(t), nil)
	f := newFixture(t, func(o *Options, d *Deps) {
		o.DryRun = true
		d.Signals = monitor
	})

	ctx, cancel := context.WithCancel(context.Background())
	go monitor.Run(ctx)
	require.NoError(t, f.bot.Start(ctx))

	// the listener subscribes asynchronously, so keep publishing until a scan runs
	assert.Eventually(t, func() bool {
		monitor.Publish(signals.Event{Kind: signals.KindNewPool, PoolID: "ray-new"})
		return testutil.ToFloat64(f.bot.metrics.Ticks) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	f.bot.Stop()
	assert.Equal(t, OutcomeDryRun, f.lastOutcome(t).State)
}

func TestStartRequiresAgents(t *testing.T) {
	f := newFixture(t, nil)
	empty, err := New(f.bot.opts, f.bot.deps, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	assert.Error(t, empty.Start(context.Background()))

	_, err = New(Options{}, Deps{}, zaptest.NewLogger(t), nil)
	assert.Error(t, err)
}

func BenchmarkDedupe(b *testing.B) {
	sol := testutils.NewToken("SOL", 9)
	usdc := testutils.NewToken("USDC", 6)
	var opps []*types.ArbitrageOpportunity
	for i := 0; i < 256; i++ {
		a := testutils.NewPool("a"+string(rune('a'+i%26)), types.DexOrca, sol, usdc, 1, 1, 30)
		c := testutils.NewPool("c"+string(rune('a'+i%13)), types.DexOrca, sol, usdc, 1, 1, 30)
		opps = append(opps, opportunity(sol, "0.01", a, c))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Dedupe(opps)
	}
}
