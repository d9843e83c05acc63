package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/solarb/bundler"
	"github.com/michaelpento.lv/solarb/dex"
	"github.com/michaelpento.lv/solarb/flashloan"
	"github.com/michaelpento.lv/solarb/risk"
	"github.com/michaelpento.lv/solarb/signals"
	"github.com/michaelpento.lv/solarb/strategies/arbitrage"
	"github.com/michaelpento.lv/solarb/types"
	"github.com/michaelpento.lv/solarb/utils"
	"github.com/michaelpento.lv/solarb/utils/metrics"
	"github.com/michaelpento.lv/solarb/wallet"
)

// OpportunitySource supplies opportunities detected outside the pathfinder
type OpportunitySource interface {
	Name() string
	Opportunities(ctx context.Context, g *dex.Graph) ([]*types.ArbitrageOpportunity, error)
}

// CapitalSource reports the spendable balance of a signer
type CapitalSource interface {
	Available(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
}

// CostModel prices and sizes the transactions of a cycle
type CostModel interface {
	EstimateCost(numHops int, flashLoan bool) uint64
	EstimateArbitrageUnits(numHops int, flashLoan bool) uint32
	PriorityFee() uint64
}

// Options control the per-tick pipeline
type Options struct {
	MaxExecutionsPerTick int
	MaxSnapshotAge       time.Duration
	SlippageBps          uint16
	UseBundles           bool
	BaseTip              uint64
	MaxTip               uint64
	TrackInterval        time.Duration
	TrackMaxPolls        int
	DryRun               bool
	Attempts             AttemptConfig
	OutcomeHistory       int
}

// Deps are the components a bot drives. Signals, Breaker and Extra are optional.
type Deps struct {
	Pathfinder *arbitrage.Pathfinder
	Scorer     *risk.Scorer
	FlashLoans *flashloan.Manager
	Signers    *wallet.Pool
	Capital    CapitalSource
	Adapters   *dex.AdapterRegistry
	Bundles    *bundler.Manager
	Costs      CostModel
	Extra      []OpportunitySource
	Signals    *signals.Monitor
	Breaker    *utils.CircuitBreaker
}

// Bot runs agents and executes the opportunities they find
type Bot struct {
	opts     Options
	deps     Deps
	agents   *AgentRegistry
	outcomes *OutcomeStore
	attempts *AttemptCache
	metrics  *metrics.EngineMetrics
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// New creates a bot. Its repositories live for the lifetime of the returned value.
func New(opts Options, deps Deps, logger *zap.Logger, reg prometheus.Registerer) (*Bot, error) {
	if deps.Pathfinder == nil {
		return nil, errors.New("pathfinder is required")
	}
	if deps.Costs == nil {
		return nil, errors.New("cost model is required")
	}
	if opts.MaxExecutionsPerTick <= 0 {
		opts.MaxExecutionsPerTick = 1
	}
	if opts.TrackMaxPolls <= 0 {
		opts.TrackMaxPolls = 30
	}

	attempts, err := NewAttemptCache(opts.Attempts, logger)
	if err != nil {
		return nil, err
	}
	return &Bot{
		opts:     opts,
		deps:     deps,
		agents:   NewAgentRegistry(),
		outcomes: NewOutcomeStore(opts.OutcomeHistory),
		attempts: attempts,
		metrics:  metrics.NewEngineMetrics(reg),
		logger:   logger,
	}, nil
}

func (b *Bot) AddAgent(a *Agent) error {
	return b.agents.Add(a)
}

func (b *Bot) Agents() *AgentRegistry {
	return b.agents
}

func (b *Bot) Outcomes() *OutcomeStore {
	return b.outcomes
}

// Start launches every agent, the attempt pruner and the signal listener
func (b *Bot) Start(ctx context.Context) error {
	agents := b.agents.List()
	if len(agents) == 0 {
		return errors.New("no agents registered")
	}
	if b.deps.Signers == nil || b.deps.Bundles == nil || b.deps.Adapters == nil {
		return errors.New("execution needs signers, adapters and a bundle manager")
	}
	b.logger.Info("Starting engine",
		zap.Int("agents", len(agents)),
		zap.Bool("dryRun", b.opts.DryRun),
		zap.Bool("bundles", b.opts.UseBundles))

	for _, a := range agents {
		b.wg.Add(1)
		go func(a *Agent) {
			defer b.wg.Done()
			a.Run(ctx, b.tick)
		}(a)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.attempts.StartPruning(ctx)
	}()

	if b.deps.Signals != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.listenSignals(ctx)
		}()
	}
	return nil
}

// Stop waits for every goroutine started by Start; cancel its context first
func (b *Bot) Stop() {
	b.logger.Info("Stopping engine...")
	b.wg.Wait()
}

func (b *Bot) listenSignals(ctx context.Context) {
	events := make(chan signals.Event, 64)
	subs := make([]signals.Subscription, 0, len(signals.Kinds))
	for _, kind := range signals.Kinds {
		ch, sub := b.deps.Signals.Subscribe(kind, 16)
		subs = append(subs, sub)
		go func(ch <-chan signals.Event, sub signals.Subscription) {
			for {
				select {
				case ev := <-ch:
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				case <-sub.Err():
					return
				}
			}
		}(ch, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			for _, a := range b.agents.List() {
				if a.Trigger() {
					b.logger.Debug("Signal triggered scan",
						zap.String("agent", a.Name),
						zap.String("kind", string(ev.Kind)),
						zap.String("pool", ev.PoolID))
				}
			}
		}
	}
}

// Detect fetches a snapshot and returns deduplicated candidates ordered by net profit
func (b *Bot) Detect(ctx context.Context, a *Agent) (*dex.Graph, []*types.ArbitrageOpportunity, error) {
	snap, err := a.Source.Fetch(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	age := snap.Age(time.Now())
	b.metrics.SnapshotAge.Set(age.Seconds())
	if b.opts.MaxSnapshotAge > 0 && age > b.opts.MaxSnapshotAge {
		b.metrics.Skipped.WithLabelValues("stale_snapshot").Inc()
		return nil, nil, fmt.Errorf("snapshot is %s old: %w", age.Round(time.Millisecond), types.ErrStalePlan)
	}

	g := dex.NewGraph(snap.Pools)
	b.metrics.PoolsLoaded.Set(float64(g.PoolCount()))

	found, err := b.deps.Pathfinder.FindOpportunities(ctx, g, a.Starts, snap.TakenAt)
	if err != nil {
		return nil, nil, err
	}
	b.metrics.Opportunities.WithLabelValues(arbitrage.SourcePathfinder).Add(float64(len(found)))

	for _, src := range b.deps.Extra {
		extra, err := src.Opportunities(ctx, g)
		if err != nil {
			b.logger.Warn("Opportunity source failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		b.metrics.Opportunities.WithLabelValues(src.Name()).Add(float64(len(extra)))
		found = append(found, extra...)
	}

	return g, Dedupe(found), nil
}

// Dedupe keeps the most profitable opportunity per canonical key and orders the result by net profit
func Dedupe(opps []*types.ArbitrageOpportunity) []*types.ArbitrageOpportunity {
	best := make(map[uint64]*types.ArbitrageOpportunity, len(opps))
	order := make([]uint64, 0, len(opps))
	for _, o := range opps {
		if len(o.Path.Steps) == 0 {
			continue
		}
		k := o.KeyHash()
		cur, ok := best[k]
		if !ok {
			order = append(order, k)
			best[k] = o
			continue
		}
		if o.NetProfit.GreaterThan(cur.NetProfit) {
			best[k] = o
		}
	}
	out := make([]*types.ArbitrageOpportunity, 0, len(best))
	for _, k := range order {
		out = append(out, best[k])
	}
	SortByNetProfit(out)
	return out
}

// SortByNetProfit orders opportunities by net profit, highest first
func SortByNetProfit(opps []*types.ArbitrageOpportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if !opps[i].NetProfit.Equal(opps[j].NetProfit) {
			return opps[i].NetProfit.GreaterThan(opps[j].NetProfit)
		}
		return opps[i].Confidence > opps[j].Confidence
	})
}

// selectCandidates picks up to max opportunities that were not attempted recently
// and do not share a pool with a higher ranked pick
func (b *Bot) selectCandidates(opps []*types.ArbitrageOpportunity, max int) []*types.ArbitrageOpportunity {
	var (
		picked []*types.ArbitrageOpportunity
		pools  = make(map[string]bool)
	)
	for _, o := range opps {
		if len(picked) >= max {
			break
		}
		if !o.NetProfit.IsPositive() {
			b.metrics.Skipped.WithLabelValues("unprofitable").Inc()
			continue
		}
		if b.attempts.RecentlyAttempted(o) {
			b.metrics.Skipped.WithLabelValues("recent").Inc()
			continue
		}
		overlap := false
		for _, id := range o.Path.PoolIDs() {
			if pools[id] {
				overlap = true
				break
			}
		}
		if overlap {
			b.metrics.Skipped.WithLabelValues("overlap").Inc()
			continue
		}
		for _, id := range o.Path.PoolIDs() {
			pools[id] = true
		}
		picked = append(picked, o)
	}
	return picked
}

// tick is the per-agent scan: detect, select and execute each candidate in isolation
func (b *Bot) tick(ctx context.Context, a *Agent) error {
	start := time.Now()
	b.metrics.Ticks.Inc()
	defer func() {
		b.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	if b.deps.Breaker != nil && !b.deps.Breaker.IsHealthy() {
		b.metrics.Skipped.WithLabelValues("breaker_open").Inc()
		a.logger.Debug("Circuit breaker open, skipping tick")
		return nil
	}

	g, opps, err := b.Detect(ctx, a)
	if err != nil {
		return err
	}
	candidates := b.selectCandidates(opps, b.opts.MaxExecutionsPerTick)
	if len(candidates) == 0 {
		return nil
	}
	a.logger.Info("Executing candidates",
		zap.Int("found", len(opps)),
		zap.Int("selected", len(candidates)))
	if b.deps.Scorer != nil {
		g = b.revalidate(ctx, a, g)
	}

	var eg errgroup.Group
	for _, opp := range candidates {
		opp := opp
		b.attempts.MarkAttempted(opp)
		eg.Go(func() error {
			out := b.Execute(ctx, a.Name, g, opp)
			b.record(out)
			return nil
		})
	}
	return eg.Wait()
}

// revalidate refetches the agent's pools so risk scoring sees reserves that moved
// after detection. A failed or stale refetch keeps the detection graph.
func (b *Bot) revalidate(ctx context.Context, a *Agent, detected *dex.Graph) *dex.Graph {
	snap, err := a.Source.Fetch(ctx)
	if err != nil {
		a.logger.Debug("Revalidation fetch failed, scoring against detection snapshot", zap.Error(err))
		return detected
	}
	if b.opts.MaxSnapshotAge > 0 && snap.Age(time.Now()) > b.opts.MaxSnapshotAge {
		a.logger.Debug("Revalidation snapshot stale, scoring against detection snapshot")
		return detected
	}
	return dex.NewGraph(snap.Pools)
}

func (b *Bot) record(out Outcome) {
	b.outcomes.Record(out)
	b.metrics.Executions.WithLabelValues(out.State).Inc()
	if out.Landed() {
		profit, _ := out.NetProfit.Float64()
		b.metrics.ProfitPerTrade.Observe(profit)
		if profit > 0 {
			b.metrics.NetProfit.Add(profit)
		}
	}
}
