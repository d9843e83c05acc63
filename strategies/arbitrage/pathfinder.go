package arbitrage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/solarb/dex"
	"github.com/michaelpento.lv/solarb/types"
)

// SourcePathfinder tags opportunities produced by graph search
const SourcePathfinder = "pathfinder"

// InputLadder lists the trial sizes, in whole units of the start token
var InputLadder = []decimal.Decimal{
	decimal.RequireFromString("0.1"),
	decimal.RequireFromString("0.5"),
	decimal.NewFromInt(1),
	decimal.NewFromInt(5),
	decimal.NewFromInt(10),
	decimal.NewFromInt(50),
}

var lamportsPerSOL = decimal.New(1, 9)

// CostEstimator prices the network cost of executing a cycle, in lamports
type CostEstimator interface {
	EstimateCost(numHops int, flashLoan bool) uint64
}

// Config controls cycle search and sizing
type Config struct {
	MaxHops           int
	MinProfitPercent  float64
	MaxSlippage       float64 // max price impact per hop, in percent; 0 disables
	BaseTipLamports   uint64
	MaxCyclesPerStart int
	MaxInputAmount    uint64 // cap on trial size in base units; 0 disables
	RefineInput       bool
	RefineIterations  int
}

// Pathfinder searches the pool graph for profitable cycles
type Pathfinder struct {
	cfg      Config
	valuator *dex.Valuator
	costs    CostEstimator
	logger   *zap.Logger
}

// NewPathfinder creates a pathfinder
func NewPathfinder(cfg Config, valuator *dex.Valuator, costs CostEstimator, logger *zap.Logger) *Pathfinder {
	if cfg.MaxHops < 2 {
		cfg.MaxHops = 2
	}
	if cfg.MaxCyclesPerStart <= 0 {
		cfg.MaxCyclesPerStart = 5000
	}
	if cfg.RefineIterations <= 0 {
		cfg.RefineIterations = 24
	}
	return &Pathfinder{
		cfg:      cfg,
		valuator: valuator,
		costs:    costs,
		logger:   logger,
	}
}

// FindCycles enumerates pool cycles that leave start and return to it.
// Tokens are not revisited and a pool is used at most once per cycle.
func (p *Pathfinder) FindCycles(g *dex.Graph, start solana.PublicKey) [][]*types.PoolState {
	var (
		cycles  [][]*types.PoolState
		path    []*types.PoolState
		visited = map[solana.PublicKey]bool{start: true}
		used    = make(map[string]bool)
	)

	var walk func(current solana.PublicKey, depth int)
	walk = func(current solana.PublicKey, depth int) {
		for _, next := range g.Neighbors(current) {
			for _, pool := range g.Pools(current, next) {
				if len(cycles) >= p.cfg.MaxCyclesPerStart {
					return
				}
				if used[pool.ID] {
					continue
				}
				if next.Equals(start) {
					if depth+1 >= 2 {
						cycle := make([]*types.PoolState, len(path), len(path)+1)
						copy(cycle, path)
						cycles = append(cycles, append(cycle, pool))
					}
					continue
				}
				// leave room for the closing hop
				if visited[next] || depth+1 >= p.cfg.MaxHops {
					continue
				}

				visited[next] = true
				used[pool.ID] = true
				path = append(path, pool)
				walk(next, depth+1)
				path = path[:len(path)-1]
				used[pool.ID] = false
				visited[next] = false
			}
		}
	}
	walk(start, 0)

	return cycles
}

// simulate chains the valuator across the cycle starting with amount of start
func (p *Pathfinder) simulate(cycle []*types.PoolState, start *types.TokenInfo, amount cosmath.Int) ([]types.ArbitrageStep, cosmath.Int, bool) {
	steps := make([]types.ArbitrageStep, 0, len(cycle))
	tokenIn := start
	current := amount
	for _, pool := range cycle {
		step, err := p.valuator.Quote(pool, tokenIn, current)
		if err != nil || !step.AmountOut.IsPositive() {
			return nil, cosmath.Int{}, false
		}
		if p.cfg.MaxSlippage > 0 && step.PriceImpact*100 > p.cfg.MaxSlippage {
			return nil, cosmath.Int{}, false
		}
		steps = append(steps, step)
		tokenIn = step.TokenOut
		current = step.AmountOut
	}
	return steps, current, true
}

type trialResult struct {
	input  cosmath.Int
	output cosmath.Int
	steps  []types.ArbitrageStep
}

func (r *trialResult) profit() cosmath.Int {
	return r.output.Sub(r.input)
}

func (p *Pathfinder) trial(cycle []*types.PoolState, start *types.TokenInfo, amount cosmath.Int) *trialResult {
	if !amount.IsPositive() {
		return nil
	}
	steps, out, ok := p.simulate(cycle, start, amount)
	if !ok {
		return nil
	}
	return &trialResult{input: amount, output: out, steps: steps}
}

// ladderAmounts scales InputLadder to the token's base units, honouring MaxInputAmount
func (p *Pathfinder) ladderAmounts(start *types.TokenInfo) []cosmath.Int {
	unit := decimal.New(1, int32(start.Decimals))
	amounts := make([]cosmath.Int, 0, len(InputLadder))
	for _, size := range InputLadder {
		amount := cosmath.NewIntFromBigInt(size.Mul(unit).BigInt())
		if p.cfg.MaxInputAmount > 0 && amount.GT(cosmath.NewIntFromUint64(p.cfg.MaxInputAmount)) {
			continue
		}
		amounts = append(amounts, amount)
	}
	if len(amounts) == 0 && p.cfg.MaxInputAmount > 0 {
		amounts = append(amounts, cosmath.NewIntFromUint64(p.cfg.MaxInputAmount))
	}
	return amounts
}

// optimalInput tries each ladder size and returns the size with the largest final-input gap
func (p *Pathfinder) optimalInput(cycle []*types.PoolState, start *types.TokenInfo) *trialResult {
	amounts := p.ladderAmounts(start)

	var (
		best    *trialResult
		bestIdx = -1
	)
	for i, amount := range amounts {
		r := p.trial(cycle, start, amount)
		if r == nil {
			continue
		}
		if best == nil || r.profit().GT(best.profit()) {
			best, bestIdx = r, i
		}
	}
	if best == nil || !p.cfg.RefineInput {
		return best
	}

	lo := best.input.QuoRaw(2)
	if bestIdx > 0 {
		lo = amounts[bestIdx-1]
	}
	hi := best.input.MulRaw(2)
	if bestIdx < len(amounts)-1 {
		hi = amounts[bestIdx+1]
	}
	if p.cfg.MaxInputAmount > 0 && hi.GT(cosmath.NewIntFromUint64(p.cfg.MaxInputAmount)) {
		hi = cosmath.NewIntFromUint64(p.cfg.MaxInputAmount)
	}
	if refined := p.refine(cycle, start, lo, hi); refined != nil && refined.profit().GT(best.profit()) {
		best = refined
	}
	return best
}

// refine runs a ternary search on [lo, hi], assuming profit is unimodal there
func (p *Pathfinder) refine(cycle []*types.PoolState, start *types.TokenInfo, lo, hi cosmath.Int) *trialResult {
	var best *trialResult
	keep := func(r *trialResult) {
		if r != nil && (best == nil || r.profit().GT(best.profit())) {
			best = r
		}
	}

	for i := 0; i < p.cfg.RefineIterations && hi.Sub(lo).GT(cosmath.NewInt(2)); i++ {
		third := hi.Sub(lo).QuoRaw(3)
		m1 := lo.Add(third)
		m2 := hi.Sub(third)
		r1 := p.trial(cycle, start, m1)
		r2 := p.trial(cycle, start, m2)
		keep(r1)
		keep(r2)

		switch {
		case r1 == nil && r2 == nil:
			return best
		case r2 == nil || (r1 != nil && r1.profit().GT(r2.profit())):
			hi = m2
		default:
			lo = m1
		}
	}
	return best
}

// Confidence scores an opportunity from its profit margin and hop count, in [0,1]
func Confidence(profitPercent float64, hops int) float64 {
	score := 0.5

	switch {
	case profitPercent >= 1:
		score += 0.3
	case profitPercent >= 0.5:
		score += 0.2
	case profitPercent >= 0.1:
		score += 0.1
	}

	switch {
	case hops <= 2:
		score += 0.2
	case hops == 3:
		score += 0.1
	default:
		score -= 0.1
	}

	return types.ClampUnit(score)
}

func classify(path *types.ArbitragePath) types.PathType {
	if path.Hops() == 2 {
		return types.PathTwoPool
	}
	if len(path.Dexes()) > 1 {
		return types.PathCrossProtocol
	}
	return types.PathMultiHop
}

// EvaluateCycle sizes and scores one cycle; ok is false when no trial size is profitable
func (p *Pathfinder) EvaluateCycle(start *types.TokenInfo, cycle []*types.PoolState, snapshotAt time.Time) (*types.ArbitrageOpportunity, bool) {
	best := p.optimalInput(cycle, start)
	if best == nil || !best.profit().IsPositive() {
		return nil, false
	}

	path := types.ArbitragePath{Steps: best.steps}
	if err := path.Validate(); err != nil {
		p.logger.Debug("Discarding malformed cycle", zap.Error(err))
		return nil, false
	}
	path.Type = classify(&path)

	exp := -int32(start.Decimals)
	profit := decimal.NewFromBigInt(best.profit().BigInt(), exp)
	input := decimal.NewFromBigInt(best.input.BigInt(), exp)
	profitPercent := profit.Div(input).Mul(decimal.NewFromInt(100))

	var gas uint64
	if p.costs != nil {
		gas = p.costs.EstimateCost(path.Hops(), false)
	}
	net := profit.Sub(decimal.NewFromInt(int64(gas + p.cfg.BaseTipLamports)).Div(lamportsPerSOL))

	pct, _ := profitPercent.Float64()
	opp := &types.ArbitrageOpportunity{
		Path:          path,
		InputAmount:   best.input,
		OutputAmount:  best.output,
		Profit:        profit,
		ProfitPercent: profitPercent,
		NetProfit:     net,
		GasEstimate:   gas,
		Confidence:    Confidence(pct, path.Hops()),
		Source:        SourcePathfinder,
		DetectedAt:    time.Now(),
		SnapshotAt:    snapshotAt,
	}
	opp.ID = fmt.Sprintf("%016x", opp.KeyHash())
	return opp, true
}

// FindOpportunities searches every start token concurrently against the same graph
// and returns cycles meeting MinProfitPercent, most profitable first.
func (p *Pathfinder) FindOpportunities(ctx context.Context, g *dex.Graph, starts []solana.PublicKey, snapshotAt time.Time) ([]*types.ArbitrageOpportunity, error) {
	var (
		mu    sync.Mutex
		found []*types.ArbitrageOpportunity
	)
	minPercent := decimal.NewFromFloat(p.cfg.MinProfitPercent)

	eg, ctx := errgroup.WithContext(ctx)
	for _, mint := range starts {
		start, ok := g.Token(mint)
		if !ok {
			p.logger.Debug("Start token not present in snapshot", zap.String("mint", mint.String()))
			continue
		}

		eg.Go(func() error {
			cycles := p.FindCycles(g, start.Mint)
			var local []*types.ArbitrageOpportunity
			for _, cycle := range cycles {
				if err := ctx.Err(); err != nil {
					return err
				}
				opp, ok := p.EvaluateCycle(start, cycle, snapshotAt)
				if !ok || opp.ProfitPercent.LessThan(minPercent) {
					continue
				}
				local = append(local, opp)
			}

			p.logger.Debug("Scanned start token",
				zap.String("token", start.String()),
				zap.Int("cycles", len(cycles)),
				zap.Int("opportunities", len(local)))

			mu.Lock()
			found = append(found, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to search cycles: %w", err)
	}

	SortByProfit(found)
	return found, nil
}

// SortByProfit orders opportunities by profit, highest first
func SortByProfit(opps []*types.ArbitrageOpportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if !opps[i].Profit.Equal(opps[j].Profit) {
			return opps[i].Profit.GreaterThan(opps[j].Profit)
		}
		return opps[i].Confidence > opps[j].Confidence
	})
}
