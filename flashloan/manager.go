package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/types"
)

var lamportsPerSOL = decimal.New(1, 9)

// Manager coordinates flash loan decisions across lending providers
type Manager struct {
	mu      sync.RWMutex
	cfg     Config
	metrics struct {
		providerSelections *prometheus.CounterVec
		decisions          *prometheus.CounterVec
		successRate        prometheus.Gauge
		successCount       prometheus.Counter
		totalCount         prometheus.Counter
		borrowedVolume     prometheus.Counter
	}
	providers []Provider
	logger    *zap.Logger
}

// NewManager creates a new flash loan manager. A nil registerer leaves metrics unregistered.
func NewManager(cfg Config, logger *zap.Logger, reg prometheus.Registerer) *Manager {
	if cfg.MinRetention.IsZero() {
		cfg.MinRetention = DefaultMinRetention
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger,
	}

	factory := promauto.With(reg)
	m.metrics.providerSelections = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarb",
		Name:      "flashloan_provider_selections_total",
		Help:      "Number of times each provider was selected",
	}, []string{"provider"})
	m.metrics.decisions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarb",
		Name:      "flashloan_decisions_total",
		Help:      "Flash loan decisions by outcome",
	}, []string{"outcome"})
	m.metrics.successRate = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "solarb",
		Name:      "flashloan_success_rate",
		Help:      "Share of flash-loan-backed bundles that landed",
	})
	m.metrics.successCount = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "solarb",
		Name:      "flashloan_success_count",
		Help:      "Number of flash-loan-backed bundles that landed",
	})
	m.metrics.totalCount = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "solarb",
		Name:      "flashloan_total_count",
		Help:      "Number of flash-loan-backed bundles with a final outcome",
	})
	m.metrics.borrowedVolume = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "solarb",
		Name:      "flashloan_borrowed_volume",
		Help:      "Total base units borrowed through landed flash loans",
	})

	return m
}

// AddProvider adds a new flash loan provider
func (m *Manager) AddProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
}

// Provider looks up a registered provider by name
func (m *Manager) Provider(name string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// selectOptimalProvider selects the cheapest provider with enough liquidity for amount
func (m *Manager) selectOptimalProvider(ctx context.Context, mint solana.PublicKey, amount uint64) (Provider, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.providers) == 0 {
		return nil, 0, fmt.Errorf("no providers available")
	}

	var (
		bestProvider Provider
		bestFee      uint64
	)

	for _, provider := range m.providers {
		liquidity, err := provider.Liquidity(ctx, mint)
		if err != nil {
			m.logger.Warn("Failed to get provider liquidity", zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}
		if liquidity < amount {
			continue
		}

		fee, err := provider.Fee(ctx, mint, amount)
		if err != nil {
			m.logger.Warn("Failed to get provider fee", zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}

		if bestProvider == nil || fee < bestFee {
			bestProvider = provider
			bestFee = fee
		}
	}

	if bestProvider == nil {
		return nil, 0, fmt.Errorf("no provider can lend %d of %s", amount, mint)
	}

	m.metrics.providerSelections.WithLabelValues(bestProvider.Name()).Inc()
	return bestProvider, bestFee, nil
}

// Decide evaluates whether borrowing improves the economics of an opportunity.
// It returns ErrInsufficientCapital when neither a loan nor the wallet can fund the trade profitably.
func (m *Manager) Decide(ctx context.Context, in DecisionInput) (*Decision, error) {
	opp := in.Opportunity
	if opp == nil || opp.Path.StartToken() == nil {
		return nil, types.NewValidationError("opportunity", "missing start token")
	}
	if !opp.InputAmount.IsUint64() {
		return nil, types.NewValidationError("inputAmount", "exceeds uint64")
	}

	start := opp.Path.StartToken()
	amount := opp.InputAmount.Uint64()
	costs := decimal.NewFromInt(int64(in.GasLamports + in.TipLamports)).Div(lamportsPerSOL)

	decision := &Decision{
		NetWithoutLoan: opp.Profit.Sub(costs),
	}
	funded := in.Available >= amount

	fallback := func(reason string, cause error) (*Decision, error) {
		if funded && decision.NetWithoutLoan.IsPositive() {
			decision.Reason = reason
			m.metrics.decisions.WithLabelValues("own_capital").Inc()
			return decision, nil
		}
		m.metrics.decisions.WithLabelValues("abandoned").Inc()
		if cause != nil {
			return nil, fmt.Errorf("%s: %w: %w", reason, types.ErrInsufficientCapital, cause)
		}
		return nil, fmt.Errorf("%s: %w", reason, types.ErrInsufficientCapital)
	}

	if !m.cfg.Enabled {
		return fallback("flash loans disabled", nil)
	}
	if m.cfg.MaxAmount > 0 && amount > m.cfg.MaxAmount {
		return fallback(fmt.Sprintf("borrow of %d exceeds cap %d", amount, m.cfg.MaxAmount), nil)
	}

	provider, fee, err := m.selectOptimalProvider(ctx, start.Mint, amount)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return fallback("no flash loan provider", err)
	}

	feeTokens := decimal.NewFromBigInt(new(big.Int).SetUint64(fee), -int32(start.Decimals))
	loanGas := in.LoanGasLamports
	if loanGas == 0 {
		loanGas = in.GasLamports
	}
	loanCosts := decimal.NewFromInt(int64(loanGas + in.TipLamports)).Div(lamportsPerSOL)
	decision.NetWithLoan = opp.Profit.Sub(feeTokens).Sub(loanCosts)

	retained := decision.NetWithLoan.GreaterThanOrEqual(decision.NetWithoutLoan.Mul(m.cfg.MinRetention))
	if decision.NetWithLoan.IsPositive() && (retained || !funded) {
		decision.UseFlashLoan = true
		decision.Params = &types.FlashLoanParams{
			TokenMint: start.Mint,
			Amount:    amount,
			Borrower:  in.Borrower,
			Provider:  provider.Name(),
			Fee:       fee,
		}
		decision.Reason = fmt.Sprintf("borrow from %s", provider.Name())
		m.metrics.decisions.WithLabelValues("flash_loan").Inc()
		return decision, nil
	}

	return fallback(fmt.Sprintf("loan from %s keeps too little profit", provider.Name()), nil)
}

// Wrap fetches borrow and repay instructions for each loan and sequences them around userOps
func (m *Manager) Wrap(ctx context.Context, loans []types.FlashLoanParams, userOps []solana.Instruction) ([]solana.Instruction, error) {
	legs := make([]Leg, 0, len(loans))
	for _, params := range loans {
		provider, ok := m.Provider(params.Provider)
		if !ok {
			return nil, fmt.Errorf("unknown flash loan provider %q", params.Provider)
		}
		borrow, err := provider.BorrowInstruction(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to build borrow instruction: %w", err)
		}
		repay, err := provider.RepayInstruction(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to build repay instruction: %w", err)
		}
		legs = append(legs, Leg{Borrow: borrow, Repay: repay})
	}
	return Sequence(legs, userOps), nil
}

// RecordOutcome updates success metrics once a flash-loan-backed bundle is final
func (m *Manager) RecordOutcome(params *types.FlashLoanParams, landed bool) {
	if params == nil {
		return
	}
	m.metrics.totalCount.Inc()
	if landed {
		m.metrics.successCount.Inc()
		m.metrics.borrowedVolume.Add(float64(params.Amount))
	}
	m.updateSuccessRate()
}

// SuccessRate returns the current landed share of flash-loan-backed bundles
func (m *Manager) SuccessRate() float64 {
	return readValue(m.metrics.successRate)
}

// updateSuccessRate updates the success rate metric
func (m *Manager) updateSuccessRate() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	successCount := readValue(m.metrics.successCount)
	totalCount := readValue(m.metrics.totalCount)
	if totalCount > 0 {
		m.metrics.successRate.Set(successCount / totalCount)
	}
}

func readValue(c prometheus.Metric) float64 {
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		return 0
	}
	switch {
	case metric.Counter != nil:
		return metric.Counter.GetValue()
	case metric.Gauge != nil:
		return metric.Gauge.GetValue()
	}
	return 0
}
