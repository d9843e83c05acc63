package gas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	// LamportsPerSignature is the base network fee per transaction signature
	LamportsPerSignature = 5000

	// MaxComputeUnits is the per-transaction compute ceiling
	MaxComputeUnits = 1_400_000

	baseComputeUnits        = 40_000
	computeUnitsPerHop      = 80_000
	flashLoanComputeUnits   = 120_000
	microLamportsPerLamport = 1_000_000
)

// FeeSource reports recent priority fees in micro-lamports per compute unit
type FeeSource interface {
	RecentPriorityFees(ctx context.Context) ([]uint64, error)
}

// RPCFeeSource reads priority fees from a Solana RPC node
type RPCFeeSource struct {
	client *rpc.Client
}

// NewRPCFeeSource wraps an RPC client
func NewRPCFeeSource(client *rpc.Client) *RPCFeeSource {
	return &RPCFeeSource{client: client}
}

// RecentPriorityFees implements FeeSource
func (s *RPCFeeSource) RecentPriorityFees(ctx context.Context) ([]uint64, error) {
	fees, err := s.client.GetRecentPrioritizationFees(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(fees))
	for _, f := range fees {
		out = append(out, f.PrioritizationFee)
	}
	return out, nil
}

// Config tunes the priority fee the estimator quotes
type Config struct {
	MinPriorityFee uint64
	MaxPriorityFee uint64
	Multiplier     float64
	UpdateInterval time.Duration
	Signatures     int
}

// BundleSignatures is the number of signed transactions an arbitrage submits:
// the trade plus, when bundling, the trailing tip transfer.
func BundleSignatures(bundled bool) int {
	if bundled {
		return 2
	}
	return 1
}

// Estimator provides compute and fee estimation for arbitrage transactions
type Estimator struct {
	source      FeeSource
	cfg         Config
	logger      *zap.Logger
	priorityFee uint64
	mu          sync.RWMutex
}

// NewEstimator creates a new estimator. A nil source keeps the minimum priority fee.
func NewEstimator(source FeeSource, cfg Config, logger *zap.Logger) *Estimator {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	if cfg.Signatures <= 0 {
		cfg.Signatures = 1
	}
	if cfg.MaxPriorityFee < cfg.MinPriorityFee {
		cfg.MaxPriorityFee = cfg.MinPriorityFee
	}
	return &Estimator{
		source:      source,
		cfg:         cfg,
		logger:      logger,
		priorityFee: cfg.MinPriorityFee,
	}
}

// Run refreshes the priority fee until ctx is cancelled
func (e *Estimator) Run(ctx context.Context) {
	if e.source == nil || e.cfg.UpdateInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		if err := e.Update(ctx); err != nil {
			e.logger.Warn("Failed to update priority fee", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Update fetches recent fees and stores the clamped average of non-zero samples
func (e *Estimator) Update(ctx context.Context) error {
	if e.source == nil {
		return nil
	}
	fees, err := e.source.RecentPriorityFees(ctx)
	if err != nil {
		return fmt.Errorf("failed to get recent priority fees: %w", err)
	}

	var total, count uint64
	for _, f := range fees {
		if f > 0 {
			total += f
			count++
		}
	}

	fee := e.cfg.MinPriorityFee
	if count > 0 {
		fee = uint64(float64(total/count) * e.cfg.Multiplier)
	}
	if fee < e.cfg.MinPriorityFee {
		fee = e.cfg.MinPriorityFee
	}
	if e.cfg.MaxPriorityFee > 0 && fee > e.cfg.MaxPriorityFee {
		fee = e.cfg.MaxPriorityFee
	}

	e.mu.Lock()
	e.priorityFee = fee
	e.mu.Unlock()
	return nil
}

// PriorityFee returns the current price in micro-lamports per compute unit
func (e *Estimator) PriorityFee() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.priorityFee
}

// EstimateArbitrageUnits estimates compute units for a cycle of numHops swaps
func (e *Estimator) EstimateArbitrageUnits(numHops int, flashLoan bool) uint32 {
	units := uint64(baseComputeUnits) + uint64(computeUnitsPerHop)*uint64(numHops)
	if flashLoan {
		units += flashLoanComputeUnits
	}
	if units > MaxComputeUnits {
		units = MaxComputeUnits
	}
	return uint32(units)
}

// EstimateCost returns the expected network cost in lamports
func (e *Estimator) EstimateCost(numHops int, flashLoan bool) uint64 {
	units := uint64(e.EstimateArbitrageUnits(numHops, flashLoan))
	priority := units * e.PriorityFee() / microLamportsPerLamport
	return uint64(e.cfg.Signatures)*LamportsPerSignature + priority
}
