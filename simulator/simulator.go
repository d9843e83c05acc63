package simulator

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/gas"
	"github.com/michaelpento.lv/solarb/types"
)

// SimulationResult represents the result of a transaction simulation
type SimulationResult struct {
	Success       bool
	UnitsConsumed uint64
	Logs          []string
	// Err is the runtime error reported by the node, nil on success
	Err interface{}
}

// Backend dry-runs a single signed transaction
type Backend interface {
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error)
}

// RPCBackend simulates through a Solana RPC node
type RPCBackend struct {
	client *rpc.Client
}

// NewRPCBackend wraps an RPC client
func NewRPCBackend(client *rpc.Client) *RPCBackend {
	return &RPCBackend{client: client}
}

// SimulateTransaction implements Backend
func (b *RPCBackend) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	out, err := b.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		Commitment:             rpc.CommitmentProcessed,
		ReplaceRecentBlockhash: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("empty simulation response")
	}

	result := &SimulationResult{
		Success: out.Value.Err == nil,
		Logs:    out.Value.Logs,
		Err:     out.Value.Err,
	}
	if out.Value.UnitsConsumed != nil {
		result.UnitsConsumed = *out.Value.UnitsConsumed
	}
	return result, nil
}

// Report summarizes a successful bundle simulation
type Report struct {
	Results    []*SimulationResult
	TotalUnits uint64
}

// Simulator handles bundle simulation
type Simulator struct {
	backend  Backend
	maxUnits uint64
	logger   *zap.Logger
}

// NewSimulator creates a new bundle simulator
func NewSimulator(backend Backend, logger *zap.Logger) *Simulator {
	return &Simulator{
		backend:  backend,
		maxUnits: gas.MaxComputeUnits,
		logger:   logger,
	}
}

// SimulateBundle simulates txs in order and stops at the first failure.
// Failures are returned as *types.SimulationError carrying the failing index.
func (s *Simulator) SimulateBundle(ctx context.Context, txs []*solana.Transaction) (*Report, error) {
	if len(txs) == 0 {
		return nil, types.NewValidationError("transactions", "empty bundle")
	}

	report := &Report{Results: make([]*SimulationResult, 0, len(txs))}
	for i, tx := range txs {
		result, err := s.backend.SimulateTransaction(ctx, tx)
		if err != nil {
			return nil, &types.SimulationError{Index: i, Reason: err.Error()}
		}
		if !result.Success {
			s.logger.Debug("Bundle transaction failed simulation",
				zap.Int("index", i),
				zap.Any("err", result.Err),
				zap.Strings("logs", result.Logs))
			return nil, &types.SimulationError{
				Index:         i,
				Reason:        fmt.Sprintf("%v", result.Err),
				UnitsConsumed: result.UnitsConsumed,
				Logs:          result.Logs,
			}
		}
		if result.UnitsConsumed > s.maxUnits {
			return nil, &types.SimulationError{
				Index:         i,
				Reason:        fmt.Sprintf("consumed %d compute units, limit is %d", result.UnitsConsumed, s.maxUnits),
				UnitsConsumed: result.UnitsConsumed,
				Logs:          result.Logs,
			}
		}
		report.Results = append(report.Results, result)
		report.TotalUnits += result.UnitsConsumed
	}
	return report, nil
}
