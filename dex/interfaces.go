package dex

import (
	"context"
	"fmt"
	"sync"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"

	"github.com/michaelpento.lv/solarb/types"
)

// SwapAdapter builds the protocol-specific instructions for one hop.
// Instruction encodings live in the adapter; the engine only orders them.
type SwapAdapter interface {
	// Dex returns the protocol variant served by this adapter
	Dex() types.DexKind

	// SwapInstructions returns the instructions that sell step.AmountIn for at least minOut
	SwapInstructions(ctx context.Context, step types.ArbitrageStep, owner solana.PublicKey, minOut cosmath.Int) ([]solana.Instruction, error)
}

// AdapterRegistry maps dex kinds to their swap adapters
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[types.DexKind]SwapAdapter
}

// NewAdapterRegistry creates a registry holding the given adapters
func NewAdapterRegistry(adapters ...SwapAdapter) *AdapterRegistry {
	r := &AdapterRegistry{adapters: make(map[types.DexKind]SwapAdapter)}
	for _, a := range adapters {
		r.adapters[a.Dex()] = a
	}
	return r
}

// Register adds or replaces the adapter for its dex
func (r *AdapterRegistry) Register(a SwapAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Dex()] = a
}

// Get returns the adapter for kind
func (r *AdapterRegistry) Get(kind types.DexKind) (SwapAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

func (r *AdapterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// BuildPath returns swap instructions for every step of the path, in order.
// slippageBps bounds each hop's minimum output below its quoted amount.
func (r *AdapterRegistry) BuildPath(ctx context.Context, path types.ArbitragePath, owner solana.PublicKey, slippageBps uint16) ([]solana.Instruction, error) {
	if slippageBps > feeDenominator {
		slippageBps = feeDenominator
	}
	var out []solana.Instruction
	for i, step := range path.Steps {
		adapter, ok := r.Get(step.Pool.Dex)
		if !ok {
			return nil, types.NewValidationError("dex", fmt.Sprintf("no swap adapter for %s at hop %d", step.Pool.Dex, i))
		}
		minOut := step.AmountOut.Mul(cosmath.NewInt(int64(feeDenominator - int(slippageBps)))).Quo(feeDenominatorInt)
		ixs, err := adapter.SwapInstructions(ctx, step, owner, minOut)
		if err != nil {
			return nil, fmt.Errorf("failed to build swap for hop %d on %s: %w", i, step.Pool.Dex, err)
		}
		out = append(out, ixs...)
	}
	return out, nil
}
