package flashloan

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/michaelpento.lv/solarb/types"
)

// Provider defines the interface for flash loan lending protocols
type Provider interface {
	Name() string
	// Fee returns the fee in base units of mint for borrowing amount
	Fee(ctx context.Context, mint solana.PublicKey, amount uint64) (uint64, error)
	// Liquidity returns how much of mint the protocol can lend right now
	Liquidity(ctx context.Context, mint solana.PublicKey) (uint64, error)
	BorrowInstruction(ctx context.Context, params types.FlashLoanParams) (solana.Instruction, error)
	RepayInstruction(ctx context.Context, params types.FlashLoanParams) (solana.Instruction, error)
}
