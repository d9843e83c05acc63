package flashloan

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/solarb/types"
)

// DefaultMinRetention is the share of the no-loan net profit a loan must keep
var DefaultMinRetention = decimal.NewFromFloat(0.8)

// Config contains flash loan manager settings
type Config struct {
	Enabled bool
	// MaxAmount caps a single borrow in base units of the borrowed token; 0 disables the cap
	MaxAmount    uint64
	MinRetention decimal.Decimal
}

// DecisionInput carries everything Decide needs about one opportunity
type DecisionInput struct {
	Opportunity *types.ArbitrageOpportunity
	GasLamports uint64
	// LoanGasLamports is the network cost of the borrow-wrapped transaction; 0 means GasLamports
	LoanGasLamports uint64
	TipLamports     uint64
	Borrower        solana.PublicKey
	// Available is the wallet balance of the start token in base units
	Available uint64
}

// Decision is the outcome of the borrow-or-not evaluation
type Decision struct {
	UseFlashLoan   bool
	Params         *types.FlashLoanParams
	NetWithLoan    decimal.Decimal
	NetWithoutLoan decimal.Decimal
	Reason         string
}

// Leg pairs the borrow and repay instructions of one loan
type Leg struct {
	Borrow solana.Instruction
	Repay  solana.Instruction
}
