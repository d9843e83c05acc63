package types

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	cosmath "cosmossdk.io/math"
	"github.com/cespare/xxhash/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// TokenInfo identifies a token mint and its decimal precision
type TokenInfo struct {
	Mint     solana.PublicKey
	Decimals uint8
	Symbol   string
}

// String returns the symbol when known, otherwise the mint
func (t *TokenInfo) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Mint.String()
}

// Unit returns 10^decimals as an integer
func (t *TokenInfo) Unit() cosmath.Int {
	return cosmath.NewIntFromBigInt(decimalPow(t.Decimals))
}

// DexKind tags the protocol variant a pool belongs to
type DexKind string

const (
	DexRaydiumAMM  DexKind = "raydium-amm"
	DexRaydiumCPMM DexKind = "raydium-cpmm"
	DexOrca        DexKind = "orca"
	DexMeteora     DexKind = "meteora"
	DexLifinity    DexKind = "lifinity"
	DexPumpSwap    DexKind = "pumpswap"
)

var knownDexes = map[DexKind]struct{}{
	DexRaydiumAMM:  {},
	DexRaydiumCPMM: {},
	DexOrca:        {},
	DexMeteora:     {},
	DexLifinity:    {},
	DexPumpSwap:    {},
}

// ParseDexKind normalizes a collector dex label into a known DexKind
func ParseDexKind(s string) (DexKind, error) {
	kind := DexKind(strings.ToLower(strings.TrimSpace(s)))
	switch kind {
	case "raydium":
		kind = DexRaydiumAMM
	case "whirlpool", "orca-whirlpool":
		kind = DexOrca
	}
	if _, ok := knownDexes[kind]; !ok {
		return "", NewValidationError("dex", fmt.Sprintf("unknown dex %q", s))
	}
	return kind, nil
}

// PoolState is a read-only snapshot of a constant-product pool
type PoolState struct {
	ID       string
	Dex      DexKind
	TokenA   *TokenInfo
	TokenB   *TokenInfo
	ReserveA cosmath.Int
	ReserveB cosmath.Int
	FeeBps   uint16
	// Price as reported by the collector, quoted as B per A
	Price float64
}

// HasLiquidity reports whether both sides hold a non-zero reserve
func (p *PoolState) HasLiquidity() bool {
	return !p.ReserveA.IsNil() && !p.ReserveB.IsNil() && p.ReserveA.IsPositive() && p.ReserveB.IsPositive()
}

// Contains reports whether the pool trades the given mint
func (p *PoolState) Contains(mint solana.PublicKey) bool {
	return p.TokenA.Mint.Equals(mint) || p.TokenB.Mint.Equals(mint)
}

// Other returns the counterpart token of mint in this pool
func (p *PoolState) Other(mint solana.PublicKey) *TokenInfo {
	if p.TokenA.Mint.Equals(mint) {
		return p.TokenB
	}
	return p.TokenA
}

// Reserves returns (reserveIn, reserveOut) for a swap that sells tokenIn
func (p *PoolState) Reserves(tokenIn solana.PublicKey) (cosmath.Int, cosmath.Int) {
	if p.TokenA.Mint.Equals(tokenIn) {
		return p.ReserveA, p.ReserveB
	}
	return p.ReserveB, p.ReserveA
}

// SpotPrice derives the decimal-adjusted price of A in units of B from reserves
func (p *PoolState) SpotPrice() float64 {
	if !p.HasLiquidity() {
		return 0
	}
	a, _ := decimal.NewFromBigInt(p.ReserveA.BigInt(), -int32(p.TokenA.Decimals)).Float64()
	b, _ := decimal.NewFromBigInt(p.ReserveB.BigInt(), -int32(p.TokenB.Decimals)).Float64()
	if a == 0 {
		return 0
	}
	return b / a
}

// PriceOf returns the price of mint quoted in the other token
func (p *PoolState) PriceOf(mint solana.PublicKey) float64 {
	spot := p.SpotPrice()
	if spot == 0 {
		return 0
	}
	if p.TokenA.Mint.Equals(mint) {
		return spot
	}
	return 1 / spot
}

// ArbitrageStep is one hop of a cycle
type ArbitrageStep struct {
	Pool        *PoolState
	TokenIn     *TokenInfo
	TokenOut    *TokenInfo
	AmountIn    cosmath.Int
	AmountOut   cosmath.Int
	Price       float64
	FeeBps      uint16
	PriceImpact float64
}

// PathType classifies the shape of a cycle
type PathType string

const (
	PathTwoPool       PathType = "two-pool"
	PathMultiHop      PathType = "multi-hop"
	PathCrossProtocol PathType = "cross-protocol"
)

// ArbitragePath is an ordered cycle of steps returning to its start token
type ArbitragePath struct {
	Steps []ArbitrageStep
	Type  PathType
}

// Hops returns the number of swaps in the path
func (p *ArbitragePath) Hops() int {
	return len(p.Steps)
}

// StartToken returns the token the cycle sells first
func (p *ArbitragePath) StartToken() *TokenInfo {
	if len(p.Steps) == 0 {
		return nil
	}
	return p.Steps[0].TokenIn
}

// EndToken returns the token the cycle ends with
func (p *ArbitragePath) EndToken() *TokenInfo {
	if len(p.Steps) == 0 {
		return nil
	}
	return p.Steps[len(p.Steps)-1].TokenOut
}

// PoolIDs returns the ordered pool ids along the path
func (p *ArbitragePath) PoolIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, step := range p.Steps {
		ids[i] = step.Pool.ID
	}
	return ids
}

// Dexes returns the distinct dex kinds used by the path in order of appearance
func (p *ArbitragePath) Dexes() []DexKind {
	seen := make(map[DexKind]struct{})
	var out []DexKind
	for _, step := range p.Steps {
		if _, ok := seen[step.Pool.Dex]; ok {
			continue
		}
		seen[step.Pool.Dex] = struct{}{}
		out = append(out, step.Pool.Dex)
	}
	return out
}

// Validate checks that the path is non-empty, chains hop to hop and closes exactly
func (p *ArbitragePath) Validate() error {
	if len(p.Steps) == 0 {
		return NewValidationError("steps", "empty step list")
	}
	for i, step := range p.Steps {
		if step.Pool == nil || step.TokenIn == nil || step.TokenOut == nil {
			return NewValidationError("steps", fmt.Sprintf("step %d is incomplete", i))
		}
		if i > 0 && !p.Steps[i-1].TokenOut.Mint.Equals(step.TokenIn.Mint) {
			return NewValidationError("steps", fmt.Sprintf("step %d does not chain from step %d", i, i-1))
		}
	}
	if !p.StartToken().Mint.Equals(p.EndToken().Mint) {
		return NewValidationError("steps", "cycle does not return to its start token")
	}
	return nil
}

// Recommendation is the risk scorer's verdict
type Recommendation string

const (
	RecommendExecute Recommendation = "execute"
	RecommendCaution Recommendation = "caution"
	RecommendSkip    Recommendation = "skip"
)

// RiskAssessment enriches an opportunity before execution
type RiskAssessment struct {
	ExecutionProbability float64
	RiskScore            float64
	Recommendation       Recommendation
	PredictedPrice       float64
	PredictionConfidence float64
	MatchCount           int
}

// ArbitrageOpportunity is a scored cycle at its best trial input size
type ArbitrageOpportunity struct {
	ID            string
	Path          ArbitragePath
	InputAmount   cosmath.Int
	OutputAmount  cosmath.Int
	Profit        decimal.Decimal
	ProfitPercent decimal.Decimal
	NetProfit     decimal.Decimal
	// GasEstimate is the expected network cost in lamports
	GasEstimate uint64
	Confidence  float64
	Risk        *RiskAssessment
	// Source names the detector that produced the opportunity
	Source     string
	DetectedAt time.Time
	SnapshotAt time.Time
}

// WithRisk returns a copy of the opportunity carrying the assessment
func (o *ArbitrageOpportunity) WithRisk(r *RiskAssessment) *ArbitrageOpportunity {
	cp := *o
	cp.Risk = r
	return &cp
}

// ProfitLamports converts profit to base units of the start token, truncated at zero
func (o *ArbitrageOpportunity) ProfitLamports() uint64 {
	diff := o.OutputAmount.Sub(o.InputAmount)
	if !diff.IsPositive() || !diff.IsUint64() {
		return 0
	}
	return diff.Uint64()
}

// FlashLoanParams describes a single borrow leg
type FlashLoanParams struct {
	TokenMint solana.PublicKey
	Amount    uint64
	Borrower  solana.PublicKey
	Provider  string
	Fee       uint64
}

// ExecutionPlan is built once per execution attempt
type ExecutionPlan struct {
	ID                 string
	Opportunity        *ArbitrageOpportunity
	UseFlashLoan       bool
	FlashLoan          *FlashLoanParams
	Bundle             *Bundle
	EstimatedNetProfit decimal.Decimal
	Steps              []string
	CreatedAt          time.Time
}

// AddStep appends a human-readable step description
func (p *ExecutionPlan) AddStep(format string, args ...interface{}) {
	p.Steps = append(p.Steps, fmt.Sprintf(format, args...))
}

func decimalPow(dec uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil)
}

// ClampUnit limits v to [0,1]
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Key returns the canonical dedupe key: start mint followed by the ordered pool ids
func (o *ArbitrageOpportunity) Key() string {
	start := o.Path.StartToken()
	if start == nil {
		return ""
	}
	return start.Mint.String() + "|" + strings.Join(o.Path.PoolIDs(), ">")
}

// KeyHash hashes the canonical key for compact dedupe sets
func (o *ArbitrageOpportunity) KeyHash() uint64 {
	return xxhash.Sum64String(o.Key())
}
