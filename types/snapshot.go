package types

import (
	"encoding/json"
	"fmt"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
)

// PoolSnapshot is the collector's wire form of a pool
type PoolSnapshot struct {
	Address  string           `json:"address,omitempty"`
	Dex      string           `json:"dex"`
	TokenA   SnapshotToken    `json:"tokenA"`
	TokenB   SnapshotToken    `json:"tokenB"`
	Reserves SnapshotReserves `json:"reserves"`
	FeeBps   int              `json:"feeBps"`
	Price    float64          `json:"price"`
}

// SnapshotToken is a token reference inside a snapshot
type SnapshotToken struct {
	Mint     string `json:"mint"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
}

// SnapshotReserves accepts integer reserves as JSON numbers or strings
type SnapshotReserves struct {
	A json.Number `json:"a"`
	B json.Number `json:"b"`
}

// DecodeSnapshots parses a JSON array of pool snapshots
func DecodeSnapshots(data []byte) ([]PoolSnapshot, error) {
	var snaps []PoolSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("failed to decode pool snapshots: %w", err)
	}
	return snaps, nil
}

// TokenSet interns TokenInfo values so pools share one record per mint
type TokenSet struct {
	tokens map[solana.PublicKey]*TokenInfo
}

// NewTokenSet creates an empty TokenSet
func NewTokenSet() *TokenSet {
	return &TokenSet{tokens: make(map[solana.PublicKey]*TokenInfo)}
}

// Intern returns the shared TokenInfo for the reference, rejecting conflicting decimals
func (s *TokenSet) Intern(ref SnapshotToken) (*TokenInfo, error) {
	mint, err := solana.PublicKeyFromBase58(ref.Mint)
	if err != nil {
		return nil, NewValidationError("mint", fmt.Sprintf("%q is not a valid public key", ref.Mint))
	}
	if ref.Decimals < 0 || ref.Decimals > 18 {
		return nil, NewValidationError("decimals", fmt.Sprintf("%d out of range for %s", ref.Decimals, ref.Mint))
	}
	if existing, ok := s.tokens[mint]; ok {
		if existing.Decimals != uint8(ref.Decimals) {
			return nil, NewValidationError("decimals", fmt.Sprintf("conflicting decimals for %s", ref.Mint))
		}
		if existing.Symbol == "" && ref.Symbol != "" {
			existing.Symbol = ref.Symbol
		}
		return existing, nil
	}
	info := &TokenInfo{Mint: mint, Decimals: uint8(ref.Decimals), Symbol: ref.Symbol}
	s.tokens[mint] = info
	return info, nil
}

// Get returns the interned token for mint
func (s *TokenSet) Get(mint solana.PublicKey) (*TokenInfo, bool) {
	t, ok := s.tokens[mint]
	return t, ok
}

// ToPoolState validates the snapshot and converts it into a PoolState
func (ps PoolSnapshot) ToPoolState(tokens *TokenSet) (*PoolState, error) {
	dex, err := ParseDexKind(ps.Dex)
	if err != nil {
		return nil, err
	}
	if ps.FeeBps < 0 || ps.FeeBps >= 10000 {
		return nil, NewValidationError("feeBps", fmt.Sprintf("%d out of range", ps.FeeBps))
	}

	tokenA, err := tokens.Intern(ps.TokenA)
	if err != nil {
		return nil, err
	}
	tokenB, err := tokens.Intern(ps.TokenB)
	if err != nil {
		return nil, err
	}
	if tokenA.Mint.Equals(tokenB.Mint) {
		return nil, NewValidationError("tokens", "pool trades a token against itself")
	}

	reserveA, err := parseReserve(ps.Reserves.A)
	if err != nil {
		return nil, err
	}
	reserveB, err := parseReserve(ps.Reserves.B)
	if err != nil {
		return nil, err
	}

	id := ps.Address
	if id != "" {
		if _, err := solana.PublicKeyFromBase58(id); err != nil {
			return nil, NewValidationError("address", fmt.Sprintf("%q is not a valid public key", id))
		}
	} else {
		id = fmt.Sprintf("%s:%s:%s:%d", dex, tokenA.Mint, tokenB.Mint, ps.FeeBps)
	}

	return &PoolState{
		ID:       id,
		Dex:      dex,
		TokenA:   tokenA,
		TokenB:   tokenB,
		ReserveA: reserveA,
		ReserveB: reserveB,
		FeeBps:   uint16(ps.FeeBps),
		Price:    ps.Price,
	}, nil
}

func parseReserve(n json.Number) (cosmath.Int, error) {
	if n == "" {
		return cosmath.ZeroInt(), nil
	}
	v, ok := cosmath.NewIntFromString(n.String())
	if !ok {
		return cosmath.Int{}, NewValidationError("reserves", fmt.Sprintf("%q is not an integer", n))
	}
	if v.IsNegative() {
		return cosmath.Int{}, NewValidationError("reserves", "negative reserve")
	}
	return v, nil
}

// BuildPools converts snapshots, returning the valid pools and one error per rejected entry
func BuildPools(snaps []PoolSnapshot) ([]*PoolState, []error) {
	tokens := NewTokenSet()
	pools := make([]*PoolState, 0, len(snaps))
	var rejected []error
	for i, snap := range snaps {
		pool, err := snap.ToPoolState(tokens)
		if err != nil {
			rejected = append(rejected, fmt.Errorf("snapshot %d: %w", i, err))
			continue
		}
		pools = append(pools, pool)
	}
	return pools, rejected
}
