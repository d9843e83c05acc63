package types

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MaxBundleTransactions is the relay limit on transactions per bundle
const MaxBundleTransactions = 5

// BundleState tracks a bundle through its lifecycle
type BundleState string

const (
	BundleCreated   BundleState = "created"
	BundleSimulated BundleState = "simulated"
	BundleSubmitted BundleState = "submitted"
	BundleLanded    BundleState = "landed"
	BundleFailed    BundleState = "failed"
	BundleDropped   BundleState = "dropped"
	// BundlePending is reported by status polls that saw no terminal outcome
	BundlePending BundleState = "pending"
)

var bundleTransitions = map[BundleState][]BundleState{
	BundleCreated:   {BundleSimulated, BundleFailed},
	BundleSimulated: {BundleSubmitted, BundleFailed},
	BundleSubmitted: {BundleLanded, BundleFailed, BundleDropped},
}

// CanTransition reports whether moving from one state to another is allowed
func CanTransition(from, to BundleState) bool {
	for _, next := range bundleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s BundleState) Terminal() bool {
	return s == BundleLanded || s == BundleFailed || s == BundleDropped
}

// Bundle is an ordered set of signed transactions plus its relay tip
type Bundle struct {
	ID           string
	Transactions []*solana.Transaction
	TipAccount   solana.PublicKey
	TipLamports  uint64
	State        BundleState
}

// Primary returns the first transaction, which carries the trade
func (b *Bundle) Primary() *solana.Transaction {
	if len(b.Transactions) == 0 {
		return nil
	}
	return b.Transactions[0]
}

// Transition moves the bundle to the next state
func (b *Bundle) Transition(to BundleState) error {
	if !CanTransition(b.State, to) {
		return fmt.Errorf("invalid bundle transition %s -> %s", b.State, to)
	}
	b.State = to
	return nil
}

// Encode serializes every transaction to its wire form
func (b *Bundle) Encode() ([][]byte, error) {
	out := make([][]byte, 0, len(b.Transactions))
	for i, tx := range b.Transactions {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transaction %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// BundleStatus is the result of a single status check
type BundleStatus struct {
	State BundleState
	Slot  uint64
	Err   string
	// Via names the path that produced the outcome: bundle, direct or both
	Via string
}
