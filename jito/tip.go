package jito

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// DefaultTipAccounts are the mainnet block engine tip accounts
var DefaultTipAccounts = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4bVNa1xJZmCkrhGnVw6nNYS"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
	solana.MustPublicKeyFromBase58("DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh"),
	solana.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

// TipSelector picks the account a bundle tip is paid to.
// An explicit account wins if approved; otherwise accounts rotate round-robin.
type TipSelector struct {
	mu       sync.Mutex
	rotation []solana.PublicKey
	approved map[solana.PublicKey]struct{}
	next     int
}

// NewTipSelector rotates over configured accounts, or the defaults when none are given.
// Defaults stay approved for explicit selection either way.
func NewTipSelector(configured []solana.PublicKey) *TipSelector {
	s := &TipSelector{approved: make(map[solana.PublicKey]struct{})}
	for _, pk := range DefaultTipAccounts {
		s.approved[pk] = struct{}{}
	}
	s.setRotation(configured)
	return s
}

func (s *TipSelector) setRotation(accounts []solana.PublicKey) {
	if len(accounts) == 0 {
		accounts = DefaultTipAccounts
	}
	s.rotation = append([]solana.PublicKey(nil), accounts...)
	for _, pk := range accounts {
		s.approved[pk] = struct{}{}
	}
	s.next = 0
}

// Refresh replaces the rotation with accounts advertised by the block engine
func (s *TipSelector) Refresh(accounts []solana.PublicKey) {
	if len(accounts) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRotation(accounts)
}

// Approved reports whether pk may receive tips
func (s *TipSelector) Approved(pk solana.PublicKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.approved[pk]
	return ok
}

// Select returns explicit when approved, otherwise the next rotation account.
// A zero explicit key means no preference.
func (s *TipSelector) Select(explicit solana.PublicKey) (solana.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !explicit.IsZero() {
		if _, ok := s.approved[explicit]; !ok {
			return solana.PublicKey{}, fmt.Errorf("tip account %s is not an approved block engine account", explicit)
		}
		return explicit, nil
	}
	pk := s.rotation[s.next%len(s.rotation)]
	s.next++
	return pk, nil
}

// TipAmount scales the tip with profit: max(base, profit/100), capped at max when max > 0
func TipAmount(base, profitLamports, max uint64) uint64 {
	tip := base
	if share := profitLamports / 100; share > tip {
		tip = share
	}
	if max > 0 && tip > max {
		tip = max
	}
	return tip
}
