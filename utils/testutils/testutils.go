package testutils

import (
	"testing"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/solarb/types"
)

// MemoProgramID is used as the program of placeholder instructions in tests
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// NewToken creates a token with a fresh random mint
func NewToken(symbol string, decimals uint8) *types.TokenInfo {
	return &types.TokenInfo{
		Mint:     solana.NewWallet().PublicKey(),
		Decimals: decimals,
		Symbol:   symbol,
	}
}

// NewPool creates a pool between a and b with the given reserves
func NewPool(id string, dex types.DexKind, a, b *types.TokenInfo, reserveA, reserveB int64, feeBps uint16) *types.PoolState {
	return &types.PoolState{
		ID:       id,
		Dex:      dex,
		TokenA:   a,
		TokenB:   b,
		ReserveA: cosmath.NewInt(reserveA),
		ReserveB: cosmath.NewInt(reserveB),
		FeeBps:   feeBps,
	}
}

// Instruction returns a placeholder instruction tagged with data
func Instruction(signer solana.PublicKey, data string) solana.Instruction {
	return solana.NewInstruction(
		MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, true, true)},
		[]byte(data),
	)
}

// SignedTransaction builds and signs a one-instruction transaction
func SignedTransaction(t *testing.T, signer solana.PrivateKey, data string) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{Instruction(signer.PublicKey(), data)},
		solana.Hash{1, 2, 3},
		solana.TransactionPayer(signer.PublicKey()),
	)
	require.NoError(t, err)

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

// NewSigner returns a fresh random private key
func NewSigner(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}
