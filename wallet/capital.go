package wallet

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// BalanceReader reads native and SPL token balances
type BalanceReader interface {
	NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// RPCBalances reads balances from a Solana RPC node
type RPCBalances struct {
	client *rpc.Client
}

func NewRPCBalances(client *rpc.Client) *RPCBalances {
	return &RPCBalances{client: client}
}

func (b *RPCBalances) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	res, err := b.client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", owner, err)
	}
	return res.Value, nil
}

func (b *RPCBalances) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	res, err := b.client.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get token balance of %s: %w", account, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("empty balance response for %s", account)
	}
	return strconv.ParseUint(res.Value.Amount, 10, 64)
}

// Capital reports how much of a token a signer can commit to a trade
type Capital struct {
	reader BalanceReader
	// lamports kept back for fees and rent when trading native SOL
	reserve uint64
}

func NewCapital(reader BalanceReader, reserveLamports uint64) *Capital {
	return &Capital{reader: reader, reserve: reserveLamports}
}

// Available returns owner's spendable balance of mint in base units.
// A missing associated token account counts as zero.
func (c *Capital) Available(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	if mint.Equals(solana.SolMint) {
		lamports, err := c.reader.NativeBalance(ctx, owner)
		if err != nil {
			return 0, err
		}
		if lamports <= c.reserve {
			return 0, nil
		}
		return lamports - c.reserve, nil
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}
	amount, err := c.reader.TokenBalance(ctx, ata)
	if err != nil {
		if isAccountMissing(err) {
			return 0, nil
		}
		return 0, err
	}
	return amount, nil
}

func isAccountMissing(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "not found")
}
