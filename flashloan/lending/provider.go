package lending

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/types"
)

const (
	borrowTag uint8 = 19
	repayTag  uint8 = 20
)

// Reserve holds the accounts of one lendable token in a lending market
type Reserve struct {
	Address         solana.PublicKey
	LiquiditySupply solana.PublicKey
	FeeReceiver     solana.PublicKey
}

// Config describes a reserve-based lending program offering flash loans
type Config struct {
	Name          string
	ProgramID     solana.PublicKey
	LendingMarket solana.PublicKey
	// FeeBps is the flash loan fee in basis points (1 = 0.01%)
	FeeBps   uint16
	Reserves map[solana.PublicKey]Reserve
}

// BalanceReader reports SPL token account balances
type BalanceReader interface {
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// RPCBalanceReader reads balances from a Solana RPC node
type RPCBalanceReader struct {
	client *rpc.Client
}

// NewRPCBalanceReader wraps an RPC client
func NewRPCBalanceReader(client *rpc.Client) *RPCBalanceReader {
	return &RPCBalanceReader{client: client}
}

// TokenBalance implements BalanceReader
func (r *RPCBalanceReader) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	res, err := r.client.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get token balance of %s: %w", account, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("empty balance response for %s", account)
	}
	return strconv.ParseUint(res.Value.Amount, 10, 64)
}

// Provider implements flashloan.Provider for a reserve-based lending program
type Provider struct {
	cfg      Config
	balances BalanceReader
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewProvider creates a new lending provider
func NewProvider(cfg Config, balances BalanceReader, logger *zap.Logger) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}
	if cfg.ProgramID.IsZero() {
		return nil, fmt.Errorf("program id cannot be empty")
	}
	if balances == nil {
		return nil, fmt.Errorf("balance reader cannot be nil")
	}
	if cfg.Reserves == nil {
		cfg.Reserves = make(map[solana.PublicKey]Reserve)
	}
	return &Provider{
		cfg:      cfg,
		balances: balances,
		logger:   logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.cfg.Name
}

// AddReserve registers a lendable token
func (p *Provider) AddReserve(mint solana.PublicKey, reserve Reserve) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Reserves[mint] = reserve
}

func (p *Provider) reserve(mint solana.PublicKey) (Reserve, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.cfg.Reserves[mint]
	if !ok {
		return Reserve{}, fmt.Errorf("%s has no reserve for %s", p.cfg.Name, mint)
	}
	return r, nil
}

// Fee returns amount·feeBps/10000 rounded up
func (p *Provider) Fee(ctx context.Context, mint solana.PublicKey, amount uint64) (uint64, error) {
	if _, err := p.reserve(mint); err != nil {
		return 0, err
	}
	return (amount*uint64(p.cfg.FeeBps) + 9999) / 10000, nil
}

// Liquidity returns the balance held by the reserve's supply account
func (p *Provider) Liquidity(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	r, err := p.reserve(mint)
	if err != nil {
		return 0, err
	}
	return p.balances.TokenBalance(ctx, r.LiquiditySupply)
}

// BorrowInstruction builds the flash borrow instruction
func (p *Provider) BorrowInstruction(ctx context.Context, params types.FlashLoanParams) (solana.Instruction, error) {
	r, err := p.reserve(params.TokenMint)
	if err != nil {
		return nil, err
	}
	destination, _, err := solana.FindAssociatedTokenAddress(params.Borrower, params.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive borrower token account: %w", err)
	}
	data, err := encodeAmount(borrowTag, params.Amount)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(p.cfg.ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(r.LiquiditySupply, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(r.Address, true, false),
		solana.NewAccountMeta(p.cfg.LendingMarket, false, false),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, data), nil
}

// RepayInstruction builds the flash repay instruction for amount plus fee
func (p *Provider) RepayInstruction(ctx context.Context, params types.FlashLoanParams) (solana.Instruction, error) {
	r, err := p.reserve(params.TokenMint)
	if err != nil {
		return nil, err
	}
	source, _, err := solana.FindAssociatedTokenAddress(params.Borrower, params.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive borrower token account: %w", err)
	}
	data, err := encodeAmount(repayTag, params.Amount+params.Fee)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(p.cfg.ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(r.LiquiditySupply, true, false),
		solana.NewAccountMeta(r.FeeReceiver, true, false),
		solana.NewAccountMeta(r.Address, true, false),
		solana.NewAccountMeta(p.cfg.LendingMarket, false, false),
		solana.NewAccountMeta(params.Borrower, false, true),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, data), nil
}

func encodeAmount(tag uint8, amount uint64) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := buf.WriteByte(tag); err != nil {
		return nil, fmt.Errorf("failed to write instruction tag: %w", err)
	}
	if err := bin.NewBorshEncoder(buf).WriteUint64(amount, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("failed to encode amount: %w", err)
	}
	return buf.Bytes(), nil
}
