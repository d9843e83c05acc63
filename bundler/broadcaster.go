package bundler

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/michaelpento.lv/solarb/types"
)

// RPCBroadcaster sends transactions straight to a Solana RPC node and reads their status
type RPCBroadcaster struct {
	client *rpc.Client
}

// NewRPCBroadcaster wraps an RPC client
func NewRPCBroadcaster(client *rpc.Client) *RPCBroadcaster {
	return &RPCBroadcaster{client: client}
}

// LatestBlockhash implements BlockhashSource
func (b *RPCBroadcaster) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := b.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("empty blockhash response")
	}
	return out.Value.Blockhash, nil
}

// Broadcast implements Broadcaster. Preflight is skipped because the bundle was already simulated.
func (b *RPCBroadcaster) Broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := b.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatus implements Broadcaster
func (b *RPCBroadcaster) SignatureStatus(ctx context.Context, sig solana.Signature) (types.BundleStatus, error) {
	status := types.BundleStatus{State: types.BundlePending, Via: viaDirect}

	out, err := b.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return status, fmt.Errorf("failed to get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return status, nil
	}

	v := out.Value[0]
	status.Slot = v.Slot
	switch {
	case v.Err != nil:
		status.State = types.BundleFailed
		status.Err = fmt.Sprintf("%v", v.Err)
	case v.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || v.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		status.State = types.BundleLanded
	}
	return status, nil
}
