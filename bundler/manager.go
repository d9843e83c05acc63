package bundler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/solarb/jito"
	"github.com/michaelpento.lv/solarb/simulator"
	"github.com/michaelpento.lv/solarb/types"
)

const (
	viaBundle = "bundle"
	viaDirect = "direct"
	viaBoth   = "both"

	// MaxTradeTransactions leaves room for the tip transaction
	MaxTradeTransactions = types.MaxBundleTransactions - 1
)

// Relay submits bundles to a block engine
type Relay interface {
	SendBundle(ctx context.Context, txs [][]byte) (string, error)
	GetBundleStatus(ctx context.Context, bundleID string) (types.BundleStatus, error)
}

// Broadcaster sends single transactions through the regular RPC path
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (types.BundleStatus, error)
}

// BlockhashSource provides a recent blockhash for signing
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// BundleSimulator dry-runs a bundle in order
type BundleSimulator interface {
	SimulateBundle(ctx context.Context, txs []*solana.Transaction) (*simulator.Report, error)
}

// Config contains bundle manager settings
type Config struct {
	// UseBundles submits through the relay; when false only the direct path is used
	UseBundles     bool
	BaseTip        uint64
	MaxTip         uint64
	ComputeUnitCap uint32
	// ComputeUnitPrice is the priority fee in micro-lamports per compute unit
	ComputeUnitPrice uint64
}

// BuildRequest describes the transactions of one bundle
type BuildRequest struct {
	// Groups holds the instructions of each trade transaction, in execution order
	Groups [][]solana.Instruction
	Signer solana.PrivateKey
	// TipAccount forces a tip account; it must be approved. Zero selects one.
	TipAccount              solana.PublicKey
	EstimatedProfitLamports uint64
	ComputeUnits            uint32
	ComputeUnitPrice        uint64
}

// Submission records where a bundle was sent
type Submission struct {
	Bundle      *types.Bundle
	BundleID    string
	Signature   solana.Signature
	SubmittedAt time.Time
	// DirectErr is set when the direct broadcast failed while the relay accepted the bundle
	DirectErr error
}

// Manager builds, simulates, submits and tracks bundles
type Manager struct {
	cfg         Config
	relay       Relay
	broadcaster Broadcaster
	blockhashes BlockhashSource
	sim         BundleSimulator
	tips        *jito.TipSelector
	logger      *zap.Logger
	metrics     struct {
		built       prometheus.Counter
		simFailures prometheus.Counter
		submissions *prometheus.CounterVec
		outcomes    *prometheus.CounterVec
		tipLamports prometheus.Counter
	}
}

// NewManager creates a bundle manager. relay may be nil when UseBundles is false.
func NewManager(cfg Config, relay Relay, broadcaster Broadcaster, blockhashes BlockhashSource, sim BundleSimulator, tips *jito.TipSelector, logger *zap.Logger, reg prometheus.Registerer) (*Manager, error) {
	if cfg.UseBundles && relay == nil {
		return nil, fmt.Errorf("relay is required in bundle mode")
	}
	if broadcaster == nil || blockhashes == nil || sim == nil {
		return nil, fmt.Errorf("broadcaster, blockhash source and simulator are required")
	}
	if tips == nil {
		tips = jito.NewTipSelector(nil)
	}

	m := &Manager{
		cfg:         cfg,
		relay:       relay,
		broadcaster: broadcaster,
		blockhashes: blockhashes,
		sim:         sim,
		tips:        tips,
		logger:      logger,
	}

	factory := promauto.With(reg)
	m.metrics.built = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "solarb",
		Subsystem: "bundle",
		Name:      "built_total",
		Help:      "Number of bundles built",
	})
	m.metrics.simFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "solarb",
		Subsystem: "bundle",
		Name:      "simulation_failures_total",
		Help:      "Number of bundles rejected by simulation",
	})
	m.metrics.submissions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarb",
		Subsystem: "bundle",
		Name:      "submissions_total",
		Help:      "Submissions by path and outcome",
	}, []string{"path", "outcome"})
	m.metrics.outcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarb",
		Subsystem: "bundle",
		Name:      "outcomes_total",
		Help:      "Final bundle states",
	}, []string{"state"})
	m.metrics.tipLamports = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "solarb",
		Subsystem: "bundle",
		Name:      "tip_lamports_total",
		Help:      "Lamports offered as tips on submitted bundles",
	})

	return m, nil
}

// Build signs the trade transactions and, in bundle mode, a final tip transfer
func (m *Manager) Build(ctx context.Context, req BuildRequest) (*types.Bundle, error) {
	if len(req.Groups) == 0 {
		return nil, types.NewValidationError("groups", "no trade transactions")
	}
	if len(req.Groups) > MaxTradeTransactions {
		return nil, types.NewValidationError("groups", fmt.Sprintf("%d trade transactions exceed the limit of %d", len(req.Groups), MaxTradeTransactions))
	}

	bundle := &types.Bundle{
		ID:    uuid.NewString(),
		State: types.BundleCreated,
	}

	if m.cfg.UseBundles {
		account, err := m.tips.Select(req.TipAccount)
		if err != nil {
			return nil, types.NewValidationError("tipAccount", err.Error())
		}
		bundle.TipAccount = account
		bundle.TipLamports = jito.TipAmount(m.cfg.BaseTip, req.EstimatedProfitLamports, m.cfg.MaxTip)
	}

	blockhash, err := m.blockhashes.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	units := req.ComputeUnits
	if units == 0 {
		units = m.cfg.ComputeUnitCap
	}
	price := req.ComputeUnitPrice
	if price == 0 {
		price = m.cfg.ComputeUnitPrice
	}

	for i, group := range req.Groups {
		ixs := make([]solana.Instruction, 0, len(group)+2)
		if units > 0 {
			ixs = append(ixs, computebudget.NewSetComputeUnitLimitInstruction(units).Build())
		}
		if price > 0 {
			ixs = append(ixs, computebudget.NewSetComputeUnitPriceInstruction(price).Build())
		}
		ixs = append(ixs, group...)

		tx, err := signed(ixs, blockhash, req.Signer)
		if err != nil {
			return nil, fmt.Errorf("failed to build trade transaction %d: %w", i, err)
		}
		bundle.Transactions = append(bundle.Transactions, tx)
	}

	if bundle.TipLamports > 0 {
		tip := system.NewTransferInstruction(bundle.TipLamports, req.Signer.PublicKey(), bundle.TipAccount).Build()
		tx, err := signed([]solana.Instruction{tip}, blockhash, req.Signer)
		if err != nil {
			return nil, fmt.Errorf("failed to build tip transaction: %w", err)
		}
		bundle.Transactions = append(bundle.Transactions, tx)
	}

	m.metrics.built.Inc()
	return bundle, nil
}

func signed(ixs []solana.Instruction, blockhash solana.Hash, signer solana.PrivateKey) (*solana.Transaction, error) {
	payer := signer.PublicKey()
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, err
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return tx, nil
}

// Simulate dry-runs every transaction of a created bundle
func (m *Manager) Simulate(ctx context.Context, bundle *types.Bundle) (*simulator.Report, error) {
	if bundle.State != types.BundleCreated {
		return nil, fmt.Errorf("cannot simulate bundle in state %s", bundle.State)
	}
	report, err := m.sim.SimulateBundle(ctx, bundle.Transactions)
	if err != nil {
		m.metrics.simFailures.Inc()
		if tErr := bundle.Transition(types.BundleFailed); tErr != nil {
			m.logger.Warn("Failed to mark bundle failed", zap.Error(tErr))
		}
		return nil, err
	}
	if err := bundle.Transition(types.BundleSimulated); err != nil {
		return nil, err
	}
	return report, nil
}

// Submit sends a simulated bundle to the relay and broadcasts its primary transaction directly.
// Either path succeeding is enough; if both fail the bundle is marked failed.
func (m *Manager) Submit(ctx context.Context, bundle *types.Bundle) (*Submission, error) {
	if bundle.State != types.BundleSimulated {
		return nil, fmt.Errorf("cannot submit bundle in state %s", bundle.State)
	}
	raw, err := bundle.Encode()
	if err != nil {
		return nil, err
	}

	sub := &Submission{Bundle: bundle}
	var bundleErr, directErr error

	var g errgroup.Group
	if m.cfg.UseBundles {
		g.Go(func() error {
			sub.BundleID, bundleErr = m.relay.SendBundle(ctx, raw)
			return nil
		})
	}
	g.Go(func() error {
		sub.Signature, directErr = m.broadcaster.Broadcast(ctx, bundle.Primary())
		return nil
	})
	_ = g.Wait()

	m.countSubmission(viaBundle, m.cfg.UseBundles, bundleErr)
	m.countSubmission(viaDirect, true, directErr)

	bundleOK := m.cfg.UseBundles && bundleErr == nil
	directOK := directErr == nil

	switch {
	case !bundleOK && !directOK:
		if tErr := bundle.Transition(types.BundleFailed); tErr != nil {
			m.logger.Warn("Failed to mark bundle failed", zap.Error(tErr))
		}
		if bundleErr != nil {
			return nil, fmt.Errorf("bundle and direct submission failed: %w (direct: %v)", bundleErr, directErr)
		}
		return nil, &types.SubmissionError{Attempts: 1, Retryable: false, Err: directErr}
	case bundleOK && !directOK:
		sub.DirectErr = fmt.Errorf("%w: %v", types.ErrPartialSubmission, directErr)
		m.logger.Warn("Direct broadcast failed while bundle was accepted",
			zap.String("bundle", bundle.ID),
			zap.String("bundleID", sub.BundleID),
			zap.Error(directErr))
	case m.cfg.UseBundles && !bundleOK && directOK:
		m.logger.Warn("Relay rejected bundle while direct broadcast was accepted",
			zap.String("bundle", bundle.ID),
			zap.String("signature", sub.Signature.String()),
			zap.Error(bundleErr))
	}

	if err := bundle.Transition(types.BundleSubmitted); err != nil {
		return nil, err
	}
	sub.SubmittedAt = time.Now()
	m.metrics.tipLamports.Add(float64(bundle.TipLamports))
	return sub, nil
}

func (m *Manager) countSubmission(path string, attempted bool, err error) {
	if !attempted {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.metrics.submissions.WithLabelValues(path, outcome).Inc()
}

// Status polls both paths concurrently and reconciles them.
// Either path landing means landed; the trade is atomic so it cannot land twice.
func (m *Manager) Status(ctx context.Context, sub *Submission) (types.BundleStatus, error) {
	var (
		relay, direct       *types.BundleStatus
		relayErr, directErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	if sub.BundleID != "" {
		g.Go(func() error {
			s, err := m.relay.GetBundleStatus(gctx, sub.BundleID)
			relay, relayErr = &s, err
			return nil
		})
	}
	if !sub.Signature.IsZero() {
		g.Go(func() error {
			s, err := m.broadcaster.SignatureStatus(gctx, sub.Signature)
			direct, directErr = &s, err
			return nil
		})
	}
	_ = g.Wait()

	if relayErr != nil {
		relay = nil
	}
	if directErr != nil {
		direct = nil
	}
	if relay == nil && direct == nil {
		if err := errors.Join(relayErr, directErr); err != nil {
			return types.BundleStatus{State: types.BundlePending}, fmt.Errorf("failed to poll bundle status: %w", err)
		}
		return types.BundleStatus{State: types.BundlePending}, nil
	}
	return reconcile(relay, direct, sub.BundleID != "", !sub.Signature.IsZero()), nil
}

// reconcile merges relay and direct observations. A nil observation means the poll failed.
func reconcile(relay, direct *types.BundleStatus, hasRelay, hasDirect bool) types.BundleStatus {
	is := func(s *types.BundleStatus, state types.BundleState) bool {
		return s != nil && s.State == state
	}

	switch {
	case is(relay, types.BundleLanded) && is(direct, types.BundleLanded):
		out := *relay
		out.Via = viaBoth
		return out
	case is(relay, types.BundleLanded):
		out := *relay
		out.Via = viaBundle
		return out
	case is(direct, types.BundleLanded):
		out := *direct
		out.Via = viaDirect
		return out
	}

	relayDone := !hasRelay || is(relay, types.BundleFailed) || is(relay, types.BundleDropped)
	directFailed := !hasDirect || is(direct, types.BundleFailed)

	switch {
	case relayDone && directFailed && is(relay, types.BundleDropped):
		return types.BundleStatus{State: types.BundleDropped, Err: relay.Err, Via: viaBundle}
	case relayDone && directFailed:
		out := types.BundleStatus{State: types.BundleFailed, Via: viaBoth}
		if !hasRelay {
			out.Via = viaDirect
		} else if !hasDirect {
			out.Via = viaBundle
		}
		if relay != nil && relay.Err != "" {
			out.Err = relay.Err
		} else if direct != nil {
			out.Err = direct.Err
		}
		return out
	}
	return types.BundleStatus{State: types.BundlePending}
}

// Track polls Status until the bundle reaches a terminal state or maxPolls is exhausted.
// On exhaustion the last pending status is returned and the bundle stays submitted.
func (m *Manager) Track(ctx context.Context, sub *Submission, interval time.Duration, maxPolls int) (types.BundleStatus, error) {
	status := types.BundleStatus{State: types.BundlePending}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for poll := 0; poll < maxPolls; poll++ {
		if poll > 0 {
			select {
			case <-ctx.Done():
				return status, ctx.Err()
			case <-ticker.C:
			}
		}

		next, err := m.Status(ctx, sub)
		if err != nil {
			m.logger.Debug("Status poll failed", zap.String("bundle", sub.Bundle.ID), zap.Error(err))
			continue
		}
		status = next
		if status.State.Terminal() {
			if err := sub.Bundle.Transition(status.State); err != nil {
				return status, err
			}
			m.metrics.outcomes.WithLabelValues(string(status.State)).Inc()
			return status, nil
		}
	}
	return status, nil
}
