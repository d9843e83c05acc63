package bot

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/bundler"
	"github.com/michaelpento.lv/solarb/dex"
	"github.com/michaelpento.lv/solarb/flashloan"
	"github.com/michaelpento.lv/solarb/jito"
	"github.com/michaelpento.lv/solarb/types"
)

// Execute runs one opportunity through risk, funding, bundle construction, simulation,
// submission and tracking. Risk is scored against g, which should be the freshest
// snapshot available. Failures are contained in the returned outcome.
func (b *Bot) Execute(ctx context.Context, agent string, g *dex.Graph, opp *types.ArbitrageOpportunity) Outcome {
	plan := &types.ExecutionPlan{
		ID:                 uuid.NewString(),
		Opportunity:        opp,
		EstimatedNetProfit: opp.NetProfit,
		CreatedAt:          time.Now(),
	}
	out := Outcome{PlanID: plan.ID, Agent: agent, OpportunityKey: opp.Key(), NetProfit: opp.NetProfit}
	logger := b.logger.With(
		zap.String("plan", plan.ID),
		zap.String("agent", agent),
		zap.String("path", opp.Key()))

	finish := func(state, reason string, err error) Outcome {
		out.State = state
		out.Reason = reason
		out.UsedFlashLoan = plan.UseFlashLoan
		out.NetProfit = plan.EstimatedNetProfit
		if state == OutcomeSkipped {
			b.metrics.Skipped.WithLabelValues(reason).Inc()
		}
		fields := []zap.Field{zap.String("state", state), zap.String("reason", reason), zap.Strings("steps", plan.Steps)}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		switch state {
		case OutcomeSkipped, OutcomeDryRun, string(types.BundleLanded):
			logger.Info("Plan finished", fields...)
		default:
			logger.Warn("Plan finished", fields...)
		}
		return out
	}

	if b.deps.Scorer != nil {
		assessment, err := b.deps.Scorer.Assess(ctx, opp, g)
		if err != nil {
			return finish(OutcomeAbandoned, "risk", err)
		}
		opp = opp.WithRisk(assessment)
		plan.Opportunity = opp
		plan.AddStep("risk %s (probability %.2f, score %.2f)", assessment.Recommendation, assessment.ExecutionProbability, assessment.RiskScore)
		if assessment.Recommendation == types.RecommendSkip {
			return finish(OutcomeSkipped, "risk", nil)
		}
	}

	lease, err := b.deps.Signers.Acquire(ctx)
	if err != nil {
		if errors.Is(err, types.ErrSignerBusy) {
			return finish(OutcomeSkipped, "signer_busy", err)
		}
		return finish(OutcomeAbandoned, "signer", err)
	}
	defer lease.Release()
	owner := lease.PublicKey()
	plan.AddStep("leased signer %s", owner)

	start := opp.Path.StartToken()
	var available uint64
	if b.deps.Capital != nil {
		available, err = b.deps.Capital.Available(ctx, owner, start.Mint)
		if err != nil {
			logger.Warn("Balance unavailable, assuming unfunded", zap.Error(err))
			available = 0
		}
	}

	var tip uint64
	if b.opts.UseBundles {
		tip = jito.TipAmount(b.opts.BaseTip, opp.ProfitLamports(), b.opts.MaxTip)
	}

	decision, err := b.decideFunding(ctx, opp, owner, available, tip)
	if err != nil {
		if errors.Is(err, types.ErrInsufficientCapital) {
			return finish(OutcomeSkipped, "capital", err)
		}
		return finish(OutcomeAbandoned, "funding", err)
	}
	plan.UseFlashLoan = decision.UseFlashLoan
	plan.FlashLoan = decision.Params
	plan.EstimatedNetProfit = decision.NetWithoutLoan
	if decision.UseFlashLoan {
		plan.EstimatedNetProfit = decision.NetWithLoan
	}
	plan.AddStep("funding: %s", decision.Reason)

	// nothing has been signed yet; a plan built on an old snapshot is dropped here
	if b.opts.MaxSnapshotAge > 0 && time.Since(opp.SnapshotAt) > b.opts.MaxSnapshotAge {
		return finish(OutcomeAbandoned, "stale", types.ErrStalePlan)
	}

	ixs, err := b.deps.Adapters.BuildPath(ctx, opp.Path, owner, b.opts.SlippageBps)
	if err != nil {
		return finish(OutcomeAbandoned, "instructions", err)
	}
	if plan.UseFlashLoan {
		ixs, err = b.deps.FlashLoans.Wrap(ctx, []types.FlashLoanParams{*plan.FlashLoan}, ixs)
		if err != nil {
			return finish(OutcomeAbandoned, "flash_loan", err)
		}
		plan.AddStep("borrow %d from %s", plan.FlashLoan.Amount, plan.FlashLoan.Provider)
	}

	hops := opp.Path.Hops()
	bundle, err := b.deps.Bundles.Build(ctx, bundler.BuildRequest{
		Groups:                  [][]solana.Instruction{ixs},
		Signer:                  lease.Signer,
		EstimatedProfitLamports: opp.ProfitLamports(),
		ComputeUnits:            b.deps.Costs.EstimateArbitrageUnits(hops, plan.UseFlashLoan),
		ComputeUnitPrice:        b.deps.Costs.PriorityFee(),
	})
	if err != nil {
		return finish(OutcomeAbandoned, "build", err)
	}
	plan.Bundle = bundle
	out.TipLamports = bundle.TipLamports
	plan.AddStep("built bundle %s with %d transactions", bundle.ID, len(bundle.Transactions))

	report, err := b.deps.Bundles.Simulate(ctx, bundle)
	if err != nil {
		b.recordFailure(err)
		return finish(string(types.BundleFailed), "simulation", err)
	}
	plan.AddStep("simulated, %d compute units", report.TotalUnits)

	if b.opts.DryRun {
		return finish(OutcomeDryRun, "dry run", nil)
	}

	sub, err := b.deps.Bundles.Submit(ctx, bundle)
	if err != nil {
		b.recordFailure(err)
		return finish(string(types.BundleFailed), "submission", err)
	}
	plan.AddStep("submitted (bundle %q, signature %s)", sub.BundleID, sub.Signature)

	status, err := b.deps.Bundles.Track(ctx, sub, b.opts.TrackInterval, b.opts.TrackMaxPolls)
	if err != nil && !status.State.Terminal() {
		return finish(OutcomeError, "tracking", err)
	}
	out.Slot = status.Slot

	if status.State.Terminal() && b.deps.FlashLoans != nil {
		b.deps.FlashLoans.RecordOutcome(plan.FlashLoan, status.State == types.BundleLanded)
	}
	switch status.State {
	case types.BundleLanded:
		if b.deps.Breaker != nil {
			b.deps.Breaker.RecordSuccess()
		}
		return finish(string(status.State), "landed via "+status.Via, nil)
	case types.BundleFailed, types.BundleDropped:
		b.recordFailure(errors.New(status.Err))
		return finish(string(status.State), status.Err, nil)
	default:
		return finish(string(types.BundlePending), "no terminal status", nil)
	}
}

// decideFunding chooses between a flash loan and the signer's own balance.
// Without a flash-loan manager the wallet must cover the input.
func (b *Bot) decideFunding(ctx context.Context, opp *types.ArbitrageOpportunity, owner solana.PublicKey, available, tip uint64) (*flashloan.Decision, error) {
	if b.deps.FlashLoans != nil {
		return b.deps.FlashLoans.Decide(ctx, flashloan.DecisionInput{
			Opportunity:     opp,
			GasLamports:     opp.GasEstimate,
			LoanGasLamports: b.deps.Costs.EstimateCost(opp.Path.Hops(), true),
			TipLamports:     tip,
			Borrower:        owner,
			Available:       available,
		})
	}
	net := opp.Profit.Sub(decimal.NewFromInt(int64(opp.GasEstimate + tip)).Shift(-9))
	if !opp.InputAmount.IsUint64() || available < opp.InputAmount.Uint64() || !net.IsPositive() {
		return nil, types.ErrInsufficientCapital
	}
	return &flashloan.Decision{NetWithoutLoan: net, Reason: "own capital"}, nil
}

func (b *Bot) recordFailure(err error) {
	if b.deps.Breaker == nil {
		return
	}
	if b.deps.Breaker.RecordError(err) {
		b.logger.Error("Circuit breaker tripped by execution failures", zap.Error(err))
	}
}
