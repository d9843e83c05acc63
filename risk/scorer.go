package risk

import (
	"context"
	"math"
	"time"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/dex"
	"github.com/michaelpento.lv/solarb/types"
)

// Prediction is a price forecast from the predictive-analytics collaborator
type Prediction struct {
	PredictedPrice float64
	Confidence     float64
}

// PatternMatch summarizes similar historical outcomes
type PatternMatch struct {
	MatchCount int
}

// PricePredictor forecasts the price of a token quoted in the start token
type PricePredictor interface {
	Predict(ctx context.Context, mint solana.PublicKey) (Prediction, error)
}

// PatternMatcher searches past outcomes similar to an opportunity
type PatternMatcher interface {
	Match(ctx context.Context, opp *types.ArbitrageOpportunity) (PatternMatch, error)
}

// Config holds recommendation thresholds
type Config struct {
	ExecuteMinProbability float64
	ExecuteMaxRisk        float64
	SkipBelowProbability  float64
	SkipAboveRisk         float64
	MatchSaturation       int
	CollaboratorTimeout   time.Duration
}

// DefaultConfig returns the thresholds used in production
func DefaultConfig() Config {
	return Config{
		ExecuteMinProbability: 0.65,
		ExecuteMaxRisk:        0.45,
		SkipBelowProbability:  0.35,
		SkipAboveRisk:         0.75,
		MatchSaturation:       10,
		CollaboratorTimeout:   500 * time.Millisecond,
	}
}

// Scorer turns an opportunity into an execution probability and recommendation
type Scorer struct {
	cfg       Config
	predictor PricePredictor
	matcher   PatternMatcher
	logger    *zap.Logger
}

// NewScorer creates a scorer; predictor and matcher may be nil
func NewScorer(cfg Config, predictor PricePredictor, matcher PatternMatcher, logger *zap.Logger) *Scorer {
	if cfg.MatchSaturation <= 0 {
		cfg.MatchSaturation = 10
	}
	return &Scorer{
		cfg:       cfg,
		predictor: predictor,
		matcher:   matcher,
		logger:    logger,
	}
}

// Assess scores opp against the current snapshot graph
func (s *Scorer) Assess(ctx context.Context, opp *types.ArbitrageOpportunity, g *dex.Graph) (*types.RiskAssessment, error) {
	if err := opp.Path.Validate(); err != nil {
		return nil, err
	}

	assessment := &types.RiskAssessment{}
	probability := opp.Confidence
	risk := 0.4 * (1 - opp.Confidence)

	// Every pool must still exist in the snapshot; reserves that moved since detection add risk
	maxDrift := 0.0
	maxImpact := 0.0
	for _, step := range opp.Path.Steps {
		if g != nil {
			pool, ok := g.Pool(step.Pool.ID)
			if !ok || !pool.HasLiquidity() {
				assessment.Recommendation = types.RecommendSkip
				assessment.RiskScore = 1
				return assessment, nil
			}
			was, _ := step.Pool.Reserves(step.TokenIn.Mint)
			now, _ := pool.Reserves(step.TokenIn.Mint)
			maxDrift = math.Max(maxDrift, relativeChange(was, now))
		}
		maxImpact = math.Max(maxImpact, step.PriceImpact)
	}

	if maxDrift > 0.01 {
		risk += math.Min(0.2, maxDrift*2)
	}
	risk += math.Min(0.3, maxImpact*5)
	if hops := opp.Path.Hops(); hops > 2 {
		risk += 0.05 * float64(hops-2)
	}

	if s.predictor != nil {
		held := opp.Path.Steps[0].TokenOut
		if pred, err := s.predict(ctx, held.Mint); err != nil {
			s.logger.Debug("Price prediction unavailable", zap.String("token", held.String()), zap.Error(err))
		} else {
			assessment.PredictedPrice = pred.PredictedPrice
			assessment.PredictionConfidence = types.ClampUnit(pred.Confidence)
			probability = 0.7*probability + 0.3*assessment.PredictionConfidence

			current := opp.Path.Steps[0].Pool.PriceOf(held.Mint)
			if current > 0 && pred.PredictedPrice > 0 {
				drift := math.Abs(pred.PredictedPrice-current) / current
				if drift > 0.05 {
					risk += math.Min(0.2, drift)
				}
			}
		}
	}

	if s.matcher != nil {
		if match, err := s.match(ctx, opp); err != nil {
			s.logger.Debug("Pattern match unavailable", zap.String("opportunity", opp.ID), zap.Error(err))
		} else {
			assessment.MatchCount = match.MatchCount
			if match.MatchCount == 0 {
				risk += 0.05
			} else {
				n := math.Min(float64(match.MatchCount), float64(s.cfg.MatchSaturation))
				probability += 0.15 * n / float64(s.cfg.MatchSaturation)
			}
		}
	}

	assessment.ExecutionProbability = types.ClampUnit(probability)
	assessment.RiskScore = types.ClampUnit(risk)
	assessment.Recommendation = s.recommend(assessment)
	return assessment, nil
}

func (s *Scorer) recommend(a *types.RiskAssessment) types.Recommendation {
	switch {
	case a.ExecutionProbability < s.cfg.SkipBelowProbability || a.RiskScore >= s.cfg.SkipAboveRisk:
		return types.RecommendSkip
	case a.ExecutionProbability >= s.cfg.ExecuteMinProbability && a.RiskScore <= s.cfg.ExecuteMaxRisk:
		return types.RecommendExecute
	default:
		return types.RecommendCaution
	}
}

func (s *Scorer) predict(ctx context.Context, mint solana.PublicKey) (Prediction, error) {
	if s.cfg.CollaboratorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
		defer cancel()
	}
	return s.predictor.Predict(ctx, mint)
}

func (s *Scorer) match(ctx context.Context, opp *types.ArbitrageOpportunity) (PatternMatch, error) {
	if s.cfg.CollaboratorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
		defer cancel()
	}
	return s.matcher.Match(ctx, opp)
}

func relativeChange(was, now cosmath.Int) float64 {
	if was.IsNil() || now.IsNil() || !was.IsPositive() {
		return 1
	}
	diff := now.Sub(was).Abs()
	f, err := cosmath.LegacyNewDecFromInt(diff).Quo(cosmath.LegacyNewDecFromInt(was)).Float64()
	if err != nil {
		return 1
	}
	return f
}
