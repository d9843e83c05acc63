package dex

import (
	"strconv"

	cosmath "cosmossdk.io/math"

	"github.com/michaelpento.lv/solarb/types"
)

const feeDenominator = 10000

var feeDenominatorInt = cosmath.NewInt(feeDenominator)

// GetAmountOut returns the constant-product output for amountIn after the pool fee.
// Zero input or a zero reserve yields zero.
func GetAmountOut(amountIn, reserveIn, reserveOut cosmath.Int, feeBps uint16) cosmath.Int {
	if amountIn.IsNil() || reserveIn.IsNil() || reserveOut.IsNil() {
		return cosmath.ZeroInt()
	}
	if !amountIn.IsPositive() || !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return cosmath.ZeroInt()
	}
	if feeBps >= feeDenominator {
		return cosmath.ZeroInt()
	}

	amountInWithFee := amountIn.Mul(cosmath.NewInt(int64(feeDenominator - int(feeBps)))).Quo(feeDenominatorInt)
	numerator := reserveOut.Mul(amountInWithFee)
	denominator := reserveIn.Add(amountInWithFee)
	return numerator.Quo(denominator)
}

// PriceImpact is the share of the input reserve consumed by the trade
func PriceImpact(amountIn, reserveIn cosmath.Int) float64 {
	if !amountIn.IsPositive() || !reserveIn.IsPositive() {
		return 0
	}
	ratio := cosmath.LegacyNewDecFromInt(amountIn).Quo(cosmath.LegacyNewDecFromInt(reserveIn.Add(amountIn)))
	f, err := ratio.Float64()
	if err != nil {
		return 0
	}
	return f
}

// SlippageAdjust discounts out by factor·(amountIn/reserveIn)², floored at zero.
// This is a heuristic correction layered on the constant-product curve.
func SlippageAdjust(out, amountIn, reserveIn cosmath.Int, factor cosmath.LegacyDec) cosmath.Int {
	if !out.IsPositive() || !reserveIn.IsPositive() || factor.IsNil() || !factor.IsPositive() {
		return out
	}
	ratio := cosmath.LegacyNewDecFromInt(amountIn).Quo(cosmath.LegacyNewDecFromInt(reserveIn))
	discount := factor.Mul(ratio).Mul(ratio)
	if discount.GTE(cosmath.LegacyOneDec()) {
		return cosmath.ZeroInt()
	}
	return cosmath.LegacyNewDecFromInt(out).Mul(cosmath.LegacyOneDec().Sub(discount)).TruncateInt()
}

// Valuator prices hypothetical swaps across single pools
type Valuator struct {
	ConsiderFees     bool
	ConsiderSlippage bool
	SlippageFactor   cosmath.LegacyDec
}

// NewValuator creates a valuator; factor scales the quadratic slippage discount
func NewValuator(considerFees, considerSlippage bool, factor float64) *Valuator {
	if factor < 0 {
		factor = 0
	}
	return &Valuator{
		ConsiderFees:     considerFees,
		ConsiderSlippage: considerSlippage,
		SlippageFactor:   cosmath.LegacyMustNewDecFromStr(strconv.FormatFloat(factor, 'f', 18, 64)),
	}
}

// AmountOut applies the configured fee and slippage treatment
func (v *Valuator) AmountOut(amountIn, reserveIn, reserveOut cosmath.Int, feeBps uint16) cosmath.Int {
	if !v.ConsiderFees {
		feeBps = 0
	}
	out := GetAmountOut(amountIn, reserveIn, reserveOut, feeBps)
	if v.ConsiderSlippage {
		out = SlippageAdjust(out, amountIn, reserveIn, v.SlippageFactor)
	}
	return out
}

// Quote values selling amountIn of tokenIn into pool
func (v *Valuator) Quote(pool *types.PoolState, tokenIn *types.TokenInfo, amountIn cosmath.Int) (types.ArbitrageStep, error) {
	if !pool.Contains(tokenIn.Mint) {
		return types.ArbitrageStep{}, types.NewValidationError("pool", "token "+tokenIn.String()+" not traded by "+pool.ID)
	}
	reserveIn, reserveOut := pool.Reserves(tokenIn.Mint)
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return types.ArbitrageStep{}, types.NewValidationError("reserves", "zero reserve in pool "+pool.ID)
	}

	out := v.AmountOut(amountIn, reserveIn, reserveOut, pool.FeeBps)
	fee := pool.FeeBps
	if !v.ConsiderFees {
		fee = 0
	}
	return types.ArbitrageStep{
		Pool:        pool,
		TokenIn:     tokenIn,
		TokenOut:    pool.Other(tokenIn.Mint),
		AmountIn:    amountIn,
		AmountOut:   out,
		Price:       pool.PriceOf(tokenIn.Mint),
		FeeBps:      fee,
		PriceImpact: PriceImpact(amountIn, reserveIn),
	}, nil
}
