package dex

import (
	"testing"

	cosmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/solarb/types"
	"github.com/michaelpento.lv/solarb/utils/testutils"
)

func TestGetAmountOutReferenceVector(t *testing.T) {
	out := GetAmountOut(
		cosmath.NewInt(100_000_000),
		cosmath.NewInt(1_000_000_000),
		cosmath.NewInt(1_000_000_000),
		30,
	)
	assert.Equal(t, int64(90_661_089), out.Int64())
}

func TestGetAmountOutZeroReserve(t *testing.T) {
	tests := []struct {
		name       string
		amountIn   int64
		reserveIn  int64
		reserveOut int64
	}{
		{"ZeroReserveIn", 1000, 0, 1_000_000},
		{"ZeroReserveOut", 1000, 1_000_000, 0},
		{"ZeroInput", 0, 1_000_000, 1_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := GetAmountOut(cosmath.NewInt(tt.amountIn), cosmath.NewInt(tt.reserveIn), cosmath.NewInt(tt.reserveOut), 30)
			assert.True(t, out.IsZero())
		})
	}
}

func TestGetAmountOutMarginalOutputNonIncreasing(t *testing.T) {
	reserveIn := cosmath.NewInt(1_000_000_000_000)
	reserveOut := cosmath.NewInt(500_000_000_000)
	step := cosmath.NewInt(10_000_000_000)

	prevOut := cosmath.ZeroInt()
	var prevDelta cosmath.Int
	amountIn := cosmath.ZeroInt()
	for i := 0; i < 50; i++ {
		amountIn = amountIn.Add(step)
		out := GetAmountOut(amountIn, reserveIn, reserveOut, 25)
		delta := out.Sub(prevOut)
		if i > 0 {
			// integer division can add at most one unit of rounding noise
			assert.True(t, delta.LTE(prevDelta.AddRaw(1)), "marginal output grew at step %d", i)
		}
		assert.True(t, out.LT(reserveOut))
		prevDelta = delta
		prevOut = out
	}
}

func TestSlippageAdjust(t *testing.T) {
	out := cosmath.NewInt(1_000_000)
	reserveIn := cosmath.NewInt(10_000_000)

	t.Run("Quadratic", func(t *testing.T) {
		// ratio 0.1, factor 1 => 1% discount
		adjusted := SlippageAdjust(out, cosmath.NewInt(1_000_000), reserveIn, cosmath.LegacyOneDec())
		assert.Equal(t, int64(990_000), adjusted.Int64())

		// ratio 0.2 => 4% discount
		adjusted = SlippageAdjust(out, cosmath.NewInt(2_000_000), reserveIn, cosmath.LegacyOneDec())
		assert.Equal(t, int64(960_000), adjusted.Int64())
	})

	t.Run("FloorAtZero", func(t *testing.T) {
		adjusted := SlippageAdjust(out, cosmath.NewInt(20_000_000), reserveIn, cosmath.LegacyOneDec())
		assert.True(t, adjusted.IsZero())
	})

	t.Run("ZeroFactorIsIdentity", func(t *testing.T) {
		adjusted := SlippageAdjust(out, cosmath.NewInt(2_000_000), reserveIn, cosmath.LegacyZeroDec())
		assert.True(t, adjusted.Equal(out))
	})
}

func TestValuatorQuote(t *testing.T) {
	sol := testutils.NewToken("SOL", 9)
	usdc := testutils.NewToken("USDC", 6)
	pool := testutils.NewPool("p1", types.DexOrca, sol, usdc, 1_000_000_000, 1_000_000_000, 30)

	t.Run("FeesOnly", func(t *testing.T) {
		v := NewValuator(true, false, 1)
		step, err := v.Quote(pool, sol, cosmath.NewInt(100_000_000))
		require.NoError(t, err)
		assert.Equal(t, int64(90_661_089), step.AmountOut.Int64())
		assert.Equal(t, usdc, step.TokenOut)
		assert.Equal(t, uint16(30), step.FeeBps)
		assert.InDelta(t, 100_000_000.0/1_100_000_000.0, step.PriceImpact, 1e-12)
	})

	t.Run("FeesIgnored", func(t *testing.T) {
		v := NewValuator(false, false, 1)
		step, err := v.Quote(pool, sol, cosmath.NewInt(100_000_000))
		require.NoError(t, err)
		assert.Equal(t, int64(90_909_090), step.AmountOut.Int64())
		assert.Zero(t, step.FeeBps)
	})

	t.Run("SlippageLowersOutput", func(t *testing.T) {
		plain := NewValuator(true, false, 1)
		adjusted := NewValuator(true, true, 1)
		a, err := plain.Quote(pool, sol, cosmath.NewInt(100_000_000))
		require.NoError(t, err)
		b, err := adjusted.Quote(pool, sol, cosmath.NewInt(100_000_000))
		require.NoError(t, err)
		assert.True(t, b.AmountOut.LT(a.AmountOut))
	})

	t.Run("ForeignToken", func(t *testing.T) {
		v := NewValuator(true, false, 1)
		_, err := v.Quote(pool, testutils.NewToken("BONK", 5), cosmath.NewInt(1))
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("ZeroReserve", func(t *testing.T) {
		v := NewValuator(true, false, 1)
		empty := testutils.NewPool("p2", types.DexOrca, sol, usdc, 0, 1_000, 30)
		_, err := v.Quote(empty, sol, cosmath.NewInt(1))
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func BenchmarkGetAmountOut(b *testing.B) {
	amountIn := cosmath.NewInt(100_000_000)
	reserveIn := cosmath.NewInt(1_000_000_000)
	reserveOut := cosmath.NewInt(1_000_000_000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GetAmountOut(amountIn, reserveIn, reserveOut, 30)
	}
}
