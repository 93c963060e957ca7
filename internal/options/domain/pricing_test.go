package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const thirtyDays int64 = 30 * 24 * 3600

func TestIntrinsicValue(t *testing.T) {
	assert.Equal(t, int64(2_000), IntrinsicValue(KindCall, 50_000, 52_000))
	assert.Equal(t, int64(0), IntrinsicValue(KindCall, 52_000, 50_000))
	assert.Equal(t, int64(2_000), IntrinsicValue(KindPut, 52_000, 50_000))
	assert.Equal(t, int64(0), IntrinsicValue(KindPut, 50_000, 52_000))
	assert.Equal(t, int64(0), IntrinsicValue(KindCall, 50_000, 50_000))
}

func TestPriceInvalidKind(t *testing.T) {
	_, err := Price(OptionKind("STRADDLE"), PricingParams{Spot: 100, Strike: 100, TimeToExpirySec: 1})
	assert.ErrorIs(t, err, ErrInvalidOptionKind)
}

func TestPriceAtExpiryEqualsIntrinsic(t *testing.T) {
	for _, kind := range []OptionKind{KindCall, KindPut} {
		for _, spot := range []int64{40_000, 50_000, 60_000} {
			price, err := Price(kind, PricingParams{
				Spot: spot, Strike: 50_000, TimeToExpirySec: 0,
				RiskFreeRateBps: 500, VolatilityBps: 2_000,
			})
			require.NoError(t, err)
			assert.Equal(t, IntrinsicValue(kind, 50_000, spot), price)
		}
	}
}

func TestPriceNeverBelowIntrinsic(t *testing.T) {
	spots := []int64{1, 100, 45_000, 50_000, 55_000, 500_000}
	ttes := []int64{1, 3_600, thirtyDays, 365 * 24 * 3600}
	vols := []int64{0, 500, 2_000, 10_000}
	for _, kind := range []OptionKind{KindCall, KindPut} {
		for _, spot := range spots {
			for _, tte := range ttes {
				for _, vol := range vols {
					params := PricingParams{
						Spot: spot, Strike: 50_000, TimeToExpirySec: tte,
						RiskFreeRateBps: 500, VolatilityBps: vol,
					}
					price, err := Price(kind, params)
					require.NoError(t, err)
					assert.GreaterOrEqual(t, price, IntrinsicValue(kind, 50_000, spot),
						"kind=%s spot=%d tte=%d vol=%d", kind, spot, tte, vol)
				}
			}
		}
	}
}

func TestPriceMonotoneInVolatility(t *testing.T) {
	vols := []int64{0, 100, 500, 1_000, 2_000, 5_000, 10_000}
	for _, kind := range []OptionKind{KindCall, KindPut} {
		var prev int64 = -1
		for _, vol := range vols {
			price, err := Price(kind, PricingParams{
				Spot: 52_000, Strike: 50_000, TimeToExpirySec: thirtyDays,
				RiskFreeRateBps: 500, VolatilityBps: vol,
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, price, prev, "vol=%d", vol)
			prev = price
		}
	}
}

func TestPriceMonotoneInTime(t *testing.T) {
	ttes := []int64{0, 3_600, 24 * 3600, thirtyDays, 180 * 24 * 3600, 365 * 24 * 3600}
	for _, kind := range []OptionKind{KindCall, KindPut} {
		var prev int64 = -1
		for _, tte := range ttes {
			price, err := Price(kind, PricingParams{
				Spot: 52_000, Strike: 50_000, TimeToExpirySec: tte,
				RiskFreeRateBps: 500, VolatilityBps: 2_000,
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, price, prev, "tte=%d", tte)
			prev = price
		}
	}
}

func TestPriceCallScenario(t *testing.T) {
	// strike 50000、现货 52000、30 天、波动率 20%
	price, err := Price(KindCall, PricingParams{
		Spot: 52_000, Strike: 50_000, TimeToExpirySec: thirtyDays,
		RiskFreeRateBps: 500, VolatilityBps: 2_000,
	})
	require.NoError(t, err)
	assert.Greater(t, price, int64(2_000), "time value must be strictly positive")
}

func TestPriceTimeValueFloor(t *testing.T) {
	// 深度价外但未到期：时间价值保底为现货的 10 bps
	price, err := Price(KindCall, PricingParams{
		Spot: 10_000, Strike: 1_000_000, TimeToExpirySec: 60,
		RiskFreeRateBps: 0, VolatilityBps: 0,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, price, int64(10))
}

func TestPriceOverflow(t *testing.T) {
	_, err := Price(KindCall, PricingParams{
		Spot: math.MaxInt64 / 2, Strike: 1, TimeToExpirySec: thirtyDays,
		RiskFreeRateBps: 500, VolatilityBps: 20_000,
	})
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestImpliedVolLookup(t *testing.T) {
	base := int64(2_000)
	atm := ImpliedVolLookup(base, 50_000, 50_000)
	near := ImpliedVolLookup(base, 50_000, 55_000)
	far := ImpliedVolLookup(base, 50_000, 100_000)
	assert.Equal(t, base, atm)
	assert.GreaterOrEqual(t, near, atm)
	assert.GreaterOrEqual(t, far, near)
}

func TestComputeGreeksSigns(t *testing.T) {
	params := PricingParams{
		Spot: 52_000, Strike: 50_000, TimeToExpirySec: thirtyDays,
		RiskFreeRateBps: 500, VolatilityBps: 2_000,
	}

	call := ComputeGreeks(KindCall, params)
	assert.Positive(t, call.DeltaBps)
	assert.LessOrEqual(t, call.DeltaBps, int64(9_999))
	assert.GreaterOrEqual(t, call.GammaBps, int64(0))
	assert.LessOrEqual(t, call.ThetaBps, int64(0))
	assert.GreaterOrEqual(t, call.VegaBps, int64(0))
	assert.GreaterOrEqual(t, call.RhoBps, int64(0))

	put := ComputeGreeks(KindPut, params)
	assert.Negative(t, put.DeltaBps)
	assert.LessOrEqual(t, put.RhoBps, int64(0))
}

func TestComputeGreeksInTheMoneyDelta(t *testing.T) {
	itm := ComputeGreeks(KindCall, PricingParams{Spot: 60_000, Strike: 50_000, TimeToExpirySec: thirtyDays, VolatilityBps: 2_000})
	otm := ComputeGreeks(KindCall, PricingParams{Spot: 40_000, Strike: 50_000, TimeToExpirySec: thirtyDays, VolatilityBps: 2_000})
	atm := ComputeGreeks(KindCall, PricingParams{Spot: 50_000, Strike: 50_000, TimeToExpirySec: thirtyDays, VolatilityBps: 2_000})

	assert.Greater(t, itm.DeltaBps, atm.DeltaBps)
	assert.Less(t, otm.DeltaBps, atm.DeltaBps)
	assert.Equal(t, int64(5_000), atm.DeltaBps)
}

func TestComputeGreeksClamped(t *testing.T) {
	g := ComputeGreeks(KindCall, PricingParams{
		Spot: math.MaxInt64 / 4, Strike: 1, TimeToExpirySec: 365 * 24 * 3600,
		RiskFreeRateBps: 10_000, VolatilityBps: 50_000,
	})
	for _, v := range []int64{g.DeltaBps, g.GammaBps, g.ThetaBps, g.VegaBps, g.RhoBps} {
		assert.LessOrEqual(t, v, int64(1_000_000_000))
		assert.GreaterOrEqual(t, v, int64(-1_000_000_000))
	}
}

func TestGreeksNegate(t *testing.T) {
	g := Greeks{DeltaBps: 7_000, GammaBps: 100, ThetaBps: -50, VegaBps: 300, RhoBps: 20}
	n := g.Negate()
	assert.Equal(t, Greeks{DeltaBps: -7_000, GammaBps: -100, ThetaBps: 50, VegaBps: -300, RhoBps: -20}, n)
}

func TestRequiredCollateral(t *testing.T) {
	// CALL 名义 = spot*qty：52000*10 = 520000，150% = 780000
	c, err := RequiredCollateral(KindCall, 50_000, 52_000, 10, 15_000)
	require.NoError(t, err)
	assert.Equal(t, int64(780_000), c)

	// PUT 名义 = strike*qty
	p, err := RequiredCollateral(KindPut, 50_000, 52_000, 10, 15_000)
	require.NoError(t, err)
	assert.Equal(t, int64(750_000), p)

	_, err = RequiredCollateral(KindCall, 50_000, 52_000, 0, 15_000)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = RequiredCollateral(KindCall, 1, math.MaxInt64/2, 4, 15_000)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestRequiredCollateralMonotone(t *testing.T) {
	// 名义价值不被 10000 整除，覆盖大额分支的先除后乘截断
	const strike, spot = 50_001, 52_003

	for _, kind := range []OptionKind{KindCall, KindPut} {
		prev := int64(-1)
		for _, ratio := range []int64{10_000, 12_500, 15_000, 17_500, 20_000} {
			c, err := RequiredCollateral(kind, strike, spot, 10, ratio)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, c, prev,
				"%s collateral must not decrease as ratio grows (ratio=%d)", kind, ratio)
			prev = c
		}

		prev = int64(-1)
		for _, qty := range []int64{1, 3, 7, 10, 25} {
			c, err := RequiredCollateral(kind, strike, spot, qty, 15_000)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, c, prev,
				"%s collateral must not decrease as quantity grows (qty=%d)", kind, qty)
			prev = c
		}
	}
}

func TestCheckedArithmetic(t *testing.T) {
	v, err := CheckedMul(1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000_000), v)

	_, err = CheckedMul(math.MaxInt64, 2)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	// MinInt64*-1 不可表示，必须报溢出而不是除法 panic
	_, err = CheckedMul(math.MinInt64, -1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	_, err = CheckedMul(-1, math.MinInt64)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	_, err = MulDiv(math.MinInt64, 1, -1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	_, err = CheckedAdd(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	_, err = MulDiv(10, 10, 0)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	v, err = MulDiv(520_000, 15_000, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(780_000), v)
}
