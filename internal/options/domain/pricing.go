// Package domain 期权引擎核心领域模型：定点整数定价、市场与持仓生命周期、保证金规则。
//
// 所有价格与金额均为 int64 基础单位整数，比率一律以基点表示（10000 bps = 100%）。
// 领域层不出现浮点数。
package domain

import "math"

// OptionKind 期权类型
type OptionKind string

const (
	KindCall OptionKind = "CALL"
	KindPut  OptionKind = "PUT"
)

// Valid 校验期权类型
func (k OptionKind) Valid() bool {
	return k == KindCall || k == KindPut
}

const (
	// BpsDenominator 基点分母，10000 bps = 100%
	BpsDenominator int64 = 10_000

	// SecondsPerYear 年化秒数（365 天）
	SecondsPerYear int64 = 31_536_000

	// maxYearFracBps 时间价值计算中年化时间的上限（5 年）
	maxYearFracBps int64 = 50_000

	// minTimeValueBps 剩余时间 > 0 时时间价值的下限，按现货价的比例计
	minTimeValueBps int64 = 10

	// greeksClamp 希腊字母输出的绝对值上限，防止极端输入溢出下游聚合
	greeksClamp int64 = 1_000_000_000
)

// PricingParams 定价输入，短暂值对象，不落库。
type PricingParams struct {
	Spot            int64 // 现货价（基础单位）
	Strike          int64 // 行权价（基础单位）
	TimeToExpirySec int64 // 剩余到期秒数
	RiskFreeRateBps int64 // 无风险利率（bps）
	VolatilityBps   int64 // 波动率（bps）
}

// Greeks 风险敏感度快照，全部为基点标度整数。
type Greeks struct {
	DeltaBps int64 `json:"delta_bps"`
	GammaBps int64 `json:"gamma_bps"`
	ThetaBps int64 `json:"theta_bps"`
	VegaBps  int64 `json:"vega_bps"`
	RhoBps   int64 `json:"rho_bps"`
}

// Negate 返回符号取反后的希腊字母，用于卖方持仓快照。
func (g Greeks) Negate() Greeks {
	return Greeks{
		DeltaBps: -g.DeltaBps,
		GammaBps: -g.GammaBps,
		ThetaBps: -g.ThetaBps,
		VegaBps:  -g.VegaBps,
		RhoBps:   -g.RhoBps,
	}
}

// IntrinsicValue 内在价值：立即行权的收益。
// CALL = max(spot-strike, 0)；PUT = max(strike-spot, 0)。
func IntrinsicValue(kind OptionKind, strike, spot int64) int64 {
	switch kind {
	case KindCall:
		if spot > strike {
			return spot - strike
		}
	case KindPut:
		if strike > spot {
			return strike - spot
		}
	}
	return 0
}

// sqrtTimeBreakpoints 时间平方根的分段线性近似锚点。
// 横轴为年化时间（bps），纵轴为 sqrt 的 bps 标度（sqrt(1 年)=10000）。
// 锚点处取精确值，锚点之间线性插值；单调不减且有界 [0, 20000]。
// 刻意不使用精确平方根：整数运算、可审计、单调性显然成立。
var sqrtTimeBreakpoints = [][2]int64{
	{0, 0},
	{1, 100},
	{4, 200},
	{25, 500},
	{100, 1_000},
	{400, 2_000},
	{2_500, 5_000},
	{10_000, 10_000},
	{40_000, 20_000},
}

// sqrtTimeProxyBps 返回年化时间的平方根近似（bps 标度）。
func sqrtTimeProxyBps(yearFracBps int64) int64 {
	if yearFracBps <= 0 {
		return 0
	}
	if yearFracBps > maxYearFracBps {
		yearFracBps = maxYearFracBps
	}
	last := sqrtTimeBreakpoints[len(sqrtTimeBreakpoints)-1]
	if yearFracBps >= last[0] {
		return last[1]
	}
	for i := 1; i < len(sqrtTimeBreakpoints); i++ {
		lo, hi := sqrtTimeBreakpoints[i-1], sqrtTimeBreakpoints[i]
		if yearFracBps <= hi[0] {
			// 线性插值，区间宽度有限，不会溢出
			return lo[1] + (yearFracBps-lo[0])*(hi[1]-lo[1])/(hi[0]-lo[0])
		}
	}
	return last[1]
}

// yearFractionBps 将剩余秒数转为年化时间（bps），封顶 5 年。
func yearFractionBps(ttlSec int64) int64 {
	if ttlSec <= 0 {
		return 0
	}
	yf, err := MulDiv(ttlSec, BpsDenominator, SecondsPerYear)
	if err != nil || yf > maxYearFracBps {
		return maxYearFracBps
	}
	return yf
}

// moneynessRatioBps 价内外程度：max(spot,strike)/min(spot,strike)，bps 标度，恒 >= 10000。
func moneynessRatioBps(strike, spot int64) int64 {
	hi, lo := spot, strike
	if hi < lo {
		hi, lo = lo, hi
	}
	if lo <= 0 {
		return BpsDenominator
	}
	r, err := MulDiv(hi, BpsDenominator, lo)
	if err != nil {
		return math.MaxInt64 / BpsDenominator
	}
	return r
}

// moneynessFactorBps 货币性调整因子（bps 标度，10000 为中性）。
// 价内抬升时间价值，价外折减；价外衰减对 CALL 更陡。
// 因子有界 [2000, 20000]，保证时间价值不翻倍失控也不会归零。
func moneynessFactorBps(kind OptionKind, strike, spot int64) int64 {
	ratio := moneynessRatioBps(strike, spot)
	dist := ratio - BpsDenominator
	if dist <= 0 {
		return BpsDenominator
	}
	inTheMoney := (kind == KindCall && spot > strike) || (kind == KindPut && spot < strike)
	if inTheMoney {
		boost := dist / 2
		if boost > BpsDenominator {
			boost = BpsDenominator
		}
		return BpsDenominator + boost
	}
	div := int64(3)
	if kind == KindPut {
		div = 4
	}
	cut := dist / div
	if cut > 8_000 {
		cut = 8_000
	}
	return BpsDenominator - cut
}

// Price 计算近似权利金：内在价值 + 时间价值。
//
// 合约：Price >= IntrinsicValue 恒成立；在其余输入固定时对波动率与
// 剩余时间单调不减；timeToExpiry == 0 时精确等于内在价值。
func Price(kind OptionKind, params PricingParams) (int64, error) {
	if !kind.Valid() {
		return 0, ErrInvalidOptionKind
	}
	intrinsic := IntrinsicValue(kind, params.Strike, params.Spot)
	if params.TimeToExpirySec <= 0 {
		return intrinsic, nil
	}

	yf := yearFractionBps(params.TimeToExpirySec)
	sqrtT := sqrtTimeProxyBps(yf)

	// 波动率分量：spot * vol * sqrt(T)
	base, err := MulDiv(params.Spot, params.VolatilityBps, BpsDenominator)
	if err != nil {
		return 0, err
	}
	tv, err := MulDiv(base, sqrtT, BpsDenominator)
	if err != nil {
		return 0, err
	}
	tv, err = MulDiv(tv, moneynessFactorBps(kind, params.Strike, params.Spot), BpsDenominator)
	if err != nil {
		return 0, err
	}

	// 利率分量：strike * r * T，量级很小
	rate, err := MulDiv(params.Strike, params.RiskFreeRateBps, BpsDenominator)
	if err != nil {
		return 0, err
	}
	rate, err = MulDiv(rate, yf, BpsDenominator)
	if err != nil {
		return 0, err
	}
	tv, err = CheckedAdd(tv, rate)
	if err != nil {
		return 0, err
	}

	// 时间价值下限：只要未到期就保留不确定性溢价
	floor, ferr := MulDiv(params.Spot, minTimeValueBps, BpsDenominator)
	if ferr == nil {
		if floor < 1 {
			floor = 1
		}
		if tv < floor {
			tv = floor
		}
	}

	return CheckedAdd(intrinsic, tv)
}

// ImpliedVolLookup 简易波动率微笑：基础波动率按货币性分桶加成。
// 远离平值的行权价隐含波动率更高，分桶阶梯保证查表单调。
func ImpliedVolLookup(baseVolBps, strike, spot int64) int64 {
	dist := moneynessRatioBps(strike, spot) - BpsDenominator
	var addBps int64
	switch {
	case dist <= 500: // 5% 以内视为平值
		addBps = 0
	case dist <= 1_500:
		addBps = baseVolBps / 20
	case dist <= 3_000:
		addBps = baseVolBps / 10
	default:
		addBps = baseVolBps / 4
	}
	return baseVolBps + addBps
}

// ComputeGreeks 计算希腊字母快照（多头视角；空头由调用方取反）。
// 所有输出夹在 [-greeksClamp, greeksClamp]。
func ComputeGreeks(kind OptionKind, params PricingParams) Greeks {
	yf := yearFractionBps(params.TimeToExpirySec)
	sqrtT := sqrtTimeProxyBps(yf)
	if sqrtT < 100 {
		sqrtT = 100 // 到期前夕的斜率保护
	}
	ratio := moneynessRatioBps(params.Strike, params.Spot)
	dist := ratio - BpsDenominator
	inTheMoney := (kind == KindCall && params.Spot > params.Strike) ||
		(kind == KindPut && params.Spot < params.Strike)

	// Delta：平值 5000，价内向 10000 逼近、价外向 0 逼近但永不触达；
	// 剩余时间越短曲线越陡。
	shift, err := MulDiv(dist, BpsDenominator, sqrtT)
	if err != nil || shift > 4_999 {
		shift = 4_999
	}
	deltaMag := int64(5_000)
	if inTheMoney {
		deltaMag += shift
	} else {
		deltaMag -= shift
	}
	if deltaMag < 1 {
		deltaMag = 1
	}
	if deltaMag > 9_999 {
		deltaMag = 9_999
	}
	delta := deltaMag
	if kind == KindPut {
		delta = -deltaMag
	}

	// 平值权重：距离平值越远衰减越快，用于 gamma/vega/theta
	atmWeight, err := MulDiv(BpsDenominator, BpsDenominator, BpsDenominator+2*dist)
	if err != nil {
		atmWeight = 0
	}

	gamma, err := MulDiv(2_500, atmWeight, BpsDenominator)
	if err != nil {
		gamma = 0
	}

	vega, err := MulDiv(params.Spot, sqrtT, BpsDenominator)
	if err == nil {
		vega, err = MulDiv(vega, atmWeight, BpsDenominator)
	}
	if err != nil {
		vega = greeksClamp
	}

	theta, err := MulDiv(params.Spot, params.VolatilityBps, BpsDenominator)
	if err == nil {
		theta, err = MulDiv(theta, atmWeight, BpsDenominator)
	}
	if err != nil {
		theta = greeksClamp
	}
	theta = -theta // 时间价值只会流逝

	rho, err := MulDiv(params.Strike, yf, BpsDenominator)
	if err != nil {
		rho = greeksClamp
	} else {
		rho /= 100
	}
	if kind == KindPut {
		rho = -rho
	}

	return Greeks{
		DeltaBps: clampGreek(delta),
		GammaBps: clampGreek(gamma),
		ThetaBps: clampGreek(theta),
		VegaBps:  clampGreek(vega),
		RhoBps:   clampGreek(rho),
	}
}

func clampGreek(v int64) int64 {
	if v > greeksClamp {
		return greeksClamp
	}
	if v < -greeksClamp {
		return -greeksClamp
	}
	return v
}

// RequiredCollateral 卖方必须锁定的抵押：名义价值 * 抵押率。
// CALL 名义 = spot*qty，PUT 名义 = strike*qty。
// 名义价值超过 10000 时先除后乘避免溢出。
func RequiredCollateral(kind OptionKind, strike, spot, quantity, collateralRatioBps int64) (int64, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	unit := spot
	if kind == KindPut {
		unit = strike
	}
	notional, err := CheckedMul(unit, quantity)
	if err != nil {
		return 0, err
	}
	if notional > BpsDenominator {
		return CheckedMul(notional/BpsDenominator, collateralRatioBps)
	}
	return MulDiv(notional, collateralRatioBps, BpsDenominator)
}

// MulDiv 计算 a*b/den，溢出返回 ErrArithmeticOverflow。
func MulDiv(a, b, den int64) (int64, error) {
	if den == 0 {
		return 0, ErrArithmeticOverflow
	}
	p, err := CheckedMul(a, b)
	if err != nil {
		return 0, err
	}
	if p == math.MinInt64 && den == -1 {
		return 0, ErrArithmeticOverflow
	}
	return p / den, nil
}

// CheckedMul 溢出检查乘法。
func CheckedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	// MinInt64 * -1 回绕成自身，商检测会触发除法 panic
	if (a == math.MinInt64 && b == -1) || (b == math.MinInt64 && a == -1) {
		return 0, ErrArithmeticOverflow
	}
	p := a * b
	if p/b != a {
		return 0, ErrArithmeticOverflow
	}
	return p, nil
}

// CheckedAdd 溢出检查加法。
func CheckedAdd(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrArithmeticOverflow
	}
	return s, nil
}
