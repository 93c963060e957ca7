package domain

import (
	"sort"
	"sync"
)

// FeeSchedule 按基点计的费率表。
type FeeSchedule struct {
	TradeFeeBps    int64 `json:"trade_fee_bps"`
	ExerciseFeeBps int64 `json:"exercise_fee_bps"`
}

// DiscountTier 按质押量阶梯的费率折扣。
type DiscountTier struct {
	StakeThreshold int64 `json:"stake_threshold"`
	DiscountBps    int64 `json:"discount_bps"`
}

// DiscountTable 折扣阶梯表，读多写少。
type DiscountTable struct {
	mu    sync.RWMutex
	tiers []DiscountTier // 按阈值升序
}

// NewDiscountTable 创建折扣表，内部按阈值排序。
func NewDiscountTable(tiers []DiscountTier) *DiscountTable {
	t := &DiscountTable{}
	t.Replace(tiers)
	return t
}

// Replace 整表替换，由管理接口调用。
func (t *DiscountTable) Replace(tiers []DiscountTier) {
	cp := make([]DiscountTier, len(tiers))
	copy(cp, tiers)
	sort.Slice(cp, func(i, j int) bool { return cp[i].StakeThreshold < cp[j].StakeThreshold })
	t.mu.Lock()
	t.tiers = cp
	t.mu.Unlock()
}

// Tiers 返回当前阶梯快照。
func (t *DiscountTable) Tiers() []DiscountTier {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make([]DiscountTier, len(t.tiers))
	copy(cp, t.tiers)
	return cp
}

// DiscountBps 返回阈值不超过质押量的最高档折扣；
// 阈值边界取闭区间，低于最低档返回 0。
func (t *DiscountTable) DiscountBps(stakeAmount int64) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var best int64
	for _, tier := range t.tiers {
		if stakeAmount >= tier.StakeThreshold {
			best = tier.DiscountBps
		} else {
			break
		}
	}
	return best
}

// BaseFee 基础手续费 = 名义金额 * feeBps / 10000。
func BaseFee(notional, feeBps int64) (int64, error) {
	return MulDiv(notional, feeBps, BpsDenominator)
}

// FinalFee 折后手续费 = baseFee * (10000 - discountBps) / 10000。
func FinalFee(notional, feeBps, discountBps int64) (int64, error) {
	base, err := BaseFee(notional, feeBps)
	if err != nil {
		return 0, err
	}
	if discountBps < 0 {
		discountBps = 0
	}
	if discountBps > BpsDenominator {
		discountBps = BpsDenominator
	}
	return MulDiv(base, BpsDenominator-discountBps, BpsDenominator)
}
