package domain

import (
	"fmt"
	"time"
)

// MarketState 市场生命周期状态
type MarketState int8

const (
	MarketStateActive  MarketState = 1 // 可交易
	MarketStateExpired MarketState = 2 // 已到期，结算进行中
	MarketStateSettled MarketState = 3 // 终态，结算价已冻结
)

func (s MarketState) String() string {
	switch s {
	case MarketStateActive:
		return "ACTIVE"
	case MarketStateExpired:
		return "EXPIRED"
	case MarketStateSettled:
		return "SETTLED"
	default:
		return "UNKNOWN"
	}
}

// MarketKey 市场的类型化复合键：(标的, 类型, 行权价, 到期时间戳)。
// 取代字符串拼接键，可直接作为 map 键使用。
type MarketKey struct {
	Underlying string     `json:"underlying"`
	Kind       OptionKind `json:"kind"`
	Strike     int64      `json:"strike"`
	ExpiryUnix int64      `json:"expiry_unix"`
}

// String 仅用于日志与事件展示。
func (k MarketKey) String() string {
	return fmt.Sprintf("%s-%s-%d-%d", k.Underlying, k.Kind, k.Strike, k.ExpiryUnix)
}

// MarginSchedule 多空双边的初始/维持保证金率（bps）。
type MarginSchedule struct {
	LongInitialBps       int64 `json:"long_initial_bps"`
	LongMaintenanceBps   int64 `json:"long_maintenance_bps"`
	ShortInitialBps      int64 `json:"short_initial_bps"`
	ShortMaintenanceBps  int64 `json:"short_maintenance_bps"`
}

// OptionMarket 单一期权市场聚合根。
// 状态变更必须在市场级串行化下进行（由应用层持锁保证）。
type OptionMarket struct {
	ID              int64          `json:"id"`
	Key             MarketKey      `json:"key"`
	State           MarketState    `json:"state"`
	OpenInterest    int64          `json:"open_interest"`
	Volume          int64          `json:"volume"`
	LastTradedPrice int64          `json:"last_traded_price"`
	Margin          MarginSchedule `json:"margin"`
	SettlementPrice *int64         `json:"settlement_price,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	SettledAt       *time.Time     `json:"settled_at,omitempty"`
}

// NewOptionMarket 创建处于 Active 状态的市场。
func NewOptionMarket(id int64, key MarketKey, margin MarginSchedule) (*OptionMarket, error) {
	if !key.Kind.Valid() {
		return nil, ErrInvalidOptionKind
	}
	if key.Strike <= 0 {
		return nil, ErrInvalidStrike
	}
	now := time.Now()
	return &OptionMarket{
		ID:        id,
		Key:       key,
		State:     MarketStateActive,
		Margin:    margin,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Expiry 到期时刻。
func (m *OptionMarket) Expiry() time.Time {
	return time.Unix(m.Key.ExpiryUnix, 0)
}

// IsExpired 判断 now 是否已达到期时刻。
func (m *OptionMarket) IsExpired(now time.Time) bool {
	return !now.Before(m.Expiry())
}

// EnsureActive 交易与行权入口的状态守卫。
func (m *OptionMarket) EnsureActive() error {
	if m.State != MarketStateActive {
		return ErrMarketNotActive
	}
	return nil
}

// RecordTrade 成交后更新聚合统计。
func (m *OptionMarket) RecordTrade(quantity, tradedPrice int64) error {
	oi, err := CheckedAdd(m.OpenInterest, quantity)
	if err != nil {
		return err
	}
	turnover, err := CheckedMul(quantity, tradedPrice)
	if err != nil {
		return err
	}
	vol, err := CheckedAdd(m.Volume, turnover)
	if err != nil {
		return err
	}
	m.OpenInterest = oi
	m.Volume = vol
	m.LastTradedPrice = tradedPrice
	m.UpdatedAt = time.Now()
	return nil
}

// ReduceOpenInterest 行权或到期后扣减未平仓量。
func (m *OptionMarket) ReduceOpenInterest(quantity int64) {
	m.OpenInterest -= quantity
	if m.OpenInterest < 0 {
		m.OpenInterest = 0
	}
	m.UpdatedAt = time.Now()
}

// MarkExpired 由结算处理器在 now >= expiry 时调用，冻结结算价。
// 幂等：重复调用不改变已冻结的结算价。
func (m *OptionMarket) MarkExpired(settlementPrice int64, now time.Time) error {
	if m.State == MarketStateSettled {
		return nil
	}
	if !m.IsExpired(now) {
		return ErrMarketNotExpired
	}
	if m.State == MarketStateActive {
		m.State = MarketStateExpired
		p := settlementPrice
		m.SettlementPrice = &p
		m.UpdatedAt = now
	}
	return nil
}

// MarkSettled 结算批次处理完全部持仓后调用，进入终态。
func (m *OptionMarket) MarkSettled(now time.Time) error {
	if m.State == MarketStateSettled {
		return nil
	}
	if m.State != MarketStateExpired {
		return ErrMarketNotExpired
	}
	m.State = MarketStateSettled
	m.SettledAt = &now
	m.UpdatedAt = now
	return nil
}
