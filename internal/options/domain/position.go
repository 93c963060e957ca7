package domain

import "time"

// PositionSide 持仓方向
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// PositionStatus 持仓状态
type PositionStatus string

const (
	PositionStatusOpen      PositionStatus = "OPEN"
	PositionStatusExercised PositionStatus = "EXERCISED"
	PositionStatusExpired   PositionStatus = "EXPIRED" // 到期价外作废
	PositionStatusClosed    PositionStatus = "CLOSED"  // 卖方在结算后了结
)

// OptionPosition 期权持仓。
// 不变式：Quantity 只减不增且不为负；Exercised 仅在数量因行权归零时置位。
type OptionPosition struct {
	ID               int64          `json:"id"`
	Owner            string         `json:"owner"`
	MarketID         int64          `json:"market_id"`
	Side             PositionSide   `json:"side"`
	Quantity         int64          `json:"quantity"`
	EntryPrice       int64          `json:"entry_price"`
	CollateralLocked int64          `json:"collateral_locked"`
	EntryGreeks      Greeks         `json:"entry_greeks"`
	Exercised        bool           `json:"exercised"`
	SettlementAmount *int64         `json:"settlement_amount,omitempty"`
	Status           PositionStatus `json:"status"`
	OpenedAt         time.Time      `json:"opened_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
}

// NewLongPosition 买方持仓：无抵押。
func NewLongPosition(id int64, owner string, marketID, quantity, entryPrice int64, greeks Greeks) (*OptionPosition, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	now := time.Now()
	return &OptionPosition{
		ID:          id,
		Owner:       owner,
		MarketID:    marketID,
		Side:        SideLong,
		Quantity:    quantity,
		EntryPrice:  entryPrice,
		EntryGreeks: greeks,
		Status:      PositionStatusOpen,
		OpenedAt:    now,
		UpdatedAt:   now,
	}, nil
}

// NewShortPosition 卖方持仓：锁定抵押，希腊字母取反。
func NewShortPosition(id int64, owner string, marketID, quantity, entryPrice, collateral int64, greeks Greeks) (*OptionPosition, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	now := time.Now()
	return &OptionPosition{
		ID:               id,
		Owner:            owner,
		MarketID:         marketID,
		Side:             SideShort,
		Quantity:         quantity,
		EntryPrice:       entryPrice,
		CollateralLocked: collateral,
		EntryGreeks:      greeks.Negate(),
		Status:           PositionStatusOpen,
		OpenedAt:         now,
		UpdatedAt:        now,
	}, nil
}

// IsOpen 是否仍有未了结数量。
func (p *OptionPosition) IsOpen() bool {
	return p.Status == PositionStatusOpen && p.Quantity > 0
}

// Reduce 行权路径的数量扣减；归零时标记已行权并累计结算金额。
func (p *OptionPosition) Reduce(quantity, settlement int64) error {
	if p.Exercised || !p.IsOpen() {
		return ErrAlreadyExercised
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > p.Quantity {
		return ErrQuantityExceedsHeld
	}
	p.Quantity -= quantity
	now := time.Now()
	if p.SettlementAmount == nil {
		p.SettlementAmount = new(int64)
	}
	*p.SettlementAmount += settlement
	if p.Quantity == 0 {
		p.Exercised = true
		p.Status = PositionStatusExercised
		p.ClosedAt = &now
	}
	p.UpdatedAt = now
	return nil
}

// CloseAtSettlement 卖方持仓在市场结算后了结，抵押由托管方释放。
func (p *OptionPosition) CloseAtSettlement(now time.Time) {
	if !p.IsOpen() {
		return
	}
	p.Quantity = 0
	p.Status = PositionStatusClosed
	p.ClosedAt = &now
	p.UpdatedAt = now
}

// MarkExpiredWorthless 到期价外作废，无任何支付。
func (p *OptionPosition) MarkExpiredWorthless(now time.Time) {
	if !p.IsOpen() {
		return
	}
	p.Quantity = 0
	p.Status = PositionStatusExpired
	p.ClosedAt = &now
	p.UpdatedAt = now
}
