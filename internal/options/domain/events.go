package domain

import "time"

const (
	MarketCreatedEventType    = "MarketCreated"
	TradedEventType           = "Traded"
	PositionOpenedEventType   = "PositionOpened"
	ExercisedEventType        = "Exercised"
	ExpiredWorthlessEventType = "ExpiredWorthless"
	MarketSettledEventType    = "MarketSettled"
)

// MarketCreatedEvent 市场创建事件
type MarketCreatedEvent struct {
	EventID    string    `json:"event_id"`
	MarketID   int64     `json:"market_id"`
	Underlying string    `json:"underlying"`
	Kind       string    `json:"kind"`
	Strike     int64     `json:"strike"`
	ExpiryUnix int64     `json:"expiry_unix"`
	OccurredOn time.Time `json:"occurred_on"`
}

// TradedEvent 成交事件，聚合统计更新后发出。
type TradedEvent struct {
	EventID     string    `json:"event_id"`
	MarketID    int64     `json:"market_id"`
	PositionID  int64     `json:"position_id"`
	Owner       string    `json:"owner"`
	Side        string    `json:"side"`
	Quantity    int64     `json:"quantity"`
	Premium     int64     `json:"premium"`
	Fee         int64     `json:"fee"`
	OccurredOn  time.Time `json:"occurred_on"`
}

// PositionOpenedEvent 持仓创建事件
type PositionOpenedEvent struct {
	EventID          string    `json:"event_id"`
	PositionID       int64     `json:"position_id"`
	MarketID         int64     `json:"market_id"`
	Owner            string    `json:"owner"`
	Side             string    `json:"side"`
	Quantity         int64     `json:"quantity"`
	EntryPrice       int64     `json:"entry_price"`
	CollateralLocked int64     `json:"collateral_locked"`
	OccurredOn       time.Time `json:"occurred_on"`
}

// ExercisedEvent 行权事件（手动或批量）
type ExercisedEvent struct {
	EventID          string    `json:"event_id"`
	PositionID       int64     `json:"position_id"`
	MarketID         int64     `json:"market_id"`
	Owner            string    `json:"owner"`
	Quantity         int64     `json:"quantity"`
	SettlementPrice  int64     `json:"settlement_price"`
	SettlementAmount int64     `json:"settlement_amount"`
	Fee              int64     `json:"fee"`
	Auto             bool      `json:"auto"`
	OccurredOn       time.Time `json:"occurred_on"`
}

// ExpiredWorthlessEvent 到期价外作废事件
type ExpiredWorthlessEvent struct {
	EventID    string    `json:"event_id"`
	PositionID int64     `json:"position_id"`
	MarketID   int64     `json:"market_id"`
	Owner      string    `json:"owner"`
	Quantity   int64     `json:"quantity"`
	OccurredOn time.Time `json:"occurred_on"`
}

// MarketSettledEvent 市场结算完成事件
type MarketSettledEvent struct {
	EventID          string    `json:"event_id"`
	MarketID         int64     `json:"market_id"`
	SettlementPrice  int64     `json:"settlement_price"`
	Exercised        int64     `json:"exercised"`
	ExpiredWorthless int64     `json:"expired_worthless"`
	Skipped          int64     `json:"skipped"`
	OccurredOn       time.Time `json:"occurred_on"`
}
