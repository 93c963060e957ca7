package domain

import (
	"context"
	"time"
)

// PriceQuote 预言机报价。
type PriceQuote struct {
	FeedID        string    `json:"feed_id"`
	Price         int64     `json:"price"`
	ConfidenceBps int64     `json:"confidence_bps"`
	PublishedAt   time.Time `json:"published_at"`
}

// PriceOracle 价格预言机端口。实现方负责校验时效与 feed 一致性：
// 超过 maxStaleness 返回 ErrStalePrice，feed 不匹配返回 ErrFeedMismatch。
type PriceOracle interface {
	GetPrice(ctx context.Context, feedID string, maxStaleness time.Duration) (PriceQuote, error)
}

// Custodian 资金托管端口。引擎只发起指令，不持有余额。
// 所有调用视为有界延迟的可失败外部调用，重试策略由调用方决定。
type Custodian interface {
	Lock(ctx context.Context, owner string, amount int64) error
	Release(ctx context.Context, owner string, amount int64) error
	Payout(ctx context.Context, owner string, amount int64) error
}
