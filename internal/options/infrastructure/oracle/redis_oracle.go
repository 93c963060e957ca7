// Package oracle 基于 Redis 的价格预言机适配器。
// 外部喂价服务将各 feed 的最新报价以 JSON 写入 Redis，本适配器只读。
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unxversal/optionsengine/internal/options/domain"
	"github.com/unxversal/optionsengine/pkg/cache"
)

const feedKeyPrefix = "options:oracle:feed:"

// feedDocument Redis 中的报价文档。Price 为十进制字符串，
// Decimals 表示换算到整数基础单位需左移的位数。
type feedDocument struct {
	FeedID        string          `json:"feed_id"`
	Price         decimal.Decimal `json:"price"`
	Decimals      int32           `json:"decimals"`
	ConfidenceBps int64           `json:"confidence_bps"`
	PublishedAt   time.Time       `json:"published_at"`
}

// RedisOracle domain.PriceOracle 的 Redis 实现。
type RedisOracle struct {
	cache *cache.RedisCache
}

// NewRedisOracle 创建预言机适配器。
func NewRedisOracle(c *cache.RedisCache) *RedisOracle {
	return &RedisOracle{cache: c}
}

// GetPrice 读取并校验报价：feed 缺失、标识不符或超过时效窗口均拒绝。
func (o *RedisOracle) GetPrice(ctx context.Context, feedID string, maxStaleness time.Duration) (domain.PriceQuote, error) {
	var doc feedDocument
	found, err := o.cache.GetJSON(ctx, feedKeyPrefix+feedID, &doc)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("failed to read oracle feed %s: %w", feedID, err)
	}
	if !found {
		return domain.PriceQuote{}, domain.ErrFeedNotFound
	}
	if doc.FeedID != feedID {
		return domain.PriceQuote{}, domain.ErrFeedMismatch
	}
	if time.Since(doc.PublishedAt) > maxStaleness {
		return domain.PriceQuote{}, domain.ErrStalePrice
	}

	price := doc.Price.Shift(doc.Decimals).IntPart()
	if price <= 0 {
		return domain.PriceQuote{}, domain.ErrStalePrice
	}

	return domain.PriceQuote{
		FeedID:        doc.FeedID,
		Price:         price,
		ConfidenceBps: doc.ConfidenceBps,
		PublishedAt:   doc.PublishedAt,
	}, nil
}
