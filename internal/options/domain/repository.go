package domain

import (
	"context"
	"time"
)

// AssetRepository 标的持久化，用于引导时重建目录。
type AssetRepository interface {
	Save(ctx context.Context, asset *UnderlyingAsset) error
	List(ctx context.Context) ([]*UnderlyingAsset, error)
}

// MarketRepository 市场仓储。
type MarketRepository interface {
	Save(ctx context.Context, market *OptionMarket) error
	Get(ctx context.Context, id int64) (*OptionMarket, error)
	GetByKey(ctx context.Context, key MarketKey) (*OptionMarket, error)
	// ListExpiring 返回 expiry <= now 且尚未 Settled 的市场，按 id 升序。
	ListExpiring(ctx context.Context, now time.Time, limit int) ([]*OptionMarket, error)
}

// PositionRepository 持仓仓储。
type PositionRepository interface {
	Save(ctx context.Context, position *OptionPosition) error
	Get(ctx context.Context, id int64) (*OptionPosition, error)
	ListByOwner(ctx context.Context, owner string) ([]*OptionPosition, error)
	// ListOpenLong 返回指定市场中 id > afterID 的未了结多头，按 id 升序，
	// 最多 limit 条。结算批次依赖该稳定顺序实现断点续跑。
	ListOpenLong(ctx context.Context, marketID, afterID int64, limit int) ([]*OptionPosition, error)
	// ListOpenShort 同上，空头侧，用于结算后释放抵押。
	ListOpenShort(ctx context.Context, marketID, afterID int64, limit int) ([]*OptionPosition, error)
}

// SettlementCheckpoint 结算批次断点。一市场一行，记录最近处理进度。
type SettlementCheckpoint struct {
	MarketID         int64     `json:"market_id"`
	LastPositionID   int64     `json:"last_position_id"`
	LastShortID      int64     `json:"last_short_id"`
	Exercised        int64     `json:"exercised"`
	ExpiredWorthless int64     `json:"expired_worthless"`
	Skipped          int64     `json:"skipped"`
	Done             bool      `json:"done"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SettlementCheckpointRepository 断点仓储；批次崩溃后据此恢复，
// 保证既不重复支付也不漏处理。
type SettlementCheckpointRepository interface {
	Get(ctx context.Context, marketID int64) (*SettlementCheckpoint, error)
	Save(ctx context.Context, cp *SettlementCheckpoint) error
}
