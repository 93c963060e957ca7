// Package memory 提供仓储接口的内存实现，用于测试与单机试运行。
// 所有实现返回深拷贝语义之外的共享指针，调用方需经应用层锁访问。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unxversal/optionsengine/internal/options/domain"
)

// AssetRepository 内存标的仓储。
type AssetRepository struct {
	mu     sync.RWMutex
	assets map[string]*domain.UnderlyingAsset
}

func NewAssetRepository() *AssetRepository {
	return &AssetRepository{assets: make(map[string]*domain.UnderlyingAsset)}
}

func (r *AssetRepository) Save(_ context.Context, asset *domain.UnderlyingAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset.Symbol] = asset
	return nil
}

func (r *AssetRepository) List(_ context.Context) ([]*domain.UnderlyingAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.UnderlyingAsset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// MarketRepository 内存市场仓储。
type MarketRepository struct {
	mu      sync.RWMutex
	markets map[int64]*domain.OptionMarket
	byKey   map[domain.MarketKey]int64
}

func NewMarketRepository() *MarketRepository {
	return &MarketRepository{
		markets: make(map[int64]*domain.OptionMarket),
		byKey:   make(map[domain.MarketKey]int64),
	}
}

func (r *MarketRepository) Save(_ context.Context, market *domain.OptionMarket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[market.ID] = market
	r.byKey[market.Key] = market.ID
	return nil
}

func (r *MarketRepository) Get(_ context.Context, id int64) (*domain.OptionMarket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.markets[id], nil
}

func (r *MarketRepository) GetByKey(_ context.Context, key domain.MarketKey) (*domain.OptionMarket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, nil
	}
	return r.markets[id], nil
}

func (r *MarketRepository) ListExpiring(_ context.Context, now time.Time, limit int) ([]*domain.OptionMarket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.OptionMarket, 0)
	for _, m := range r.markets {
		if m.State != domain.MarketStateSettled && m.IsExpired(now) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PositionRepository 内存持仓仓储。
type PositionRepository struct {
	mu        sync.RWMutex
	positions map[int64]*domain.OptionPosition
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{positions: make(map[int64]*domain.OptionPosition)}
}

func (r *PositionRepository) Save(_ context.Context, position *domain.OptionPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[position.ID] = position
	return nil
}

func (r *PositionRepository) Get(_ context.Context, id int64) (*domain.OptionPosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.positions[id], nil
}

func (r *PositionRepository) ListByOwner(_ context.Context, owner string) ([]*domain.OptionPosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.OptionPosition, 0)
	for _, p := range r.positions {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *PositionRepository) ListOpenLong(_ context.Context, marketID, afterID int64, limit int) ([]*domain.OptionPosition, error) {
	return r.listOpen(marketID, afterID, limit, domain.SideLong), nil
}

func (r *PositionRepository) ListOpenShort(_ context.Context, marketID, afterID int64, limit int) ([]*domain.OptionPosition, error) {
	return r.listOpen(marketID, afterID, limit, domain.SideShort), nil
}

func (r *PositionRepository) listOpen(marketID, afterID int64, limit int, side domain.PositionSide) []*domain.OptionPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.OptionPosition, 0)
	for _, p := range r.positions {
		if p.MarketID == marketID && p.Side == side && p.ID > afterID && p.IsOpen() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CheckpointRepository 内存结算断点仓储。
type CheckpointRepository struct {
	mu          sync.RWMutex
	checkpoints map[int64]*domain.SettlementCheckpoint
}

func NewCheckpointRepository() *CheckpointRepository {
	return &CheckpointRepository{checkpoints: make(map[int64]*domain.SettlementCheckpoint)}
}

func (r *CheckpointRepository) Get(_ context.Context, marketID int64) (*domain.SettlementCheckpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp, ok := r.checkpoints[marketID]
	if !ok {
		return nil, nil
	}
	copied := *cp
	return &copied, nil
}

func (r *CheckpointRepository) Save(_ context.Context, cp *domain.SettlementCheckpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *cp
	r.checkpoints[cp.MarketID] = &copied
	return nil
}
