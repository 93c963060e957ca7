// Package mysql 基于 GORM 的仓储实现。
package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/unxversal/optionsengine/internal/options/domain"
)

// AutoMigrate 建表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UnderlyingModel{},
		&MarketModel{},
		&PositionModel{},
		&CheckpointModel{},
	)
}

type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository 创建标的仓储实例
func NewAssetRepository(db *gorm.DB) domain.AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Save(ctx context.Context, asset *domain.UnderlyingAsset) error {
	model := toUnderlyingModel(asset)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(model).Error
}

func (r *assetRepository) List(ctx context.Context) ([]*domain.UnderlyingAsset, error) {
	var models []*UnderlyingModel
	if err := r.db.WithContext(ctx).Order("symbol asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.UnderlyingAsset, 0, len(models))
	for _, m := range models {
		out = append(out, toUnderlying(m))
	}
	return out, nil
}

type marketRepository struct {
	db *gorm.DB
}

// NewMarketRepository 创建市场仓储实例
func NewMarketRepository(db *gorm.DB) domain.MarketRepository {
	return &marketRepository{db: db}
}

func (r *marketRepository) Save(ctx context.Context, market *domain.OptionMarket) error {
	model := toMarketModel(market)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
}

func (r *marketRepository) Get(ctx context.Context, id int64) (*domain.OptionMarket, error) {
	var model MarketModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toMarket(&model), nil
}

func (r *marketRepository) GetByKey(ctx context.Context, key domain.MarketKey) (*domain.OptionMarket, error) {
	var model MarketModel
	err := r.db.WithContext(ctx).
		Where("underlying = ? AND kind = ? AND strike = ? AND expiry_unix = ?",
			key.Underlying, string(key.Kind), key.Strike, key.ExpiryUnix).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toMarket(&model), nil
}

func (r *marketRepository) ListExpiring(ctx context.Context, now time.Time, limit int) ([]*domain.OptionMarket, error) {
	var models []*MarketModel
	query := r.db.WithContext(ctx).
		Where("expiry_unix <= ? AND state <> ?", now.Unix(), int8(domain.MarketStateSettled)).
		Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.OptionMarket, 0, len(models))
	for _, m := range models {
		out = append(out, toMarket(m))
	}
	return out, nil
}

type positionRepository struct {
	db *gorm.DB
}

// NewPositionRepository 创建持仓仓储实例
func NewPositionRepository(db *gorm.DB) domain.PositionRepository {
	return &positionRepository{db: db}
}

func (r *positionRepository) Save(ctx context.Context, position *domain.OptionPosition) error {
	model := toPositionModel(position)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
}

func (r *positionRepository) Get(ctx context.Context, id int64) (*domain.OptionPosition, error) {
	var model PositionModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toPosition(&model), nil
}

func (r *positionRepository) ListByOwner(ctx context.Context, owner string) ([]*domain.OptionPosition, error) {
	var models []*PositionModel
	err := r.db.WithContext(ctx).Where("owner = ?", owner).Order("id asc").Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.OptionPosition, 0, len(models))
	for _, m := range models {
		out = append(out, toPosition(m))
	}
	return out, nil
}

func (r *positionRepository) ListOpenLong(ctx context.Context, marketID, afterID int64, limit int) ([]*domain.OptionPosition, error) {
	return r.listOpen(ctx, marketID, afterID, limit, domain.SideLong)
}

func (r *positionRepository) ListOpenShort(ctx context.Context, marketID, afterID int64, limit int) ([]*domain.OptionPosition, error) {
	return r.listOpen(ctx, marketID, afterID, limit, domain.SideShort)
}

// listOpen 按 id 升序翻页，结算批次依赖该顺序断点续跑。
func (r *positionRepository) listOpen(ctx context.Context, marketID, afterID int64, limit int, side domain.PositionSide) ([]*domain.OptionPosition, error) {
	var models []*PositionModel
	query := r.db.WithContext(ctx).
		Where("market_id = ? AND side = ? AND status = ? AND quantity > 0 AND id > ?",
			marketID, string(side), string(domain.PositionStatusOpen), afterID).
		Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.OptionPosition, 0, len(models))
	for _, m := range models {
		out = append(out, toPosition(m))
	}
	return out, nil
}

type checkpointRepository struct {
	db *gorm.DB
}

// NewCheckpointRepository 创建结算断点仓储实例
func NewCheckpointRepository(db *gorm.DB) domain.SettlementCheckpointRepository {
	return &checkpointRepository{db: db}
}

func (r *checkpointRepository) Get(ctx context.Context, marketID int64) (*domain.SettlementCheckpoint, error) {
	var model CheckpointModel
	err := r.db.WithContext(ctx).Where("market_id = ?", marketID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toCheckpoint(&model), nil
}

func (r *checkpointRepository) Save(ctx context.Context, cp *domain.SettlementCheckpoint) error {
	model := toCheckpointModel(cp)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market_id"}},
		UpdateAll: true,
	}).Create(model).Error
}
