package mysql

import (
	"time"

	"github.com/unxversal/optionsengine/internal/options/domain"
)

// UnderlyingModel MySQL 标的表映射
type UnderlyingModel struct {
	Symbol          string    `gorm:"primaryKey;type:varchar(32);column:symbol"`
	AssetClass      string    `gorm:"column:asset_class;type:varchar(20);not null"`
	MinStrike       int64     `gorm:"column:min_strike;not null"`
	MaxStrike       int64     `gorm:"column:max_strike;not null"`
	StrikeIncrement int64     `gorm:"column:strike_increment;not null"`
	MinExpirySec    int64     `gorm:"column:min_expiry_sec;not null"`
	MaxExpirySec    int64     `gorm:"column:max_expiry_sec;not null"`
	Settlement      string    `gorm:"column:settlement;type:varchar(10);default:'CASH'"`
	OracleFeedID    string    `gorm:"column:oracle_feed_id;type:varchar(64);not null"`
	BaseVolBps      int64     `gorm:"column:base_vol_bps;not null"`
	Active          bool      `gorm:"column:active;default:true"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (UnderlyingModel) TableName() string { return "option_underlyings" }

// MarketModel MySQL 期权市场表映射
type MarketModel struct {
	ID              int64      `gorm:"primaryKey;column:id"`
	Underlying      string     `gorm:"column:underlying;type:varchar(32);index:idx_market_key,unique;not null"`
	Kind            string     `gorm:"column:kind;type:varchar(4);index:idx_market_key,unique;not null"`
	Strike          int64      `gorm:"column:strike;index:idx_market_key,unique;not null"`
	ExpiryUnix      int64      `gorm:"column:expiry_unix;index:idx_market_key,unique;index:idx_expiry;not null"`
	State           int8       `gorm:"column:state;not null"`
	OpenInterest    int64      `gorm:"column:open_interest;default:0"`
	Volume          int64      `gorm:"column:volume;default:0"`
	LastTradedPrice int64      `gorm:"column:last_traded_price;default:0"`
	ShortInitBps    int64      `gorm:"column:short_init_bps;not null"`
	ShortMaintBps   int64      `gorm:"column:short_maint_bps;not null"`
	LongInitBps     int64      `gorm:"column:long_init_bps;default:0"`
	LongMaintBps    int64      `gorm:"column:long_maint_bps;default:0"`
	SettlementPrice *int64     `gorm:"column:settlement_price"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
	SettledAt       *time.Time `gorm:"column:settled_at"`
}

func (MarketModel) TableName() string { return "option_markets" }

// PositionModel MySQL 持仓表映射
type PositionModel struct {
	ID               int64      `gorm:"primaryKey;column:id"`
	Owner            string     `gorm:"column:owner;type:varchar(64);index;not null"`
	MarketID         int64      `gorm:"column:market_id;index:idx_market_side;not null"`
	Side             string     `gorm:"column:side;type:varchar(5);index:idx_market_side;not null"`
	Quantity         int64      `gorm:"column:quantity;not null"`
	EntryPrice       int64      `gorm:"column:entry_price;not null"`
	CollateralLocked int64      `gorm:"column:collateral_locked;default:0"`
	DeltaBps         int64      `gorm:"column:delta_bps;default:0"`
	GammaBps         int64      `gorm:"column:gamma_bps;default:0"`
	ThetaBps         int64      `gorm:"column:theta_bps;default:0"`
	VegaBps          int64      `gorm:"column:vega_bps;default:0"`
	RhoBps           int64      `gorm:"column:rho_bps;default:0"`
	Exercised        bool       `gorm:"column:exercised;default:false"`
	SettlementAmount *int64     `gorm:"column:settlement_amount"`
	Status           string     `gorm:"column:status;type:varchar(10);index;not null"`
	OpenedAt         time.Time  `gorm:"column:opened_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
	ClosedAt         *time.Time `gorm:"column:closed_at"`
}

func (PositionModel) TableName() string { return "option_positions" }

// CheckpointModel MySQL 结算断点表映射，一市场一行。
type CheckpointModel struct {
	MarketID         int64     `gorm:"primaryKey;column:market_id"`
	LastPositionID   int64     `gorm:"column:last_position_id;default:0"`
	LastShortID      int64     `gorm:"column:last_short_id;default:0"`
	Exercised        int64     `gorm:"column:exercised;default:0"`
	ExpiredWorthless int64     `gorm:"column:expired_worthless;default:0"`
	Skipped          int64     `gorm:"column:skipped;default:0"`
	Done             bool      `gorm:"column:done;default:false"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (CheckpointModel) TableName() string { return "option_settlement_checkpoints" }

// --- mapping helpers ---

func toUnderlyingModel(a *domain.UnderlyingAsset) *UnderlyingModel {
	if a == nil {
		return nil
	}
	return &UnderlyingModel{
		Symbol:          a.Symbol,
		AssetClass:      a.AssetClass,
		MinStrike:       a.MinStrike,
		MaxStrike:       a.MaxStrike,
		StrikeIncrement: a.StrikeIncrement,
		MinExpirySec:    int64(a.MinExpiry / time.Second),
		MaxExpirySec:    int64(a.MaxExpiry / time.Second),
		Settlement:      string(a.Settlement),
		OracleFeedID:    a.OracleFeedID,
		BaseVolBps:      a.BaseVolBps,
		Active:          a.Active,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toUnderlying(m *UnderlyingModel) *domain.UnderlyingAsset {
	if m == nil {
		return nil
	}
	return &domain.UnderlyingAsset{
		Symbol:          m.Symbol,
		AssetClass:      m.AssetClass,
		MinStrike:       m.MinStrike,
		MaxStrike:       m.MaxStrike,
		StrikeIncrement: m.StrikeIncrement,
		MinExpiry:       time.Duration(m.MinExpirySec) * time.Second,
		MaxExpiry:       time.Duration(m.MaxExpirySec) * time.Second,
		Settlement:      domain.SettlementKind(m.Settlement),
		OracleFeedID:    m.OracleFeedID,
		BaseVolBps:      m.BaseVolBps,
		Active:          m.Active,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toMarketModel(market *domain.OptionMarket) *MarketModel {
	if market == nil {
		return nil
	}
	return &MarketModel{
		ID:              market.ID,
		Underlying:      market.Key.Underlying,
		Kind:            string(market.Key.Kind),
		Strike:          market.Key.Strike,
		ExpiryUnix:      market.Key.ExpiryUnix,
		State:           int8(market.State),
		OpenInterest:    market.OpenInterest,
		Volume:          market.Volume,
		LastTradedPrice: market.LastTradedPrice,
		ShortInitBps:    market.Margin.ShortInitialBps,
		ShortMaintBps:   market.Margin.ShortMaintenanceBps,
		LongInitBps:     market.Margin.LongInitialBps,
		LongMaintBps:    market.Margin.LongMaintenanceBps,
		SettlementPrice: market.SettlementPrice,
		CreatedAt:       market.CreatedAt,
		UpdatedAt:       market.UpdatedAt,
		SettledAt:       market.SettledAt,
	}
}

func toMarket(m *MarketModel) *domain.OptionMarket {
	if m == nil {
		return nil
	}
	return &domain.OptionMarket{
		ID: m.ID,
		Key: domain.MarketKey{
			Underlying: m.Underlying,
			Kind:       domain.OptionKind(m.Kind),
			Strike:     m.Strike,
			ExpiryUnix: m.ExpiryUnix,
		},
		State:           domain.MarketState(m.State),
		OpenInterest:    m.OpenInterest,
		Volume:          m.Volume,
		LastTradedPrice: m.LastTradedPrice,
		Margin: domain.MarginSchedule{
			ShortInitialBps:     m.ShortInitBps,
			ShortMaintenanceBps: m.ShortMaintBps,
			LongInitialBps:      m.LongInitBps,
			LongMaintenanceBps:  m.LongMaintBps,
		},
		SettlementPrice: m.SettlementPrice,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		SettledAt:       m.SettledAt,
	}
}

func toPositionModel(p *domain.OptionPosition) *PositionModel {
	if p == nil {
		return nil
	}
	return &PositionModel{
		ID:               p.ID,
		Owner:            p.Owner,
		MarketID:         p.MarketID,
		Side:             string(p.Side),
		Quantity:         p.Quantity,
		EntryPrice:       p.EntryPrice,
		CollateralLocked: p.CollateralLocked,
		DeltaBps:         p.EntryGreeks.DeltaBps,
		GammaBps:         p.EntryGreeks.GammaBps,
		ThetaBps:         p.EntryGreeks.ThetaBps,
		VegaBps:          p.EntryGreeks.VegaBps,
		RhoBps:           p.EntryGreeks.RhoBps,
		Exercised:        p.Exercised,
		SettlementAmount: p.SettlementAmount,
		Status:           string(p.Status),
		OpenedAt:         p.OpenedAt,
		UpdatedAt:        p.UpdatedAt,
		ClosedAt:         p.ClosedAt,
	}
}

func toPosition(m *PositionModel) *domain.OptionPosition {
	if m == nil {
		return nil
	}
	return &domain.OptionPosition{
		ID:               m.ID,
		Owner:            m.Owner,
		MarketID:         m.MarketID,
		Side:             domain.PositionSide(m.Side),
		Quantity:         m.Quantity,
		EntryPrice:       m.EntryPrice,
		CollateralLocked: m.CollateralLocked,
		EntryGreeks: domain.Greeks{
			DeltaBps: m.DeltaBps,
			GammaBps: m.GammaBps,
			ThetaBps: m.ThetaBps,
			VegaBps:  m.VegaBps,
			RhoBps:   m.RhoBps,
		},
		Exercised:        m.Exercised,
		SettlementAmount: m.SettlementAmount,
		Status:           domain.PositionStatus(m.Status),
		OpenedAt:         m.OpenedAt,
		UpdatedAt:        m.UpdatedAt,
		ClosedAt:         m.ClosedAt,
	}
}

func toCheckpointModel(cp *domain.SettlementCheckpoint) *CheckpointModel {
	if cp == nil {
		return nil
	}
	return &CheckpointModel{
		MarketID:         cp.MarketID,
		LastPositionID:   cp.LastPositionID,
		LastShortID:      cp.LastShortID,
		Exercised:        cp.Exercised,
		ExpiredWorthless: cp.ExpiredWorthless,
		Skipped:          cp.Skipped,
		Done:             cp.Done,
		UpdatedAt:        cp.UpdatedAt,
	}
}

func toCheckpoint(m *CheckpointModel) *domain.SettlementCheckpoint {
	if m == nil {
		return nil
	}
	return &domain.SettlementCheckpoint{
		MarketID:         m.MarketID,
		LastPositionID:   m.LastPositionID,
		LastShortID:      m.LastShortID,
		Exercised:        m.Exercised,
		ExpiredWorthless: m.ExpiredWorthless,
		Skipped:          m.Skipped,
		Done:             m.Done,
		UpdatedAt:        m.UpdatedAt,
	}
}
