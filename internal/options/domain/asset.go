package domain

import (
	"sort"
	"sync"
	"time"
)

// SettlementKind 交割方式；本引擎仅实现现金交割，实物交割由外部托管方完成。
type SettlementKind string

const (
	SettleCash     SettlementKind = "CASH"
	SettlePhysical SettlementKind = "PHYSICAL"
)

// UnderlyingAsset 已注册的标的资产及其市场创建约束。
type UnderlyingAsset struct {
	Symbol          string         `json:"symbol"`
	AssetClass      string         `json:"asset_class"`
	MinStrike       int64          `json:"min_strike"`
	MaxStrike       int64          `json:"max_strike"`
	StrikeIncrement int64          `json:"strike_increment"`
	MinExpiry       time.Duration  `json:"min_expiry"`
	MaxExpiry       time.Duration  `json:"max_expiry"`
	Settlement      SettlementKind `json:"settlement"`
	OracleFeedID    string         `json:"oracle_feed_id"`
	BaseVolBps      int64          `json:"base_vol_bps"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Validate 校验注册参数。
func (a *UnderlyingAsset) Validate() error {
	if a.Symbol == "" || a.OracleFeedID == "" {
		return ErrInvalidBounds
	}
	if a.MinStrike <= 0 || a.MaxStrike < a.MinStrike || a.StrikeIncrement <= 0 {
		return ErrInvalidBounds
	}
	if a.MinExpiry <= 0 || a.MaxExpiry < a.MinExpiry {
		return ErrInvalidBounds
	}
	return nil
}

// AssetCatalog 标的目录。注册与更新仅由管理接口调用；
// 读路径（市场创建、定价）并发安全。
type AssetCatalog struct {
	mu     sync.RWMutex
	assets map[string]*UnderlyingAsset
}

// NewAssetCatalog 创建空目录。
func NewAssetCatalog() *AssetCatalog {
	return &AssetCatalog{assets: make(map[string]*UnderlyingAsset)}
}

// Register 注册新标的，重复注册返回 ErrAssetExists。
func (c *AssetCatalog) Register(asset *UnderlyingAsset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.assets[asset.Symbol]; ok {
		return ErrAssetExists
	}
	now := time.Now()
	asset.CreatedAt = now
	asset.UpdatedAt = now
	cp := *asset
	c.assets[asset.Symbol] = &cp
	return nil
}

// Update 更新已注册标的的约束参数。
func (c *AssetCatalog) Update(asset *UnderlyingAsset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.assets[asset.Symbol]
	if !ok {
		return ErrAssetNotFound
	}
	asset.CreatedAt = existing.CreatedAt
	asset.UpdatedAt = time.Now()
	cp := *asset
	c.assets[asset.Symbol] = &cp
	return nil
}

// Lookup 按符号查找标的。
func (c *AssetCatalog) Lookup(symbol string) (*UnderlyingAsset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	asset, ok := c.assets[symbol]
	if !ok {
		return nil, ErrAssetNotFound
	}
	cp := *asset
	return &cp, nil
}

// List 返回全部标的，按符号排序，迭代顺序确定。
func (c *AssetCatalog) List() []*UnderlyingAsset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*UnderlyingAsset, 0, len(c.assets))
	for _, a := range c.assets {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ValidateStrike 行权价必须落在 [MinStrike, MaxStrike] 且对齐增量。
func (c *AssetCatalog) ValidateStrike(symbol string, strike int64) error {
	asset, err := c.Lookup(symbol)
	if err != nil {
		return err
	}
	if strike < asset.MinStrike || strike > asset.MaxStrike {
		return ErrInvalidStrike
	}
	if (strike-asset.MinStrike)%asset.StrikeIncrement != 0 {
		return ErrInvalidStrike
	}
	return nil
}

// ValidateExpiry 到期时刻距 now 必须落在 [MinExpiry, MaxExpiry]。
func (c *AssetCatalog) ValidateExpiry(symbol string, expiry, now time.Time) error {
	asset, err := c.Lookup(symbol)
	if err != nil {
		return err
	}
	d := expiry.Sub(now)
	if d < asset.MinExpiry || d > asset.MaxExpiry {
		return ErrInvalidExpiry
	}
	return nil
}
