// Package application 组合领域模型与外部端口，实现交易、行权与结算用例。
// 同一市场上的变更操作经分段互斥锁串行化；纯定价计算无锁并发。
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unxversal/optionsengine/internal/options/domain"
	"github.com/unxversal/optionsengine/pkg/idgen"
	"github.com/unxversal/optionsengine/pkg/metrics"
)

// EngineOptions 引擎业务参数。
type EngineOptions struct {
	RiskFreeRateBps     int64
	CollateralRatioBps  int64
	OracleMaxStaleness  time.Duration
	SettlementChunkSize int
	SettlementLease     time.Duration
}

// MarketLocks 市场级互斥锁表：同一市场串行，跨市场并行。
// 交易服务与结算服务共享同一实例，保证聚合统计与结算互不交叠。
type MarketLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewMarketLocks 创建锁表。
func NewMarketLocks() *MarketLocks {
	return &MarketLocks{locks: make(map[int64]*sync.Mutex)}
}

func (m *MarketLocks) lockFor(marketID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[marketID] = l
	}
	return l
}

// OptionsService 交易与管理用例。
type OptionsService struct {
	engine    *domain.EngineContext
	assets    domain.AssetRepository
	markets   domain.MarketRepository
	positions domain.PositionRepository
	oracle    domain.PriceOracle
	custody   domain.Custodian
	events    domain.EventPublisher
	ids       *idgen.Generator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      EngineOptions

	locks *MarketLocks
}

// NewOptionsService 创建交易服务。
func NewOptionsService(
	engine *domain.EngineContext,
	assets domain.AssetRepository,
	markets domain.MarketRepository,
	positions domain.PositionRepository,
	oracle domain.PriceOracle,
	custody domain.Custodian,
	events domain.EventPublisher,
	ids *idgen.Generator,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts EngineOptions,
	locks *MarketLocks,
) *OptionsService {
	return &OptionsService{
		engine:    engine,
		assets:    assets,
		markets:   markets,
		positions: positions,
		oracle:    oracle,
		custody:   custody,
		events:    events,
		ids:       ids,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		locks:     locks,
	}
}

// RegisterUnderlying 管理接口：注册标的。
func (s *OptionsService) RegisterUnderlying(ctx context.Context, asset *domain.UnderlyingAsset) error {
	if err := s.engine.Catalog.Register(asset); err != nil {
		return err
	}
	if err := s.assets.Save(ctx, asset); err != nil {
		return fmt.Errorf("failed to persist underlying: %w", err)
	}
	s.logger.InfoContext(ctx, "underlying registered", "symbol", asset.Symbol, "feed", asset.OracleFeedID)
	return nil
}

// UpdateUnderlying 管理接口：更新标的约束。
func (s *OptionsService) UpdateUnderlying(ctx context.Context, asset *domain.UnderlyingAsset) error {
	if err := s.engine.Catalog.Update(asset); err != nil {
		return err
	}
	if err := s.assets.Save(ctx, asset); err != nil {
		return fmt.Errorf("failed to persist underlying: %w", err)
	}
	s.logger.InfoContext(ctx, "underlying updated", "symbol", asset.Symbol)
	return nil
}

// SetPaused 管理接口：全局暂停/恢复。
func (s *OptionsService) SetPaused(ctx context.Context, paused bool) {
	s.engine.SetPaused(paused)
	s.logger.InfoContext(ctx, "pause flag changed", "paused", paused)
}

// SetDiscountTiers 管理接口：整表替换折扣阶梯。
func (s *OptionsService) SetDiscountTiers(ctx context.Context, tiers []domain.DiscountTier) {
	s.engine.Discounts.Replace(tiers)
	s.logger.InfoContext(ctx, "discount tiers replaced", "count", len(tiers))
}

// ListUnderlyings 读取全部标的。
func (s *OptionsService) ListUnderlyings(ctx context.Context) []*domain.UnderlyingAsset {
	return s.engine.Catalog.List()
}

// CreateMarketCmd 市场创建命令。
type CreateMarketCmd struct {
	Underlying string
	Kind       domain.OptionKind
	Strike     int64
	Expiry     time.Time
}

// CreateMarket 创建期权市场：目录校验通过且未重复时落库并发布事件。
func (s *OptionsService) CreateMarket(ctx context.Context, cmd CreateMarketCmd) (*domain.OptionMarket, error) {
	if err := s.engine.EnsureTradable(); err != nil {
		return nil, err
	}
	if !cmd.Kind.Valid() {
		return nil, domain.ErrInvalidOptionKind
	}

	asset, err := s.engine.Catalog.Lookup(cmd.Underlying)
	if err != nil {
		return nil, err
	}
	if !asset.Active {
		return nil, domain.ErrAssetInactive
	}
	if err := s.engine.Catalog.ValidateStrike(cmd.Underlying, cmd.Strike); err != nil {
		return nil, err
	}
	if err := s.engine.Catalog.ValidateExpiry(cmd.Underlying, cmd.Expiry, time.Now()); err != nil {
		return nil, err
	}

	key := domain.MarketKey{
		Underlying: cmd.Underlying,
		Kind:       cmd.Kind,
		Strike:     cmd.Strike,
		ExpiryUnix: cmd.Expiry.Unix(),
	}
	if existing, err := s.markets.GetByKey(ctx, key); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, domain.ErrMarketExists
	}

	market, err := domain.NewOptionMarket(s.ids.NextID(), key, s.defaultMargin())
	if err != nil {
		return nil, err
	}
	if err := s.markets.Save(ctx, market); err != nil {
		return nil, fmt.Errorf("failed to save market: %w", err)
	}

	s.metrics.MarketsCreatedTotal.Inc()
	s.publishMarketCreated(ctx, market)
	s.logger.InfoContext(ctx, "market created", "market_id", market.ID, "key", key.String())
	return market, nil
}

// GetMarket 读取市场与聚合统计。
func (s *OptionsService) GetMarket(ctx context.Context, id int64) (*domain.OptionMarket, error) {
	market, err := s.markets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, domain.ErrMarketNotFound
	}
	return market, nil
}

// ListPositions 读取某账户的全部持仓。
func (s *OptionsService) ListPositions(ctx context.Context, owner string) ([]*domain.OptionPosition, error) {
	return s.positions.ListByOwner(ctx, owner)
}

// OpenLongCmd 买方开仓命令。
type OpenLongCmd struct {
	Owner      string
	MarketID   int64
	Quantity   int64
	MaxPremium int64
	// StakeAmount 账户质押量，用于折扣查表；质押台账在引擎之外。
	StakeAmount int64
}

// OpenLong 买方开仓：计算权利金，超出买方上限则整单失败。
func (s *OptionsService) OpenLong(ctx context.Context, cmd OpenLongCmd) (*domain.OptionPosition, error) {
	if err := s.engine.EnsureTradable(); err != nil {
		return nil, err
	}
	if cmd.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	lock := s.locks.lockFor(cmd.MarketID)
	lock.Lock()
	defer lock.Unlock()

	market, asset, params, err := s.loadQuote(ctx, cmd.MarketID)
	if err != nil {
		return nil, err
	}

	unitPremium, err := domain.Price(market.Key.Kind, params)
	if err != nil {
		return nil, err
	}
	totalPremium, err := domain.CheckedMul(unitPremium, cmd.Quantity)
	if err != nil {
		return nil, err
	}
	if totalPremium > cmd.MaxPremium {
		return nil, domain.ErrPremiumExceedsLimit
	}

	fee, err := domain.FinalFee(totalPremium, s.engine.Fees.TradeFeeBps, s.engine.Discounts.DiscountBps(cmd.StakeAmount))
	if err != nil {
		return nil, err
	}

	greeks := domain.ComputeGreeks(market.Key.Kind, params)
	position, err := domain.NewLongPosition(s.ids.NextID(), cmd.Owner, market.ID, cmd.Quantity, unitPremium, greeks)
	if err != nil {
		return nil, err
	}

	if err := market.RecordTrade(cmd.Quantity, unitPremium); err != nil {
		return nil, err
	}
	if err := s.positions.Save(ctx, position); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}
	if err := s.markets.Save(ctx, market); err != nil {
		return nil, fmt.Errorf("failed to save market: %w", err)
	}

	s.metrics.TradesTotal.WithLabelValues(string(domain.SideLong)).Inc()
	s.metrics.PositionsActive.Inc()
	s.metrics.PremiumCharged.Observe(float64(totalPremium))
	s.publishTrade(ctx, market, position, totalPremium, fee)
	s.logger.InfoContext(ctx, "long opened",
		"market_id", market.ID, "position_id", position.ID, "owner", cmd.Owner,
		"qty", cmd.Quantity, "premium", totalPremium, "fee", fee, "underlying", asset.Symbol)
	return position, nil
}

// OpenShortCmd 卖方开仓命令。
type OpenShortCmd struct {
	Owner             string
	MarketID          int64
	Quantity          int64
	MinPremium        int64
	CollateralOffered int64
	StakeAmount       int64
}

// OpenShort 卖方开仓：权利金低于下限或抵押不足时原子失败，不产生任何持仓。
func (s *OptionsService) OpenShort(ctx context.Context, cmd OpenShortCmd) (*domain.OptionPosition, error) {
	if err := s.engine.EnsureTradable(); err != nil {
		return nil, err
	}
	if cmd.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	lock := s.locks.lockFor(cmd.MarketID)
	lock.Lock()
	defer lock.Unlock()

	market, asset, params, err := s.loadQuote(ctx, cmd.MarketID)
	if err != nil {
		return nil, err
	}

	unitPremium, err := domain.Price(market.Key.Kind, params)
	if err != nil {
		return nil, err
	}
	totalPremium, err := domain.CheckedMul(unitPremium, cmd.Quantity)
	if err != nil {
		return nil, err
	}
	if totalPremium < cmd.MinPremium {
		return nil, domain.ErrPremiumBelowLimit
	}

	required, err := domain.RequiredCollateral(market.Key.Kind, market.Key.Strike, params.Spot, cmd.Quantity, market.Margin.ShortInitialBps)
	if err != nil {
		return nil, err
	}
	if cmd.CollateralOffered < required {
		return nil, domain.ErrInsufficientCollateral
	}

	if err := s.custody.Lock(ctx, cmd.Owner, cmd.CollateralOffered); err != nil {
		return nil, fmt.Errorf("failed to lock collateral: %w", err)
	}
	// 锁定之后任何一步失败都必须回滚抵押，整单不留状态
	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := s.custody.Release(ctx, cmd.Owner, cmd.CollateralOffered); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to release collateral after aborted open", "owner", cmd.Owner, "error", rerr)
		}
	}()

	fee, err := domain.FinalFee(totalPremium, s.engine.Fees.TradeFeeBps, s.engine.Discounts.DiscountBps(cmd.StakeAmount))
	if err != nil {
		return nil, err
	}

	greeks := domain.ComputeGreeks(market.Key.Kind, params)
	position, err := domain.NewShortPosition(s.ids.NextID(), cmd.Owner, market.ID, cmd.Quantity, unitPremium, cmd.CollateralOffered, greeks)
	if err != nil {
		return nil, err
	}

	if err := market.RecordTrade(cmd.Quantity, unitPremium); err != nil {
		return nil, err
	}
	if err := s.positions.Save(ctx, position); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}
	if err := s.markets.Save(ctx, market); err != nil {
		return nil, fmt.Errorf("failed to save market: %w", err)
	}
	committed = true

	s.metrics.TradesTotal.WithLabelValues(string(domain.SideShort)).Inc()
	s.metrics.PositionsActive.Inc()
	s.metrics.PremiumCharged.Observe(float64(totalPremium))
	s.publishTrade(ctx, market, position, totalPremium, fee)
	s.logger.InfoContext(ctx, "short opened",
		"market_id", market.ID, "position_id", position.ID, "owner", cmd.Owner,
		"qty", cmd.Quantity, "premium", totalPremium, "collateral", cmd.CollateralOffered,
		"required", required, "underlying", asset.Symbol)
	return position, nil
}

// loadQuote 加载市场、标的与实时定价输入。要求市场 Active 且预言机报价新鲜。
func (s *OptionsService) loadQuote(ctx context.Context, marketID int64) (*domain.OptionMarket, *domain.UnderlyingAsset, domain.PricingParams, error) {
	var zero domain.PricingParams

	market, err := s.markets.Get(ctx, marketID)
	if err != nil {
		return nil, nil, zero, err
	}
	if market == nil {
		return nil, nil, zero, domain.ErrMarketNotFound
	}
	if err := market.EnsureActive(); err != nil {
		return nil, nil, zero, err
	}

	asset, err := s.engine.Catalog.Lookup(market.Key.Underlying)
	if err != nil {
		return nil, nil, zero, err
	}
	if !asset.Active {
		return nil, nil, zero, domain.ErrAssetInactive
	}

	quote, err := s.oracle.GetPrice(ctx, asset.OracleFeedID, s.opts.OracleMaxStaleness)
	if err != nil {
		s.metrics.OracleErrorsTotal.Inc()
		return nil, nil, zero, err
	}

	tte := market.Key.ExpiryUnix - time.Now().Unix()
	if tte < 0 {
		tte = 0
	}
	params := domain.PricingParams{
		Spot:            quote.Price,
		Strike:          market.Key.Strike,
		TimeToExpirySec: tte,
		RiskFreeRateBps: s.opts.RiskFreeRateBps,
		VolatilityBps:   domain.ImpliedVolLookup(asset.BaseVolBps, market.Key.Strike, quote.Price),
	}
	return market, asset, params, nil
}

// defaultMargin 市场创建时的保证金档：卖方初始档取引擎抵押率，
// 维持档为初始档的 80%；买方无保证金。
func (s *OptionsService) defaultMargin() domain.MarginSchedule {
	initial := s.opts.CollateralRatioBps
	return domain.MarginSchedule{
		ShortInitialBps:     initial,
		ShortMaintenanceBps: initial * 8 / 10,
	}
}

func (s *OptionsService) publishMarketCreated(ctx context.Context, market *domain.OptionMarket) {
	event := domain.MarketCreatedEvent{
		EventID:    uuid.NewString(),
		MarketID:   market.ID,
		Underlying: market.Key.Underlying,
		Kind:       string(market.Key.Kind),
		Strike:     market.Key.Strike,
		ExpiryUnix: market.Key.ExpiryUnix,
		OccurredOn: time.Now(),
	}
	if err := s.events.PublishMarketCreated(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish MarketCreated", "market_id", market.ID, "error", err)
	}
}

func (s *OptionsService) publishTrade(ctx context.Context, market *domain.OptionMarket, position *domain.OptionPosition, premium, fee int64) {
	now := time.Now()
	opened := domain.PositionOpenedEvent{
		EventID:          uuid.NewString(),
		PositionID:       position.ID,
		MarketID:         market.ID,
		Owner:            position.Owner,
		Side:             string(position.Side),
		Quantity:         position.Quantity,
		EntryPrice:       position.EntryPrice,
		CollateralLocked: position.CollateralLocked,
		OccurredOn:       now,
	}
	if err := s.events.PublishPositionOpened(ctx, opened); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish PositionOpened", "position_id", position.ID, "error", err)
	}
	traded := domain.TradedEvent{
		EventID:    uuid.NewString(),
		MarketID:   market.ID,
		PositionID: position.ID,
		Owner:      position.Owner,
		Side:       string(position.Side),
		Quantity:   position.Quantity,
		Premium:    premium,
		Fee:        fee,
		OccurredOn: now,
	}
	if err := s.events.PublishTraded(ctx, traded); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish Traded", "position_id", position.ID, "error", err)
	}
}
