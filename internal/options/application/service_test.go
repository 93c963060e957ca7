package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unxversal/optionsengine/internal/options/application"
	"github.com/unxversal/optionsengine/internal/options/domain"
	"github.com/unxversal/optionsengine/internal/options/infrastructure/custody"
	"github.com/unxversal/optionsengine/internal/options/infrastructure/messaging"
	"github.com/unxversal/optionsengine/internal/options/infrastructure/persistence/memory"
	"github.com/unxversal/optionsengine/pkg/idgen"
	"github.com/unxversal/optionsengine/pkg/metrics"
)

// stubOracle 固定报价的预言机
type stubOracle struct {
	price int64
	err   error
}

func (o *stubOracle) GetPrice(_ context.Context, feedID string, _ time.Duration) (domain.PriceQuote, error) {
	if o.err != nil {
		return domain.PriceQuote{}, o.err
	}
	return domain.PriceQuote{FeedID: feedID, Price: o.price, PublishedAt: time.Now()}, nil
}

// stubLease 内存租约
type stubLease struct {
	held map[string]bool
}

func newStubLease() *stubLease { return &stubLease{held: make(map[string]bool)} }

func (l *stubLease) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) (bool, error) {
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *stubLease) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(l.held, k)
	}
	return nil
}

type fixture struct {
	engine      *domain.EngineContext
	assets      *memory.AssetRepository
	markets     *memory.MarketRepository
	positions   *memory.PositionRepository
	checkpoints *memory.CheckpointRepository
	custodian   *custody.MemoryCustodian
	oracle      *stubOracle
	lease       *stubLease
	opts        application.EngineOptions
	log         *slog.Logger
	locks       *application.MarketLocks
	svc         *application.OptionsService
	settle      *application.SettlementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	engine := domain.NewEngineContext(
		domain.NewAssetCatalog(),
		domain.FeeSchedule{TradeFeeBps: 30, ExerciseFeeBps: 10},
		domain.NewDiscountTable([]domain.DiscountTier{
			{StakeThreshold: 1_000, DiscountBps: 1_000},
			{StakeThreshold: 10_000, DiscountBps: 2_500},
		}),
	)
	require.NoError(t, engine.Catalog.Register(&domain.UnderlyingAsset{
		Symbol: "BTC", AssetClass: "crypto",
		MinStrike: 10_000, MaxStrike: 100_000, StrikeIncrement: 500,
		MinExpiry: time.Hour, MaxExpiry: 90 * 24 * time.Hour,
		Settlement: domain.SettleCash, OracleFeedID: "btc-usd",
		BaseVolBps: 2_000, Active: true,
	}))

	markets := memory.NewMarketRepository()
	positions := memory.NewPositionRepository()
	checkpoints := memory.NewCheckpointRepository()
	assets := memory.NewAssetRepository()
	custodian := custody.NewMemoryCustodian()
	oracle := &stubOracle{price: 52_000}
	lease := newStubLease()

	ids, err := idgen.New(1)
	require.NoError(t, err)

	opts := application.EngineOptions{
		RiskFreeRateBps:     500,
		CollateralRatioBps:  15_000,
		OracleMaxStaleness:  time.Minute,
		SettlementChunkSize: 2,
		SettlementLease:     time.Minute,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New("test")
	locks := application.NewMarketLocks()

	svc := application.NewOptionsService(
		engine, assets, markets, positions,
		oracle, custodian, messaging.NopEventPublisher{}, ids, m, log, opts, locks,
	)
	settle := application.NewSettlementService(
		engine, markets, positions, checkpoints,
		oracle, custodian, messaging.NopEventPublisher{}, lease, m, log, opts, locks,
	)

	return &fixture{
		engine:      engine,
		assets:      assets,
		markets:     markets,
		positions:   positions,
		checkpoints: checkpoints,
		custodian:   custodian,
		oracle:      oracle,
		lease:       lease,
		opts:        opts,
		log:         log,
		locks:       locks,
		svc:         svc,
		settle:      settle,
	}
}

// failingPositionRepo 包装内存仓储，Save 固定失败，用于验证失败路径回滚。
type failingPositionRepo struct {
	domain.PositionRepository
}

func (r *failingPositionRepo) Save(context.Context, *domain.OptionPosition) error {
	return errStorageDown
}

var errStorageDown = errors.New("position storage unavailable")

func (f *fixture) createMarket(t *testing.T, kind domain.OptionKind, strike int64) *domain.OptionMarket {
	t.Helper()
	market, err := f.svc.CreateMarket(context.Background(), application.CreateMarketCmd{
		Underlying: "BTC",
		Kind:       kind,
		Strike:     strike,
		Expiry:     time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	return market
}

func TestCreateMarketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	market := f.createMarket(t, domain.KindCall, 50_000)
	assert.Equal(t, domain.MarketStateActive, market.State)
	assert.Equal(t, int64(15_000), market.Margin.ShortInitialBps)

	// 重复市场
	_, err := f.svc.CreateMarket(ctx, application.CreateMarketCmd{
		Underlying: "BTC", Kind: domain.KindCall, Strike: 50_000,
		Expiry: market.Expiry(),
	})
	assert.ErrorIs(t, err, domain.ErrMarketExists)

	// 行权价越界与未对齐
	_, err = f.svc.CreateMarket(ctx, application.CreateMarketCmd{
		Underlying: "BTC", Kind: domain.KindCall, Strike: 5_000,
		Expiry: time.Now().Add(48 * time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidStrike)

	// 到期超窗
	_, err = f.svc.CreateMarket(ctx, application.CreateMarketCmd{
		Underlying: "BTC", Kind: domain.KindCall, Strike: 51_000,
		Expiry: time.Now().Add(365 * 24 * time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidExpiry)

	// 未注册标的
	_, err = f.svc.CreateMarket(ctx, application.CreateMarketCmd{
		Underlying: "DOGE", Kind: domain.KindCall, Strike: 50_000,
		Expiry: time.Now().Add(48 * time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}

func TestOpenLong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market := f.createMarket(t, domain.KindCall, 50_000)

	position, err := f.svc.OpenLong(ctx, application.OpenLongCmd{
		Owner: "alice", MarketID: market.ID, Quantity: 10, MaxPremium: 1_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SideLong, position.Side)
	assert.Equal(t, int64(10), position.Quantity)
	assert.Zero(t, position.CollateralLocked)
	assert.Greater(t, position.EntryPrice, int64(2_000), "premium must exceed intrinsic")
	assert.Positive(t, position.EntryGreeks.DeltaBps)

	saved, err := f.markets.Get(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), saved.OpenInterest)
	assert.Equal(t, position.EntryPrice, saved.LastTradedPrice)
}

func TestOpenLongPremiumLimit(t *testing.T) {
	f := newFixture(t)
	market := f.createMarket(t, domain.KindCall, 50_000)

	_, err := f.svc.OpenLong(context.Background(), application.OpenLongCmd{
		Owner: "alice", MarketID: market.ID, Quantity: 10, MaxPremium: 1,
	})
	assert.ErrorIs(t, err, domain.ErrPremiumExceedsLimit)

	// 整单失败，无任何状态残留
	saved, err := f.markets.Get(context.Background(), market.ID)
	require.NoError(t, err)
	assert.Zero(t, saved.OpenInterest)
	positions, err := f.positions.ListByOwner(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestOpenShortCollateral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market := f.createMarket(t, domain.KindCall, 50_000)

	// CALL 名义 = 52000*10 = 520000，150% = 780000
	_, err := f.svc.OpenShort(ctx, application.OpenShortCmd{
		Owner: "bob", MarketID: market.ID, Quantity: 10,
		CollateralOffered: 774_800, // 149%
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientCollateral)
	assert.Empty(t, f.custodian.Locks, "no collateral locked on failure")

	saved, err := f.markets.Get(ctx, market.ID)
	require.NoError(t, err)
	assert.Zero(t, saved.OpenInterest, "atomic failure leaves no aggregates")

	position, err := f.svc.OpenShort(ctx, application.OpenShortCmd{
		Owner: "bob", MarketID: market.ID, Quantity: 10,
		CollateralOffered: 780_000, // 150%
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SideShort, position.Side)
	assert.Equal(t, int64(780_000), position.CollateralLocked)
	assert.Negative(t, position.EntryGreeks.DeltaBps, "short greeks negated")
	assert.Equal(t, int64(780_000), f.custodian.Locks["bob"])
}

func TestOpenShortPremiumFloor(t *testing.T) {
	f := newFixture(t)
	market := f.createMarket(t, domain.KindCall, 50_000)

	_, err := f.svc.OpenShort(context.Background(), application.OpenShortCmd{
		Owner: "bob", MarketID: market.ID, Quantity: 10,
		MinPremium: 100_000_000, CollateralOffered: 780_000,
	})
	assert.ErrorIs(t, err, domain.ErrPremiumBelowLimit)
	assert.Empty(t, f.custodian.Locks)
}

func TestOpenShortReleasesCollateralOnSaveFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market := f.createMarket(t, domain.KindCall, 50_000)

	ids, err := idgen.New(2)
	require.NoError(t, err)
	svc := application.NewOptionsService(
		f.engine, f.assets, f.markets, &failingPositionRepo{PositionRepository: f.positions},
		f.oracle, f.custodian, messaging.NopEventPublisher{}, ids, metrics.New("test"), f.log, f.opts, f.locks,
	)

	_, err = svc.OpenShort(ctx, application.OpenShortCmd{
		Owner: "bob", MarketID: market.ID, Quantity: 10,
		CollateralOffered: 780_000,
	})
	require.ErrorIs(t, err, errStorageDown)

	// 锁定必须被等额释放，账上不留净锁定
	assert.Equal(t, int64(780_000), f.custodian.Locks["bob"])
	assert.Equal(t, int64(780_000), f.custodian.Releases["bob"])

	positions, err := f.positions.ListByOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, positions, "failed open must not persist a position")
}

func TestPausedRejectsMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market := f.createMarket(t, domain.KindCall, 50_000)

	f.svc.SetPaused(ctx, true)

	_, err := f.svc.OpenLong(ctx, application.OpenLongCmd{
		Owner: "alice", MarketID: market.ID, Quantity: 1, MaxPremium: 1_000_000,
	})
	assert.ErrorIs(t, err, domain.ErrSystemPaused)

	_, err = f.svc.CreateMarket(ctx, application.CreateMarketCmd{
		Underlying: "BTC", Kind: domain.KindPut, Strike: 50_000,
		Expiry: time.Now().Add(48 * time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrSystemPaused)

	_, err = f.settle.Exercise(ctx, application.ExerciseCmd{Owner: "alice", PositionID: 1, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrSystemPaused)

	_, err = f.settle.AutoExercise(ctx, market.ID)
	assert.ErrorIs(t, err, domain.ErrSystemPaused)

	f.svc.SetPaused(ctx, false)
	_, err = f.svc.OpenLong(ctx, application.OpenLongCmd{
		Owner: "alice", MarketID: market.ID, Quantity: 1, MaxPremium: 1_000_000,
	})
	assert.NoError(t, err)
}

func TestOpenLongOracleFailure(t *testing.T) {
	f := newFixture(t)
	market := f.createMarket(t, domain.KindCall, 50_000)

	f.oracle.err = domain.ErrStalePrice
	_, err := f.svc.OpenLong(context.Background(), application.OpenLongCmd{
		Owner: "alice", MarketID: market.ID, Quantity: 1, MaxPremium: 1_000_000,
	})
	assert.ErrorIs(t, err, domain.ErrStalePrice)
}

func TestTradeFeeDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market := f.createMarket(t, domain.KindCall, 50_000)

	// 质押未达阈值与达阈值都能成交；折扣只影响费用，不影响持仓
	p1, err := f.svc.OpenLong(ctx, application.OpenLongCmd{
		Owner: "alice", MarketID: market.ID, Quantity: 1, MaxPremium: 1_000_000, StakeAmount: 0,
	})
	require.NoError(t, err)
	p2, err := f.svc.OpenLong(ctx, application.OpenLongCmd{
		Owner: "bob", MarketID: market.ID, Quantity: 1, MaxPremium: 1_000_000, StakeAmount: 10_000,
	})
	require.NoError(t, err)
	assert.Equal(t, p1.EntryPrice, p2.EntryPrice)
}
