package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMarket(t *testing.T, expiry time.Time) *OptionMarket {
	t.Helper()
	market, err := NewOptionMarket(1, MarketKey{
		Underlying: "BTC",
		Kind:       KindCall,
		Strike:     50_000,
		ExpiryUnix: expiry.Unix(),
	}, MarginSchedule{ShortInitialBps: 15_000, ShortMaintenanceBps: 12_000})
	require.NoError(t, err)
	return market
}

func TestNewOptionMarketValidation(t *testing.T) {
	_, err := NewOptionMarket(1, MarketKey{Underlying: "BTC", Kind: "WEIRD", Strike: 100, ExpiryUnix: 1}, MarginSchedule{})
	assert.ErrorIs(t, err, ErrInvalidOptionKind)

	_, err = NewOptionMarket(1, MarketKey{Underlying: "BTC", Kind: KindPut, Strike: 0, ExpiryUnix: 1}, MarginSchedule{})
	assert.ErrorIs(t, err, ErrInvalidStrike)
}

func TestRecordTradeAggregates(t *testing.T) {
	market := testMarket(t, time.Now().Add(time.Hour))

	require.NoError(t, market.RecordTrade(10, 2_000))
	require.NoError(t, market.RecordTrade(5, 2_100))

	assert.Equal(t, int64(15), market.OpenInterest)
	assert.Equal(t, int64(10*2_000+5*2_100), market.Volume)
	assert.Equal(t, int64(2_100), market.LastTradedPrice)

	market.ReduceOpenInterest(6)
	assert.Equal(t, int64(9), market.OpenInterest)
	market.ReduceOpenInterest(100)
	assert.Equal(t, int64(0), market.OpenInterest)
}

func TestMarketLifecycle(t *testing.T) {
	expiry := time.Now().Add(-time.Minute)
	market := testMarket(t, expiry)

	require.NoError(t, market.EnsureActive())

	// 未到期不能冻结结算价
	early := testMarket(t, time.Now().Add(time.Hour))
	assert.ErrorIs(t, early.MarkExpired(51_000, time.Now()), ErrMarketNotExpired)

	// 结算前不能置为 Settled
	assert.ErrorIs(t, market.MarkSettled(time.Now()), ErrMarketNotExpired)

	require.NoError(t, market.MarkExpired(51_000, time.Now()))
	assert.Equal(t, MarketStateExpired, market.State)
	require.NotNil(t, market.SettlementPrice)
	assert.Equal(t, int64(51_000), *market.SettlementPrice)
	assert.ErrorIs(t, market.EnsureActive(), ErrMarketNotActive)

	// 冻结幂等：第二次调用不改写结算价
	require.NoError(t, market.MarkExpired(99_999, time.Now()))
	assert.Equal(t, int64(51_000), *market.SettlementPrice)

	require.NoError(t, market.MarkSettled(time.Now()))
	assert.Equal(t, MarketStateSettled, market.State)
	require.NotNil(t, market.SettledAt)

	// 终态幂等
	require.NoError(t, market.MarkSettled(time.Now()))
	require.NoError(t, market.MarkExpired(12_345, time.Now()))
	assert.Equal(t, int64(51_000), *market.SettlementPrice)
}

func TestPositionReduce(t *testing.T) {
	position, err := NewLongPosition(1, "alice", 7, 10, 2_500, Greeks{DeltaBps: 6_000})
	require.NoError(t, err)
	assert.True(t, position.IsOpen())
	assert.Zero(t, position.CollateralLocked)

	require.NoError(t, position.Reduce(4, 8_000))
	assert.Equal(t, int64(6), position.Quantity)
	assert.False(t, position.Exercised)
	require.NotNil(t, position.SettlementAmount)
	assert.Equal(t, int64(8_000), *position.SettlementAmount)

	assert.ErrorIs(t, position.Reduce(7, 0), ErrQuantityExceedsHeld)
	assert.ErrorIs(t, position.Reduce(0, 0), ErrInvalidQuantity)

	require.NoError(t, position.Reduce(6, 12_000))
	assert.Equal(t, int64(0), position.Quantity)
	assert.True(t, position.Exercised)
	assert.Equal(t, PositionStatusExercised, position.Status)
	assert.Equal(t, int64(20_000), *position.SettlementAmount)
	require.NotNil(t, position.ClosedAt)

	assert.ErrorIs(t, position.Reduce(1, 0), ErrAlreadyExercised)
}

func TestShortPositionNegatesGreeks(t *testing.T) {
	position, err := NewShortPosition(2, "bob", 7, 5, 2_500, 780_000, Greeks{DeltaBps: 6_000, ThetaBps: -100})
	require.NoError(t, err)
	assert.Equal(t, int64(-6_000), position.EntryGreeks.DeltaBps)
	assert.Equal(t, int64(100), position.EntryGreeks.ThetaBps)
	assert.Equal(t, int64(780_000), position.CollateralLocked)

	position.CloseAtSettlement(time.Now())
	assert.Equal(t, PositionStatusClosed, position.Status)
	assert.False(t, position.IsOpen())
}

func TestMarkExpiredWorthless(t *testing.T) {
	position, err := NewLongPosition(3, "carol", 7, 5, 2_500, Greeks{})
	require.NoError(t, err)
	position.MarkExpiredWorthless(time.Now())
	assert.Equal(t, PositionStatusExpired, position.Status)
	assert.False(t, position.Exercised)
	assert.Nil(t, position.SettlementAmount)

	// 作废后再作废无副作用
	closedAt := *position.ClosedAt
	position.MarkExpiredWorthless(time.Now().Add(time.Hour))
	assert.Equal(t, closedAt, *position.ClosedAt)
}

func TestAssetCatalog(t *testing.T) {
	catalog := NewAssetCatalog()
	asset := &UnderlyingAsset{
		Symbol: "BTC", AssetClass: "crypto",
		MinStrike: 10_000, MaxStrike: 100_000, StrikeIncrement: 500,
		MinExpiry: time.Hour, MaxExpiry: 90 * 24 * time.Hour,
		Settlement: SettleCash, OracleFeedID: "btc-usd", BaseVolBps: 2_000, Active: true,
	}
	require.NoError(t, catalog.Register(asset))
	assert.ErrorIs(t, catalog.Register(asset), ErrAssetExists)

	got, err := catalog.Lookup("BTC")
	require.NoError(t, err)
	assert.Equal(t, "btc-usd", got.OracleFeedID)

	_, err = catalog.Lookup("DOGE")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	assert.NoError(t, catalog.ValidateStrike("BTC", 50_000))
	assert.ErrorIs(t, catalog.ValidateStrike("BTC", 50_300), ErrInvalidStrike)
	assert.ErrorIs(t, catalog.ValidateStrike("BTC", 5_000), ErrInvalidStrike)
	assert.ErrorIs(t, catalog.ValidateStrike("BTC", 200_000), ErrInvalidStrike)

	now := time.Now()
	assert.NoError(t, catalog.ValidateExpiry("BTC", now.Add(48*time.Hour), now))
	assert.ErrorIs(t, catalog.ValidateExpiry("BTC", now.Add(time.Minute), now), ErrInvalidExpiry)
	assert.ErrorIs(t, catalog.ValidateExpiry("BTC", now.Add(365*24*time.Hour), now), ErrInvalidExpiry)

	// 更新约束
	asset.MaxStrike = 200_000
	require.NoError(t, catalog.Update(asset))
	assert.NoError(t, catalog.ValidateStrike("BTC", 150_000))

	bad := &UnderlyingAsset{Symbol: "", OracleFeedID: "x"}
	assert.ErrorIs(t, catalog.Register(bad), ErrInvalidBounds)
}
