package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unxversal/optionsengine/internal/options/application"
	"github.com/unxversal/optionsengine/internal/options/domain"
	"github.com/unxversal/optionsengine/internal/options/infrastructure/messaging"
	"github.com/unxversal/optionsengine/pkg/metrics"
)

// seedExpiredPutMarket 构造已到期的 PUT 市场：两笔多头、一笔空头。
func seedExpiredPutMarket(t *testing.T, f *fixture) (*domain.OptionMarket, []*domain.OptionPosition) {
	t.Helper()
	ctx := context.Background()

	market, err := domain.NewOptionMarket(100, domain.MarketKey{
		Underlying: "BTC",
		Kind:       domain.KindPut,
		Strike:     50_000,
		ExpiryUnix: time.Now().Add(-time.Hour).Unix(),
	}, domain.MarginSchedule{ShortInitialBps: 15_000, ShortMaintenanceBps: 12_000})
	require.NoError(t, err)
	require.NoError(t, market.RecordTrade(15, 2_500))
	require.NoError(t, f.markets.Save(ctx, market))

	long1, err := domain.NewLongPosition(101, "alice", market.ID, 10, 2_500, domain.Greeks{})
	require.NoError(t, err)
	long2, err := domain.NewLongPosition(102, "bob", market.ID, 5, 2_500, domain.Greeks{})
	require.NoError(t, err)
	short1, err := domain.NewShortPosition(103, "carol", market.ID, 15, 2_500, 1_125_000, domain.Greeks{})
	require.NoError(t, err)
	for _, p := range []*domain.OptionPosition{long1, long2, short1} {
		require.NoError(t, f.positions.Save(ctx, p))
	}
	return market, []*domain.OptionPosition{long1, long2, short1}
}

func TestAutoExercisePutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market, _ := seedExpiredPutMarket(t, f)

	// 结算价 48000 < 行权价 50000：每单位内在价值 2000
	f.oracle.price = 48_000

	report, err := f.settle.AutoExercise(ctx, market.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(48_000), report.SettlementPrice)
	assert.Equal(t, int64(2), report.Exercised)
	assert.Equal(t, int64(0), report.ExpiredWorthless)
	assert.Equal(t, int64(1), report.CollateralReleased)
	assert.Equal(t, int64(0), report.Skipped)
	assert.False(t, report.AlreadySettled)

	// (strike - settlementPrice)·qty 扣除行权费（10 bps）
	assert.Equal(t, int64(20_000-20), f.custodian.Payouts["alice"])
	assert.Equal(t, int64(10_000-10), f.custodian.Payouts["bob"])
	assert.Equal(t, int64(1_125_000), f.custodian.Releases["carol"])

	settled, err := f.markets.Get(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateSettled, settled.State)
	require.NotNil(t, settled.SettlementPrice)
	assert.Equal(t, int64(48_000), *settled.SettlementPrice)
	assert.Zero(t, settled.OpenInterest)

	alice, err := f.positions.Get(ctx, 101)
	require.NoError(t, err)
	assert.True(t, alice.Exercised)
	assert.Equal(t, int64(19_980), *alice.SettlementAmount)

	carol, err := f.positions.Get(ctx, 103)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, carol.Status)
}

func TestAutoExerciseIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market, _ := seedExpiredPutMarket(t, f)
	f.oracle.price = 48_000

	first, err := f.settle.AutoExercise(ctx, market.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), first.Exercised)

	alicePaid := f.custodian.Payouts["alice"]
	carolReleased := f.custodian.Releases["carol"]

	// 预言机价格变化也不影响已冻结的结算
	f.oracle.price = 60_000

	second, err := f.settle.AutoExercise(ctx, market.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadySettled)
	assert.Zero(t, second.Exercised)
	assert.Zero(t, second.ExpiredWorthless)
	assert.Zero(t, second.CollateralReleased)
	assert.Equal(t, int64(48_000), second.SettlementPrice)

	// 无重复支付
	assert.Equal(t, alicePaid, f.custodian.Payouts["alice"])
	assert.Equal(t, carolReleased, f.custodian.Releases["carol"])
}

func TestAutoExerciseOutOfTheMoney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market, _ := seedExpiredPutMarket(t, f)

	// 结算价高于行权价：PUT 全部价外作废
	f.oracle.price = 55_000

	report, err := f.settle.AutoExercise(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Exercised)
	assert.Equal(t, int64(2), report.ExpiredWorthless)
	assert.Equal(t, int64(1), report.CollateralReleased)
	assert.Empty(t, f.custodian.Payouts)
	assert.Equal(t, int64(1_125_000), f.custodian.Releases["carol"])

	alice, err := f.positions.Get(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusExpired, alice.Status)
	assert.False(t, alice.Exercised)
}

func TestAutoExerciseSkipsFailingPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market, _ := seedExpiredPutMarket(t, f)
	f.oracle.price = 48_000

	// bob 的付款通道损坏：跳过并上报，其余照常结算
	f.custodian.FailPayoutFor = "bob"

	report, err := f.settle.AutoExercise(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Exercised)
	assert.Equal(t, int64(1), report.Skipped)
	assert.Equal(t, int64(19_980), f.custodian.Payouts["alice"])
	assert.Zero(t, f.custodian.Payouts["bob"])

	settled, err := f.markets.Get(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateSettled, settled.State, "market settles despite skipped position")

	cp, err := f.checkpoints.Get(ctx, market.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(1), cp.Skipped)
	assert.True(t, cp.Done)
}

func TestAutoExerciseNotExpired(t *testing.T) {
	f := newFixture(t)
	market := f.createMarket(t, domain.KindCall, 50_000)

	_, err := f.settle.AutoExercise(context.Background(), market.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotExpired)
}

func TestAutoExerciseLease(t *testing.T) {
	f := newFixture(t)
	market, _ := seedExpiredPutMarket(t, f)
	f.oracle.price = 48_000

	// 租约被他人持有
	held, err := f.lease.SetNX(context.Background(), "options:settlement:lease:100", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = f.settle.AutoExercise(context.Background(), market.ID)
	assert.ErrorIs(t, err, domain.ErrSettlementInProgress)

	// 释放后可正常结算
	require.NoError(t, f.lease.Delete(context.Background(), "options:settlement:lease:100"))
	report, err := f.settle.AutoExercise(context.Background(), market.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Exercised)
}

func TestAutoExerciseResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market, positions := seedExpiredPutMarket(t, f)
	f.oracle.price = 48_000

	// 模拟上一批次崩溃前的进度：alice 已行权落库，断点指向她
	alice := positions[0]
	require.NoError(t, market.MarkExpired(48_000, time.Now()))
	require.NoError(t, f.markets.Save(ctx, market))
	require.NoError(t, alice.Reduce(alice.Quantity, 19_980))
	require.NoError(t, f.positions.Save(ctx, alice))
	require.NoError(t, f.checkpoints.Save(ctx, &domain.SettlementCheckpoint{
		MarketID:       market.ID,
		LastPositionID: alice.ID,
		Exercised:      1,
	}))

	report, err := f.settle.AutoExercise(ctx, market.ID)
	require.NoError(t, err)

	// 本批次只处理 bob 与空头，alice 不再支付
	assert.Equal(t, int64(1), report.Exercised)
	assert.Zero(t, f.custodian.Payouts["alice"])
	assert.Equal(t, int64(9_990), f.custodian.Payouts["bob"])

	settled, err := f.markets.Get(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateSettled, settled.State)

	cp, err := f.checkpoints.Get(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.Exercised, "checkpoint carries cumulative totals")
}

func TestManualExercise(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market := f.createMarket(t, domain.KindCall, 50_000)

	position, err := f.svc.OpenLong(ctx, application.OpenLongCmd{
		Owner: "alice", MarketID: market.ID, Quantity: 10, MaxPremium: 1_000_000,
	})
	require.NoError(t, err)

	// 非持仓人
	_, err = f.settle.Exercise(ctx, application.ExerciseCmd{
		Owner: "mallory", PositionID: position.ID, Quantity: 1,
	})
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	// 价外
	f.oracle.price = 48_000
	_, err = f.settle.Exercise(ctx, application.ExerciseCmd{
		Owner: "alice", PositionID: position.ID, Quantity: 1,
	})
	assert.ErrorIs(t, err, domain.ErrNotInTheMoney)

	// 价内部分行权：内在价值 2000/单位，行权费 10 bps
	f.oracle.price = 52_000
	net, err := f.settle.Exercise(ctx, application.ExerciseCmd{
		Owner: "alice", PositionID: position.ID, Quantity: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8_000-8), net)
	assert.Equal(t, net, f.custodian.Payouts["alice"])

	updated, err := f.positions.Get(ctx, position.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), updated.Quantity)
	assert.False(t, updated.Exercised)

	savedMarket, err := f.markets.Get(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), savedMarket.OpenInterest)

	// 超量行权
	_, err = f.settle.Exercise(ctx, application.ExerciseCmd{
		Owner: "alice", PositionID: position.ID, Quantity: 7,
	})
	assert.ErrorIs(t, err, domain.ErrQuantityExceedsHeld)

	// 剩余全部行权后不可再行权
	_, err = f.settle.Exercise(ctx, application.ExerciseCmd{
		Owner: "alice", PositionID: position.ID, Quantity: 6,
	})
	require.NoError(t, err)
	_, err = f.settle.Exercise(ctx, application.ExerciseCmd{
		Owner: "alice", PositionID: position.ID, Quantity: 1,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExercised)
}

func TestManualExercisePaysOnlyAfterPersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market := f.createMarket(t, domain.KindCall, 50_000)

	position, err := f.svc.OpenLong(ctx, application.OpenLongCmd{
		Owner: "alice", MarketID: market.ID, Quantity: 10, MaxPremium: 1_000_000,
	})
	require.NoError(t, err)

	settle := application.NewSettlementService(
		f.engine, f.markets, &failingPositionRepo{PositionRepository: f.positions}, f.checkpoints,
		f.oracle, f.custodian, messaging.NopEventPublisher{}, f.lease, metrics.New("test"), f.log, f.opts, f.locks,
	)

	f.oracle.price = 52_000
	_, err = settle.Exercise(ctx, application.ExerciseCmd{
		Owner: "alice", PositionID: position.ID, Quantity: 4,
	})
	require.ErrorIs(t, err, errStorageDown)

	// 落库失败就不付款，重试不会重复支付
	assert.Empty(t, f.custodian.Payouts)
}

func TestManualExerciseShortRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	market := f.createMarket(t, domain.KindCall, 50_000)

	position, err := f.svc.OpenShort(ctx, application.OpenShortCmd{
		Owner: "bob", MarketID: market.ID, Quantity: 10, CollateralOffered: 780_000,
	})
	require.NoError(t, err)

	_, err = f.settle.Exercise(ctx, application.ExerciseCmd{
		Owner: "bob", PositionID: position.ID, Quantity: 1,
	})
	assert.ErrorIs(t, err, domain.ErrNotLongPosition)
}
