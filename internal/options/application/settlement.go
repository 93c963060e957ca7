package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/unxversal/optionsengine/internal/options/domain"
	"github.com/unxversal/optionsengine/pkg/metrics"
)

// LeaseStore 结算批次的分布式租约。*cache.RedisCache 满足该接口。
type LeaseStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// SettlementReport 单次结算批次的增量结果。重复执行已结算市场时全部为零。
type SettlementReport struct {
	MarketID           int64 `json:"market_id"`
	SettlementPrice    int64 `json:"settlement_price"`
	Exercised          int64 `json:"exercised"`
	ExpiredWorthless   int64 `json:"expired_worthless"`
	CollateralReleased int64 `json:"collateral_released"`
	Skipped            int64 `json:"skipped"`
	AlreadySettled     bool  `json:"already_settled"`
}

// SettlementService 行权与到期结算用例。
type SettlementService struct {
	engine      *domain.EngineContext
	markets     domain.MarketRepository
	positions   domain.PositionRepository
	checkpoints domain.SettlementCheckpointRepository
	oracle      domain.PriceOracle
	custody     domain.Custodian
	events      domain.EventPublisher
	leases      LeaseStore
	metrics     *metrics.Metrics
	logger      *slog.Logger
	opts        EngineOptions

	locks *MarketLocks
}

// NewSettlementService 创建结算服务。locks 必须与交易服务共享。
func NewSettlementService(
	engine *domain.EngineContext,
	markets domain.MarketRepository,
	positions domain.PositionRepository,
	checkpoints domain.SettlementCheckpointRepository,
	oracle domain.PriceOracle,
	custody domain.Custodian,
	events domain.EventPublisher,
	leases LeaseStore,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts EngineOptions,
	locks *MarketLocks,
) *SettlementService {
	return &SettlementService{
		engine:      engine,
		markets:     markets,
		positions:   positions,
		checkpoints: checkpoints,
		oracle:      oracle,
		custody:     custody,
		events:      events,
		leases:      leases,
		metrics:     m,
		logger:      logger,
		opts:        opts,
		locks:       locks,
	}
}

// ExerciseCmd 手动行权命令。
type ExerciseCmd struct {
	Owner       string
	PositionID  int64
	Quantity    int64
	StakeAmount int64
}

// Exercise 手动行权：持仓人按当前预言机价格对价内多头提前行权。
// 校验失败不产生任何状态变更；行权先落库再付款，重试不会重复扣减。
func (s *SettlementService) Exercise(ctx context.Context, cmd ExerciseCmd) (int64, error) {
	if err := s.engine.EnsureTradable(); err != nil {
		return 0, err
	}

	position, err := s.positions.Get(ctx, cmd.PositionID)
	if err != nil {
		return 0, err
	}
	if position == nil {
		return 0, domain.ErrPositionNotFound
	}
	if position.Owner != cmd.Owner {
		return 0, domain.ErrNotOwner
	}
	if position.Side != domain.SideLong {
		return 0, domain.ErrNotLongPosition
	}
	if position.Exercised {
		return 0, domain.ErrAlreadyExercised
	}

	lock := s.locks.lockFor(position.MarketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := s.markets.Get(ctx, position.MarketID)
	if err != nil {
		return 0, err
	}
	if market == nil {
		return 0, domain.ErrMarketNotFound
	}
	if err := market.EnsureActive(); err != nil {
		return 0, err
	}

	asset, err := s.engine.Catalog.Lookup(market.Key.Underlying)
	if err != nil {
		return 0, err
	}
	quote, err := s.oracle.GetPrice(ctx, asset.OracleFeedID, s.opts.OracleMaxStaleness)
	if err != nil {
		s.metrics.OracleErrorsTotal.Inc()
		return 0, err
	}

	intrinsic := domain.IntrinsicValue(market.Key.Kind, market.Key.Strike, quote.Price)
	if intrinsic <= 0 {
		return 0, domain.ErrNotInTheMoney
	}

	gross, err := domain.CheckedMul(intrinsic, cmd.Quantity)
	if err != nil {
		return 0, err
	}
	fee, err := domain.FinalFee(gross, s.engine.Fees.ExerciseFeeBps, s.engine.Discounts.DiscountBps(cmd.StakeAmount))
	if err != nil {
		return 0, err
	}
	net := gross - fee

	if err := position.Reduce(cmd.Quantity, net); err != nil {
		return 0, err
	}
	market.ReduceOpenInterest(cmd.Quantity)

	if err := s.positions.Save(ctx, position); err != nil {
		return 0, fmt.Errorf("failed to save position: %w", err)
	}
	if err := s.markets.Save(ctx, market); err != nil {
		return 0, fmt.Errorf("failed to save market: %w", err)
	}
	// 与批量结算同序：状态先落库，付款失败走对账补付
	if err := s.custody.Payout(ctx, cmd.Owner, net); err != nil {
		return 0, fmt.Errorf("payout failed after exercise was recorded: %w", err)
	}

	s.metrics.ExercisesTotal.WithLabelValues("manual").Inc()
	if !position.IsOpen() {
		s.metrics.PositionsActive.Dec()
	}
	s.publishExercised(ctx, position, market.ID, cmd.Quantity, quote.Price, net, fee, false)
	s.logger.InfoContext(ctx, "position exercised",
		"position_id", position.ID, "market_id", market.ID, "owner", cmd.Owner,
		"qty", cmd.Quantity, "settlement", net, "fee", fee)
	return net, nil
}

// AutoExercise 到期批量结算。冻结结算价后按 id 升序分块处理：
// 价内多头按内在价值付款行权，价外多头作废，空头释放抵押，
// 最终将市场置为 Settled。断点写入 checkpoint，崩溃后续跑既不重付也不漏单；
// 对已 Settled 市场重复调用返回零增量报告。
func (s *SettlementService) AutoExercise(ctx context.Context, marketID int64) (*SettlementReport, error) {
	if err := s.engine.EnsureTradable(); err != nil {
		return nil, err
	}

	leaseKey := fmt.Sprintf("options:settlement:lease:%d", marketID)
	acquired, err := s.leases.SetNX(ctx, leaseKey, time.Now().Unix(), s.opts.SettlementLease)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire settlement lease: %w", err)
	}
	if !acquired {
		return nil, domain.ErrSettlementInProgress
	}
	defer func() {
		if derr := s.leases.Delete(context.WithoutCancel(ctx), leaseKey); derr != nil {
			s.logger.ErrorContext(ctx, "failed to release settlement lease", "market_id", marketID, "error", derr)
		}
	}()

	lock := s.locks.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	defer func() {
		s.metrics.SettlementDuration.Observe(time.Since(started).Seconds())
	}()

	market, err := s.markets.Get(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, domain.ErrMarketNotFound
	}

	if market.State == domain.MarketStateSettled {
		report := &SettlementReport{MarketID: marketID, AlreadySettled: true}
		if market.SettlementPrice != nil {
			report.SettlementPrice = *market.SettlementPrice
		}
		return report, nil
	}

	now := time.Now()
	if market.State == domain.MarketStateActive {
		if !market.IsExpired(now) {
			return nil, domain.ErrMarketNotExpired
		}
		asset, err := s.engine.Catalog.Lookup(market.Key.Underlying)
		if err != nil {
			return nil, err
		}
		quote, err := s.oracle.GetPrice(ctx, asset.OracleFeedID, s.opts.OracleMaxStaleness)
		if err != nil {
			s.metrics.OracleErrorsTotal.Inc()
			return nil, err
		}
		if err := market.MarkExpired(quote.Price, now); err != nil {
			return nil, err
		}
		if err := s.markets.Save(ctx, market); err != nil {
			return nil, fmt.Errorf("failed to freeze settlement price: %w", err)
		}
		s.logger.InfoContext(ctx, "market expired, settlement price frozen",
			"market_id", marketID, "settlement_price", quote.Price)
	}
	settlementPrice := *market.SettlementPrice

	cp, err := s.checkpoints.Get(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &domain.SettlementCheckpoint{MarketID: marketID}
	}

	report := &SettlementReport{MarketID: marketID, SettlementPrice: settlementPrice}

	if err := s.settleLongs(ctx, market, cp, settlementPrice, report); err != nil {
		return nil, err
	}
	if err := s.settleShorts(ctx, market, cp, report); err != nil {
		return nil, err
	}

	if err := market.MarkSettled(time.Now()); err != nil {
		return nil, err
	}
	if err := s.markets.Save(ctx, market); err != nil {
		return nil, fmt.Errorf("failed to save settled market: %w", err)
	}
	cp.Done = true
	cp.UpdatedAt = time.Now()
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save settlement checkpoint: %w", err)
	}

	s.publishMarketSettled(ctx, market, cp)
	s.logger.InfoContext(ctx, "market settled",
		"market_id", marketID, "settlement_price", settlementPrice,
		"exercised", report.Exercised, "expired_worthless", report.ExpiredWorthless,
		"collateral_released", report.CollateralReleased, "skipped", report.Skipped)
	return report, nil
}

// settleLongs 多头侧：价内行权付款，价外作废。逐块推进 LastPositionID。
func (s *SettlementService) settleLongs(ctx context.Context, market *domain.OptionMarket, cp *domain.SettlementCheckpoint, settlementPrice int64, report *SettlementReport) error {
	for {
		batch, err := s.positions.ListOpenLong(ctx, market.ID, cp.LastPositionID, s.opts.SettlementChunkSize)
		if err != nil {
			return fmt.Errorf("failed to list open long positions: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, position := range batch {
			if err := s.settleLong(ctx, market, position, settlementPrice, cp, report); err != nil {
				s.logger.ErrorContext(ctx, "settlement skipped position",
					"market_id", market.ID, "position_id", position.ID, "error", err)
				cp.Skipped++
				report.Skipped++
				s.metrics.SettlementPositions.WithLabelValues("skipped").Inc()
			}
			cp.LastPositionID = position.ID
		}

		cp.UpdatedAt = time.Now()
		if err := s.checkpoints.Save(ctx, cp); err != nil {
			return fmt.Errorf("failed to save settlement checkpoint: %w", err)
		}
		if len(batch) < s.opts.SettlementChunkSize {
			return nil
		}
	}
}

func (s *SettlementService) settleLong(ctx context.Context, market *domain.OptionMarket, position *domain.OptionPosition, settlementPrice int64, cp *domain.SettlementCheckpoint, report *SettlementReport) error {
	intrinsic := domain.IntrinsicValue(market.Key.Kind, market.Key.Strike, settlementPrice)
	quantity := position.Quantity

	if intrinsic <= 0 {
		position.MarkExpiredWorthless(time.Now())
		if err := s.positions.Save(ctx, position); err != nil {
			return err
		}
		market.ReduceOpenInterest(quantity)
		cp.ExpiredWorthless++
		report.ExpiredWorthless++
		s.metrics.PositionsActive.Dec()
		s.metrics.SettlementPositions.WithLabelValues("expired_worthless").Inc()
		s.publishExpiredWorthless(ctx, position, market.ID, quantity)
		return nil
	}

	gross, err := domain.CheckedMul(intrinsic, quantity)
	if err != nil {
		return err
	}
	fee, err := domain.BaseFee(gross, s.engine.Fees.ExerciseFeeBps)
	if err != nil {
		return err
	}
	net := gross - fee

	if err := position.Reduce(quantity, net); err != nil {
		return err
	}
	if err := s.positions.Save(ctx, position); err != nil {
		return err
	}
	market.ReduceOpenInterest(quantity)

	// 持仓状态先落库再付款：崩溃重入从断点之后继续，已落库的行权不会二次支付；
	// 付款本身失败的记录计入 skipped 由线下对账处理，绝不静默丢弃。
	if err := s.custody.Payout(ctx, position.Owner, net); err != nil {
		return fmt.Errorf("payout failed after exercise was recorded: %w", err)
	}

	cp.Exercised++
	report.Exercised++
	s.metrics.PositionsActive.Dec()
	s.metrics.ExercisesTotal.WithLabelValues("auto").Inc()
	s.metrics.SettlementPositions.WithLabelValues("exercised").Inc()
	s.publishExercised(ctx, position, market.ID, quantity, settlementPrice, net, fee, true)
	return nil
}

// settleShorts 空头侧：了结持仓并释放抵押。逐块推进 LastShortID。
func (s *SettlementService) settleShorts(ctx context.Context, market *domain.OptionMarket, cp *domain.SettlementCheckpoint, report *SettlementReport) error {
	for {
		batch, err := s.positions.ListOpenShort(ctx, market.ID, cp.LastShortID, s.opts.SettlementChunkSize)
		if err != nil {
			return fmt.Errorf("failed to list open short positions: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, position := range batch {
			if err := s.settleShort(ctx, position, report); err != nil {
				s.logger.ErrorContext(ctx, "settlement skipped short position",
					"market_id", market.ID, "position_id", position.ID, "error", err)
				cp.Skipped++
				report.Skipped++
				s.metrics.SettlementPositions.WithLabelValues("skipped").Inc()
			}
			cp.LastShortID = position.ID
		}

		cp.UpdatedAt = time.Now()
		if err := s.checkpoints.Save(ctx, cp); err != nil {
			return fmt.Errorf("failed to save settlement checkpoint: %w", err)
		}
		if len(batch) < s.opts.SettlementChunkSize {
			return nil
		}
	}
}

func (s *SettlementService) settleShort(ctx context.Context, position *domain.OptionPosition, report *SettlementReport) error {
	collateral := position.CollateralLocked
	position.CloseAtSettlement(time.Now())
	if err := s.positions.Save(ctx, position); err != nil {
		return err
	}
	if collateral > 0 {
		if err := s.custody.Release(ctx, position.Owner, collateral); err != nil {
			return fmt.Errorf("collateral release failed after close was recorded: %w", err)
		}
	}
	report.CollateralReleased++
	s.metrics.PositionsActive.Dec()
	s.metrics.SettlementPositions.WithLabelValues("released").Inc()
	return nil
}

func (s *SettlementService) publishExercised(ctx context.Context, position *domain.OptionPosition, marketID, quantity, settlementPrice, net, fee int64, auto bool) {
	event := domain.ExercisedEvent{
		EventID:          uuid.NewString(),
		PositionID:       position.ID,
		MarketID:         marketID,
		Owner:            position.Owner,
		Quantity:         quantity,
		SettlementPrice:  settlementPrice,
		SettlementAmount: net,
		Fee:              fee,
		Auto:             auto,
		OccurredOn:       time.Now(),
	}
	if err := s.events.PublishExercised(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish Exercised", "position_id", position.ID, "error", err)
	}
}

func (s *SettlementService) publishExpiredWorthless(ctx context.Context, position *domain.OptionPosition, marketID, quantity int64) {
	event := domain.ExpiredWorthlessEvent{
		EventID:    uuid.NewString(),
		PositionID: position.ID,
		MarketID:   marketID,
		Owner:      position.Owner,
		Quantity:   quantity,
		OccurredOn: time.Now(),
	}
	if err := s.events.PublishExpiredWorthless(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish ExpiredWorthless", "position_id", position.ID, "error", err)
	}
}

func (s *SettlementService) publishMarketSettled(ctx context.Context, market *domain.OptionMarket, cp *domain.SettlementCheckpoint) {
	event := domain.MarketSettledEvent{
		EventID:          uuid.NewString(),
		MarketID:         market.ID,
		SettlementPrice:  *market.SettlementPrice,
		Exercised:        cp.Exercised,
		ExpiredWorthless: cp.ExpiredWorthless,
		Skipped:          cp.Skipped,
		OccurredOn:       time.Now(),
	}
	if err := s.events.PublishMarketSettled(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish MarketSettled", "market_id", market.ID, "error", err)
	}
}
