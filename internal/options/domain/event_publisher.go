package domain

import "context"

// EventPublisher 领域事件出口。定价与台账代码不直接做 I/O，
// 统一经由该接口发布，由基础设施层决定落地方式。
type EventPublisher interface {
	PublishMarketCreated(ctx context.Context, event MarketCreatedEvent) error
	PublishTraded(ctx context.Context, event TradedEvent) error
	PublishPositionOpened(ctx context.Context, event PositionOpenedEvent) error
	PublishExercised(ctx context.Context, event ExercisedEvent) error
	PublishExpiredWorthless(ctx context.Context, event ExpiredWorthlessEvent) error
	PublishMarketSettled(ctx context.Context, event MarketSettledEvent) error
}
