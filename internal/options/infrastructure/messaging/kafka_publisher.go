// Package messaging 领域事件的 Kafka 发布实现。
package messaging

import (
	"context"
	"strconv"

	"github.com/unxversal/optionsengine/internal/options/domain"
	"github.com/unxversal/optionsengine/pkg/mq"
)

const (
	TopicMarketEvents   = "options.market.events"
	TopicPositionEvents = "options.position.events"
)

// envelope 事件信封，type 字段供下游索引器路由。
type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// KafkaEventPublisher 将领域事件写入 Kafka。key 取聚合 id，
// 保证同一市场/持仓的事件落入同一分区并保序。
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
}

// NewKafkaEventPublisher 创建事件发布器。
func NewKafkaEventPublisher(producer *mq.KafkaProducer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

func (p *KafkaEventPublisher) PublishMarketCreated(ctx context.Context, event domain.MarketCreatedEvent) error {
	return p.producer.SendMessage(ctx, TopicMarketEvents, strconv.FormatInt(event.MarketID, 10),
		envelope{Type: domain.MarketCreatedEventType, Payload: event})
}

func (p *KafkaEventPublisher) PublishTraded(ctx context.Context, event domain.TradedEvent) error {
	return p.producer.SendMessage(ctx, TopicMarketEvents, strconv.FormatInt(event.MarketID, 10),
		envelope{Type: domain.TradedEventType, Payload: event})
}

func (p *KafkaEventPublisher) PublishPositionOpened(ctx context.Context, event domain.PositionOpenedEvent) error {
	return p.producer.SendMessage(ctx, TopicPositionEvents, strconv.FormatInt(event.PositionID, 10),
		envelope{Type: domain.PositionOpenedEventType, Payload: event})
}

func (p *KafkaEventPublisher) PublishExercised(ctx context.Context, event domain.ExercisedEvent) error {
	return p.producer.SendMessage(ctx, TopicPositionEvents, strconv.FormatInt(event.PositionID, 10),
		envelope{Type: domain.ExercisedEventType, Payload: event})
}

func (p *KafkaEventPublisher) PublishExpiredWorthless(ctx context.Context, event domain.ExpiredWorthlessEvent) error {
	return p.producer.SendMessage(ctx, TopicPositionEvents, strconv.FormatInt(event.PositionID, 10),
		envelope{Type: domain.ExpiredWorthlessEventType, Payload: event})
}

func (p *KafkaEventPublisher) PublishMarketSettled(ctx context.Context, event domain.MarketSettledEvent) error {
	return p.producer.SendMessage(ctx, TopicMarketEvents, strconv.FormatInt(event.MarketID, 10),
		envelope{Type: domain.MarketSettledEventType, Payload: event})
}

// NopEventPublisher 空实现，测试与单机试运行使用。
type NopEventPublisher struct{}

func (NopEventPublisher) PublishMarketCreated(context.Context, domain.MarketCreatedEvent) error { return nil }
func (NopEventPublisher) PublishTraded(context.Context, domain.TradedEvent) error               { return nil }
func (NopEventPublisher) PublishPositionOpened(context.Context, domain.PositionOpenedEvent) error {
	return nil
}
func (NopEventPublisher) PublishExercised(context.Context, domain.ExercisedEvent) error { return nil }
func (NopEventPublisher) PublishExpiredWorthless(context.Context, domain.ExpiredWorthlessEvent) error {
	return nil
}
func (NopEventPublisher) PublishMarketSettled(context.Context, domain.MarketSettledEvent) error {
	return nil
}
