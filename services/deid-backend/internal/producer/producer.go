package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/pkg/rabbitmq"
	"DeIDPlatform/services/deid-backend/internal/domain"
)

// EventPublisher публикует доменные события сервиса
type EventPublisher interface {
	PublishTaskValidated(ctx context.Context, event *domain.TaskValidatedEvent) error
}

// Publisher низкоуровневая публикация сообщения, реализуется rabbitmq.Producer
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, maxRetries int, retryInterval time.Duration, options ...rabbitmq.PublishOption) error
}

// RabbitEventPublisher публикует события в обменник RabbitMQ
type RabbitEventPublisher struct {
	publisher     Publisher
	routingKey    string
	maxRetries    int
	retryInterval time.Duration
	logger        logger.Logger
}

// NewRabbitEventPublisher создает новый экземпляр RabbitEventPublisher
func NewRabbitEventPublisher(publisher Publisher, routingKey string, log logger.Logger) *RabbitEventPublisher {
	return &RabbitEventPublisher{
		publisher:     publisher,
		routingKey:    routingKey,
		maxRetries:    2,
		retryInterval: 200 * time.Millisecond,
		logger:        log,
	}
}

// PublishTaskValidated публикует событие task.validated
func (p *RabbitEventPublisher) PublishTaskValidated(ctx context.Context, event *domain.TaskValidatedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal task validated event: %w", err)
	}

	err = p.publisher.PublishWithRetry(ctx, body, p.maxRetries, p.retryInterval,
		rabbitmq.WithRoutingKey(p.routingKey),
		rabbitmq.WithMessageID(event.EventID),
		rabbitmq.WithHeaders(amqp091.Table{"event_type": "task.validated"}),
	)
	if err != nil {
		return fmt.Errorf("failed to publish task validated event: %w", err)
	}

	p.logger.Debug("Task validated event published",
		logger.String("event_id", event.EventID),
		logger.String("task_id", event.TaskID),
	)
	return nil
}

// NoopEventPublisher используется, когда брокер отключен в конфигурации
type NoopEventPublisher struct{}

// PublishTaskValidated ничего не делает
func (NoopEventPublisher) PublishTaskValidated(context.Context, *domain.TaskValidatedEvent) error {
	return nil
}
