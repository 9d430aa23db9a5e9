package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const appID = "skkn-server"

// Notifier publishes session events.
type Notifier interface {
	Notify(ctx context.Context, event StageEvent) error
}

type rabbitMQNotifier struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQNotifier declares the events queue and returns a Notifier
// publishing into it. The channel is owned by the caller.
func NewRabbitMQNotifier(ch *amqp.Channel, queueName string, logger *zap.Logger) (Notifier, error) {
	_, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		amqp.Table{"x-queue-mode": "lazy"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare events queue '%s': %w", queueName, err)
	}
	logger = logger.Named("Notifier")
	logger.Info("Events queue declared", zap.String("queue", queueName))

	return &rabbitMQNotifier{channel: ch, queueName: queueName, logger: logger}, nil
}

// Notify publishes the event as a persistent JSON message.
func (n *rabbitMQNotifier) Notify(ctx context.Context, event StageEvent) error {
	log := n.logger.With(zap.String("sessionID", event.SessionID), zap.String("type", string(event.Type)))

	body, err := json.Marshal(event)
	if err != nil {
		log.Error("Failed to marshal stage event", zap.Error(err))
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID, err)
	}

	err = n.channel.PublishWithContext(ctx,
		"",
		n.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        appID,
			MessageId:    event.EventID,
			Type:         string(event.Type),
		},
	)
	if err != nil {
		log.Error("Failed to publish stage event", zap.Error(err))
		return fmt.Errorf("failed to publish event %s: %w", event.EventID, err)
	}

	log.Debug("Stage event published", zap.String("queue", n.queueName), zap.String("stage", event.Stage))
	return nil
}

// Connect dials RabbitMQ, retrying a few times while the broker starts.
func Connect(url string, logger *zap.Logger) (*amqp.Connection, error) {
	const (
		maxRetries = 5
		retryDelay = 5 * time.Second
	)
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("maxAttempts", maxRetries),
			zap.Duration("retryIn", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}
