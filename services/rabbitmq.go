package services

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const friendshipExchange = "friendship_events"

// RabbitPublisher публикует уведомления о дружбе в topic exchange.
// Каждый инстанс читает их своей очередью и доставляет своим соединениям.
type RabbitPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
}

// NewRabbitPublisher инициализирует соединение и exchange
func NewRabbitPublisher(url string, log *zap.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	// Создаем exchange типа topic
	if err := channel.ExchangeDeclare(
		friendshipExchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	log.Info("RabbitMQ initialized", zap.String("exchange", friendshipExchange))
	return &RabbitPublisher{conn: conn, channel: channel, log: log}, nil
}

func routingKey(userID int64) string {
	return fmt.Sprintf("user.%d", userID)
}

func (p *RabbitPublisher) Publish(ctx context.Context, event FriendshipEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.channel.PublishWithContext(ctx,
		friendshipExchange,
		routingKey(event.UserID),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// StartConsumer слушает уведомления и пушит их живым соединениям через registry
func (p *RabbitPublisher) StartConsumer(ctx context.Context, queueName string, registry *Registry) error {
	// exclusive очередь: у каждого инстанса свой набор соединений
	q, err := p.channel.QueueDeclare(
		queueName,
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := p.channel.QueueBind(q.Name, "user.*", friendshipExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := p.channel.Consume(
		q.Name,
		"",
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					p.log.Warn("friendship events channel closed")
					return
				}
				p.deliver(registry, msg.Body)
			}
		}
	}()
	return nil
}

func (p *RabbitPublisher) deliver(registry *Registry, body []byte) {
	var event FriendshipEvent
	if err := json.Unmarshal(body, &event); err != nil {
		p.log.Warn("failed to unmarshal friendship event", zap.Error(err))
		return
	}
	frame, err := friendshipEventFrame(event)
	if err != nil {
		p.log.Warn("failed to encode friendship event", zap.Error(err))
		return
	}
	registry.SendToUser(event.UserID, frame)
}

func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	return p.conn.Close()
}
