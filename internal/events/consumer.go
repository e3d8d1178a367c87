package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeName = "events"

// Handler processes one decoded event body.
type Handler func(ctx context.Context, body json.RawMessage) error

// Consumer binds one queue to one routing key on the shared topic exchange
// and feeds deliveries to a handler. Data-change notifications (account
// created, subscription updated) arrive here.
type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    Handler
	logger     *zap.Logger
}

func NewConsumer(url, queueName, routingKey string, handler Handler, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	err = ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, exchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("event consumer initialized",
		zap.String("queue", q.Name),
		zap.String("routing_key", routingKey),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		handler:    handler,
		logger:     logger,
	}, nil
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Start consumes until the channel closes or the context ends. Handler
// errors nack with requeue so a transient store outage does not drop
// lifecycle emails.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue.Name, "mailpipe", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.logger.Info("event consumer started", zap.String("queue", c.queue.Name))

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg amqp091.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panic",
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			_ = msg.Nack(false, true)
		}
	}()

	if err := c.handler(ctx, msg.Body); err != nil {
		c.logger.Error("event handler error",
			zap.String("queue", c.queue.Name),
			zap.Error(err),
		)
		_ = msg.Nack(false, true)
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("failed to ack event",
			zap.String("queue", c.queue.Name),
			zap.Error(err),
		)
	}
}
