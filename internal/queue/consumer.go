package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// settlement is how a consumed delivery is finished.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	case settleDeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

// settle decides the outcome of one delivery. Unreadable payloads are never
// retried; a handler failure is retried once, then dead-lettered.
func settle(decodeErr error, handlerErr error, redelivered bool) settlement {
	switch {
	case decodeErr != nil:
		return settleDeadLetter
	case handlerErr == nil:
		return settleAck
	case redelivered:
		return settleDeadLetter
	default:
		return settleRequeue
	}
}

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{client: client, prefetch: prefetch, logger: logger}
}

// Consume delivers messages from queue to handler until ctx is done,
// resubscribing with backoff whenever the subscription breaks.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for ctx.Err() == nil {
		handled, err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if handled > 0 {
			wait = reconnectBackoff
		}
		c.logger.Warn("dispatch subscription interrupted",
			zap.String("queue", queue),
			zap.Int("handled", handled),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
	return nil
}

// subscribe runs one subscription and reports how many deliveries it settled.
func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) (int, error) {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return 0, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	handled := 0
	for {
		select {
		case <-ctx.Done():
			return handled, nil
		case d, ok := <-deliveries:
			if !ok {
				return handled, errDeliveriesClosed
			}
			if err := c.handle(ctx, d, handler); err != nil {
				return handled, err
			}
			handled++
		}
	}
}

func (c *RabbitMQConsumer) handle(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, decodeErr := decodeDispatchMessage(d.Body)

	var handlerErr error
	if decodeErr == nil {
		handlerErr = handler(ctx, msg)
	}

	outcome := settle(decodeErr, handlerErr, d.Redelivered)
	if outcome != settleAck {
		c.logger.Warn("dispatch message not acknowledged",
			zap.String("settlement", outcome.String()),
			zap.String("campaignId", msg.CampaignID),
			zap.String("correlationId", d.CorrelationId),
			zap.Bool("redelivered", d.Redelivered),
			zap.NamedError("decodeError", decodeErr),
			zap.NamedError("handlerError", handlerErr),
		)
	}

	var err error
	switch outcome {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	case settleDeadLetter:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", outcome, err)
	}
	return nil
}

func decodeDispatchMessage(body []byte) (DispatchMessage, error) {
	var msg DispatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return DispatchMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}
	return msg, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
