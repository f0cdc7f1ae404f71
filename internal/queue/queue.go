package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedChannels = []domain.Channel{
	domain.ChannelSMS,
	domain.ChannelEmail,
	domain.ChannelPush,
}

const queuePrefix = "dispatch"

// QueueName returns the dispatch queue of a channel, e.g. dispatch.sms.
func QueueName(channel domain.Channel) string {
	return fmt.Sprintf("%s.%s", queuePrefix, channelRoutingKey(channel))
}

// DLQName returns the dead-letter queue of a channel, e.g. dlq.dispatch.sms.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("dlq.%s", QueueName(channel))
}

// WorkQueueNames returns all dispatch queues, one per channel.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedChannels))
	for _, channel := range supportedChannels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

func DLQNames() []string {
	queues := make([]string, 0, len(supportedChannels))
	for _, channel := range supportedChannels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}

func channelRoutingKey(channel domain.Channel) string {
	return strings.ToLower(channel.String())
}
