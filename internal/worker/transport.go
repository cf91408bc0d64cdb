package worker

import (
	"context"
	"time"

	"hlsflow/internal/model"
	"hlsflow/internal/repository/redis"
	"hlsflow/internal/telemetry"

	"go.uber.org/zap"
)

// Message is a received task plus whatever the transport needs to settle it.
type Message struct {
	Task     *model.Task
	delivery *redis.Delivery
}

// Transport is the queue protocol under a Loop. Receive returns (nil, nil)
// when nothing arrived within timeout.
type Transport interface {
	Queue() string
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
	Reject(ctx context.Context, msg *Message, requeue bool) error
}

// ListTransport consumes a Redis list. BRPOP already removed the entry, so
// acking is a no-op and a requeue pushes the task back with its attempt
// counter bumped, up to maxAttempts deliveries.
type ListTransport struct {
	client      redis.RedisClient
	queue       string
	maxAttempts int
}

func NewListTransport(client redis.RedisClient, queue string, maxAttempts int) *ListTransport {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &ListTransport{client: client, queue: queue, maxAttempts: maxAttempts}
}

func (t *ListTransport) Queue() string { return t.queue }

func (t *ListTransport) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	task, err := t.client.DequeueTask(ctx, t.queue, timeout)
	if err != nil || task == nil {
		return nil, err
	}
	return &Message{Task: task}, nil
}

func (t *ListTransport) Ack(context.Context, *Message) error { return nil }

func (t *ListTransport) Reject(ctx context.Context, msg *Message, requeue bool) error {
	if !requeue {
		return nil
	}

	attempt := msg.Task.Attempt()
	if attempt >= t.maxAttempts {
		telemetry.Logger.Error("System Error: Task exhausted delivery attempts, dead-lettering",
			zap.String("queue", t.queue), zap.Int("attempt", attempt), zap.String("task", msg.Task.String()))
		return nil
	}
	return t.client.EnqueueTask(ctx, t.queue, msg.Task.WithAttempt(attempt+1))
}

// StreamTransport consumes a Redis Stream through a consumer group.
type StreamTransport struct {
	broker *redis.StreamBroker
	queue  string
}

// NewStreamTransport ensures the consumer group exists before returning.
func NewStreamTransport(ctx context.Context, broker *redis.StreamBroker, queue string) (*StreamTransport, error) {
	if err := broker.EnsureGroup(ctx, queue); err != nil {
		return nil, err
	}
	return &StreamTransport{broker: broker, queue: queue}, nil
}

func (t *StreamTransport) Queue() string { return t.queue }

func (t *StreamTransport) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	d, err := t.broker.Receive(ctx, t.queue, timeout)
	if err != nil || d == nil {
		return nil, err
	}
	return &Message{Task: d.Task, delivery: d}, nil
}

func (t *StreamTransport) Ack(ctx context.Context, msg *Message) error {
	return t.broker.Ack(ctx, msg.delivery)
}

func (t *StreamTransport) Reject(ctx context.Context, msg *Message, requeue bool) error {
	if requeue {
		return t.broker.Requeue(ctx, msg.delivery)
	}
	return t.broker.Drop(ctx, msg.delivery)
}
