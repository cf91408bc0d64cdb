package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hlsflow/internal/model"
	"hlsflow/internal/telemetry"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Delivery is one stream entry handed to a consumer. It must be settled with
// Ack, Drop or Requeue.
type Delivery struct {
	ID      string
	Queue   string
	Attempt int
	Task    *model.Task
}

type StreamConfig struct {
	Prefix      string
	Group       string
	Consumer    string
	MaxLen      int64
	MaxAttempts int
	// ClaimIdle is how long a pending entry must sit idle before another
	// consumer adopts it. Zero disables adoption.
	ClaimIdle time.Duration
}

// StreamBroker is the message-broker transport backed by Redis Streams and
// consumer groups.
type StreamBroker struct {
	client *redis.Client
	cfg    StreamConfig
}

func NewStreamBroker(client *redis.Client, cfg StreamConfig) *StreamBroker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &StreamBroker{client: client, cfg: cfg}
}

func (b *StreamBroker) stream(queue string) string {
	return fmt.Sprintf("%s:stream:%s", b.cfg.Prefix, queue)
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (b *StreamBroker) EnsureGroup(ctx context.Context, queue string) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream(queue), b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		telemetry.Logger.Error("System Error: Failed to create consumer group",
			zap.String("stream", b.stream(queue)), zap.String("group", b.cfg.Group), zap.Error(err))
		return err
	}
	return nil
}

// Publish appends a task to the queue's stream as its first attempt.
func (b *StreamBroker) Publish(ctx context.Context, queue string, task *model.Task) error {
	return b.add(ctx, queue, task, 1)
}

func (b *StreamBroker) add(ctx context.Context, queue string, task *model.Task, attempt int) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: b.stream(queue),
		Values: map[string]interface{}{
			"payload": string(body),
			"attempt": attempt,
		},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		telemetry.Logger.Error("System Error: Failed to publish task", zap.String("queue", queue), zap.Error(err))
		return err
	}
	return nil
}

// Receive returns the next delivery for this consumer, or (nil, nil) when
// nothing arrived within block. Idle entries abandoned by other consumers are
// adopted before new entries are read. Malformed entries are acked and
// reported as *model.MalformedTaskError.
func (b *StreamBroker) Receive(ctx context.Context, queue string, block time.Duration) (*Delivery, error) {
	msg, err := b.claimIdle(ctx, queue)
	if err != nil {
		return nil, err
	}

	if msg == nil {
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.stream(queue), ">"},
			Count:    1,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, fmt.Errorf("read stream %s: %w", b.stream(queue), err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			return nil, nil
		}
		msg = &streams[0].Messages[0]
	}

	return b.decode(ctx, queue, *msg)
}

func (b *StreamBroker) claimIdle(ctx context.Context, queue string) (*redis.XMessage, error) {
	if b.cfg.ClaimIdle <= 0 {
		return nil, nil
	}

	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.stream(queue),
		Group:  b.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pending on %s: %w", b.stream(queue), err)
	}

	for _, p := range pending {
		if p.Consumer == b.cfg.Consumer || p.Idle < b.cfg.ClaimIdle {
			continue
		}
		claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   b.stream(queue),
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			MinIdle:  b.cfg.ClaimIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("claim %s on %s: %w", p.ID, b.stream(queue), err)
		}
		if len(claimed) > 0 {
			telemetry.Logger.Warn("Adopted idle delivery",
				zap.String("queue", queue), zap.String("id", p.ID),
				zap.String("previous_consumer", p.Consumer), zap.Duration("idle", p.Idle))
			return &claimed[0], nil
		}
	}
	return nil, nil
}

func (b *StreamBroker) decode(ctx context.Context, queue string, msg redis.XMessage) (*Delivery, error) {
	raw, _ := msg.Values["payload"].(string)
	attempt := 1
	if s, ok := msg.Values["attempt"].(string); ok {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			attempt = n
		}
	}

	task, err := model.ParseTask(raw)
	if err != nil {
		telemetry.Logger.Error("User error: Dropping malformed stream entry",
			zap.String("queue", queue), zap.String("id", msg.ID), zap.String("raw", raw), zap.Error(err))
		if ackErr := b.client.XAck(ctx, b.stream(queue), b.cfg.Group, msg.ID).Err(); ackErr != nil {
			return nil, fmt.Errorf("ack malformed entry %s: %w", msg.ID, ackErr)
		}
		return nil, err
	}

	return &Delivery{ID: msg.ID, Queue: queue, Attempt: attempt, Task: task}, nil
}

// Ack settles a delivery as done.
func (b *StreamBroker) Ack(ctx context.Context, d *Delivery) error {
	return b.client.XAck(ctx, b.stream(d.Queue), b.cfg.Group, d.ID).Err()
}

// Drop settles a delivery without redelivery.
func (b *StreamBroker) Drop(ctx context.Context, d *Delivery) error {
	telemetry.Logger.Warn("Dropping delivery", zap.String("queue", d.Queue), zap.String("id", d.ID), zap.String("task", d.Task.String()))
	return b.Ack(ctx, d)
}

// Requeue publishes the task again with attempt+1 and acks the original.
// Deliveries that have used up MaxAttempts are dropped with an error log.
func (b *StreamBroker) Requeue(ctx context.Context, d *Delivery) error {
	if d.Attempt >= b.cfg.MaxAttempts {
		telemetry.Logger.Error("System Error: Task exhausted delivery attempts, dead-lettering",
			zap.String("queue", d.Queue), zap.String("id", d.ID),
			zap.Int("attempt", d.Attempt), zap.String("task", d.Task.String()))
		return b.Ack(ctx, d)
	}

	if err := b.add(ctx, d.Queue, d.Task, d.Attempt+1); err != nil {
		return err
	}
	return b.Ack(ctx, d)
}

// StreamLength reports the number of entries in the queue's stream.
func (b *StreamBroker) StreamLength(ctx context.Context, queue string) (int64, error) {
	return b.client.XLen(ctx, b.stream(queue)).Result()
}
