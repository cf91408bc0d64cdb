package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hlsflow/internal/config"
	"hlsflow/internal/model"
	"hlsflow/internal/telemetry"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisClient is the list-backed task queue.
type RedisClient interface {
	EnqueueTask(ctx context.Context, queue string, task *model.Task) error
	DequeueTask(ctx context.Context, queue string, timeout time.Duration) (*model.Task, error)
	QueueLength(ctx context.Context, queue string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

type DefaultRedisClient struct {
	client *redis.Client
	prefix string
}

// Connect opens a client from cfg and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	options := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}

	client := redis.NewClient(options)
	if _, err := client.Ping(ctx).Result(); err != nil {
		telemetry.Logger.Error("System Error: Failed to connect to Redis", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = client.Close()
		return nil, err
	}
	telemetry.Logger.Info("Connected to Redis", zap.String("addr", cfg.Addr))
	return client, nil
}

func NewDefaultRedisClient(client *redis.Client, prefix string) *DefaultRedisClient {
	return &DefaultRedisClient{client: client, prefix: prefix}
}

func (r *DefaultRedisClient) key(queue string) string {
	return fmt.Sprintf("%s:queue:%s", r.prefix, queue)
}

// EnqueueTask pushes a task onto the named queue, using LPUSH.
func (r *DefaultRedisClient) EnqueueTask(ctx context.Context, queue string, task *model.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	if err := r.client.LPush(ctx, r.key(queue), body).Err(); err != nil {
		telemetry.Logger.Error("System Error: Failed to enqueue task in Redis", zap.String("queue", queue), zap.Error(err))
		return err
	}
	telemetry.Logger.Debug("Task enqueued in Redis", zap.String("queue", queue), zap.String("type", task.Type))
	return nil
}

// DequeueTask pops the oldest task from the named queue, using BRPOP. It
// returns (nil, nil) when nothing arrives within timeout.
func (r *DefaultRedisClient) DequeueTask(ctx context.Context, queue string, timeout time.Duration) (*model.Task, error) {
	res, err := r.client.BRPop(ctx, timeout, r.key(queue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		// cancelled by a stopping worker
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		telemetry.Logger.Error("System Error: Failed to dequeue task from Redis", zap.String("queue", queue), zap.Error(err))
		return nil, err
	}

	// res is [key, value]
	task, err := model.ParseTask(res[1])
	if err != nil {
		telemetry.Logger.Error("User error: Dropping malformed task", zap.String("queue", queue), zap.String("raw", res[1]), zap.Error(err))
		return nil, err
	}
	telemetry.Logger.Debug("Task dequeued from Redis", zap.String("queue", queue), zap.String("type", task.Type))
	return task, nil
}

func (r *DefaultRedisClient) QueueLength(ctx context.Context, queue string) (int64, error) {
	return r.client.LLen(ctx, r.key(queue)).Result()
}

func (r *DefaultRedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client connection
func (r *DefaultRedisClient) Close() error {
	err := r.client.Close()
	if err != nil {
		telemetry.Logger.Error("System Error: Failed to close Redis client", zap.Error(err))
		return err
	}
	telemetry.Logger.Info("Redis client closed")
	return nil
}
