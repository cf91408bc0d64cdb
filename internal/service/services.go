package service

import (
	"context"
	"fmt"

	"hlsflow/internal/model"
	"hlsflow/internal/repository/redis"
	"hlsflow/internal/telemetry"
)

const (
	TransportList   = "list"
	TransportStream = "stream"
)

// Publisher is the producer side of the stream broker.
type Publisher interface {
	Publish(ctx context.Context, queue string, task *model.Task) error
}

// Services holds all application dependencies
type Services struct {
	Metrics   telemetry.MetricsClient
	Redis     redis.RedisClient
	Broker    Publisher
	Transport string
}

// NewServices creates a new Services instance. broker may be nil when only
// the list transport is used.
func NewServices(metrics telemetry.MetricsClient, redisClient redis.RedisClient, broker Publisher, transport string) *Services {
	if transport == "" {
		transport = TransportList
	}
	return &Services{
		Metrics:   metrics,
		Redis:     redisClient,
		Broker:    broker,
		Transport: transport,
	}
}

// Enqueue submits task to queue over the configured transport.
func (s *Services) Enqueue(ctx context.Context, queue string, task *model.Task) error {
	var err error
	switch s.Transport {
	case TransportStream:
		if s.Broker == nil {
			return fmt.Errorf("stream transport selected but no broker configured")
		}
		err = s.Broker.Publish(ctx, queue, task)
	case TransportList:
		err = s.Redis.EnqueueTask(ctx, queue, task)
	default:
		return fmt.Errorf("unknown transport %q", s.Transport)
	}
	if err != nil {
		return err
	}
	s.Metrics.IncrementQueuePushCounter(queue)
	return nil
}
