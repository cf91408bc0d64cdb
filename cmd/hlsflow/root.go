package main

import (
	"context"
	"fmt"
	"os"

	"hlsflow/internal/config"
	"hlsflow/internal/repository/redis"
	"hlsflow/internal/service"
	"hlsflow/internal/telemetry"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "hlsflow",
	Short:        "Background task workers for media processing",
	Long:         "hlsflow runs queue workers that transcode video to HLS, send mail, sync search documents and delete stored files.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: hlsflow.yaml in ., ./config or /etc/hlsflow)")
}

// loadConfig reads the configuration and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := telemetry.Configure(cfg.Log); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, nil
}

func consumerName(cfg *config.Config) string {
	if cfg.Queue.Consumer != "" {
		return cfg.Queue.Consumer
	}
	host, err := os.Hostname()
	if err != nil {
		host = "hlsflow"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func newBroker(client *goredis.Client, cfg *config.Config) *redis.StreamBroker {
	return redis.NewStreamBroker(client, redis.StreamConfig{
		Prefix:      cfg.Queue.Prefix,
		Group:       cfg.Queue.StreamGroup,
		Consumer:    consumerName(cfg),
		MaxLen:      cfg.Queue.StreamMaxLen,
		MaxAttempts: cfg.Queue.MaxAttempts,
		ClaimIdle:   cfg.Queue.ClaimIdle,
	})
}

// connect opens Redis and builds the producer-side services.
func connect(ctx context.Context, cfg *config.Config, metrics telemetry.MetricsClient, transport string) (*service.Services, *redis.StreamBroker, *goredis.Client, error) {
	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	broker := newBroker(client, cfg)
	queue := redis.NewDefaultRedisClient(client, cfg.Queue.Prefix)
	return service.NewServices(metrics, queue, broker, transport), broker, client, nil
}
