package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"hlsflow/internal/api"
	"hlsflow/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the task submission API",
	RunE:  runAPI,
}

func init() {
	apiCmd.Flags().String("transport", "", "list or stream (default from worker.transport)")
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	transport := cfg.Worker.Transport
	if cmd.Flags().Changed("transport") {
		transport, _ = cmd.Flags().GetString("transport")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics, err := telemetry.NewDefaultMetricsClient(registry)
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	svc, _, _, err := connect(ctx, cfg, metrics, transport)
	if err != nil {
		return err
	}
	defer svc.Redis.Close()

	return api.NewServer(svc, cfg.API.Port, registry).Start(ctx)
}
