package main

import (
	"context"
	"fmt"
	"time"

	"hlsflow/internal/model"
	"hlsflow/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <queue> <task-json>",
	Short: "Put a single task on a queue",
	Example: `  hlsflow enqueue video '{"type":"transcode","content_id":"c1","resolution":"hd","source_filename":"in.mp4"}'
  hlsflow enqueue email '{"type":"send_email","to":"a@example.com","subject":"Hi","body":"Hello"}' --transport stream`,
	Args: cobra.ExactArgs(2),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().String("transport", "", "list or stream (default from worker.transport)")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	transport := cfg.Worker.Transport
	if cmd.Flags().Changed("transport") {
		transport, _ = cmd.Flags().GetString("transport")
	}

	queue := args[0]
	task, err := model.ParseTask(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	metrics, err := telemetry.NewDefaultMetricsClient(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}
	svc, _, _, err := connect(ctx, cfg, metrics, transport)
	if err != nil {
		return err
	}
	defer svc.Redis.Close()

	if err := svc.Enqueue(ctx, queue, task); err != nil {
		return fmt.Errorf("enqueue on %s: %w", queue, err)
	}
	telemetry.Logger.Info("Task enqueued", zap.String("queue", queue), zap.String("type", task.Type), zap.String("transport", transport))
	return nil
}
