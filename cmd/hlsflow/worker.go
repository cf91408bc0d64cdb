package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"hlsflow/internal/config"
	"hlsflow/internal/janitor"
	"hlsflow/internal/model"
	"hlsflow/internal/processor"
	"hlsflow/internal/repository/ledger"
	"hlsflow/internal/repository/redis"
	"hlsflow/internal/repository/storage"
	"hlsflow/internal/service"
	"hlsflow/internal/telemetry"
	"hlsflow/internal/transcode"
	"hlsflow/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume tasks from one or more queues",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().StringSlice("queue", nil, "queues to consume, comma separated (default from worker.queues)")
	workerCmd.Flags().String("transport", "", "list or stream (default from worker.transport)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("queue") {
		cfg.Worker.Queues, _ = cmd.Flags().GetStringSlice("queue")
	}
	if cmd.Flags().Changed("transport") {
		cfg.Worker.Transport, _ = cmd.Flags().GetString("transport")
	}
	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.Worker.Queues) == 0 {
		return errors.New("no queues to consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics, err := telemetry.NewDefaultMetricsClient(registry)
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}
	go func() {
		if err := telemetry.StartMetricsServer(ctx, cfg.Metrics.Port, registry); err != nil {
			telemetry.Logger.Error("System Error: Metrics server failed", zap.Error(err))
		}
	}()

	svc, broker, client, err := connect(ctx, cfg, metrics, cfg.Worker.Transport)
	if err != nil {
		return err
	}
	defer svc.Redis.Close()

	store, err := storage.NewS3(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	conversions, err := ledger.Open(cfg.Ledger.DSN)
	if err != nil {
		return err
	}
	defer conversions.Close()

	mux, closeProcessors, err := buildMux(cfg, svc, store, conversions, redis.NewRedisLocker(client, cfg.Lock.RetryInterval), metrics)
	if err != nil {
		return err
	}
	defer closeProcessors()

	loops := make([]*worker.Loop, 0, len(cfg.Worker.Queues))
	for _, queue := range cfg.Worker.Queues {
		transport, err := newTransport(ctx, cfg, svc, broker, queue)
		if err != nil {
			return err
		}
		loops = append(loops, worker.NewLoop(transport, mux, metrics, worker.Options{
			PollTimeout:      cfg.Queue.PollTimeout,
			FailureThreshold: cfg.Worker.FailureThreshold,
		}))
	}

	sweeper, err := janitor.New(conversions, cfg.Janitor.Schedule, cfg.Janitor.StaleAfter)
	if err != nil {
		return err
	}
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		sweeper.Run(janitorCtx)
	}()
	defer func() {
		stopJanitor()
		<-janitorDone
	}()

	telemetry.Logger.Info("Worker starting",
		zap.Strings("queues", cfg.Worker.Queues),
		zap.String("transport", cfg.Worker.Transport),
		zap.Strings("task_types", mux.Types()))

	err = worker.NewGroup(cfg.Worker.StopTimeout, loops...).Run(ctx)
	if errors.Is(err, worker.ErrCircuitOpen) {
		telemetry.Logger.Error("System Error: Worker stopped by circuit breaker", zap.Error(err))
	}
	return err
}

func newTransport(ctx context.Context, cfg *config.Config, svc *service.Services, broker *redis.StreamBroker, queue string) (worker.Transport, error) {
	if cfg.Worker.Transport == service.TransportStream {
		return worker.NewStreamTransport(ctx, broker, queue)
	}
	return worker.NewListTransport(svc.Redis, queue, cfg.Queue.MaxAttempts), nil
}

// buildMux wires every processor. The returned func releases their clients.
func buildMux(
	cfg *config.Config,
	svc *service.Services,
	store storage.ObjectStore,
	conversions ledger.Ledger,
	locker redis.Locker,
	metrics telemetry.MetricsClient,
) (*worker.Mux, func(), error) {
	ffmpeg, err := transcode.NewFFmpeg(cfg.Transcode.FFmpegBin, cfg.Transcode.ExtraArgs)
	if err != nil {
		return nil, nil, err
	}
	prober := &transcode.FFprobe{Bin: cfg.Transcode.FFprobeBin, Timeout: cfg.Transcode.ProbeTimeout}
	pipeline := transcode.NewPipeline(store, conversions, locker, prober, ffmpeg, metrics, svc.Enqueue,
		transcode.OptionsFromConfig(cfg.Transcode, cfg.Lock))

	email := processor.NewEmail(cfg.Mail)
	contentSync := processor.NewContentSync(cfg.Search)

	mux := worker.NewMux()
	transcode.NewProcessor(pipeline).Register(mux)
	mux.Handle(model.TaskSendEmail, email)
	mux.Handle(model.TaskSyncContent, contentSync)
	mux.Handle(model.TaskDeleteFiles, processor.NewFileDelete(store))

	return mux, func() {
		_ = email.Close()
		_ = contentSync.Close()
	}, nil
}
