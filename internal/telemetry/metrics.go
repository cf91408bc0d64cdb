package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsClient is the narrow metrics surface used by the api, worker and
// transcode packages.
type MetricsClient interface {
	IncrementQueuePushCounter(queue string)
	IncrementServerRequestCounter(status string)
	IncrementTaskCounter(queue, outcome string)
	SetConsecutiveFailures(queue string, count int)
	ObserveTaskDuration(queue string, d time.Duration)
	SetEncodeProgress(contentID, resolution string, percent float64)
	ObserveTranscodeDuration(resolution string, d time.Duration)
}

// Metrics holds all the Prometheus metrics for the application
type Metrics struct {
	QueuePushCounter     *prometheus.CounterVec
	ServerRequestCounter *prometheus.CounterVec
	TaskCounter          *prometheus.CounterVec
	ConsecutiveFailures  *prometheus.GaugeVec
	TaskDuration         *prometheus.HistogramVec
	EncodeProgress       *prometheus.GaugeVec
	TranscodeDuration    *prometheus.HistogramVec
}

type DefaultMetricsClient struct {
	metrics *Metrics
}

// NewDefaultMetricsClient creates and registers all collectors on reg.
func NewDefaultMetricsClient(reg prometheus.Registerer) (*DefaultMetricsClient, error) {
	metrics := &Metrics{
		QueuePushCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hlsflow_queue_pushed_total",
				Help: "Total number of tasks pushed onto a queue",
			},
			[]string{"queue"},
		),
		ServerRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hlsflow_server_request_total",
				Help: "Total number of task submission requests",
			},
			[]string{"status"},
		),
		TaskCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hlsflow_tasks_total",
				Help: "Total number of processed tasks by outcome",
			},
			[]string{"queue", "outcome"},
		),
		ConsecutiveFailures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hlsflow_worker_consecutive_failures",
				Help: "Current consecutive infrastructure failure count per worker loop",
			},
			[]string{"queue"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hlsflow_task_duration_seconds",
				Help:    "Time spent processing a single task",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 16),
			},
			[]string{"queue"},
		),
		EncodeProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hlsflow_encode_progress_percent",
				Help: "Progress of the running encode",
			},
			[]string{"content_id", "resolution"},
		),
		TranscodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hlsflow_transcode_duration_seconds",
				Help:    "Wall time of a full transcode pipeline run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"resolution"},
		),
	}

	collectors := []prometheus.Collector{
		metrics.QueuePushCounter,
		metrics.ServerRequestCounter,
		metrics.TaskCounter,
		metrics.ConsecutiveFailures,
		metrics.TaskDuration,
		metrics.EncodeProgress,
		metrics.TranscodeDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			Logger.Error("System Error: Failed to register metric collector", zap.Error(err))
			return nil, err
		}
	}

	return &DefaultMetricsClient{metrics: metrics}, nil
}

func (m *DefaultMetricsClient) IncrementQueuePushCounter(queue string) {
	m.metrics.QueuePushCounter.WithLabelValues(queue).Inc()
}

func (m *DefaultMetricsClient) IncrementServerRequestCounter(status string) {
	m.metrics.ServerRequestCounter.WithLabelValues(status).Inc()
}

func (m *DefaultMetricsClient) IncrementTaskCounter(queue, outcome string) {
	m.metrics.TaskCounter.WithLabelValues(queue, outcome).Inc()
}

func (m *DefaultMetricsClient) SetConsecutiveFailures(queue string, count int) {
	m.metrics.ConsecutiveFailures.WithLabelValues(queue).Set(float64(count))
}

func (m *DefaultMetricsClient) ObserveTaskDuration(queue string, d time.Duration) {
	m.metrics.TaskDuration.WithLabelValues(queue).Observe(d.Seconds())
}

func (m *DefaultMetricsClient) SetEncodeProgress(contentID, resolution string, percent float64) {
	m.metrics.EncodeProgress.WithLabelValues(contentID, resolution).Set(percent)
}

func (m *DefaultMetricsClient) ObserveTranscodeDuration(resolution string, d time.Duration) {
	m.metrics.TranscodeDuration.WithLabelValues(resolution).Observe(d.Seconds())
}

// StartMetricsServer serves /metrics from gatherer until ctx is cancelled.
func StartMetricsServer(ctx context.Context, port string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Info("Starting metrics server", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			Logger.Error("System Error: Failed to gracefully shutdown metrics server", zap.Error(err))
			return err
		}
		Logger.Info("Metrics server gracefully stopped")
		return nil
	case err := <-errCh:
		Logger.Error("System Error: Metrics server failed", zap.Error(err))
		return err
	}
}
