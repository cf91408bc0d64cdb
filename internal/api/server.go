package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"time"

	"hlsflow/internal/model"
	"hlsflow/internal/service"
	"hlsflow/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxTaskBytes = 1 << 20

var queueName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Server accepts tasks over HTTP and puts them on queues.
type Server struct {
	services *service.Services
	port     string
	gatherer prometheus.Gatherer
	server   *http.Server
}

// NewServer creates a new API server with the provided services. A nil
// gatherer disables /metrics.
func NewServer(svc *service.Services, port string, gatherer prometheus.Gatherer) *Server {
	if port == "" {
		port = "8080"
	}

	return &Server{
		services: svc,
		port:     port,
		gatherer: gatherer,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks/{queue}", s.handleSubmitTask)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         ":" + s.port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		telemetry.Logger.Info("Starting server", zap.String("port", s.port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		telemetry.Logger.Info("Shutting down server gracefully")
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type submitResponse struct {
	Queue string `json:"queue"`
	Type  string `json:"type"`
}

// handleSubmitTask enqueues the flat task JSON in the body onto the queue
// named in the path.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	queue := r.PathValue("queue")
	if !queueName.MatchString(queue) {
		s.services.Metrics.IncrementServerRequestCounter("failed")
		http.Error(w, "Invalid queue name", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTaskBytes))
	if err != nil {
		telemetry.Logger.Error("User error: Failed to read task body", zap.String("queue", queue), zap.Error(err))
		s.services.Metrics.IncrementServerRequestCounter("failed")
		http.Error(w, "Invalid task body", http.StatusBadRequest)
		return
	}

	task, err := model.ParseTask(string(body))
	if err != nil {
		telemetry.Logger.Error("User error: Failed to decode task from request",
			zap.String("queue", queue), zap.ByteString("request_body", body), zap.Error(err))
		s.services.Metrics.IncrementServerRequestCounter("failed")
		msg := "Invalid task format"
		if errors.Is(err, model.ErrMissingType) {
			msg = "Task type is required"
		}
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.services.Enqueue(ctx, queue, task); err != nil {
		telemetry.Logger.Error("System Error: Failed to enqueue task", zap.String("queue", queue), zap.Error(err))
		s.services.Metrics.IncrementServerRequestCounter("failed")
		http.Error(w, "Failed to enqueue task", http.StatusInternalServerError)
		return
	}

	telemetry.Logger.Info("Task submitted successfully", zap.String("queue", queue), zap.String("type", task.Type))
	s.services.Metrics.IncrementServerRequestCounter("success")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitResponse{Queue: queue, Type: task.Type})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.services.Redis.Ping(ctx); err != nil {
		telemetry.Logger.Error("System Error: Health check failed", zap.Error(err))
		http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}
