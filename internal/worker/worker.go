package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hlsflow/internal/model"
	"hlsflow/internal/telemetry"

	"go.uber.org/zap"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

const (
	DefaultPollTimeout      = time.Second
	DefaultFailureThreshold = 3
)

var ErrAlreadyRunning = errors.New("worker loop already running")

type Options struct {
	PollTimeout      time.Duration
	FailureThreshold int
}

// Loop polls one transport, hands each task to its processor and enforces
// the consecutive failure breaker. One Loop serves one queue.
type Loop struct {
	transport Transport
	processor Processor
	metrics   telemetry.MetricsClient
	opts      Options

	mu       sync.Mutex
	state    State
	failures int
	err      error
	stop     context.CancelFunc
	done     chan struct{}
}

func NewLoop(transport Transport, processor Processor, metrics telemetry.MetricsClient, opts Options) *Loop {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}

	done := make(chan struct{})
	close(done)
	return &Loop{
		transport: transport,
		processor: processor,
		metrics:   metrics,
		opts:      opts,
		done:      done,
	}
}

// Start begins polling on a new goroutine.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateStopped {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.state = StateRunning
	l.failures = 0
	l.err = nil
	l.stop = cancel
	l.done = make(chan struct{})
	l.metrics.SetConsecutiveFailures(l.transport.Queue(), 0)

	go l.run(ctx, l.done)

	telemetry.Logger.Info("Worker loop started", zap.String("queue", l.transport.Queue()))
	return nil
}

// Stop asks the loop to finish its current iteration and waits up to
// timeout. It reports whether the loop has exited.
func (l *Loop) Stop(timeout time.Duration) bool {
	l.mu.Lock()
	if l.state == StateRunning {
		l.state = StateStopping
		l.stop()
	}
	done := l.done
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		telemetry.Logger.Warn("Worker loop did not stop in time",
			zap.String("queue", l.transport.Queue()), zap.Duration("timeout", timeout))
		return false
	}
}

func (l *Loop) IsRunning() bool {
	return l.State() == StateRunning
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed when the current run exits.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Err is ErrCircuitOpen after the breaker tripped, nil otherwise.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Loop) ConsecutiveFailures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		l.state = StateStopped
		l.stop()
		l.mu.Unlock()
		close(done)
		telemetry.Logger.Info("Worker loop stopped", zap.String("queue", l.transport.Queue()))
	}()

	for ctx.Err() == nil {
		if tripped := l.iterate(ctx); tripped {
			return
		}
	}
}

// iterate runs one receive/process/settle cycle and reports whether the
// breaker tripped.
func (l *Loop) iterate(ctx context.Context) bool {
	queue := l.transport.Queue()

	msg, err := l.transport.Receive(ctx, l.opts.PollTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if Classify(err) == OutcomeValidation {
			telemetry.Logger.Error("User error: Dropped undecodable task", zap.String("queue", queue), zap.Error(err))
			l.metrics.IncrementTaskCounter(queue, OutcomeValidation.String())
			l.resetFailures()
			return false
		}

		telemetry.Logger.Error("System Error: Failed to receive task", zap.String("queue", queue), zap.Error(err))
		tripped := l.recordFailure()
		if !tripped {
			l.sleep(ctx, l.opts.PollTimeout)
		}
		return tripped
	}
	if msg == nil {
		return false
	}

	// the in-flight task is not cancelled by Stop
	start := time.Now()
	err = l.process(WithQueue(context.Background(), queue), msg.Task)
	l.metrics.ObserveTaskDuration(queue, time.Since(start))

	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fields := []zap.Field{
		zap.String("queue", queue),
		zap.String("type", msg.Task.Type),
		zap.Any("payload", msg.Task.Payload),
	}

	switch Classify(err) {
	case OutcomeSuccess:
		if ackErr := l.transport.Ack(settleCtx, msg); ackErr != nil {
			telemetry.Logger.Error("System Error: Failed to ack task", append(fields, zap.Error(ackErr))...)
		}
		l.metrics.IncrementTaskCounter(queue, OutcomeSuccess.String())
		l.resetFailures()
		return false

	case OutcomeValidation:
		telemetry.Logger.Error("User error: Task failed validation, dropping", append(fields, zap.Error(err))...)
		if rejErr := l.transport.Reject(settleCtx, msg, false); rejErr != nil {
			telemetry.Logger.Error("System Error: Failed to reject task", append(fields, zap.Error(rejErr))...)
		}
		l.metrics.IncrementTaskCounter(queue, OutcomeValidation.String())
		l.resetFailures()
		return false

	default:
		var settleErr error
		if IsRetryScheduled(err) {
			telemetry.Logger.Error("System Error: Task failed, follow-up already scheduled", append(fields, zap.Error(err))...)
			settleErr = l.transport.Ack(settleCtx, msg)
			l.metrics.IncrementTaskCounter(queue, "retry_scheduled")
		} else {
			telemetry.Logger.Error("System Error: Task failed", append(fields, zap.Error(err))...)
			settleErr = l.transport.Reject(settleCtx, msg, true)
			l.metrics.IncrementTaskCounter(queue, OutcomeInfrastructure.String())
		}
		if settleErr != nil {
			telemetry.Logger.Error("System Error: Failed to settle failed task", append(fields, zap.Error(settleErr))...)
		}
		return l.recordFailure()
	}
}

func (l *Loop) process(ctx context.Context, task *model.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return l.processor.Process(ctx, task)
}

func (l *Loop) resetFailures() {
	l.mu.Lock()
	l.failures = 0
	l.mu.Unlock()
	l.metrics.SetConsecutiveFailures(l.transport.Queue(), 0)
}

func (l *Loop) recordFailure() bool {
	l.mu.Lock()
	l.failures++
	failures := l.failures
	tripped := failures >= l.opts.FailureThreshold
	if tripped {
		l.err = ErrCircuitOpen
	}
	l.mu.Unlock()

	l.metrics.SetConsecutiveFailures(l.transport.Queue(), failures)
	if tripped {
		telemetry.Logger.Error("System Error: CRITICAL consecutive failure threshold reached, stopping worker loop",
			zap.String("queue", l.transport.Queue()),
			zap.Int("failures", failures),
			zap.Int("threshold", l.opts.FailureThreshold))
	}
	return tripped
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
