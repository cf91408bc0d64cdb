package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hlsflow/internal/model"
	"hlsflow/test/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeTransport serves queued tasks and receive errors in order and records
// how each message was settled.
type fakeTransport struct {
	mu          sync.Mutex
	tasks       []*model.Task
	receiveErrs []error

	acked    []string
	dropped  []string
	requeued []string
}

func (f *fakeTransport) Queue() string { return "video" }

func (f *fakeTransport) push(tasks ...*model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, tasks...)
}

func (f *fakeTransport) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	f.mu.Lock()
	if len(f.receiveErrs) > 0 {
		err := f.receiveErrs[0]
		f.receiveErrs = f.receiveErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	if len(f.tasks) > 0 {
		task := f.tasks[0]
		f.tasks = f.tasks[1:]
		f.mu.Unlock()
		return &Message{Task: task}, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(timeout):
	}
	return nil, nil
}

func (f *fakeTransport) Ack(_ context.Context, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, msg.Task.Type)
	return nil
}

func (f *fakeTransport) Reject(_ context.Context, msg *Message, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if requeue {
		f.requeued = append(f.requeued, msg.Task.Type)
	} else {
		f.dropped = append(f.dropped, msg.Task.Type)
	}
	return nil
}

func (f *fakeTransport) counts() (acked, dropped, requeued int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked), len(f.dropped), len(f.requeued)
}

func newMetricsMock(t *testing.T) *mocks.MetricsClient {
	metricsMock := mocks.NewMetricsClient(t)
	metricsMock.On("IncrementTaskCounter", mock.Anything, mock.Anything).Maybe()
	metricsMock.On("SetConsecutiveFailures", mock.Anything, mock.Anything).Maybe()
	metricsMock.On("ObserveTaskDuration", mock.Anything, mock.Anything).Maybe()
	return metricsMock
}

var testOptions = Options{PollTimeout: 10 * time.Millisecond, FailureThreshold: 3}

func taskN(n int) []*model.Task {
	tasks := make([]*model.Task, n)
	for i := range tasks {
		tasks[i] = model.NewTask(model.TaskTranscode, map[string]any{"n": i})
	}
	return tasks
}

func TestValidationFailuresNeverTripBreaker(t *testing.T) {
	transport := &fakeTransport{}
	transport.push(taskN(10)...)

	loop := NewLoop(transport, ProcessorFunc(func(context.Context, *model.Task) error {
		return Validationf("missing content_id")
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	assert.Eventually(t, func() bool {
		_, dropped, _ := transport.counts()
		return dropped == 10
	}, time.Second, 5*time.Millisecond)

	assert.True(t, loop.IsRunning())
	assert.Equal(t, 0, loop.ConsecutiveFailures())
	assert.True(t, loop.Stop(time.Second))
	assert.NoError(t, loop.Err())
}

func TestInfrastructureFailuresTripBreaker(t *testing.T) {
	transport := &fakeTransport{}
	transport.push(taskN(5)...)

	loop := NewLoop(transport, ProcessorFunc(func(context.Context, *model.Task) error {
		return errors.New("object store unavailable")
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after reaching threshold")
	}

	assert.Equal(t, StateStopped, loop.State())
	assert.True(t, errors.Is(loop.Err(), ErrCircuitOpen))
	assert.Equal(t, 3, loop.ConsecutiveFailures())

	_, _, requeued := transport.counts()
	assert.Equal(t, 3, requeued)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	transport := &fakeTransport{}
	transport.push(taskN(6)...)

	// fail, fail, succeed, fail, fail, succeed
	var mu sync.Mutex
	calls := 0
	loop := NewLoop(transport, ProcessorFunc(func(context.Context, *model.Task) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls%3 == 0 {
			return nil
		}
		return errors.New("transient")
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	assert.Eventually(t, func() bool {
		acked, _, _ := transport.counts()
		return acked == 2
	}, time.Second, 5*time.Millisecond)

	assert.True(t, loop.IsRunning())
	assert.Equal(t, 0, loop.ConsecutiveFailures())
	assert.True(t, loop.Stop(time.Second))
	assert.NoError(t, loop.Err())
}

func TestValidationDoesNotResetIntoTrip(t *testing.T) {
	transport := &fakeTransport{}
	transport.push(taskN(4)...)

	// infra, infra, validation, infra: the validation failure resets the run
	results := []error{errors.New("a"), errors.New("b"), Validationf("bad"), errors.New("c")}
	var mu sync.Mutex
	loop := NewLoop(transport, ProcessorFunc(func(context.Context, *model.Task) error {
		mu.Lock()
		defer mu.Unlock()
		err := results[0]
		results = results[1:]
		return err
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	assert.Eventually(t, func() bool {
		_, dropped, requeued := transport.counts()
		return dropped == 1 && requeued == 3
	}, time.Second, 5*time.Millisecond)

	assert.True(t, loop.IsRunning())
	assert.Equal(t, 1, loop.ConsecutiveFailures())
	assert.True(t, loop.Stop(time.Second))
}

func TestPanicCountsAsInfrastructure(t *testing.T) {
	transport := &fakeTransport{}
	transport.push(taskN(1)...)

	loop := NewLoop(transport, ProcessorFunc(func(context.Context, *model.Task) error {
		panic("nil map")
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	assert.Eventually(t, func() bool {
		return loop.ConsecutiveFailures() == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, loop.IsRunning())
	assert.True(t, loop.Stop(time.Second))
}

func TestRetryScheduledIsAckedAndCounted(t *testing.T) {
	transport := &fakeTransport{}
	transport.push(taskN(1)...)

	loop := NewLoop(transport, ProcessorFunc(func(context.Context, *model.Task) error {
		return RetryScheduled(errors.New("playlist write failed"))
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	assert.Eventually(t, func() bool {
		acked, _, _ := transport.counts()
		return acked == 1
	}, time.Second, 5*time.Millisecond)

	_, _, requeued := transport.counts()
	assert.Equal(t, 0, requeued)
	assert.Equal(t, 1, loop.ConsecutiveFailures())
	assert.True(t, loop.Stop(time.Second))
}

func TestReceiveErrorsTripBreaker(t *testing.T) {
	boom := errors.New("connection refused")
	transport := &fakeTransport{receiveErrs: []error{boom, boom, boom}}

	loop := NewLoop(transport, ProcessorFunc(func(context.Context, *model.Task) error {
		return nil
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after repeated receive errors")
	}
	assert.True(t, errors.Is(loop.Err(), ErrCircuitOpen))
}

func TestMalformedReceiveIsValidation(t *testing.T) {
	malformed := &model.MalformedTaskError{Raw: "{", Err: errors.New("unexpected end of JSON input")}
	transport := &fakeTransport{receiveErrs: []error{malformed, malformed, malformed, malformed}}

	loop := NewLoop(transport, ProcessorFunc(func(context.Context, *model.Task) error {
		return nil
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	time.Sleep(50 * time.Millisecond)

	assert.True(t, loop.IsRunning())
	assert.Equal(t, 0, loop.ConsecutiveFailures())
	assert.True(t, loop.Stop(time.Second))
}

func TestStopLetsInFlightTaskFinish(t *testing.T) {
	transport := &fakeTransport{}
	transport.push(taskN(1)...)

	started := make(chan struct{})
	release := make(chan struct{})
	var processCtxErr error
	loop := NewLoop(transport, ProcessorFunc(func(ctx context.Context, _ *model.Task) error {
		close(started)
		<-release
		processCtxErr = ctx.Err()
		return nil
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	<-started

	assert.False(t, loop.Stop(20*time.Millisecond))
	assert.Equal(t, StateStopping, loop.State())

	close(release)
	assert.True(t, loop.Stop(time.Second))
	assert.Equal(t, StateStopped, loop.State())
	assert.NoError(t, processCtxErr)

	acked, _, _ := transport.counts()
	assert.Equal(t, 1, acked)
}

func TestStartTwice(t *testing.T) {
	loop := NewLoop(&fakeTransport{}, ProcessorFunc(func(context.Context, *model.Task) error {
		return nil
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	assert.ErrorIs(t, loop.Start(), ErrAlreadyRunning)
	assert.True(t, loop.Stop(time.Second))

	// a stopped loop can be started again
	require.NoError(t, loop.Start())
	assert.True(t, loop.Stop(time.Second))
}

func TestGroupStopsAllLoopsWhenOneTrips(t *testing.T) {
	failing := &fakeTransport{}
	failing.push(taskN(3)...)
	idle := &fakeTransport{}

	metricsMock := newMetricsMock(t)
	bad := NewLoop(failing, ProcessorFunc(func(context.Context, *model.Task) error {
		return errors.New("down")
	}), metricsMock, testOptions)
	good := NewLoop(idle, ProcessorFunc(func(context.Context, *model.Task) error {
		return nil
	}), metricsMock, testOptions)

	err := NewGroup(time.Second, bad, good).Run(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateStopped, good.State())
	assert.NoError(t, good.Err())
}

func TestGroupStopsOnContextCancel(t *testing.T) {
	loop := NewLoop(&fakeTransport{}, ProcessorFunc(func(context.Context, *model.Task) error {
		return nil
	}), newMetricsMock(t), testOptions)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.NoError(t, NewGroup(time.Second, loop).Run(ctx))
	assert.Equal(t, StateStopped, loop.State())
}

func TestProcessorSeesReceivingQueue(t *testing.T) {
	transport := &fakeTransport{}
	transport.push(taskN(1)...)

	queues := make(chan string, 1)
	loop := NewLoop(transport, ProcessorFunc(func(ctx context.Context, _ *model.Task) error {
		q, _ := QueueFromContext(ctx)
		queues <- q
		return nil
	}), newMetricsMock(t), testOptions)

	require.NoError(t, loop.Start())
	select {
	case q := <-queues:
		assert.Equal(t, "video", q)
	case <-time.After(time.Second):
		t.Fatal("task not processed")
	}
	assert.True(t, loop.Stop(time.Second))

	_, ok := QueueFromContext(context.Background())
	assert.False(t, ok)
}
