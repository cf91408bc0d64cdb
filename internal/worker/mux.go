package worker

import (
	"context"
	"sort"

	"hlsflow/internal/model"
)

// Processor runs the business logic for one task. Returned errors are
// classified with Classify.
type Processor interface {
	Process(ctx context.Context, task *model.Task) error
}

type ProcessorFunc func(ctx context.Context, task *model.Task) error

func (f ProcessorFunc) Process(ctx context.Context, task *model.Task) error {
	return f(ctx, task)
}

type queueKey struct{}

// WithQueue records the queue a task was received from.
func WithQueue(ctx context.Context, queue string) context.Context {
	return context.WithValue(ctx, queueKey{}, queue)
}

// QueueFromContext returns the queue set by WithQueue, if any.
func QueueFromContext(ctx context.Context) (string, bool) {
	q, ok := ctx.Value(queueKey{}).(string)
	return q, ok && q != ""
}

// Mux routes tasks to processors by task type.
type Mux struct {
	routes map[string]Processor
}

func NewMux() *Mux {
	return &Mux{routes: map[string]Processor{}}
}

func (m *Mux) Handle(taskType string, p Processor) {
	m.routes[taskType] = p
}

func (m *Mux) HandleFunc(taskType string, f func(ctx context.Context, task *model.Task) error) {
	m.Handle(taskType, ProcessorFunc(f))
}

// Types lists the registered task types.
func (m *Mux) Types() []string {
	types := make([]string, 0, len(m.routes))
	for t := range m.routes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (m *Mux) Process(ctx context.Context, task *model.Task) error {
	p, ok := m.routes[task.Type]
	if !ok {
		return Validationf("no processor registered for task type %q", task.Type)
	}
	return p.Process(ctx, task)
}
