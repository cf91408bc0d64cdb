package worker

import (
	"context"
	"errors"
	"time"

	"hlsflow/internal/telemetry"

	"go.uber.org/zap"
)

// Group runs several loops in one process and stops them together.
type Group struct {
	loops       []*Loop
	stopTimeout time.Duration
}

func NewGroup(stopTimeout time.Duration, loops ...*Loop) *Group {
	return &Group{loops: loops, stopTimeout: stopTimeout}
}

// Run starts every loop and blocks until ctx is cancelled or any loop exits
// on its own. All loops are then stopped. The returned error is
// ErrCircuitOpen when a breaker tripped.
func (g *Group) Run(ctx context.Context) error {
	for _, l := range g.loops {
		if err := l.Start(); err != nil {
			g.stopAll()
			return err
		}
	}

	exited := make(chan struct{}, len(g.loops))
	for _, l := range g.loops {
		go func(done <-chan struct{}) {
			<-done
			exited <- struct{}{}
		}(l.Done())
	}

	select {
	case <-ctx.Done():
		telemetry.Logger.Info("Shutdown requested, stopping worker loops")
	case <-exited:
	}

	clean := g.stopAll()

	var errs []error
	for _, l := range g.loops {
		if err := l.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if !clean {
		return errors.New("worker loops did not stop within timeout")
	}
	return nil
}

func (g *Group) stopAll() bool {
	clean := true
	for _, l := range g.loops {
		if !l.Stop(g.stopTimeout) {
			clean = false
			telemetry.Logger.Warn("Worker loop still busy at shutdown", zap.String("queue", l.transport.Queue()))
		}
	}
	return clean
}
