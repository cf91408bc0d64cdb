package janitor

import (
	"context"
	"fmt"
	"time"

	"hlsflow/internal/telemetry"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const AbandonedReason = "abandoned"

// StaleFailer is the ledger operation the janitor needs.
type StaleFailer interface {
	FailStale(ctx context.Context, idleSince time.Time, reason string) (int64, error)
}

// Janitor periodically fails conversion records left processing by workers
// that died mid-job. A running pipeline touches its record on every lock
// keep-alive, so only records without a recent heartbeat are swept.
type Janitor struct {
	ledger     StaleFailer
	staleAfter time.Duration
	cron       *cron.Cron
	now        func() time.Time
}

func New(ledger StaleFailer, schedule string, staleAfter time.Duration) (*Janitor, error) {
	if staleAfter <= 0 {
		return nil, fmt.Errorf("janitor stale_after must be positive, got %s", staleAfter)
	}
	j := &Janitor{
		ledger:     ledger,
		staleAfter: staleAfter,
		cron:       cron.New(),
		now:        time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Sweep fails every processing record not touched for staleAfter.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.staleAfter)
	n, err := j.ledger.FailStale(ctx, cutoff, AbandonedReason)
	if err != nil {
		telemetry.Logger.Error("System Error: Janitor sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		telemetry.Logger.Warn("Janitor failed abandoned conversions", zap.Int64("records", n), zap.Time("idle_since", cutoff))
	}
	return n
}

// Run starts the schedule and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	j.cron.Start()
	telemetry.Logger.Info("Janitor started", zap.Duration("stale_after", j.staleAfter))
	<-ctx.Done()
	<-j.cron.Stop().Done()
	telemetry.Logger.Info("Janitor stopped")
}
