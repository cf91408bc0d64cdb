package janitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"hlsflow/internal/model"
	"hlsflow/internal/repository/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepFailsAbandonedRecords(t *testing.T) {
	db, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := &model.ConversionRecord{ContentID: "c1", RenditionGroup: "primary", Resolution: model.ResolutionHD, StartedAt: now.Add(-3 * time.Hour)}
	fresh := &model.ConversionRecord{ContentID: "c1", RenditionGroup: "primary", Resolution: model.ResolutionSD, StartedAt: now.Add(-time.Minute)}
	require.NoError(t, db.Create(ctx, old))
	require.NoError(t, db.Create(ctx, fresh))

	j, err := New(db, "@every 1h", 2*time.Hour)
	require.NoError(t, err)
	j.now = func() time.Time { return now }

	assert.Equal(t, int64(1), j.Sweep(ctx))

	got, err := db.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversionFailed, got.Status)
	assert.Equal(t, AbandonedReason, got.Error)

	got, err = db.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversionProcessing, got.Status)

	assert.Zero(t, j.Sweep(ctx))
}

type failingLedger struct{}

func (failingLedger) FailStale(context.Context, time.Time, string) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestSweepErrorIsLogged(t *testing.T) {
	j, err := New(failingLedger{}, "@every 1h", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, j.Sweep(context.Background()))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(failingLedger{}, "every tuesday", time.Hour)
	assert.Error(t, err)

	_, err = New(failingLedger{}, "@every 1m", 0)
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	j, err := New(failingLedger{}, "@every 1h", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
