package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hlsflow/internal/model"
	"hlsflow/internal/telemetry"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound          = errors.New("conversion record not found")
	ErrInvalidTransition = errors.New("invalid conversion status transition")
)

// Completion carries the fields written when a record moves to completed.
type Completion struct {
	VideoInfo          model.VideoInfo
	SegmentCount       int
	OutputPath         string
	MasterPlaylistPath string
}

// Ledger persists ConversionRecords. Only processing -> completed and
// processing -> failed transitions are accepted.
type Ledger interface {
	Create(ctx context.Context, rec *model.ConversionRecord) error
	Complete(ctx context.Context, id string, c Completion) error
	Fail(ctx context.Context, id string, reason string) error
	Get(ctx context.Context, id string) (*model.ConversionRecord, error)
	ListCompleted(ctx context.Context, contentID, group string) ([]model.ConversionRecord, error)
	Touch(ctx context.Context, id string) error
	FailStale(ctx context.Context, idleSince time.Time, reason string) (int64, error)
}

type GormLedger struct {
	db *gorm.DB
}

// Open connects to the sqlite database at dsn, creating its directory and
// migrating the schema.
func Open(dsn string) (*GormLedger, error) {
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		telemetry.Logger.Error("System Error: Failed to open ledger database", zap.String("dsn", dsn), zap.Error(err))
		return nil, err
	}

	if err := db.AutoMigrate(&model.ConversionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}

	telemetry.Logger.Info("Ledger opened", zap.String("dsn", dsn))
	return &GormLedger{db: db}, nil
}

func (l *GormLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts rec in the processing state, assigning an id and start
// time when missing. UpdatedAt starts at StartedAt.
func (l *GormLedger) Create(ctx context.Context, rec *model.ConversionRecord) error {
	if rec.ID == "" {
		rec.ID = shortuuid.New()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.StartedAt
	}
	rec.Status = model.ConversionProcessing

	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create conversion record: %w", err)
	}
	return nil
}

func (l *GormLedger) Complete(ctx context.Context, id string, c Completion) error {
	now := time.Now().UTC()
	info := c.VideoInfo
	update := model.ConversionRecord{
		Status:             model.ConversionCompleted,
		VideoInfo:          &info,
		SegmentCount:       c.SegmentCount,
		OutputPath:         c.OutputPath,
		MasterPlaylistPath: c.MasterPlaylistPath,
		CompletedAt:        &now,
		UpdatedAt:          now,
	}

	res := l.db.WithContext(ctx).
		Model(&model.ConversionRecord{}).
		Where("id = ? AND status = ?", id, model.ConversionProcessing).
		Select("Status", "VideoInfo", "SegmentCount", "OutputPath", "MasterPlaylistPath", "CompletedAt", "UpdatedAt").
		Updates(&update)
	return l.checkTransition(ctx, id, res)
}

func (l *GormLedger) Fail(ctx context.Context, id string, reason string) error {
	now := time.Now().UTC()
	res := l.db.WithContext(ctx).
		Model(&model.ConversionRecord{}).
		Where("id = ? AND status = ?", id, model.ConversionProcessing).
		Updates(map[string]any{
			"status":       model.ConversionFailed,
			"error":        reason,
			"completed_at": now,
			"updated_at":   now,
		})
	return l.checkTransition(ctx, id, res)
}

func (l *GormLedger) checkTransition(ctx context.Context, id string, res *gorm.DB) error {
	if res.Error != nil {
		return fmt.Errorf("update conversion record %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	rec, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: record %s is %s", ErrInvalidTransition, id, rec.Status)
}

func (l *GormLedger) Get(ctx context.Context, id string) (*model.ConversionRecord, error) {
	var rec model.ConversionRecord
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversion record %s: %w", id, err)
	}
	return &rec, nil
}

// ListCompleted returns completed records for a content and rendition group,
// most recently completed first.
func (l *GormLedger) ListCompleted(ctx context.Context, contentID, group string) ([]model.ConversionRecord, error) {
	var recs []model.ConversionRecord
	err := l.db.WithContext(ctx).
		Where("content_id = ? AND rendition_group = ? AND status = ?", contentID, group, model.ConversionCompleted).
		Order("completed_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list completed records for %s/%s: %w", contentID, group, err)
	}
	return recs, nil
}

// Touch is the heartbeat of a running conversion: it moves updated_at of a
// processing record to now.
func (l *GormLedger) Touch(ctx context.Context, id string) error {
	res := l.db.WithContext(ctx).
		Model(&model.ConversionRecord{}).
		Where("id = ? AND status = ?", id, model.ConversionProcessing).
		Update("updated_at", time.Now().UTC())
	return l.checkTransition(ctx, id, res)
}

// FailStale marks processing records whose last heartbeat is older than
// idleSince as failed.
func (l *GormLedger) FailStale(ctx context.Context, idleSince time.Time, reason string) (int64, error) {
	now := time.Now().UTC()
	res := l.db.WithContext(ctx).
		Model(&model.ConversionRecord{}).
		Where("status = ? AND updated_at < ?", model.ConversionProcessing, idleSince.UTC()).
		Updates(map[string]any{
			"status":       model.ConversionFailed,
			"error":        reason,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("fail stale records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
