package processor

import (
	"context"
	"fmt"
	"strings"

	"hlsflow/internal/model"
	"hlsflow/internal/repository/storage"
	"hlsflow/internal/telemetry"
	"hlsflow/internal/worker"

	"go.uber.org/zap"
)

type FileDeletePayload struct {
	Keys   []string `json:"keys" validate:"dive,required"`
	Prefix string   `json:"prefix"`
}

// FileDelete removes objects for delete_files tasks. Deleting objects that
// are already gone succeeds, so the task is safe to replay.
type FileDelete struct {
	store storage.ObjectStore
}

func NewFileDelete(store storage.ObjectStore) *FileDelete {
	return &FileDelete{store: store}
}

func (f *FileDelete) Process(ctx context.Context, task *model.Task) error {
	var p FileDeletePayload
	if err := worker.DecodePayload(task.Payload, &p); err != nil {
		return err
	}
	if len(p.Keys) == 0 && p.Prefix == "" {
		return worker.Validationf("delete_files needs keys or prefix")
	}
	// an empty or root prefix would wipe the bucket
	if p.Prefix != "" && strings.Trim(p.Prefix, "/") == "" {
		return worker.Validationf("refusing to delete prefix %q", p.Prefix)
	}

	if len(p.Keys) > 0 {
		if err := f.store.Delete(ctx, p.Keys); err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
	}

	deleted := 0
	if p.Prefix != "" {
		n, err := f.store.DeletePrefix(ctx, p.Prefix)
		if err != nil {
			return fmt.Errorf("delete prefix %s: %w", p.Prefix, err)
		}
		deleted = n
	}

	telemetry.Logger.Info("Files deleted",
		zap.Int("keys", len(p.Keys)), zap.String("prefix", p.Prefix), zap.Int("prefix_objects", deleted))
	return nil
}
