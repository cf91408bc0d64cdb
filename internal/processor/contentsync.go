package processor

import (
	"context"
	"net/url"

	"hlsflow/internal/config"
	"hlsflow/internal/model"
	"hlsflow/internal/telemetry"
	"hlsflow/internal/worker"

	"go.uber.org/zap"
	"resty.dev/v3"
)

const (
	SyncUpsert = "upsert"
	SyncDelete = "delete"
)

type ContentSyncPayload struct {
	ContentID string         `json:"content_id" validate:"required"`
	Action    string         `json:"action" validate:"required,oneof=upsert delete"`
	Document  map[string]any `json:"document"`
}

// ContentSync mirrors content documents into the search index.
type ContentSync struct {
	client *resty.Client
	index  string
}

func NewContentSync(cfg config.SearchConfig) *ContentSync {
	return &ContentSync{
		client: newHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout),
		index:  cfg.Index,
	}
}

func (c *ContentSync) Close() error {
	return c.client.Close()
}

func (c *ContentSync) Process(ctx context.Context, task *model.Task) error {
	var p ContentSyncPayload
	if err := worker.DecodePayload(task.Payload, &p); err != nil {
		return err
	}

	var err error
	switch p.Action {
	case SyncUpsert:
		err = c.upsert(ctx, p)
	case SyncDelete:
		err = c.delete(ctx, p.ContentID)
	}
	if err != nil {
		return err
	}

	telemetry.Logger.Info("Content synced", zap.String("content_id", p.ContentID), zap.String("action", p.Action))
	return nil
}

func (c *ContentSync) upsert(ctx context.Context, p ContentSyncPayload) error {
	if len(p.Document) == 0 {
		return worker.Validationf("upsert of %s has no document", p.ContentID)
	}

	doc := make(map[string]any, len(p.Document)+1)
	for k, v := range p.Document {
		doc[k] = v
	}
	doc["id"] = p.ContentID

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody([]map[string]any{doc}).
		Put("/indexes/" + url.PathEscape(c.index) + "/documents")
	return checkResponse("index document", resp, err)
}

func (c *ContentSync) delete(ctx context.Context, contentID string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Delete("/indexes/" + url.PathEscape(c.index) + "/documents/" + url.PathEscape(contentID))
	return checkResponse("delete document", resp, err)
}
