package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hlsflow/internal/config"
	"hlsflow/internal/model"
	"hlsflow/internal/worker"
	"hlsflow/test/fakes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailProcess(t *testing.T) {
	var got map[string]any
	var auth string
	status := http.StatusAccepted
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(status)
	}))
	defer server.Close()

	email := NewEmail(config.MailConfig{BaseURL: server.URL, APIKey: "secret", From: "noreply@example.com", Timeout: time.Second})
	defer email.Close()
	ctx := context.Background()

	t.Run("delivers", func(t *testing.T) {
		task := model.NewTask(model.TaskSendEmail, map[string]any{
			"to": "viewer@example.com", "subject": "Your video is ready", "body": "Enjoy",
		})
		require.NoError(t, email.Process(ctx, task))
		assert.Equal(t, "viewer@example.com", got["to"])
		assert.Equal(t, "noreply@example.com", got["from"])
		assert.Equal(t, "Enjoy", got["text"])
		assert.Equal(t, "Bearer secret", auth)
	})

	t.Run("invalid recipient is validation", func(t *testing.T) {
		task := model.NewTask(model.TaskSendEmail, map[string]any{"to": "nobody", "subject": "x", "body": "y"})
		assert.Equal(t, worker.OutcomeValidation, worker.Classify(email.Process(ctx, task)))
	})

	t.Run("html body is enough", func(t *testing.T) {
		task := model.NewTask(model.TaskSendEmail, map[string]any{"to": "a@example.com", "subject": "x", "html": "<p>y</p>"})
		assert.NoError(t, email.Process(ctx, task))
	})

	t.Run("4xx is validation", func(t *testing.T) {
		status = http.StatusUnprocessableEntity
		defer func() { status = http.StatusAccepted }()
		task := model.NewTask(model.TaskSendEmail, map[string]any{"to": "a@example.com", "subject": "x", "body": "y"})
		assert.Equal(t, worker.OutcomeValidation, worker.Classify(email.Process(ctx, task)))
	})

	for _, code := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout} {
		t.Run(fmt.Sprintf("%d is infrastructure", code), func(t *testing.T) {
			status = code
			defer func() { status = http.StatusAccepted }()
			task := model.NewTask(model.TaskSendEmail, map[string]any{"to": "a@example.com", "subject": "x", "body": "y"})
			assert.Equal(t, worker.OutcomeInfrastructure, worker.Classify(email.Process(ctx, task)))
		})
	}

	t.Run("5xx is infrastructure", func(t *testing.T) {
		status = http.StatusBadGateway
		defer func() { status = http.StatusAccepted }()
		task := model.NewTask(model.TaskSendEmail, map[string]any{"to": "a@example.com", "subject": "x", "body": "y"})
		assert.Equal(t, worker.OutcomeInfrastructure, worker.Classify(email.Process(ctx, task)))
	})
}

func TestEmailUnreachableIsInfrastructure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	email := NewEmail(config.MailConfig{BaseURL: server.URL, Timeout: time.Second})
	defer email.Close()

	task := model.NewTask(model.TaskSendEmail, map[string]any{"to": "a@example.com", "subject": "x", "body": "y"})
	assert.Equal(t, worker.OutcomeInfrastructure, worker.Classify(email.Process(context.Background(), task)))
}

func TestFileDeleteProcess(t *testing.T) {
	store := fakes.NewObjectStore()
	ctx := context.Background()
	for _, k := range []string{"c1/source.mp4", "c1/hls/primary/master.m3u8", "c1/hls/primary/hd/hd.m3u8", "c2/source.mp4"} {
		require.NoError(t, store.Put(ctx, k, []byte("x"), "application/octet-stream"))
	}
	p := NewFileDelete(store)

	require.NoError(t, p.Process(ctx, model.NewTask(model.TaskDeleteFiles, map[string]any{
		"keys": []any{"c1/source.mp4", "c1/missing.mp4"},
	})))
	require.NoError(t, p.Process(ctx, model.NewTask(model.TaskDeleteFiles, map[string]any{
		"prefix": "c1/hls/",
	})))
	assert.Equal(t, []string{"c2/source.mp4"}, store.Keys(""))

	// replay is a no-op
	require.NoError(t, p.Process(ctx, model.NewTask(model.TaskDeleteFiles, map[string]any{"prefix": "c1/hls/"})))

	for _, payload := range []map[string]any{{}, {"prefix": "/"}, {"keys": []any{""}}} {
		err := p.Process(ctx, model.NewTask(model.TaskDeleteFiles, payload))
		assert.Equal(t, worker.OutcomeValidation, worker.Classify(err), "%v", payload)
	}

	store.DeleteErr = errors.New("store unavailable")
	err := p.Process(ctx, model.NewTask(model.TaskDeleteFiles, map[string]any{"keys": []any{"c2/source.mp4"}}))
	assert.Equal(t, worker.OutcomeInfrastructure, worker.Classify(err))
}

func TestContentSyncProcess(t *testing.T) {
	type call struct {
		method, path string
		body         []map[string]any
	}
	var calls []call
	status := http.StatusAccepted
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{method: r.Method, path: r.URL.Path}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &c.body)
		calls = append(calls, c)
		w.WriteHeader(status)
	}))
	defer server.Close()

	sync := NewContentSync(config.SearchConfig{BaseURL: server.URL, Index: "contents", Timeout: time.Second})
	defer sync.Close()
	ctx := context.Background()

	require.NoError(t, sync.Process(ctx, model.NewTask(model.TaskSyncContent, map[string]any{
		"content_id": "c1",
		"action":     "upsert",
		"document":   map[string]any{"title": "Pilot"},
	})))
	require.NoError(t, sync.Process(ctx, model.NewTask(model.TaskSyncContent, map[string]any{
		"content_id": "c1",
		"action":     "delete",
	})))

	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPut, calls[0].method)
	assert.Equal(t, "/indexes/contents/documents", calls[0].path)
	require.Len(t, calls[0].body, 1)
	assert.Equal(t, "c1", calls[0].body[0]["id"])
	assert.Equal(t, "Pilot", calls[0].body[0]["title"])
	assert.Equal(t, http.MethodDelete, calls[1].method)
	assert.Equal(t, "/indexes/contents/documents/c1", calls[1].path)

	err := sync.Process(ctx, model.NewTask(model.TaskSyncContent, map[string]any{"content_id": "c1", "action": "merge"}))
	assert.Equal(t, worker.OutcomeValidation, worker.Classify(err))
	err = sync.Process(ctx, model.NewTask(model.TaskSyncContent, map[string]any{"content_id": "c1", "action": "upsert"}))
	assert.Equal(t, worker.OutcomeValidation, worker.Classify(err))

	status = http.StatusTooManyRequests
	err = sync.Process(ctx, model.NewTask(model.TaskSyncContent, map[string]any{"content_id": "c1", "action": "delete"}))
	assert.Equal(t, worker.OutcomeInfrastructure, worker.Classify(err))

	status = http.StatusBadRequest
	err = sync.Process(ctx, model.NewTask(model.TaskSyncContent, map[string]any{"content_id": "c1", "action": "delete"}))
	assert.Equal(t, worker.OutcomeValidation, worker.Classify(err))

	status = http.StatusServiceUnavailable
	err = sync.Process(ctx, model.NewTask(model.TaskSyncContent, map[string]any{"content_id": "c1", "action": "delete"}))
	assert.Equal(t, worker.OutcomeInfrastructure, worker.Classify(err))
}
