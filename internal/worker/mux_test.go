package worker

import (
	"context"
	"errors"
	"testing"

	"hlsflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxRoutesByType(t *testing.T) {
	mux := NewMux()
	var got string
	mux.HandleFunc(model.TaskSendEmail, func(_ context.Context, task *model.Task) error {
		got = task.Type
		return nil
	})
	mux.HandleFunc(model.TaskDeleteFiles, func(context.Context, *model.Task) error {
		return errors.New("store down")
	})

	require.NoError(t, mux.Process(context.Background(), model.NewTask(model.TaskSendEmail, nil)))
	assert.Equal(t, model.TaskSendEmail, got)

	err := mux.Process(context.Background(), model.NewTask(model.TaskDeleteFiles, nil))
	assert.Equal(t, OutcomeInfrastructure, Classify(err))

	err = mux.Process(context.Background(), model.NewTask("resize_image", nil))
	assert.Equal(t, OutcomeValidation, Classify(err))

	assert.Equal(t, []string{model.TaskDeleteFiles, model.TaskSendEmail}, mux.Types())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"plain", errors.New("timeout"), OutcomeInfrastructure},
		{"validation", Validationf("missing %s", "to"), OutcomeValidation},
		{"wrapped validation", fmtWrap(Validationf("bad")), OutcomeValidation},
		{"malformed", &model.MalformedTaskError{Raw: "x", Err: errors.New("eof")}, OutcomeValidation},
		{"retry scheduled", RetryScheduled(errors.New("playlist")), OutcomeInfrastructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}

	assert.True(t, IsRetryScheduled(fmtWrap(RetryScheduled(errors.New("x")))))
	assert.False(t, IsRetryScheduled(errors.New("x")))
	assert.Nil(t, Validation(nil))
	assert.Nil(t, RetryScheduled(nil))
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("stage"), err)
}

type samplePayload struct {
	ContentID string   `json:"content_id" validate:"required"`
	Count     int      `json:"count" validate:"gte=0"`
	To        string   `json:"to" validate:"omitempty,email"`
	Keys      []string `json:"keys"`
}

func TestDecodePayload(t *testing.T) {
	var p samplePayload
	err := DecodePayload(map[string]any{
		"content_id": 42.0,
		"count":      "3",
		"keys":       []any{"a", "b"},
		"extra":      true,
	}, &p)
	require.NoError(t, err)
	assert.Equal(t, "42", p.ContentID)
	assert.Equal(t, 3, p.Count)
	assert.Equal(t, []string{"a", "b"}, p.Keys)

	err = DecodePayload(map[string]any{"count": 1}, &samplePayload{})
	assert.Equal(t, OutcomeValidation, Classify(err))
	assert.Contains(t, err.Error(), "content_id")

	err = DecodePayload(map[string]any{"content_id": "c1", "to": "not-an-email"}, &samplePayload{})
	assert.Equal(t, OutcomeValidation, Classify(err))

	err = DecodePayload(map[string]any{"content_id": "c1", "count": "many"}, &samplePayload{})
	assert.Equal(t, OutcomeValidation, Classify(err))
}
