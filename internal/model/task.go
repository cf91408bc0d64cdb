package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Task types understood by the bundled processors.
const (
	TaskSendEmail          = "send_email"
	TaskDeleteFiles        = "delete_files"
	TaskSyncContent        = "sync_content"
	TaskTranscode          = "transcode"
	TaskTranscodeEpisode   = "transcode_episode"
	TaskTranscodeSecondary = "transcode_secondary"
	TaskRegeneratePlaylist = "regenerate_playlist"
)

// Task is a unit of work on a queue. On the wire it is a flat JSON object:
// "type" names the processor route and every other key is payload.
type Task struct {
	Type    string
	Payload map[string]any
}

// MalformedTaskError reports a queue entry that cannot be decoded into a Task.
type MalformedTaskError struct {
	Raw string
	Err error
}

func (e *MalformedTaskError) Error() string {
	return fmt.Sprintf("malformed task %q: %v", e.Raw, e.Err)
}

func (e *MalformedTaskError) Unwrap() error { return e.Err }

var ErrMissingType = errors.New("task has no type")

func NewTask(taskType string, payload map[string]any) *Task {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Task{Type: taskType, Payload: payload}
}

func (t Task) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(t.Payload)+1)
	for k, v := range t.Payload {
		flat[k] = v
	}
	flat["type"] = t.Type
	return json.Marshal(flat)
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	taskType, ok := flat["type"].(string)
	if !ok || taskType == "" {
		return ErrMissingType
	}
	delete(flat, "type")

	t.Type = taskType
	t.Payload = flat
	return nil
}

// ParseTask decodes a raw queue entry. Decode failures are returned as
// *MalformedTaskError so callers can drop the entry instead of retrying it.
func ParseTask(raw string) (*Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, &MalformedTaskError{Raw: raw, Err: err}
	}
	return &task, nil
}

// String returns the wire form, used for logging.
func (t *Task) String() string {
	b, err := json.Marshal(t)
	if err != nil {
		return t.Type
	}
	return string(b)
}

// AttemptKey is the payload key carrying the delivery attempt of a task
// requeued on a list queue. Absent means first attempt.
const AttemptKey = "_attempt"

// Attempt returns the delivery attempt recorded in the payload, at least 1.
func (t *Task) Attempt() int {
	var n int
	switch v := t.Payload[AttemptKey].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	}
	if n < 1 {
		return 1
	}
	return n
}

// WithAttempt returns a copy of the task with its attempt set to n.
func (t *Task) WithAttempt(n int) *Task {
	payload := make(map[string]any, len(t.Payload)+1)
	for k, v := range t.Payload {
		payload[k] = v
	}
	payload[AttemptKey] = n
	return &Task{Type: t.Type, Payload: payload}
}
