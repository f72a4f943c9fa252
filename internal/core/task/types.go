package task

import (
	"context"
	"encoding/json"
	"fmt"
)

// TaskType defines the type of asynchronous task
type TaskType string

const (
	TaskTypeBackfill TaskType = "call_backfill" // Fetch transcript and audio for a finished call
)

// Task represents an asynchronous task payload
type Task struct {
	Type    TaskType `json:"type"`
	CallID  string   `json:"call_id"`
	Payload []byte   `json:"payload,omitempty"` // JSON payload specific to Type
}

// BackfillPayload identifies the conversation to fetch artifacts for
type BackfillPayload struct {
	ConversationID string `json:"conversation_id"`
	NeedTranscript bool   `json:"need_transcript"`
	NeedRecording  bool   `json:"need_recording"`
}

// NewBackfillTask builds a backfill task for callID
func NewBackfillTask(callID string, payload BackfillPayload) (Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("failed to marshal backfill payload: %w", err)
	}
	return Task{Type: TaskTypeBackfill, CallID: callID, Payload: data}, nil
}

// BackfillPayload decodes the task payload
func (t Task) BackfillPayload() (BackfillPayload, error) {
	var p BackfillPayload
	if t.Type != TaskTypeBackfill {
		return p, fmt.Errorf("task type %q is not %q", t.Type, TaskTypeBackfill)
	}
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal backfill payload: %w", err)
	}
	return p, nil
}

// Bus defines the interface for the task bus
type Bus interface {
	Publish(ctx context.Context, task Task) error
	Subscribe(ctx context.Context, handler func(context.Context, Task)) error
}
