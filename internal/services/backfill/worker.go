package backfill

import (
	"context"
	"fmt"
	"io"
	"time"

	httpadapter "github.com/ClareAI/astra-dialer-service/internal/adapters/http"
	"github.com/ClareAI/astra-dialer-service/internal/core/task"
	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/internal/observability"
	"github.com/ClareAI/astra-dialer-service/internal/repository"
	"github.com/ClareAI/astra-dialer-service/pkg/gcs"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"go.uber.org/zap"
)

const defaultTaskTimeout = 2 * time.Minute

// ConversationSource fetches finished conversations from the voice-AI provider
type ConversationSource interface {
	GetConversation(ctx context.Context, conversationID string) (*httpadapter.Conversation, error)
	GetConversationAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, error)
}

// RecordingStore keeps call recordings
type RecordingStore interface {
	Upload(ctx context.Context, objectPath string, content io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, objectPath string) error
}

// Worker fills in transcript and recording for finished calls
type Worker struct {
	repos   repository.RepositoryManager
	source  ConversationSource
	store   RecordingStore
	timeout time.Duration
	metrics *observability.Metrics
}

// NewWorker creates a backfill worker. store may be nil, then recordings are skipped.
func NewWorker(repos repository.RepositoryManager, source ConversationSource, store RecordingStore, metrics *observability.Metrics) *Worker {
	return &Worker{
		repos:   repos,
		source:  source,
		store:   store,
		timeout: defaultTaskTimeout,
		metrics: metrics,
	}
}

// Start subscribes the worker to the task bus
func (w *Worker) Start(ctx context.Context, bus task.Bus) error {
	return bus.Subscribe(ctx, w.HandleTask)
}

// HandleTask runs one task from the bus
func (w *Worker) HandleTask(ctx context.Context, t task.Task) {
	if t.Type != task.TaskTypeBackfill {
		return
	}

	ctx = logger.WithFields(ctx, zap.String("call_id", t.CallID), zap.String("task_type", string(t.Type)))

	payload, err := t.BackfillPayload()
	if err != nil {
		logger.Error(ctx, "invalid backfill task", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	err = w.Backfill(ctx, t.CallID, payload)
	w.metrics.RecordUpstream("voice_ai", "backfill", err, time.Since(start).Seconds())
	if err != nil {
		logger.Error(ctx, "call backfill failed", zap.Error(err))
	}
}

// Backfill fetches the missing artifacts of a call and stores them.
// Columns that are already populated are left alone.
func (w *Worker) Backfill(ctx context.Context, callID string, p task.BackfillPayload) error {
	call, err := w.repos.Call().GetByID(ctx, callID)
	if err != nil {
		return fmt.Errorf("failed to load call: %w", err)
	}
	if call == nil {
		return domain.NewNotFoundError("call %s not found", callID)
	}

	convID := call.GetConversationID()
	if convID == "" {
		convID = p.ConversationID
	}
	if convID == "" {
		return domain.NewValidationError("call %s has no conversation id", callID)
	}

	needTranscript := p.NeedTranscript && call.Transcript == ""
	needRecording := p.NeedRecording && call.RecordingURL == "" && w.store != nil
	if !needTranscript && !needRecording {
		return nil
	}

	conv, err := w.source.GetConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("failed to fetch conversation: %w", err)
	}

	var transcript string
	if needTranscript {
		transcript = httpadapter.FormatTranscript(conv.Transcript)
	}

	var recordingURL, objectPath string
	if needRecording && conv.HasAudio {
		recordingURL, objectPath, err = w.uploadRecording(ctx, callID, convID)
		if err != nil {
			logger.Warn(ctx, "recording backfill failed", zap.Error(err))
		}
	}

	if transcript == "" && recordingURL == "" {
		logger.Info(ctx, "nothing to backfill", zap.Bool("has_audio", conv.HasAudio))
		return nil
	}

	if err := w.repos.Call().FillBackfill(ctx, callID, transcript, recordingURL); err != nil {
		if objectPath != "" {
			if delErr := w.store.Delete(context.WithoutCancel(ctx), objectPath); delErr != nil {
				logger.Warn(ctx, "failed to remove orphaned recording", zap.String("object", objectPath), zap.Error(delErr))
			}
		}
		return fmt.Errorf("failed to store backfill: %w", err)
	}

	logger.Info(ctx, "call backfilled", zap.Bool("transcript", transcript != ""), zap.String("recording_url", recordingURL))
	return nil
}

func (w *Worker) uploadRecording(ctx context.Context, callID, convID string) (string, string, error) {
	audio, contentType, err := w.source.GetConversationAudio(ctx, convID)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer audio.Close()

	objectPath := gcs.RecordingObjectPath(callID, contentType)
	recordingURL, err := w.store.Upload(ctx, objectPath, audio, contentType)
	if err != nil {
		return "", "", fmt.Errorf("failed to upload recording: %w", err)
	}
	return recordingURL, objectPath, nil
}
