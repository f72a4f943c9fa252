package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClareAI/astra-dialer-service/internal/cache"
	"github.com/ClareAI/astra-dialer-service/internal/core/task"
	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/internal/observability"
	"github.com/ClareAI/astra-dialer-service/internal/repository"
	"github.com/ClareAI/astra-dialer-service/internal/services/outcome"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/ClareAI/astra-dialer-service/pkg/pubsub"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

const sideEffectTimeout = 5 * time.Second

// Result is the acknowledgement message for a processed delivery
type Result string

const (
	ResultUpdated       Result = "call updated"
	ResultUnchanged     Result = "call unchanged"
	ResultIgnored       Result = "event ignored"
	ResultMissingCallID Result = "missing call id"
	ResultDuplicate     Result = "duplicate delivery"
)

// EventPublisher publishes call lifecycle events
type EventPublisher interface {
	PublishCallCompleted(ctx context.Context, evt pubsub.CallCompletedEvent) error
}

// Reconciler applies voice-AI and telephony callbacks to call records.
// Ledger, publisher and task bus are optional.
type Reconciler struct {
	repos      repository.RepositoryManager
	classifier outcome.Classifier
	ledger     cache.DeliveryLedger
	publisher  EventPublisher
	tasks      task.Bus
	metrics    *observability.Metrics
}

// Option configures a Reconciler
type Option func(*Reconciler)

func WithLedger(ledger cache.DeliveryLedger) Option {
	return func(r *Reconciler) { r.ledger = ledger }
}

func WithPublisher(publisher EventPublisher) Option {
	return func(r *Reconciler) { r.publisher = publisher }
}

func WithTaskBus(bus task.Bus) Option {
	return func(r *Reconciler) { r.tasks = bus }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Reconciler) { r.metrics = metrics }
}

// NewReconciler creates a new Reconciler
func NewReconciler(repos repository.RepositoryManager, classifier outcome.Classifier, opts ...Option) *Reconciler {
	r := &Reconciler{repos: repos, classifier: classifier}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DeliveryID identifies a delivery by the hash of its raw body
func DeliveryID(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// HandleVoiceEvent processes a verified voice-AI webhook body.
// A missing call record yields a not-found error and nothing is written.
func (r *Reconciler) HandleVoiceEvent(ctx context.Context, body []byte) (Result, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		r.metrics.RecordWebhookEvent("malformed")
		return "", domain.NewValidationError("invalid webhook payload: %v", err)
	}

	ctx = logger.WithFields(ctx, zap.String("event_type", evt.Type))

	if !evt.IsCallEnded() {
		r.metrics.RecordWebhookEvent("ignored")
		logger.Debug(ctx, "ignoring voice webhook event")
		return ResultIgnored, nil
	}

	deliveryID := DeliveryID(body)
	if r.seen(ctx, deliveryID) {
		r.metrics.RecordWebhookEvent("duplicate")
		logger.Info(ctx, "duplicate webhook delivery acknowledged", zap.String("delivery_id", deliveryID))
		return ResultDuplicate, nil
	}

	callID := evt.CallID()
	if callID == "" {
		r.metrics.RecordWebhookEvent("missing_call_id")
		logger.Warn(ctx, "call ended event without call id", zap.String("conversation_id", evt.Data.ConversationID))
		return ResultMissingCallID, nil
	}
	ctx = logger.WithFields(ctx, zap.String("call_id", callID))

	call, err := r.repos.Call().GetByID(ctx, callID)
	if err != nil {
		r.metrics.RecordWebhookEvent("error")
		return "", fmt.Errorf("failed to load call: %w", err)
	}
	if call == nil {
		r.metrics.RecordWebhookEvent("not_found")
		logger.Warn(ctx, "webhook references unknown call")
		return "", domain.NewNotFoundError("call %s not found", callID)
	}

	result, err := r.apply(ctx, call, evt.OutcomeUpdate())
	if err != nil {
		r.metrics.RecordWebhookEvent("error")
		return "", err
	}

	r.mark(ctx, deliveryID)
	r.metrics.RecordWebhookEvent("processed")
	return result, nil
}

// apply merges u into the call row under a row lock and writes only the
// columns that changed. Classification runs first, on the caller's copy.
func (r *Reconciler) apply(ctx context.Context, call *domain.Call, u domain.CallOutcomeUpdate) (Result, error) {
	preview := *call
	var label domain.OutcomeLabel
	if preview.NeedsClassification(preview.MergeOutcome(u)) {
		label = r.classifier.Classify(ctx, preview.Summary)
	}

	var (
		before  domain.Call
		after   *domain.Call
		changed []string
	)
	err := r.repos.WithTx(ctx, func(ctx context.Context, tx repository.RepositoryManager) error {
		current, err := tx.Call().GetByIDForUpdate(ctx, call.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.NewNotFoundError("call %s not found", call.ID)
		}
		if err := copier.Copy(&before, current); err != nil {
			return fmt.Errorf("failed to snapshot call: %w", err)
		}

		summaryChanged := current.MergeOutcome(u)
		if current.NeedsClassification(summaryChanged) {
			if label == "" || preview.Summary != current.Summary {
				label = r.classifier.Classify(ctx, current.Summary)
			}
			current.Outcome = label
			logger.Info(ctx, "call outcome classified", zap.String("outcome", string(label)))
		}

		changed = ChangedFields(&before, current)
		if len(changed) == 0 {
			return nil
		}
		after = current
		return tx.Call().UpdateColumns(ctx, current.ID, ColumnValues(current, changed))
	})
	if err != nil {
		if domain.KindOf(err) == domain.ErrorKindNotFound {
			return "", err
		}
		return "", fmt.Errorf("failed to update call: %w", err)
	}

	if len(changed) == 0 {
		logger.Info(ctx, "webhook carried no new data")
		return ResultUnchanged, nil
	}
	logger.Info(ctx, "call updated from webhook", zap.Strings("fields", changed), zap.String("status", string(after.Status)))

	if after.Status.IsTerminal() && !before.Status.IsTerminal() {
		r.publishCompleted(ctx, after)
	}
	if after.Status.IsTerminal() {
		r.enqueueBackfill(ctx, after)
	}
	return ResultUpdated, nil
}

// ApplyTelephonyStatus applies a Twilio status callback. Twilio's own
// "completed" is left to the voice-AI webhook, which carries the outcome.
func (r *Reconciler) ApplyTelephonyStatus(ctx context.Context, callID, callSID, twilioStatus string, durationSeconds int) (Result, error) {
	ctx = logger.WithFields(ctx, zap.String("call_id", callID), zap.String("call_sid", callSID))

	call, err := r.lookupTelephonyCall(ctx, callID, callSID)
	if err != nil {
		return "", err
	}

	u := domain.CallOutcomeUpdate{CallSID: callSID}
	switch twilioStatus {
	case "queued", "initiated", "ringing":
		u.Status = domain.CallStatusInitiated
	case "in-progress", "answered":
		u.Status = domain.CallStatusInProgress
	case "busy", "no-answer", "canceled":
		u.Status = domain.CallStatusNoAnswer
	case "failed":
		u.Status = domain.CallStatusFailed
	case "completed":
		u.DurationSeconds = durationSeconds
	default:
		logger.Warn(ctx, "unknown telephony status", zap.String("status", twilioStatus))
	}

	return r.apply(ctx, call, u)
}

func (r *Reconciler) lookupTelephonyCall(ctx context.Context, callID, callSID string) (*domain.Call, error) {
	var (
		call *domain.Call
		err  error
	)
	switch {
	case callID != "":
		call, err = r.repos.Call().GetByID(ctx, callID)
	case callSID != "":
		call, err = r.repos.Call().GetByCallSID(ctx, callSID)
	default:
		return nil, domain.NewValidationError("callId or CallSid is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call: %w", err)
	}
	if call == nil {
		return nil, domain.NewNotFoundError("call not found")
	}
	return call, nil
}

func (r *Reconciler) seen(ctx context.Context, deliveryID string) bool {
	if r.ledger == nil {
		return false
	}
	ok, err := r.ledger.Seen(ctx, deliveryID)
	if err != nil {
		logger.Warn(ctx, "delivery ledger lookup failed", zap.Error(err))
		return false
	}
	return ok
}

func (r *Reconciler) mark(ctx context.Context, deliveryID string) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Mark(ctx, deliveryID); err != nil {
		logger.Warn(ctx, "failed to record webhook delivery", zap.Error(err))
	}
}

func (r *Reconciler) publishCompleted(ctx context.Context, call *domain.Call) {
	if r.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	err := r.publisher.PublishCallCompleted(pubCtx, pubsub.CallCompletedEvent{
		CallID:          call.ID,
		UserID:          call.UserID,
		AgentID:         call.AgentID,
		ConversationID:  call.GetConversationID(),
		PhoneNumber:     call.PhoneNumber,
		Status:          string(call.Status),
		Outcome:         string(call.Outcome),
		Summary:         call.Summary,
		DurationSeconds: call.DurationSeconds,
		Cost:            call.Cost,
		StartTime:       call.StartTime,
		EndTime:         call.EndTime,
	})
	if err != nil {
		logger.Warn(ctx, "failed to publish call completed event", zap.Error(err))
	}
}

func (r *Reconciler) enqueueBackfill(ctx context.Context, call *domain.Call) {
	if r.tasks == nil || call.GetConversationID() == "" {
		return
	}
	payload := task.BackfillPayload{
		ConversationID: call.GetConversationID(),
		NeedTranscript: call.Transcript == "",
		NeedRecording:  call.RecordingURL == "",
	}
	if !payload.NeedTranscript && !payload.NeedRecording {
		return
	}

	t, err := task.NewBackfillTask(call.ID, payload)
	if err == nil {
		err = r.tasks.Publish(ctx, t)
	}
	if err != nil {
		logger.Warn(ctx, "failed to enqueue backfill", zap.Error(err))
	}
}

// ChangedFields lists the outcome fields that differ between two versions of a call
func ChangedFields(before, after *domain.Call) []string {
	var changed []string
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	add("status", before.Status != after.Status)
	add("call_sid", before.CallSID != after.CallSID)
	add("conversation_id", before.GetConversationID() != after.GetConversationID())
	add("summary", before.Summary != after.Summary)
	add("outcome", before.Outcome != after.Outcome)
	add("transcript", before.Transcript != after.Transcript)
	add("start_time", !sameTime(before.StartTime, after.StartTime))
	add("end_time", !sameTime(before.EndTime, after.EndTime))
	add("duration_seconds", before.DurationSeconds != after.DurationSeconds)
	add("cost", before.Cost != after.Cost)
	return changed
}

// ColumnValues maps the named columns of call to their current values
func ColumnValues(call *domain.Call, columns []string) map[string]interface{} {
	values := make(map[string]interface{}, len(columns))
	for _, column := range columns {
		switch column {
		case "status":
			values[column] = call.Status
		case "call_sid":
			values[column] = call.CallSID
		case "conversation_id":
			values[column] = call.GetConversationID()
		case "summary":
			values[column] = call.Summary
		case "outcome":
			values[column] = call.Outcome
		case "transcript":
			values[column] = call.Transcript
		case "start_time":
			values[column] = timeValue(call.StartTime)
		case "end_time":
			values[column] = timeValue(call.EndTime)
		case "duration_seconds":
			values[column] = call.DurationSeconds
		case "cost":
			values[column] = call.Cost
		}
	}
	return values
}

func timeValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
