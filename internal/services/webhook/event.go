package webhook

import (
	"strings"
	"time"

	httpadapter "github.com/ClareAI/astra-dialer-service/internal/adapters/http"
	"github.com/ClareAI/astra-dialer-service/internal/domain"
)

const (
	EventTypeCallEnded             = "call.ended"
	EventTypePostCallTranscription = "post_call_transcription"
)

// Event is the voice-AI provider's webhook envelope
type Event struct {
	Type           string    `json:"type"`
	EventTimestamp int64     `json:"event_timestamp,omitempty"`
	Data           EventData `json:"data"`
}

// EventData carries the call-ended payload. The provider's native fields
// (metadata.*_secs, analysis.transcript_summary) are read as fallbacks.
type EventData struct {
	AgentID             string                       `json:"agent_id,omitempty"`
	ConversationID      string                       `json:"conversation_id"`
	CallSID             string                       `json:"call_sid"`
	Status              string                       `json:"status"`
	Summary             string                       `json:"summary"`
	StartTime           float64                      `json:"start_time"`
	EndTime             float64                      `json:"end_time"`
	CallDurationSeconds float64                      `json:"call_duration_seconds"`
	Cost                float64                      `json:"cost"`
	Transcript          []httpadapter.TranscriptTurn `json:"transcript,omitempty"`
	Metadata            EventMetadata                `json:"metadata"`
	Analysis            *EventAnalysis               `json:"analysis,omitempty"`
	ClientData          *ClientData                  `json:"conversation_initiation_client_data,omitempty"`
}

type EventMetadata struct {
	CallID            string  `json:"call_id"`
	StartTimeUnixSecs float64 `json:"start_time_unix_secs,omitempty"`
	CallDurationSecs  float64 `json:"call_duration_secs,omitempty"`
	Cost              float64 `json:"cost,omitempty"`
}

type EventAnalysis struct {
	TranscriptSummary string `json:"transcript_summary"`
}

type ClientData struct {
	DynamicVariables map[string]interface{} `json:"dynamic_variables"`
}

// IsCallEnded reports whether the event is a terminal call event
func (e *Event) IsCallEnded() bool {
	switch e.Type {
	case EventTypeCallEnded, EventTypePostCallTranscription:
		return true
	default:
		return false
	}
}

// CallID returns the internal call id embedded at initiation
func (e *Event) CallID() string {
	if id := strings.TrimSpace(e.Data.Metadata.CallID); id != "" {
		return id
	}
	if e.Data.ClientData != nil {
		if id, ok := e.Data.ClientData.DynamicVariables["call_id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

// MapStatus converts a provider status to a call status. Unknown values
// count as completed since the call has ended.
func MapStatus(raw string) domain.CallStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "failed", "error":
		return domain.CallStatusFailed
	case "no-answer", "no_answer", "busy", "canceled", "cancelled":
		return domain.CallStatusNoAnswer
	case "in-progress", "in_progress", "processing":
		return domain.CallStatusInProgress
	default:
		return domain.CallStatusCompleted
	}
}

func epochToUTC(secs float64) *time.Time {
	if secs <= 0 {
		return nil
	}
	t := time.Unix(int64(secs), 0).UTC()
	return &t
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// OutcomeUpdate extracts the values this event reports for the call
func (e *Event) OutcomeUpdate() domain.CallOutcomeUpdate {
	d := e.Data

	summary := d.Summary
	if strings.TrimSpace(summary) == "" && d.Analysis != nil {
		summary = d.Analysis.TranscriptSummary
	}

	duration := firstPositive(d.CallDurationSeconds, d.Metadata.CallDurationSecs)
	start := epochToUTC(firstPositive(d.StartTime, d.Metadata.StartTimeUnixSecs))
	end := epochToUTC(d.EndTime)
	if end == nil && start != nil && duration > 0 {
		t := start.Add(time.Duration(duration) * time.Second)
		end = &t
	}

	return domain.CallOutcomeUpdate{
		Status:          MapStatus(d.Status),
		CallSID:         strings.TrimSpace(d.CallSID),
		ConversationID:  strings.TrimSpace(d.ConversationID),
		Summary:         summary,
		Transcript:      httpadapter.FormatTranscript(d.Transcript),
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: int(duration),
		Cost:            firstPositive(d.Cost, d.Metadata.Cost),
	}
}
