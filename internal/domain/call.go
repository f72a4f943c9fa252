package domain

import (
	"strings"
	"time"
)

// CallStatus is the lifecycle state of an outbound call
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no-answer"
)

// rank orders statuses; all terminal statuses share the highest rank
func (s CallStatus) rank() int {
	switch s {
	case CallStatusQueued:
		return 0
	case CallStatusInitiated:
		return 1
	case CallStatusInProgress:
		return 2
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether no further status change is allowed
func (s CallStatus) IsTerminal() bool {
	return s.rank() == 3
}

// IsValid reports whether s is one of the known statuses
func (s CallStatus) IsValid() bool {
	return s.rank() >= 0
}

// TerminalStatuses lists statuses that end a call
func TerminalStatuses() []CallStatus {
	return []CallStatus{CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer}
}

// Call is the persisted record of one outbound call attempt.
//
// ID is generated by this service before any provider is contacted and is the
// key the voice-AI webhook correlates on (metadata.call_id). ConversationID is
// the voice-AI provider's id and CallSID the telephony provider's id; both are
// written once and never reassigned.
type Call struct {
	ID              string        `json:"id" gorm:"type:varchar(64);primaryKey"`
	CallSID         string        `json:"call_sid,omitempty" gorm:"column:call_sid;type:varchar(64);index"`
	ConversationID  *string       `json:"conversation_id,omitempty" gorm:"type:varchar(128);uniqueIndex"`
	UserID          string        `json:"user_id" gorm:"type:varchar(255);not null;index"`
	AgentID         string        `json:"agent_id" gorm:"type:varchar(64);not null;index"`
	PhoneNumber     string        `json:"phone_number" gorm:"type:varchar(32);not null"`
	ContactName     string        `json:"contact_name,omitempty" gorm:"type:varchar(255)"`
	Direction       CallDirection `json:"direction" gorm:"type:varchar(16);not null;default:'outbound'"`
	Status          CallStatus    `json:"status" gorm:"type:varchar(32);not null;index"`
	FailureReason   string        `json:"failure_reason,omitempty" gorm:"type:text"`
	Summary         string        `json:"summary,omitempty" gorm:"type:text"`
	Outcome         OutcomeLabel  `json:"outcome,omitempty" gorm:"type:varchar(64)"`
	Transcript      string        `json:"transcript,omitempty" gorm:"type:text"`
	RecordingURL    string        `json:"recording_url,omitempty" gorm:"type:text"`
	StartTime       *time.Time    `json:"start_time,omitempty"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	DurationSeconds int           `json:"duration_seconds"`
	Cost            float64       `json:"cost"`
	AgentSnapshot   JSONB         `json:"agent_snapshot,omitempty" gorm:"type:jsonb"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// TableName sets the table name for Call
func (Call) TableName() string {
	return "calls"
}

// GetConversationID returns the voice-AI conversation id or an empty string
func (c *Call) GetConversationID() string {
	if c.ConversationID == nil {
		return ""
	}
	return *c.ConversationID
}

// AdvanceStatus moves the call to next if that is a forward move.
// A terminal status is sticky. Returns true when the status changed.
func (c *Call) AdvanceStatus(next CallStatus) bool {
	if !next.IsValid() || c.Status.IsTerminal() {
		return false
	}
	if next.rank() <= c.Status.rank() {
		return false
	}
	c.Status = next
	return true
}

// CallOutcomeUpdate carries provider-reported data for a call. Empty fields
// mean "not reported" and never clear stored values.
type CallOutcomeUpdate struct {
	Status          CallStatus
	CallSID         string
	ConversationID  string
	Summary         string
	Transcript      string
	StartTime       *time.Time
	EndTime         *time.Time
	DurationSeconds int
	Cost            float64
}

// MergeOutcome applies u onto the call: provider value if present, else keep
// the existing value. Returns true when the summary changed.
func (c *Call) MergeOutcome(u CallOutcomeUpdate) (summaryChanged bool) {
	if u.Status != "" {
		c.AdvanceStatus(u.Status)
	}
	if c.CallSID == "" && u.CallSID != "" {
		c.CallSID = u.CallSID
	}
	if c.GetConversationID() == "" && u.ConversationID != "" {
		id := u.ConversationID
		c.ConversationID = &id
	}
	if s := strings.TrimSpace(u.Summary); s != "" && s != c.Summary {
		c.Summary = s
		summaryChanged = true
	}
	if u.Transcript != "" {
		c.Transcript = u.Transcript
	}
	if u.StartTime != nil {
		c.StartTime = u.StartTime
	}
	if u.EndTime != nil {
		c.EndTime = u.EndTime
	}
	if u.DurationSeconds > 0 {
		c.DurationSeconds = u.DurationSeconds
	}
	if u.Cost > 0 {
		c.Cost = u.Cost
	}
	return summaryChanged
}

// NeedsClassification reports whether the outcome label should be recomputed
func (c *Call) NeedsClassification(summaryChanged bool) bool {
	if c.Summary == "" {
		return false
	}
	return summaryChanged || c.Outcome == ""
}

// CallListFilter narrows a call history query
type CallListFilter struct {
	UserID  string
	AgentID string
	Status  CallStatus
	Limit   int
	Offset  int
}

// InitiateCallRequest is the body of a single-call request
type InitiateCallRequest struct {
	AgentID     string `json:"agentId"`
	PhoneNumber string `json:"phoneNumber"`
	ContactName string `json:"contactName,omitempty"`
}

// InitiateCallResponse is returned after a call was dialed
type InitiateCallResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversationId"`
	CallID         string `json:"callId"`
}

// BatchContact is one entry of a batch request
type BatchContact struct {
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name,omitempty"`
}

// BatchCallRequest is the body of a batch-call request
type BatchCallRequest struct {
	AgentID  string         `json:"agentId"`
	Contacts []BatchContact `json:"contacts"`
}

// BatchCallResponse summarizes a batch dispatch
type BatchCallResponse struct {
	Message   string `json:"message"`
	Initiated int    `json:"initiated"`
	Total     int    `json:"total"`
}
