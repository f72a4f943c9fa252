package call

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	httpadapter "github.com/ClareAI/astra-dialer-service/internal/adapters/http"
	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/internal/observability"
	"github.com/ClareAI/astra-dialer-service/internal/repository"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/ClareAI/astra-dialer-service/pkg/twilio"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	BridgePath          = "/webhook-bridge"
	TelephonyStatusPath = "/webhooks/telephony-status"

	failureWriteTimeout   = 5 * time.Second
	markInitiatedAttempts = 3
	markInitiatedBackoff  = 200 * time.Millisecond
)

// VoiceSessionProvider issues signed voice-AI sessions
type VoiceSessionProvider interface {
	GetSignedSession(ctx context.Context, req httpadapter.SessionRequest) (*httpadapter.SignedSession, error)
}

// Dialer places telephony calls
type Dialer interface {
	Dial(ctx context.Context, req twilio.DialRequest) (string, error)
}

// Config holds the call service settings
type Config struct {
	PublicBaseURL       string
	DefaultCountryCode  string
	UpstreamTimeout     time.Duration
	BatchCallsPerSecond float64
	BatchMaxContacts    int
}

// CallService initiates outbound calls and dispatches batches
type CallService struct {
	config  Config
	repos   repository.RepositoryManager
	voice   VoiceSessionProvider
	dialer  Dialer
	metrics *observability.Metrics
}

// NewCallService creates a new call service
func NewCallService(cfg Config, repos repository.RepositoryManager, voice VoiceSessionProvider, dialer Dialer, metrics *observability.Metrics) *CallService {
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 15 * time.Second
	}
	if cfg.BatchCallsPerSecond <= 0 {
		cfg.BatchCallsPerSecond = 1
	}
	if cfg.BatchMaxContacts <= 0 {
		cfg.BatchMaxContacts = 500
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	return &CallService{
		config:  cfg,
		repos:   repos,
		voice:   voice,
		dialer:  dialer,
		metrics: metrics,
	}
}

// InitiateCallInput identifies who calls whom with which agent
type InitiateCallInput struct {
	UserID      string
	AgentID     string
	PhoneNumber string
	ContactName string
}

// InitiateCall places one outbound call.
//
// A queued record is written before any provider is contacted. If the
// voice-AI session or the dial fails, the record is marked failed with the
// reason and an upstream error is returned.
func (s *CallService) InitiateCall(ctx context.Context, in InitiateCallInput) (*domain.InitiateCallResponse, error) {
	phone, err := NormalizePhoneNumber(in.PhoneNumber, s.config.DefaultCountryCode)
	if err != nil {
		s.metrics.RecordCallInitiation("rejected")
		return nil, err
	}

	agent, err := s.resolveAgent(ctx, in.UserID, in.AgentID)
	if err != nil {
		s.metrics.RecordCallInitiation("rejected")
		return nil, err
	}

	return s.initiate(ctx, agent, in.UserID, phone, in.ContactName)
}

func (s *CallService) resolveAgent(ctx context.Context, userID, agentID string) (*domain.Agent, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, domain.NewValidationError("agentId is required")
	}

	agent, err := s.repos.Agent().GetByIDForUser(ctx, agentID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up agent: %w", err)
	}
	if agent == nil {
		return nil, domain.NewNotFoundError("agent %s not found", agentID)
	}
	return agent, nil
}

func (s *CallService) initiate(ctx context.Context, agent *domain.Agent, userID, phone, contactName string) (*domain.InitiateCallResponse, error) {
	call := &domain.Call{
		ID:          uuid.New().String(),
		UserID:      userID,
		PhoneNumber: phone,
		ContactName: strings.TrimSpace(contactName),
		Direction:   domain.CallDirectionOutbound,
		Status:      domain.CallStatusQueued,
	}
	call.ApplyAgent(agent)

	ctx = logger.WithFields(ctx, zap.String("call_id", call.ID))

	if err := s.repos.Call().Create(ctx, call); err != nil {
		s.metrics.RecordCallInitiation("failed")
		return nil, fmt.Errorf("failed to record call: %w", err)
	}

	session, err := s.signedSession(ctx, agent, call.ID)
	if err != nil {
		return nil, s.fail(ctx, call.ID, "voice session request failed", err)
	}

	ctx = logger.WithFields(ctx, zap.String("conversation_id", session.ConversationID))

	callSID, err := s.dial(ctx, call.ID, phone, session.SignedURL)
	if errors.Is(err, twilio.ErrDialUnconfirmed) {
		return nil, s.unconfirmed(ctx, call.ID, session.ConversationID, err)
	}
	if err != nil {
		return nil, s.fail(ctx, call.ID, "telephony dial failed", err)
	}

	s.markInitiated(ctx, call.ID, session.ConversationID, callSID)

	s.metrics.RecordCallInitiation("initiated")
	logger.Info(ctx, "outbound call initiated", zap.String("call_sid", callSID), zap.String("agent_id", agent.ID))

	return &domain.InitiateCallResponse{
		Status:         string(domain.CallStatusInitiated),
		ConversationID: session.ConversationID,
		CallID:         call.ID,
	}, nil
}

func (s *CallService) signedSession(ctx context.Context, agent *domain.Agent, callID string) (*httpadapter.SignedSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	session, err := s.voice.GetSignedSession(ctx, httpadapter.SessionRequest{
		AgentID:          agent.ProviderAgentID,
		Overrides:        domain.VoiceSessionOverrides(agent),
		DynamicVariables: map[string]string{"call_id": callID},
	})
	s.metrics.RecordUpstream("voice_ai", "signed_session", err, time.Since(start).Seconds())
	return session, err
}

func (s *CallService) dial(ctx context.Context, callID, phone, signedURL string) (string, error) {
	start := time.Now()
	sid, err := s.dialer.Dial(ctx, twilio.DialRequest{
		To:                phone,
		BridgeURL:         s.BridgeURL(signedURL, callID),
		StatusCallbackURL: s.StatusCallbackURL(callID),
	})
	s.metrics.RecordUpstream("twilio", "dial", err, time.Since(start).Seconds())
	return sid, err
}

// BridgeURL is the URL Twilio fetches bridging instructions from once the callee answers
func (s *CallService) BridgeURL(signedURL, callID string) string {
	q := url.Values{}
	q.Set("signedUrl", signedURL)
	q.Set("callId", callID)
	return s.config.PublicBaseURL + BridgePath + "?" + q.Encode()
}

// StatusCallbackURL is the URL Twilio posts call progress to
func (s *CallService) StatusCallbackURL(callID string) string {
	return s.config.PublicBaseURL + TelephonyStatusPath + "?callId=" + url.QueryEscape(callID)
}

// fail marks the call failed and returns the error to hand back to the caller.
// The write uses its own deadline so a cancelled request still leaves a trace.
func (s *CallService) fail(ctx context.Context, callID, message string, cause error) error {
	s.metrics.RecordCallInitiation("failed")

	reason := message + ": " + cause.Error()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if _, err := s.repos.Call().MarkFailed(writeCtx, callID, reason); err != nil {
		logger.Error(ctx, "failed to mark call as failed", zap.Error(err))
	}
	logger.Warn(ctx, "outbound call failed", zap.String("reason", reason))

	if domain.KindOf(cause) == domain.ErrorKindUpstream {
		return cause
	}
	return domain.NewUpstreamError(message, cause)
}

// markInitiated records the dialed call. The call is ringing whatever happens
// here, so a write that keeps failing is logged and not reported as an error.
func (s *CallService) markInitiated(ctx context.Context, callID, conversationID, callSID string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		advanced, err := s.repos.Call().MarkInitiated(writeCtx, callID, conversationID, callSID)
		if err == nil {
			if !advanced {
				logger.Info(ctx, "call record already advanced by a provider callback")
			}
			return
		}
		if attempt == markInitiatedAttempts {
			logger.Error(ctx, "call dialed but record update failed", zap.String("call_sid", callSID), zap.Error(err))
			return
		}
		logger.Warn(ctx, "failed to record initiated call, retrying", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-writeCtx.Done():
			logger.Error(ctx, "call dialed but record update failed", zap.String("call_sid", callSID), zap.Error(writeCtx.Err()))
			return
		case <-time.After(time.Duration(attempt) * markInitiatedBackoff):
		}
	}
}

// unconfirmed records a dial whose result is unknown without ending the call,
// so a later telephony callback or voice webhook can still settle it.
func (s *CallService) unconfirmed(ctx context.Context, callID, conversationID string, cause error) error {
	s.metrics.RecordCallInitiation("unconfirmed")

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if err := s.repos.Call().MarkDialUnconfirmed(writeCtx, callID, conversationID, cause.Error()); err != nil {
		logger.Error(ctx, "failed to record unconfirmed dial", zap.Error(err))
	}
	logger.Warn(ctx, "telephony dial result unknown", zap.Error(cause))
	return cause
}

// DispatchBatch initiates calls for contacts one after another, paced by the
// configured rate. A failing contact is logged and skipped. Cancelling ctx
// stops the batch and returns the counts so far.
func (s *CallService) DispatchBatch(ctx context.Context, userID, agentID string, contacts []domain.BatchContact) (*domain.BatchCallResponse, error) {
	if len(contacts) == 0 {
		return nil, domain.NewValidationError("contacts must not be empty")
	}
	if len(contacts) > s.config.BatchMaxContacts {
		return nil, domain.NewValidationError("batch of %d contacts exceeds the limit of %d", len(contacts), s.config.BatchMaxContacts)
	}

	agent, err := s.resolveAgent(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New().String()
	ctx = logger.WithFields(ctx, zap.String("batch_id", batchID), zap.String("agent_id", agentID))
	logger.Info(ctx, "batch dispatch started", zap.Int("total", len(contacts)))

	limiter := rate.NewLimiter(rate.Limit(s.config.BatchCallsPerSecond), 1)
	initiated := 0

	for i, contact := range contacts {
		if err := limiter.Wait(ctx); err != nil {
			logger.Warn(ctx, "batch dispatch stopped early", zap.Int("processed", i), zap.Error(err))
			break
		}

		phone, err := NormalizePhoneNumber(contact.PhoneNumber, s.config.DefaultCountryCode)
		if err == nil {
			_, err = s.initiate(ctx, agent, userID, phone, contact.Name)
		}
		if err != nil {
			s.metrics.RecordBatchContact("failed")
			logger.Warn(ctx, "batch contact failed", zap.Int("index", i), zap.Error(err))
			continue
		}

		s.metrics.RecordBatchContact("initiated")
		initiated++
	}

	logger.Info(ctx, "batch dispatch finished", zap.Int("initiated", initiated), zap.Int("total", len(contacts)))

	return &domain.BatchCallResponse{
		Message:   fmt.Sprintf("Initiated %d of %d calls", initiated, len(contacts)),
		Initiated: initiated,
		Total:     len(contacts),
	}, nil
}

// GetCall returns a call owned by userID
func (s *CallService) GetCall(ctx context.Context, userID, callID string) (*domain.Call, error) {
	call, err := s.repos.Call().GetByIDForUser(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, domain.NewNotFoundError("call %s not found", callID)
	}
	return call, nil
}

// ListCalls returns a page of the user's calls, newest first
func (s *CallService) ListCalls(ctx context.Context, filter domain.CallListFilter) ([]*domain.Call, int64, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, domain.NewValidationError("unknown status %q", filter.Status)
	}
	return s.repos.Call().List(ctx, filter)
}
