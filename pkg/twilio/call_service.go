package twilio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// statusCallbackEvents are the call progress events Twilio reports back to us
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// ErrDialUnconfirmed marks a dial request whose result never came back.
// Twilio may or may not have placed the call.
var ErrDialUnconfirmed = errors.New("dial result unknown")

const defaultRequestTimeout = 15 * time.Second

// CallCreator is the subset of the Twilio REST API used to place calls
type CallCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// CallService places outbound calls through Twilio and validates Twilio callbacks
type CallService struct {
	calls       CallCreator
	fromNumber  string
	validator   client.RequestValidator
	ringTimeout int
}

// NewCallService creates a Twilio call service for the given account.
// requestTimeout bounds each REST request on the HTTP client itself.
func NewCallService(accountSID, authToken, fromNumber string, requestTimeout time.Duration) *CallService {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	baseClient := &client.Client{
		Credentials: client.NewCredentials(accountSID, authToken),
	}
	baseClient.SetAccountSid(accountSID)
	baseClient.SetTimeout(requestTimeout)

	restClient := twilio.NewRestClientWithParams(twilio.ClientParams{Client: baseClient})
	return NewCallServiceWithCreator(restClient.Api, authToken, fromNumber)
}

// NewCallServiceWithCreator creates a call service around any CallCreator
func NewCallServiceWithCreator(calls CallCreator, authToken, fromNumber string) *CallService {
	return &CallService{
		calls:       calls,
		fromNumber:  fromNumber,
		validator:   client.NewRequestValidator(authToken),
		ringTimeout: 30,
	}
}

// DialRequest describes one outbound call
type DialRequest struct {
	To                string
	BridgeURL         string // fetched with GET when the callee answers
	StatusCallbackURL string
}

// Dial asks Twilio to call req.To and returns the call sid.
//
// A rejection by Twilio is a definite failure. A transport error or timeout
// leaves the result unknown and is reported wrapping ErrDialUnconfirmed.
func (s *CallService) Dial(ctx context.Context, req DialRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewUpstreamError("telephony dial cancelled before sending", err)
	}

	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(s.fromNumber)
	params.SetUrl(req.BridgeURL)
	params.SetMethod("GET")
	params.SetTimeout(s.ringTimeout)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent(statusCallbackEvents)
	}

	call, err := s.calls.CreateCall(params)
	if err != nil {
		var restErr *client.TwilioRestError
		if errors.As(err, &restErr) {
			logger.Warn(ctx, "twilio rejected dial request", zap.Error(err))
			return "", domain.NewUpstreamError("telephony provider rejected the call", restErrorCause(restErr))
		}
		logger.Warn(ctx, "twilio dial request did not complete", zap.Error(err))
		return "", domain.NewUpstreamError("telephony dial result unknown", fmt.Errorf("%w: %v", ErrDialUnconfirmed, err))
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return "", domain.NewUpstreamError("telephony provider returned no call sid", nil)
	}

	status := ""
	if call.Status != nil {
		status = *call.Status
	}
	logger.Info(ctx, "twilio call created", zap.String("call_sid", *call.Sid), zap.String("twilio_status", status))
	return *call.Sid, nil
}

// ValidateCallback checks the X-Twilio-Signature of a callback request.
// fullURL is the URL Twilio requested, params the POST form values (nil for GET).
func (s *CallService) ValidateCallback(fullURL string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	if params == nil {
		params = map[string]string{}
	}
	return s.validator.Validate(fullURL, params, signature)
}

func restErrorCause(restErr *client.TwilioRestError) error {
	return fmt.Errorf("twilio error %d: %s", restErr.Code, restErr.Message)
}
