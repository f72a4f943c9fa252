package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"go.uber.org/zap"
)

const maxErrorBodyBytes = 2048

// VoiceAIClient handles communication with the voice-AI conversation API
type VoiceAIClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// StreamClient serves recording downloads. It has no whole-request
	// timeout; the caller's context bounds the body read.
	StreamClient *http.Client
}

// NewVoiceAIClient creates a new voice-AI API client. timeout bounds every JSON
// request and the wait for recording response headers.
func NewVoiceAIClient(baseURL, apiKey string, timeout time.Duration) *VoiceAIClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = timeout
	return &VoiceAIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		StreamClient: &http.Client{
			Transport: streamTransport,
		},
	}
}

// SessionRequest asks for a signed real-time session for an agent
type SessionRequest struct {
	AgentID   string
	Overrides *domain.SessionOverrides
	// DynamicVariables are echoed back by the provider in webhook metadata
	DynamicVariables map[string]string
}

// SignedSession is a provider-issued session handle
type SignedSession struct {
	SignedURL      string
	ConversationID string
}

type signedSessionBody struct {
	AgentID    string          `json:"agent_id"`
	ClientData *clientDataBody `json:"conversation_initiation_client_data,omitempty"`
}

type clientDataBody struct {
	ConversationConfigOverride *domain.SessionOverrides `json:"conversation_config_override,omitempty"`
	DynamicVariables           map[string]string        `json:"dynamic_variables,omitempty"`
}

type signedSessionResponse struct {
	SignedURL      string `json:"signed_url"`
	ConversationID string `json:"conversation_id"`
}

// GetSignedSession requests a signed session URL for the agent.
// The conversation id comes from the response body or, failing that, from the
// signed URL's query string. A response without both is an upstream error.
func (c *VoiceAIClient) GetSignedSession(ctx context.Context, req SessionRequest) (*SignedSession, error) {
	if req.AgentID == "" {
		return nil, domain.NewValidationError("agent has no voice provider id")
	}

	body := signedSessionBody{AgentID: req.AgentID}
	if req.Overrides != nil || len(req.DynamicVariables) > 0 {
		body.ClientData = &clientDataBody{
			ConversationConfigOverride: req.Overrides,
			DynamicVariables:           req.DynamicVariables,
		}
	}

	endpoint := fmt.Sprintf("%s/v1/convai/conversation/get-signed-url?agent_id=%s", c.BaseURL, url.QueryEscape(req.AgentID))

	var resp signedSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}

	if resp.SignedURL == "" {
		return nil, domain.NewUpstreamError("voice provider returned no signed url", nil)
	}

	conversationID := resp.ConversationID
	if conversationID == "" {
		conversationID = conversationIDFromURL(resp.SignedURL)
	}
	if conversationID == "" {
		return nil, domain.NewUpstreamError("voice provider returned no conversation id", nil)
	}

	logger.Info(ctx, "signed voice session issued", zap.String("conversation_id", conversationID))
	return &SignedSession{SignedURL: resp.SignedURL, ConversationID: conversationID}, nil
}

func conversationIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, key := range []string{"conversation_id", "conversationId", "conversation"} {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// TranscriptTurn is one utterance of a finished conversation
type TranscriptTurn struct {
	Role           string  `json:"role"`
	Message        string  `json:"message"`
	TimeInCallSecs float64 `json:"time_in_call_secs,omitempty"`
}

// Conversation is the provider's record of a finished conversation
type Conversation struct {
	ConversationID string           `json:"conversation_id"`
	Status         string           `json:"status"`
	Transcript     []TranscriptTurn `json:"transcript"`
	Metadata       struct {
		StartTimeUnixSecs int64   `json:"start_time_unix_secs"`
		CallDurationSecs  int     `json:"call_duration_secs"`
		Cost              float64 `json:"cost"`
	} `json:"metadata"`
	Analysis struct {
		TranscriptSummary string `json:"transcript_summary"`
	} `json:"analysis"`
	HasAudio bool `json:"has_audio"`
}

// FormatTranscript renders turns as "role: message" lines
func FormatTranscript(turns []TranscriptTurn) string {
	var b strings.Builder
	for _, t := range turns {
		msg := strings.TrimSpace(t.Message)
		if msg == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

// GetConversation fetches a conversation's details and transcript
func (c *VoiceAIClient) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	endpoint := fmt.Sprintf("%s/v1/convai/conversations/%s", c.BaseURL, url.PathEscape(conversationID))

	var conv Conversation
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversationAudio streams the conversation recording. The caller closes the
// reader; ctx bounds the whole download.
func (c *VoiceAIClient) GetConversationAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, error) {
	endpoint := fmt.Sprintf("%s/v1/convai/conversations/%s/audio", c.BaseURL, url.PathEscape(conversationID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.APIKey)

	resp, err := c.StreamClient.Do(req)
	if err != nil {
		return nil, "", domain.NewUpstreamError("voice provider audio request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", statusError(resp)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return resp.Body, contentType, nil
}

func (c *VoiceAIClient) doJSON(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return domain.NewUpstreamError("voice provider request failed", err)
	}
	defer resp.Body.Close()

	logger.Debug(ctx, "voice provider response",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewUpstreamError("failed to read voice provider response", err)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return domain.NewUpstreamError("unexpected voice provider response", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return domain.NewUpstreamError(
		fmt.Sprintf("voice provider returned status %d", resp.StatusCode),
		fmt.Errorf("%s", strings.TrimSpace(string(bodyBytes))),
	)
}
