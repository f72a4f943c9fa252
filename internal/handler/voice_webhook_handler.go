package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/internal/services/webhook"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

// VoiceEventReconciler applies verified voice-AI webhook bodies
type VoiceEventReconciler interface {
	HandleVoiceEvent(ctx context.Context, body []byte) (webhook.Result, error)
}

// VoiceWebhookHandler receives signed call events from the voice-AI provider
type VoiceWebhookHandler struct {
	reconciler    VoiceEventReconciler
	webhookSecret string
}

// NewVoiceWebhookHandler creates a new voice webhook handler
func NewVoiceWebhookHandler(reconciler VoiceEventReconciler, webhookSecret string) *VoiceWebhookHandler {
	return &VoiceWebhookHandler{
		reconciler:    reconciler,
		webhookSecret: webhookSecret,
	}
}

// SetupVoiceWebhookRoutes sets up the voice-AI webhook route
func (h *VoiceWebhookHandler) SetupVoiceWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/voice-events", h.HandleVoiceEvent).Methods(http.MethodPost)
}

// verifyWebhookSignature verifies the webhook signature using HMAC-SHA256.
// An empty secret rejects every request.
func (h *VoiceWebhookHandler) verifyWebhookSignature(payload []byte, signature string) bool {
	if h.webhookSecret == "" || signature == "" {
		return false
	}

	// Remove "sha256=" prefix if present
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(payload)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expectedSignature))
}

// HandleVoiceEvent godoc
// @Summary Voice-AI call events
// @Description Signed at-least-once deliveries; call.ended updates the call record
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Signature header string true "hex HMAC-SHA256 of the raw body"
// @Success 200 {object} messageResponse
// @Failure 400 {object} errorResponse "Malformed payload"
// @Failure 401 {object} errorResponse "Invalid signature"
// @Failure 404 {object} errorResponse "Unknown call id"
// @Router /webhooks/voice-events [post]
func (h *VoiceWebhookHandler) HandleVoiceEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		writeError(w, r, domain.NewValidationError("failed to read request body"))
		return
	}
	defer r.Body.Close()
	if len(body) > maxWebhookBodyBytes {
		writeError(w, r, domain.NewValidationError("request body too large"))
		return
	}

	if !h.verifyWebhookSignature(body, r.Header.Get("X-Signature")) {
		logger.Warn(r.Context(), "voice webhook signature mismatch", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, r, domain.NewAuthError("invalid signature"))
		return
	}

	result, err := h.reconciler.HandleVoiceEvent(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: string(result)})
}
