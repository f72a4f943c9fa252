package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/internal/services/webhook"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// TelephonyStatusReconciler applies Twilio status callbacks
type TelephonyStatusReconciler interface {
	ApplyTelephonyStatus(ctx context.Context, callID, callSID, twilioStatus string, durationSeconds int) (webhook.Result, error)
}

// TelephonyStatusHandler receives Twilio call progress callbacks
type TelephonyStatusHandler struct {
	reconciler    TelephonyStatusReconciler
	publicBaseURL string
	validator     CallbackValidator
}

// NewTelephonyStatusHandler creates a new status callback handler
func NewTelephonyStatusHandler(reconciler TelephonyStatusReconciler, publicBaseURL string, validator CallbackValidator) *TelephonyStatusHandler {
	return &TelephonyStatusHandler{
		reconciler:    reconciler,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		validator:     validator,
	}
}

// SetupTelephonyStatusRoutes sets up the status callback route
func (h *TelephonyStatusHandler) SetupTelephonyStatusRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/telephony-status", h.HandleStatus).Methods(http.MethodPost)
}

// HandleStatus godoc
// @Summary Twilio call status callback
// @Tags telephony
// @Accept x-www-form-urlencoded
// @Produce json
// @Param callId query string false "Internal call id"
// @Success 200 {object} messageResponse
// @Failure 403 {string} string "Invalid Twilio signature"
// @Failure 404 {object} errorResponse "Unknown call"
// @Router /webhooks/telephony-status [post]
func (h *TelephonyStatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	if h.validator != nil && !validTwilioRequest(h.validator, h.publicBaseURL, r) {
		logger.Warn(r.Context(), "status callback with invalid twilio signature", zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, domain.NewValidationError("invalid form body"))
		return
	}

	callID := r.URL.Query().Get("callId")
	callSID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	duration, _ := strconv.Atoi(r.PostForm.Get("CallDuration"))

	logger.Info(r.Context(), "telephony status callback",
		zap.String("call_id", callID),
		zap.String("call_sid", callSID),
		zap.String("twilio_status", status),
	)

	result, err := h.reconciler.ApplyTelephonyStatus(r.Context(), callID, callSID, status, duration)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: string(result)})
}
