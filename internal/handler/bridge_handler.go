package handler

import (
	"net/http"
	"strings"

	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/ClareAI/astra-dialer-service/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CallbackValidator checks Twilio callback signatures
type CallbackValidator interface {
	ValidateCallback(fullURL string, params map[string]string, signature string) bool
}

// BridgeHandler answers Twilio's bridge request with TwiML that connects
// the answered call to the voice-AI session
type BridgeHandler struct {
	publicBaseURL string
	validator     CallbackValidator // nil disables signature checks
}

// NewBridgeHandler creates a new bridge handler
func NewBridgeHandler(publicBaseURL string, validator CallbackValidator) *BridgeHandler {
	return &BridgeHandler{
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		validator:     validator,
	}
}

// SetupBridgeRoutes sets up the TwiML bridge route
func (h *BridgeHandler) SetupBridgeRoutes(router *mux.Router) {
	router.HandleFunc("/webhook-bridge", h.HandleBridge).Methods(http.MethodGet, http.MethodPost)
}

// HandleBridge godoc
// @Summary TwiML bridge for an answered call
// @Tags telephony
// @Produce xml
// @Param signedUrl query string true "Signed voice-AI session URL"
// @Success 200 {string} string "TwiML"
// @Failure 400 {string} string "Missing signedUrl"
// @Failure 403 {string} string "Invalid Twilio signature"
// @Router /webhook-bridge [get]
func (h *BridgeHandler) HandleBridge(w http.ResponseWriter, r *http.Request) {
	if h.validator != nil && !validTwilioRequest(h.validator, h.publicBaseURL, r) {
		logger.Warn(r.Context(), "bridge request with invalid twilio signature", zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	signedURL := strings.TrimSpace(r.URL.Query().Get("signedUrl"))
	if signedURL == "" {
		http.Error(w, "Missing signedUrl", http.StatusBadRequest)
		return
	}

	xml, err := twilio.BridgeTwiML(signedURL)
	if err != nil {
		logger.Error(r.Context(), "failed to render bridge twiml", zap.Error(err))
		http.Error(w, "Failed to render TwiML", http.StatusInternalServerError)
		return
	}

	logger.Info(r.Context(), "bridging answered call", zap.String("call_id", r.URL.Query().Get("callId")))

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml))
}

// validTwilioRequest checks X-Twilio-Signature against the public URL Twilio called
func validTwilioRequest(v CallbackValidator, publicBaseURL string, r *http.Request) bool {
	fullURL := publicBaseURL + r.URL.RequestURI()

	var params map[string]string
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return false
		}
		params = make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			params[key] = r.PostForm.Get(key)
		}
	}
	return v.ValidateCallback(fullURL, params, r.Header.Get("X-Twilio-Signature"))
}
