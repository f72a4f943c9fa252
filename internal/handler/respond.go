package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// errorResponse is the body of every error reply
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// messageResponse acknowledges webhooks
type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Base().Warn("failed to encode response", zap.Error(err))
	}
}

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrorKindValidation:
		return http.StatusBadRequest
	case domain.ErrorKindNotFound:
		return http.StatusNotFound
	case domain.ErrorKindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	resp := errorResponse{Message: http.StatusText(status), Error: http.StatusText(status)}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		resp.Message = domainErr.Message
		if domainErr.Err != nil {
			resp.Error = domainErr.Err.Error()
		}
	} else {
		resp.Error = "internal error"
	}

	if status >= http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, resp)
}
