package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/internal/services/call"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxRequestBodyBytes = 1 << 20

// CallInitiator is the part of the call service used by CallHandler
type CallInitiator interface {
	InitiateCall(ctx context.Context, in call.InitiateCallInput) (*domain.InitiateCallResponse, error)
	DispatchBatch(ctx context.Context, userID, agentID string, contacts []domain.BatchContact) (*domain.BatchCallResponse, error)
	GetCall(ctx context.Context, userID, callID string) (*domain.Call, error)
	ListCalls(ctx context.Context, filter domain.CallListFilter) ([]*domain.Call, int64, error)
}

// CallHandler handles the dashboard call endpoints
type CallHandler struct {
	service CallInitiator
}

// NewCallHandler creates a new call handler
func NewCallHandler(service CallInitiator) *CallHandler {
	return &CallHandler{service: service}
}

// SetupCallRoutes sets up routes for call initiation and history
func (h *CallHandler) SetupCallRoutes(router *mux.Router) {
	router.HandleFunc("/calls", h.InitiateCall).Methods(http.MethodPost)
	router.HandleFunc("/calls/batch", h.BatchCall).Methods(http.MethodPost)
	router.HandleFunc("/calls", h.ListCalls).Methods(http.MethodGet)
	router.HandleFunc("/calls/{id}", h.GetCall).Methods(http.MethodGet)
}

// CallListResponse is a page of call history
type CallListResponse struct {
	Calls  []*domain.Call `json:"calls"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func decodeJSON(r *http.Request, target interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		return domain.NewValidationError("failed to read request body")
	}
	if len(body) > maxRequestBodyBytes {
		return domain.NewValidationError("request body too large")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return domain.NewValidationError("invalid request body")
	}
	return nil
}

// InitiateCall godoc
// @Summary Place one outbound call
// @Tags calls
// @Accept json
// @Produce json
// @Param request body domain.InitiateCallRequest true "Call request"
// @Success 200 {object} domain.InitiateCallResponse
// @Failure 400 {object} errorResponse "Invalid phone number or request"
// @Failure 404 {object} errorResponse "Agent not found"
// @Failure 500 {object} errorResponse "Provider error"
// @Router /calls [post]
func (h *CallHandler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	var req domain.InitiateCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.service.InitiateCall(r.Context(), call.InitiateCallInput{
		UserID:      UserIDFrom(r.Context()),
		AgentID:     req.AgentID,
		PhoneNumber: req.PhoneNumber,
		ContactName: req.ContactName,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// BatchCall godoc
// @Summary Place outbound calls for a list of contacts
// @Description Contacts are dialed one after another; failures are counted, not fatal
// @Tags calls
// @Accept json
// @Produce json
// @Param request body domain.BatchCallRequest true "Batch request"
// @Success 200 {object} domain.BatchCallResponse
// @Failure 400 {object} errorResponse "Empty or oversized batch"
// @Failure 404 {object} errorResponse "Agent not found"
// @Router /calls/batch [post]
func (h *CallHandler) BatchCall(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	// a paced batch outlives the server write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug(r.Context(), "write deadline not adjustable", zap.Error(err))
	}

	resp, err := h.service.DispatchBatch(r.Context(), UserIDFrom(r.Context()), req.AgentID, req.Contacts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListCalls godoc
// @Summary List the caller's calls, newest first
// @Tags calls
// @Produce json
// @Param status query string false "Status filter"
// @Param agentId query string false "Agent filter"
// @Param limit query int false "Page size (max 200)"
// @Param offset query int false "Offset"
// @Success 200 {object} CallListResponse
// @Router /calls [get]
func (h *CallHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CallListFilter{
		UserID:  UserIDFrom(r.Context()),
		AgentID: q.Get("agentId"),
		Status:  domain.CallStatus(q.Get("status")),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, domain.NewValidationError("limit must be a non-negative integer"))
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, domain.NewValidationError("offset must be a non-negative integer"))
		return
	}

	calls, total, err := h.service.ListCalls(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if calls == nil {
		calls = []*domain.Call{}
	}

	writeJSON(w, http.StatusOK, CallListResponse{Calls: calls, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// GetCall godoc
// @Summary Get one of the caller's calls
// @Tags calls
// @Produce json
// @Param id path string true "Call ID"
// @Success 200 {object} domain.Call
// @Failure 404 {object} errorResponse "Call not found"
// @Router /calls/{id} [get]
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetCall(r.Context(), UserIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
