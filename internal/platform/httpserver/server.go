package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	approvalworkflow "atlas/contexts/project-tracking/approval-workflow"
	approvalerrors "atlas/contexts/project-tracking/approval-workflow/domain/errors"
	approvalhttp "atlas/contexts/project-tracking/approval-workflow/transport/http"

	_ "atlas/internal/platform/httpserver/docs"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Server struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	addr      string
	approvals approvalworkflow.Module
}

func New(
	approvals approvalworkflow.Module,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger,
		addr:      addr,
		approvals: approvals,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /api/approvals/v1/requests", s.handleCreateRequest)
	s.mux.HandleFunc("GET /api/approvals/v1/requests", s.handleListRequests)
	s.mux.HandleFunc("GET /api/approvals/v1/requests/{request_id}", s.handleGetRequest)
	s.mux.HandleFunc("POST /api/approvals/v1/requests/{request_id}/decision", s.handleCastDecision)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUserID(r)
	if !ok {
		writeApprovalError(w, http.StatusUnauthorized, "unauthenticated", "X-User-Id header with the resolved caller id is required")
		return
	}

	var req approvalhttp.CreateApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeApprovalError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.approvals.Handler.CreateRequestHandler(r.Context(), userID, req)
	if err != nil {
		writeApprovalDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCastDecision(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUserID(r)
	if !ok {
		writeApprovalError(w, http.StatusUnauthorized, "unauthenticated", "X-User-Id header with the resolved caller id is required")
		return
	}

	var req approvalhttp.CastDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeApprovalError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.approvals.Handler.CastDecisionHandler(r.Context(), r.PathValue("request_id"), userID, req)
	if err != nil {
		writeApprovalDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	// Anonymous reads are allowed; pending_decision is simply omitted.
	userID, _ := resolveUserID(r)
	resp, err := s.approvals.Handler.GetRequestHandler(r.Context(), r.PathValue("request_id"), userID)
	if err != nil {
		writeApprovalDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUserID(r)
	if !ok {
		writeApprovalError(w, http.StatusUnauthorized, "unauthenticated", "X-User-Id header with the resolved caller id is required")
		return
	}

	resp, err := s.approvals.Handler.ListRequestsHandler(r.Context(), userID)
	if err != nil {
		writeApprovalDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeApprovalDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approvalerrors.ErrRequestNotFound):
		writeApprovalError(w, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, approvalerrors.ErrNotRecipient):
		writeApprovalError(w, http.StatusForbidden, "not_a_recipient", err.Error())
	case errors.Is(err, approvalerrors.ErrRequestResolved):
		writeApprovalError(w, http.StatusConflict, "request_already_resolved", err.Error())
	case errors.Is(err, approvalerrors.ErrAlreadyDecided):
		writeApprovalError(w, http.StatusConflict, "decision_already_cast", err.Error())
	case errors.Is(err, approvalerrors.ErrEmptyRecipientList):
		writeApprovalError(w, http.StatusUnprocessableEntity, "empty_recipient_list", err.Error())
	case errors.Is(err, approvalerrors.ErrInvalidDecision):
		writeApprovalError(w, http.StatusUnprocessableEntity, "invalid_decision", err.Error())
	case errors.Is(err, approvalerrors.ErrInvalidSubmitInput),
		errors.Is(err, approvalerrors.ErrInvalidUserID):
		writeApprovalError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeApprovalError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeApprovalError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, approvalhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// resolveUserID reads the caller id the external identity resolver placed in
// X-User-Id. The engine never authenticates credentials itself.
func resolveUserID(r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if raw == "" {
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}
