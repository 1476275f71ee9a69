package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/logging"

	"github.com/go-chi/chi/v5"
)

type submitRequest struct {
	Files    []string              `json:"files"`
	Config   model.DetectionConfig `json:"config"`
	Priority int                   `json:"priority"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type cancelResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidJob), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotCompleted), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInfrastructure), errors.Is(err, domain.ErrQueueStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("request failed")
		writeError(w, code, http.StatusText(code))
		return
	}
	writeError(w, code, err.Error())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing "+OwnerHeader+" header")
		return
	}
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.inspUC.Submit(r.Context(), owner, req.Files, req.Config, req.Priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+id)
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.inspUC.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.inspUC.Cancel(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, cancelResponse{JobID: id})
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{JobID: id, Cancelled: true})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.inspUC.GetSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.inspUC.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	history, _ := strconv.Atoi(r.URL.Query().Get("history"))
	cmp, err := s.inspUC.Compare(r.Context(), chi.URLParam(r, "id"), history)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.inspUC.QueueStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.inspUC.Pause(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.inspUC.Resume(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
