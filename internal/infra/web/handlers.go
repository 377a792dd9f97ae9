package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/infra/logging"
)

type submitRequest struct {
	Kind          string   `json:"kind"`
	Prompt        string   `json:"prompt"`
	ReferenceURLs []string `json:"reference_urls,omitempty"`
	AspectRatio   string   `json:"aspect_ratio,omitempty"`
	OutputFormat  string   `json:"output_format,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

type handleResponse struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
}

type statusResponse struct {
	State      string   `json:"state"`
	Progress   float64  `json:"progress"`
	Stage      string   `json:"stage,omitempty"`
	ResultURLs []string `json:"result_urls,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := &model.JobRequest{
		Kind:          model.JobKind(body.Kind),
		AccountID:     AccountID(r.Context()),
		CorrelationID: body.CorrelationID,
		Prompt:        body.Prompt,
		ReferenceURLs: body.ReferenceURLs,
		AspectRatio:   body.AspectRatio,
		OutputFormat:  body.OutputFormat,
	}

	handle, err := s.orch.Submit(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handleResponse{TaskID: handle.TaskID, Kind: string(handle.Kind)})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Poll(r.Context(), handleFromURL(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (s *Server) handleAwait(w http.ResponseWriter, r *http.Request) {
	// Bounded long-poll; the browser re-issues the request if still running.
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	st, err := s.orch.Await(ctx, handleFromURL(r))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Not terminal yet; report current state instead of an error.
			if cur, perr := s.orch.Poll(r.Context(), handleFromURL(r)); perr == nil {
				writeJSON(w, http.StatusOK, toStatusResponse(cur))
				return
			}
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Cancel(r.Context(), handleFromURL(r)); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.ledger.Balance(r.Context(), AccountID(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func handleFromURL(r *http.Request) model.JobHandle {
	return model.JobHandle{
		Kind:   model.JobKind(chi.URLParam(r, "kind")),
		TaskID: chi.URLParam(r, "taskID"),
	}
}

func toStatusResponse(st model.JobStatus) statusResponse {
	return statusResponse{
		State:      string(st.State),
		Progress:   st.Progress,
		Stage:      st.Stage,
		ResultURLs: st.ResultURLs,
		Reason:     st.Reason,
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrDuplicateSubmission):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTooBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrProviderRejected), errors.Is(err, domain.ErrProviderUnreachable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logging.With(r.Context(), s.log).Error().Err(err).
			Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
