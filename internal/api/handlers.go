package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/orderbots/internal/domain"
	"github.com/SirClappington/orderbots/internal/engine"
)

// handleHealth reports liveness and uptime.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), map[string]any{
		"uptime":           time.Since(s.startTime).Round(time.Second).String(),
		"process_duration": s.engine.ProcessDuration().String(),
	})
}

// GET /v1/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.engine.Snapshot())
}

// POST /v1/workers
func (s *Server) handleAddWorker(w http.ResponseWriter, r *http.Request) {
	respondCreated(w, RequestIDFromContext(r.Context()), s.engine.AddWorker())
}

// handleRemoveWorker removes the newest bot; data is null when there is
// none.
// DELETE /v1/workers
func (s *Server) handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	removed, ok := s.engine.RemoveWorker()
	if !ok {
		respondOK(w, reqID, nil)
		return
	}
	respondOK(w, reqID, removed)
}

type addJobRequest struct {
	Class string `json:"class"`
}

// handleAddJob enqueues an order. An empty body or an unknown class makes
// a NORMAL order.
// POST /v1/jobs
func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req addJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, reqID, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	respondCreated(w, reqID, s.engine.AddJob(domain.ParseClass(req.Class)))
}

// handleSettle blocks until the engine settles or the timeout elapses.
// POST /v1/settle?timeout=5s
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	timeout := s.settleTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			respondError(w, reqID, http.StatusBadRequest, codeBadRequest, "timeout must be a positive duration, e.g. 5s")
			return
		}
		timeout = d
	}

	err := s.engine.WaitUntilSettled(r.Context(), timeout)
	switch {
	case err == nil:
		respondOK(w, reqID, s.engine.Snapshot())
	case errors.Is(err, engine.ErrSettleTimeout):
		respondError(w, reqID, http.StatusGatewayTimeout, codeTimeout, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("settle abandoned by client", zap.String("request_id", reqID))
	default:
		s.logger.Error("settle", zap.Error(err))
		respondError(w, reqID, http.StatusInternalServerError, codeInternal, err.Error())
	}
}
