package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/service"
	"go.uber.org/zap"
)

func (s *Server) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req model.StartFlowRequest
	if !decode(w, r, &req) {
		return
	}
	session, err := s.controlService.Start(r.Context(), req)
	if err != nil {
		logger.Error("error starting flow", zap.String("definitionId", req.DefinitionId), zap.Error(err))
		respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, session)
}

func (s *Server) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.statusService.CurrentSnapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, snap)
}

// HandlePollSession blocks until the session changes. Query parameters are
// since (event id), version (state version) and timeoutMs.
func (s *Server) HandlePollSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := int64Param(q.Get("since"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid since")
		return
	}
	version, err := int64Param(q.Get("version"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid version")
		return
	}
	timeoutMs, err := int64Param(q.Get("timeoutMs"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid timeoutMs")
		return
	}
	// capped before conversion so huge values can not overflow
	timeout := service.DEFAULT_POLL_TIMEOUT
	if timeoutMs < timeout.Milliseconds() {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	snap, err := s.statusService.PollSession(r.Context(), mux.Vars(r)["id"], since, version, timeout)
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, snap)
}

func (s *Server) HandlePauseSession(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "pausing", s.controlService.Pause)
}

func (s *Server) HandleResumeSession(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "resuming", s.controlService.Resume)
}

func (s *Server) HandleRetrySession(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "retrying", s.controlService.Retry)
}

type cancelRequest struct {
	CancelledBy string `json:"cancelledBy"`
}

func (s *Server) HandleCancelSession(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondWithError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	session, err := s.controlService.Cancel(r.Context(), id, req.CancelledBy)
	if err != nil {
		logger.Error("error cancelling session", zap.String("sessionId", id), zap.Error(err))
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, session)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context, id string) (*model.FlowSession, error)) {
	id := mux.Vars(r)["id"]
	session, err := fn(r.Context(), id)
	if err != nil {
		logger.Error("error "+action+" session", zap.String("sessionId", id), zap.Error(err))
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, session)
}

func int64Param(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
