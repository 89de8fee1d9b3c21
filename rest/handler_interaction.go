package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandlePendingInteractions(w http.ResponseWriter, r *http.Request) {
	requests, err := s.statusService.PendingInteractions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	if requests == nil {
		requests = []*model.FlowInteractionRequest{}
	}
	respondOK(w, requests)
}

func (s *Server) HandleRespond(w http.ResponseWriter, r *http.Request) {
	var req model.RespondRequest
	if !decode(w, r, &req) {
		return
	}
	req.RequestId = mux.Vars(r)["id"]
	resp, err := s.controlService.Respond(r.Context(), req)
	if err != nil {
		logger.Error("error responding to interaction", zap.String("requestId", req.RequestId), zap.Error(err))
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, resp)
}

func (s *Server) HandleAutoResolve(w http.ResponseWriter, r *http.Request) {
	var req model.AutoResolveRequest
	if !decode(w, r, &req) {
		return
	}
	req.RequestId = mux.Vars(r)["id"]
	resp, err := s.controlService.AutoResolve(r.Context(), req)
	if err != nil {
		logger.Error("error auto resolving interaction", zap.String("requestId", req.RequestId), zap.Error(err))
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, resp)
}
