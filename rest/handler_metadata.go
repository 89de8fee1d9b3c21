package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var agent model.AgentVersion
	if !decode(w, r, &agent) {
		return
	}
	if err := s.metadataService.SaveAgent(r.Context(), agent); err != nil {
		logger.Error("error saving agent version", zap.String("id", agent.Id), zap.Error(err))
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := s.metadataService.GetAgentVersion(r.Context(), id)
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, agent)
}

func (s *Server) HandleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var def model.FlowDefinition
	if !decode(w, r, &def) {
		return
	}
	if err := s.metadataService.SaveFlow(r.Context(), def); err != nil {
		logger.Error("error saving flow definition", zap.String("id", def.Id), zap.Error(err))
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	fl, err := s.metadataService.GetFlow(r.Context(), id)
	if err != nil {
		respondWithAPIError(w, err)
		return
	}
	respondOK(w, fl.Definition)
}
