package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/metadata"
	"github.com/mohitkumar/agentflow/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

type Server struct {
	http.Server
	Port            int
	metadataService metadata.Service
	controlService  *service.ControlService
	statusService   *service.StatusService
}

func NewServer(httpPort int, metadataService metadata.Service, controlService *service.ControlService, statusService *service.StatusService, gatherer prometheus.Gatherer) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		metadataService: metadataService,
		controlService:  controlService,
		statusService:   statusService,
		Port:            httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/metadata/agent", s.HandleCreateAgent).Methods(http.MethodPost)
	router.HandleFunc("/metadata/agent/{id}", s.HandleGetAgent).Methods(http.MethodGet)
	router.HandleFunc("/metadata/flow", s.HandleCreateFlow).Methods(http.MethodPost)
	router.HandleFunc("/metadata/flow/{id}", s.HandleGetFlow).Methods(http.MethodGet)

	router.HandleFunc("/session", s.HandleStartSession).Methods(http.MethodPost)
	router.HandleFunc("/session/{id}", s.HandleGetSession).Methods(http.MethodGet)
	router.HandleFunc("/session/{id}/poll", s.HandlePollSession).Methods(http.MethodGet)
	router.HandleFunc("/session/{id}/pause", s.HandlePauseSession).Methods(http.MethodPost)
	router.HandleFunc("/session/{id}/resume", s.HandleResumeSession).Methods(http.MethodPost)
	router.HandleFunc("/session/{id}/cancel", s.HandleCancelSession).Methods(http.MethodPost)
	router.HandleFunc("/session/{id}/retry", s.HandleRetrySession).Methods(http.MethodPost)
	router.HandleFunc("/session/{id}/interactions", s.HandlePendingInteractions).Methods(http.MethodGet)

	router.HandleFunc("/interaction/{id}/respond", s.HandleRespond).Methods(http.MethodPost)
	router.HandleFunc("/interaction/{id}/auto-resolve", s.HandleAutoResolve).Methods(http.MethodPost)

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug(r.RequestURI, zap.String("method", r.Method))
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload interface{}) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithAPIError maps the error's status code onto an HTTP status.
func respondWithAPIError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch api.Code(err) {
	case codes.InvalidArgument:
		code = http.StatusBadRequest
	case codes.NotFound:
		code = http.StatusNotFound
	case codes.FailedPrecondition, codes.AlreadyExists:
		code = http.StatusConflict
	}
	respondWithError(w, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
