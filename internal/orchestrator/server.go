package orchestrator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/edgefaas/edgefaas/internal/domain"
	"github.com/edgefaas/edgefaas/internal/logging"
)

// Server exposes Service over HTTP for the Gateway's Client to call.
type Server struct {
	svc         *Service
	gracePeriod time.Duration
}

// NewServer wraps svc with the HTTP surface cmd/orchestratord runs.
func NewServer(svc *Service, gracePeriod time.Duration) *Server {
	if gracePeriod <= 0 {
		gracePeriod = 60 * time.Second
	}
	return &Server{svc: svc, gracePeriod: gracePeriod}
}

// RegisterRoutes attaches the Orchestrator's endpoints to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /containers/provision", s.handleProvision)
	mux.HandleFunc("DELETE /containers/{id}", s.handleDelete)
	mux.HandleFunc("GET /containers/sync", s.handleList)
	mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FunctionName == "" {
		writeError(w, http.StatusBadRequest, "function_name is required")
		return
	}

	worker, err := s.svc.EnsureRunning(r.Context(), req.FunctionName, req.Image, req.Env)
	if err != nil {
		logging.Op().Error("provision failed", "function", req.FunctionName, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, provisionResponse{Workers: []domain.Worker{worker}})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing container id")
		return
	}
	if err := s.svc.Stop(r.Context(), id); err != nil {
		logging.Op().Error("stop failed", "container", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	workers, err := s.svc.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Containers: workers})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.svc.Reconcile(r.Context(), req.FunctionName, req.ContainerNames, s.gracePeriod)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
