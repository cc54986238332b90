package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/cluster"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft"
)

// defaultReadingsLimit applies when /nodes/{id}/readings has no limit.
const defaultReadingsLimit = 5

// Server serves the admin HTTP API backed by a cluster.Service.
type Server struct {
	svc    *cluster.Service
	logger *slog.Logger
}

// New creates a new HTTP API server.
func New(svc *cluster.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger}
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	return newRouter(s)
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *Server) NodeReadings(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "node id must be an integer")
		return
	}
	limit := defaultReadingsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
	}
	writeJSON(w, http.StatusOK, s.svc.NodeReadings(id, limit))
}

func (s *Server) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	if s.redirectIfNotLeader(w) {
		return
	}
	var body struct {
		Command string `json:"command"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	idx, err := s.svc.Submit(body.Command)
	switch {
	case errors.Is(err, cluster.ErrEmptyCommand):
		writeError(w, http.StatusBadRequest, "bad_request", "command is required")
		return
	case errors.Is(err, raft.ErrNotLeader):
		// lost leadership between the check and the append
		s.redirectIfNotLeader(w)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "index": idx})
}

// redirectIfNotLeader answers 409 with a leader hint if this node is not the leader.
func (s *Server) redirectIfNotLeader(w http.ResponseWriter) bool {
	if s.svc.IsLeader() {
		return false
	}
	writeJSON(w, http.StatusConflict, map[string]interface{}{
		"ok":          false,
		"error":       "not_leader",
		"leader_hint": s.svc.LeaderHint(),
	})
	return true
}

// --- JSON helpers ---

type errorBody struct {
	Ok      bool   `json:"ok"`
	ErrCode string `json:"error"`
	ErrMsg  string `json:"message,omitempty"`
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Ok: false, ErrCode: code, ErrMsg: msg})
}
