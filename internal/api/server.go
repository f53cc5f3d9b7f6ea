// Package api exposes a debug/admin HTTP surface over a running swimd host:
// a health check, a membership snapshot, and (optionally) Prometheus
// metrics.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orbitmesh/swim"
)

// MemberSource is the subset of hostdemo.Store the API needs to render a
// membership snapshot.
type MemberSource interface {
	Snapshot() map[swim.MemberID]swim.MemberState
}

// Server is the swimd debug/admin HTTP server.
type Server struct {
	members        MemberSource
	metricsEnabled bool
}

// NewServer creates a Server backed by members.
func NewServer(members MemberSource) *Server {
	return &Server{members: members}
}

// EnableMetrics mounts /metrics on the returned Handler.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1/members", func(r chi.Router) {
		r.Get("/", s.handleListMembers)
		r.Get("/{id}", s.handleGetMember)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type memberView struct {
	ID          uint64 `json:"id"`
	Status      string `json:"status"`
	Incarnation uint64 `json:"incarnation"`
	DelayMS     int64  `json:"delay_ms"`
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	snap := s.members.Snapshot()
	out := make([]memberView, 0, len(snap))
	for id, st := range snap {
		out = append(out, toMemberView(id, st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	id, err := parseMemberID(idParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid member id"})
		return
	}
	snap := s.members.Snapshot()
	st, ok := snap[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	writeJSON(w, http.StatusOK, toMemberView(id, st))
}

func toMemberView(id swim.MemberID, st swim.MemberState) memberView {
	return memberView{
		ID:          uint64(id),
		Status:      st.Status.String(),
		Incarnation: uint64(st.Incarnation),
		DelayMS:     st.Delay.Milliseconds(),
	}
}

func parseMemberID(s string) (swim.MemberID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return swim.MemberID(v), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
