package server

import (
	"net/http"

	"github.com/54b3r/ragctx-go/internal/session"
)

// handleCreateSession handles POST /api/sessions. A new session starts with
// no active context.
func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.New()
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// session resolves the {id} path value, writing a 404 when it is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return nil, false
	}
	return sess, true
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleCloseSession handles DELETE /api/sessions/{id}.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w, r); !ok {
		return
	}
	s.sessions.Close(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleSwitchSession handles POST /api/sessions/{id}/switch.
func (s *Server) handleSwitchSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req switchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := sess.Switch(r.Context(), req.Context); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleSessionSearch handles POST /api/sessions/{id}/search against the
// session's active context.
func (s *Server) handleSessionSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	req, err := parseSearch(w, r)
	if err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues("invalid").Inc()
		writeErr(w, r, err)
		return
	}
	hits, err := sess.Search(r.Context(), req.Query, req.K, req.Threshold)
	s.writeSearch(w, r, sess.Name(), req.Query, hits, err)
}
