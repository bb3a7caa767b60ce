package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/ragctx-go/internal/audit"
	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/logging"
)

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.mgr.Stats()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleListContexts handles GET /api/contexts. It returns the per-context
// slice of the registry stats, which carries everything a listing needs.
func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	st, err := s.mgr.Stats()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Contexts)
}

// handleCreateContext handles POST /api/contexts.
func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	name, err := contexts.NormalizeName(req.Name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.mgr.Create(name, req.Description); err != nil {
		writeErr(w, r, err)
		return
	}
	audit.LogContextChange(logging.FromContext(r.Context()), audit.OpCreate, name, clientIP(r))

	meta, err := s.mgr.Metadata(name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contextResponse{Metadata: meta})
}

// handleGetContext handles GET /api/contexts/{name}.
func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	name, err := contexts.NormalizeName(r.PathValue("name"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	meta, err := s.mgr.Metadata(name)
	if err != nil {
		// A context whose metadata was lost still exists until its next
		// indexing run recreates the entry.
		if !errors.Is(err, contexts.ErrNotFound) || !s.mgr.Exists(name) {
			writeErr(w, r, err)
			return
		}
		meta = &contexts.Metadata{Name: name}
	}
	writeJSON(w, http.StatusOK, contextResponse{Metadata: meta, HasIndex: s.mgr.HasIndex(name)})
}

// handleDeleteContext handles DELETE /api/contexts/{name}.
func (s *Server) handleDeleteContext(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.mgr.Delete(name); err != nil {
		writeErr(w, r, err)
		return
	}
	audit.LogContextChange(logging.FromContext(r.Context()), audit.OpDelete, name, clientIP(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleRenameContext handles POST /api/contexts/{name}/rename.
func (s *Server) handleRenameContext(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	from := r.PathValue("name")
	if err := s.mgr.Rename(from, req.NewName); err != nil {
		writeErr(w, r, err)
		return
	}
	to, _ := contexts.NormalizeName(req.NewName)
	audit.LogContextChange(logging.FromContext(r.Context()), audit.OpRename, from, clientIP(r),
		slog.String("new_name", to))

	meta, err := s.mgr.Metadata(to)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contextResponse{Metadata: meta, HasIndex: s.mgr.HasIndex(to)})
}

// handleClearContext handles POST /api/contexts/{name}/clear.
func (s *Server) handleClearContext(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.mgr.ClearIndex(name); err != nil {
		writeErr(w, r, err)
		return
	}
	audit.LogContextChange(logging.FromContext(r.Context()), audit.OpClear, name, clientIP(r))

	meta, err := s.mgr.Metadata(name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contextResponse{Metadata: meta})
}
