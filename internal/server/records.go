package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/secondbrain/internal/engine"
)

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var note engine.Note
	if err := s.decode(r, &note); err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.svc.Recorder.Remember(r.Context(), note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Recorder.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetVector(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Recorder.Vector(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.svc.Recorder.Forget(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeErrorCode(w, r, http.StatusNotFound, codeNotFound, "record "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	s.setPinned(w, r, true)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	s.setPinned(w, r, false)
}

func (s *Server) setPinned(w http.ResponseWriter, r *http.Request, pinned bool) {
	id := chi.URLParam(r, "id")
	set := s.svc.Heat.Unpin
	if pinned {
		set = s.svc.Heat.Pin
	}
	ok, err := set(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Heat updates on a missing record are no-ops, not errors.
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "pinned": pinned, "affected": affected(ok)})
}

func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	heat, found, err := s.svc.Heat.BoostOnAccess(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "affected": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "heat": heat, "affected": 1})
}

func affected(ok bool) int {
	if ok {
		return 1
	}
	return 0
}
