package server

import (
	"net/http"

	"github.com/lazypower/secondbrain/internal/store"
)

type decayRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=simple advanced"`
}

type boostRelatedRequest struct {
	Key       string  `json:"key" validate:"required"`
	Value     string  `json:"value" validate:"required"`
	Amount    float64 `json:"amount" validate:"gte=0"`
	ExcludeID string  `json:"exclude_id"`
}

func heated(recs []store.HeatedRecord) []store.HeatedRecord {
	if recs == nil {
		return []store.HeatedRecord{}
	}
	return recs
}

func (s *Server) handleHot(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = s.cfg.Search.DefaultLimit
	}
	recs, err := s.svc.Heat.Hot(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": heated(recs)})
}

func (s *Server) handleCold(w http.ResponseWriter, r *http.Request) {
	threshold, err := queryFloat(r, "threshold")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	minAge, err := queryInt(r, "min_age_days")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = s.cfg.Search.DefaultLimit
	}
	recs, err := s.svc.Heat.Cold(r.Context(), threshold, limit, minAge)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": heated(recs)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Heat.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	var req decayRequest
	if r.ContentLength != 0 {
		if err := s.decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	report, err := s.svc.Heat.ApplyDecay(r.Context(), req.Mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBoostRelated(w http.ResponseWriter, r *http.Request) {
	var req boostRelatedRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.Heat.BoostRelated(r.Context(), req.Key, req.Value, req.Amount, req.ExcludeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"boosted": n})
}
