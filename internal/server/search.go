package server

import (
	"net/http"

	"github.com/lazypower/secondbrain/internal/engine"
	"github.com/lazypower/secondbrain/internal/store"
)

// GET /api/search?q=...&limit=N&project=...
// Query parameters other than q and limit are metadata filters.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	filters := store.Filters{}
	for key, values := range q {
		if key == "q" || key == "limit" || len(values) == 0 {
			continue
		}
		filters[key] = values[0]
	}

	results, err := s.svc.Ranking.Search(r.Context(), q.Get("q"), limit, filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []engine.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q.Get("q"),
		"results": results,
	})
}
