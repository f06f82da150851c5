package server

import (
	"net/http"

	"github.com/lazypower/secondbrain/internal/engine"
)

type dedupRequest struct {
	Threshold           float64 `json:"threshold" validate:"omitempty,gt=0,lte=1"`
	DryRun              bool    `json:"dry_run"`
	Limit               int     `json:"limit" validate:"gte=0"`
	RecentDays          int     `json:"recent_days" validate:"gte=0"`
	RecentLimit         int     `json:"recent_limit" validate:"gte=0"`
	MinCreatedDaysApart int     `json:"min_created_days_apart" validate:"gte=0"`
}

type mergeRequest struct {
	KeepID     string   `json:"keep_id" validate:"required"`
	RemoveID   string   `json:"remove_id" validate:"required,nefield=KeepID"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Importance *float64 `json:"importance" validate:"omitempty,gte=0"`
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	var opts engine.FindOptions
	var err error
	if opts.Threshold, err = queryFloat(r, "threshold"); err != nil {
		s.writeError(w, r, err)
		return
	}
	for name, dst := range map[string]*int{
		"limit":                  &opts.Limit,
		"recent_days":            &opts.RecentDays,
		"recent_limit":           &opts.RecentLimit,
		"min_created_days_apart": &opts.MinCreatedDaysApart,
	} {
		if *dst, err = queryInt(r, name); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	pairs, err := s.svc.Dedup.FindDuplicates(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if pairs == nil {
		pairs = []engine.DuplicatePair{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": pairs})
}

func (s *Server) handleDedup(w http.ResponseWriter, r *http.Request) {
	var req dedupRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.svc.Dedup.Deduplicate(r.Context(), engine.DedupOptions{
		FindOptions: engine.FindOptions{
			Threshold:           req.Threshold,
			Limit:               req.Limit,
			RecentDays:          req.RecentDays,
			RecentLimit:         req.RecentLimit,
			MinCreatedDaysApart: req.MinCreatedDaysApart,
		},
		DryRun: req.DryRun,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var override *engine.MergeOverride
	if req.Content != "" || len(req.Tags) > 0 || req.Importance != nil {
		override = &engine.MergeOverride{Content: req.Content, Tags: req.Tags, Importance: req.Importance}
	}

	outcome, err := s.svc.Dedup.Merge(r.Context(), req.KeepID, req.RemoveID, override)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !outcome.Merged {
		writeJSON(w, http.StatusNotFound, outcome)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
