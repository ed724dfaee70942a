package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"projection-orchestrator/internal/provenance"
)

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetProvenance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	includeSamples, _ := strconv.ParseBool(q.Get("includeSamples"))

	result, err := s.provenance.Lookup(r.Context(), provenance.LookupParams{
		RunID:          chi.URLParam(r, "id"),
		CellKey:        q.Get("cellKey"),
		RequesterID:    userFromRequest(r),
		Limit:          limit,
		Offset:         offset,
		IncludeSamples: includeSamples,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	created, err := s.provenance.Backfill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created})
}
