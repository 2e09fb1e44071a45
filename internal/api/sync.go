// internal/api/sync.go
package api

import (
	"net/http"
	"time"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/syncer"
)

type resultView struct {
	Target  string          `json:"target"`
	Summary *syncer.Summary `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// window reads the window query parameter. "0" fetches everything the
// source still exposes.
func (h *Handler) window(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return h.opts.DefaultWindow, nil
	}
	if raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, &custom_errors.ValidationError{Field: "window", Message: "must be a non-negative duration such as 168h"}
	}
	return d, nil
}

// POST /v1/sync?window=168h
//
// Always 200: per-source failures are reported in the results.
func (h *Handler) syncAll(w http.ResponseWriter, r *http.Request) {
	window, err := h.window(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	results, err := h.syncer.SyncAll(r.Context(), window)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	views := make([]resultView, len(results))
	for i, res := range results {
		views[i] = resultView{Target: res.Target, Summary: res.Summary}
		if res.Err != nil {
			views[i].Error = res.Err.Error()
		}
	}
	respondWithJSON(w, http.StatusOK, views)
}

// POST /v1/repos/{id}/sync?window=168h
func (h *Handler) syncRepository(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	window, err := h.window(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	summary, err := h.syncer.SyncRepository(r.Context(), id, window)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// POST /v1/subscriptions/{id}/sync?window=168h
func (h *Handler) syncSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	window, err := h.window(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	summary, err := h.syncer.SyncSubscription(r.Context(), id, window)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}
