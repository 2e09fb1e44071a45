// internal/api/entities.go
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"activity-sync/internal/config"
	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
)

const (
	defaultUpdatesLimit = 100
	maxUpdatesLimit     = 1000
)

// GET /v1/repos
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.store.ListRepositories(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, repos)
}

// GET /v1/repos/{id}
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	repo, err := h.store.GetRepository(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, repo)
}

// GET /v1/repos/by-name/{owner}/{name}?source_type=feed
func (h *Handler) getRepositoryByName(w http.ResponseWriter, r *http.Request) {
	sourceType := model.SourceType(r.URL.Query().Get("source_type"))
	if sourceType == "" {
		sourceType = model.SourceGitHub
	}
	repo, err := h.store.GetRepositoryByName(r.Context(), sourceType, chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, repo)
}

type addRepositoryRequest struct {
	Owner   string `json:"owner"`
	Name    string `json:"name"`
	Refresh bool   `json:"refresh"`
}

// POST /v1/repos
func (h *Handler) addRepository(w http.ResponseWriter, r *http.Request) {
	var req addRepositoryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	repo, err := h.admin.AddRepository(r.Context(), req.Owner, req.Name, req.Refresh)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, repo)
}

// POST /v1/repos/{id}/refresh
func (h *Handler) refreshRepository(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	repo, err := h.admin.RefreshRepository(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, repo)
}

// DELETE /v1/repos/{id}?cascade=true
//
// Without cascade the delete is refused while dependents exist.
func (h *Handler) deleteRepository(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	cascade, err := boolQuery(r, "cascade")
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	if !cascade {
		if err := h.store.DeleteRepository(r.Context(), id); err != nil {
			h.respondWithError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	res, err := h.store.CascadeDeleteRepository(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.logger.Info("Repository deleted with dependents", "repository_id", id,
		"subscriptions", res.Subscriptions, "updates", res.Updates)
	respondWithJSON(w, http.StatusOK, res)
}

// GET /v1/repos/{id}/subscriptions
func (h *Handler) getRepositorySubscriptions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if _, err := h.store.GetRepository(r.Context(), id); err != nil {
		h.respondWithError(w, err)
		return
	}
	subs, err := h.store.FindRelatedSubscriptions(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, subs)
}

// GET /v1/repos/{id}/updates?event_type=Commit&limit=N
func (h *Handler) getRepositoryUpdates(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if _, err := h.store.GetRepository(r.Context(), id); err != nil {
		h.respondWithError(w, err)
		return
	}
	updates, err := h.store.GetUpdatesForRepository(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithUpdates(w, r, updates)
}

// GET /v1/subscriptions?tag=x
func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	var (
		subs []model.Subscription
		err  error
	)
	if tag := r.URL.Query().Get("tag"); tag != "" {
		subs, err = h.store.ListSubscriptionsByTag(r.Context(), tag)
	} else {
		subs, err = h.store.ListSubscriptions(r.Context())
	}
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, subs)
}

// GET /v1/subscriptions/{id}
func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// POST /v1/subscriptions
//
// The source record is created when it is not known yet.
func (h *Handler) addSubscription(w http.ResponseWriter, r *http.Request) {
	var seed config.SubscriptionSeed
	if err := decodeJSON(r, &seed); err != nil {
		h.respondWithError(w, err)
		return
	}
	sub, err := h.admin.Subscribe(r.Context(), seed)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, sub)
}

// DELETE /v1/subscriptions/{id}?cascade=true
func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	cascade, err := boolQuery(r, "cascade")
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	if !cascade {
		if err := h.store.DeleteSubscription(r.Context(), id); err != nil {
			h.respondWithError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	n, err := h.store.CascadeDeleteSubscription(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"updates_deleted": n})
}

// GET /v1/subscriptions/{id}/updates
func (h *Handler) getSubscriptionUpdates(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	updates, err := h.store.GetUpdatesForSubscription(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithUpdates(w, r, updates)
}

// GET /v1/updates
func (h *Handler) listUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := h.store.ListUpdates(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithUpdates(w, r, updates)
}

// GET /v1/updates/{id}
func (h *Handler) getUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	u, err := h.store.GetUpdate(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, u)
}

// DELETE /v1/updates/{id}
func (h *Handler) deleteUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if err := h.store.DeleteUpdate(r.Context(), id); err != nil {
		h.respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondWithUpdates applies the event_type and limit query parameters.
// Updates arrive newest first from the store.
func (h *Handler) respondWithUpdates(w http.ResponseWriter, r *http.Request, updates []model.Update) {
	limit := defaultUpdatesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxUpdatesLimit {
			respondWithMessage(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 1000.")
			return
		}
		limit = n
	}

	filtered := make([]model.Update, 0, min(len(updates), limit))
	eventType := model.EventType(r.URL.Query().Get("event_type"))
	for _, u := range updates {
		if len(filtered) == limit {
			break
		}
		if eventType != "" && u.EventType != eventType {
			continue
		}
		filtered = append(filtered, u)
	}
	respondWithJSON(w, http.StatusOK, filtered)
}

func uuidParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, &custom_errors.ValidationError{Field: "id", Message: "must be a UUID"}
	}
	return id, nil
}
