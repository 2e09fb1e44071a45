// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"activity-sync/internal/config"
	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/metrics"
	"activity-sync/internal/model"
	"activity-sync/internal/storage"
	"activity-sync/internal/syncer"
)

// Admin performs the write operations that go beyond a single store call.
type Admin interface {
	AddRepository(ctx context.Context, owner, name string, refresh bool) (model.Repository, error)
	RefreshRepository(ctx context.Context, id int64) (model.Repository, error)
	Subscribe(ctx context.Context, seed config.SubscriptionSeed) (model.Subscription, error)
}

// Syncer triggers syncs on demand.
type Syncer interface {
	SyncAll(ctx context.Context, window time.Duration) ([]syncer.Result, error)
	SyncRepository(ctx context.Context, repoID int64, window time.Duration) (*syncer.Summary, error)
	SyncSubscription(ctx context.Context, subID int64, window time.Duration) (*syncer.Summary, error)
}

// Options tunes the router.
type Options struct {
	// DefaultWindow is used by sync triggers without a window parameter.
	DefaultWindow time.Duration
	// SyncRateLimit caps sync triggers per client per minute; 0 disables it.
	SyncRateLimit int
}

// Handler is the container for API dependencies.
type Handler struct {
	store  storage.Store
	admin  Admin
	syncer Syncer
	logger *slog.Logger
	opts   Options
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(store storage.Store, admin Admin, sync Syncer, logger *slog.Logger, opts Options) http.Handler {
	h := &Handler{
		store:  store,
		admin:  admin,
		syncer: sync,
		logger: logger.With("component", "api"),
		opts:   opts,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.healthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/repos", func(r chi.Router) {
			r.Get("/", h.listRepositories)
			r.Post("/", h.addRepository)
			r.Get("/by-name/{owner}/{name}", h.getRepositoryByName)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getRepository)
				r.Delete("/", h.deleteRepository)
				r.Get("/subscriptions", h.getRepositorySubscriptions)
				r.Get("/updates", h.getRepositoryUpdates)
				r.Post("/refresh", h.refreshRepository)
				r.With(h.syncLimiter()).Post("/sync", h.syncRepository)
			})
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", h.listSubscriptions)
			r.Post("/", h.addSubscription)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getSubscription)
				r.Delete("/", h.deleteSubscription)
				r.Get("/updates", h.getSubscriptionUpdates)
				r.With(h.syncLimiter()).Post("/sync", h.syncSubscription)
			})
		})

		r.Route("/updates", func(r chi.Router) {
			r.Get("/", h.listUpdates)
			r.Get("/{id}", h.getUpdate)
			r.Delete("/{id}", h.deleteUpdate)
		})

		r.With(h.syncLimiter()).Post("/sync", h.syncAll)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) syncLimiter() func(http.Handler) http.Handler {
	if h.opts.SyncRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(h.opts.SyncRateLimit, time.Minute)
}

// requestLogger logs each request and counts it by route pattern.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		h.logger.Debug("Request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// respondWithError maps the error taxonomy onto HTTP status codes.
func (h *Handler) respondWithError(w http.ResponseWriter, err error) {
	var dependents *custom_errors.DependentsError
	switch {
	case errors.As(err, &dependents):
		respondWithJSON(w, http.StatusConflict, map[string]any{
			"error":         err.Error(),
			"subscriptions": dependents.Subscriptions,
			"updates":       dependents.Updates,
		})
		return
	case errors.Is(err, custom_errors.ErrNotFound):
		respondWithMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, custom_errors.ErrAlreadyExists):
		respondWithMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, custom_errors.ErrValidation):
		respondWithMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, custom_errors.ErrReferenceIntegrity):
		respondWithMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, custom_errors.ErrSource):
		respondWithMessage(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		respondWithMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func respondWithMessage(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &custom_errors.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &custom_errors.ValidationError{Field: "id", Message: "must be a positive integer, got " + strconv.Quote(raw)}
	}
	return id, nil
}

func boolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &custom_errors.ValidationError{Field: key, Message: "must be a boolean"}
	}
	return v, nil
}
