package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/driftcast/internal/forecast"
	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/httputil"
	"github.com/star/driftcast/internal/launch"
	"github.com/star/driftcast/internal/sites"
)

const publishTimeout = 5 * time.Second

// publishBatch sends b to the publisher without tying it to the client
// connection. Failures are logged only.
func publishBatch(ctx context.Context, pub Publisher, b *launch.Batch, logger *slog.Logger) {
	if pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := pub.PublishBatch(ctx, b); err != nil {
		logger.Warn("batch publish failed",
			"component", "api",
			"batch_id", b.ID.String(),
			"error", err,
		)
	}
}

// predictionsHandler runs a launch window and returns the whole batch.
// POST /api/v1/predictions
func predictionsHandler(planner Planner, rv *resolver, pub Publisher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr, err := decodePredictionBody(w, r)
		if err != nil {
			httputil.WriteStatusError(w, err)
			return
		}
		req, err := rv.resolve(r.Context(), pr)
		if err != nil {
			logResolveError(logger, err)
			httputil.WriteStatusError(w, err)
			return
		}

		batch, err := planner.Run(r.Context(), req)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			logger.Error("prediction failed", "component", "api", "error", err)
			httputil.WriteStatusError(w, err)
			return
		}
		if len(batch.Results) == 0 {
			logger.Warn("no forecast hours could be simulated",
				"component", "api",
				"batch_id", batch.ID.String(),
				"skipped", len(batch.Skipped),
			)
			httputil.WriteError(w, http.StatusBadGateway, "no forecast hours could be simulated")
			return
		}

		httputil.WriteJSON(w, http.StatusOK, batch)
		publishBatch(r.Context(), pub, batch, logger)
	}
}

// logResolveError logs lookups that failed for reasons other than bad input.
func logResolveError(logger *slog.Logger, err error) {
	var se *httputil.StatusError
	if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
		return
	}
	logger.Error("resolving prediction request", "component", "api", "error", err)
}

func listSitesHandler(store sites.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.List(r.Context())
		if err != nil {
			logger.Error("listing sites", "component", "api", "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if list == nil {
			list = []sites.Site{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"sites": list})
	}
}

func getSiteHandler(store sites.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := sites.ValidateName(name); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid site name")
			return
		}
		s, err := store.Get(r.Context(), name)
		if errors.Is(err, sites.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "site not found")
			return
		}
		if err != nil {
			logger.Error("getting site", "component", "api", "site", name, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, s)
	}
}

type putSiteRequest struct {
	Location *geo.Point `json:"location"`
	Notes    string     `json:"notes,omitempty"`
}

// putSiteHandler creates or replaces a named launch site.
// PUT /api/v1/sites/{name}
func putSiteHandler(store sites.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := sites.ValidateName(name); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid site name")
			return
		}

		var body putSiteRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if body.Location == nil {
			httputil.WriteError(w, http.StatusBadRequest, "location is required")
			return
		}

		s, err := store.Put(r.Context(), sites.Site{Name: name, Location: *body.Location, Notes: body.Notes})
		if errors.Is(err, sites.ErrInvalidSite) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			logger.Error("storing site", "component", "api", "site", name, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		logger.Info("site stored", "component", "api", "site", name)
		httputil.WriteJSON(w, http.StatusOK, s)
	}
}

func deleteSiteHandler(store sites.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := sites.ValidateName(name); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid site name")
			return
		}
		err := store.Delete(r.Context(), name)
		if errors.Is(err, sites.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "site not found")
			return
		}
		if err != nil {
			logger.Error("deleting site", "component", "api", "site", name, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		logger.Info("site deleted", "component", "api", "site", name)
		w.WriteHeader(http.StatusNoContent)
	}
}

type cacheStatsResponse struct {
	Enabled bool `json:"enabled"`
	*forecast.CacheStats
}

// cacheStatsHandler reports the parsed-profile cache counters.
// GET /api/v1/cache/stats
func cacheStatsHandler(cache CacheStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cache == nil {
			httputil.WriteJSON(w, http.StatusOK, cacheStatsResponse{})
			return
		}
		stats := cache.Stats()
		httputil.WriteJSON(w, http.StatusOK, cacheStatsResponse{Enabled: true, CacheStats: &stats})
	}
}
