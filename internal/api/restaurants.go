package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/serving"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

const maxListLimit = 1000

// listRestaurants handles GET /v1/restaurants?min_score=&keyword=&limit=.
func (s *Server) listRestaurants(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	restaurants, err := s.deps.Projection.List(r.Context(), q)
	if err != nil {
		s.logger.Error("list restaurants failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list restaurants")
		return
	}
	writeJSON(w, http.StatusOK, restaurants)
}

// getRestaurant handles GET /v1/restaurants/{store_id}.
func (s *Server) getRestaurant(w http.ResponseWriter, r *http.Request) {
	storeID := strings.TrimSpace(chi.URLParam(r, "store_id"))
	restaurant, err := s.deps.Projection.Get(r.Context(), storeID)
	if err != nil {
		if errors.Is(err, serving.ErrNotFound) {
			writeError(w, http.StatusNotFound, "restaurant not found")
			return
		}
		s.logger.Error("get restaurant failed", zap.String("store_id", storeID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load restaurant")
		return
	}
	writeJSON(w, http.StatusOK, restaurant)
}

// deleteRestaurant handles DELETE /v1/restaurants/{store_id}.
func (s *Server) deleteRestaurant(w http.ResponseWriter, r *http.Request) {
	storeID := strings.TrimSpace(chi.URLParam(r, "store_id"))
	deleted, err := s.deps.Repo.DeleteStore(r.Context(), storeID)
	if err != nil {
		s.logger.Error("delete restaurant failed", zap.String("store_id", storeID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete restaurant")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "restaurant not found")
		return
	}
	s.logger.Info("restaurant deleted", zap.String("store_id", storeID))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "store_id": storeID})
}

// refreshRestaurant handles POST /v1/restaurants/{store_id}/refresh by
// queueing a new run for the stored URL.
func (s *Server) refreshRestaurant(w http.ResponseWriter, r *http.Request) {
	storeID := strings.TrimSpace(chi.URLParam(r, "store_id"))
	st, err := s.deps.Repo.GetStore(r.Context(), storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "restaurant not found")
			return
		}
		s.logger.Error("refresh lookup failed", zap.String("store_id", storeID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load restaurant")
		return
	}
	if st.URL == "" {
		writeError(w, http.StatusConflict, "restaurant has no source url")
		return
	}
	resp, err := s.enqueueRun(r.Context(), st.StoreID, st.URL)
	if err != nil {
		s.writeEnqueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// runBackfill handles POST /v1/admin/backfill?max=&dry_run=.
func (s *Server) runBackfill(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "max", 0)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid max")
		return
	}
	dryRun, err := boolParam(r, "dry_run")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dry_run")
		return
	}
	report, err := s.deps.Backfill.Run(r.Context(), limit, dryRun)
	if err != nil {
		s.logger.Error("backfill failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "backfill failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) parseQuery(r *http.Request) (serving.Query, error) {
	minScore, err := intParam(r, "min_score", 0)
	if err != nil || minScore < 0 || minScore > 100 {
		return serving.Query{}, fmt.Errorf("min_score must be an integer in [0, 100]")
	}
	limit, err := intParam(r, "limit", s.cfg.Serving.DefaultListLimit)
	if err != nil || limit < 0 {
		return serving.Query{}, fmt.Errorf("limit must be a non-negative integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return serving.Query{
		MinScore: minScore,
		Keyword:  strings.TrimSpace(r.URL.Query().Get("keyword")),
		Limit:    limit,
	}, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
