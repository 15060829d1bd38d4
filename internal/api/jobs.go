package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/crawler"
	"github.com/JakeFAU/hidden-spot/internal/keys"
	"github.com/JakeFAU/hidden-spot/internal/queue"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

type submitJobRequest struct {
	URL string `json:"url"`
}

type submitJobResponse struct {
	JobID   string       `json:"job_id"`
	RunID   string       `json:"run_id"`
	StoreID string       `json:"store_id"`
	Status  store.Status `json:"status"`
}

type jobDTO struct {
	RunID         string       `json:"run_id"`
	StoreID       string       `json:"store_id"`
	URL           string       `json:"url"`
	CollectedAt   string       `json:"collected_at"`
	Status        store.Status `json:"status"`
	Progress      int          `json:"progress"`
	BronzePath    string       `json:"bronze_path,omitempty"`
	SilverPath    string       `json:"silver_path,omitempty"`
	GoldPath      string       `json:"gold_path,omitempty"`
	ErrorReason   string       `json:"error_reason,omitempty"`
	ErrorType     string       `json:"error_type,omitempty"`
	ErrorStage    string       `json:"error_stage,omitempty"`
	EvidencePaths []string     `json:"evidence_paths"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func toJobDTO(s store.Snapshot) jobDTO {
	evidence := s.EvidencePaths
	if evidence == nil {
		evidence = []string{}
	}
	return jobDTO{
		RunID:         s.RunID,
		StoreID:       s.StoreID,
		URL:           s.URL,
		CollectedAt:   keys.FormatTimestamp(s.CollectedAt),
		Status:        s.Status,
		Progress:      s.Progress,
		BronzePath:    s.BronzePath,
		SilverPath:    s.SilverPath,
		GoldPath:      s.GoldPath,
		ErrorReason:   s.ErrorReason,
		ErrorType:     s.ErrorType,
		ErrorStage:    s.ErrorStage,
		EvidencePaths: evidence,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// submitJob handles POST /v1/jobs {"url": "..."}.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	normalized, err := crawler.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	storeID := keys.DeriveStoreID(normalized)
	if keys.IsSynthetic(storeID) {
		s.logger.Info("no place id in url, using synthetic store id",
			zap.String("url", normalized), zap.String("store_id", storeID))
	}
	resp, err := s.enqueueRun(r.Context(), storeID, normalized)
	if err != nil {
		s.writeEnqueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// getJob handles GET /v1/jobs/{run_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	snap, err := s.deps.Repo.GetSnapshot(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(snap)})
}

// enqueueRun records the store and a queued snapshot, then hands the job to
// the queue. The snapshot exists before the job so status polling never
// races the worker.
func (s *Server) enqueueRun(ctx context.Context, storeID, rawURL string) (submitJobResponse, error) {
	runID, err := s.deps.IDs.NewID()
	if err != nil {
		return submitJobResponse{}, fmt.Errorf("generate run id: %w", err)
	}
	now := s.deps.Clock.Now()
	collectedAt := keys.FormatTimestamp(now)

	if err := s.deps.Repo.UpsertStore(ctx, store.Store{StoreID: storeID, URL: rawURL, UpdatedAt: now}); err != nil {
		return submitJobResponse{}, fmt.Errorf("upsert store: %w", err)
	}
	if err := s.deps.Repo.UpsertSnapshot(ctx, store.Snapshot{
		RunID:         runID,
		StoreID:       storeID,
		URL:           rawURL,
		CollectedAt:   now,
		Status:        store.StatusQueued,
		EvidencePaths: []string{},
		UpdatedAt:     now,
	}); err != nil {
		return submitJobResponse{}, fmt.Errorf("create snapshot: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	job := queue.Job{RunID: runID, StoreID: storeID, URL: rawURL, CollectedAt: collectedAt}
	if err := s.deps.Queue.Enqueue(queueCtx, job); err != nil {
		s.markEnqueueFailed(ctx, runID, err)
		return submitJobResponse{}, fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("job queued", zap.String("run_id", runID), zap.String("store_id", storeID))
	return submitJobResponse{JobID: runID, RunID: runID, StoreID: storeID, Status: store.StatusQueued}, nil
}

func (s *Server) markEnqueueFailed(ctx context.Context, runID string, cause error) {
	err := s.deps.Repo.UpdateSnapshot(context.WithoutCancel(ctx), runID, store.SnapshotUpdate{
		Status:      store.StatusFailed,
		Progress:    100,
		ErrorReason: cause.Error(),
		ErrorType:   "internal_error",
		ErrorStage:  "enqueue",
		At:          s.deps.Clock.Now(),
	})
	if err != nil {
		s.logger.Error("failed to mark unqueued run", zap.String("run_id", runID), zap.Error(err))
	}
}

func (s *Server) writeEnqueueError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	case errors.Is(err, queue.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	s.logger.Error("enqueue run failed", zap.Error(err))
	writeError(w, status, err.Error())
}
