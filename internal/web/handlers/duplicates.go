package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/config"
	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/dedupe"
)

// ScanRunner runs duplicate scans.
type ScanRunner interface {
	Scan(ctx context.Context, sensitivity int, progress func(dedupe.Progress)) (*dedupe.ScanResult, error)
}

// PairResolver resolves pending duplicate pairs.
type PairResolver interface {
	Merge(ctx context.Context, duplicateID int64, input dedupe.MergeInput) error
	Dismiss(ctx context.Context, duplicateID int64) error
}

// DuplicatesHandler handles duplicate detection and resolution endpoints.
type DuplicatesHandler struct {
	scanner    ScanRunner
	resolver   PairResolver
	pairs      database.DuplicateStore
	catalog    catalog.Store
	jobManager *JobManager
	tunables   config.DedupeTunables
	logger     *zap.Logger
}

// NewDuplicatesHandler creates a new duplicates handler.
func NewDuplicatesHandler(scanner ScanRunner, resolver PairResolver, pairs database.DuplicateStore, cat catalog.Store, jm *JobManager, tunables config.DedupeTunables, logger *zap.Logger) *DuplicatesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DuplicatesHandler{
		scanner:    scanner,
		resolver:   resolver,
		pairs:      pairs,
		catalog:    cat,
		jobManager: jm,
		tunables:   tunables,
		logger:     logger,
	}
}

// ScanRequest represents a duplicate scan request.
type ScanRequest struct {
	Sensitivity *int `json:"sensitivity"`
}

// StartScan handles POST /duplicates/scan. Only one scan runs at a time; a
// second request while one is running gets 409.
func (h *DuplicatesHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	sensitivity := h.tunables.Sensitivity

	if r.Body != nil && r.ContentLength != 0 {
		var req ScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
		if req.Sensitivity != nil {
			sensitivity = *req.Sensitivity
		}
	}
	if sensitivity < 0 || sensitivity > 64 {
		respondError(w, http.StatusBadRequest, "sensitivity must be between 0 and 64")
		return
	}

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, sensitivity)
	if job == nil {
		respondError(w, http.StatusConflict, "a duplicate scan is already running")
		return
	}

	// Wire the cancel func before the goroutine starts so CancelScan can
	// never observe a half-initialized job.
	ctx, cancel := context.WithCancel(context.Background())
	job.setCancel(cancel)
	go func() {
		defer cancel()
		h.runScanJob(ctx, job)
	}()

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      jobID,
		"sensitivity": sensitivity,
		"status":      string(JobStatusPending),
	})
}

// Events streams scan job progress via SSE.
func (h *DuplicatesHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job
		},
	)
}

// CancelScan handles DELETE /duplicates/scan/{jobID}.
func (h *DuplicatesHandler) CancelScan(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// PendingPair is one pending duplicate pair with both item snippets inlined.
type PendingPair struct {
	database.PotentialDuplicate

	Item1 *catalog.Item `json:"item_1"`
	Item2 *catalog.Item `json:"item_2"`
}

// List handles GET /duplicates and returns pending pairs oldest first.
func (h *DuplicatesHandler) List(w http.ResponseWriter, r *http.Request) {
	pending, err := h.pairs.ListDuplicatesByStatus(r.Context(), database.DuplicatePending)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "listing duplicates failed")
		return
	}

	out := make([]PendingPair, 0, len(pending))
	for _, pair := range pending {
		item1, err := h.catalog.GetItemByID(r.Context(), pair.ItemID1)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "listing duplicates failed")
			return
		}
		item2, err := h.catalog.GetItemByID(r.Context(), pair.ItemID2)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "listing duplicates failed")
			return
		}
		out = append(out, PendingPair{PotentialDuplicate: pair, Item1: item1, Item2: item2})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count":      len(out),
		"duplicates": out,
	})
}

// Merge handles POST /duplicates/{id}/merge.
func (h *DuplicatesHandler) Merge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid duplicate ID")
		return
	}

	var input dedupe.MergeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if input.WinnerID == 0 {
		respondError(w, http.StatusBadRequest, "winner_id is required")
		return
	}

	if err := h.resolver.Merge(r.Context(), id, input); err != nil {
		h.respondResolveError(w, id, "merge", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"merged":    true,
		"winner_id": input.WinnerID,
	})
}

// Dismiss handles POST /duplicates/{id}/dismiss.
func (h *DuplicatesHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid duplicate ID")
		return
	}

	if err := h.resolver.Dismiss(r.Context(), id); err != nil {
		h.respondResolveError(w, id, "dismiss", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"dismissed": true})
}

// ClearPending handles POST /duplicates/clear-pending. Dismissed and merged
// history stays in place.
func (h *DuplicatesHandler) ClearPending(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.pairs.ClearPendingDuplicates(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "clearing pending duplicates failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"cleared": cleared})
}

// ForgetHistory handles DELETE /duplicates/history. Every tracked pair is
// removed, so the next scan starts from scratch.
func (h *DuplicatesHandler) ForgetHistory(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.pairs.ForgetDuplicateHistory(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "clearing duplicate history failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// respondResolveError maps resolver errors onto HTTP statuses.
func (h *DuplicatesHandler) respondResolveError(w http.ResponseWriter, id int64, action string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "duplicate pair not found")
	default:
		h.logger.Error("duplicate resolution failed",
			zap.String("action", action), zap.Int64("duplicate_id", id), zap.Error(err))
		respondError(w, http.StatusConflict, err.Error())
	}
}

// runScanJob runs the duplicate scan in the background.
func (h *DuplicatesHandler) runScanJob(ctx context.Context, job *ScanJob) {
	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Duplicate scan started"})

	result, err := h.scanner.Scan(ctx, job.Sensitivity, func(p dedupe.Progress) {
		job.setProgress(p)
		job.SendEvent(JobEvent{Type: "progress", Data: p})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			job.finish(JobStatusCancelled, nil, "")
			return
		}
		h.logger.Error("duplicate scan failed", zap.String("job_id", job.ID), zap.Error(err))
		job.finish(JobStatusFailed, nil, err.Error())
		job.SendEvent(JobEvent{Type: "failed", Message: err.Error()})
		return
	}

	job.finish(JobStatusCompleted, result, "")
	job.SendEvent(JobEvent{
		Type: "completed",
		Message: fmt.Sprintf("Found %d exact and %d near duplicates",
			result.ExactPairs, result.NearPairs),
		Data: result,
	})

	h.logger.Info("duplicate scan completed",
		zap.String("job_id", job.ID),
		zap.Int("hashed", result.HashedCount),
		zap.Int("exact_pairs", result.ExactPairs),
		zap.Int("near_pairs", result.NearPairs),
		zap.Duration("duration", time.Since(job.StartedAt)))
}
