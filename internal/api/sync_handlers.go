package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iotgrid/hub/internal/cloud"
	"github.com/iotgrid/hub/internal/store"
	hubsync "github.com/iotgrid/hub/internal/sync"
	"github.com/iotgrid/hub/internal/types"
)

const defaultHistoryLimit = 10

// StartSync launches a sync job for the node and returns 202 with the
// job ID. The run continues in the background; clients follow it via
// the events stream or the status endpoint.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	jobID, err := h.engine.StartSync(r.Context(), nodeID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Node not found")
		return
	case errors.Is(err, hubsync.ErrSyncInProgress):
		WriteProblem(w, r, http.StatusBadRequest, "Sync already in progress for this node")
		return
	case errors.Is(err, cloud.ErrNotConfigured):
		WriteProblem(w, r, http.StatusBadRequest, "Cloud API is not configured")
		return
	default:
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, types.StartSyncResponse{
		JobID:   jobID,
		Message: "Sync started",
	})
}

// CancelSync requests cancellation of the node's running job.
func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	if !h.engine.Cancel(nodeID) {
		WriteProblem(w, r, http.StatusNotFound, "No sync in progress for this node")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Sync cancellation requested"})
}

// SyncStatus returns the sync status projection for one node.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// AllSyncStatus returns the sync status projection for every node.
func (h *Handler) AllSyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.engine.AllStatus(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// SyncSummary returns the fleet-wide sync aggregate.
func (h *Handler) SyncSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Summary(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// SyncHistory returns the node's most recent sync runs, newest first.
// The limit query parameter defaults to 10 and is capped at 100.
func (h *Handler) SyncHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 100 {
		limit = 100
	}

	history, err := h.engine.History(r.Context(), chi.URLParam(r, "nodeID"), limit)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// UnsyncedCount returns how many readings still await upload for a node.
func (h *Handler) UnsyncedCount(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	count, err := h.engine.UnsyncedCount(r.Context(), nodeID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodeId":        nodeID,
		"unsyncedCount": count,
	})
}

// CloudHealth reports whether the Cloud API is configured and reachable.
func (h *Handler) CloudHealth(w http.ResponseWriter, r *http.Request) {
	healthy := h.engine.CloudHealthy(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"healthy": healthy})
}

// SyncEvents upgrades to a WebSocket and streams progress events.
func (h *Handler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	h.events(w, r)
}
