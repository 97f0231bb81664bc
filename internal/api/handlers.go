// Package api exposes the hub's HTTP surface: node inspection, reading
// ingestion, and the manual cloud sync endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iotgrid/hub/internal/effconfig"
	"github.com/iotgrid/hub/internal/store"
	"github.com/iotgrid/hub/internal/types"
	"github.com/iotgrid/hub/internal/validation"
)

// maxIngestBatch bounds one POST /api/readings request.
const maxIngestBatch = 5000

// SyncEngine is the sync functionality the handlers depend on,
// implemented by the sync orchestrator.
type SyncEngine interface {
	StartSync(ctx context.Context, nodeID string) (string, error)
	Cancel(nodeID string) bool
	IsRunning(nodeID string) bool
	Status(ctx context.Context, nodeID string) (*types.SyncStatus, error)
	AllStatus(ctx context.Context) ([]types.SyncStatus, error)
	Summary(ctx context.Context) (*types.SyncSummary, error)
	History(ctx context.Context, nodeID string, limit int) ([]types.SyncHistoryEntry, error)
	UnsyncedCount(ctx context.Context, nodeID string) (int, error)
	CloudHealthy(ctx context.Context) bool
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	store        store.Store
	engine       SyncEngine
	events       http.HandlerFunc
	cloudEnabled bool
	version      string
	apiKey       string
}

// NewHandler creates a Handler. events serves the WebSocket progress
// stream; an empty apiKey disables authentication.
func NewHandler(st store.Store, engine SyncEngine, events http.HandlerFunc, cloudEnabled bool, version, apiKey string) *Handler {
	return &Handler{
		store:        st,
		engine:       engine,
		events:       events,
		cloudEnabled: cloudEnabled,
		version:      version,
		apiKey:       apiKey,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// Health returns service health and basic inventory counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.CountNodes(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	readings, err := h.store.CountReadings(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:       "ok",
		Version:      h.version,
		NodeCount:    nodes,
		ReadingCount: readings,
		CloudEnabled: h.cloudEnabled,
	})
}

// ListNodes returns every node managed by this hub.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.ListNodes(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

// GetNode returns one node by ID.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.store.GetNode(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// EffectiveConfig returns the fully resolved configuration cascade for
// one sensor assignment.
func (h *Handler) EffectiveConfig(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	assignmentID := chi.URLParam(r, "assignmentID")

	detail, err := h.store.GetAssignmentDetail(r.Context(), assignmentID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if detail.Assignment.NodeID != nodeID {
		WriteProblem(w, r, http.StatusNotFound, "Assignment does not belong to this node")
		return
	}
	writeJSON(w, http.StatusOK, effconfig.Resolve(detail.Assignment, detail.Sensor, detail.SensorType))
}

// IngestReadings accepts a batch of raw readings from edge nodes,
// validates each entry, applies the assignment's calibration, and
// stores the accepted subset. Acceptance is partial: one bad entry
// never rejects the batch.
func (h *Handler) IngestReadings(w http.ResponseWriter, r *http.Request) {
	var req types.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.Readings) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, "readings must not be empty")
		return
	}
	if len(req.Readings) > maxIngestBatch {
		WriteProblem(w, r, http.StatusBadRequest,
			fmt.Sprintf("batch exceeds maximum of %d readings", maxIngestBatch))
		return
	}

	result := types.IngestResult{}
	accepted := make([]types.Reading, 0, len(req.Readings))
	details := make(map[string]*types.AssignmentDetail)
	for i, nr := range req.Readings {
		if errs := validation.ValidateReading(nr); len(errs) > 0 {
			result.Rejected++
			result.Errors = append(result.Errors,
				fmt.Sprintf("reading %d: %s %s", i, errs[0].Field, errs[0].Message))
			continue
		}

		reading := types.Reading{
			NodeID:          nr.NodeID,
			AssignmentID:    nr.AssignmentID,
			MeasurementType: nr.MeasurementType,
			RawValue:        nr.RawValue,
			Value:           nr.RawValue,
			Unit:            nr.Unit,
			Timestamp:       nr.Timestamp.UTC(),
		}
		if nr.AssignmentID != nil {
			detail, ok := details[*nr.AssignmentID]
			if !ok {
				var err error
				detail, err = h.store.GetAssignmentDetail(r.Context(), *nr.AssignmentID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					MapStoreError(w, r, err)
					return
				}
				details[*nr.AssignmentID] = detail
			}
			if detail == nil {
				result.Rejected++
				result.Errors = append(result.Errors,
					fmt.Sprintf("reading %d: assignmentId unknown", i))
				continue
			}
			reading.Value = effconfig.ApplyCalibration(nr.RawValue, detail.Sensor, detail.SensorType)
		}
		accepted = append(accepted, reading)
	}

	if len(accepted) > 0 {
		if _, err := h.store.InsertReadings(r.Context(), accepted); err != nil {
			MapStoreError(w, r, err)
			return
		}
	}
	result.Accepted = len(accepted)

	status := http.StatusCreated
	if result.Accepted == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}
