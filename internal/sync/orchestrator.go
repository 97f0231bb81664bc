// Package sync implements the manual hub-to-cloud synchronization
// engine: the per-node job registry, the three-phase orchestrator
// (node, sensors, readings), and the status projections served by the
// API layer.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iotgrid/hub/internal/cloud"
	"github.com/iotgrid/hub/internal/effconfig"
	"github.com/iotgrid/hub/internal/store"
	"github.com/iotgrid/hub/internal/types"
)

// Stage names published with progress updates.
const (
	StageNode     = "Node"
	StageSensors  = "Sensors"
	StageReadings = "Readings"
	StageComplete = "Complete"
)

// cancelledMessage is the error string recorded for cancelled runs.
const cancelledMessage = "Sync was cancelled"

// Reporter receives progress and completion events for running jobs.
// Implementations must not block; the orchestrator calls them inline.
type Reporter interface {
	ReportProgress(jobID, nodeID string, p types.SyncProgress)
	ReportComplete(jobID, nodeID string, result types.SyncResult)
}

// NopReporter discards all events.
type NopReporter struct{}

func (NopReporter) ReportProgress(string, string, types.SyncProgress) {}
func (NopReporter) ReportComplete(string, string, types.SyncResult)   {}

// Orchestrator runs sync jobs. One instance serves the whole hub; the
// registry guarantees at most one running job per node.
type Orchestrator struct {
	store     store.Store
	client    cloud.Client
	registry  *JobRegistry
	reporter  Reporter
	batchSize int
	logger    *slog.Logger
}

func NewOrchestrator(st store.Store, client cloud.Client, registry *JobRegistry, reporter Reporter, batchSize int, logger *slog.Logger) *Orchestrator {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Orchestrator{
		store:     st,
		client:    client,
		registry:  registry,
		reporter:  reporter,
		batchSize: batchSize,
		logger:    logger.With("component", "sync"),
	}
}

// Registry exposes the job registry for cancellation and status checks.
func (o *Orchestrator) Registry() *JobRegistry {
	return o.registry
}

// StartSync acquires the node's job slot and launches the sync run in a
// background goroutine tied to base. It returns the job ID immediately.
func (o *Orchestrator) StartSync(base context.Context, nodeID string) (string, error) {
	if !o.client.IsConfigured() {
		return "", cloud.ErrNotConfigured
	}
	node, err := o.store.GetNode(base, nodeID)
	if err != nil {
		return "", err
	}

	jobID := ulid.Make().String()
	// The job must outlive the HTTP request that started it; only
	// Cancel (or shutdown of the value-carrying parent) stops it.
	runCtx, err := o.registry.Acquire(context.WithoutCancel(base), nodeID, jobID)
	if err != nil {
		return "", err
	}

	go func() {
		defer o.registry.Release(nodeID)
		o.execute(runCtx, node, jobID)
	}()

	return jobID, nil
}

// SyncNode runs a full sync for the node synchronously and returns its
// result. Used by the auto-sync worker and by tests; the API layer goes
// through StartSync instead.
func (o *Orchestrator) SyncNode(ctx context.Context, nodeID string) types.SyncResult {
	jobID := ulid.Make().String()

	if !o.client.IsConfigured() {
		return types.SyncResult{NodeID: nodeID, JobID: jobID, Error: cloud.ErrNotConfigured.Error()}
	}
	node, err := o.store.GetNode(ctx, nodeID)
	if err != nil {
		return types.SyncResult{NodeID: nodeID, JobID: jobID, Error: err.Error()}
	}

	runCtx, err := o.registry.Acquire(ctx, nodeID, jobID)
	if err != nil {
		return types.SyncResult{NodeID: nodeID, JobID: jobID, Error: err.Error()}
	}
	defer o.registry.Release(nodeID)

	return o.execute(runCtx, node, jobID)
}

// execute runs one sync job to its terminal state. The caller must hold
// the node's job slot for the full duration.
func (o *Orchestrator) execute(ctx context.Context, node *types.Node, jobID string) types.SyncResult {
	started := time.Now().UTC()
	result := types.SyncResult{NodeID: node.ID, JobID: jobID}

	log := o.logger.With("node_id", node.ID, "job_id", jobID)
	log.Info("sync started", "action", "sync_start", "node_name", node.Name)

	if _, err := o.store.GetOrCreateSyncState(ctx, node.ID); err != nil {
		result.Error = fmt.Sprintf("initialize sync state: %v", err)
		o.reporter.ReportComplete(jobID, node.ID, result)
		return result
	}
	entry := &types.SyncHistoryEntry{
		NodeID:    node.ID,
		JobID:     jobID,
		StartedAt: started,
	}
	if err := o.store.AppendHistory(ctx, entry); err != nil {
		result.Error = fmt.Sprintf("record sync start: %v", err)
		o.reporter.ReportComplete(jobID, node.ID, result)
		return result
	}
	if err := o.store.BeginSync(ctx, node.ID, jobID); err != nil {
		result.Error = fmt.Sprintf("mark sync running: %v", err)
		o.reporter.ReportComplete(jobID, node.ID, result)
		return result
	}

	runErr := o.run(ctx, node, jobID, &result)

	completed := time.Now().UTC()
	result.Duration = types.DurationMs(completed.Sub(started))

	switch {
	case runErr == nil:
		result.Success = true
	case errors.Is(runErr, context.Canceled):
		result.Error = cancelledMessage
	default:
		result.Error = runErr.Error()
	}

	outcome := store.SyncOutcome{
		Success:        result.Success,
		Duration:       time.Duration(result.Duration),
		NodeAction:     result.NodeAction,
		SensorsCreated: result.SensorsCreated,
		SensorsUpdated: result.SensorsUpdated,
		ReadingsSynced: result.ReadingsSynced,
		CompletedAt:    completed,
	}
	if result.Error != "" {
		outcome.Error = &result.Error
	}

	// The run context may already be cancelled; terminal bookkeeping
	// must still land.
	finCtx := context.WithoutCancel(ctx)
	if err := o.store.FinishSync(finCtx, node.ID, outcome); err != nil {
		log.Error("failed to persist sync outcome", "action", "sync_finish", "error", err)
	}
	if err := o.store.CompleteHistory(finCtx, jobID, outcome); err != nil {
		log.Error("failed to complete history entry", "action", "sync_finish", "error", err)
	}

	if result.Success {
		o.reporter.ReportProgress(jobID, node.ID, types.SyncProgress{
			Stage:           StageComplete,
			Message:         "Sync completed successfully",
			ReadingsSynced:  intPtr(result.ReadingsSynced),
			PercentComplete: intPtr(100),
		})
		log.Info("sync completed", "action", "sync_complete",
			"duration_ms", result.Duration.Milliseconds(),
			"node_action", result.NodeAction,
			"sensors_created", result.SensorsCreated,
			"sensors_updated", result.SensorsUpdated,
			"readings_synced", result.ReadingsSynced)
	} else {
		log.Warn("sync did not complete", "action", "sync_complete",
			"duration_ms", result.Duration.Milliseconds(),
			"error", result.Error)
	}
	o.reporter.ReportComplete(jobID, node.ID, result)
	return result
}

// run performs the three sync phases in order, writing partial counts
// into result as it goes so terminal bookkeeping sees them even when a
// later phase fails.
func (o *Orchestrator) run(ctx context.Context, node *types.Node, jobID string, result *types.SyncResult) error {
	// Phase 1: node identity.
	o.reporter.ReportProgress(jobID, node.ID, types.SyncProgress{
		Stage:           StageNode,
		Message:         "Syncing node configuration...",
		PercentComplete: intPtr(10),
	})
	nodeResp, err := o.syncNodePhase(ctx, node)
	if err != nil {
		return err
	}
	if nodeResp.WasCreated {
		result.NodeAction = types.NodeActionCreated
	} else {
		result.NodeAction = types.NodeActionUpdated
	}

	// Phase 2: sensor configurations.
	o.reporter.ReportProgress(jobID, node.ID, types.SyncProgress{
		Stage:           StageSensors,
		Message:         "Syncing sensor configurations...",
		PercentComplete: intPtr(30),
	})
	created, updated, err := o.syncSensorsPhase(ctx, node.ID, nodeResp.CloudID)
	if err != nil {
		return err
	}
	result.SensorsCreated = created
	result.SensorsUpdated = updated

	// Phase 3: readings.
	o.reporter.ReportProgress(jobID, node.ID, types.SyncProgress{
		Stage:           StageReadings,
		Message:         "Uploading readings...",
		PercentComplete: intPtr(50),
	})
	synced, err := o.syncReadingsPhase(ctx, jobID, node.ID, nodeResp.CloudID)
	result.ReadingsSynced = synced
	return err
}

// syncNodePhase upserts the node and records the returned cloud ID.
func (o *Orchestrator) syncNodePhase(ctx context.Context, node *types.Node) (*cloud.NodeSyncResponse, error) {
	req := cloud.NodeSync{
		HubID:           node.HubID,
		LocalNodeID:     node.ID,
		HardwareID:      node.HardwareID,
		Name:            node.Name,
		Location:        node.Location,
		Protocol:        string(node.Protocol),
		FirmwareVersion: node.FirmwareVersion,
		Metadata: map[string]string{
			"macAddress":   node.HardwareID,
			"isSimulation": fmt.Sprintf("%t", node.IsSimulation),
			"storageMode":  string(node.StorageMode),
		},
	}

	resp, err := o.client.UpsertNode(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("node phase: %w", err)
	}
	if err := o.store.SetCloudNodeID(ctx, node.ID, resp.CloudID); err != nil {
		return nil, fmt.Errorf("node phase: store cloud node id: %w", err)
	}
	return resp, nil
}

// syncSensorsPhase pushes one cloud sensor record per assignment
// capability and stores the cloud sensor IDs the response maps back.
func (o *Orchestrator) syncSensorsPhase(ctx context.Context, nodeID, cloudNodeID string) (created, updated int, err error) {
	details, err := o.store.ListActiveAssignments(ctx, nodeID)
	if err != nil {
		return 0, 0, fmt.Errorf("sensors phase: list assignments: %w", err)
	}

	req := cloud.SensorsSync{NodeCloudID: cloudNodeID}
	known := make(map[string]bool, len(details))
	for _, d := range details {
		known[d.Assignment.ID] = true
		name := d.Sensor.Name
		if d.Assignment.Alias != nil && *d.Assignment.Alias != "" {
			name = *d.Assignment.Alias
		}
		interval := effconfig.EffectiveInterval(&d.Assignment, &d.Sensor, d.SensorType)
		for _, c := range d.SensorType.Capabilities {
			req.Sensors = append(req.Sensors, cloud.SensorSync{
				LocalSensorID:           d.Assignment.ID,
				NodeCloudID:             cloudNodeID,
				SensorCode:              d.Sensor.Code,
				Name:                    name,
				MeasurementType:         c.MeasurementType,
				Unit:                    c.Unit,
				SamplingIntervalSeconds: interval,
				IsEnabled:               d.Assignment.IsActive && d.Sensor.IsActive,
			})
		}
	}

	resp, err := o.client.UpsertSensors(ctx, req)
	if err != nil {
		return 0, 0, fmt.Errorf("sensors phase: %w", err)
	}

	now := time.Now().UTC()
	for _, r := range resp.Sensors {
		if !known[r.LocalSensorID] {
			continue
		}
		if err := o.store.SetAssignmentCloudID(ctx, r.LocalSensorID, r.CloudID, now); err != nil {
			return created, updated, fmt.Errorf("sensors phase: store cloud sensor id: %w", err)
		}
		if r.WasCreated {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

// syncReadingsPhase uploads unsynced readings in batches until none
// remain. Readings whose assignment has no cloud sensor ID cannot be
// delivered; they are marked synced with a warning so they never block
// the queue. Returns the number of readings the cloud accepted.
func (o *Orchestrator) syncReadingsPhase(ctx context.Context, jobID, nodeID, cloudNodeID string) (int, error) {
	total, err := o.store.CountUnsyncedReadings(ctx, nodeID)
	if err != nil {
		return 0, fmt.Errorf("readings phase: count unsynced: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	cloudIDs, err := o.store.AssignmentCloudIDs(ctx, nodeID)
	if err != nil {
		return 0, fmt.Errorf("readings phase: load cloud sensor ids: %w", err)
	}

	log := o.logger.With("node_id", nodeID, "job_id", jobID)
	synced := 0
	for {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		batch, err := o.store.UnsyncedReadings(ctx, nodeID, o.batchSize)
		if err != nil {
			return synced, fmt.Errorf("readings phase: fetch batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		now := time.Now().UTC()
		upload := cloud.ReadingsBatch{NodeCloudID: cloudNodeID}
		uploadIDs := make([]int64, 0, len(batch))
		skippedIDs := make([]int64, 0)
		for _, r := range batch {
			var cloudSensorID string
			if r.AssignmentID != nil {
				cloudSensorID = cloudIDs[*r.AssignmentID]
			}
			if cloudSensorID == "" {
				skippedIDs = append(skippedIDs, r.ID)
				continue
			}
			upload.Readings = append(upload.Readings, cloud.ReadingSync{
				LocalReadingID:  r.ID,
				SensorCloudID:   cloudSensorID,
				MeasurementType: r.MeasurementType,
				RawValue:        r.RawValue,
				Value:           r.Value,
				Unit:            r.Unit,
				Timestamp:       r.Timestamp,
				Quality:         cloud.QualityGood,
			})
			uploadIDs = append(uploadIDs, r.ID)
		}

		if len(skippedIDs) > 0 {
			log.Warn("marking undeliverable readings as synced",
				"action", "readings_skip", "count", len(skippedIDs))
			if err := o.store.MarkReadingsSynced(ctx, skippedIDs, now); err != nil {
				return synced, fmt.Errorf("readings phase: mark skipped: %w", err)
			}
		}

		if len(upload.Readings) > 0 {
			if _, err := o.client.UploadReadings(ctx, upload); err != nil {
				return synced, fmt.Errorf("readings phase: %w", err)
			}
			if err := o.store.MarkReadingsSynced(ctx, uploadIDs, now); err != nil {
				return synced, fmt.Errorf("readings phase: mark synced: %w", err)
			}
			synced += len(uploadIDs)
		}

		percent := 50 + 50*synced/total
		if percent > 100 {
			percent = 100
		}
		o.reporter.ReportProgress(jobID, nodeID, types.SyncProgress{
			Stage:           StageReadings,
			Message:         fmt.Sprintf("Uploaded %d of %d readings", synced, total),
			ReadingsSynced:  intPtr(synced),
			TotalReadings:   intPtr(total),
			PercentComplete: intPtr(percent),
		})
	}
	return synced, nil
}

func intPtr(v int) *int { return &v }
