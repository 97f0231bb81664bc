package store

import (
	"context"
	"time"

	"github.com/iotgrid/hub/internal/types"
)

// SyncOutcome carries the terminal result of one sync job, applied to
// both the node's sync state and its history entry.
type SyncOutcome struct {
	Success        bool
	Error          *string
	Duration       time.Duration
	NodeAction     string
	SensorsCreated int
	SensorsUpdated int
	ReadingsSynced int
	CompletedAt    time.Time
}

// Store defines the interface contract for all hub persistence.
type Store interface {
	// Nodes
	CreateNode(ctx context.Context, node *types.Node) error
	GetNode(ctx context.Context, id string) (*types.Node, error)
	ListNodes(ctx context.Context) ([]types.Node, error)
	CountNodes(ctx context.Context) (int64, error)

	// Sensor catalog (seeding and assignment resolution)
	CreateSensorType(ctx context.Context, st *types.SensorType) error
	CreateSensor(ctx context.Context, s *types.Sensor) error
	CreateAssignment(ctx context.Context, a *types.Assignment) error
	GetAssignmentDetail(ctx context.Context, assignmentID string) (*types.AssignmentDetail, error)
	ListActiveAssignments(ctx context.Context, nodeID string) ([]types.AssignmentDetail, error)
	SetAssignmentCloudID(ctx context.Context, assignmentID, cloudSensorID string, syncedAt time.Time) error
	AssignmentCloudIDs(ctx context.Context, nodeID string) (map[string]string, error)

	// Readings
	InsertReadings(ctx context.Context, readings []types.Reading) (int, error)
	UnsyncedReadings(ctx context.Context, nodeID string, limit int) ([]types.Reading, error)
	CountUnsyncedReadings(ctx context.Context, nodeID string) (int, error)
	MarkReadingsSynced(ctx context.Context, ids []int64, syncedAt time.Time) error
	CountReadings(ctx context.Context) (int64, error)

	// Sync state (mutated only by the orchestrator holding the job slot)
	GetSyncState(ctx context.Context, nodeID string) (*types.SyncState, error)
	GetOrCreateSyncState(ctx context.Context, nodeID string) (*types.SyncState, error)
	BeginSync(ctx context.Context, nodeID, jobID string) error
	SetCloudNodeID(ctx context.Context, nodeID, cloudNodeID string) error
	FinishSync(ctx context.Context, nodeID string, outcome SyncOutcome) error
	ListSyncStates(ctx context.Context) ([]types.SyncState, error)

	// Sync history ledger (append-only)
	AppendHistory(ctx context.Context, entry *types.SyncHistoryEntry) error
	CompleteHistory(ctx context.Context, jobID string, outcome SyncOutcome) error
	ListHistory(ctx context.Context, nodeID string, limit int) ([]types.SyncHistoryEntry, error)

	Close() error
}
