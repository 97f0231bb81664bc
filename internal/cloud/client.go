// Package cloud implements the outbound boundary to the central Cloud
// API: node upsert, sensor-batch upsert, and reading-batch upload.
package cloud

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when the Cloud API base URL or key is missing.
var ErrNotConfigured = errors.New("cloud API is not configured")

// Reading quality indicators accepted by the Cloud API.
const (
	QualityGood      = "good"
	QualityUncertain = "uncertain"
	QualityBad       = "bad"
)

// NodeSync is the node payload pushed in phase 1 of a sync run.
type NodeSync struct {
	HubID           string            `json:"hubId"`
	LocalNodeID     string            `json:"localNodeId"`
	HardwareID      string            `json:"nodeId"`
	Name            string            `json:"name"`
	Location        string            `json:"location,omitempty"`
	Protocol        string            `json:"protocol"`
	FirmwareVersion string            `json:"firmwareVersion,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// NodeSyncResponse is the Cloud's answer to a node upsert.
type NodeSyncResponse struct {
	CloudID    string `json:"cloudId"`
	WasCreated bool   `json:"wasCreated"`
}

// SensorSync is one logical cloud sensor: a node-sensor assignment
// paired with a single measurement capability.
type SensorSync struct {
	LocalSensorID           string `json:"localSensorId"`
	NodeCloudID             string `json:"nodeCloudId"`
	SensorCode              string `json:"sensorCode"`
	Name                    string `json:"name,omitempty"`
	MeasurementType         string `json:"measurementType"`
	Unit                    string `json:"unit"`
	SamplingIntervalSeconds int    `json:"samplingIntervalSeconds"`
	IsEnabled               bool   `json:"isEnabled"`
}

// SensorsSync is the phase-2 batch payload.
type SensorsSync struct {
	NodeCloudID string       `json:"nodeCloudId"`
	Sensors     []SensorSync `json:"sensors"`
}

// SensorSyncResult is the per-sensor outcome of a batch upsert.
type SensorSyncResult struct {
	LocalSensorID string `json:"localSensorId"`
	CloudID       string `json:"cloudId"`
	WasCreated    bool   `json:"wasCreated"`
}

// SensorsSyncResponse is the Cloud's answer to a sensor batch upsert.
type SensorsSyncResponse struct {
	Sensors []SensorSyncResult `json:"sensors"`
}

// ReadingSync is one measurement in a phase-3 upload batch.
type ReadingSync struct {
	LocalReadingID  int64     `json:"localReadingId"`
	SensorCloudID   string    `json:"sensorCloudId"`
	MeasurementType string    `json:"measurementType"`
	RawValue        float64   `json:"rawValue"`
	Value           float64   `json:"value"`
	Unit            string    `json:"unit"`
	Timestamp       time.Time `json:"timestamp"`
	Quality         string    `json:"quality"`
}

// ReadingsBatch is the phase-3 batch payload.
type ReadingsBatch struct {
	NodeCloudID string        `json:"nodeCloudId"`
	Readings    []ReadingSync `json:"readings"`
}

// ReadingsResponse is the Cloud's answer to a reading batch upload.
type ReadingsResponse struct {
	AcceptedCount int `json:"acceptedCount"`
	RejectedCount int `json:"rejectedCount"`
}

// Client is the outbound Cloud API boundary. All three sync operations
// are idempotent upserts on the Cloud side; transient failures are
// retried inside the client, transparent to callers.
type Client interface {
	// IsConfigured reports whether the boundary can be used at all.
	IsConfigured() bool

	// TestConnection checks the Cloud health endpoint.
	TestConnection(ctx context.Context) bool

	// UpsertNode pushes node identity and metadata (phase 1).
	UpsertNode(ctx context.Context, req NodeSync) (*NodeSyncResponse, error)

	// UpsertSensors pushes all sensor records for a node in one call (phase 2).
	UpsertSensors(ctx context.Context, req SensorsSync) (*SensorsSyncResponse, error)

	// UploadReadings pushes one batch of readings (phase 3).
	UploadReadings(ctx context.Context, req ReadingsBatch) (*ReadingsResponse, error)
}
