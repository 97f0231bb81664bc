package types

import (
	"encoding/json"
	"time"
)

// DurationMs is a duration that marshals as integer milliseconds,
// matching the *_ms columns it is loaded from. A plain time.Duration
// would marshal as nanoseconds.
type DurationMs time.Duration

func (d DurationMs) Milliseconds() int64 {
	return time.Duration(d).Milliseconds()
}

func (d DurationMs) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Milliseconds())
}

func (d *DurationMs) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*d = DurationMs(time.Duration(ms) * time.Millisecond)
	return nil
}

// Protocol identifies how a node or sensor communicates.
type Protocol string

const (
	ProtocolWiFi    Protocol = "wifi"
	ProtocolLoRaWAN Protocol = "lorawan"
	ProtocolI2C     Protocol = "i2c"
	ProtocolSPI     Protocol = "spi"
	ProtocolOneWire Protocol = "onewire"
	ProtocolAnalog  Protocol = "analog"
	ProtocolDigital Protocol = "digital"
)

// StorageMode describes where a node buffers readings when offline.
type StorageMode string

const (
	StorageModeNone   StorageMode = "none"
	StorageModeSDCard StorageMode = "sdcard"
	StorageModeFlash  StorageMode = "flash"
)

// Node is a physical device (microcontroller) managed by this hub.
type Node struct {
	ID              string      `json:"id"`
	HubID           string      `json:"hubId"`
	HardwareID      string      `json:"hardwareId"` // MAC address or similar
	Name            string      `json:"name"`
	Location        string      `json:"location,omitempty"`
	Protocol        Protocol    `json:"protocol"`
	FirmwareVersion string      `json:"firmwareVersion,omitempty"`
	IsSimulation    bool        `json:"isSimulation"`
	StorageMode     StorageMode `json:"storageMode"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Capability is one measurement a sensor type can produce.
type Capability struct {
	ID              string `json:"id"`
	SensorTypeID    string `json:"sensorTypeId"`
	MeasurementType string `json:"measurementType"`
	Unit            string `json:"unit"`
}

// SensorType is the hardware definition level of the configuration
// cascade. Its fields are the defaults every sensor of this type starts
// from.
type SensorType struct {
	ID       string   `json:"id"`
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Protocol Protocol `json:"protocol"`

	DefaultI2CAddress *string `json:"defaultI2cAddress,omitempty"`
	DefaultSdaPin     *int    `json:"defaultSdaPin,omitempty"`
	DefaultSclPin     *int    `json:"defaultSclPin,omitempty"`
	DefaultOneWirePin *int    `json:"defaultOneWirePin,omitempty"`
	DefaultAnalogPin  *int    `json:"defaultAnalogPin,omitempty"`
	DefaultDigitalPin *int    `json:"defaultDigitalPin,omitempty"`
	DefaultTriggerPin *int    `json:"defaultTriggerPin,omitempty"`
	DefaultEchoPin    *int    `json:"defaultEchoPin,omitempty"`

	DefaultIntervalSeconds  int     `json:"defaultIntervalSeconds"`
	DefaultOffsetCorrection float64 `json:"defaultOffsetCorrection"`
	DefaultGainCorrection   float64 `json:"defaultGainCorrection"`

	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Sensor is a concrete sensor instance. Calibration overrides are
// optional: a nil field means "inherit from the sensor type".
type Sensor struct {
	ID           string `json:"id"`
	SensorTypeID string `json:"sensorTypeId"`
	Code         string `json:"code"`
	Name         string `json:"name"`

	IntervalSecondsOverride *int     `json:"intervalSecondsOverride,omitempty"`
	OffsetCorrection        *float64 `json:"offsetCorrection,omitempty"`
	GainCorrection          *float64 `json:"gainCorrection,omitempty"`

	IsActive bool `json:"isActive"`
}

// Assignment binds a sensor instance to a node endpoint. Every override
// is optional and, when set, wins over both the sensor and its type.
type Assignment struct {
	ID         string  `json:"id"`
	NodeID     string  `json:"nodeId"`
	SensorID   string  `json:"sensorId"`
	EndpointID int     `json:"endpointId"`
	Alias      *string `json:"alias,omitempty"`

	IntervalSecondsOverride *int    `json:"intervalSecondsOverride,omitempty"`
	I2CAddressOverride      *string `json:"i2cAddressOverride,omitempty"`
	SdaPinOverride          *int    `json:"sdaPinOverride,omitempty"`
	SclPinOverride          *int    `json:"sclPinOverride,omitempty"`
	OneWirePinOverride      *int    `json:"oneWirePinOverride,omitempty"`
	AnalogPinOverride       *int    `json:"analogPinOverride,omitempty"`
	DigitalPinOverride      *int    `json:"digitalPinOverride,omitempty"`
	TriggerPinOverride      *int    `json:"triggerPinOverride,omitempty"`
	EchoPinOverride         *int    `json:"echoPinOverride,omitempty"`

	IsActive      bool       `json:"isActive"`
	CloudSensorID *string    `json:"cloudSensorId,omitempty"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty"`
}

// AssignmentDetail is an assignment joined with its sensor and sensor
// type, the unit the configuration resolver and the sync engine work on.
type AssignmentDetail struct {
	Assignment Assignment `json:"assignment"`
	Sensor     Sensor     `json:"sensor"`
	SensorType SensorType `json:"sensorType"`
}

// Reading is a single measurement taken by a node. SyncedAt is set only
// by the sync engine, after the cloud acknowledged the upload (or the
// reading was found undeliverable).
type Reading struct {
	ID              int64      `json:"id"`
	NodeID          string     `json:"nodeId"`
	AssignmentID    *string    `json:"assignmentId,omitempty"`
	MeasurementType string     `json:"measurementType"`
	RawValue        float64    `json:"rawValue"`
	Value           float64    `json:"value"`
	Unit            string     `json:"unit"`
	Timestamp       time.Time  `json:"timestamp"`
	SyncedAt        *time.Time `json:"syncedAt,omitempty"`
}

// NewReading is a reading as submitted by a node, before calibration.
type NewReading struct {
	NodeID          string    `json:"nodeId"`
	AssignmentID    *string   `json:"assignmentId,omitempty"`
	MeasurementType string    `json:"measurementType"`
	RawValue        float64   `json:"rawValue"`
	Unit            string    `json:"unit"`
	Timestamp       time.Time `json:"timestamp"`
}

// SyncState tracks the cloud synchronization state for one node.
// Exactly one row exists per node, created lazily on the first sync
// attempt. Mutated only by the orchestrator holding the node's job slot.
type SyncState struct {
	NodeID           string      `json:"nodeId"`
	CloudNodeID      *string     `json:"cloudNodeId,omitempty"`
	IsSyncing        bool        `json:"isSyncing"`
	CurrentJobID     *string     `json:"currentJobId,omitempty"`
	LastSyncAt       *time.Time  `json:"lastSyncAt,omitempty"`
	LastSyncSuccess  *bool       `json:"lastSyncSuccess,omitempty"`
	LastSyncError    *string     `json:"lastSyncError,omitempty"`
	LastSyncDuration *DurationMs `json:"lastSyncDurationMs,omitempty"`

	TotalSyncs          int   `json:"totalSyncs"`
	SuccessfulSyncs     int   `json:"successfulSyncs"`
	FailedSyncs         int   `json:"failedSyncs"`
	TotalReadingsSynced int64 `json:"totalReadingsSynced"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Node actions recorded after phase 1 of a sync run.
const (
	NodeActionCreated = "Created"
	NodeActionUpdated = "Updated"
)

// SyncHistoryEntry is one row in the append-only sync audit ledger.
// A row is created when the job starts and completed exactly once.
type SyncHistoryEntry struct {
	ID             string      `json:"id"`
	NodeID         string      `json:"nodeId"`
	JobID          string      `json:"jobId"`
	StartedAt      time.Time   `json:"startedAt"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	Duration       *DurationMs `json:"durationMs,omitempty"`
	Success        bool        `json:"success"`
	Error          *string     `json:"error,omitempty"`
	NodeAction     string      `json:"nodeAction"`
	SensorsCreated int         `json:"sensorsCreated"`
	SensorsUpdated int         `json:"sensorsUpdated"`
	ReadingsSynced int         `json:"readingsSynced"`
}

// SyncProgress is a progress update published while a sync job runs.
// Stage is one of "Node", "Sensors", "Readings", "Complete".
type SyncProgress struct {
	Stage           string `json:"stage"`
	Message         string `json:"message"`
	ReadingsSynced  *int   `json:"readingsSynced,omitempty"`
	TotalReadings   *int   `json:"totalReadings,omitempty"`
	PercentComplete *int   `json:"percentComplete,omitempty"`
}

// SyncResult is the final outcome of one sync job.
type SyncResult struct {
	NodeID         string     `json:"nodeId"`
	JobID          string     `json:"jobId"`
	Success        bool       `json:"success"`
	Error          string     `json:"error,omitempty"`
	Duration       DurationMs `json:"durationMs"`
	NodeAction     string     `json:"nodeAction,omitempty"`
	SensorsCreated int        `json:"sensorsCreated"`
	SensorsUpdated int        `json:"sensorsUpdated"`
	ReadingsSynced int        `json:"readingsSynced"`
}

// SyncStatus is the read-only per-node projection served by the status
// endpoints. UnsyncedReadings is computed from the reading store on
// demand, never cached.
type SyncStatus struct {
	NodeID           string      `json:"nodeId"`
	NodeName         string      `json:"nodeName"`
	LastSyncAt       *time.Time  `json:"lastSyncAt,omitempty"`
	LastSyncSuccess  *bool       `json:"lastSyncSuccess,omitempty"`
	LastSyncError    *string     `json:"lastSyncError,omitempty"`
	LastSyncDuration *DurationMs `json:"lastSyncDurationMs,omitempty"`
	UnsyncedReadings int         `json:"unsyncedReadingsCount"`
	IsSyncing        bool        `json:"isSyncing"`
	CloudNodeID      *string     `json:"cloudId,omitempty"`
}

// SyncSummary is the fleet-wide aggregate served by GET /api/sync/summary.
type SyncSummary struct {
	TotalNodes            int        `json:"totalNodes"`
	SyncedNodes           int        `json:"syncedNodes"`
	NeverSyncedNodes      int        `json:"neverSyncedNodes"`
	TotalUnsyncedReadings int        `json:"totalUnsyncedReadings"`
	LastSyncAt            *time.Time `json:"lastSyncAt,omitempty"`
}

// StartSyncResponse is returned by POST /api/sync/nodes/{nodeID}.
type StartSyncResponse struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	NodeCount    int64  `json:"nodeCount"`
	ReadingCount int64  `json:"readingCount"`
	CloudEnabled bool   `json:"cloudEnabled"`
}

// IngestRequest is the body of POST /api/readings.
type IngestRequest struct {
	Readings []NewReading `json:"readings"`
}

// IngestResult reports partial acceptance of a reading batch.
type IngestResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}
