package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iotgrid/hub/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed hub database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Nodes ---

// CreateNode inserts a node row. A ULID is assigned when ID is empty.
func (s *SQLiteStore) CreateNode(ctx context.Context, node *types.Node) error {
	now := time.Now().UTC()
	if node.ID == "" {
		node.ID = ulid.Make().String()
	}
	node.CreatedAt = now
	node.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, hub_id, hardware_id, name, location, protocol, firmware_version, is_simulation, storage_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, node.ID, node.HubID, node.HardwareID, node.Name, node.Location, string(node.Protocol),
		node.FirmwareVersion, boolToInt(node.IsSimulation), string(node.StorageMode),
		formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create node %s: %w", node.HardwareID, ErrDuplicate)
		}
		return fmt.Errorf("create node: %w", err)
	}
	return nil
}

const selectNodeSQL = `
	SELECT id, hub_id, hardware_id, name, location, protocol, firmware_version, is_simulation, storage_mode, created_at, updated_at
	FROM nodes`

// GetNode returns a node by ID. Returns ErrNotFound when missing.
func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	row := s.db.QueryRowContext(ctx, selectNodeSQL+" WHERE id = ?", id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return node, nil
}

// ListNodes returns all nodes ordered by name.
func (s *SQLiteStore) ListNodes(ctx context.Context) ([]types.Node, error) {
	rows, err := s.db.QueryContext(ctx, selectNodeSQL+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]types.Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// CountNodes returns the total number of nodes.
func (s *SQLiteStore) CountNodes(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*types.Node, error) {
	var n types.Node
	var protocol, storageMode, createdAt, updatedAt string
	var isSimulation int

	if err := row.Scan(&n.ID, &n.HubID, &n.HardwareID, &n.Name, &n.Location, &protocol,
		&n.FirmwareVersion, &isSimulation, &storageMode, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	n.Protocol = types.Protocol(protocol)
	n.StorageMode = types.StorageMode(storageMode)
	n.IsSimulation = isSimulation != 0
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return &n, nil
}

// --- Sensor catalog ---

// CreateSensorType inserts a sensor type together with its capabilities.
func (s *SQLiteStore) CreateSensorType(ctx context.Context, st *types.SensorType) error {
	if st.ID == "" {
		st.ID = ulid.Make().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sensor_types (id, code, name, protocol, default_i2c_address, default_sda_pin, default_scl_pin,
			default_one_wire_pin, default_analog_pin, default_digital_pin, default_trigger_pin, default_echo_pin,
			default_interval_seconds, default_offset_correction, default_gain_correction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ID, st.Code, st.Name, string(st.Protocol),
		nullString(st.DefaultI2CAddress), nullInt(st.DefaultSdaPin), nullInt(st.DefaultSclPin),
		nullInt(st.DefaultOneWirePin), nullInt(st.DefaultAnalogPin), nullInt(st.DefaultDigitalPin),
		nullInt(st.DefaultTriggerPin), nullInt(st.DefaultEchoPin),
		st.DefaultIntervalSeconds, st.DefaultOffsetCorrection, st.DefaultGainCorrection)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create sensor type %s: %w", st.Code, ErrDuplicate)
		}
		return fmt.Errorf("create sensor type: %w", err)
	}

	for i := range st.Capabilities {
		cap := &st.Capabilities[i]
		if cap.ID == "" {
			cap.ID = ulid.Make().String()
		}
		cap.SensorTypeID = st.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sensor_type_capabilities (id, sensor_type_id, measurement_type, unit)
			VALUES (?, ?, ?, ?)
		`, cap.ID, cap.SensorTypeID, cap.MeasurementType, cap.Unit)
		if err != nil {
			return fmt.Errorf("create capability %s: %w", cap.MeasurementType, err)
		}
	}

	return tx.Commit()
}

// CreateSensor inserts a sensor instance.
func (s *SQLiteStore) CreateSensor(ctx context.Context, sensor *types.Sensor) error {
	if sensor.ID == "" {
		sensor.ID = ulid.Make().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sensors (id, sensor_type_id, code, name, interval_seconds_override, offset_correction, gain_correction, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sensor.ID, sensor.SensorTypeID, sensor.Code, sensor.Name,
		nullInt(sensor.IntervalSecondsOverride), nullFloat(sensor.OffsetCorrection),
		nullFloat(sensor.GainCorrection), boolToInt(sensor.IsActive))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create sensor %s: %w", sensor.Code, ErrDuplicate)
		}
		return fmt.Errorf("create sensor: %w", err)
	}
	return nil
}

// CreateAssignment inserts a node-sensor assignment.
func (s *SQLiteStore) CreateAssignment(ctx context.Context, a *types.Assignment) error {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_sensor_assignments (id, node_id, sensor_id, endpoint_id, alias,
			interval_seconds_override, i2c_address_override, sda_pin_override, scl_pin_override,
			one_wire_pin_override, analog_pin_override, digital_pin_override, trigger_pin_override,
			echo_pin_override, is_active, cloud_sensor_id, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.NodeID, a.SensorID, a.EndpointID, nullString(a.Alias),
		nullInt(a.IntervalSecondsOverride), nullString(a.I2CAddressOverride),
		nullInt(a.SdaPinOverride), nullInt(a.SclPinOverride), nullInt(a.OneWirePinOverride),
		nullInt(a.AnalogPinOverride), nullInt(a.DigitalPinOverride), nullInt(a.TriggerPinOverride),
		nullInt(a.EchoPinOverride), boolToInt(a.IsActive),
		nullString(a.CloudSensorID), nullTime(a.LastSyncedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create assignment endpoint %d: %w", a.EndpointID, ErrDuplicate)
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

const selectAssignmentDetailSQL = `
	SELECT a.id, a.node_id, a.sensor_id, a.endpoint_id, a.alias,
		a.interval_seconds_override, a.i2c_address_override, a.sda_pin_override, a.scl_pin_override,
		a.one_wire_pin_override, a.analog_pin_override, a.digital_pin_override, a.trigger_pin_override,
		a.echo_pin_override, a.is_active, a.cloud_sensor_id, a.last_synced_at,
		s.id, s.sensor_type_id, s.code, s.name, s.interval_seconds_override, s.offset_correction, s.gain_correction, s.is_active,
		t.id, t.code, t.name, t.protocol, t.default_i2c_address, t.default_sda_pin, t.default_scl_pin,
		t.default_one_wire_pin, t.default_analog_pin, t.default_digital_pin, t.default_trigger_pin, t.default_echo_pin,
		t.default_interval_seconds, t.default_offset_correction, t.default_gain_correction
	FROM node_sensor_assignments a
	JOIN sensors s ON s.id = a.sensor_id
	JOIN sensor_types t ON t.id = s.sensor_type_id`

// GetAssignmentDetail returns one assignment joined with its sensor and
// sensor type, capabilities included.
func (s *SQLiteStore) GetAssignmentDetail(ctx context.Context, assignmentID string) (*types.AssignmentDetail, error) {
	row := s.db.QueryRowContext(ctx, selectAssignmentDetailSQL+" WHERE a.id = ?", assignmentID)
	detail, err := scanAssignmentDetail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}

	if err := s.attachCapabilities(ctx, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// ListActiveAssignments returns all active assignments for a node, each
// joined with its sensor and sensor type including capabilities.
func (s *SQLiteStore) ListActiveAssignments(ctx context.Context, nodeID string) ([]types.AssignmentDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		selectAssignmentDetailSQL+" WHERE a.node_id = ? AND a.is_active = 1 ORDER BY a.endpoint_id", nodeID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	details := make([]types.AssignmentDetail, 0)
	for rows.Next() {
		detail, err := scanAssignmentDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		details = append(details, *detail)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range details {
		if err := s.attachCapabilities(ctx, &details[i]); err != nil {
			return nil, err
		}
	}
	return details, nil
}

func (s *SQLiteStore) attachCapabilities(ctx context.Context, detail *types.AssignmentDetail) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sensor_type_id, measurement_type, unit
		FROM sensor_type_capabilities
		WHERE sensor_type_id = ?
		ORDER BY measurement_type
	`, detail.SensorType.ID)
	if err != nil {
		return fmt.Errorf("list capabilities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cap types.Capability
		if err := rows.Scan(&cap.ID, &cap.SensorTypeID, &cap.MeasurementType, &cap.Unit); err != nil {
			return fmt.Errorf("scan capability: %w", err)
		}
		detail.SensorType.Capabilities = append(detail.SensorType.Capabilities, cap)
	}
	return rows.Err()
}

func scanAssignmentDetail(row rowScanner) (*types.AssignmentDetail, error) {
	var d types.AssignmentDetail
	var (
		alias, i2cOverride, cloudSensorID, lastSyncedAt           sql.NullString
		aInterval, sda, scl, oneWire, analog, digital, trig, echo sql.NullInt64
		aActive                                                   int

		sInterval      sql.NullInt64
		sOffset, sGain sql.NullFloat64
		sActive        int

		tI2C                                                     sql.NullString
		tSda, tScl, tOneWire, tAnalog, tDigital, tTrigger, tEcho sql.NullInt64
		tProtocol                                                string
	)

	if err := row.Scan(
		&d.Assignment.ID, &d.Assignment.NodeID, &d.Assignment.SensorID, &d.Assignment.EndpointID, &alias,
		&aInterval, &i2cOverride, &sda, &scl, &oneWire, &analog, &digital, &trig, &echo,
		&aActive, &cloudSensorID, &lastSyncedAt,
		&d.Sensor.ID, &d.Sensor.SensorTypeID, &d.Sensor.Code, &d.Sensor.Name, &sInterval, &sOffset, &sGain, &sActive,
		&d.SensorType.ID, &d.SensorType.Code, &d.SensorType.Name, &tProtocol,
		&tI2C, &tSda, &tScl, &tOneWire, &tAnalog, &tDigital, &tTrigger, &tEcho,
		&d.SensorType.DefaultIntervalSeconds, &d.SensorType.DefaultOffsetCorrection, &d.SensorType.DefaultGainCorrection,
	); err != nil {
		return nil, err
	}

	d.Assignment.Alias = stringPtr(alias)
	d.Assignment.IntervalSecondsOverride = intPtr(aInterval)
	d.Assignment.I2CAddressOverride = stringPtr(i2cOverride)
	d.Assignment.SdaPinOverride = intPtr(sda)
	d.Assignment.SclPinOverride = intPtr(scl)
	d.Assignment.OneWirePinOverride = intPtr(oneWire)
	d.Assignment.AnalogPinOverride = intPtr(analog)
	d.Assignment.DigitalPinOverride = intPtr(digital)
	d.Assignment.TriggerPinOverride = intPtr(trig)
	d.Assignment.EchoPinOverride = intPtr(echo)
	d.Assignment.IsActive = aActive != 0
	d.Assignment.CloudSensorID = stringPtr(cloudSensorID)
	d.Assignment.LastSyncedAt = timePtr(lastSyncedAt)

	d.Sensor.IntervalSecondsOverride = intPtr(sInterval)
	d.Sensor.OffsetCorrection = floatPtr(sOffset)
	d.Sensor.GainCorrection = floatPtr(sGain)
	d.Sensor.IsActive = sActive != 0

	d.SensorType.Protocol = types.Protocol(tProtocol)
	d.SensorType.DefaultI2CAddress = stringPtr(tI2C)
	d.SensorType.DefaultSdaPin = intPtr(tSda)
	d.SensorType.DefaultSclPin = intPtr(tScl)
	d.SensorType.DefaultOneWirePin = intPtr(tOneWire)
	d.SensorType.DefaultAnalogPin = intPtr(tAnalog)
	d.SensorType.DefaultDigitalPin = intPtr(tDigital)
	d.SensorType.DefaultTriggerPin = intPtr(tTrigger)
	d.SensorType.DefaultEchoPin = intPtr(tEcho)

	return &d, nil
}

// SetAssignmentCloudID records the cloud-side sensor identifier returned
// by phase 2 of a sync run.
func (s *SQLiteStore) SetAssignmentCloudID(ctx context.Context, assignmentID, cloudSensorID string, syncedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE node_sensor_assignments SET cloud_sensor_id = ?, last_synced_at = ? WHERE id = ?
	`, cloudSensorID, formatTime(syncedAt), assignmentID)
	if err != nil {
		return fmt.Errorf("set assignment cloud id: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignmentCloudIDs returns assignmentID → cloudSensorID for every
// assignment of the node that has been synced at least once.
func (s *SQLiteStore) AssignmentCloudIDs(ctx context.Context, nodeID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cloud_sensor_id FROM node_sensor_assignments
		WHERE node_id = ? AND cloud_sensor_id IS NOT NULL
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("lookup assignment cloud ids: %w", err)
	}
	defer rows.Close()

	lookup := make(map[string]string)
	for rows.Next() {
		var id, cloudID string
		if err := rows.Scan(&id, &cloudID); err != nil {
			return nil, fmt.Errorf("scan assignment cloud id: %w", err)
		}
		lookup[id] = cloudID
	}
	return lookup, rows.Err()
}

// --- Readings ---

// InsertReadings inserts a batch of readings atomically.
func (s *SQLiteStore) InsertReadings(ctx context.Context, readings []types.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range readings {
		r := &readings[i]
		result, err := tx.ExecContext(ctx, `
			INSERT INTO readings (node_id, assignment_id, measurement_type, raw_value, value, unit, timestamp, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.NodeID, nullString(r.AssignmentID), r.MeasurementType, r.RawValue, r.Value, r.Unit,
			formatTime(r.Timestamp), nullTime(r.SyncedAt))
		if err != nil {
			return 0, fmt.Errorf("insert reading %d: %w", i, err)
		}
		r.ID, err = result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("get reading id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return len(readings), nil
}

// UnsyncedReadings returns the oldest unsynced readings for a node, up
// to limit rows. Fetch order is stable so batches upload in order.
func (s *SQLiteStore) UnsyncedReadings(ctx context.Context, nodeID string, limit int) ([]types.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, assignment_id, measurement_type, raw_value, value, unit, timestamp, synced_at
		FROM readings
		WHERE node_id = ? AND synced_at IS NULL
		ORDER BY id ASC
		LIMIT ?
	`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsynced readings: %w", err)
	}
	defer rows.Close()

	readings := make([]types.Reading, 0, limit)
	for rows.Next() {
		var r types.Reading
		var assignmentID, syncedAt sql.NullString
		var timestamp string

		if err := rows.Scan(&r.ID, &r.NodeID, &assignmentID, &r.MeasurementType,
			&r.RawValue, &r.Value, &r.Unit, &timestamp, &syncedAt); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}

		r.AssignmentID = stringPtr(assignmentID)
		r.Timestamp = parseTime(timestamp)
		r.SyncedAt = timePtr(syncedAt)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// CountUnsyncedReadings returns the number of readings not yet marked
// synced for a node.
func (s *SQLiteStore) CountUnsyncedReadings(ctx context.Context, nodeID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM readings WHERE node_id = ? AND synced_at IS NULL", nodeID).Scan(&count)
	return count, err
}

// MarkReadingsSynced stamps the given reading IDs with a synced-at
// timestamp. IDs already stamped keep their original timestamp.
func (s *SQLiteStore) MarkReadingsSynced(ctx context.Context, ids []int64, syncedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(syncedAt))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE readings SET synced_at = ? WHERE id IN (%s) AND synced_at IS NULL", placeholders), args...)
	if err != nil {
		return fmt.Errorf("mark readings synced: %w", err)
	}
	return nil
}

// CountReadings returns the total number of readings.
func (s *SQLiteStore) CountReadings(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings").Scan(&count)
	return count, err
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return formatTime(*v)
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

// isUniqueViolation reports whether the error is a SQLite unique
// constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
