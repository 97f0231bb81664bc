package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iotgrid/hub/internal/types"
	"github.com/oklog/ulid/v2"
)

const selectSyncStateSQL = `
	SELECT node_id, cloud_node_id, is_syncing, current_job_id, last_sync_at, last_sync_success,
		last_sync_error, last_sync_duration_ms, total_syncs, successful_syncs, failed_syncs,
		total_readings_synced, updated_at
	FROM node_sync_state`

// GetSyncState returns the sync state for a node. Returns ErrNotFound
// when the node has never been synced.
func (s *SQLiteStore) GetSyncState(ctx context.Context, nodeID string) (*types.SyncState, error) {
	row := s.db.QueryRowContext(ctx, selectSyncStateSQL+" WHERE node_id = ?", nodeID)
	state, err := scanSyncState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	return state, nil
}

// GetOrCreateSyncState returns the node's sync state, creating the row
// lazily on the first sync attempt.
func (s *SQLiteStore) GetOrCreateSyncState(ctx context.Context, nodeID string) (*types.SyncState, error) {
	state, err := s.GetSyncState(ctx, nodeID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO node_sync_state (node_id, updated_at) VALUES (?, ?)
		ON CONFLICT(node_id) DO NOTHING
	`, nodeID, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create sync state: %w", err)
	}

	return s.GetSyncState(ctx, nodeID)
}

// BeginSync marks the node as syncing under the given job and counts
// the attempt. Called only by the job holding the registry slot.
func (s *SQLiteStore) BeginSync(ctx context.Context, nodeID, jobID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE node_sync_state
		SET is_syncing = 1, current_job_id = ?, total_syncs = total_syncs + 1, updated_at = ?
		WHERE node_id = ?
	`, jobID, formatTime(time.Now().UTC()), nodeID)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCloudNodeID records the cloud-assigned node identifier after
// phase 1 succeeds.
func (s *SQLiteStore) SetCloudNodeID(ctx context.Context, nodeID, cloudNodeID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE node_sync_state SET cloud_node_id = ?, updated_at = ? WHERE node_id = ?
	`, cloudNodeID, formatTime(time.Now().UTC()), nodeID)
	if err != nil {
		return fmt.Errorf("set cloud node id: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishSync applies the terminal outcome of a job and clears the
// in-progress markers. Counters only ever increase.
func (s *SQLiteStore) FinishSync(ctx context.Context, nodeID string, outcome SyncOutcome) error {
	var (
		successInc, failedInc int
		lastSuccess           int
	)
	if outcome.Success {
		successInc = 1
		lastSuccess = 1
	} else {
		failedInc = 1
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE node_sync_state
		SET is_syncing = 0,
			current_job_id = NULL,
			last_sync_at = ?,
			last_sync_success = ?,
			last_sync_error = ?,
			last_sync_duration_ms = ?,
			successful_syncs = successful_syncs + ?,
			failed_syncs = failed_syncs + ?,
			total_readings_synced = total_readings_synced + ?,
			updated_at = ?
		WHERE node_id = ?
	`, formatTime(outcome.CompletedAt), lastSuccess, nullString(outcome.Error),
		outcome.Duration.Milliseconds(), successInc, failedInc, outcome.ReadingsSynced,
		formatTime(time.Now().UTC()), nodeID)
	if err != nil {
		return fmt.Errorf("finish sync: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSyncStates returns the sync state of every node that has one.
func (s *SQLiteStore) ListSyncStates(ctx context.Context) ([]types.SyncState, error) {
	rows, err := s.db.QueryContext(ctx, selectSyncStateSQL)
	if err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}
	defer rows.Close()

	states := make([]types.SyncState, 0)
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

func scanSyncState(row rowScanner) (*types.SyncState, error) {
	var st types.SyncState
	var (
		cloudNodeID, currentJobID, lastSyncAt, lastSyncError sql.NullString
		lastSyncSuccess, lastSyncDurationMs                  sql.NullInt64
		isSyncing                                            int
		updatedAt                                            string
	)

	if err := row.Scan(&st.NodeID, &cloudNodeID, &isSyncing, &currentJobID, &lastSyncAt,
		&lastSyncSuccess, &lastSyncError, &lastSyncDurationMs, &st.TotalSyncs,
		&st.SuccessfulSyncs, &st.FailedSyncs, &st.TotalReadingsSynced, &updatedAt); err != nil {
		return nil, err
	}

	st.CloudNodeID = stringPtr(cloudNodeID)
	st.IsSyncing = isSyncing != 0
	st.CurrentJobID = stringPtr(currentJobID)
	st.LastSyncAt = timePtr(lastSyncAt)
	st.LastSyncError = stringPtr(lastSyncError)
	if lastSyncSuccess.Valid {
		b := lastSyncSuccess.Int64 != 0
		st.LastSyncSuccess = &b
	}
	if lastSyncDurationMs.Valid {
		d := types.DurationMs(time.Duration(lastSyncDurationMs.Int64) * time.Millisecond)
		st.LastSyncDuration = &d
	}
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

// --- Sync history ---

// AppendHistory creates the running history row for a job. The row is
// completed exactly once by CompleteHistory.
func (s *SQLiteStore) AppendHistory(ctx context.Context, entry *types.SyncHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_history (id, node_id, job_id, started_at)
		VALUES (?, ?, ?, ?)
	`, entry.ID, entry.NodeID, entry.JobID, formatTime(entry.StartedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("append history for job %s: %w", entry.JobID, ErrDuplicate)
		}
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// CompleteHistory finalizes the history row for a job. Completed rows
// are never mutated again.
func (s *SQLiteStore) CompleteHistory(ctx context.Context, jobID string, outcome SyncOutcome) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_history
		SET completed_at = ?, duration_ms = ?, success = ?, error = ?,
			node_action = ?, sensors_created = ?, sensors_updated = ?, readings_synced = ?
		WHERE job_id = ? AND completed_at IS NULL
	`, formatTime(outcome.CompletedAt), outcome.Duration.Milliseconds(), boolToInt(outcome.Success),
		nullString(outcome.Error), outcome.NodeAction, outcome.SensorsCreated,
		outcome.SensorsUpdated, outcome.ReadingsSynced, jobID)
	if err != nil {
		return fmt.Errorf("complete history: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHistory returns the newest history entries for a node, newest
// first, up to limit rows.
func (s *SQLiteStore) ListHistory(ctx context.Context, nodeID string, limit int) ([]types.SyncHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, job_id, started_at, completed_at, duration_ms, success, error,
			node_action, sensors_created, sensors_updated, readings_synced
		FROM sync_history
		WHERE node_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := make([]types.SyncHistoryEntry, 0, limit)
	for rows.Next() {
		var e types.SyncHistoryEntry
		var (
			startedAt           string
			completedAt, errMsg sql.NullString
			durationMs          sql.NullInt64
			success             int
		)

		if err := rows.Scan(&e.ID, &e.NodeID, &e.JobID, &startedAt, &completedAt, &durationMs,
			&success, &errMsg, &e.NodeAction, &e.SensorsCreated, &e.SensorsUpdated, &e.ReadingsSynced); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}

		e.StartedAt = parseTime(startedAt)
		e.CompletedAt = timePtr(completedAt)
		if durationMs.Valid {
			d := types.DurationMs(time.Duration(durationMs.Int64) * time.Millisecond)
			e.Duration = &d
		}
		e.Success = success != 0
		e.Error = stringPtr(errMsg)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
