package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iotgrid/hub/internal/types"
)

func TestGetSyncState_NotFoundForNeverSyncedNode(t *testing.T) {
	s := newTestStore(t)
	node := createNode(t, s, "AA:01")

	if _, err := s.GetSyncState(context.Background(), node.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetOrCreateSyncState_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	node := createNode(t, s, "AA:01")

	state, err := s.GetOrCreateSyncState(ctx, node.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if state.NodeID != node.ID || state.IsSyncing || state.TotalSyncs != 0 {
		t.Errorf("fresh state = %+v", state)
	}
	if state.LastSyncAt != nil || state.CloudNodeID != nil {
		t.Errorf("fresh state has sync markers: %+v", state)
	}

	again, err := s.GetOrCreateSyncState(ctx, node.ID)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if again.UpdatedAt != state.UpdatedAt {
		t.Error("second call recreated the row")
	}
}

func TestBeginSync_SetsMarkersAndCountsAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	node := createNode(t, s, "AA:01")

	if _, err := s.GetOrCreateSyncState(ctx, node.ID); err != nil {
		t.Fatalf("create state: %v", err)
	}
	if err := s.BeginSync(ctx, node.ID, "job-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	state, err := s.GetSyncState(ctx, node.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !state.IsSyncing {
		t.Error("is_syncing not set")
	}
	if state.CurrentJobID == nil || *state.CurrentJobID != "job-1" {
		t.Errorf("current job = %v", state.CurrentJobID)
	}
	if state.TotalSyncs != 1 {
		t.Errorf("total syncs = %d, want 1", state.TotalSyncs)
	}

	if err := s.BeginSync(ctx, "no-such-node", "job-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown node err = %v", err)
	}
}

func TestSetCloudNodeID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	node := createNode(t, s, "AA:01")

	if _, err := s.GetOrCreateSyncState(ctx, node.ID); err != nil {
		t.Fatalf("create state: %v", err)
	}
	if err := s.SetCloudNodeID(ctx, node.ID, "cloud-node-9"); err != nil {
		t.Fatalf("set: %v", err)
	}

	state, _ := s.GetSyncState(ctx, node.ID)
	if state.CloudNodeID == nil || *state.CloudNodeID != "cloud-node-9" {
		t.Errorf("cloud node id = %v", state.CloudNodeID)
	}

	if err := s.SetCloudNodeID(ctx, "no-such-node", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown node err = %v", err)
	}
}

func TestFinishSync_SuccessAndFailureCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	node := createNode(t, s, "AA:01")

	if _, err := s.GetOrCreateSyncState(ctx, node.ID); err != nil {
		t.Fatalf("create state: %v", err)
	}

	// First run succeeds and syncs 120 readings.
	if err := s.BeginSync(ctx, node.ID, "job-1"); err != nil {
		t.Fatalf("begin 1: %v", err)
	}
	done := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	err := s.FinishSync(ctx, node.ID, SyncOutcome{
		Success:        true,
		Duration:       2500 * time.Millisecond,
		ReadingsSynced: 120,
		CompletedAt:    done,
	})
	if err != nil {
		t.Fatalf("finish 1: %v", err)
	}

	state, _ := s.GetSyncState(ctx, node.ID)
	if state.IsSyncing || state.CurrentJobID != nil {
		t.Errorf("markers not cleared: %+v", state)
	}
	if state.LastSyncSuccess == nil || !*state.LastSyncSuccess {
		t.Error("last sync not marked successful")
	}
	if state.LastSyncError != nil {
		t.Errorf("last error = %v", state.LastSyncError)
	}
	if state.LastSyncAt == nil || !state.LastSyncAt.Equal(done) {
		t.Errorf("last sync at = %v", state.LastSyncAt)
	}
	if state.LastSyncDuration == nil || *state.LastSyncDuration != types.DurationMs(2500*time.Millisecond) {
		t.Errorf("duration = %v", state.LastSyncDuration)
	}
	if state.SuccessfulSyncs != 1 || state.FailedSyncs != 0 || state.TotalReadingsSynced != 120 {
		t.Errorf("counters = %d/%d/%d", state.SuccessfulSyncs, state.FailedSyncs, state.TotalReadingsSynced)
	}

	// Second run fails partway through with 30 readings already up.
	if err := s.BeginSync(ctx, node.ID, "job-2"); err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	msg := "cloud upload failed"
	err = s.FinishSync(ctx, node.ID, SyncOutcome{
		Success:        false,
		Error:          &msg,
		Duration:       400 * time.Millisecond,
		ReadingsSynced: 30,
		CompletedAt:    done.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("finish 2: %v", err)
	}

	state, _ = s.GetSyncState(ctx, node.ID)
	if state.LastSyncSuccess == nil || *state.LastSyncSuccess {
		t.Error("last sync not marked failed")
	}
	if state.LastSyncError == nil || *state.LastSyncError != msg {
		t.Errorf("last error = %v", state.LastSyncError)
	}
	if state.TotalSyncs != 2 || state.SuccessfulSyncs != 1 || state.FailedSyncs != 1 {
		t.Errorf("counters = %d/%d/%d", state.TotalSyncs, state.SuccessfulSyncs, state.FailedSyncs)
	}
	if state.TotalReadingsSynced != 150 {
		t.Errorf("total readings = %d, want 150", state.TotalReadingsSynced)
	}

	if err := s.FinishSync(ctx, "no-such-node", SyncOutcome{CompletedAt: done}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown node err = %v", err)
	}
}

func TestListSyncStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := createNode(t, s, "AA:01")
	b := createNode(t, s, "AA:02")
	createNode(t, s, "AA:03") // never synced, no state row

	if _, err := s.GetOrCreateSyncState(ctx, a.ID); err != nil {
		t.Fatalf("state a: %v", err)
	}
	if _, err := s.GetOrCreateSyncState(ctx, b.ID); err != nil {
		t.Fatalf("state b: %v", err)
	}

	states, err := s.ListSyncStates(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("states = %d, want 2", len(states))
	}
	seen := map[string]bool{}
	for _, st := range states {
		seen[st.NodeID] = true
	}
	if !seen[a.ID] || !seen[b.ID] {
		t.Errorf("missing node in %v", seen)
	}
}

func TestHistoryAppendCompleteList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	node := createNode(t, s, "AA:01")

	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	first := &types.SyncHistoryEntry{NodeID: node.ID, JobID: "job-1", StartedAt: started}
	if err := s.AppendHistory(ctx, first); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if first.ID == "" {
		t.Fatal("no ULID assigned to history entry")
	}

	// A running job lists with zero-value outcome columns.
	entries, err := s.ListHistory(ctx, node.ID, 10)
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(entries) != 1 || entries[0].CompletedAt != nil || entries[0].Success {
		t.Errorf("running entry = %+v", entries[0])
	}

	err = s.CompleteHistory(ctx, "job-1", SyncOutcome{
		Success:        true,
		Duration:       3 * time.Second,
		NodeAction:     types.NodeActionCreated,
		SensorsCreated: 2,
		SensorsUpdated: 1,
		ReadingsSynced: 500,
		CompletedAt:    started.Add(3 * time.Second),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	second := &types.SyncHistoryEntry{NodeID: node.ID, JobID: "job-2", StartedAt: started.Add(time.Hour)}
	if err := s.AppendHistory(ctx, second); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	entries, err = s.ListHistory(ctx, node.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].JobID != "job-2" || entries[1].JobID != "job-1" {
		t.Errorf("order = %s, %s, want newest first", entries[0].JobID, entries[1].JobID)
	}

	got := entries[1]
	if got.CompletedAt == nil || !got.Success {
		t.Fatalf("completed entry = %+v", got)
	}
	if got.NodeAction != types.NodeActionCreated || got.SensorsCreated != 2 || got.SensorsUpdated != 1 {
		t.Errorf("outcome = %s/%d/%d", got.NodeAction, got.SensorsCreated, got.SensorsUpdated)
	}
	if got.ReadingsSynced != 500 {
		t.Errorf("readings synced = %d", got.ReadingsSynced)
	}
	if got.Duration == nil || *got.Duration != types.DurationMs(3*time.Second) {
		t.Errorf("duration = %v", got.Duration)
	}

	limited, err := s.ListHistory(ctx, node.ID, 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].JobID != "job-2" {
		t.Errorf("limited = %+v", limited)
	}
}

func TestAppendHistory_DuplicateJobID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	node := createNode(t, s, "AA:01")

	entry := &types.SyncHistoryEntry{NodeID: node.ID, JobID: "job-1", StartedAt: time.Now().UTC()}
	if err := s.AppendHistory(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	dup := &types.SyncHistoryEntry{NodeID: node.ID, JobID: "job-1", StartedAt: time.Now().UTC()}
	if err := s.AppendHistory(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestCompleteHistory_OnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	node := createNode(t, s, "AA:01")

	entry := &types.SyncHistoryEntry{NodeID: node.ID, JobID: "job-1", StartedAt: time.Now().UTC()}
	if err := s.AppendHistory(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	outcome := SyncOutcome{Success: true, NodeAction: types.NodeActionUpdated, CompletedAt: time.Now().UTC()}
	if err := s.CompleteHistory(ctx, "job-1", outcome); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.CompleteHistory(ctx, "job-1", outcome); !errors.Is(err, ErrNotFound) {
		t.Errorf("second complete err = %v, want ErrNotFound", err)
	}
	if err := s.CompleteHistory(ctx, "no-such-job", outcome); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown job err = %v", err)
	}
}
