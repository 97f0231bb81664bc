package sync

import (
	"context"
	"errors"
	"time"

	"github.com/iotgrid/hub/internal/store"
	"github.com/iotgrid/hub/internal/types"
)

// Status builds the per-node sync status projection. The unsynced count
// is computed from the reading store on every call; IsSyncing comes
// from the registry, not the persisted flag, so a crashed run never
// reports as still running.
func (o *Orchestrator) Status(ctx context.Context, nodeID string) (*types.SyncStatus, error) {
	node, err := o.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return o.statusFor(ctx, node, nil)
}

// AllStatus returns the status projection for every node.
func (o *Orchestrator) AllStatus(ctx context.Context) ([]types.SyncStatus, error) {
	nodes, err := o.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	states, err := o.store.ListSyncStates(ctx)
	if err != nil {
		return nil, err
	}
	byNode := make(map[string]*types.SyncState, len(states))
	for i := range states {
		byNode[states[i].NodeID] = &states[i]
	}

	out := make([]types.SyncStatus, 0, len(nodes))
	for i := range nodes {
		st, err := o.statusFor(ctx, &nodes[i], byNode[nodes[i].ID])
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (o *Orchestrator) statusFor(ctx context.Context, node *types.Node, state *types.SyncState) (*types.SyncStatus, error) {
	if state == nil {
		st, err := o.store.GetSyncState(ctx, node.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		state = st
	}

	unsynced, err := o.store.CountUnsyncedReadings(ctx, node.ID)
	if err != nil {
		return nil, err
	}

	status := &types.SyncStatus{
		NodeID:           node.ID,
		NodeName:         node.Name,
		UnsyncedReadings: unsynced,
		IsSyncing:        o.registry.IsRunning(node.ID),
	}
	if state != nil {
		status.LastSyncAt = state.LastSyncAt
		status.LastSyncSuccess = state.LastSyncSuccess
		status.LastSyncError = state.LastSyncError
		status.LastSyncDuration = state.LastSyncDuration
		status.CloudNodeID = state.CloudNodeID
	}
	return status, nil
}

// Summary aggregates sync state across the whole fleet.
func (o *Orchestrator) Summary(ctx context.Context) (*types.SyncSummary, error) {
	nodes, err := o.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	states, err := o.store.ListSyncStates(ctx)
	if err != nil {
		return nil, err
	}
	byNode := make(map[string]*types.SyncState, len(states))
	for i := range states {
		byNode[states[i].NodeID] = &states[i]
	}

	summary := &types.SyncSummary{TotalNodes: len(nodes)}
	var latest *time.Time
	for i := range nodes {
		unsynced, err := o.store.CountUnsyncedReadings(ctx, nodes[i].ID)
		if err != nil {
			return nil, err
		}
		summary.TotalUnsyncedReadings += unsynced

		state := byNode[nodes[i].ID]
		// A node counts as synced only once the cloud knows it. A node
		// whose every run failed before the node upsert has attempt
		// timestamps but no cloud identity.
		if state == nil || state.CloudNodeID == nil {
			summary.NeverSyncedNodes++
			continue
		}
		summary.SyncedNodes++
		if state.LastSyncAt != nil && (latest == nil || state.LastSyncAt.After(*latest)) {
			latest = state.LastSyncAt
		}
	}
	summary.LastSyncAt = latest
	return summary, nil
}

// History returns the most recent sync runs for a node, newest first.
func (o *Orchestrator) History(ctx context.Context, nodeID string, limit int) ([]types.SyncHistoryEntry, error) {
	if _, err := o.store.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}
	return o.store.ListHistory(ctx, nodeID, limit)
}

// UnsyncedCount returns the number of readings still awaiting upload
// for a node.
func (o *Orchestrator) UnsyncedCount(ctx context.Context, nodeID string) (int, error) {
	if _, err := o.store.GetNode(ctx, nodeID); err != nil {
		return 0, err
	}
	return o.store.CountUnsyncedReadings(ctx, nodeID)
}

// Cancel requests cancellation of the node's running job. Returns false
// when no job is in flight.
func (o *Orchestrator) Cancel(nodeID string) bool {
	return o.registry.Cancel(nodeID)
}

// IsRunning reports whether the node has a sync job in flight.
func (o *Orchestrator) IsRunning(nodeID string) bool {
	return o.registry.IsRunning(nodeID)
}

// CloudHealthy checks connectivity to the Cloud API.
func (o *Orchestrator) CloudHealthy(ctx context.Context) bool {
	return o.client.IsConfigured() && o.client.TestConnection(ctx)
}
