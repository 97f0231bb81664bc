// Package worker contains background coordinators run alongside the
// HTTP server.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/iotgrid/hub/internal/types"
)

// SyncRunner runs sync jobs. Implemented by the sync orchestrator.
type SyncRunner interface {
	SyncNode(ctx context.Context, nodeID string) types.SyncResult
	IsRunning(nodeID string) bool
}

// NodeEnumerator lists nodes and their pending upload backlog.
// Implemented by the SQLite store.
type NodeEnumerator interface {
	ListNodes(ctx context.Context) ([]types.Node, error)
	CountUnsyncedReadings(ctx context.Context, nodeID string) (int, error)
}

// SyncCoordinator periodically syncs every node that has readings
// waiting for upload. Manual syncs always take precedence: a node with
// a job already in flight is skipped.
type SyncCoordinator struct {
	store    NodeEnumerator
	runner   SyncRunner
	interval time.Duration
}

// NewSyncCoordinator creates a coordinator for periodic background sync.
func NewSyncCoordinator(store NodeEnumerator, runner SyncRunner, interval time.Duration) *SyncCoordinator {
	return &SyncCoordinator{
		store:    store,
		runner:   runner,
		interval: interval,
	}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
//
// The first cycle waits for a full interval: nodes push readings
// continuously, and syncing a near-empty backlog right after startup
// buys nothing.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("sync coordinator started",
		"component", "worker",
		"worker", "sync-coordinator",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.syncAllNodes(ctx)
		}
	}
}

// syncAllNodes runs one sync cycle, continuing past individual node
// failures.
func (c *SyncCoordinator) syncAllNodes(ctx context.Context) {
	nodes, err := c.store.ListNodes(ctx)
	if err != nil {
		slog.Error("failed to list nodes for sync cycle",
			"component", "worker",
			"worker", "sync-coordinator",
			"error", err,
		)
		return
	}

	var succeeded, failed, skipped int
	for _, node := range nodes {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		switch c.syncNode(ctx, node.ID) {
		case cycleSynced:
			succeeded++
		case cycleFailed:
			failed++
		default:
			skipped++
		}
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("sync cycle completed",
			"component", "worker",
			"worker", "sync-coordinator",
			"nodes_total", len(nodes),
			"nodes_synced", succeeded,
			"nodes_failed", failed,
			"nodes_skipped", skipped,
		)
	}
}

type cycleOutcome int

const (
	cycleSkipped cycleOutcome = iota
	cycleSynced
	cycleFailed
)

// syncNode syncs a single node when it has pending readings and no job
// in flight.
func (c *SyncCoordinator) syncNode(ctx context.Context, nodeID string) cycleOutcome {
	if c.runner.IsRunning(nodeID) {
		return cycleSkipped
	}

	pending, err := c.store.CountUnsyncedReadings(ctx, nodeID)
	if err != nil {
		slog.Warn("failed to count unsynced readings",
			"component", "worker",
			"worker", "sync-coordinator",
			"node_id", nodeID,
			"error", err,
		)
		return cycleFailed
	}
	if pending == 0 {
		return cycleSkipped
	}

	result := c.runner.SyncNode(ctx, nodeID)
	if !result.Success {
		if ctx.Err() != nil {
			return cycleFailed // Graceful shutdown, don't log as error
		}
		slog.Error("background sync failed",
			"component", "worker",
			"worker", "sync-coordinator",
			"node_id", nodeID,
			"job_id", result.JobID,
			"error", result.Error,
		)
		return cycleFailed
	}

	slog.Info("background sync completed",
		"component", "worker",
		"worker", "sync-coordinator",
		"node_id", nodeID,
		"job_id", result.JobID,
		"readings_synced", result.ReadingsSynced,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return cycleSynced
}
