package sync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSyncInProgress is returned by Acquire when the node already has a
// running sync job.
var ErrSyncInProgress = errors.New("sync already in progress for this node")

type activeJob struct {
	jobID     string
	cancel    context.CancelFunc
	startedAt time.Time
}

// JobRegistry tracks the single in-flight sync job per node and owns the
// cancellation handle for each. All methods are safe for concurrent use.
// The internal lock guards only the map; it is never held across I/O.
type JobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*activeJob
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]*activeJob)}
}

// Acquire registers jobID as the active job for nodeID and returns a
// context derived from base that is cancelled when Cancel is called for
// the node. Returns ErrSyncInProgress if the node already has a job.
func (r *JobRegistry) Acquire(base context.Context, nodeID, jobID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[nodeID]; ok {
		return nil, ErrSyncInProgress
	}

	ctx, cancel := context.WithCancel(base)
	r.jobs[nodeID] = &activeJob{
		jobID:     jobID,
		cancel:    cancel,
		startedAt: time.Now().UTC(),
	}
	return ctx, nil
}

// Release removes the node's active job and releases its cancel handle.
// Releasing a node with no active job is a no-op.
func (r *JobRegistry) Release(nodeID string) {
	r.mu.Lock()
	job, ok := r.jobs[nodeID]
	if ok {
		delete(r.jobs, nodeID)
	}
	r.mu.Unlock()

	if ok {
		job.cancel()
	}
}

// Cancel requests cancellation of the node's active job. Returns false
// when no job is running for the node.
func (r *JobRegistry) Cancel(nodeID string) bool {
	r.mu.Lock()
	job, ok := r.jobs[nodeID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	job.cancel()
	return true
}

// CancelAll requests cancellation of every active job, used on
// shutdown. Jobs release their own slots as they exit.
func (r *JobRegistry) CancelAll() {
	r.mu.Lock()
	jobs := make([]*activeJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mu.Unlock()

	for _, job := range jobs {
		job.cancel()
	}
}

// IsRunning reports whether the node currently has an active sync job.
func (r *JobRegistry) IsRunning(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[nodeID]
	return ok
}

// JobID returns the active job identifier for the node, if any.
func (r *JobRegistry) JobID(nodeID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[nodeID]
	if !ok {
		return "", false
	}
	return job.jobID, true
}

// ActiveCount returns the number of nodes with a sync job in flight.
func (r *JobRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
