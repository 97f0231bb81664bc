// Package progress fans sync progress and completion events out to
// WebSocket subscribers. Publishing never blocks: slow subscribers
// drop events instead of stalling the sync engine.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/iotgrid/hub/internal/types"
)

// Event types delivered to subscribers.
const (
	EventProgress = "SyncProgress"
	EventComplete = "SyncComplete"
)

// Event is one sync engine notification.
type Event struct {
	Type     string              `json:"type"`
	NodeID   string              `json:"nodeId"`
	JobID    string              `json:"jobId"`
	Progress *types.SyncProgress `json:"progress,omitempty"`
	Result   *types.SyncResult   `json:"result,omitempty"`
}

// Subscription is one registered event listener. A subscription with an
// empty NodeID receives events for every node.
type Subscription struct {
	ID     string
	NodeID string

	ch     chan Event
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// C returns the channel events are delivered on.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Done is closed when the subscription is removed from the hub.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// Options tunes hub delivery behavior.
type Options struct {
	BufferSize   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultOptions returns the delivery settings used when a field is
// left zero.
func DefaultOptions() Options {
	return Options{
		BufferSize:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Hub manages subscriptions and distributes sync events. It implements
// the sync engine's Reporter interface.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	nextID uint64
	opts   Options
}

func NewHub(opts Options) *Hub {
	def := DefaultOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	return &Hub{
		subs: make(map[string]*Subscription),
		opts: opts,
	}
}

// Subscribe registers a listener for one node's events, or for all
// nodes when nodeID is empty.
func (h *Hub) Subscribe(nodeID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		ID:     fmt.Sprintf("sub-%d", h.nextID),
		NodeID: nodeID,
		ch:     make(chan Event, h.opts.BufferSize),
		done:   make(chan struct{}),
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Publish delivers an event to every matching subscriber. Full buffers
// drop the event.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.NodeID != "" && sub.NodeID != ev.NodeID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is not keeping up.
		}
	}
}

// Count returns the number of active subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// CloseAll removes every subscription, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// ReportProgress implements the sync engine's Reporter interface.
func (h *Hub) ReportProgress(jobID, nodeID string, p types.SyncProgress) {
	h.Publish(Event{Type: EventProgress, NodeID: nodeID, JobID: jobID, Progress: &p})
}

// ReportComplete implements the sync engine's Reporter interface.
func (h *Hub) ReportComplete(jobID, nodeID string, result types.SyncResult) {
	h.Publish(Event{Type: EventComplete, NodeID: nodeID, JobID: jobID, Result: &result})
}
