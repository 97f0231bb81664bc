package progress

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iotgrid/hub/internal/types"
)

func progressEvent(nodeID, stage string) Event {
	return Event{
		Type:     EventProgress,
		NodeID:   nodeID,
		JobID:    "job-1",
		Progress: &types.SyncProgress{Stage: stage, Message: stage},
	}
}

func TestHub_PublishToAllSubscriber(t *testing.T) {
	h := NewHub(Options{})
	sub := h.Subscribe("")
	defer h.Unsubscribe(sub.ID)

	h.Publish(progressEvent("node-1", "Node"))
	h.Publish(progressEvent("node-2", "Sensors"))

	for _, want := range []string{"node-1", "node-2"} {
		select {
		case ev := <-sub.C():
			if ev.NodeID != want {
				t.Errorf("got event for %s, want %s", ev.NodeID, want)
			}
		default:
			t.Fatalf("missing event for %s", want)
		}
	}
}

func TestHub_NodeFilter(t *testing.T) {
	h := NewHub(Options{})
	sub := h.Subscribe("node-1")
	defer h.Unsubscribe(sub.ID)

	h.Publish(progressEvent("node-2", "Node"))
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event for %s", ev.NodeID)
	default:
	}

	h.Publish(progressEvent("node-1", "Node"))
	select {
	case ev := <-sub.C():
		if ev.NodeID != "node-1" {
			t.Errorf("node = %s", ev.NodeID)
		}
	default:
		t.Fatal("expected event for subscribed node")
	}
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(Options{BufferSize: 2})
	sub := h.Subscribe("")
	defer h.Unsubscribe(sub.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.Publish(progressEvent("node-1", "Readings"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if got := len(sub.C()); got != 2 {
		t.Errorf("buffered events = %d, want 2", got)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(Options{})
	sub := h.Subscribe("")
	h.Unsubscribe(sub.ID)

	if h.Count() != 0 {
		t.Errorf("count = %d after unsubscribe", h.Count())
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done not closed after unsubscribe")
	}
	// Double unsubscribe must be harmless.
	h.Unsubscribe(sub.ID)
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub(Options{})
	a := h.Subscribe("")
	b := h.Subscribe("node-1")

	h.CloseAll()
	if h.Count() != 0 {
		t.Errorf("count = %d after CloseAll", h.Count())
	}
	for _, sub := range []*Subscription{a, b} {
		select {
		case <-sub.Done():
		default:
			t.Error("subscription not closed")
		}
	}
}

func TestHub_ReporterEvents(t *testing.T) {
	h := NewHub(Options{})
	sub := h.Subscribe("node-1")
	defer h.Unsubscribe(sub.ID)

	pct := 50
	h.ReportProgress("job-1", "node-1", types.SyncProgress{Stage: "Readings", PercentComplete: &pct})
	h.ReportComplete("job-1", "node-1", types.SyncResult{NodeID: "node-1", JobID: "job-1", Success: true})

	// Subscribers match on the literal type strings, so they are part
	// of the wire contract.
	ev := <-sub.C()
	if ev.Type != "SyncProgress" || ev.Progress == nil || ev.Progress.Stage != "Readings" {
		t.Errorf("progress event = %+v", ev)
	}
	ev = <-sub.C()
	if ev.Type != "SyncComplete" || ev.Result == nil || !ev.Result.Success {
		t.Errorf("complete event = %+v", ev)
	}
}

func TestWebSocketHandler_StreamsEvents(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h.WebSocketHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?node=node-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the server side to register the subscription.
	deadline := time.Now().Add(2 * time.Second)
	for h.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.ReportProgress("job-1", "node-1", types.SyncProgress{Stage: "Node", Message: "Syncing node configuration..."})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `"type":"SyncProgress"`) {
		t.Errorf("frame = %s, want type SyncProgress", raw)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.NodeID != "node-1" || ev.Progress == nil || ev.Progress.Stage != "Node" {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocketHandler_UnsubscribesOnDisconnect(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h.WebSocketHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for h.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not cleaned up after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
