package progress

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades the connection and streams sync events to
// the client as JSON. The optional "node" query parameter narrows the
// stream to a single node; without it the client sees every node.
func (h *Hub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		sub := h.Subscribe(r.URL.Query().Get("node"))
		defer h.Unsubscribe(sub.ID)

		// Detect client disconnect. Inbound messages are ignored;
		// the stream is one-way.
		readClosed := make(chan struct{})
		go func() {
			defer close(readClosed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(h.opts.PingInterval)
		defer ping.Stop()

		for {
			select {
			case <-readClosed:
				return
			case <-r.Context().Done():
				return
			case <-sub.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
