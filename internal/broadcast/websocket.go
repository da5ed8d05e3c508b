package broadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		// Stock counts are public data; the feed is open to any origin.
		return true
	},
}

// WSHandler upgrades a request to a websocket and streams the hub's stock
// events for one product until the client goes away. The product id is taken
// from the {productID} path value.
func WSHandler(hub *Hub, lg *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := r.PathValue("productID")
		if productID == "" {
			http.Error(w, "product id required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			lg.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		sub := hub.Subscribe(productID)
		lg.Debug("stock feed subscribed",
			zap.String("product_id", productID),
			zap.Int("subscribers", hub.Subscribers(productID)))

		done := make(chan struct{})
		go readPump(conn, done)
		writePump(conn, sub, done)

		hub.Unsubscribe(sub)
		_ = conn.Close()
		lg.Debug("stock feed disconnected", zap.String("product_id", productID))
	}
}

// readPump drains inbound frames so pong handling works, and signals when the
// peer is gone. Clients are not expected to send anything meaningful.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards hub events to the connection, interleaved with pings.
// A write failure is a disconnect, detected opportunistically right here.
func writePump(conn *websocket.Conn, sub *Subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, ev.EncodeJSON()); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
