package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parley-im/parley/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon listens on a 0600 unix socket; origin checks don't apply.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// watchEvent is the wire envelope for one bus event.
type watchEvent struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

const (
	watchBuffer   = 128
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

// watch streams bus events over a websocket. The optional topics query param
// is a namespace prefix ("message.", "status.", ...); empty streams
// everything.
func (a *API) watch(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	events, unsub := a.bus.Subscribe(c.Query("topics"), watchBuffer)
	defer unsub()

	metrics.WatchClients.Inc()
	defer metrics.WatchClients.Dec()

	// Reader goroutine: surfaces client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case evt := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(watchEvent{
				ID:        uuid.New().String(),
				Kind:      evt.Kind,
				Timestamp: evt.Timestamp.UnixMilli(),
				Payload:   evt.Payload,
			}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
