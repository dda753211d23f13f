package controller

import (
	"log/slog"
	"net/http"
	"time"

	"ctchen222/picross/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// EventStream relays coordinator events to websocket clients as JSON text frames.
type EventStream struct {
	broadcaster *events.Broadcaster
	upgrader    websocket.Upgrader
}

func NewEventStream(b *events.Broadcaster) *EventStream {
	return &EventStream{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve upgrades the request and streams events until the client goes away.
func (s *EventStream) Serve(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "api.EventStream", trace.WithAttributes(
		attribute.String("remote.addr", c.Request.RemoteAddr),
	))
	defer span.End()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(ctx, "Failed to upgrade event stream", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to upgrade connection")
		return
	}
	defer conn.Close()

	sub, cancel := s.broadcaster.Subscribe()
	defer cancel()
	slog.InfoContext(ctx, "Event stream opened", "remote.addr", c.Request.RemoteAddr)

	// Incoming frames are discarded; a read error means the client left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				slog.WarnContext(ctx, "Failed to write event", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.WarnContext(ctx, "Failed to ping event stream client", "error", err)
				return
			}
		case <-gone:
			slog.InfoContext(ctx, "Event stream closed", "remote.addr", c.Request.RemoteAddr)
			return
		}
	}
}
