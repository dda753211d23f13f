package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"ctchen222/picross/internal/events"
	"ctchen222/picross/internal/player"
	"ctchen222/picross/internal/registry"
	"ctchen222/picross/pkg/proto"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("handler")
	meter  = otel.Meter("handler")
)

// State is the position of a connection in its lifecycle.
type State int32

const (
	StateHandshaking State = iota
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateServing:
		return "serving"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reasons a connection was closed, reported to the close callback.
const (
	ReasonEndSession      = "end_session"
	ReasonDisconnected    = "disconnected"
	ReasonProtocolError   = "protocol_error"
	ReasonHandshakeFailed = "handshake_failed"
)

// Option configures a Handler.
type Option func(*Handler)

// WithPublisher sets where registry changes made by this connection are announced.
func WithPublisher(p events.Publisher) Option {
	return func(h *Handler) {
		if p != nil {
			h.publisher = p
		}
	}
}

// WithOnClose registers a callback run exactly once when the connection is closed.
func WithOnClose(fn func(id player.ID, reason string)) Option {
	return func(h *Handler) {
		h.onClose = fn
	}
}

// Handler owns one accepted connection and runs the session protocol on it.
type Handler struct {
	player    *player.Player
	reader    *bufio.Reader
	registry  *registry.Registry
	publisher events.Publisher
	onClose   func(id player.ID, reason string)

	registered bool
	state      atomic.Int32
	closeOnce  sync.Once
	messages   metric.Int64Counter
}

// New creates a handler for conn. The player identifier is minted here; the
// registry entry is created when Run performs the handshake.
func New(conn net.Conn, reg *registry.Registry, opts ...Option) *Handler {
	h := &Handler{
		player:    player.NewPlayer(player.NewID(), conn),
		reader:    bufio.NewReader(conn),
		registry:  reg,
		publisher: events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(h)
	}

	counter, err := meter.Int64Counter("picross.messages.received",
		metric.WithDescription("Protocol messages received from players"),
	)
	if err != nil {
		slog.Warn("Failed to create message counter", "error", err)
	}
	h.messages = counter
	return h
}

// ID returns the identifier assigned to this connection.
func (h *Handler) ID() player.ID {
	return h.player.ID
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	return State(h.state.Load())
}

// Close closes the underlying connection, which unblocks a pending read. Run
// then performs the usual disconnect cleanup.
func (h *Handler) Close() error {
	return h.player.Conn.Close()
}

// Run performs the handshake and then serves messages until the session ends.
// Registry and connection resources are released exactly once on every exit
// path. Disconnects are not errors; a ProtocolError is returned when the peer
// sent a line that could not be decoded.
func (h *Handler) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "handler.Run", trace.WithAttributes(
		attribute.String("player.id", h.ID().String()),
		attribute.String("remote.addr", h.player.RemoteAddr()),
	))
	defer span.End()

	if err := h.handshake(ctx); err != nil {
		slog.ErrorContext(ctx, "Handshake failed", "player.id", h.ID(), "remote.addr", h.player.RemoteAddr(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Handshake failed")
		h.close(ctx, ReasonHandshakeFailed)
		return err
	}
	h.state.Store(int32(StateServing))

	reason, err := h.serve(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Session ended with an error")
	}
	h.close(ctx, reason)
	return err
}

func (h *Handler) handshake(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "handler.handshake", trace.WithAttributes(
		attribute.String("player.id", h.ID().String()),
	))
	defer span.End()

	line, err := proto.EncodeHandshake(h.ID().String())
	if err != nil {
		return err
	}
	if err := h.registry.AddPlayer(h.ID()); err != nil {
		return fmt.Errorf("failed to register player %s: %w", h.ID(), err)
	}
	h.registered = true

	h.publish(ctx, events.TypePlayerJoined, events.PlayerJoinedPayload{
		PlayerID:   h.ID().String(),
		RemoteAddr: h.player.RemoteAddr(),
	})

	if err := h.writeLine(line); err != nil {
		return fmt.Errorf("failed to send player id: %w", err)
	}
	slog.InfoContext(ctx, "Player connected", "player.id", h.ID(), "remote.addr", h.player.RemoteAddr())
	return nil
}

// serve reads one line at a time until the session ends and reports why.
func (h *Handler) serve(ctx context.Context) (string, error) {
	for {
		line, err := h.reader.ReadString('\n')
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				slog.InfoContext(ctx, "Player disconnected (EOF)", "player.id", h.ID())
			case errors.Is(err, net.ErrClosed):
				slog.InfoContext(ctx, "Player connection closed", "player.id", h.ID())
			default:
				slog.WarnContext(ctx, "Player connection error", "player.id", h.ID(), "error", err)
			}
			return ReasonDisconnected, nil
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		msg, err := proto.Decode(line)
		if err != nil {
			slog.WarnContext(ctx, "Dropping player after undecodable message", "player.id", h.ID(), "line", line, "error", err)
			return ReasonProtocolError, err
		}

		if reason, done := h.HandleMessage(ctx, msg); done {
			return reason, nil
		}
	}
}

func (h *Handler) writeLine(line string) error {
	_, err := io.WriteString(h.player.Conn, line+"\n")
	return err
}

// close releases the connection and the registry entry. Safe to call more than once.
func (h *Handler) close(ctx context.Context, reason string) {
	h.closeOnce.Do(func() {
		h.state.Store(int32(StateClosed))
		h.player.Status = player.StatusDisconnected

		if err := h.player.Conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.WarnContext(ctx, "Failed to close player connection", "player.id", h.ID(), "error", err)
		}

		if h.registered && h.registry.RemovePlayer(h.ID()) {
			h.publish(ctx, events.TypePlayerLeft, events.PlayerLeftPayload{
				PlayerID: h.ID().String(),
				Reason:   reason,
			})
		}

		if h.onClose != nil {
			h.onClose(h.ID(), reason)
		}
		slog.InfoContext(ctx, "Player session closed", "player.id", h.ID(), "reason", reason)
	})
}

func (h *Handler) publish(ctx context.Context, eventType string, payload any) {
	e, err := events.New(eventType, payload)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to build event", "event", eventType, "error", err)
		return
	}
	if err := h.publisher.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "Failed to publish event", "event", eventType, "player.id", h.ID(), "error", err)
	}
}
