package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ctchen222/picross/internal/events"
	"ctchen222/picross/internal/handler"
	"ctchen222/picross/internal/player"
	"ctchen222/picross/internal/registry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("server")
	meter  = otel.Meter("server")
)

const (
	DefaultBind = "0.0.0.0"
	DefaultPort = 4242

	maxAcceptDelay = time.Second
)

var ErrNotListening = errors.New("server is not listening")

// Config describes where the coordinator listens.
type Config struct {
	Bind string `validate:"required"`
	Port int    `validate:"gte=0,lte=65535"`
	// Finalize stops the coordinator once the last connected player leaves.
	Finalize bool
}

// Addr returns the host:port the coordinator binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// BindError reports that the listening endpoint could not be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher sets the publisher every connection handler announces events on.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithListener serves on an already opened listener instead of binding in Listen.
func WithListener(ln net.Listener) Option {
	return func(s *Server) {
		s.listener = ln
	}
}

// Server accepts player connections and runs one handler per connection.
type Server struct {
	cfg       Config
	registry  *registry.Registry
	publisher events.Publisher

	mu       sync.Mutex
	listener net.Listener
	handlers map[*handler.Handler]struct{}
	stopped  bool
	closed   bool

	wg           sync.WaitGroup
	live         atomic.Int64
	finalized    chan struct{}
	finalizeOnce sync.Once

	liveGauge metric.Int64UpDownCounter
	accepted  metric.Int64Counter
	closedBy  metric.Int64Counter
}

func New(cfg Config, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  reg,
		publisher: events.NopPublisher{},
		handlers:  make(map[*handler.Handler]struct{}),
		finalized: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.liveGauge, err = meter.Int64UpDownCounter("picross.connections.live",
		metric.WithDescription("Player connections currently open"),
	)
	if err != nil {
		slog.Warn("Failed to create live connection counter", "error", err)
	}
	s.accepted, err = meter.Int64Counter("picross.connections.accepted",
		metric.WithDescription("Player connections accepted"),
	)
	if err != nil {
		slog.Warn("Failed to create accepted connection counter", "error", err)
	}
	s.closedBy, err = meter.Int64Counter("picross.connections.closed",
		metric.WithDescription("Player connections closed, by reason"),
	)
	if err != nil {
		slog.Warn("Failed to create closed connection counter", "error", err)
	}
	return s
}

// Registry returns the registry shared by every handler of this server.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Listen opens the listening endpoint. It fails with a *BindError.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return &BindError{Addr: s.cfg.Addr(), Err: err}
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("Coordinator listening", "addr", ln.Addr().String(), "finalize", s.cfg.Finalize)
	return nil
}

// Serve runs the accept loop. It returns nil once the server stops accepting;
// open connections keep running until they end on their own or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := s.Stop(); err != nil {
				slog.Warn("Failed to stop listener", "error", err)
			}
		case <-done:
		}
	}()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.Accepting() {
				slog.Info("Coordinator stopped accepting connections")
				return nil
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			slog.Warn("Accept failed; retrying", "error", err, "delay", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0

		s.spawn(ctx, conn)
	}
}

// spawn starts a handler for conn on its own goroutine.
func (s *Server) spawn(ctx context.Context, conn net.Conn) {
	ctx, span := tracer.Start(ctx, "server.spawn", trace.WithAttributes(
		attribute.String("remote.addr", conn.RemoteAddr().String()),
	))
	defer span.End()

	// Connections drain on their own; ctx cancellation only stops accepting.
	runCtx := context.WithoutCancel(ctx)

	var h *handler.Handler
	h = handler.New(conn, s.registry,
		handler.WithPublisher(s.publisher),
		handler.WithOnClose(func(_ player.ID, reason string) {
			s.untrack(runCtx, h, reason)
		}),
	)
	span.SetAttributes(attribute.String("player.id", h.ID().String()))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		span.SetStatus(codes.Error, "Server closed")
		return
	}
	s.handlers[h] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.live.Add(1)
	if s.liveGauge != nil {
		s.liveGauge.Add(ctx, 1)
	}
	if s.accepted != nil {
		s.accepted.Add(ctx, 1)
	}

	go func() {
		defer s.wg.Done()
		if err := h.Run(runCtx); err != nil {
			slog.Warn("Connection ended with an error", "player.id", h.ID(), "error", err)
		}
	}()
}

// untrack runs once per handler when its connection closes.
func (s *Server) untrack(ctx context.Context, h *handler.Handler, reason string) {
	s.mu.Lock()
	delete(s.handlers, h)
	s.mu.Unlock()

	if s.closedBy != nil {
		s.closedBy.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	s.release(ctx)
}

func (s *Server) release(ctx context.Context) {
	remaining := s.live.Add(-1)
	if s.liveGauge != nil {
		s.liveGauge.Add(ctx, -1)
	}
	slog.Debug("Connection released", "live", remaining)

	if remaining == 0 && s.cfg.Finalize {
		s.finalizeOnce.Do(func() {
			slog.Info("Last player left; finalizing coordinator")
			if err := s.Stop(); err != nil {
				slog.Warn("Failed to stop listener", "error", err)
			}
			close(s.finalized)
		})
	}
}

// Stop closes the listener so no new connections are accepted. Open
// connections are left to drain. Calling Stop more than once is harmless.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.listener == nil {
		return nil
	}
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Close stops accepting and closes every open connection. Their handlers run
// the regular disconnect cleanup.
func (s *Server) Close() error {
	err := s.Stop()

	s.mu.Lock()
	s.closed = true
	open := make([]*handler.Handler, 0, len(s.handlers))
	for h := range s.handlers {
		open = append(open, h)
	}
	s.mu.Unlock()

	for _, h := range open {
		if cerr := h.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			slog.Warn("Failed to close connection", "player.id", h.ID(), "error", cerr)
		}
	}
	return err
}

// Wait blocks until every handler has finished or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LiveConnections returns the number of connections currently open.
func (s *Server) LiveConnections() int64 {
	return s.live.Load()
}

// Accepting reports whether the accept loop still takes new connections.
func (s *Server) Accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil && !s.stopped
}

// FinalizeMode reports whether the server finalizes after its last player.
func (s *Server) FinalizeMode() bool {
	return s.cfg.Finalize
}

// Finalized is closed when finalize mode ends the coordinator.
func (s *Server) Finalized() <-chan struct{} {
	return s.finalized
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
