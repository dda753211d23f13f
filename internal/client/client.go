package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ctchen222/picross/internal/player"
	"ctchen222/picross/internal/puzzle"
	"ctchen222/picross/pkg/proto"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("client")

const (
	DefaultHost         = "localhost"
	DefaultDialTimeout  = 5 * time.Second
	DefaultDrainTimeout = 2 * time.Second
)

// ErrNotConnected is returned by Send once the connection is gone.
var ErrNotConnected = errors.New("not connected to coordinator")

// ConnectionError reports that the coordinator could not be reached or did
// not complete the handshake.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Option configures a Session.
type Option func(*Session)

// WithStatus sets the callback that receives human readable status lines.
func WithStatus(fn func(line string)) Option {
	return func(s *Session) {
		if fn != nil {
			s.status = fn
		}
	}
}

// WithDialTimeout bounds the connect and handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.dialTimeout = d
	}
}

// WithDrainTimeout bounds how long Disconnect waits for the coordinator to close.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.drainTimeout = d
	}
}

// Session is a player's connection to the coordinator.
type Session struct {
	id   player.ID
	name string
	addr string

	conn   net.Conn
	reader *bufio.Reader

	status       func(line string)
	dialTimeout  time.Duration
	drainTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool

	mu               sync.RWMutex
	configuration    string
	hasConfiguration bool
	updates          chan string

	done           chan struct{}
	disconnectOnce sync.Once
	disconnectErr  error
}

// Connect dials the coordinator, reads the assigned player id and starts the
// background read loop.
func Connect(ctx context.Context, host string, port int, name string, opts ...Option) (*Session, error) {
	s := &Session{
		name:         name,
		addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		dialTimeout:  DefaultDialTimeout,
		drainTimeout: DefaultDrainTimeout,
		updates:      make(chan string, 1),
		done:         make(chan struct{}),
	}
	s.status = func(line string) {
		slog.Info(line, "player.name", s.name, "player.id", s.id)
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, span := tracer.Start(ctx, "client.Connect", trace.WithAttributes(
		attribute.String("server.addr", s.addr),
		attribute.String("player.name", name),
	))
	defer span.End()

	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to dial coordinator")
		return nil, &ConnectionError{Addr: s.addr, Err: err}
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)

	if err := s.handshake(); err != nil {
		conn.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "Handshake failed")
		return nil, &ConnectionError{Addr: s.addr, Err: err}
	}
	span.SetAttributes(attribute.String("player.id", s.id.String()))

	s.statusf("Connected to %s as %s", s.addr, s.id)
	go s.readLoop()
	return s, nil
}

func (s *Session) handshake() error {
	if s.dialTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.dialTimeout)); err != nil {
			return err
		}
		defer s.conn.SetReadDeadline(time.Time{})
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read player id: %w", err)
	}
	id, err := proto.DecodeHandshake(line)
	if err != nil {
		return err
	}
	s.id = player.ID(id)
	return nil
}

// readLoop consumes inbound lines until the connection ends.
func (s *Session) readLoop() {
	defer close(s.done)
	defer s.closed.Store(true)

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.statusf("Coordinator closed the connection")
			case errors.Is(err, net.ErrClosed):
			default:
				s.statusf("Connection error: %v", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		msg, err := proto.Decode(line)
		if err != nil {
			s.statusf("Received: %s", line)
			continue
		}

		switch {
		case proto.IsConfigurationDelivery(msg):
			s.deliver(msg.Field(0))
		case msg.Opcode == proto.EndSession:
			s.statusf("Session ended by coordinator")
		default:
			s.statusf("Received: %s", line)
		}
	}
}

// deliver stores a received configuration and notifies ConfigurationUpdates.
// An empty configuration means none is available and keeps the stored one.
func (s *Session) deliver(configuration string) {
	if configuration == "" {
		s.statusf("No configuration available on the coordinator")
	} else {
		s.mu.Lock()
		s.configuration = configuration
		s.hasConfiguration = true
		s.mu.Unlock()
		s.statusf("Received configuration %s", configuration)
	}

	// Keep only the latest notification.
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- configuration:
	default:
	}
}

func (s *Session) statusf(format string, args ...any) {
	s.status(fmt.Sprintf(format, args...))
}

// ID returns the player id assigned by the coordinator.
func (s *Session) ID() player.ID {
	return s.id
}

// Name returns the display name given to Connect.
func (s *Session) Name() string {
	return s.name
}

// Configuration returns the last configuration received from the coordinator.
func (s *Session) Configuration() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configuration, s.hasConfiguration
}

// ConfigurationUpdates delivers the payload of every configuration response.
// An empty string means the coordinator had none. Only the latest undelivered
// value is kept.
func (s *Session) ConfigurationUpdates() <-chan string {
	return s.updates
}

// Done is closed when the read loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Connected reports whether the connection is still open.
func (s *Session) Connected() bool {
	return !s.closed.Load()
}

// Send encodes and writes one message. It returns ErrNotConnected when the
// connection is no longer open; the session itself is unaffected.
func (s *Session) Send(op proto.Opcode, payload ...string) error {
	if s.closed.Load() {
		s.statusf("Cannot send %s: not connected", op)
		return ErrNotConnected
	}

	line, err := proto.Message{Originator: s.id.String(), Opcode: op, Payload: payload}.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := io.WriteString(s.conn, line+"\n"); err != nil {
		s.statusf("Failed to send %s: %v", op, err)
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// RequestConfiguration asks the coordinator for the active configuration. The
// answer arrives on ConfigurationUpdates.
func (s *Session) RequestConfiguration() error {
	return s.Send(proto.GetConfiguration)
}

// SendConfiguration publishes a configuration to the coordinator.
func (s *Session) SendConfiguration(configuration string) error {
	if err := puzzle.Validate(configuration); err != nil {
		return err
	}
	if err := s.Send(proto.PutConfiguration, configuration); err != nil {
		return err
	}
	s.statusf("Sent configuration %s", configuration)
	return nil
}

// NewResult builds a result for this player's display name.
func (s *Session) NewResult(elapsed time.Duration, score int) proto.Result {
	return proto.Result{Name: s.name, Time: proto.FormatElapsed(elapsed), Score: score}
}

// SendResult reports a finished puzzle to the coordinator.
func (s *Session) SendResult(r proto.Result) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.Send(proto.PutResult, r.Pack()); err != nil {
		return err
	}
	s.statusf("Sent result %s", r)
	return nil
}

// Disconnect ends the session and waits up to the drain timeout for the
// coordinator to close its side. Calling it again returns the first result.
func (s *Session) Disconnect() error {
	s.disconnectOnce.Do(func() {
		_, span := tracer.Start(context.Background(), "client.Disconnect", trace.WithAttributes(
			attribute.String("player.id", s.id.String()),
		))
		defer span.End()

		if err := s.Send(proto.EndSession); err == nil {
			select {
			case <-s.done:
			case <-time.After(s.drainTimeout):
				s.statusf("Coordinator did not close the connection in %s", s.drainTimeout)
			}
		}

		s.closed.Store(true)
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			span.RecordError(err)
			s.disconnectErr = err
		}
		<-s.done
		s.statusf("Disconnected")
	})
	return s.disconnectErr
}
