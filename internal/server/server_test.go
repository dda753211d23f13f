package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ctchen222/picross/internal/events"
	"ctchen222/picross/internal/player"
	"ctchen222/picross/internal/registry"
	"ctchen222/picross/pkg/proto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPlayer struct {
	conn   net.Conn
	reader *bufio.Reader
	id     string
}

func startServer(t *testing.T, cfg Config, opts ...Option) *Server {
	t.Helper()
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0

	s := New(cfg, registry.New(), opts...)
	require.NoError(t, s.Listen())

	served := make(chan error, 1)
	go func() { served <- s.Serve(context.Background()) }()

	t.Cleanup(func() {
		s.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, s.Wait(ctx))
		assert.NoError(t, <-served)
	})
	return s
}

func dial(t *testing.T, s *Server) *testPlayer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	p := &testPlayer{conn: conn, reader: bufio.NewReader(conn)}
	p.id, err = proto.DecodeHandshake(p.readLine(t))
	require.NoError(t, err)
	require.NotEmpty(t, p.id)
	return p
}

func (p *testPlayer) send(t *testing.T, m proto.Message) {
	t.Helper()
	line, err := m.Encode()
	require.NoError(t, err)
	_, err = io.WriteString(p.conn, line+"\n")
	require.NoError(t, err)
}

func (p *testPlayer) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := p.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func (p *testPlayer) readMessage(t *testing.T) proto.Message {
	t.Helper()
	m, err := proto.Decode(p.readLine(t))
	require.NoError(t, err)
	return m
}

func TestConfigurationIsSharedBetweenPlayers(t *testing.T) {
	s := startServer(t, Config{})

	first := dial(t, s)
	first.send(t, proto.NewPutConfiguration(first.id, "1001"))
	// Round trip so the put is applied before the second player asks.
	first.send(t, proto.NewGetConfigurationRequest(first.id))
	first.readMessage(t)

	second := dial(t, s)
	assert.NotEqual(t, first.id, second.id)
	second.send(t, proto.NewGetConfigurationRequest(second.id))

	got := second.readMessage(t)
	assert.Equal(t, proto.GetConfiguration, got.Opcode)
	assert.Equal(t, second.id, got.Originator)
	assert.Equal(t, []string{"1001"}, got.Payload)
}

func TestGetConfigurationBeforeAnyPut(t *testing.T) {
	s := startServer(t, Config{})

	p := dial(t, s)
	p.send(t, proto.NewGetConfigurationRequest(p.id))

	got := p.readMessage(t)
	assert.True(t, proto.IsConfigurationDelivery(got))
	assert.Equal(t, "", got.Field(0))
}

func TestResultVisibleUntilDisconnect(t *testing.T) {
	s := startServer(t, Config{})

	p := dial(t, s)
	p.send(t, proto.NewPutResult(p.id, proto.Result{Name: "Alice", Time: "02:15", Score: 7}))
	p.send(t, proto.NewGetConfigurationRequest(p.id))
	p.readMessage(t)

	before := s.Registry().SnapshotResults()
	require.Contains(t, before, player.ID(p.id))
	assert.Equal(t, proto.Result{Name: "Alice", Time: "02:15", Score: 7}, before[player.ID(p.id)].Result)

	require.NoError(t, p.conn.Close())

	assert.Eventually(t, func() bool {
		_, ok := s.Registry().SnapshotResults()[player.ID(p.id)]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, before, player.ID(p.id), "an earlier snapshot is not affected by the disconnect")
}

func TestDisconnectReleasesExactlyOneConnection(t *testing.T) {
	s := startServer(t, Config{})

	a := dial(t, s)
	dial(t, s)
	dial(t, s)
	require.Eventually(t, func() bool { return s.LiveConnections() == 3 }, 2*time.Second, 10*time.Millisecond)

	a.send(t, proto.NewEndSession(a.id))
	assert.Equal(t, a.id+"%0", a.readLine(t))

	require.Eventually(t, func() bool { return s.LiveConnections() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return s.LiveConnections() != 2 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 2, s.Registry().Len())
}

func TestProtocolErrorLeavesOtherConnectionsAlone(t *testing.T) {
	s := startServer(t, Config{})

	bad := dial(t, s)
	good := dial(t, s)

	_, err := io.WriteString(bad.conn, "nonsense\n")
	require.NoError(t, err)

	require.NoError(t, bad.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = bad.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)

	good.send(t, proto.NewGetConfigurationRequest(good.id))
	assert.True(t, proto.IsConfigurationDelivery(good.readMessage(t)))
}

func TestBindError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	port := taken.Addr().(*net.TCPAddr).Port
	s := New(Config{Bind: "127.0.0.1", Port: port}, registry.New())

	err = s.Listen()
	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr), "got %v", err)
	assert.Contains(t, bindErr.Addr, "127.0.0.1")
	assert.False(t, s.Accepting())
	assert.ErrorIs(t, s.Serve(context.Background()), ErrNotListening)
}

// flakyListener fails the first failures calls to Accept with a transient error.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, errors.New("accept: too many open files")
	}
	return l.Listener.Accept()
}

func TestAcceptFailuresAreRetried(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := &flakyListener{Listener: inner}
	ln.failures.Store(3)

	s := New(Config{Bind: "127.0.0.1"}, registry.New(), WithListener(ln))
	served := make(chan error, 1)
	go func() { served <- s.Serve(context.Background()) }()
	t.Cleanup(func() {
		s.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, s.Wait(ctx))
		assert.NoError(t, <-served)
	})

	p := dial(t, s)
	p.send(t, proto.NewGetConfigurationRequest(p.id))
	assert.True(t, proto.IsConfigurationDelivery(p.readMessage(t)))

	assert.LessOrEqual(t, ln.failures.Load(), int32(0))
	assert.True(t, s.Accepting())
	assert.EqualValues(t, 1, s.LiveConnections())
}

func TestStopKeepsExistingConnections(t *testing.T) {
	s := startServer(t, Config{})
	addr := s.Addr().String()

	p := dial(t, s)
	require.True(t, s.Accepting())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.Accepting())

	_, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	assert.Error(t, err)

	p.send(t, proto.NewPutConfiguration(p.id, "0110"))
	p.send(t, proto.NewGetConfigurationRequest(p.id))
	assert.Equal(t, []string{"0110"}, p.readMessage(t).Payload)
	assert.EqualValues(t, 1, s.LiveConnections())
}

func TestCancelContextStopsAccepting(t *testing.T) {
	s := New(Config{Bind: "127.0.0.1"}, registry.New())
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.False(t, s.Accepting())
}

func TestFinalizeAfterLastPlayerLeaves(t *testing.T) {
	s := startServer(t, Config{Finalize: true})
	assert.True(t, s.FinalizeMode())

	a := dial(t, s)
	b := dial(t, s)

	a.send(t, proto.NewEndSession(a.id))
	a.readLine(t)

	select {
	case <-s.Finalized():
		t.Fatal("finalized while a player is still connected")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, b.conn.Close())

	select {
	case <-s.Finalized():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not finalize")
	}
	assert.False(t, s.Accepting())
}

func TestCloseDisconnectsPlayers(t *testing.T) {
	s := startServer(t, Config{})
	p := dial(t, s)

	require.NoError(t, s.Close())

	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := p.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.EqualValues(t, 0, s.LiveConnections())
	assert.Equal(t, 0, s.Registry().Len())
}

func TestEventsReachBroadcaster(t *testing.T) {
	b := events.NewBroadcaster(16)
	sub, cancel := b.Subscribe()
	defer cancel()

	s := startServer(t, Config{}, WithPublisher(b))
	p := dial(t, s)
	p.send(t, proto.NewPutConfiguration(p.id, "1"))

	var seen []string
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case e := <-sub:
			seen = append(seen, e.Type)
		case <-timeout:
			t.Fatalf("only saw %v", seen)
		}
	}
	assert.Equal(t, []string{events.TypePlayerJoined, events.TypeConfigurationSet}, seen)
}
