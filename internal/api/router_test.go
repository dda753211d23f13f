package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ctchen222/picross/internal/api/controller"
	"ctchen222/picross/internal/events"
	"ctchen222/picross/internal/registry"
	"ctchen222/picross/pkg/proto"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	live      int64
	accepting bool
	finalize  bool
	stopErr   error
}

func (f *fakeCoordinator) LiveConnections() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeCoordinator) Accepting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepting
}

func (f *fakeCoordinator) FinalizeMode() bool { return f.finalize }

func (f *fakeCoordinator) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.accepting = false
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Extras  json.RawMessage `json:"extras"`
}

type fixture struct {
	engine      *gin.Engine
	registry    *registry.Registry
	coordinator *fakeCoordinator
	broadcaster *events.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		registry:    registry.New(),
		coordinator: &fakeCoordinator{live: 2, accepting: true, finalize: true},
		broadcaster: events.NewBroadcaster(8),
	}
	cc := controller.NewCoordinatorController(f.registry, f.coordinator, f.broadcaster, f.broadcaster)
	f.engine = NewEngine(cc, controller.NewEventStream(f.broadcaster))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestResults(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.AddPlayer("b"))
	require.NoError(t, f.registry.AddPlayer("a"))
	require.NoError(t, f.registry.RecordResult("a", proto.Result{Name: "Alice", Time: "02:15", Score: 7}))

	w, env := f.do(t, http.MethodGet, "/api/results", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"list":[
		{"player_id":"a","name":"Alice","time":"02:15","score":7,"recorded":true},
		{"player_id":"b","score":0,"recorded":false}
	]}`, string(env.Extras))
}

func TestResultsEmpty(t *testing.T) {
	f := newFixture(t)
	_, env := f.do(t, http.MethodGet, "/api/results", "")
	assert.JSONEq(t, `{"list":[]}`, string(env.Extras))
}

func TestConfiguration(t *testing.T) {
	f := newFixture(t)

	_, env := f.do(t, http.MethodGet, "/api/configuration", "")
	assert.JSONEq(t, `{"available":false,"configuration":""}`, string(env.Extras))

	w, env := f.do(t, http.MethodPut, "/api/configuration", `{"configuration":"1001"}`)
	require.Equal(t, http.StatusOK, w.Code, string(env.Extras))
	assert.Equal(t, "1001", f.registry.Configuration())

	_, env = f.do(t, http.MethodGet, "/api/configuration", "")
	assert.JSONEq(t, `{
		"available":true,
		"configuration":"1001",
		"dimension":2,
		"row_hints":[[1],[1]],
		"column_hints":[[1],[1]]
	}`, string(env.Extras))
}

func TestPutConfigurationRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	f.registry.SetConfiguration("1111")

	for _, body := range []string{`{"configuration":"101"}`, `{}`, `not json`} {
		w, env := f.do(t, http.MethodPut, "/api/configuration", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.False(t, env.Success)
	}
	assert.Equal(t, "1111", f.registry.Configuration())
}

func TestStatusAndStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.AddPlayer("a"))

	_, env := f.do(t, http.MethodGet, "/api/status", "")
	assert.JSONEq(t, `{"live_connections":2,"players":1,"accepting":true,"finalize":true,"subscribers":0}`, string(env.Extras))

	w, env := f.do(t, http.MethodPost, "/api/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepting":false}`, string(env.Extras))
	assert.False(t, f.coordinator.Accepting())
}

func TestStopFailure(t *testing.T) {
	f := newFixture(t)
	f.coordinator.stopErr = errors.New("listener busy")

	w, env := f.do(t, http.MethodPost, "/api/stop", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, env.Success)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.broadcaster.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Operator changes are published like handler changes.
	w, _ := f.do(t, http.MethodPut, "/api/configuration", `{"configuration":"0110"}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.TypeConfigurationSet, e.Type)

	payload, err := events.Decode[events.ConfigurationSetPayload](e)
	require.NoError(t, err)
	assert.Equal(t, "0110", payload.Configuration)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.broadcaster.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventStreamPublishesDirectly(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.broadcaster.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	e, err := events.New(events.TypePlayerJoined, events.PlayerJoinedPayload{PlayerID: "p1"})
	require.NoError(t, err)
	require.NoError(t, f.broadcaster.Publish(context.Background(), e))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.TypePlayerJoined, got.Type)
}
