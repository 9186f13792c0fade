// ABOUTME: Tests for the WebSocket connection manager
// ABOUTME: Uses an httptest server with a gorilla upgrader as the chat endpoint

package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

type testServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	tokens   chan string
	accepted atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		conns:  make(chan *websocket.Conn, 8),
		tokens: make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.accepted.Add(1)
		ts.tokens <- r.URL.Query().Get("token")
		ts.conns <- ws
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-ts.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for server connection")
		return nil
	}
}

type recorder struct {
	events chan Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 64)}
}

func (r *recorder) HandleConnectionEvent(ev Event) {
	r.events <- ev
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (r *recorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected event %s (code %d)", ev.Kind, ev.Code)
	case <-time.After(d):
	}
}

func newTestManager(t *testing.T) (*Manager, *recorder) {
	t.Helper()
	m := NewManager(Options{PingInterval: time.Second, WriteTimeout: time.Second}, nil)
	rec := newRecorder()
	m.SetListener(rec)
	t.Cleanup(m.Teardown)
	return m, rec
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		token    string
		want     string
		wantErr  bool
	}{
		{name: "plain", endpoint: "wss://chat.example.com/prod", token: "abc", want: "wss://chat.example.com/prod?token=abc"},
		{name: "trailing slash dropped", endpoint: "wss://chat.example.com/prod/", token: "abc", want: "wss://chat.example.com/prod?token=abc"},
		{name: "token is encoded", endpoint: "ws://localhost:9000", token: "a b+c/=", want: "ws://localhost:9000?token=a+b%2Bc%2F%3D"},
		{name: "empty endpoint", endpoint: "", token: "abc", wantErr: true},
		{name: "http scheme rejected", endpoint: "https://chat.example.com", token: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.endpoint, tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEndpoint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_ConnectOpensAndDeliversMessages(t *testing.T) {
	ts := newTestServer(t)
	m, rec := newTestManager(t)

	gen, err := m.Connect(ts.wsURL(), "secret-token")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	server := ts.nextConn(t)
	assert.Equal(t, "secret-token", <-ts.tokens)

	ev := rec.next(t)
	assert.Equal(t, EventOpened, ev.Kind)
	assert.Equal(t, gen, ev.Generation)
	assert.NotEmpty(t, ev.ConnID)
	assert.Equal(t, StateOpen, m.State())

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)))

	ev = rec.next(t)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, gen, ev.Generation)
	assert.JSONEq(t, `{"hello":"world"}`, string(ev.Data))
}

func TestManager_RepeatedConnectKeepsOneConnection(t *testing.T) {
	ts := newTestServer(t)
	m, rec := newTestManager(t)

	gen1, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	gen2, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	assert.Equal(t, gen1, gen2)

	ts.nextConn(t)
	assert.Equal(t, EventOpened, rec.next(t).Kind)

	gen3, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	assert.Equal(t, gen1, gen3)

	rec.expectNone(t, 200*time.Millisecond)
	assert.Equal(t, int32(1), ts.accepted.Load())
}

func TestManager_NormalCloseIsQuiet(t *testing.T) {
	ts := newTestServer(t)
	m, rec := newTestManager(t)

	_, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	server := ts.nextConn(t)
	require.Equal(t, EventOpened, rec.next(t).Kind)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	ev := rec.next(t)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, 1000, ev.Code)
	assert.Equal(t, "bye", ev.Reason)
	assert.Equal(t, StateDisconnected, m.State())
	rec.expectNone(t, 100*time.Millisecond)
}

func TestManager_UnexpectedCloseCodeIsReported(t *testing.T) {
	ts := newTestServer(t)
	m, rec := newTestManager(t)

	_, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	server := ts.nextConn(t)
	require.Equal(t, EventOpened, rec.next(t).Kind)

	msg := websocket.FormatCloseMessage(4001, "kicked")
	require.NoError(t, server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	ev := rec.next(t)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, 4001, ev.Code)
	assert.Equal(t, StateClosedError, m.State())
}

func TestManager_NetworkFailureIsErrorThen1006(t *testing.T) {
	ts := newTestServer(t)
	m, rec := newTestManager(t)

	_, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	server := ts.nextConn(t)
	require.Equal(t, EventOpened, rec.next(t).Kind)

	require.NoError(t, server.UnderlyingConn().Close())

	ev := rec.next(t)
	assert.Equal(t, EventError, ev.Kind)
	assert.Error(t, ev.Err)

	ev = rec.next(t)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, 1006, ev.Code)
	assert.Equal(t, StateClosedError, m.State())
}

func TestManager_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	m, rec := newTestManager(t)

	_, err := m.Connect("ws"+strings.TrimPrefix(srv.URL, "http"), "tok")
	require.NoError(t, err)

	ev := rec.next(t)
	assert.Equal(t, EventError, ev.Kind)
	assert.NotContains(t, ev.Err.Error(), "tok")

	ev = rec.next(t)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, 1006, ev.Code)
	assert.Equal(t, StateClosedError, m.State())
}

func TestManager_Send(t *testing.T) {
	ts := newTestServer(t)
	m, rec := newTestManager(t)

	assert.ErrorIs(t, m.Send([]byte("early")), ErrNotConnected)

	_, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	server := ts.nextConn(t)
	require.Equal(t, EventOpened, rec.next(t).Kind)

	require.NoError(t, m.Send([]byte(`{"action":"sendmessage"}`)))

	server.SetReadDeadline(time.Now().Add(waitTimeout))
	_, data, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"action":"sendmessage"}`, string(data))
}

func TestManager_TeardownDetachesAndClosesNormally(t *testing.T) {
	ts := newTestServer(t)
	m, rec := newTestManager(t)

	_, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	server := ts.nextConn(t)
	require.Equal(t, EventOpened, rec.next(t).Kind)

	m.Teardown()
	m.Teardown()

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, uint64(0), m.Generation())
	assert.ErrorIs(t, m.Send([]byte("x")), ErrNotConnected)

	server.SetReadDeadline(time.Now().Add(waitTimeout))
	_, _, err = server.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)

	// Anything the old socket produces afterwards is discarded
	_ = server.WriteMessage(websocket.TextMessage, []byte("late"))
	rec.expectNone(t, 200*time.Millisecond)
}

func TestManager_TeardownWithoutConnection(t *testing.T) {
	m := NewManager(Options{}, nil)
	assert.NotPanics(t, func() {
		m.Teardown()
		m.Teardown()
	})
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_TeardownDuringDialDropsEvents(t *testing.T) {
	ts := newTestServer(t)
	m, rec := newTestManager(t)

	_, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	m.Teardown()

	rec.expectNone(t, 300*time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_ReconnectAfterFailureSupersedesOld(t *testing.T) {
	ts := newTestServer(t)
	m, rec := newTestManager(t)

	gen1, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	first := ts.nextConn(t)
	require.Equal(t, EventOpened, rec.next(t).Kind)

	msg := websocket.FormatCloseMessage(4000, "restart")
	require.NoError(t, first.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	require.Equal(t, EventClosed, rec.next(t).Kind)

	gen2, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	assert.Greater(t, gen2, gen1)

	second := ts.nextConn(t)
	ev := rec.next(t)
	assert.Equal(t, EventOpened, ev.Kind)
	assert.Equal(t, gen2, ev.Generation)

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("fresh")))
	ev = rec.next(t)
	assert.Equal(t, "fresh", string(ev.Data))
	assert.Equal(t, gen2, ev.Generation)
}

func TestManager_ListenerFunc(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(Options{}, nil)
	t.Cleanup(m.Teardown)

	got := make(chan EventKind, 4)
	m.SetListener(ListenerFunc(func(ev Event) { got <- ev.Kind }))

	_, err := m.Connect(ts.wsURL(), "tok")
	require.NoError(t, err)
	ts.nextConn(t)

	select {
	case kind := <-got:
		assert.Equal(t, EventOpened, kind)
	case <-time.After(waitTimeout):
		t.Fatal("listener func not called")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed-error", StateClosedError.String())
}
