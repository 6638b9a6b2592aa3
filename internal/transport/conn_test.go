package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/registry"
)

// newUpgradingServer starts an httptest server that upgrades every request
// to a *Conn of role and hands it to onConn, grounded on QNTX's
// server_test.go httptest.NewServer + gorilla/websocket dial pattern — the
// pack's idiom for exercising a real upgraded socket instead of faking the
// http.Hijacker interface by hand.
func newUpgradingServer(t *testing.T, role registry.Role, onConn func(*Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, "c1", role, zap.NewNop())
		require.NoError(t, err)
		onConn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):]
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// A text frame written by the client arrives on the events channel as a
// non-closing Event carrying the frame's bytes.
func TestReadLoop_DeliversTextFramesAsEvents(t *testing.T) {
	events := make(chan Event, 4)
	srv := newUpgradingServer(t, registry.RoleProducer, func(c *Conn) {
		go c.WriteLoop()
		go c.ReadLoop(events)
	})
	ws := dial(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"handshake"}`)))

	ev := <-events
	assert.Equal(t, "c1", ev.ConnID)
	assert.False(t, ev.Closed)
	assert.Equal(t, `{"type":"handshake"}`, string(ev.Message))
}

// A normal client-initiated close produces exactly one terminal Closed
// event with a nil Err, distinguishing it from a transport failure.
func TestReadLoop_NormalCloseProducesNilErrEvent(t *testing.T) {
	events := make(chan Event, 4)
	srv := newUpgradingServer(t, registry.RolePassive, func(c *Conn) {
		go c.WriteLoop()
		go c.ReadLoop(events)
	})
	ws := dial(t, srv)

	require.NoError(t, ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	ws.Close()

	ev := <-events
	assert.True(t, ev.Closed)
	assert.NoError(t, ev.Err)
}

// Send enqueues a payload that WriteLoop delivers to the client.
func TestSend_DeliversPayloadToClient(t *testing.T) {
	var serverConn *Conn
	ready := make(chan struct{})
	srv := newUpgradingServer(t, registry.RoleDashboard, func(c *Conn) {
		serverConn = c
		close(ready)
		go c.WriteLoop()
		go c.ReadLoop(make(chan Event, 1))
	})
	ws := dial(t, srv)
	<-ready

	serverConn.Send([]byte(`{"type":"stats"}`))

	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"stats"}`, string(msg))
}

// Close is safe to call more than once (idempotent teardown), matching the
// sync.Once guard in Close.
func TestClose_IsIdempotent(t *testing.T) {
	srv := newUpgradingServer(t, registry.RoleBulk, func(c *Conn) {
		assert.NotPanics(t, func() {
			c.Close()
			c.Close()
		})
	})
	dial(t, srv)
	time.Sleep(10 * time.Millisecond)
}
