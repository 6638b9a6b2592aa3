package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/config"
	"github.com/jonmccon/pocket-parrot-relay/internal/metrics"
	"github.com/jonmccon/pocket-parrot-relay/internal/transport"
)

// testRelayConfig shrinks config.Load's defaults: the timing constants, so
// reconnect/inactivity scenarios fit inside a test's deadline instead of
// spec.md §6's production values (30s/300s/60s/10s), and the producer cap
// and batch size (3 instead of 25 and 10).
func testRelayConfig() config.RelayConfig {
	return config.RelayConfig{
		MaxProducers:             3,
		SenderInactivityTimeout:  150 * time.Millisecond,
		ReconnectWindow:          2 * time.Second,
		ReconnectPromotionWindow: 2 * time.Second,
		ReclaimIdleThreshold:     50 * time.Millisecond,
		BatchInterval:            100 * time.Millisecond,
		MaxBatchSize:             3,
	}
}

// newTestRelay wires a real Core behind an httptest server exactly as
// cmd/relay does, grounded on QNTX's server_test.go "spin up the hub, dial
// a real client" integration style (spec.md §8's end-to-end scenarios are
// expressed only in terms of what a WebSocket client observes).
func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()
	met := metrics.NewWithRegisterer(prometheus.NewRegistry())
	log := zap.NewNop()
	c := New(met, log, time.Now(), testRelayConfig())

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {})
	transport.NewDispatcher(c, log).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	go c.Run()
	return srv
}

func dialPath(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):] + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func sendJSON(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

// A lone producer's handshake promotes it to active sender unconditionally
// (spec.md §8 scenario 1).
func TestIntegration_LoneProducerPromotedOnHandshake(t *testing.T) {
	srv := newTestRelay(t)
	ws := dialPath(t, srv, "/pocket-parrot")

	sendJSON(t, ws, map[string]string{"type": "handshake", "deviceId": "device-1", "username": "alice"})

	msg := readJSON(t, ws)
	assert.Equal(t, "promoted", msg["type"])
	assert.Equal(t, "sender", msg["role"])
}

// A second producer connecting while the first is active sender is told
// observer_mode, and data frames from it are rejected.
func TestIntegration_SecondProducerObservesAndIsRejectedOnData(t *testing.T) {
	srv := newTestRelay(t)
	ws1 := dialPath(t, srv, "/pocket-parrot")
	sendJSON(t, ws1, map[string]string{"type": "handshake", "deviceId": "device-1", "username": "alice"})
	require.Equal(t, "promoted", readJSON(t, ws1)["type"])

	ws2 := dialPath(t, srv, "/pocket-parrot")
	sendJSON(t, ws2, map[string]string{"type": "handshake", "deviceId": "device-2", "username": "bob"})
	require.Equal(t, "welcome", readJSON(t, ws2)["type"])
	require.Equal(t, "observer_mode", readJSON(t, ws2)["type"])

	sendJSON(t, ws2, map[string]interface{}{"type": "data", "data": map[string]interface{}{"id": "f1"}})
	rejected := readJSON(t, ws2)
	assert.Equal(t, "rejected", rejected["type"])
}

// Sensor data from the active sender reaches a passive-listener, and
// disconnecting the active sender promotes the observer (spec.md §8
// scenario 2).
func TestIntegration_DataFansOutAndDisconnectPromotesObserver(t *testing.T) {
	srv := newTestRelay(t)
	ws1 := dialPath(t, srv, "/pocket-parrot")
	sendJSON(t, ws1, map[string]string{"type": "handshake", "deviceId": "device-1", "username": "alice"})
	require.Equal(t, "promoted", readJSON(t, ws1)["type"])

	ws2 := dialPath(t, srv, "/pocket-parrot")
	sendJSON(t, ws2, map[string]string{"type": "handshake", "deviceId": "device-2", "username": "bob"})
	require.Equal(t, "welcome", readJSON(t, ws2)["type"])
	require.Equal(t, "observer_mode", readJSON(t, ws2)["type"])

	listener := dialPath(t, srv, "/listener")
	require.Equal(t, "listener_connected", readJSON(t, listener)["type"])
	require.Equal(t, "stats", readJSON(t, listener)["type"], "admission pushes a stats snapshot to passive-listeners")

	sendJSON(t, ws1, map[string]interface{}{"type": "data", "data": map[string]interface{}{"id": "f1"}})
	require.Equal(t, "ack", readJSON(t, ws1)["type"])
	sensorData := readJSON(t, listener)
	assert.Equal(t, "sensor_data", sensorData["type"])

	ws1.Close()

	promoted := readJSON(t, ws2)
	assert.Equal(t, "promoted", promoted["type"])
}

// An orientation sample reaches an orientation-listener as orientation_data
// (spec.md §4.5's immediate path).
func TestIntegration_OrientationRoutedToOrientationListener(t *testing.T) {
	srv := newTestRelay(t)
	ws1 := dialPath(t, srv, "/pocket-parrot")
	sendJSON(t, ws1, map[string]string{"type": "handshake", "deviceId": "device-1", "username": "alice"})
	require.Equal(t, "promoted", readJSON(t, ws1)["type"])

	orient := dialPath(t, srv, "/orientation")
	require.Equal(t, "orientation_listener_connected", readJSON(t, orient)["type"])

	sendJSON(t, ws1, map[string]interface{}{
		"type": "data",
		"data": map[string]interface{}{
			"id":          "f1",
			"orientation": map[string]float64{"alpha": 1, "beta": 2, "gamma": 3},
		},
	})
	require.Equal(t, "ack", readJSON(t, ws1)["type"])

	msg := readJSON(t, orient)
	assert.Equal(t, "orientation_data", msg["type"])
}

// A dashboard's kickUser command closes the target connection. The
// dashboard connects before the producer so it receives, after the stats
// snapshot its own admission pushes, the userConnected broadcast carrying
// the producer's connectionId (spec.md §4.4's kickUser addresses
// connections by that id, not by device or username).
func TestIntegration_DashboardKickUserClosesTarget(t *testing.T) {
	srv := newTestRelay(t)
	dash := dialPath(t, srv, "/dashboard")
	require.Equal(t, "stats", readJSON(t, dash)["type"], "a dashboard's own admission pushes a stats snapshot to it")

	ws1 := dialPath(t, srv, "/pocket-parrot")
	sendJSON(t, ws1, map[string]string{"type": "handshake", "deviceId": "device-1", "username": "alice"})
	require.Equal(t, "promoted", readJSON(t, ws1)["type"])

	connected := readJSON(t, dash)
	require.Equal(t, "userConnected", connected["type"])
	connID, _ := connected["connectionId"].(string)
	require.NotEmpty(t, connID)

	sendJSON(t, dash, map[string]string{"type": "kickUser", "userId": connID})

	kicked := readJSON(t, ws1)
	assert.Equal(t, "kicked", kicked["type"])
}
