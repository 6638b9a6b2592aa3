// Package transport owns the WebSocket plumbing: upgrading HTTP requests,
// running per-connection read/write pumps, and funneling everything that
// happens on a socket into the single core event stream (spec.md §5).
// Grounded on odin-ws-server's pkg/websocket/client.go Client —
// handleConnection's send-channel/ping-ticker/read-goroutine shape is kept,
// the teacher's fast-path byte-sniffing handlers (ping/heartbeat/pong) are
// dropped since pocket-parrot's protocol has no client-side heartbeat frame.
package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // sensor frames may carry base64 photo/audio payloads
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: false,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// Conn wraps one upgraded WebSocket connection. It satisfies
// registry.Sender so the core can address it purely through that
// interface.
type Conn struct {
	ID         string
	Role       registry.Role
	RemoteAddr string

	ws        *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
	log       *zap.Logger
}

// Upgrade accepts a WebSocket handshake on w/r and wraps it. Callers still
// need to admit the connection into the registry and start its pumps. log
// is the dispatcher's component-scoped logger (SPEC_FULL.md §4.10).
func Upgrade(w http.ResponseWriter, r *http.Request, id string, role registry.Role, log *zap.Logger) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{
		ID:         id,
		Role:       role,
		RemoteAddr: r.RemoteAddr,
		ws:         ws,
		send:       make(chan []byte, sendBufferSize),
		closed:     make(chan struct{}),
		log:        log,
	}, nil
}

// Send enqueues payload for delivery without blocking; if the client is
// not draining fast enough the frame is dropped, matching spec.md §9's
// explicit slow-consumer policy.
func (c *Conn) Send(payload []byte) {
	select {
	case c.send <- payload:
	case <-c.closed:
	default:
	}
}

// Close tears down the connection. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// Event is what ReadLoop emits for the core event loop to consume. Closed
// distinguishes a delivered text frame from the terminal close. Err is nil
// for a normal close (client-initiated going-away, or Close called locally)
// and non-nil for a transport error or decode panic, so the core can treat
// the two differently (spec.md §7's transport-error-vs-normal-close split).
type Event struct {
	ConnID  string
	Role    registry.Role
	Message []byte
	Closed  bool
	Err     error
}

// ReadLoop blocks reading frames from the socket and pushing them to
// events, until the connection closes or errors. It always emits a final
// Closed event before returning, so the core always learns about a
// disconnect exactly once regardless of which side initiated it.
func (c *Conn) ReadLoop(events chan<- Event) {
	err := c.runReadPump(events)
	events <- Event{ConnID: c.ID, Role: c.Role, Closed: true, Err: err}
}

// runReadPump is the recoverable body of ReadLoop (SPEC_FULL.md §7). A
// panic here never reaches the core goroutine: it is logged and ends the
// read pump with a non-nil closeErr, exactly like any other read failure,
// so the core runs normal disconnect handling for the connection. Panics
// while handling an already-read frame are recovered separately in
// core.handleMessage, which keeps the connection open.
func (c *Conn) runReadPump(events chan<- Event) (closeErr error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic recovered in read pump", zap.String("connectionId", c.ID), zap.Any("panic", r))
			closeErr = fmt.Errorf("panic in read pump: %v", r)
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		events <- Event{ConnID: c.ID, Role: c.Role, Message: message}
	}
}

// WriteLoop drains the send channel to the socket and keeps the connection
// alive with periodic pings, until Close is called or a write fails.
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
