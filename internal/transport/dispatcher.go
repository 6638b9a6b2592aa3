package transport

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/registry"
)

// Admitter is the subset of *core.Core the dispatcher needs: generate an
// id and hand the upgraded connection to the single core event loop.
// Declared here (rather than importing internal/core) to avoid a
// transport<->core import cycle, since core already imports transport.Conn.
type Admitter interface {
	NextConnID(prefix string) string
	Admit(conn *Conn)
}

// Dispatcher implements the Endpoint Dispatcher (spec.md §4.1): five URL
// paths, each upgrading to a role and handing the connection to Admitter.
// Grounded on odin-ws-server's pkg/websocket/client.go ServeWS, split from
// a single hub-bound handler into one per role since each role here needs
// a distinct id prefix and there is no shared connection cap to enforce
// up front (the registry enforces the producer cap at Register time).
type Dispatcher struct {
	core Admitter
	log  *zap.Logger
}

func NewDispatcher(core Admitter, log *zap.Logger) *Dispatcher {
	return &Dispatcher{core: core, log: log}
}

func (d *Dispatcher) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/pocket-parrot", d.handler(registry.RoleProducer, "user"))
	mux.HandleFunc("/dashboard", d.handler(registry.RoleDashboard, "dash"))
	mux.HandleFunc("/listener", d.handler(registry.RolePassive, "listen"))
	mux.HandleFunc("/orientation", d.handler(registry.RoleOrientation, "orient"))
	mux.HandleFunc("/bulk", d.handler(registry.RoleBulk, "bulk"))
}

func (d *Dispatcher) handler(role registry.Role, idPrefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := d.core.NextConnID(idPrefix)
		conn, err := Upgrade(w, r, id, role, d.log)
		if err != nil {
			d.log.Warn("websocket upgrade failed", zap.String("role", string(role)), zap.Error(err))
			return
		}
		d.core.Admit(conn)
	}
}
