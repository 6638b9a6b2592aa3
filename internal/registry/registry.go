// Package registry indexes live connections by role, grounded on
// odin-ws-server's pkg/websocket/hub.go client map (register/unregister by
// single owning goroutine, no internal locking needed).
package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is one of the five endpoint roles a connection can be admitted under.
type Role string

const (
	RoleProducer    Role = "producer"
	RoleDashboard   Role = "dashboard"
	RolePassive     Role = "passive-listener"
	RoleOrientation Role = "orientation-listener"
	RoleBulk        Role = "bulk-listener"
)

// DefaultMaxProducers is the admission cap spec.md §6 mandates absent an
// override; config.RelayConfig.MaxProducers carries the configured value
// into New.
const DefaultMaxProducers = 25

// Sender is the minimal outbound capability the registry needs from a live
// connection. Transport implementations (and test fakes) satisfy this.
type Sender interface {
	// Send enqueues payload for delivery. It must not block; an
	// implementation unable to buffer the write drops it silently.
	Send(payload []byte)
	// Close terminates the underlying connection.
	Close()
}

// Record is the per-connection state tracked for the lifetime of a socket.
type Record struct {
	ID          string
	Role        Role
	RemoteAddr  string
	ConnectedAt time.Time
	Sender      Sender

	// Producer-only fields.
	DeviceID       string
	Username       string
	DataCount      int64
	LastDataTime   time.Time
	IsActiveSender bool
}

// ErrCapacityReached is returned when the producer admission cap is hit.
type ErrCapacityReached struct{}

func (ErrCapacityReached) Error() string { return "Server capacity reached" }

// Registry indexes connections by role. All methods must be called from the
// single goroutine that owns core state (see internal/core) — it performs no
// internal locking, mirroring the teacher hub's unsynchronized client map.
type Registry struct {
	byRole       map[Role]map[string]*Record
	maxProducers int
}

// New builds a Registry enforcing maxProducers concurrent /pocket-parrot
// connections (spec.md §6 MAX_PRODUCERS, threaded in via
// config.RelayConfig.MaxProducers). A non-positive maxProducers is
// rejected by config.Load's fail-fast validation before New is ever called.
func New(maxProducers int) *Registry {
	r := &Registry{byRole: make(map[Role]map[string]*Record), maxProducers: maxProducers}
	for _, role := range []Role{RoleProducer, RoleDashboard, RolePassive, RoleOrientation, RoleBulk} {
		r.byRole[role] = make(map[string]*Record)
	}
	return r
}

// MaxProducers reports the configured producer admission cap.
func (r *Registry) MaxProducers() int { return r.maxProducers }

// Register admits a new connection under role. Producer admission enforces
// the configured cap (I4); other roles are uncapped.
func (r *Registry) Register(id string, role Role, sender Sender, remoteAddr string, now time.Time) (*Record, error) {
	if role == RoleProducer && len(r.byRole[RoleProducer]) >= r.maxProducers {
		return nil, ErrCapacityReached{}
	}
	rec := &Record{
		ID:          id,
		Role:        role,
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
		Sender:      sender,
	}
	r.byRole[role][id] = rec
	return rec, nil
}

// Unregister removes a connection and returns its record, if it existed.
func (r *Registry) Unregister(role Role, id string) (*Record, bool) {
	m := r.byRole[role]
	rec, ok := m[id]
	if ok {
		delete(m, id)
	}
	return rec, ok
}

// Get looks up a connection by role and id.
func (r *Registry) Get(role Role, id string) (*Record, bool) {
	rec, ok := r.byRole[role][id]
	return rec, ok
}

// GetProducer looks up a producer by id regardless of active/observer state.
func (r *Registry) GetProducer(id string) (*Record, bool) {
	return r.Get(RoleProducer, id)
}

// Count returns the number of live connections under role.
func (r *Registry) Count(role Role) int {
	return len(r.byRole[role])
}

// Iterate calls fn for every connection currently registered under role.
// Order is unspecified (map iteration), matching the spec's "no ordering
// guarantee across connections".
func (r *Registry) Iterate(role Role, fn func(*Record)) {
	for _, rec := range r.byRole[role] {
		fn(rec)
	}
}

// Producers returns a snapshot slice of all currently registered producers.
func (r *Registry) Producers() []*Record {
	out := make([]*Record, 0, len(r.byRole[RoleProducer]))
	for _, rec := range r.byRole[RoleProducer] {
		out = append(out, rec)
	}
	return out
}

// MostRecentProducer returns the producer with the latest ConnectedAt,
// excluding excludeID. Used for inactivity-timeout and disconnect promotion
// (§4.4). Among producers with identical ConnectedAt, which one is returned
// depends on map iteration order.
func (r *Registry) MostRecentProducer(excludeID string) (*Record, bool) {
	var best *Record
	for id, rec := range r.byRole[RoleProducer] {
		if id == excludeID {
			continue
		}
		if best == nil || rec.ConnectedAt.After(best.ConnectedAt) {
			best = rec
		}
	}
	return best, best != nil
}

// SendJSON marshals msg and hands it to the record's Sender. A marshal
// failure is programmer error (a bad envelope type), so it panics rather
// than silently dropping a message the caller believes was delivered.
func (r *Record) SendJSON(msg interface{}) {
	b, err := json.Marshal(msg)
	if err != nil {
		panic(fmt.Sprintf("registry: marshal outbound message for %s: %v", r.ID, err))
	}
	r.Sender.Send(b)
}

func (r *Registry) String() string {
	return fmt.Sprintf("registry{producers=%d dashboards=%d passive=%d orientation=%d bulk=%d}",
		r.Count(RoleProducer), r.Count(RoleDashboard), r.Count(RolePassive), r.Count(RoleOrientation), r.Count(RoleBulk))
}
