// Package arbiter implements the single-active-sender state machine
// (spec.md §4.4): promotion, demotion, inactivity timeout, and
// reconnect-priority. It is grounded on odin-ws-server's
// pkg/websocket/hub.go single-goroutine Run() loop — the same shape of
// "one owner mutates a small map of state, timers rearm on activity" is
// generalized here from a connection map to the (active-sender,
// last-data-time) pair spec.md §5 requires be observed atomically.
package arbiter

import (
	"time"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/ledger"
	"github.com/jonmccon/pocket-parrot-relay/internal/protocol"
	"github.com/jonmccon/pocket-parrot-relay/internal/registry"
)

// Config holds the timing constants from spec.md §6.
type Config struct {
	InactivityTimeout        time.Duration // SENDER_INACTIVITY_TIMEOUT, 30s
	ReconnectWindow          time.Duration // RECONNECT_WINDOW, 300s — diagnostic only, see spec.md §9
	ReconnectPromotionWindow time.Duration // RECONNECT_PROMOTION_WINDOW, 60s
	ReclaimIdleThreshold     time.Duration // RECLAIM_IDLE_THRESHOLD, 10s
}

// DefaultConfig returns the constants mandated by spec.md §6.
func DefaultConfig() Config {
	return Config{
		InactivityTimeout:        30 * time.Second,
		ReconnectWindow:          300 * time.Second,
		ReconnectPromotionWindow: 60 * time.Second,
		ReclaimIdleThreshold:     10 * time.Second,
	}
}

// Notifier is the side-effect boundary the arbiter pushes through. Core
// implements it; tests can supply a recording fake. Keeping this as an
// interface (rather than the arbiter reaching into a concrete hub) is what
// lets the state machine be exercised without any real socket or timer.
type Notifier interface {
	SendToProducer(rec *registry.Record, msg interface{})
	BroadcastToProducersExcept(exceptID string, msg interface{})
	SendToDashboards(msg interface{})
	ArmInactivityTimer(deadline time.Time)
	CancelInactivityTimer()
	// RecordRejection reports a rejected role-violation/role-contention
	// attempt for relay_producer_rejections_total{reason} (SPEC_FULL.md §4.11).
	RecordRejection(reason string)
	// RecordPromotion reports an active-sender change for
	// relay_active_sender_changes_total{reason} (SPEC_FULL.md §4.11).
	RecordPromotion(reason string)
}

// Arbiter owns the (active-sender, inactivity-deadline) pair described in
// spec.md §3's "Arbiter state". It never touches a socket directly.
type Arbiter struct {
	cfg            Config
	reg            *registry.Registry
	led            *ledger.Ledger
	notifier       Notifier
	log            *zap.Logger
	activeSenderID string
}

func New(cfg Config, reg *registry.Registry, led *ledger.Ledger, notifier Notifier, log *zap.Logger) *Arbiter {
	return &Arbiter{cfg: cfg, reg: reg, led: led, notifier: notifier, log: log}
}

// ActiveSenderID returns the current active sender's connection id, or "".
func (a *Arbiter) ActiveSenderID() string { return a.activeSenderID }

// lastActivity is the timestamp used to judge "silence": the producer's
// last accepted data frame, or its connect time if it never sent one.
func lastActivity(rec *registry.Record) time.Time {
	if !rec.LastDataTime.IsZero() {
		return rec.LastDataTime
	}
	return rec.ConnectedAt
}

// promote makes rec the active sender, demoting whoever held the role
// first if anyone did. This is the single path through which
// active-sender changes, so invariant I1 (at most one active sender) holds
// by construction.
func (a *Arbiter) promote(rec *registry.Record, now time.Time, reason string) {
	if incumbent, ok := a.reg.GetProducer(a.activeSenderID); ok && incumbent.ID != rec.ID {
		incumbent.IsActiveSender = false
		incumbent.SendJSON(protocol.DemotedOut{Type: protocol.TypeDemoted})
	}
	a.activeSenderID = rec.ID
	rec.IsActiveSender = true
	rec.SendJSON(protocol.PromotedOut{Type: protocol.TypePromoted, Role: "sender"})
	a.notifier.BroadcastToProducersExcept(rec.ID, protocol.SenderChangedOut{
		Type: protocol.TypeSenderChanged, ActiveSender: rec.ID,
	})
	a.notifier.SendToDashboards(protocol.SenderPromotedOut{
		Type: protocol.TypeSenderPromoted, ConnectionID: rec.ID,
	})
	a.notifier.ArmInactivityTimer(now.Add(a.cfg.InactivityTimeout))
	a.notifier.RecordPromotion(reason)
	a.log.Info("sender promoted", zap.String("connectionId", rec.ID), zap.String("deviceId", rec.DeviceID), zap.String("reason", reason))
}

func (a *Arbiter) enterIdle() {
	a.activeSenderID = ""
	a.notifier.CancelInactivityTimer()
}

// HandleHandshake implements the "Producer admitted" transitions of
// spec.md §4.4, including hot-reconnect promotion.
func (a *Arbiter) HandleHandshake(rec *registry.Record, deviceID, username string, now time.Time) {
	if deviceID == "" {
		deviceID = "unknown_" + rec.ID
	}
	rec.DeviceID = deviceID
	rec.Username = username

	if a.activeSenderID == "" {
		a.promote(rec, now, "handshake")
		return
	}

	entry, known := a.led.Lookup(deviceID)
	hotReclaimEligible := known && entry.WasActiveSender && now.Sub(entry.DisconnectedAt) <= a.cfg.ReconnectPromotionWindow
	if known {
		a.log.Debug("ledger lookup on handshake",
			zap.String("deviceId", deviceID),
			zap.Bool("wasRecentDisconnect", now.Sub(entry.DisconnectedAt) <= a.cfg.ReconnectWindow),
			zap.Bool("hotReclaimEligible", hotReclaimEligible))
	}

	if hotReclaimEligible {
		incumbent, ok := a.reg.GetProducer(a.activeSenderID)
		incumbentSilent := !ok || now.Sub(lastActivity(incumbent)) > a.cfg.ReclaimIdleThreshold
		if incumbentSilent {
			a.promote(rec, now, "reclaim")
			return
		}
	}

	rec.SendJSON(protocol.WelcomeOut{Type: protocol.TypeWelcome, Role: "observer", ConnectionID: rec.ID})
	rec.SendJSON(protocol.ObserverModeOut{
		Type:         protocol.TypeObserverMode,
		ActiveSender: a.activeSenderID,
		Message:      "Another producer is currently the active sender",
	})
}

// HandleData implements "Data received" (spec.md §4.4). It returns true iff
// the frame was accepted (and thus should flow to the Fan-out Router).
func (a *Arbiter) HandleData(rec *registry.Record, frameID string, now time.Time) bool {
	if rec.ID != a.activeSenderID {
		rec.SendJSON(protocol.RejectedOut{Type: protocol.TypeRejected, Reason: "You are not the active data sender"})
		a.notifier.RecordRejection("role_violation")
		return false
	}
	rec.DataCount++
	rec.LastDataTime = now
	a.notifier.ArmInactivityTimer(now.Add(a.cfg.InactivityTimeout))
	rec.SendJSON(protocol.AckOut{Type: protocol.TypeAck, Received: frameID})
	return true
}

// HandleRequestSenderRole implements the explicit `request_sender_role`
// transition (spec.md §4.4).
func (a *Arbiter) HandleRequestSenderRole(rec *registry.Record, now time.Time) {
	if a.activeSenderID == "" {
		a.promote(rec, now, "request")
		return
	}
	incumbent, ok := a.reg.GetProducer(a.activeSenderID)
	if !ok || now.Sub(lastActivity(incumbent)) > a.cfg.InactivityTimeout {
		a.promote(rec, now, "request")
		return
	}
	rec.SendJSON(protocol.RejectedOut{Type: protocol.TypeRejected, Reason: "Another producer is already the active sender"})
	a.notifier.RecordRejection("role_contention")
}

// HandleInactivityTimeout implements "Inactivity timer fires" (spec.md
// §4.4): demote, then attempt promotion of the most-recently-connected
// remaining producer.
func (a *Arbiter) HandleInactivityTimeout(now time.Time) {
	incumbentID := a.activeSenderID
	if incumbentID == "" {
		return
	}
	if incumbent, ok := a.reg.GetProducer(incumbentID); ok {
		incumbent.IsActiveSender = false
		incumbent.SendJSON(protocol.DemotedOut{Type: protocol.TypeDemoted})
	}
	a.enterIdle()
	if next, ok := a.reg.MostRecentProducer(incumbentID); ok {
		a.promote(next, now, "timeout")
	}
}

// HandleDisconnect implements "Active sender disconnects" plus the Device
// Session Ledger write (spec.md §4.3, §4.4). rec must already have been
// removed from the Connection Registry by the caller; the ledger entry is
// written here, before any promotion attempt, so WasActiveSender reflects
// pre-disconnect state (DESIGN.md open-question decision #2).
func (a *Arbiter) HandleDisconnect(rec *registry.Record, now time.Time) {
	wasActive := rec.ID == a.activeSenderID

	a.led.Record(ledger.Entry{
		DeviceID:         rec.DeviceID,
		DisconnectedAt:   now,
		LastConnectionID: rec.ID,
		LastUsername:     rec.Username,
		LastDataCount:    rec.DataCount,
		WasActiveSender:  wasActive,
	})

	if !wasActive {
		return
	}
	a.enterIdle()
	if next, ok := a.reg.MostRecentProducer(rec.ID); ok {
		a.promote(next, now, "disconnect")
	}
}

// PromoteUser implements the dashboard `promoteUser` command: unconditional
// promotion, overriding freshness checks. Returns false if userID does not
// name a live producer.
func (a *Arbiter) PromoteUser(userID string, now time.Time) bool {
	rec, ok := a.reg.GetProducer(userID)
	if !ok {
		return false
	}
	a.promote(rec, now, "dashboard")
	return true
}

// DemoteUser implements the dashboard `demoteUser` command: unconditional
// demotion with no automatic replacement promotion. A repeated call while
// already Idle is a documented no-op.
func (a *Arbiter) DemoteUser() {
	if a.activeSenderID == "" {
		return
	}
	if incumbent, ok := a.reg.GetProducer(a.activeSenderID); ok {
		incumbent.IsActiveSender = false
		incumbent.SendJSON(protocol.DemotedOut{Type: protocol.TypeDemoted})
	}
	a.enterIdle()
}

// KickUser sends the `kicked` notice to the named producer. The caller is
// responsible for closing the connection and running normal disconnect
// handling afterward (spec.md §4.4).
func (a *Arbiter) KickUser(userID string) (*registry.Record, bool) {
	rec, ok := a.reg.GetProducer(userID)
	if !ok {
		return nil, false
	}
	rec.SendJSON(protocol.KickedOut{Type: protocol.TypeKicked})
	return rec, true
}
