// Package core is the single serializing owner of all relay state
// (spec.md §5): one goroutine processes connect/disconnect/message/timer
// events from a unified channel, mutating the registry, ledger, arbiter,
// fan-out router, batcher, and stats aggregator without any lock. It is
// grounded on odin-ws-server's pkg/websocket/hub.go Run() select loop —
// the same register/unregister/broadcast shape, generalized from a flat
// client set to the five-role registry and the arbitration state machine
// spec.md §4.4 requires be observed atomically alongside it.
package core

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/arbiter"
	"github.com/jonmccon/pocket-parrot-relay/internal/batcher"
	"github.com/jonmccon/pocket-parrot-relay/internal/config"
	"github.com/jonmccon/pocket-parrot-relay/internal/fanout"
	"github.com/jonmccon/pocket-parrot-relay/internal/ledger"
	"github.com/jonmccon/pocket-parrot-relay/internal/logging"
	"github.com/jonmccon/pocket-parrot-relay/internal/metrics"
	"github.com/jonmccon/pocket-parrot-relay/internal/protocol"
	"github.com/jonmccon/pocket-parrot-relay/internal/registry"
	"github.com/jonmccon/pocket-parrot-relay/internal/stats"
	"github.com/jonmccon/pocket-parrot-relay/internal/transport"
)

const statusLogInterval = 60 * time.Second
const minuteRollInterval = 60 * time.Second

// Core wires every component together and drives them from one loop.
type Core struct {
	reg *registry.Registry
	led *ledger.Ledger
	arb *arbiter.Arbiter
	fan *fanout.Router
	bat *batcher.Batcher
	agg *stats.Aggregator
	met *metrics.Metrics
	log *zap.Logger

	events chan transport.Event
	admit  chan admission

	inactivityTimer *time.Timer
	bulkTicker      *time.Ticker
	bulkTickerOn    bool

	nextConnSeq int64
	lastDropped int64
}

type admission struct {
	conn *transport.Conn
	done chan struct{}
}

// New constructs Core with fresh component state, wiring relayCfg's
// arbitration and batching constants (spec.md §6, SPEC_FULL.md §4.9) into
// the registry, arbiter, and batcher rather than their old hardcoded
// defaults. now is the process start time, used to seed the stats
// aggregator's uptime baseline. log is tagged component=lifecycle for
// Core's own diagnostics; subcomponents each get their own scoped child
// logger (SPEC_FULL.md §4.10).
func New(met *metrics.Metrics, log *zap.Logger, now time.Time, relayCfg config.RelayConfig) *Core {
	reg := registry.New(relayCfg.MaxProducers)
	led := ledger.New()
	bat := batcher.New(batcher.Config{
		Interval: relayCfg.BatchInterval,
		MaxSize:  relayCfg.MaxBatchSize,
	}, logging.Scoped(log, "batcher"))
	agg := stats.New(now)
	fan := fanout.New(reg, bat, met, logging.Scoped(log, "fanout"))

	c := &Core{
		reg:    reg,
		led:    led,
		fan:    fan,
		bat:    bat,
		agg:    agg,
		met:    met,
		log:    logging.Scoped(log, "lifecycle"),
		events: make(chan transport.Event, 1024),
		admit:  make(chan admission, 64),
	}
	arbCfg := arbiter.Config{
		InactivityTimeout:        relayCfg.SenderInactivityTimeout,
		ReconnectWindow:          relayCfg.ReconnectWindow,
		ReconnectPromotionWindow: relayCfg.ReconnectPromotionWindow,
		ReclaimIdleThreshold:     relayCfg.ReclaimIdleThreshold,
	}
	c.arb = arbiter.New(arbCfg, reg, led, c, logging.Scoped(log, "arbiter"))
	return c
}

// Admit registers a freshly-upgraded connection and starts its pumps. It
// blocks until the core has processed the admission, so the caller
// (an HTTP handler goroutine) observes a fully-registered connection (or a
// closed one, if capacity was exceeded) before returning.
func (c *Core) Admit(conn *transport.Conn) {
	a := admission{conn: conn, done: make(chan struct{})}
	c.admit <- a
	<-a.done
}

// Run is the single event loop. It returns when SIGINT or SIGTERM arrives
// and graceful shutdown completes.
func (c *Core) Run() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	statusTicker := time.NewTicker(statusLogInterval)
	defer statusTicker.Stop()
	minuteTicker := time.NewTicker(minuteRollInterval)
	defer minuteTicker.Stop()

	for {
		select {
		case sig := <-sigCh:
			c.log.Info("shutdown signal received", zap.String("signal", sig.String()))
			c.shutdown()
			return

		case a := <-c.admit:
			c.handleAdmit(a)

		case ev := <-c.events:
			c.handleEvent(ev)

		case <-c.inactivityFires():
			c.arb.HandleInactivityTimeout(time.Now())

		case <-c.bulkFlushFires():
			c.flushBulk()

		case <-statusTicker.C:
			c.logStatus()

		case <-minuteTicker.C:
			c.agg.RollMinute()
			c.met.SetDataPointsPerMinute(c.agg.DataPointsLastMinute())
		}
	}
}

// inactivityFires returns the current inactivity timer's channel, or a
// nil channel (which blocks forever in a select) when no timer is armed —
// this is what lets invariant I3 hold without a sentinel time value.
func (c *Core) inactivityFires() <-chan time.Time {
	if c.inactivityTimer == nil {
		return nil
	}
	return c.inactivityTimer.C
}

func (c *Core) bulkFlushFires() <-chan time.Time {
	if !c.bulkTickerOn {
		return nil
	}
	return c.bulkTicker.C
}

func (c *Core) handleAdmit(a admission) {
	defer close(a.done)
	now := time.Now()
	conn := a.conn

	rec, err := c.reg.Register(conn.ID, conn.Role, conn, conn.RemoteAddr, now)
	if err != nil {
		rec := &registry.Record{ID: conn.ID, Sender: conn}
		rec.SendJSON(protocol.RejectedOut{Type: protocol.TypeRejected, Reason: err.Error()})
		conn.Close()
		c.met.RecordProducerRejection("admission_denied")
		c.met.RecordError("admission_denied")
		c.log.Warn("producer admission rejected at capacity", zap.String("remoteAddr", conn.RemoteAddr))
		return
	}

	if conn.Role == registry.RoleProducer {
		c.met.RecordProducerAdmission()
	}
	go conn.WriteLoop()
	go conn.ReadLoop(c.events)

	switch conn.Role {
	case registry.RolePassive:
		rec.SendJSON(protocol.ListenerConnectedOut{Type: protocol.TypeListenerConnected})
	case registry.RoleOrientation:
		rec.SendJSON(protocol.OrientationListenerConnectedOut{Type: protocol.TypeOrientationListenerConnected})
	case registry.RoleBulk:
		rec.SendJSON(protocol.BulkListenerConnectedOut{
			Type:          protocol.TypeBulkListenerConnected,
			BatchInterval: c.bat.Interval().Milliseconds(),
			MaxBatchSize:  c.bat.MaxSize(),
		})
		c.armBulkTicker()
	}

	if conn.Role == registry.RoleProducer {
		c.fan.BroadcastUserConnected(rec)
	}
	c.updateConnectionGauges()
	c.pushStats(now)
}

func (c *Core) handleEvent(ev transport.Event) {
	if ev.Closed {
		if ev.Err != nil {
			c.log.Warn("connection closed with transport error", zap.String("connectionId", ev.ConnID), zap.Error(ev.Err))
			c.met.RecordError("transport_error")
		}
		c.handleDisconnect(ev.ConnID, ev.Role)
		return
	}
	c.handleMessage(ev.ConnID, ev.Role, ev.Message)
}

func (c *Core) handleDisconnect(connID string, role registry.Role) {
	rec, ok := c.reg.Unregister(role, connID)
	if !ok {
		return
	}
	now := time.Now()

	if role == registry.RoleProducer {
		c.arb.HandleDisconnect(rec, now)
		c.fan.BroadcastUserDisconnected(connID)
	}
	if role == registry.RoleBulk && c.reg.Count(registry.RoleBulk) == 0 {
		c.disarmBulkTicker()
	}
	c.updateConnectionGauges()
	c.pushStats(now)
}

// handleMessage dispatches one inbound frame. It recovers from any panic
// raised while decoding or handling the frame (e.g. a future encoding
// surprise tripping registry.Record.SendJSON's marshal panic) and treats it
// like a malformed message: the connection survives, the process does not
// go down (spec.md §7's "no error is fatal to the process", extended by
// SPEC_FULL.md §7 to cover frame-processing panics explicitly).
func (c *Core) handleMessage(connID string, role registry.Role, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic recovered while handling message", zap.String("connectionId", connID), zap.Any("panic", r))
			c.met.RecordError("panic")
		}
	}()
	start := time.Now()
	defer func() { c.met.RecordMessageLatency(time.Since(start)) }()

	rec, ok := c.reg.Get(role, connID)
	if !ok {
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Info("malformed message dropped", zap.String("connectionId", connID), zap.Error(err))
		c.met.RecordError("malformed_message")
		return
	}

	switch role {
	case registry.RoleProducer:
		c.handleProducerMessage(rec, env.Type, raw)
	case registry.RoleDashboard:
		c.handleDashboardMessage(rec, env.Type, raw)
	default:
		c.log.Info("unexpected inbound frame on subscriber role", zap.String("role", string(role)), zap.String("type", string(env.Type)))
	}
}

func (c *Core) handleProducerMessage(rec *registry.Record, typ protocol.Type, raw []byte) {
	now := time.Now()
	switch typ {
	case protocol.TypeHandshake:
		var in protocol.HandshakeIn
		if err := json.Unmarshal(raw, &in); err != nil {
			c.log.Info("malformed handshake dropped", zap.String("connectionId", rec.ID), zap.Error(err))
			c.met.RecordError("malformed_message")
			return
		}
		c.arb.HandleHandshake(rec, in.DeviceID, in.Username, now)
		c.pushStats(now)

	case protocol.TypeData:
		var in protocol.DataIn
		if err := json.Unmarshal(raw, &in); err != nil {
			c.log.Info("malformed data frame dropped", zap.String("connectionId", rec.ID), zap.Error(err))
			c.met.RecordError("malformed_message")
			return
		}
		accepted := c.arb.HandleData(rec, in.Data.ID, now)
		if accepted {
			c.met.RecordDataPoint()
			c.agg.RecordDataPoint()
			c.met.SetDataPointsPerMinute(c.agg.DataPointsLastMinute())
			c.fan.DispatchData(rec, in.Data, now)
			if dropped := c.bat.Dropped(); dropped > c.lastDropped {
				c.met.RecordBulkDropped(dropped - c.lastDropped)
				c.lastDropped = dropped
			}
			if c.bat.ShouldFlushOnSize() {
				c.flushBulk()
			}
		}
		c.pushStats(now)

	case protocol.TypeRequestSenderRole:
		c.arb.HandleRequestSenderRole(rec, now)

	default:
		c.log.Info("unknown producer message type", zap.String("connectionId", rec.ID), zap.String("type", string(typ)))
	}
}

func (c *Core) handleDashboardMessage(rec *registry.Record, typ protocol.Type, raw []byte) {
	now := time.Now()
	switch typ {
	case protocol.TypeGetStats:
		rec.SendJSON(fanout.BuildStatsSnapshot(c.reg, c.agg, c.bat, c.arb.ActiveSenderID(), now))

	case protocol.TypeKickUser:
		var in protocol.KickUserIn
		if err := json.Unmarshal(raw, &in); err != nil {
			c.met.RecordError("malformed_message")
			return
		}
		target, ok := c.arb.KickUser(in.UserID)
		if !ok {
			c.log.Info("kickUser target not found", zap.String("userId", in.UserID))
			c.met.RecordError("target_not_found")
			return
		}
		target.Close()

	case protocol.TypePromoteUser:
		var in protocol.PromoteUserIn
		if err := json.Unmarshal(raw, &in); err != nil {
			c.met.RecordError("malformed_message")
			return
		}
		if !c.arb.PromoteUser(in.UserID, now) {
			c.log.Info("promoteUser target not found", zap.String("userId", in.UserID))
			c.met.RecordError("target_not_found")
			return
		}
		c.pushStats(now)

	case protocol.TypeDemoteUser:
		c.arb.DemoteUser()
		c.pushStats(now)

	default:
		c.log.Info("unknown dashboard message type", zap.String("connectionId", rec.ID), zap.String("type", string(typ)))
	}
}

func (c *Core) pushStats(now time.Time) {
	c.met.SetBulkQueueDepth(c.bat.Len())
	c.fan.BroadcastStats(fanout.BuildStatsSnapshot(c.reg, c.agg, c.bat, c.arb.ActiveSenderID(), now))
}

// updateConnectionGauges refreshes the producers-active and per-role
// listener-count gauges after any admission or disconnect.
func (c *Core) updateConnectionGauges() {
	c.met.SetProducersActive(c.reg.Count(registry.RoleProducer))
	for _, role := range []registry.Role{registry.RoleDashboard, registry.RolePassive, registry.RoleOrientation, registry.RoleBulk} {
		c.met.SetListenerCount(role, c.reg.Count(role))
	}
}

// flushBulk dequeues one batch and sends it to bulk-listeners. Per spec.md
// §4.6, a flush with no bulk-listeners registered does not drain the queue
// — records accumulate for whoever attaches next.
func (c *Core) flushBulk() {
	if c.reg.Count(registry.RoleBulk) == 0 {
		return
	}
	if batch := c.bat.Flush(time.Now()); batch != nil {
		c.met.RecordBulkBatch(batch.BatchSize)
		c.met.SetBulkQueueDepth(c.bat.Len())
		c.fan.BroadcastBulkBatch(*batch)
	}
}

func (c *Core) logStatus() {
	if c.reg.Count(registry.RoleProducer)+c.reg.Count(registry.RoleDashboard)+
		c.reg.Count(registry.RolePassive)+c.reg.Count(registry.RoleOrientation)+
		c.reg.Count(registry.RoleBulk) == 0 {
		return
	}
	c.log.Info("status", zap.String("registry", c.reg.String()),
		zap.String("activeSender", c.arb.ActiveSenderID()),
		zap.Int64("totalDataPoints", c.agg.TotalDataPoints()),
		zap.Int("bulkQueue", c.bat.Len()))
}

func (c *Core) shutdown() {
	c.disarmInactivityTimer()
	c.disarmBulkTicker()

	if batch := c.bat.Flush(time.Now()); batch != nil {
		c.met.RecordBulkBatch(batch.BatchSize)
		c.fan.BroadcastBulkBatch(*batch)
	}

	shutdownMsg := protocol.ServerShutdownOut{Type: protocol.TypeServerShutdown}
	for _, role := range []registry.Role{registry.RoleProducer, registry.RolePassive, registry.RoleOrientation, registry.RoleBulk} {
		c.reg.Iterate(role, func(rec *registry.Record) {
			rec.SendJSON(shutdownMsg)
			rec.Sender.Close()
		})
	}
	c.reg.Iterate(registry.RoleDashboard, func(rec *registry.Record) {
		rec.Sender.Close()
	})

	c.log.Info("graceful shutdown complete")
}

// --- arbiter.Notifier implementation ------------------------------------

func (c *Core) SendToProducer(rec *registry.Record, msg interface{}) {
	rec.SendJSON(msg)
}

func (c *Core) BroadcastToProducersExcept(exceptID string, msg interface{}) {
	c.reg.Iterate(registry.RoleProducer, func(rec *registry.Record) {
		if rec.ID == exceptID {
			return
		}
		rec.SendJSON(msg)
	})
}

func (c *Core) SendToDashboards(msg interface{}) {
	c.reg.Iterate(registry.RoleDashboard, func(rec *registry.Record) {
		rec.SendJSON(msg)
	})
}

func (c *Core) ArmInactivityTimer(deadline time.Time) {
	c.disarmInactivityTimer()
	c.inactivityTimer = time.NewTimer(time.Until(deadline))
}

func (c *Core) CancelInactivityTimer() {
	c.disarmInactivityTimer()
}

func (c *Core) RecordRejection(reason string) {
	c.met.RecordProducerRejection(reason)
	c.met.RecordError(reason)
}

func (c *Core) RecordPromotion(reason string) {
	c.met.RecordActiveSenderChange(reason)
}

func (c *Core) disarmInactivityTimer() {
	if c.inactivityTimer != nil {
		c.inactivityTimer.Stop()
		c.inactivityTimer = nil
	}
}

func (c *Core) armBulkTicker() {
	if c.bulkTickerOn {
		return
	}
	c.bulkTicker = time.NewTicker(c.bat.Interval())
	c.bulkTickerOn = true
}

func (c *Core) disarmBulkTicker() {
	if !c.bulkTickerOn {
		return
	}
	c.bulkTicker.Stop()
	c.bulkTickerOn = false
}

// NextConnID produces a stable, process-unique connection id. Producers
// use the user_<millis>_<rand> form spec.md §3 names; other roles get an
// equivalent opaque id since the spec leaves their format unspecified.
// The <rand> part is base-36: a process-wide counter in its high bits keeps
// ids unique, and its low 20 bits are random.
func (c *Core) NextConnID(prefix string) string {
	seq := atomic.AddInt64(&c.nextConnSeq, 1)
	suffix := uint64(seq)<<20 | uint64(rand.Uint32()&0xFFFFF)
	return prefix + "_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + strconv.FormatUint(suffix, 36)
}
