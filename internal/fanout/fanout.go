// Package fanout implements the Fan-out Router (spec.md §4.5): for each
// accepted data frame it dispatches to orientation-listeners immediately,
// submits a bulk record to the Bulk Batcher, and broadcasts the
// full-payload legacy message to passive-listeners, plus notifies
// dashboards. It is grounded on the per-topic subscriber-set broadcast
// pattern in api-internal-telemetry-hub.go (other_examples): a plain
// map/slice of subscribers per role with a drop-on-full send, generalized
// here from anonymous string channels to typed JSON envelopes pushed
// through registry.Sender.
package fanout

import (
	"time"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/batcher"
	"github.com/jonmccon/pocket-parrot-relay/internal/metrics"
	"github.com/jonmccon/pocket-parrot-relay/internal/protocol"
	"github.com/jonmccon/pocket-parrot-relay/internal/registry"
	"github.com/jonmccon/pocket-parrot-relay/internal/stats"
)

// Router holds references to the registry (for subscriber iteration) and
// the batcher (for bulk submission). It owns no connections itself.
type Router struct {
	reg *registry.Registry
	bat *batcher.Batcher
	met *metrics.Metrics
	log *zap.Logger
}

func New(reg *registry.Registry, bat *batcher.Batcher, met *metrics.Metrics, log *zap.Logger) *Router {
	return &Router{reg: reg, bat: bat, met: met, log: log}
}

// DispatchData implements the three independent dispatches of spec.md §4.5
// for one accepted data frame, plus the dashboards dataReceived event.
// Orientation is emitted before anything else in this call, satisfying P4's
// per-frame ordering (orientation_data before bulk_data_batch/sensor_data
// derived from the same frame, within that one producer's event order).
func (r *Router) DispatchData(producer *registry.Record, sample protocol.SensorSample, now time.Time) {
	if sample.Orientation != nil {
		out := protocol.OrientationDataOut{
			Type:         protocol.TypeOrientationData,
			ConnectionID: producer.ID,
			Username:     producer.Username,
			Timestamp:    now.UnixMilli(),
			Orientation:  *sample.Orientation,
		}
		delivered := 0
		r.reg.Iterate(registry.RoleOrientation, func(rec *registry.Record) {
			rec.SendJSON(out)
			delivered++
		})
		r.met.ObserveOrientationLatency(time.Since(now))
		if delivered == 0 {
			r.log.Debug("orientation sample dispatched with no orientation-listeners connected", zap.String("connectionId", producer.ID))
		}
	}

	r.bat.Add(protocol.BulkRecord{
		Timestamp:    now.UnixMilli(),
		ProducerID:   producer.ID,
		Username:     producer.Username,
		GPS:          sample.GPS,
		Motion:       sample.Motion,
		Weather:      sample.Weather,
		Objects:      sample.ObjectsDetected,
		PhotoBase64:  sample.PhotoBase64,
		AudioBase64:  sample.AudioBase64,
		ColorPalette: sample.ColorPalette,
	})

	sensorOut := protocol.SensorDataOut{
		Type:         protocol.TypeSensorData,
		ConnectionID: producer.ID,
		Username:     producer.Username,
		Timestamp:    now.UnixMilli(),
		Data:         sample,
	}
	r.reg.Iterate(registry.RolePassive, func(rec *registry.Record) {
		rec.SendJSON(sensorOut)
	})

	r.reg.Iterate(registry.RoleDashboard, func(rec *registry.Record) {
		rec.SendJSON(protocol.DataReceivedOut{
			Type:         protocol.TypeDataReceived,
			ConnectionID: producer.ID,
			Timestamp:    now.UnixMilli(),
		})
	})
}

// BroadcastBulkBatch sends a flushed batch to every bulk-listener.
func (r *Router) BroadcastBulkBatch(batch protocol.BulkDataBatchOut) {
	r.reg.Iterate(registry.RoleBulk, func(rec *registry.Record) {
		rec.SendJSON(batch)
	})
}

// BroadcastStats pushes a stats snapshot to dashboards and passive-listeners
// (spec.md §4.7: "after every accepted data frame and at every
// connection/disconnection event").
func (r *Router) BroadcastStats(snapshot protocol.StatsOut) {
	r.reg.Iterate(registry.RoleDashboard, func(rec *registry.Record) {
		rec.SendJSON(snapshot)
	})
	r.reg.Iterate(registry.RolePassive, func(rec *registry.Record) {
		rec.SendJSON(snapshot)
	})
}

// BroadcastUserConnected notifies dashboards that a producer connected. The
// userConnected/userDisconnected pair is scoped to producers per the
// teacher's connection-lifecycle convention of naming only the roles that
// can become the active sender; other roles' admissions reach dashboards
// only through the stats snapshot.
func (r *Router) BroadcastUserConnected(rec *registry.Record) {
	out := protocol.UserConnectedOut{
		Type:         protocol.TypeUserConnected,
		ConnectionID: rec.ID,
		DeviceID:     rec.DeviceID,
		Username:     rec.Username,
	}
	r.reg.Iterate(registry.RoleDashboard, func(d *registry.Record) {
		d.SendJSON(out)
	})
}

func (r *Router) BroadcastUserDisconnected(connectionID string) {
	out := protocol.UserDisconnectedOut{Type: protocol.TypeUserDisconnected, ConnectionID: connectionID}
	r.reg.Iterate(registry.RoleDashboard, func(d *registry.Record) {
		d.SendJSON(out)
	})
}

// BuildStatsSnapshot assembles a StatsOut from current registry + aggregator
// + batcher state (spec.md §4.7's field list).
func BuildStatsSnapshot(reg *registry.Registry, agg *stats.Aggregator, bat *batcher.Batcher, activeSenderID string, now time.Time) protocol.StatsOut {
	producers := reg.Producers()
	rows := make([]protocol.ProducerStat, 0, len(producers))
	for _, p := range producers {
		var lastData int64
		if !p.LastDataTime.IsZero() {
			lastData = p.LastDataTime.UnixMilli()
		}
		rows = append(rows, protocol.ProducerStat{
			ConnectionID:   p.ID,
			ConnectedAt:    p.ConnectedAt.UnixMilli(),
			DataCount:      p.DataCount,
			LastDataTime:   lastData,
			Username:       p.Username,
			IsActiveSender: p.IsActiveSender,
			DeviceID:       p.DeviceID,
			RemoteAddr:     p.RemoteAddr,
		})
	}
	return protocol.StatsOut{
		Type:                 protocol.TypeStats,
		ActiveProducers:      reg.Count(registry.RoleProducer),
		PassiveListeners:     reg.Count(registry.RolePassive),
		OrientationListeners: reg.Count(registry.RoleOrientation),
		BulkListeners:        reg.Count(registry.RoleBulk),
		ActiveSender:         activeSenderID,
		TotalDataPoints:      agg.TotalDataPoints(),
		DataPointsLastMinute: agg.DataPointsLastMinute(),
		BulkQueueSize:        bat.Len(),
		UptimeSeconds:        agg.UptimeSeconds(now),
		Producers:            rows,
	}
}
