// Package batcher coalesces accepted sensor frames for the bulk-listener
// role, flushing on whichever comes first: MAX_BATCH_SIZE records or
// BATCH_INTERVAL elapsed (spec.md §4.6). It is grounded on
// odin-ws-server's pkg/websocket/ring_buffer.go, generalized from a
// fixed-capacity overwrite ring into the spec's cap-and-drop-oldest FIFO
// (DESIGN.md open-question decision #3) since the buffered unit here is a
// JSON record, not a byte slice meant for zero-copy reuse.
package batcher

import (
	"time"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/protocol"
)

// Config holds the BATCH_INTERVAL/MAX_BATCH_SIZE constants from spec.md §6,
// threaded in from config.RelayConfig rather than hardcoded so an operator
// can retune batching without a rebuild (SPEC_FULL.md §4.9).
type Config struct {
	Interval time.Duration
	MaxSize  int
}

// Batcher buffers BulkRecord values between flushes. All methods are
// called only from the single core goroutine; no internal locking.
type Batcher struct {
	cfg     Config
	queue   []protocol.BulkRecord
	dropped int64
	log     *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Batcher {
	return &Batcher{cfg: cfg, log: log}
}

// maxQueueDepth bounds memory when nothing is draining the batch (no
// bulk-listener connected): cap at 4x a single batch and drop the oldest
// record to make room for the newest.
func (b *Batcher) maxQueueDepth() int { return b.cfg.MaxSize * 4 }

// Add appends rec to the queue, evicting the oldest entry first if the
// queue is already at maxQueueDepth.
func (b *Batcher) Add(rec protocol.BulkRecord) {
	if len(b.queue) >= b.maxQueueDepth() {
		b.queue = b.queue[1:]
		b.dropped++
		b.log.Debug("bulk queue at capacity, dropping oldest record", zap.Int64("totalDropped", b.dropped))
	}
	b.queue = append(b.queue, rec)
}

// Len reports the current queue depth, surfaced as StatsOut.BulkQueueSize.
func (b *Batcher) Len() int { return len(b.queue) }

// Dropped reports the lifetime count of records evicted for capacity.
func (b *Batcher) Dropped() int64 { return b.dropped }

// ShouldFlushOnSize reports whether the size trigger has been reached.
func (b *Batcher) ShouldFlushOnSize() bool { return len(b.queue) >= b.cfg.MaxSize }

// Interval reports the configured flush interval, used to arm the core's
// bulk-flush ticker.
func (b *Batcher) Interval() time.Duration { return b.cfg.Interval }

// MaxSize reports the configured flush-trigger batch size.
func (b *Batcher) MaxSize() int { return b.cfg.MaxSize }

// Flush drains up to MaxSize records (oldest first) and returns them, or
// nil if the queue is empty. Called either on the size trigger or when the
// BATCH_INTERVAL ticker fires, whichever comes first (spec.md §4.6).
func (b *Batcher) Flush(now time.Time) *protocol.BulkDataBatchOut {
	if len(b.queue) == 0 {
		return nil
	}
	n := len(b.queue)
	if n > b.cfg.MaxSize {
		n = b.cfg.MaxSize
	}
	records := b.queue[:n]
	b.queue = b.queue[n:]
	return &protocol.BulkDataBatchOut{
		Type:      protocol.TypeBulkDataBatch,
		BatchSize: len(records),
		Timestamp: now.UnixMilli(),
		Records:   records,
	}
}
