package batcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/protocol"
)

const testMaxBatchSize = 10

func testConfig() Config {
	return Config{Interval: 1000 * time.Millisecond, MaxSize: testMaxBatchSize}
}

func newTestBatcher() *Batcher {
	return New(testConfig(), zap.NewNop())
}

func TestFlush_EmptyQueueReturnsNil(t *testing.T) {
	b := newTestBatcher()
	assert.Nil(t, b.Flush(time.Now()))
}

func TestAdd_IncreasesLen(t *testing.T) {
	b := newTestBatcher()
	b.Add(protocol.BulkRecord{ProducerID: "p1"})
	b.Add(protocol.BulkRecord{ProducerID: "p1"})
	assert.Equal(t, 2, b.Len())
}

func TestShouldFlushOnSize_TriggersAtMaxBatchSize(t *testing.T) {
	b := newTestBatcher()
	for i := 0; i < testMaxBatchSize-1; i++ {
		b.Add(protocol.BulkRecord{})
		assert.False(t, b.ShouldFlushOnSize())
	}
	b.Add(protocol.BulkRecord{})
	assert.True(t, b.ShouldFlushOnSize())
}

func TestFlush_DrainsOldestFirstUpToMaxBatchSize(t *testing.T) {
	b := newTestBatcher()
	for i := 0; i < testMaxBatchSize+3; i++ {
		b.Add(protocol.BulkRecord{ProducerID: string(rune('a' + i))})
	}

	batch := b.Flush(time.Now())

	require.NotNil(t, batch)
	assert.Equal(t, testMaxBatchSize, batch.BatchSize)
	assert.Equal(t, "a", batch.Records[0].ProducerID)
	assert.Equal(t, 3, b.Len(), "remaining records stay queued for the next flush")
}

func TestAdd_DropsOldestPastMaxQueueDepth(t *testing.T) {
	b := newTestBatcher()
	depth := b.maxQueueDepth()
	for i := 0; i < depth+5; i++ {
		b.Add(protocol.BulkRecord{ProducerID: string(rune('a' + i%26))})
	}

	assert.Equal(t, depth, b.Len())
	assert.Equal(t, int64(5), b.Dropped())
}

func TestFlush_ReturnsBulkDataBatchEnvelope(t *testing.T) {
	b := newTestBatcher()
	b.Add(protocol.BulkRecord{ProducerID: "p1"})
	now := time.Now()

	batch := b.Flush(now)

	require.NotNil(t, batch)
	assert.Equal(t, protocol.TypeBulkDataBatch, batch.Type)
	assert.Equal(t, now.UnixMilli(), batch.Timestamp)
	assert.Equal(t, 1, batch.BatchSize)
}

func TestInterval_MaxSize_ReportConfiguredValues(t *testing.T) {
	b := newTestBatcher()
	assert.Equal(t, 1000*time.Millisecond, b.Interval())
	assert.Equal(t, testMaxBatchSize, b.MaxSize())
}
