package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordDataPoint_IncrementsTotalAndMinuteCounters(t *testing.T) {
	a := New(time.Now())
	a.RecordDataPoint()
	a.RecordDataPoint()

	assert.Equal(t, int64(2), a.TotalDataPoints())
	assert.Equal(t, int64(0), a.DataPointsLastMinute(), "the current minute hasn't rolled yet")
}

func TestRollMinute_FreezesCountAndResets(t *testing.T) {
	a := New(time.Now())
	a.RecordDataPoint()
	a.RecordDataPoint()
	a.RecordDataPoint()

	a.RollMinute()

	assert.Equal(t, int64(3), a.DataPointsLastMinute())
	assert.Equal(t, int64(3), a.TotalDataPoints(), "lifetime total is never reset")

	a.RecordDataPoint()
	a.RollMinute()

	assert.Equal(t, int64(1), a.DataPointsLastMinute())
	assert.Equal(t, int64(4), a.TotalDataPoints())
}

func TestUptimeSeconds_MeasuresFromStart(t *testing.T) {
	start := time.Now()
	a := New(start)

	got := a.UptimeSeconds(start.Add(90 * time.Second))

	assert.InDelta(t, 90, got, 0.001)
}
