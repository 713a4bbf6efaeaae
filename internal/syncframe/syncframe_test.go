package syncframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danstonedev/MASH-sub003/internal/wire"
)

func clockAt(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func cfgFor(ids ...uint8) Config {
	c := DefaultConfig(ids)
	return c
}

func TestSlotCompletesWhenAllExpectedSensorsReport(t *testing.T) {
	now, _ := clockAt(time.Unix(0, 0))
	a := New(cfgFor(1, 2), now)

	a.Add(wire.RawSample{SensorID: 1, TimestampUs: 1000, FrameNumber: 7})
	assert.Empty(t, a.Pop())

	a.Add(wire.RawSample{SensorID: 2, TimestampUs: 1010, FrameNumber: 7})
	ready := a.Pop()
	require.Len(t, ready, 1)
	assert.Equal(t, uint32(7), ready[0].FrameNumber)
	assert.Len(t, ready[0].Samples, 2)
}

func TestSamplesWithinToleranceShareASlot(t *testing.T) {
	now, _ := clockAt(time.Unix(0, 0))
	cfg := cfgFor(1, 2)
	cfg.TimestampToleranceUs = 100
	a := New(cfg, now)

	a.Add(wire.RawSample{SensorID: 1, TimestampUs: 1000})
	a.Add(wire.RawSample{SensorID: 2, TimestampUs: 1090}) // within 100us tolerance

	ready := a.Pop()
	require.Len(t, ready, 1)
	assert.Len(t, ready[0].Samples, 2)
}

func TestSamplesOutsideToleranceGetSeparateSlots(t *testing.T) {
	now, _ := clockAt(time.Unix(0, 0))
	cfg := cfgFor(1, 2)
	cfg.TimestampToleranceUs = 100
	a := New(cfg, now)

	a.Add(wire.RawSample{SensorID: 1, TimestampUs: 1000})
	a.Add(wire.RawSample{SensorID: 2, TimestampUs: 5000}) // far outside tolerance

	assert.Empty(t, a.Pop()) // neither slot complete (each missing one sensor)
}

func TestUnknownSensorIsIgnoredNotError(t *testing.T) {
	now, _ := clockAt(time.Unix(0, 0))
	a := New(cfgFor(1), now)

	a.Add(wire.RawSample{SensorID: 99, TimestampUs: 1000})
	assert.Equal(t, int64(1), a.Counters().Ignored)
	assert.Empty(t, a.Pop())
}

func TestIncompleteSlotExpiresAfterTimeout(t *testing.T) {
	now, advance := clockAt(time.Unix(0, 0))
	cfg := cfgFor(1, 2)
	cfg.SlotTimeout = 50 * time.Millisecond
	a := New(cfg, now)

	a.Add(wire.RawSample{SensorID: 1, TimestampUs: 1000})
	assert.Empty(t, a.Pop())

	advance(51 * time.Millisecond)
	assert.Empty(t, a.Pop())
	assert.Equal(t, int64(1), a.Counters().Incomplete)
}

func TestTimestampWraparoundComparesCorrectly(t *testing.T) {
	now, _ := clockAt(time.Unix(0, 0))
	cfg := cfgFor(1, 2)
	cfg.TimestampToleranceUs = 100
	a := New(cfg, now)

	near := uint32(1<<32 - 20)
	a.Add(wire.RawSample{SensorID: 1, TimestampUs: near})
	a.Add(wire.RawSample{SensorID: 2, TimestampUs: 30}) // wraps past max uint32, 50us away

	ready := a.Pop()
	require.Len(t, ready, 1)
	assert.Len(t, ready[0].Samples, 2)
}

func TestPopOrdersFramesByTimestamp(t *testing.T) {
	now, _ := clockAt(time.Unix(0, 0))
	a := New(cfgFor(1), now)

	a.Add(wire.RawSample{SensorID: 1, TimestampUs: 3000, FrameNumber: 3})
	a.Add(wire.RawSample{SensorID: 1, TimestampUs: 1000, FrameNumber: 1})
	ready := a.Pop()

	require.Len(t, ready, 2)
	assert.Equal(t, uint32(1), ready[0].FrameNumber)
	assert.Equal(t, uint32(3), ready[1].FrameNumber)
	assert.Less(t, ready[0].TimestampUs, ready[1].TimestampUs)
}
