package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danstonedev/MASH-sub003/internal/disturbance"
	"github.com/danstonedev/MASH-sub003/internal/fusion"
	"github.com/danstonedev/MASH-sub003/internal/jitter"
	"github.com/danstonedev/MASH-sub003/internal/joints"
	"github.com/danstonedev/MASH-sub003/internal/magcal"
	"github.com/danstonedev/MASH-sub003/internal/quat"
	"github.com/danstonedev/MASH-sub003/internal/skeleton"
	"github.com/danstonedev/MASH-sub003/internal/wire"
)

func twoSegmentConfig() Config {
	return Config{
		Sensors: []SensorConfig{
			{SensorID: 1, Segment: skeleton.SegmentPelvis},
			{SensorID: 2, Segment: skeleton.SegmentThighL},
		},
		Jitter: jitter.DefaultConfig(),
		Fusion: fusion.DefaultConfig(),
		MagCal: magcal.Config{MinSamples: 10, MinSphereCoverage: 0.1, MaxResidual: 50},
		Disturbance: disturbance.DefaultConfig(50, 60),
		SampleHz:    100,
	}
}

func identityPacket(t *testing.T, frame, ts uint32) []byte {
	t.Helper()
	samples := []wire.RawSample{
		{SensorID: 1, Quaternion: [4]float64{1, 0, 0, 0}, Accel: [3]float64{0, 9.81, 0}, Valid: true},
		{SensorID: 2, Quaternion: [4]float64{1, 0, 0, 0}, Accel: [3]float64{0, 9.81, 0}, Valid: true},
	}
	packet, err := wire.Encode(frame, ts, samples)
	require.NoError(t, err)
	return packet
}

func TestFeedAndPopFramesProducesOrientationAndJoint(t *testing.T) {
	now := time.Unix(0, 0)
	sess := New(twoSegmentConfig(), func() time.Time { return now })

	sess.Feed(identityPacket(t, 1, 1000))
	outputs := sess.PopFrames()
	require.Len(t, outputs, 1)

	out := outputs[0]
	assert.Equal(t, uint32(1), out.FrameNumber)
	_, ok := out.Orientations[skeleton.SegmentPelvis]
	assert.True(t, ok)
	_, ok = out.Orientations[skeleton.SegmentThighL]
	assert.True(t, ok)

	hip, ok := out.Joints[skeleton.JointHipL]
	require.True(t, ok)
	assert.InDelta(t, 0.0, hip.Flexion, 1e-3)
}

func TestJointChannelFiltersSmoothStepChangeOverSuccessiveFrames(t *testing.T) {
	jf := newJointChannelFilters(100)

	first := jf.apply(joints.Angles{Flexion: 0, Abduction: 0, Rotation: 0})
	assert.InDelta(t, 0.0, first.Flexion, 1e-9, "first sample initializes the filter, no lag")

	stepped := jf.apply(joints.Angles{Flexion: 20, Abduction: 0, Rotation: 0})
	assert.Greater(t, stepped.Flexion, 0.0)
	assert.Less(t, stepped.Flexion, 20.0, "a single-pole low-pass must not jump straight to a step input")
}

func TestResetClearsJointFiltersOnFullReset(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	jf := sess.jointFilters[skeleton.JointHipL]
	jf.apply(joints.Angles{Flexion: 5})
	jf.apply(joints.Angles{Flexion: 20})

	sess.Reset(nil)

	// A filter reset re-initializes to the next sample with no lag.
	out := jf.apply(joints.Angles{Flexion: 7})
	assert.InDelta(t, 7.0, out.Flexion, 1e-9)
}

func TestFeedDropsMalformedPacket(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	sess.Feed([]byte{0x00, 0x01, 0x02})
	assert.Equal(t, int64(1), sess.DecodeStats().PacketsDropped)
	assert.Equal(t, int64(0), sess.DecodeStats().PacketsDecoded)
}

func TestResetClearsFusionStateToIdentity(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	sess.Feed(identityPacket(t, 1, 1000))
	sess.PopFrames()

	sess.Reset(nil)
	q, ok := sess.SensorQuaternion(skeleton.SegmentPelvis)
	require.True(t, ok)
	assert.Equal(t, quat.Identity, q)
}

func TestSensorQuaternionUnknownSegmentReturnsFalse(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	_, ok := sess.SensorQuaternion(skeleton.SegmentHead)
	assert.False(t, ok)
}

func TestMagCalibrationLifecycleRejectsUnknownSensor(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	err := sess.StartMagCalibration(99)
	assert.Error(t, err)

	err = sess.AddMagSample(99, quat.Vec3{})
	assert.Error(t, err)

	_, err = sess.FinishMagCalibration(99)
	assert.Error(t, err)
}

func TestMagCalibrationLifecycleCompletes(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	require.NoError(t, sess.StartMagCalibration(1))

	for i := 0; i < 50; i++ {
		v := quat.Vec3{X: float64(i % 5), Y: float64((i + 1) % 5), Z: float64((i + 2) % 5)}
		require.NoError(t, sess.AddMagSample(1, v))
	}

	result, err := sess.FinishMagCalibration(1)
	require.NoError(t, err)
	assert.Equal(t, 50, result.SampleCount)

	// Run is cleared regardless of validity.
	err = sess.AddMagSample(1, quat.Vec3{})
	assert.Error(t, err)
}

func TestCaptureMountingTareMapsCurrentPoseToTarget(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	current := quat.FromAxisAngle(quat.Vec3{Y: 1}, 0.4)
	target := quat.Identity

	require.NoError(t, sess.CaptureMountingTare(skeleton.SegmentPelvis, current, target, nil))

	records := sess.SerializeTares()
	found := false
	for _, r := range records {
		if r.SegmentID == string(skeleton.SegmentPelvis) {
			found = true
			assert.NotZero(t, r.MountingTareSet)
		}
	}
	assert.True(t, found)
}

func TestCaptureMountingTareRejectsUnknownSegment(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	err := sess.CaptureMountingTare("nonexistent", quat.Identity, quat.Identity, nil)
	assert.Error(t, err)
}

func TestSerializeDeserializeTaresRoundTrip(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	require.NoError(t, sess.CaptureHeadingTare(skeleton.SegmentPelvis, quat.FromAxisAngle(quat.Vec3{Y: 1}, 0.2)))

	records := sess.SerializeTares()

	other := New(twoSegmentConfig(), nil)
	other.DeserializeTares(records)

	originalRecords := sess.SerializeTares()
	restoredRecords := other.SerializeTares()
	require.Equal(t, len(originalRecords), len(restoredRecords))
}

func TestSetMagEnabledDisablesMagnetometerPath(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	sess.SetMagEnabled(false)
	sess.Feed(identityPacket(t, 1, 1000))
	outputs := sess.PopFrames()
	require.Len(t, outputs, 1)
}

func TestJitterAndAssemblerCountersAreExposed(t *testing.T) {
	sess := New(twoSegmentConfig(), nil)
	sess.Feed(identityPacket(t, 1, 1000))
	sess.PopFrames()
	assert.GreaterOrEqual(t, sess.AssemblerCounters().Completed, int64(1))
}
