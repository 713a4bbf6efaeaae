package taring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

func TestNewStateAppliesAsIdentity(t *testing.T) {
	s := NewState()
	q := quat.FromAxisAngle(quat.Vec3{X: 0, Y: 1, Z: 0}, 0.5)
	world, ok := s.Apply(q)
	require.True(t, ok)
	assert.InDelta(t, q.Hemisphere().W, world.W, 1e-9)
	assert.InDelta(t, q.Hemisphere().X, world.X, 1e-9)
}

func TestApplyRejectsNonFiniteInput(t *testing.T) {
	s := NewState()
	bad := quat.Quaternion{W: math.NaN()}
	_, ok := s.Apply(bad)
	assert.False(t, ok)
}

func TestSinglePoseMountingTareMapsCalToTarget(t *testing.T) {
	qCal := quat.FromAxisAngle(quat.Vec3{X: 0, Y: 1, Z: 0}, 0.3)
	qTarget := quat.FromAxisAngle(quat.Vec3{X: 1, Y: 0, Z: 0}, 0.1)

	tare := CaptureMountingTareSinglePose(qCal, qTarget)

	s := NewState()
	s.MountingTare = tare
	world, ok := s.Apply(qCal)
	require.True(t, ok)

	assert.InDelta(t, qTarget.Hemisphere().W, world.W, 1e-6)
	assert.InDelta(t, qTarget.Hemisphere().X, world.X, 1e-6)
	assert.InDelta(t, qTarget.Hemisphere().Y, world.Y, 1e-6)
	assert.InDelta(t, qTarget.Hemisphere().Z, world.Z, 1e-6)
}

func TestHeadingTareZeroesYawButKeepsTiltAndRoll(t *testing.T) {
	// Bone pointing forward but yawed 90 degrees from the room frame.
	boneQ := quat.FromAxisAngle(quat.Vec3{X: 0, Y: 1, Z: 0}, math.Pi/2)

	headingTare := CaptureHeadingTare(boneQ)

	s := NewState()
	s.HeadingTare = headingTare
	world, ok := s.Apply(boneQ)
	require.True(t, ok)

	// After heading tare, the bone's forward vector should point back
	// along +Z (zero yaw) in the tared world frame.
	forward := world.Rotate(quat.Vec3{Z: 1})
	assert.InDelta(t, 0.0, forward.X, 1e-6)
	assert.InDelta(t, 1.0, forward.Z, 1e-6)
}

func TestResetLevelAllRestoresIdentityTares(t *testing.T) {
	s := NewState()
	s.MountingTare = quat.FromAxisAngle(quat.Vec3{X: 1, Y: 0, Z: 0}, 0.4)
	s.HeadingTare = quat.FromAxisAngle(quat.Vec3{Y: 1}, 0.2)
	s.MountingTareSet = time.Now()

	s.Reset(LevelAll)

	assert.Equal(t, quat.Identity, s.MountingTare)
	assert.Equal(t, quat.Identity, s.HeadingTare)
	assert.True(t, s.MountingTareSet.IsZero())
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	s := NewState()
	s.MountingTare = quat.FromAxisAngle(quat.Vec3{X: 1, Y: 0, Z: 0}, 0.4)
	s.MountingTareSet = time.Unix(1700000000, 0)
	s.HeadingTare = quat.FromAxisAngle(quat.Vec3{Y: 1}, 0.2)
	s.HeadingTareSet = time.Unix(1700000001, 0)
	s.FrameAlignment = quat.FromAxisAngle(quat.Vec3{Z: 1}, 0.1)
	s.HasFrameAlignment = true
	s.FrameAlignmentSet = time.Unix(1700000002, 0)
	s.JointTare = JointTare{Flexion: 5, Abduction: -3, Rotation: 1.5}

	p := s.Serialize("pelvis")
	require.Equal(t, "pelvis", p.SegmentID)
	require.NotNil(t, p.FrameAlignment)

	restored := Deserialize(p)
	assert.Equal(t, s.MountingTare, restored.MountingTare)
	assert.Equal(t, s.MountingTareSet.Unix(), restored.MountingTareSet.Unix())
	assert.Equal(t, s.HeadingTare, restored.HeadingTare)
	assert.Equal(t, s.FrameAlignment, restored.FrameAlignment)
	assert.True(t, restored.HasFrameAlignment)
	assert.Equal(t, s.JointTare, restored.JointTare)
}

func TestTwoLayerMountingTareComposesStartAndAlignment(t *testing.T) {
	qStart := quat.FromAxisAngle(quat.Vec3{X: 0, Y: 1, Z: 0}, 0.6)
	r := quat.FromAxisAngle(quat.Vec3{X: 1, Y: 0, Z: 0}, 0.2)

	mountingTare, frameAlignment := CaptureMountingTareTwoLayer(qStart, r)

	s := NewState()
	s.MountingTare = mountingTare
	s.FrameAlignment = frameAlignment
	s.HasFrameAlignment = true

	world, ok := s.Apply(qStart)
	require.True(t, ok)
	// world = headingTare^-1 * (qStart * mountingTare * frameAlignment)
	//       = qStart * qStart^-1 * R = R, given identity heading tare.
	assert.InDelta(t, r.Hemisphere().W, world.Hemisphere().W, 1e-6)
	assert.InDelta(t, r.Hemisphere().X, world.Hemisphere().X, 1e-6)
	assert.InDelta(t, r.Hemisphere().Y, world.Hemisphere().Y, 1e-6)
	assert.InDelta(t, r.Hemisphere().Z, world.Hemisphere().Z, 1e-6)
}

// geodesicDegrees is the rotation angle in degrees between two unit
// quaternions, shorter hemisphere. Mirrors internal/calib's
// geodesicDistance; duplicated here so this package's tests don't reach
// into calib for a one-line helper.
func geodesicDegrees(a, b quat.Quaternion) float64 {
	d := a.Dot(b)
	if d < 0 {
		d = -d
	}
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d) * 180 / math.Pi
}

// TestTwoLayerRecoversMisalignmentASinglePoseCannotSeeButNaiveSingleLayerFails is the spec.md §8
// scenario 5 regression guard: a sensor mounted with a fixed offset
// purely about the vertical axis is invisible to an accel-only single
// calibration pose (rotating about "up" does not change which way
// gravity points in sensor frame), so the naive single-pose construction
// leaves the offset uncorrected. The two-layer construction's R, sourced
// from the gyro-observed rotation axis during a cued motion rather than
// from gravity, recovers it. The test asserts the naive construction
// fails by more than 10 degrees, to prevent a regression to the simpler
// construction.
func TestTwoLayerRecoversMisalignmentASinglePoseCannotSeeButNaiveSingleLayerFails(t *testing.T) {
	// Fixed mounting offset: 90 degrees about the sensor's local vertical
	// (Y), the axis accelerometer-only leveling cannot observe.
	mount := quat.FromAxisAngle(quat.Vec3{Y: 1}, math.Pi/2)

	// True bone orientation is identity at the calibration instant, and a
	// 45 degree flexion about bone-local X afterward.
	boneAtCalibration := quat.Identity
	boneAfterFlexion := quat.FromAxisAngle(quat.Vec3{X: 1}, math.Pi/4)

	sensorAfterFlexion := boneAfterFlexion.Mul(mount)

	// What an accel-only calibration pose actually measures: blind to the
	// mount's vertical-axis component, it reports the tilt-only reading,
	// which for a purely-vertical mount offset is indistinguishable from
	// boneAtCalibration itself.
	blindCalReading := boneAtCalibration

	naiveTare := CaptureMountingTareSinglePose(blindCalReading, quat.Identity)
	naive := NewState()
	naive.MountingTare = naiveTare
	naiveWorld, ok := naive.Apply(sensorAfterFlexion)
	require.True(t, ok)
	naiveErr := geodesicDegrees(naiveWorld, boneAfterFlexion)
	assert.Greater(t, naiveErr, 10.0, "naive single-pose construction must regress by more than 10 degrees")

	// Two-layer starts from the same blind reading, but carries R: the
	// PCA+boresight correction (internal/calib) derived from the cued
	// motion's gyro-sensed axis, which recovers the mount's inverse
	// regardless of which axis it sits on.
	functionalAxisCorrection := mount.Inverse()
	mountingTare, frameAlignment := CaptureMountingTareTwoLayer(blindCalReading, functionalAxisCorrection)
	twoLayer := NewState()
	twoLayer.MountingTare = mountingTare
	twoLayer.FrameAlignment = frameAlignment
	twoLayer.HasFrameAlignment = true

	twoLayerWorld, ok := twoLayer.Apply(sensorAfterFlexion)
	require.True(t, ok)
	twoLayerErr := geodesicDegrees(twoLayerWorld, boneAfterFlexion)
	assert.Less(t, twoLayerErr, 2.0, "two-layer construction must stay within 2 degrees")
}
