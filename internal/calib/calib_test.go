package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

func TestEstimateFunctionalAxisRecoversDominantAxis(t *testing.T) {
	// Gyro samples overwhelmingly rotating about Z, small noise elsewhere.
	samples := []quat.Vec3{
		{X: 0.01, Y: -0.01, Z: 1.0},
		{X: -0.02, Y: 0.01, Z: 0.9},
		{X: 0.0, Y: 0.02, Z: 1.1},
		{X: 0.01, Y: 0.0, Z: 0.95},
		{X: -0.01, Y: -0.02, Z: 1.05},
	}
	result := EstimateFunctionalAxis(samples)
	assert.Greater(t, math.Abs(result.Axis.Z), 0.9)
	assert.Greater(t, result.Confidence, 0.8)
}

func TestEstimateFunctionalAxisEmptyInput(t *testing.T) {
	result := EstimateFunctionalAxis(nil)
	assert.Equal(t, quat.Vec3{}, result.Axis)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestBuildAnatomicalBasisOrthogonalAxes(t *testing.T) {
	nod := quat.Vec3{X: 1, Y: 0, Z: 0}
	gravity := quat.Vec3{X: 0, Y: -1, Z: 0}
	q := BuildAnatomicalBasis(nod, gravity)
	assert.True(t, q.Finite())
	assert.InDelta(t, 1.0, q.Norm(), 1e-9)
}

func TestBuildAnatomicalBasisHandlesColinearGravity(t *testing.T) {
	nod := quat.Vec3{X: 0, Y: 1, Z: 0}
	gravity := quat.Vec3{X: 0, Y: 1, Z: 0} // colinear with nod axis
	assert.NotPanics(t, func() {
		q := BuildAnatomicalBasis(nod, gravity)
		assert.True(t, q.Finite())
	})
}

func TestSphericalMeanOfSingleSampleIsExact(t *testing.T) {
	q := quat.FromAxisAngle(quat.Vec3{X: 0, Y: 1, Z: 0}, 0.4)
	mean := SphericalMean([]quat.Quaternion{q})
	want := q.Hemisphere()
	assert.InDelta(t, want.W, mean.W, 1e-9)
	assert.InDelta(t, want.X, mean.X, 1e-9)
	assert.InDelta(t, want.Y, mean.Y, 1e-9)
	assert.InDelta(t, want.Z, mean.Z, 1e-9)
}

func TestSphericalMeanOfIdenticalCopiesIsExact(t *testing.T) {
	q := quat.FromAxisAngle(quat.Vec3{X: 1, Y: 0, Z: 0}, 0.9)
	samples := []quat.Quaternion{q, q, q, q}
	mean := SphericalMean(samples)
	want := q.Hemisphere()
	assert.InDelta(t, want.W, mean.W, 1e-9)
	assert.InDelta(t, want.X, mean.X, 1e-9)
}

func TestSphericalMeanEmptyReturnsIdentity(t *testing.T) {
	mean := SphericalMean(nil)
	assert.Equal(t, quat.Identity, mean)
}

func TestStillnessScoreIsOneForZeroVariance(t *testing.T) {
	q := quat.FromAxisAngle(quat.Vec3{X: 0, Y: 0, Z: 1}, 0.2)
	samples := []quat.Quaternion{q, q, q}
	mean := SphericalMean(samples)
	variance, score := StillnessScore(samples, mean)
	assert.InDelta(t, 0.0, variance, 1e-9)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestStillnessScoreDecreasesWithSpread(t *testing.T) {
	mean := quat.Identity
	tight := []quat.Quaternion{
		quat.FromAxisAngle(quat.Vec3{X: 0, Y: 0, Z: 1}, 0.001),
		quat.FromAxisAngle(quat.Vec3{X: 0, Y: 0, Z: 1}, -0.001),
	}
	spread := []quat.Quaternion{
		quat.FromAxisAngle(quat.Vec3{X: 0, Y: 0, Z: 1}, 0.5),
		quat.FromAxisAngle(quat.Vec3{X: 0, Y: 0, Z: 1}, -0.5),
	}
	_, tightScore := StillnessScore(tight, mean)
	_, spreadScore := StillnessScore(spread, mean)
	assert.Greater(t, tightScore, spreadScore)
}
