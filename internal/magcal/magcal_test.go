package magcal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

func TestIdentityCalibrationPassesThrough(t *testing.T) {
	c := Identity()
	raw := quat.Vec3{X: 1, Y: 2, Z: 3}
	got := c.Apply(raw)
	assert.InDelta(t, raw.X, got.X, 1e-12)
	assert.InDelta(t, raw.Y, got.Y, 1e-12)
	assert.InDelta(t, raw.Z, got.Z, 1e-12)
}

func TestApplySubtractsHardIron(t *testing.T) {
	c := Identity()
	c.HardIron = quat.Vec3{X: 5, Y: -5, Z: 2}
	raw := quat.Vec3{X: 5, Y: -5, Z: 2}
	got := c.Apply(raw)
	assert.InDelta(t, 0, got.X, 1e-12)
	assert.InDelta(t, 0, got.Y, 1e-12)
	assert.InDelta(t, 0, got.Z, 1e-12)
}

// sphereSamples generates points roughly on a sphere of radius r offset by
// center, sweeping enough directions to cover all 26 sectors.
func sphereSamples(center quat.Vec3, r float64, n int) []quat.Vec3 {
	samples := make([]quat.Vec3, 0, n)
	for i := 0; i < n; i++ {
		theta := math.Pi * float64(i) / float64(n)
		phi := 2 * math.Pi * float64(i) * 1.61803398875 // golden-angle sweep for even spread
		x := r * math.Sin(theta) * math.Cos(phi)
		y := r * math.Sin(theta) * math.Sin(phi)
		z := r * math.Cos(theta)
		samples = append(samples, quat.Vec3{X: x + center.X, Y: y + center.Y, Z: z + center.Z})
	}
	return samples
}

func TestFinishRecoversHardIronAndMagnitudeFromCleanSphere(t *testing.T) {
	center := quat.Vec3{X: 10, Y: -3, Z: 4}
	radius := 50.0
	collector := NewCollector()
	for _, s := range sphereSamples(center, radius, 400) {
		collector.AddSample(s)
	}

	cfg := DefaultConfig()
	result := collector.Finish(cfg)

	assert.InDelta(t, center.X, result.HardIron.X, 1.0)
	assert.InDelta(t, center.Y, result.HardIron.Y, 1.0)
	assert.InDelta(t, center.Z, result.HardIron.Z, 1.0)
	assert.InDelta(t, radius, result.ExpectedMagnitude, 1.0)
	assert.Less(t, result.Residual, cfg.MaxResidual)
	assert.GreaterOrEqual(t, collector.SphereCoverage(), 0.9)
}

func TestFinishInvalidBelowMinSamples(t *testing.T) {
	center := quat.Vec3{}
	collector := NewCollector()
	for _, s := range sphereSamples(center, 50, 10) {
		collector.AddSample(s)
	}

	cfg := DefaultConfig()
	result := collector.Finish(cfg)
	assert.False(t, result.Valid)
	assert.Equal(t, 10, result.SampleCount)
}

func TestFinishZeroSamplesReturnsZeroValue(t *testing.T) {
	collector := NewCollector()
	result := collector.Finish(DefaultConfig())
	assert.False(t, result.Valid)
	assert.Equal(t, 0, result.SampleCount)
}

func TestSphereCoverageIncreasesWithDiverseSamples(t *testing.T) {
	collector := NewCollector()
	require.Equal(t, 0.0, collector.SphereCoverage())
	for _, s := range sphereSamples(quat.Vec3{}, 50, 200) {
		collector.AddSample(s)
	}
	assert.Greater(t, collector.SphereCoverage(), 0.5)
}

func TestSampleCountTracksAddSample(t *testing.T) {
	collector := NewCollector()
	for i := 0; i < 7; i++ {
		collector.AddSample(quat.Vec3{X: float64(i)})
	}
	assert.Equal(t, 7, collector.SampleCount())
}
