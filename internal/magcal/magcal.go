// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package magcal implements the one-shot hard/soft-iron magnetometer
// calibration routine: centroid-based hard iron, covariance-eigenvector
// soft iron, and a coverage/residual/magnitude quality score. Eigen
// decomposition uses gonum's symmetric eigensolver, the same library
// internal/calib reaches for on the PCA side — both replace the spec's
// "power iteration with deflation is sufficient" suggestion with the
// pack's actual linear-algebra dependency.
package magcal

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

// Config tunes the calibration run, defaults per spec.md §4.4.2.
type Config struct {
	MinSamples        int
	MinSphereCoverage float64
	MaxResidual       float64 // uT
}

func DefaultConfig() Config {
	return Config{
		MinSamples:        200,
		MinSphereCoverage: 0.6,
		MaxResidual:        5,
	}
}

// Calibration is the computed (or loaded) correction, applied at runtime
// by Apply. The zero value is the identity calibration (no correction).
type Calibration struct {
	HardIron          quat.Vec3
	SoftIron          [3][3]float64 // identity if unset
	ExpectedMagnitude float64
	Residual          float64
	Quality           float64
	Valid             bool
	SampleCount       int
}

// Identity returns a pass-through calibration, useful before a real
// calibration has been captured.
func Identity() Calibration {
	c := Calibration{ExpectedMagnitude: 50}
	c.SoftIron[0][0], c.SoftIron[1][1], c.SoftIron[2][2] = 1, 1, 1
	return c
}

// Apply maps a raw magnetometer reading through the calibration:
// corrected = soft_iron * (raw - hard_iron).
func (c Calibration) Apply(raw quat.Vec3) quat.Vec3 {
	centered := raw.Sub(c.HardIron)
	return quat.Vec3{
		X: c.SoftIron[0][0]*centered.X + c.SoftIron[0][1]*centered.Y + c.SoftIron[0][2]*centered.Z,
		Y: c.SoftIron[1][0]*centered.X + c.SoftIron[1][1]*centered.Y + c.SoftIron[1][2]*centered.Z,
		Z: c.SoftIron[2][0]*centered.X + c.SoftIron[2][1]*centered.Y + c.SoftIron[2][2]*centered.Z,
	}
}

// Collector accumulates samples for a one-shot calibration run and tracks
// sphere coverage over a 26-sector 3x3x3 grid (center excluded).
type Collector struct {
	samples []quat.Vec3
	sectors map[[3]int]bool
}

func NewCollector() *Collector {
	return &Collector{sectors: make(map[[3]int]bool)}
}

// AddSample records one raw magnetometer reading and updates coverage.
func (c *Collector) AddSample(raw quat.Vec3) {
	c.samples = append(c.samples, raw)
	n := raw.Normalize()
	if n == (quat.Vec3{}) {
		return
	}
	sector := [3]int{sectorIndex(n.X), sectorIndex(n.Y), sectorIndex(n.Z)}
	if sector == ([3]int{0, 0, 0}) {
		return // center excluded from the 26-sector grid
	}
	c.sectors[sector] = true
}

func sectorIndex(v float64) int {
	switch {
	case v < -1.0/3:
		return -1
	case v > 1.0/3:
		return 1
	default:
		return 0
	}
}

// SphereCoverage returns the fraction of the 26 sectors touched so far.
func (c *Collector) SphereCoverage() float64 {
	return float64(len(c.sectors)) / 26.0
}

// SampleCount is the number of samples collected so far.
func (c *Collector) SampleCount() int { return len(c.samples) }

// Finish computes the calibration from the collected samples per
// spec.md §4.4.2's algorithm, irrespective of whether thresholds are met
// (the caller inspects Valid before committing).
func (c *Collector) Finish(cfg Config) Calibration {
	n := len(c.samples)
	result := Calibration{SampleCount: n}
	if n == 0 {
		return result
	}

	var centroid quat.Vec3
	for _, s := range c.samples {
		centroid = centroid.Add(s)
	}
	centroid = centroid.Scale(1 / float64(n))
	result.HardIron = centroid

	cov := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			var sum float64
			for _, s := range c.samples {
				d := s.Sub(centroid)
				di := component(d, i)
				dj := component(d, j)
				sum += di * dj
			}
			cov.SetSym(i, j, sum/float64(n))
		}
	}

	var eig mat.EigenSym
	ok := eig.Factorize(cov, true)
	if !ok {
		result.SoftIron = identity3()
		result.ExpectedMagnitude = 0
		return result
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	lambdaBar := (values[0] + values[1] + values[2]) / 3
	expectedMag := math.Sqrt(math.Max(lambdaBar, 0))
	result.ExpectedMagnitude = expectedMag

	scales := make([]float64, 3)
	for i, lambda := range values {
		if lambda <= 1e-12 {
			scales[i] = 1
			continue
		}
		scales[i] = math.Sqrt(lambdaBar / lambda)
	}

	// soft_iron = V * diag(scales) * V^T
	var v mat.Dense
	v.CloneFrom(&vectors)
	var scaled mat.Dense
	scaled.CloneFrom(&v)
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			scaled.Set(r, col, v.At(r, col)*scales[col])
		}
	}
	var soft mat.Dense
	soft.Mul(&scaled, v.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			result.SoftIron[i][j] = soft.At(i, j)
		}
	}

	var sumSqErr float64
	for _, s := range c.samples {
		corrected := result.Apply(s)
		diff := corrected.Norm() - expectedMag
		sumSqErr += diff * diff
	}
	residual := math.Sqrt(sumSqErr / float64(n))
	result.Residual = residual

	coverage := c.SphereCoverage()
	residualScore := clamp01(1 - residual/ (cfg.MaxResidual*2))
	magnitudeScore := clamp01(1 - math.Abs(expectedMag-50)/50)
	result.Quality = 0.4*clamp01(coverage/cfg.MinSphereCoverage) + 0.4*residualScore + 0.2*magnitudeScore

	result.Valid = residual < cfg.MaxResidual && result.Quality > 0.5 && n >= cfg.MinSamples && coverage >= cfg.MinSphereCoverage
	return result
}

func component(v quat.Vec3, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func identity3() [3][3]float64 {
	var m [3][3]float64
	m[0][0], m[1][1], m[2][2] = 1, 1, 1
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
