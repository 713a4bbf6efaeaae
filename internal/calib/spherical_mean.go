// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"math"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

// SphericalMeanIterations is the default iteration count for the
// hemisphere-aligned Karcher mean, per spec.md §4.6.2 ("~10 iterations").
const SphericalMeanIterations = 10

// Stillness thresholds, per spec.md §4.6.2.
const (
	StillnessExcellent  = 1e-4
	StillnessGood       = 1e-3
	StillnessAcceptable = 1e-2
	StillnessRejectBelow = 0.3
)

// SphericalMean computes the iterative Karcher mean of a set of unit
// quaternions, hemisphere-aligning each sample to the running mean before
// summing. A single input, or N copies of the same quaternion, converges
// to that quaternion exactly (tested as an idempotence property).
func SphericalMean(samples []quat.Quaternion) quat.Quaternion {
	if len(samples) == 0 {
		return quat.Identity
	}
	mean := samples[0].Normalize()
	for iter := 0; iter < SphericalMeanIterations; iter++ {
		sum := quat.Quaternion{}
		for _, s := range samples {
			s = s.Normalize()
			if mean.Dot(s) < 0 {
				s = quat.Quaternion{W: -s.W, X: -s.X, Y: -s.Y, Z: -s.Z}
			}
			sum.W += s.W
			sum.X += s.X
			sum.Y += s.Y
			sum.Z += s.Z
		}
		mean = sum.Normalize()
	}
	return mean.Hemisphere()
}

// geodesicDistance is the rotation angle (radians) between two unit
// quaternions, taking the shorter hemisphere.
func geodesicDistance(a, b quat.Quaternion) float64 {
	d := a.Dot(b)
	if d < 0 {
		d = -d
	}
	d = math.Min(1, d)
	return 2 * math.Acos(d)
}

// StillnessScore computes the mean squared geodesic distance of samples
// from their spherical mean, then maps it to a [0,1] score via an
// exponential decay so lower variance scores closer to 1, per spec.md
// §4.6.2 ("stillness score (exponential decay from variance)").
func StillnessScore(samples []quat.Quaternion, mean quat.Quaternion) (variance, score float64) {
	if len(samples) == 0 {
		return 0, 1
	}
	var sumSq float64
	for _, s := range samples {
		d := geodesicDistance(s, mean)
		sumSq += d * d
	}
	variance = sumSq / float64(len(samples))
	score = math.Exp(-variance / StillnessAcceptable)
	return variance, score
}
