// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package joints

import (
	"math"

	"github.com/danstonedev/MASH-sub003/internal/quat"
	"github.com/danstonedev/MASH-sub003/internal/skeleton"
	"github.com/danstonedev/MASH-sub003/internal/taring"
)

// Angles is the clinical JointAngles of spec.md §3, in degrees.
type Angles struct {
	Flexion, Abduction, Rotation float64
	InRange                      bool
}

// Decompose computes q_rel = parent^-1 * child, decomposes it in the
// joint's Euler order, converts to degrees, and subtracts the joint tare.
// Physiologic range is checked but never clamped per spec.md §7.
func Decompose(spec skeleton.JointSpec, parent, child quat.Quaternion, tare taring.JointTare) Angles {
	rel := parent.Inverse().Mul(child)
	a1, a2, a3 := rel.ToEuler(spec.Order)

	flexion := a1 * 180 / math.Pi
	abduction := a2 * 180 / math.Pi
	rotation := a3 * 180 / math.Pi

	flexion -= tare.Flexion
	abduction -= tare.Abduction
	rotation -= tare.Rotation

	inRange := skeleton.InRange(flexion, spec.FlexionRange) &&
		skeleton.InRange(abduction, spec.AbductionRange) &&
		skeleton.InRange(rotation, spec.RotationRange)

	return Angles{Flexion: flexion, Abduction: abduction, Rotation: rotation, InRange: inRange}
}
