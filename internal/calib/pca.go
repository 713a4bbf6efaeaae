// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calib implements the calibration primitives shared by the
// orientation pipeline: PCA functional-axis estimation from cued motion,
// and the spherical mean / stillness scoring used to combine multi-sample
// mounting-tare captures. Eigendecomposition reuses gonum's symmetric
// solver, consistent with internal/magcal's soft-iron computation.
package calib

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

// FunctionalAxisResult is the output of PCA axis estimation, §4.6.1.
type FunctionalAxisResult struct {
	Axis       quat.Vec3
	Confidence float64 // lambda1 / (lambda1+lambda2+lambda3)
}

// LowPassCutoffHz is the default cutoff applied before PCA, per spec.md
// §4.6.1 ("low-pass cutoff at ~6 Hz to suppress soft-tissue artifact").
const LowPassCutoffHz = 6.0

// EstimateFunctionalAxis runs PCA over a window of gyro samples (already
// low-pass filtered by the caller via internal/joints's STA filter) and
// returns the dominant rotation axis with its confidence.
func EstimateFunctionalAxis(samples []quat.Vec3) FunctionalAxisResult {
	n := len(samples)
	if n == 0 {
		return FunctionalAxisResult{}
	}

	cov := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			var sum float64
			for _, s := range samples {
				sum += component(s, i) * component(s, j)
			}
			cov.SetSym(i, j, sum/float64(n))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return FunctionalAxisResult{}
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// gonum returns eigenvalues ascending; the functional axis is the
	// eigenvector of the largest eigenvalue, the last column.
	top := 2
	lambda1, lambda2, lambda3 := values[top], values[1], values[0]
	sum := lambda1 + lambda2 + lambda3
	confidence := 0.0
	if sum > 1e-12 {
		confidence = lambda1 / sum
	}

	axis := quat.Vec3{
		X: vectors.At(0, top),
		Y: vectors.At(1, top),
		Z: vectors.At(2, top),
	}.Normalize()

	return FunctionalAxisResult{Axis: axis, Confidence: confidence}
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

// BuildAnatomicalBasis constructs the axis-alignment rotation mapping the
// sensor basis onto an anatomical basis via Gram-Schmidt, per spec.md
// §4.6.1 step 4: primary = nod axis, orthogonalize gravity against it for
// "down", cross product for the third axis.
func BuildAnatomicalBasis(nodAxis, gravityDown quat.Vec3) quat.Quaternion {
	primary := nodAxis.Normalize()
	down := gravityDown.Sub(primary.Scale(primary.Dot(gravityDown))).Normalize()
	if down == (quat.Vec3{}) {
		// gravity was colinear with the nod axis; pick an arbitrary
		// orthogonal fallback.
		fallback := quat.Vec3{X: 1}
		if math.Abs(primary.X) > 0.9 {
			fallback = quat.Vec3{Z: 1}
		}
		down = fallback.Sub(primary.Scale(primary.Dot(fallback))).Normalize()
	}
	third := primary.Cross(down).Normalize()

	// M_bone columns: [primary, down, third]; axis-alignment rotation is
	// M_bone * M_sensor^-1, and for an orthonormal sensor basis (identity)
	// M_sensor^-1 = identity, so R = M_bone.
	m := mat.NewDense(3, 3, []float64{
		primary.X, down.X, third.X,
		primary.Y, down.Y, third.Y,
		primary.Z, down.Z, third.Z,
	})
	return rotationMatrixToQuat(m)
}

func rotationMatrixToQuat(m *mat.Dense) quat.Quaternion {
	tr := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	var q quat.Quaternion
	if tr > 0 {
		s := math.Sqrt(tr+1) * 2
		q.W = s / 4
		q.X = (m.At(2, 1) - m.At(1, 2)) / s
		q.Y = (m.At(0, 2) - m.At(2, 0)) / s
		q.Z = (m.At(1, 0) - m.At(0, 1)) / s
	} else if m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2) {
		s := math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2)) * 2
		q.W = (m.At(2, 1) - m.At(1, 2)) / s
		q.X = s / 4
		q.Y = (m.At(0, 1) + m.At(1, 0)) / s
		q.Z = (m.At(0, 2) + m.At(2, 0)) / s
	} else if m.At(1, 1) > m.At(2, 2) {
		s := math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2)) * 2
		q.W = (m.At(0, 2) - m.At(2, 0)) / s
		q.X = (m.At(0, 1) + m.At(1, 0)) / s
		q.Y = s / 4
		q.Z = (m.At(1, 2) + m.At(2, 1)) / s
	} else {
		s := math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1)) * 2
		q.W = (m.At(1, 0) - m.At(0, 1)) / s
		q.X = (m.At(0, 2) + m.At(2, 0)) / s
		q.Y = (m.At(1, 2) + m.At(2, 1)) / s
		q.Z = s / 4
	}
	return q.Normalize().Hemisphere()
}
