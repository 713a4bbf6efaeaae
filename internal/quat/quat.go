// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package quat implements the unit-quaternion and vector algebra shared by
// every stage of the pipeline: fusion, taring, and joint decomposition.
// World frame is right-handed Y-up (Y up, Z forward, X right); all
// quaternions are stored (w, x, y, z) and hemisphere-normalized to w >= 0
// on output.
package quat

import "math"

// Quaternion is a unit quaternion (w, x, y, z).
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity is the zero-rotation quaternion.
var Identity = Quaternion{W: 1}

// Vec3 is a 3-vector used for accel/gyro/mag samples and derived axes.
type Vec3 struct {
	X, Y, Z float64
}

func (a Vec3) Add(b Vec3) Vec3   { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3   { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}
func (a Vec3) Norm() float64 { return math.Sqrt(a.Dot(a)) }

// Normalize returns a unit vector along a, or the zero vector if a is
// degenerate.
func (a Vec3) Normalize() Vec3 {
	n := a.Norm()
	if n < 1e-12 {
		return Vec3{}
	}
	return a.Scale(1 / n)
}

func (a Vec3) Finite() bool {
	return isFinite(a.X) && isFinite(a.Y) && isFinite(a.Z)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Finite reports whether every component of q is a finite number.
func (q Quaternion) Finite() bool {
	return isFinite(q.W) && isFinite(q.X) && isFinite(q.Y) && isFinite(q.Z)
}

// Norm is the Euclidean norm of q's components.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns a unit quaternion along q's direction. If q is
// degenerate or non-finite, Identity is returned.
func (q Quaternion) Normalize() Quaternion {
	if !q.Finite() {
		return Identity
	}
	n := q.Norm()
	if n < 1e-12 {
		return Identity
	}
	inv := 1 / n
	return Quaternion{q.W * inv, q.X * inv, q.Y * inv, q.Z * inv}
}

// Hemisphere flips q to the w >= 0 hemisphere. q and -q represent the same
// rotation; output is canonicalized so consumers can compare quaternions
// directly.
func (q Quaternion) Hemisphere() Quaternion {
	if q.W < 0 {
		return Quaternion{-q.W, -q.X, -q.Y, -q.Z}
	}
	return q
}

// Mul computes the Hamilton product a*b (apply b first, then a, when used
// to rotate a vector via Rotate).
func (a Quaternion) Mul(b Quaternion) Quaternion {
	return Quaternion{
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z,
		X: a.W*b.X + a.X*b.W + a.Y*b.Z - a.Z*b.Y,
		Y: a.W*b.Y - a.X*b.Z + a.Y*b.W + a.Z*b.X,
		Z: a.W*b.Z + a.X*b.Y - a.Y*b.X + a.Z*b.W,
	}
}

// Conjugate returns the conjugate of q, which equals the inverse for a unit
// quaternion.
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{q.W, -q.X, -q.Y, -q.Z}
}

// Inverse returns the multiplicative inverse of q (for unit q, same as
// Conjugate; computed generally for robustness against drift).
func (q Quaternion) Inverse() Quaternion {
	n2 := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
	if n2 < 1e-18 {
		return Identity
	}
	c := q.Conjugate()
	inv := 1 / n2
	return Quaternion{c.W * inv, c.X * inv, c.Y * inv, c.Z * inv}
}

// Rotate applies q to vector v (q must be unit).
func (q Quaternion) Rotate(v Vec3) Vec3 {
	vq := Quaternion{0, v.X, v.Y, v.Z}
	r := q.Mul(vq).Mul(q.Conjugate())
	return Vec3{r.X, r.Y, r.Z}
}

// FromAxisAngle builds a quaternion rotating by angle radians about axis
// (which need not be normalized). angle == 0 or a degenerate axis yields
// Identity.
func FromAxisAngle(axis Vec3, angle float64) Quaternion {
	axis = axis.Normalize()
	if axis == (Vec3{}) {
		return Identity
	}
	half := angle / 2
	s := math.Sin(half)
	return Quaternion{math.Cos(half), axis.X * s, axis.Y * s, axis.Z * s}
}

// Dot is the 4-component inner product, used to pick the shorter slerp arc.
func (a Quaternion) Dot(b Quaternion) float64 {
	return a.W*b.W + a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

// Slerp spherically interpolates from a to b by fraction t in [0,1],
// always taking the short arc (flipping b's hemisphere if needed) and
// falling back to normalized linear interpolation when a and b are nearly
// colinear, per the usual numerical-stability practice.
func Slerp(a, b Quaternion, t float64) Quaternion {
	cosOmega := a.Dot(b)
	if cosOmega < 0 {
		b = Quaternion{-b.W, -b.X, -b.Y, -b.Z}
		cosOmega = -cosOmega
	}
	if cosOmega > 0.9995 {
		return Quaternion{
			W: a.W + t*(b.W-a.W),
			X: a.X + t*(b.X-a.X),
			Y: a.Y + t*(b.Y-a.Y),
			Z: a.Z + t*(b.Z-a.Z),
		}.Normalize()
	}
	omega := math.Acos(clamp(cosOmega, -1, 1))
	sinOmega := math.Sin(omega)
	sa := math.Sin((1-t)*omega) / sinOmega
	sb := math.Sin(t*omega) / sinOmega
	return Quaternion{
		W: sa*a.W + sb*b.W,
		X: sa*a.X + sb*b.X,
		Y: sa*a.Y + sb*b.Y,
		Z: sa*a.Z + sb*b.Z,
	}.Normalize()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EulerOrder names the axis sequence used to decompose a relative
// quaternion into clinical joint angles, per spec table in §4.5.4.
type EulerOrder int

const (
	OrderZXY EulerOrder = iota
	OrderXZY
)

// ToEuler extracts intrinsic Euler angles (radians) from q in the given
// order. Returns (first-axis, second-axis, third-axis) angles in the order
// the axes are listed by name (e.g. for ZXY: z, x, y).
func (q Quaternion) ToEuler(order EulerOrder) (a1, a2, a3 float64) {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	switch order {
	case OrderZXY:
		// R = Rz(a1) * Rx(a2) * Ry(a3)
		sx := 2 * (w*x + y*z)
		sx = clamp(sx, -1, 1)
		a2 = math.Asin(sx)
		a1 = math.Atan2(2*(w*z-x*y), 1-2*(x*x+z*z))
		a3 = math.Atan2(2*(w*y-x*z), 1-2*(x*x+y*y))
		return a1, a2, a3
	case OrderXZY:
		// R = Rx(a1) * Rz(a2) * Ry(a3)
		sz := -2 * (x*y - w*z)
		sz = clamp(sz, -1, 1)
		a2 = math.Asin(sz)
		a1 = math.Atan2(2*(w*x+y*z), 1-2*(x*x+z*z))
		a3 = math.Atan2(2*(w*y+x*z), 1-2*(y*y+z*z))
		return a1, a2, a3
	default:
		return 0, 0, 0
	}
}
