// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion implements the per-sensor 9-axis orientation filter: gyro
// prediction, accelerometer tilt correction, and magnetometer heading
// correction, with rest/external-acceleration/disturbance gating. One
// Filter instance owns one sensor's FusionState, mirroring the teacher's
// per-IMU ownership in internal/sensors/imu.go (IMUManager holding
// independent left/right state).
package fusion

import (
	"math"

	"github.com/danstonedev/MASH-sub003/internal/disturbance"
	"github.com/danstonedev/MASH-sub003/internal/magcal"
	"github.com/danstonedev/MASH-sub003/internal/quat"
)

// Config holds the filter's tunable gains and thresholds, defaults taken
// from spec.md §4.4.1.
type Config struct {
	RestThrAccel   float64 // m/s^2
	RestThrGyro    float64 // rad/s
	ExtAccelTol    float64 // fraction of g_std
	RestGain       float64
	MotionGain     float64
	MotionThr      float64 // rad/s
	BiasAlpha      float64
	TiltGyroLimit  float64 // rad/s, tilt correction disabled above this
	GravityStd     float64 // m/s^2
	HeadingWeightMin float64
	HeadingGainFactor float64
	GyroBogusLimit float64 // rad/s
	HeadingUncertaintyFloor float64
	HeadingUncertaintyMax   float64
}

func DefaultConfig() Config {
	return Config{
		RestThrAccel:            0.2,
		RestThrGyro:             0.03,
		ExtAccelTol:             0.15,
		RestGain:                0.05,
		MotionGain:              0.005,
		MotionThr:               0.1,
		BiasAlpha:               0.05,
		TiltGyroLimit:           0.26,
		GravityStd:              9.81,
		HeadingWeightMin:        0.1,
		HeadingGainFactor:       0.5,
		GyroBogusLimit:          100,
		HeadingUncertaintyFloor: 5,
		HeadingUncertaintyMax:   180,
	}
}

// State is the per-sensor FusionState of spec.md §3.
type State struct {
	Quaternion        quat.Quaternion
	GyroBias          quat.Vec3
	Rest              bool
	ExternalAccel     bool
	MagDisturbed      bool
	HeadingUncertainty float64
	UpdateCount        uint64
	initialized        bool
}

// NewState returns a freshly reset FusionState: identity orientation,
// zero bias, maximal heading uncertainty, per spec.md §3's "created at
// session start" lifecycle.
func NewState() *State {
	return &State{
		Quaternion:         quat.Identity,
		HeadingUncertainty: 180,
	}
}

// Filter runs the per-tick update cycle against one State.
type Filter struct {
	cfg   Config
	mag   *magcal.Calibration // nil if no magnetometer for this sensor
	dist  *disturbance.Detector
}

func NewFilter(cfg Config, mag *magcal.Calibration, dist *disturbance.Detector) *Filter {
	return &Filter{cfg: cfg, mag: mag, dist: dist}
}

// Initialize seeds s from a single accel reading (and mag reading, if
// present), per spec.md §4.4.1 "Initialization".
func Initialize(s *State, accel quat.Vec3, mag *quat.Vec3) {
	up := quat.Vec3{Y: 1}
	a := accel.Normalize()
	if a == (quat.Vec3{}) {
		s.Quaternion = quat.Identity
		s.initialized = true
		return
	}
	q := alignVectors(a, up)

	if mag != nil {
		mWorld := q.Rotate(*mag)
		horiz := quat.Vec3{X: mWorld.X, Z: mWorld.Z}
		if horiz.Norm() > 1e-6 {
			yaw := math.Atan2(horiz.X, -horiz.Z)
			yawCorrection := quat.FromAxisAngle(quat.Vec3{Y: 1}, -yaw)
			q = yawCorrection.Mul(q)
		}
	}

	s.Quaternion = q.Normalize().Hemisphere()
	s.initialized = true
}

// alignVectors returns a quaternion rotating `from` onto `to`, handling
// the near-antiparallel case with a fixed non-colinear fallback axis.
func alignVectors(from, to quat.Vec3) quat.Quaternion {
	from = from.Normalize()
	to = to.Normalize()
	dot := from.Dot(to)
	if dot > 0.999999 {
		return quat.Identity
	}
	if dot < -0.999999 {
		fallback := quat.Vec3{X: 1}
		if math.Abs(from.X) > 0.9 {
			fallback = quat.Vec3{Z: 1}
		}
		axis := from.Cross(fallback).Normalize()
		return quat.FromAxisAngle(axis, math.Pi)
	}
	axis := from.Cross(to)
	angle := math.Acos(clamp(dot, -1, 1))
	return quat.FromAxisAngle(axis, angle)
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

// Update advances s by dt given the raw sensor readings. mag may be nil if
// the sensor has no magnetometer or heading correction is disabled.
func (f *Filter) Update(s *State, dt float64, gyro, accel quat.Vec3, mag *quat.Vec3) {
	if !s.initialized {
		Initialize(s, accel, mag)
	}
	if !gyro.Finite() || !accel.Finite() || (mag != nil && !mag.Finite()) {
		*s = *NewState()
		return
	}

	gyroNorm := gyro.Norm()
	bogus := gyroNorm > f.cfg.GyroBogusLimit

	if !bogus {
		f.predict(s, dt, gyro)
	}

	accelNorm := accel.Norm()
	s.Rest = math.Abs(accelNorm-f.cfg.GravityStd) < f.cfg.RestThrAccel && gyroNorm < f.cfg.RestThrGyro
	s.ExternalAccel = math.Abs(accelNorm-f.cfg.GravityStd) > f.cfg.ExtAccelTol*f.cfg.GravityStd

	blend := math.Min(1, gyroNorm/f.cfg.MotionThr)
	gain := f.cfg.RestGain + blend*(f.cfg.MotionGain-f.cfg.RestGain)

	if s.Rest {
		s.GyroBias = s.GyroBias.Add(gyro.Sub(s.GyroBias).Scale(f.cfg.BiasAlpha))
	}

	if !s.ExternalAccel && gyroNorm < f.cfg.TiltGyroLimit {
		f.correctTilt(s, accel, gain)
	}

	if mag != nil && f.mag != nil {
		f.correctHeading(s, accel, *mag, gain, dt)
	} else {
		s.HeadingUncertainty = math.Min(f.cfg.HeadingUncertaintyMax, s.HeadingUncertainty*1.01+0.01)
	}

	s.UpdateCount++
}

func (f *Filter) predict(s *State, dt float64, gyro quat.Vec3) {
	corrected := gyro.Sub(s.GyroBias)
	angle := corrected.Norm() * dt
	var delta quat.Quaternion
	if angle < 1e-10 {
		delta = quat.Identity
	} else {
		delta = quat.FromAxisAngle(corrected, angle)
	}
	s.Quaternion = s.Quaternion.Mul(delta).Normalize().Hemisphere()
}

func (f *Filter) correctTilt(s *State, accel quat.Vec3, gain float64) {
	aHat := accel.Normalize()
	if aHat == (quat.Vec3{}) {
		return
	}
	aWorld := s.Quaternion.Rotate(aHat)
	correction := alignVectors(aWorld, quat.Vec3{Y: 1})
	stepped := quat.Slerp(quat.Identity, correction, gain)
	s.Quaternion = stepped.Mul(s.Quaternion).Normalize().Hemisphere()
}

func (f *Filter) correctHeading(s *State, accel, mag quat.Vec3, gain, dt float64) {
	calibrated := f.mag.Apply(mag)

	weight := 1.0
	if f.dist != nil {
		result := f.dist.Update(calibrated, accel, dt)
		s.MagDisturbed = result.Disturbed
		weight = result.HeadingCorrectionWeight
	}
	if weight < f.cfg.HeadingWeightMin {
		s.HeadingUncertainty = math.Min(f.cfg.HeadingUncertaintyMax, s.HeadingUncertainty*1.01+0.01)
		return
	}

	mWorld := s.Quaternion.Rotate(calibrated)
	horiz := quat.Vec3{X: mWorld.X, Z: mWorld.Z}
	if horiz.Norm() < 0.1 {
		s.HeadingUncertainty = math.Min(f.cfg.HeadingUncertaintyMax, s.HeadingUncertainty*1.01+0.01)
		return
	}

	headingErr := math.Atan2(mWorld.X, -mWorld.Z)
	correction := quat.FromAxisAngle(quat.Vec3{Y: 1}, -headingErr)
	stepped := quat.Slerp(quat.Identity, correction, gain*weight*f.cfg.HeadingGainFactor)
	s.Quaternion = stepped.Mul(s.Quaternion).Normalize().Hemisphere()

	s.HeadingUncertainty = math.Max(f.cfg.HeadingUncertaintyFloor, s.HeadingUncertainty*0.95)
}
