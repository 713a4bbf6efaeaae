// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package disturbance detects magnetic-field disturbances (magnitude,
// gradient, and dip-angle checks) that should suppress heading correction
// in the fusion filter, per spec.md §4.4.3.
package disturbance

import (
	"math"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

// Tag classifies which check(s) triggered.
type Tag string

const (
	TagNone      Tag = "none"
	TagMagnitude Tag = "magnitude"
	TagGradient  Tag = "gradient"
	TagDip       Tag = "dip"
	TagMultiple  Tag = "multiple"
)

// Config tunes detection thresholds, defaults per spec.md §4.4.3.
type Config struct {
	ExpectedMagnitude float64 // uT
	ExpectedDip       float64 // radians
	MagTol            float64 // fraction
	MaxGradient       float64 // uT/s
	DipTol            float64 // radians
	Tau               float64 // seconds, EMA time constant
	MinCleanDuration  float64 // seconds
}

func DefaultConfig(expectedMagnitude, expectedDipDeg float64) Config {
	return Config{
		ExpectedMagnitude: expectedMagnitude,
		ExpectedDip:       expectedDipDeg * math.Pi / 180,
		MagTol:            0.25,
		MaxGradient:       50,
		DipTol:            15 * math.Pi / 180,
		Tau:               0.5,
		MinCleanDuration:  0.5,
	}
}

// Result is one Update's output.
type Result struct {
	Disturbed                bool
	Tag                      Tag
	HeadingCorrectionWeight  float64
}

// Detector holds the EMA state across ticks for one sensor.
type Detector struct {
	cfg Config

	haveLast      bool
	lastMag       quat.Vec3
	magnitudeEMA  float64
	dipEMA        float64
	cleanDuration float64
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Update feeds one (calibrated mag, accel) pair observed dt seconds after
// the previous call, returning the current disturbance classification.
func (d *Detector) Update(mag, accel quat.Vec3, dt float64) Result {
	if dt <= 0 {
		dt = 0.01
	}

	magnitude := mag.Norm()
	alpha := 1 - math.Exp(-dt/d.cfg.Tau)
	if !d.haveLast {
		d.magnitudeEMA = magnitude
	} else {
		d.magnitudeEMA += alpha * (magnitude - d.magnitudeEMA)
	}

	magOK := math.Abs(d.magnitudeEMA-d.cfg.ExpectedMagnitude)/d.cfg.ExpectedMagnitude <= d.cfg.MagTol

	gradientOK := true
	if d.haveLast {
		grad := mag.Sub(d.lastMag).Norm() / dt
		gradientOK = grad <= d.cfg.MaxGradient
	}

	aHat := accel.Normalize()
	mHat := mag.Normalize()
	dip := math.Asin(clamp(math.Abs(mHat.Dot(aHat)), -1, 1))
	if !d.haveLast {
		d.dipEMA = dip
	} else {
		d.dipEMA += alpha * (dip - d.dipEMA)
	}
	dipOK := math.Abs(d.dipEMA-d.cfg.ExpectedDip) <= d.cfg.DipTol

	violations := 0
	var tag Tag = TagNone
	if !magOK {
		violations++
		tag = TagMagnitude
	}
	if !gradientOK {
		violations++
		tag = TagGradient
	}
	if !dipOK {
		violations++
		tag = TagDip
	}
	if violations > 1 {
		tag = TagMultiple
	}
	disturbed := violations > 0

	if disturbed {
		d.cleanDuration = 0
	} else {
		d.cleanDuration += dt
	}

	weight := 0.0
	if !disturbed {
		weight = 0.1 + 0.9*clamp(d.cleanDuration/d.cfg.MinCleanDuration, 0, 1)
	}

	d.lastMag = mag
	d.haveLast = true

	return Result{Disturbed: disturbed, Tag: tag, HeadingCorrectionWeight: weight}
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
