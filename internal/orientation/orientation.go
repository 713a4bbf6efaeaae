// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package orientation converts the pipeline's internal quaternion
// representation into the roll/pitch/yaw form consumers (the MQTT
// publisher, the web status API) display to a human.
package orientation

import (
	"math"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

// Pose is a human-readable orientation, degrees, world frame.
type Pose struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

// FromQuaternion decomposes a world-frame quaternion into roll (about Z),
// pitch (about X), yaw (about Y) in the intrinsic Y-X-Z order: yaw first,
// then pitch, then roll.
func FromQuaternion(q quat.Quaternion) Pose {
	w, x, y, z := q.W, q.X, q.Y, q.Z

	sinPitch := 2 * (w*x - y*z)
	sinPitch = clamp(sinPitch, -1, 1)
	pitch := math.Asin(sinPitch)

	roll := math.Atan2(2*(w*z+x*y), 1-2*(x*x+z*z))
	yaw := math.Atan2(2*(w*y+x*z), 1-2*(x*x+y*y))

	const rad2deg = 180 / math.Pi
	return Pose{Roll: roll * rad2deg, Pitch: pitch * rad2deg, Yaw: yaw * rad2deg}
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

// Source is anything that can provide poses over time, kept for
// consumers that want a pull-based feed rather than the session's
// push-per-frame output.
type Source interface {
	Next() (Pose, error)
}
