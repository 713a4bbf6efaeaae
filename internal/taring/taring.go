// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package taring implements the orientation pipeline: the four tare
// levels that map a sensor's world-aligned-but-mounting-frame quaternion
// into the bone's world-frame orientation. Mounting tare is always
// right-multiplied, never conjugated, per spec.md §4.5.1 — this is the
// single convention used everywhere in this package.
package taring

import (
	"math"
	"time"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

// State is the per-segment TareState of spec.md §3. A zero *Set time
// means that tare has not been captured.
type State struct {
	MountingTare       quat.Quaternion
	MountingTareSet    time.Time
	HeadingTare        quat.Quaternion
	HeadingTareSet     time.Time
	FrameAlignment     quat.Quaternion
	FrameAlignmentSet  time.Time
	HasFrameAlignment  bool
	JointTare          JointTare
	JointTareSet       time.Time
}

// JointTare is the level-3 per-joint subtraction applied after
// decomposition.
type JointTare struct {
	Flexion, Abduction, Rotation float64 // degrees
}

// NewState returns a TareState with identity tares and all capture times
// zero ("not captured"), per spec.md §3's lifecycle.
func NewState() *State {
	return &State{
		MountingTare: quat.Identity,
		HeadingTare:  quat.Identity,
	}
}

// Apply runs the four tare levels in order: input normalization, mounting
// tare, optional frame alignment, heading tare. Non-finite input returns
// identity and ok=false, per spec.md §4.5.1's "mark as invalid" policy.
func (s *State) Apply(sensorQ quat.Quaternion) (world quat.Quaternion, ok bool) {
	if !sensorQ.Finite() {
		return quat.Identity, false
	}
	q := sensorQ.Normalize()

	bonePre := q.Mul(s.MountingTare)
	bone := bonePre
	if s.HasFrameAlignment {
		bone = bonePre.Mul(s.FrameAlignment)
	}

	world = s.HeadingTare.Inverse().Mul(bone)
	return world.Normalize().Hemisphere(), true
}

// CaptureMountingTareSinglePose computes the body-segment (single-pose)
// mounting tare: mounting_tare = q_cal^-1 * q_target, per spec.md §4.5.2.
func CaptureMountingTareSinglePose(qCal, qTarget quat.Quaternion) quat.Quaternion {
	return qCal.Inverse().Mul(qTarget)
}

// CaptureMountingTareTwoLayer computes the head/cervical (two-layer)
// mounting tare: mounting_tare = q_start^-1, with R (the PCA-derived
// frame-alignment rotation of internal/calib) carried separately and
// right-multiplied afterward by Apply, per spec.md §4.5.2. R is derived
// from gyro-sensed rotation axis and gravity direction rather than from
// any integrated orientation estimate, so it recovers mount misalignment
// a single accel-only calibration pose cannot observe (a misalignment
// purely about the vertical reads identically in gravity either way).
// Baking R^-1 into mounting_tare would cancel it against R on
// composition; keeping it in frameAlignment lets it actually correct the
// output, which is the property spec.md §8 scenario 5 regression-tests.
func CaptureMountingTareTwoLayer(qStart quat.Quaternion, r quat.Quaternion) (mountingTare, frameAlignment quat.Quaternion) {
	return qStart.Inverse(), r
}

// CaptureHeadingTare extracts yaw from a bone-frame quaternion: project
// the bone's forward (+Z) vector into the horizontal plane, falling back
// to the right (+X) vector if forward degenerates, per spec.md §4.5.3.
func CaptureHeadingTare(boneQ quat.Quaternion) quat.Quaternion {
	forward := boneQ.Rotate(quat.Vec3{Z: 1})
	horiz := quat.Vec3{X: forward.X, Z: forward.Z}
	if horiz.Norm() < 0.01 {
		right := boneQ.Rotate(quat.Vec3{X: 1})
		horiz = quat.Vec3{X: right.X, Z: right.Z}
	}
	if horiz.Norm() < 1e-9 {
		return quat.Identity
	}
	yaw := math.Atan2(horiz.X, horiz.Z)
	return quat.FromAxisAngle(quat.Vec3{Y: 1}, yaw)
}

// TareLevel names the reset granularity for ResetTare, per the control
// surface of spec.md §6.
type TareLevel int

const (
	LevelMounting TareLevel = iota
	LevelFrameAlignment
	LevelHeading
	LevelJoint
	LevelAll
)

// Reset clears the tare(s) named by level back to identity/not-captured.
func (s *State) Reset(level TareLevel) {
	switch level {
	case LevelMounting:
		s.MountingTare = quat.Identity
		s.MountingTareSet = time.Time{}
	case LevelFrameAlignment:
		s.FrameAlignment = quat.Identity
		s.HasFrameAlignment = false
		s.FrameAlignmentSet = time.Time{}
	case LevelHeading:
		s.HeadingTare = quat.Identity
		s.HeadingTareSet = time.Time{}
	case LevelJoint:
		s.JointTare = JointTare{}
		s.JointTareSet = time.Time{}
	case LevelAll:
		*s = *NewState()
	}
}

// Persisted is the on-disk tare record of spec.md §6.
type Persisted struct {
	SegmentID         string    `json:"segment_id"`
	MountingTare      [4]float64 `json:"mounting_tare"`
	MountingTareSet   int64     `json:"mounting_tare_set"`
	HeadingTare       [4]float64 `json:"heading_tare"`
	HeadingTareSet    int64     `json:"heading_tare_set"`
	FrameAlignment    *[4]float64 `json:"frame_alignment,omitempty"`
	FrameAlignmentSet int64     `json:"frame_alignment_set,omitempty"`
	JointTare         JointTare `json:"joint_tare"`
	JointTareSet      int64     `json:"joint_tare_set"`
}

func quatToArray(q quat.Quaternion) [4]float64 { return [4]float64{q.W, q.X, q.Y, q.Z} }
func arrayToQuat(a [4]float64) quat.Quaternion { return quat.Quaternion{W: a[0], X: a[1], Y: a[2], Z: a[3]} }

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

// Serialize converts s into its persisted representation for segmentID.
func (s *State) Serialize(segmentID string) Persisted {
	p := Persisted{
		SegmentID:       segmentID,
		MountingTare:    quatToArray(s.MountingTare),
		MountingTareSet: unixOrZero(s.MountingTareSet),
		HeadingTare:     quatToArray(s.HeadingTare),
		HeadingTareSet:  unixOrZero(s.HeadingTareSet),
		JointTare:       s.JointTare,
		JointTareSet:    unixOrZero(s.JointTareSet),
	}
	if s.HasFrameAlignment {
		a := quatToArray(s.FrameAlignment)
		p.FrameAlignment = &a
		p.FrameAlignmentSet = unixOrZero(s.FrameAlignmentSet)
	}
	return p
}

// Deserialize loads a State from its persisted representation.
func Deserialize(p Persisted) *State {
	s := &State{
		MountingTare:    arrayToQuat(p.MountingTare),
		MountingTareSet: timeOrZero(p.MountingTareSet),
		HeadingTare:     arrayToQuat(p.HeadingTare),
		HeadingTareSet:  timeOrZero(p.HeadingTareSet),
		JointTare:       p.JointTare,
		JointTareSet:    timeOrZero(p.JointTareSet),
	}
	if p.FrameAlignment != nil {
		s.FrameAlignment = arrayToQuat(*p.FrameAlignment)
		s.HasFrameAlignment = true
		s.FrameAlignmentSet = timeOrZero(p.FrameAlignmentSet)
	}
	return s
}
