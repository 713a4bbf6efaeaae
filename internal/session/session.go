// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session ties the decoder, jitter buffer, sync frame assembler,
// per-sensor fusion filters, and per-segment taring/joint decomposition
// into the single control surface named by spec.md §6. It is the
// session-scoped owner spec.md §9 calls for in place of the teacher's
// process-wide singletons (compare internal/sensors.IMUManager's
// sync.Once global, which Session deliberately does not reproduce).
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danstonedev/MASH-sub003/internal/calib"
	"github.com/danstonedev/MASH-sub003/internal/disturbance"
	"github.com/danstonedev/MASH-sub003/internal/fusion"
	"github.com/danstonedev/MASH-sub003/internal/jitter"
	"github.com/danstonedev/MASH-sub003/internal/joints"
	"github.com/danstonedev/MASH-sub003/internal/magcal"
	"github.com/danstonedev/MASH-sub003/internal/quat"
	"github.com/danstonedev/MASH-sub003/internal/skeleton"
	"github.com/danstonedev/MASH-sub003/internal/syncframe"
	"github.com/danstonedev/MASH-sub003/internal/taring"
	"github.com/danstonedev/MASH-sub003/internal/wire"
)

// SensorConfig maps a sensor_id to the segment it is mounted on.
type SensorConfig struct {
	SensorID  uint8
	Segment   skeleton.SegmentID
	HasMag    bool
}

// Config bundles the tunables for every substage, constructed by the
// caller (typically from internal/config's flat KEY=VALUE file).
type Config struct {
	Sensors         []SensorConfig
	Jitter          jitter.Config
	SyncFrame       syncframe.Config
	Fusion          fusion.Config
	MagCal          magcal.Config
	Disturbance     disturbance.Config
	SampleHz        float64
}

type sensorState struct {
	cfg        SensorConfig
	fusionState *fusion.State
	filter      *fusion.Filter
	magCal      *magcal.Calibration
	disturbance *disturbance.Detector
	lastTick    time.Time
	haveTick    bool
}

// jointChannelFilters holds one STA low-pass per decomposed angle
// channel, so flexion/abduction/rotation are smoothed independently per
// spec.md §4.7 ("exposed to joint-angle consumers").
type jointChannelFilters struct {
	flexion, abduction, rotation *joints.STAFilter
}

func newJointChannelFilters(sampleHz float64) *jointChannelFilters {
	return &jointChannelFilters{
		flexion:   joints.NewSTAFilter(joints.DefaultSTACutoffHz, sampleHz),
		abduction: joints.NewSTAFilter(joints.DefaultSTACutoffHz, sampleHz),
		rotation:  joints.NewSTAFilter(joints.DefaultSTACutoffHz, sampleHz),
	}
}

func (jf *jointChannelFilters) apply(a joints.Angles) joints.Angles {
	a.Flexion = jf.flexion.Step(a.Flexion)
	a.Abduction = jf.abduction.Step(a.Abduction)
	a.Rotation = jf.rotation.Step(a.Rotation)
	return a
}

func (jf *jointChannelFilters) reset() {
	jf.flexion.Reset()
	jf.abduction.Reset()
	jf.rotation.Reset()
}

// CalibrationRun tracks an in-progress magnetometer calibration, stamped
// with a UUID so recorders can correlate wizard steps, per SPEC_FULL.md §3.
type CalibrationRun struct {
	ID        uuid.UUID
	SensorID  uint8
	Collector *magcal.Collector
	StartedAt time.Time
}

// Session is the top-level pipeline owner. It is not safe for concurrent
// use from multiple goroutines without external synchronization, matching
// spec.md §5's single-threaded-per-stage model; callers fan out per-sensor
// fusion work themselves if desired, since FusionState is independent per
// sensor after the assembler.
type Session struct {
	cfg       Config
	jitterBuf *jitter.Buffer
	assembler *syncframe.Assembler
	sensors   map[uint8]*sensorState
	tares     map[skeleton.SegmentID]*taring.State
	jointFilters map[skeleton.JointID]*jointChannelFilters
	magEnabled bool

	magRuns map[uint8]*CalibrationRun

	localMagExpected float64
	localMagDipDeg   float64

	decodeStats wire.Stats
	now         func() time.Time
}

// New constructs a Session from Config. now lets callers inject a
// controlled clock for tests/simulation.
func New(cfg Config, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	expected := make([]uint8, 0, len(cfg.Sensors))
	s := &Session{
		cfg:        cfg,
		jitterBuf:  jitter.New(cfg.Jitter, now),
		sensors:    make(map[uint8]*sensorState),
		tares:      make(map[skeleton.SegmentID]*taring.State),
		magEnabled: true,
		magRuns:    make(map[uint8]*CalibrationRun),
		localMagExpected: 50,
		localMagDipDeg:   60,
		now:        now,
	}
	for _, sc := range cfg.Sensors {
		expected = append(expected, sc.SensorID)
		ss := &sensorState{cfg: sc, fusionState: fusion.NewState()}
		s.sensors[sc.SensorID] = ss
		s.tares[sc.Segment] = taring.NewState()
	}
	s.jointFilters = make(map[skeleton.JointID]*jointChannelFilters, len(skeleton.Joints))
	for jointID := range skeleton.Joints {
		s.jointFilters[jointID] = newJointChannelFilters(cfg.SampleHz)
	}
	syncCfg := cfg.SyncFrame
	if syncCfg.ExpectedSensors == nil {
		syncCfg = syncframe.DefaultConfig(expected)
	}
	s.assembler = syncframe.New(syncCfg, now)
	s.rebuildFilters()
	return s
}

func (s *Session) rebuildFilters() {
	distCfg := s.cfg.Disturbance
	if distCfg.ExpectedMagnitude == 0 {
		distCfg = disturbance.DefaultConfig(s.localMagExpected, s.localMagDipDeg)
	}
	for _, ss := range s.sensors {
		var mc *magcal.Calibration
		if ss.magCal != nil {
			mc = ss.magCal
		} else if ss.cfg.HasMag {
			id := magcal.Identity()
			mc = &id
		}
		ss.magCal = mc
		var det *disturbance.Detector
		if ss.cfg.HasMag {
			det = disturbance.NewDetector(distCfg)
		}
		ss.disturbance = det
		ss.filter = fusion.NewFilter(s.cfg.Fusion, mc, det)
	}
}

// ---- Streaming control surface ----

// Feed decodes one wire-format packet and enqueues its samples into the
// jitter buffer. Malformed packets are dropped and counted, never raised,
// per spec.md §7.
func (s *Session) Feed(packet []byte) {
	samples, err := wire.Decode(packet)
	if err != nil {
		s.decodeStats.PacketsDropped++
		return
	}
	s.decodeStats.PacketsDecoded++

	var finite []wire.RawSample
	for _, sample := range samples {
		if sample.Finite() {
			finite = append(finite, sample)
		} else {
			s.decodeStats.PacketsDropped++
		}
	}
	if len(finite) == 0 {
		return
	}
	s.jitterBuf.Add(finite[0].FrameNumber, finite)
}

// FrameOutput is one fully processed SyncFrame's downstream result:
// per-segment world orientation and, where topology allows, joint angles.
type FrameOutput struct {
	FrameNumber uint32
	TimestampUs uint32
	Orientations map[skeleton.SegmentID]quat.Quaternion
	Joints       map[skeleton.JointID]joints.Angles
}

// PopFrames drains the jitter buffer into the assembler and returns every
// SyncFrame that became ready, fully processed through fusion, taring,
// and joint decomposition.
func (s *Session) PopFrames() []FrameOutput {
	for _, batch := range s.jitterBuf.Pop() {
		for _, sample := range batch.Samples {
			s.assembler.Add(sample)
		}
	}

	var outputs []FrameOutput
	for _, frame := range s.assembler.Pop() {
		outputs = append(outputs, s.processFrame(frame))
	}
	return outputs
}

func (s *Session) processFrame(frame syncframe.SyncFrame) FrameOutput {
	out := FrameOutput{
		FrameNumber:  frame.FrameNumber,
		TimestampUs:  frame.TimestampUs,
		Orientations: make(map[skeleton.SegmentID]quat.Quaternion),
		Joints:       make(map[skeleton.JointID]joints.Angles),
	}

	for sensorID, sample := range frame.Samples {
		ss, ok := s.sensors[sensorID]
		if !ok {
			continue
		}
		dt := 1 / s.cfg.SampleHz
		now := s.now()
		if ss.haveTick {
			if d := now.Sub(ss.lastTick).Seconds(); d > 0 {
				dt = d
			}
		}
		ss.lastTick = now
		ss.haveTick = true

		gyro := quat.Vec3{X: sample.Gyro[0], Y: sample.Gyro[1], Z: sample.Gyro[2]}
		accel := quat.Vec3{X: sample.Accel[0], Y: sample.Accel[1], Z: sample.Accel[2]}
		var magPtr *quat.Vec3
		if ss.cfg.HasMag && s.magEnabled && sample.HasMag {
			m := quat.Vec3{X: sample.Mag[0], Y: sample.Mag[1], Z: sample.Mag[2]}
			magPtr = &m
		}

		ss.filter.Update(ss.fusionState, dt, gyro, accel, magPtr)

		tare := s.tares[ss.cfg.Segment]
		world, ok := tare.Apply(ss.fusionState.Quaternion)
		if !ok {
			world = quat.Identity
		}
		out.Orientations[ss.cfg.Segment] = world
	}

	for jointID, spec := range skeleton.Joints {
		parentQ, hasParent := out.Orientations[spec.Parent]
		childQ, hasChild := out.Orientations[spec.Child]
		if !hasParent || !hasChild {
			continue
		}
		tare := s.tares[spec.Child].JointTare
		angles := joints.Decompose(spec, parentQ, childQ, tare)
		if jf, ok := s.jointFilters[jointID]; ok {
			angles = jf.apply(angles)
			angles.InRange = skeleton.InRange(angles.Flexion, spec.FlexionRange) &&
				skeleton.InRange(angles.Abduction, spec.AbductionRange) &&
				skeleton.InRange(angles.Rotation, spec.RotationRange)
		}
		out.Joints[jointID] = angles
	}

	return out
}

// ---- Magnetometer calibration control surface ----

func (s *Session) StartMagCalibration(sensorID uint8) error {
	if _, ok := s.sensors[sensorID]; !ok {
		return fmt.Errorf("session: unknown sensor %d", sensorID)
	}
	s.magRuns[sensorID] = &CalibrationRun{
		ID:        uuid.New(),
		SensorID:  sensorID,
		Collector: magcal.NewCollector(),
		StartedAt: s.now(),
	}
	return nil
}

func (s *Session) AddMagSample(sensorID uint8, raw quat.Vec3) error {
	run, ok := s.magRuns[sensorID]
	if !ok {
		return fmt.Errorf("session: no mag calibration in progress for sensor %d", sensorID)
	}
	run.Collector.AddSample(raw)
	return nil
}

// FinishMagCalibration computes and, if valid, commits the calibration
// for sensorID. It always returns the computed result even when invalid,
// per spec.md §7's "return a structured result with valid=false".
func (s *Session) FinishMagCalibration(sensorID uint8) (magcal.Calibration, error) {
	run, ok := s.magRuns[sensorID]
	if !ok {
		return magcal.Calibration{}, fmt.Errorf("session: no mag calibration in progress for sensor %d", sensorID)
	}
	result := run.Collector.Finish(s.cfg.MagCal)
	delete(s.magRuns, sensorID)
	if result.Valid {
		if ss, ok := s.sensors[sensorID]; ok {
			ss.magCal = &result
			s.rebuildFilters()
		}
	}
	return result, nil
}

// ---- Taring control surface ----

func (s *Session) CaptureMountingTare(segment skeleton.SegmentID, sensorQ, targetQ quat.Quaternion, samples []quat.Quaternion) error {
	tare, ok := s.tares[segment]
	if !ok {
		return fmt.Errorf("session: unknown segment %q", segment)
	}
	qCal := sensorQ
	if len(samples) > 0 {
		mean := calib.SphericalMean(samples)
		_, score := calib.StillnessScore(samples, mean)
		if score < calib.StillnessRejectBelow {
			return fmt.Errorf("session: mounting tare capture rejected, stillness score %.3f below threshold", score)
		}
		qCal = mean
	}
	tare.MountingTare = taring.CaptureMountingTareSinglePose(qCal, targetQ)
	tare.MountingTareSet = s.now()
	return nil
}

// CaptureMountingTareTwoLayer performs the head/cervical two-layer
// mounting-tare construction, storing both the mounting tare and the
// PCA-derived frame alignment.
func (s *Session) CaptureMountingTareTwoLayer(segment skeleton.SegmentID, qStart quat.Quaternion, r quat.Quaternion) error {
	tare, ok := s.tares[segment]
	if !ok {
		return fmt.Errorf("session: unknown segment %q", segment)
	}
	mountingTare, frameAlignment := taring.CaptureMountingTareTwoLayer(qStart, r)
	now := s.now()
	tare.MountingTare = mountingTare
	tare.MountingTareSet = now
	tare.FrameAlignment = frameAlignment
	tare.HasFrameAlignment = true
	tare.FrameAlignmentSet = now
	return nil
}

func (s *Session) CaptureHeadingTare(segment skeleton.SegmentID, boneQ quat.Quaternion) error {
	tare, ok := s.tares[segment]
	if !ok {
		return fmt.Errorf("session: unknown segment %q", segment)
	}
	tare.HeadingTare = taring.CaptureHeadingTare(boneQ)
	tare.HeadingTareSet = s.now()
	return nil
}

// CaptureGlobalHeadingTare computes the heading tare from one reference
// segment's bone quaternion and assigns it to every segment named in
// boneQs, per spec.md §4.5.3's "global" mode. Per-segment CaptureHeadingTare
// calls made afterwards take precedence for that segment, per the Open
// Question decision recorded in DESIGN.md.
func (s *Session) CaptureGlobalHeadingTare(boneQs map[skeleton.SegmentID]quat.Quaternion, reference skeleton.SegmentID) error {
	refQ, ok := boneQs[reference]
	if !ok {
		return fmt.Errorf("session: reference segment %q missing from input", reference)
	}
	headingTare := taring.CaptureHeadingTare(refQ)
	now := s.now()
	for segment := range boneQs {
		tare, ok := s.tares[segment]
		if !ok {
			continue
		}
		tare.HeadingTare = headingTare
		tare.HeadingTareSet = now
	}
	return nil
}

func (s *Session) CaptureJointTare(segment skeleton.SegmentID, angles joints.Angles) error {
	tare, ok := s.tares[segment]
	if !ok {
		return fmt.Errorf("session: unknown segment %q", segment)
	}
	tare.JointTare = taring.JointTare{Flexion: angles.Flexion, Abduction: angles.Abduction, Rotation: angles.Rotation}
	tare.JointTareSet = s.now()
	return nil
}

func (s *Session) ResetTare(segment skeleton.SegmentID, level taring.TareLevel) error {
	tare, ok := s.tares[segment]
	if !ok {
		return fmt.Errorf("session: unknown segment %q", segment)
	}
	tare.Reset(level)
	return nil
}

// SerializeTares returns the persisted form of every segment's TareState.
func (s *Session) SerializeTares() []taring.Persisted {
	out := make([]taring.Persisted, 0, len(s.tares))
	for segment, tare := range s.tares {
		out = append(out, tare.Serialize(string(segment)))
	}
	return out
}

// DeserializeTares replaces every named segment's TareState with the
// persisted form. Segments not present in records are left untouched.
func (s *Session) DeserializeTares(records []taring.Persisted) {
	for _, rec := range records {
		s.tares[skeleton.SegmentID(rec.SegmentID)] = taring.Deserialize(rec)
	}
}

// ---- Misc control surface ----

func (s *Session) SetMagEnabled(enabled bool) { s.magEnabled = enabled }

// SetLocalMagneticField updates the expected field magnitude/dip used by
// the disturbance detector and rebuilds each sensor's detector with the
// new baseline.
func (s *Session) SetLocalMagneticField(expectedMagnitude, dipDeg float64) {
	s.localMagExpected = expectedMagnitude
	s.localMagDipDeg = dipDeg
	if s.cfg.Disturbance.ExpectedMagnitude != 0 {
		local := disturbance.DefaultConfig(expectedMagnitude, dipDeg)
		s.cfg.Disturbance.ExpectedMagnitude = local.ExpectedMagnitude
		s.cfg.Disturbance.ExpectedDip = local.ExpectedDip
	}
	s.rebuildFilters()
}

// Reset clears one sensor's FusionState (or, if sensorID is nil, every
// sensor's), per spec.md §6's reset(sensor_id) operation.
func (s *Session) Reset(sensorID *uint8) {
	for id, ss := range s.sensors {
		if sensorID != nil && id != *sensorID {
			continue
		}
		ss.fusionState = fusion.NewState()
		ss.haveTick = false
	}
	if sensorID == nil {
		for _, jf := range s.jointFilters {
			jf.reset()
		}
	}
}

// SensorQuaternion returns the current (pre-tare) fused orientation of the
// sensor mounted on segment, for calibration wizards that need a live
// pose to capture against.
func (s *Session) SensorQuaternion(segment skeleton.SegmentID) (quat.Quaternion, bool) {
	for _, ss := range s.sensors {
		if ss.cfg.Segment == segment {
			return ss.fusionState.Quaternion, true
		}
	}
	return quat.Identity, false
}

// DecodeStats reports the decoder's lifetime packet counters.
func (s *Session) DecodeStats() wire.Stats { return s.decodeStats }

// JitterCounters reports the jitter buffer's lifetime activity.
func (s *Session) JitterCounters() jitter.Counters { return s.jitterBuf.Counters() }

// AssemblerCounters reports the sync frame assembler's lifetime activity.
func (s *Session) AssemblerCounters() syncframe.Counters { return s.assembler.Counters() }
