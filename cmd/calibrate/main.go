// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibrate/main.go
//
// Guided interactive calibration for the body-segment sensors in this
// project. Walks the operator through, per segment:
//  1. Mounting tare: hold the segment in its neutral anatomical pose.
//  2. Heading tare: face the segment along the room's forward axis.
//  3. Magnetometer calibration: rotate the sensor through all orientations
//     so internal/magcal can fit a hard/soft-iron correction.
//
// Generalizes the teacher's cmd/calibration/main.go console wizard (phase
// prompts, waitEnter, per-phase stats) from raw MPU9250 register
// calibration to this project's control surface.
//
// Run:
//
//	go run ./cmd/calibrate -config inertial_config.txt -segment pelvis -sensor 1
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/danstonedev/MASH-sub003/internal/calib"
	"github.com/danstonedev/MASH-sub003/internal/config"
	"github.com/danstonedev/MASH-sub003/internal/disturbance"
	"github.com/danstonedev/MASH-sub003/internal/fusion"
	"github.com/danstonedev/MASH-sub003/internal/imu"
	"github.com/danstonedev/MASH-sub003/internal/jitter"
	"github.com/danstonedev/MASH-sub003/internal/joints"
	"github.com/danstonedev/MASH-sub003/internal/magcal"
	"github.com/danstonedev/MASH-sub003/internal/quat"
	"github.com/danstonedev/MASH-sub003/internal/session"
	"github.com/danstonedev/MASH-sub003/internal/skeleton"
	"github.com/danstonedev/MASH-sub003/internal/syncframe"
	"github.com/danstonedev/MASH-sub003/internal/transport"
	"github.com/danstonedev/MASH-sub003/internal/wire"
)

const (
	magCalibrationDuration = 60 * time.Second
	axisCaptureDuration    = 8 * time.Second
)

func main() {
	configPath := flag.String("config", "inertial_config.txt", "path to the pipeline config file")
	segmentFlag := flag.String("segment", "", "segment to calibrate, e.g. pelvis")
	sensorFlag := flag.Uint("sensor", 0, "sensor id carrying the segment's magnetometer")
	twoLayerFlag := flag.Bool("two-layer", false, "use the two-layer (PCA + boresight) mounting-tare construction instead of the single static pose; for segments like head/neck where a precise neutral pose is hard to hold")
	flag.Parse()

	if *segmentFlag == "" {
		log.Fatal("calibrate: -segment is required")
	}
	segment := skeleton.SegmentID(*segmentFlag)
	sensorID := uint8(*sensorFlag)

	fmt.Println("=== Guided Calibration (Mounting + Heading + Magnetometer) ===")
	fmt.Println("This workflow will prompt you in the console for each step.")
	fmt.Println()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	sess, feeder, err := newCalibrationRig(cfg)
	if err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}

	in := bufio.NewReader(os.Stdin)

	if *twoLayerFlag {
		runTwoLayerMountingTare(in, sess, feeder, segment, sensorID, cfg.SampleHz)
	} else {
		fmt.Println("Step 1/3 — Mounting tare")
		fmt.Println("Hold the segment in its neutral anatomical pose.")
		waitEnter(in, "Press ENTER when ready")
		current, ok := sess.SensorQuaternion(segment)
		if !ok {
			log.Fatalf("calibrate: no live orientation for segment %q yet", segment)
		}
		if err := sess.CaptureMountingTare(segment, current, quat.Identity, nil); err != nil {
			log.Fatalf("calibrate: mounting tare: %v", err)
		}
		fmt.Println("Mounting tare captured.")
	}

	fmt.Println("\nStep 2/3 — Heading tare")
	fmt.Println("Face the segment along the room's forward axis.")
	waitEnter(in, "Press ENTER when ready")
	current, ok := sess.SensorQuaternion(segment)
	if !ok {
		log.Fatalf("calibrate: no live orientation for segment %q yet", segment)
	}
	if err := sess.CaptureHeadingTare(segment, current); err != nil {
		log.Fatalf("calibrate: heading tare: %v", err)
	}
	fmt.Println("Heading tare captured.")

	fmt.Println("\nStep 3/3 — Magnetometer calibration")
	fmt.Println("Rotate the sensor through all orientations (3D figure-eights work well).")
	fmt.Printf("Capturing for up to %s, or press ENTER to stop early.\n", magCalibrationDuration)
	if err := sess.StartMagCalibration(sensorID); err != nil {
		log.Fatalf("calibrate: start mag calibration: %v", err)
	}
	feeder.armFor(sensorID)
	waitEnterOrTimeout(in, magCalibrationDuration)
	feeder.disarm()
	result, err := sess.FinishMagCalibration(sensorID)
	if err != nil {
		log.Fatalf("calibrate: finish mag calibration: %v", err)
	}
	fmt.Printf("Magnetometer calibration: valid=%v quality=%.2f samples=%d residual=%.2f\n",
		result.Valid, result.Quality, result.SampleCount, result.Residual)

	fmt.Println("\nCalibration complete.")
}

// calibrationFeeder forwards every packet to the session for live fusion,
// and, while armed for a sensor, also decodes the packet itself and passes
// that sensor's samples that carry a magnetometer reading (HasMag) to the
// control surface's add_mag_sample, a separate call from feed/pop_frames
// (spec §6). wire.Decode never sets HasMag, since the wire record has no
// magnetometer field, so on decoded wire traffic this tap adds no
// magnetometer samples. The same tap collects raw gyro/accel samples during
// the two-layer wizard's cued-motion step, feeding internal/calib's PCA
// axis estimator.
type calibrationFeeder struct {
	session  *session.Session
	armedFor *uint8

	armedForAxis *uint8
	gyroSamples  []quat.Vec3
	accelSamples []quat.Vec3
}

func (f *calibrationFeeder) armFor(sensorID uint8) { f.armedFor = &sensorID }
func (f *calibrationFeeder) disarm()               { f.armedFor = nil }

func (f *calibrationFeeder) armAxisCapture(sensorID uint8) {
	f.armedForAxis = &sensorID
	f.gyroSamples = nil
	f.accelSamples = nil
}

// disarmAxisCapture stops the cued-motion capture and returns the
// collected gyro and accel samples, in arrival order.
func (f *calibrationFeeder) disarmAxisCapture() (gyro, accel []quat.Vec3) {
	f.armedForAxis = nil
	gyro, accel = f.gyroSamples, f.accelSamples
	f.gyroSamples, f.accelSamples = nil, nil
	return gyro, accel
}

func (f *calibrationFeeder) Feed(packet []byte) {
	f.session.Feed(packet)
	if f.armedFor == nil && f.armedForAxis == nil {
		return
	}
	samples, err := wire.Decode(packet)
	if err != nil {
		return
	}
	for _, s := range samples {
		if !s.Valid {
			continue
		}
		if f.armedFor != nil && s.SensorID == *f.armedFor && s.HasMag {
			raw := quat.Vec3{X: s.Mag[0], Y: s.Mag[1], Z: s.Mag[2]}
			if err := f.session.AddMagSample(s.SensorID, raw); err != nil {
				log.Printf("calibrate: add mag sample: %v", err)
			}
		}
		if f.armedForAxis != nil && s.SensorID == *f.armedForAxis {
			f.gyroSamples = append(f.gyroSamples, quat.Vec3{X: s.Gyro[0], Y: s.Gyro[1], Z: s.Gyro[2]})
			f.accelSamples = append(f.accelSamples, quat.Vec3{X: s.Accel[0], Y: s.Accel[1], Z: s.Accel[2]})
		}
	}
}

// runTwoLayerMountingTare walks the two-layer mounting-tare construction
// of spec.md §4.5.2: capture a start pose, record a cued motion (a nod
// along the segment's primary flexion axis), run PCA over the low-pass
// filtered gyro samples to find that axis in sensor-frame coordinates,
// and combine it with the averaged gravity direction into the boresight
// rotation R. Unlike the single-pose mode, this does not require the
// operator to hold a precise neutral pose — only a recognizable cued
// motion — which is why it is offered for segments like the head/neck
// where "facing exactly forward" is hard to self-assess.
func runTwoLayerMountingTare(in *bufio.Reader, sess *session.Session, feeder *calibrationFeeder, segment skeleton.SegmentID, sensorID uint8, sampleHz float64) {
	fmt.Println("Step 1/3 — Mounting tare (two-layer)")
	fmt.Println("Hold the segment still in any comfortable starting pose.")
	waitEnter(in, "Press ENTER when ready")
	qStart, ok := sess.SensorQuaternion(segment)
	if !ok {
		log.Fatalf("calibrate: no live orientation for segment %q yet", segment)
	}

	fmt.Println("Now nod the segment back and forth several times along its primary flexion axis.")
	fmt.Printf("Recording for up to %s, or press ENTER to stop early.\n", axisCaptureDuration)
	feeder.armAxisCapture(sensorID)
	waitEnterOrTimeout(in, axisCaptureDuration)
	gyroSamples, accelSamples := feeder.disarmAxisCapture()
	if len(gyroSamples) == 0 {
		log.Fatalf("calibrate: no samples captured for axis estimation")
	}

	filtered := lowPassSeries(gyroSamples, calib.LowPassCutoffHz, sampleHz)
	axis := calib.EstimateFunctionalAxis(filtered)
	fmt.Printf("Functional axis confidence: %.2f\n", axis.Confidence)

	gravityDown := averageVec3(accelSamples).Normalize().Scale(-1)
	r := calib.BuildAnatomicalBasis(axis.Axis, gravityDown)

	if err := sess.CaptureMountingTareTwoLayer(segment, qStart, r); err != nil {
		log.Fatalf("calibrate: two-layer mounting tare: %v", err)
	}
	fmt.Println("Mounting tare captured (two-layer).")
}

// lowPassSeries runs internal/joints's zero-phase STA filter over each
// axis independently, per spec.md §4.6.1 step 1's pre-PCA smoothing.
func lowPassSeries(samples []quat.Vec3, cutoffHz, sampleHz float64) []quat.Vec3 {
	x := make([]float64, len(samples))
	y := make([]float64, len(samples))
	z := make([]float64, len(samples))
	for i, s := range samples {
		x[i], y[i], z[i] = s.X, s.Y, s.Z
	}
	fx := joints.FilterForwardBackward(x, cutoffHz, sampleHz)
	fy := joints.FilterForwardBackward(y, cutoffHz, sampleHz)
	fz := joints.FilterForwardBackward(z, cutoffHz, sampleHz)
	out := make([]quat.Vec3, len(samples))
	for i := range samples {
		out[i] = quat.Vec3{X: fx[i], Y: fy[i], Z: fz[i]}
	}
	return out
}

func averageVec3(samples []quat.Vec3) quat.Vec3 {
	if len(samples) == 0 {
		return quat.Vec3{}
	}
	var sum quat.Vec3
	for _, s := range samples {
		sum = sum.Add(s)
	}
	return sum.Scale(1 / float64(len(samples)))
}

func newCalibrationRig(cfg *config.Config) (*session.Session, *calibrationFeeder, error) {
	sensors, err := imu.ParseSensors(cfg.Sensors)
	if err != nil {
		return nil, nil, fmt.Errorf("parse SENSORS: %w", err)
	}

	expected := make(map[uint8]struct{}, len(sensors))
	for _, sc := range sensors {
		expected[sc.SensorID] = struct{}{}
	}

	sess := session.New(session.Config{
		Sensors: sensors,
		Jitter: jitter.Config{
			BufferDelay:            jitter.DefaultConfig().BufferDelay,
			ResetBackwardThreshold: uint32(cfg.ResetBackwardThreshold),
		},
		SyncFrame: syncframe.Config{
			ExpectedSensors:      expected,
			TimestampToleranceUs: uint32(cfg.TimestampToleranceUs),
			SlotTimeout:          syncframe.DefaultConfig(nil).SlotTimeout,
		},
		Fusion: fusion.Config{
			RestThrAccel:            cfg.RestThrAccel,
			RestThrGyro:             cfg.RestThrGyro,
			ExtAccelTol:             cfg.ExtAccelTol,
			RestGain:                cfg.RestGain,
			MotionGain:              cfg.MotionGain,
			MotionThr:               cfg.MotionThr,
			BiasAlpha:               cfg.BiasAlpha,
			TiltGyroLimit:           0.26,
			GravityStd:              9.81,
			HeadingWeightMin:        0.1,
			HeadingGainFactor:       0.5,
			GyroBogusLimit:          100,
			HeadingUncertaintyFloor: 5,
			HeadingUncertaintyMax:   180,
		},
		MagCal: magcal.Config{
			MinSamples:        cfg.MagCalMinSamples,
			MinSphereCoverage: cfg.MagCalMinSphereCoverage,
			MaxResidual:       cfg.MagCalMaxResidual,
		},
		Disturbance: disturbance.DefaultConfig(cfg.LocalMagExpectedUT, cfg.LocalMagDipDeg),
		SampleHz:    cfg.SampleHz,
	}, nil)

	port, err := transport.OpenSerial(cfg.SerialPort, uint(cfg.BaudRate))
	if err != nil {
		return nil, nil, fmt.Errorf("open serial port: %w", err)
	}

	feeder := &calibrationFeeder{session: sess}
	go transport.ReadPacketsLogged(port, feeder)
	go drainFrames(sess)

	return sess, feeder, nil
}

func drainFrames(sess *session.Session) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		sess.PopFrames()
	}
}

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Println(prompt)
	in.ReadString('\n')
}

func waitEnterOrTimeout(in *bufio.Reader, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		in.ReadString('\n')
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
