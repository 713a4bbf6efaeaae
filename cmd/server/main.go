// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/server/main.go
//
// Runs the full pipeline: opens the serial bridge to the sensor fleet,
// decodes sync-frame packets into the session, and publishes orientation
// and joint-angle telemetry over MQTT while accepting control commands
// on the same broker.
//
// Run:
//
//	go run ./cmd/server -config inertial_config.txt
package main

import (
	"flag"
	"log"
	"time"

	"github.com/danstonedev/MASH-sub003/internal/config"
	"github.com/danstonedev/MASH-sub003/internal/disturbance"
	"github.com/danstonedev/MASH-sub003/internal/fusion"
	"github.com/danstonedev/MASH-sub003/internal/imu"
	"github.com/danstonedev/MASH-sub003/internal/jitter"
	"github.com/danstonedev/MASH-sub003/internal/magcal"
	"github.com/danstonedev/MASH-sub003/internal/mqttpub"
	"github.com/danstonedev/MASH-sub003/internal/session"
	"github.com/danstonedev/MASH-sub003/internal/syncframe"
	"github.com/danstonedev/MASH-sub003/internal/transport"
)

func main() {
	configPath := flag.String("config", "inertial_config.txt", "path to the pipeline config file")
	flag.Parse()

	log.Println("starting pipeline server")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	sensors, err := imu.ParseSensors(cfg.Sensors)
	if err != nil {
		log.Fatalf("failed to parse SENSORS: %v", err)
	}

	var expected []uint8
	for _, sc := range sensors {
		expected = append(expected, sc.SensorID)
	}

	sess := session.New(session.Config{
		Sensors: sensors,
		Jitter: jitter.Config{
			BufferDelay:            time.Duration(cfg.BufferDelayMS) * time.Millisecond,
			ResetBackwardThreshold: uint32(cfg.ResetBackwardThreshold),
		},
		SyncFrame: syncframe.Config{
			ExpectedSensors:      sensorSet(expected),
			TimestampToleranceUs: uint32(cfg.TimestampToleranceUs),
			SlotTimeout:          time.Duration(cfg.SlotTimeoutMS) * time.Millisecond,
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

	client, err := mqttpub.NewClient(cfg.MQTTBroker, cfg.MQTTClientIDServer)
	if err != nil {
		log.Fatalf("failed to connect to MQTT broker: %v", err)
	}

	topics := mqttpub.Topics{
		Orientation: cfg.TopicOrientation,
		JointAngles: cfg.TopicJointAngles,
		Calibration: cfg.TopicCalibration,
		Control:     cfg.TopicControl,
	}
	if err := mqttpub.SubscribeControl(client, topics.Control, sess); err != nil {
		log.Fatalf("failed to subscribe control topic: %v", err)
	}

	port, err := transport.OpenSerial(cfg.SerialPort, uint(cfg.BaudRate))
	if err != nil {
		log.Fatalf("failed to open serial port: %v", err)
	}
	defer port.Close()

	go transport.ReadPacketsLogged(port, sess)

	publisher := mqttpub.NewPublisher(client, topics, sess)
	publisher.Run(time.Duration(1e9 / cfg.SampleHz))
}

func sensorSet(ids []uint8) map[uint8]struct{} {
	set := make(map[uint8]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
