// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/web/main.go
//
// Serves the latest orientation/joint-angle telemetry (cached from the
// MQTT topics cmd/server publishes, generalizing the teacher's web.go
// subscribe-and-cache pattern) plus the guided-calibration WebSocket
// wizard. Calibration needs a live, locally-fed session rather than the
// MQTT-cached Euler poses the dashboard uses, so this binary opens its
// own serial connection for that purpose — mirroring the teacher, whose
// calibration_handler.go reaches past the MQTT-fed display state straight
// into internal/sensors for the same reason. Run the calibration wizard
// and the main pipeline (cmd/server) against the same serial port only
// one at a time.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/danstonedev/MASH-sub003/internal/config"
	"github.com/danstonedev/MASH-sub003/internal/disturbance"
	"github.com/danstonedev/MASH-sub003/internal/fusion"
	"github.com/danstonedev/MASH-sub003/internal/imu"
	"github.com/danstonedev/MASH-sub003/internal/jitter"
	"github.com/danstonedev/MASH-sub003/internal/magcal"
	"github.com/danstonedev/MASH-sub003/internal/orientation"
	"github.com/danstonedev/MASH-sub003/internal/session"
	"github.com/danstonedev/MASH-sub003/internal/syncframe"
	"github.com/danstonedev/MASH-sub003/internal/transport"
	"github.com/danstonedev/MASH-sub003/internal/wsapi"
)

type jointOut struct {
	Flexion   float64 `json:"flexion"`
	Abduction float64 `json:"abduction"`
	Rotation  float64 `json:"rotation"`
	InRange   bool    `json:"in_range"`
}

func main() {
	configPath := flag.String("config", "inertial_config.txt", "path to the pipeline config file")
	flag.Parse()

	log.Println("starting web status/calibration server")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	var (
		mu             sync.RWMutex
		lastOrientation map[string]orientation.Pose
		haveOrientation bool
		lastJoints      map[string]jointOut
		haveJoints      bool
	)

	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTTBroker).SetClientID(cfg.MQTTClientIDWeb)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to MQTT broker: %v", token.Error())
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	orientationToken := client.Subscribe(cfg.TopicOrientation, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var out struct {
			Segments map[string]orientation.Pose `json:"segments"`
		}
		if err := json.Unmarshal(msg.Payload(), &out); err != nil {
			log.Printf("web: orientation unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastOrientation = out.Segments
		haveOrientation = true
		mu.Unlock()
	})
	orientationToken.Wait()
	if orientationToken.Error() != nil {
		log.Fatalf("web: subscribe %s: %v", cfg.TopicOrientation, orientationToken.Error())
	}
	log.Printf("web: subscribed to %s", cfg.TopicOrientation)

	jointsToken := client.Subscribe(cfg.TopicJointAngles, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var out struct {
			Joints map[string]jointOut `json:"joints"`
		}
		if err := json.Unmarshal(msg.Payload(), &out); err != nil {
			log.Printf("web: joint-angles unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastJoints = out.Joints
		haveJoints = true
		mu.Unlock()
	})
	jointsToken.Wait()
	if jointsToken.Error() != nil {
		log.Fatalf("web: subscribe %s: %v", cfg.TopicJointAngles, jointsToken.Error())
	}
	log.Printf("web: subscribed to %s", cfg.TopicJointAngles)

	http.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if !haveOrientation {
			http.Error(w, "no orientation data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastOrientation); err != nil {
			log.Printf("web: orientation JSON encode error: %v", err)
		}
	})

	http.HandleFunc("/api/joints", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if !haveJoints {
			http.Error(w, "no joint-angle data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastJoints); err != nil {
			log.Printf("web: joints JSON encode error: %v", err)
		}
	})

	calibSess, err := newCalibrationSession(cfg)
	if err != nil {
		log.Printf("web: calibration wizard unavailable: %v", err)
	} else {
		http.HandleFunc("/api/calibration/ws", wsapi.HandleCalibrationWS(calibSess))
	}

	http.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if calibSess == nil {
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		health := map[string]interface{}{
			"decode":    calibSess.DecodeStats(),
			"jitter":    calibSess.JitterCounters(),
			"assembler": calibSess.AssemblerCounters(),
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			log.Printf("web: health JSON encode error: %v", err)
		}
	})

	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// newCalibrationSession opens a dedicated serial connection and session
// instance for the calibration wizard, independent of cmd/server's own
// session.
func newCalibrationSession(cfg *config.Config) (*session.Session, error) {
	sensors, err := imu.ParseSensors(cfg.Sensors)
	if err != nil {
		return nil, fmt.Errorf("parse SENSORS: %w", err)
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
		return nil, fmt.Errorf("open serial port: %w", err)
	}
	go transport.ReadPacketsLogged(port, sess)
	go drainFrames(sess)

	return sess, nil
}

// drainFrames keeps the session's output queue from growing unbounded
// while nothing else is popping frames from it; the calibration wizard
// only needs SensorQuaternion's live state, not the popped frames.
func drainFrames(sess *session.Session) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		sess.PopFrames()
	}
}
