// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqttpub publishes pipeline output to MQTT topics and relays
// control-surface commands received on a command topic into the session.
// It generalizes the teacher's internal/app/imu_producer.go ticker-driven
// publish loop (JSON marshal + client.Publish + logged errors) from raw
// IMU/pose telemetry to SyncFrame/JointAngles telemetry, and its
// internal/app/web.go subscribe-and-dispatch pattern for control.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/danstonedev/MASH-sub003/internal/orientation"
	"github.com/danstonedev/MASH-sub003/internal/session"
)

// Topics names the MQTT topics used by the publisher and subscriber.
type Topics struct {
	Orientation string
	JointAngles string
	Calibration string
	Control     string
}

// Publisher ticks the session and publishes its output, mirroring the
// teacher's imu_producer.go ticker-and-publish shape.
type Publisher struct {
	client  mqtt.Client
	topics  Topics
	session *session.Session
	ticker  *time.Ticker
	done    chan struct{}
	tickCount int
}

// NewClient builds a paho MQTT client against broker, exactly the
// connection-options shape the teacher uses in its producer mains.
func NewClient(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID).SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttpub: connect to %s: %w", broker, token.Error())
	}
	return client, nil
}

// NewPublisher constructs a Publisher bound to an existing client.
func NewPublisher(client mqtt.Client, topics Topics, sess *session.Session) *Publisher {
	return &Publisher{client: client, topics: topics, session: sess, done: make(chan struct{})}
}

type orientationMessage struct {
	FrameNumber uint32                       `json:"frame_number"`
	TimestampUs uint32                       `json:"timestamp_us"`
	Segments    map[string]orientation.Pose  `json:"segments"`
}

type jointAnglesMessage struct {
	FrameNumber uint32             `json:"frame_number"`
	TimestampUs uint32             `json:"timestamp_us"`
	Joints      map[string]jointOut `json:"joints"`
}

type jointOut struct {
	Flexion   float64 `json:"flexion"`
	Abduction float64 `json:"abduction"`
	Rotation  float64 `json:"rotation"`
	InRange   bool    `json:"in_range"`
}

// Run drains the session's output every interval and publishes it,
// blocking until Stop is called. interval should match the stream's
// sample cadence.
func (p *Publisher) Run(interval time.Duration) {
	p.ticker = time.NewTicker(interval)
	defer p.ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	for _, frame := range p.session.PopFrames() {
		segments := make(map[string]orientation.Pose, len(frame.Orientations))
		for seg, q := range frame.Orientations {
			segments[string(seg)] = orientation.FromQuaternion(q)
		}
		p.publishJSON(p.topics.Orientation, orientationMessage{
			FrameNumber: frame.FrameNumber,
			TimestampUs: frame.TimestampUs,
			Segments:    segments,
		})

		joints := make(map[string]jointOut, len(frame.Joints))
		for id, a := range frame.Joints {
			joints[string(id)] = jointOut{Flexion: a.Flexion, Abduction: a.Abduction, Rotation: a.Rotation, InRange: a.InRange}
		}
		p.publishJSON(p.topics.JointAngles, jointAnglesMessage{
			FrameNumber: frame.FrameNumber,
			TimestampUs: frame.TimestampUs,
			Joints:      joints,
		})

		p.tickCount++
		if p.tickCount%100 == 0 {
			log.Printf("mqttpub: published %d frames (jitter=%+v assembler=%+v)",
				p.tickCount, p.session.JitterCounters(), p.session.AssemblerCounters())
		}
	}
}

func (p *Publisher) publishJSON(topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("mqttpub: marshal error for topic %s: %v", topic, err)
		return
	}
	if token := p.client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		log.Printf("mqttpub: publish error for topic %s: %v", topic, token.Error())
	}
}

// Stop terminates Run.
func (p *Publisher) Stop() { close(p.done) }

// controlCommand is the envelope accepted on the control topic.
type controlCommand struct {
	Op       string `json:"op"`
	SensorID *uint8 `json:"sensor_id,omitempty"`
}

// SubscribeControl wires the control-surface commands named in spec.md
// §6 to the session, generalizing the teacher's web.go command dispatch
// over MQTT instead of HTTP.
func SubscribeControl(client mqtt.Client, topic string, sess *session.Session) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var cmd controlCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			log.Printf("mqttpub: malformed control command: %v", err)
			return
		}
		switch cmd.Op {
		case "start_mag_calibration":
			if cmd.SensorID == nil {
				log.Printf("mqttpub: start_mag_calibration missing sensor_id")
				return
			}
			if err := sess.StartMagCalibration(*cmd.SensorID); err != nil {
				log.Printf("mqttpub: start_mag_calibration: %v", err)
			}
		case "finish_mag_calibration":
			if cmd.SensorID == nil {
				log.Printf("mqttpub: finish_mag_calibration missing sensor_id")
				return
			}
			if _, err := sess.FinishMagCalibration(*cmd.SensorID); err != nil {
				log.Printf("mqttpub: finish_mag_calibration: %v", err)
			}
		case "reset":
			sess.Reset(cmd.SensorID)
		case "set_mag_enabled":
			sess.SetMagEnabled(true)
		case "set_mag_disabled":
			sess.SetMagEnabled(false)
		default:
			log.Printf("mqttpub: unknown control op %q", cmd.Op)
		}
	}
	if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttpub: subscribe %s: %w", topic, token.Error())
	}
	return nil
}
