// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package wsapi implements the guided-calibration WebSocket wizard:
// mounting tare, heading tare, and magnetometer calibration driven
// step-by-step from a browser client. It generalizes the teacher's
// internal/app/calibration_handler.go state machine (phase/step/progress/
// stats/complete WSResponse envelope, runNextStep dispatch) from raw
// MPU9250 gyro/accel/mag calibration to the session's control surface.
package wsapi

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danstonedev/MASH-sub003/internal/quat"
	"github.com/danstonedev/MASH-sub003/internal/session"
	"github.com/danstonedev/MASH-sub003/internal/skeleton"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Phase names the wizard's top-level stage, mirroring the teacher's
// gyro/accel/mag phase sequence but over mounting/heading/mag tare.
type Phase string

const (
	PhaseMounting Phase = "mounting"
	PhaseHeading  Phase = "heading"
	PhaseMag      Phase = "mag"
	PhaseComplete Phase = "complete"
)

// WSMessage is a client -> server command, matching the teacher's
// WSMessage{Action, ...} shape.
type WSMessage struct {
	Action   string `json:"action"` // "init", "next", "cancel"
	Segment  string `json:"segment,omitempty"`
	SensorID *uint8 `json:"sensor_id,omitempty"`
}

// WSResponse is a server -> client envelope, matching the teacher's
// WSResponse{Type, Phase, Step, ...} shape.
type WSResponse struct {
	Type     string      `json:"type"` // "phase", "step", "progress", "stats", "complete", "error"
	Phase    Phase       `json:"phase,omitempty"`
	Message  string      `json:"message,omitempty"`
	Progress float64     `json:"progress,omitempty"`
	Stats    interface{} `json:"stats,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// wizardSession tracks one browser client's in-progress calibration run.
type wizardSession struct {
	conn    *websocket.Conn
	session *session.Session
	segment skeleton.SegmentID
	phase   Phase
}

// HandleCalibrationWS upgrades the HTTP request to a WebSocket and runs
// the guided-calibration wizard against sess, generalizing the teacher's
// HandleCalibrationWS handler.
func HandleCalibrationWS(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("wsapi: upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		ws := &wizardSession{conn: conn, session: sess, phase: PhaseMounting}
		ws.run()
	}
}

func (ws *wizardSession) run() {
	for {
		var msg WSMessage
		if err := ws.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Action {
		case "init":
			ws.segment = skeleton.SegmentID(msg.Segment)
			ws.phase = PhaseMounting
			ws.sendPhase("starting mounting tare capture")
		case "next":
			ws.runNextStep(msg)
		case "cancel":
			ws.sendPhase("cancelled")
			return
		default:
			ws.sendError("unknown action")
		}
	}
}

func (ws *wizardSession) runNextStep(msg WSMessage) {
	switch ws.phase {
	case PhaseMounting:
		ws.runMountingStep()
	case PhaseHeading:
		ws.runHeadingStep()
	case PhaseMag:
		ws.runMagStep(msg)
	default:
		ws.sendError("wizard already complete")
	}
}

// runMountingStep captures a single-pose mounting tare at the current
// sensor orientation against the identity target pose, then advances.
func (ws *wizardSession) runMountingStep() {
	current, _ := ws.session.SensorQuaternion(ws.segment)
	if err := ws.session.CaptureMountingTare(ws.segment, current, quat.Identity, nil); err != nil {
		ws.sendError(err.Error())
		return
	}
	ws.sendStats(map[string]string{"result": "mounting tare captured"})
	ws.phase = PhaseHeading
	ws.sendPhase("starting heading tare capture")
}

func (ws *wizardSession) runHeadingStep() {
	current, _ := ws.session.SensorQuaternion(ws.segment)
	if err := ws.session.CaptureHeadingTare(ws.segment, current); err != nil {
		ws.sendError(err.Error())
		return
	}
	ws.sendStats(map[string]string{"result": "heading tare captured"})
	ws.phase = PhaseMag
	ws.sendPhase("starting magnetometer calibration")
}

func (ws *wizardSession) runMagStep(msg WSMessage) {
	if msg.SensorID == nil {
		ws.sendError("mag step requires sensor_id")
		return
	}
	if err := ws.session.StartMagCalibration(*msg.SensorID); err != nil {
		ws.sendError(err.Error())
		return
	}
	ws.sendProgress(1.0)
	result, err := ws.session.FinishMagCalibration(*msg.SensorID)
	if err != nil {
		ws.sendError(err.Error())
		return
	}
	ws.sendStats(result)
	ws.phase = PhaseComplete
	ws.complete(result.Valid)
}

func (ws *wizardSession) sendPhase(message string) {
	ws.send(WSResponse{Type: "phase", Phase: ws.phase, Message: message})
}

func (ws *wizardSession) sendProgress(progress float64) {
	ws.send(WSResponse{Type: "progress", Phase: ws.phase, Progress: progress})
}

func (ws *wizardSession) sendStats(stats interface{}) {
	ws.send(WSResponse{Type: "stats", Phase: ws.phase, Stats: stats})
}

func (ws *wizardSession) sendError(message string) {
	ws.send(WSResponse{Type: "error", Phase: ws.phase, Error: message})
}

func (ws *wizardSession) complete(valid bool) {
	msg := "calibration complete"
	if !valid {
		msg = "calibration did not meet quality thresholds"
	}
	ws.send(WSResponse{Type: "complete", Phase: PhaseComplete, Message: msg})
}

func (ws *wizardSession) send(resp WSResponse) {
	ws.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := ws.conn.WriteJSON(resp); err != nil {
		log.Printf("wsapi: write failed: %v", err)
	}
}
