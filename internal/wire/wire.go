// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package wire decodes the sync-frame binary packet format produced by the
// sensor fleet's firmware. Decoding is bit-exact: fixed-point fields are
// scaled by the constants the firmware uses, and a malformed packet is
// rejected whole rather than partially parsed, mirroring the teacher's
// NMEA-sentence-reject-on-checksum-failure posture in
// internal/app/gps_producer.go.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	packetType  = 0x25
	headerLen   = 10
	recordLen   = 24
	quatScale   = 16384.0
	accelScale  = 100.0
	gyroScale   = 900.0
	flagValid   = 0x01
)

// RawSample is one sensor's reading from a single decoded packet.
type RawSample struct {
	SensorID     uint8
	NodeID       uint8
	FrameNumber  uint32
	TimestampUs  uint32
	Quaternion   [4]float64 // w, x, y, z; zero value means "not present"
	HasQuaternion bool
	Accel        [3]float64 // m/s^2
	Gyro         [3]float64 // rad/s
	Mag          [3]float64 // uT
	HasMag       bool
	Valid        bool
}

// Finite reports whether every numerical field of s is finite, per the
// malformed-input taxonomy (non-finite fields are dropped, not processed).
func (s RawSample) Finite() bool {
	vals := []float64{
		s.Quaternion[0], s.Quaternion[1], s.Quaternion[2], s.Quaternion[3],
		s.Accel[0], s.Accel[1], s.Accel[2],
		s.Gyro[0], s.Gyro[1], s.Gyro[2],
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Stats accumulates decode counters for a transport session, surfaced over
// the control/status surface rather than raised as errors (spec error
// taxonomy: malformed input is dropped and counted, never raised).
type Stats struct {
	PacketsDecoded int64
	PacketsDropped int64
}

// Decode parses a single sync-frame packet. On success it returns one
// RawSample per sensor record, all sharing the packet's frame_number and
// timestamp_us. A length or type mismatch rejects the whole packet and
// returns an error describing why, with the caller expected to count it
// and continue feeding subsequent bytes (the decoder itself holds no
// partial-packet state across calls).
func Decode(packet []byte) ([]RawSample, error) {
	if len(packet) < headerLen {
		return nil, fmt.Errorf("wire: packet too short for header: %d bytes", len(packet))
	}
	if packet[0] != packetType {
		return nil, fmt.Errorf("wire: unexpected packet type 0x%02x", packet[0])
	}
	frameNumber := binary.LittleEndian.Uint32(packet[1:5])
	timestampUs := binary.LittleEndian.Uint32(packet[5:9])
	sensorCount := int(packet[9])

	want := headerLen + recordLen*sensorCount
	if len(packet) != want {
		return nil, fmt.Errorf("wire: packet length %d does not match header N=%d (want %d)", len(packet), sensorCount, want)
	}

	samples := make([]RawSample, 0, sensorCount)
	off := headerLen
	for i := 0; i < sensorCount; i++ {
		rec := packet[off : off+recordLen]
		off += recordLen

		s := RawSample{
			SensorID:    rec[0],
			FrameNumber: frameNumber,
			TimestampUs: timestampUs,
		}
		for c := 0; c < 4; c++ {
			raw := int16(binary.LittleEndian.Uint16(rec[1+2*c : 3+2*c]))
			s.Quaternion[c] = float64(raw) / quatScale
		}
		s.HasQuaternion = true
		for c := 0; c < 3; c++ {
			raw := int16(binary.LittleEndian.Uint16(rec[9+2*c : 11+2*c]))
			s.Accel[c] = float64(raw) / accelScale
		}
		for c := 0; c < 3; c++ {
			raw := int16(binary.LittleEndian.Uint16(rec[15+2*c : 17+2*c]))
			s.Gyro[c] = float64(raw) / gyroScale
		}
		flags := rec[21]
		s.Valid = flags&flagValid != 0
		samples = append(samples, s)
	}
	return samples, nil
}

// Encode serializes samples into a sync-frame packet sharing frameNumber
// and timestampUs. It exists mainly to round-trip the decoder in tests and
// to let a recorder or simulator emit bit-exact wire traffic.
func Encode(frameNumber, timestampUs uint32, samples []RawSample) ([]byte, error) {
	if len(samples) > 255 {
		return nil, fmt.Errorf("wire: too many sensors in one packet: %d", len(samples))
	}
	buf := make([]byte, headerLen+recordLen*len(samples))
	buf[0] = packetType
	binary.LittleEndian.PutUint32(buf[1:5], frameNumber)
	binary.LittleEndian.PutUint32(buf[5:9], timestampUs)
	buf[9] = uint8(len(samples))

	off := headerLen
	for _, s := range samples {
		rec := buf[off : off+recordLen]
		off += recordLen
		rec[0] = s.SensorID
		for c := 0; c < 4; c++ {
			v := int16(math.Round(s.Quaternion[c] * quatScale))
			binary.LittleEndian.PutUint16(rec[1+2*c:3+2*c], uint16(v))
		}
		for c := 0; c < 3; c++ {
			v := int16(math.Round(s.Accel[c] * accelScale))
			binary.LittleEndian.PutUint16(rec[9+2*c:11+2*c], uint16(v))
		}
		for c := 0; c < 3; c++ {
			v := int16(math.Round(s.Gyro[c] * gyroScale))
			binary.LittleEndian.PutUint16(rec[15+2*c:17+2*c], uint16(v))
		}
		if s.Valid {
			rec[21] = flagValid
		}
	}
	return buf, nil
}
