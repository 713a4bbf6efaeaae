// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport opens the host-side serial/radio bridge and hands
// decoded wire-format packets to the session, the concrete instance of
// spec.md §9's "model the I/O layer as a channel that hands bytes →
// decoder". Grounded on the teacher's internal/app/gps_producer.go, which
// opens a serial.Options{...} device and reads it with a bufio.Reader in
// a loop; here the payload is sync-frame packets instead of NMEA lines.
package transport

import (
	"bufio"
	"fmt"
	"io"
	"log"

	"github.com/jacobsa/go-serial/serial"
)

const (
	packetTypeByte = 0x25
	headerLen      = 10
	recordLen      = 24
)

// OpenSerial opens portName at baudRate using the same serial.OpenOptions
// shape the teacher's gps_producer.go constructs.
func OpenSerial(portName string, baudRate uint) (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:               portName,
		BaudRate:               baudRate,
		DataBits:               8,
		StopBits:               1,
		MinimumReadSize:        1,
		InterCharacterTimeout:  100,
	}
	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", portName, err)
	}
	return port, nil
}

// Feeder is the subset of session.Session this package depends on,
// letting tests substitute a fake without pulling in the whole pipeline.
type Feeder interface {
	Feed(packet []byte)
}

// ReadPackets reads framed sync-frame packets from r and calls feed for
// each, until r returns an error (including io.EOF on stream close). It
// resyncs to the next packet-type byte after any framing error, mirroring
// the teacher's per-line resilience in its NMEA reader loop.
func ReadPackets(r io.Reader, feed Feeder) error {
	reader := bufio.NewReader(r)
	for {
		typeByte, err := reader.ReadByte()
		if err != nil {
			return err
		}
		if typeByte != packetTypeByte {
			continue
		}

		rest := make([]byte, headerLen-1)
		if _, err := io.ReadFull(reader, rest); err != nil {
			return err
		}
		sensorCount := int(rest[len(rest)-1])

		body := make([]byte, recordLen*sensorCount)
		if _, err := io.ReadFull(reader, body); err != nil {
			return err
		}

		packet := make([]byte, 0, headerLen+len(body))
		packet = append(packet, typeByte)
		packet = append(packet, rest...)
		packet = append(packet, body...)

		feed.Feed(packet)
	}
}

// ReadPacketsLogged wraps ReadPackets and logs the error that ends its
// read loop. It does not retry or reopen the port; it returns once
// ReadPackets returns.
func ReadPacketsLogged(r io.Reader, feed Feeder) {
	if err := ReadPackets(r, feed); err != nil {
		log.Printf("transport: serial read loop ended: %v", err)
	}
}
