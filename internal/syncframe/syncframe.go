// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package syncframe assembles per-sensor RawSamples into SyncFrames whose
// member samples share an identical beacon-derived timestamp, completing a
// slot only once every expected sensor has reported.
package syncframe

import (
	"sort"
	"time"

	"github.com/danstonedev/MASH-sub003/internal/wire"
)

// SyncFrame is a complete, time-aligned multi-sensor reading.
type SyncFrame struct {
	FrameNumber uint32
	TimestampUs uint32
	Samples     map[uint8]wire.RawSample // keyed by sensor_id
}

// Config tunes slotting tolerance and expiry, mirroring the teacher's flat
// tunable style.
type Config struct {
	ExpectedSensors  map[uint8]struct{}
	TimestampToleranceUs uint32
	SlotTimeout      time.Duration
}

// DefaultConfig matches spec.md §4.3's stated defaults. ExpectedSensors
// must still be supplied by the caller.
func DefaultConfig(expected []uint8) Config {
	set := make(map[uint8]struct{}, len(expected))
	for _, id := range expected {
		set[id] = struct{}{}
	}
	return Config{
		ExpectedSensors:      set,
		TimestampToleranceUs: 100,
		SlotTimeout:          50 * time.Millisecond,
	}
}

// Counters reports lifetime assembler activity.
type Counters struct {
	Completed int64
	Incomplete int64
	Ignored    int64 // samples from unknown sensors
}

type slot struct {
	timestampUs uint32
	frameNumber uint32
	samples     map[uint8]wire.RawSample
	firstSeen   time.Time
}

// Assembler holds in-flight slots awaiting completion. Not safe for
// concurrent use.
type Assembler struct {
	cfg      Config
	slots    []*slot
	now      func() time.Time
	counters Counters
}

func New(cfg Config, now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{cfg: cfg, now: now}
}

func (a *Assembler) Counters() Counters { return a.counters }

// modularDiff returns the signed difference a-b treating both as points on
// a uint32 ring, so timestamps near wraparound compare correctly.
func modularDiff(a, b uint32) int64 {
	d := int64(a) - int64(b)
	const wrap = int64(1) << 32
	if d > wrap/2 {
		d -= wrap
	} else if d < -wrap/2 {
		d += wrap
	}
	return d
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Add places a decoded sample into its slot, creating one if needed.
// Unknown sensor ids are ignored (not an error); duplicate (sensor,
// timestamp) pairs are last-write-wins.
func (a *Assembler) Add(s wire.RawSample) {
	if _, ok := a.cfg.ExpectedSensors[s.SensorID]; !ok {
		a.counters.Ignored++
		return
	}

	for _, sl := range a.slots {
		if abs64(modularDiff(sl.timestampUs, s.TimestampUs)) <= int64(a.cfg.TimestampToleranceUs) {
			sl.samples[s.SensorID] = s
			return
		}
	}

	a.slots = append(a.slots, &slot{
		timestampUs: s.TimestampUs,
		frameNumber: s.FrameNumber,
		samples:     map[uint8]wire.RawSample{s.SensorID: s},
		firstSeen:   a.now(),
	})
}

// Pop returns completed SyncFrames in timestamp order and expires slots
// that have aged past SlotTimeout without completing.
func (a *Assembler) Pop() []SyncFrame {
	var ready []SyncFrame
	remaining := a.slots[:0]
	now := a.now()

	for _, sl := range a.slots {
		if len(sl.samples) == len(a.cfg.ExpectedSensors) {
			ready = append(ready, SyncFrame{
				FrameNumber: sl.frameNumber,
				TimestampUs: sl.timestampUs,
				Samples:     sl.samples,
			})
			a.counters.Completed++
			continue
		}
		if now.Sub(sl.firstSeen) >= a.cfg.SlotTimeout {
			a.counters.Incomplete++
			continue
		}
		remaining = append(remaining, sl)
	}
	a.slots = remaining

	sort.Slice(ready, func(i, j int) bool {
		return modularDiff(ready[i].TimestampUs, ready[j].TimestampUs) < 0
	})
	return ready
}
