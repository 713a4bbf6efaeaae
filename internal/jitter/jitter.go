// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package jitter implements the delay-bounded reorder buffer that sits
// between the frame decoder and the sync frame assembler, releasing
// decoded batches in frame_number order while bounding added latency.
package jitter

import (
	"sort"
	"time"

	"github.com/danstonedev/MASH-sub003/internal/wire"
)

// State names the buffer's lifecycle per spec.md §4.2.
type State int

const (
	StateEmpty State = iota
	StateFilling
	StateSteady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFilling:
		return "filling"
	case StateSteady:
		return "steady"
	default:
		return "unknown"
	}
}

// Batch is one decoder output: the samples sharing a frame_number.
type Batch struct {
	FrameNumber uint32
	Samples     []wire.RawSample
}

// Config tunes release timing and reset detection, mirroring the teacher's
// config.Config flat-tunable style (internal/config/config.go).
type Config struct {
	// BufferDelay is the timeout-release deadline for the head entry.
	BufferDelay time.Duration
	// ResetBackwardThreshold is how far backwards a frame_number must jump
	// to be treated as a device reset rather than a stale duplicate.
	ResetBackwardThreshold uint32
}

// DefaultConfig matches spec.md §4.2's stated defaults.
func DefaultConfig() Config {
	return Config{
		BufferDelay:            40 * time.Millisecond,
		ResetBackwardThreshold: 500,
	}
}

// Counters reports the buffer's lifetime drop/expire/reset activity, the
// non-raising status surface called for by the error-handling taxonomy.
type Counters struct {
	Dropped int64
	Expired int64
	Resets  int64
}

// Buffer is the jitter buffer. It is not safe for concurrent use; the
// caller (the I/O thread per spec.md §5) owns it exclusively.
type Buffer struct {
	cfg       Config
	state     State
	entries   map[uint32]*Batch
	head      uint32
	hasHead   bool
	headSince time.Time
	now       func() time.Time
	counters  Counters
}

// New constructs a Buffer. now lets tests and simulators supply a
// controlled clock; pass time.Now in production, exactly the pattern the
// teacher's jitter/timeout logic would need if it tested wall-clock paths.
func New(cfg Config, now func() time.Time) *Buffer {
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		cfg:     cfg,
		state:   StateEmpty,
		entries: make(map[uint32]*Batch),
		now:     now,
	}
}

func (b *Buffer) State() State       { return b.state }
func (b *Buffer) Counters() Counters { return b.counters }

// Add enqueues a decoded batch. It never blocks. Duplicate frame_numbers
// overwrite the prior entry (last-write-wins, same timestamp per spec).
func (b *Buffer) Add(frameNumber uint32, samples []wire.RawSample) {
	if b.detectReset(frameNumber) {
		b.flush()
		b.counters.Resets++
	}

	if !b.hasHead {
		b.head = frameNumber
		b.hasHead = true
		b.headSince = time.Time{}
	} else if frameNumber < b.head && b.head-frameNumber < b.cfg.ResetBackwardThreshold {
		// small backward jump: a stale duplicate, drop it.
		b.counters.Dropped++
		return
	}

	b.entries[frameNumber] = &Batch{
		FrameNumber: frameNumber,
		Samples:     samples,
	}

	if b.state == StateEmpty {
		b.state = StateFilling
	}
}

// detectReset reports whether frameNumber represents a device restart: a
// massive backward jump relative to the current head.
func (b *Buffer) detectReset(frameNumber uint32) bool {
	if !b.hasHead {
		return false
	}
	if frameNumber >= b.head {
		return false
	}
	return b.head-frameNumber > b.cfg.ResetBackwardThreshold
}

func (b *Buffer) flush() {
	b.entries = make(map[uint32]*Batch)
	b.hasHead = false
	b.state = StateFilling
}

// Pop returns zero or more batches whose release condition is now met, in
// strictly increasing frame_number order.
func (b *Buffer) Pop() []Batch {
	if !b.hasHead {
		return nil
	}

	var released []Batch
	for {
		entry, ok := b.entries[b.head]
		if !ok {
			// head missing: only timeout release can skip past a hole, measured
			// from when this frame_number first became the expected head and
			// was found missing. headSince is set once per hole and left alone
			// while we skip through it, so a contiguous run of missing
			// frame_numbers costs one BufferDelay wait total, not one per
			// frame_number in the run.
			if b.headSince.IsZero() {
				b.headSince = b.now()
			}
			if b.now().Sub(b.headSince) < b.cfg.BufferDelay {
				break
			}
			b.counters.Expired++
			b.head++
			continue
		}

		// The head entry is always sequence-ready the moment it exists: it
		// is the next expected frame_number by construction.
		released = append(released, *entry)
		delete(b.entries, b.head)
		if b.state != StateSteady {
			b.state = StateSteady
		}
		b.head++
		// The new head hasn't been checked yet: clear headSince so the next
		// miss (if any) starts its own fresh wait instead of inheriting this
		// one's clock.
		b.headSince = time.Time{}
	}

	sort.Slice(released, func(i, j int) bool {
		return released[i].FrameNumber < released[j].FrameNumber
	})
	return released
}

