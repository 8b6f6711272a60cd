// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"sync"
	"time"
)

// DefaultTranscriptSize is the number of wire lines kept by default.
const DefaultTranscriptSize = 256

// Direction of a wire line.
type Direction string

const (
	// Outbound lines were written to the prover.
	Outbound Direction = "->"

	// Inbound lines were read from the prover.
	Inbound Direction = "<-"
)

// TranscriptEntry is one recorded wire line.
type TranscriptEntry struct {
	Time      time.Time
	Direction Direction
	Line      string

	// Malformed is set on inbound lines that failed to decode.
	Malformed bool
}

// Transcript keeps the most recent wire lines of a session.
//
// # Description
//
// A fixed-size circular buffer: when full, the oldest entry is overwritten.
// It exists for debugging a misbehaving prover after the fact.
//
// # Thread Safety
//
// Safe for concurrent use.
type Transcript struct {
	mu    sync.Mutex
	data  []TranscriptEntry
	head  int // next write position
	count int
}

// NewTranscript creates a transcript holding up to capacity lines.
//
// # Inputs
//
//   - capacity: Maximum number of lines; <= 0 means DefaultTranscriptSize.
func NewTranscript(capacity int) *Transcript {
	if capacity <= 0 {
		capacity = DefaultTranscriptSize
	}
	return &Transcript{data: make([]TranscriptEntry, capacity)}
}

func (t *Transcript) record(dir Direction, line []byte, malformed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data[t.head] = TranscriptEntry{
		Time:      time.Now(),
		Direction: dir,
		Line:      string(line),
		Malformed: malformed,
	}
	t.head = (t.head + 1) % len(t.data)
	if t.count < len(t.data) {
		t.count++
	}
}

// Entries returns the recorded lines from oldest to newest. The returned
// slice is a copy.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return nil
	}
	out := make([]TranscriptEntry, t.count)
	start := (t.head - t.count + len(t.data)) % len(t.data)
	n := copy(out, t.data[start:min(start+t.count, len(t.data))])
	copy(out[n:], t.data[:t.count-n])
	return out
}

// Len returns the number of recorded lines.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Cap returns the maximum number of lines kept.
func (t *Transcript) Cap() int {
	return len(t.data)
}
