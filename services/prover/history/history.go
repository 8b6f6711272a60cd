// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps the linear edit log behind a virtual file.
//
// Each entry stores the patch back to the previous revision and the patch
// forward to the next one, so any revision can be reached from any other by
// walking patches. The log is never empty: entry 0 is a sentinel labelled
// InitLabel.
package history

import (
	"fmt"
	"maps"

	"github.com/dEAduction/dEAduction-sub003/services/prover/patch"
)

// InitLabel labels the sentinel entry every history starts with.
const InitLabel = "init"

// Metadata is the client-attached bag of an entry. The history never
// inspects its values.
type Metadata map[string]any

// Entry is one commit of the log.
type Entry struct {
	// Label is the caller-supplied tag used to find entries of interest.
	Label string

	// Cursor is the cursor offset, in code points, at this revision.
	Cursor int

	// Metadata holds client values attached to this revision.
	Metadata Metadata

	backward *patch.Patch // to the previous entry, nil at entry 0
	forward  *patch.Patch // to the next entry, nil at the last entry
}

// History is an ordered, non-empty log of entries with a current index
// (the revision a cached text corresponds to) and a target index (the
// revision the caller wants to see).
//
// # Description
//
// Append is the only way to grow the log, and it fills the forward patch of
// the previous last entry in the same step, so adjacent entries always carry
// mutually inverse patches.
//
// # Thread Safety
//
// NOT safe for concurrent use; caller must synchronize.
type History struct {
	entries []Entry
	current int
	target  int
}

// New creates a history holding only the sentinel entry.
func New() *History {
	return &History{
		entries: []Entry{{Label: InitLabel, Metadata: Metadata{}}},
	}
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Last returns the index of the last entry.
func (h *History) Last() int {
	return len(h.entries) - 1
}

// Current returns the current index.
func (h *History) Current() int {
	return h.current
}

// Target returns the target index.
func (h *History) Target() int {
	return h.target
}

// Entry returns a pointer to entry i. It panics if i is out of range.
func (h *History) Entry(i int) *Entry {
	return &h.entries[i]
}

// Append commits a new revision after the last entry.
//
// # Description
//
// Sets the last entry's forward patch to forward and appends an entry
// whose backward patch is backward. The target becomes the new last index;
// the current index is left to the caller, which owns the cached text.
//
// # Inputs
//
//   - forward: Patch from the last revision to the new one.
//   - backward: Patch from the new revision to the last one.
//   - label: Caller tag for the new entry.
//   - cursor: Cursor offset at the new revision.
//   - meta: Metadata bag; nil is replaced by an empty bag.
func (h *History) Append(forward, backward *patch.Patch, label string, cursor int, meta Metadata) {
	if meta == nil {
		meta = Metadata{}
	}
	h.entries[h.Last()].forward = forward
	h.entries = append(h.entries, Entry{
		Label:    label,
		Cursor:   cursor,
		Metadata: meta,
		backward: backward,
	})
	h.target = h.Last()
}

// TruncateAfter drops every entry with index greater than i.
//
// # Description
//
// Entry i becomes the last entry and loses its forward patch. Indices that
// pointed past i are clamped to i.
func (h *History) TruncateAfter(i int) {
	if i < 0 || i >= h.Last() {
		return
	}
	for j := i + 1; j < len(h.entries); j++ {
		h.entries[j] = Entry{} // release patches and metadata
	}
	h.entries = h.entries[:i+1]
	h.entries[i].forward = nil
	h.current = min(h.current, i)
	h.target = min(h.target, i)
}

// MoveTarget shifts the target index by delta, clamped to the log.
func (h *History) MoveTarget(delta int) {
	h.SetTarget(h.target + delta)
}

// SetTarget sets the target index, clamped to the log.
func (h *History) SetTarget(i int) {
	h.target = h.clamp(i)
}

// SetCurrent records that the cached text now corresponds to entry i.
// It panics if i is out of range.
func (h *History) SetCurrent(i int) {
	if i < 0 || i > h.Last() {
		panic(fmt.Sprintf("history: current index %d out of range [0, %d]", i, h.Last()))
	}
	h.current = i
}

// Walk returns the ordered patches leading from entry from to entry to.
//
// # Description
//
// Moving forward yields the forward patches of entries [from, to); moving
// backward yields the backward patches of entries (to, from] in reverse.
// Equal indices yield nil.
func (h *History) Walk(from, to int) []*patch.Patch {
	from, to = h.clamp(from), h.clamp(to)
	var out []*patch.Patch
	switch {
	case to > from:
		out = make([]*patch.Patch, 0, to-from)
		for i := from; i < to; i++ {
			out = append(out, h.entries[i].forward)
		}
	case to < from:
		out = make([]*patch.Patch, 0, from-to)
		for i := from; i > to; i-- {
			out = append(out, h.entries[i].backward)
		}
	}
	return out
}

// FindLabelBackward scans from entry i toward entry 0 and returns the index
// of the first entry labelled label.
func (h *History) FindLabelBackward(i int, label string) (int, bool) {
	for j := h.clamp(i); j >= 0; j-- {
		if h.entries[j].Label == label {
			return j, true
		}
	}
	return -1, false
}

// Labels returns a snapshot of every entry's label, oldest first.
func (h *History) Labels() []string {
	labels := make([]string, len(h.entries))
	for i, e := range h.entries {
		labels[i] = e.Label
	}
	return labels
}

// MergeMetadata merges values into the metadata of entry i.
func (h *History) MergeMetadata(i int, values Metadata) {
	e := &h.entries[i]
	if e.Metadata == nil {
		e.Metadata = Metadata{}
	}
	maps.Copy(e.Metadata, values)
}

// Check replays the whole log from the sentinel revision init and verifies
// the patch pair invariants.
//
// # Outputs
//
//   - []string: Every revision, oldest first.
//   - error: Non-nil describing the first broken invariant.
func (h *History) Check(init string) ([]string, error) {
	if h.entries[0].backward != nil {
		return nil, fmt.Errorf("entry 0 has a backward patch")
	}
	if h.entries[h.Last()].forward != nil {
		return nil, fmt.Errorf("last entry %d has a forward patch", h.Last())
	}

	revisions := make([]string, len(h.entries))
	revisions[0] = init
	for i := 0; i < h.Last(); i++ {
		if h.entries[i].forward == nil {
			return nil, fmt.Errorf("entry %d has no forward patch", i)
		}
		if h.entries[i+1].backward == nil {
			return nil, fmt.Errorf("entry %d has no backward patch", i+1)
		}
		next, err := patch.Apply(revisions[i], h.entries[i].forward)
		if err != nil {
			return nil, fmt.Errorf("forward %d->%d: %w", i, i+1, err)
		}
		prev, err := patch.Apply(next, h.entries[i+1].backward)
		if err != nil {
			return nil, fmt.Errorf("backward %d->%d: %w", i+1, i, err)
		}
		if prev != revisions[i] {
			return nil, fmt.Errorf("patches %d<->%d are not inverses", i, i+1)
		}
		revisions[i+1] = next
	}
	return revisions, nil
}

func (h *History) clamp(i int) int {
	return max(0, min(i, h.Last()))
}
