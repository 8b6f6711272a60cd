// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vfile provides the in-memory text buffer that is edited by clients
// and shipped to the prover.
//
// # Architecture
//
// A VirtualFile owns a history.History and a cache of one revision. Edits
// commit new history entries; Undo, Redo and Goto only move the history's
// target index. The cache is reconciled lazily, one patch at a time, the
// next time anything is read or written.
//
//	 Insert / SetState ──► commit ──► History.Append
//	 Undo / Redo / Goto ──► History.SetTarget
//	 Contents / Cursor ... ──► reconcile (walk patches current → target)
//
// # Cursor
//
// The authoritative cursor is a single offset counted in code points, always
// within [0, len(Contents())]. LineColumn derives a 1-based pair on demand.
//
// # Thread Safety
//
// VirtualFile is NOT safe for concurrent use, including concurrent reads:
// reconciliation mutates the cache. Own each VirtualFile from one goroutine.
package vfile

import (
	"fmt"
	"maps"
	"unicode/utf8"

	"github.com/dEAduction/dEAduction-sub003/services/prover/history"
	"github.com/dEAduction/dEAduction-sub003/services/prover/patch"
)

// VirtualFile is an editable text buffer with a linear undo/redo history.
type VirtualFile struct {
	fileName string
	hist     *history.History

	// text is the revision at hist.Current().
	text   string
	cursor int
}

// New creates a virtual file whose sentinel revision is init, with the
// cursor at the start.
//
// Inputs:
//
//	fileName - Name the prover knows the file by (e.g. "exercise.lean").
//	init - Initial contents; the sentinel history entry holds this text.
func New(fileName, init string) *VirtualFile {
	return &VirtualFile{
		fileName: fileName,
		hist:     history.New(),
		text:     init,
	}
}

// FileName returns the name the file is synced under.
func (f *VirtualFile) FileName() string {
	return f.fileName
}

// =============================================================================
// READS
// =============================================================================

// Contents returns the text of the target revision.
func (f *VirtualFile) Contents() string {
	f.reconcile()
	return f.text
}

// Len returns the length of Contents in code points.
func (f *VirtualFile) Len() int {
	f.reconcile()
	return utf8.RuneCountInString(f.text)
}

// HistoryLabels returns a snapshot of every history label, oldest first.
func (f *VirtualFile) HistoryLabels() []string {
	return f.hist.Labels()
}

// HistoryIndex returns the history position the file presents.
func (f *VirtualFile) HistoryIndex() int {
	return f.hist.Target()
}

// HistoryLen returns the number of history entries, sentinel included.
func (f *VirtualFile) HistoryLen() int {
	return f.hist.Len()
}

// AtBeginning reports whether Undo would be a no-op.
func (f *VirtualFile) AtBeginning() bool {
	return f.hist.Target() == 0
}

// AtEnd reports whether Redo would be a no-op.
func (f *VirtualFile) AtEnd() bool {
	return f.hist.Target() == f.hist.Last()
}

// CurrentLabel returns the label of the presented history entry.
func (f *VirtualFile) CurrentLabel() string {
	return f.hist.Entry(f.hist.Target()).Label
}

// Metadata returns a copy of the presented entry's metadata bag.
func (f *VirtualFile) Metadata() history.Metadata {
	return maps.Clone(f.hist.Entry(f.hist.Target()).Metadata)
}

// EntryMetadata returns a copy of entry i's metadata bag. It panics if i is
// out of range.
func (f *VirtualFile) EntryMetadata(i int) history.Metadata {
	return maps.Clone(f.hist.Entry(i).Metadata)
}

// FindLabel searches backward from the presented entry for label.
func (f *VirtualFile) FindLabel(label string) (int, bool) {
	return f.hist.FindLabelBackward(f.hist.Target(), label)
}

// Revision returns the text of history entry i without moving the file.
// Indices are clamped to the history.
func (f *VirtualFile) Revision(i int) string {
	f.reconcile()
	text := f.text
	for _, p := range f.hist.Walk(f.hist.Current(), i) {
		text = mustApply(text, p, i)
	}
	return text
}

// Diff renders a unified diff from history entry from to entry to.
func (f *VirtualFile) Diff(from, to int) (string, error) {
	return patch.Unified(
		f.Revision(from), f.Revision(to),
		f.entryName(from), f.entryName(to),
		patch.DefaultContext,
	)
}

func (f *VirtualFile) entryName(i int) string {
	i = max(0, min(i, f.hist.Last()))
	return fmt.Sprintf("%s@%d (%s)", f.fileName, i, f.hist.Entry(i).Label)
}

// =============================================================================
// EDITS
// =============================================================================

// Option adjusts a single Insert or SetState commit.
type Option func(*commitOptions)

type commitOptions struct {
	moveCursor bool
	cursor     *int
	meta       history.Metadata
}

// WithoutCursorMove keeps the cursor in place on Insert.
func WithoutCursorMove() Option {
	return func(o *commitOptions) { o.moveCursor = false }
}

// WithCursor overrides the cursor of the new revision on SetState.
func WithCursor(offset int) Option {
	return func(o *commitOptions) { o.cursor = &offset }
}

// WithMetadata attaches a metadata bag to the new history entry. The bag is
// copied.
func WithMetadata(meta history.Metadata) Option {
	return func(o *commitOptions) { o.meta = maps.Clone(meta) }
}

func buildOptions(opts []Option) commitOptions {
	o := commitOptions{moveCursor: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Insert inserts text at the cursor and commits the result under label.
//
// Description:
//
//	Unless WithoutCursorMove is given, the cursor advances past the
//	inserted text. Inserting the empty string still commits an entry.
func (f *VirtualFile) Insert(label, text string, opts ...Option) {
	o := buildOptions(opts)
	f.reconcile()

	at := byteOffset(f.text, f.cursor)
	next := f.text[:at] + text + f.text[at:]
	cursor := f.cursor
	if o.moveCursor {
		cursor += utf8.RuneCountInString(text)
	}
	f.commit(label, next, cursor, o.meta)
}

// SetState replaces the whole text and commits the result under label.
//
// Description:
//
//	The cursor is kept (clamped to the new text) unless WithCursor is
//	given. Setting identical text still commits an entry.
//
// Panics:
//
//	If the WithCursor offset is outside [0, len(text)].
func (f *VirtualFile) SetState(label, text string, opts ...Option) {
	o := buildOptions(opts)
	f.reconcile()

	cursor := min(f.cursor, utf8.RuneCountInString(text))
	if o.cursor != nil {
		cursor = *o.cursor
	}
	f.commit(label, text, cursor, o.meta)
}

// commit appends next as a new history entry after the target, dropping
// the redo path if the target is not the last entry.
func (f *VirtualFile) commit(label, next string, cursor int, meta history.Metadata) {
	if n := utf8.RuneCountInString(next); cursor < 0 || cursor > n {
		panic(fmt.Sprintf("vfile: cursor %d outside [0, %d]", cursor, n))
	}

	fwd, bwd := patch.Diff(f.text, next)
	if t := f.hist.Target(); t < f.hist.Last() {
		f.hist.TruncateAfter(t)
	}
	f.hist.Append(fwd, bwd, label, cursor, meta)
	f.hist.SetCurrent(f.hist.Last())
	f.text = next
	f.cursor = cursor
}

// AttachMetadata merges key/value into the presented entry's metadata. It
// never creates a history entry.
func (f *VirtualFile) AttachMetadata(key string, value any) {
	f.reconcile()
	f.hist.MergeMetadata(f.hist.Target(), history.Metadata{key: value})
}

// =============================================================================
// HISTORY NAVIGATION
// =============================================================================

// Undo moves the presented revision one entry back.
func (f *VirtualFile) Undo() {
	f.hist.MoveTarget(-1)
}

// Redo moves the presented revision one entry forward.
func (f *VirtualFile) Redo() {
	f.hist.MoveTarget(1)
}

// Goto presents history entry i, clamped to the history.
func (f *VirtualFile) Goto(i int) {
	f.hist.SetTarget(i)
}

// Rewind presents the sentinel revision.
func (f *VirtualFile) Rewind() {
	f.hist.SetTarget(0)
}

// reconcile brings the cache to the target revision, recording progress
// after every patch, then restores the target entry's cursor.
func (f *VirtualFile) reconcile() {
	cur, target := f.hist.Current(), f.hist.Target()
	if cur == target {
		return
	}
	step := 1
	if target < cur {
		step = -1
	}
	for _, p := range f.hist.Walk(cur, target) {
		f.text = mustApply(f.text, p, cur)
		cur += step
		f.hist.SetCurrent(cur)
	}
	f.cursor = min(f.hist.Entry(target).Cursor, utf8.RuneCountInString(f.text))
}

// mustApply applies a history patch. A mismatch means the history itself is
// corrupt, which no caller can recover from.
func mustApply(text string, p *patch.Patch, at int) string {
	out, err := patch.Apply(text, p)
	if err != nil {
		panic(fmt.Sprintf("vfile: history corrupt near entry %d: %v", at, err))
	}
	return out
}

// byteOffset converts a code point offset into a byte offset of s.
func byteOffset(s string, runes int) int {
	if runes <= 0 {
		return 0
	}
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}
