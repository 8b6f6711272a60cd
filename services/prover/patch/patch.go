// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch computes and applies reversible patches between two text
// revisions.
//
// A Patch is opaque outside this package. The only observable contract is:
//
//	fwd, bwd := patch.Diff(before, after)
//	patch.Apply(before, fwd) == after
//	patch.Apply(after, bwd)  == before
//
// Diffs are computed line-wise and each changed run is then narrowed to the
// characters that actually differ, so a single-character edit in a long line
// produces a single-character hunk.
package patch

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// ErrMismatch indicates a patch was applied to a revision it was not
// computed against.
var ErrMismatch = errors.New("patch does not match revision")

// hunk replaces Delete at byte offset Offset of the source text with Insert.
type hunk struct {
	Offset int
	Delete string
	Insert string
}

// Patch transforms one revision into another.
//
// A nil *Patch is the identity patch.
//
// Thread Safety: Patches are immutable once built and safe to share.
type Patch struct {
	hunks []hunk
}

// Diff computes the forward and backward patches between two revisions.
//
// Description:
//
//	Splits both revisions into lines (keeping line terminators), matches
//	them with a SequenceMatcher and converts every non-equal opcode into a
//	hunk narrowed to its differing characters. The backward patch is the
//	inverse of the forward patch.
//
// Inputs:
//
//	before - The source revision.
//	after - The target revision.
//
// Outputs:
//
//	forward - Patch mapping before to after.
//	backward - Patch mapping after to before.
func Diff(before, after string) (forward, backward *Patch) {
	forward = &Patch{hunks: diffHunks(before, after)}
	return forward, forward.Inverse()
}

func diffHunks(before, after string) []hunk {
	if before == after {
		return nil
	}

	a := splitLines(before)
	b := splitLines(after)
	m := difflib.NewMatcherWithJunk(a, b, false, nil)

	offsets := lineOffsets(a)
	var hunks []hunk
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		del := strings.Join(a[op.I1:op.I2], "")
		ins := strings.Join(b[op.J1:op.J2], "")
		p, s := commonAffixes(del, ins)
		hunks = append(hunks, hunk{
			Offset: offsets[op.I1] + p,
			Delete: del[p : len(del)-s],
			Insert: ins[p : len(ins)-s],
		})
	}
	return hunks
}

// Apply applies p to text.
//
// Description:
//
//	Copies text through, replacing each hunk's deleted span with its
//	inserted span. Every deleted span is verified against text first.
//
// Outputs:
//
//	string - The resulting revision.
//	error - ErrMismatch (wrapped) if p was not computed against text.
func Apply(text string, p *Patch) (string, error) {
	if p == nil || len(p.hunks) == 0 {
		return text, nil
	}

	var sb strings.Builder
	sb.Grow(len(text) + p.growth())
	pos := 0
	for _, h := range p.hunks {
		end := h.Offset + len(h.Delete)
		if h.Offset < pos || end > len(text) || text[h.Offset:end] != h.Delete {
			return "", fmt.Errorf("%w: hunk at offset %d", ErrMismatch, h.Offset)
		}
		sb.WriteString(text[pos:h.Offset])
		sb.WriteString(h.Insert)
		pos = end
	}
	sb.WriteString(text[pos:])
	return sb.String(), nil
}

// Inverse returns the patch that undoes p.
func (p *Patch) Inverse() *Patch {
	if p == nil {
		return nil
	}
	inv := &Patch{hunks: make([]hunk, len(p.hunks))}
	delta := 0
	for i, h := range p.hunks {
		inv.hunks[i] = hunk{
			Offset: h.Offset + delta,
			Delete: h.Insert,
			Insert: h.Delete,
		}
		delta += len(h.Insert) - len(h.Delete)
	}
	return inv
}

// IsEmpty reports whether p leaves every revision unchanged.
func (p *Patch) IsEmpty() bool {
	return p == nil || len(p.hunks) == 0
}

// Len returns the number of hunks in p.
func (p *Patch) Len() int {
	if p == nil {
		return 0
	}
	return len(p.hunks)
}

// String renders p for debugging, one hunk per line.
func (p *Patch) String() string {
	if p.IsEmpty() {
		return "patch{}"
	}
	var sb strings.Builder
	sb.WriteString("patch{")
	for i, h := range p.hunks {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "@%d -%q +%q", h.Offset, h.Delete, h.Insert)
	}
	sb.WriteString("}")
	return sb.String()
}

func (p *Patch) growth() int {
	n := 0
	for _, h := range p.hunks {
		if d := len(h.Insert) - len(h.Delete); d > 0 {
			n += d
		}
	}
	return n
}

// splitLines splits s after every newline. Unlike difflib.SplitLines it
// never invents a trailing newline, so joining the result yields s.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineOffsets returns the byte offset of every line plus one past the end.
func lineOffsets(lines []string) []int {
	offsets := make([]int, len(lines)+1)
	for i, l := range lines {
		offsets[i+1] = offsets[i] + len(l)
	}
	return offsets
}

// commonAffixes returns the byte lengths of the common prefix and suffix of
// a and b, both cut back to rune boundaries and never overlapping.
func commonAffixes(a, b string) (prefix, suffix int) {
	limit := min(len(a), len(b))
	for prefix < limit && a[prefix] == b[prefix] {
		prefix++
	}
	for prefix > 0 && (!runeStartAt(a, prefix) || !runeStartAt(b, prefix)) {
		prefix--
	}

	limit -= prefix
	for suffix < limit && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	for suffix > 0 && (!runeStartAt(a, len(a)-suffix) || !runeStartAt(b, len(b)-suffix)) {
		suffix--
	}
	return prefix, suffix
}

func runeStartAt(s string, i int) bool {
	return i >= len(s) || utf8.RuneStart(s[i])
}
