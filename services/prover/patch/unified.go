// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// DefaultContext is the number of context lines used by Unified when the
// caller passes a negative value.
const DefaultContext = 3

const noNewline = "\\ No newline at end of file\n"

// Unified renders the difference between two revisions as a unified diff.
//
// Description:
//
//	Groups line opcodes with the given amount of context and prints them
//	as a go-diff FileDiff. Identical revisions render as the empty string.
//
// Inputs:
//
//	before, after - The two revisions.
//	origName, newName - File names for the --- and +++ headers.
//	context - Context lines per hunk; negative selects DefaultContext.
//
// Outputs:
//
//	string - The unified diff.
//	error - Non-nil if printing failed.
func Unified(before, after, origName, newName string, context int) (string, error) {
	if before == after {
		return "", nil
	}
	if context < 0 {
		context = DefaultContext
	}

	a := splitLines(before)
	b := splitLines(after)
	m := difflib.NewMatcherWithJunk(a, b, false, nil)

	fd := &diff.FileDiff{
		OrigName: origName,
		NewName:  newName,
	}
	for _, group := range m.GetGroupedOpCodes(context) {
		if h := buildHunk(group, a, b); h != nil {
			fd.Hunks = append(fd.Hunks, h)
		}
	}
	if len(fd.Hunks) == 0 {
		return "", nil
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("print unified diff: %w", err)
	}
	return string(out), nil
}

func buildHunk(group []difflib.OpCode, a, b []string) *diff.Hunk {
	changed := false
	var body bytes.Buffer
	for _, op := range group {
		switch op.Tag {
		case 'e':
			writeLines(&body, ' ', a[op.I1:op.I2])
		case 'd':
			changed = true
			writeLines(&body, '-', a[op.I1:op.I2])
		case 'i':
			changed = true
			writeLines(&body, '+', b[op.J1:op.J2])
		case 'r':
			changed = true
			writeLines(&body, '-', a[op.I1:op.I2])
			writeLines(&body, '+', b[op.J1:op.J2])
		}
	}
	if !changed {
		return nil
	}

	first, last := group[0], group[len(group)-1]
	origLines := int32(last.I2 - first.I1)
	newLines := int32(last.J2 - first.J1)
	return &diff.Hunk{
		OrigStartLine: startLine(first.I1, origLines),
		OrigLines:     origLines,
		NewStartLine:  startLine(first.J1, newLines),
		NewLines:      newLines,
		Body:          body.Bytes(),
	}
}

// startLine follows the unified diff convention: an empty range starts at
// the line before it.
func startLine(index int, count int32) int32 {
	if count == 0 {
		return int32(index)
	}
	return int32(index) + 1
}

func writeLines(buf *bytes.Buffer, prefix byte, lines []string) {
	for _, l := range lines {
		buf.WriteByte(prefix)
		buf.WriteString(l)
		if !strings.HasSuffix(l, "\n") {
			buf.WriteByte('\n')
			buf.WriteString(noNewline)
		}
	}
}
