// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vfile

import "unicode/utf8"

// CursorPosition returns the cursor offset in code points.
func (f *VirtualFile) CursorPosition() int {
	f.reconcile()
	return f.cursor
}

// SetCursor moves the cursor, clamped to [0, Len()]. The position is stored
// with the presented revision, so Undo followed by Redo restores it.
func (f *VirtualFile) SetCursor(offset int) {
	f.reconcile()
	f.setCursor(max(0, min(offset, utf8.RuneCountInString(f.text))))
}

// MoveCursorUp scans backward from the cursor across n newlines.
//
// Description:
//
//	Each newline met decrements n. The cursor lands one past the newline
//	that brought n to zero, or at 0 if the start of the text is reached
//	first. A cursor already at the start does not move.
func (f *VirtualFile) MoveCursorUp(n int) {
	f.reconcile()
	pos := f.cursor
	if pos == 0 || n <= 0 {
		return
	}

	runes := []rune(f.text)
	for n > 0 && pos > 0 {
		pos--
		if runes[pos] == '\n' {
			n--
		}
	}
	if n == 0 {
		pos++
	}
	f.setCursor(pos)
}

// MoveCursorToLine puts the cursor at the start of the 1-based line. Lines
// below 1 mean line 1; a line past the last one puts the cursor at the end
// of the text.
func (f *VirtualFile) MoveCursorToLine(line int) {
	f.reconcile()
	if line <= 1 {
		f.setCursor(0)
		return
	}

	current := 1
	pos := 0
	for _, r := range f.text {
		pos++
		if r == '\n' {
			current++
			if current == line {
				f.setCursor(pos)
				return
			}
		}
	}
	f.setCursor(pos)
}

// LineColumn returns the 1-based line and column of the cursor: the line is
// one plus the newlines before the cursor, the column is the distance from
// the last such newline.
func (f *VirtualFile) LineColumn() (line, col int) {
	f.reconcile()
	line = 1
	lastNewline := -1
	i := 0
	for _, r := range f.text {
		if i == f.cursor {
			break
		}
		if r == '\n' {
			line++
			lastNewline = i
		}
		i++
	}
	return line, f.cursor - lastNewline
}

func (f *VirtualFile) setCursor(pos int) {
	f.cursor = pos
	f.hist.Entry(f.hist.Target()).Cursor = pos
}
