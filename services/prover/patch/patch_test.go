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
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, before, after string) {
	t.Helper()
	fwd, bwd := Diff(before, after)

	got, err := Apply(before, fwd)
	require.NoError(t, err)
	assert.Equal(t, after, got, "forward(%q)", before)

	back, err := Apply(got, bwd)
	require.NoError(t, err)
	assert.Equal(t, before, back, "backward(%q)", after)
}

func TestDiff_RoundTrip(t *testing.T) {
	cases := []struct {
		name          string
		before, after string
	}{
		{"both empty", "", ""},
		{"from empty", "", "hello"},
		{"to empty", "hello", ""},
		{"append char", "hello", "hello!"},
		{"prepend line", "b\nc\n", "a\nb\nc\n"},
		{"replace middle line", "a\nb\nc\n", "a\nX\nc\n"},
		{"drop trailing newline", "a\nb\n", "a\nb"},
		{"add trailing newline", "a\nb", "a\nb\n"},
		{"multi-byte", "théorème\n∀ x, P x\n", "théorème\n∃ x, P x\n"},
		{"multi-byte shared lead byte", "é", "è"},
		{"only newlines", "\n\n\n", "\n"},
		{"proof step", "begin\n  intro x,\nend\n", "begin\n  intro x,\n  apply h,\nend\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roundTrip(t, tc.before, tc.after)
			roundTrip(t, tc.after, tc.before)
		})
	}
}

func TestDiff_RandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("ab\n λ∀")
	gen := func() string {
		n := rng.Intn(40)
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		return sb.String()
	}
	for i := 0; i < 500; i++ {
		roundTrip(t, gen(), gen())
	}
}

func TestDiff_NarrowsHunks(t *testing.T) {
	before := "a long line of text\n"
	after := "a long line of test\n"

	fwd, _ := Diff(before, after)
	require.Equal(t, 1, fwd.Len())
	assert.Equal(t, "x", fwd.hunks[0].Delete)
	assert.Equal(t, "s", fwd.hunks[0].Insert)
}

func TestDiff_IdenticalIsEmpty(t *testing.T) {
	fwd, bwd := Diff("same\n", "same\n")
	assert.True(t, fwd.IsEmpty())
	assert.True(t, bwd.IsEmpty())
	assert.Equal(t, "patch{}", fwd.String())
}

func TestApply_Mismatch(t *testing.T) {
	fwd, _ := Diff("hello world", "hello there")

	_, err := Apply("goodbye", fwd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMismatch))
}

func TestApply_NilIsIdentity(t *testing.T) {
	got, err := Apply("abc", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
	assert.Nil(t, (*Patch)(nil).Inverse())
}

func TestUnified(t *testing.T) {
	t.Run("identical renders nothing", func(t *testing.T) {
		out, err := Unified("a\n", "a\n", "a", "b", -1)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("renders parseable hunk", func(t *testing.T) {
		before := "one\ntwo\nthree\n"
		after := "one\n2\nthree\n"

		out, err := Unified(before, after, "init", "step", DefaultContext)
		require.NoError(t, err)
		assert.Contains(t, out, "-two\n")
		assert.Contains(t, out, "+2\n")

		fd, err := diff.ParseFileDiff([]byte(out))
		require.NoError(t, err)
		assert.Equal(t, "init", fd.OrigName)
		assert.Equal(t, "step", fd.NewName)
		require.Len(t, fd.Hunks, 1)
		assert.Equal(t, int32(1), fd.Hunks[0].OrigStartLine)
		assert.Equal(t, int32(3), fd.Hunks[0].OrigLines)
		assert.Equal(t, int32(3), fd.Hunks[0].NewLines)
	})

	t.Run("marks missing newline", func(t *testing.T) {
		out, err := Unified("a", "b", "x", "y", 0)
		require.NoError(t, err)
		assert.Contains(t, out, noNewline)
	})
}
