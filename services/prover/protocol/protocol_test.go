// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		seq  int64
		req  Request
		want string
	}{
		{
			name: "sync with content",
			seq:  1,
			req:  NewSyncRequest("a.lean", "example : true := trivial\n"),
			want: `{"command":"sync","content":"example : true := trivial\n","file_name":"a.lean","seq_num":1}` + "\n",
		},
		{
			name: "sync without content",
			seq:  2,
			req:  SyncRequest{FileName: "a.lean"},
			want: `{"command":"sync","file_name":"a.lean","seq_num":2}` + "\n",
		},
		{
			name: "info",
			seq:  3,
			req:  InfoRequest{FileName: "a.lean", Line: 4, Column: 2},
			want: `{"column":2,"command":"info","file_name":"a.lean","line":4,"seq_num":3}` + "\n",
		},
		{
			name: "complete",
			seq:  4,
			req:  CompleteRequest{FileName: "a.lean", Line: 1, Column: 0, SkipCompletions: true},
			want: `{"column":0,"command":"complete","file_name":"a.lean","line":1,"seq_num":4,"skip_completions":true}` + "\n",
		},
		{
			name: "roi",
			seq:  5,
			req: RoiRequest{Mode: RoiVisibleFiles, Files: []FileRoi{
				{FileName: "a.lean", Ranges: []LineRange{{BeginLine: 1, EndLine: 9}}},
			}},
			want: `{"command":"roi","files":[{"file_name":"a.lean","ranges":[{"begin_line":1,"end_line":9}]}],"mode":"visible-files","seq_num":5}` + "\n",
		},
		{
			name: "sleep",
			seq:  6,
			req:  SleepRequest{},
			want: `{"command":"sleep","seq_num":6}` + "\n",
		},
		{
			name: "raw passthrough",
			seq:  7,
			req:  RawRequest{Name: "search", Fields: map[string]any{"query": "nat.succ"}},
			want: `{"command":"search","query":"nat.succ","seq_num":7}` + "\n",
		},
		{
			name: "no html escaping",
			seq:  8,
			req:  NewSyncRequest("a.lean", "a < b && b > c"),
			want: `{"command":"sync","content":"a < b && b > c","file_name":"a.lean","seq_num":8}` + "\n",
		},
		{
			name: "sync by pointer",
			seq:  9,
			req:  &SyncRequest{FileName: "a.lean"},
			want: `{"command":"sync","file_name":"a.lean","seq_num":9}` + "\n",
		},
		{
			name: "raw by pointer",
			seq:  10,
			req:  &RawRequest{Name: "search", Fields: map[string]any{"query": "a <= b"}},
			want: `{"command":"search","query":"a <= b","seq_num":10}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.seq, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
			assert.Equal(t, 1, bytes.Count(got, []byte("\n")), "exactly one newline")
		})
	}
}

func TestEncode_RawCannotOverrideSeq(t *testing.T) {
	got, err := Encode(9, RawRequest{Name: "x", Fields: map[string]any{"seq_num": 1, "command": "y"}})
	require.NoError(t, err)
	assert.Equal(t, `{"command":"x","seq_num":9}`+"\n", string(got))
}

func TestEncode_Invalid(t *testing.T) {
	_, err := Encode(1, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = Encode(1, RawRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDecode_Variants(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		r, err := Decode([]byte(`{"response":"ok","seq_num":3,"message":"file invalidated"}`))
		require.NoError(t, err)
		ok, isOk := r.(OkResponse)
		require.True(t, isOk)
		assert.Equal(t, MessageFileInvalidated, ok.Message)
		seq, has := ok.SeqNum()
		assert.True(t, has)
		assert.Equal(t, int64(3), seq)
	})

	t.Run("ok with record", func(t *testing.T) {
		r, err := Decode([]byte(`{"response":"ok","seq_num":2,"record":{"full-id":"nat.succ","type":"ℕ → ℕ","source":{"line":10,"column":4}}}`))
		require.NoError(t, err)
		ok := r.(OkResponse)
		require.NotNil(t, ok.Record)
		assert.Equal(t, "nat.succ", ok.Record.FullID)
		assert.Equal(t, "ℕ → ℕ", ok.Record.Type)
		assert.Equal(t, 10, ok.Record.Source.Line)
	})

	t.Run("error", func(t *testing.T) {
		r, err := Decode([]byte(`{"response":"error","seq_num":1,"message":"unknown command","errors":[{"severity":"error","pos_line":2,"pos_col":0,"text":"bad"}]}`))
		require.NoError(t, err)
		e := r.(ErrorResponse)
		assert.Equal(t, "unknown command", e.Message)
		require.Len(t, e.Errors, 1)
		assert.True(t, e.Errors[0].IsError())
		assert.Equal(t, 2, e.Errors[0].PosLine)
	})

	t.Run("current_tasks is a notification", func(t *testing.T) {
		r, err := Decode([]byte(`{"response":"current_tasks","is_running":true,"tasks":[{"file_name":"a.lean","pos_line":1,"pos_col":0,"end_pos_line":3,"end_pos_col":5,"desc":"elaborating"}]}`))
		require.NoError(t, err)
		ct := r.(CurrentTasksResponse)
		assert.True(t, ct.IsRunning)
		require.Len(t, ct.Tasks, 1)
		assert.Equal(t, "elaborating", ct.Tasks[0].Desc)
		_, has := ct.SeqNum()
		assert.False(t, has)
	})

	t.Run("all_messages", func(t *testing.T) {
		r, err := Decode([]byte(`{"response":"all_messages","msgs":[` +
			`{"file_name":"a.lean","severity":"error","pos_line":1,"pos_col":0,"text":"x"},` +
			`{"file_name":"b.lean","severity":"warning","pos_line":1,"pos_col":0,"text":"y"},` +
			`{"file_name":"a.lean","severity":"information","pos_line":2,"pos_col":0,"text":"z"}]}`))
		require.NoError(t, err)
		am := r.(AllMessagesResponse)
		assert.Len(t, am.Msgs, 3)
		forA := am.ForFile("a.lean")
		require.Len(t, forA, 2)
		assert.Equal(t, "x", forA[0].Text)
		assert.Equal(t, "z", forA[1].Text)
	})

	t.Run("info", func(t *testing.T) {
		r, err := Decode([]byte(`{"response":"info","seq_num":4,"record":{"state":"⊢ true"}}`))
		require.NoError(t, err)
		info := r.(InfoResponse)
		require.NotNil(t, info.Record)
		assert.Equal(t, "⊢ true", info.Record.State)
	})

	t.Run("unknown becomes raw", func(t *testing.T) {
		r, err := Decode([]byte(`{"response":"search_results","seq_num":5,"results":[1,2]}`))
		require.NoError(t, err)
		raw := r.(RawResponse)
		assert.Equal(t, "search_results", raw.Kind())
		assert.Contains(t, raw.Fields, "results")
		seq, has := raw.SeqNum()
		assert.True(t, has)
		assert.Equal(t, int64(5), seq)
	})

	t.Run("trailing carriage return", func(t *testing.T) {
		r, err := Decode([]byte("{\"response\":\"ok\",\"seq_num\":1}\r\n"))
		require.NoError(t, err)
		assert.Equal(t, KindOk, r.Kind())
	})
}

func TestDecode_Malformed(t *testing.T) {
	lines := []string{
		"not json",
		"",
		"null",
		"[1,2]",
		`"ok"`,
		`{"seq_num":1}`,
		`{"response":5}`,
		`{"response":"ok","seq_num":"one"}`,
		`{"response":"current_tasks","is_running":"yes"}`,
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			_, err := Decode([]byte(line))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestRoundTrip_SeqPreserved(t *testing.T) {
	line, err := Encode(42, InfoRequest{FileName: "a.lean", Line: 1})
	require.NoError(t, err)

	// An echo prover answers with the same seq_num.
	reply := bytes.Replace(line, []byte(`"command":"info"`), []byte(`"response":"ok"`), 1)
	r, err := Decode(reply)
	require.NoError(t, err)
	seq, ok := r.SeqNum()
	require.True(t, ok)
	assert.Equal(t, int64(42), seq)
}
