// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dEAduction/dEAduction-sub003/services/prover/protocol"
)

func tasks(running bool, descs ...string) protocol.CurrentTasksResponse {
	ct := protocol.CurrentTasksResponse{IsRunning: running}
	for _, d := range descs {
		ct.Tasks = append(ct.Tasks, protocol.Task{FileName: "a.lean", Desc: d})
	}
	return ct
}

func waitErr(m *Monitor, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return m.WaitUntilIdle(ctx)
}

func TestMonitor_StartsIdle(t *testing.T) {
	m := New(nil)
	assert.True(t, m.Idle())
	assert.False(t, m.Running())
	assert.NoError(t, waitErr(m, time.Millisecond))
}

func TestMonitor_InvalidateWaitsForTransition(t *testing.T) {
	m := New(nil)
	m.Invalidate()
	assert.False(t, m.Idle())

	// A running report alone must never release the waiter.
	m.Observe(tasks(true, "elaborating"))
	assert.ErrorIs(t, waitErr(m, 20*time.Millisecond), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- m.WaitUntilIdle(context.Background()) }()

	m.Observe(tasks(false))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitUntilIdle did not return after is_running=false")
	}
	assert.True(t, m.Idle())
}

func TestMonitor_IgnoresOtherResponses(t *testing.T) {
	m := New(nil)
	m.Invalidate()
	m.Observe(protocol.OkResponse{})
	m.Observe(protocol.AllMessagesResponse{})
	assert.False(t, m.Idle())
	assert.False(t, m.Running())
}

func TestMonitor_MarkIdle(t *testing.T) {
	m := New(nil)
	var changes []bool
	m.Subscribe(func(r bool) { changes = append(changes, r) })

	m.Invalidate()
	m.MarkIdle()
	assert.True(t, m.Idle())
	assert.NoError(t, waitErr(m, time.Millisecond))
	assert.Empty(t, changes, "MarkIdle must not notify")
}

func TestMonitor_CancelLeavesStateUntouched(t *testing.T) {
	m := New(nil)
	m.Invalidate()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.WaitUntilIdle(ctx), context.Canceled)
	assert.False(t, m.Idle())

	m.Observe(tasks(false))
	assert.NoError(t, waitErr(m, time.Millisecond))
}

func TestMonitor_TransitionsInOrder(t *testing.T) {
	m := New(nil)
	var changes []bool
	id := m.Subscribe(func(r bool) { changes = append(changes, r) })

	m.Observe(tasks(true, "a"))
	m.Observe(tasks(true, "a", "b"))
	m.Observe(tasks(false))
	m.Observe(tasks(false))
	m.Observe(tasks(true, "c"))

	assert.Equal(t, []bool{true, false, true}, changes)
	assert.True(t, m.Running())

	require.True(t, m.Unsubscribe(id))
	m.Observe(tasks(false))
	assert.Len(t, changes, 3)
}

func TestMonitor_LastTasks(t *testing.T) {
	m := New(nil)
	m.Observe(tasks(true, "parsing", "elaborating"))

	got := m.LastTasks()
	require.Len(t, got, 2)
	assert.Equal(t, "elaborating", got[1].Desc)

	got[0].Desc = "mutated"
	assert.Equal(t, "parsing", m.LastTasks()[0].Desc)
}
