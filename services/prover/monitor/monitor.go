// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor derives the prover's running/idle state from its
// current_tasks notifications.
//
// # Idle latch
//
// Running mirrors the most recent is_running flag. Idle is a latch: it
// starts set, Invalidate clears it, and only a later current_tasks with
// is_running=false sets it again. A sync must Invalidate before it is
// written, so that WaitUntilIdle waits for the prover to finish the new
// content rather than returning on a stale idle report.
package monitor

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/dEAduction/dEAduction-sub003/services/prover/notify"
	"github.com/dEAduction/dEAduction-sub003/services/prover/protocol"
)

// Monitor folds current_tasks notifications into a readiness signal.
//
// Thread Safety:
//
//	Safe for concurrent use. Observe is expected to be called from a
//	single goroutine; state-change handlers then fire in notification
//	order.
type Monitor struct {
	mu        sync.Mutex
	running   bool
	latched   bool
	idleCh    chan struct{}
	lastTasks []protocol.Task

	changes *notify.Hub[bool]
	logger  *slog.Logger
}

// New creates a monitor in the idle state. A nil logger means
// slog.Default().
func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Monitor{
		latched: true,
		idleCh:  idle,
		changes: notify.NewHub[bool]("monitor", logger),
		logger:  logger,
	}
}

// Observe consumes one response. Everything but current_tasks is ignored.
func (m *Monitor) Observe(resp protocol.Response) {
	ct, ok := resp.(protocol.CurrentTasksResponse)
	if !ok {
		return
	}

	m.mu.Lock()
	changed := m.running != ct.IsRunning
	m.running = ct.IsRunning
	m.lastTasks = slices.Clone(ct.Tasks)
	if !ct.IsRunning {
		m.latchLocked()
	}
	m.mu.Unlock()

	if changed {
		m.logger.Debug("Prover state changed",
			slog.Bool("running", ct.IsRunning),
			slog.Int("tasks", len(ct.Tasks)),
		)
		m.changes.Publish(ct.IsRunning)
	}
}

// Invalidate clears the idle latch. Call it before writing a sync.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latched {
		m.latched = false
		m.idleCh = make(chan struct{})
	}
}

// MarkIdle sets the idle latch without a notification. Used when the
// prover reports a sync as unchanged, after which it sends no progress.
func (m *Monitor) MarkIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latchLocked()
}

func (m *Monitor) latchLocked() {
	if !m.latched {
		m.latched = true
		close(m.idleCh)
	}
}

// Running reports whether the most recent notification had is_running set.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Idle reports whether the idle latch is set.
func (m *Monitor) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latched
}

// LastTasks returns the task list of the most recent notification.
func (m *Monitor) LastTasks() []protocol.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.lastTasks)
}

// WaitUntilIdle blocks until the idle latch is set.
//
// Description:
//
//	Returns immediately if the latch is already set. Cancelling ctx
//	returns ctx.Err() and leaves the monitor unchanged.
func (m *Monitor) WaitUntilIdle(ctx context.Context) error {
	m.mu.Lock()
	ch := m.idleCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn for running/idle transitions.
func (m *Monitor) Subscribe(fn func(running bool)) string {
	return m.changes.Subscribe(fn)
}

// Unsubscribe removes a transition handler.
func (m *Monitor) Unsubscribe(id string) bool {
	return m.changes.Unsubscribe(id)
}
