// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify fans values out to subscribed handlers.
package notify

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Handler receives published values.
type Handler[T any] func(T)

type subscription[T any] struct {
	id      string
	handler Handler[T]
}

// Hub broadcasts values to subscribers in subscription order.
//
// Description:
//
//	Publish runs handlers synchronously on the caller's goroutine, so a
//	single publisher delivers values to each handler in publish order.
//	A panicking handler is logged and skipped; the rest still run.
//
// Thread Safety:
//
//	Safe for concurrent use. Handlers may Subscribe or Unsubscribe from
//	within a Publish; the change applies from the next Publish.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   []subscription[T]
	name   string
	logger *slog.Logger
}

// NewHub creates an empty hub. name appears in panic logs.
func NewHub[T any](name string, logger *slog.Logger) *Hub[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub[T]{name: name, logger: logger}
}

// Subscribe registers handler and returns its subscription ID.
func (h *Hub[T]) Subscribe(handler Handler[T]) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	h.subs = append(h.subs, subscription[T]{id: id, handler: handler})
	return id
}

// Unsubscribe removes a subscription. It reports whether id was found.
func (h *Hub[T]) Unsubscribe(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := slices.IndexFunc(h.subs, func(s subscription[T]) bool { return s.id == id })
	if i < 0 {
		return false
	}
	h.subs = slices.Delete(h.subs, i, i+1)
	return true
}

// Len returns the number of subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers v to every current subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	subs := slices.Clone(h.subs)
	h.mu.RUnlock()

	for _, s := range subs {
		h.safeInvoke(s, v)
	}
}

func (h *Hub[T]) safeInvoke(s subscription[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("notification handler panicked",
				slog.String("hub", h.name),
				slog.String("subscription_id", s.id),
				slog.Any("panic", r),
			)
		}
	}()
	s.handler(v)
}
