// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Watch defaults.
const (
	DefaultWatchInterval = 500 * time.Millisecond
	DefaultDebounce      = 100 * time.Millisecond
)

// WatchHandler receives the outcome of each check run by Watch.
type WatchHandler func(res *Result, err error)

// Watch re-checks the file every time path changes on disk.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// save by renaming a temporary file are seen too. A burst of events is
// collapsed by the debounce window, and checks are spaced at least the
// watch interval apart. Each check loads the file from disk into the
// VirtualFile (committing a "reload" revision when the text changed) and
// runs Check. One check runs immediately at start.
//
// # Inputs
//
//   - ctx: Cancelling it ends the watch.
//   - path: File to watch.
//   - handler: Called from one goroutine with each result.
//
// # Outputs
//
//   - error: Non-nil if the watcher could not be set up, or if it failed
//     while running. Cancellation returns nil.
func (c *Checker) Watch(ctx context.Context, path string, handler WatchHandler) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	c.logger.Info("Watching file", slog.String("path", abs))

	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				select {
				case trigger <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					c.logger.Warn("Watch events overflowed, rechecking")
					select {
					case trigger <- struct{}{}:
					default:
					}
					continue
				}
				return fmt.Errorf("watch %s: %w", abs, err)
			}
		}
	})

	g.Go(func() error {
		limiter := rate.NewLimiter(rate.Every(c.watchInterval), 1)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-trigger:
			}

			if err := c.settle(gctx, trigger); err != nil {
				return nil
			}
			if err := limiter.Wait(gctx); err != nil {
				return nil
			}

			res, err := c.reload(gctx, abs)
			if gctx.Err() != nil {
				return nil
			}
			handler(res, err)
		}
	})

	return g.Wait()
}

// settle waits until no trigger has arrived for one debounce window.
func (c *Checker) settle(ctx context.Context, trigger <-chan struct{}) error {
	timer := time.NewTimer(c.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
			timer.Reset(c.debounce)
		case <-timer.C:
			return nil
		}
	}
}

func (c *Checker) reload(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if c.Load("reload", string(data)) {
		c.logger.Debug("Reloaded file from disk", slog.Int("bytes", len(data)))
	}
	return c.Check(ctx)
}
