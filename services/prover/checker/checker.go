// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checker runs the edit, sync, wait-until-idle, collect loop over a
// VirtualFile and a prover session.
package checker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dEAduction/dEAduction-sub003/services/prover/protocol"
	"github.com/dEAduction/dEAduction-sub003/services/prover/session"
	"github.com/dEAduction/dEAduction-sub003/services/prover/vfile"
)

// DefaultIdleTimeout bounds how long Check waits for the prover to finish.
const DefaultIdleTimeout = 2 * time.Minute

// Metadata keys Check attaches to the checked history entry.
const (
	MetaErrorCount   = "error_count"
	MetaMessageCount = "message_count"
)

// Sessioner is the part of *session.Session the checker needs.
type Sessioner interface {
	Send(ctx context.Context, req protocol.Request) (protocol.Response, error)
	Subscribe(fn func(protocol.Response)) string
	Unsubscribe(id string) bool
	WaitUntilIdle(ctx context.Context) error
}

// Result is the analysis of one revision.
type Result struct {
	// Label and HistoryIndex identify the revision that was synced.
	Label        string
	HistoryIndex int

	// Unchanged is set when the prover already had this content.
	Unchanged bool

	// Errors holds error-severity messages, Others the rest, both in the
	// order the prover sent them.
	Errors []protocol.Message
	Others []protocol.Message

	Duration time.Duration
}

// OK reports whether the revision has no errors.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// WithIdleTimeout bounds the wait for the prover after each sync.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Checker) { c.idleTimeout = d }
}

// WithWatchInterval sets the minimum time between two checks in Watch.
func WithWatchInterval(d time.Duration) Option {
	return func(c *Checker) { c.watchInterval = d }
}

// WithDebounce sets how long Watch waits for a burst of writes to settle.
func WithDebounce(d time.Duration) Option {
	return func(c *Checker) { c.debounce = d }
}

// Checker keeps one VirtualFile in sync with the prover.
//
// Description:
//
//	The checker owns the file: all access goes through the checker so
//	that the file is never touched by two goroutines at once. Messages
//	arrive as all_messages notifications; the checker keeps the latest.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Checker struct {
	session       Sessioner
	name          string
	logger        *slog.Logger
	idleTimeout   time.Duration
	watchInterval time.Duration
	debounce      time.Duration

	fileMu sync.Mutex
	file   *vfile.VirtualFile

	msgMu    sync.Mutex
	messages []protocol.Message

	subID string
}

// New creates a checker and subscribes it to s. Call Close to unsubscribe.
func New(s Sessioner, f *vfile.VirtualFile, opts ...Option) *Checker {
	c := &Checker{
		session:       s,
		name:          f.FileName(),
		file:          f,
		logger:        slog.Default(),
		idleTimeout:   DefaultIdleTimeout,
		watchInterval: DefaultWatchInterval,
		debounce:      DefaultDebounce,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("file", f.FileName()))
	c.subID = s.Subscribe(c.observe)
	return c
}

// Close detaches the checker from its session.
func (c *Checker) Close() {
	c.session.Unsubscribe(c.subID)
}

func (c *Checker) observe(resp protocol.Response) {
	am, ok := resp.(protocol.AllMessagesResponse)
	if !ok {
		return
	}
	c.msgMu.Lock()
	c.messages = am.ForFile(c.name)
	c.msgMu.Unlock()
}

// Edit runs fn with exclusive access to the file.
func (c *Checker) Edit(fn func(f *vfile.VirtualFile)) {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()
	fn(c.file)
}

// Load replaces the file's text under label. Identical text is not
// committed. It reports whether a revision was added.
func (c *Checker) Load(label, text string) bool {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()
	if c.file.Contents() == text {
		return false
	}
	c.file.SetState(label, text)
	return true
}

// Check syncs the presented revision and collects the prover's messages.
//
// Description:
//
//	Sends sync with the file's contents, waits until the prover is idle
//	(bounded by the idle timeout), and returns the latest all_messages
//	entries for the file. Error and message counts are attached to the
//	revision's history metadata.
//
// Outputs:
//
//	*Result - Messages for the revision.
//	error - Session errors, a *session.CommandError if the prover rejected
//	        the sync, or the wait's context error.
func (c *Checker) Check(ctx context.Context) (*Result, error) {
	start := time.Now()

	c.fileMu.Lock()
	name := c.name
	text := c.file.Contents()
	res := &Result{Label: c.file.CurrentLabel(), HistoryIndex: c.file.HistoryIndex()}
	c.fileMu.Unlock()

	resp, err := c.session.Send(ctx, protocol.NewSyncRequest(name, text))
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", name, err)
	}
	if err := session.AsError(protocol.CommandSync, resp); err != nil {
		return nil, err
	}
	if ok, isOk := resp.(protocol.OkResponse); isOk {
		res.Unchanged = ok.Message == protocol.MessageFileUnchanged
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.idleTimeout)
	defer cancel()
	if err := c.session.WaitUntilIdle(waitCtx); err != nil {
		return nil, fmt.Errorf("wait for prover on %s: %w", name, err)
	}

	c.msgMu.Lock()
	for _, m := range c.messages {
		if m.IsError() {
			res.Errors = append(res.Errors, m)
		} else {
			res.Others = append(res.Others, m)
		}
	}
	c.msgMu.Unlock()
	res.Duration = time.Since(start)

	c.fileMu.Lock()
	if c.file.HistoryIndex() == res.HistoryIndex {
		c.file.AttachMetadata(MetaErrorCount, len(res.Errors))
		c.file.AttachMetadata(MetaMessageCount, len(res.Errors)+len(res.Others))
	}
	c.fileMu.Unlock()

	c.logger.Info("Checked revision",
		slog.String("label", res.Label),
		slog.Int("errors", len(res.Errors)),
		slog.Int("messages", len(res.Others)),
		slog.Bool("unchanged", res.Unchanged),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// Info returns what the prover knows about a position. line is 1-based,
// col 0-based. A nil record with a nil error means nothing is there.
func (c *Checker) Info(ctx context.Context, line, col int) (*protocol.InfoRecord, error) {
	req := protocol.InfoRequest{FileName: c.name, Line: line, Column: col}
	resp, err := c.session.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("info %s:%d:%d: %w", req.FileName, line, col, err)
	}

	switch r := resp.(type) {
	case protocol.InfoResponse:
		return r.Record, nil
	case protocol.OkResponse:
		return r.Record, nil
	case protocol.ErrorResponse:
		return nil, session.AsError(protocol.CommandInfo, r)
	default:
		return nil, fmt.Errorf("info %s:%d:%d: unexpected %q response", req.FileName, line, col, resp.Kind())
	}
}

// InfoAtCursor is Info at the file's cursor.
func (c *Checker) InfoAtCursor(ctx context.Context) (*protocol.InfoRecord, error) {
	c.fileMu.Lock()
	line, col := c.file.LineColumn()
	c.fileMu.Unlock()
	return c.Info(ctx, line, col-1)
}
