// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session is the client side of a prover conversation.
//
// # Description
//
// A Session owns a Transport (normally a transport.Process), assigns
// sequence numbers, correlates responses with requests, and republishes
// everything else as notifications. The RunningMonitor sees every
// notification before subscribers do.
//
//	Send ──► pending[seq] ──► Transport.Send
//	Transport.Lines ──► receiver ──┬─► pending[seq] (response)
//	                               └─► Monitor.Observe, subscribers (notification)
//
// # Thread Safety
//
// Safe for concurrent use. Notification handlers run on the receiver
// goroutine, in the order lines arrive; a slow handler delays every
// response behind it.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dEAduction/dEAduction-sub003/services/prover/monitor"
	"github.com/dEAduction/dEAduction-sub003/services/prover/notify"
	"github.com/dEAduction/dEAduction-sub003/services/prover/protocol"
	"github.com/dEAduction/dEAduction-sub003/services/prover/telemetry"
)

// DefaultRequestTimeout applies to Send calls whose context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// maxAbandoned bounds how many timed-out or cancelled seqs are remembered
// so their late replies can be dropped.
const maxAbandoned = 1024

// Transport is the line-oriented duplex the session talks over.
type Transport interface {
	// Start launches the peer.
	Start(ctx context.Context) error

	// Send writes one newline-terminated line.
	Send(line []byte) error

	// Lines yields inbound lines without terminators. It is closed when
	// the peer's output ends.
	Lines() <-chan []byte

	// Stop ends the peer and returns once it is gone.
	Stop(ctx context.Context) error

	// Done is closed once the peer has exited.
	Done() <-chan struct{}

	// ExitErr describes how the peer exited. Valid after Done.
	ExitErr() error
}

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of a session.
type State int

const (
	// StateNew is the state before Start.
	StateNew State = iota

	// StateStarting means the transport is being started.
	StateStarting

	// StateRunning means requests are accepted.
	StateRunning

	// StateStopping means Stop is in progress.
	StateStopping

	// StateStopped is terminal.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	names := []string{"new", "starting", "running", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	logger         *slog.Logger
	requestTimeout time.Duration
	transcriptSize int
	monitor        *monitor.Monitor
}

// Option configures a Session.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRequestTimeout sets the deadline applied to Send calls whose context
// has none. Zero or negative disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithTranscriptSize sets how many wire lines the transcript keeps.
func WithTranscriptSize(n int) Option {
	return func(o *options) { o.transcriptSize = n }
}

// WithMonitor supplies the running monitor. By default the session creates
// its own.
func WithMonitor(m *monitor.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// =============================================================================
// SESSION
// =============================================================================

type outcome struct {
	resp protocol.Response
	err  error
}

type pendingRequest struct {
	command string
	ch      chan outcome
}

// Session is a conversation with one prover process.
type Session struct {
	id             string
	transport      Transport
	logger         *slog.Logger
	requestTimeout time.Duration
	monitor        *monitor.Monitor
	notifications  *notify.Hub[protocol.Response]
	transcript     *Transcript

	stateMu sync.RWMutex
	state   State
	endErr  error

	// writeMu orders sequence allocation with writes.
	writeMu sync.Mutex
	nextSeq int64

	pendingMu  sync.Mutex
	pending    map[int64]*pendingRequest
	abandoned  map[int64]struct{}
	maxAbandon int
	pendingErr error // set once pending requests are failed for good

	recvDone chan struct{}
}

// New creates a session over t. Nothing is started until Start.
func New(t Transport, opts ...Option) *Session {
	o := options{requestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.monitor == nil {
		o.monitor = monitor.New(o.logger)
	}

	id := uuid.NewString()
	logger := o.logger.With(slog.String("session_id", id))
	return &Session{
		id:             id,
		transport:      t,
		logger:         logger,
		requestTimeout: o.requestTimeout,
		monitor:        o.monitor,
		notifications:  notify.NewHub[protocol.Response]("session", logger),
		transcript:     NewTranscript(o.transcriptSize),
		pending:        make(map[int64]*pendingRequest),
		abandoned:      make(map[int64]struct{}),
		maxAbandon:     maxAbandoned,
		recvDone:       make(chan struct{}),
	}
}

// ID returns the session's unique identifier, used in logs.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Monitor returns the running monitor fed by this session.
func (s *Session) Monitor() *monitor.Monitor { return s.monitor }

// Transcript returns the recent wire lines.
func (s *Session) Transcript() *Transcript { return s.transcript }

// Subscribe registers fn for notifications: every decoded response that
// does not answer a pending request.
func (s *Session) Subscribe(fn func(protocol.Response)) string {
	return s.notifications.Subscribe(fn)
}

// Unsubscribe removes a notification handler.
func (s *Session) Unsubscribe(id string) bool {
	return s.notifications.Unsubscribe(id)
}

// WaitUntilIdle blocks until the prover has finished the latest sync.
func (s *Session) WaitUntilIdle(ctx context.Context) error {
	return s.monitor.WaitUntilIdle(ctx)
}

// Start starts the transport and the receiver.
//
// Outputs:
//
//	error - ErrAlreadyStarted on a second call, ErrSessionStopped if Stop
//	        was called while starting, or the transport's start failure
//	        (after which the session is stopped).
func (s *Session) Start(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state != StateNew {
		s.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.stateMu.Unlock()

	if err := s.transport.Start(ctx); err != nil {
		s.stateMu.Lock()
		s.state = StateStopped
		s.endErr = fmt.Errorf("%w: %w", ErrSessionEnded, err)
		s.stateMu.Unlock()
		close(s.recvDone)
		return fmt.Errorf("start prover: %w", err)
	}

	s.stateMu.Lock()
	stopped := s.state != StateStarting
	if !stopped {
		s.state = StateRunning
	}
	s.stateMu.Unlock()

	go s.receive()
	if stopped {
		// Stop ran while the transport was starting and could not reach it.
		if err := s.transport.Stop(ctx); err != nil {
			s.logger.Warn("Prover did not stop cleanly", slog.String("error", err.Error()))
		}
		return ErrSessionStopped
	}
	s.logger.Info("Prover session started")
	return nil
}

// Stop ends the session.
//
// Description:
//
//	Pending requests fail with ErrSessionStopped, the transport is stopped,
//	and Stop returns once the receiver has drained. Calling Stop again, or
//	on a session that never started, is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	switch s.state {
	case StateNew:
		s.state = StateStopped
		s.endErr = ErrSessionStopped
		s.stateMu.Unlock()
		close(s.recvDone)
		return nil
	case StateStopping, StateStopped:
		s.stateMu.Unlock()
		return s.waitReceiver(ctx)
	}
	s.state = StateStopping
	s.stateMu.Unlock()

	s.logger.Info("Stopping prover session")
	s.failPending(ErrSessionStopped)

	err := s.transport.Stop(ctx)
	if werr := s.waitReceiver(ctx); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (s *Session) waitReceiver(ctx context.Context) error {
	select {
	case <-s.recvDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes req and waits for its response.
//
// Description:
//
//	A sync request clears the monitor's idle latch before it is written.
//	If ctx has no deadline the session's request timeout applies. Error
//	responses from the prover are returned as values with a nil error;
//	see AsError.
//
// Outputs:
//
//	protocol.Response - The response whose seq_num matches the request.
//	error - ErrNotStarted, ErrSessionEnded or ErrSessionStopped,
//	        ErrRequestTimeout (with context.DeadlineExceeded), ctx.Err()
//	        on cancellation, or an encode/write failure.
func (s *Session) Send(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", protocol.ErrInvalidRequest)
	}
	command := req.Command()

	if _, ok := ctx.Deadline(); !ok && s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	ctx, span := startSendSpan(ctx, s.id, command)
	defer span.End()
	start := time.Now()

	seq, p, err := s.write(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordRequest(ctx, command, "write_error", time.Since(start))
		return nil, err
	}
	span.SetAttributes(attribute.Int64("prover.seq_num", seq))

	select {
	case out := <-p.ch:
		return s.finish(ctx, span, command, start, out)
	case <-ctx.Done():
	}

	if out, answered := s.abandon(seq, p); answered {
		return s.finish(ctx, span, command, start, out)
	}

	err = fmt.Errorf("%s seq %d: %w", command, seq, ctx.Err())
	outcomeName := "cancelled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s seq %d: %w", ErrRequestTimeout, command, seq, ctx.Err())
		outcomeName = "timeout"
	}
	telemetry.LoggerWithTrace(ctx, s.logger).Warn("Prover request abandoned",
		slog.String("command", command),
		slog.Int64("seq_num", seq),
		slog.String("reason", outcomeName),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, outcomeName)
	recordRequest(ctx, command, outcomeName, time.Since(start))
	return nil, err
}

// write allocates the next sequence number, registers the pending request
// and writes the line, all under writeMu.
func (s *Session) write(req protocol.Request) (int64, *pendingRequest, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.nextSeq++
	seq := s.nextSeq
	line, err := protocol.Encode(seq, req)
	if err != nil {
		return 0, nil, err
	}

	p := &pendingRequest{command: req.Command(), ch: make(chan outcome, 1)}
	s.pendingMu.Lock()
	if s.pendingErr != nil {
		err := s.pendingErr
		s.pendingMu.Unlock()
		return 0, nil, err
	}
	s.pending[seq] = p
	s.pendingMu.Unlock()

	if p.command == protocol.CommandSync {
		s.monitor.Invalidate()
	}

	if err := s.transport.Send(line); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, seq)
		ended := s.pendingErr
		s.pendingMu.Unlock()
		if ended != nil {
			return 0, nil, ended
		}
		return 0, nil, fmt.Errorf("write %s seq %d: %w", req.Command(), seq, err)
	}
	s.transcript.record(Outbound, bytes.TrimRight(line, "\n"), false)
	return seq, p, nil
}

// abandon removes a pending request whose caller gave up. If the response
// won the race it is returned instead.
func (s *Session) abandon(seq int64, p *pendingRequest) (outcome, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if _, still := s.pending[seq]; still {
		delete(s.pending, seq)
		s.abandoned[seq] = struct{}{}
		s.pruneAbandoned(seq)
		return outcome{}, false
	}
	select {
	case out := <-p.ch:
		return out, true
	default:
		return outcome{}, false
	}
}

// pruneAbandoned forgets the older half of the abandoned seqs once there
// are more than maxAbandon of them. A reply to a forgotten seq is published
// as a notification. Callers hold pendingMu.
func (s *Session) pruneAbandoned(latest int64) {
	if len(s.abandoned) <= s.maxAbandon {
		return
	}
	lowWater := latest - int64(s.maxAbandon/2)
	for seq := range s.abandoned {
		if seq <= lowWater {
			delete(s.abandoned, seq)
		}
	}
}

func (s *Session) finish(ctx context.Context, span trace.Span, command string, start time.Time, out outcome) (protocol.Response, error) {
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		recordRequest(ctx, command, "ended", time.Since(start))
		return nil, out.err
	}
	span.SetAttributes(attribute.String("prover.response", out.resp.Kind()))
	recordRequest(ctx, command, out.resp.Kind(), time.Since(start))
	return out.resp, nil
}

func (s *Session) checkRunning() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	switch s.state {
	case StateRunning:
		return nil
	case StateNew, StateStarting:
		return ErrNotStarted
	case StateStopping:
		return ErrSessionStopped
	default:
		return s.endErr
	}
}

// failPending completes every pending request with err and refuses new
// ones.
func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pendingErr == nil {
		s.pendingErr = err
	}
	for seq, p := range s.pending {
		p.ch <- outcome{err: s.pendingErr}
		delete(s.pending, seq)
	}
	clear(s.abandoned)
}

// =============================================================================
// RECEIVER
// =============================================================================

func (s *Session) receive() {
	defer close(s.recvDone)

	for line := range s.transport.Lines() {
		s.handleLine(line)
	}

	<-s.transport.Done()
	exitErr := s.transport.ExitErr()

	s.stateMu.Lock()
	requested := s.state == StateStopping
	endErr := ErrSessionStopped
	if !requested {
		endErr = ErrSessionEnded
		if exitErr != nil {
			endErr = fmt.Errorf("%w: %w", ErrSessionEnded, exitErr)
		}
	}
	s.state = StateStopped
	s.endErr = endErr
	s.stateMu.Unlock()

	s.failPending(endErr)

	if requested {
		s.logger.Info("Prover session stopped")
	} else {
		attrs := []any{}
		if exitErr != nil {
			attrs = append(attrs, slog.String("error", exitErr.Error()))
		}
		s.logger.Error("Prover session ended unexpectedly", attrs...)
	}
}

// handleLine routes one inbound line.
func (s *Session) handleLine(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	resp, err := protocol.Decode(line)
	if err != nil {
		s.transcript.record(Inbound, line, true)
		malformedLines.Inc()
		s.logger.Warn("Skipping malformed prover line",
			slog.String("line", truncate(line, 200)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.transcript.record(Inbound, line, false)

	if seq, ok := resp.SeqNum(); ok {
		if s.fulfil(seq, resp) {
			return
		}
		if s.discardLate(seq) {
			lateResponses.Inc()
			s.logger.Debug("Discarding late prover response",
				slog.Int64("seq_num", seq),
				slog.String("kind", resp.Kind()),
			)
			return
		}
	}

	notificationsTotal.WithLabelValues(resp.Kind()).Inc()
	s.monitor.Observe(resp)
	s.notifications.Publish(resp)
}

// fulfil completes the pending request for seq, if any.
func (s *Session) fulfil(seq int64, resp protocol.Response) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p, found := s.pending[seq]
	if !found {
		return false
	}
	delete(s.pending, seq)
	if p.command == protocol.CommandSync {
		if ok, isOk := resp.(protocol.OkResponse); isOk && ok.Message == protocol.MessageFileUnchanged {
			s.monitor.MarkIdle()
		}
	}
	p.ch <- outcome{resp: resp}
	return true
}

func (s *Session) discardLate(seq int64) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if _, late := s.abandoned[seq]; !late {
		return false
	}
	delete(s.abandoned, seq)
	return true
}

func truncate(line []byte, n int) string {
	if len(line) <= n {
		return string(line)
	}
	return string(line[:n]) + "..."
}
