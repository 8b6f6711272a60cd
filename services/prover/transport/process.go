// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport runs the prover as a child process and exposes its
// standard streams as a line-oriented duplex.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultStopTimeout bounds how long Stop waits for a graceful exit.
const DefaultStopTimeout = 5 * time.Second

var (
	// ErrNotInstalled indicates the prover executable is not on PATH.
	ErrNotInstalled = errors.New("prover not installed")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrNotRunning indicates a write to a process that is not running.
	ErrNotRunning = errors.New("process not running")
)

var (
	processSpawns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prover_process_spawns_total",
		Help: "Total prover processes started",
	})

	processExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prover_process_exits_total",
		Help: "Total prover process exits by reason",
	}, []string{"reason"})
)

// Config describes the child to spawn.
type Config struct {
	// Executable is looked up on PATH unless it contains a separator.
	Executable string

	// Args are passed after the executable, e.g. ["--server"].
	Args []string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// Env entries ("KEY=value") are appended to the parent environment.
	Env []string

	// StopTimeout bounds the graceful part of Stop. Zero means
	// DefaultStopTimeout.
	StopTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Process is a prover child process.
//
// Description:
//
//	Standard output and standard error share one pipe, so diagnostics the
//	prover prints outside the protocol arrive as ordinary lines. Lines are
//	delivered without the trailing "\n" or "\r\n"; the channel closes when
//	the pipe reaches EOF. Done closes once the process has been reaped.
//
// Thread Safety:
//
//	Send may be called from multiple goroutines. Start and Stop may be
//	called concurrently with Send.
type Process struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	stopping bool
	cmd      *exec.Cmd
	stdin    io.WriteCloser

	writeMu sync.Mutex

	lines   chan []byte
	done    chan struct{}
	exitErr error

	stopOnce sync.Once
}

// New creates a process that is not yet started.
func New(cfg Config) *Process {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "prover_process")),
		lines:  make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

// Start spawns the child.
//
// Description:
//
//	The child outlives ctx; ctx only bounds the start itself. Stop ends
//	the child.
//
// Outputs:
//
//	error - ErrNotInstalled if the executable cannot be found,
//	        ErrAlreadyStarted on a second call, or the spawn failure.
func (p *Process) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}

	path, err := exec.LookPath(p.cfg.Executable)
	if err != nil {
		p.logger.Warn("Prover not installed",
			slog.String("executable", p.cfg.Executable),
		)
		return fmt.Errorf("%w: %s", ErrNotInstalled, p.cfg.Executable)
	}

	cmd := exec.Command(path, p.cfg.Args...)
	cmd.Dir = p.cfg.Dir
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	out, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = out.Close()
		_ = outW.Close()
		return fmt.Errorf("start process: %w", err)
	}
	// The child holds its own copy of the write end.
	_ = outW.Close()

	p.started = true
	p.cmd = cmd
	p.stdin = stdin
	processSpawns.Inc()

	p.logger.Info("Prover started",
		slog.String("executable", path),
		slog.Any("args", p.cfg.Args),
		slog.Int("pid", cmd.Process.Pid),
	)

	go p.readLoop(out)
	go p.waitLoop()
	return nil
}

// readLoop splits the merged output into lines until EOF.
func (p *Process) readLoop(out io.ReadCloser) {
	defer close(p.lines)
	defer out.Close()

	r := bufio.NewReaderSize(out, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			p.lines <- line
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.logger.Warn("Prover output read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	stopping := p.stopping
	p.mu.Unlock()

	reason := "crashed"
	switch {
	case stopping:
		reason = "stopped"
	case err == nil:
		reason = "exited"
	}
	processExits.WithLabelValues(reason).Inc()

	attrs := []any{slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if stopping {
		p.logger.Info("Prover exited", attrs...)
	} else {
		p.logger.Warn("Prover exited unexpectedly", attrs...)
	}
	close(p.done)
}

// Send writes one already-framed line to the child's stdin.
func (p *Process) Send(line []byte) error {
	p.mu.Lock()
	stdin, running := p.stdin, p.started && !p.stopping
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	select {
	case <-p.done:
		return ErrNotRunning
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := stdin.Write(line); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// Lines returns the output stream.
func (p *Process) Lines() <-chan []byte {
	return p.lines
}

// Done is closed after the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the result of waiting for the child. It is meaningful
// only after Done is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Stop ends the child.
//
// Description:
//
//	Closes stdin and sends SIGTERM, then waits up to StopTimeout (or until
//	ctx ends) before killing. Returns once the child has been reaped.
//	Calling Stop again, or on a process that never started, is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	p.mu.Unlock()

	p.stopOnce.Do(func() {
		p.logger.Info("Stopping prover", slog.Int("pid", p.cmd.Process.Pid))

		_ = p.stdin.Close()
		_ = p.cmd.Process.Signal(syscall.SIGTERM)

		timer := time.NewTimer(p.cfg.StopTimeout)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
		case <-ctx.Done():
		}
		p.logger.Warn("Prover did not exit, killing", slog.Int("pid", p.cmd.Process.Pid))
		_ = p.cmd.Process.Kill()
	})

	<-p.done
	return nil
}
