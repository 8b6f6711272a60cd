// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dEAduction/dEAduction-sub003/pkg/logging"
	"github.com/dEAduction/dEAduction-sub003/pkg/ux"
	"github.com/dEAduction/dEAduction-sub003/services/prover/checker"
	"github.com/dEAduction/dEAduction-sub003/services/prover/config"
	"github.com/dEAduction/dEAduction-sub003/services/prover/session"
	"github.com/dEAduction/dEAduction-sub003/services/prover/telemetry"
	"github.com/dEAduction/dEAduction-sub003/services/prover/transport"
	"github.com/dEAduction/dEAduction-sub003/services/prover/vfile"
)

// errCheckFailed makes the process exit with status 1 without printing.
var errCheckFailed = errors.New("check reported errors")

// environment is what setup builds for every command.
type environment struct {
	cfg      *config.Config
	logger   *logging.Logger
	out      *ux.Printer
	shutdown func(context.Context) error
}

var env environment

// setup loads the config, applies flag overrides, and builds the logger,
// the printer and the telemetry providers.
func setup(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.Logging.JSON = jsonLogs
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	env.cfg = cfg
	env.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "prover",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	}).With(slog.String("command", cmd.Name()))
	env.out = newPrinter(cmd)

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry.Config("prover"))
	if err != nil {
		return err
	}
	env.shutdown = shutdown
	return nil
}

// newPrinter writes to the command's output, in color only on a terminal.
func newPrinter(cmd *cobra.Command) *ux.Printer {
	w := cmd.OutOrStdout()
	f, ok := w.(*os.File)
	return ux.NewPrinter(w, ok && ux.IsTerminal(f))
}

// close releases what setup built. Safe to call if setup failed.
func (e *environment) close() {
	if e.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.shutdown(ctx); err != nil && e.logger != nil {
			e.logger.Warn("Telemetry shutdown failed", "error", err)
		}
		cancel()
	}
	if e.logger != nil {
		_ = e.logger.Close()
	}
	*e = environment{}
}

// openSession starts the configured prover.
func (e *environment) openSession(ctx context.Context) (*session.Session, error) {
	logger := e.logger.Slog()
	proc := transport.New(e.cfg.Prover.Transport(logger))
	s := session.New(proc,
		session.WithLogger(logger),
		session.WithRequestTimeout(e.cfg.Prover.RequestTimeout),
		session.WithTranscriptSize(e.cfg.Prover.TranscriptSize),
	)
	if err := s.Start(ctx); err != nil {
		if errors.Is(err, transport.ErrNotInstalled) {
			return nil, fmt.Errorf("%w (set prover.executable in the config file)", err)
		}
		return nil, err
	}
	return s, nil
}

// stopSession stops s with a fresh context so a cancelled command still
// shuts the prover down.
func (e *environment) stopSession(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Prover.StopTimeout+time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil && !errors.Is(err, session.ErrSessionEnded) {
		e.logger.Warn("Prover did not stop cleanly", "error", err)
	}
}

// openChecker wraps the file at path in a VirtualFile bound to s.
func (e *environment) openChecker(s checker.Sessioner, path string, opts ...checker.Option) (*checker.Checker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := vfile.New(e.cfg.FileName(path), string(data))
	opts = append([]checker.Option{
		checker.WithLogger(e.logger.Slog()),
		checker.WithIdleTimeout(e.cfg.Prover.IdleTimeout),
	}, opts...)
	return checker.New(s, f, opts...), nil
}
