// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"errors"
	"fmt"

	"github.com/dEAduction/dEAduction-sub003/services/prover/protocol"
)

// Sentinel errors for session operations.
var (
	// ErrSessionEnded indicates the prover is gone. Pending and later
	// requests fail with it.
	ErrSessionEnded = errors.New("session ended")

	// ErrSessionStopped indicates the session was stopped on request. It
	// wraps ErrSessionEnded.
	ErrSessionStopped = fmt.Errorf("session stopped: %w", ErrSessionEnded)

	// ErrRequestTimeout indicates a request exceeded its deadline. It is
	// returned together with context.DeadlineExceeded.
	ErrRequestTimeout = errors.New("prover request timeout")

	// ErrNotStarted indicates Send before Start.
	ErrNotStarted = errors.New("session not started")

	// ErrAlreadyStarted indicates Start was called more than once.
	ErrAlreadyStarted = errors.New("session already started")
)

// CommandError is an error response turned into a Go error.
type CommandError struct {
	// Command is the command the prover rejected.
	Command string

	// Message is the prover's explanation.
	Message string

	// Errors holds any structured records attached to the response.
	Errors []protocol.Message
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("prover rejected %s: %s (%d records)", e.Command, e.Message, len(e.Errors))
	}
	return fmt.Sprintf("prover rejected %s: %s", e.Command, e.Message)
}

// AsError returns a *CommandError if resp is an error response, nil
// otherwise. Send never does this itself; prover errors are values.
func AsError(command string, resp protocol.Response) error {
	e, ok := resp.(protocol.ErrorResponse)
	if !ok {
		return nil
	}
	return &CommandError{Command: command, Message: e.Message, Errors: e.Errors}
}
