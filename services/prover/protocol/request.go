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

// Command names understood by the prover.
const (
	CommandSync      = "sync"
	CommandInfo      = "info"
	CommandComplete  = "complete"
	CommandRoi       = "roi"
	CommandSleep     = "sleep"
	CommandLongSleep = "long_sleep"
)

// Request is a command sent to the prover. The sequence number is not part
// of the request value; the session assigns it at send time.
type Request interface {
	// Command returns the value of the "command" field.
	Command() string
}

// SyncRequest replaces the prover's copy of a file. A nil Content asks the
// prover to re-read its last copy.
type SyncRequest struct {
	FileName string  `json:"file_name"`
	Content  *string `json:"content,omitempty"`
}

// Command implements Request.
func (SyncRequest) Command() string { return CommandSync }

// NewSyncRequest returns a sync request carrying content.
func NewSyncRequest(fileName, content string) SyncRequest {
	return SyncRequest{FileName: fileName, Content: &content}
}

// InfoRequest asks for term information at a position. Line is 1-based,
// Column is 0-based, as the prover counts them.
type InfoRequest struct {
	FileName string `json:"file_name"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// Command implements Request.
func (InfoRequest) Command() string { return CommandInfo }

// CompleteRequest asks for completions at a position.
type CompleteRequest struct {
	FileName        string `json:"file_name"`
	Line            int    `json:"line"`
	Column          int    `json:"column"`
	SkipCompletions bool   `json:"skip_completions,omitempty"`
}

// Command implements Request.
func (CompleteRequest) Command() string { return CommandComplete }

// Region-of-interest modes.
const (
	RoiNothing              = "nothing"
	RoiVisibleLines         = "visible-lines"
	RoiVisibleLinesAndAbove = "visible-lines-and-above"
	RoiVisibleFiles         = "visible-files"
	RoiOpenFiles            = "open-files"
)

// LineRange is an inclusive range of 1-based lines.
type LineRange struct {
	BeginLine int `json:"begin_line"`
	EndLine   int `json:"end_line"`
}

// FileRoi lists the interesting ranges of one file.
type FileRoi struct {
	FileName string      `json:"file_name"`
	Ranges   []LineRange `json:"ranges"`
}

// RoiRequest tells the prover which regions to check.
type RoiRequest struct {
	Mode  string    `json:"mode"`
	Files []FileRoi `json:"files"`
}

// Command implements Request.
func (RoiRequest) Command() string { return CommandRoi }

// SleepRequest makes the prover sleep briefly. Diagnostic only.
type SleepRequest struct{}

// Command implements Request.
func (SleepRequest) Command() string { return CommandSleep }

// LongSleepRequest makes the prover sleep for a long time. Diagnostic only.
type LongSleepRequest struct{}

// Command implements Request.
func (LongSleepRequest) Command() string { return CommandLongSleep }

// RawRequest carries a command the codec has no dedicated type for. Fields
// are sent as-is next to "command" and "seq_num".
type RawRequest struct {
	Name   string
	Fields map[string]any
}

// Command implements Request.
func (r RawRequest) Command() string { return r.Name }
