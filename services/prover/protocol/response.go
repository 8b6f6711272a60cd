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

// Response discriminators.
const (
	KindOk           = "ok"
	KindError        = "error"
	KindCurrentTasks = "current_tasks"
	KindAllMessages  = "all_messages"
	KindInfo         = "info"
)

// Messages the prover attaches to an ok reply to sync.
const (
	MessageFileInvalidated = "file invalidated"
	MessageFileUnchanged   = "file unchanged"
)

// Response is a decoded line from the prover.
type Response interface {
	// Kind returns the "response" discriminator.
	Kind() string

	// SeqNum returns the echoed sequence number. Notifications have none.
	SeqNum() (int64, bool)
}

// Envelope holds the fields every response shares.
type Envelope struct {
	Seq *int64 `json:"seq_num,omitempty"`
}

// SeqNum implements Response.
func (e Envelope) SeqNum() (int64, bool) {
	if e.Seq == nil {
		return 0, false
	}
	return *e.Seq, true
}

// =============================================================================
// RECORDS
// =============================================================================

// Severity of a prover message.
type Severity string

const (
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
)

// Message is a diagnostic produced while checking a file. Lines are 1-based,
// columns 0-based.
type Message struct {
	FileName   string   `json:"file_name"`
	Severity   Severity `json:"severity"`
	Caption    string   `json:"caption,omitempty"`
	Text       string   `json:"text"`
	PosLine    int      `json:"pos_line"`
	PosCol     int      `json:"pos_col"`
	EndPosLine int      `json:"end_pos_line,omitempty"`
	EndPosCol  int      `json:"end_pos_col,omitempty"`
}

// IsError reports whether the message has error severity.
func (m Message) IsError() bool {
	return m.Severity == SeverityError
}

// Task is a unit of work the prover has in flight.
type Task struct {
	FileName   string `json:"file_name"`
	PosLine    int    `json:"pos_line"`
	PosCol     int    `json:"pos_col"`
	EndPosLine int    `json:"end_pos_line"`
	EndPosCol  int    `json:"end_pos_col"`
	Desc       string `json:"desc"`
}

// SourceLocation points at a declaration.
type SourceLocation struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// InfoRecord describes the term or tactic state at a position. Every field
// is optional.
type InfoRecord struct {
	FullID       string          `json:"full-id,omitempty"`
	Text         string          `json:"text,omitempty"`
	Type         string          `json:"type,omitempty"`
	Doc          string          `json:"doc,omitempty"`
	Source       *SourceLocation `json:"source,omitempty"`
	TacticParams []string        `json:"tactic_params,omitempty"`
	State        string          `json:"state,omitempty"`
}

// Completion is one candidate returned by complete.
type Completion struct {
	Text         string   `json:"text"`
	Type         string   `json:"type,omitempty"`
	Doc          string   `json:"doc,omitempty"`
	TacticParams []string `json:"tactic_params,omitempty"`
}

// =============================================================================
// VARIANTS
// =============================================================================

// OkResponse acknowledges a command. Which optional fields are set depends
// on the command answered.
type OkResponse struct {
	Envelope
	Message     string       `json:"message,omitempty"`
	Record      *InfoRecord  `json:"record,omitempty"`
	Completions []Completion `json:"completions,omitempty"`
	Prefix      string       `json:"prefix,omitempty"`
}

// Kind implements Response.
func (OkResponse) Kind() string { return KindOk }

// ErrorResponse reports a command the prover rejected.
type ErrorResponse struct {
	Envelope
	Message string    `json:"message"`
	Errors  []Message `json:"errors,omitempty"`
}

// Kind implements Response.
func (ErrorResponse) Kind() string { return KindError }

// CurrentTasksResponse is the progress notification.
type CurrentTasksResponse struct {
	Envelope
	IsRunning bool   `json:"is_running"`
	CurTask   *Task  `json:"cur_task,omitempty"`
	Tasks     []Task `json:"tasks"`
}

// Kind implements Response.
func (CurrentTasksResponse) Kind() string { return KindCurrentTasks }

// AllMessagesResponse carries every diagnostic the prover currently holds.
type AllMessagesResponse struct {
	Envelope
	Msgs []Message `json:"msgs"`
}

// Kind implements Response.
func (AllMessagesResponse) Kind() string { return KindAllMessages }

// ForFile returns the messages about fileName, in the order received.
func (r AllMessagesResponse) ForFile(fileName string) []Message {
	var out []Message
	for _, m := range r.Msgs {
		if m.FileName == fileName {
			out = append(out, m)
		}
	}
	return out
}

// InfoResponse answers an info command.
type InfoResponse struct {
	Envelope
	Record *InfoRecord `json:"record,omitempty"`
}

// Kind implements Response.
func (InfoResponse) Kind() string { return KindInfo }

// RawResponse holds a response with an unrecognised discriminator.
type RawResponse struct {
	Envelope
	Name   string
	Fields map[string]any
}

// Kind implements Response.
func (r RawResponse) Kind() string { return r.Name }
