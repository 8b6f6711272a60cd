// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol encodes prover requests and decodes prover responses.
//
// The prover speaks one JSON object per line. Requests look like
//
//	{"command":"sync","seq_num":1,"file_name":"a.lean","content":"..."}
//
// and responses like
//
//	{"response":"ok","seq_num":1,"message":"file invalidated"}
//	{"response":"current_tasks","is_running":true,"tasks":[...]}
//
// Responses without seq_num are notifications.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

var (
	// ErrMalformed indicates a line that is not a JSON object with a string
	// "response" field.
	ErrMalformed = errors.New("malformed response")

	// ErrInvalidRequest indicates a request that cannot be encoded.
	ErrInvalidRequest = errors.New("invalid request")
)

// Encode renders r as one newline-terminated JSON line with seq attached.
//
// Description:
//
//	Variant fields are flattened next to "command" and "seq_num". Keys are
//	written in sorted order, so equal requests encode to equal bytes. JSON
//	string escaping guarantees the only newline is the terminator.
//
// Outputs:
//
//	[]byte - The encoded line, including the trailing '\n'.
//	error - ErrInvalidRequest if r is nil, has no command, or fails to marshal.
func Encode(seq int64, r Request) ([]byte, error) {
	if r == nil || r.Command() == "" {
		return nil, fmt.Errorf("%w: missing command", ErrInvalidRequest)
	}

	fields := make(map[string]any)
	switch raw := r.(type) {
	case RawRequest:
		maps.Copy(fields, raw.Fields)
	case *RawRequest:
		maps.Copy(fields, raw.Fields)
	default:
		body, err := marshal(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, r.Command(), err)
		}
		var flat map[string]json.RawMessage
		if err := json.Unmarshal(body, &flat); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, r.Command(), err)
		}
		for k, v := range flat {
			fields[k] = v
		}
	}
	fields["command"] = r.Command()
	fields["seq_num"] = seq

	line, err := marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, r.Command(), err)
	}
	return append(line, '\n'), nil
}

// marshal is json.Marshal without HTML escaping, so "<", ">" and "&" in
// source text reach the prover as written.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses one line from the prover.
//
// Description:
//
//	Dispatches on the "response" field. Unknown discriminators decode to
//	RawResponse carrying the parsed object; they are never an error.
//	Trailing whitespace, including '\r', is ignored.
//
// Outputs:
//
//	Response - One of the variants in this package.
//	error - Wraps ErrMalformed if the line is not a JSON object with a
//	        string "response" field and integer "seq_num" (when present).
func Decode(line []byte) (Response, error) {
	line = bytes.TrimSpace(line)

	var head struct {
		Response *string `json:"response"`
		Envelope
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if head.Response == nil {
		return nil, fmt.Errorf("%w: missing \"response\" field", ErrMalformed)
	}

	switch *head.Response {
	case KindOk:
		return decodeAs[OkResponse](line)
	case KindError:
		return decodeAs[ErrorResponse](line)
	case KindCurrentTasks:
		return decodeAs[CurrentTasksResponse](line)
	case KindAllMessages:
		return decodeAs[AllMessagesResponse](line)
	case KindInfo:
		return decodeAs[InfoResponse](line)
	}

	raw := RawResponse{Envelope: head.Envelope, Name: *head.Response}
	if err := json.Unmarshal(line, &raw.Fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return raw, nil
}

func decodeAs[T Response](line []byte) (Response, error) {
	var r T
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, r.Kind(), err)
	}
	return r, nil
}
