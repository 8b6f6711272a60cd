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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dEAduction/dEAduction-sub003/pkg/ux"
	"github.com/dEAduction/dEAduction-sub003/services/prover/checker"
	"github.com/dEAduction/dEAduction-sub003/services/prover/protocol"
)

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := env.openSession(ctx)
	if err != nil {
		return err
	}
	defer env.stopSession(s)

	c, err := env.openChecker(s, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Check(ctx)
	if err != nil {
		return err
	}
	printResult(env.out, res)
	if !res.OK() {
		return errCheckFailed
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	line, err := strconv.Atoi(args[1])
	if err != nil || line < 1 {
		return fmt.Errorf("LINE must be a positive integer, got %q", args[1])
	}
	col, err := strconv.Atoi(args[2])
	if err != nil || col < 0 {
		return fmt.Errorf("COL must be a non-negative integer, got %q", args[2])
	}

	ctx := cmd.Context()
	s, err := env.openSession(ctx)
	if err != nil {
		return err
	}
	defer env.stopSession(s)

	c, err := env.openChecker(s, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	// The prover answers info only for content it has elaborated.
	if _, err := c.Check(ctx); err != nil {
		return err
	}
	rec, err := c.Info(ctx, line, col)
	if err != nil {
		return err
	}
	printInfo(env.out, rec, line, col)
	return nil
}

// printResult prints every message of res followed by a summary line.
func printResult(out *ux.Printer, res *checker.Result) {
	warnings, infos := 0, 0
	for _, m := range res.Errors {
		printMessage(out, m)
	}
	for _, m := range res.Others {
		if m.Severity == protocol.SeverityWarning {
			warnings++
		} else {
			infos++
		}
		printMessage(out, m)
	}
	out.Summary(len(res.Errors), warnings, infos)
	if res.OK() {
		out.Success(fmt.Sprintf("%s checks (%s)", res.Label, res.Duration.Round(time.Millisecond)))
	}
}

func printMessage(out *ux.Printer, m protocol.Message) {
	loc := fmt.Sprintf("%s:%d:%d", m.FileName, m.PosLine, m.PosCol)
	text := m.Text
	if m.Caption != "" {
		text = m.Caption + ": " + text
	}
	out.Diagnostic(string(m.Severity), loc, text)
}

func printInfo(out *ux.Printer, rec *protocol.InfoRecord, line, col int) {
	if rec == nil {
		out.Muted(fmt.Sprintf("nothing at %d:%d", line, col))
		return
	}

	var b strings.Builder
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, value)
		}
	}
	field("type", rec.Type)
	field("doc", rec.Doc)
	if rec.Source != nil {
		field("source", fmt.Sprintf("%s:%d:%d", rec.Source.File, rec.Source.Line, rec.Source.Column))
	}
	field("tactic params", strings.Join(rec.TacticParams, " "))
	field("state", rec.State)
	field("text", rec.Text)

	title := rec.FullID
	if title == "" {
		title = fmt.Sprintf("%d:%d", line, col)
	}
	out.Box(title, strings.TrimRight(b.String(), "\n"))
}
