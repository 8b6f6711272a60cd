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
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dEAduction/dEAduction-sub003/pkg/ux"
	"github.com/dEAduction/dEAduction-sub003/services/prover/vfile"
)

func runHistory(_ *cobra.Command, args []string) error {
	if undoSteps < 0 {
		return fmt.Errorf("--undo must not be negative, got %d", undoSteps)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	f := replay(env.cfg.FileName(args[0]), string(data))
	for range undoSteps {
		f.Undo()
	}
	return printHistory(env.out, f)
}

// replay builds a VirtualFile holding text, one insert per line.
func replay(name, text string) *vfile.VirtualFile {
	f := vfile.New(name, "")
	for i, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		f.Insert(fmt.Sprintf("line %d", i+1), line)
	}
	return f
}

func printHistory(out *ux.Printer, f *vfile.VirtualFile) error {
	out.Title(fmt.Sprintf("History of %s", f.FileName()))
	current := f.HistoryIndex()
	for i, label := range f.HistoryLabels() {
		marker := " "
		if i == current {
			marker = out.Icon(ux.IconArrow)
		}
		out.Info(fmt.Sprintf("%s %3d  %s", marker, i, label))
	}

	diff, err := f.Diff(0, current)
	if err != nil {
		return err
	}
	if diff == "" {
		out.Muted("no changes")
		return nil
	}
	out.Muted("")
	out.Diff(diff)
	return nil
}
