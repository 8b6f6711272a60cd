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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath  string
	logLevel    string
	jsonLogs    bool
	metricsAddr string
	undoSteps   int

	rootCmd = &cobra.Command{
		Use:   "prover",
		Short: "Check proof files against a Lean server",
		Long: `prover runs a Lean 3 server as a subprocess and talks to it over its
JSON-lines protocol. Settings come from ~/.prover/prover.yaml unless
--config points elsewhere.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	checkCmd = &cobra.Command{
		Use:   "check FILE",
		Short: "Check FILE once and print the prover's messages",
		Long:  "Exits with status 1 if the prover reports any error.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck, // Defined in cmd_check.go
	}

	infoCmd = &cobra.Command{
		Use:   "info FILE LINE COL",
		Short: "Print what the prover knows at a position (LINE 1-based, COL 0-based)",
		Args:  cobra.ExactArgs(3),
		RunE:  runInfo, // Defined in cmd_check.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-check FILE every time it is saved",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}

	historyCmd = &cobra.Command{
		Use:   "history FILE",
		Short: "Replay FILE line by line through the edit history and print the diff",
		Long: `Each line of FILE becomes one insert in a VirtualFile. The labels of the
resulting history and the unified diff from the initial state to the
presented state are printed. No prover is started.`,
		Args: cobra.ExactArgs(1),
		RunE: runHistory, // Defined in cmd_history.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.prover/prover.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides the config file)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "write logs as JSON")

	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	historyCmd.Flags().IntVar(&undoSteps, "undo", 0, "undo this many inserts before printing")

	rootCmd.AddCommand(checkCmd, infoCmd, watchCmd, historyCmd)
}
