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
	"strings"
	"text/tabwriter"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/history"
	"github.com/AleutianAI/botdeploy/pkg/ux"
	"github.com/spf13/cobra"
)

func runHistory(cmd *cobra.Command, _ []string) error {
	names := cli.names()
	store, err := history.Open(history.Config{
		Path:    cli.cfg.HistoryDir(),
		MaxRuns: cli.cfg.History.MaxRuns,
		Logger:  cli.logger.Slog(),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), names.Deployment, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ux.Info(fmt.Sprintf("No recorded runs for %s", names.Deployment))
		return nil
	}
	printRuns(runs)
	return nil
}

// printRuns writes one tab-aligned line per run, newest first.
func printRuns(runs []history.Run) {
	w := tabwriter.NewWriter(ux.Stdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tDURATION\tFAILED STEP\tRUN")
	for _, r := range runs {
		failed := r.FailedStep
		if failed == "" {
			failed = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			outcomeLabel(r.Outcome),
			formatDuration(r.Duration()),
			failed,
			r.ID,
		)
	}
	w.Flush()

	for _, r := range runs {
		for _, warn := range r.Warnings {
			ux.Muted(fmt.Sprintf("%s: %s", r.ID[:min(8, len(r.ID))], warn))
		}
	}
}

func outcomeLabel(outcome string) string {
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		return outcome
	}
	switch outcome {
	case "success":
		return string(ux.IconSuccess) + " " + outcome
	case "warning":
		return string(ux.IconWarning) + " " + outcome
	case "failed":
		return string(ux.IconError) + " " + outcome
	default:
		return strings.TrimSpace(string(ux.IconPending) + " " + outcome)
	}
}
