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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/auth"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/deploy"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/workflow"
	"github.com/AleutianAI/botdeploy/pkg/ux"
)

var stepLabels = map[string]string{
	workflow.StepValidate:  "Validate configuration",
	workflow.StepLock:      "Acquire deployment lock",
	workflow.StepPreflight: "Check prerequisites",
	workflow.StepSecrets:   "Write secrets",
	workflow.StepSource:    "Fetch bot source",
	workflow.StepBuild:     "Build image",
	workflow.StepVerify:    "Verify image",
	workflow.StepAuth:      "Authenticate assistant CLI",
	workflow.StepLaunch:    "Start container",
	workflow.StepHealth:    "Wait for healthy",
}

func stepLabel(step string) string {
	if l, ok := stepLabels[step]; ok {
		return l
	}
	return step
}

// =============================================================================
// Observer
// =============================================================================

// uxObserver renders workflow progress. The spinner is never shown during
// the login step, which owns the terminal.
type uxObserver struct {
	spinner *ux.Spinner
	label   string
}

func newObserver() *uxObserver {
	return &uxObserver{}
}

func (o *uxObserver) StepStarted(name string) {
	o.label = stepLabel(name)
	if name == workflow.StepAuth {
		ux.Info(o.label)
		return
	}
	o.spinner = ux.NewSpinner(o.label + "...")
	o.spinner.Start()
}

func (o *uxObserver) StepCompleted(name string, d time.Duration) {
	o.stopSpinner()
	ux.Step(stepLabel(name), ux.IconSuccess, formatDuration(d))
}

func (o *uxObserver) StepFailed(name string, err *workflow.StepError) {
	o.stopSpinner()
	ux.Step(stepLabel(name), ux.IconError, string(err.Kind))
}

func (o *uxObserver) StepSkipped(name, reason string) {
	ux.Step(stepLabel(name), ux.IconSkipped, reason)
}

func (o *uxObserver) AuthTransition(_, to auth.State) {
	switch to {
	case auth.StateAwaitingUserLogin:
		ux.Box("Login required",
			"Open the URL printed below in a browser and finish signing in.\n"+
				"This waits for as long as you need. Press Ctrl-C to cancel.")
	case auth.StateVerifying:
		ux.Info("Verifying credentials")
	}
}

func (o *uxObserver) HealthPolled(attempt int, status container.HealthStatus, elapsed time.Duration) {
	if o.spinner == nil {
		return
	}
	o.spinner.UpdateMessage(fmt.Sprintf("%s... %s after %s (poll %d)", o.label, status, formatDuration(elapsed), attempt))
}

// done stops a spinner left running by an interrupted step.
func (o *uxObserver) done() {
	o.stopSpinner()
}

func (o *uxObserver) stopSpinner() {
	if o.spinner != nil {
		o.spinner.Stop()
		o.spinner = nil
	}
}

var _ workflow.Observer = (*uxObserver)(nil)

// =============================================================================
// Report
// =============================================================================

// printReport prints the single terminal message of a deploy run: the
// summary box on success, or the failure with its diagnostic output.
func printReport(r *workflow.Report, cfg *deploy.Config, err error) {
	for _, w := range r.Warnings {
		ux.Warning(w)
	}

	if err != nil {
		printFailure(r, err)
		return
	}

	title := "Bot deployed"
	if r.Outcome == workflow.OutcomeWarning {
		title = "Bot deployed with warnings"
	}
	ux.SummaryBox(title, summaryRows(r, cfg))
	if ux.GetPersonality().ShowHints {
		ux.Muted("Next:")
		ux.Muted(ux.Bullets(nextSteps(cfg)))
	}
	if r.LogTail != "" {
		ux.Box("Recent logs", strings.TrimRight(r.LogTail, "\n"))
	}
}

func printFailure(r *workflow.Report, err error) {
	var serr *workflow.StepError
	if !errors.As(err, &serr) {
		ux.Error(err.Error())
		return
	}

	if serr.Kind == workflow.KindCancelled {
		ux.Warning(fmt.Sprintf("Deployment cancelled during %q", stepLabel(serr.Step)))
		return
	}

	ux.Error(fmt.Sprintf("%s failed: %v", stepLabel(serr.Step), serr.Err))
	if r.Preflight != nil {
		if failed := r.Preflight.Failed(); len(failed) > 0 {
			lines := make([]string, len(failed))
			for i, c := range failed {
				lines[i] = fmt.Sprintf("%s: %v", c.Name, c.Err)
			}
			ux.ErrorBox("Missing prerequisites", ux.Bullets(lines))
		}
	}
	if r.LogTail != "" {
		title := "Recent logs"
		if serr.Step == workflow.StepBuild {
			title = "Build output"
		}
		ux.ErrorBox(title, strings.TrimRight(r.LogTail, "\n"))
	}
	if hint := failureHint(serr); hint != "" {
		ux.Muted(hint)
	}
}

func failureHint(serr *workflow.StepError) string {
	switch serr.Kind {
	case workflow.KindAuthentication:
		return "Run `botdeploy auth` to retry the login, then `botdeploy deploy --skip-build`."
	case workflow.KindBuild:
		return "Fix the build, then re-run `botdeploy deploy`; secrets already written are reused."
	case workflow.KindUnhealthy:
		return "Inspect the container with `botdeploy logs`."
	default:
		return ""
	}
}

// summaryRows are the fixed-format summary lines of a successful run.
func summaryRows(r *workflow.Report, cfg *deploy.Config) []ux.KV {
	names := cfg.Names()
	rows := []ux.KV{
		{Key: "Instance", Value: names.Instance},
		{Key: "Bot", Value: "@" + cfg.BotUsername},
		{Key: "Allowed users", Value: cfg.AllowedUsersLiteral()},
		{Key: "Work directory", Value: cfg.WorkDirectory},
	}
	if r.Build != nil {
		rows = append(rows, ux.KV{Key: "Image", Value: r.Build.ImageTag})
	}
	if r.Launch != nil && r.Launch.ContainerID != "" {
		rows = append(rows, ux.KV{Key: "Container", Value: shortContainerID(r.Launch.ContainerID)})
	}
	if r.Health != nil {
		rows = append(rows, ux.KV{Key: "Health", Value: fmt.Sprintf("%s after %d polls", r.Health.Outcome, r.Health.Polls)})
	}
	rows = append(rows,
		ux.KV{Key: "Duration", Value: formatDuration(r.Duration())},
		ux.KV{Key: "Run", Value: r.RunID},
	)
	return rows
}

func nextSteps(cfg *deploy.Config) []string {
	flag := ""
	if cfg.Name != deploy.DefaultName {
		flag = " --name " + cfg.Name
	}
	return []string{
		fmt.Sprintf("Message @%s on Telegram", cfg.BotUsername),
		"botdeploy status" + flag,
		"botdeploy logs -f" + flag,
		"botdeploy stop" + flag,
	}
}

func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
