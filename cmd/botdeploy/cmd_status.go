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

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/history"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/launcher"
	"github.com/AleutianAI/botdeploy/pkg/ux"
	"github.com/spf13/cobra"
)

// instanceStatus is what `botdeploy status` reports.
type instanceStatus struct {
	Instance string
	State    string
	Health   container.HealthStatus
	LastRun  *history.Run
}

// queryStatus inspects the instance. A missing container is reported as
// state "absent", not as an error.
func queryStatus(ctx context.Context, rt container.Runtime, instance string) (instanceStatus, error) {
	st := instanceStatus{Instance: instance}
	state, err := rt.State(ctx, instance)
	if errors.Is(err, container.ErrNoSuchContainer) {
		st.State = "absent"
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.State = state

	if st.Health, err = rt.Health(ctx, instance); err != nil {
		return st, err
	}
	return st, nil
}

func (s instanceStatus) rows() []ux.KV {
	rows := []ux.KV{
		{Key: "Instance", Value: s.Instance},
		{Key: "State", Value: s.State},
	}
	if s.Health != "" {
		rows = append(rows, ux.KV{Key: "Health", Value: string(s.Health)})
	}
	if r := s.LastRun; r != nil {
		last := fmt.Sprintf("%s at %s (%s)", r.Outcome, r.FinishedAt.Local().Format("2006-01-02 15:04:05"), formatDuration(r.Duration()))
		if r.FailedStep != "" {
			last += ", failed at " + r.FailedStep
		}
		rows = append(rows, ux.KV{Key: "Last deploy", Value: last})
	}
	return rows
}

func runStatus(cmd *cobra.Command, _ []string) error {
	rt, err := cli.runtime()
	if err != nil {
		return err
	}
	names := cli.names()

	st, err := queryStatus(cmd.Context(), rt, names.Instance)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", names.Instance, err)
	}

	if hist := openHistory(cli.cfg); hist != nil {
		if last, err := hist.Last(cmd.Context(), names.Deployment); err == nil {
			st.LastRun = last
		}
		hist.Close()
	}

	ux.SummaryBox("Status", st.rows())
	switch {
	case st.State == "absent":
		ux.Muted("Not deployed. Run `botdeploy deploy` to start it.")
	case st.Health == container.HealthUnhealthy:
		ux.Warning(fmt.Sprintf("%s reports unhealthy; see `botdeploy logs`", names.Instance))
	}
	return nil
}

func runLogs(cmd *cobra.Command, _ []string) error {
	rt, err := cli.runtime()
	if err != nil {
		return err
	}
	instance := cli.names().Instance
	ctx := cmd.Context()

	if logsFollow {
		err := rt.FollowLogs(ctx, instance, logsTail, process.Streams{Stdout: ux.Stdout(), Stderr: ux.Stderr()})
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	out, err := rt.Logs(ctx, instance, logsTail)
	if errors.Is(err, container.ErrNoSuchContainer) {
		return fmt.Errorf("%s is not deployed", instance)
	}
	if err != nil {
		return err
	}
	fmt.Fprint(ux.Stdout(), out)
	return nil
}

// runStop tears the instance down under the deployment lock and reports
// the tri-state result.
func runStop(cmd *cobra.Command, _ []string) error {
	rt, err := cli.runtime()
	if err != nil {
		return err
	}
	names := cli.names()

	lock := process.NewLock(names.LockDir, names.Deployment)
	if err := lock.Acquire(); err != nil {
		return precondition("lock", err)
	}
	defer lock.Release()

	spin := ux.NewSpinner(fmt.Sprintf("Stopping %s", names.Instance))
	spin.Start()
	res := launcher.New(rt, launcher.Options{}, cli.logger.Slog()).Teardown(cmd.Context(), names.Instance)
	spin.Stop()

	switch res.Outcome {
	case launcher.Removed:
		ux.Success(fmt.Sprintf("Stopped and removed %s", names.Instance))
	case launcher.AlreadyAbsent:
		ux.Info(fmt.Sprintf("%s was not running", names.Instance))
	default:
		return fmt.Errorf("could not remove %s: %w", names.Instance, res.Err)
	}
	return nil
}
