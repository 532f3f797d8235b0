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

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/workflow"
	"github.com/AleutianAI/botdeploy/pkg/ux"
	"github.com/spf13/cobra"
)

// runAuth runs only the credential bootstrap. The image must already exist.
func runAuth(cmd *cobra.Command, _ []string) error {
	cfg := cli.cfg
	if cmd.Flags().Changed("auth-mode") {
		cfg.Auth.Mode = flagAuthMode
	}
	opts, err := deployOptions(cfg)
	if err != nil {
		return precondition(workflow.StepAuth, err)
	}
	rt, err := cli.runtime()
	if err != nil {
		return err
	}

	names := cli.names()
	d := workflow.NewDeployer(workflow.Dependencies{
		Runtime:  rt,
		Process:  cli.pm,
		Streams:  process.TerminalStreams(),
		Observer: newObserver(),
		Logger:   cli.logger.Slog(),
	}, opts)

	ux.Title(fmt.Sprintf("%s Authenticating %s", ux.IconAnchor, names.Deployment))
	res, err := d.Authenticate(cmd.Context(), names, opts.Auth.Mode)
	if err != nil {
		printFailure(&workflow.Report{}, err)
		return reportedError{err}
	}

	switch {
	case res.Skipped:
		ux.Warning("Login skipped (auth mode \"skip\"); the existing credentials are used as-is")
	case res.Reused:
		ux.Success(fmt.Sprintf("Existing credentials in %s are valid, no login needed", names.AuthVolume))
	default:
		ux.Success(fmt.Sprintf("Credentials stored in volume %s", names.AuthVolume))
	}
	return nil
}
