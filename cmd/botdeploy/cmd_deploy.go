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
	"strings"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/config"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/auth"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/deploy"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/history"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/image"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/launcher"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/metrics"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/secrets"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/workflow"
	"github.com/AleutianAI/botdeploy/pkg/ux"
	"github.com/spf13/cobra"
)

// secretLoader reads previously provisioned secrets.
type secretLoader interface {
	Load() (*secrets.Secrets, error)
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := cli.cfg

	if err := applyDeployFlags(cmd, cfg); err != nil {
		return precondition(workflow.StepValidate, err)
	}

	var prompter Prompter
	if !flagNoPrompt && ux.IsInteractive() {
		prompter = terminalPrompter{}
	}
	store := secrets.NewStore(cli.names().SecretsDir, cli.logger.Slog())
	if err := resolveIdentity(ctx, cfg, store, prompter); err != nil {
		return err
	}

	opts, err := deployOptions(cfg)
	if err != nil {
		return precondition(workflow.StepValidate, err)
	}
	rt, err := cli.runtime()
	if err != nil {
		return err
	}

	hist := openHistory(cfg)
	if hist != nil {
		defer hist.Close()
	}
	obs := newObserver()

	deps := workflow.Dependencies{
		Runtime:  rt,
		Process:  cli.pm,
		Streams:  process.TerminalStreams(),
		Metrics:  newMetricsRecorder(cfg),
		Observer: obs,
		Logger:   cli.logger.Slog(),
	}
	if hist != nil {
		deps.History = hist
	}

	dc := deployConfig(cfg)
	ux.Title(fmt.Sprintf("%s Deploying %s", ux.IconAnchor, dc.Name))

	report, err := workflow.NewDeployer(deps, opts).Run(ctx, dc)
	obs.done()
	printReport(report, dc, err)
	if err != nil {
		return reportedError{err}
	}
	return nil
}

// applyDeployFlags layers explicitly set deploy flags over cfg.
func applyDeployFlags(cmd *cobra.Command, cfg *config.BotDeployConfig) error {
	f := cmd.Flags()
	if f.Changed("token") {
		cfg.Deployment.Token = flagToken
	}
	if f.Changed("username") {
		cfg.Deployment.Username = flagUsername
	}
	if f.Changed("user-id") {
		ids, err := deploy.ParseUserIDs(flagUserIDs)
		if err != nil {
			return err
		}
		cfg.Deployment.UserIDs = ids
	}
	if f.Changed("work-dir") {
		cfg.Deployment.WorkDir = expandHome(flagWorkDir)
	}
	if f.Changed("timeout") {
		cfg.Deployment.TimeoutSeconds = flagTimeout
		if flagTimeout <= 0 {
			return fmt.Errorf("--timeout must be positive, got %d", flagTimeout)
		}
	}
	if f.Changed("auth-mode") {
		cfg.Auth.Mode = flagAuthMode
	}
	if f.Changed("skip-verify") {
		cfg.Image.SkipVerify = flagSkipVerify
	}
	return nil
}

// resolveIdentity fills the token, username and allowed users that flags,
// environment and config left empty: first from the secret store of a
// previous run, then by prompting when p is non-nil. Whatever is still
// missing is reported by validation.
func resolveIdentity(ctx context.Context, cfg *config.BotDeployConfig, store secretLoader, p Prompter) error {
	d := &cfg.Deployment
	if d.Token != "" && d.Username != "" && len(d.UserIDs) > 0 {
		return nil
	}

	stored, err := store.Load()
	switch {
	case errors.Is(err, secrets.ErrNotProvisioned):
	case err != nil:
		cli.logger.Warn("could not read stored secrets", "error", err)
	default:
		if d.Token == "" {
			d.Token = stored.BotToken
		}
		if d.Username == "" {
			d.Username = stored.BotUsername
		}
		if len(d.UserIDs) == 0 {
			d.UserIDs = stored.AllowedUserIDs
		}
	}

	if p == nil {
		return nil
	}
	if d.Token == "" {
		if d.Token, err = p.Token(ctx); err != nil {
			return err
		}
	}
	if d.Username == "" {
		if d.Username, err = p.Username(ctx); err != nil {
			return err
		}
	}
	if len(d.UserIDs) == 0 {
		if d.UserIDs, err = p.UserIDs(ctx); err != nil {
			return err
		}
	}
	return nil
}

// deployConfig builds the validated-once deployment config from cfg.
func deployConfig(cfg *config.BotDeployConfig) *deploy.Config {
	return &deploy.Config{
		Name:           cfg.Deployment.GetName(),
		BotToken:       cfg.Deployment.Token,
		BotUsername:    cfg.Deployment.Username,
		AllowedUserIDs: cfg.Deployment.UserIDs,
		WorkDirectory:  cfg.Deployment.WorkDir,
		TimeoutSeconds: cfg.Deployment.GetTimeoutSeconds(),
		StateDir:       cfg.StateDir,
	}
}

// deployOptions maps the file config onto workflow options.
func deployOptions(cfg *config.BotDeployConfig) (workflow.Options, error) {
	mode, err := parseAuthMode(cfg.Auth.Mode)
	if err != nil {
		return workflow.Options{}, err
	}
	tty, err := parseTTYMode(cfg.Runtime.TTY)
	if err != nil {
		return workflow.Options{}, err
	}
	labels, err := parseLabels(cfg.Service.Labels)
	if err != nil {
		return workflow.Options{}, err
	}

	return workflow.Options{
		Source: image.Source{Repo: cfg.Image.Repo, Ref: cfg.Image.Ref},
		Build: image.Spec{
			ContextDir: cfg.Image.BuildContext,
			Dockerfile: cfg.Image.Dockerfile,
			Tags:       cfg.Image.Tags,
			BuildArgs:  cfg.Image.BuildArgs,
			Pull:       cfg.Image.Pull,
		},
		VerifyCommand: cfg.Image.VerifyCommand,
		SkipBuild:     flagSkipBuild,
		SkipVerify:    cfg.Image.SkipVerify,
		Auth: auth.Config{
			CLI:             cfg.Auth.CLI,
			LoginArgs:       cfg.Auth.LoginArgs,
			StatusArgs:      cfg.Auth.StatusArgs,
			CredentialsPath: cfg.Auth.CredentialsPath,
			Mode:            mode,
			TTY:             tty,
		},
		Launch: launcher.Options{
			RestartPolicy: cfg.Service.RestartPolicy,
			AuthMountPath: cfg.Service.AuthMountPath,
			DataMountPath: cfg.Service.DataMountPath,
			SandboxPath:   cfg.Service.SandboxPath,
			ExtraEnv:      cfg.Service.Env,
			EnvFile:       cfg.Service.EnvFile,
			Labels:        labels,
		},
		HealthInterval: cfg.Health.GetInterval(),
		LogTail:        cfg.Service.LogTail,
		NoLock:         flagNoLock,
	}, nil
}

// parseLabels turns "key=value" entries into a label map.
func parseLabels(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid service label %q: want key=value", e)
		}
		labels[k] = v
	}
	return labels, nil
}

// openHistory opens the run history. A history that cannot be opened only
// costs the record of this run.
func openHistory(cfg *config.BotDeployConfig) *history.Store {
	s, err := history.Open(history.Config{
		Path:    cfg.HistoryDir(),
		MaxRuns: cfg.History.MaxRuns,
		Logger:  cli.logger.Slog(),
	})
	if err != nil {
		cli.logger.Warn("run history unavailable", "error", err)
		return nil
	}
	return s
}

func newMetricsRecorder(cfg *config.BotDeployConfig) metrics.Recorder {
	if cfg.MetricsFile == "" {
		return metrics.NoOpRecorder{}
	}
	r, err := metrics.NewTextfileRecorder(cfg.MetricsFile)
	if err != nil {
		cli.logger.Warn("metrics disabled", "error", err)
		return metrics.NoOpRecorder{}
	}
	return r
}
