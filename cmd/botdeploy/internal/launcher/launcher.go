// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package launcher replaces the singleton bot instance of a deployment.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/deploy"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/util"
)

// Environment variables read by the bot.
const (
	EnvBotToken          = "TELEGRAM_BOT_TOKEN"
	EnvBotUsername       = "TELEGRAM_BOT_USERNAME"
	EnvAllowedUsers      = "ALLOWED_USERS"
	EnvApprovedDirectory = "APPROVED_DIRECTORY"
	EnvDatabaseURL       = "DATABASE_URL"
)

// Default mount points inside the image.
const (
	DefaultAuthMountPath = "/home/botuser/.claude"
	DefaultDataMountPath = "/app/data"
	DefaultRestartPolicy = "on-failure"
)

// ErrLaunch wraps failures to start the new instance.
var ErrLaunch = errors.New("launch instance")

// =============================================================================
// Teardown
// =============================================================================

// TeardownOutcome is the result of removing a previous instance.
type TeardownOutcome int

const (
	// Removed: an instance existed and is gone.
	Removed TeardownOutcome = iota
	// AlreadyAbsent: there was nothing to remove.
	AlreadyAbsent
	// RemovalFailed: removal was attempted and failed. Not fatal; a
	// subsequent start under the same name will fail loudly instead.
	RemovalFailed
)

// String returns the outcome name.
func (o TeardownOutcome) String() string {
	switch o {
	case Removed:
		return "removed"
	case AlreadyAbsent:
		return "already-absent"
	case RemovalFailed:
		return "removal-failed"
	default:
		return fmt.Sprintf("teardown(%d)", int(o))
	}
}

// TeardownResult carries the outcome and, for RemovalFailed, the cause.
type TeardownResult struct {
	Outcome TeardownOutcome
	Err     error
}

// =============================================================================
// Launcher
// =============================================================================

// Options configure how instances are started.
type Options struct {
	RestartPolicy string
	AuthMountPath string
	DataMountPath string
	// SandboxPath is where WorkDirectory appears inside the container.
	SandboxPath string

	// ExtraEnv and EnvFile add bot tuning variables. Identity variables
	// always take precedence over both.
	ExtraEnv map[string]string
	EnvFile  string

	// Labels are added to the instance. They cannot replace the
	// deployment label.
	Labels map[string]string
}

// LaunchResult describes a started instance.
type LaunchResult struct {
	Teardown    TeardownResult
	ContainerID string
	// Env is the redacted environment passed to the instance.
	Env []string
	// Shadowed lists extra variables ignored because an identity variable
	// of the same name wins.
	Shadowed []string
}

// Launcher stops, removes and starts the singleton instance.
type Launcher struct {
	runtime container.Runtime
	opts    Options
	logger  *slog.Logger
}

// New creates a Launcher.
func New(rt container.Runtime, opts Options, logger *slog.Logger) *Launcher {
	if opts.RestartPolicy == "" {
		opts.RestartPolicy = DefaultRestartPolicy
	}
	if opts.AuthMountPath == "" {
		opts.AuthMountPath = DefaultAuthMountPath
	}
	if opts.DataMountPath == "" {
		opts.DataMountPath = DefaultDataMountPath
	}
	if opts.SandboxPath == "" {
		opts.SandboxPath = deploy.SandboxDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{runtime: rt, opts: opts, logger: logger}
}

// Teardown stops and removes the named instance if present.
//
// # Description
//
// Never returns an error. "Already absent" is the common case on a first
// deploy and is not a failure. RemovalFailed is surfaced for diagnostics
// only.
func (l *Launcher) Teardown(ctx context.Context, name string) TeardownResult {
	stopErr := l.runtime.Stop(ctx, name)
	if errors.Is(stopErr, container.ErrNoSuchContainer) {
		return TeardownResult{Outcome: AlreadyAbsent}
	}
	if stopErr != nil {
		l.logger.Debug("stop failed, forcing removal", "instance", name, "error", stopErr)
	}

	err := l.runtime.Remove(ctx, name, true)
	switch {
	case err == nil:
		l.logger.Info("previous instance removed", "instance", name)
		return TeardownResult{Outcome: Removed}
	case errors.Is(err, container.ErrNoSuchContainer):
		return TeardownResult{Outcome: AlreadyAbsent}
	default:
		l.logger.Warn("could not remove previous instance", "instance", name, "error", err)
		return TeardownResult{Outcome: RemovalFailed, Err: err}
	}
}

// Launch replaces the deployment's instance with a new one.
//
// # Description
//
// Tears down any existing instance, makes sure both volumes and the host
// working directory exist, then starts one detached instance with the
// restart policy, environment and three mounts. It does not wait for the
// instance to become healthy.
//
// # Inputs
//
//   - ctx: cancellation
//   - cfg: validated deployment configuration
//
// # Outputs
//
//   - *LaunchResult: teardown outcome, container ID, redacted environment
//   - error: wraps ErrLaunch; fatal for the workflow
func (l *Launcher) Launch(ctx context.Context, cfg *deploy.Config) (*LaunchResult, error) {
	names := cfg.Names()
	res := &LaunchResult{}

	env, shadowed, err := l.Environment(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	res.Shadowed = shadowed
	for _, key := range shadowed {
		l.logger.Warn("extra environment variable ignored", "key", key)
	}
	res.Env = env.RedactedSlice()

	res.Teardown = l.Teardown(ctx, names.Instance)

	for _, vol := range []string{names.AuthVolume, names.DataVolume} {
		if err := l.runtime.EnsureVolume(ctx, vol); err != nil {
			return res, fmt.Errorf("%w: volume %s: %w", ErrLaunch, vol, err)
		}
	}
	if err := os.MkdirAll(cfg.WorkDirectory, 0o755); err != nil {
		return res, fmt.Errorf("%w: create work directory: %w", ErrLaunch, err)
	}

	id, err := l.runtime.RunDetached(ctx, container.RunOptions{
		Name:          names.Instance,
		Image:         names.Image,
		RestartPolicy: l.opts.RestartPolicy,
		Env:           env,
		Mounts: []container.Mount{
			{Source: names.AuthVolume, Target: l.opts.AuthMountPath},
			{Source: names.DataVolume, Target: l.opts.DataMountPath},
			{Source: cfg.WorkDirectory, Target: l.opts.SandboxPath},
		},
		Labels: l.labels(names),
	})
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	res.ContainerID = id

	l.logger.Info("instance started", "instance", names.Instance, "id", shortID(id), "env", res.Env)
	return res, nil
}

// Environment builds the instance environment.
//
// Identity variables are set first; extras from ExtraEnv, then EnvFile, are
// added only where no variable of that name exists yet. DATABASE_URL
// defaults to a SQLite file on the data volume.
func (l *Launcher) Environment(cfg *deploy.Config) (*util.EnvVars, []string, error) {
	env := util.NewEnvVars()
	identity := []struct {
		key, value string
		sensitive  bool
	}{
		{EnvBotToken, cfg.BotToken, true},
		{EnvBotUsername, cfg.BotUsername, false},
		{EnvAllowedUsers, cfg.AllowedUsersLiteral(), false},
		{EnvApprovedDirectory, l.opts.SandboxPath, false},
	}
	for _, v := range identity {
		if err := env.Set(v.key, v.value, v.sensitive); err != nil {
			return nil, nil, err
		}
	}

	shadowed, err := env.SetAllDefaults(l.opts.ExtraEnv)
	if err != nil {
		return nil, nil, err
	}

	if l.opts.EnvFile != "" {
		fileEnv, err := godotenv.Read(l.opts.EnvFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read env file %s: %w", l.opts.EnvFile, err)
		}
		more, err := env.SetAllDefaults(fileEnv)
		if err != nil {
			return nil, nil, fmt.Errorf("env file %s: %w", l.opts.EnvFile, err)
		}
		for _, k := range more {
			if isIdentity(k) {
				shadowed = append(shadowed, k)
			}
		}
	}

	if _, err := env.SetDefault(EnvDatabaseURL, "sqlite:///"+l.opts.DataMountPath+"/telegram_bot.db"); err != nil {
		return nil, nil, err
	}
	return env, shadowed, nil
}

// DeploymentLabel carries the deployment name on every instance.
const DeploymentLabel = "io.botdeploy.deployment"

func (l *Launcher) labels(names deploy.Names) map[string]string {
	labels := make(map[string]string, len(l.opts.Labels)+1)
	for k, v := range l.opts.Labels {
		labels[k] = v
	}
	labels[DeploymentLabel] = names.Deployment
	return labels
}

func isIdentity(key string) bool {
	switch key {
	case EnvBotToken, EnvBotUsername, EnvAllowedUsers, EnvApprovedDirectory:
		return true
	}
	return false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
