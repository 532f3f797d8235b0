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
	"path/filepath"
	"strings"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/config"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/auth"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/deploy"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/workflow"
	"github.com/AleutianAI/botdeploy/pkg/logging"
	"github.com/AleutianAI/botdeploy/pkg/ux"
	"github.com/spf13/cobra"
)

// skipConfigAnnotation marks commands that must run without loading the
// configuration file.
const skipConfigAnnotation = "botdeploy/skip-config"

// app holds what every command shares once flags are parsed.
type app struct {
	cfg     *config.BotDeployConfig
	cfgPath string
	logger  *logging.Logger
	pm      process.Manager
	rt      container.Runtime
}

var cli = &app{}

// setup loads the configuration, applies the global flags and sets up
// logging. Runs as the root PersistentPreRunE.
func (a *app) setup(cmd *cobra.Command) error {
	a.pm = process.NewDefaultManager()

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		a.logger = logging.New(logging.Config{Quiet: true})
		return nil
	}

	cfg, path, err := config.Load(configPath)
	if err != nil {
		return precondition("config", err)
	}
	applyGlobalFlags(cmd, cfg)
	expandPaths(cfg)
	a.cfg, a.cfgPath = cfg, path

	logger, err := newLogger(cfg)
	if err != nil {
		return precondition("config", err)
	}
	a.logger = logger
	a.logger.Debug("configuration loaded", "path", path, "deployment", cfg.Deployment.GetName())
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// runtime returns the container runtime, constructing it on first use.
func (a *app) runtime() (container.Runtime, error) {
	if a.rt != nil {
		return a.rt, nil
	}
	rt, err := container.NewCLIRuntime(container.Config{
		Binary:  a.cfg.Runtime.Binary,
		UseSudo: a.cfg.Runtime.UseSudo,
	}, a.pm, a.logger.Slog())
	if err != nil {
		return nil, precondition("runtime", err)
	}
	a.rt = rt
	return rt, nil
}

// names returns the resource names of the selected deployment.
func (a *app) names() deploy.Names {
	return deploy.NewNames(a.cfg.Deployment.GetName(), a.cfg.StateDir)
}

func applyGlobalFlags(cmd *cobra.Command, cfg *config.BotDeployConfig) {
	if deploymentName != "" {
		cfg.Deployment.Name = deploymentName
	}
	if flagRuntime != "" {
		cfg.Runtime.Binary = flagRuntime
	}
	if cmd.Flags().Changed("sudo") {
		cfg.Runtime.UseSudo = flagSudo
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

// expandPaths resolves a leading ~ in every path setting.
func expandPaths(cfg *config.BotDeployConfig) {
	for _, p := range []*string{
		&cfg.StateDir,
		&cfg.Deployment.WorkDir,
		&cfg.Image.BuildContext,
		&cfg.Image.Dockerfile,
		&cfg.Service.EnvFile,
		&cfg.Logging.Dir,
		&cfg.MetricsFile,
	} {
		*p = expandHome(*p)
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// newLogger writes JSON logs under <state_dir>/logs (or logging.dir). The
// console only gets log records with --verbose; operator output goes
// through ux.
func newLogger(cfg *config.BotDeployConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	dir := cfg.Logging.Dir
	if dir == "" && cfg.StateDir != "" {
		dir = filepath.Join(cfg.StateDir, "logs")
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  dir,
		Service: "botdeploy",
		JSON:    cfg.Logging.JSON,
		Quiet:   !verbose,
		Output:  ux.Stderr(),
	}), nil
}

// parseAuthMode accepts the configured or flagged login mode.
func parseAuthMode(s string) (auth.Mode, error) {
	switch m := auth.Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return auth.ModeAlways, nil
	case auth.ModeAlways, auth.ModeIfNeeded, auth.ModeSkip:
		return m, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q (want always, if-needed or skip)", s)
	}
}

func parseTTYMode(s string) (auth.TTYMode, error) {
	switch m := auth.TTYMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return auth.TTYAuto, nil
	case auth.TTYAuto, auth.TTYAlways, auth.TTYNever:
		return m, nil
	default:
		return "", fmt.Errorf("unknown tty mode %q (want auto, always or never)", s)
	}
}

func precondition(step string, err error) error {
	return &workflow.StepError{Step: step, Kind: workflow.KindPrecondition, Err: err}
}

func flagError(cmd *cobra.Command, err error) error {
	return precondition("flags", fmt.Errorf("%w (see %s --help)", err, cmd.CommandPath()))
}
