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
	"github.com/AleutianAI/botdeploy/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Flags ---
var (
	configPath       string
	deploymentName   string
	logLevel         string
	verbose          bool
	personalityLevel string // UX personality level (full/standard/minimal/machine)
)

// --- Deploy / Auth Flags ---
var (
	flagToken      string
	flagUsername   string
	flagUserIDs    []string
	flagWorkDir    string
	flagTimeout    int
	flagSkipBuild  bool
	flagSkipVerify bool
	flagAuthMode   string
	flagNoPrompt   bool
	flagNoLock     bool
	flagRuntime    string
	flagSudo       bool
)

// --- Status / Logs / History Flags ---
var (
	logsTail     int
	logsFollow   bool
	historyLimit int
)

var (
	rootCmd = &cobra.Command{
		Use:   "botdeploy",
		Short: "Deploy the Claude Telegram bot as a container on this host",
		Long: `botdeploy builds the bot image, provisions its secrets, runs the
assistant CLI login once, starts the bot container and waits for it
to report healthy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ux.InitPersonality(personalityLevel)
			return cli.setup(cmd)
		},
	}

	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Build, authenticate, launch and health-check the bot",
		Example: `  botdeploy deploy --token 123456:ABC --username demo_bot --user-id 42
  botdeploy deploy --user-id 42 --user-id 7 --work-dir ~/projects
  botdeploy deploy --skip-build --auth-mode if-needed`,
		Args: cobra.NoArgs,
		RunE: runDeploy, // Defined in cmd_deploy.go
	}

	authCmd = &cobra.Command{
		Use:   "auth",
		Short: "Run only the interactive assistant CLI login",
		Args:  cobra.NoArgs,
		RunE:  runAuth, // Defined in cmd_auth.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the bot container's state and health",
		Args:  cobra.NoArgs,
		RunE:  runStatus, // Defined in cmd_status.go
	}

	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Show recent bot container logs",
		Args:  cobra.NoArgs,
		RunE:  runLogs, // Defined in cmd_status.go
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop and remove the bot container",
		Args:  cobra.NoArgs,
		RunE:  runStop, // Defined in cmd_status.go
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent deployment runs",
		Args:  cobra.NoArgs,
		RunE:  runHistory, // Defined in cmd_history.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	configInitCmd = &cobra.Command{
		Use:         "init",
		Short:       "Write the default configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit, // Defined in cmd_config.go
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (token redacted)",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow, // Defined in cmd_config.go
	}
)

var configInitForce bool

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.botdeploy/config.yaml)")
	pf.StringVar(&deploymentName, "name", "", "deployment name; derives container, image, volume and secrets names")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVarP(&verbose, "verbose", "v", false, "print structured logs to stderr")
	pf.StringVar(&personalityLevel, "personality", "", "output style: full, standard, minimal, machine")
	pf.StringVar(&flagRuntime, "runtime", "", "container runtime binary: docker or podman")
	pf.BoolVar(&flagSudo, "sudo", false, "prefix runtime commands with sudo")

	addDeployFlags(deployCmd)
	authCmd.Flags().StringVar(&flagAuthMode, "auth-mode", "", "login mode: always, if-needed, skip")

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "stream new log lines")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of runs to show")

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(deployCmd, authCmd, statusCmd, logsCmd, stopCmd, historyCmd, configCmd)
	rootCmd.SetFlagErrorFunc(flagError)
}

// addDeployFlags registers the deploy flags on c, resetting their values.
func addDeployFlags(c *cobra.Command) {
	df := c.Flags()
	df.StringVar(&flagToken, "token", "", "Telegram bot token (or BOTDEPLOY_TOKEN)")
	df.StringVar(&flagUsername, "username", "", "Telegram bot username")
	df.StringSliceVar(&flagUserIDs, "user-id", nil, "allowed Telegram user ID; repeat or comma-separate for several")
	df.StringVar(&flagWorkDir, "work-dir", "", "host directory the bot may read and write (default ~/claude-projects)")
	df.IntVar(&flagTimeout, "timeout", 0, "seconds to wait for the container to report healthy")
	df.BoolVar(&flagSkipBuild, "skip-build", false, "reuse the existing image")
	df.BoolVar(&flagSkipVerify, "skip-verify", false, "skip the post-build dependency check")
	df.StringVar(&flagAuthMode, "auth-mode", "", "login mode: always, if-needed, skip")
	df.BoolVar(&flagNoPrompt, "no-prompt", false, "never prompt for missing values")
	df.BoolVar(&flagNoLock, "no-lock", false, "do not take the deployment lock")
}
