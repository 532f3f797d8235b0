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
	"os"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/config"
	"github.com/AleutianAI/botdeploy/pkg/ux"
	"github.com/spf13/cobra"
)

// runConfigInit writes a default configuration file. On a terminal it asks
// before overwriting and lets the operator pick the container runtime.
func runConfigInit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	interactive := ux.IsInteractive()
	if _, err := os.Stat(path); err == nil && !configInitForce {
		if !interactive {
			return precondition("config", fmt.Errorf("%s already exists (use --force to overwrite)", path))
		}
		overwrite, err := ux.AskConfirm(ctx, fmt.Sprintf("%s already exists. Overwrite it?", path), false)
		if err != nil {
			return promptError(err)
		}
		if !overwrite {
			ux.Info("Kept the existing configuration")
			return nil
		}
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := config.DefaultConfig()
	if interactive {
		binary, err := ux.AskSelect(ctx, "Container runtime", runtimeOptions())
		if err != nil {
			return promptError(err)
		}
		cfg.Runtime.Binary = binary
	}

	return ux.WithSpinner("Write "+path, func() error {
		return config.Write(path, cfg)
	})
}

func runtimeOptions() []ux.PromptOption {
	return []ux.PromptOption{
		{Label: "docker", Value: "docker", Description: "Docker Engine", Recommended: config.DefaultRuntime == "docker"},
		{Label: "podman", Value: "podman", Description: "daemonless, rootless by default"},
	}
}

// runConfigShow prints the merged configuration with the token redacted.
func runConfigShow(_ *cobra.Command, _ []string) error {
	data, err := config.Marshal(*cli.cfg)
	if err != nil {
		return err
	}
	ux.Muted("# " + cli.cfgPath)
	fmt.Fprint(ux.Stdout(), string(data))
	return nil
}
