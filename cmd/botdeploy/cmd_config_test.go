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
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/workflow"
)

func configInitCommand(t *testing.T, path string, force bool) *cobra.Command {
	t.Helper()
	prevPath, prevForce := configPath, configInitForce
	configPath, configInitForce = path, force
	t.Cleanup(func() { configPath, configInitForce = prevPath, prevForce })

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestRunConfigInit_WritesDefaults(t *testing.T) {
	out, _ := machineOutput(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, runConfigInit(configInitCommand(t, path, false), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "binary: docker")
	assert.NotContains(t, string(data), "token:")
	assert.Contains(t, out.String(), "OK: Write "+path)
}

func TestRunConfigInit_ExistingFileNeedsForce(t *testing.T) {
	machineOutput(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state_dir: /srv/bot\n"), 0o644))

	err := runConfigInit(configInitCommand(t, path, false), nil)
	require.Error(t, err)
	assert.Equal(t, workflow.ExitPrecondition, workflow.ExitCode(err))
	assert.Contains(t, err.Error(), "--force")

	data, _ := os.ReadFile(path)
	assert.Equal(t, "state_dir: /srv/bot\n", string(data), "file must be left untouched")

	require.NoError(t, runConfigInit(configInitCommand(t, path, true), nil))
	data, _ = os.ReadFile(path)
	assert.Contains(t, string(data), "binary: docker")
}

func TestRuntimeOptions_RecommendsDefault(t *testing.T) {
	opts := runtimeOptions()
	require.Len(t, opts, 2)
	assert.True(t, opts[0].Recommended)
	assert.Equal(t, "docker", opts[0].Value)
	assert.False(t, opts[1].Recommended)
}
