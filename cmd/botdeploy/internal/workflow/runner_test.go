// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
)

// =============================================================================
// Runner
// =============================================================================

func okStep(name string, ran *[]string) Step {
	return Step{Name: name, Kind: KindBuild, Run: func(context.Context) error {
		*ran = append(*ran, name)
		return nil
	}}
}

func TestRunner_StopsAtFirstFailure(t *testing.T) {
	var ran []string
	var failed []string
	r := NewRunner(RunnerConfig{
		OnStepFail: func(s Step, err *StepError) { failed = append(failed, s.Name) },
	})

	boom := errors.New("boom")
	timings, err := r.Execute(context.Background(), []Step{
		okStep("one", &ran),
		{Name: "two", Kind: KindLaunch, Run: func(context.Context) error { return boom }},
		okStep("three", &ran),
	})

	require.Error(t, err)
	assert.Equal(t, []string{"one"}, ran)
	assert.Equal(t, []string{"two"}, failed)
	require.Len(t, timings, 2)
	assert.Equal(t, StatusOK, timings[0].Status)
	assert.Equal(t, StatusFailed, timings[1].Status)

	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "two", serr.Step)
	assert.Equal(t, KindLaunch, serr.Kind)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "two: boom", err.Error())
}

func TestRunner_KeepsStepErrorFromStep(t *testing.T) {
	r := NewRunner(RunnerConfig{})
	_, err := r.Execute(context.Background(), []Step{{
		Name: "auth",
		Kind: KindAuthentication,
		Run: func(context.Context) error {
			return &StepError{Step: "auth", Kind: KindCancelled, Err: errors.New("interrupted")}
		},
	}})
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran []string
	r := NewRunner(RunnerConfig{})
	timings, err := r.Execute(ctx, []Step{okStep("one", &ran)})

	assert.Empty(t, ran)
	assert.Empty(t, timings)
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestRunner_CancelledDuringStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(RunnerConfig{})
	_, err := r.Execute(ctx, []Step{{
		Name: "auth",
		Kind: KindAuthentication,
		Run: func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		},
	}})
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestRunner_StepTimeout(t *testing.T) {
	r := NewRunner(RunnerConfig{})
	_, err := r.Execute(context.Background(), []Step{{
		Name:    "launch",
		Kind:    KindLaunch,
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}})
	require.Error(t, err)
	assert.Equal(t, KindLaunch, KindOf(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunner_Skip(t *testing.T) {
	var ran, skipped []string
	r := NewRunner(RunnerConfig{OnStepSkip: func(s Step) { skipped = append(skipped, s.Name) }})

	step := okStep("source", &ran)
	step.SkipReason = "no repository configured"
	timings, err := r.Execute(context.Background(), []Step{step, okStep("build", &ran)})

	require.NoError(t, err)
	assert.Equal(t, []string{"build"}, ran)
	assert.Equal(t, []string{"source"}, skipped)
	assert.Equal(t, StatusSkipped, timings[0].Status)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindPrecondition, ExitPrecondition},
		{KindSecrets, ExitSecrets},
		{KindBuild, ExitBuild},
		{KindAuthentication, ExitAuthentication},
		{KindLaunch, ExitLaunch},
		{KindUnhealthy, ExitUnhealthy},
		{KindCancelled, ExitCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &StepError{Step: "x", Kind: tt.kind, Err: errors.New("e")})
			assert.Equal(t, tt.want, ExitCode(err))
		})
	}
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitOther, ExitCode(errors.New("plain")))
}

// =============================================================================
// Preflight
// =============================================================================

func TestPreflight_AllPass(t *testing.T) {
	rt := &container.MockRuntime{}
	pm := &process.MockManager{}

	report, err := Preflight(context.Background(), rt, pm, PreflightInput{
		BuildContext:  t.TempDir(),
		WorkDirectory: filepath.Join(t.TempDir(), "projects"),
	})
	require.NoError(t, err)
	assert.Equal(t, "27.0.0", report.RuntimeVersion)
	assert.Len(t, report.Checks, 3)
	assert.Empty(t, report.Failed())
	assert.Empty(t, pm.Calls(), "git is not needed without a repository")
}

func TestPreflight_ReportsEveryFailure(t *testing.T) {
	rt := &container.MockRuntime{
		VersionFunc: func(context.Context) (string, error) {
			return "", errors.New("Cannot connect to the Docker daemon")
		},
	}
	workFile := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(workFile, nil, 0o600))

	report, err := Preflight(context.Background(), rt, &process.MockManager{}, PreflightInput{
		BuildContext:  filepath.Join(t.TempDir(), "missing"),
		WorkDirectory: workFile,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Len(t, report.Failed(), 3)
	assert.Contains(t, err.Error(), "docker is not available")
	assert.Contains(t, err.Error(), "build context")
	assert.Contains(t, err.Error(), "not a directory")
}

func TestPreflight_RepoNeedsGit(t *testing.T) {
	pm := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			return "", "", -1, errors.New(`exec: "git": executable file not found in $PATH`)
		},
	}
	_, err := Preflight(context.Background(), &container.MockRuntime{}, pm, PreflightInput{
		BuildContext:  filepath.Join(t.TempDir(), "src"),
		Repo:          "https://github.com/example/claude-code-telegram",
		WorkDirectory: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git is required")
	assert.NotContains(t, err.Error(), "build context", "a missing context is cloned")

	calls := pm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "git", calls[0].Name)
}
