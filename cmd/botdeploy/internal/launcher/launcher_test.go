// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/deploy"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/util"
)

func testConfig(t *testing.T) *deploy.Config {
	t.Helper()
	return &deploy.Config{
		Name:           "telegram-bot",
		BotToken:       "123456:ABC",
		BotUsername:    "demo_bot",
		AllowedUserIDs: []int64{42},
		WorkDirectory:  filepath.Join(t.TempDir(), "projects"),
		TimeoutSeconds: 60,
		StateDir:       t.TempDir(),
	}
}

var errAbsent = fmt.Errorf("%w: gone", container.ErrNoSuchContainer)

// fakeInstances models the runtime's set of named containers.
type fakeInstances struct {
	running map[string]bool
}

func (f *fakeInstances) runtime() *container.MockRuntime {
	return &container.MockRuntime{
		StopFunc: func(ctx context.Context, name string) error {
			if !f.running[name] {
				return errAbsent
			}
			return nil
		},
		RemoveFunc: func(ctx context.Context, name string, force bool) error {
			if !f.running[name] {
				return errAbsent
			}
			delete(f.running, name)
			return nil
		},
		RunDetachedFunc: func(ctx context.Context, opts container.RunOptions) (string, error) {
			if f.running[opts.Name] {
				return "", errors.New("name already in use")
			}
			f.running[opts.Name] = true
			return "abcdef0123456789", nil
		},
	}
}

func TestLauncher_Launch_ScenarioA(t *testing.T) {
	rt := &container.MockRuntime{}
	l := New(rt, Options{}, nil)
	cfg := testConfig(t)

	res, err := l.Launch(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "0123456789ab", res.ContainerID)

	runs := rt.RunOptions()
	require.Len(t, runs, 1)
	opts := runs[0]
	assert.Equal(t, "telegram-bot", opts.Name)
	assert.Equal(t, "telegram-bot:latest", opts.Image)
	assert.Equal(t, "on-failure", opts.RestartPolicy)
	assert.Equal(t, "[42]", opts.Env.Get(EnvAllowedUsers))
	assert.Equal(t, "123456:ABC", opts.Env.Get(EnvBotToken))
	assert.Equal(t, "demo_bot", opts.Env.Get(EnvBotUsername))
	assert.Equal(t, "/workspace", opts.Env.Get(EnvApprovedDirectory))
	assert.Equal(t, []container.Mount{
		{Source: "telegram-bot-auth", Target: DefaultAuthMountPath},
		{Source: "telegram-bot-data", Target: DefaultDataMountPath},
		{Source: cfg.WorkDirectory, Target: "/workspace"},
	}, opts.Mounts)

	assert.Equal(t, map[string]string{DeploymentLabel: "telegram-bot"}, opts.Labels)

	assert.Contains(t, res.Env, "TELEGRAM_BOT_TOKEN=[REDACTED]")
	assert.DirExists(t, cfg.WorkDirectory)
}

func TestLauncher_Launch_ExtraLabels(t *testing.T) {
	rt := &container.MockRuntime{}
	l := New(rt, Options{Labels: map[string]string{
		"com.example.team": "bots",
		DeploymentLabel:    "someone-else",
	}}, nil)

	_, err := l.Launch(context.Background(), testConfig(t))
	require.NoError(t, err)

	runs := rt.RunOptions()
	require.Len(t, runs, 1)
	assert.Equal(t, map[string]string{
		"com.example.team": "bots",
		DeploymentLabel:    "telegram-bot",
	}, runs[0].Labels)
}

func TestLauncher_IdempotentSingleton(t *testing.T) {
	for _, preexisting := range []bool{false, true} {
		t.Run(fmt.Sprintf("preexisting=%v", preexisting), func(t *testing.T) {
			f := &fakeInstances{running: map[string]bool{}}
			if preexisting {
				f.running["telegram-bot"] = true
			}
			l := New(f.runtime(), Options{}, nil)
			cfg := testConfig(t)

			first, err := l.Launch(context.Background(), cfg)
			require.NoError(t, err)
			if preexisting {
				assert.Equal(t, Removed, first.Teardown.Outcome)
			} else {
				assert.Equal(t, AlreadyAbsent, first.Teardown.Outcome)
			}

			second, err := l.Launch(context.Background(), cfg)
			require.NoError(t, err)
			assert.Equal(t, Removed, second.Teardown.Outcome)

			assert.Equal(t, map[string]bool{"telegram-bot": true}, f.running)
		})
	}
}

func TestLauncher_Teardown_TriState(t *testing.T) {
	tests := []struct {
		name    string
		stop    error
		remove  error
		want    TeardownOutcome
		wantErr bool
	}{
		{"removed", nil, nil, Removed, false},
		{"absent on stop", errAbsent, nil, AlreadyAbsent, false},
		{"absent on remove", errors.New("not running"), errAbsent, AlreadyAbsent, false},
		{"removal failed", nil, util.NewCommandError("docker rm", 1, "device busy", nil), RemovalFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &container.MockRuntime{
				StopFunc:   func(ctx context.Context, name string) error { return tt.stop },
				RemoveFunc: func(ctx context.Context, name string, force bool) error { return tt.remove },
			}
			res := New(rt, Options{}, nil).Teardown(context.Background(), "telegram-bot")
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.wantErr, res.Err != nil)
		})
	}
}

func TestLauncher_RemovalFailedIsNotFatal(t *testing.T) {
	rt := &container.MockRuntime{
		RemoveFunc: func(ctx context.Context, name string, force bool) error { return errors.New("busy") },
	}
	res, err := New(rt, Options{}, nil).Launch(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, RemovalFailed, res.Teardown.Outcome)
	assert.Equal(t, 1, rt.CallCount("RunDetached"))
}

func TestLauncher_StartFailureIsFatal(t *testing.T) {
	rt := &container.MockRuntime{
		RunDetachedFunc: func(ctx context.Context, opts container.RunOptions) (string, error) {
			return "", util.NewCommandError("docker run", 125, "image not found", nil)
		},
	}
	_, err := New(rt, Options{}, nil).Launch(context.Background(), testConfig(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.Contains(t, util.ExtractStderr(err), "image not found")
}

func TestLauncher_Environment_ExtrasCannotOverrideIdentity(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "bot.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"CLAUDE_MAX_TURNS=20\nALLOWED_USERS=[1,2,3]\nRATE_LIMIT_WINDOW=30\n"), 0o600))

	l := New(&container.MockRuntime{}, Options{
		ExtraEnv: map[string]string{
			"TELEGRAM_BOT_TOKEN": "evil",
			"RATE_LIMIT_WINDOW":  "120",
			"USE_SDK":            "true",
		},
		EnvFile: envFile,
	}, nil)

	env, shadowed, err := l.Environment(testConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "123456:ABC", env.Get(EnvBotToken))
	assert.Equal(t, "[42]", env.Get(EnvAllowedUsers))
	assert.Equal(t, "20", env.Get("CLAUDE_MAX_TURNS"))
	assert.Equal(t, "120", env.Get("RATE_LIMIT_WINDOW"), "service.env wins over env_file")
	assert.Equal(t, "true", env.Get("USE_SDK"))
	assert.Equal(t, "sqlite:////app/data/telegram_bot.db", env.Get(EnvDatabaseURL))
	assert.ElementsMatch(t, []string{"TELEGRAM_BOT_TOKEN", "ALLOWED_USERS"}, shadowed)
}

func TestLauncher_Environment_MissingEnvFile(t *testing.T) {
	l := New(&container.MockRuntime{}, Options{EnvFile: "/nonexistent/bot.env"}, nil)
	_, _, err := l.Environment(testConfig(t))
	assert.Error(t, err)
}
