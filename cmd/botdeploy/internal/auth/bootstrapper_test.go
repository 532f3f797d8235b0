// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
)

func testConfig(mode Mode) Config {
	return Config{
		Image:         "telegram-bot:latest",
		AuthVolume:    "telegram-bot-auth",
		ContainerName: func(suffix string) string { return "telegram-bot-auth-" + suffix },
		Mode:          mode,
		TTY:           TTYNever,
	}
}

func TestBootstrapper_Success(t *testing.T) {
	rt := &container.MockRuntime{}
	b := NewBootstrapper(testConfig(ModeAlways), rt, process.Streams{}, nil)

	var seen []string
	b.OnTransition = func(from, to State) { seen = append(seen, from.String()+"->"+to.String()) }

	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, res.State)
	assert.Equal(t, []State{StateAwaitingUserLogin, StateVerifying, StateAuthenticated}, res.Transitions)
	assert.Equal(t, []string{
		"NotStarted->AwaitingUserLogin",
		"AwaitingUserLogin->Verifying",
		"Verifying->Authenticated",
	}, seen)

	assert.Equal(t, []string{"EnsureVolume", "RunInteractive", "RunOnce"}, rt.Calls())

	opts := rt.RunOptions()
	require.Len(t, opts, 2)
	login := opts[0]
	assert.True(t, login.Remove)
	assert.True(t, login.Interactive)
	assert.False(t, login.TTY)
	assert.True(t, strings.HasPrefix(login.Name, "telegram-bot-auth-"))
	assert.Len(t, login.Name, len("telegram-bot-auth-")+8)
	assert.Equal(t, "claude", login.Entrypoint)
	assert.Equal(t, []string{"login"}, login.Command)
	assert.Equal(t, []container.Mount{{Source: "telegram-bot-auth", Target: DefaultCredentialsPath}}, login.Mounts)

	status := opts[1]
	assert.False(t, status.Interactive)
	assert.Equal(t, []string{"auth", "status"}, status.Command)
	assert.True(t, strings.HasPrefix(status.Name, "telegram-bot-auth-status-"))
	assert.Len(t, status.Name, len("telegram-bot-auth-status-")+8)
}

func TestBootstrapper_LoginOKButStatusFails(t *testing.T) {
	rt := &container.MockRuntime{
		RunOnceFunc: func(ctx context.Context, opts container.RunOptions) (string, string, int, error) {
			return "", "not logged in", 1, nil
		},
	}
	b := NewBootstrapper(testConfig(ModeAlways), rt, process.Streams{}, nil)

	res, err := b.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerifyFailed)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, res.LoginExit)
	assert.Equal(t, 1, res.StatusExit)
}

func TestBootstrapper_LoginFails(t *testing.T) {
	rt := &container.MockRuntime{
		RunInteractiveFunc: func(ctx context.Context, opts container.RunOptions, streams process.Streams) (int, error) {
			return 2, nil
		},
	}
	b := NewBootstrapper(testConfig(ModeAlways), rt, process.Streams{}, nil)

	res, err := b.Run(context.Background())
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, rt.CallCount("RunOnce"), "status check must not run after a failed login")
}

func TestBootstrapper_CancelledDuringLogin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var removed string
	rt := &container.MockRuntime{
		RunInteractiveFunc: func(ctx context.Context, opts container.RunOptions, streams process.Streams) (int, error) {
			cancel()
			return -1, ctx.Err()
		},
		RemoveFunc: func(ctx context.Context, name string, force bool) error {
			assert.True(t, force)
			assert.NoError(t, ctx.Err(), "cleanup must not use the cancelled context")
			removed = name
			return nil
		},
	}
	b := NewBootstrapper(testConfig(ModeAlways), rt, process.Streams{}, nil)

	res, err := b.Run(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, res.Container, removed)
	assert.Equal(t, 0, rt.CallCount("RunOnce"))
}

func TestBootstrapper_CancelledDuringStatusCheck(t *testing.T) {
	for _, mode := range []Mode{ModeIfNeeded, ModeAlways} {
		t.Run(string(mode), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var checked, removed string
			rt := &container.MockRuntime{
				RunOnceFunc: func(ctx context.Context, opts container.RunOptions) (string, string, int, error) {
					checked = opts.Name
					cancel()
					// The CLI was killed, so only an exit code comes back.
					return "", "", 137, nil
				},
				RemoveFunc: func(ctx context.Context, name string, force bool) error {
					assert.True(t, force)
					assert.NoError(t, ctx.Err(), "cleanup must not use the cancelled context")
					removed = name
					return nil
				},
			}
			b := NewBootstrapper(testConfig(mode), rt, process.Streams{}, nil)

			res, err := b.Run(ctx)
			assert.ErrorIs(t, err, ErrCancelled)
			assert.NotErrorIs(t, err, ErrVerifyFailed)
			assert.Equal(t, StateCancelled, res.State)
			require.NotEmpty(t, checked)
			assert.True(t, strings.HasPrefix(checked, "telegram-bot-auth-status-"))
			assert.Equal(t, checked, removed)
			assert.Equal(t, 1, rt.CallCount("Remove"))
		})
	}
}

func TestBootstrapper_DefaultContainerName(t *testing.T) {
	rt := &container.MockRuntime{}
	cfg := testConfig(ModeAlways)
	cfg.ContainerName = nil
	b := NewBootstrapper(cfg, rt, process.Streams{}, nil)

	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Container, "botdeploy-auth-"))
}

func TestBootstrapper_IfNeeded_ReusesValidCredentials(t *testing.T) {
	rt := &container.MockRuntime{}
	b := NewBootstrapper(testConfig(ModeIfNeeded), rt, process.Streams{}, nil)

	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, StateAuthenticated, res.State)
	assert.Equal(t, 0, rt.CallCount("RunInteractive"))
}

func TestBootstrapper_IfNeeded_LogsInWhenStatusFails(t *testing.T) {
	statusCalls := 0
	rt := &container.MockRuntime{
		RunOnceFunc: func(ctx context.Context, opts container.RunOptions) (string, string, int, error) {
			statusCalls++
			if statusCalls == 1 {
				return "", "", 1, nil
			}
			return "", "", 0, nil
		},
	}
	b := NewBootstrapper(testConfig(ModeIfNeeded), rt, process.Streams{}, nil)

	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, StateAuthenticated, res.State)
	assert.Equal(t, 1, rt.CallCount("RunInteractive"))
	assert.Equal(t, 2, statusCalls)
}

func TestBootstrapper_Skip(t *testing.T) {
	rt := &container.MockRuntime{}
	b := NewBootstrapper(testConfig(ModeSkip), rt, process.Streams{}, nil)

	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, rt.Calls())
}

func TestBootstrapper_VolumeFailure(t *testing.T) {
	rt := &container.MockRuntime{
		EnsureVolumeFunc: func(ctx context.Context, name string) error {
			return errors.New("disk full")
		},
	}
	b := NewBootstrapper(testConfig(ModeAlways), rt, process.Streams{}, nil)

	res, err := b.Run(context.Background())
	assert.ErrorIs(t, err, ErrVolume)
	assert.Equal(t, StateFailed, res.State)
}

func TestBootstrapper_TTYModes(t *testing.T) {
	tests := []struct {
		mode     TTYMode
		terminal bool
		want     bool
	}{
		{TTYAlways, false, true},
		{TTYNever, true, false},
		{TTYAuto, true, true},
		{TTYAuto, false, false},
	}
	for _, tt := range tests {
		cfg := testConfig(ModeAlways)
		cfg.TTY = tt.mode
		b := NewBootstrapper(cfg, &container.MockRuntime{}, process.Streams{}, nil)
		terminal := tt.terminal
		b.isTerminal = func() bool { return terminal }
		assert.Equal(t, tt.want, b.wantTTY(), "mode=%s terminal=%v", tt.mode, tt.terminal)
	}
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, StateNotStarted.Terminal())
	assert.False(t, StateAwaitingUserLogin.Terminal())
	assert.False(t, StateVerifying.Terminal())
	assert.True(t, StateAuthenticated.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
}
