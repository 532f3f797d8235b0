// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package auth runs the interactive credential bootstrap for the assistant CLI.

The login happens inside a throwaway, auto-removed container that mounts the
auth volume. The operator follows a printed URL and completes OAuth in a
browser; the workflow waits with no timeout. A non-interactive status check
then decides the result, so credentials land in the volume and every later
instance start reuses them.

# State Machine

	NotStarted ──▶ AwaitingUserLogin ──▶ Verifying ──▶ Authenticated
	                     │                    │
	                     ├──▶ Failed ◀────────┤
	                     └──▶ Cancelled ◀─────┘

Authenticated, Failed and Cancelled are terminal. Only Authenticated lets the
workflow continue. Cancelled is reported when the caller's context ends
(Ctrl-C), and the login container is force-removed.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrLoginFailed is returned when the login command exits non-zero.
	ErrLoginFailed = errors.New("login failed")

	// ErrVerifyFailed is returned when the status command exits non-zero.
	ErrVerifyFailed = errors.New("authentication status check failed")

	// ErrCancelled is returned when the context ends during the bootstrap.
	ErrCancelled = errors.New("authentication cancelled")

	// ErrVolume is returned when the auth volume cannot be prepared.
	ErrVolume = errors.New("prepare auth volume")
)

// =============================================================================
// Types
// =============================================================================

// State is a bootstrap state.
type State int

const (
	StateNotStarted State = iota
	StateAwaitingUserLogin
	StateVerifying
	StateAuthenticated
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateAwaitingUserLogin:
		return "AwaitingUserLogin"
	case StateVerifying:
		return "Verifying"
	case StateAuthenticated:
		return "Authenticated"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s ends the bootstrap.
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateFailed || s == StateCancelled
}

// Mode selects when the login flow runs.
type Mode string

const (
	// ModeAlways runs the login on every bootstrap.
	ModeAlways Mode = "always"
	// ModeIfNeeded runs the status check first and logs in only if it fails.
	ModeIfNeeded Mode = "if-needed"
	// ModeSkip never prompts; the existing volume is used as-is.
	ModeSkip Mode = "skip"
)

// TTYMode selects whether the login container gets a pseudo-terminal.
type TTYMode string

const (
	TTYAuto   TTYMode = "auto"
	TTYAlways TTYMode = "always"
	TTYNever  TTYMode = "never"
)

// Config configures the bootstrapper.
type Config struct {
	Image      string
	AuthVolume string
	// ContainerName names the throwaway login and status containers from
	// a random suffix.
	ContainerName func(suffix string) string
	// CredentialsPath is where the CLI keeps its login state in the image.
	CredentialsPath string
	// CLI is the assistant binary inside the image.
	CLI        string
	LoginArgs  []string
	StatusArgs []string
	Mode       Mode
	TTY        TTYMode
}

// Defaults for Config.
const (
	DefaultCredentialsPath = "/home/botuser/.claude"
	DefaultCLI             = "claude"
)

// DefaultLoginArgs and DefaultStatusArgs are the CLI arguments used when the
// configuration leaves them empty.
var (
	DefaultLoginArgs  = []string{"login"}
	DefaultStatusArgs = []string{"auth", "status"}
)

// Result summarizes a bootstrap.
type Result struct {
	State State
	// Transitions lists every state entered, in order, starting after
	// NotStarted.
	Transitions []State
	LoginExit   int
	StatusExit  int
	// Skipped is set for ModeSkip.
	Skipped bool
	// Reused is set when ModeIfNeeded found valid credentials.
	Reused    bool
	Container string
}

// Bootstrapper runs the credential bootstrap.
type Bootstrapper struct {
	cfg     Config
	runtime container.Runtime
	streams process.Streams
	logger  *slog.Logger

	// OnTransition, when set, is called on every state change.
	OnTransition func(from, to State)

	// isTerminal reports whether stdin is a terminal; replaced in tests.
	isTerminal func() bool
}

// NewBootstrapper creates a Bootstrapper that attaches the login container
// to streams.
func NewBootstrapper(cfg Config, rt container.Runtime, streams process.Streams, logger *slog.Logger) *Bootstrapper {
	if cfg.CredentialsPath == "" {
		cfg.CredentialsPath = DefaultCredentialsPath
	}
	if cfg.CLI == "" {
		cfg.CLI = DefaultCLI
	}
	if len(cfg.LoginArgs) == 0 {
		cfg.LoginArgs = DefaultLoginArgs
	}
	if len(cfg.StatusArgs) == 0 {
		cfg.StatusArgs = DefaultStatusArgs
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAlways
	}
	if cfg.TTY == "" {
		cfg.TTY = TTYAuto
	}
	if cfg.ContainerName == nil {
		cfg.ContainerName = func(suffix string) string { return "botdeploy-auth-" + suffix }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{
		cfg:     cfg,
		runtime: rt,
		streams: streams,
		logger:  logger,
		isTerminal: func() bool {
			fd := os.Stdin.Fd()
			return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		},
	}
}

// Run executes the bootstrap.
//
// # Description
//
// Blocks for as long as the operator needs to complete the login. There is
// no internal timeout; cancel ctx to abort.
//
// # Outputs
//
//   - Result: final state and exit codes
//   - error: nil only when State is Authenticated or the step was skipped.
//     Wraps ErrLoginFailed, ErrVerifyFailed, ErrCancelled or ErrVolume.
func (b *Bootstrapper) Run(ctx context.Context) (Result, error) {
	res := Result{State: StateNotStarted}

	if b.cfg.Mode == ModeSkip {
		b.logger.Info("authentication skipped", "volume", b.cfg.AuthVolume)
		res.Skipped = true
		return res, nil
	}

	if err := b.runtime.EnsureVolume(ctx, b.cfg.AuthVolume); err != nil {
		if ctx.Err() != nil {
			b.enter(&res, StateCancelled)
			return res, ErrCancelled
		}
		b.enter(&res, StateFailed)
		return res, fmt.Errorf("%w %s: %w", ErrVolume, b.cfg.AuthVolume, err)
	}

	if b.cfg.Mode == ModeIfNeeded {
		b.enter(&res, StateVerifying)
		name := b.containerName("status-")
		code, err := b.verify(ctx, name)
		if err != nil {
			return b.verifyError(ctx, &res, name, err)
		}
		res.StatusExit = code
		if code == 0 {
			b.logger.Info("existing credentials are valid, login not needed")
			res.Reused = true
			b.enter(&res, StateAuthenticated)
			return res, nil
		}
		b.logger.Info("no valid credentials, starting login", "status_exit", code)
	}

	res.Container = b.containerName("")
	b.enter(&res, StateAwaitingUserLogin)

	code, err := b.runtime.RunInteractive(ctx, container.RunOptions{
		Name:        res.Container,
		Image:       b.cfg.Image,
		Remove:      true,
		Interactive: true,
		TTY:         b.wantTTY(),
		Mounts:      []container.Mount{{Source: b.cfg.AuthVolume, Target: b.cfg.CredentialsPath}},
		Entrypoint:  b.cfg.CLI,
		Command:     b.cfg.LoginArgs,
	}, b.streams)
	res.LoginExit = code
	if err != nil || ctx.Err() != nil {
		if ctx.Err() != nil {
			b.cleanup(res.Container)
			b.enter(&res, StateCancelled)
			return res, ErrCancelled
		}
		b.enter(&res, StateFailed)
		return res, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if code != 0 {
		b.enter(&res, StateFailed)
		return res, fmt.Errorf("%w: exit code %d", ErrLoginFailed, code)
	}

	b.enter(&res, StateVerifying)
	name := b.containerName("status-")
	code, err = b.verify(ctx, name)
	if err != nil {
		return b.verifyError(ctx, &res, name, err)
	}
	res.StatusExit = code
	if code != 0 {
		b.enter(&res, StateFailed)
		return res, fmt.Errorf("%w: exit code %d", ErrVerifyFailed, code)
	}

	b.enter(&res, StateAuthenticated)
	return res, nil
}

func (b *Bootstrapper) containerName(kind string) string {
	return b.cfg.ContainerName(kind + uuid.NewString()[:8])
}

// verify runs the status command non-interactively in a container called
// name and returns its exit code. An exit code observed after ctx ended is
// reported as ctx's error.
func (b *Bootstrapper) verify(ctx context.Context, name string) (int, error) {
	stdout, stderr, code, err := b.runtime.RunOnce(ctx, container.RunOptions{
		Name:       name,
		Image:      b.cfg.Image,
		Remove:     true,
		Mounts:     []container.Mount{{Source: b.cfg.AuthVolume, Target: b.cfg.CredentialsPath}},
		Entrypoint: b.cfg.CLI,
		Command:    b.cfg.StatusArgs,
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return -1, err
	}
	b.logger.Debug("auth status", "exit", code, "stdout", stdout, "stderr", stderr)
	return code, nil
}

func (b *Bootstrapper) verifyError(ctx context.Context, res *Result, name string, err error) (Result, error) {
	if ctx.Err() != nil {
		b.cleanup(name)
		b.enter(res, StateCancelled)
		return *res, ErrCancelled
	}
	b.enter(res, StateFailed)
	return *res, fmt.Errorf("%w: %w", ErrVerifyFailed, err)
}

// cleanup force-removes an abandoned login or status container. It runs on
// a fresh context because the caller's is already done.
func (b *Bootstrapper) cleanup(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := b.runtime.Remove(ctx, name, true)
	switch {
	case err == nil:
		b.logger.Info("removed cancelled auth container", "container", name)
	case errors.Is(err, container.ErrNoSuchContainer):
	default:
		b.logger.Warn("failed to remove cancelled auth container", "container", name, "error", err)
	}
}

func (b *Bootstrapper) wantTTY() bool {
	switch b.cfg.TTY {
	case TTYAlways:
		return true
	case TTYNever:
		return false
	default:
		return b.isTerminal()
	}
}

func (b *Bootstrapper) enter(res *Result, to State) {
	from := res.State
	res.State = to
	res.Transitions = append(res.Transitions, to)
	b.logger.Debug("auth state", "from", from.String(), "to", to.String())
	if b.OnTransition != nil {
		b.OnTransition(from, to)
	}
}
