// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/util"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrNoSuchContainer is returned when the named container does not exist.
	ErrNoSuchContainer = errors.New("no such container")

	// ErrRuntimeUnavailable is returned when the runtime binary cannot be
	// executed or its daemon does not answer.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")

	// ErrUnsupportedRuntime is returned for binaries other than docker/podman.
	ErrUnsupportedRuntime = errors.New("unsupported container runtime")
)

// =============================================================================
// Types
// =============================================================================

// HealthStatus is the runtime-reported health of a container.
type HealthStatus string

const (
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthNone means the image declares no HEALTHCHECK.
	HealthNone HealthStatus = "none"
)

// ParseHealthStatus maps inspect output to a HealthStatus. Anything
// unrecognised is reported as starting.
func ParseHealthStatus(s string) HealthStatus {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "healthy":
		return HealthHealthy
	case "unhealthy":
		return HealthUnhealthy
	case "none", "":
		return HealthNone
	default:
		return HealthStarting
	}
}

// Mount is a volume or bind mount.
type Mount struct {
	// Source is a named volume or an absolute host path.
	Source string
	// Target is the path inside the container.
	Target   string
	ReadOnly bool
}

func (m Mount) flag() string {
	s := m.Source + ":" + m.Target
	if m.ReadOnly {
		s += ":ro"
	}
	return s
}

// RunOptions describes a single `run` invocation.
type RunOptions struct {
	Name  string
	Image string

	// Remove adds --rm.
	Remove bool
	// Detach adds -d.
	Detach bool
	// Interactive adds -i; TTY adds -t.
	Interactive bool
	TTY         bool

	// RestartPolicy, e.g. "on-failure" or "unless-stopped". Empty omits the flag.
	RestartPolicy string

	// Env values are passed through the runtime's process environment
	// (`-e KEY`), never on the command line.
	Env *util.EnvVars

	Mounts     []Mount
	Labels     map[string]string
	Entrypoint string
	Command    []string
}

// BuildOptions describes an image build.
type BuildOptions struct {
	ContextDir string
	// Dockerfile path; empty uses the runtime default.
	Dockerfile string
	Tags       []string
	BuildArgs  map[string]string
	Pull       bool
}

// =============================================================================
// Interface Definition
// =============================================================================

// Runtime is the subset of the container runtime CLI the deployment
// workflow needs.
//
// # Description
//
// The container runtime is treated as an opaque collaborator. Runtime
// exposes exactly the operations the workflow consumes: build an image,
// run a container (one-shot, interactive, or detached), query health,
// stop/remove, and read logs.
//
// Non-zero exits from one-shot runs are returned as exit codes, not
// errors, so callers can classify them (e.g. the auth status check).
type Runtime interface {
	// Binary returns the runtime binary name ("docker" or "podman").
	Binary() string

	// Version returns the server version, or ErrRuntimeUnavailable.
	Version(ctx context.Context) (string, error)

	// Build builds an image. Failure returns a *util.CommandError with the
	// build tool's stderr.
	Build(ctx context.Context, opts BuildOptions) error

	// RunOnce runs a container to completion and captures its output.
	RunOnce(ctx context.Context, opts RunOptions) (stdout, stderr string, exitCode int, err error)

	// RunInteractive runs a container attached to the given streams.
	RunInteractive(ctx context.Context, opts RunOptions, streams process.Streams) (exitCode int, err error)

	// RunDetached starts a long-lived container and returns its ID.
	RunDetached(ctx context.Context, opts RunOptions) (string, error)

	// Health returns the container's health status.
	Health(ctx context.Context, name string) (HealthStatus, error)

	// State returns the container's state ("running", "exited", ...).
	State(ctx context.Context, name string) (string, error)

	// Stop stops a container. Returns ErrNoSuchContainer if absent.
	Stop(ctx context.Context, name string) error

	// Remove removes a container. Returns ErrNoSuchContainer if absent.
	Remove(ctx context.Context, name string, force bool) error

	// Logs returns the last tail lines of combined container output.
	// tail <= 0 returns everything.
	Logs(ctx context.Context, name string, tail int) (string, error)

	// FollowLogs streams logs until ctx is cancelled.
	FollowLogs(ctx context.Context, name string, tail int, streams process.Streams) error

	// EnsureVolume creates a named volume if it does not exist.
	EnsureVolume(ctx context.Context, name string) error
}

// =============================================================================
// CLI Implementation
// =============================================================================

// Config configures a CLIRuntime.
type Config struct {
	// Binary is "docker" or "podman".
	Binary string
	// UseSudo prefixes every invocation with sudo. Needed directly after a
	// fresh runtime install, before the operator's group membership applies.
	UseSudo bool
}

// CLIRuntime drives docker or podman through process.Manager.
type CLIRuntime struct {
	cfg    Config
	pm     process.Manager
	logger *slog.Logger
}

// NewCLIRuntime creates a CLIRuntime.
//
// # Inputs
//
//   - cfg: runtime binary and sudo option
//   - pm: process manager (MockManager in tests)
//   - logger: may be nil
//
// # Outputs
//
//   - *CLIRuntime: ready runtime
//   - error: ErrUnsupportedRuntime for unknown binaries
func NewCLIRuntime(cfg Config, pm process.Manager, logger *slog.Logger) (*CLIRuntime, error) {
	switch cfg.Binary {
	case "docker", "podman":
	case "":
		cfg.Binary = "docker"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRuntime, cfg.Binary)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRuntime{cfg: cfg, pm: pm, logger: logger}, nil
}

// Binary implements Runtime.
func (r *CLIRuntime) Binary() string {
	return r.cfg.Binary
}

// Version implements Runtime.
func (r *CLIRuntime) Version(ctx context.Context) (string, error) {
	// Podman is daemonless; docker must reach its daemon.
	format := "{{.Server.Version}}"
	if r.cfg.Binary == "podman" {
		format = "{{.Client.Version}}"
	}
	stdout, stderr, code, err := r.exec(ctx, "", nil, "version", "--format", format)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if code != 0 {
		return "", fmt.Errorf("%w: %w", ErrRuntimeUnavailable, util.NewCommandError(r.cfg.Binary+" version", code, stderr, nil))
	}
	return strings.TrimSpace(stdout), nil
}

// Build implements Runtime.
func (r *CLIRuntime) Build(ctx context.Context, opts BuildOptions) error {
	args := BuildArgs(opts)
	r.logger.Info("building image", "tags", opts.Tags, "context", opts.ContextDir)

	_, stderr, code, err := r.exec(ctx, "", nil, args...)
	if err != nil {
		return fmt.Errorf("run build: %w", err)
	}
	if code != 0 {
		return util.NewCommandError(r.cfg.Binary+" build", code, stderr, nil)
	}
	return nil
}

// RunOnce implements Runtime.
func (r *CLIRuntime) RunOnce(ctx context.Context, opts RunOptions) (string, string, int, error) {
	r.logRun(opts)
	return r.exec(ctx, "", envSlice(opts.Env), RunArgs(opts)...)
}

// RunInteractive implements Runtime.
func (r *CLIRuntime) RunInteractive(ctx context.Context, opts RunOptions, streams process.Streams) (int, error) {
	opts.Interactive = true
	r.logRun(opts)
	env := envSlice(opts.Env)
	name, args := r.command(env, RunArgs(opts))
	return r.pm.RunAttached(ctx, streams, env, name, args...)
}

// RunDetached implements Runtime.
func (r *CLIRuntime) RunDetached(ctx context.Context, opts RunOptions) (string, error) {
	opts.Detach = true
	r.logRun(opts)

	stdout, stderr, code, err := r.exec(ctx, "", envSlice(opts.Env), RunArgs(opts)...)
	if err != nil {
		return "", fmt.Errorf("run container: %w", err)
	}
	if code != 0 {
		return "", util.NewCommandError(r.cfg.Binary+" run "+opts.Name, code, stderr, nil)
	}
	return strings.TrimSpace(stdout), nil
}

// Health implements Runtime.
func (r *CLIRuntime) Health(ctx context.Context, name string) (HealthStatus, error) {
	out, err := r.inspect(ctx, name, "{{if .State.Health}}{{.State.Health.Status}}{{else}}none{{end}}")
	if err != nil {
		return HealthStarting, err
	}
	return ParseHealthStatus(out), nil
}

// State implements Runtime.
func (r *CLIRuntime) State(ctx context.Context, name string) (string, error) {
	return r.inspect(ctx, name, "{{.State.Status}}")
}

// Stop implements Runtime.
func (r *CLIRuntime) Stop(ctx context.Context, name string) error {
	return r.simple(ctx, "stop", name)
}

// Remove implements Runtime.
func (r *CLIRuntime) Remove(ctx context.Context, name string, force bool) error {
	if force {
		return r.simple(ctx, "rm", "-f", name)
	}
	return r.simple(ctx, "rm", name)
}

// Logs implements Runtime.
func (r *CLIRuntime) Logs(ctx context.Context, name string, tail int) (string, error) {
	args := []string{"logs"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, name)

	stdout, stderr, code, err := r.exec(ctx, "", nil, args...)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", classify(r.cfg.Binary+" logs", code, stderr)
	}
	// Container stderr arrives on our stderr; keep both.
	return strings.TrimRight(stdout+stderr, "\n"), nil
}

// FollowLogs implements Runtime.
func (r *CLIRuntime) FollowLogs(ctx context.Context, name string, tail int, streams process.Streams) error {
	args := []string{"logs", "--follow"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, name)

	bin, full := r.command(nil, args)
	code, err := r.pm.RunAttached(ctx, streams, nil, bin, full...)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if code != 0 {
		return util.NewCommandError(r.cfg.Binary+" logs", code, "", nil)
	}
	return nil
}

// EnsureVolume implements Runtime.
func (r *CLIRuntime) EnsureVolume(ctx context.Context, name string) error {
	_, _, code, err := r.exec(ctx, "", nil, "volume", "inspect", name)
	if err != nil {
		return err
	}
	if code == 0 {
		return nil
	}
	r.logger.Info("creating volume", "volume", name)
	_, stderr, code, err := r.exec(ctx, "", nil, "volume", "create", name)
	if err != nil {
		return err
	}
	if code != 0 {
		return util.NewCommandError(r.cfg.Binary+" volume create", code, stderr, nil)
	}
	return nil
}

// =============================================================================
// Argument Builders
// =============================================================================

// RunArgs builds the argument list for `run`, excluding the binary.
func RunArgs(opts RunOptions) []string {
	args := []string{"run"}
	if opts.Detach {
		args = append(args, "-d")
	}
	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.RestartPolicy != "" {
		args = append(args, "--restart", opts.RestartPolicy)
	}
	if opts.Env != nil {
		for _, key := range opts.Env.Keys() {
			args = append(args, "-e", key)
		}
	}
	for _, m := range opts.Mounts {
		args = append(args, "-v", m.flag())
	}
	for _, k := range sortedKeys(opts.Labels) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	if opts.Entrypoint != "" {
		args = append(args, "--entrypoint", opts.Entrypoint)
	}
	args = append(args, opts.Image)
	return append(args, opts.Command...)
}

// BuildArgs builds the argument list for `build`, excluding the binary.
func BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}
	if opts.Pull {
		args = append(args, "--pull")
	}
	for _, t := range opts.Tags {
		args = append(args, "-t", t)
	}
	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}
	for _, k := range sortedKeys(opts.BuildArgs) {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}
	return append(args, opts.ContextDir)
}

// =============================================================================
// Helpers
// =============================================================================

// command returns the binary and full argument list, applying sudo.
// With sudo the environment must be preserved explicitly or `-e KEY` would
// resolve to nothing.
func (r *CLIRuntime) command(env []string, args []string) (string, []string) {
	if !r.cfg.UseSudo {
		return r.cfg.Binary, args
	}
	var full []string
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for _, kv := range env {
			k, _, _ := strings.Cut(kv, "=")
			keys = append(keys, k)
		}
		full = append(full, "--preserve-env="+strings.Join(keys, ","))
	}
	full = append(full, r.cfg.Binary)
	return "sudo", append(full, args...)
}

func (r *CLIRuntime) exec(ctx context.Context, dir string, env []string, args ...string) (string, string, int, error) {
	name, full := r.command(env, args)
	return r.pm.RunInDir(ctx, dir, env, name, full...)
}

func (r *CLIRuntime) inspect(ctx context.Context, name, format string) (string, error) {
	stdout, stderr, code, err := r.exec(ctx, "", nil, "inspect", "--format", format, name)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", classify(r.cfg.Binary+" inspect", code, stderr)
	}
	return strings.TrimSpace(stdout), nil
}

func (r *CLIRuntime) simple(ctx context.Context, args ...string) error {
	_, stderr, code, err := r.exec(ctx, "", nil, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return classify(r.cfg.Binary+" "+args[0], code, stderr)
	}
	return nil
}

func (r *CLIRuntime) logRun(opts RunOptions) {
	attrs := []any{"name", opts.Name, "image", opts.Image}
	if opts.Env != nil {
		attrs = append(attrs, "env", opts.Env.RedactedSlice())
	}
	r.logger.Debug("container run", attrs...)
}

// classify maps "no such container" stderr to ErrNoSuchContainer.
func classify(command string, code int, stderr string) error {
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "no such container") || strings.Contains(lower, "no such object") ||
		strings.Contains(lower, "no container with name") {
		return fmt.Errorf("%w: %w", ErrNoSuchContainer, util.NewCommandError(command, code, stderr, nil))
	}
	return util.NewCommandError(command, code, stderr, nil)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func envSlice(env *util.EnvVars) []string {
	if env == nil {
		return nil
	}
	return env.ToSlice()
}

var _ Runtime = (*CLIRuntime)(nil)
