// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Streams are the standard streams handed to an attached process.
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// TerminalStreams returns the current process's stdin, stdout and stderr.
func TerminalStreams() Streams {
	return Streams{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Manager abstracts external process execution.
//
// # Description
//
// Every docker, podman and git invocation goes through Manager so the
// workflow can be exercised in unit tests without a container runtime.
//
// A non-zero exit is NOT an error: both methods return the exit code and a
// nil error, leaving classification to the caller. err is non-nil only when
// the process could not be started or the context was cancelled.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Manager interface {
	// RunInDir runs name with args, capturing stdout and stderr.
	//
	// dir may be "" for the current directory. env entries are appended to
	// the inherited environment.
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr string, exitCode int, err error)

	// RunAttached runs name with the given streams attached. Used for the
	// interactive login flow and for following logs.
	RunAttached(ctx context.Context, streams Streams, env []string, name string, args ...string) (exitCode int, err error)
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultManager executes real processes via os/exec.
type DefaultManager struct{}

// NewDefaultManager creates a DefaultManager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// RunInDir implements Manager.
func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code, err := exitStatus(ctx, cmd.Run())
	return stdout.String(), stderr.String(), code, err
}

// RunAttached implements Manager.
func (m *DefaultManager) RunAttached(ctx context.Context, streams Streams, env []string, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdin = streams.Stdin
	cmd.Stdout = streams.Stdout
	cmd.Stderr = streams.Stderr

	return exitStatus(ctx, cmd.Run())
}

// exitStatus converts the result of cmd.Run into (exitCode, err).
func exitStatus(ctx context.Context, runErr error) (int, error) {
	if runErr == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("start process: %w", runErr)
}

// =============================================================================
// Mock Implementation
// =============================================================================

// Call records a single Manager invocation.
type Call struct {
	Method string
	Dir    string
	Env    []string
	Name   string
	Args   []string
}

// MockManager is a test double for Manager.
//
// Set the function fields before use. A nil RunInDirFunc returns exit 0 with
// empty output; a nil RunAttachedFunc returns exit 0.
type MockManager struct {
	RunInDirFunc    func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)
	RunAttachedFunc func(ctx context.Context, streams Streams, env []string, name string, args ...string) (int, error)

	mu    sync.Mutex
	calls []Call
}

// RunInDir implements Manager.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.record(Call{Method: "RunInDir", Dir: dir, Env: env, Name: name, Args: args})
	if m.RunInDirFunc == nil {
		return "", "", 0, nil
	}
	return m.RunInDirFunc(ctx, dir, env, name, args...)
}

// RunAttached implements Manager.
func (m *MockManager) RunAttached(ctx context.Context, streams Streams, env []string, name string, args ...string) (int, error) {
	m.record(Call{Method: "RunAttached", Env: env, Name: name, Args: args})
	if m.RunAttachedFunc == nil {
		return 0, nil
	}
	return m.RunAttachedFunc(ctx, streams, env, name, args...)
}

// Calls returns a copy of all recorded calls.
func (m *MockManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
