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
	"sync"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
)

// MockRuntime is a test double for Runtime.
//
// Each method delegates to its function field when set; otherwise it
// succeeds with zero values (Health returns HealthHealthy). Every call is
// recorded by method name in Calls, in order.
type MockRuntime struct {
	VersionFunc        func(ctx context.Context) (string, error)
	BuildFunc          func(ctx context.Context, opts BuildOptions) error
	RunOnceFunc        func(ctx context.Context, opts RunOptions) (string, string, int, error)
	RunInteractiveFunc func(ctx context.Context, opts RunOptions, streams process.Streams) (int, error)
	RunDetachedFunc    func(ctx context.Context, opts RunOptions) (string, error)
	HealthFunc         func(ctx context.Context, name string) (HealthStatus, error)
	StateFunc          func(ctx context.Context, name string) (string, error)
	StopFunc           func(ctx context.Context, name string) error
	RemoveFunc         func(ctx context.Context, name string, force bool) error
	LogsFunc           func(ctx context.Context, name string, tail int) (string, error)
	FollowLogsFunc     func(ctx context.Context, name string, tail int, streams process.Streams) error
	EnsureVolumeFunc   func(ctx context.Context, name string) error

	mu      sync.Mutex
	calls   []string
	runOpts []RunOptions
}

// Calls returns recorded method names in call order.
func (m *MockRuntime) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// RunOptions returns the options of every Run* call in order.
func (m *MockRuntime) RunOptions() []RunOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunOptions, len(m.runOpts))
	copy(out, m.runOpts)
	return out
}

// CallCount returns how many times method was called.
func (m *MockRuntime) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (m *MockRuntime) record(method string, opts *RunOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
	if opts != nil {
		m.runOpts = append(m.runOpts, *opts)
	}
}

// Binary implements Runtime.
func (m *MockRuntime) Binary() string { return "docker" }

// Version implements Runtime.
func (m *MockRuntime) Version(ctx context.Context) (string, error) {
	m.record("Version", nil)
	if m.VersionFunc != nil {
		return m.VersionFunc(ctx)
	}
	return "27.0.0", nil
}

// Build implements Runtime.
func (m *MockRuntime) Build(ctx context.Context, opts BuildOptions) error {
	m.record("Build", nil)
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, opts)
	}
	return nil
}

// RunOnce implements Runtime.
func (m *MockRuntime) RunOnce(ctx context.Context, opts RunOptions) (string, string, int, error) {
	m.record("RunOnce", &opts)
	if m.RunOnceFunc != nil {
		return m.RunOnceFunc(ctx, opts)
	}
	return "", "", 0, nil
}

// RunInteractive implements Runtime.
func (m *MockRuntime) RunInteractive(ctx context.Context, opts RunOptions, streams process.Streams) (int, error) {
	m.record("RunInteractive", &opts)
	if m.RunInteractiveFunc != nil {
		return m.RunInteractiveFunc(ctx, opts, streams)
	}
	return 0, nil
}

// RunDetached implements Runtime.
func (m *MockRuntime) RunDetached(ctx context.Context, opts RunOptions) (string, error) {
	m.record("RunDetached", &opts)
	if m.RunDetachedFunc != nil {
		return m.RunDetachedFunc(ctx, opts)
	}
	return "0123456789ab", nil
}

// Health implements Runtime.
func (m *MockRuntime) Health(ctx context.Context, name string) (HealthStatus, error) {
	m.record("Health", nil)
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx, name)
	}
	return HealthHealthy, nil
}

// State implements Runtime.
func (m *MockRuntime) State(ctx context.Context, name string) (string, error) {
	m.record("State", nil)
	if m.StateFunc != nil {
		return m.StateFunc(ctx, name)
	}
	return "running", nil
}

// Stop implements Runtime.
func (m *MockRuntime) Stop(ctx context.Context, name string) error {
	m.record("Stop", nil)
	if m.StopFunc != nil {
		return m.StopFunc(ctx, name)
	}
	return nil
}

// Remove implements Runtime.
func (m *MockRuntime) Remove(ctx context.Context, name string, force bool) error {
	m.record("Remove", nil)
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, name, force)
	}
	return nil
}

// Logs implements Runtime.
func (m *MockRuntime) Logs(ctx context.Context, name string, tail int) (string, error) {
	m.record("Logs", nil)
	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, name, tail)
	}
	return "", nil
}

// FollowLogs implements Runtime.
func (m *MockRuntime) FollowLogs(ctx context.Context, name string, tail int, streams process.Streams) error {
	m.record("FollowLogs", nil)
	if m.FollowLogsFunc != nil {
		return m.FollowLogsFunc(ctx, name, tail, streams)
	}
	return nil
}

// EnsureVolume implements Runtime.
func (m *MockRuntime) EnsureVolume(ctx context.Context, name string) error {
	m.record("EnsureVolume", nil)
	if m.EnsureVolumeFunc != nil {
		return m.EnsureVolumeFunc(ctx, name)
	}
	return nil
}

var _ Runtime = (*MockRuntime)(nil)
