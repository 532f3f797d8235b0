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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultManager_RunInDir_CapturesOutputAndExitCode(t *testing.T) {
	m := NewDefaultManager()
	ctx := context.Background()

	stdout, stderr, code, err := m.RunInDir(ctx, "", nil, "sh", "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "out\n", stdout)
	assert.Equal(t, "err\n", stderr)
	assert.Equal(t, 3, code)
}

func TestDefaultManager_RunInDir_PassesEnvAndDir(t *testing.T) {
	m := NewDefaultManager()
	dir := t.TempDir()

	stdout, _, code, err := m.RunInDir(context.Background(), dir, []string{"BOTDEPLOY_TEST=yes"}, "sh", "-c", "echo $BOTDEPLOY_TEST; pwd")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "yes", lines[0])
	resolved, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(lines[1])
	assert.Equal(t, resolved, got)
}

func TestDefaultManager_RunInDir_MissingBinary(t *testing.T) {
	m := NewDefaultManager()
	_, _, code, err := m.RunInDir(context.Background(), "", nil, "botdeploy-definitely-not-a-binary")
	require.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestDefaultManager_RunInDir_ContextCancelled(t *testing.T) {
	m := NewDefaultManager()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, _, err := m.RunInDir(ctx, "", nil, "sleep", "5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDefaultManager_RunAttached(t *testing.T) {
	m := NewDefaultManager()
	var out bytes.Buffer

	code, err := m.RunAttached(context.Background(), Streams{
		Stdin:  strings.NewReader("hello\n"),
		Stdout: &out,
		Stderr: &out,
	}, nil, "sh", "-c", "read line; echo got:$line; exit 0")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "got:hello\n", out.String())
}

func TestMockManager_RecordsCalls(t *testing.T) {
	mock := &MockManager{}
	_, _, _, _ = mock.RunInDir(context.Background(), "/tmp", []string{"A=1"}, "docker", "ps")
	_, _ = mock.RunAttached(context.Background(), Streams{}, nil, "docker", "logs", "-f", "bot")

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "RunInDir", calls[0].Method)
	assert.Equal(t, "/tmp", calls[0].Dir)
	assert.Equal(t, []string{"ps"}, calls[0].Args)
	assert.Equal(t, "RunAttached", calls[1].Method)
	assert.Equal(t, []string{"logs", "-f", "bot"}, calls[1].Args)
}

func TestLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock := NewLock(dir, "telegram-bot")

	require.NoError(t, lock.Acquire())
	assert.True(t, lock.IsHeld())

	data, err := os.ReadFile(filepath.Join(dir, "telegram-bot.pid"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	require.NoError(t, lock.Release())
	assert.False(t, lock.IsHeld())
	_, err = os.Stat(filepath.Join(dir, "telegram-bot.pid"))
	assert.True(t, os.IsNotExist(err))

	// Release twice is fine.
	require.NoError(t, lock.Release())
}

func TestLock_SecondHolderRejected(t *testing.T) {
	dir := t.TempDir()
	first := NewLock(dir, "telegram-bot")
	second := NewLock(dir, "telegram-bot")

	require.NoError(t, first.Acquire())
	defer first.Release()

	err := second.Acquire()
	var held *ErrLockHeld
	require.ErrorAs(t, err, &held)
	assert.Equal(t, os.Getpid(), held.HolderPID)
	assert.False(t, second.IsHeld())
}

func TestLock_DifferentNamesIndependent(t *testing.T) {
	dir := t.TempDir()
	a := NewLock(dir, "bot-a")
	b := NewLock(dir, "bot-b")

	require.NoError(t, a.Acquire())
	defer a.Release()
	require.NoError(t, b.Acquire())
	defer b.Release()
}
