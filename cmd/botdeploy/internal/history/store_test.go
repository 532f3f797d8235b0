// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, maxRuns int) *Store {
	t.Helper()
	cfg := InMemoryConfig()
	cfg.MaxRuns = maxRuns
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func run(deployment string, i int) Run {
	return Run{
		ID:         fmt.Sprintf("run-%02d", i),
		Deployment: deployment,
		StartedAt:  base.Add(time.Duration(i) * time.Minute),
		FinishedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		Outcome:    "success",
		Steps:      []StepRecord{{Name: "build", Duration: 20 * time.Second, Status: "ok"}},
	}
}

func TestStore_AppendList_NewestFirst(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Append(ctx, run("telegram-bot", i)))
	}
	require.NoError(t, s.Append(ctx, run("other-bot", 9)))

	runs, err := s.List(ctx, "telegram-bot", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-03", runs[0].ID)
	assert.Equal(t, "run-01", runs[2].ID)
	assert.Equal(t, 30*time.Second, runs[0].Duration())
	assert.Equal(t, 20*time.Second, runs[0].Steps[0].Duration)

	limited, err := s.List(ctx, "telegram-bot", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_DeploymentPrefixIsolation(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, run("bot", 1)))
	require.NoError(t, s.Append(ctx, run("bot-two", 2)))

	runs, err := s.List(ctx, "bot", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "bot", runs[0].Deployment)
}

func TestStore_Retention(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(ctx, run("telegram-bot", i)))
	}

	runs, err := s.List(ctx, "telegram-bot", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-05", runs[0].ID)
	assert.Equal(t, "run-04", runs[1].ID)
}

func TestStore_Last(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	_, err := s.Last(ctx, "telegram-bot")
	assert.ErrorIs(t, err, ErrNoRuns)

	r := run("telegram-bot", 1)
	r.Outcome = "failed"
	r.FailedStep = "build"
	r.ErrorKind = "build"
	require.NoError(t, s.Append(ctx, r))

	last, err := s.Last(ctx, "telegram-bot")
	require.NoError(t, err)
	assert.Equal(t, "failed", last.Outcome)
	assert.Equal(t, "build", last.FailedStep)
}

func TestStore_AppendRequiresIdentity(t *testing.T) {
	s := openTestStore(t, 0)
	assert.Error(t, s.Append(context.Background(), Run{Deployment: "x"}))
}

func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, run("telegram-bot", 1)))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.List(ctx, "telegram-bot", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
