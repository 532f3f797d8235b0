// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{"stderr wins", NewCommandError("docker build", 1, "step 1\nfailed to solve\n", errors.New("x")), "docker build (exit 1): failed to solve"},
		{"wrapped", NewCommandError("git clone", 128, "", errors.New("boom")), "git clone (exit 128): boom"},
		{"bare", NewCommandError("docker rm", 2, "", nil), "docker rm (exit 2)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestExtractStderr_ThroughWrapping(t *testing.T) {
	inner := NewCommandError("docker build", 1, "line one\nline two", nil)
	wrapped := fmt.Errorf("build image: %w", inner)

	assert.Equal(t, "line one\nline two", ExtractStderr(wrapped))
	assert.Equal(t, "", ExtractStderr(errors.New("plain")))
	assert.Equal(t, "", ExtractStderr(nil))
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, "c\nd", TailLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a\nb", TailLines("a\nb", 5))
	assert.Equal(t, "", TailLines("", 3))
}

func TestEnvVars_SetReplacesInPlace(t *testing.T) {
	env := NewEnvVars()
	require.NoError(t, env.Set("A", "1", false))
	require.NoError(t, env.Set("B", "2", false))
	require.NoError(t, env.Set("A", "3", false))

	assert.Equal(t, []string{"A=3", "B=2"}, env.ToSlice())
	assert.Equal(t, []string{"A", "B"}, env.Keys())
}

func TestEnvVars_SetRejectsBadKey(t *testing.T) {
	env := NewEnvVars()
	err := env.Set("BAD-KEY", "v", false)
	assert.ErrorIs(t, err, ErrInvalidEnvVarKey)
	assert.Equal(t, 0, env.Len())
}

func TestEnvVars_SetAllDefaultsKeepsExisting(t *testing.T) {
	env := NewEnvVars()
	require.NoError(t, env.Set("TELEGRAM_BOT_TOKEN", "real", true))

	shadowed, err := env.SetAllDefaults(map[string]string{
		"TELEGRAM_BOT_TOKEN": "override",
		"LOG_LEVEL":          "DEBUG",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"TELEGRAM_BOT_TOKEN"}, shadowed)
	assert.Equal(t, "real", env.Get("TELEGRAM_BOT_TOKEN"))
	assert.Equal(t, "DEBUG", env.Get("LOG_LEVEL"))
}

func TestEnvVars_Redacted(t *testing.T) {
	env := NewEnvVars()
	require.NoError(t, env.Set("TELEGRAM_BOT_TOKEN", "123:abc", true))
	require.NoError(t, env.Set("ALLOWED_USERS", "[42]", false))
	_, err := env.SetDefault("EXTRA_API_KEY", "k")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"TELEGRAM_BOT_TOKEN=[REDACTED]",
		"ALLOWED_USERS=[42]",
		"EXTRA_API_KEY=[REDACTED]",
	}, env.RedactedSlice())
}
