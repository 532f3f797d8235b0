// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/deploy"
)

func testConfig() *deploy.Config {
	return &deploy.Config{
		Name:           "telegram-bot",
		BotToken:       "123456:ABC",
		BotUsername:    "demo_bot",
		AllowedUserIDs: []int64{42},
	}
}

func TestStore_Write_ExactlyThreeRestrictedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "telegram-bot", "secrets")
	store := NewStore(dir, nil)

	paths, err := store.Write(testConfig())
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		fi, err := e.Info()
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm(), e.Name())
	}

	users, err := os.ReadFile(filepath.Join(dir, AllowedUsersFile))
	require.NoError(t, err)
	assert.Equal(t, "[42]", string(users))

	token, err := os.ReadFile(filepath.Join(dir, TokenFile))
	require.NoError(t, err)
	assert.Equal(t, "123456:ABC", string(token))
}

func TestStore_Write_OverwritesNotAppends(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	_, err := store.Write(testConfig())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.BotToken = "999:XYZ"
	cfg.AllowedUserIDs = []int64{7, 8}
	_, err = store.Write(cfg)
	require.NoError(t, err)

	token, _ := os.ReadFile(filepath.Join(dir, TokenFile))
	assert.Equal(t, "999:XYZ", string(token))
	users, _ := os.ReadFile(filepath.Join(dir, AllowedUsersFile))
	assert.Equal(t, "[7,8]", string(users))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")
}

func TestStore_Write_TightensExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o755))

	_, err := NewStore(dir, nil).Write(testConfig())
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestStore_Write_FailsOnUnwritablePath(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := NewStore(filepath.Join(blocker, "secrets"), nil).Write(testConfig())
	assert.Error(t, err)
}

func TestStore_Load(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotProvisioned)

	cfg := testConfig()
	cfg.AllowedUserIDs = []int64{42, 7}
	_, err = store.Write(cfg)
	require.NoError(t, err)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "123456:ABC", got.BotToken)
	assert.Equal(t, "demo_bot", got.BotUsername)
	assert.Equal(t, []int64{42, 7}, got.AllowedUserIDs)
}
