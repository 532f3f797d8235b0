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
Package secrets persists deployment credentials as owner-only files.

# Security Context

The bot token grants full control of the Telegram bot. Confidentiality relies
on filesystem permission bits only: the directory is 0700 and every file is
0600. There is no encryption at rest.

  - Secret values are never logged; only file names are
  - Files are written atomically (temp file + rename) so a crash never leaves
    a truncated token behind
  - Permissions are set explicitly with chmod, independent of umask

# Layout

	<dir>/
	  bot_token.txt      Telegram bot token
	  bot_username.txt   bot username
	  allowed_users.txt  JSON array literal, e.g. [42]
*/
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/deploy"
)

// File names inside the secrets directory.
const (
	TokenFile        = "bot_token.txt"
	UsernameFile     = "bot_username.txt"
	AllowedUsersFile = "allowed_users.txt"
)

const (
	dirMode  os.FileMode = 0o700
	fileMode os.FileMode = 0o600
)

// ErrNotProvisioned is returned by Load when no secrets have been written.
var ErrNotProvisioned = errors.New("secrets not provisioned")

// Secrets are the values held by a Store.
type Secrets struct {
	BotToken       string
	BotUsername    string
	AllowedUserIDs []int64
}

// Store writes and reads the three secret files of one deployment.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir. The directory is created on the
// first Write.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the secrets directory.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists the identity fields of cfg.
//
// # Description
//
// Creates the directory with 0700 (tightening it if it already exists) and
// writes exactly three files with 0600. Re-running overwrites prior values.
//
// # Inputs
//
//   - cfg: a validated deployment configuration
//
// # Outputs
//
//   - []string: absolute paths of the written files
//   - error: any filesystem failure; the workflow treats it as fatal
func (s *Store) Write(cfg *deploy.Config) ([]string, error) {
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return nil, fmt.Errorf("create secrets directory: %w", err)
	}
	if err := os.Chmod(s.dir, dirMode); err != nil {
		return nil, fmt.Errorf("restrict secrets directory: %w", err)
	}

	files := []struct {
		name  string
		value string
	}{
		{TokenFile, cfg.BotToken},
		{UsernameFile, cfg.BotUsername},
		{AllowedUsersFile, cfg.AllowedUsersLiteral()},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(s.dir, f.name)
		if err := writeAtomic(path, []byte(f.value)); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		paths = append(paths, path)
	}

	s.logger.Info("secrets written", "dir", s.dir, "files", len(paths))
	return paths, nil
}

// Load reads previously written secrets.
//
// Returns ErrNotProvisioned when the token file does not exist.
func (s *Store) Load() (*Secrets, error) {
	token, err := readTrimmed(filepath.Join(s.dir, TokenFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotProvisioned
	}
	if err != nil {
		return nil, err
	}
	username, err := readTrimmed(filepath.Join(s.dir, UsernameFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	users, err := readTrimmed(filepath.Join(s.dir, AllowedUsersFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var ids []int64
	if users != "" {
		ids, err = deploy.ParseUserIDs([]string{users})
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", AllowedUsersFile, err)
		}
	}
	return &Secrets{BotToken: token, BotUsername: username, AllowedUserIDs: ids}, nil
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// writeAtomic writes data to a temp file in the same directory, restricts
// it, and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	return os.Chmod(path, fileMode)
}
