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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Locker serializes workflow runs that share a deployment name.
type Locker interface {
	// Acquire takes the lock without blocking. Returns *ErrLockHeld when
	// another process owns it.
	Acquire() error

	// Release drops the lock. Safe to call when not held.
	Release() error

	// IsHeld reports whether this instance holds the lock.
	IsHeld() bool
}

// Lock is a flock(2)-based advisory lock keyed by deployment name.
//
// # Description
//
// Two `botdeploy deploy` runs against the same deployment would race on the
// singleton instance (one stopping what the other just started). Lock makes
// the second run fail fast instead.
//
// # How It Works
//
//  1. Opens (creating if needed) {Dir}/{Name}.lock
//  2. Takes a non-blocking exclusive flock
//  3. Writes the holder PID to {Dir}/{Name}.pid for diagnostics
//
// # Limitations
//
//   - Advisory only
//   - Network filesystems may not honour flock
//   - Not safe for concurrent use from multiple goroutines
type Lock struct {
	lockPath string
	pidPath  string
	file     *os.File
	held     bool
}

// NewLock creates a Lock for name under dir. dir is created with 0700 if
// missing when Acquire is called.
func NewLock(dir, name string) *Lock {
	return &Lock{
		lockPath: filepath.Join(dir, name+".lock"),
		pidPath:  filepath.Join(dir, name+".pid"),
	}
}

// Acquire implements Locker.
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", l.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &ErrLockHeld{HolderPID: l.readHolderPID(), LockPath: l.lockPath}
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	l.file = f
	l.held = true

	// PID file is informational only.
	_ = os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
	return nil
}

// Release implements Locker.
func (l *Lock) Release() error {
	if !l.held || l.file == nil {
		return nil
	}

	_ = os.Remove(l.pidPath)
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil
	l.held = false

	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// IsHeld implements Locker.
func (l *Lock) IsHeld() bool {
	return l.held
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.lockPath
}

func (l *Lock) readHolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// ErrLockHeld is returned when another process holds the deployment lock.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

// Error implements the error interface.
func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another deployment is in progress (PID %d); if stale, remove %s", e.HolderPID, e.LockPath)
	}
	return fmt.Sprintf("another deployment is in progress (check: lsof %s)", e.LockPath)
}

var _ Locker = (*Lock)(nil)
