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
	"strings"
)

// =============================================================================
// Command Error Type
// =============================================================================

// CommandError wraps a failed external command with its captured output.
//
// # Description
//
// Every call to the container runtime or git that exits non-zero is reported
// as a CommandError. The raw stderr is kept verbatim so build failures can be
// shown to the operator exactly as the tool printed them.
//
// # Example
//
//	err := NewCommandError("docker build", 1, "failed to solve: ...", nil)
//	fmt.Println(err) // "docker build (exit 1): failed to solve: ..."
//
//	var cmdErr *CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Println(cmdErr.Stderr)
//	}
//
// # Limitations
//
//   - Stderr is held in memory in full
type CommandError struct {
	// Command is a short human-readable form of the command ("docker build").
	Command string

	// ExitCode is the process exit code (-1 if the process never exited).
	ExitCode int

	// Stderr is the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error returns "<command> (exit N): <stderr or wrapped error>".
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, lastLine(e.Stderr))
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap enables errors.Is and errors.As through the chain.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether any stderr output was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

var _ error = (*CommandError)(nil)

// NewCommandError creates a CommandError, trimming surrounding whitespace
// from stderr.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExtractStderr walks the error chain and returns the first non-empty
// captured stderr, or "" when there is none.
//
// # Description
//
// The CLI uses this to dump the raw tool output beneath a fatal error
// message, so a failing `docker build` shows its own diagnostics.
//
// # Inputs
//
//   - err: Error to inspect (may be nil)
//
// # Outputs
//
//   - string: Captured stderr, or empty string
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.HasStderr() {
		return cmdErr.Stderr
	}
	return ""
}

// TailLines returns at most n trailing lines of s.
func TailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if n <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// lastLine keeps Error() to one line; the full stderr stays on the struct.
func lastLine(s string) string {
	return TailLines(s, 1)
}
