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
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// envVarKeyPattern enforces POSIX variable names.
var envVarKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidEnvVarKey is returned when an environment variable key is invalid.
var ErrInvalidEnvVarKey = fmt.Errorf("invalid environment variable key")

// =============================================================================
// EnvVar
// =============================================================================

// EnvVar is one environment variable destined for a container.
//
// Sensitive values are replaced by [REDACTED] in Redacted() so the launcher
// can log the full environment it passes without leaking the bot token.
type EnvVar struct {
	Key       string
	Value     string
	Sensitive bool
}

// String returns KEY=VALUE.
func (e EnvVar) String() string {
	return e.Key + "=" + e.Value
}

// Redacted returns KEY=[REDACTED] for sensitive vars, otherwise String().
func (e EnvVar) Redacted() string {
	if e.Sensitive {
		return e.Key + "=[REDACTED]"
	}
	return e.String()
}

// Validate checks the key against POSIX naming rules.
func (e EnvVar) Validate() error {
	if !envVarKeyPattern.MatchString(e.Key) {
		return fmt.Errorf("%w: %q", ErrInvalidEnvVarKey, e.Key)
	}
	return nil
}

// =============================================================================
// EnvVars
// =============================================================================

// EnvVars is an ordered, key-unique set of environment variables.
//
// # Description
//
// Insertion order is preserved so generated runtime arguments are stable
// across runs. Set replaces an existing key in place; SetDefault only adds
// a key that is not already present, which is how user-supplied extras are
// layered under the identity variables.
//
// # Thread Safety
//
// Not safe for concurrent mutation.
type EnvVars struct {
	vars []EnvVar
}

// NewEnvVars returns an empty set.
func NewEnvVars() *EnvVars {
	return &EnvVars{}
}

// Set adds or replaces key.
func (e *EnvVars) Set(key, value string, sensitive bool) error {
	ev := EnvVar{Key: key, Value: value, Sensitive: sensitive}
	if err := ev.Validate(); err != nil {
		return err
	}
	for i := range e.vars {
		if e.vars[i].Key == key {
			e.vars[i] = ev
			return nil
		}
	}
	e.vars = append(e.vars, ev)
	return nil
}

// SetDefault adds key only when it is not already set. It reports whether
// the value was applied.
func (e *EnvVars) SetDefault(key, value string) (bool, error) {
	if e.Has(key) {
		return false, nil
	}
	return true, e.Set(key, value, isSensitiveKey(key))
}

// SetAllDefaults applies SetDefault for every entry of m in sorted key order
// and returns the keys that were shadowed by existing values.
func (e *EnvVars) SetAllDefaults(m map[string]string) ([]string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var shadowed []string
	for _, k := range keys {
		applied, err := e.SetDefault(k, m[k])
		if err != nil {
			return shadowed, err
		}
		if !applied {
			shadowed = append(shadowed, k)
		}
	}
	return shadowed, nil
}

// Get returns the value for key, or "".
func (e *EnvVars) Get(key string) string {
	if e == nil {
		return ""
	}
	for _, v := range e.vars {
		if v.Key == key {
			return v.Value
		}
	}
	return ""
}

// Has reports whether key is set.
func (e *EnvVars) Has(key string) bool {
	if e == nil {
		return false
	}
	for _, v := range e.vars {
		if v.Key == key {
			return true
		}
	}
	return false
}

// Len returns the number of variables.
func (e *EnvVars) Len() int {
	if e == nil {
		return 0
	}
	return len(e.vars)
}

// Keys returns the keys in insertion order.
func (e *EnvVars) Keys() []string {
	if e == nil {
		return nil
	}
	keys := make([]string, len(e.vars))
	for i, v := range e.vars {
		keys[i] = v.Key
	}
	return keys
}

// ToSlice returns KEY=VALUE strings suitable for exec.Cmd.Env.
func (e *EnvVars) ToSlice() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.vars))
	for i, v := range e.vars {
		out[i] = v.String()
	}
	return out
}

// RedactedSlice returns KEY=VALUE strings with sensitive values masked.
func (e *EnvVars) RedactedSlice() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.vars))
	for i, v := range e.vars {
		out[i] = v.Redacted()
	}
	return out
}

// isSensitiveKey detects common secret-bearing variable names.
func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range []string{"TOKEN", "SECRET", "PASSWORD", "CREDENTIAL", "API_KEY"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
