// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel controls how rich operator output is.
type PersonalityLevel string

const (
	// PersonalityFull enables colors, icons, boxes and the spinner.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard is full output without the spinner animation.
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal uses icons and plain text only.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs plain prefixed lines for scripts and CI.
	PersonalityMachine PersonalityLevel = "machine"
)

// PersonalityEnv overrides the detected level.
const PersonalityEnv = "BOTDEPLOY_PERSONALITY"

// Personality holds the current output settings.
type Personality struct {
	Level PersonalityLevel

	// ShowHints prints follow-up command suggestions after a run.
	ShowHints bool
}

var (
	currentPersonality = DefaultPersonality()
	personalityMu      sync.RWMutex

	// terminalCheck is replaced in tests.
	terminalCheck = func() bool {
		fd := os.Stdout.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
)

// GetPersonality returns the current personality settings.
func GetPersonality() Personality {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// SetPersonality replaces the current personality settings.
func SetPersonality(p Personality) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality = p
}

// SetPersonalityLevel updates just the level.
func SetPersonalityLevel(level PersonalityLevel) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality.Level = level
}

// ParsePersonalityLevel converts a string to a PersonalityLevel. Unknown
// values map to PersonalityStandard.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "f":
		return PersonalityFull
	case "standard", "std", "s":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q", "ci":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// InitPersonality picks the level from an explicit flag value, then
// BOTDEPLOY_PERSONALITY, then whether stdout is a terminal.
func InitPersonality(flagValue string) {
	switch {
	case flagValue != "":
		SetPersonalityLevel(ParsePersonalityLevel(flagValue))
	case os.Getenv(PersonalityEnv) != "":
		SetPersonalityLevel(ParsePersonalityLevel(os.Getenv(PersonalityEnv)))
	case !terminalCheck():
		SetPersonalityLevel(PersonalityMachine)
	default:
		SetPersonalityLevel(PersonalityFull)
	}
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return terminalCheck()
}

// IsInteractive reports whether prompts may be shown.
func IsInteractive() bool {
	return GetPersonality().Level != PersonalityMachine && terminalCheck()
}

// ShouldAnimate reports whether the spinner should animate.
func ShouldAnimate() bool {
	return GetPersonality().Level == PersonalityFull
}

// DefaultPersonality returns the default settings.
func DefaultPersonality() Personality {
	return Personality{Level: PersonalityFull, ShowHints: true}
}
