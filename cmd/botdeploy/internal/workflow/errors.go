// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal workflow failure.
type Kind string

const (
	KindPrecondition   Kind = "precondition"
	KindSecrets        Kind = "secrets"
	KindBuild          Kind = "build"
	KindAuthentication Kind = "authentication"
	KindLaunch         Kind = "launch"
	KindUnhealthy      Kind = "unhealthy"
	KindCancelled      Kind = "cancelled"
)

// Exit codes returned by the CLI for each Kind.
const (
	ExitOK             = 0
	ExitOther          = 1
	ExitPrecondition   = 2
	ExitSecrets        = 3
	ExitBuild          = 4
	ExitAuthentication = 5
	ExitLaunch         = 6
	ExitUnhealthy      = 7
	ExitCancelled      = 130
)

// StepError is a fatal failure of one workflow step.
type StepError struct {
	Step string
	Kind Kind
	Err  error
}

// Error returns "<step>: <cause>".
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Unwrap returns the cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

var _ error = (*StepError)(nil)

// KindOf returns the Kind of the first StepError in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// ExitCode maps err to the process exit code. nil maps to ExitOK.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindPrecondition:
		return ExitPrecondition
	case KindSecrets:
		return ExitSecrets
	case KindBuild:
		return ExitBuild
	case KindAuthentication:
		return ExitAuthentication
	case KindLaunch:
		return ExitLaunch
	case KindUnhealthy:
		return ExitUnhealthy
	case KindCancelled:
		return ExitCancelled
	default:
		return ExitOther
	}
}
