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
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewSpinner_Defaults(t *testing.T) {
	s := NewSpinner("building image")
	if s.Message() != "building image" {
		t.Errorf("message = %q", s.Message())
	}
	if s.spinType != SpinnerDots {
		t.Errorf("spinType = %v, want SpinnerDots", s.spinType)
	}
	if s.WithType(SpinnerCompass).spinType != SpinnerCompass {
		t.Error("WithType did not apply")
	}
}

func TestSpinner_MachineModePrintsOnce(t *testing.T) {
	out, _ := withOutput(t, PersonalityMachine)

	s := NewSpinner("waiting for healthy")
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()

	if out.String() != "PROGRESS: waiting for healthy\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestSpinner_FullModeAnimatesAndClears(t *testing.T) {
	out, _ := withOutput(t, PersonalityFull)

	s := NewSpinner("building")
	s.Start()
	time.Sleep(3 * spinnerTick)
	s.UpdateMessage("still building")
	time.Sleep(3 * spinnerTick)
	s.Stop()

	got := out.String()
	if !strings.Contains(got, "still building") {
		t.Errorf("updated message not rendered: %q", got)
	}
	if !strings.HasSuffix(got, "\r\033[K") {
		t.Errorf("line not cleared: %q", got)
	}
}

func TestSpinner_StopWithWarning(t *testing.T) {
	_, errOut := withOutput(t, PersonalityMachine)
	s := NewSpinner("health")
	s.Start()
	s.StopWithWarning("timed out")
	if errOut.String() != "WARN: timed out\n" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestWithSpinner(t *testing.T) {
	out, errOut := withOutput(t, PersonalityMachine)

	if err := WithSpinner("write secrets", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "OK: write secrets") {
		t.Errorf("stdout = %q", out.String())
	}

	boom := errors.New("disk full")
	if err := WithSpinner("write secrets", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if !strings.Contains(errOut.String(), "ERROR: write secrets: disk full") {
		t.Errorf("stderr = %q", errOut.String())
	}
}
