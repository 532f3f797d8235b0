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
	"bytes"
	"strings"
	"testing"
)

// withOutput captures output at the given level for the duration of a test.
func withOutput(t *testing.T, level PersonalityLevel) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prev := GetPersonality()
	SetOutput(&out, &errOut)
	SetPersonalityLevel(level)
	t.Cleanup(func() {
		SetOutput(nil, nil)
		SetPersonality(prev)
	})
	return &out, &errOut
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconSkipped, IconArrow} {
		if !strings.Contains(icon.Render(), string(icon)) {
			t.Errorf("Render(%q) lost the glyph", icon)
		}
	}
}

// =============================================================================
// Message Tests
// =============================================================================

func TestMessages_MachineMode(t *testing.T) {
	out, errOut := withOutput(t, PersonalityMachine)

	Title("Deploying")
	Success("instance started")
	Warning("may still be initializing")
	Error("build failed")
	Info("image telegram-bot:latest")
	Muted("hidden")

	wantOut := "OK: instance started\nimage telegram-bot:latest\n"
	if out.String() != wantOut {
		t.Errorf("stdout = %q, want %q", out.String(), wantOut)
	}
	wantErr := "WARN: may still be initializing\nERROR: build failed\n"
	if errOut.String() != wantErr {
		t.Errorf("stderr = %q, want %q", errOut.String(), wantErr)
	}
}

func TestMessages_FullMode(t *testing.T) {
	out, errOut := withOutput(t, PersonalityFull)

	Title("Deploying")
	Success("instance started")
	Error("build failed")

	if !strings.Contains(out.String(), "Deploying") {
		t.Error("title missing")
	}
	if !strings.Contains(out.String(), string(IconSuccess)) {
		t.Error("success icon missing")
	}
	if !strings.Contains(errOut.String(), "build failed") {
		t.Error("errors should go to stderr")
	}
}

func TestStep(t *testing.T) {
	tests := []struct {
		level PersonalityLevel
		icon  Icon
		want  string
	}{
		{PersonalityMachine, IconSuccess, "STEP\tok\tbuild\t12s\n"},
		{PersonalityMachine, IconSkipped, "STEP\tskipped\tverify\t12s\n"},
		{PersonalityMachine, IconError, "STEP\tfailed\tauth\t12s\n"},
	}
	for _, tt := range tests {
		out, _ := withOutput(t, tt.level)
		name := map[Icon]string{IconSuccess: "build", IconSkipped: "verify", IconError: "auth"}[tt.icon]
		Step(name, tt.icon, "12s")
		if out.String() != tt.want {
			t.Errorf("Step() = %q, want %q", out.String(), tt.want)
		}
	}
}

func TestStep_StandardShowsDetail(t *testing.T) {
	out, _ := withOutput(t, PersonalityStandard)
	Step("health", IconWarning, "timed out")
	if !strings.Contains(out.String(), "health") || !strings.Contains(out.String(), "timed out") {
		t.Errorf("Step() = %q", out.String())
	}
}

// =============================================================================
// Block Tests
// =============================================================================

func TestKeyValues_Machine(t *testing.T) {
	withOutput(t, PersonalityMachine)
	got := KeyValues([]KV{{"instance", "telegram-bot"}, {"allowed_users", "[42]"}})
	want := "instance=telegram-bot\nallowed_users=[42]"
	if got != want {
		t.Errorf("KeyValues() = %q, want %q", got, want)
	}
}

func TestSummaryBox(t *testing.T) {
	out, _ := withOutput(t, PersonalityFull)
	SummaryBox("Deployment complete", []KV{{"instance", "telegram-bot"}})
	s := out.String()
	if !strings.Contains(s, "Deployment complete") || !strings.Contains(s, "telegram-bot") {
		t.Errorf("SummaryBox() = %q", s)
	}
	if !strings.Contains(s, "╭") {
		t.Error("expected a rounded border")
	}
}

func TestErrorBox_Machine(t *testing.T) {
	_, errOut := withOutput(t, PersonalityMachine)
	ErrorBox("Recent logs", "line1\nline2")
	if errOut.String() != "ERROR Recent logs:\nline1\nline2\n" {
		t.Errorf("ErrorBox() = %q", errOut.String())
	}
}

func TestBullets(t *testing.T) {
	withOutput(t, PersonalityMachine)
	if got := Bullets([]string{"a", "b"}); got != "- a\n- b" {
		t.Errorf("Bullets() = %q", got)
	}
}
