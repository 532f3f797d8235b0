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
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// ErrPromptAborted is returned when the operator aborts a prompt (Ctrl-C).
var ErrPromptAborted = errors.New("prompt aborted")

// PromptOption is one choice of a select prompt.
type PromptOption struct {
	Label       string
	Description string
	Value       string
	Recommended bool
}

// maxOptionWidth bounds the rendered option label.
const maxOptionWidth = 64

// botdeployTheme returns the huh theme matching the output palette.
func botdeployTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Base = t.Focused.Base.BorderForeground(ColorTealDeep)
	t.Focused.Title = t.Focused.Title.Foreground(ColorTealBright).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorSlate)
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(ColorError)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(ColorError)
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(ColorTealBright)
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(ColorTealPrimary)
	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(ColorTealBright)
	t.Focused.TextInput.Prompt = t.Focused.TextInput.Prompt.Foreground(ColorTealPrimary)
	t.Focused.FocusedButton = t.Focused.FocusedButton.
		Foreground(lipgloss.Color("#0F1923")).
		Background(ColorTealBright)

	t.Blurred = t.Focused
	t.Blurred.Base = t.Blurred.Base.BorderStyle(lipgloss.HiddenBorder())
	return t
}

func runForm(ctx context.Context, field huh.Field) error {
	err := huh.NewForm(huh.NewGroup(field)).
		WithTheme(botdeployTheme()).
		WithAccessible(GetPersonality().Level == PersonalityMinimal).
		RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrPromptAborted
	}
	return err
}

// AskInput prompts for one line of text. Secret input is not echoed.
// validate may be nil.
func AskInput(ctx context.Context, title, description string, secret bool, validate func(string) error) (string, error) {
	var value string
	in := huh.NewInput().
		Title(title).
		Description(description).
		Value(&value)
	if secret {
		in = in.EchoMode(huh.EchoModePassword)
	}
	if validate != nil {
		in = in.Validate(validate)
	}
	if err := runForm(ctx, in); err != nil {
		return "", err
	}
	return value, nil
}

// AskSelect prompts for one of options and returns its Value. The first
// recommended option is preselected.
func AskSelect(ctx context.Context, title string, options []PromptOption) (string, error) {
	if len(options) == 0 {
		return "", errors.New("no options to choose from")
	}

	value := options[0].Value
	opts := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		label := o.Label
		if o.Recommended {
			label += " (recommended)"
			value = o.Value
		}
		if o.Description != "" {
			label = fmt.Sprintf("%s - %s", label, o.Description)
		}
		opts = append(opts, huh.NewOption(truncate(label, maxOptionWidth), o.Value))
	}

	sel := huh.NewSelect[string]().
		Title(title).
		Options(opts...).
		Value(&value)
	if err := runForm(ctx, sel); err != nil {
		return "", err
	}
	return value, nil
}

// AskConfirm asks a yes/no question.
func AskConfirm(ctx context.Context, title string, def bool) (bool, error) {
	value := def
	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)
	if err := runForm(ctx, c); err != nil {
		return false, err
	}
	return value, nil
}

// truncate shortens s to maxLen runes, ending in "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
