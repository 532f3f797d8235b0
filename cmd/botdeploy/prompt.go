// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/deploy"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/workflow"
	"github.com/AleutianAI/botdeploy/pkg/ux"
)

// Prompter asks the operator for identity fields that no flag, variable,
// config file or stored secret supplied.
type Prompter interface {
	Token(ctx context.Context) (string, error)
	Username(ctx context.Context) (string, error)
	UserIDs(ctx context.Context) ([]int64, error)
}

// terminalPrompter prompts with huh forms.
type terminalPrompter struct{}

func (terminalPrompter) Token(ctx context.Context) (string, error) {
	v, err := ux.AskInput(ctx, "Telegram bot token", "From @BotFather, e.g. 123456789:ABC-DEF...", true, notBlank("token"))
	return strings.TrimSpace(v), promptError(err)
}

func (terminalPrompter) Username(ctx context.Context) (string, error) {
	v, err := ux.AskInput(ctx, "Bot username", "Without the leading @", false, notBlank("username"))
	return strings.TrimPrefix(strings.TrimSpace(v), "@"), promptError(err)
}

func (terminalPrompter) UserIDs(ctx context.Context) ([]int64, error) {
	validate := func(s string) error {
		ids, err := deploy.ParseUserIDs([]string{s})
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return errors.New("at least one user ID is required")
		}
		return nil
	}
	v, err := ux.AskInput(ctx, "Allowed Telegram user IDs", "Comma separated; ask @userinfobot for yours", false, validate)
	if err != nil {
		return nil, promptError(err)
	}
	return deploy.ParseUserIDs([]string{v})
}

func notBlank(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// promptError turns an aborted prompt into a cancelled run.
func promptError(err error) error {
	if errors.Is(err, ux.ErrPromptAborted) {
		return &workflow.StepError{Step: "prompt", Kind: workflow.KindCancelled, Err: err}
	}
	return err
}

var _ Prompter = terminalPrompter{}
