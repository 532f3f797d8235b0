// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deploy defines the validated deployment configuration and the
// resource names derived from it.
package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultName is the deployment name used when none is configured.
const DefaultName = "telegram-bot"

// SandboxDir is the in-container path of the sandboxed working directory.
// It is exported to the bot as APPROVED_DIRECTORY.
const SandboxDir = "/workspace"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid deployment configuration")

var (
	botTokenRegex = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	nameRegex     = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
)

// Config is the validated input of one deployment run.
//
// # Description
//
// Config is built once from flags, environment and file configuration and
// validated before any side effect. Components receive the values they need
// from Config (or from Names) explicitly; nothing reads fixed names.
//
// # Fields
//
//   - Name: deployment name; prefixes every runtime resource
//   - BotToken: Telegram bot token (secret)
//   - BotUsername: Telegram bot username, without "@"
//   - AllowedUserIDs: Telegram user IDs allowed to talk to the bot
//   - WorkDirectory: host directory bind-mounted as the sandbox
//   - TimeoutSeconds: health polling budget
//   - StateDir: host directory for secrets, locks and history
type Config struct {
	Name           string  `validate:"required,deployname"`
	BotToken       string  `validate:"required,bottoken"`
	BotUsername    string  `validate:"required"`
	AllowedUserIDs []int64 `validate:"required,min=1,dive,gt=0"`
	WorkDirectory  string  `validate:"required"`
	TimeoutSeconds int     `validate:"gt=0"`
	StateDir       string  `validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("bottoken", func(fl validator.FieldLevel) bool {
		return botTokenRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("deployname", func(fl validator.FieldLevel) bool {
		return nameRegex.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks every field. It is called once, before the workflow
// starts.
//
// # Outputs
//
//   - error: wraps ErrInvalidConfig and lists each failing field; nil if valid
func (c *Config) Validate() error {
	c.BotUsername = strings.TrimPrefix(strings.TrimSpace(c.BotUsername), "@")

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fieldFlag(fe.StructField()) + " is required"
	case "bottoken":
		return "bot token must look like <digits>:<secret>"
	case "deployname":
		return "deployment name must be lowercase letters, digits, '.', '_' or '-'"
	case "min":
		return "at least one allowed user ID is required"
	case "gt":
		if strings.HasPrefix(fe.Namespace(), "Config.AllowedUserIDs") {
			return "allowed user IDs must be positive"
		}
		return fieldFlag(fe.StructField()) + " must be positive"
	default:
		return fmt.Sprintf("%s failed %q", fe.StructField(), fe.Tag())
	}
}

// fieldFlag maps a field to the flag an operator would use to set it.
func fieldFlag(field string) string {
	switch field {
	case "BotToken":
		return "--token"
	case "BotUsername":
		return "--username"
	case "AllowedUserIDs":
		return "--user-id"
	case "WorkDirectory":
		return "--work-dir"
	case "TimeoutSeconds":
		return "--timeout"
	case "Name":
		return "--name"
	case "StateDir":
		return "state_dir"
	default:
		return field
	}
}

// AllowedUsersLiteral serializes AllowedUserIDs as a JSON array literal,
// e.g. "[42]" or "[42,7]". This is the exact form the bot parses.
func (c *Config) AllowedUsersLiteral() string {
	ids := c.AllowedUserIDs
	if ids == nil {
		ids = []int64{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// Names returns the resource names derived from the deployment name.
func (c *Config) Names() Names {
	return NewNames(c.Name, c.StateDir)
}

// ParseUserIDs parses --user-id values. Each value may itself be a
// comma-separated list; a single ID becomes a one-element list. Duplicates
// are dropped, first occurrence wins.
func ParseUserIDs(values []string) ([]int64, error) {
	var ids []int64
	seen := make(map[int64]bool)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "[]"))
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: user ID %q is not an integer", ErrInvalidConfig, part)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// =============================================================================
// Names
// =============================================================================

// Names are the runtime resources owned by one deployment.
type Names struct {
	Deployment string
	Instance   string
	Image      string
	AuthVolume string
	DataVolume string
	SecretsDir string
	LockDir    string
}

// NewNames derives all resource names for deployment under stateDir.
func NewNames(deployment, stateDir string) Names {
	if deployment == "" {
		deployment = DefaultName
	}
	return Names{
		Deployment: deployment,
		Instance:   deployment,
		Image:      deployment + ":latest",
		AuthVolume: deployment + "-auth",
		DataVolume: deployment + "-data",
		SecretsDir: filepath.Join(stateDir, deployment, "secrets"),
		LockDir:    stateDir,
	}
}

// AuthContainer returns the name of a throwaway login or status container.
func (n Names) AuthContainer(suffix string) string {
	return n.Deployment + "-auth-" + suffix
}
