// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Name:           DefaultName,
		BotToken:       "123456:ABC",
		BotUsername:    "demo_bot",
		AllowedUserIDs: []int64{42},
		WorkDirectory:  "/home/op/claude-projects",
		TimeoutSeconds: 60,
		StateDir:       "/home/op/.botdeploy",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.BotToken = "" }, "--token is required"},
		{"malformed token", func(c *Config) { c.BotToken = "not-a-token" }, "bot token must look like"},
		{"missing username", func(c *Config) { c.BotUsername = "" }, "--username is required"},
		{"no users", func(c *Config) { c.AllowedUserIDs = nil }, "--user-id is required"},
		{"empty users", func(c *Config) { c.AllowedUserIDs = []int64{} }, "at least one allowed user ID"},
		{"negative user", func(c *Config) { c.AllowedUserIDs = []int64{42, -1} }, "allowed user IDs must be positive"},
		{"missing workdir", func(c *Config) { c.WorkDirectory = "" }, "--work-dir is required"},
		{"zero timeout", func(c *Config) { c.TimeoutSeconds = 0 }, "--timeout must be positive"},
		{"bad name", func(c *Config) { c.Name = "Bad Name" }, "deployment name must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_StripsAt(t *testing.T) {
	c := validConfig()
	c.BotUsername = " @demo_bot "
	require.NoError(t, c.Validate())
	assert.Equal(t, "demo_bot", c.BotUsername)
}

func TestConfig_AllowedUsersLiteral(t *testing.T) {
	c := validConfig()
	assert.Equal(t, "[42]", c.AllowedUsersLiteral())

	c.AllowedUserIDs = []int64{42, 7}
	assert.Equal(t, "[42,7]", c.AllowedUsersLiteral())

	c.AllowedUserIDs = nil
	assert.Equal(t, "[]", c.AllowedUsersLiteral())
}

func TestParseUserIDs(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []int64
		wantErr bool
	}{
		{"single wraps", []string{"42"}, []int64{42}, false},
		{"repeated", []string{"42", "7"}, []int64{42, 7}, false},
		{"comma list", []string{"42, 7,9"}, []int64{42, 7, 9}, false},
		{"bracketed", []string{"[42,7]"}, []int64{42, 7}, false},
		{"dedupe", []string{"42", "42,7"}, []int64{42, 7}, false},
		{"empty", nil, nil, false},
		{"garbage", []string{"abc"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUserIDs(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNames(t *testing.T) {
	n := NewNames("mybot", "/state")
	assert.Equal(t, "mybot", n.Instance)
	assert.Equal(t, "mybot:latest", n.Image)
	assert.Equal(t, "mybot-auth", n.AuthVolume)
	assert.Equal(t, "mybot-data", n.DataVolume)
	assert.Equal(t, "/state/mybot/secrets", n.SecretsDir)
	assert.Equal(t, "mybot-auth-1a2b3c4d", n.AuthContainer("1a2b3c4d"))

	assert.Equal(t, DefaultName, NewNames("", "/state").Instance)
}
