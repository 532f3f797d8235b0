// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"time"
)

// Defaults used when the file leaves a value empty.
const (
	DefaultDeploymentName = "telegram-bot"
	DefaultTimeoutSeconds = 60
	DefaultHealthInterval = 2 * time.Second
	DefaultRuntime        = "docker"
	DefaultAuthMode       = "always"
	DefaultTTYMode        = "auto"
	DefaultRestartPolicy  = "on-failure"
	DefaultLogLevel       = "info"
	DefaultHistoryRuns    = 100
	DefaultLogTail        = 50
)

type BotDeployConfig struct {
	// Deployment: identity of the bot. The token is never stored here; it
	// comes from --token, BOTDEPLOY_TOKEN or the secret store.
	Deployment DeploymentConfig `yaml:"deployment" mapstructure:"deployment"`

	// Runtime: which container CLI to drive and how
	Runtime RuntimeConfig `yaml:"runtime" mapstructure:"runtime"`

	// Image: where the bot source lives and how to build it
	Image ImageConfig `yaml:"image" mapstructure:"image"`

	// Auth: the assistant CLI login
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Service: the long-lived instance
	Service ServiceConfig `yaml:"service" mapstructure:"service"`

	Health  HealthConfig  `yaml:"health" mapstructure:"health"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`

	// StateDir holds secrets, locks and run history
	StateDir string `yaml:"state_dir" mapstructure:"state_dir"`

	// MetricsFile, when set, receives Prometheus textfile metrics
	MetricsFile string `yaml:"metrics_file" mapstructure:"metrics_file"`
}

type DeploymentConfig struct {
	Name           string  `yaml:"name" mapstructure:"name"`
	Token          string  `yaml:"token,omitempty" mapstructure:"token"`
	Username       string  `yaml:"username" mapstructure:"username"`
	UserIDs        []int64 `yaml:"user_ids" mapstructure:"user_ids"`
	WorkDir        string  `yaml:"work_dir" mapstructure:"work_dir"`
	TimeoutSeconds int     `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type RuntimeConfig struct {
	Binary  string `yaml:"binary" mapstructure:"binary"`     // docker or podman
	UseSudo bool   `yaml:"use_sudo" mapstructure:"use_sudo"` // right after a fresh install
	TTY     string `yaml:"tty" mapstructure:"tty"`           // auto, always, never
}

type ImageConfig struct {
	BuildContext  string            `yaml:"build_context" mapstructure:"build_context"`
	Dockerfile    string            `yaml:"dockerfile" mapstructure:"dockerfile"`
	Tags          []string          `yaml:"tags" mapstructure:"tags"`
	BuildArgs     map[string]string `yaml:"build_args" mapstructure:"build_args"`
	Pull          bool              `yaml:"pull" mapstructure:"pull"`
	Repo          string            `yaml:"repo" mapstructure:"repo"`
	Ref           string            `yaml:"ref" mapstructure:"ref"`
	VerifyCommand string            `yaml:"verify_command" mapstructure:"verify_command"`
	SkipVerify    bool              `yaml:"skip_verify" mapstructure:"skip_verify"`
}

type AuthConfig struct {
	Mode            string   `yaml:"mode" mapstructure:"mode"` // always, if-needed, skip
	CLI             string   `yaml:"cli" mapstructure:"cli"`
	LoginArgs       []string `yaml:"login_args" mapstructure:"login_args"`
	StatusArgs      []string `yaml:"status_args" mapstructure:"status_args"`
	CredentialsPath string   `yaml:"credentials_path" mapstructure:"credentials_path"`
}

type ServiceConfig struct {
	RestartPolicy string            `yaml:"restart_policy" mapstructure:"restart_policy"`
	AuthMountPath string            `yaml:"auth_mount_path" mapstructure:"auth_mount_path"`
	DataMountPath string            `yaml:"data_mount_path" mapstructure:"data_mount_path"`
	SandboxPath   string            `yaml:"sandbox_path" mapstructure:"sandbox_path"`
	Env           map[string]string `yaml:"env" mapstructure:"env"`
	EnvFile       string            `yaml:"env_file" mapstructure:"env_file"`
	LogTail       int               `yaml:"log_tail" mapstructure:"log_tail"`
	// Labels are extra container labels as "key=value". A list rather
	// than a map because label keys are dotted.
	Labels []string `yaml:"labels" mapstructure:"labels"`
}

type HealthConfig struct {
	// Interval between polls, as a Go duration ("2s")
	Interval string `yaml:"interval" mapstructure:"interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	Dir   string `yaml:"dir" mapstructure:"dir"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

type HistoryConfig struct {
	MaxRuns int `yaml:"max_runs" mapstructure:"max_runs"`
}

// GetInterval returns the health poll interval, falling back to
// DefaultHealthInterval when empty or unparsable.
func (h HealthConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(h.Interval)
	if err != nil || d <= 0 {
		return DefaultHealthInterval
	}
	return d
}

// GetTimeoutSeconds returns the health timeout budget in seconds. Zero uses
// DefaultTimeoutSeconds; a negative value is kept so validation rejects it.
func (d DeploymentConfig) GetTimeoutSeconds() int {
	if d.TimeoutSeconds == 0 {
		return DefaultTimeoutSeconds
	}
	return d.TimeoutSeconds
}

// GetName returns the deployment name or DefaultDeploymentName.
func (d DeploymentConfig) GetName() string {
	if d.Name == "" {
		return DefaultDeploymentName
	}
	return d.Name
}

// HistoryDir is where the run history database lives.
func (c *BotDeployConfig) HistoryDir() string {
	return filepath.Join(c.StateDir, "history")
}

// Redacted returns a copy safe to print.
func (c BotDeployConfig) Redacted() BotDeployConfig {
	if c.Deployment.Token != "" {
		c.Deployment.Token = "********"
	}
	return c
}

func DefaultConfig() BotDeployConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	stateDir := filepath.Join(home, ".botdeploy")

	return BotDeployConfig{
		Deployment: DeploymentConfig{
			Name:           DefaultDeploymentName,
			UserIDs:        []int64{},
			WorkDir:        filepath.Join(home, "claude-projects"),
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Runtime: RuntimeConfig{
			Binary: DefaultRuntime,
			TTY:    DefaultTTYMode,
		},
		Image: ImageConfig{
			BuildContext: filepath.Join(stateDir, DefaultDeploymentName, "src"),
			Tags:         []string{},
			BuildArgs:    map[string]string{},
			Repo:         "",
			Ref:          "",
		},
		Auth: AuthConfig{
			Mode:            DefaultAuthMode,
			CLI:             "claude",
			LoginArgs:       []string{"login"},
			StatusArgs:      []string{"auth", "status"},
			CredentialsPath: "/home/botuser/.claude",
		},
		Service: ServiceConfig{
			RestartPolicy: DefaultRestartPolicy,
			AuthMountPath: "/home/botuser/.claude",
			DataMountPath: "/app/data",
			SandboxPath:   "/workspace",
			Env:           map[string]string{},
			LogTail:       DefaultLogTail,
		},
		Health: HealthConfig{
			Interval: DefaultHealthInterval.String(),
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		History: HistoryConfig{
			MaxRuns: DefaultHistoryRuns,
		},
		StateDir: stateDir,
	}
}
