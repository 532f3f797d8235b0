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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// BOTDEPLOY_RUNTIME_BINARY=podman or BOTDEPLOY_HEALTH_INTERVAL=3s.
const EnvPrefix = "BOTDEPLOY"

const fileHeader = `# botdeploy configuration
#
# Every key can be overridden with an environment variable named
# BOTDEPLOY_<SECTION>_<KEY>, e.g. BOTDEPLOY_RUNTIME_BINARY=podman.
# The bot token is never written here; pass --token or BOTDEPLOY_TOKEN.

`

// DefaultPath returns ~/.botdeploy/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".botdeploy", "config.yaml"), nil
}

// Load reads the configuration.
//
// # Description
//
// Values are layered, lowest first: DefaultConfig, the YAML file at path,
// then BOTDEPLOY_* environment variables. Command-line flags are applied
// on top by the caller. An empty path uses DefaultPath; if that file does
// not exist it is created with the defaults (first run). An explicit path
// that does not exist is an error.
//
// # Outputs
//
//   - *BotDeployConfig: the merged configuration
//   - string: the file that was read
//   - error: unreadable or malformed file
func Load(path string) (*BotDeployConfig, string, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, "", err
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit {
			return nil, path, fmt.Errorf("config file %s not found", path)
		}
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := WriteDefault(path); err != nil {
			return nil, path, err
		}
	}

	v, err := newViper(path)
	if err != nil {
		return nil, path, err
	}

	var cfg BotDeployConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, path, fmt.Errorf("failed to decode the config %s: %w", path, err)
	}
	// viper lower-cases map keys; variables and build args are upper case.
	cfg.Service.Env = upperKeys(cfg.Service.Env)
	cfg.Image.BuildArgs = upperKeys(cfg.Image.BuildArgs)
	return &cfg, path, nil
}

func upperKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// newViper seeds viper with the defaults so every key is known to
// AutomaticEnv, then merges the file over them.
func newViper(path string) (*viper.Viper, error) {
	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// The token is not in the file, so AutomaticEnv would not see it.
	if err := v.BindEnv("deployment.token", EnvPrefix+"_TOKEN", EnvPrefix+"_DEPLOYMENT_TOKEN"); err != nil {
		return nil, err
	}
	return v, nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
func WriteDefault(path string) error {
	return Write(path, DefaultConfig())
}

// Write marshals cfg to path without the token.
func Write(path string, cfg BotDeployConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	cfg.Deployment.Token = ""
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(fileHeader), data...), 0o644)
}

// Marshal renders cfg as YAML with the token redacted.
func Marshal(cfg BotDeployConfig) ([]byte, error) {
	return yaml.Marshal(cfg.Redacted())
}
