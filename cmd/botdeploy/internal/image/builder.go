// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package image builds and verifies the bot image.
package image

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/util"
)

//go:embed assets/Dockerfile
var embeddedDockerfile []byte

// DefaultVerifyCommand checks the runtime libraries import and the
// assistant CLI answers its version command.
const DefaultVerifyCommand = `python -c 'import telegram, pydantic_settings, PIL' && claude --version`

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrNoBuildContext is returned when the build context directory is missing.
	ErrNoBuildContext = errors.New("build context not found")

	// ErrCheckout is returned when the source repository cannot be fetched.
	ErrCheckout = errors.New("source checkout failed")

	// ErrBuildFailed is returned when the image build exits non-zero.
	ErrBuildFailed = errors.New("image build failed")

	// ErrVerifyFailed is returned when the post-build diagnostic fails.
	ErrVerifyFailed = errors.New("image verification failed")
)

// =============================================================================
// Types
// =============================================================================

// Spec describes what to build.
type Spec struct {
	ContextDir string
	// Dockerfile path. Empty means <ContextDir>/Dockerfile; if that file is
	// missing the embedded Dockerfile is written there.
	Dockerfile string
	// Tags; the first is the primary tag used for verification.
	Tags      []string
	BuildArgs map[string]string
	Pull      bool
}

// Source is an optional git checkout into the build context.
type Source struct {
	Repo string
	// Ref is a branch or tag. Empty uses the remote default branch.
	Ref string
}

// BuildResult is the outcome of Build.
type BuildResult struct {
	ImageTag string
	Success  bool
	// Output is the build tool's diagnostic output on failure.
	Output string
	// DockerfileWritten is set when the embedded Dockerfile was used.
	DockerfileWritten bool
}

// Builder builds, verifies and (optionally) fetches the source of the bot
// image.
type Builder struct {
	runtime container.Runtime
	pm      process.Manager
	logger  *slog.Logger
}

// NewBuilder creates a Builder. pm is only used for git.
func NewBuilder(rt container.Runtime, pm process.Manager, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{runtime: rt, pm: pm, logger: logger}
}

// =============================================================================
// Source Checkout
// =============================================================================

// Checkout clones src into dir, or fast-forwards an existing clone.
//
// # Outputs
//
//   - string: short commit hash of HEAD after the checkout
//   - error: wraps ErrCheckout
func (b *Builder) Checkout(ctx context.Context, src Source, dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		b.logger.Info("updating source", "dir", dir)
		if err := b.git(ctx, "", "-C", dir, "pull", "--ff-only"); err != nil {
			return "", err
		}
	} else {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
			return "", fmt.Errorf("%w: %s exists and is not a git repository", ErrCheckout, dir)
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return "", fmt.Errorf("%w: %w", ErrCheckout, err)
		}
		args := []string{"clone", "--depth", "1"}
		if src.Ref != "" {
			args = append(args, "--branch", src.Ref)
		}
		args = append(args, src.Repo, dir)
		b.logger.Info("cloning source", "repo", src.Repo, "ref", src.Ref, "dir", dir)
		if err := b.git(ctx, "", args...); err != nil {
			return "", err
		}
	}

	stdout, stderr, code, err := b.pm.RunInDir(ctx, dir, nil, "git", "rev-parse", "--short", "HEAD")
	if err != nil || code != 0 {
		return "", fmt.Errorf("%w: %w", ErrCheckout, util.NewCommandError("git rev-parse", code, stderr, err))
	}
	return strings.TrimSpace(stdout), nil
}

func (b *Builder) git(ctx context.Context, dir string, args ...string) error {
	_, stderr, code, err := b.pm.RunInDir(ctx, dir, nil, "git", args...)
	if err != nil || code != 0 {
		return fmt.Errorf("%w: %w", ErrCheckout, util.NewCommandError("git "+args[0], code, stderr, err))
	}
	return nil
}

// =============================================================================
// Build
// =============================================================================

// EnsureDockerfile writes the embedded Dockerfile to path if it does not
// exist. Reports whether a file was written.
func EnsureDockerfile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.WriteFile(path, embeddedDockerfile, 0o644); err != nil {
		return false, fmt.Errorf("write Dockerfile: %w", err)
	}
	return true, nil
}

// Build builds the image described by spec.
//
// # Description
//
// The build tool's stderr is returned verbatim in BuildResult.Output and in
// the wrapped *util.CommandError so the operator sees the real cause.
//
// # Outputs
//
//   - *BuildResult: always non-nil
//   - error: wraps ErrNoBuildContext or ErrBuildFailed
func (b *Builder) Build(ctx context.Context, spec Spec) (*BuildResult, error) {
	res := &BuildResult{}
	if len(spec.Tags) > 0 {
		res.ImageTag = spec.Tags[0]
	}

	info, err := os.Stat(spec.ContextDir)
	if err != nil || !info.IsDir() {
		return res, fmt.Errorf("%w: %s", ErrNoBuildContext, spec.ContextDir)
	}

	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = filepath.Join(spec.ContextDir, "Dockerfile")
		written, err := EnsureDockerfile(dockerfile)
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrBuildFailed, err)
		}
		if written {
			b.logger.Info("no Dockerfile in build context, wrote default", "path", dockerfile)
		}
		res.DockerfileWritten = written
	}

	err = b.runtime.Build(ctx, container.BuildOptions{
		ContextDir: spec.ContextDir,
		Dockerfile: dockerfile,
		Tags:       spec.Tags,
		BuildArgs:  spec.BuildArgs,
		Pull:       spec.Pull,
	})
	if err != nil {
		res.Output = util.ExtractStderr(err)
		return res, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	res.Success = true
	return res, nil
}

// Verify runs command once in a fresh, auto-removed container of tag.
//
// Any non-zero exit is returned as ErrVerifyFailed with the combined output.
func (b *Builder) Verify(ctx context.Context, tag, command string) error {
	if command == "" {
		command = DefaultVerifyCommand
	}
	stdout, stderr, code, err := b.runtime.RunOnce(ctx, container.RunOptions{
		Image:      tag,
		Remove:     true,
		Entrypoint: "/bin/sh",
		Command:    []string{"-c", command},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerifyFailed, err)
	}
	if code != 0 {
		output := strings.TrimSpace(strings.TrimSpace(stdout) + "\n" + strings.TrimSpace(stderr))
		return fmt.Errorf("%w: %w", ErrVerifyFailed, util.NewCommandError("verify "+tag, code, output, nil))
	}
	b.logger.Info("image verified", "image", tag, "output", strings.TrimSpace(stdout))
	return nil
}
