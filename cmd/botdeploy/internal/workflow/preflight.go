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
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
)

// ErrPrecondition is wrapped by every preflight failure.
var ErrPrecondition = errors.New("precondition not met")

// PreflightInput describes what the run is going to need.
type PreflightInput struct {
	// BuildContext must exist unless it is going to be cloned or the build
	// is skipped.
	BuildContext string
	// Repo, when set, requires git.
	Repo      string
	SkipBuild bool
	// WorkDirectory must be a directory if it already exists.
	WorkDirectory string
}

// Check is the result of one preflight check.
type Check struct {
	Name   string
	OK     bool
	Detail string
	Err    error
}

// PreflightReport collects every check, failed or not.
type PreflightReport struct {
	RuntimeVersion string
	Checks         []Check
}

// Failed returns the failed checks.
func (r *PreflightReport) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

// Preflight runs the precondition checks concurrently.
//
// # Description
//
// Nothing here has side effects. All checks run even if one fails, so the
// operator sees every missing prerequisite at once.
//
// # Outputs
//
//   - *PreflightReport: always non-nil
//   - error: nil, or ErrPrecondition joined with every failed check
func Preflight(ctx context.Context, rt container.Runtime, pm process.Manager, in PreflightInput) (*PreflightReport, error) {
	checks := []struct {
		name string
		skip bool
		run  func(ctx context.Context) (string, error)
	}{
		{
			name: "container runtime",
			run: func(ctx context.Context) (string, error) {
				v, err := rt.Version(ctx)
				if err != nil {
					return "", fmt.Errorf("%s is not available: %w", rt.Binary(), err)
				}
				return v, nil
			},
		},
		{
			name: "git",
			skip: in.Repo == "" || in.SkipBuild,
			run: func(ctx context.Context) (string, error) {
				stdout, _, code, err := pm.RunInDir(ctx, "", nil, "git", "--version")
				if err != nil || code != 0 {
					return "", errors.New("git is required to fetch the bot source")
				}
				return strings.TrimSpace(stdout), nil
			},
		},
		{
			name: "build context",
			skip: in.Repo != "" || in.SkipBuild,
			run: func(context.Context) (string, error) {
				info, err := os.Stat(in.BuildContext)
				if err != nil || !info.IsDir() {
					return "", fmt.Errorf("build context %s does not exist (set image.build_context or image.repo)", in.BuildContext)
				}
				return in.BuildContext, nil
			},
		},
		{
			name: "work directory",
			run: func(context.Context) (string, error) {
				info, err := os.Stat(in.WorkDirectory)
				if errors.Is(err, os.ErrNotExist) {
					return in.WorkDirectory + " (will be created)", nil
				}
				if err != nil {
					return "", err
				}
				if !info.IsDir() {
					return "", fmt.Errorf("work directory %s is not a directory", in.WorkDirectory)
				}
				return in.WorkDirectory, nil
			},
		},
	}

	report := &PreflightReport{}
	results := make([]Check, len(checks))

	g, gCtx := errgroup.WithContext(ctx)
	for i, c := range checks {
		if c.skip {
			continue
		}
		g.Go(func() error {
			detail, err := c.run(gCtx)
			results[i] = Check{Name: c.name, OK: err == nil, Detail: detail, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i, c := range checks {
		if c.skip {
			continue
		}
		report.Checks = append(report.Checks, results[i])
		if results[i].Err != nil {
			errs = append(errs, results[i].Err)
		}
		if c.name == "container runtime" && results[i].OK {
			report.RuntimeVersion = results[i].Detail
		}
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("%w: %w", ErrPrecondition, errors.Join(errs...))
	}
	return report, nil
}
