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
	"log/slog"
	"time"
)

// Step statuses recorded in StepTiming.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// =============================================================================
// Step
// =============================================================================

// Step is one stage of the deployment workflow.
//
// # Description
//
// Steps run strictly in order. A failing step stops the run; nothing that
// already ran is rolled back, since every step is safe to repeat on the
// next attempt (secrets are overwritten, the image is rebuilt, the instance
// is torn down before start).
//
// # Example
//
//	step := Step{
//	    Name: "secrets",
//	    Kind: KindSecrets,
//	    Run: func(ctx context.Context) error {
//	        _, err := store.Write(cfg)
//	        return err
//	    },
//	}
type Step struct {
	// Name identifies the step in logs, history and operator output.
	Name string

	// Kind classifies a failure of this step.
	Kind Kind

	// Run performs the step.
	Run func(ctx context.Context) error

	// Timeout bounds Run. Zero means no timeout; the interactive login
	// and the health poll enforce their own limits.
	Timeout time.Duration

	// SkipReason, when non-empty, records the step as skipped.
	SkipReason string
}

// StepTiming records how one step ended.
type StepTiming struct {
	Name     string
	Status   string
	Duration time.Duration
}

// =============================================================================
// Runner
// =============================================================================

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Logger receives step events. Default: slog.Default()
	Logger *slog.Logger

	// OnStepStart is called before each step runs.
	OnStepStart func(step Step)

	// OnStepComplete is called after a step succeeds.
	OnStepComplete func(step Step, d time.Duration)

	// OnStepFail is called when a step fails, with the classified error.
	OnStepFail func(step Step, err *StepError)

	// OnStepSkip is called for steps with a SkipReason.
	OnStepSkip func(step Step)

	// Now is the time source. Default: time.Now
	Now func() time.Time
}

// Runner executes steps in order and stops at the first failure.
//
// # Thread Safety
//
// A Runner may be reused but Execute must not be called concurrently.
type Runner struct {
	config RunnerConfig
}

// NewRunner creates a Runner. Zero values in config are replaced with
// defaults.
func NewRunner(config RunnerConfig) *Runner {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Runner{config: config}
}

// Execute runs steps sequentially.
//
// # Description
//
// Before each step the parent context is checked. Each step's error is
// classified into a *StepError:
//
//   - a *StepError returned by the step is kept as-is
//   - if the parent context is done the Kind is KindCancelled
//   - otherwise the step's own Kind is used
//
// # Outputs
//
//   - []StepTiming: one entry per step that started or was skipped
//   - error: nil, or a *StepError for the failed step
func (r *Runner) Execute(ctx context.Context, steps []Step) ([]StepTiming, error) {
	timings := make([]StepTiming, 0, len(steps))

	for _, step := range steps {
		if step.SkipReason != "" {
			r.config.Logger.Info("Skipping step", "step", step.Name, "reason", step.SkipReason)
			timings = append(timings, StepTiming{Name: step.Name, Status: StatusSkipped})
			if r.config.OnStepSkip != nil {
				r.config.OnStepSkip(step)
			}
			continue
		}

		if ctx.Err() != nil {
			serr := &StepError{Step: step.Name, Kind: KindCancelled, Err: ctx.Err()}
			r.fail(step, serr)
			return timings, serr
		}

		d, err := r.executeStep(ctx, step)
		if err != nil {
			serr := classify(ctx, step, err)
			timings = append(timings, StepTiming{Name: step.Name, Status: StatusFailed, Duration: d})
			r.config.Logger.Error("Step failed", "step", step.Name, "kind", string(serr.Kind), "duration", d, "error", err)
			r.fail(step, serr)
			return timings, serr
		}

		timings = append(timings, StepTiming{Name: step.Name, Status: StatusOK, Duration: d})
		r.config.Logger.Info("Step completed", "step", step.Name, "duration", d)
		if r.config.OnStepComplete != nil {
			r.config.OnStepComplete(step, d)
		}
	}
	return timings, nil
}

// executeStep runs one step under its timeout.
func (r *Runner) executeStep(ctx context.Context, step Step) (time.Duration, error) {
	if r.config.OnStepStart != nil {
		r.config.OnStepStart(step)
	}
	r.config.Logger.Info("Executing step", "step", step.Name)
	start := r.config.Now()

	stepCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	err := step.Run(stepCtx)
	d := r.config.Now().Sub(start)
	if err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("step timed out after %v: %w", step.Timeout, err)
	}
	return d, err
}

func (r *Runner) fail(step Step, serr *StepError) {
	if r.config.OnStepFail != nil {
		r.config.OnStepFail(step, serr)
	}
}

func classify(ctx context.Context, step Step, err error) *StepError {
	var serr *StepError
	if errors.As(err, &serr) {
		return serr
	}
	if ctx.Err() != nil {
		return &StepError{Step: step.Name, Kind: KindCancelled, Err: err}
	}
	return &StepError{Step: step.Name, Kind: step.Kind, Err: err}
}
