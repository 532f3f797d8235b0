// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package workflow sequences a deployment: preflight, secrets, image build,
credential bootstrap, launch and health polling.

# Flow

	validate ─▶ lock ─▶ preflight ─▶ secrets ─▶ source ─▶ build ─▶ verify
	        ─▶ auth ─▶ launch ─▶ health ─▶ report

Steps run strictly in order and the first fatal failure stops the run.
Nothing is rolled back: a written secret or a built image is reused or
overwritten by the next attempt, and the launcher always tears down the
previous instance first. The health step is the only one that can end with
a warning instead of an error (the instance was still starting when the
poll budget ran out).

Every run that gets past validation is appended to the run history and
exported to the metrics recorder, whatever its outcome.
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/auth"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/deploy"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/health"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/history"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/image"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/process"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/launcher"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/metrics"
	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/secrets"
)

// Step names.
const (
	StepValidate  = "validate"
	StepLock      = "lock"
	StepPreflight = "preflight"
	StepSecrets   = "secrets"
	StepSource    = "source"
	StepBuild     = "build"
	StepVerify    = "verify"
	StepAuth      = "auth"
	StepLaunch    = "launch"
	StepHealth    = "health"
)

// Run outcomes, as recorded in history and metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeWarning   = "warning"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

const (
	// DefaultLogTail is how many log lines are shown after a run.
	DefaultLogTail = 50

	preflightTimeout = 30 * time.Second
	launchTimeout    = 2 * time.Minute
	cleanupTimeout   = 15 * time.Second
)

// ErrUnhealthy is returned when the instance reports itself unhealthy.
var ErrUnhealthy = errors.New("instance reported unhealthy")

// =============================================================================
// Dependencies and Options
// =============================================================================

// RunRecorder stores finished runs. *history.Store satisfies it.
type RunRecorder interface {
	Append(ctx context.Context, run history.Run) error
}

// Observer receives progress events for operator output. Embed
// NoOpObserver to implement only some of them.
type Observer interface {
	StepStarted(name string)
	StepCompleted(name string, d time.Duration)
	StepFailed(name string, err *StepError)
	StepSkipped(name, reason string)
	AuthTransition(from, to auth.State)
	HealthPolled(attempt int, status container.HealthStatus, elapsed time.Duration)
}

// NoOpObserver ignores every event.
type NoOpObserver struct{}

func (NoOpObserver) StepStarted(string)                                      {}
func (NoOpObserver) StepCompleted(string, time.Duration)                     {}
func (NoOpObserver) StepFailed(string, *StepError)                           {}
func (NoOpObserver) StepSkipped(string, string)                              {}
func (NoOpObserver) AuthTransition(auth.State, auth.State)                   {}
func (NoOpObserver) HealthPolled(int, container.HealthStatus, time.Duration) {}

var _ Observer = NoOpObserver{}

// Dependencies are the collaborators of a Deployer. Runtime and Process are
// required.
type Dependencies struct {
	Runtime container.Runtime
	Process process.Manager
	// Streams are attached to the interactive login.
	Streams process.Streams
	// Clock drives health polling and run timestamps. Default: RealClock.
	Clock    health.Clock
	History  RunRecorder
	Metrics  metrics.Recorder
	Observer Observer
	Logger   *slog.Logger
	// NewLock creates the per-deployment lock. Default: process.NewLock.
	NewLock func(dir, name string) process.Locker
}

// Options tune the workflow. The zero value builds from
// <state_dir>/<name>/src, always logs in and polls with the health
// defaults.
type Options struct {
	Source image.Source
	// Build.Tags defaults to the deployment image; the deployment image is
	// always among the tags.
	Build         image.Spec
	VerifyCommand string
	SkipBuild     bool
	SkipVerify    bool

	// Auth supplies mode, TTY and CLI settings. Image, volume and container
	// prefix are derived from the deployment name.
	Auth   auth.Config
	Launch launcher.Options
	// HealthInterval between polls. The timeout comes from the deployment
	// config.
	HealthInterval time.Duration

	// LogTail is the number of log lines fetched after the run. Zero uses
	// DefaultLogTail, negative disables it.
	LogTail int
	NoLock  bool
}

// =============================================================================
// Report
// =============================================================================

// Report describes a finished run. Run always returns one.
type Report struct {
	RunID      string
	Deployment string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string

	Steps      []StepTiming
	FailedStep string
	Err        error

	Preflight      *PreflightReport
	SecretFiles    []string
	SourceRevision string
	Build          *image.BuildResult
	Auth           *auth.Result
	Launch         *launcher.LaunchResult
	Health         *health.Result

	Warnings []string
	// LogTail holds recent instance logs: the diagnostic dump after a launch
	// or health failure, or the tail shown after a successful run.
	LogTail string
}

// Duration returns the wall-clock length of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// =============================================================================
// Deployer
// =============================================================================

// Deployer runs the deployment workflow.
type Deployer struct {
	deps Dependencies
	opts Options
}

// NewDeployer creates a Deployer, filling defaults for optional
// dependencies.
func NewDeployer(deps Dependencies, opts Options) *Deployer {
	if deps.Clock == nil {
		deps.Clock = health.RealClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOpRecorder{}
	}
	if deps.Observer == nil {
		deps.Observer = NoOpObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewLock == nil {
		deps.NewLock = func(dir, name string) process.Locker { return process.NewLock(dir, name) }
	}
	if opts.LogTail == 0 {
		opts.LogTail = DefaultLogTail
	}
	return &Deployer{deps: deps, opts: opts}
}

// Run executes the whole workflow for cfg.
//
// # Description
//
// cfg is validated once, before anything else; a validation failure returns
// a precondition error and records nothing. From then on cfg is treated as
// read-only.
//
// # Outputs
//
//   - *Report: always non-nil
//   - error: nil on success (including the health-timeout warning), or a
//     *StepError whose Kind maps to the exit code
func (d *Deployer) Run(ctx context.Context, cfg *deploy.Config) (*Report, error) {
	report := &Report{
		RunID:      uuid.NewString(),
		Deployment: cfg.Name,
		StartedAt:  d.deps.Clock.Now(),
	}

	if err := cfg.Validate(); err != nil {
		serr := &StepError{Step: StepValidate, Kind: KindPrecondition, Err: err}
		d.deps.Observer.StepFailed(StepValidate, serr)
		return d.finish(report, serr), serr
	}

	names := cfg.Names()
	logger := d.deps.Logger.With("deployment", names.Deployment, "run_id", report.RunID)

	if !d.opts.NoLock {
		lock := d.deps.NewLock(names.LockDir, names.Deployment)
		if err := lock.Acquire(); err != nil {
			serr := &StepError{Step: StepLock, Kind: KindPrecondition, Err: err}
			d.deps.Observer.StepFailed(StepLock, serr)
			d.record(report, serr)
			return d.finish(report, serr), serr
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn("release deployment lock", "error", err)
			}
		}()
	}

	runner := NewRunner(RunnerConfig{
		Logger:         logger,
		Now:            d.deps.Clock.Now,
		OnStepStart:    func(s Step) { d.deps.Observer.StepStarted(s.Name) },
		OnStepComplete: func(s Step, dur time.Duration) { d.deps.Observer.StepCompleted(s.Name, dur) },
		OnStepFail:     func(s Step, err *StepError) { d.deps.Observer.StepFailed(s.Name, err) },
		OnStepSkip:     func(s Step) { d.deps.Observer.StepSkipped(s.Name, s.SkipReason) },
	})

	steps, err := runner.Execute(ctx, d.steps(cfg, names, report, logger))
	report.Steps = steps
	if err != nil {
		var serr *StepError
		errors.As(err, &serr)
		if serr.Step == StepLaunch && report.LogTail == "" {
			report.LogTail = d.logs(ctx, names.Instance, logger)
		}
		d.record(report, serr)
		return d.finish(report, serr), serr
	}

	if d.opts.LogTail > 0 {
		report.LogTail = d.logs(ctx, names.Instance, logger)
	}
	d.record(report, nil)
	return d.finish(report, nil), nil
}

// steps builds the step list for one run. Step closures fill report.
func (d *Deployer) steps(cfg *deploy.Config, names deploy.Names, report *Report, logger *slog.Logger) []Step {
	spec := d.buildSpec(cfg, names)
	builder := image.NewBuilder(d.deps.Runtime, d.deps.Process, logger)

	sourceSkip := ""
	if d.opts.Source.Repo == "" {
		sourceSkip = "no repository configured"
	}
	buildSkip := ""
	if d.opts.SkipBuild {
		buildSkip = "build disabled"
		sourceSkip = buildSkip
	}
	verifySkip := buildSkip
	if verifySkip == "" && d.opts.SkipVerify {
		verifySkip = "verification disabled"
	}

	return []Step{
		{
			Name:    StepPreflight,
			Kind:    KindPrecondition,
			Timeout: preflightTimeout,
			Run: func(ctx context.Context) error {
				pre, err := Preflight(ctx, d.deps.Runtime, d.deps.Process, PreflightInput{
					BuildContext:  spec.ContextDir,
					Repo:          d.opts.Source.Repo,
					SkipBuild:     d.opts.SkipBuild,
					WorkDirectory: cfg.WorkDirectory,
				})
				report.Preflight = pre
				return err
			},
		},
		{
			Name: StepSecrets,
			Kind: KindSecrets,
			Run: func(context.Context) error {
				files, err := secrets.NewStore(names.SecretsDir, logger).Write(cfg)
				report.SecretFiles = files
				return err
			},
		},
		{
			Name:       StepSource,
			Kind:       KindBuild,
			SkipReason: sourceSkip,
			Run: func(ctx context.Context) error {
				rev, err := builder.Checkout(ctx, d.opts.Source, spec.ContextDir)
				report.SourceRevision = rev
				return err
			},
		},
		{
			Name:       StepBuild,
			Kind:       KindBuild,
			SkipReason: buildSkip,
			Run: func(ctx context.Context) error {
				res, err := builder.Build(ctx, spec)
				report.Build = res
				if err != nil && res != nil {
					report.LogTail = res.Output
				}
				return err
			},
		},
		{
			Name:       StepVerify,
			Kind:       KindBuild,
			SkipReason: verifySkip,
			Run: func(ctx context.Context) error {
				return builder.Verify(ctx, names.Image, d.opts.VerifyCommand)
			},
		},
		{
			Name: StepAuth,
			Kind: KindAuthentication,
			Run: func(ctx context.Context) error {
				res, err := d.authenticate(ctx, names, d.opts.Auth.Mode, logger)
				report.Auth = &res
				return err
			},
		},
		{
			Name:    StepLaunch,
			Kind:    KindLaunch,
			Timeout: launchTimeout,
			Run: func(ctx context.Context) error {
				l := launcher.New(d.deps.Runtime, d.opts.Launch, logger)
				res, err := l.Launch(ctx, cfg)
				report.Launch = res
				if res != nil {
					if res.Teardown.Outcome == launcher.RemovalFailed {
						report.Warnings = append(report.Warnings,
							fmt.Sprintf("previous instance could not be removed: %v", res.Teardown.Err))
					}
					for _, key := range res.Shadowed {
						report.Warnings = append(report.Warnings,
							fmt.Sprintf("extra variable %s ignored: identity variables cannot be overridden", key))
					}
				}
				return err
			},
		},
		{
			Name: StepHealth,
			Kind: KindUnhealthy,
			Run: func(ctx context.Context) error {
				return d.awaitHealthy(ctx, cfg, names, report, logger)
			},
		},
	}
}

// buildSpec resolves the build context and tags for names.
func (d *Deployer) buildSpec(cfg *deploy.Config, names deploy.Names) image.Spec {
	spec := d.opts.Build
	if spec.ContextDir == "" {
		spec.ContextDir = filepath.Join(cfg.StateDir, names.Deployment, "src")
	}
	if !slices.Contains(spec.Tags, names.Image) {
		spec.Tags = append([]string{names.Image}, spec.Tags...)
	}
	return spec
}

// authenticate runs the credential bootstrap with mode.
func (d *Deployer) authenticate(ctx context.Context, names deploy.Names, mode auth.Mode, logger *slog.Logger) (auth.Result, error) {
	cfg := d.opts.Auth
	cfg.Image = names.Image
	cfg.AuthVolume = names.AuthVolume
	cfg.ContainerName = names.AuthContainer
	cfg.Mode = mode
	if cfg.CredentialsPath == "" && d.opts.Launch.AuthMountPath != "" {
		cfg.CredentialsPath = d.opts.Launch.AuthMountPath
	}

	b := auth.NewBootstrapper(cfg, d.deps.Runtime, d.deps.Streams, logger)
	b.OnTransition = d.deps.Observer.AuthTransition

	res, err := b.Run(ctx)
	if errors.Is(err, auth.ErrCancelled) {
		return res, &StepError{Step: StepAuth, Kind: KindCancelled, Err: err}
	}
	return res, err
}

// awaitHealthy polls the new instance. Unhealthy is fatal and dumps logs;
// a timeout only adds a warning.
func (d *Deployer) awaitHealthy(ctx context.Context, cfg *deploy.Config, names deploy.Names, report *Report, logger *slog.Logger) error {
	poller := health.NewPoller(d.deps.Runtime, d.deps.Clock, logger)
	res := poller.Poll(ctx, names.Instance, health.Options{
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		Interval: d.opts.HealthInterval,
		OnPoll:   d.deps.Observer.HealthPolled,
	})
	report.Health = &res

	switch res.Outcome {
	case health.OutcomeHealthy:
		logger.Info("instance healthy", "instance", names.Instance, "polls", res.Polls, "elapsed", res.Elapsed)
		return nil
	case health.OutcomeTimedOut:
		logger.Warn("health check timed out", "instance", names.Instance, "last_status", string(res.LastStatus), "elapsed", res.Elapsed)
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"%s did not report healthy within %s and may still be initializing; check with `botdeploy status`",
			names.Instance, res.Elapsed))
		return nil
	case health.OutcomeUnhealthy:
		report.LogTail = d.logs(ctx, names.Instance, logger)
		return &StepError{Step: StepHealth, Kind: KindUnhealthy, Err: ErrUnhealthy}
	default:
		return &StepError{Step: StepHealth, Kind: KindCancelled, Err: ctx.Err()}
	}
}

// Authenticate runs only the credential bootstrap, holding the deployment
// lock. mode overrides the configured auth mode.
func (d *Deployer) Authenticate(ctx context.Context, names deploy.Names, mode auth.Mode) (auth.Result, error) {
	logger := d.deps.Logger.With("deployment", names.Deployment)
	if !d.opts.NoLock {
		lock := d.deps.NewLock(names.LockDir, names.Deployment)
		if err := lock.Acquire(); err != nil {
			return auth.Result{}, &StepError{Step: StepLock, Kind: KindPrecondition, Err: err}
		}
		defer lock.Release()
	}

	res, err := d.authenticate(ctx, names, mode, logger)
	if err == nil {
		return res, nil
	}
	var serr *StepError
	if errors.As(err, &serr) {
		return res, serr
	}
	return res, &StepError{Step: StepAuth, Kind: KindAuthentication, Err: err}
}

// logs fetches the instance log tail, best effort. A cancelled run still
// gets its diagnostic dump.
func (d *Deployer) logs(ctx context.Context, name string, logger *slog.Logger) string {
	tail := d.opts.LogTail
	if tail <= 0 {
		tail = DefaultLogTail
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	out, err := d.deps.Runtime.Logs(ctx, name, tail)
	if err != nil {
		logger.Debug("could not fetch instance logs", "instance", name, "error", err)
		return ""
	}
	return out
}

// record appends the run to history and metrics. Failures here never change
// the run's outcome.
func (d *Deployer) record(report *Report, serr *StepError) {
	report.FinishedAt = d.deps.Clock.Now()
	report.Outcome = outcome(report, serr)
	if serr != nil {
		report.FailedStep = serr.Step
		report.Err = serr
	}

	for _, s := range report.Steps {
		d.deps.Metrics.ObserveStep(report.Deployment, s.Name, s.Status, s.Duration)
	}
	if report.Health != nil {
		d.deps.Metrics.ObserveHealthPolls(report.Deployment, report.Health.Polls)
	}
	d.deps.Metrics.ObserveRun(report.Deployment, report.Outcome, report.FinishedAt, report.Duration())
	if err := d.deps.Metrics.Flush(); err != nil {
		d.deps.Logger.Warn("write metrics", "error", err)
	}

	if d.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := d.deps.History.Append(ctx, toHistory(report)); err != nil {
		d.deps.Logger.Warn("record run history", "error", err)
	}
}

// finish stamps the report for runs that were not recorded.
func (d *Deployer) finish(report *Report, serr *StepError) *Report {
	if report.FinishedAt.IsZero() {
		report.FinishedAt = d.deps.Clock.Now()
		report.Outcome = outcome(report, serr)
		if serr != nil {
			report.FailedStep = serr.Step
			report.Err = serr
		}
	}
	return report
}

func outcome(report *Report, serr *StepError) string {
	switch {
	case serr != nil && serr.Kind == KindCancelled:
		return OutcomeCancelled
	case serr != nil:
		return OutcomeFailed
	case len(report.Warnings) > 0:
		return OutcomeWarning
	default:
		return OutcomeSuccess
	}
}

func toHistory(r *Report) history.Run {
	run := history.Run{
		ID:         r.RunID,
		Deployment: r.Deployment,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Outcome:    r.Outcome,
		FailedStep: r.FailedStep,
		Warnings:   r.Warnings,
	}
	if r.Err != nil {
		run.ErrorKind = string(KindOf(r.Err))
		run.Error = r.Err.Error()
	}
	for _, s := range r.Steps {
		run.Steps = append(run.Steps, history.StepRecord{Name: s.Name, Duration: s.Duration, Status: s.Status})
	}
	if r.Build != nil {
		run.ImageTag = r.Build.ImageTag
	}
	if r.Launch != nil {
		run.ContainerID = r.Launch.ContainerID
		run.Teardown = r.Launch.Teardown.Outcome.String()
	}
	if r.Health != nil {
		run.Health = r.Health.Outcome.String()
	}
	return run
}
