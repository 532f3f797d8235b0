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
Package health polls a launched instance until the container runtime reports
it healthy or unhealthy, or until the polling budget runs out.

# Outcomes

	Healthy    status became "healthy"; polling stops immediately
	Unhealthy  status became "unhealthy"; fatal for the workflow
	TimedOut   budget exhausted while still starting; a warning only
	Cancelled  the caller's context was cancelled

Query errors and unrecognised statuses count as "starting". An explicit
unhealthy signal means the application detected a problem; a timeout only
means the poller gave up, so the instance may still come up.
*/
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/infra/container"
)

// Default polling parameters.
const (
	DefaultTimeout  = 60 * time.Second
	DefaultInterval = 2 * time.Second
)

// Outcome classifies how polling ended.
type Outcome int

const (
	OutcomeHealthy Outcome = iota
	OutcomeUnhealthy
	OutcomeTimedOut
	OutcomeCancelled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeHealthy:
		return "healthy"
	case OutcomeUnhealthy:
		return "unhealthy"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Fatal reports whether the outcome must abort the workflow.
func (o Outcome) Fatal() bool {
	return o == OutcomeUnhealthy || o == OutcomeCancelled
}

// Prober reports the health of a named instance. container.Runtime
// satisfies it.
type Prober interface {
	Health(ctx context.Context, name string) (container.HealthStatus, error)
}

// Options configure one Poll call.
type Options struct {
	// Timeout is the total polling budget. Zero uses DefaultTimeout.
	Timeout time.Duration
	// Interval between polls. Zero uses DefaultInterval.
	Interval time.Duration
	// OnPoll, when set, is called after every poll.
	OnPoll func(attempt int, status container.HealthStatus, elapsed time.Duration)
}

// Result describes a finished Poll.
type Result struct {
	Outcome    Outcome
	LastStatus container.HealthStatus
	// LastErr is the most recent query error, if any.
	LastErr error
	Polls   int
	Elapsed time.Duration
}

// Poller polls instance health.
type Poller struct {
	prober Prober
	clock  Clock
	logger *slog.Logger
}

// NewPoller creates a Poller. A nil clock uses RealClock.
func NewPoller(prober Prober, clock Clock, logger *slog.Logger) *Poller {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{prober: prober, clock: clock, logger: logger}
}

// Poll waits for name to become healthy.
//
// # Description
//
// Polls immediately, then every Interval. The last sleep is shortened to the
// remaining budget, so a permanently starting instance ends with TimedOut
// exactly at Timeout, never after it. No poll happens after a terminal
// status is observed.
//
// # Inputs
//
//   - ctx: cancellation aborts with OutcomeCancelled
//   - name: instance name
//   - opts: timeout, interval and progress callback
//
// # Outputs
//
//   - Result: always populated; inspect Outcome
//
// # Examples
//
//	res := poller.Poll(ctx, "telegram-bot", health.Options{Timeout: 60 * time.Second})
//	if res.Outcome == health.OutcomeTimedOut {
//	    ux.Warning("instance may still be starting")
//	}
func (p *Poller) Poll(ctx context.Context, name string, opts Options) Result {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	start := p.clock.Now()
	deadline := start.Add(timeout)
	res := Result{LastStatus: container.HealthStarting}

	for {
		if ctx.Err() != nil {
			return p.finish(res, OutcomeCancelled, start)
		}

		status, err := p.query(ctx, name, deadline.Sub(p.clock.Now()))
		res.Polls++
		if err != nil {
			if ctx.Err() != nil {
				return p.finish(res, OutcomeCancelled, start)
			}
			p.logger.Debug("health query failed, treating as starting", "instance", name, "error", err)
			res.LastErr = err
			status = container.HealthStarting
		}
		res.LastStatus = status

		now := p.clock.Now()
		if opts.OnPoll != nil {
			opts.OnPoll(res.Polls, status, now.Sub(start))
		}

		switch status {
		case container.HealthHealthy:
			return p.finish(res, OutcomeHealthy, start)
		case container.HealthUnhealthy:
			return p.finish(res, OutcomeUnhealthy, start)
		}

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return p.finish(res, OutcomeTimedOut, start)
		}
		if err := p.clock.Sleep(ctx, min(interval, remaining)); err != nil {
			return p.finish(res, OutcomeCancelled, start)
		}
	}
}

// query runs one health check bounded by what is left of the budget. A check
// cut off by that bound returns an error with the parent ctx still live,
// which Poll counts as starting.
func (p *Poller) query(ctx context.Context, name string, budget time.Duration) (container.HealthStatus, error) {
	queryCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return p.prober.Health(queryCtx, name)
}

func (p *Poller) finish(res Result, outcome Outcome, start time.Time) Result {
	res.Outcome = outcome
	res.Elapsed = p.clock.Now().Sub(start)
	return res
}
