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
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/botdeploy/cmd/botdeploy/internal/workflow"
	"github.com/AleutianAI/botdeploy/pkg/ux"
)

func main() {
	os.Exit(run())
}

// run executes the command tree and maps the result to an exit code.
// Ctrl-C cancels the context; the login container and any in-flight
// runtime command are cleaned up before returning.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer cli.close()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return workflow.ExitOK
	}
	if ctx.Err() != nil && workflow.KindOf(err) == "" {
		err = &workflow.StepError{Step: "interrupted", Kind: workflow.KindCancelled, Err: err}
	}

	var shown reportedError
	if !errors.As(err, &shown) {
		ux.Error(err.Error())
	}
	return workflow.ExitCode(err)
}

// reportedError marks an error the command has already shown to the
// operator, with its diagnostics.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }
