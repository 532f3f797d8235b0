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
Package process provides external process execution and the per-deployment
run lock.

# Manager

All subprocesses (container runtime, git) are started through Manager so the
deployment workflow is testable without a runtime installed:

	pm := process.NewDefaultManager()
	out, stderr, code, err := pm.RunInDir(ctx, "", nil, "docker", "version")

Tests use MockManager, which records every call:

	mock := &process.MockManager{
	    RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	        return "healthy\n", "", 0, nil
	    },
	}

# Lock

Lock keeps two workflow runs for the same deployment from overlapping:

	lock := process.NewLock(stateDir, "telegram-bot")
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()
*/
package process
