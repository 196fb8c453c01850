// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command worms searches chains of structural fragments for geometries
// that satisfy a symmetry.
//
// Usage:
//
//	worms check problem.yaml
//	worms grow problem.yaml --top 10
//	worms grow problem.yaml --json > hits.json
//
// With metrics:
//
//	worms grow problem.yaml --metrics-addr :9090
//	curl http://localhost:9090/metrics
//
// Settings come from --config (YAML or JSON), overridden by WORMS_* and
// OTEL_* environment variables, overridden by flags.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
