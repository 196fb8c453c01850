// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry bootstraps OpenTelemetry for the worms engine.
//
// The search and executor packages use otel.Tracer and otel.Meter directly;
// until Init installs providers those calls are no-ops. Init wires the
// exporters selected in Config and returns a shutdown function that
// flushes them.
//
// # Exporters
//
//   - traces: "otlp" (gRPC), "stdout" or "none"
//   - metrics: "prometheus", "stdout" or "none"
//
// With the Prometheus exporter the OTel executor metrics and the promauto
// search metrics share the default registry, served by MetricsHandler.
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: trace exporter (default: none)
//   - OTEL_METRICS_EXPORTER: metric exporter (default: none)
//   - WORMS_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
