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
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/worms/pkg/logging"
	"github.com/AleutianAI/worms/services/worms/config"
	"github.com/AleutianAI/worms/services/worms/search"
	"github.com/AleutianAI/worms/services/worms/telemetry"
	"github.com/AleutianAI/worms/services/worms/topology"
)

// shutdownTimeout bounds telemetry flush and metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// app holds what every command sets up before doing its work.
type app struct {
	cfg      config.GrowConfig
	logger   *logging.Logger
	log      *slog.Logger
	shutdown func(context.Context) error
	metrics  *metricsServer
}

// setup loads settings, applies flag overrides, and starts logging,
// telemetry and the optional metrics server.
func setup(ctx context.Context, cmd *cobra.Command, ro *rootOptions) (*app, error) {
	cfg, err := config.LoadGrowConfig(ro.configPath)
	if err != nil {
		return nil, err
	}
	if ro.logLevel != "" {
		cfg.Logging.Level = ro.logLevel
	}
	if ro.quiet {
		cfg.Logging.Quiet = true
	}
	if ro.metricsAddr != "" {
		cfg.MetricsAddr = ro.metricsAddr
	}
	cfg.Telemetry.ServiceVersion = version
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.Logging.Logger(cfg.Telemetry.ServiceName, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, log: logger.Slog()}

	a.shutdown, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		a.metrics, err = startMetricsServer(cfg.MetricsAddr, cfg.Telemetry.ServiceName, a.log)
		if err != nil {
			_ = a.close()
			return nil, err
		}
	}
	return a, nil
}

// close stops everything setup started, in reverse order.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		a.log.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
	return errors.Join(err, a.logger.Close())
}

func runGrow(cmd *cobra.Command, ro *rootOptions, opts *growOptions, problemPath string) (err error) {
	ctx := cmd.Context()
	a, err := setup(ctx, cmd, ro)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); err == nil {
			err = closeErr
		}
	}()

	sc := a.cfg.Search
	if opts.threshold > 0 {
		sc.Threshold = opts.threshold
	}
	if opts.workers >= 0 {
		sc.MaxWorkers = opts.workers
	}
	if opts.expert {
		sc.Expert = true
	}

	problem, err := config.LoadProblem(problemPath)
	if err != nil {
		return err
	}
	segs, crit, err := problem.Build(sc.Expert)
	if err != nil {
		return err
	}

	searchOpts := sc.Options(a.log)
	if opts.progress {
		rep := newProgressReporter(cmd.ErrOrStderr(), a.log)
		searchOpts = append(searchOpts, search.WithProgress(rep.Update))
	}

	a.log.Info("search starting",
		slog.String("problem", problemPath),
		slog.String("criteria", crit.Name()),
		slog.Int("segments", len(segs)),
		slog.Float64("threshold", sc.Threshold))

	start := time.Now()
	w, err := search.Grow(ctx, segs, crit, searchOpts...)
	if err != nil {
		a.log.Error("search failed", slog.String("error", err.Error()))
		return err
	}
	elapsed := time.Since(start)
	a.log.Info("search complete",
		slog.String("run_id", w.Detail().RunID),
		slog.Int("hits", w.Len()),
		slog.Duration("elapsed", elapsed))

	r, err := buildReport(w, opts.top, opts.splices, elapsed)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if opts.json {
		return writeJSON(out, r)
	}
	_, err = fmt.Fprintln(out, renderReport(r))
	return err
}

func runCheck(cmd *cobra.Command, ro *rootOptions, expert bool, problemPath string) (err error) {
	a, err := setup(cmd.Context(), cmd, ro)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); err == nil {
			err = closeErr
		}
	}()
	expert = expert || a.cfg.Search.Expert

	out := cmd.OutOrStdout()
	problem, err := config.LoadProblem(problemPath)
	if err != nil {
		return err
	}
	segs, crit, err := problem.Build(expert)
	if err != nil {
		fmt.Fprintln(out, styles.Error.Render(iconError+" "+err.Error()))
		return err
	}
	res, err := topology.Check(segs, crit, topology.WithExpert(expert), topology.WithLogger(a.log))
	if err != nil {
		fmt.Fprintln(out, styles.Error.Render(iconError+" "+err.Error()))
		return err
	}
	total, err := segs.CombinationCount()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, styles.Success.Render(fmt.Sprintf("%s %s: %d segments, sizes %v, %d chains",
		iconSuccess, crit.Name(), len(segs), segs.Sizes(), total)))
	if res.HasMatchingBody {
		fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("  last segment must reuse the fragment of segment %d", res.MatchingBody)))
	}
	for _, w := range res.Warnings {
		fmt.Fprintln(out, styles.Warning.Render(iconWarning+" "+w))
	}
	return nil
}
