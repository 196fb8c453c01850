// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
)

var meter = otel.Meter("worms.executor")

// Pool runs tasks on goroutines, at most Workers() at a time.
//
// Description:
//
//	Each submitted task gets its own goroutine which waits on a weighted
//	semaphore, then takes a free worker slot. The context is only
//	consulted while waiting; a started task runs to completion.
//
// Thread Safety:
//
//	Pool is safe for concurrent use.
type Pool struct {
	workers int
	logger  *slog.Logger
	sem     *semaphore.Weighted
	slots   chan int
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// Metrics (initialized lazily)
	metricsOnce  sync.Once
	taskLatency  metric.Float64Histogram
	taskSuccess  metric.Int64Counter
	taskFailures metric.Int64Counter
	activeTasks  metric.Int64UpDownCounter
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets the pool logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool of workers slots.
func NewPool(workers int, opts ...PoolOption) (*Pool, error) {
	if workers < 1 {
		return nil, ErrInvalidWorkers
	}
	p := &Pool{
		workers: workers,
		logger:  slog.Default(),
		sem:     semaphore.NewWeighted(int64(workers)),
		slots:   make(chan int, workers),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < workers; i++ {
		p.slots <- i
	}
	return p, nil
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (p *Pool) initMetrics() {
	p.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		p.taskLatency, err = meter.Float64Histogram("worms_task_duration_seconds",
			metric.WithDescription("Time spent running each search task"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_latency: "+err.Error())
		}

		p.taskSuccess, err = meter.Int64Counter("worms_task_success_total",
			metric.WithDescription("Number of tasks that returned without error"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_success: "+err.Error())
		}

		p.taskFailures, err = meter.Int64Counter("worms_task_failure_total",
			metric.WithDescription("Number of tasks that failed or panicked"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_failures: "+err.Error())
		}

		p.activeTasks, err = meter.Int64UpDownCounter("worms_active_tasks",
			metric.WithDescription("Number of currently running tasks"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_tasks: "+err.Error())
		}

		if len(initErrors) > 0 {
			p.logger.Error("failed to initialize some executor metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Submit implements Executor.
func (p *Pool) Submit(ctx context.Context, task Task) *Future {
	f := newFuture()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.resolve(nil, ErrClosed)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.initMetrics()
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.resolve(nil, err)
			return
		}
		defer p.sem.Release(1)

		id := <-p.slots
		defer func() { p.slots <- id }()

		f.resolve(p.runObserved(ctx, task, Worker{ID: id, InnerParallelism: 1}))
	}()
	return f
}

func (p *Pool) runObserved(ctx context.Context, task Task, w Worker) (any, error) {
	attrs := metric.WithAttributes(attribute.Int("worker", w.ID))
	if p.activeTasks != nil {
		p.activeTasks.Add(ctx, 1)
		defer p.activeTasks.Add(ctx, -1)
	}

	start := time.Now()
	value, err := run(ctx, task, w)
	if p.taskLatency != nil {
		p.taskLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if err != nil {
		if p.taskFailures != nil {
			p.taskFailures.Add(ctx, 1, attrs)
		}
		p.logger.Debug("task failed", slog.Int("worker", w.ID), slog.String("error", err.Error()))
		return nil, err
	}
	if p.taskSuccess != nil {
		p.taskSuccess.Add(ctx, 1, attrs)
	}
	return value, nil
}

// Workers implements Executor.
func (p *Pool) Workers() int { return p.workers }

// Close implements Executor. It blocks until every submitted task has
// resolved.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}
