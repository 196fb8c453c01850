// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs independent search jobs behind one task-execution
// interface.
//
// # Backends
//
//   - InProcess runs each task synchronously inside Submit.
//   - Pool runs tasks on goroutines, bounded by a weighted semaphore.
//
// # Worker configuration
//
// Every task receives a Worker describing the slot it runs on. A pool
// worker always gets InnerParallelism 1 so that per-task code (for
// example a search job scanning its prefix block) does not
// oversubscribe the CPUs the pool already uses. The in-process backend
// also defaults to 1, so one worker means one CPU; WithInnerParallelism
// lets its single task fan out.
//
// # Lifetime
//
// An Executor is opened by a Factory and closed with Close, which waits
// for every submitted task. Submit after Close fails the returned Future
// with ErrClosed.
package executor

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"runtime"
	"strconv"
)

// Sentinel errors for the executor package.
var (
	// ErrClosed is returned for tasks submitted after Close.
	ErrClosed = errors.New("executor is closed")

	// ErrTaskPanic wraps a panic recovered from a task.
	ErrTaskPanic = errors.New("task panicked")

	// ErrInvalidWorkers is returned for a non-positive worker count.
	ErrInvalidWorkers = errors.New("worker count must be positive")
)

// SlurmCPUsEnv is consulted by CPUCount before the runtime CPU count.
const SlurmCPUsEnv = "SLURM_CPUS_ON_NODE"

// Worker describes the execution slot a task runs on.
type Worker struct {
	// ID is the slot number in [0, Workers()).
	ID int

	// InnerParallelism is how many goroutines the task may use itself.
	InnerParallelism int
}

// Task is one unit of work.
type Task func(ctx context.Context, w Worker) (any, error)

// Executor schedules tasks.
//
// Thread Safety: implementations are safe for concurrent use.
type Executor interface {
	// Submit schedules task and returns its future.
	Submit(ctx context.Context, task Task) *Future

	// Workers returns the number of tasks that may run at once.
	Workers() int

	// Close waits for all submitted tasks and releases resources.
	Close() error
}

// Factory opens an executor with at most workers concurrent tasks.
type Factory func(workers int, logger *slog.Logger) (Executor, error)

// Future is the pending result of a task.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value any, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result blocks until the task finishes and returns its outcome.
func (f *Future) Result() (any, error) {
	<-f.done
	return f.value, f.err
}

// AsCompleted yields futures in completion order. Stopping the iteration
// early leaves no goroutine blocked.
func AsCompleted(futures []*Future) iter.Seq[*Future] {
	return func(yield func(*Future) bool) {
		ch := make(chan *Future, len(futures))
		for _, f := range futures {
			go func() {
				<-f.done
				ch <- f
			}()
		}
		for range futures {
			if !yield(<-ch) {
				return
			}
		}
	}
}

// CPUCount returns the CPUs available to this process, preferring the
// SLURM allocation when running under a SLURM job.
func CPUCount() int {
	if v := os.Getenv(SlurmCPUsEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// DefaultFactory opens an InProcess executor for one worker and a Pool
// otherwise.
func DefaultFactory(workers int, logger *slog.Logger) (Executor, error) {
	if workers == 1 {
		return NewInProcess(), nil
	}
	return NewPool(workers, WithLogger(logger))
}
