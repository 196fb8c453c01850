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
	"fmt"
	"sync/atomic"
)

// InProcess runs each task synchronously on the submitting goroutine.
type InProcess struct {
	closed atomic.Bool
	inner  int
}

// InProcessOption configures an InProcess executor.
type InProcessOption func(*InProcess)

// WithInnerParallelism sets the InnerParallelism handed to each task.
// Values below 1 mean 1.
func WithInnerParallelism(n int) InProcessOption {
	return func(e *InProcess) { e.inner = max(n, 1) }
}

// NewInProcess creates an in-process executor. Tasks get
// InnerParallelism 1 unless WithInnerParallelism says otherwise.
func NewInProcess(opts ...InProcessOption) *InProcess {
	e := &InProcess{inner: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit implements Executor. The task has finished when Submit returns.
func (e *InProcess) Submit(ctx context.Context, task Task) *Future {
	f := newFuture()
	if e.closed.Load() {
		f.resolve(nil, ErrClosed)
		return f
	}
	if err := ctx.Err(); err != nil {
		f.resolve(nil, err)
		return f
	}
	f.resolve(run(ctx, task, Worker{ID: 0, InnerParallelism: e.inner}))
	return f
}

// Workers implements Executor.
func (e *InProcess) Workers() int { return 1 }

// Close implements Executor.
func (e *InProcess) Close() error {
	e.closed.Store(true)
	return nil
}

// run invokes task, converting a panic into an ErrTaskPanic error.
func run(ctx context.Context, task Task, w Worker) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("%w on worker %d: %v", ErrTaskPanic, w.ID, r)
		}
	}()
	return task(ctx, w)
}
