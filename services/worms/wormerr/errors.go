// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wormerr defines the error taxonomy shared by the worms packages.
//
// Every error raised before the search starts is either a
// ConstructionError (bad input data or parameters) or a TopologyError
// (an inconsistent segment chain). A SearchConsistencyError signals an
// engine defect detected after the search. Match the category with
// errors.Is against the sentinels and inspect details with errors.As.
package wormerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for each category.
var (
	// ErrConstruction is matched by every ConstructionError.
	ErrConstruction = errors.New("construction error")

	// ErrTopology is matched by every TopologyError.
	ErrTopology = errors.New("topology error")

	// ErrSearchConsistency is matched by every SearchConsistencyError.
	ErrSearchConsistency = errors.New("search consistency error")

	// ErrNoValidSplices is the cause when a segment table ends up empty.
	ErrNoValidSplices = errors.New("no valid splices")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")
)

// NoIndex marks an error that is not tied to a particular position.
const NoIndex = -1

// ConstructionError reports invalid input found while building segment
// tables, splice sites or criteria.
type ConstructionError struct {
	// Component names the offending object, e.g. "segment", "site", "criteria".
	Component string

	// Index is the position of the offending object, or NoIndex.
	Index int

	Err error
}

// Error returns the error message.
func (e *ConstructionError) Error() string {
	if e.Index == NoIndex {
		return fmt.Sprintf("construction error: %s: %v", e.Component, e.Err)
	}
	return fmt.Sprintf("construction error: %s %d: %v", e.Component, e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConstructionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConstruction.
func (e *ConstructionError) Is(target error) bool { return target == ErrConstruction }

// NewConstructionError creates a ConstructionError.
func NewConstructionError(component string, index int, err error) *ConstructionError {
	return &ConstructionError{Component: component, Index: index, Err: err}
}

// Constructionf creates a ConstructionError with a formatted cause.
func Constructionf(component string, index int, format string, args ...any) *ConstructionError {
	return NewConstructionError(component, index, fmt.Errorf(format, args...))
}

// TopologyError reports a segment chain that cannot be searched.
type TopologyError struct {
	// Segment is the index of the offending segment, or NoIndex.
	Segment int

	Reason string
}

// Error returns the error message.
func (e *TopologyError) Error() string {
	if e.Segment == NoIndex {
		return "topology error: " + e.Reason
	}
	return fmt.Sprintf("topology error: segment %d: %s", e.Segment, e.Reason)
}

// Is reports whether target is ErrTopology.
func (e *TopologyError) Is(target error) bool { return target == ErrTopology }

// Topologyf creates a TopologyError with a formatted reason.
func Topologyf(segment int, format string, args ...any) *TopologyError {
	return &TopologyError{Segment: segment, Reason: fmt.Sprintf(format, args...)}
}

// SearchConsistencyError reports a hit whose score could not be reproduced.
type SearchConsistencyError struct {
	Indices    []int
	Score      float64
	Recomputed float64
}

// Error returns the error message.
func (e *SearchConsistencyError) Error() string {
	return fmt.Sprintf("search consistency error: chain %v scored %g during search but %g on recompute",
		e.Indices, e.Score, e.Recomputed)
}

// Is reports whether target is ErrSearchConsistency.
func (e *SearchConsistencyError) Is(target error) bool { return target == ErrSearchConsistency }
