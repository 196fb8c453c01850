// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wormerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestConstructionError_Matching verifies category and cause both match.
func TestConstructionError_Matching(t *testing.T) {
	err := fmt.Errorf("building: %w", NewConstructionError("segment", 2, ErrNoValidSplices))

	assert.ErrorIs(t, err, ErrConstruction)
	assert.ErrorIs(t, err, ErrNoValidSplices)
	assert.NotErrorIs(t, err, ErrTopology)

	var ce *ConstructionError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Index)
	assert.Equal(t, "construction error: segment 2: no valid splices", ce.Error())
}

// TestTopologyError_Message verifies messages with and without an index.
func TestTopologyError_Message(t *testing.T) {
	assert.Equal(t, "topology error: segment 1: bad", Topologyf(1, "bad").Error())
	assert.Equal(t, "topology error: bad", Topologyf(NoIndex, "bad").Error())
	assert.ErrorIs(t, Topologyf(0, "x"), ErrTopology)
}

// TestSearchConsistencyError_Matching verifies the sentinel matches.
func TestSearchConsistencyError_Matching(t *testing.T) {
	err := &SearchConsistencyError{Indices: []int{1, 2}, Score: 0.5, Recomputed: 0.7}
	assert.ErrorIs(t, err, ErrSearchConsistency)
	assert.Contains(t, err.Error(), "[1 2]")
}
