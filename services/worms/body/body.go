// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package body defines the structural-body collaborator consumed by the
// segment tables and the result materializer.
//
// A Body is one physical structure, possibly with several chains, whose
// residues are addressed by 1-based positions over the whole body. The
// search engine never inspects atoms directly; it only needs attachment
// frames at selected positions, selector resolution, chain layout and
// trimming for materialization.
//
// Backbone is an in-memory reference implementation built either from
// per-residue N/CA/C coordinates or from precomputed frames.
package body

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/worms/pkg/xform"
)

// Sentinel errors for the body package.
var (
	// ErrPositionOutOfRange is returned for a position outside the body.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidSelector is returned when a selector cannot be parsed or resolved.
	ErrInvalidSelector = errors.New("invalid selector")

	// ErrEmptySelection is returned when a selector resolves to no positions.
	ErrEmptySelection = errors.New("selection resolved to no positions")

	// ErrChainOutOfRange is returned for a chain number the body does not have.
	ErrChainOutOfRange = errors.New("chain out of range")

	// ErrEmptyBody is returned when a body would have no residues.
	ErrEmptyBody = errors.New("body has no residues")
)

// Terminus names the end of a chain that a trim removes.
type Terminus int

const (
	// TerminusN removes residues before the trim position.
	TerminusN Terminus = iota + 1

	// TerminusC removes residues after the trim position.
	TerminusC
)

// String returns "N" or "C".
func (t Terminus) String() string {
	switch t {
	case TerminusN:
		return "N"
	case TerminusC:
		return "C"
	default:
		return "?"
	}
}

// Bounds is an inclusive 1-based residue range.
type Bounds struct {
	Lower int `json:"lower" yaml:"lower"`
	Upper int `json:"upper" yaml:"upper"`
}

// Len returns the number of residues in the range.
func (b Bounds) Len() int { return b.Upper - b.Lower + 1 }

// Contains reports whether position lies inside the range.
func (b Bounds) Contains(position int) bool {
	return position >= b.Lower && position <= b.Upper
}

// Body is the read-only view of a structure used by the engine.
//
// Thread Safety: implementations must be safe for concurrent reads.
type Body interface {
	// Name identifies the body in logs and reports.
	Name() string

	// StubTransforms returns the attachment frame at each position.
	StubTransforms(positions []int) ([]xform.Xform, error)

	// ResolveSelector resolves sel to sorted, unique positions. A non-zero
	// chain restricts selectors that do not name a chain themselves.
	ResolveSelector(sel Selector, chain int) ([]int, error)

	// Trim removes the residues beyond position toward terminus, leaving
	// at most pad extra residues, within the chain holding position. It
	// returns the trimmed single-chain body and the kept range in this
	// body's numbering.
	Trim(position int, terminus Terminus, pad int) (Body, Bounds, error)

	// ChainCount returns the number of chains.
	ChainCount() int

	// ChainBounds returns the range of each chain, in chain order.
	ChainBounds() []Bounds
}

// Len returns the total number of residues in b.
func Len(b Body) int {
	bounds := b.ChainBounds()
	if len(bounds) == 0 {
		return 0
	}
	return bounds[len(bounds)-1].Upper
}

// ChainOf returns the 1-based chain number holding position.
func ChainOf(b Body, position int) (int, error) {
	for i, cb := range b.ChainBounds() {
		if cb.Contains(position) {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %d not in %s (%d residues)", ErrPositionOutOfRange, position, b.Name(), Len(b))
}
