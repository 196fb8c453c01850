// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package body

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/AleutianAI/worms/pkg/xform"
)

// Residue holds the backbone atoms that define a residue frame.
type Residue struct {
	N  r3.Vec `json:"n" yaml:"n"`
	CA r3.Vec `json:"ca" yaml:"ca"`
	C  r3.Vec `json:"c" yaml:"c"`
}

// Backbone is an in-memory Body holding one frame per residue.
//
// Thread Safety: immutable after construction; safe for concurrent use.
type Backbone struct {
	name     string
	frames   []xform.Xform
	residues []Residue // nil when built from frames
	bounds   []Bounds
}

// NewBackbone builds a body from per-chain backbone atoms. Each residue
// frame is derived from its N, CA and C atoms.
func NewBackbone(name string, chains ...[]Residue) (*Backbone, error) {
	frameChains := make([][]xform.Xform, len(chains))
	var residues []Residue
	for ic, chain := range chains {
		frameChains[ic] = make([]xform.Xform, len(chain))
		for ir, res := range chain {
			f, err := xform.FrameFromNCAC(res.N, res.CA, res.C)
			if err != nil {
				return nil, fmt.Errorf("%s chain %d residue %d: %w", name, ic+1, ir+1, err)
			}
			frameChains[ic][ir] = f
		}
		residues = append(residues, chain...)
	}
	b, err := NewFrames(name, frameChains...)
	if err != nil {
		return nil, err
	}
	b.residues = residues
	return b, nil
}

// NewFrames builds a body directly from per-chain residue frames.
func NewFrames(name string, chains ...[]xform.Xform) (*Backbone, error) {
	b := &Backbone{name: name}
	for ic, chain := range chains {
		if len(chain) == 0 {
			return nil, fmt.Errorf("%s chain %d: %w", name, ic+1, ErrEmptyBody)
		}
		lower := len(b.frames) + 1
		b.frames = append(b.frames, chain...)
		b.bounds = append(b.bounds, Bounds{Lower: lower, Upper: len(b.frames)})
	}
	if len(b.frames) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyBody)
	}
	return b, nil
}

// Name implements Body.
func (b *Backbone) Name() string { return b.name }

// ChainCount implements Body.
func (b *Backbone) ChainCount() int { return len(b.bounds) }

// ChainBounds implements Body.
func (b *Backbone) ChainBounds() []Bounds { return slices.Clone(b.bounds) }

// Residues returns the backbone atoms, or nil for a frame-only body.
func (b *Backbone) Residues() []Residue { return slices.Clone(b.residues) }

// StubTransforms implements Body.
func (b *Backbone) StubTransforms(positions []int) ([]xform.Xform, error) {
	out := make([]xform.Xform, len(positions))
	for i, p := range positions {
		if p < 1 || p > len(b.frames) {
			return nil, fmt.Errorf("%s: %w: %d of %d", b.name, ErrPositionOutOfRange, p, len(b.frames))
		}
		out[i] = b.frames[p-1]
	}
	return out, nil
}

// ResolveSelector implements Body.
func (b *Backbone) ResolveSelector(sel Selector, chain int) ([]int, error) {
	positions, err := Resolve(sel, chain, b.bounds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.name, err)
	}
	return positions, nil
}

// Trim implements Body.
func (b *Backbone) Trim(position int, terminus Terminus, pad int) (Body, Bounds, error) {
	chain, err := ChainOf(b, position)
	if err != nil {
		return nil, Bounds{}, err
	}
	cb := b.bounds[chain-1]
	kept := cb
	switch terminus {
	case TerminusN:
		kept.Lower = max(position-pad, cb.Lower)
	case TerminusC:
		kept.Upper = min(position+pad, cb.Upper)
	default:
		return nil, Bounds{}, fmt.Errorf("trim %s: invalid terminus %d", b.name, terminus)
	}

	sub := &Backbone{
		name:   fmt.Sprintf("%s[%d-%d]", b.name, kept.Lower, kept.Upper),
		frames: slices.Clone(b.frames[kept.Lower-1 : kept.Upper]),
		bounds: []Bounds{{Lower: 1, Upper: kept.Len()}},
	}
	if b.residues != nil {
		sub.residues = slices.Clone(b.residues[kept.Lower-1 : kept.Upper])
	}
	return sub, kept, nil
}
