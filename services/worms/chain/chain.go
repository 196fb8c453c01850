// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chain composes cumulative rigid transforms along a segment chain.
//
// For choices i_0..i_k the recurrence is
//
//	connection[-1] = I
//	position[k]    = connection[k-1] · ToOrigin(i_k)
//	connection[k]  = connection[k-1] · ToExit(i_k)
//
// A Prefix stores position[k] densely over (i_0..i_k) only, one level per
// segment, in row-major order with segment 0 most significant. Level k is
// therefore prod(sizes[:k+1]) entries long rather than the full prefix
// product, and the entry for a full prefix index f is at f / prod(sizes[k+1:]).
package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/segment"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// XformBytes is the in-memory size of one transform.
const XformBytes = 16 * 8

// minChunk is the smallest slice of a level handed to one goroutine.
var minChunk = 4096

// Prefix holds the composed transforms of the first Len() segments.
//
// Thread Safety: immutable after Compose; safe for concurrent reads.
type Prefix struct {
	sizes      []int
	divisors   []int // divisors[k] = prod(sizes[k+1:])
	positions  [][]xform.Xform
	connection []xform.Xform // last level only
}

type composeConfig struct {
	parallelism int
}

// Option configures Compose.
type Option func(*composeConfig)

// WithParallelism bounds the goroutines used to fill each level. Values
// below 2 compose on the calling goroutine.
func WithParallelism(n int) Option {
	return func(c *composeConfig) { c.parallelism = n }
}

// ErrPrefixTooLarge reports a prefix whose byte size does not fit in an int.
var ErrPrefixTooLarge = errors.New("prefix too large to address")

// EstimateBytes returns the memory a Prefix over sizes would hold. A
// prefix too large to address fails with ErrPrefixTooLarge.
func EstimateBytes(sizes []int) (int, error) {
	total := 0
	level := 1
	for i, n := range sizes {
		var err error
		if level, err = segment.Product([]int{level, n}); err != nil {
			return 0, wormerr.NewConstructionError("segment", i, ErrPrefixTooLarge)
		}
		if total > math.MaxInt-level {
			return 0, wormerr.NewConstructionError("segment", i, ErrPrefixTooLarge)
		}
		total += level
	}
	// positions for every level plus the last connection level
	if total > math.MaxInt-level {
		return 0, wormerr.NewConstructionError("segment", len(sizes)-1, ErrPrefixTooLarge)
	}
	total += level
	if total > math.MaxInt/XformBytes {
		return 0, wormerr.NewConstructionError("segment", len(sizes)-1, ErrPrefixTooLarge)
	}
	return total * XformBytes, nil
}

// Compose builds the prefix over segs[:end].
//
// Inputs:
//
//	ctx - checked between levels.
//	segs - the chain; must have at least end segments.
//	end - number of segments to compose, at least 1.
//
// Outputs:
//
//	*Prefix - the composed levels.
//	error - a construction error for bad bounds or overflow, or ctx.Err().
func Compose(ctx context.Context, segs segment.Segments, end int, opts ...Option) (*Prefix, error) {
	if ctx == nil {
		return nil, wormerr.ErrNilContext
	}
	cfg := composeConfig{parallelism: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if end < 1 || end > len(segs) {
		return nil, wormerr.Constructionf("prefix", end, "must be within 1..%d", len(segs))
	}
	sizes := segs[:end].Sizes()
	if _, err := EstimateBytes(sizes); err != nil {
		return nil, err
	}

	p := &Prefix{
		sizes:     sizes,
		divisors:  make([]int, end),
		positions: make([][]xform.Xform, end),
	}
	div := 1
	for k := end - 1; k >= 0; k-- {
		p.divisors[k] = div
		div *= sizes[k]
	}

	prevConn := []xform.Xform{xform.Identity()}
	for k := 0; k < end; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := segs[k]
		n := sizes[k]
		count := len(prevConn) * n
		pos := make([]xform.Xform, count)
		conn := make([]xform.Xform, count)

		fill := func(lo, hi int) {
			for f := lo; f < hi; f++ {
				c := &prevConn[f/n]
				i := f % n
				pos[f] = c.Mul(*seg.ToOrigin(i))
				conn[f] = c.Mul(*seg.ToExit(i))
			}
		}
		if err := parallelFill(ctx, count, cfg.parallelism, fill); err != nil {
			return nil, err
		}
		p.positions[k] = pos
		prevConn = conn
	}
	p.connection = prevConn
	return p, nil
}

func parallelFill(ctx context.Context, count, parallelism int, fill func(lo, hi int)) error {
	if parallelism < 2 || count < 2*minChunk {
		fill(0, count)
		return nil
	}
	chunk := max(minChunk, (count+parallelism-1)/parallelism)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for lo := 0; lo < count; lo += chunk {
		hi := min(lo+chunk, count)
		g.Go(func() error {
			fill(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

// Len returns the number of composed segments.
func (p *Prefix) Len() int { return len(p.sizes) }

// Sizes returns the choice counts of the composed segments.
func (p *Prefix) Sizes() []int { return slices.Clone(p.sizes) }

// Count returns the number of full prefix combinations.
func (p *Prefix) Count() int { return len(p.connection) }

// Position returns position[k] for full prefix index flat.
func (p *Prefix) Position(k, flat int) xform.Xform {
	return p.positions[k][flat/p.divisors[k]]
}

// Positions writes position[0..Len()) for flat into dst[:Len()].
func (p *Prefix) Positions(flat int, dst []xform.Xform) {
	for k := range p.sizes {
		dst[k] = p.positions[k][flat/p.divisors[k]]
	}
}

// Connection returns connection[Len()-1] for flat.
func (p *Prefix) Connection(flat int) xform.Xform { return p.connection[flat] }

// Tuple decodes flat into per-segment choices.
func (p *Prefix) Tuple(flat int) []int {
	out := make([]int, len(p.sizes))
	Decode(flat, p.sizes, out)
	return out
}

// Index encodes per-segment choices into a flat prefix index.
func (p *Prefix) Index(tuple []int) (int, error) { return Encode(tuple, p.sizes) }

// Decode writes the mixed-radix digits of flat (first digit most
// significant) into dst[:len(sizes)].
func Decode(flat int, sizes []int, dst []int) {
	for k := len(sizes) - 1; k >= 0; k-- {
		dst[k] = flat % sizes[k]
		flat /= sizes[k]
	}
}

// Encode is the inverse of Decode.
func Encode(tuple, sizes []int) (int, error) {
	if len(tuple) != len(sizes) {
		return 0, fmt.Errorf("tuple has %d digits, want %d", len(tuple), len(sizes))
	}
	flat := 0
	for k, d := range tuple {
		if d < 0 || d >= sizes[k] {
			return 0, fmt.Errorf("digit %d = %d out of range %d", k, d, sizes[k])
		}
		flat = flat*sizes[k] + d
	}
	return flat, nil
}

// Extend continues the recurrence from conn through segs[from:] with the
// given choices, writing positions into dst[from:from+len(choices)].
// It returns the final connection.
func Extend(conn xform.Xform, segs segment.Segments, from int, choices []int, dst []xform.Xform) xform.Xform {
	for j, i := range choices {
		seg := segs[from+j]
		dst[from+j] = conn.Mul(*seg.ToOrigin(i))
		conn = conn.Mul(*seg.ToExit(i))
	}
	return conn
}
