// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/body"
	"github.com/AleutianAI/worms/services/worms/criteria"
	"github.com/AleutianAI/worms/services/worms/segment"
)

// ErrIndexOutOfRange is returned for a hit index outside [0, Len()).
var ErrIndexOutOfRange = errors.New("hit index out of range")

// Worms is the score-sorted result of a search.
//
// Thread Safety: immutable; safe for concurrent reads. Accessors return
// copies.
type Worms struct {
	segs   segment.Segments
	crit   criteria.Criteria
	hits   []hit
	detail Detail
}

func newWorms(segs segment.Segments, crit criteria.Criteria, hits []hit, detail Detail) *Worms {
	return &Worms{segs: segs, crit: crit, hits: hits, detail: detail}
}

// Len returns the number of hits.
func (w *Worms) Len() int {
	if w == nil {
		return 0
	}
	return len(w.hits)
}

// At returns the choice per segment, the score and the per-segment
// positions of hit i.
func (w *Worms) At(i int) (indices []int, score float64, positions []xform.Xform) {
	h := w.hits[i]
	return slices.Clone(h.indices), h.score, slices.Clone(h.positions)
}

// Score returns the score of hit i.
func (w *Worms) Score(i int) float64 { return w.hits[i].score }

// Scores returns every score in result order.
func (w *Worms) Scores() []float64 {
	out := make([]float64, len(w.hits))
	for i, h := range w.hits {
		out[i] = h.score
	}
	return out
}

// Detail returns the search layout.
func (w *Worms) Detail() Detail {
	d := w.detail
	d.Sizes = slices.Clone(d.Sizes)
	return d
}

// Segments returns the searched chain.
func (w *Worms) Segments() segment.Segments { return slices.Clone(w.segs) }

// Criteria returns the criteria the hits satisfy.
func (w *Worms) Criteria() criteria.Criteria { return w.crit }

// Alignment returns the transform placing hit i in its symmetry frame.
func (w *Worms) Alignment(i int) xform.Xform {
	return w.crit.Alignment(w.hits[i].positions)
}

// Splice describes one junction of a hit, between segment Segment and
// Segment+1.
type Splice struct {
	Segment int

	// FromFragment and ToFragment index the spliceables of the two segments.
	FromFragment int
	ToFragment   int

	// FromChain and ToChain are 1-based chain numbers.
	FromChain int
	ToChain   int

	// FromResidue and ToResidue are 1-based positions within their chains.
	FromResidue int
	ToResidue   int

	Polarity [2]segment.Polarity
}

// String formats the splice as "seg 0: frag 1 A12 C -> frag 0 A3 N".
func (s Splice) String() string {
	return fmt.Sprintf("seg %d: frag %d %s%d %s -> frag %d %s%d %s",
		s.Segment,
		s.FromFragment, chainLetter(s.FromChain), s.FromResidue, s.Polarity[0],
		s.ToFragment, chainLetter(s.ToChain), s.ToResidue, s.Polarity[1])
}

func chainLetter(c int) string {
	if c >= 1 && c <= 26 {
		return string(rune('A' + c - 1))
	}
	return fmt.Sprintf("#%d", c)
}

// Splices reports every junction of hit i.
func (w *Worms) Splices(i int) ([]Splice, error) {
	if i < 0 || i >= w.Len() {
		return nil, fmt.Errorf("splices %d: %w", i, ErrIndexOutOfRange)
	}
	idx := w.hits[i].indices
	out := make([]Splice, 0, len(w.segs)-1)
	for k := 0; k+1 < len(w.segs); k++ {
		a, b := w.segs[k], w.segs[k+1]
		ca, cb := a.Choice(idx[k]), b.Choice(idx[k+1])
		fc, fr, err := chainResidue(a.Spliceable(idx[k]).Body(), ca.Exit.Position)
		if err != nil {
			return nil, fmt.Errorf("segment %d exit: %w", k, err)
		}
		tc, tr, err := chainResidue(b.Spliceable(idx[k+1]).Body(), cb.Entry.Position)
		if err != nil {
			return nil, fmt.Errorf("segment %d entry: %w", k+1, err)
		}
		out = append(out, Splice{
			Segment:      k,
			FromFragment: ca.Fragment,
			ToFragment:   cb.Fragment,
			FromChain:    fc,
			ToChain:      tc,
			FromResidue:  fr,
			ToResidue:    tr,
			Polarity:     [2]segment.Polarity{a.Exit(), b.Entry()},
		})
	}
	return out, nil
}

func chainResidue(b body.Body, position int) (int, int, error) {
	c, err := body.ChainOf(b, position)
	if err != nil {
		return 0, 0, err
	}
	return c, position - b.ChainBounds()[c-1].Lower + 1, nil
}

// Piece is one trimmed fragment of a hit, placed by Position.
type Piece struct {
	Segment  int
	Body     body.Body
	Bounds   body.Bounds
	Position xform.Xform
}

// Assembler turns the pieces of a hit into a structure. Building the
// structure itself is left to the caller.
type Assembler interface {
	Assemble(ctx context.Context, pieces []Piece, alignment xform.Xform) (body.Body, error)
}

// MaterializeOption configures Materialize.
type MaterializeOption func(*materializeConfig)

type materializeConfig struct {
	pad int
}

// WithPad keeps up to n residues beyond each splice point.
func WithPad(n int) MaterializeOption {
	return func(c *materializeConfig) { c.pad = n }
}

// Materialize trims the fragments of hit i at their splice points and
// hands them, with the hit's alignment, to asm.
//
// Description:
//
//	Each choice is trimmed at its entry, then at its exit, toward the
//	terminus the splice polarity removes. When entry and exit sit on
//	different chains each side becomes its own piece.
func (w *Worms) Materialize(ctx context.Context, i int, asm Assembler, opts ...MaterializeOption) (body.Body, error) {
	if i < 0 || i >= w.Len() {
		return nil, fmt.Errorf("materialize %d: %w", i, ErrIndexOutOfRange)
	}
	if asm == nil {
		return nil, errors.New("materialize: nil assembler")
	}
	var cfg materializeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	h := w.hits[i]
	var pieces []Piece
	for k, seg := range w.segs {
		c := seg.Choice(h.indices[k])
		b := seg.Spliceable(h.indices[k]).Body()
		ps, err := trimChoice(b, c, seg.Entry(), seg.Exit(), cfg.pad)
		if err != nil {
			return nil, fmt.Errorf("materialize segment %d: %w", k, err)
		}
		for _, p := range ps {
			p.Segment = k
			p.Position = h.positions[k]
			pieces = append(pieces, p)
		}
	}
	return asm.Assemble(ctx, pieces, w.crit.Alignment(h.positions))
}

func trimChoice(b body.Body, c segment.Choice, entry, exit segment.Polarity, pad int) ([]Piece, error) {
	switch {
	case !c.Entry.Present && !c.Exit.Present:
		return []Piece{{Body: b, Bounds: body.Bounds{Lower: 1, Upper: body.Len(b)}}}, nil
	case !c.Entry.Present:
		return trimOne(b, c.Exit.Position, exit, pad)
	case !c.Exit.Present:
		return trimOne(b, c.Entry.Position, entry, pad)
	}

	ec, err := body.ChainOf(b, c.Entry.Position)
	if err != nil {
		return nil, err
	}
	xc, err := body.ChainOf(b, c.Exit.Position)
	if err != nil {
		return nil, err
	}
	if ec != xc {
		front, err := trimOne(b, c.Entry.Position, entry, pad)
		if err != nil {
			return nil, err
		}
		back, err := trimOne(b, c.Exit.Position, exit, pad)
		if err != nil {
			return nil, err
		}
		return append(front, back...), nil
	}

	first, kept, err := b.Trim(c.Entry.Position, entry.Terminus(), pad)
	if err != nil {
		return nil, err
	}
	second, inner, err := first.Trim(c.Exit.Position-kept.Lower+1, exit.Terminus(), pad)
	if err != nil {
		return nil, err
	}
	return []Piece{{
		Body:   second,
		Bounds: body.Bounds{Lower: kept.Lower + inner.Lower - 1, Upper: kept.Lower + inner.Upper - 1},
	}}, nil
}

func trimOne(b body.Body, position int, pol segment.Polarity, pad int) ([]Piece, error) {
	sub, kept, err := b.Trim(position, pol.Terminus(), pad)
	if err != nil {
		return nil, err
	}
	return []Piece{{Body: sub, Bounds: kept}}, nil
}
