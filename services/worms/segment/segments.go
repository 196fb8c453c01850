// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package segment

import (
	"math"
	"math/bits"
	"slices"

	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// Segments is an ordered chain of segments.
type Segments []*Segment

// NewSegments validates a chain: it must be non-empty, free of nil
// entries, and its total combination count must fit in an int.
func NewSegments(segs ...*Segment) (Segments, error) {
	if len(segs) == 0 {
		return nil, wormerr.Constructionf("segments", wormerr.NoIndex, "no segments")
	}
	for i, s := range segs {
		if s == nil {
			return nil, wormerr.Constructionf("segment", i, "nil segment")
		}
	}
	out := Segments(slices.Clone(segs))
	if _, err := out.CombinationCount(); err != nil {
		return nil, err
	}
	return out, nil
}

// Sizes returns the choice count of each segment.
func (s Segments) Sizes() []int {
	out := make([]int, len(s))
	for i, seg := range s {
		out[i] = seg.Len()
	}
	return out
}

// CombinationCount returns the product of all choice counts, or a
// ConstructionError when it overflows.
func (s Segments) CombinationCount() (int, error) {
	return Product(s.Sizes())
}

// Product multiplies sizes, rejecting overflow past math.MaxInt.
func Product(sizes []int) (int, error) {
	total := uint64(1)
	for i, n := range sizes {
		if n < 0 {
			return 0, wormerr.Constructionf("segment", i, "negative size %d", n)
		}
		hi, lo := bits.Mul64(total, uint64(n))
		if hi != 0 || lo > math.MaxInt {
			return 0, wormerr.Constructionf("segment", i, "combination count overflows at size %d", n)
		}
		total = lo
	}
	return int(total), nil
}

// SplitAt cuts the chain at segment i into two independently searchable
// chains. Segment i is replaced by its head (entry side only) at the end
// of front and by its tail (exit side only) at the start of back.
func (s Segments) SplitAt(i int) (front, back Segments, err error) {
	if i <= 0 || i >= len(s)-1 {
		return nil, nil, wormerr.Constructionf("segment", i, "split point must be interior to a chain of %d", len(s))
	}
	head, err := s[i].Head()
	if err != nil {
		return nil, nil, err
	}
	tail, err := s[i].Tail()
	if err != nil {
		return nil, nil, err
	}
	front = append(slices.Clone(s[:i]), head)
	back = append(Segments{tail}, s[i+1:]...)
	return front, back, nil
}

type endKey struct {
	fragment int
	att      Attachment
}

// Splitter maps between a segment's choices and pairs of choices from
// its head and tail.
type Splitter struct {
	head, tail *Segment
	headIdx    map[endKey]int
	tailIdx    map[endKey]int
	merged     map[[2]int]int
	split      [][2]int
}

// NewSplitter indexes seg against its head and tail segments.
func NewSplitter(seg, head, tail *Segment) (*Splitter, error) {
	if !seg.SameBodiesAs(head) || !seg.SameBodiesAs(tail) {
		return nil, wormerr.Constructionf("segment", seg.index, "head and tail must share the segment's bodies")
	}
	sp := &Splitter{
		head:    head,
		tail:    tail,
		headIdx: make(map[endKey]int, head.Len()),
		tailIdx: make(map[endKey]int, tail.Len()),
		merged:  make(map[[2]int]int, seg.Len()),
		split:   make([][2]int, seg.Len()),
	}
	for i, c := range head.choices {
		sp.headIdx[endKey{c.Fragment, c.Entry}] = i
	}
	for i, c := range tail.choices {
		sp.tailIdx[endKey{c.Fragment, c.Exit}] = i
	}
	for i, c := range seg.choices {
		h, okH := sp.headIdx[endKey{c.Fragment, c.Entry}]
		t, okT := sp.tailIdx[endKey{c.Fragment, c.Exit}]
		if !okH || !okT {
			return nil, wormerr.Constructionf("segment", seg.index, "choice %d has no head/tail counterpart", i)
		}
		sp.merged[[2]int{h, t}] = i
		sp.split[i] = [2]int{h, t}
	}
	return sp, nil
}

// Merge returns the segment choice joining head choice h and tail choice
// t. ok is false when the pair is not a valid splice, e.g. the two ends
// belong to different fragments or fail the compatibility check.
func (sp *Splitter) Merge(h, t int) (int, bool) {
	i, ok := sp.merged[[2]int{h, t}]
	return i, ok
}

// Split returns the head and tail choices of segment choice i.
func (sp *Splitter) Split(i int) (h, t int) {
	p := sp.split[i]
	return p[0], p[1]
}
