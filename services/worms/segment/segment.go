// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package segment builds the per-position transform tables searched by
// the engine.
//
// A Segment enumerates every valid way of entering and leaving one of its
// fragments: for each fragment, each entry site position and each exit
// site position of the requested polarities, it stores the transform from
// the entry frame to the exit frame (ToExit) and the transform that places
// the fragment relative to its entry frame (ToOrigin). A side with None
// polarity is a chain terminus and contributes a single identity entry.
//
// # Thread Safety
//
// Segments are immutable after construction and safe for concurrent reads.
package segment

import (
	"fmt"
	"math"
	"slices"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// Choice is one row of a segment table.
type Choice struct {
	ToExit   xform.Xform
	ToOrigin xform.Xform

	// Fragment indexes the segment's spliceables.
	Fragment int

	// Body identifies the fragment for closure checks.
	Body int

	Entry Attachment
	Exit  Attachment
}

// Segment is the table of valid choices at one chain position.
type Segment struct {
	spliceables []*Spliceable
	entry       Polarity
	exit        Polarity
	choices     []Choice
	minSites    [3]int
	maxSites    [3]int
	chains      int
	index       int
}

type segmentConfig struct {
	expert bool
	index  int
}

// SegmentOption configures NewSegment.
type SegmentOption func(*segmentConfig)

// WithExpert relaxes the same-chain-count requirement across fragments.
func WithExpert(expert bool) SegmentOption {
	return func(c *segmentConfig) { c.expert = expert }
}

// WithPosition records the segment's position in its chain for error
// reporting.
func WithPosition(i int) SegmentOption {
	return func(c *segmentConfig) { c.index = i }
}

// NewSegment builds the choice table for spliceables with the given entry
// and exit polarities. At least one of entry and exit must be set.
//
// Outputs:
//
//	*Segment - the table; never empty.
//	error - a *wormerr.ConstructionError naming the segment position when
//	  the inputs are invalid or no splice survives the compatibility check.
func NewSegment(spliceables []*Spliceable, entry, exit Polarity, opts ...SegmentOption) (*Segment, error) {
	cfg := segmentConfig{index: wormerr.NoIndex}
	for _, opt := range opts {
		opt(&cfg)
	}
	fail := func(format string, args ...any) error {
		return wormerr.Constructionf("segment", cfg.index, format, args...)
	}

	if entry == None && exit == None {
		return nil, fail("at least one of entry/exit polarity is required")
	}
	if len(spliceables) == 0 {
		return nil, fail("no spliceables")
	}
	for i, s := range spliceables {
		if s == nil {
			return nil, fail("spliceable %d is nil", i)
		}
	}

	seg := &Segment{
		spliceables: slices.Clone(spliceables),
		entry:       entry,
		exit:        exit,
		minSites:    [3]int{math.MaxInt, math.MaxInt, math.MaxInt},
		chains:      spliceables[0].ChainCount(),
		index:       cfg.index,
	}
	for i, s := range spliceables {
		if s.ChainCount() != seg.chains && !cfg.expert {
			return nil, fail("spliceable %d has %d chains, expected %d (expert mode ignores this)",
				i, s.ChainCount(), seg.chains)
		}
		seg.chains = max(seg.chains, s.ChainCount())
		for _, p := range []Polarity{N, C} {
			seg.minSites[p] = min(seg.minSites[p], s.SiteCount(p))
			seg.maxSites[p] = max(seg.maxSites[p], s.SiteCount(p))
		}
		seg.appendChoices(i, s)
	}
	if len(seg.choices) == 0 {
		return nil, wormerr.NewConstructionError("segment", cfg.index,
			fmt.Errorf("%w for %s%s", wormerr.ErrNoValidSplices, entry, exit))
	}
	return seg, nil
}

// ends lists the attachments of one side: every position of every site
// with polarity p, or a single terminus for None.
func ends(s *Spliceable, p Polarity) []Attachment {
	if p == None {
		return []Attachment{{}}
	}
	var out []Attachment
	for isite, site := range s.sites {
		if site.Polarity != p {
			continue
		}
		for _, pos := range s.positions[isite] {
			out = append(out, Attach(isite, pos))
		}
	}
	return out
}

func (seg *Segment) appendChoices(fragment int, s *Spliceable) {
	bodyID := fragment
	if id, ok := s.BodyID(); ok {
		bodyID = id
	}
	exits := ends(s, seg.exit)
	for _, en := range ends(s, seg.entry) {
		toOrigin := xform.Identity()
		if en.Present {
			toOrigin = s.stubs[en.Position].Inverse()
		}
		for _, ex := range exits {
			if en.SameSite(ex) || !s.Compatible(en, ex) {
				continue
			}
			exitStub := xform.Identity()
			if ex.Present {
				exitStub = s.stubs[ex.Position]
			}
			seg.choices = append(seg.choices, Choice{
				ToExit:   toOrigin.Mul(exitStub),
				ToOrigin: toOrigin,
				Fragment: fragment,
				Body:     bodyID,
				Entry:    en,
				Exit:     ex,
			})
		}
	}
}

// Len returns the number of choices.
func (seg *Segment) Len() int { return len(seg.choices) }

// Choice returns choice i.
func (seg *Segment) Choice(i int) Choice { return seg.choices[i] }

// Choices returns a copy of the table.
func (seg *Segment) Choices() []Choice { return slices.Clone(seg.choices) }

// ToExit returns the entry-to-exit transform of choice i.
func (seg *Segment) ToExit(i int) *xform.Xform { return &seg.choices[i].ToExit }

// ToOrigin returns the entry-to-origin transform of choice i.
func (seg *Segment) ToOrigin(i int) *xform.Xform { return &seg.choices[i].ToOrigin }

// Entry returns the entry polarity.
func (seg *Segment) Entry() Polarity { return seg.entry }

// Exit returns the exit polarity.
func (seg *Segment) Exit() Polarity { return seg.exit }

// Spliceables returns the fragments of this segment.
func (seg *Segment) Spliceables() []*Spliceable { return slices.Clone(seg.spliceables) }

// Spliceable returns the fragment that choice i uses.
func (seg *Segment) Spliceable(i int) *Spliceable { return seg.spliceables[seg.choices[i].Fragment] }

// MinSites returns the fewest sites of polarity p over all fragments.
func (seg *Segment) MinSites(p Polarity) int {
	if p == None {
		return 0
	}
	return seg.minSites[p]
}

// MaxSites returns the most sites of polarity p over all fragments.
func (seg *Segment) MaxSites(p Polarity) int {
	if p == None {
		return 0
	}
	return seg.maxSites[p]
}

// ChainCount returns the largest chain count over the fragments.
func (seg *Segment) ChainCount() int { return seg.chains }

// Position returns the chain position recorded at construction, or
// wormerr.NoIndex.
func (seg *Segment) Position() int { return seg.index }

// SameBodiesAs reports whether seg and other draw on the same bodies in
// the same order.
func (seg *Segment) SameBodiesAs(other *Segment) bool {
	if len(seg.spliceables) != len(other.spliceables) {
		return false
	}
	for i, s := range seg.spliceables {
		if s.body != other.spliceables[i].body {
			return false
		}
	}
	return true
}

// Head returns a segment over the same fragments keeping only the entry
// side; its exit is a terminus.
func (seg *Segment) Head() (*Segment, error) {
	if seg.entry == None {
		return nil, wormerr.Constructionf("segment", seg.index, "head of a segment without entry")
	}
	return NewSegment(seg.spliceables, seg.entry, None, WithExpert(true), WithPosition(seg.index))
}

// Tail returns a segment over the same fragments keeping only the exit
// side; its entry is a terminus.
func (seg *Segment) Tail() (*Segment, error) {
	if seg.exit == None {
		return nil, wormerr.Constructionf("segment", seg.index, "tail of a segment without exit")
	}
	return NewSegment(seg.spliceables, None, seg.exit, WithExpert(true), WithPosition(seg.index))
}

// String summarizes the segment.
func (seg *Segment) String() string {
	return fmt.Sprintf("Segment(%s%s, fragments=%d, choices=%d)", seg.entry, seg.exit, len(seg.spliceables), len(seg.choices))
}
