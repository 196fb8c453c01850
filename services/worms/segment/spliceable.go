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
	"fmt"
	"slices"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/body"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// Spliceable is a body together with its splice sites.
//
// Construction resolves every site and fetches the attachment frames, so
// selector and range errors surface here. Immutable afterwards.
//
// Thread Safety: safe for concurrent use after construction.
type Spliceable struct {
	body      body.Body
	sites     []SpliceSite
	positions [][]int // per site
	stubs     map[int]xform.Xform
	chainOf   map[int]int
	bodyID    int
	hasID     bool
	minSegLen int
	siteCount [3]int // indexed by Polarity
}

// SpliceableOption configures a Spliceable.
type SpliceableOption func(*Spliceable)

// WithBodyID sets the id used when comparing fragments for closure. By
// default a fragment is identified by its index within its segment.
func WithBodyID(id int) SpliceableOption {
	return func(s *Spliceable) {
		s.bodyID = id
		s.hasID = true
	}
}

// WithMinSegLen sets the minimum number of residues between an entry and
// an exit on the same chain. Defaults to 1.
func WithMinSegLen(n int) SpliceableOption {
	return func(s *Spliceable) {
		s.minSegLen = n
	}
}

// NewSpliceable resolves sites on b.
func NewSpliceable(b body.Body, sites []SpliceSite, opts ...SpliceableOption) (*Spliceable, error) {
	if b == nil {
		return nil, wormerr.Constructionf("spliceable", wormerr.NoIndex, "nil body")
	}
	s := &Spliceable{
		body:      b,
		sites:     slices.Clone(sites),
		minSegLen: 1,
		stubs:     make(map[int]xform.Xform),
		chainOf:   make(map[int]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	var all []int
	for i, site := range s.sites {
		positions, err := site.Resolve(b)
		if err != nil {
			return nil, wormerr.NewConstructionError("site", i, fmt.Errorf("%s: %w", b.Name(), err))
		}
		s.positions = append(s.positions, positions)
		s.siteCount[site.Polarity]++
		all = append(all, positions...)
	}
	slices.Sort(all)
	all = slices.Compact(all)

	stubs, err := b.StubTransforms(all)
	if err != nil {
		return nil, wormerr.NewConstructionError("spliceable", wormerr.NoIndex, fmt.Errorf("%s: %w", b.Name(), err))
	}
	if len(stubs) != len(all) {
		return nil, wormerr.Constructionf("spliceable", wormerr.NoIndex,
			"%s: got %d stubs for %d positions", b.Name(), len(stubs), len(all))
	}
	for i, p := range all {
		s.stubs[p] = stubs[i]
		chain, err := body.ChainOf(b, p)
		if err != nil {
			return nil, wormerr.NewConstructionError("spliceable", wormerr.NoIndex, err)
		}
		s.chainOf[p] = chain
	}
	return s, nil
}

// Body returns the underlying body.
func (s *Spliceable) Body() body.Body { return s.body }

// Sites returns a copy of the splice sites.
func (s *Spliceable) Sites() []SpliceSite { return slices.Clone(s.sites) }

// SitePositions returns the resolved positions of site i.
func (s *Spliceable) SitePositions(i int) []int { return slices.Clone(s.positions[i]) }

// SiteCount returns the number of sites with polarity p.
func (s *Spliceable) SiteCount(p Polarity) int { return s.siteCount[p] }

// MinSegLen returns the minimum same-chain segment length.
func (s *Spliceable) MinSegLen() int { return s.minSegLen }

// ChainCount returns the number of chains in the body.
func (s *Spliceable) ChainCount() int { return s.body.ChainCount() }

// BodyID returns the explicit body id, if one was set.
func (s *Spliceable) BodyID() (int, bool) { return s.bodyID, s.hasID }

// Stub returns the attachment frame at a resolved site position.
func (s *Spliceable) Stub(position int) (xform.Xform, bool) {
	x, ok := s.stubs[position]
	return x, ok
}

// Compatible reports whether entry and exit can bracket one fragment.
// Attachments on different chains, or with an absent side, always pass.
// On one chain the polarities must differ and the entry-to-exit span,
// measured in the entry's direction, must reach MinSegLen.
func (s *Spliceable) Compatible(entry, exit Attachment) bool {
	if !entry.Present || !exit.Present {
		return true
	}
	if s.chainOf[entry.Position] != s.chainOf[exit.Position] {
		return true
	}
	ipol := s.sites[entry.Site].Polarity
	jpol := s.sites[exit.Site].Polarity
	if ipol == jpol {
		return false
	}
	var seglen int
	if ipol == N {
		seglen = exit.Position - entry.Position + 1
	} else {
		seglen = entry.Position - exit.Position + 1
	}
	return seglen >= s.minSegLen
}

// String summarizes the body and its resolved sites.
func (s *Spliceable) String() string {
	return fmt.Sprintf("Spliceable(%s, sites=%v)", s.body.Name(), s.sites)
}
