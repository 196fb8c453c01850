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
	"strings"

	"github.com/AleutianAI/worms/services/worms/body"
)

// SpliceSite is a polarity-tagged set of attachment positions on a body.
type SpliceSite struct {
	Selectors []body.Selector
	Polarity  Polarity

	// Chain restricts selectors that do not name a chain; 0 means none.
	Chain int
}

// NewSpliceSite parses text selectors into a SpliceSite.
func NewSpliceSite(polarity Polarity, chain int, selectors ...string) (SpliceSite, error) {
	site := SpliceSite{Polarity: polarity, Chain: chain}
	for _, text := range selectors {
		sel, err := body.ParseSelector(text)
		if err != nil {
			return SpliceSite{}, err
		}
		site.Selectors = append(site.Selectors, sel)
	}
	return site, nil
}

// Resolve returns the sorted, unique positions selected on b.
func (s SpliceSite) Resolve(b body.Body) ([]int, error) {
	if len(s.Selectors) == 0 {
		return nil, fmt.Errorf("site %s: %w", s, body.ErrEmptySelection)
	}
	var out []int
	for _, sel := range s.Selectors {
		positions, err := b.ResolveSelector(sel, s.Chain)
		if err != nil {
			return nil, fmt.Errorf("site %s: selector %s: %w", s, sel, err)
		}
		out = append(out, positions...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// String formats the site as "[sel sel]/P" with an optional chain.
func (s SpliceSite) String() string {
	parts := make([]string, len(s.Selectors))
	for i, sel := range s.Selectors {
		parts[i] = sel.String()
	}
	out := fmt.Sprintf("[%s]/%s", strings.Join(parts, " "), s.Polarity)
	if s.Chain != 0 {
		out += fmt.Sprintf("@%d", s.Chain)
	}
	return out
}

// Attachment is one end of a segment choice. A zero Attachment (Present
// false) is a chain terminus with an identity transform.
type Attachment struct {
	Site     int
	Position int
	Present  bool
}

// Attach returns a present attachment.
func Attach(site, position int) Attachment {
	return Attachment{Site: site, Position: position, Present: true}
}

// SameSite reports whether both attachments are present and share a site.
func (a Attachment) SameSite(b Attachment) bool {
	return a.Present && b.Present && a.Site == b.Site
}

// String returns "site:position" or "-".
func (a Attachment) String() string {
	if !a.Present {
		return "-"
	}
	return fmt.Sprintf("%d:%d", a.Site, a.Position)
}
