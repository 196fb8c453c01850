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
	"strconv"
	"strings"
)

// Selector picks residue positions relative to a chain or the whole body.
//
// Positions are 1-based; negative values count back from the end, so -1
// is the last residue. A zero Start or Stop means the first or last
// residue respectively.
//
// Text form:
//
//	"7"          single residue
//	"-3"         third residue from the end
//	"2:10"       residues 2..10 inclusive
//	"1:-1:2"     every other residue
//	"2,5:"       chain 2, residue 5 to the end of that chain
type Selector struct {
	// Chain is the 1-based chain the positions are relative to; 0 means
	// use the caller's chain, or the whole body.
	Chain int `json:"chain,omitempty" yaml:"chain,omitempty"`

	Start int `json:"start,omitempty" yaml:"start,omitempty"`
	Stop  int `json:"stop,omitempty" yaml:"stop,omitempty"`

	// Step defaults to 1.
	Step int `json:"step,omitempty" yaml:"step,omitempty"`

	// Single selects only Start.
	Single bool `json:"single,omitempty" yaml:"single,omitempty"`
}

// At selects one residue.
func At(position int) Selector {
	return Selector{Start: position, Single: true}
}

// Span selects residues start..stop inclusive with the given step.
func Span(start, stop, step int) Selector {
	return Selector{Start: start, Stop: stop, Step: step}
}

// InChain returns a copy of s restricted to chain.
func (s Selector) InChain(chain int) Selector {
	s.Chain = chain
	return s
}

// String returns the text form of s.
func (s Selector) String() string {
	var b strings.Builder
	if s.Chain != 0 {
		fmt.Fprintf(&b, "%d,", s.Chain)
	}
	if s.Single {
		fmt.Fprintf(&b, "%d", s.Start)
		return b.String()
	}
	if s.Start != 0 {
		b.WriteString(strconv.Itoa(s.Start))
	}
	b.WriteByte(':')
	if s.Stop != 0 {
		b.WriteString(strconv.Itoa(s.Stop))
	}
	if s.Step > 1 {
		fmt.Fprintf(&b, ":%d", s.Step)
	}
	return b.String()
}

// ParseSelector parses the text form described on Selector.
func ParseSelector(text string) (Selector, error) {
	var sel Selector
	rest := strings.TrimSpace(text)
	if chain, r, ok := strings.Cut(rest, ","); ok {
		c, err := strconv.Atoi(strings.TrimSpace(chain))
		if err != nil || c < 1 {
			return Selector{}, fmt.Errorf("%w: bad chain in %q", ErrInvalidSelector, text)
		}
		sel.Chain = c
		rest = strings.TrimSpace(r)
	}

	parts := strings.Split(rest, ":")
	if len(parts) > 3 {
		return Selector{}, fmt.Errorf("%w: too many fields in %q", ErrInvalidSelector, text)
	}
	fields := make([]int, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return Selector{}, fmt.Errorf("%w: %q: %v", ErrInvalidSelector, text, err)
		}
		fields[i] = v
	}

	switch len(parts) {
	case 1:
		if strings.TrimSpace(parts[0]) == "" || fields[0] == 0 {
			return Selector{}, fmt.Errorf("%w: %q", ErrInvalidSelector, text)
		}
		sel.Start, sel.Single = fields[0], true
	default:
		sel.Start, sel.Stop = fields[0], fields[1]
		if len(parts) == 3 {
			if fields[2] < 1 {
				return Selector{}, fmt.Errorf("%w: step must be positive in %q", ErrInvalidSelector, text)
			}
			sel.Step = fields[2]
		}
	}
	return sel, nil
}

// Resolve resolves s against a chain layout. It is the selector logic
// shared by Body implementations; chain applies when s names no chain.
func Resolve(s Selector, chain int, bounds []Bounds) ([]int, error) {
	if len(bounds) == 0 {
		return nil, ErrEmptyBody
	}
	if s.Chain != 0 {
		chain = s.Chain
	}
	scope := Bounds{Lower: 1, Upper: bounds[len(bounds)-1].Upper}
	if chain != 0 {
		if chain < 1 || chain > len(bounds) {
			return nil, fmt.Errorf("%w: chain %d of %d", ErrChainOutOfRange, chain, len(bounds))
		}
		scope = bounds[chain-1]
	}

	local := func(id, dflt int) (int, error) {
		if id == 0 {
			id = dflt
		}
		if id < 0 {
			id = scope.Len() + 1 + id
		}
		if id < 1 || id > scope.Len() {
			return 0, fmt.Errorf("%w: %d invalid for %d residues", ErrPositionOutOfRange, id, scope.Len())
		}
		return scope.Lower + id - 1, nil
	}

	start, err := local(s.Start, 1)
	if err != nil {
		return nil, fmt.Errorf("selector %s: %w", s, err)
	}
	if s.Single {
		return []int{start}, nil
	}
	stop, err := local(s.Stop, -1)
	if err != nil {
		return nil, fmt.Errorf("selector %s: %w", s, err)
	}
	step := max(s.Step, 1)

	var out []int
	for p := start; p <= stop; p += step {
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("selector %s: %w", s, ErrEmptySelection)
	}
	return out, nil
}
