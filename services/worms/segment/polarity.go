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

	"github.com/AleutianAI/worms/services/worms/body"
)

// Polarity is the connector type of a splice site. Only opposite
// polarities join; None marks a chain terminus.
type Polarity int

const (
	None Polarity = iota
	N
	C
)

// String returns "N", "C" or "_".
func (p Polarity) String() string {
	switch p {
	case N:
		return "N"
	case C:
		return "C"
	default:
		return "_"
	}
}

// Opposite returns the polarity that p joins with.
func (p Polarity) Opposite() Polarity {
	switch p {
	case N:
		return C
	case C:
		return N
	default:
		return None
	}
}

// Terminus returns the chain end a splice at p trims away.
func (p Polarity) Terminus() body.Terminus {
	if p == C {
		return body.TerminusC
	}
	return body.TerminusN
}

// MarshalText implements encoding.TextMarshaler.
func (p Polarity) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Polarity) UnmarshalText(text []byte) error {
	v, err := ParsePolarity(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePolarity parses "N", "C", or "_"/"" for None.
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "N", "n":
		return N, nil
	case "C", "c":
		return C, nil
	case "_", "", "None", "none":
		return None, nil
	default:
		return None, fmt.Errorf("invalid polarity %q", s)
	}
}

// ParseEntryExit parses a two-letter entry/exit code such as "NC", "_C"
// or "N_".
func ParseEntryExit(code string) (entry, exit Polarity, err error) {
	if len(code) != 2 {
		return None, None, fmt.Errorf("entry/exit code %q must have two characters", code)
	}
	if entry, err = ParsePolarity(code[:1]); err != nil {
		return None, None, err
	}
	if exit, err = ParsePolarity(code[1:]); err != nil {
		return None, None, err
	}
	return entry, exit, nil
}
