// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package topology validates a segment chain against its criteria before
// any search work is scheduled.
package topology

import (
	"log/slog"

	"github.com/AleutianAI/worms/services/worms/criteria"
	"github.com/AleutianAI/worms/services/worms/segment"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

// Result is the outcome of a successful check.
type Result struct {
	// MatchingBody is the resolved segment whose fragment must equal the
	// last segment's fragment; valid only when HasMatchingBody is set.
	MatchingBody    int
	HasMatchingBody bool

	// Warnings lists the problems tolerated because of expert mode.
	Warnings []string
}

type config struct {
	expert bool
	logger *slog.Logger
}

// Option configures Check.
type Option func(*config)

// WithExpert downgrades the overridable checks to warnings.
func WithExpert(expert bool) Option {
	return func(c *config) { c.expert = expert }
}

// WithLogger sets the logger used for expert-mode warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Check validates segs for crit.
//
// Description:
//
//	Enforces, in order: termini at both ends, opposite polarities across
//	every junction, a matching-body segment drawing on the same bodies as
//	the last segment, a cyclic criteria closing on the last segment, and
//	enough splice sites at the cyclic from segment to enter, leave and
//	receive the closing entry.
//
// Outputs:
//
//	Result - the resolved matching-body position and any warnings.
//	error - a *wormerr.TopologyError naming the offending segment.
func Check(segs segment.Segments, crit criteria.Criteria, opts ...Option) (Result, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	var res Result
	warn := func(err *wormerr.TopologyError) error {
		if !cfg.expert {
			return err
		}
		res.Warnings = append(res.Warnings, err.Error())
		cfg.logger.Warn("topology check overridden by expert mode",
			slog.Int("segment", err.Segment),
			slog.String("reason", err.Reason))
		return nil
	}

	n := len(segs)
	if n == 0 {
		return res, wormerr.Topologyf(wormerr.NoIndex, "no segments")
	}
	if crit == nil {
		return res, wormerr.Topologyf(wormerr.NoIndex, "nil criteria")
	}
	if segs[0].Entry() != segment.None {
		return res, wormerr.Topologyf(0, "beginning of chain cannot have an entry (%s)", segs[0].Entry())
	}
	if segs[n-1].Exit() != segment.None {
		return res, wormerr.Topologyf(n-1, "end of chain cannot have an exit (%s)", segs[n-1].Exit())
	}
	for i := 0; i+1 < n; i++ {
		out, in := segs[i].Exit(), segs[i+1].Entry()
		if out == segment.None || in == segment.None || out == in {
			return res, wormerr.Topologyf(i, "incompatible exit->entry polarity %s->%s on segment pair (%d, %d)",
				out, in, i, i+1)
		}
	}

	from := criteria.Index(crit.FromSeg(), n)
	to := criteria.Index(crit.ToSeg(), n)
	for _, idx := range []int{from, to} {
		if idx < 0 || idx >= n {
			return res, wormerr.Topologyf(wormerr.NoIndex, "%s references segment %d outside a chain of %d",
				crit.Name(), idx, n)
		}
	}
	if from == to {
		return res, wormerr.Topologyf(from, "%s from and to resolve to the same segment", crit.Name())
	}

	if ml, ok := crit.MatchingBody(); ok {
		ml = criteria.Index(ml, n)
		if ml < 0 || ml >= n {
			return res, wormerr.Topologyf(wormerr.NoIndex, "matching body segment %d outside a chain of %d", ml, n)
		}
		if !segs[ml].SameBodiesAs(segs[n-1]) {
			if err := warn(wormerr.Topologyf(ml, "matching body segment does not use the same bodies as the last segment")); err != nil {
				return res, err
			}
		}
		res.MatchingBody, res.HasMatchingBody = ml, true
	}

	if !crit.IsCyclic() {
		return res, nil
	}
	if to != n-1 {
		if err := warn(wormerr.Topologyf(to, "cyclic criteria must close on the last segment %d", n-1)); err != nil {
			return res, err
		}
	}

	beg, end := segs[from], segs[to]
	var required [3]int
	required[beg.Entry()]++
	required[beg.Exit()]++
	required[end.Entry()]++
	for _, pol := range []segment.Polarity{segment.N, segment.C} {
		if beg.MaxSites(pol) < required[pol] {
			return res, wormerr.Topologyf(from, "not enough %s sites in any spliceable: %d required, at most %d available",
				pol, required[pol], beg.MaxSites(pol))
		}
		if beg.MinSites(pol) < required[pol] {
			err := wormerr.Topologyf(from, "not enough %s sites in all spliceables: %d required, some have only %d",
				pol, required[pol], beg.MinSites(pol))
			if err := warn(err); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}
