// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search enumerates every combination of segment choices and
// keeps the chains that satisfy a criteria.
//
// # Work decomposition
//
// The chain is split at an index end. The first end segments are composed
// once into a shared chain.Prefix. The remaining segments form the suffix,
// whose combinations ("samples") are enumerated implicitly in mixed radix
// and dealt round-robin to jobs: sample s belongs to job s mod njob. Each
// sample is extended across every prefix combination and scored.
//
// Because the prefix and the suffix extension multiply transforms in the
// same order, a chain's positions, and so its score, do not depend on
// where it was split or which job evaluated it. Hits are sorted by score
// and index tuple, so the result is identical for any worker count.
//
// # Cancellation
//
// The context is checked before each job starts. A running job is never
// interrupted.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/worms/pkg/xform"
	"github.com/AleutianAI/worms/services/worms/chain"
	"github.com/AleutianAI/worms/services/worms/criteria"
	"github.com/AleutianAI/worms/services/worms/executor"
	"github.com/AleutianAI/worms/services/worms/segment"
	"github.com/AleutianAI/worms/services/worms/telemetry"
	"github.com/AleutianAI/worms/services/worms/topology"
	"github.com/AleutianAI/worms/services/worms/wormerr"
)

var tracer = otel.Tracer("worms.search")

// Defaults for Grow options.
const (
	// DefaultThreshold keeps chains scoring below this value.
	DefaultThreshold = 2.0

	// DefaultMemoryBudget caps the composed prefix, in bytes.
	DefaultMemoryBudget = 256 << 20

	// DefaultJobMultiplier is the number of jobs scheduled per worker.
	DefaultJobMultiplier = 128
)

// Score agreement required between search and recompute.
const (
	recomputeAbsTol = 1e-8
	recomputeRelTol = 1e-5
)

// scanChunk is the smallest block of a prefix view scanned by one
// goroutine inside a job.
var scanChunk = 1 << 14

// Detail describes how a search was laid out. It is logged before the
// search starts and kept on the result.
type Detail struct {
	RunID string

	// Total is the number of chains in the full search space.
	Total int

	// ChunkSize is the number of prefix combinations per sample.
	ChunkSize int

	// ChunkCount is the number of suffix samples.
	ChunkCount int

	Workers int
	Jobs    int

	// Sizes is the number of choices per segment.
	Sizes []int

	// PrefixLen is the number of segments composed up front.
	PrefixLen int

	// PrefixBytes is the memory held by the composed prefix.
	PrefixBytes int
}

type config struct {
	threshold     float64
	maxWorkers    int
	memoryBudget  int
	jobMultiplier int
	expert        bool
	factory       executor.Factory
	logger        *slog.Logger
	progress      func(done, total int)
	planHook      func(Detail)
}

// Option configures Grow.
type Option func(*config)

// WithThreshold keeps chains scoring strictly below t.
func WithThreshold(t float64) Option {
	return func(c *config) { c.threshold = t }
}

// WithMaxWorkers bounds concurrent jobs and the goroutines composing the
// prefix. Defaults to executor.CPUCount().
func WithMaxWorkers(n int) Option {
	return func(c *config) { c.maxWorkers = n }
}

// WithMemoryBudget caps the bytes spent on the composed prefix.
func WithMemoryBudget(bytes int) Option {
	return func(c *config) { c.memoryBudget = bytes }
}

// WithJobMultiplier sets the number of jobs per worker.
func WithJobMultiplier(m int) Option {
	return func(c *config) { c.jobMultiplier = m }
}

// WithExpert downgrades overridable topology checks to warnings.
func WithExpert(expert bool) Option {
	return func(c *config) { c.expert = expert }
}

// WithExecutorFactory selects the execution backend.
func WithExecutorFactory(f executor.Factory) Option {
	return func(c *config) { c.factory = f }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithProgress registers a callback invoked on the calling goroutine
// after each job completes.
func WithProgress(fn func(done, total int)) Option {
	return func(c *config) { c.progress = fn }
}

// WithPlanHook registers a callback that receives the search layout
// before any job is scheduled.
func WithPlanHook(fn func(Detail)) Option {
	return func(c *config) { c.planHook = fn }
}

func (c *config) validate() error {
	switch {
	case c.maxWorkers < 1:
		return wormerr.Constructionf("options", wormerr.NoIndex, "max workers must be positive, got %d", c.maxWorkers)
	case c.jobMultiplier < 1:
		return wormerr.Constructionf("options", wormerr.NoIndex, "job multiplier must be positive, got %d", c.jobMultiplier)
	case c.memoryBudget < 1:
		return wormerr.Constructionf("options", wormerr.NoIndex, "memory budget must be positive, got %d", c.memoryBudget)
	case math.IsNaN(c.threshold):
		return wormerr.Constructionf("options", wormerr.NoIndex, "threshold is NaN")
	case c.factory == nil:
		return wormerr.Constructionf("options", wormerr.NoIndex, "nil executor factory")
	}
	return nil
}

// hit is one chain scoring below threshold.
type hit struct {
	indices   []int
	score     float64
	positions []xform.Xform
}

type jobResult struct {
	hits      []hit
	evaluated int64
}

// plan is the read-only state shared by every job.
type plan struct {
	segs      segment.Segments
	crit      criteria.Criteria
	threshold float64
	prefix    *chain.Prefix
	end       int
	suffix    []int
	samples   int
	njob      int

	// matching is the resolved matching-body segment, or -1.
	matching int

	// allowed[c] lists the choices of the matching segment that may close
	// onto choice c of the last segment. Only set when matching < end.
	allowed [][]int
}

// Grow searches every chain of segs for those satisfying crit.
//
// Description:
//
//	Validates the chain topology, picks the prefix/suffix split, composes
//	the prefix once and fans the suffix samples out to jobs on an
//	executor opened for this call. Hits are gathered, sorted by score
//	(ties by index tuple) and re-scored from scratch before returning.
//
// Inputs:
//
//	ctx - checked before each job starts; must not be nil.
//	segs - the segment chain, at least two segments.
//	crit - the criteria to score against.
//	opts - search options.
//
// Outputs:
//
//	*Worms - the hits; empty, never nil, when nothing qualifies.
//	error - a construction or topology error for bad input, a
//	    *wormerr.SearchConsistencyError when a re-score disagrees, the
//	    first job failure, or ctx.Err().
func Grow(ctx context.Context, segs segment.Segments, crit criteria.Criteria, opts ...Option) (w *Worms, err error) {
	if ctx == nil {
		return nil, wormerr.ErrNilContext
	}
	cfg := config{
		threshold:     DefaultThreshold,
		maxWorkers:    executor.CPUCount(),
		memoryBudget:  DefaultMemoryBudget,
		jobMultiplier: DefaultJobMultiplier,
		factory:       executor.DefaultFactory,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	for i, s := range segs {
		if s == nil {
			return nil, wormerr.Constructionf("segment", i, "nil segment")
		}
	}

	start := time.Now()
	detail := Detail{RunID: uuid.NewString(), Workers: cfg.maxWorkers, Sizes: segs.Sizes()}
	var evaluated int64
	defer func() {
		status := statusSuccess
		switch {
		case errors.Is(err, wormerr.ErrConstruction), errors.Is(err, wormerr.ErrTopology):
			status = statusRejected
		case err != nil:
			status = statusFailure
		}
		recordRun(status, time.Since(start), detail.Jobs, evaluated, w.Len())
	}()

	ctx, span := tracer.Start(ctx, "worms.grow",
		trace.WithAttributes(
			attribute.String("worms.run_id", detail.RunID),
			attribute.String("worms.criteria", critName(crit)),
			attribute.Int("worms.segments", len(segs)),
			attribute.Int("worms.max_workers", cfg.maxWorkers),
			attribute.Float64("worms.threshold", cfg.threshold),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, cfg.logger).With(slog.String("run_id", detail.RunID))

	p, err := preparePlan(ctx, segs, crit, &cfg, &detail, logger)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("worms.total", detail.Total),
		attribute.Int("worms.prefix_len", detail.PrefixLen),
		attribute.Int("worms.jobs", detail.Jobs),
	)

	hits, evaluated, err := runJobs(ctx, p, &cfg, logger)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	slices.SortFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(a.score, b.score); c != 0 {
			return c
		}
		return slices.Compare(a.indices, b.indices)
	})
	if err := recheck(p, hits); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("worms.hits", len(hits)),
		attribute.Int64("worms.evaluated", evaluated),
	)
	logger.Info("search complete",
		slog.Int("hits", len(hits)),
		slog.Int64("evaluated", evaluated),
		slog.Duration("elapsed", time.Since(start)))

	return newWorms(segs, crit, hits, detail), nil
}

func critName(crit criteria.Criteria) string {
	if crit == nil {
		return ""
	}
	return crit.Name()
}

// preparePlan validates the input, picks the split and composes the prefix.
func preparePlan(ctx context.Context, segs segment.Segments, crit criteria.Criteria,
	cfg *config, detail *Detail, logger *slog.Logger) (*plan, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	total, err := segs.CombinationCount()
	if err != nil {
		return nil, err
	}
	res, err := topology.Check(segs, crit,
		topology.WithExpert(cfg.expert),
		topology.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	end, err := splitPoint(detail.Sizes, cfg.maxWorkers, cfg.memoryBudget)
	if err != nil {
		return nil, err
	}
	suffix := detail.Sizes[end:]
	samples, err := segment.Product(suffix)
	if err != nil {
		return nil, err
	}
	prefixBytes, err := chain.EstimateBytes(detail.Sizes[:end])
	if err != nil {
		return nil, err
	}

	detail.Total = total
	detail.PrefixLen = end
	detail.PrefixBytes = prefixBytes
	detail.ChunkCount = samples
	detail.ChunkSize = total / samples
	detail.Jobs = min(cfg.maxWorkers*cfg.jobMultiplier, samples)

	logger.Info("search plan",
		slog.Int("total", detail.Total),
		slog.Int("chunk_size", detail.ChunkSize),
		slog.Int("chunks", detail.ChunkCount),
		slog.Int("workers", detail.Workers),
		slog.Int("jobs", detail.Jobs),
		slog.Int("prefix_len", detail.PrefixLen),
		slog.Int("prefix_bytes", detail.PrefixBytes),
		slog.Any("sizes", detail.Sizes))
	if cfg.planHook != nil {
		cfg.planHook(*detail)
	}

	cctx, span := tracer.Start(ctx, "worms.compose",
		trace.WithAttributes(
			attribute.Int("worms.prefix_len", end),
			attribute.Int("worms.prefix_bytes", prefixBytes),
		),
	)
	prefix, err := chain.Compose(cctx, segs, end, chain.WithParallelism(cfg.maxWorkers))
	if err != nil {
		telemetry.RecordError(span, err)
	}
	span.End()
	if err != nil {
		return nil, err
	}

	p := &plan{
		segs:      segs,
		crit:      crit,
		threshold: cfg.threshold,
		prefix:    prefix,
		end:       end,
		suffix:    suffix,
		samples:   samples,
		njob:      detail.Jobs,
		matching:  -1,
	}
	if res.HasMatchingBody && res.MatchingBody != len(segs)-1 {
		p.matching = res.MatchingBody
		if p.matching < end {
			p.allowed = closureTable(segs[p.matching], segs[len(segs)-1])
		}
	}
	return p, nil
}

// splitPoint returns the number of segments to compose up front. It starts
// from all but the last and backs off while the suffix is too small to
// feed every worker or the prefix would exceed the memory budget.
func splitPoint(sizes []int, workers, budget int) (int, error) {
	end := len(sizes) - 1
	for end > 1 {
		suffix, err := segment.Product(sizes[end:])
		if err != nil {
			return 0, err
		}
		bytes, err := chain.EstimateBytes(sizes[:end])
		if errors.Is(err, chain.ErrPrefixTooLarge) {
			end--
			continue
		}
		if err != nil {
			return 0, err
		}
		if suffix >= workers && bytes <= budget {
			break
		}
		end--
	}
	return end, nil
}

// closureTable lists, for every choice of last, the choices of matching
// that draw on the same body without reusing the closing entry site.
func closureTable(matching, last *segment.Segment) [][]int {
	table := make([][]int, last.Len())
	for c := range table {
		lc := last.Choice(c)
		for m := range matching.Len() {
			if closes(matching.Choice(m), lc) {
				table[c] = append(table[c], m)
			}
		}
	}
	return table
}

// closes reports whether the matching-body choice m is compatible with the
// closing choice last: same body, and neither end of m on the site last
// enters through.
func closes(m, last segment.Choice) bool {
	return m.Body == last.Body &&
		!m.Entry.SameSite(last.Entry) &&
		!m.Exit.SameSite(last.Entry)
}

// runJobs schedules every job and gathers their hits.
func runJobs(ctx context.Context, p *plan, cfg *config, logger *slog.Logger) ([]hit, int64, error) {
	exec, err := cfg.factory(cfg.maxWorkers, logger)
	if err != nil {
		return nil, 0, fmt.Errorf("open executor: %w", err)
	}
	defer func() {
		if cerr := exec.Close(); cerr != nil {
			logger.Warn("closing executor", slog.String("error", cerr.Error()))
		}
	}()

	jctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stop submitting once a job has failed. Synchronous backends resolve
	// futures inside Submit, so later jobs would otherwise still run.
	futures := make([]*executor.Future, 0, p.njob)
	for j := range p.njob {
		f := exec.Submit(jctx, func(ctx context.Context, w executor.Worker) (any, error) {
			return p.runJob(ctx, j, w)
		})
		futures = append(futures, f)
		if failed(f) {
			break
		}
	}

	var hits []hit
	var evaluated int64
	done := 0
	for f := range executor.AsCompleted(futures) {
		v, err := f.Result()
		if err != nil {
			cancel()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, evaluated, ctxErr
			}
			return nil, evaluated, err
		}
		res := v.(jobResult)
		hits = append(hits, res.hits...)
		evaluated += res.evaluated
		done++
		if cfg.progress != nil {
			cfg.progress(done, p.njob)
		}
	}
	return hits, evaluated, nil
}

// failed reports whether f has already resolved with an error.
func failed(f *executor.Future) bool {
	select {
	case <-f.Done():
		_, err := f.Result()
		return err != nil
	default:
		return false
	}
}

// runJob evaluates samples j, j+njob, ... of the suffix.
func (p *plan) runJob(ctx context.Context, j int, w executor.Worker) (jobResult, error) {
	if err := ctx.Err(); err != nil {
		return jobResult{}, err
	}
	_, span := tracer.Start(ctx, "worms.job",
		trace.WithAttributes(
			attribute.Int("worms.job", j),
			attribute.Int("worms.worker", w.ID),
		),
	)
	defer span.End()

	var res jobResult
	n := len(p.segs)
	samp := make([]int, len(p.suffix))
	for s := j; s < p.samples; s += p.njob {
		chain.Decode(s, p.suffix, samp)
		dim, allowed, ok := p.filter(samp)
		if !ok {
			continue
		}
		blockHits, evaluated, err := p.scan(ctx, samp, dim, allowed, w.InnerParallelism)
		if err != nil {
			telemetry.RecordError(span, err)
			return jobResult{}, err
		}
		res.hits = append(res.hits, blockHits...)
		res.evaluated += evaluated
	}
	span.SetAttributes(
		attribute.Int("worms.hits", len(res.hits)),
		attribute.Int64("worms.evaluated", res.evaluated),
		attribute.Int("worms.segments", n),
	)
	return res, nil
}

// filter applies the closure constraint for one sample. It returns the
// prefix dimension to restrict (or -1) with its allowed choices, and false
// when no chain of this sample can close.
func (p *plan) filter(samp []int) (int, []int, bool) {
	if p.matching < 0 {
		return -1, nil, true
	}
	n := len(p.segs)
	lastIdx := samp[n-1-p.end]
	if p.matching < p.end {
		allowed := p.allowed[lastIdx]
		return p.matching, allowed, len(allowed) > 0
	}
	m := p.segs[p.matching].Choice(samp[p.matching-p.end])
	return -1, nil, closes(m, p.segs[n-1].Choice(lastIdx))
}

// scan extends one sample across the prefix view and scores every chain.
func (p *plan) scan(ctx context.Context, samp []int, dim int, allowed []int, parallelism int) ([]hit, int64, error) {
	view := p.view(dim, allowed)
	count := view.Count()
	if parallelism < 2 || count < 2*scanChunk {
		hits := p.scanRange(view, samp, 0, count)
		return hits, int64(count), nil
	}

	chunk := max(scanChunk, (count+parallelism-1)/parallelism)
	blocks := make([][]hit, (count+chunk-1)/chunk)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for b := range blocks {
		lo := b * chunk
		hi := min(lo+chunk, count)
		g.Go(func() error {
			blocks[b] = p.scanRange(p.view(dim, allowed), samp, lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return slices.Concat(blocks...), int64(count), nil
}

func (p *plan) view(dim int, allowed []int) *chain.View {
	if dim < 0 {
		return p.prefix.All()
	}
	return p.prefix.Restrict(dim, allowed)
}

// scanRange scores view combinations [lo, hi). The view must not be
// shared with another goroutine.
func (p *plan) scanRange(view *chain.View, samp []int, lo, hi int) []hit {
	var hits []hit
	positions := make([]xform.Xform, len(p.segs))
	for i := lo; i < hi; i++ {
		flat := view.Flat(i)
		p.prefix.Positions(flat, positions)
		chain.Extend(p.prefix.Connection(flat), p.segs, p.end, samp, positions)
		score := p.crit.Score(positions)
		if score < p.threshold {
			hits = append(hits, hit{
				indices:   append(p.prefix.Tuple(flat), samp...),
				score:     score,
				positions: slices.Clone(positions),
			})
		}
	}
	return hits
}

// recheck recomposes every hit from scratch and confirms its score.
func recheck(p *plan, hits []hit) error {
	positions := make([]xform.Xform, len(p.segs))
	for _, h := range hits {
		chain.Extend(xform.Identity(), p.segs, 0, h.indices, positions)
		again := p.crit.Score(positions)
		if !allClose(h.score, again) {
			return &wormerr.SearchConsistencyError{
				Indices:    slices.Clone(h.indices),
				Score:      h.score,
				Recomputed: again,
			}
		}
	}
	return nil
}

func allClose(a, b float64) bool {
	return math.Abs(a-b) <= recomputeAbsTol+recomputeRelTol*math.Abs(b)
}
