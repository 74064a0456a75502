// Package orchestrator fans planned queries out across the source
// adapters, honoring the router's chains and the backpressure manager's
// pacing, then runs the collected citations through dedup, enrichment,
// and the quality filter before the tiered gate decides the run outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"citescout/internal/citation"
	"citescout/internal/config"
	"citescout/internal/dedup"
	"citescout/internal/enrich"
	"citescout/internal/httpclient"
	"citescout/internal/logging"
	"citescout/internal/planner"
	"citescout/internal/pressure"
	"citescout/internal/quality"
	"citescout/internal/router"
	"citescout/internal/sources"
)

// ErrQualityGateFailed is returned when the run ends below the minimal
// tier. Partial results are still populated on the Result.
var ErrQualityGateFailed = errors.New("quality gate failed")

// Request describes one research run.
type Request struct {
	Topic     string
	Scope     string
	Seeds     []string
	TargetMin int

	// Queries overrides the planner with an externally supplied list.
	Queries []string

	Style    citation.CitationStyle
	Language string
}

// FailedQuery records one query that produced nothing.
type FailedQuery struct {
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// AdapterStats counts one adapter's outcomes during a run.
type AdapterStats struct {
	Successes int
	Failures  int
}

// Result is the run outcome.
type Result struct {
	DB               *citation.Database
	Plan             *planner.Plan
	QueriesSucceeded int
	FailedQueries    []FailedQuery
	SourcesBreakdown map[string]int
	AdapterStats     map[string]AdapterStats
	Gate             GateTier
	Issues           []quality.Issue
	Duplicates       []string
	Potential        [][2]string
}

// Orchestrator wires the run together.
type Orchestrator struct {
	cfg      config.Config
	registry *sources.Registry
	press    *pressure.Manager
	client   *httpclient.Client
	builder  *planner.Builder
	enricher *enrich.Enricher
	filter   *quality.Filter

	statsMu sync.Mutex
	stats   map[string]AdapterStats
}

// New creates an Orchestrator.
func New(cfg config.Config, registry *sources.Registry, press *pressure.Manager,
	client *httpclient.Client, builder *planner.Builder) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		press:    press,
		client:   client,
		builder:  builder,
		enricher: enrich.New(client),
		filter:   quality.NewFilter(cfg.Quality, client),
		stats:    make(map[string]AdapterStats),
	}
}

// recordOutcome tracks per-adapter reliability across a run.
func (o *Orchestrator) recordOutcome(adapter string, ok bool) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	s := o.stats[adapter]
	if ok {
		s.Successes++
	} else {
		s.Failures++
	}
	o.stats[adapter] = s
}

func (o *Orchestrator) snapshotStats() map[string]AdapterStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	out := make(map[string]AdapterStats, len(o.stats))
	for k, v := range o.stats {
		out[k] = v
	}
	return out
}

// Research runs the full pipeline. On gate failure it returns
// ErrQualityGateFailed with the partial Result still populated.
func (o *Orchestrator) Research(ctx context.Context, req Request) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "research run")
	defer timer.Stop()

	res := &Result{
		DB:               citation.NewDatabase(req.Style, req.Language),
		SourcesBreakdown: make(map[string]int),
	}
	o.statsMu.Lock()
	o.stats = make(map[string]AdapterStats)
	o.statsMu.Unlock()

	queries := req.Queries
	if len(queries) == 0 {
		plan, err := o.builder.BuildPlan(ctx, planner.Request{
			Topic: req.Topic, Scope: req.Scope, Seeds: req.Seeds, TargetMin: req.TargetMin,
		})
		if err != nil {
			return nil, err
		}
		res.Plan = plan
		queries = plan.Queries
	}

	collected, failed, succeeded := o.collect(ctx, queries, req.TargetMin)
	res.FailedQueries = failed
	res.QueriesSucceeded = succeeded

	// Assign IDs in discovery order so dedup tie-breaks are stable.
	for i, c := range collected {
		c.ID = citation.FormatID(i + 1)
	}

	dr := dedup.Deduplicate(collected)
	res.Duplicates = dr.Removed
	res.Potential = dr.Potential

	o.enricher.EnrichAll(ctx, dr.Kept)

	for _, c := range dr.Kept {
		if err := c.Validate(); err != nil {
			logging.OrchestratorWarn("Dropping invalid citation %s: %v", c.ID, err)
			continue
		}
		if err := res.DB.Insert(c); err != nil {
			logging.OrchestratorWarn("Insert failed for %s: %v", c.ID, err)
		}
	}

	issues, removed := o.filter.FilterAll(ctx, res.DB)
	res.Issues = issues
	if len(removed) > 0 {
		logging.Orchestrator("Quality filter removed %d citations", len(removed))
	}

	for _, c := range res.DB.Snapshot() {
		res.SourcesBreakdown[c.APISource]++
	}
	res.AdapterStats = o.snapshotStats()

	res.Gate = EvaluateGate(res.DB.Len(), req.TargetMin)
	logging.Orchestrator("Run finished: %d citations, gate=%s, %d failed queries",
		res.DB.Len(), res.Gate, len(res.FailedQueries))

	if res.Gate == GateFail {
		return res, fmt.Errorf("%w: %d of %d citations (minimum %d)",
			ErrQualityGateFailed, res.DB.Len(), req.TargetMin,
			int(math.Ceil(minimalFactor*float64(req.TargetMin))))
	}
	return res, nil
}

// ResearchOne finds a single citation for a topic, used by the compiler
// for {cite_MISSING:...} placeholders.
func (o *Orchestrator) ResearchOne(ctx context.Context, topic string) (*citation.Citation, error) {
	cits, _ := o.runQuery(ctx, topic)
	if len(cits) == 0 {
		return nil, fmt.Errorf("no citation found for %q", topic)
	}
	best := cits[0]
	for _, c := range cits[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	o.enricher.EnrichAll(ctx, []*citation.Citation{best})
	return best, nil
}

// collect fans queries out in pressure-sized batches and gathers results
// until the queries run out or the early-stop threshold is reached.
func (o *Orchestrator) collect(ctx context.Context, queries []string, targetMin int) ([]*citation.Citation, []FailedQuery, int) {
	earlyStop := int(math.Ceil(float64(targetMin) * (1 + o.cfg.Orchestrator.EarlyStopHeadroom)))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu        sync.Mutex
		collected []*citation.Citation
		failed    []FailedQuery
		succeeded int
	)
	add := func(cits []*citation.Citation) {
		mu.Lock()
		defer mu.Unlock()
		succeeded++
		collected = append(collected, cits...)
		if len(collected) >= earlyStop {
			// Early-stop is evaluated as results arrive, not just at
			// batch boundaries.
			cancel()
		}
	}
	fail := func(q, reason string) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, FailedQuery{Query: q, Reason: reason})
	}

	remaining := queries
	for len(remaining) > 0 && runCtx.Err() == nil {
		o.waitForPressure(runCtx)
		if runCtx.Err() != nil {
			break
		}

		batch := o.press.AdaptiveBatchSize()
		if batch > len(remaining) {
			batch = len(remaining)
		}
		logging.OrchestratorDebug("Spawning batch of %d (pressure %.2f, %d queries left)",
			batch, o.press.GlobalPressure(), len(remaining))

		g, gctx := errgroup.WithContext(runCtx)
		g.SetLimit(o.cfg.Orchestrator.ParallelWorkers)
		for _, q := range remaining[:batch] {
			query := q
			g.Go(func() error {
				cits, err := o.runQuery(gctx, query)
				switch {
				case err != nil && gctx.Err() != nil:
					// Cancelled mid-flight; not a query failure.
				case err != nil:
					fail(query, err.Error())
				case len(cits) == 0:
					fail(query, "no results from any adapter")
				default:
					add(cits)
				}
				return nil
			})
		}
		g.Wait()
		remaining = remaining[batch:]

		mu.Lock()
		done := len(collected) >= earlyStop
		mu.Unlock()
		if done || len(remaining) == 0 {
			break
		}
		o.interBatchDelay(runCtx)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(collected) > earlyStop {
		collected = collected[:earlyStop]
	}
	return collected, failed, succeeded
}

// runQuery executes one query against its router chain. The first adapter
// is the primary; later adapters are fallbacks (or, in multi-source mode,
// all are queried and their results concatenated).
func (o *Orchestrator) runQuery(ctx context.Context, query string) ([]*citation.Citation, error) {
	qctx, cancel := context.WithTimeout(ctx, o.cfg.Orchestrator.PerQueryTimeout)
	defer cancel()

	chain := o.chainFor(router.Classify(query))
	maxResults := o.cfg.Sources.MaxResultsPerQuery

	if o.cfg.Orchestrator.MultiSource {
		var all []*citation.Citation
		var lastErr error
		for _, name := range chain {
			adapter, ok := o.registry.Get(name)
			if !ok {
				continue
			}
			cits, err := adapter.Search(qctx, query, maxResults)
			o.recordOutcome(name, err == nil && len(cits) > 0)
			if err != nil {
				lastErr = err
				continue
			}
			all = append(all, cits...)
		}
		if len(all) == 0 && lastErr != nil {
			return nil, lastErr
		}
		return all, nil
	}

	var lastErr error
	for _, name := range chain {
		adapter, ok := o.registry.Get(name)
		if !ok {
			continue
		}
		cits, err := adapter.Search(qctx, query, maxResults)
		o.recordOutcome(name, err == nil && len(cits) > 0)
		switch {
		case err == nil && len(cits) > 0:
			return cits, nil
		case err == nil:
			// Empty result; let the next adapter try.
		case httpclient.IsRateLimited(err):
			// The client already signaled pressure; fall through the chain.
			logging.OrchestratorWarn("%s rate limited on %q, trying next adapter", name, query)
			lastErr = err
		case qctx.Err() != nil:
			return nil, qctx.Err()
		default:
			lastErr = err
		}
	}
	return nil, lastErr
}

// chainFor extends the router's chain with the SERP adapter as the
// universal last resort. SERP never appears in the router chains since it
// produces the weakest records.
func (o *Orchestrator) chainFor(cls router.Classification) []string {
	chain := cls.Chain
	if _, ok := o.registry.Get(router.AdapterSERP); ok {
		chain = append(chain, router.AdapterSERP)
	}
	return chain
}

// waitForPressure blocks while the pressure manager has spawning paused.
func (o *Orchestrator) waitForPressure(ctx context.Context) {
	for o.press.ShouldPauseSpawning() {
		delay := o.press.RecommendedDelay()
		logging.Orchestrator("Spawning paused (pressure %.2f), sleeping %v",
			o.press.GlobalPressure(), delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// interBatchDelay spaces batches out. With proxies configured the
// per-proxy isolation makes spacing unnecessary.
func (o *Orchestrator) interBatchDelay(ctx context.Context) {
	if o.client.HasProxies() {
		return
	}
	delay := o.cfg.Orchestrator.InterBatchDelay
	if rec := o.press.RecommendedDelay(); rec > delay {
		delay = rec
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// =============================================================================
// QUALITY GATE
// =============================================================================

// GateTier is the tiered gate outcome.
type GateTier string

const (
	GateExcellent  GateTier = "excellent"
	GateAcceptable GateTier = "acceptable"
	GateMinimal    GateTier = "minimal"
	GateFail       GateTier = "fail"
)

const (
	acceptableFactor = 0.86
	minimalFactor    = 0.70
)

// EvaluateGate is a pure function of (collected, target).
func EvaluateGate(collected, target int) GateTier {
	c, t := float64(collected), float64(target)
	switch {
	case c >= t:
		return GateExcellent
	case c >= acceptableFactor*t:
		return GateAcceptable
	case c >= minimalFactor*t:
		return GateMinimal
	default:
		return GateFail
	}
}

// sortedSourceNames returns breakdown keys in deterministic order.
func sortedSourceNames(breakdown map[string]int) []string {
	names := make([]string, 0, len(breakdown))
	for n := range breakdown {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
