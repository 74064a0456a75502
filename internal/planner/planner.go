// Package planner expands a research topic into a diversified query set.
// The LLM does the creative work behind the narrow LLMPlanner capability;
// everything around it (timeouts, safety rephrasing, coverage validation,
// deterministic fallback) is handled here.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"citescout/internal/config"
	"citescout/internal/logging"
)

// Request is the planner input.
type Request struct {
	Topic     string
	Scope     string
	Seeds     []string
	TargetMin int
}

// Plan is the planner output.
type Plan struct {
	Strategy string   `json:"strategy"`
	Queries  []string `json:"queries"`
	Outline  string   `json:"outline"`

	// Fallback marks plans produced without the LLM.
	Fallback bool `json:"-"`
}

// LLMPlanner is the capability boundary to the LLM. Implementations must
// respect ctx deadlines and return ErrSafetyBlocked when the provider's
// safety filter rejects the prompt.
type LLMPlanner interface {
	Plan(ctx context.Context, req Request) (*Plan, error)
}

var (
	// ErrSafetyBlocked indicates the provider's safety filter rejected the
	// prompt. The builder rephrases and retries.
	ErrSafetyBlocked = errors.New("planner prompt blocked by safety filter")

	// ErrPlannerTimeout indicates the planner call exceeded its deadline.
	ErrPlannerTimeout = errors.New("planner call timed out")
)

// safetyRephrasings substitutes terms that commonly trip safety filters
// with academic framings. Applied longest-first so compound terms win.
var safetyRephrasings = []struct{ from, to string }{
	{"hacking", "security vulnerability analysis"},
	{"hack", "security vulnerability analysis"},
	{"exploit", "security weakness assessment"},
	{"attack", "adversarial technique"},
	{"malware", "malicious software detection"},
	{"weapon", "defense technology"},
	{"drug", "pharmacological compound"},
	{"killing", "mortality factor"},
}

// Builder produces validated research plans.
type Builder struct {
	cfg   config.PlannerConfig
	llm   LLMPlanner
	cache *Cache
}

// NewBuilder creates a Builder. llm may be nil; the builder then always
// produces the deterministic fallback plan.
func NewBuilder(cfg config.PlannerConfig, llm LLMPlanner) *Builder {
	return &Builder{cfg: cfg, llm: llm, cache: NewCache(cfg.CacheTTL)}
}

// BuildPlan produces a plan for req. Lifecycle: drafted -> validated ->
// accepted, with at most one refinement round, then the deterministic
// fallback.
func (b *Builder) BuildPlan(ctx context.Context, req Request) (*Plan, error) {
	if cached := b.cache.Get(req); cached != nil {
		logging.Planner("Plan cache hit for %q", req.Topic)
		return cached, nil
	}

	plan := b.draftPlan(ctx, req)
	if err := b.validate(plan, req.TargetMin); err != nil {
		logging.PlannerWarn("Plan for %q failed validation (%v), refining once", req.Topic, err)
		refined := b.draftPlan(ctx, refineRequest(req))
		if b.validate(refined, req.TargetMin) == nil {
			plan = refined
		} else {
			plan = FallbackPlan(req)
		}
	}

	if err := b.validate(plan, req.TargetMin); err != nil {
		return nil, fmt.Errorf("plan for %q unusable even after fallback: %w", req.Topic, err)
	}
	b.cache.Put(req, plan)
	logging.Planner("Plan for %q accepted: %d queries, coverage %.1f (fallback=%v)",
		req.Topic, len(plan.Queries), EstimateCoverage(plan.Queries), plan.Fallback)
	return plan, nil
}

// draftPlan calls the LLM with safety rephrasing, falling back to the
// deterministic plan on persistent failure.
func (b *Builder) draftPlan(ctx context.Context, req Request) *Plan {
	if b.llm == nil {
		return FallbackPlan(req)
	}

	attempt := req
	for try := 0; try <= b.cfg.SafetyRetries; try++ {
		callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		plan, err := b.llm.Plan(callCtx, attempt)
		cancel()

		switch {
		case err == nil:
			plan.Queries = dedupeQueries(plan.Queries)
			return plan
		case errors.Is(err, ErrSafetyBlocked):
			rephrased := Rephrase(attempt.Topic)
			if rephrased == attempt.Topic {
				logging.PlannerWarn("Safety block on %q with no rephrasing left, using fallback", attempt.Topic)
				return FallbackPlan(req)
			}
			logging.PlannerWarn("Safety block on %q, retrying as %q", attempt.Topic, rephrased)
			attempt.Topic = rephrased
		case errors.Is(err, ErrPlannerTimeout), errors.Is(err, context.DeadlineExceeded):
			logging.PlannerWarn("Planner timed out for %q, using fallback", attempt.Topic)
			return FallbackPlan(req)
		default:
			logging.PlannerWarn("Planner failed for %q (%v), using fallback", attempt.Topic, err)
			return FallbackPlan(req)
		}
	}
	return FallbackPlan(req)
}

// validate applies the acceptance predicate: enough queries and enough
// estimated coverage for the target.
func (b *Builder) validate(p *Plan, targetMin int) error {
	if len(p.Queries) < b.cfg.MinQueries {
		return fmt.Errorf("only %d queries, need %d", len(p.Queries), b.cfg.MinQueries)
	}
	coverage := EstimateCoverage(p.Queries)
	need := b.cfg.CoverageFactor * float64(targetMin)
	if coverage < need {
		return fmt.Errorf("estimated coverage %.1f below required %.1f", coverage, need)
	}
	return nil
}

// Rephrase applies the first matching safety substitution to topic.
func Rephrase(topic string) string {
	lower := strings.ToLower(topic)
	for _, r := range safetyRephrasings {
		if strings.Contains(lower, r.from) {
			return replaceFold(topic, r.from, r.to)
		}
	}
	return topic
}

// replaceFold replaces all case-insensitive occurrences of from with to.
func replaceFold(s, from, to string) string {
	var sb strings.Builder
	lower := strings.ToLower(s)
	from = strings.ToLower(from)
	for {
		i := strings.Index(lower, from)
		if i < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		sb.WriteString(s[:i])
		sb.WriteString(to)
		s = s[i+len(from):]
		lower = lower[i+len(from):]
	}
}

// refineRequest nudges the request toward a broader framing for the single
// allowed refinement round.
func refineRequest(req Request) Request {
	out := req
	if req.Scope != "" {
		out.Topic = req.Topic + " " + req.Scope
		out.Scope = ""
	}
	return out
}

// QueryKind classifies a query for the coverage heuristic.
type QueryKind int

const (
	KindSpecific QueryKind = iota // author:/title: or quoted phrase
	KindTopic                     // ordinary multi-word query
	KindBroad                     // short generic query
)

// ClassifyQuery assigns the coverage kind.
func ClassifyQuery(q string) QueryKind {
	lower := strings.ToLower(q)
	if strings.Contains(lower, "author:") || strings.Contains(lower, "title:") ||
		strings.Contains(lower, "doi:") || strings.Contains(q, `"`) {
		return KindSpecific
	}
	if len(strings.Fields(q)) <= 2 {
		return KindBroad
	}
	return KindTopic
}

// EstimateCoverage predicts the citation yield of a query set: specific
// queries yield ~1.5, topic queries ~3, broad queries ~6.
func EstimateCoverage(queries []string) float64 {
	total := 0.0
	for _, q := range queries {
		switch ClassifyQuery(q) {
		case KindSpecific:
			total += 1.5
		case KindBroad:
			total += 6
		default:
			total += 3
		}
	}
	return total
}

// fallbackTemplates expand a topic into simple query forms.
var fallbackTemplates = []string{
	"%s",
	"%s research",
	"%s analysis",
	"%s study",
	"%s overview",
	"%s trends",
	"%s peer-reviewed study",
	"%s industry report",
	"%s case study",
	"%s statistics",
	"%s systematic review",
	"%s best practices",
}

// FallbackPlan deterministically templates the topic into a usable query
// set. Used when the LLM is unavailable, blocked, or keeps timing out.
func FallbackPlan(req Request) *Plan {
	topic := strings.TrimSpace(req.Topic)
	queries := make([]string, 0, len(fallbackTemplates)+len(req.Seeds)+2)
	for _, tmpl := range fallbackTemplates {
		queries = append(queries, fmt.Sprintf(tmpl, topic))
	}
	if req.Scope != "" {
		queries = append(queries,
			fmt.Sprintf("%s %s", topic, req.Scope),
			fmt.Sprintf("%s %s research", topic, req.Scope))
	}
	for _, seed := range req.Seeds {
		if s := strings.TrimSpace(seed); s != "" {
			queries = append(queries, fmt.Sprintf(`title:"%s"`, s))
		}
	}
	return &Plan{
		Strategy: fmt.Sprintf("Deterministic fallback: templated queries for %q", topic),
		Queries:  dedupeQueries(queries),
		Outline:  "",
		Fallback: true,
	}
}

func dedupeQueries(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}
