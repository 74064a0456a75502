package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"citescout/internal/citation"
	"citescout/internal/logging"
	"citescout/internal/router"
)

// GroundedClient is the narrow LLM-with-web-search capability behind the
// grounded-web adapter.
type GroundedClient interface {
	GroundedSearch(ctx context.Context, prompt string) (string, error)
}

// groundedPrompt asks the model to return citations as JSON. The model sees
// live search results through the Google Search tool.
const groundedPrompt = `Search the web for citable sources on the query below and return the best
matches as JSON. Only include sources you actually found; never invent
authors, years, or titles. Omit a field rather than guessing it.

Query: %s
Return at most %d results.

Respond with a JSON array only:
[{"title": "...", "authors": ["..."], "year": 2023, "url": "...",
  "publisher": "...", "source_type": "journal|conference|book|report|website"}]`

// GroundedWeb extracts citations from grounded LLM answers. Records it
// produces tend to be weak on metadata and are flagged for enrichment.
type GroundedWeb struct {
	llm     GroundedClient
	limiter *rate.Limiter
}

// NewGroundedWeb creates the adapter. rps throttles LLM calls, which are
// far more expensive than catalog requests.
func NewGroundedWeb(llm GroundedClient, rps float64) *GroundedWeb {
	if rps <= 0 {
		rps = 1
	}
	return &GroundedWeb{llm: llm, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (g *GroundedWeb) Name() string { return router.AdapterGroundedWeb }

type groundedResult struct {
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Year       int      `json:"year"`
	URL        string   `json:"url"`
	Publisher  string   `json:"publisher"`
	SourceType string   `json:"source_type"`
}

// Search implements Adapter.
func (g *GroundedWeb) Search(ctx context.Context, query string, max int) ([]*citation.Citation, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := g.llm.GroundedSearch(ctx, fmt.Sprintf(groundedPrompt, query, max))
	if err != nil {
		return nil, fmt.Errorf("grounded search failed: %w", err)
	}

	results, err := parseGroundedResults(raw)
	if err != nil {
		return nil, err
	}

	out := make([]*citation.Citation, 0, len(results))
	for _, r := range results {
		if cit := g.normalize(r); cit != nil {
			out = append(out, cit)
			if len(out) >= max {
				break
			}
		}
	}
	logging.Sources("groundedweb: %d/%d usable results for %q", len(out), len(results), query)
	return out, nil
}

func (g *GroundedWeb) normalize(r groundedResult) *citation.Citation {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return nil
	}

	host := hostname(r.URL)
	needsEnrichment := false

	// A bare-domain title is a failed extraction; keep the record only if
	// the URL gives the enricher something to work with.
	if BareDomain(title) || strings.EqualFold(title, host) {
		if r.URL == "" {
			return nil
		}
		needsEnrichment = true
	}

	authors := make([]string, 0, len(r.Authors))
	for _, a := range r.Authors {
		a = strings.TrimSpace(a)
		// Author equal to the page's domain is parser debris.
		if strings.EqualFold(a, host) || BareDomain(a) {
			needsEnrichment = true
			continue
		}
		authors = append(authors, a)
	}
	authors = CleanAuthors(authors)
	if len(authors) == 0 {
		if r.URL == "" {
			return nil
		}
		// Placeholder until the enricher finds real authors.
		authors = []string{host}
		needsEnrichment = true
	}

	year := r.Year
	if year == 0 {
		year = time.Now().Year()
		needsEnrichment = true
	}
	if year == time.Now().Year() {
		// Current year is the catalogs' habitual placeholder.
		needsEnrichment = true
	}

	cit := &citation.Citation{
		Authors:         authors,
		Year:            year,
		Title:           title,
		SourceType:      groundedSourceType(r.SourceType),
		Publisher:       r.Publisher,
		URL:             r.URL,
		APISource:       g.Name(),
		NeedsEnrichment: needsEnrichment,
	}
	cit.Confidence = Score(cit, -1)
	if needsEnrichment {
		cit.Confidence -= 0.1
	}
	return cit
}

func groundedSourceType(t string) citation.SourceType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "journal":
		return citation.SourceJournal
	case "conference":
		return citation.SourceConference
	case "book":
		return citation.SourceBook
	case "report":
		return citation.SourceReport
	default:
		return citation.SourceWebsite
	}
}

// parseGroundedResults tolerates fenced output and surrounding prose.
func parseGroundedResults(raw string) ([]groundedResult, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	// Clip to the outermost array if the model added prose around it.
	if i := strings.Index(raw, "["); i >= 0 {
		if j := strings.LastIndex(raw, "]"); j > i {
			raw = raw[i : j+1]
		}
	}
	var results []groundedResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, fmt.Errorf("failed to parse grounded results: %w", err)
	}
	return results, nil
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// =============================================================================
// GEMINI-BACKED GROUNDED CLIENT
// =============================================================================

// GeminiGrounded implements GroundedClient with the Google Search tool.
type GeminiGrounded struct {
	client *genai.Client
	model  string
}

// NewGeminiGrounded creates a grounded search client.
func NewGeminiGrounded(ctx context.Context, apiKey, model string) (*GeminiGrounded, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for grounded web search")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGrounded{client: client, model: model}, nil
}

// GroundedSearch implements GroundedClient.
func (g *GeminiGrounded) GroundedSearch(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
