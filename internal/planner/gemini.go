package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"citescout/internal/config"
	"citescout/internal/logging"
)

// planInstruction is the fixed planning prompt. The JSON shape matches the
// Plan struct so responses unmarshal directly.
const planInstruction = `You are a citation research strategist. Expand the topic below into a
diversified set of search queries for finding citable sources.

Topic: %s
Scope: %s
Seed references: %s
Target citation count: %d

Requirements:
- Produce at least 100 diverse queries.
- Mix three forms: specific (author:"..." or title:"..." lookups), topic
  queries (3+ word phrases), and broad queries (1-2 words).
- Include both academic-flavored queries (peer-reviewed, journal, study)
  and industry-flavored queries (market, report, whitepaper, vendor).
- Queries must be in the language of the topic.

Respond with JSON only:
{"strategy": "<one paragraph>", "queries": ["<query>", ...], "outline": "<short outline>"}`

// GeminiPlanner implements LLMPlanner over the Gemini API.
type GeminiPlanner struct {
	client *genai.Client
	model  string
}

// NewGeminiPlanner creates a planner client.
func NewGeminiPlanner(ctx context.Context, cfg config.PlannerConfig) (*GeminiPlanner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the LLM planner")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiPlanner{client: client, model: cfg.Model}, nil
}

// Plan implements LLMPlanner.
func (g *GeminiPlanner) Plan(ctx context.Context, req Request) (*Plan, error) {
	prompt := fmt.Sprintf(planInstruction,
		req.Topic, orNone(req.Scope), orNone(strings.Join(req.Seeds, "; ")), req.TargetMin)

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	cfgJSON := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfgJSON)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrPlannerTimeout
		}
		return nil, fmt.Errorf("planner generation failed: %w", err)
	}

	if blocked(resp) {
		return nil, ErrSafetyBlocked
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("planner returned empty response")
	}

	plan, err := parsePlanJSON(text)
	if err != nil {
		return nil, err
	}
	logging.Planner("Gemini plan: %d queries for %q", len(plan.Queries), req.Topic)
	return plan, nil
}

// blocked reports whether the response was stopped by the safety filter.
func blocked(resp *genai.GenerateContentResponse) bool {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return true
	}
	for _, cand := range resp.Candidates {
		if cand.FinishReason == genai.FinishReasonSafety ||
			cand.FinishReason == genai.FinishReasonProhibitedContent {
			return true
		}
	}
	return false
}

// parsePlanJSON unmarshals the model output, tolerating code fences.
func parsePlanJSON(text string) (*Plan, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	var plan Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return &plan, nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
