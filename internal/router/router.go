// Package router classifies research queries as academic, industry, or
// mixed and maps each class to an ordered adapter chain. It is purely
// functional: no network calls, no shared state.
package router

import (
	"strings"

	"citescout/internal/logging"
)

// QueryType is the classification outcome.
type QueryType string

const (
	TypeAcademic QueryType = "academic"
	TypeIndustry QueryType = "industry"
	TypeMixed    QueryType = "mixed"
)

// Adapter names as used by the source registry.
const (
	AdapterCrossref        = "crossref"
	AdapterSemanticScholar = "semanticscholar"
	AdapterGroundedWeb     = "groundedweb"
	AdapterSERP            = "serp"
)

// academicPatterns mark scholarly intent. German alternates included since
// draft topics arrive in the draft's language.
var academicPatterns = []string{
	"peer-reviewed", "peer reviewed", "journal", "study", "studies",
	"research", "meta-analysis", "systematic review", "empirical",
	"randomized", "longitudinal", "doi", "citation", "literature",
	"theory", "hypothesis", "methodology", "dissertation", "proceedings",
	// localized
	"studie", "forschung", "zeitschrift", "wissenschaftlich",
	"literaturübersicht", "empirisch",
}

// industryPatterns mark practitioner or market intent.
var industryPatterns = []string{
	"market", "industry", "whitepaper", "white paper", "vendor",
	"pricing", "case study", "best practices", "trends", "report 20",
	"survey results", "benchmark", "adoption", "gartner", "forrester",
	"startup", "enterprise", "product", "roadmap", "press release",
	// localized
	"markt", "branche", "anbieter", "praxisbericht", "unternehmen",
}

// Classification is the router's verdict for one query.
type Classification struct {
	Type       QueryType
	Confidence float64
	Chain      []string // ordered adapter names
}

// chains maps query type to the adapter fallback order.
var chains = map[QueryType][]string{
	TypeIndustry: {AdapterGroundedWeb, AdapterSemanticScholar, AdapterCrossref},
	TypeAcademic: {AdapterCrossref, AdapterSemanticScholar, AdapterGroundedWeb},
	TypeMixed:    {AdapterSemanticScholar, AdapterGroundedWeb, AdapterCrossref},
}

// Chain returns the adapter order for a query type.
func Chain(t QueryType) []string {
	c := chains[t]
	if c == nil {
		c = chains[TypeMixed]
	}
	out := make([]string, len(c))
	copy(out, c)
	return out
}

// Classify assigns a query type from pattern matches.
//
// Only one side matched: that side. Both matched: the clear majority wins
// with confidence 0.6; a tie is mixed. No match: mixed with confidence 0.3.
// Confidence grows with the match count and is capped at 0.9.
func Classify(query string) Classification {
	q := strings.ToLower(query)

	academic := countMatches(q, academicPatterns)
	industry := countMatches(q, industryPatterns)

	var c Classification
	switch {
	case academic == 0 && industry == 0:
		c = Classification{Type: TypeMixed, Confidence: 0.3}
	case industry == 0:
		c = Classification{Type: TypeAcademic, Confidence: confidenceFor(academic)}
	case academic == 0:
		c = Classification{Type: TypeIndustry, Confidence: confidenceFor(industry)}
	case academic > industry:
		c = Classification{Type: TypeAcademic, Confidence: 0.6}
	case industry > academic:
		c = Classification{Type: TypeIndustry, Confidence: 0.6}
	default:
		c = Classification{Type: TypeMixed, Confidence: confidenceFor(academic + industry)}
	}

	c.Chain = Chain(c.Type)
	logging.Router("%q -> %s (%.2f, academic=%d industry=%d)",
		query, c.Type, c.Confidence, academic, industry)
	return c
}

// confidenceFor scales with match count: one match 0.6, each further match
// adds 0.1, capped at 0.9.
func confidenceFor(matches int) float64 {
	conf := 0.6 + 0.1*float64(matches-1)
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

func countMatches(q string, patterns []string) int {
	n := 0
	for _, p := range patterns {
		if strings.Contains(q, p) {
			n++
		}
	}
	return n
}
