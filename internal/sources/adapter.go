// Package sources implements the citation source adapters. Each adapter
// queries one external catalog and normalizes the results to the Citation
// schema. Adapters classify errors, never retry themselves (the HTTP
// client owns retries), and never fabricate fields they did not receive.
package sources

import (
	"context"
	"regexp"
	"strings"
	"time"

	"citescout/internal/citation"
)

// Adapter is one citation catalog client.
type Adapter interface {
	// Name returns the api_source label stamped on produced citations.
	Name() string
	// Search returns up to max normalized citations for the query.
	Search(ctx context.Context, query string, max int) ([]*citation.Citation, error)
}

// Registry holds the configured adapters by name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}

// =============================================================================
// AUTHOR SANITY - shared by all adapters and the enricher.
// =============================================================================

var (
	// initialsOnlyPattern matches names that are nothing but dotted
	// initials ("J. R. R."). Plain acronyms (OECD, WHO) are kept since
	// organizations are valid authors.
	initialsOnlyPattern = regexp.MustCompile(`^([A-Z]\.\s*)+$`)
	domainLikePattern   = regexp.MustCompile(`(?i)^[a-z0-9-]+(\.[a-z0-9-]+)*\.(com|org|net|edu|gov|io|co|de|uk|ai)$`)
)

// genericAuthorNames are placeholder values some catalogs emit.
var genericAuthorNames = map[string]bool{
	"unknown": true, "editor": true, "editors": true, "admin": true,
	"staff": true, "author": true, "authors": true, "n/a": true,
	"anonymous": true, "various": true, "et al": true, "et al.": true,
}

// SaneAuthor reports whether name looks like a real person or organization
// rather than parser debris.
func SaneAuthor(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if genericAuthorNames[strings.ToLower(name)] {
		return false
	}
	if domainLikePattern.MatchString(name) {
		return false
	}
	if initialsOnlyPattern.MatchString(name) {
		return false
	}
	// Identical duplicated halves, e.g. "Smith Smith".
	if parts := strings.Fields(name); len(parts) == 2 &&
		strings.EqualFold(parts[0], parts[1]) {
		return false
	}
	return true
}

// CleanAuthors filters a raw author list through SaneAuthor, preserving
// order.
func CleanAuthors(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		if a = strings.TrimSpace(a); SaneAuthor(a) {
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// CONFIDENCE SCORING
// =============================================================================

// Score computes an adapter confidence for a normalized citation.
// citationCount is the catalog's citation count where available, else -1.
func Score(c *citation.Citation, citationCount int) float64 {
	conf := 0.4
	if c.DOI != "" {
		conf += 0.2
	}
	if c.Journal != "" {
		conf += 0.1
	}
	if c.Publisher != "" {
		conf += 0.05
	}
	if n := len(c.Authors); n >= 1 && n <= 10 {
		conf += 0.1
	}
	if citationCount > 10 {
		conf += 0.1
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

// =============================================================================
// EXTRACTION HELPERS
// =============================================================================

var (
	doiInURL    = regexp.MustCompile(`10\.\d{4,9}/[^\s&?#"']+`)
	yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// ExtractDOI pulls a DOI out of a URL or snippet, or "".
func ExtractDOI(s string) string {
	return doiInURL.FindString(s)
}

// ExtractYear finds the first plausible publication year in s, bounded to
// 2000..currentYear+2 (older years in snippets are usually page counts or
// citation references, not the publication year). Returns 0 when absent.
func ExtractYear(s string) int {
	maxYear := time.Now().Year() + 2
	for _, m := range yearPattern.FindAllString(s, -1) {
		y := int(m[0]-'0')*1000 + int(m[1]-'0')*100 + int(m[2]-'0')*10 + int(m[3]-'0')
		if y >= 2000 && y <= maxYear {
			return y
		}
	}
	return 0
}

// BareDomain reports whether s is just a hostname ("mckinsey.com").
func BareDomain(s string) bool {
	return domainLikePattern.MatchString(strings.TrimSpace(s))
}
