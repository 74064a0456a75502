// Package quality validates citations against integrity predicates and
// removes records that fail. Issues carry a severity so callers can
// distinguish "drop this" from "mention this in the report".
package quality

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"citescout/internal/citation"
	"citescout/internal/config"
	"citescout/internal/httpclient"
	"citescout/internal/logging"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue types.
const (
	IssueMalformedAuthors = "malformed_authors"
	IssueInvalidMetadata  = "invalid_metadata"
	IssueInvalidURL       = "invalid_url"
	IssueDeadDOI          = "dead_doi"
	IssueDeadURL          = "dead_url"
	IssueGenericTitle     = "generic_title"
	IssueLivenessUnknown  = "liveness_unknown"
)

// Issue is one finding about one citation.
type Issue struct {
	CitationID string   `json:"citation_id"`
	Severity   Severity `json:"severity"`
	Type       string   `json:"type"`
	Message    string   `json:"message"`
}

// minCredibleYear is the quality floor for publication years, stricter
// than the model's absolute bound.
const minCredibleYear = 1990

// maxAuthors flags obviously malformed author lists.
const maxAuthors = 30

var (
	singleLetterSeq = regexp.MustCompile(`^([A-Z]\.\s*){6,}$`)
	initialsOnly    = regexp.MustCompile(`^([A-Z]\.\s*)+$`)
	domainToken     = regexp.MustCompile(`(?i)\.(com|org|net|edu|gov|io|co)\b`)
)

// placeholderTitles are values that mean "we found nothing".
var placeholderTitles = map[string]bool{
	"untitled": true, "n/a": true, "no title": true, "unknown": true,
	"home": true, "homepage": true, "404": true, "error": true,
}

// genericTitleSuffixes are real but uselessly vague endings.
var genericTitleSuffixes = []string{
	"a systematic review", "an overview", "a survey", "an introduction",
}

// urlErrorKeywords in a URL usually mean a scraped error page.
var urlErrorKeywords = []string{"/403", "/404", "forbidden", "not-found", "notfound", "error"}

// Filter runs the quality predicates.
type Filter struct {
	cfg      config.QualityConfig
	client   *httpclient.Client
	resolver string // DOI resolver base, swappable in tests
}

// NewFilter creates a Filter. client may be nil when liveness checks are
// disabled.
func NewFilter(cfg config.QualityConfig, client *httpclient.Client) *Filter {
	if client != nil {
		client.RegisterLimiter("quality", 5)
	}
	return &Filter{cfg: cfg, client: client, resolver: "https://doi.org"}
}

// Check runs all predicates against one citation.
func (f *Filter) Check(ctx context.Context, c *citation.Citation) []Issue {
	var issues []Issue
	issues = append(issues, CheckAuthors(c)...)
	issues = append(issues, CheckMetadata(c)...)
	issues = append(issues, CheckTitle(c)...)

	if f.cfg.CheckDOILive && c.DOI != "" && f.client != nil {
		issues = append(issues, f.checkDOILiveness(ctx, c)...)
	}
	if f.cfg.CheckURLLive && c.URL != "" && f.client != nil {
		issues = append(issues, f.checkURLLiveness(ctx, c)...)
	}
	return issues
}

// FilterAll checks every citation and removes failures from db. Strict
// mode drops any citation with a critical issue; lenient mode drops only
// invalid_url and invalid_metadata. Returns all issues found and the IDs
// removed.
func (f *Filter) FilterAll(ctx context.Context, db *citation.Database) ([]Issue, []string) {
	var all []Issue
	failed := make(map[string]bool)

	for _, c := range db.Snapshot() {
		issues := f.Check(ctx, c)
		all = append(all, issues...)
		for _, is := range issues {
			if f.shouldRemove(is) {
				failed[c.ID] = true
			}
		}
	}

	removed := db.RemoveWhere(func(c *citation.Citation) bool {
		return failed[c.ID]
	})
	if len(removed) > 0 {
		logging.Quality("Removed %d citations failing quality checks (strict=%v)",
			len(removed), f.cfg.Strict)
	}
	return all, removed
}

func (f *Filter) shouldRemove(is Issue) bool {
	if f.cfg.Strict {
		return is.Severity == SeverityCritical
	}
	return is.Severity == SeverityCritical &&
		(is.Type == IssueInvalidURL || is.Type == IssueInvalidMetadata)
}

// CheckAuthors applies the author sanity predicates.
func CheckAuthors(c *citation.Citation) []Issue {
	var issues []Issue
	critical := func(msg string) {
		issues = append(issues, Issue{
			CitationID: c.ID, Severity: SeverityCritical,
			Type: IssueMalformedAuthors, Message: msg,
		})
	}

	if len(c.Authors) > maxAuthors {
		critical(fmt.Sprintf("%d authors exceeds the %d maximum", len(c.Authors), maxAuthors))
		return issues
	}
	for _, a := range c.Authors {
		switch {
		case singleLetterSeq.MatchString(a):
			critical(fmt.Sprintf("author %q is a single-letter sequence", a))
		case initialsOnly.MatchString(a):
			critical(fmt.Sprintf("author %q is initials only", a))
		case domainToken.MatchString(a):
			critical(fmt.Sprintf("author %q looks like a domain", a))
		case identicalHalves(a):
			critical(fmt.Sprintf("author %q repeats the same name", a))
		}
	}
	return issues
}

func identicalHalves(name string) bool {
	parts := strings.Fields(name)
	return len(parts) == 2 && strings.EqualFold(parts[0], parts[1])
}

// CheckMetadata applies the metadata quality predicates.
func CheckMetadata(c *citation.Citation) []Issue {
	var issues []Issue
	critical := func(msg string) {
		issues = append(issues, Issue{
			CitationID: c.ID, Severity: SeverityCritical,
			Type: IssueInvalidMetadata, Message: msg,
		})
	}

	if len(c.Authors) > 0 && strings.EqualFold(c.Title, c.Authors[0]) {
		critical("title equals the first author")
	}
	if maxYear := time.Now().Year() + 2; c.Year < minCredibleYear || c.Year > maxYear {
		critical(fmt.Sprintf("year %d outside %d..%d", c.Year, minCredibleYear, maxYear))
	}
	if placeholderTitles[strings.ToLower(strings.TrimSpace(c.Title))] {
		critical(fmt.Sprintf("placeholder title %q", c.Title))
	}
	if c.URL != "" {
		lower := strings.ToLower(c.URL)
		for _, kw := range urlErrorKeywords {
			if strings.Contains(lower, kw) {
				issues = append(issues, Issue{
					CitationID: c.ID, Severity: SeverityCritical,
					Type:    IssueInvalidURL,
					Message: fmt.Sprintf("url contains error keyword %q", kw),
				})
				break
			}
		}
	}
	return issues
}

// CheckTitle flags vague but not disqualifying titles.
func CheckTitle(c *citation.Citation) []Issue {
	lower := strings.ToLower(strings.TrimSpace(c.Title))
	for _, suffix := range genericTitleSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return []Issue{{
				CitationID: c.ID, Severity: SeverityWarning,
				Type:    IssueGenericTitle,
				Message: fmt.Sprintf("generic title ending %q", suffix),
			}}
		}
	}
	return nil
}

// checkDOILiveness resolves the DOI. 404 is critical, network trouble is
// only a warning since resolvers rate-limit aggressively.
func (f *Filter) checkDOILiveness(ctx context.Context, c *citation.Citation) []Issue {
	return f.checkDOILivenessAt(ctx, c, f.resolver)
}

func (f *Filter) checkDOILivenessAt(ctx context.Context, c *citation.Citation, resolver string) []Issue {
	u := resolver + "/" + c.DOI
	_, err := f.client.Do(ctx, httpclient.Request{
		Adapter: "quality", Method: http.MethodHead, URL: u, NoRetry: true,
	})
	switch {
	case err == nil:
		return nil
	case httpclient.IsNotFound(err):
		return []Issue{{
			CitationID: c.ID, Severity: SeverityCritical,
			Type: IssueDeadDOI, Message: fmt.Sprintf("DOI %s does not resolve", c.DOI),
		}}
	default:
		return []Issue{{
			CitationID: c.ID, Severity: SeverityWarning,
			Type: IssueLivenessUnknown, Message: fmt.Sprintf("DOI check failed: %v", err),
		}}
	}
}

// checkURLLiveness probes the URL with HEAD, retrying once with GET when
// the server rejects HEAD.
func (f *Filter) checkURLLiveness(ctx context.Context, c *citation.Citation) []Issue {
	_, err := f.client.Do(ctx, httpclient.Request{
		Adapter: "quality", Method: http.MethodHead, URL: c.URL, NoRetry: true,
	})
	if err != nil && isMethodNotAllowed(err) {
		_, err = f.client.Do(ctx, httpclient.Request{
			Adapter: "quality", Method: http.MethodGet, URL: c.URL, NoRetry: true,
		})
	}
	switch {
	case err == nil:
		return nil
	case isHTTPStatus(err):
		return []Issue{{
			CitationID: c.ID, Severity: SeverityCritical,
			Type: IssueDeadURL, Message: fmt.Sprintf("URL %s unreachable: %v", c.URL, err),
		}}
	default:
		return []Issue{{
			CitationID: c.ID, Severity: SeverityWarning,
			Type: IssueLivenessUnknown, Message: fmt.Sprintf("URL check failed: %v", err),
		}}
	}
}

func isMethodNotAllowed(err error) bool {
	var re *httpclient.RequestError
	return errors.As(err, &re) && re.StatusCode == http.StatusMethodNotAllowed
}

func isHTTPStatus(err error) bool {
	var re *httpclient.RequestError
	return errors.As(err, &re) && re.StatusCode >= 400
}
