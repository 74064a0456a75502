// Package citation defines the citation data model and the typed citation
// database used by every other subsystem. The database is the only owner of
// citation storage: the orchestrator appends, the dedup/quality passes
// replace or drop, the enricher updates fields, the compiler appends newly
// researched records.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SourceType classifies what kind of publication a citation refers to.
type SourceType string

const (
	SourceJournal    SourceType = "journal"
	SourceConference SourceType = "conference"
	SourceBook       SourceType = "book"
	SourceReport     SourceType = "report"
	SourceWebsite    SourceType = "website"
)

// CitationStyle selects the reference formatting convention.
type CitationStyle string

const (
	StyleAPA7    CitationStyle = "APA7"
	StyleIEEE    CitationStyle = "IEEE"
	StyleChicago CitationStyle = "Chicago"
	StyleMLA     CitationStyle = "MLA"
)

// MinYear is the lower bound for a plausible publication year.
const MinYear = 1900

// idPattern matches citation IDs of the form cite_001.
var idPattern = regexp.MustCompile(`^cite_(\d{3,})$`)

// Citation is a single bibliographic record. Required fields are ID,
// Authors, Year, Title, and SourceType; everything else is optional and
// populated as well as the producing adapter can manage. Adapters must
// never fabricate optional fields.
type Citation struct {
	ID         string     `json:"id"`
	Authors    []string   `json:"authors"`
	Year       int        `json:"year"`
	Title      string     `json:"title"`
	SourceType SourceType `json:"source_type"`

	Journal    string `json:"journal,omitempty"`
	Publisher  string `json:"publisher,omitempty"`
	Volume     string `json:"volume,omitempty"`
	Issue      string `json:"issue,omitempty"`
	Pages      string `json:"pages,omitempty"`
	DOI        string `json:"doi,omitempty"`
	URL        string `json:"url,omitempty"`
	AccessDate string `json:"access_date,omitempty"`
	Abstract   string `json:"abstract,omitempty"`
	APISource  string `json:"api_source,omitempty"`
	Language   string `json:"language,omitempty"`

	// Confidence is the producing adapter's score for the record.
	// NeedsEnrichment marks weak records (grounded-web) for the enricher.
	// Neither is part of the persisted schema.
	Confidence      float64 `json:"-"`
	NeedsEnrichment bool    `json:"-"`
}

// ValidID reports whether id has the cite_NNN form.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// IDNumber extracts the numeric suffix of a citation ID, or -1.
func IDNumber(id string) int {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// FormatID renders a numeric ID as cite_NNN (zero-padded to three digits).
func FormatID(n int) string {
	return fmt.Sprintf("cite_%03d", n)
}

// Validate checks the citation's integrity predicate.
func (c *Citation) Validate() error {
	if !ValidID(c.ID) {
		return fmt.Errorf("citation id %q does not match cite_NNN", c.ID)
	}
	if len(c.Authors) == 0 {
		return fmt.Errorf("%s: at least one author required", c.ID)
	}
	maxYear := time.Now().Year() + 2
	if c.Year < MinYear || c.Year > maxYear {
		return fmt.Errorf("%s: year %d outside %d..%d", c.ID, c.Year, MinYear, maxYear)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%s: title must not be empty", c.ID)
	}
	switch c.SourceType {
	case SourceJournal, SourceConference, SourceBook, SourceReport, SourceWebsite:
	default:
		return fmt.Errorf("%s: unknown source_type %q", c.ID, c.SourceType)
	}
	if c.DOI != "" && !strings.HasPrefix(c.DOI, "10.") {
		return fmt.Errorf("%s: DOI %q must begin with 10.", c.ID, c.DOI)
	}
	return nil
}

// FirstAuthor returns the first author, or "" when none.
func (c *Citation) FirstAuthor() string {
	if len(c.Authors) == 0 {
		return ""
	}
	return c.Authors[0]
}

// CompletenessScore counts non-empty optional fields, with a bonus for
// records produced by an academic catalog. Used by the deduplicator to
// decide which duplicate to keep.
func (c *Citation) CompletenessScore() int {
	score := 0
	for _, f := range []string{
		c.Journal, c.Publisher, c.Volume, c.Issue, c.Pages,
		c.DOI, c.URL, c.Abstract, c.Language,
	} {
		if f != "" {
			score++
		}
	}
	switch c.APISource {
	case "crossref", "semanticscholar":
		score += 3
	}
	return score
}

// Clone returns a deep copy.
func (c *Citation) Clone() *Citation {
	out := *c
	out.Authors = append([]string(nil), c.Authors...)
	return &out
}
