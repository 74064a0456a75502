// Package compile resolves citation placeholders in a draft and renders
// the reference list. Two placeholder forms exist: {cite_NNN} refers to a
// known database record, {cite_MISSING:<topic>} asks for a record to be
// researched at compile time. Compilation is deterministic and idempotent:
// running it on already-compiled text changes nothing.
package compile

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"citescout/internal/citation"
	"citescout/internal/logging"
)

var (
	missingPattern = regexp.MustCompile(`\{cite_MISSING:([^}]+)\}`)
	idPattern      = regexp.MustCompile(`\{(cite_\d{3,})\}`)
)

// Researcher finds one citation for a topic. The orchestrator implements
// this; a nil Researcher leaves missing topics unresolved but reported.
type Researcher interface {
	ResearchOne(ctx context.Context, topic string) (*citation.Citation, error)
}

// Result is the compile outcome.
type Result struct {
	Text             string
	MissingIDs       []string // {cite_NNN} with no database record
	ResearchedTopics []string // topics resolved via the researcher
	FailedTopics     []string // topics the researcher could not resolve

	// citedIDs holds known IDs in first-citation order, which is the
	// reference order for IEEE.
	citedIDs []string
}

func (res *Result) cite(id string) {
	for _, seen := range res.citedIDs {
		if seen == id {
			return
		}
	}
	res.citedIDs = append(res.citedIDs, id)
}

// Compiler substitutes placeholders against one database.
type Compiler struct {
	db         *citation.Database
	researcher Researcher
}

// New creates a Compiler. researcher may be nil.
func New(db *citation.Database, researcher Researcher) *Compiler {
	return &Compiler{db: db, researcher: researcher}
}

// Compile resolves all placeholders in text and renders the reference
// list for the cited records.
func (cp *Compiler) Compile(ctx context.Context, text string) (*Result, error) {
	res := &Result{}

	text = cp.resolveMissing(ctx, text, res)
	text = cp.substituteInText(text, res)

	style := cp.db.Metadata().CitationStyle
	if refs := cp.renderReferences(res.citedIDs, style); refs != "" {
		text = placeReferences(text, refs, cp.db.Metadata().DraftLanguage)
	}

	res.Text = text
	logging.Compiler("Compiled draft: %d cited, %d missing, %d researched",
		len(res.citedIDs), len(res.MissingIDs), len(res.ResearchedTopics))
	return res, nil
}

// resolveMissing researches each unique {cite_MISSING:topic} and rewrites
// every occurrence to the allocated {cite_NNN}.
func (cp *Compiler) resolveMissing(ctx context.Context, text string, res *Result) string {
	var topics []string
	seen := make(map[string]bool)
	for _, m := range missingPattern.FindAllStringSubmatch(text, -1) {
		topic := strings.TrimSpace(m[1])
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}

	for _, topic := range topics {
		if cp.researcher == nil {
			res.FailedTopics = append(res.FailedTopics, topic)
			text = replaceAllVariants(text, topic, "[MISSING: "+topic+"]")
			continue
		}
		c, err := cp.researcher.ResearchOne(ctx, topic)
		if err != nil {
			logging.Compiler("Research failed for %q: %v", topic, err)
			res.FailedTopics = append(res.FailedTopics, topic)
			text = replaceAllVariants(text, topic, "[MISSING: "+topic+"]")
			continue
		}
		c.ID = cp.db.NextID()
		if err := cp.db.Insert(c); err != nil {
			logging.Compiler("Insert failed for researched topic %q: %v", topic, err)
			res.FailedTopics = append(res.FailedTopics, topic)
			text = replaceAllVariants(text, topic, "[MISSING: "+topic+"]")
			continue
		}
		res.ResearchedTopics = append(res.ResearchedTopics, topic)
		text = replaceAllVariants(text, topic, "{"+c.ID+"}")
	}
	return text
}

// replaceAllVariants rewrites every {cite_MISSING:topic} occurrence,
// tolerating whitespace differences around the topic.
func replaceAllVariants(text, topic, replacement string) string {
	return missingPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := missingPattern.FindStringSubmatch(m)
		if strings.TrimSpace(sub[1]) == topic {
			return replacement
		}
		return m
	})
}

// substituteInText replaces every {cite_NNN} with the style's in-text form.
func (cp *Compiler) substituteInText(text string, res *Result) string {
	style := cp.db.Metadata().CitationStyle
	missing := make(map[string]bool)

	out := idPattern.ReplaceAllStringFunc(text, func(m string) string {
		id := idPattern.FindStringSubmatch(m)[1]
		c, ok := cp.db.Get(id)
		if !ok {
			if !missing[id] {
				missing[id] = true
				res.MissingIDs = append(res.MissingIDs, id)
			}
			return "[MISSING: " + id + "]"
		}
		res.cite(id)
		return InText(c, style)
	})
	return out
}

// =============================================================================
// IN-TEXT CITATIONS
// =============================================================================

// InText renders the in-text citation for one record.
func InText(c *citation.Citation, style citation.CitationStyle) string {
	switch style {
	case citation.StyleIEEE:
		return fmt.Sprintf("[%d]", citation.IDNumber(c.ID))
	case citation.StyleMLA:
		return "(" + surnameList(c.Authors, "and") + ")"
	default:
		// APA7 and Chicago are both author-date.
		return fmt.Sprintf("(%s, %d)", surnameList(c.Authors, "&"), c.Year)
	}
}

// surnameList renders one, two, or et-al author surnames.
func surnameList(authors []string, conj string) string {
	switch len(authors) {
	case 0:
		return "Anonymous"
	case 1:
		return surname(authors[0])
	case 2:
		return surname(authors[0]) + " " + conj + " " + surname(authors[1])
	default:
		return surname(authors[0]) + " et al."
	}
}

// surname extracts the family name from "Family, Given" or "Given Family".
func surname(author string) string {
	if i := strings.Index(author, ","); i >= 0 {
		return strings.TrimSpace(author[:i])
	}
	fields := strings.Fields(author)
	if len(fields) == 0 {
		return author
	}
	return fields[len(fields)-1]
}

// =============================================================================
// REFERENCE LIST
// =============================================================================

// renderReferences builds the reference list body for the cited IDs.
// APA7, Chicago, and MLA alphabetize by first author; IEEE keeps
// first-citation order with [N] prefixes.
func (cp *Compiler) renderReferences(cited []string, style citation.CitationStyle) string {
	if len(cited) == 0 {
		return ""
	}
	records := make([]*citation.Citation, 0, len(cited))
	for _, id := range cited {
		if c, ok := cp.db.Get(id); ok {
			records = append(records, c)
		}
	}
	if style != citation.StyleIEEE {
		sort.SliceStable(records, func(i, j int) bool {
			return strings.ToLower(surname(records[i].FirstAuthor())) <
				strings.ToLower(surname(records[j].FirstAuthor()))
		})
	}

	var b strings.Builder
	for _, c := range records {
		b.WriteString(FormatReference(c, style))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// FormatReference renders one full reference entry.
func FormatReference(c *citation.Citation, style citation.CitationStyle) string {
	switch style {
	case citation.StyleIEEE:
		return formatIEEE(c)
	case citation.StyleMLA:
		return formatMLA(c)
	case citation.StyleChicago:
		return formatChicago(c)
	default:
		return formatAPA7(c)
	}
}

// formatAPA7 follows the APA 7th edition field order per source type.
func formatAPA7(c *citation.Citation) string {
	var b strings.Builder
	b.WriteString(apaAuthors(c.Authors))
	fmt.Fprintf(&b, " (%d). ", c.Year)

	switch c.SourceType {
	case citation.SourceJournal, citation.SourceConference:
		b.WriteString(sentenceEnd(c.Title) + " ")
		if c.Journal != "" {
			b.WriteString("*" + c.Journal + "*")
			if c.Volume != "" {
				b.WriteString(", *" + c.Volume + "*")
				if c.Issue != "" {
					b.WriteString("(" + c.Issue + ")")
				}
			}
			if c.Pages != "" {
				b.WriteString(", " + c.Pages)
			}
			b.WriteString(". ")
		}
	case citation.SourceBook, citation.SourceReport:
		b.WriteString("*" + strings.TrimRight(c.Title, ".") + "*. ")
		if c.Publisher != "" {
			b.WriteString(c.Publisher + ". ")
		}
	default: // website
		b.WriteString(sentenceEnd(c.Title) + " ")
		if c.Publisher != "" {
			b.WriteString(c.Publisher + ". ")
		}
	}

	switch {
	case c.DOI != "":
		b.WriteString("https://doi.org/" + c.DOI)
	case c.URL != "":
		b.WriteString(c.URL)
	}
	return strings.TrimSpace(b.String())
}

// apaAuthors joins authors APA style: commas with an ampersand before the
// last; seven or more collapse to the first six, an ellipsis, and the last.
func apaAuthors(authors []string) string {
	if len(authors) == 0 {
		return "Anonymous."
	}
	list := authors
	truncated := false
	if len(list) >= 7 {
		list = append(append([]string{}, list[:6]...), list[len(list)-1])
		truncated = true
	}
	switch {
	case len(list) == 1:
		return list[0]
	case truncated:
		return strings.Join(list[:6], ", ") + ", ... " + list[6]
	default:
		return strings.Join(list[:len(list)-1], ", ") + ", & " + list[len(list)-1]
	}
}

func formatIEEE(c *citation.Citation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] ", citation.IDNumber(c.ID))
	b.WriteString(strings.Join(c.Authors, ", "))
	b.WriteString(", \"" + strings.TrimRight(c.Title, ".") + ",\" ")
	if c.Journal != "" {
		b.WriteString("*" + c.Journal + "*, ")
		if c.Volume != "" {
			b.WriteString("vol. " + c.Volume + ", ")
		}
		if c.Issue != "" {
			b.WriteString("no. " + c.Issue + ", ")
		}
		if c.Pages != "" {
			b.WriteString("pp. " + c.Pages + ", ")
		}
	}
	fmt.Fprintf(&b, "%d.", c.Year)
	if c.DOI != "" {
		b.WriteString(" doi: " + c.DOI + ".")
	}
	return b.String()
}

func formatMLA(c *citation.Citation) string {
	var b strings.Builder
	b.WriteString(sentenceEnd(strings.Join(c.Authors, ", and ")) + " ")
	b.WriteString("\"" + strings.TrimRight(c.Title, ".") + ".\" ")
	if c.Journal != "" {
		b.WriteString("*" + c.Journal + "*, ")
	}
	fmt.Fprintf(&b, "%d.", c.Year)
	if c.URL != "" {
		b.WriteString(" " + c.URL + ".")
	}
	return b.String()
}

func formatChicago(c *citation.Citation) string {
	var b strings.Builder
	b.WriteString(sentenceEnd(strings.Join(c.Authors, ", ")) + " ")
	fmt.Fprintf(&b, "%d. ", c.Year)
	b.WriteString("\"" + strings.TrimRight(c.Title, ".") + ".\" ")
	if c.Journal != "" {
		b.WriteString("*" + c.Journal + "*")
		if c.Volume != "" {
			b.WriteString(" " + c.Volume)
			if c.Issue != "" {
				b.WriteString(" (" + c.Issue + ")")
			}
		}
		if c.Pages != "" {
			b.WriteString(": " + c.Pages)
		}
		b.WriteString(".")
	}
	return strings.TrimSpace(b.String())
}

func sentenceEnd(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasSuffix(s, ".") || strings.HasSuffix(s, "?") || strings.HasSuffix(s, "!") {
		return s
	}
	return s + "."
}

// =============================================================================
// REFERENCE SECTION PLACEMENT
// =============================================================================

// sectionHeadings are the recognized reference section titles per draft
// language.
var sectionHeadings = map[string]string{
	"en": "References",
	"de": "Literaturverzeichnis",
	"es": "Bibliografía",
	"fr": "Références",
}

var headingPattern = regexp.MustCompile(
	`(?i)^(#{1,6}\s*)(References|Literaturverzeichnis|Bibliograf[ií]a|Références)\s*$`)

var (
	realRefPattern    = regexp.MustCompile(`doi\.org/|\(\d{4}\)|^\[\d+\]`)
	placeholderBodyRe = regexp.MustCompile(`^\[[^\]]*\]$`)
)

// placeReferences puts the rendered list into the draft: a placeholder
// reference section is replaced in place, a section already holding real
// references is left untouched, and with no section at all one is appended.
func placeReferences(text, refs, language string) string {
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if !headingPattern.MatchString(strings.TrimSpace(line)) {
			continue
		}
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "#") {
				end = j
				break
			}
		}
		body := lines[i+1 : end]

		if hasRealReferences(body) {
			return text
		}
		if isPlaceholderBody(body) {
			out := append([]string{}, lines[:i+1]...)
			out = append(out, "", refs)
			out = append(out, lines[end:]...)
			return strings.Join(out, "\n")
		}
		return text
	}

	heading := sectionHeadings[language]
	if heading == "" {
		heading = sectionHeadings["en"]
	}
	return strings.TrimRight(text, "\n") + "\n\n## " + heading + "\n\n" + refs
}

func hasRealReferences(body []string) bool {
	for _, line := range body {
		if realRefPattern.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// isPlaceholderBody accepts empty bodies and bodies whose non-empty lines
// are all bracketed markers like "[References to be completed]".
func isPlaceholderBody(body []string) bool {
	for _, line := range body {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !placeholderBodyRe.MatchString(line) {
			return false
		}
	}
	return true
}
