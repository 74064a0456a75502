package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"citescout/internal/citation"
)

// Report renders the run as a markdown research report: a summary, the
// per-source breakdown, and every citation grouped by its api_source.
// Within a group citations keep discovery order (IDs are assigned in
// discovery order, so ID order is discovery order).
func (r *Result) Report(topic string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Research Report: %s\n\n", topic)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().Format("2006-01-02 15:04"))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Citations collected: %d\n", r.DB.Len())
	if dispatched := r.QueriesSucceeded + len(r.FailedQueries); dispatched > 0 {
		fmt.Fprintf(&b, "- Success rate: %.0f%% (%d of %d queries)\n",
			100*float64(r.QueriesSucceeded)/float64(dispatched), r.QueriesSucceeded, dispatched)
	}
	fmt.Fprintf(&b, "- Quality gate: %s\n", r.Gate)
	fmt.Fprintf(&b, "- Duplicates merged: %d\n", len(r.Duplicates))
	fmt.Fprintf(&b, "- Failed queries: %d\n", len(r.FailedQueries))
	b.WriteString("\n")

	b.WriteString("## Sources\n\n")
	for _, name := range sortedSourceNames(r.SourcesBreakdown) {
		fmt.Fprintf(&b, "- %s: %d\n", name, r.SourcesBreakdown[name])
	}
	b.WriteString("\n")

	if len(r.AdapterStats) > 0 {
		b.WriteString("## Source Reliability\n\n")
		names := make([]string, 0, len(r.AdapterStats))
		for n := range r.AdapterStats {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			s := r.AdapterStats[n]
			fmt.Fprintf(&b, "- %s: %d succeeded, %d failed\n", n, s.Successes, s.Failures)
		}
		b.WriteString("\n")
	}

	bySource := make(map[string][]*citation.Citation)
	for _, c := range r.DB.Snapshot() {
		bySource[c.APISource] = append(bySource[c.APISource], c)
	}
	for _, name := range sortedSourceNames(r.SourcesBreakdown) {
		fmt.Fprintf(&b, "## %s\n\n", name)
		for _, c := range bySource[name] {
			writeEntry(&b, c)
		}
	}

	if len(r.FailedQueries) > 0 {
		b.WriteString("## Failed Queries\n\n")
		for _, fq := range r.FailedQueries {
			fmt.Fprintf(&b, "- `%s`: %s\n", fq.Query, fq.Reason)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func writeEntry(b *strings.Builder, c *citation.Citation) {
	fmt.Fprintf(b, "### %s (%s)\n\n", c.Title, c.ID)
	fmt.Fprintf(b, "- Authors: %s\n", strings.Join(c.Authors, "; "))
	fmt.Fprintf(b, "- Year: %d\n", c.Year)
	if c.Journal != "" {
		fmt.Fprintf(b, "- Journal: %s\n", c.Journal)
	}
	if c.DOI != "" {
		fmt.Fprintf(b, "- DOI: https://doi.org/%s\n", c.DOI)
	}
	if c.URL != "" {
		fmt.Fprintf(b, "- URL: %s\n", c.URL)
	}
	if c.Abstract != "" {
		abstract := c.Abstract
		if len(abstract) > 300 {
			abstract = abstract[:300] + "..."
		}
		fmt.Fprintf(b, "- Abstract: %s\n", abstract)
	}
	b.WriteString("\n")
}
