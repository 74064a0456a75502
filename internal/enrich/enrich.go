// Package enrich repairs weak citation metadata by scraping the cited URL.
// It targets records produced by sources that cannot see page metadata
// (grounded-web, SERP) and fills in title, authors, and year from the
// page itself. Enrichment is best-effort: a failed scrape leaves the
// record unchanged, and well-formed fields are never overwritten.
package enrich

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"citescout/internal/citation"
	"citescout/internal/httpclient"
	"citescout/internal/logging"
	"citescout/internal/sources"
)

// weakSources produce records that routinely need repair.
var weakSources = map[string]bool{"groundedweb": true, "serp": true}

var urlYearPattern = regexp.MustCompile(`/((19|20)\d{2})/`)

// Enricher scrapes cited pages for metadata.
type Enricher struct {
	client *httpclient.Client
}

// New creates an Enricher sharing the run's HTTP client.
func New(client *httpclient.Client) *Enricher {
	client.RegisterLimiter("enrich", 5)
	return &Enricher{client: client}
}

// NeedsEnrichment reports whether a citation should be scraped: flagged by
// its adapter, or from a weak source with at least one trigger condition.
func NeedsEnrichment(c *citation.Citation) bool {
	if c.NeedsEnrichment {
		return c.URL != ""
	}
	if !weakSources[c.APISource] || c.URL == "" {
		return false
	}
	return sources.BareDomain(c.Title) ||
		c.Year == time.Now().Year() ||
		(len(c.Authors) > 0 && sources.BareDomain(c.Authors[0]))
}

// EnrichAll repairs every eligible citation in place and returns how many
// records changed.
func (e *Enricher) EnrichAll(ctx context.Context, cits []*citation.Citation) int {
	changed := 0
	for _, c := range cits {
		if !NeedsEnrichment(c) {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		if e.Enrich(ctx, c) {
			changed++
		}
	}
	logging.Enrich("Enriched %d records", changed)
	return changed
}

// Enrich scrapes one citation's URL and applies found metadata. Returns
// whether anything changed.
func (e *Enricher) Enrich(ctx context.Context, c *citation.Citation) bool {
	body, err := e.client.Do(ctx, httpclient.Request{Adapter: "enrich", URL: c.URL, NoRetry: true})
	if err != nil {
		logging.EnrichWarn("Scrape failed for %s (%s): %v", c.ID, c.URL, err)
		return false
	}

	meta := ParsePage(string(body), c.URL)
	return meta.Apply(c)
}

// PageMeta is what a scrape can recover.
type PageMeta struct {
	Title   string
	Authors []string
	Year    int
}

// Apply writes recovered fields onto c without downgrading anything
// well-formed. Returns whether c changed.
func (m PageMeta) Apply(c *citation.Citation) bool {
	changed := false

	if m.Title != "" && (sources.BareDomain(c.Title) || strings.TrimSpace(c.Title) == "") {
		c.Title = m.Title
		changed = true
	}

	if len(m.Authors) > 0 {
		weakAuthors := len(c.Authors) == 0 ||
			(len(c.Authors) == 1 && sources.BareDomain(c.Authors[0]))
		if weakAuthors {
			c.Authors = m.Authors
			changed = true
		}
	}

	// The current year is the placeholder adapters use for "unknown".
	if m.Year != 0 && (c.Year == 0 || c.Year == time.Now().Year()) && m.Year != c.Year {
		c.Year = m.Year
		changed = true
	}

	if changed {
		c.NeedsEnrichment = false
		logging.Enrich("Repaired %s: title=%q year=%d authors=%d", c.ID, c.Title, c.Year, len(c.Authors))
	}
	return changed
}

// ParsePage extracts metadata from an HTML page, trying strategies in
// order: Open-Graph/article meta tags, pubdate/Dublin Core meta, JSON-LD,
// <time datetime>, then a year in the URL path.
func ParsePage(htmlContent, pageURL string) PageMeta {
	var meta PageMeta

	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err == nil {
		scanNode(doc, &meta)
	}

	if meta.Year == 0 {
		if m := urlYearPattern.FindStringSubmatch(pageURL); m != nil {
			if y, err := strconv.Atoi(m[1]); err == nil {
				meta.Year = y
			}
		}
	}

	meta.Authors = cleanScrapedAuthors(meta.Authors, pageURL)
	return meta
}

func scanNode(n *html.Node, meta *PageMeta) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "meta":
			applyMetaTag(n, meta)
		case "script":
			if attr(n, "type") == "application/ld+json" && n.FirstChild != nil {
				applyJSONLD(n.FirstChild.Data, meta)
			}
		case "time":
			if meta.Year == 0 {
				meta.Year = yearOf(attr(n, "datetime"))
			}
		case "title":
			if meta.Title == "" && n.FirstChild != nil {
				meta.Title = strings.TrimSpace(n.FirstChild.Data)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		scanNode(c, meta)
	}
}

// applyMetaTag handles OG, article:*, pubdate, and Dublin Core tags.
func applyMetaTag(n *html.Node, meta *PageMeta) {
	key := attr(n, "property")
	if key == "" {
		key = attr(n, "name")
	}
	content := strings.TrimSpace(attr(n, "content"))
	if content == "" {
		return
	}

	switch strings.ToLower(key) {
	case "og:title":
		// OG beats the <title> element.
		meta.Title = content
	case "article:published_time", "pubdate", "publishdate",
		"dc.date", "dc.date.issued", "date":
		if meta.Year == 0 {
			meta.Year = yearOf(content)
		}
	case "article:author", "author", "dc.creator":
		meta.Authors = append(meta.Authors, content)
	}
}

// jsonLDDoc is the subset of schema.org we care about.
type jsonLDDoc struct {
	Headline      string          `json:"headline"`
	DatePublished string          `json:"datePublished"`
	Author        json.RawMessage `json:"author"`
}

func applyJSONLD(raw string, meta *PageMeta) {
	var doc jsonLDDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return
	}
	if meta.Title == "" && doc.Headline != "" {
		meta.Title = doc.Headline
	}
	if meta.Year == 0 {
		meta.Year = yearOf(doc.DatePublished)
	}
	meta.Authors = append(meta.Authors, jsonLDAuthors(doc.Author)...)
}

// jsonLDAuthors handles the three shapes schema.org allows: a string, an
// object with "name", or an array of either.
func jsonLDAuthors(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []string{s}
	}
	var obj struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Name != "" {
		return []string{obj.Name}
	}
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil {
		var out []string
		for _, item := range arr {
			out = append(out, jsonLDAuthors(item)...)
		}
		return out
	}
	return nil
}

// cleanScrapedAuthors applies the shared sanity predicate and drops the
// page's own domain.
func cleanScrapedAuthors(raw []string, pageURL string) []string {
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = strings.TrimPrefix(u.Host, "www.")
	}
	var out []string
	seen := make(map[string]bool)
	for _, a := range raw {
		a = strings.TrimSpace(a)
		if a == "" || strings.EqualFold(a, host) || !sources.SaneAuthor(a) {
			continue
		}
		if key := strings.ToLower(a); !seen[key] {
			seen[key] = true
			out = append(out, a)
		}
	}
	return out
}

func yearOf(s string) int {
	if len(s) < 4 {
		return 0
	}
	y, err := strconv.Atoi(s[:4])
	if err != nil || y < citation.MinYear || y > time.Now().Year()+2 {
		return 0
	}
	return y
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
