package sources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"citescout/internal/citation"
	"citescout/internal/config"
	"citescout/internal/httpclient"
	"citescout/internal/logging"
	"citescout/internal/router"
)

const (
	dataForSEOBaseURL = "https://api.dataforseo.com"
	duckDuckGoBaseURL = "https://html.duckduckgo.com"
)

// SERP is the generic search-results adapter. With DataForSEO credentials
// it uses their live SERP API; without, it parses DuckDuckGo's HTML search
// results page.
type SERP struct {
	client  *httpclient.Client
	cfg     config.SourcesConfig
	apiBase string
	ddgBase string
}

// NewSERP creates the adapter and registers its token bucket.
func NewSERP(client *httpclient.Client, cfg config.SourcesConfig) *SERP {
	client.RegisterLimiter(router.AdapterSERP, cfg.SerpRPS)
	return &SERP{client: client, cfg: cfg, apiBase: dataForSEOBaseURL, ddgBase: duckDuckGoBaseURL}
}

func (s *SERP) Name() string { return router.AdapterSERP }

// Search implements Adapter.
func (s *SERP) Search(ctx context.Context, query string, max int) ([]*citation.Citation, error) {
	var (
		results []serpResult
		err     error
	)
	if s.cfg.DataForSEOLogin != "" && s.cfg.DataForSEOPassword != "" {
		results, err = s.searchDataForSEO(ctx, query, max)
		if err != nil {
			logging.SourcesWarn("DataForSEO failed (%v), falling back to HTML search", err)
			results, err = s.searchDuckDuckGo(ctx, query, max)
		}
	} else {
		results, err = s.searchDuckDuckGo(ctx, query, max)
	}
	if err != nil {
		return nil, err
	}

	out := make([]*citation.Citation, 0, len(results))
	for _, r := range results {
		if cit := s.normalize(r); cit != nil {
			out = append(out, cit)
			if len(out) >= max {
				break
			}
		}
	}
	logging.Sources("serp: %d/%d usable results for %q", len(out), len(results), query)
	return out, nil
}

// serpResult is the common shape of both backends.
type serpResult struct {
	Title   string
	URL     string
	Snippet string
}

// academicHosts classify a result URL as scholarly.
var academicHosts = []string{
	"doi.org", "arxiv.org", "researchgate.net", "ncbi.nlm.nih.gov",
	"springer.com", "sciencedirect.com", "ieee.org", "acm.org",
	"jstor.org", "nature.com", "wiley.com", "tandfonline.com",
	"scholar.google", ".edu",
}

func (s *SERP) normalize(r serpResult) *citation.Citation {
	title := strings.TrimSpace(r.Title)
	if title == "" || r.URL == "" {
		return nil
	}
	host := hostname(r.URL)
	if host == "" {
		return nil
	}

	year := ExtractYear(r.URL)
	if year == 0 {
		year = ExtractYear(r.Snippet)
	}
	if year == 0 {
		year = time.Now().Year()
	}

	sourceType := citation.SourceWebsite
	academic := false
	for _, h := range academicHosts {
		if strings.Contains(r.URL, h) {
			academic = true
			sourceType = citation.SourceJournal
			break
		}
	}

	cit := &citation.Citation{
		Authors:         []string{host},
		Year:            year,
		Title:           title,
		SourceType:      sourceType,
		DOI:             ExtractDOI(r.URL),
		URL:             r.URL,
		Abstract:        strings.TrimSpace(r.Snippet),
		APISource:       s.Name(),
		NeedsEnrichment: true, // SERP never yields real author metadata
	}
	cit.Confidence = Score(cit, -1)
	if !academic {
		cit.Confidence -= 0.1
	}
	return cit
}

// =============================================================================
// DATAFORSEO BACKEND
// =============================================================================

type dataForSEOResponse struct {
	Tasks []struct {
		Result []struct {
			Items []struct {
				Type        string `json:"type"`
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"items"`
		} `json:"result"`
	} `json:"tasks"`
}

func (s *SERP) searchDataForSEO(ctx context.Context, query string, max int) ([]serpResult, error) {
	payload, err := json.Marshal([]map[string]any{{
		"keyword":       query,
		"language_code": "en",
		"depth":         max,
	}})
	if err != nil {
		return nil, err
	}

	auth := base64.StdEncoding.EncodeToString(
		[]byte(s.cfg.DataForSEOLogin + ":" + s.cfg.DataForSEOPassword))
	h := http.Header{}
	h.Set("Authorization", "Basic "+auth)
	h.Set("Content-Type", "application/json")

	body, err := s.client.Do(ctx, httpclient.Request{
		Adapter: s.Name(),
		Method:  http.MethodPost,
		URL:     s.apiBase + "/v3/serp/google/organic/live/advanced",
		Header:  h,
		Body:    strings.NewReader(string(payload)),
	})
	if err != nil {
		return nil, err
	}

	var resp dataForSEOResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse DataForSEO response: %w", err)
	}

	var results []serpResult
	for _, task := range resp.Tasks {
		for _, res := range task.Result {
			for _, item := range res.Items {
				if item.Type != "organic" || item.URL == "" {
					continue
				}
				results = append(results, serpResult{
					Title:   item.Title,
					URL:     item.URL,
					Snippet: item.Description,
				})
			}
		}
	}
	return results, nil
}

// =============================================================================
// DUCKDUCKGO HTML BACKEND
// =============================================================================

func (s *SERP) searchDuckDuckGo(ctx context.Context, query string, max int) ([]serpResult, error) {
	u := fmt.Sprintf("%s/html/?q=%s", s.ddgBase, url.QueryEscape(query))

	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")

	body, err := s.client.Do(ctx, httpclient.Request{Adapter: s.Name(), URL: u, Header: h})
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGoResults(string(body), max)
}

// parseDuckDuckGoResults extracts results from the HTML results page.
// DuckDuckGo marks each hit with class "result results_links".
func parseDuckDuckGoResults(htmlContent string, max int) ([]serpResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search HTML: %w", err)
	}

	var results []serpResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= max {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			cls := attrValue(n, "class")
			if strings.Contains(cls, "result") && strings.Contains(cls, "results_links") {
				if r := extractDDGResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractDDGResult(n *html.Node) serpResult {
	var r serpResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			cls := attrValue(n, "class")
			switch {
			case strings.Contains(cls, "result__a"):
				r.URL = cleanDDGRedirect(attrValue(n, "href"))
				r.Title = textContent(n)
			case strings.Contains(cls, "result__snippet"):
				r.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r
}

// cleanDDGRedirect unwraps the uddg redirect DuckDuckGo wraps hits in.
func cleanDDGRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/?uddg=") {
		return href
	}
	i := strings.Index(href, "uddg=")
	enc := href[i+len("uddg="):]
	if j := strings.Index(enc, "&"); j > 0 {
		enc = enc[:j]
	}
	if decoded, err := url.QueryUnescape(enc); err == nil {
		return decoded
	}
	return href
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
