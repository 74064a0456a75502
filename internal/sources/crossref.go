package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"citescout/internal/citation"
	"citescout/internal/httpclient"
	"citescout/internal/logging"
	"citescout/internal/router"
)

// crossrefBaseURL is overridable in tests.
const crossrefBaseURL = "https://api.crossref.org"

// Crossref queries the Crossref works endpoint.
type Crossref struct {
	client  *httpclient.Client
	baseURL string
}

// NewCrossref creates the adapter and registers its token bucket.
func NewCrossref(client *httpclient.Client, rps float64) *Crossref {
	client.RegisterLimiter(router.AdapterCrossref, rps)
	return &Crossref{client: client, baseURL: crossrefBaseURL}
}

func (c *Crossref) Name() string { return router.AdapterCrossref }

// crossrefResponse mirrors the subset of the works response we consume.
type crossrefResponse struct {
	Message struct {
		Items []crossrefWork `json:"items"`
	} `json:"message"`
}

type crossrefWork struct {
	DOI    string     `json:"DOI"`
	Title  []string   `json:"title"`
	Author []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
	Published struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"published"`
	ContainerTitle []string `json:"container-title"`
	Publisher      string   `json:"publisher"`
	Volume         string   `json:"volume"`
	Issue          string   `json:"issue"`
	Page           string   `json:"page"`
	Type           string   `json:"type"`
	URL            string   `json:"URL"`
	Abstract       string   `json:"abstract"`
	IsReferencedBy int      `json:"is-referenced-by-count"`
}

// Search implements Adapter.
func (c *Crossref) Search(ctx context.Context, query string, max int) ([]*citation.Citation, error) {
	u := fmt.Sprintf("%s/works?query=%s&rows=%d&sort=relevance",
		c.baseURL, url.QueryEscape(query), max)

	body, err := c.client.GetJSON(ctx, c.Name(), u)
	if err != nil {
		if httpclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var resp crossrefResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse crossref response: %w", err)
	}

	out := make([]*citation.Citation, 0, len(resp.Message.Items))
	for _, w := range resp.Message.Items {
		if cit := c.normalize(w); cit != nil {
			out = append(out, cit)
		}
	}
	logging.Sources("crossref: %d/%d usable results for %q", len(out), len(resp.Message.Items), query)
	return out, nil
}

func (c *Crossref) normalize(w crossrefWork) *citation.Citation {
	if len(w.Title) == 0 || strings.TrimSpace(w.Title[0]) == "" {
		return nil
	}

	authors := make([]string, 0, len(w.Author))
	for _, a := range w.Author {
		name := strings.TrimSpace(a.Family)
		if name == "" {
			continue
		}
		if a.Given != "" {
			name = fmt.Sprintf("%s, %s", name, a.Given)
		}
		authors = append(authors, name)
	}
	authors = CleanAuthors(authors)
	if len(authors) == 0 {
		return nil
	}

	year := 0
	if dp := w.Published.DateParts; len(dp) > 0 && len(dp[0]) > 0 {
		year = dp[0][0]
	}
	if year == 0 {
		return nil
	}

	cit := &citation.Citation{
		Authors:    authors,
		Year:       year,
		Title:      w.Title[0],
		SourceType: crossrefSourceType(w.Type),
		Publisher:  w.Publisher,
		Volume:     w.Volume,
		Issue:      w.Issue,
		Pages:      w.Page,
		DOI:        w.DOI,
		URL:        w.URL,
		Abstract:   stripJATS(w.Abstract),
		APISource:  c.Name(),
	}
	if len(w.ContainerTitle) > 0 {
		cit.Journal = w.ContainerTitle[0]
	}
	cit.Confidence = Score(cit, w.IsReferencedBy)
	return cit
}

// crossrefSourceType maps Crossref work types onto our source types.
func crossrefSourceType(t string) citation.SourceType {
	switch t {
	case "journal-article":
		return citation.SourceJournal
	case "proceedings-article":
		return citation.SourceConference
	case "book", "monograph", "edited-book", "book-chapter":
		return citation.SourceBook
	case "report", "report-component":
		return citation.SourceReport
	default:
		return citation.SourceWebsite
	}
}

// stripJATS removes the JATS XML tags Crossref embeds in abstracts.
func stripJATS(s string) string {
	if s == "" {
		return ""
	}
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
