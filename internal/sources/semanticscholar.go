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

const semanticBaseURL = "https://api.semanticscholar.org"

// SemanticScholar queries the Semantic Scholar graph API.
type SemanticScholar struct {
	client  *httpclient.Client
	baseURL string
}

// NewSemanticScholar creates the adapter and registers its token bucket.
func NewSemanticScholar(client *httpclient.Client, rps float64) *SemanticScholar {
	client.RegisterLimiter(router.AdapterSemanticScholar, rps)
	return &SemanticScholar{client: client, baseURL: semanticBaseURL}
}

func (s *SemanticScholar) Name() string { return router.AdapterSemanticScholar }

type semanticResponse struct {
	Data []semanticPaper `json:"data"`
}

type semanticPaper struct {
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Venue   string `json:"venue"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ExternalIDs struct {
		DOI string `json:"DOI"`
	} `json:"externalIds"`
	PublicationTypes []string `json:"publicationTypes"`
	Abstract         string   `json:"abstract"`
	URL              string   `json:"url"`
	CitationCount    int      `json:"citationCount"`
	Journal          struct {
		Name   string `json:"name"`
		Volume string `json:"volume"`
		Pages  string `json:"pages"`
	} `json:"journal"`
}

// Search implements Adapter.
func (s *SemanticScholar) Search(ctx context.Context, query string, max int) ([]*citation.Citation, error) {
	fields := "title,year,venue,authors,externalIds,publicationTypes,abstract,url,citationCount,journal"
	u := fmt.Sprintf("%s/graph/v1/paper/search?query=%s&limit=%d&fields=%s",
		s.baseURL, url.QueryEscape(query), max, fields)

	body, err := s.client.GetJSON(ctx, s.Name(), u)
	if err != nil {
		if httpclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var resp semanticResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse semantic scholar response: %w", err)
	}

	out := make([]*citation.Citation, 0, len(resp.Data))
	for _, p := range resp.Data {
		if cit := s.normalize(p); cit != nil {
			out = append(out, cit)
		}
	}
	logging.Sources("semanticscholar: %d/%d usable results for %q", len(out), len(resp.Data), query)
	return out, nil
}

func (s *SemanticScholar) normalize(p semanticPaper) *citation.Citation {
	if strings.TrimSpace(p.Title) == "" || p.Year == 0 {
		return nil
	}
	authors := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		authors = append(authors, a.Name)
	}
	authors = CleanAuthors(authors)
	if len(authors) == 0 {
		return nil
	}

	cit := &citation.Citation{
		Authors:    authors,
		Year:       p.Year,
		Title:      p.Title,
		SourceType: semanticSourceType(p.PublicationTypes, p.Venue),
		Journal:    p.Journal.Name,
		Volume:     p.Journal.Volume,
		Pages:      p.Journal.Pages,
		DOI:        p.ExternalIDs.DOI,
		URL:        p.URL,
		Abstract:   p.Abstract,
		APISource:  s.Name(),
	}
	if cit.Journal == "" {
		cit.Journal = p.Venue
	}
	cit.Confidence = Score(cit, p.CitationCount)
	return cit
}

// semanticSourceType maps publication types, falling back to venue keyword
// inference when the catalog omits them.
func semanticSourceType(types []string, venue string) citation.SourceType {
	for _, t := range types {
		switch t {
		case "JournalArticle", "Review":
			return citation.SourceJournal
		case "Conference":
			return citation.SourceConference
		case "Book", "BookSection":
			return citation.SourceBook
		}
	}
	v := strings.ToLower(venue)
	switch {
	case strings.Contains(v, "conference"), strings.Contains(v, "proceedings"),
		strings.Contains(v, "symposium"), strings.Contains(v, "workshop"):
		return citation.SourceConference
	case strings.Contains(v, "journal"), strings.Contains(v, "transactions"),
		strings.Contains(v, "letters"), strings.Contains(v, "review"):
		return citation.SourceJournal
	default:
		return citation.SourceWebsite
	}
}
