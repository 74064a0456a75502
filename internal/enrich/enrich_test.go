package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citescout/internal/citation"
	"citescout/internal/config"
	"citescout/internal/httpclient"
)

func testClient() *httpclient.Client {
	return httpclient.New(config.HTTPConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Timeout:      5 * time.Second,
	}, nil)
}

func weakCitation(url string) *citation.Citation {
	return &citation.Citation{
		ID:              "cite_001",
		Authors:         []string{"mckinsey.com"},
		Year:            time.Now().Year(),
		Title:           "mckinsey.com",
		SourceType:      citation.SourceWebsite,
		URL:             url,
		APISource:       "groundedweb",
		NeedsEnrichment: true,
	}
}

func TestNeedsEnrichment(t *testing.T) {
	t.Run("flagged record with url", func(t *testing.T) {
		assert.True(t, NeedsEnrichment(weakCitation("https://x.example/a")))
	})

	t.Run("flagged record without url", func(t *testing.T) {
		c := weakCitation("")
		assert.False(t, NeedsEnrichment(c), "nothing to scrape")
	})

	t.Run("strong source untouched", func(t *testing.T) {
		c := weakCitation("https://x.example/a")
		c.NeedsEnrichment = false
		c.APISource = "crossref"
		assert.False(t, NeedsEnrichment(c))
	})

	t.Run("weak source with triggers", func(t *testing.T) {
		c := &citation.Citation{
			Authors:   []string{"Doe, Jane"},
			Year:      time.Now().Year(), // placeholder year trigger
			Title:     "A Fine Title",
			URL:       "https://x.example/a",
			APISource: "serp",
		}
		assert.True(t, NeedsEnrichment(c))

		c.Year = 2019
		assert.False(t, NeedsEnrichment(c), "no trigger left")
	})
}

func TestEnrichOpenGraph(t *testing.T) {
	page := `<html><head>
		<meta property="og:title" content="The State of AI in 2022">
		<meta property="article:published_time" content="2022-06-04T10:00:00Z">
		<meta name="author" content="Jones, Patricia">
	</head><body></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	c := weakCitation(srv.URL + "/report")
	e := New(testClient())
	require.True(t, e.Enrich(context.Background(), c))

	assert.Equal(t, "The State of AI in 2022", c.Title)
	assert.Equal(t, 2022, c.Year)
	assert.Equal(t, []string{"Jones, Patricia"}, c.Authors)
	assert.Equal(t, "groundedweb", c.APISource, "api_source retained")
	assert.False(t, c.NeedsEnrichment)
}

func TestEnrichScrapeFailureLeavesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := weakCitation(srv.URL)
	before := *c
	e := New(testClient())
	assert.False(t, e.Enrich(context.Background(), c))
	assert.Equal(t, before.Title, c.Title)
	assert.True(t, c.NeedsEnrichment)
}

func TestParsePageJSONLD(t *testing.T) {
	page := `<html><head><script type="application/ld+json">
	{"headline": "Quantum Leap", "datePublished": "2021-03-01",
	 "author": [{"name": "Chen, Li"}, {"name": "Okafor, Ada"}]}
	</script></head><body></body></html>`

	meta := ParsePage(page, "https://example.org/post")
	assert.Equal(t, "Quantum Leap", meta.Title)
	assert.Equal(t, 2021, meta.Year)
	assert.Equal(t, []string{"Chen, Li", "Okafor, Ada"}, meta.Authors)
}

func TestParsePageJSONLDAuthorShapes(t *testing.T) {
	t.Run("string author", func(t *testing.T) {
		meta := ParsePage(`<script type="application/ld+json">
			{"author": "Singh, Ravi"}</script>`, "")
		assert.Equal(t, []string{"Singh, Ravi"}, meta.Authors)
	})

	t.Run("object author", func(t *testing.T) {
		meta := ParsePage(`<script type="application/ld+json">
			{"author": {"name": "Singh, Ravi"}}</script>`, "")
		assert.Equal(t, []string{"Singh, Ravi"}, meta.Authors)
	})
}

func TestParsePageTimeElement(t *testing.T) {
	page := `<html><body><time datetime="2019-11-20">Nov 20</time></body></html>`
	meta := ParsePage(page, "")
	assert.Equal(t, 2019, meta.Year)
}

func TestParsePageURLYearFallback(t *testing.T) {
	meta := ParsePage("<html></html>", "https://blog.example.com/2020/05/post")
	assert.Equal(t, 2020, meta.Year)
}

func TestParsePageStrategyOrder(t *testing.T) {
	// Meta pubdate wins over <time> and the URL year.
	page := `<html><head>
		<meta name="pubdate" content="2018-01-01">
	</head><body><time datetime="2023-01-01">x</time></body></html>`
	meta := ParsePage(page, "https://example.com/2024/x")
	assert.Equal(t, 2018, meta.Year)
}

func TestParsePageDiscardsJunkAuthors(t *testing.T) {
	page := `<html><head>
		<meta name="author" content="example.com">
		<meta name="author" content="Unknown">
		<meta name="author" content="Editor">
		<meta name="author" content="Real Person">
	</head></html>`
	meta := ParsePage(page, "https://www.example.com/a")
	assert.Equal(t, []string{"Real Person"}, meta.Authors)
}

func TestApplyNeverDowngrades(t *testing.T) {
	c := &citation.Citation{
		ID:      "cite_001",
		Authors: []string{"Doe, Jane"},
		Year:    2015,
		Title:   "A Proper Title",
	}
	meta := PageMeta{Title: "Scraped Title", Authors: []string{"Other, Person"}, Year: 2020}
	assert.False(t, meta.Apply(c))
	assert.Equal(t, "A Proper Title", c.Title)
	assert.Equal(t, []string{"Doe, Jane"}, c.Authors)
	assert.Equal(t, 2015, c.Year)
}

func TestEnrichAll(t *testing.T) {
	page := `<html><head><meta property="og:title" content="Fixed Title">
		<meta name="pubdate" content="2021-07-07"></head></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	weak := weakCitation(srv.URL)
	strong := &citation.Citation{
		ID: "cite_002", Authors: []string{"Doe, Jane"}, Year: 2018,
		Title: "Good", SourceType: citation.SourceJournal, APISource: "crossref",
	}
	e := New(testClient())
	n := e.EnrichAll(context.Background(), []*citation.Citation{weak, strong})
	assert.Equal(t, 1, n)
	assert.Equal(t, "Fixed Title", weak.Title)
	assert.Equal(t, 2021, weak.Year)
}
