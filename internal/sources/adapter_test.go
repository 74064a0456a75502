package sources

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

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

func TestSaneAuthor(t *testing.T) {
	sane := []string{
		"Smith, John",
		"Dijkstra, E. W.",
		"OECD",
		"World Health Organization",
		"García Márquez, Gabriel",
	}
	for _, name := range sane {
		assert.True(t, SaneAuthor(name), "expected sane: %q", name)
	}

	insane := []string{
		"",
		"   ",
		"Unknown",
		"editor",
		"et al.",
		"mckinsey.com",
		"www.example.org",
		"J. R. R.",
		"A. B. C. D. E. F. G.",
		"Smith Smith",
	}
	for _, name := range insane {
		assert.False(t, SaneAuthor(name), "expected rejected: %q", name)
	}
}

func TestCleanAuthors(t *testing.T) {
	got := CleanAuthors([]string{"Smith, John", "unknown", "ieee.org", " Doe, Jane "})
	assert.Equal(t, []string{"Smith, John", "Doe, Jane"}, got)
}

func TestScore(t *testing.T) {
	weak := &citation.Citation{Authors: make([]string, 15)}
	assert.InDelta(t, 0.4, Score(weak, -1), 0.001)

	rich := &citation.Citation{
		Authors:   []string{"A", "B"},
		Journal:   "Nature",
		Publisher: "Springer",
		DOI:       "10.1/x",
	}
	assert.InDelta(t, 0.85, Score(rich, 0), 0.001)
	assert.InDelta(t, 0.95, Score(rich, 500), 0.001)
}

func TestExtractDOI(t *testing.T) {
	assert.Equal(t, "10.1145/3292500.3330701",
		ExtractDOI("https://dl.acm.org/doi/10.1145/3292500.3330701"))
	assert.Equal(t, "", ExtractDOI("https://example.com/article"))
}

func TestExtractYear(t *testing.T) {
	assert.Equal(t, 2022, ExtractYear("https://example.com/2022/06/report"))
	assert.Equal(t, 2019, ExtractYear("Published in 2019, this study..."))
	assert.Equal(t, 0, ExtractYear("page 1984 of the proceedings"), "pre-2000 years rejected")
	assert.Equal(t, 0, ExtractYear("no year here"))

	future := fmt.Sprintf("report %d", time.Now().Year()+3)
	assert.Equal(t, 0, ExtractYear(future), "far future rejected")
}

func TestBareDomain(t *testing.T) {
	assert.True(t, BareDomain("mckinsey.com"))
	assert.True(t, BareDomain("sub.example.org"))
	assert.False(t, BareDomain("The McKinsey Report"))
	assert.False(t, BareDomain("https://mckinsey.com"))
}

func TestRegistry(t *testing.T) {
	cr := NewCrossref(testClient(), 10)
	reg := NewRegistry(cr)

	got, ok := reg.Get("crossref")
	assert.True(t, ok)
	assert.Equal(t, cr, got)

	_, ok = reg.Get("nope")
	assert.False(t, ok)
	assert.Equal(t, []string{"crossref"}, reg.Names())
}
