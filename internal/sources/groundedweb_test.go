package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citescout/internal/citation"
)

type fakeGrounded struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGrounded) GroundedSearch(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func TestGroundedWebSearch(t *testing.T) {
	fake := &fakeGrounded{response: `[
		{"title": "The State of AI in 2023", "authors": ["McKinsey Global Institute"],
		 "year": 2023, "url": "https://www.mckinsey.com/ai-report",
		 "publisher": "McKinsey", "source_type": "report"},
		{"title": "mckinsey.com", "authors": ["mckinsey.com"],
		 "url": "https://www.mckinsey.com/weak-page", "source_type": "website"}
	]`}
	gw := NewGroundedWeb(fake, 100)

	cits, err := gw.Search(context.Background(), "ai adoption", 5)
	require.NoError(t, err)
	require.Len(t, cits, 2)

	good := cits[0]
	assert.Equal(t, "The State of AI in 2023", good.Title)
	assert.Equal(t, []string{"McKinsey Global Institute"}, good.Authors)
	assert.Equal(t, citation.SourceReport, good.SourceType)
	assert.Equal(t, "groundedweb", good.APISource)
	assert.False(t, good.NeedsEnrichment)

	// Bare-domain title and author: kept but flagged for enrichment, with
	// the host standing in for the missing author.
	weak := cits[1]
	assert.True(t, weak.NeedsEnrichment)
	assert.Equal(t, []string{"mckinsey.com"}, weak.Authors)
	assert.Equal(t, time.Now().Year(), weak.Year, "missing year placeheld with current year")
}

func TestGroundedWebDropsUselessRecords(t *testing.T) {
	fake := &fakeGrounded{response: `[
		{"title": "", "authors": ["A"], "year": 2020},
		{"title": "example.com", "authors": ["example.com"], "year": 2020}
	]`}
	gw := NewGroundedWeb(fake, 100)

	cits, err := gw.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, cits, "no title and no URL means nothing to enrich")
}

func TestGroundedWebFencedResponse(t *testing.T) {
	fake := &fakeGrounded{response: "Here are the results:\n```json\n" +
		`[{"title": "Solid Paper", "authors": ["Doe, Jane"], "year": 2021,
		   "url": "https://journal.example/paper", "source_type": "journal"}]` +
		"\n```"}
	gw := NewGroundedWeb(fake, 100)

	cits, err := gw.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, cits, 1)
	assert.Equal(t, "Solid Paper", cits[0].Title)
}

func TestGroundedWebPropagatesErrors(t *testing.T) {
	fake := &fakeGrounded{err: errors.New("quota exceeded")}
	gw := NewGroundedWeb(fake, 100)

	_, err := gw.Search(context.Background(), "q", 5)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestGroundedWebGarbageResponse(t *testing.T) {
	fake := &fakeGrounded{response: "I could not find anything."}
	gw := NewGroundedWeb(fake, 100)

	_, err := gw.Search(context.Background(), "q", 5)
	assert.Error(t, err)
}

func TestGroundedWebRespectsMax(t *testing.T) {
	fake := &fakeGrounded{response: `[
		{"title": "One", "authors": ["A"], "year": 2020, "url": "https://a.example/x"},
		{"title": "Two", "authors": ["B"], "year": 2020, "url": "https://b.example/x"},
		{"title": "Three", "authors": ["C"], "year": 2020, "url": "https://c.example/x"}
	]`}
	gw := NewGroundedWeb(fake, 100)

	cits, err := gw.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Len(t, cits, 2)
}
