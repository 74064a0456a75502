package compile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citescout/internal/citation"
)

func testDB(t *testing.T, style citation.CitationStyle) *citation.Database {
	t.Helper()
	db := citation.NewDatabase(style, "en")

	require.NoError(t, db.Insert(&citation.Citation{
		ID: "cite_001", Authors: []string{"Zimmer, K."}, Year: 2018,
		Title: "Deep Learning Methods", SourceType: citation.SourceJournal,
		Journal: "Journal of Computation", Volume: "12", Issue: "3",
		Pages: "45-67", DOI: "10.1000/jc.2018.12",
	}))
	require.NoError(t, db.Insert(&citation.Citation{
		ID: "cite_002", Authors: []string{"Abel, J.", "Baker, T."}, Year: 2019,
		Title: "Distributed Consensus in Practice", SourceType: citation.SourceJournal,
		Journal: "Systems Review",
	}))
	require.NoError(t, db.Insert(&citation.Citation{
		ID: "cite_003", Authors: []string{"Chen, L.", "Okafor, A.", "Singh, R."},
		Year: 2020, Title: "Edge Inference at Scale", SourceType: citation.SourceBook,
		Publisher: "Novapress",
	}))
	return db
}

type fakeResearcher struct {
	fail bool
	n    int
}

func (f *fakeResearcher) ResearchOne(_ context.Context, topic string) (*citation.Citation, error) {
	if f.fail {
		return nil, errors.New("no results")
	}
	f.n++
	return &citation.Citation{
		Authors:    []string{fmt.Sprintf("Researched%d, A.", f.n)},
		Year:       2021,
		Title:      "Findings on " + topic,
		SourceType: citation.SourceWebsite,
		URL:        fmt.Sprintf("https://example.org/%d", f.n),
	}, nil
}

func TestCompileInTextAPA7(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	cp := New(db, nil)

	res, err := cp.Compile(context.Background(),
		"One {cite_001} two {cite_002} three {cite_003}.")
	require.NoError(t, err)

	assert.Contains(t, res.Text, "(Zimmer, 2018)")
	assert.Contains(t, res.Text, "(Abel & Baker, 2019)")
	assert.Contains(t, res.Text, "(Chen et al., 2020)")
	assert.NotContains(t, res.Text, "{cite_")
	assert.Empty(t, res.MissingIDs)
}

func TestCompileUnknownID(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	cp := New(db, nil)

	res, err := cp.Compile(context.Background(), "See {cite_099} and again {cite_099}.")
	require.NoError(t, err)

	assert.Contains(t, res.Text, "[MISSING: cite_099]")
	assert.Equal(t, []string{"cite_099"}, res.MissingIDs, "reported once")
}

func TestCompileResearchesMissingTopics(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	cp := New(db, &fakeResearcher{})

	text := "A {cite_MISSING:serverless cold starts} B " +
		"{cite_MISSING:wasm sandboxing} A again {cite_MISSING:serverless cold starts}."
	res, err := cp.Compile(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, []string{"serverless cold starts", "wasm sandboxing"},
		res.ResearchedTopics, "unique topics in discovery order")

	// New IDs continue after the highest existing one, and every occurrence
	// of a topic resolves to the same record.
	_, ok := db.Get("cite_004")
	assert.True(t, ok)
	_, ok = db.Get("cite_005")
	assert.True(t, ok)
	assert.NotContains(t, res.Text, "cite_MISSING")
	assert.Equal(t, 2, strings.Count(res.Text, "(Researched1, 2021)"))
}

func TestCompileResearchFailure(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	cp := New(db, &fakeResearcher{fail: true})

	res, err := cp.Compile(context.Background(), "X {cite_MISSING:unfindable topic}.")
	require.NoError(t, err)

	assert.Contains(t, res.Text, "[MISSING: unfindable topic]")
	assert.Equal(t, []string{"unfindable topic"}, res.FailedTopics)
	assert.Equal(t, 3, db.Len(), "nothing inserted")
}

func TestCompileReferencesAlphabetizedAPA7(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	cp := New(db, nil)

	res, err := cp.Compile(context.Background(), "First {cite_001}, then {cite_002}.")
	require.NoError(t, err)

	assert.Contains(t, res.Text, "## References")
	abel := strings.Index(res.Text, "Abel, J., & Baker, T. (2019).")
	zimmer := strings.Index(res.Text, "Zimmer, K. (2018).")
	require.Greater(t, abel, 0)
	require.Greater(t, zimmer, 0)
	assert.Less(t, abel, zimmer, "alphabetical by first author, not cite order")

	// Uncited records stay out of the list.
	assert.NotContains(t, res.Text, "Chen, L.")
}

func TestCompileIEEE(t *testing.T) {
	db := testDB(t, citation.StyleIEEE)
	cp := New(db, nil)

	res, err := cp.Compile(context.Background(), "First {cite_003}, then {cite_001}.")
	require.NoError(t, err)

	assert.Contains(t, res.Text, "First [3], then [1].")

	// IEEE reference list keeps cite order.
	third := strings.Index(res.Text, "[3] Chen, L.")
	first := strings.Index(res.Text, "[1] Zimmer, K.")
	require.Greater(t, third, 0)
	require.Greater(t, first, 0)
	assert.Less(t, third, first)
}

func TestCompileReplacesPlaceholderSection(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	cp := New(db, nil)

	text := "Intro {cite_001}.\n\n## References\n\n[References to be completed]\n"
	res, err := cp.Compile(context.Background(), text)
	require.NoError(t, err)

	assert.NotContains(t, res.Text, "[References to be completed]")
	assert.Equal(t, 1, strings.Count(res.Text, "## References"), "header not duplicated")
	assert.Contains(t, res.Text, "Zimmer, K. (2018).")
}

func TestCompileLeavesRealReferenceSection(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	cp := New(db, nil)

	text := "Intro {cite_001}.\n\n## References\n\n" +
		"Someone, A. (2015). Prior work that is already listed. https://doi.org/10.5/x\n"
	res, err := cp.Compile(context.Background(), text)
	require.NoError(t, err)

	assert.Contains(t, res.Text, "(Zimmer, 2018)", "in-text substitution still happens")
	assert.Contains(t, res.Text, "Prior work that is already listed")
	assert.NotContains(t, res.Text, "Zimmer, K. (2018).",
		"existing hand-written list is left alone")
}

func TestCompileIdempotent(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	cp := New(db, nil)

	first, err := cp.Compile(context.Background(), "Body {cite_001} and {cite_002}.")
	require.NoError(t, err)

	second, err := cp.Compile(context.Background(), first.Text)
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
}

func TestFormatReferenceAPA7Journal(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	c, ok := db.Get("cite_001")
	require.True(t, ok)

	got := FormatReference(c, citation.StyleAPA7)
	assert.Equal(t,
		"Zimmer, K. (2018). Deep Learning Methods. *Journal of Computation*, *12*(3), 45-67. https://doi.org/10.1000/jc.2018.12",
		got)
}

func TestFormatReferenceAPA7Book(t *testing.T) {
	db := testDB(t, citation.StyleAPA7)
	c, ok := db.Get("cite_003")
	require.True(t, ok)

	got := FormatReference(c, citation.StyleAPA7)
	assert.Equal(t,
		"Chen, L., Okafor, A., & Singh, R. (2020). *Edge Inference at Scale*. Novapress.",
		got)
}

func TestAPAAuthorsTruncation(t *testing.T) {
	authors := make([]string, 8)
	for i := range authors {
		authors[i] = fmt.Sprintf("Name%d, A.", i+1)
	}
	got := apaAuthors(authors)
	assert.Equal(t,
		"Name1, A., Name2, A., Name3, A., Name4, A., Name5, A., Name6, A., ... Name8, A.",
		got)
	assert.NotContains(t, got, "Name7")
}

func TestInTextStyles(t *testing.T) {
	c := &citation.Citation{
		ID: "cite_042", Authors: []string{"Doe, Jane", "Roe, Riley"}, Year: 2017,
	}
	assert.Equal(t, "(Doe & Roe, 2017)", InText(c, citation.StyleAPA7))
	assert.Equal(t, "(Doe & Roe, 2017)", InText(c, citation.StyleChicago))
	assert.Equal(t, "(Doe and Roe)", InText(c, citation.StyleMLA))
	assert.Equal(t, "[42]", InText(c, citation.StyleIEEE))
}
