package citation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCitation(id string) *Citation {
	return &Citation{
		ID:         id,
		Authors:    []string{"Dijkstra, E. W."},
		Year:       1968,
		Title:      "Go To Statement Considered Harmful",
		SourceType: SourceJournal,
		Journal:    "Communications of the ACM",
	}
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("cite_001"))
	assert.True(t, ValidID("cite_042"))
	assert.True(t, ValidID("cite_1000")) // four digits allowed past 999

	assert.False(t, ValidID("cite_1"))
	assert.False(t, ValidID("cite_01"))
	assert.False(t, ValidID("CITE_001"))
	assert.False(t, ValidID("cite_001 "))
	assert.False(t, ValidID("ref_001"))
	assert.False(t, ValidID(""))
}

func TestIDNumberAndFormat(t *testing.T) {
	assert.Equal(t, 1, IDNumber("cite_001"))
	assert.Equal(t, 999, IDNumber("cite_999"))
	assert.Equal(t, 1000, IDNumber("cite_1000"))
	assert.Equal(t, -1, IDNumber("bogus"))

	assert.Equal(t, "cite_001", FormatID(1))
	assert.Equal(t, "cite_042", FormatID(42))
	assert.Equal(t, "cite_1000", FormatID(1000))
}

func TestCitationValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validCitation("cite_001").Validate())
	})

	t.Run("bad id", func(t *testing.T) {
		c := validCitation("cite_1")
		assert.Error(t, c.Validate())
	})

	t.Run("no authors", func(t *testing.T) {
		c := validCitation("cite_001")
		c.Authors = nil
		assert.Error(t, c.Validate())
	})

	t.Run("year bounds", func(t *testing.T) {
		c := validCitation("cite_001")
		c.Year = 1899
		assert.Error(t, c.Validate())

		c.Year = 1900
		assert.NoError(t, c.Validate())

		// In-press publications may carry a near-future year.
		c.Year = time.Now().Year() + 2
		assert.NoError(t, c.Validate())

		c.Year = time.Now().Year() + 3
		assert.Error(t, c.Validate())
	})

	t.Run("empty title", func(t *testing.T) {
		c := validCitation("cite_001")
		c.Title = "   "
		assert.Error(t, c.Validate())
	})

	t.Run("unknown source type", func(t *testing.T) {
		c := validCitation("cite_001")
		c.SourceType = "podcast"
		assert.Error(t, c.Validate())
	})

	t.Run("doi prefix", func(t *testing.T) {
		c := validCitation("cite_001")
		c.DOI = "11.1234/x"
		assert.Error(t, c.Validate())

		c.DOI = "10.1145/362929.362947"
		assert.NoError(t, c.Validate())
	})
}

func TestCompletenessScore(t *testing.T) {
	bare := &Citation{
		ID:         "cite_001",
		Authors:    []string{"A"},
		Year:       2020,
		Title:      "t",
		SourceType: SourceWebsite,
	}
	assert.Equal(t, 0, bare.CompletenessScore())

	rich := validCitation("cite_002")
	rich.DOI = "10.1/x"
	rich.URL = "https://example.org"
	rich.APISource = "crossref"
	// journal + doi + url = 3, crossref bonus = 3
	assert.Equal(t, 6, rich.CompletenessScore())

	web := rich.Clone()
	web.APISource = "groundedweb"
	assert.Equal(t, 3, web.CompletenessScore())
}

func TestClone(t *testing.T) {
	c := validCitation("cite_001")
	cp := c.Clone()
	require.Equal(t, c, cp)

	cp.Authors[0] = "changed"
	assert.Equal(t, "Dijkstra, E. W.", c.Authors[0])
}
