// Package dedup merges duplicate citations. Matching runs through a key
// hierarchy (DOI, then URL, then author+year+title) with a title-similarity
// check for near-duplicates. The survivor of each group is the record with
// the richest metadata; ties keep the lowest ID.
package dedup

import (
	"sort"
	"strconv"
	"strings"

	"citescout/internal/citation"
	"citescout/internal/logging"
)

// Similarity thresholds for normalized titles.
const (
	exactThreshold     = 0.9 // above: treated as the same work
	potentialThreshold = 0.7 // above: reported, not merged
)

// Result describes one dedup pass.
type Result struct {
	Kept    []*citation.Citation
	Removed []string // IDs of merged-away records
	// Potential pairs are near-matches (0.7..0.9 title similarity) that
	// were NOT merged; surfaced for the report.
	Potential [][2]string
}

// Deduplicate merges duplicates in cits. Input order does not affect the
// kept set; ties between equally complete records keep the lowest ID.
func Deduplicate(cits []*citation.Citation) *Result {
	// Work on a stable ID-sorted copy so grouping is order-independent.
	sorted := make([]*citation.Citation, len(cits))
	copy(sorted, cits)
	sort.Slice(sorted, func(i, j int) bool {
		return citation.IDNumber(sorted[i].ID) < citation.IDNumber(sorted[j].ID)
	})

	groups := groupDuplicates(sorted)

	res := &Result{}
	for _, group := range groups {
		keep := richest(group)
		res.Kept = append(res.Kept, keep)
		for _, c := range group {
			if c.ID != keep.ID {
				res.Removed = append(res.Removed, c.ID)
				logging.Dedup("Merged %s into %s (%q)", c.ID, keep.ID, keep.Title)
			}
		}
	}
	sort.Slice(res.Kept, func(i, j int) bool {
		return citation.IDNumber(res.Kept[i].ID) < citation.IDNumber(res.Kept[j].ID)
	})
	sort.Strings(res.Removed)

	res.Potential = findPotentials(res.Kept)
	if len(res.Removed) > 0 || len(res.Potential) > 0 {
		logging.Dedup("Dedup: %d kept, %d merged, %d potential pairs",
			len(res.Kept), len(res.Removed), len(res.Potential))
	}
	return res
}

// groupDuplicates partitions citations into duplicate groups via
// union-find over the key hierarchy.
func groupDuplicates(cits []*citation.Citation) [][]*citation.Citation {
	parent := make([]int, len(cits))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	byDOI := make(map[string]int)
	byURL := make(map[string]int)
	byTriple := make(map[string]int)

	for i, c := range cits {
		if doi := NormalizeDOI(c.DOI); doi != "" {
			if j, ok := byDOI[doi]; ok {
				union(j, i)
			} else {
				byDOI[doi] = i
			}
		}
		if u := NormalizeURL(c.URL); u != "" {
			if j, ok := byURL[u]; ok {
				union(j, i)
			} else {
				byURL[u] = i
			}
		}
		key := tripleKey(c)
		if j, ok := byTriple[key]; ok {
			union(j, i)
		} else {
			byTriple[key] = i
		}
	}

	// Near-duplicate titles by the same first author and year.
	for i := range cits {
		for j := i + 1; j < len(cits); j++ {
			a, b := cits[i], cits[j]
			if a.Year != b.Year ||
				!strings.EqualFold(a.FirstAuthor(), b.FirstAuthor()) {
				continue
			}
			if TitleSimilarity(a.Title, b.Title) > exactThreshold {
				union(i, j)
			}
		}
	}

	buckets := make(map[int][]*citation.Citation)
	for i, c := range cits {
		r := find(i)
		buckets[r] = append(buckets[r], c)
	}
	roots := make([]int, 0, len(buckets))
	for r := range buckets {
		roots = append(roots, r)
	}
	sort.Ints(roots)

	groups := make([][]*citation.Citation, 0, len(buckets))
	for _, r := range roots {
		groups = append(groups, buckets[r])
	}
	return groups
}

// richest picks the group survivor: highest completeness score, lowest ID
// on ties.
func richest(group []*citation.Citation) *citation.Citation {
	best := group[0]
	for _, c := range group[1:] {
		bs, cs := best.CompletenessScore(), c.CompletenessScore()
		if cs > bs || (cs == bs && citation.IDNumber(c.ID) < citation.IDNumber(best.ID)) {
			best = c
		}
	}
	return best
}

// findPotentials reports near-match pairs among the kept set.
func findPotentials(kept []*citation.Citation) [][2]string {
	var out [][2]string
	for i := range kept {
		for j := i + 1; j < len(kept); j++ {
			sim := TitleSimilarity(kept[i].Title, kept[j].Title)
			if sim > potentialThreshold && sim <= exactThreshold {
				out = append(out, [2]string{kept[i].ID, kept[j].ID})
			}
		}
	}
	return out
}

// NormalizeDOI lowercases and strips resolver prefixes.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(strings.ToLower(doi))
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return doi
}

// NormalizeURL strips scheme, www., and the trailing slash.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(strings.ToLower(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimSuffix(u, "/")
}

// NormalizeTitle lowercases, drops punctuation, and collapses whitespace.
func NormalizeTitle(t string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(t) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '\t' || r == '-' || r == ':':
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func tripleKey(c *citation.Citation) string {
	return strings.ToLower(c.FirstAuthor()) + "\x00" +
		NormalizeTitle(c.Title) + "\x00" + strconv.Itoa(c.Year)
}

// TitleSimilarity is a token-set Jaccard similarity over normalized
// titles, in [0, 1].
func TitleSimilarity(a, b string) float64 {
	ta := strings.Fields(NormalizeTitle(a))
	tb := strings.Fields(NormalizeTitle(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, w := range ta {
		set[w] = true
	}
	inter := 0
	seen := make(map[string]bool, len(tb))
	for _, w := range tb {
		if seen[w] {
			continue
		}
		seen[w] = true
		if set[w] {
			inter++
		}
	}
	unionSize := len(set) + len(seen) - inter
	return float64(inter) / float64(unionSize)
}
