package citation

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"citescout/internal/logging"
)

// Metadata describes the database as a whole.
type Metadata struct {
	TotalCitations int           `json:"total_citations"`
	CitationStyle  CitationStyle `json:"citation_style"`
	DraftLanguage  string        `json:"draft_language"`
	ExtractedDate  string        `json:"extracted_date"`
}

// Database is the typed citation collection. It enforces ID uniqueness and
// keeps total_citations in sync with the map. A run has a single writer
// (orchestrator or compiler, never both at once); readers take a Snapshot.
type Database struct {
	mu        sync.RWMutex
	citations map[string]*Citation
	meta      Metadata
}

// NewDatabase creates an empty database.
func NewDatabase(style CitationStyle, language string) *Database {
	if style == "" {
		style = StyleAPA7
	}
	if language == "" {
		language = "en"
	}
	return &Database{
		citations: make(map[string]*Citation),
		meta: Metadata{
			CitationStyle: style,
			DraftLanguage: language,
			ExtractedDate: time.Now().Format("2006-01-02"),
		},
	}
}

// Len returns the number of citations.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.citations)
}

// Metadata returns a copy of the database metadata.
func (db *Database) Metadata() Metadata {
	db.mu.RLock()
	defer db.mu.RUnlock()
	m := db.meta
	m.TotalCitations = len(db.citations)
	return m
}

// NextID allocates the next citation ID: cite_{max+1} zero-padded, or
// cite_001 for an empty database. Allocation does not reserve the ID; the
// single-writer discipline makes reservation unnecessary.
func (db *Database) NextID() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.nextIDLocked()
}

func (db *Database) nextIDLocked() string {
	max := 0
	for id := range db.citations {
		if n := IDNumber(id); n > max {
			max = n
		}
	}
	return FormatID(max + 1)
}

// Insert adds a citation. An empty ID is assigned automatically. Inserting
// a duplicate ID or an invalid citation is an error.
func (db *Database) Insert(c *Citation) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c.ID == "" {
		c.ID = db.nextIDLocked()
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if _, exists := db.citations[c.ID]; exists {
		return fmt.Errorf("duplicate citation id %s", c.ID)
	}
	db.citations[c.ID] = c
	db.meta.TotalCitations = len(db.citations)
	return nil
}

// Get returns the citation with the given ID.
func (db *Database) Get(id string) (*Citation, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.citations[id]
	return c, ok
}

// Update replaces an existing citation's record under the same ID.
func (db *Database) Update(c *Citation) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.citations[c.ID]; !exists {
		return fmt.Errorf("citation %s not found", c.ID)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	db.citations[c.ID] = c
	return nil
}

// RemoveWhere deletes all citations matching pred and returns the removed
// IDs in ascending order.
func (db *Database) RemoveWhere(pred func(*Citation) bool) []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	var removed []string
	for id, c := range db.citations {
		if pred(c) {
			delete(db.citations, id)
			removed = append(removed, id)
		}
	}
	db.meta.TotalCitations = len(db.citations)
	sort.Slice(removed, func(i, j int) bool {
		return IDNumber(removed[i]) < IDNumber(removed[j])
	})
	return removed
}

// Snapshot returns all citations sorted by ID. The slice holds clones, so
// readers never observe writer mutations.
func (db *Database) Snapshot() []*Citation {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]*Citation, 0, len(db.citations))
	for _, c := range db.citations {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return IDNumber(out[i].ID) < IDNumber(out[j].ID)
	})
	return out
}

// Validate checks every citation and the metadata invariants.
func (db *Database) Validate() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for id, c := range db.citations {
		if c.ID != id {
			return fmt.Errorf("citation stored under %s carries id %s", id, c.ID)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if db.meta.TotalCitations != len(db.citations) {
		return fmt.Errorf("total_citations %d does not match %d stored citations",
			db.meta.TotalCitations, len(db.citations))
	}
	return nil
}

// fileLayout is the persisted JSON shape.
type fileLayout struct {
	Citations []*Citation `json:"citations"`
	Metadata  Metadata    `json:"metadata"`
}

// MarshalJSON serializes the database in a stable layout: citations sorted
// by ID, two-space indentation handled by the caller via json.MarshalIndent.
func (db *Database) MarshalJSON() ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	layout := fileLayout{
		Citations: make([]*Citation, 0, len(db.citations)),
		Metadata:  db.meta,
	}
	layout.Metadata.TotalCitations = len(db.citations)
	for _, c := range db.citations {
		layout.Citations = append(layout.Citations, c)
	}
	sort.Slice(layout.Citations, func(i, j int) bool {
		return IDNumber(layout.Citations[i].ID) < IDNumber(layout.Citations[j].ID)
	})
	return json.Marshal(layout)
}

// Save writes the database to path as indented UTF-8 JSON.
func (db *Database) Save(path string) error {
	data, err := db.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize citation database: %w", err)
	}
	var indented json.RawMessage = data
	pretty, err := json.MarshalIndent(indented, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to indent citation database: %w", err)
	}
	if err := os.WriteFile(path, append(pretty, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logging.Store("Saved %d citations to %s", db.Len(), path)
	return nil
}

// Load reads a database from path. A total_citations mismatch is corrected
// with a warning rather than rejected, so hand-edited files stay loadable.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a serialized database.
func Parse(data []byte) (*Database, error) {
	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to parse citation database: %w", err)
	}

	db := &Database{
		citations: make(map[string]*Citation, len(layout.Citations)),
		meta:      layout.Metadata,
	}
	if db.meta.CitationStyle == "" {
		db.meta.CitationStyle = StyleAPA7
	}
	for _, c := range layout.Citations {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := db.citations[c.ID]; dup {
			return nil, fmt.Errorf("duplicate citation id %s in file", c.ID)
		}
		db.citations[c.ID] = c
	}
	if db.meta.TotalCitations != len(db.citations) {
		logging.StoreWarn("total_citations %d corrected to %d",
			db.meta.TotalCitations, len(db.citations))
		db.meta.TotalCitations = len(db.citations)
	}
	return db, nil
}
