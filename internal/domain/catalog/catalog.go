// Package catalog holds the read-only reference table of known herbs.
//
// A Catalog is immutable after construction and safe to share between
// goroutines without locking. Entry order is significant: it is the class
// order the classifier is built against.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

//go:embed herbs.toml
var embedded []byte

// Entry is one reference record.
type Entry struct {
	ID             string   `toml:"id" json:"id"`
	Name           string   `toml:"name" json:"name"`
	ScientificName string   `toml:"scientific_name" json:"scientific_name"`
	Properties     string   `toml:"properties" json:"properties"`
	Functions      []string `toml:"functions" json:"functions"`
	Usage          string   `toml:"usage" json:"usage"`
	Cautions       []string `toml:"cautions" json:"cautions"`
	Image          string   `toml:"image" json:"image"`
	Description    string   `toml:"description" json:"description"`
	Category       string   `toml:"category" json:"category"`
}

type document struct {
	Herbs []Entry `toml:"herb"`
}

// Catalog is an ordered, immutable set of entries.
type Catalog struct {
	entries []Entry
	index   map[string]int
}

// New builds a catalog. Identifiers must be non-empty and unique.
func New(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalid)
	}
	c := &Catalog{
		entries: make([]Entry, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has empty id", ErrInvalid, i)
		}
		if _, dup := c.index[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalid, e.ID)
		}
		c.index[e.ID] = i
		c.entries[i] = cloneEntry(e)
	}
	return c, nil
}

// Parse decodes a TOML document of [[herb]] tables.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return New(doc.Herbs)
}

// LoadFile reads a catalog from a TOML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the embedded catalog, parsed once.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(embedded)
	})
	return defaultCatalog, defaultErr
}

// MustDefault is Default for callers that cannot proceed without a catalog.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// At returns the entry at position i.
func (c *Catalog) At(i int) Entry { return cloneEntry(c.entries[i]) }

// Entries returns a copy of all entries in catalog order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

// Index returns the position of id, or -1.
func (c *Catalog) Index(id string) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return -1
}

// Lookup returns the entry with the given identifier.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	i, ok := c.index[id]
	if !ok {
		return Entry{}, false
	}
	return cloneEntry(c.entries[i]), true
}

// Get is Lookup returning ErrNotFound.
func (c *Catalog) Get(id string) (Entry, error) {
	e, ok := c.Lookup(id)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return e, nil
}

// Search filters the catalog by a free-text query. A blank query returns
// every entry. Scientific names match case-insensitively; name, function
// tags and category match as plain substrings.
func (c *Catalog) Search(query string) []Entry {
	if strings.TrimSpace(query) == "" {
		return c.Entries()
	}
	lower := strings.ToLower(query)
	var out []Entry
	for _, e := range c.entries {
		if e.matches(query, lower) {
			out = append(out, cloneEntry(e))
		}
	}
	return out
}

func (e Entry) matches(query, lower string) bool {
	if strings.Contains(e.Name, query) ||
		strings.Contains(strings.ToLower(e.ScientificName), lower) ||
		strings.Contains(e.Category, query) {
		return true
	}
	for _, f := range e.Functions {
		if strings.Contains(f, query) {
			return true
		}
	}
	return false
}

func cloneEntry(e Entry) Entry {
	e.Functions = append([]string(nil), e.Functions...)
	e.Cautions = append([]string(nil), e.Cautions...)
	return e
}
