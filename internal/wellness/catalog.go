package wellness

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"emovoice/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Activities []domain.WellnessSuggestion `yaml:"activities"`
}

// Catalog is the immutable set of wellness activities, keyed by activity key.
// Lookups hand out copies so callers can never mutate a shared entry.
type Catalog struct {
	entries map[string]domain.WellnessSuggestion
	order   []string
}

// DefaultCatalog returns the built-in activity catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("wellness: built-in catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode wellness catalog: %v", domain.ErrInvalidConfig, err)
	}
	c := &Catalog{entries: make(map[string]domain.WellnessSuggestion, len(f.Activities))}
	for _, a := range f.Activities {
		if err := c.add(a); err != nil {
			return nil, err
		}
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("%w: wellness catalog has no activities", domain.ErrInvalidConfig)
	}
	return c, nil
}

// LoadCatalog returns the built-in catalog with the entries of the YAML file
// at path layered on top. An entry with an existing key replaces it; new keys
// are appended. An empty path returns the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	base := DefaultCatalog()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wellness catalog: %w", err)
	}
	defer f.Close()

	override, err := ParseCatalog(f)
	if err != nil {
		return nil, err
	}
	for _, key := range override.order {
		if _, ok := base.entries[key]; !ok {
			base.order = append(base.order, key)
		}
		base.entries[key] = override.entries[key]
	}
	return base, nil
}

func (c *Catalog) add(a domain.WellnessSuggestion) error {
	a.Key = strings.TrimSpace(a.Key)
	if a.Key == "" {
		return fmt.Errorf("%w: wellness activity without key", domain.ErrInvalidConfig)
	}
	if _, dup := c.entries[a.Key]; dup {
		return fmt.Errorf("%w: duplicate wellness activity %q", domain.ErrInvalidConfig, a.Key)
	}
	if strings.TrimSpace(a.Title) == "" || len(a.Instructions) == 0 {
		return fmt.Errorf("%w: wellness activity %q needs a title and instructions", domain.ErrInvalidConfig, a.Key)
	}
	if a.Module == "" {
		a.Module = domain.WellnessModule(a.Key)
	}
	c.entries[a.Key] = a
	c.order = append(c.order, a.Key)
	return nil
}

// Get returns a copy of the activity stored under key.
func (c *Catalog) Get(key string) (domain.WellnessSuggestion, bool) {
	a, ok := c.entries[key]
	if !ok {
		return domain.WellnessSuggestion{}, false
	}
	a.Instructions = append([]string(nil), a.Instructions...)
	return a, true
}

func (c *Catalog) Has(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Keys returns activity keys in catalog order.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.order...)
}

// All returns copies of every activity in catalog order.
func (c *Catalog) All() []domain.WellnessSuggestion {
	out := make([]domain.WellnessSuggestion, 0, len(c.order))
	for _, key := range c.order {
		a, _ := c.Get(key)
		out = append(out, a)
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.order)
}
