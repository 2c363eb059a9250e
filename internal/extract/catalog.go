package extract

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// UnknownBrand is the brand given to single-word phrases with no catalog match
const UnknownBrand = "Unknown"

// catalogFile is the on-disk layout of a brand taxonomy
type catalogFile struct {
	Brands map[string][]string `json:"brands" yaml:"brands"`
}

type brandEntry struct {
	brand string
	// key is the lower-case, tokenized form used for matching
	key string
}

// Catalog is an immutable brand taxonomy with a longest-first brand index
type Catalog struct {
	categories map[string][]string
	index      []brandEntry
}

// NewCatalog builds a catalog from a category to brands mapping
func NewCatalog(categories map[string][]string) *Catalog {
	c := &Catalog{categories: make(map[string][]string, len(categories))}

	seen := make(map[string]bool)
	for category, brands := range categories {
		c.categories[category] = append([]string(nil), brands...)
		for _, brand := range brands {
			brand = strings.TrimSpace(brand)
			if brand == "" || seen[brand] {
				continue
			}
			seen[brand] = true
			c.index = append(c.index, brandEntry{
				brand: brand,
				key:   strings.ToLower(tokenize(brand, true)),
			})
		}
	}

	// Longest first so a short brand never shadows a longer one sharing its
	// prefix; ties sort alphabetically to keep segmentation deterministic.
	sort.Slice(c.index, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(c.index[i].brand), utf8.RuneCountInString(c.index[j].brand)
		if li != lj {
			return li > lj
		}
		return c.index[i].brand < c.index[j].brand
	})

	return c
}

// EmptyCatalog returns a catalog with no brands
func EmptyCatalog() *Catalog {
	return NewCatalog(nil)
}

// LoadCatalog reads a brand taxonomy from a JSON or YAML file. A missing or
// malformed file yields an empty catalog so parsing can continue with the
// generic brand split.
func LoadCatalog(path string) *Catalog {
	c, err := readCatalog(path)
	if err != nil {
		slog.Warn("Brand catalog unavailable, using empty catalog", "path", path, "error", err)
		return EmptyCatalog()
	}
	slog.Info("Loaded brand catalog", "path", path, "brands", c.Len())
	return c
}

func readCatalog(path string) (*Catalog, error) {
	if path == "" {
		return nil, fmt.Errorf("no catalog path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var file catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshaling catalog: %w", err)
	}

	return NewCatalog(file.Brands), nil
}

// Len returns the number of distinct brands
func (c *Catalog) Len() int {
	return len(c.index)
}

// Brands returns the distinct brands, longest first
func (c *Catalog) Brands() []string {
	out := make([]string, len(c.index))
	for i, e := range c.index {
		out[i] = e.brand
	}
	return out
}

// Categories returns the category names in sorted order
func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.categories))
	for name := range c.categories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Segment splits a product phrase into brand and item name. The longest
// catalog brand that prefixes the phrase wins and keeps its catalog casing.
// Without a match the first word is taken as the brand, or "Unknown" when the
// phrase is a single word.
func (c *Catalog) Segment(phrase string) (brand, name string) {
	normalized := strings.ToLower(tokenize(phrase, true))

	for _, e := range c.index {
		if strings.HasPrefix(normalized, e.key) {
			return e.brand, strings.TrimSpace(normalized[len(e.key):])
		}
	}

	words := strings.Fields(normalized)
	if len(words) >= 2 {
		return titleCase(words[0]), titleCase(strings.Join(words[1:], " "))
	}
	return UnknownBrand, titleCase(normalized)
}
