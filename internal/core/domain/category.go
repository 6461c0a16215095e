package domain

import "regexp"

// ScoringPolicy holds the per-category keyword weights.
type ScoringPolicy struct {
	PrimaryWeight     int `json:"primary_weight" yaml:"primary_weight"`
	SecondaryWeight   int `json:"secondary_weight" yaml:"secondary_weight"`
	MinPrimaryMatches int `json:"min_primary_matches" yaml:"min_primary_matches"`
}

// FieldPattern extracts one named field from document text.
// Group selects the regex capture group; loaders default it to 1.
type FieldPattern struct {
	Description string
	Raw         string
	Pattern     *regexp.Regexp
	Group       int
}

// CategoryDefinition is one document category's classification rules.
// Definitions are immutable once loaded; a catalog reload replaces the
// whole definition rather than mutating it in place.
type CategoryDefinition struct {
	Slug                string
	DisplayName         string
	Description         string
	ConfidenceThreshold float64
	Scoring             ScoringPolicy
	PrimaryKeywords     []string
	SecondaryKeywords   []string
	ExclusionKeywords   []string
	FieldPatterns       map[string]FieldPattern
	MandatoryFields     []string
	OptionalFields      []string
}

// CategoryCatalog is the full enabled category set, in index order.
// Index order is significant: exact confidence ties during
// classification resolve to the first-listed category.
type CategoryCatalog struct {
	order []string
	defs  map[string]*CategoryDefinition
}

func NewCategoryCatalog() *CategoryCatalog {
	return &CategoryCatalog{defs: make(map[string]*CategoryDefinition)}
}

// Add appends a definition, replacing any earlier one with the same
// slug without changing its position.
func (c *CategoryCatalog) Add(def *CategoryDefinition) {
	if def == nil || def.Slug == "" {
		return
	}
	if _, exists := c.defs[def.Slug]; !exists {
		c.order = append(c.order, def.Slug)
	}
	c.defs[def.Slug] = def
}

func (c *CategoryCatalog) Get(slug string) (*CategoryDefinition, bool) {
	def, ok := c.defs[slug]
	return def, ok
}

// Slugs returns category slugs in index order.
func (c *CategoryCatalog) Slugs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *CategoryCatalog) Len() int {
	return len(c.order)
}
