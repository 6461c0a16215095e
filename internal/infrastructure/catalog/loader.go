package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

const indexFilename = "categories.yaml"

// Default scoring weights applied when a category omits its scoring
// block.
const (
	defaultPrimaryWeight     = 2
	defaultSecondaryWeight   = 1
	defaultMinPrimaryMatches = 2
)

type indexFile struct {
	Categories []indexEntry `yaml:"categories"`
}

type indexEntry struct {
	Slug    string `yaml:"slug"`
	File    string `yaml:"file"`
	Enabled *bool  `yaml:"enabled"`
}

type categoryFile struct {
	Slug                string             `yaml:"slug"`
	DisplayName         string             `yaml:"display_name"`
	Description         string             `yaml:"description"`
	ConfidenceThreshold float64            `yaml:"confidence_threshold"`
	Scoring             *scoringBlock      `yaml:"scoring"`
	Keywords            keywordsBlock      `yaml:"keywords"`
	RegexPatterns       yaml.Node          `yaml:"regex_patterns"`
	MandatoryFields     []string           `yaml:"mandatory_fields"`
	OptionalFields      []string           `yaml:"optional_fields"`
}

type scoringBlock struct {
	PrimaryWeight     *int `yaml:"primary_weight"`
	SecondaryWeight   *int `yaml:"secondary_weight"`
	MinPrimaryMatches *int `yaml:"min_primary_matches"`
}

type keywordsBlock struct {
	Primary   []string `yaml:"primary"`
	Secondary []string `yaml:"secondary"`
	Exclusion []string `yaml:"exclusion"`
}

type patternBlock struct {
	Description string `yaml:"description"`
	Pattern     string `yaml:"pattern"`
	Group       *int   `yaml:"group"`
}

// Store loads category definitions from a directory holding an index
// file plus one YAML file per category. Load re-checks modification
// times on every call and rebuilds the whole catalog when anything
// changed; readers always see either the old snapshot or the new one,
// never a mix.
type Store struct {
	dir string

	mu       sync.Mutex
	catalog  *domain.CategoryCatalog
	mtimes   map[string]time.Time
	defCache map[string]cachedDefinition
}

// cachedDefinition is one parsed category file keyed by its mtime, so
// a reload only re-parses the files that actually changed.
type cachedDefinition struct {
	mtime time.Time
	def   *domain.CategoryDefinition
}

func NewStore(dir string) *Store {
	return &Store{
		dir:      dir,
		defCache: make(map[string]cachedDefinition),
	}
}

func (s *Store) Load(ctx context.Context) (*domain.CategoryCatalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.currentMtimes()
	if err != nil {
		return nil, err
	}
	if s.catalog != nil && mtimesEqual(s.mtimes, current) {
		return s.catalog, nil
	}
	return s.reload(ctx, current, false)
}

func (s *Store) ForceReload(ctx context.Context) (*domain.CategoryCatalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.currentMtimes()
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, current, true)
}

func (s *Store) reload(_ context.Context, mtimes map[string]time.Time, force bool) (*domain.CategoryCatalog, error) {
	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}

	catalog := domain.NewCategoryCatalog()
	for _, entry := range index.Categories {
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}

		// Unchanged files reuse the parsed definition; only files whose
		// mtime moved are re-read.
		mtime := mtimes[entry.File]
		if !force {
			if cached, ok := s.defCache[entry.File]; ok && !mtime.IsZero() && cached.mtime.Equal(mtime) {
				catalog.Add(cached.def)
				continue
			}
		}

		def, err := s.readCategory(entry)
		if err != nil {
			// A single broken definition must not take the whole
			// catalog down.
			slog.Warn("category_skipped", "file", entry.File, "error", err)
			delete(s.defCache, entry.File)
			continue
		}
		s.defCache[entry.File] = cachedDefinition{mtime: mtime, def: def}
		catalog.Add(def)
	}

	s.catalog = catalog
	s.mtimes = mtimes
	slog.Info("catalog_loaded", "dir", s.dir, "categories", catalog.Len())
	return catalog, nil
}

func (s *Store) readIndex() (*indexFile, error) {
	path := filepath.Join(s.dir, indexFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.WrapError(domain.ErrConfigNotFound, "read category index", err)
		}
		return nil, fmt.Errorf("read category index: %w", err)
	}

	var index indexFile
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse category index: %w", err)
	}
	return &index, nil
}

func (s *Store) readCategory(entry indexEntry) (*domain.CategoryDefinition, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, entry.File))
	if err != nil {
		return nil, domain.WrapError(domain.ErrCategoryLoad, "read category file", err)
	}

	var cf categoryFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, domain.WrapError(domain.ErrCategoryLoad, "parse category file", err)
	}

	slug := cf.Slug
	if slug == "" {
		slug = entry.Slug
	}
	if slug == "" {
		return nil, domain.WrapError(domain.ErrCategoryLoad, "validate category", fmt.Errorf("no slug in %s", entry.File))
	}

	patterns, err := decodePatterns(cf.RegexPatterns)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCategoryLoad, "compile field patterns", err)
	}

	// Every mandatory field needs an extraction pattern, or the
	// category could never validate clean.
	for _, name := range cf.MandatoryFields {
		if _, ok := patterns[name]; !ok {
			return nil, domain.WrapError(domain.ErrCategoryLoad, "validate category",
				fmt.Errorf("mandatory field %q has no extraction pattern in %s", name, entry.File))
		}
	}

	def := &domain.CategoryDefinition{
		Slug:                slug,
		DisplayName:         cf.DisplayName,
		Description:         cf.Description,
		ConfidenceThreshold: cf.ConfidenceThreshold,
		Scoring:             resolveScoring(cf.Scoring),
		PrimaryKeywords:     lowercaseAll(cf.Keywords.Primary),
		SecondaryKeywords:   lowercaseAll(cf.Keywords.Secondary),
		ExclusionKeywords:   lowercaseAll(cf.Keywords.Exclusion),
		FieldPatterns:       patterns,
		MandatoryFields:     cf.MandatoryFields,
		OptionalFields:      cf.OptionalFields,
	}
	return def, nil
}

// decodePatterns walks the regex_patterns mapping node directly so the
// field order in the file is irrelevant and compile errors carry the
// field name.
func decodePatterns(node yaml.Node) (map[string]domain.FieldPattern, error) {
	patterns := make(map[string]domain.FieldPattern)
	if node.Kind == 0 {
		return patterns, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("regex_patterns must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var pb patternBlock
		if err := node.Content[i+1].Decode(&pb); err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		re, err := regexp.Compile(pb.Pattern)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		group := 1
		if pb.Group != nil {
			group = *pb.Group
		}
		patterns[name] = domain.FieldPattern{
			Description: pb.Description,
			Raw:         pb.Pattern,
			Pattern:     re,
			Group:       group,
		}
	}
	return patterns, nil
}

// marshalCategory renders a definition back into the category file
// schema, the inverse of readCategory.
func marshalCategory(def *domain.CategoryDefinition) ([]byte, error) {
	patterns := make(map[string]patternBlock, len(def.FieldPatterns))
	for name, fp := range def.FieldPatterns {
		group := fp.Group
		patterns[name] = patternBlock{
			Description: fp.Description,
			Pattern:     fp.Raw,
			Group:       &group,
		}
	}

	primaryWeight := def.Scoring.PrimaryWeight
	secondaryWeight := def.Scoring.SecondaryWeight
	minPrimary := def.Scoring.MinPrimaryMatches

	out := struct {
		Slug                string                  `yaml:"slug"`
		DisplayName         string                  `yaml:"display_name"`
		Description         string                  `yaml:"description"`
		ConfidenceThreshold float64                 `yaml:"confidence_threshold"`
		Scoring             scoringBlock            `yaml:"scoring"`
		Keywords            keywordsBlock           `yaml:"keywords"`
		RegexPatterns       map[string]patternBlock `yaml:"regex_patterns"`
		MandatoryFields     []string                `yaml:"mandatory_fields"`
		OptionalFields      []string                `yaml:"optional_fields"`
	}{
		Slug:                def.Slug,
		DisplayName:         def.DisplayName,
		Description:         def.Description,
		ConfidenceThreshold: def.ConfidenceThreshold,
		Scoring: scoringBlock{
			PrimaryWeight:     &primaryWeight,
			SecondaryWeight:   &secondaryWeight,
			MinPrimaryMatches: &minPrimary,
		},
		Keywords: keywordsBlock{
			Primary:   def.PrimaryKeywords,
			Secondary: def.SecondaryKeywords,
			Exclusion: def.ExclusionKeywords,
		},
		RegexPatterns:   patterns,
		MandatoryFields: def.MandatoryFields,
		OptionalFields:  def.OptionalFields,
	}
	return yaml.Marshal(out)
}

func resolveScoring(block *scoringBlock) domain.ScoringPolicy {
	policy := domain.ScoringPolicy{
		PrimaryWeight:     defaultPrimaryWeight,
		SecondaryWeight:   defaultSecondaryWeight,
		MinPrimaryMatches: defaultMinPrimaryMatches,
	}
	if block == nil {
		return policy
	}
	if block.PrimaryWeight != nil {
		policy.PrimaryWeight = *block.PrimaryWeight
	}
	if block.SecondaryWeight != nil {
		policy.SecondaryWeight = *block.SecondaryWeight
	}
	if block.MinPrimaryMatches != nil {
		policy.MinPrimaryMatches = *block.MinPrimaryMatches
	}
	return policy
}

func lowercaseAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// currentMtimes stats the index and every file it references. A
// missing category file is recorded with a zero time so its later
// appearance also triggers a reload.
func (s *Store) currentMtimes() (map[string]time.Time, error) {
	indexPath := filepath.Join(s.dir, indexFilename)
	info, err := os.Stat(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.WrapError(domain.ErrConfigNotFound, "stat category index", err)
		}
		return nil, fmt.Errorf("stat category index: %w", err)
	}

	mtimes := map[string]time.Time{indexFilename: info.ModTime()}

	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	for _, entry := range index.Categories {
		fi, err := os.Stat(filepath.Join(s.dir, entry.File))
		if err != nil {
			mtimes[entry.File] = time.Time{}
			continue
		}
		mtimes[entry.File] = fi.ModTime()
	}
	return mtimes, nil
}

func mtimesEqual(a, b map[string]time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !b[k].Equal(v) {
			return false
		}
	}
	return true
}
