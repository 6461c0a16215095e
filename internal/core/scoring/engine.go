package scoring

import (
	"fmt"
	"strings"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

// ExclusionPenalty is the multiplier applied to a category's confidence
// when any exclusion keyword is present. Applied at most once.
const ExclusionPenalty = 0.30

// Engine scores document text against keyword dictionaries. Matching is
// deliberately substring containment, not tokenized word matching: the
// keyword "invoice" matches "invoicer" too. Shipped dictionaries are
// tuned around that behavior.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Score computes the confidence for one category and returns the
// primary+secondary keywords that contributed. Exclusion keywords never
// appear in the matched list.
func (e *Engine) Score(text string, def *domain.CategoryDefinition) (float64, []string) {
	lower := strings.ToLower(text)

	var matched []string
	primaryCount := 0
	for _, kw := range def.PrimaryKeywords {
		if kw != "" && strings.Contains(lower, kw) {
			primaryCount++
			matched = append(matched, kw)
		}
	}

	// Hard disqualification guard: takes precedence over everything.
	if primaryCount < def.Scoring.MinPrimaryMatches {
		return 0.0, nil
	}

	secondaryCount := 0
	for _, kw := range def.SecondaryKeywords {
		if kw != "" && strings.Contains(lower, kw) {
			secondaryCount++
			matched = append(matched, kw)
		}
	}

	maxPossible := len(def.PrimaryKeywords)*def.Scoring.PrimaryWeight +
		len(def.SecondaryKeywords)*def.Scoring.SecondaryWeight
	if maxPossible == 0 {
		return 0.0, matched
	}

	raw := primaryCount*def.Scoring.PrimaryWeight + secondaryCount*def.Scoring.SecondaryWeight
	confidence := float64(raw) / float64(maxPossible)

	for _, kw := range def.ExclusionKeywords {
		if kw != "" && strings.Contains(lower, kw) {
			confidence *= ExclusionPenalty
			break
		}
	}

	return confidence, matched
}

// Classify scores text against every category in the catalog. The
// strictly highest confidence wins; exact ties resolve to the category
// listed first in the catalog's index order. When the winner clears its
// own threshold the outcome is deterministic; otherwise the outcome is
// unclassified with an escalation reason, still carrying the best
// candidate's confidence and matched keywords.
func (e *Engine) Classify(text string, catalog *domain.CategoryCatalog) domain.ClassificationOutcome {
	if catalog == nil || catalog.Len() == 0 {
		return domain.ClassificationOutcome{
			Category:         domain.CategoryUnclassified,
			Method:           domain.MethodUnclassified,
			MatchedKeywords:  []string{},
			EscalationReason: "no categories available for classification",
		}
	}

	var (
		bestSlug       string
		bestConfidence = -1.0
		bestMatched    []string
		bestThreshold  float64
	)
	for _, slug := range catalog.Slugs() {
		def, ok := catalog.Get(slug)
		if !ok {
			continue
		}
		confidence, matched := e.Score(text, def)
		if confidence > bestConfidence {
			bestSlug = slug
			bestConfidence = confidence
			bestMatched = matched
			bestThreshold = def.ConfidenceThreshold
		}
	}

	if bestMatched == nil {
		bestMatched = []string{}
	}
	confidence := domain.RoundConfidence(domain.ClampConfidence(bestConfidence))

	if bestConfidence >= bestThreshold {
		return domain.ClassificationOutcome{
			Category:        bestSlug,
			Confidence:      confidence,
			Method:          domain.MethodDeterministic,
			MatchedKeywords: bestMatched,
		}
	}

	return domain.ClassificationOutcome{
		Category:        domain.CategoryUnclassified,
		Confidence:      confidence,
		Method:          domain.MethodUnclassified,
		MatchedKeywords: bestMatched,
		EscalationReason: fmt.Sprintf(
			"best match '%s' scored %.4f but threshold is %.2f",
			bestSlug, confidence, bestThreshold,
		),
	}
}

// ExtractFields runs the category's field patterns against the text.
// A pattern that does not match, or whose capture group is out of
// range, is silently omitted; the validator decides whether the
// omission matters.
func (e *Engine) ExtractFields(text string, def *domain.CategoryDefinition) map[string]string {
	fields := make(map[string]string)
	for name, fp := range def.FieldPatterns {
		if fp.Pattern == nil {
			continue
		}
		m := fp.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		group := fp.Group
		if group < 0 || group >= len(m) {
			continue
		}
		value := strings.TrimSpace(m[group])
		if value == "" {
			continue
		}
		fields[name] = value
	}
	return fields
}
