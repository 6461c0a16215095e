package validate

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

// Result is the validation verdict for one document. Errors is empty
// exactly when Status is valid.
type Result struct {
	Status domain.ValidationStatus
	Errors []string
}

// Validator checks extracted fields against a category's schema and
// mandatory-field rules. Schemas are derived from the category
// definition and cached per definition snapshot; a catalog reload
// produces new definition pointers and invalidates the cache entry.
type Validator struct {
	mu      sync.Mutex
	schemas map[string]compiledSchema
}

type compiledSchema struct {
	def    *domain.CategoryDefinition
	schema *jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]compiledSchema)}
}

// Validate applies the category's structural schema and mandatory-field
// checks. An upstream pipeline error short-circuits to invalid with the
// upstream message; the category definition may be nil for documents
// that ended up unclassified, in which case there is nothing to check.
func (v *Validator) Validate(def *domain.CategoryDefinition, fields map[string]string, upstreamError string) Result {
	if upstreamError != "" {
		return Result{Status: domain.ValidationInvalid, Errors: []string{upstreamError}}
	}
	if def == nil {
		return Result{Status: domain.ValidationValid, Errors: []string{}}
	}

	schema, err := v.schemaFor(def)
	if err != nil {
		return Result{
			Status: domain.ValidationInvalid,
			Errors: []string{fmt.Sprintf("category '%s': schema compile failed: %v", def.Slug, err)},
		}
	}

	doc := make(map[string]any, len(fields))
	for name, value := range fields {
		doc[name] = value
	}
	if err := schema.Validate(doc); err != nil {
		return Result{
			Status: domain.ValidationInvalid,
			Errors: []string{fmt.Sprintf("category '%s': %v", def.Slug, err)},
		}
	}

	var missing []string
	for _, name := range def.MandatoryFields {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		errs := make([]string, 0, len(missing))
		for _, name := range missing {
			errs = append(errs, fmt.Sprintf("mandatory field missing: %s", name))
		}
		return Result{Status: domain.ValidationPartial, Errors: errs}
	}

	return Result{Status: domain.ValidationValid, Errors: []string{}}
}

func (v *Validator) schemaFor(def *domain.CategoryDefinition) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.schemas[def.Slug]; ok && cached.def == def {
		return cached.schema, nil
	}

	properties := make(map[string]any, len(def.FieldPatterns))
	for name := range def.FieldPatterns {
		properties[name] = map[string]any{"type": "string", "minLength": 1}
	}
	raw, err := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	schema, err := jsonschema.CompileString(def.Slug+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	v.schemas[def.Slug] = compiledSchema{def: def, schema: schema}
	return schema, nil
}
