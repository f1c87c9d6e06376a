package config

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

// SchemaError lists every schema violation of a config file as
// "<dotted.path>: <description>", sorted.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "config schema validation failed: " + strings.Join(e.Violations, "; ")
}

// ValidateSettings validates raw config settings against the JSON schema.
func ValidateSettings(settings map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(settings))
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, violationPath(re)+": "+re.Description())
	}
	slices.Sort(violations)
	return &SchemaError{Violations: violations}
}

// violationPath names the offending key; unknown keys are reported by their
// own path rather than their parent's.
func violationPath(re gojsonschema.ResultError) string {
	field := re.Field()
	if field == "(root)" {
		field = ""
	}
	if prop, ok := re.Details()["property"].(string); ok && re.Type() == "additional_property_not_allowed" {
		if field == "" {
			return prop
		}
		return field + "." + prop
	}
	if field == "" {
		return "(root)"
	}
	return field
}
