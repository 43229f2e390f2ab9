package profile

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

// compiledSchema parses the embedded schema once per process.
var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// validate checks a canonicalised document against the embedded schema and
// reports every violation in a single ErrInvalidDocument.
func validate(canonical map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("profile: compile schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(canonical))
	if err != nil {
		return fmt.Errorf("%w: schema validation error: %w", ErrInvalidDocument, err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(details, "; "))
}
