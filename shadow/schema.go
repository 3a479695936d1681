package shadow

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformed is returned for shadow documents that are not JSON or do not match the expected envelope.
var ErrMalformed = errors.New("shadow: malformed document")

const deltaSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "shadow delta",
	"type": "object",
	"required": ["state"],
	"properties": {
		"state": {"type": "object"},
		"metadata": {"type": "object"},
		"version": {"type": "integer", "minimum": 0},
		"timestamp": {"type": "integer", "minimum": 0},
		"clientToken": {"type": "string", "maxLength": 64}
	}
}`

const updateSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "shadow update",
	"type": "object",
	"required": ["state"],
	"properties": {
		"state": {
			"type": "object",
			"properties": {
				"desired": {"type": ["object", "null"]},
				"reported": {"type": ["object", "null"]}
			},
			"additionalProperties": false
		},
		"version": {"type": "integer", "minimum": 0},
		"clientToken": {"type": "string", "maxLength": 64}
	}
}`

const getAcceptedSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "shadow get accepted",
	"type": "object",
	"required": ["state"],
	"properties": {
		"state": {
			"type": "object",
			"properties": {
				"desired": {"type": "object"},
				"reported": {"type": "object"},
				"delta": {"type": "object"}
			}
		},
		"version": {"type": "integer", "minimum": 0},
		"timestamp": {"type": "integer", "minimum": 0},
		"clientToken": {"type": "string"}
	}
}`

var (
	deltaSchema       = mustCompile(deltaSchemaJSON)
	updateSchema      = mustCompile(updateSchemaJSON)
	getAcceptedSchema = mustCompile(getAcceptedSchemaJSON)
)

func mustCompile(schema string) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Errorf("shadow: compile schema: %w", err))
	}

	return compiled
}

func validate(schema *gojsonschema.Schema, payload []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]error, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, errors.New(e.String()))
	}

	return fmt.Errorf("%w: %w", ErrMalformed, errors.Join(problems...))
}

// ValidateUpdate checks that payload is a well formed shadow update document.
func ValidateUpdate(payload []byte) error {
	return validate(updateSchema, payload)
}
