package api

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// eventSchema is the wire contract for events posted over HTTP. Upstream
// systems must populate metadata.source_system; everything else mirrors
// the event model.
const eventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "category", "type", "scope", "severity", "entity_id", "metadata"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "category": {
      "type": "string",
      "enum": [
        "task-lifecycle", "alert-lifecycle", "audit-finding",
        "drift-detection", "governance", "documentation",
        "simulation", "analytics"
      ]
    },
    "type": {"type": "string", "minLength": 1},
    "timestamp": {},
    "scope": {
      "type": "object",
      "required": ["tenant_id"],
      "properties": {
        "tenant_id": {"type": "string", "minLength": 1},
        "facility_id": {"type": "string"},
        "federation_id": {"type": "string"}
      }
    },
    "severity": {
      "type": "string",
      "enum": ["critical", "high", "medium", "low", "info"]
    },
    "entity_id": {"type": "string", "minLength": 1},
    "entity_type": {"type": "string"},
    "operator_id": {"type": "string"},
    "operator_name": {"type": "string"},
    "metadata": {
      "type": "object",
      "required": ["source_system"]
    },
    "payload": {"type": "object"}
  }
}`

// newEventValidator compiles the event schema.
func newEventValidator() (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile event schema: %w", err)
	}
	return schema, nil
}

// validateEventJSON runs the schema over one raw event document and
// returns the itemized validation errors, if any.
func validateEventJSON(schema *gojsonschema.Schema, doc []byte) []string {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return errs
}
