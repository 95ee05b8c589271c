package meta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// metadataSchema is the wire contract for metadata files. Validation runs
// before decoding so shape errors surface with schema paths instead of
// zero-valued fields.
const metadataSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["top_func_name", "return_type", "params"],
  "properties": {
    "compiler_version": { "type": "string" },
    "top_func_name": { "type": "string", "minLength": 1 },
    "return_type": {
      "type": "object",
      "required": ["as_void"],
      "properties": {
        "as_void": { "type": "boolean" }
      }
    },
    "params": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "type": { "type": "string", "minLength": 1 },
          "is_const": { "type": "boolean" },
          "is_reference": { "type": "boolean" }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// schema compiles the embedded metadata schema once.
func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("metadata.schema.json", bytes.NewReader([]byte(metadataSchema))); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = compiler.Compile("metadata.schema.json")
	})
	return compiled, compileErr
}

// validateSchema checks data against the metadata schema.
func validateSchema(data []byte) error {
	sch, err := schema()
	if err != nil {
		return fmt.Errorf("meta: compiling metadata schema: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("meta: metadata is not valid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("meta: metadata does not match schema: %w", err)
	}
	return nil
}
