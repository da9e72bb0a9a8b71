package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"mcpchat/internal/domain"
)

// compileSchema compiles the tool's parameter schema. A tool without a schema
// yields (nil, nil).
func compileSchema(t domain.Tool) (*jsonschema.Schema, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	url := t.Name() + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}
	return compiled, nil
}

// validateParams checks that params is a JSON object accepted by schema.
func validateParams(schema *jsonschema.Schema, params json.RawMessage) error {
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if _, ok := v.(map[string]any); !ok {
		return fmt.Errorf("parameters must be a JSON object")
	}
	if schema == nil {
		return nil
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
