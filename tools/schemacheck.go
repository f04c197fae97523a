package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

// ValidateAgainstSchema checks args against the tool's own declared JSON
// Schema (ToolMetadata.JSONSchema()) — a structural check independent of
// each tool's hand-written Validate(), catching drift between what the
// registry advertises to the LLM (required fields, enums, types) and what
// a call actually sends.
func ValidateAgainstSchema(meta ToolMetadata, args json.RawMessage) error {
	schema, err := compileToolSchema(meta)
	if err != nil {
		return fmt.Errorf("internal schema for %s could not be compiled: %w", meta.Name, err)
	}

	var v interface{}
	if len(args) == 0 {
		v = map[string]interface{}{}
	} else if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("arguments do not match %s's declared schema: %w", meta.Name, err)
	}
	return nil
}

func compileToolSchema(meta ToolMetadata) (*jsonschema.Schema, error) {
	key := meta.Name + ":" + string(meta.JSONSchema())
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString(meta.Name+".schema.json", string(meta.JSONSchema()))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
