package orchestrator

import (
	"fmt"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/manifest"
)

// Validate checks data against a structural subset of JSON Schema:
// "type" and "required" at the top level, recursing into "properties".
// It covers the validation the orchestrator pipeline actually needs
// (spec §4.8 steps 4/6) without pulling in a full schema engine.
func Validate(schema manifest.Schema, data any) error {
	if schema == nil {
		return nil
	}
	return validateNode(schema, data, "$")
}

func validateNode(schema manifest.Schema, data any, path string) error {
	if t, ok := schema["type"].(string); ok {
		if err := checkType(t, data, path); err != nil {
			return err
		}
	}

	obj, isObject := data.(map[string]any)

	if required, ok := schema["required"].([]any); ok {
		if !isObject {
			return fmt.Errorf("%s: required fields declared but value is not an object", path)
		}
		for _, r := range required {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				return fmt.Errorf("%s: missing required field %q", path, name)
			}
		}
	}

	if props, ok := schema["properties"].(map[string]any); ok && isObject {
		for name, propSchemaRaw := range props {
			propSchema, ok := propSchemaRaw.(map[string]any)
			if !ok {
				continue
			}
			value, present := obj[name]
			if !present {
				continue
			}
			if err := validateNode(manifest.Schema(propSchema), value, path+"."+name); err != nil {
				return err
			}
		}
	}

	return nil
}

func checkType(t string, data any, path string) error {
	switch t {
	case "object":
		if _, ok := data.(map[string]any); !ok {
			return fmt.Errorf("%s: expected object", path)
		}
	case "array":
		if _, ok := data.([]any); !ok {
			return fmt.Errorf("%s: expected array", path)
		}
	case "string":
		if _, ok := data.(string); !ok {
			return fmt.Errorf("%s: expected string", path)
		}
	case "number":
		switch data.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("%s: expected number", path)
		}
	case "boolean":
		if _, ok := data.(bool); !ok {
			return fmt.Errorf("%s: expected boolean", path)
		}
	}
	return nil
}
