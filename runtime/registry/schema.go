package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaValidator holds the compiled JSON schema derived from a node type's
// input ports.
type schemaValidator struct {
	compiled *jsonschema.Schema
}

// deriveSchemaDoc builds the JSON schema document for the descriptor's
// input ports. Port types map to JSON types where one exists, combo options
// become enums, slider bounds become minimum/maximum, and every property
// carries its resolved render_as in a metadata annotation.
func deriveSchemaDoc(d *Descriptor) map[string]any {
	properties := make(map[string]any, len(d.Inputs))
	var required []string
	for _, p := range d.Inputs {
		prop := make(map[string]any)
		if jt, ok := jsonType(p.Type); ok {
			prop["type"] = jt
		}
		if p.Widget != nil {
			switch p.Widget.Kind {
			case WidgetSlider:
				prop["minimum"] = p.Widget.Min
				prop["maximum"] = p.Widget.Max
			case WidgetCombo:
				if len(p.Widget.Options) > 0 {
					enum := make([]any, len(p.Widget.Options))
					for i, o := range p.Widget.Options {
						enum[i] = o
					}
					prop["enum"] = enum
				}
			}
		}
		if p.HasDefault {
			prop["default"] = p.Default
		}
		prop["metadata"] = map[string]any{"render_as": string(p.RenderAs)}
		properties[p.Name] = prop
		if p.Required && !p.HasDefault {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func jsonType(t PortType) (string, bool) {
	switch t {
	case TypeText:
		return "string", true
	case TypeNumber:
		return "number", true
	case TypeBoolean:
		return "boolean", true
	case TypeList:
		return "array", true
	default:
		// model, image, latent, conditioning, and any are opaque flows and
		// carry no JSON type constraint.
		return "", false
	}
}

// newSchemaValidator compiles the validation schema for a descriptor. The
// required member is stripped before compilation: requiredness is enforced
// against bindings (literal or edge), not against the literal subset alone.
func newSchemaValidator(doc map[string]any) (*schemaValidator, error) {
	validation := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "required" {
			continue
		}
		validation[k] = v
	}
	normalized, err := normalizeJSON(validation)
	if err != nil {
		return nil, fmt.Errorf("normalize schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("inputs.json", normalized); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("inputs.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &schemaValidator{compiled: compiled}, nil
}

// validate checks a map of literal input values against the compiled
// schema. Values are normalized through a JSON round trip so YAML-decoded
// and Go-native values validate identically.
func (v *schemaValidator) validate(literals map[string]any) error {
	if v == nil || v.compiled == nil {
		return nil
	}
	normalized, err := normalizeJSON(literals)
	if err != nil {
		return fmt.Errorf("normalize inputs: %w", err)
	}
	return v.compiled.Validate(normalized)
}

func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
