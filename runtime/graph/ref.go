package graph

import (
	"fmt"
	"strings"
)

// refKey is the binding key marking a cross-node reference.
const refKey = "$ref"

// refSeparator splits the node id from the output name in a reference
// string.
const refSeparator = ".outputs."

// Ref identifies another node's output: a binding of the form
// {"$ref": "<node_id>.outputs.<output_name>"}.
type Ref struct {
	Node   string
	Output string
}

// String returns the canonical reference string.
func (r Ref) String() string {
	return r.Node + refSeparator + r.Output
}

// Binding returns the canonical binding map for the reference.
func (r Ref) Binding() map[string]any {
	return map[string]any{refKey: r.String()}
}

// ParseRefString parses "<node_id>.outputs.<output_name>". The split happens
// at the first ".outputs." occurrence so output names may contain dots.
func ParseRefString(s string) (Ref, error) {
	idx := strings.Index(s, refSeparator)
	if idx <= 0 || idx+len(refSeparator) >= len(s) {
		return Ref{}, fmt.Errorf("invalid reference format %q: want <node_id>.outputs.<output_name>", s)
	}
	return Ref{Node: s[:idx], Output: s[idx+len(refSeparator):]}, nil
}

// AsRef reports whether the binding value is a reference and parses it.
// A binding is a reference when it is a map containing a string-valued
// "$ref" key; anything else is a literal. A present but non-string or
// unparsable "$ref" returns an error.
func AsRef(v any) (Ref, bool, error) {
	m, ok := asStringMap(v)
	if !ok {
		return Ref{}, false, nil
	}
	raw, ok := m[refKey]
	if !ok {
		return Ref{}, false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return Ref{}, true, fmt.Errorf("invalid reference: $ref must be a string, got %T", raw)
	}
	ref, err := ParseRefString(s)
	if err != nil {
		return Ref{}, true, err
	}
	return ref, true, nil
}

// asStringMap converts JSON and YAML decodings of an object into a
// map[string]any. YAML may decode maps with interface{} keys.
func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
