package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a workflow document and builds a normalized graph. The
// payload may be JSON or YAML; a document whose first significant byte is
// '{' or '[' is treated as JSON.
func Parse(data []byte) (*Graph, error) {
	if looksLikeJSON(data) {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// ParseJSON decodes a JSON workflow document.
func ParseJSON(data []byte) (*Graph, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, malformedf("invalid JSON: %v", err)
	}
	return ParseDocument(doc)
}

// ParseYAML decodes a YAML workflow document.
func ParseYAML(data []byte) (*Graph, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, malformedf("invalid YAML: %v", err)
	}
	return ParseDocument(doc)
}

// ParseFile decodes the workflow document at path, choosing the codec by
// file extension (.json, .yaml, .yml).
func ParseFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	switch {
	case strings.HasSuffix(path, ".json"):
		return ParseJSON(data)
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported workflow file format %q: want .json, .yaml, or .yml", path)
	}
}

// ParseDocument builds a graph from a pre-decoded workflow document. Node
// and edge collections are accepted in map-keyed or list form; edge port
// fields accept both underscored and camelCase names. The result is
// normalized: bindings and edges are cross-checked and edges missing for
// reference bindings are synthesized.
func ParseDocument(doc map[string]any) (*Graph, error) {
	g := New()
	if raw, ok := doc["nodes"]; ok {
		if err := parseNodes(g, raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["edges"]; ok {
		if err := parseEdges(g, raw); err != nil {
			return nil, err
		}
	}
	if err := g.normalize(); err != nil {
		return nil, err
	}
	return g, nil
}

func parseNodes(g *Graph, raw any) error {
	switch coll := raw.(type) {
	case map[string]any, map[any]any:
		m, _ := asStringMap(coll)
		ids := make([]string, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			data, ok := asStringMap(m[id])
			if !ok {
				return malformedf("node %q: definition must be an object", id)
			}
			n, err := buildNode(id, data)
			if err != nil {
				return err
			}
			g.AddNode(n)
		}
	case []any:
		for i, item := range coll {
			data, ok := asStringMap(item)
			if !ok {
				return malformedf("nodes[%d]: definition must be an object", i)
			}
			id, ok := data["id"].(string)
			if !ok || id == "" {
				return malformedf("nodes[%d]: missing required field id", i)
			}
			n, err := buildNode(id, data)
			if err != nil {
				return err
			}
			g.AddNode(n)
		}
	default:
		return malformedf("nodes must be an object or a list, got %T", raw)
	}
	return nil
}

func buildNode(id string, data map[string]any) (*Node, error) {
	typ, ok := data["type"].(string)
	if !ok || typ == "" {
		return nil, malformedf("node %q: missing required field type", id)
	}
	n := &Node{ID: id, Type: typ, Priority: DefaultPriority}
	if inputs, ok := data["inputs"]; ok {
		m, ok := asStringMap(inputs)
		if !ok {
			return nil, malformedf("node %q: inputs must be an object", id)
		}
		n.Inputs = m
	} else {
		n.Inputs = make(map[string]any)
	}
	if pos, ok := data["position"]; ok {
		if m, ok := asStringMap(pos); ok {
			n.Position = &Position{X: toFloat(m["x"]), Y: toFloat(m["y"])}
		}
	}
	if meta, ok := data["metadata"]; ok {
		if m, ok := asStringMap(meta); ok {
			n.Metadata = m
		}
	}
	if p, ok := data["priority"]; ok {
		pr, ok := toInt(p)
		if !ok {
			return nil, malformedf("node %q: priority must be an integer", id)
		}
		n.Priority = pr
	}
	return n, nil
}

func parseEdges(g *Graph, raw any) error {
	switch coll := raw.(type) {
	case map[string]any, map[any]any:
		m, _ := asStringMap(coll)
		ids := make([]string, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			data, ok := asStringMap(m[id])
			if !ok {
				return malformedf("edge %q: definition must be an object", id)
			}
			e, err := buildEdge(id, data)
			if err != nil {
				return err
			}
			g.AddEdge(e)
		}
	case []any:
		for i, item := range coll {
			data, ok := asStringMap(item)
			if !ok {
				return malformedf("edges[%d]: definition must be an object", i)
			}
			id, ok := data["id"].(string)
			if !ok || id == "" {
				return malformedf("edges[%d]: missing required field id", i)
			}
			e, err := buildEdge(id, data)
			if err != nil {
				return err
			}
			g.AddEdge(e)
		}
	default:
		return malformedf("edges must be an object or a list, got %T", raw)
	}
	return nil
}

func buildEdge(id string, data map[string]any) (*Edge, error) {
	source, ok := data["source"].(string)
	if !ok || source == "" {
		return nil, malformedf("edge %q: missing required field source", id)
	}
	target, ok := data["target"].(string)
	if !ok || target == "" {
		return nil, malformedf("edge %q: missing required field target", id)
	}
	sourceOutput, ok := stringField(data, "source_output", "sourceOutput")
	if !ok {
		return nil, malformedf("edge %q: missing source_output or sourceOutput field", id)
	}
	targetInput, ok := stringField(data, "target_input", "targetInput")
	if !ok {
		return nil, malformedf("edge %q: missing target_input or targetInput field", id)
	}
	return &Edge{
		ID:           id,
		Source:       source,
		SourceOutput: sourceOutput,
		Target:       target,
		TargetInput:  targetInput,
	}, nil
}

// normalize enforces the structural invariants: every edge endpoint exists,
// every reference binding has a matching edge (synthesized when the document
// carries only bindings), and every edge has a matching reference binding
// (filled in when absent, rejected when contradictory).
func (g *Graph) normalize() error {
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		if g.nodes[e.Source] == nil {
			return malformedf("edge %q: source node %q does not exist", e.ID, e.Source)
		}
		if g.nodes[e.Target] == nil {
			return malformedf("edge %q: target node %q does not exist", e.ID, e.Target)
		}
	}

	// Edge → binding direction.
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		target := g.nodes[e.Target]
		want := Ref{Node: e.Source, Output: e.SourceOutput}
		bound, ok := target.Inputs[e.TargetInput]
		if !ok {
			target.Inputs[e.TargetInput] = want.Binding()
			continue
		}
		ref, isRef, err := AsRef(bound)
		if err != nil {
			return malformedf("node %q input %q: %v", e.Target, e.TargetInput, err)
		}
		if !isRef {
			return malformedf("node %q input %q: edge %q requires a reference binding but found a literal", e.Target, e.TargetInput, e.ID)
		}
		if ref != want {
			return malformedf("node %q input %q: binding %q contradicts edge %q (%q)", e.Target, e.TargetInput, ref.String(), e.ID, want.String())
		}
	}

	// Binding → edge direction.
	for _, nodeID := range g.nodeOrder {
		n := g.nodes[nodeID]
		ports := make([]string, 0, len(n.Inputs))
		for port := range n.Inputs {
			ports = append(ports, port)
		}
		sort.Strings(ports)
		for _, port := range ports {
			ref, isRef, err := AsRef(n.Inputs[port])
			if err != nil {
				return malformedf("node %q input %q: %v", nodeID, port, err)
			}
			if !isRef {
				continue
			}
			if g.nodes[ref.Node] == nil {
				return malformedf("node %q input %q: reference to unknown node %q", nodeID, port, ref.Node)
			}
			if g.findEdge(ref, nodeID, port) == nil {
				g.AddEdge(&Edge{
					ID:           fmt.Sprintf("e_%s_%s", nodeID, port),
					Source:       ref.Node,
					SourceOutput: ref.Output,
					Target:       nodeID,
					TargetInput:  port,
				})
			}
		}
	}
	return nil
}

func (g *Graph) findEdge(ref Ref, target, targetInput string) *Edge {
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		if e.Source == ref.Node && e.SourceOutput == ref.Output && e.Target == target && e.TargetInput == targetInput {
			return e
		}
	}
	return nil
}

func stringField(data map[string]any, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := data[name].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func looksLikeJSON(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
