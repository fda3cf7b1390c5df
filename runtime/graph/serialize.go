package graph

import (
	"encoding/json"
	"sort"
)

type (
	// document is the canonical wire form of a workflow: nodes keyed by ID,
	// edges as a list sorted by edge ID.
	document struct {
		Nodes map[string]nodeDoc `json:"nodes"`
		Edges []edgeDoc          `json:"edges,omitempty"`
	}

	nodeDoc struct {
		Type     string         `json:"type"`
		Inputs   map[string]any `json:"inputs"`
		Position *Position      `json:"position,omitempty"`
		Priority int            `json:"priority,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	edgeDoc struct {
		ID           string `json:"id"`
		Source       string `json:"source"`
		SourceOutput string `json:"source_output"`
		Target       string `json:"target"`
		TargetInput  string `json:"target_input"`
	}
)

// Serialize renders the graph in its canonical JSON form. The output is
// deterministic: node keys and edge entries are sorted, port fields use
// underscored names and the default priority is omitted.
func (g *Graph) Serialize() ([]byte, error) {
	doc := document{Nodes: make(map[string]nodeDoc, len(g.nodes))}
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		nd := nodeDoc{
			Type:     n.Type,
			Inputs:   n.Inputs,
			Position: n.Position,
			Metadata: n.Metadata,
		}
		if n.Priority != DefaultPriority {
			nd.Priority = n.Priority
		}
		doc.Nodes[id] = nd
	}
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		doc.Edges = append(doc.Edges, edgeDoc{
			ID:           e.ID,
			Source:       e.Source,
			SourceOutput: e.SourceOutput,
			Target:       e.Target,
			TargetInput:  e.TargetInput,
		})
	}
	sort.Slice(doc.Edges, func(i, j int) bool { return doc.Edges[i].ID < doc.Edges[j].ID })
	return json.MarshalIndent(doc, "", "  ")
}
