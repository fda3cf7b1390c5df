// Package graph models workflows as directed acyclic graphs of typed nodes.
// A Graph is immutable after parse except for recording node outputs once
// execution produces them. Workflow documents arrive as JSON or YAML in both
// map-keyed and list forms; parsing normalizes to the map form and enforces
// the structural invariants (edges reference existing nodes, input-binding
// references and edges stay consistent). Acyclicity is not checked here; the
// topological sorter validates it at execution start.
package graph

import (
	"fmt"
	"sort"
)

// DefaultPriority is assigned to nodes whose document omits a priority.
// Lower values dispatch first among ready tasks.
const DefaultPriority = 50

type (
	// Node is one instance in a workflow: a type name, input bindings, and
	// recorded outputs. Input bindings map port names to literal values or
	// references (see Ref).
	Node struct {
		ID       string
		Type     string
		Inputs   map[string]any
		Outputs  map[string]any
		Position *Position
		Priority int
		Metadata map[string]any
	}

	// Edge is a data connection from one node's output port to another
	// node's input port. Edges are denormalized from input bindings for
	// fast adjacency queries; both representations stay consistent.
	Edge struct {
		ID           string
		Source       string
		SourceOutput string
		Target       string
		TargetInput  string
	}

	// Position is an optional display hint carried through parsing.
	Position struct {
		X float64 `json:"x" yaml:"x"`
		Y float64 `json:"y" yaml:"y"`
	}

	// Graph holds nodes and edges keyed by id. Use Parse or ParseDocument
	// to construct one from a workflow document, or New plus AddNode and
	// AddEdge to build one programmatically.
	Graph struct {
		nodes     map[string]*Node
		edges     map[string]*Edge
		nodeOrder []string
		edgeOrder []string
	}
)

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}
}

// AddNode registers the node, replacing any node with the same id. A zero
// priority is promoted to DefaultPriority.
func (g *Graph) AddNode(n *Node) {
	if n.Inputs == nil {
		n.Inputs = make(map[string]any)
	}
	if n.Priority == 0 {
		n.Priority = DefaultPriority
	}
	if _, exists := g.nodes[n.ID]; !exists {
		g.nodeOrder = append(g.nodeOrder, n.ID)
	}
	g.nodes[n.ID] = n
}

// AddEdge registers the edge, replacing any edge with the same id.
func (g *Graph) AddEdge(e *Edge) {
	if _, exists := g.edges[e.ID]; !exists {
		g.edgeOrder = append(g.edgeOrder, e.ID)
	}
	g.edges[e.ID] = e
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Edge returns the edge with the given id, or nil.
func (g *Graph) Edge(id string) *Edge {
	return g.edges[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns all nodes in insertion order (document order for list-form
// collections, sorted ids for map-keyed ones).
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodeIDs returns all node ids in insertion order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.nodeOrder))
	copy(out, g.nodeOrder)
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}

// EdgesFrom returns the edges whose source is the given node, ordered by
// edge id for determinism.
func (g *Graph) EdgesFrom(nodeID string) []*Edge {
	var out []*Edge
	for _, id := range g.edgeOrder {
		if e := g.edges[id]; e.Source == nodeID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EdgesTo returns the edges whose target is the given node, ordered by edge
// id for determinism.
func (g *Graph) EdgesTo(nodeID string) []*Edge {
	var out []*Edge
	for _, id := range g.edgeOrder {
		if e := g.edges[id]; e.Target == nodeID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dependencies returns the distinct source node ids feeding the given node,
// sorted ascending.
func (g *Graph) Dependencies(nodeID string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range g.EdgesTo(nodeID) {
		if _, ok := seen[e.Source]; ok {
			continue
		}
		seen[e.Source] = struct{}{}
		out = append(out, e.Source)
	}
	sort.Strings(out)
	return out
}

// NodeInputs returns the input bindings of the node, or an empty map when
// the node does not exist.
func (g *Graph) NodeInputs(nodeID string) map[string]any {
	if n := g.nodes[nodeID]; n != nil {
		return n.Inputs
	}
	return map[string]any{}
}

// NodeOutputs returns the recorded outputs of the node, or an empty map.
func (g *Graph) NodeOutputs(nodeID string) map[string]any {
	if n := g.nodes[nodeID]; n != nil && n.Outputs != nil {
		return n.Outputs
	}
	return map[string]any{}
}

// SetNodeOutputs records execution outputs on the node. It is the only
// post-parse mutation the model permits.
func (g *Graph) SetNodeOutputs(nodeID string, outputs map[string]any) {
	if n := g.nodes[nodeID]; n != nil {
		n.Outputs = outputs
	}
}

// TypeNames returns the distinct node type names referenced by the graph,
// sorted ascending.
func (g *Graph) TypeNames() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range g.nodeOrder {
		t := g.nodes[id].Type
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MalformedGraphError reports a workflow document that violates the model's
// structural invariants. Execution never starts on a malformed graph.
type MalformedGraphError struct {
	Reason string
}

// Error returns the failure description.
func (e *MalformedGraphError) Error() string {
	return fmt.Sprintf("malformed graph: %s", e.Reason)
}

func malformedf(format string, args ...any) *MalformedGraphError {
	return &MalformedGraphError{Reason: fmt.Sprintf(format, args...)}
}
