package graph

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSerializeParseRoundTripProperty verifies that any graph survives a
// serialize/parse round trip with its nodes, priorities, and edges intact.
func TestSerializeParseRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("serialize then parse preserves the graph", prop.ForAll(
		func(tc roundTripTestCase) bool {
			g := buildTestGraph(tc)

			data, err := g.Serialize()
			if err != nil {
				return false
			}
			parsed, err := Parse(data)
			if err != nil {
				return false
			}

			if parsed.Len() != g.Len() {
				return false
			}
			if !reflect.DeepEqual(parsed.NodeIDs(), g.NodeIDs()) {
				return false
			}
			for _, id := range g.NodeIDs() {
				want := g.Node(id)
				got := parsed.Node(id)
				if got == nil {
					return false
				}
				if got.Type != want.Type {
					return false
				}
				if got.Priority != want.Priority {
					return false
				}
				if !reflect.DeepEqual(parsed.Dependencies(id), g.Dependencies(id)) {
					return false
				}
			}
			return true
		},
		genRoundTripTestCase(),
	))

	properties.TestingRun(t)
}

// TestParseAcceptsBothEdgeFormsProperty verifies that underscored and
// camelCase edge port fields decode to the same graph.
func TestParseAcceptsBothEdgeFormsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("underscored and camelCase edges are equivalent", prop.ForAll(
		func(tc roundTripTestCase) bool {
			if len(tc.edges) == 0 {
				return true
			}
			underscored := renderListDocument(tc, false)
			camel := renderListDocument(tc, true)

			g1, err := Parse([]byte(underscored))
			if err != nil {
				return false
			}
			g2, err := Parse([]byte(camel))
			if err != nil {
				return false
			}
			if !reflect.DeepEqual(g1.NodeIDs(), g2.NodeIDs()) {
				return false
			}
			for _, id := range g1.NodeIDs() {
				if !reflect.DeepEqual(g1.Dependencies(id), g2.Dependencies(id)) {
					return false
				}
			}
			return true
		},
		genRoundTripTestCase(),
	))

	properties.TestingRun(t)
}

// Test types

type roundTripTestCase struct {
	nodeCount  int
	priorities []int
	edges      []testEdge
}

type testEdge struct {
	source, target int
}

func buildTestGraph(tc roundTripTestCase) *Graph {
	g := New()
	for i := range tc.nodeCount {
		g.AddNode(&Node{
			ID:       fmt.Sprintf("n%d", i),
			Type:     fmt.Sprintf("type_%d", i%3),
			Priority: tc.priorities[i],
		})
	}
	for _, e := range tc.edges {
		target := g.nodes[fmt.Sprintf("n%d", e.target)]
		port := fmt.Sprintf("in_%d", e.source)
		target.Inputs[port] = Ref{Node: fmt.Sprintf("n%d", e.source), Output: "out"}.Binding()
		g.AddEdge(&Edge{
			ID:           fmt.Sprintf("e_%d_%d", e.source, e.target),
			Source:       fmt.Sprintf("n%d", e.source),
			SourceOutput: "out",
			Target:       fmt.Sprintf("n%d", e.target),
			TargetInput:  port,
		})
	}
	return g
}

func renderListDocument(tc roundTripTestCase, camel bool) string {
	doc := "{\"nodes\": ["
	for i := range tc.nodeCount {
		if i > 0 {
			doc += ","
		}
		doc += fmt.Sprintf(`{"id": "n%d", "type": "type_%d", "priority": %d}`, i, i%3, tc.priorities[i])
	}
	doc += "], \"edges\": ["
	for i, e := range tc.edges {
		if i > 0 {
			doc += ","
		}
		srcField, tgtField := "source_output", "target_input"
		if camel {
			srcField, tgtField = "sourceOutput", "targetInput"
		}
		doc += fmt.Sprintf(`{"id": "e_%d_%d", "source": "n%d", %q: "out", "target": "n%d", %q: "in_%d"}`,
			e.source, e.target, e.source, srcField, e.target, tgtField, e.source)
	}
	doc += "]}"
	return doc
}

// Generators

func genRoundTripTestCase() gopter.Gen {
	return gen.IntRange(1, 8).FlatMap(func(count any) gopter.Gen {
		n := count.(int)
		return gopter.CombineGens(
			gen.SliceOfN(n, gen.IntRange(1, 100)),
			genAcyclicEdges(n),
		).Map(func(vals []any) roundTripTestCase {
			return roundTripTestCase{
				nodeCount:  n,
				priorities: vals[0].([]int),
				edges:      vals[1].([]testEdge),
			}
		})
	}, reflect.TypeOf(roundTripTestCase{}))
}

// genAcyclicEdges generates edges that always point from a lower-indexed
// node to a higher-indexed one so the resulting graph stays acyclic. At
// most one edge per (source, target) pair is kept.
func genAcyclicEdges(nodeCount int) gopter.Gen {
	if nodeCount < 2 {
		return gen.Const([]testEdge{})
	}
	pair := gopter.CombineGens(
		gen.IntRange(0, nodeCount-2),
		gen.IntRange(1, nodeCount-1),
	).Map(func(vals []any) testEdge {
		a, b := vals[0].(int), vals[1].(int)
		if a >= b {
			a, b = b-1, a+1
		}
		return testEdge{source: a, target: b}
	})
	return gen.SliceOf(pair).Map(func(edges []testEdge) []testEdge {
		seen := make(map[testEdge]bool)
		var out []testEdge
		for _, e := range edges {
			if e.source >= e.target || seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
		}
		return out
	})
}
