package toposort_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/runtime/graph"
	"github.com/weftworks/weft/runtime/toposort"
)

func buildGraph(t *testing.T, nodes []*graph.Node, edges ...[2]string) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for i, e := range edges {
		g.AddEdge(&graph.Edge{
			ID:           fmt.Sprintf("e%d", i),
			Source:       e[0],
			SourceOutput: "out",
			Target:       e[1],
			TargetInput:  fmt.Sprintf("in%d", i),
		})
	}
	return g
}

func TestKahnLinearChain(t *testing.T) {
	t.Parallel()
	g := buildGraph(t,
		[]*graph.Node{{ID: "a", Type: "t"}, {ID: "b", Type: "t"}, {ID: "c", Type: "t"}},
		[2]string{"a", "b"}, [2]string{"b", "c"},
	)

	order, err := toposort.Kahn(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestKahnTieBreakByPriorityThenID(t *testing.T) {
	t.Parallel()
	// b and c are both ready after a; b has the lower priority value and
	// goes first. d and e share a priority so id order decides.
	g := buildGraph(t,
		[]*graph.Node{
			{ID: "a", Type: "t"},
			{ID: "c", Type: "t", Priority: 20},
			{ID: "b", Type: "t", Priority: 10},
			{ID: "e", Type: "t", Priority: 30},
			{ID: "d", Type: "t", Priority: 30},
		},
		[2]string{"a", "b"}, [2]string{"a", "c"}, [2]string{"a", "d"}, [2]string{"a", "e"},
	)

	order, err := toposort.Kahn(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, order)
}

func TestDFSRespectsEdges(t *testing.T) {
	t.Parallel()
	g := buildGraph(t,
		[]*graph.Node{
			{ID: "load", Type: "t"},
			{ID: "gen", Type: "t"},
			{ID: "save", Type: "t"},
			{ID: "preview", Type: "t"},
		},
		[2]string{"load", "gen"}, [2]string{"gen", "save"}, [2]string{"gen", "preview"},
	)

	order, err := toposort.DFS(g)
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["load"], pos["gen"])
	assert.Less(t, pos["gen"], pos["save"])
	assert.Less(t, pos["gen"], pos["preview"])
}

func TestCycleDetected(t *testing.T) {
	t.Parallel()
	g := buildGraph(t,
		[]*graph.Node{{ID: "a", Type: "t"}, {ID: "b", Type: "t"}, {ID: "c", Type: "t"}},
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"},
	)

	for name, sorter := range map[string]func(*graph.Graph) ([]string, error){
		"kahn": toposort.Kahn,
		"dfs":  toposort.DFS,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := sorter(g)
			require.Error(t, err)
			var cerr *toposort.CyclicGraphError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, []string{"a", "b", "c"}, cerr.Remaining)
		})
	}
}

func TestCyclePartiallyResolvable(t *testing.T) {
	t.Parallel()
	// a is independent; b and c form a cycle. Only the cycle members are
	// reported as unresolved by Kahn.
	g := buildGraph(t,
		[]*graph.Node{{ID: "a", Type: "t"}, {ID: "b", Type: "t"}, {ID: "c", Type: "t"}},
		[2]string{"b", "c"}, [2]string{"c", "b"},
	)

	_, err := toposort.Kahn(g)
	require.Error(t, err)
	var cerr *toposort.CyclicGraphError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"b", "c"}, cerr.Remaining)
}

func TestSelfLoopDetected(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, []*graph.Node{{ID: "a", Type: "t"}}, [2]string{"a", "a"})

	_, err := toposort.Kahn(g)
	var cerr *toposort.CyclicGraphError
	require.ErrorAs(t, err, &cerr)

	_, err = toposort.DFS(g)
	require.ErrorAs(t, err, &cerr)
}

func TestEmptyGraph(t *testing.T) {
	t.Parallel()
	g := graph.New()

	order, err := toposort.Kahn(g)
	require.NoError(t, err)
	assert.Empty(t, order)

	order, err = toposort.DFS(g)
	require.NoError(t, err)
	assert.Empty(t, order)
}
