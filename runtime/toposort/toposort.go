// Package toposort orders workflow graphs for execution. Two algorithms are
// provided, Kahn and reversed DFS post-order, both producing a
// dependency-respecting order with a deterministic tie-break so identical
// inputs yield identical orders across runs.
package toposort

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weftworks/weft/runtime/graph"
)

// CyclicGraphError reports that the graph contains at least one cycle.
// Remaining lists the node ids whose order could not be established, sorted.
type CyclicGraphError struct {
	Remaining []string
}

// Error implements error.
func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("graph contains a cycle: %d node(s) unresolved: %s",
		len(e.Remaining), strings.Join(e.Remaining, ", "))
}

// Kahn returns a topological order of g by repeatedly emitting nodes with
// zero remaining in-degree. Independent nodes are emitted by priority
// ascending, then node id ascending.
func Kahn(g *graph.Graph) ([]string, error) {
	indegree := make(map[string]int, g.Len())
	for _, id := range g.NodeIDs() {
		indegree[id] = len(g.Dependencies(id))
	}

	ready := newReadyList(g)
	for _, id := range g.NodeIDs() {
		if indegree[id] == 0 {
			ready.push(id)
		}
	}

	order := make([]string, 0, g.Len())
	emitted := make(map[string]bool, g.Len())
	for ready.len() > 0 {
		id := ready.pop()
		order = append(order, id)
		emitted[id] = true
		for _, succ := range successors(g, id) {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready.push(succ)
			}
		}
	}

	if len(order) != g.Len() {
		return nil, &CyclicGraphError{Remaining: remaining(g, emitted)}
	}
	return order, nil
}

// DFS returns a topological order of g as the reverse of a depth-first
// post-order. Roots and neighbors are visited by priority ascending, then
// node id ascending, so the order is deterministic and agrees with Kahn on
// edge precedence.
func DFS(g *graph.Graph) ([]string, error) {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // finished
	)
	color := make(map[string]int, g.Len())
	post := make([]string, 0, g.Len())

	roots := append([]string(nil), g.NodeIDs()...)
	sortByPriority(g, roots)

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		succ := successors(g, id)
		sortByPriority(g, succ)
		for _, next := range succ {
			switch color[next] {
			case gray:
				return false
			case white:
				if !visit(next) {
					return false
				}
			}
		}
		color[id] = black
		post = append(post, id)
		return true
	}

	for _, id := range roots {
		if color[id] != white {
			continue
		}
		if !visit(id) {
			finished := make(map[string]bool, len(post))
			for _, done := range post {
				finished[done] = true
			}
			return nil, &CyclicGraphError{Remaining: remaining(g, finished)}
		}
	}

	order := make([]string, len(post))
	for i, id := range post {
		order[len(post)-1-i] = id
	}
	return order, nil
}

func successors(g *graph.Graph, id string) []string {
	seen := make(map[string]bool)
	var succ []string
	for _, e := range g.EdgesFrom(id) {
		if !seen[e.Target] {
			seen[e.Target] = true
			succ = append(succ, e.Target)
		}
	}
	return succ
}

func remaining(g *graph.Graph, done map[string]bool) []string {
	var rest []string
	for _, id := range g.NodeIDs() {
		if !done[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return rest
}

func sortByPriority(g *graph.Graph, ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := g.Node(ids[i]), g.Node(ids[j])
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return ids[i] < ids[j]
	})
}

// readyList keeps the zero-in-degree frontier ordered by priority then id.
type readyList struct {
	g   *graph.Graph
	ids []string
}

func newReadyList(g *graph.Graph) *readyList {
	return &readyList{g: g}
}

func (r *readyList) len() int { return len(r.ids) }

func (r *readyList) push(id string) {
	r.ids = append(r.ids, id)
	sortByPriority(r.g, r.ids)
}

func (r *readyList) pop() string {
	id := r.ids[0]
	r.ids = r.ids[1:]
	return id
}
