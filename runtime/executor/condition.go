package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
)

// Control-flow node types the executor interprets directly because they
// influence scheduling rather than just producing data.
const (
	// ConditionNodeType nominates one of two downstream paths; the untaken
	// branch is skipped.
	ConditionNodeType = "condition"
	// LoopStartNodeType and LoopEndNodeType are reserved passthrough
	// markers; iteration semantics are not implemented.
	LoopStartNodeType = "loop_start"
	LoopEndNodeType   = "loop_end"
)

// evalConditionInput compiles and evaluates a string-valued condition input
// as a boolean expression over the node's resolved inputs. Non-string
// conditions pass through untouched and are used as booleans by the condition
// node's executor.
func (e *Executor) evalConditionInput(nodeID string, inputs map[string]any) error {
	src, ok := inputs["condition"].(string)
	if !ok {
		return nil
	}
	program, err := expr.Compile(src, expr.Env(inputs), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return &ExecutorFailureError{
			NodeID:   nodeID,
			NodeType: ConditionNodeType,
			Err:      fmt.Errorf("compile condition %q: %w", src, err),
		}
	}
	out, err := expr.Run(program, inputs)
	if err != nil {
		return &ExecutorFailureError{
			NodeID:   nodeID,
			NodeType: ConditionNodeType,
			Err:      fmt.Errorf("evaluate condition %q: %w", src, err),
		}
	}
	b, _ := out.(bool)
	inputs["condition"] = b
	return nil
}

// interpretCondition marks the untaken branch for skipping after the
// condition node's executor ran. The node's true_path and false_path inputs
// name the root node of each branch; next_path in the outputs is the taken
// one. Nodes exclusively reachable from the untaken root are skipped: they
// complete with empty outputs, their dependents still unblock, and references
// into them resolve to the target port's default. A node also reachable from
// the taken root stays live.
func (e *Executor) interpretCondition(ctx context.Context, nodeID string, inputs, outputs map[string]any) {
	taken, _ := outputs["next_path"].(string)
	truePath, _ := inputs["true_path"].(string)
	falsePath, _ := inputs["false_path"].(string)

	untaken := falsePath
	if taken == falsePath {
		untaken = truePath
	}
	if untaken == "" || untaken == taken || e.g.Node(untaken) == nil {
		return
	}

	skip := e.reachable(untaken)
	for live := range e.reachable(taken) {
		delete(skip, live)
	}

	skipped := make([]string, 0, len(skip))
	e.mu.Lock()
	for id := range skip {
		e.skipped[id] = true
		skipped = append(skipped, id)
	}
	e.mu.Unlock()
	sort.Strings(skipped)
	e.logger.Debug(ctx, "branch not taken",
		"execution_id", e.executionID, "condition_node", nodeID,
		"taken", taken, "skipped", skipped)
}

// reachable returns the set of nodes reachable from root along forward
// edges, root included. An unknown root yields an empty set.
func (e *Executor) reachable(root string) map[string]bool {
	out := make(map[string]bool)
	if root == "" || e.g.Node(root) == nil {
		return out
	}
	stack := []string{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[id] {
			continue
		}
		out[id] = true
		for _, edge := range e.g.EdgesFrom(id) {
			if !out[edge.Target] {
				stack = append(stack, edge.Target)
			}
		}
	}
	return out
}
