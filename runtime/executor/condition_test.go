package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/runtime/executor"
	"github.com/weftworks/weft/runtime/graph"
	"github.com/weftworks/weft/runtime/registry"
)

// newBranchRegistry registers the condition node plus the small catalog the
// branch tests share.
func newBranchRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()

	require.NoError(t, reg.Register(registry.NewDescriptor(executor.ConditionNodeType,
		registry.WithCategory("control"),
		registry.WithDescription("nominates one of two downstream paths"),
		registry.WithInput("condition", registry.TypeAny, registry.Default(false)),
		registry.WithInput("true_path", registry.TypeText, registry.Default("")),
		registry.WithInput("false_path", registry.TypeText, registry.Default("")),
		registry.WithOutput("result", registry.TypeBoolean),
		registry.WithOutput("next_path", registry.TypeText),
		registry.WithExecute(func(_ context.Context, in map[string]any) (map[string]any, error) {
			cond, _ := in["condition"].(bool)
			next, _ := in["false_path"].(string)
			if cond {
				next, _ = in["true_path"].(string)
			}
			return map[string]any{"result": cond, "next_path": next}, nil
		}),
	)))

	require.NoError(t, reg.Register(registry.NewDescriptor("probe",
		registry.WithInput("trigger", registry.TypeAny, registry.AsHandle()),
		registry.WithInput("value", registry.TypeNumber, registry.Default(1)),
		registry.WithOutput("v", registry.TypeNumber),
		registry.WithExecute(func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"v": num(in["value"])}, nil
		}),
	)))

	require.NoError(t, reg.Register(registry.NewDescriptor("join",
		registry.WithInput("left", registry.TypeNumber, registry.Default(0)),
		registry.WithInput("right", registry.TypeNumber, registry.Default(-1)),
		registry.WithOutput("out", registry.TypeNumber),
		registry.WithExecute(func(_ context.Context, in map[string]any) (map[string]any, error) {
			left, right := in["left"], in["right"]
			if right == nil {
				right = -99.0
			}
			return map[string]any{"out": num(left) + num(right)}, nil
		}),
	)))

	return reg
}

// branchGraph wires: cond fans out to bt and bf; onlyf hangs off bf alone;
// join is fed by both branches.
func branchGraph(condition any) *graph.Graph {
	g := graph.New()
	g.AddNode(&graph.Node{ID: "cond", Type: executor.ConditionNodeType, Inputs: map[string]any{
		"condition":  condition,
		"true_path":  "bt",
		"false_path": "bf",
	}})
	g.AddNode(&graph.Node{ID: "bt", Type: "probe", Inputs: map[string]any{"value": 10}})
	g.AddNode(&graph.Node{ID: "bf", Type: "probe", Inputs: map[string]any{"value": 20}})
	g.AddNode(&graph.Node{ID: "onlyf", Type: "probe", Inputs: map[string]any{"value": 30}})
	g.AddNode(&graph.Node{ID: "join", Type: "join", Inputs: map[string]any{}})
	connect(g, "cond", "next_path", "bt", "trigger")
	connect(g, "cond", "next_path", "bf", "trigger")
	connect(g, "bf", "v", "onlyf", "trigger")
	connect(g, "bt", "v", "join", "left")
	connect(g, "bf", "v", "join", "right")
	return g
}

func TestConditionSkipsUntakenBranch(t *testing.T) {
	t.Parallel()
	reg := newBranchRegistry(t)
	g := branchGraph(true)

	results, err := run(t, g, reg)
	require.NoError(t, err)

	assert.Equal(t, true, results["cond"]["result"])
	assert.Equal(t, "bt", results["cond"]["next_path"])

	// The untaken branch completes with empty outputs.
	assert.Empty(t, results["bf"])
	assert.Empty(t, results["onlyf"])
	assert.Equal(t, 10.0, num(results["bt"]["v"]))

	// The join is fed by both branches so it is not skipped; its reference
	// into the skipped bf resolves to the declared default.
	assert.Equal(t, 10.0-1, num(results["join"]["out"]))
}

func TestConditionFalseTakesOtherBranch(t *testing.T) {
	t.Parallel()
	reg := newBranchRegistry(t)
	g := branchGraph(false)

	results, err := run(t, g, reg)
	require.NoError(t, err)

	assert.Equal(t, "bf", results["cond"]["next_path"])
	assert.Empty(t, results["bt"])
	assert.Equal(t, 20.0, num(results["bf"]["v"]))
	assert.Equal(t, 30.0, num(results["onlyf"]["v"]))

	// left resolves to the join's default for the skipped bt.
	assert.Equal(t, 0.0+20, num(results["join"]["out"]))
}

func TestConditionExpressionInput(t *testing.T) {
	t.Parallel()
	reg := newBranchRegistry(t)

	require.NoError(t, reg.Register(registry.NewDescriptor("emit",
		registry.WithInput("value", registry.TypeNumber, registry.Default(0)),
		registry.WithOutput("v", registry.TypeNumber),
		registry.WithExecute(func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"v": num(in["value"])}, nil
		}),
	)))

	g := branchGraph("x > 3")
	g.AddNode(&graph.Node{ID: "src", Type: "emit", Inputs: map[string]any{"value": 5}})
	connect(g, "src", "v", "cond", "x")

	results, err := run(t, g, reg)
	require.NoError(t, err)

	// x = 5 so the expression evaluates true and the true path is taken.
	assert.Equal(t, true, results["cond"]["result"])
	assert.Equal(t, "bt", results["cond"]["next_path"])
	assert.Empty(t, results["bf"])
}

func TestConditionBadExpressionFails(t *testing.T) {
	t.Parallel()
	reg := newBranchRegistry(t)
	g := branchGraph("not (")

	_, err := run(t, g, reg)
	require.Error(t, err)
	var failure *executor.ExecutorFailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "cond", failure.NodeID)
}

func TestLoopMarkersPassThrough(t *testing.T) {
	t.Parallel()
	reg := newBranchRegistry(t)
	require.NoError(t, reg.Register(registry.NewDescriptor(executor.LoopStartNodeType,
		registry.WithCategory("control"),
		registry.WithInput("iterable", registry.TypeList, registry.Default([]any{})),
		registry.WithInput("index", registry.TypeNumber, registry.Default(0)),
		registry.WithOutput("current_value", registry.TypeAny),
		registry.WithOutput("index", registry.TypeNumber),
		registry.WithOutput("has_next", registry.TypeBoolean),
		registry.WithExecute(func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"current_value": nil, "index": in["index"], "has_next": false}, nil
		}),
	)))

	g := graph.New()
	g.AddNode(&graph.Node{ID: "loop", Type: executor.LoopStartNodeType, Inputs: map[string]any{
		"iterable": []any{},
		"index":    0,
	}})

	results, err := run(t, g, reg)
	require.NoError(t, err)
	assert.Equal(t, false, results["loop"]["has_next"])
}
