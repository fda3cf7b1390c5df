package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/runtime/registry"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	reg := registry.New()

	require.NoError(t, reg.Register(registry.NewDescriptor("emit",
		registry.WithInput("value", registry.TypeNumber, registry.Default(float64(0))),
		registry.WithOutput("v", registry.TypeNumber),
		registry.WithExecute(func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"v": in["value"]}, nil
		}),
	)))
	require.NoError(t, reg.Register(registry.NewDescriptor("add_one",
		registry.WithInput("value", registry.TypeNumber, registry.Required()),
		registry.WithOutput("v", registry.TypeNumber),
		registry.WithExecute(func(_ context.Context, in map[string]any) (map[string]any, error) {
			v, _ := in["value"].(float64)
			return map[string]any{"v": v + 1}, nil
		}),
	)))
	require.NoError(t, reg.Register(registry.NewDescriptor("boom",
		registry.WithExecute(func(context.Context, map[string]any) (map[string]any, error) {
			return nil, assert.AnError
		}),
	)))

	opts = append([]Option{WithRegistry(reg)}, opts...)
	return New(opts...)
}

const chainDoc = `{
	"nodes": {
		"a": {"type": "emit", "inputs": {"value": 7}},
		"b": {"type": "add_one", "inputs": {"value": {"$ref": "a.outputs.v"}}}
	}
}`

func TestSubmitAndWait(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Submit(ctx, []byte(chainDoc))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := e.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, float64(8), st.Results["b"]["v"])

	results, err := e.Results(id)
	require.NoError(t, err)
	assert.Equal(t, float64(7), results["a"]["v"])
}

func TestSubmitRejectsMissingNodeTypes(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Submit(context.Background(), []byte(`{
		"nodes": {"a": {"type": "does.not.exist"}}
	}`))
	require.Error(t, err)
	var missing *registry.MissingNodeTypesError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"does.not.exist"}, missing.Missing)
}

func TestSubmitRejectsMalformedDocument(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Submit(context.Background(), []byte(`{"nodes": 42}`))
	require.Error(t, err)
}

func TestStatusUnknownExecution(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Status("nope")
	assert.ErrorIs(t, err, ErrUnknownExecution)
	_, err = e.Results("nope")
	assert.ErrorIs(t, err, ErrUnknownExecution)
	assert.ErrorIs(t, e.Cancel("nope"), ErrUnknownExecution)
}

func TestFailedExecutionReportsNodeErrors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Submit(ctx, []byte(`{"nodes": {"x": {"type": "boom"}}}`))
	require.NoError(t, err)

	st, err := e.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.NotEmpty(t, st.Error)
	assert.Contains(t, st.NodeErrors, "x")

	_, err = e.Results(id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not completed")
}

func TestQueueInfoAggregates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	ok, err := e.Submit(ctx, []byte(chainDoc))
	require.NoError(t, err)
	bad, err := e.Submit(ctx, []byte(`{"nodes": {"x": {"type": "boom"}}}`))
	require.NoError(t, err)

	_, err = e.Wait(ctx, ok)
	require.NoError(t, err)
	_, err = e.Wait(ctx, bad)
	require.NoError(t, err)

	info := e.QueueInfo()
	assert.Equal(t, 1, info.Completed)
	assert.Equal(t, 1, info.Failed)
	assert.Zero(t, info.Pending)
	assert.Zero(t, info.Running)

	// Task counters come from the last queue snapshot of each execution:
	// two completed nodes from the chain, one failed node from the other.
	assert.Equal(t, 3, info.Tasks.Total)
	assert.Equal(t, 2, info.Tasks.Completed)
	assert.Equal(t, 1, info.Tasks.Failed)
	assert.Zero(t, info.Tasks.Pending)
	assert.Zero(t, info.Tasks.Running)
}

func TestValidateReportsMissingAndProblems(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	report, err := e.Validate(ctx, []byte(chainDoc))
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.MissingNodes)

	report, err = e.Validate(ctx, []byte(`{"nodes": {"a": {"type": "ghost"}}}`))
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, []string{"ghost"}, report.MissingNodes)

	// add_one requires value; omitting it is a binding problem.
	report, err = e.Validate(ctx, []byte(`{"nodes": {"a": {"type": "add_one"}}}`))
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Problems)
}

func TestCloseRejectsNewSubmissions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Submit(ctx, []byte(chainDoc))
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, e.Close(closeCtx))

	_, err = e.Submit(ctx, []byte(chainDoc))
	assert.ErrorIs(t, err, ErrClosed)

	st, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.State)
}
