package registry_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/runtime/graph"
	"github.com/weftworks/weft/runtime/registry"
)

func echoExec(_ context.Context, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"out": inputs["in"]}, nil
}

func generateDescriptor() *registry.Descriptor {
	return registry.NewDescriptor("generate",
		registry.WithCategory("image"),
		registry.WithDescription("Generates an image from a model."),
		registry.WithInput("model", registry.TypeModel, registry.Required(), registry.AsHandle()),
		registry.WithInput("prompt", registry.TypeText, registry.Default(""), registry.TextArea()),
		registry.WithInput("steps", registry.TypeNumber, registry.Default(20.0), registry.Slider(1, 100, 1)),
		registry.WithInput("sampler", registry.TypeText, registry.Combo("euler", "ddim")),
		registry.WithOutput("image", registry.TypeImage),
		registry.WithExecute(echoExec),
	)
}

func TestRegisterAndLookup(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(generateDescriptor()))

	d, ok := r.Lookup("generate")
	require.True(t, ok)
	assert.Equal(t, "image", d.Category)
	assert.True(t, d.Available())

	exec, ok := r.Executor("generate")
	require.True(t, ok)
	out, err := exec(context.Background(), map[string]any{"in": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out["out"])

	_, ok = r.RollbackFunc("generate")
	assert.False(t, ok)
}

func TestRegisterDuplicate(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(generateDescriptor()))

	err := r.Register(generateDescriptor())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"generate" already registered`)
}

func TestRegisterInvalidPortType(t *testing.T) {
	r := registry.New()
	d := registry.NewDescriptor("bad",
		registry.WithInput("x", registry.PortType("tensor")),
	)
	err := r.Register(d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port type")
}

func TestRenderAsResolution(t *testing.T) {
	d := registry.NewDescriptor("render",
		registry.WithInput("auto_default", registry.TypeText, registry.Default("x")),
		registry.WithInput("auto_bare", registry.TypeText),
		registry.WithInput("auto_handle_widget", registry.TypeModel,
			registry.Default("m"), registry.WithWidget(&registry.Widget{Kind: registry.WidgetHandle})),
		registry.WithInput("forced_widget", registry.TypeText, registry.AsWidget()),
		registry.WithInput("forced_handle", registry.TypeText, registry.Default("x"), registry.AsHandle()),
	)

	want := map[string]registry.RenderAs{
		"auto_default":       registry.RenderWidget,
		"auto_bare":          registry.RenderHandle,
		"auto_handle_widget": registry.RenderHandle,
		"forced_widget":      registry.RenderWidget,
		"forced_handle":      registry.RenderHandle,
	}
	for name, render := range want {
		p := d.Input(name)
		require.NotNil(t, p, name)
		assert.Equal(t, render, p.RenderAs, name)
	}
}

func TestComboDefaultsToFirstOption(t *testing.T) {
	d := registry.NewDescriptor("combo",
		registry.WithInput("sampler", registry.TypeText, registry.Combo("euler", "ddim")),
	)
	p := d.Input("sampler")
	require.NotNil(t, p)
	assert.True(t, p.HasDefault)
	assert.Equal(t, "euler", p.Default)
	assert.Equal(t, registry.RenderWidget, p.RenderAs)
}

func TestCompatible(t *testing.T) {
	cases := []struct {
		from, to registry.PortType
		want     bool
	}{
		{registry.TypeImage, registry.TypeImage, true},
		{registry.TypeImage, registry.TypeLatent, false},
		{registry.TypeAny, registry.TypeImage, true},
		{registry.TypeImage, registry.TypeAny, true},
		{registry.TypeNumber, registry.TypeList, true},
		{registry.TypeList, registry.TypeNumber, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s", tc.from, tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, registry.Compatible(tc.from, tc.to))
		})
	}
}

func TestValidateWorkflow(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(generateDescriptor()))

	g := graph.New()
	g.AddNode(&graph.Node{ID: "a", Type: "generate"})
	g.AddNode(&graph.Node{ID: "b", Type: "upscale"})
	g.AddNode(&graph.Node{ID: "c", Type: "save_image"})
	g.AddNode(&graph.Node{ID: "d", Type: "upscale"})

	missing := r.ValidateWorkflow(g)
	assert.Equal(t, []string{"save_image", "upscale"}, missing)

	g2 := graph.New()
	g2.AddNode(&graph.Node{ID: "a", Type: "generate"})
	assert.Empty(t, r.ValidateWorkflow(g2))
}

func TestValidateBindings(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(generateDescriptor()))
	require.NoError(t, r.Register(registry.NewDescriptor("load_model",
		registry.WithInput("path", registry.TypeText, registry.Required()),
		registry.WithOutput("model", registry.TypeModel),
		registry.WithExecute(echoExec),
	)))

	t.Run("valid", func(t *testing.T) {
		g, err := graph.Parse([]byte(`{
			"nodes": {
				"load": {"type": "load_model", "inputs": {"path": "model.bin"}},
				"gen": {"type": "generate", "inputs": {
					"model": {"$ref": "load.outputs.model"},
					"steps": 30
				}}
			}
		}`))
		require.NoError(t, err)
		require.NoError(t, r.ValidateBindings(g))
	})

	t.Run("unknown port", func(t *testing.T) {
		g, err := graph.Parse([]byte(`{
			"nodes": {"load": {"type": "load_model", "inputs": {"path": "x", "ghost": 1}}}
		}`))
		require.NoError(t, err)
		err = r.ValidateBindings(g)
		var merr *graph.MalformedGraphError
		require.ErrorAs(t, err, &merr)
		assert.Contains(t, merr.Reason, "not declared")
	})

	t.Run("required unbound", func(t *testing.T) {
		g, err := graph.Parse([]byte(`{
			"nodes": {"load": {"type": "load_model"}}
		}`))
		require.NoError(t, err)
		err = r.ValidateBindings(g)
		var merr *graph.MalformedGraphError
		require.ErrorAs(t, err, &merr)
		assert.Contains(t, merr.Reason, `required input "path"`)
	})

	t.Run("slider out of range", func(t *testing.T) {
		g, err := graph.Parse([]byte(`{
			"nodes": {
				"load": {"type": "load_model", "inputs": {"path": "x"}},
				"gen": {"type": "generate", "inputs": {
					"model": {"$ref": "load.outputs.model"},
					"steps": 500
				}}
			}
		}`))
		require.NoError(t, err)
		require.Error(t, r.ValidateBindings(g))
	})

	t.Run("combo enum violation", func(t *testing.T) {
		g, err := graph.Parse([]byte(`{
			"nodes": {
				"load": {"type": "load_model", "inputs": {"path": "x"}},
				"gen": {"type": "generate", "inputs": {
					"model": {"$ref": "load.outputs.model"},
					"sampler": "unknown_sampler"
				}}
			}
		}`))
		require.NoError(t, err)
		require.Error(t, r.ValidateBindings(g))
	})

	t.Run("incompatible edge types", func(t *testing.T) {
		require.NoError(t, r.Register(registry.NewDescriptor("save_image",
			registry.WithInput("image", registry.TypeImage, registry.Required(), registry.AsHandle()),
			registry.WithExecute(echoExec),
		)))
		g, err := graph.Parse([]byte(`{
			"nodes": {
				"load": {"type": "load_model", "inputs": {"path": "x"}},
				"save": {"type": "save_image", "inputs": {
					"image": {"$ref": "load.outputs.model"}
				}}
			}
		}`))
		require.NoError(t, err)
		err = r.ValidateBindings(g)
		var merr *graph.MalformedGraphError
		require.ErrorAs(t, err, &merr)
		assert.Contains(t, merr.Reason, "not compatible")
	})

	t.Run("unknown output port", func(t *testing.T) {
		g, err := graph.Parse([]byte(`{
			"nodes": {
				"load": {"type": "load_model", "inputs": {"path": "x"}},
				"gen": {"type": "generate", "inputs": {
					"model": {"$ref": "load.outputs.ghost"}
				}}
			}
		}`))
		require.NoError(t, err)
		err = r.ValidateBindings(g)
		var merr *graph.MalformedGraphError
		require.ErrorAs(t, err, &merr)
		assert.Contains(t, merr.Reason, `no output "ghost"`)
	})
}

func TestValidateInputsExemptsReferences(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(generateDescriptor()))

	err := r.ValidateInputs("generate", map[string]any{
		"model": map[string]any{"$ref": "load.outputs.model"},
		"steps": 50,
	})
	require.NoError(t, err)

	err = r.ValidateInputs("generate", map[string]any{"steps": "not a number"})
	require.Error(t, err)

	err = r.ValidateInputs("ghost_type", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type")
}

func TestRemoveProvenance(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(generateDescriptor()))
	for _, name := range []string{"plug_b", "plug_a"} {
		require.NoError(t, r.Register(registry.NewDescriptor(name,
			registry.WithProvenance(registry.PluginProvenance("fancy-nodes")),
			registry.WithExecute(echoExec),
		)))
	}

	removed := r.RemoveProvenance(registry.PluginProvenance("fancy-nodes"))
	assert.Equal(t, []string{"plug_a", "plug_b"}, removed)
	assert.Equal(t, 1, r.Len())

	_, ok := r.Lookup("generate")
	assert.True(t, ok)
}

func TestMissingNodeTypesError(t *testing.T) {
	err := &registry.MissingNodeTypesError{Missing: []string{"a", "b"}}
	assert.Equal(t, "workflow references unregistered node types: a, b", err.Error())
}
