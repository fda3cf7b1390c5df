package builtin

import (
	"context"

	"github.com/weftworks/weft/runtime/executor"
	"github.com/weftworks/weft/runtime/registry"
)

// controlDescriptors defines the control flow node types. The scheduler
// recognizes them by type name: condition outputs steer branch skipping,
// and the loop markers delimit bodies for future iterative scheduling.
func controlDescriptors() []*registry.Descriptor {
	return []*registry.Descriptor{
		registry.NewDescriptor(executor.ConditionNodeType,
			registry.WithCategory("control"),
			registry.WithDescription("Routes execution to one of two branch root nodes."),
			registry.WithInput("condition", registry.TypeAny, registry.Default(false)),
			registry.WithInput("true_path", registry.TypeText, registry.Default("")),
			registry.WithInput("false_path", registry.TypeText, registry.Default("")),
			registry.WithOutput("result", registry.TypeBoolean),
			registry.WithOutput("next_path", registry.TypeText),
			registry.WithExecute(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				// true_path and false_path name the branch root nodes;
				// next_path carries the taken one.
				cond, _ := inputs["condition"].(bool)
				next, _ := inputs["false_path"].(string)
				if cond {
					next, _ = inputs["true_path"].(string)
				}
				return map[string]any{"result": cond, "next_path": next}, nil
			}),
		),
		registry.NewDescriptor(executor.LoopStartNodeType,
			registry.WithCategory("control"),
			registry.WithDescription("Marks the start of a loop body."),
			registry.WithInput("value", registry.TypeAny, registry.Default(nil)),
			registry.WithOutput("value", registry.TypeAny),
			registry.WithExecute(passThrough),
		),
		registry.NewDescriptor(executor.LoopEndNodeType,
			registry.WithCategory("control"),
			registry.WithDescription("Marks the end of a loop body."),
			registry.WithInput("value", registry.TypeAny, registry.Default(nil)),
			registry.WithOutput("value", registry.TypeAny),
			registry.WithExecute(passThrough),
		),
	}
}

func passThrough(_ context.Context, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"value": inputs["value"]}, nil
}
