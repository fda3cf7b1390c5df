package builtin

import (
	"context"

	"github.com/weftworks/weft/runtime/registry"
)

func mathDescriptors() []*registry.Descriptor {
	return []*registry.Descriptor{
		registry.NewDescriptor("math.constant",
			registry.WithCategory("math"),
			registry.WithDescription("Emits a constant number."),
			registry.WithInput("value", registry.TypeNumber,
				registry.Default(float64(0)), registry.Slider(-1000, 1000, 1)),
			registry.WithOutput("value", registry.TypeNumber),
			registry.WithExecute(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				return map[string]any{"value": toNumber(inputs["value"])}, nil
			}),
		),
		registry.NewDescriptor("math.add",
			registry.WithCategory("math"),
			registry.WithDescription("Adds two numbers."),
			registry.WithInput("a", registry.TypeNumber,
				registry.Default(float64(0)), registry.Slider(-1000, 1000, 1)),
			registry.WithInput("b", registry.TypeNumber,
				registry.Default(float64(0)), registry.Slider(-1000, 1000, 1)),
			registry.WithOutput("value", registry.TypeNumber),
			registry.WithExecute(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				return map[string]any{"value": toNumber(inputs["a"]) + toNumber(inputs["b"])}, nil
			}),
		),
		registry.NewDescriptor("math.multiply",
			registry.WithCategory("math"),
			registry.WithDescription("Multiplies two numbers."),
			registry.WithInput("a", registry.TypeNumber,
				registry.Default(float64(1)), registry.Slider(-1000, 1000, 1)),
			registry.WithInput("b", registry.TypeNumber,
				registry.Default(float64(1)), registry.Slider(-1000, 1000, 1)),
			registry.WithOutput("value", registry.TypeNumber),
			registry.WithExecute(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				return map[string]any{"value": toNumber(inputs["a"]) * toNumber(inputs["b"])}, nil
			}),
		),
	}
}

// toNumber accepts the numeric representations that survive JSON and YAML
// decoding.
func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
