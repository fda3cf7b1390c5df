package builtin

import (
	"context"
	"errors"
	"time"

	"github.com/weftworks/weft/runtime/registry"
)

func utilDescriptors() []*registry.Descriptor {
	return []*registry.Descriptor{
		registry.NewDescriptor("util.passthrough",
			registry.WithCategory("util"),
			registry.WithDescription("Forwards its input unchanged."),
			registry.WithInput("value", registry.TypeAny, registry.Default(nil)),
			registry.WithOutput("value", registry.TypeAny),
			registry.WithExecute(passThrough),
		),
		registry.NewDescriptor("util.delay",
			registry.WithCategory("util"),
			registry.WithDescription("Forwards its input after a delay."),
			registry.WithInput("value", registry.TypeAny, registry.Default(nil)),
			registry.WithInput("ms", registry.TypeNumber,
				registry.Default(float64(0)), registry.Slider(0, 60000, 100)),
			registry.WithOutput("value", registry.TypeAny),
			registry.WithExecute(func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
				delay := time.Duration(toNumber(inputs["ms"])) * time.Millisecond
				if delay > 0 {
					timer := time.NewTimer(delay)
					defer timer.Stop()
					select {
					case <-timer.C:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
				return map[string]any{"value": inputs["value"]}, nil
			}),
		),
		registry.NewDescriptor("util.fail",
			registry.WithCategory("hidden"),
			registry.WithDescription("Always fails; exercises failure and rollback paths."),
			registry.WithInput("message", registry.TypeText,
				registry.Default("intentional failure"), registry.TextInput()),
			registry.WithExecute(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				msg, _ := inputs["message"].(string)
				if msg == "" {
					msg = "intentional failure"
				}
				return nil, errors.New(msg)
			}),
		),
	}
}
