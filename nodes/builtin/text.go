package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/weftworks/weft/runtime/registry"
)

func textDescriptors() []*registry.Descriptor {
	return []*registry.Descriptor{
		registry.NewDescriptor("text.template",
			registry.WithCategory("text"),
			registry.WithDescription("Renders a template; ${...} placeholders are expressions over the node inputs."),
			registry.WithInput("template", registry.TypeText,
				registry.Default(""), registry.TextArea()),
			registry.WithInput("value", registry.TypeAny, registry.Default(nil)),
			registry.WithOutput("value", registry.TypeText),
			registry.WithExecute(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				tmpl, _ := inputs["template"].(string)
				rendered, err := renderTemplate(tmpl, inputs)
				if err != nil {
					return nil, err
				}
				return map[string]any{"value": rendered}, nil
			}),
		),
		registry.NewDescriptor("text.concat",
			registry.WithCategory("text"),
			registry.WithDescription("Joins two strings with a separator."),
			registry.WithInput("left", registry.TypeText, registry.Default(""), registry.TextInput()),
			registry.WithInput("right", registry.TypeText, registry.Default(""), registry.TextInput()),
			registry.WithInput("separator", registry.TypeText, registry.Default(""), registry.TextInput()),
			registry.WithOutput("value", registry.TypeText),
			registry.WithExecute(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				left, _ := inputs["left"].(string)
				right, _ := inputs["right"].(string)
				sep, _ := inputs["separator"].(string)
				return map[string]any{"value": left + sep + right}, nil
			}),
		),
	}
}

// renderTemplate substitutes ${expression} placeholders. Expressions are
// evaluated against the node's inputs, so referenced upstream outputs are
// addressable by their input port name.
func renderTemplate(tmpl string, env map[string]any) (string, error) {
	var b strings.Builder
	for {
		i := strings.Index(tmpl, "${")
		if i < 0 {
			b.WriteString(tmpl)
			return b.String(), nil
		}
		b.WriteString(tmpl[:i])
		rest := tmpl[i+2:]
		j := strings.Index(rest, "}")
		if j < 0 {
			return "", fmt.Errorf("unterminated placeholder in template %q", tmpl)
		}
		src := rest[:j]
		prog, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
		if err != nil {
			return "", fmt.Errorf("template expression %q: %w", src, err)
		}
		out, err := expr.Run(prog, env)
		if err != nil {
			return "", fmt.Errorf("template expression %q: %w", src, err)
		}
		b.WriteString(fmt.Sprint(out))
		tmpl = rest[j+1:]
	}
}
