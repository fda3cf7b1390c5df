package registry

import "context"

type (
	// ExecFunc executes a node: named inputs in, named outputs out.
	// Implementations may block; cancellation is honored between tasks by
	// the scheduler, not inside executors.
	ExecFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

	// RollbackFunc undoes the external side effects of a completed node.
	// It receives the inputs the executor ran with and the outputs it
	// produced.
	RollbackFunc func(ctx context.Context, inputs, outputs map[string]any) error

	// InputPort declares one named input of a node type.
	InputPort struct {
		Name       string      `json:"name"`
		Type       PortType    `json:"type"`
		Default    any         `json:"default,omitempty"`
		HasDefault bool        `json:"has_default,omitempty"`
		Required   bool        `json:"required,omitempty"`
		Display    DisplayMode `json:"display_mode,omitempty"`
		Widget     *Widget     `json:"widget,omitempty"`
		RenderAs   RenderAs    `json:"render_as"`
	}

	// OutputPort declares one named output of a node type.
	OutputPort struct {
		Name string   `json:"name"`
		Type PortType `json:"type"`
	}

	// Descriptor is the registered definition of a node type. Descriptors
	// are created at registration and must not be mutated afterwards;
	// removal is the only lifecycle operation.
	Descriptor struct {
		Name        string
		Category    string
		Description string
		Inputs      []*InputPort
		Outputs     []*OutputPort
		Execute     ExecFunc
		Rollback    RollbackFunc
		Provenance  string

		schemaDoc map[string]any
		schema    *schemaValidator
	}

	// DescriptorOption configures a descriptor under construction.
	DescriptorOption func(*Descriptor)

	// PortOption configures an input port under construction.
	PortOption func(*InputPort)
)

// ProvenanceBuiltin tags node types shipped with the engine. Plugin node
// types carry PluginProvenance(id).
const ProvenanceBuiltin = "builtin"

// PluginProvenance returns the provenance tag for node types contributed by
// the plugin with the given id.
func PluginProvenance(pluginID string) string { return "plugin:" + pluginID }

// NewDescriptor builds a node type descriptor. Each input port's RenderAs is
// resolved here: explicit display modes win; auto renders as a widget iff
// the port has a default and is not declared with a handle widget.
func NewDescriptor(name string, opts ...DescriptorOption) *Descriptor {
	d := &Descriptor{
		Name:       name,
		Category:   "general",
		Provenance: ProvenanceBuiltin,
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, in := range d.Inputs {
		in.RenderAs = resolveRender(in)
	}
	return d
}

func resolveRender(p *InputPort) RenderAs {
	switch p.Display {
	case DisplayWidget:
		return RenderWidget
	case DisplayHandle:
		return RenderHandle
	default:
		if p.HasDefault && (p.Widget == nil || p.Widget.Kind != WidgetHandle) {
			return RenderWidget
		}
		return RenderHandle
	}
}

// WithCategory sets the descriptor category (default "general").
func WithCategory(category string) DescriptorOption {
	return func(d *Descriptor) { d.Category = category }
}

// WithDescription sets the human-readable description.
func WithDescription(description string) DescriptorOption {
	return func(d *Descriptor) { d.Description = description }
}

// WithInput declares an input port.
func WithInput(name string, typ PortType, opts ...PortOption) DescriptorOption {
	return func(d *Descriptor) {
		p := &InputPort{Name: name, Type: typ, Display: DisplayAuto}
		for _, opt := range opts {
			opt(p)
		}
		d.Inputs = append(d.Inputs, p)
	}
}

// WithOutput declares an output port.
func WithOutput(name string, typ PortType) DescriptorOption {
	return func(d *Descriptor) {
		d.Outputs = append(d.Outputs, &OutputPort{Name: name, Type: typ})
	}
}

// WithExecute sets the node executor.
func WithExecute(fn ExecFunc) DescriptorOption {
	return func(d *Descriptor) { d.Execute = fn }
}

// WithRollback sets the optional rollback callable.
func WithRollback(fn RollbackFunc) DescriptorOption {
	return func(d *Descriptor) { d.Rollback = fn }
}

// WithProvenance overrides the provenance tag (default ProvenanceBuiltin).
func WithProvenance(provenance string) DescriptorOption {
	return func(d *Descriptor) { d.Provenance = provenance }
}

// Default gives the port a default value, making it optional and (under
// auto display) widget-rendered.
func Default(v any) PortOption {
	return func(p *InputPort) {
		p.Default = v
		p.HasDefault = true
	}
}

// Required marks the port as mandatory: it must be bound by a literal or an
// incoming edge.
func Required() PortOption {
	return func(p *InputPort) { p.Required = true }
}

// AsHandle forces the port to render as a connection handle.
func AsHandle() PortOption {
	return func(p *InputPort) { p.Display = DisplayHandle }
}

// AsWidget forces the port to render as a UI widget.
func AsWidget() PortOption {
	return func(p *InputPort) { p.Display = DisplayWidget }
}

// WithWidget attaches explicit widget metadata.
func WithWidget(w *Widget) PortOption {
	return func(p *InputPort) { p.Widget = w }
}

// Slider renders the port as a numeric slider with the given bounds.
func Slider(min, max, step float64) PortOption {
	return func(p *InputPort) {
		p.Widget = &Widget{Kind: WidgetSlider, Min: min, Max: max, Step: step}
	}
}

// Combo renders the port as a dropdown over the given options.
func Combo(options ...string) PortOption {
	return func(p *InputPort) {
		p.Widget = &Widget{Kind: WidgetCombo, Options: options}
		if !p.HasDefault && len(options) > 0 {
			p.Default = options[0]
			p.HasDefault = true
		}
	}
}

// Toggle renders the port as a boolean toggle.
func Toggle() PortOption {
	return func(p *InputPort) { p.Widget = &Widget{Kind: WidgetToggle} }
}

// TextInput renders the port as a single-line text input.
func TextInput() PortOption {
	return func(p *InputPort) { p.Widget = &Widget{Kind: WidgetTextInput} }
}

// TextArea renders the port as a multi-line text area.
func TextArea() PortOption {
	return func(p *InputPort) { p.Widget = &Widget{Kind: WidgetTextArea, Multiline: true} }
}

// Input returns the declared input port with the given name, or nil.
func (d *Descriptor) Input(name string) *InputPort {
	for _, p := range d.Inputs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Output returns the declared output port with the given name, or nil.
func (d *Descriptor) Output(name string) *OutputPort {
	for _, p := range d.Outputs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Available reports whether the descriptor carries an executor. Catalog
// stubs restored from disk are unavailable until their module re-registers.
func (d *Descriptor) Available() bool { return d.Execute != nil }
