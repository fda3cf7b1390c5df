package registry

type (
	// PortType is the data discriminator carried by node ports. Edge
	// endpoints are checked for compatibility by the workflow validator.
	PortType string

	// WidgetKind selects the UI control rendered for a widget port.
	WidgetKind string

	// DisplayMode is the author-declared rendering preference for an input
	// port. Auto defers to the render rule applied at registration.
	DisplayMode string

	// RenderAs is the resolved rendering of an input port: a handle must be
	// driven by an incoming edge, a widget holds a UI-editable literal.
	RenderAs string

	// Widget carries the UI metadata for a widget port.
	Widget struct {
		Kind        WidgetKind `json:"kind"`
		Min         float64    `json:"min,omitempty"`
		Max         float64    `json:"max,omitempty"`
		Step        float64    `json:"step,omitempty"`
		Options     []string   `json:"options,omitempty"`
		Multiline   bool       `json:"multiline,omitempty"`
		Placeholder string     `json:"placeholder,omitempty"`
	}
)

const (
	TypeModel        PortType = "model"
	TypeImage        PortType = "image"
	TypeLatent       PortType = "latent"
	TypeText         PortType = "text"
	TypeNumber       PortType = "number"
	TypeBoolean      PortType = "boolean"
	TypeConditioning PortType = "conditioning"
	TypeList         PortType = "list"
	TypeAny          PortType = "any"
)

const (
	WidgetSlider    WidgetKind = "slider"
	WidgetCombo     WidgetKind = "combo"
	WidgetToggle    WidgetKind = "toggle"
	WidgetTextInput WidgetKind = "text_input"
	WidgetTextArea  WidgetKind = "text_area"
	WidgetHandle    WidgetKind = "handle"
)

const (
	DisplayWidget DisplayMode = "widget"
	DisplayHandle DisplayMode = "handle"
	DisplayAuto   DisplayMode = "auto"
)

const (
	RenderWidget RenderAs = "widget"
	RenderHandle RenderAs = "handle"
)

// Valid reports whether t belongs to the closed port type set.
func (t PortType) Valid() bool {
	switch t {
	case TypeModel, TypeImage, TypeLatent, TypeText, TypeNumber,
		TypeBoolean, TypeConditioning, TypeList, TypeAny:
		return true
	}
	return false
}

// Compatible reports whether a value flowing from an output of type `from`
// may enter an input of type `to`. The any type matches everything and list
// inputs accept any element flow; all other pairings must match exactly.
func Compatible(from, to PortType) bool {
	if from == TypeAny || to == TypeAny {
		return true
	}
	if to == TypeList {
		return true
	}
	return from == to
}
