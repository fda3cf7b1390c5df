// Package builtin ships the node types every weft installation carries.
// They are registered through a module so the lifecycle manager governs
// them the same way it governs plugin-provided nodes.
package builtin

import (
	"context"

	"github.com/weftworks/weft/runtime/module"
	"github.com/weftworks/weft/runtime/registry"
)

// ModuleID is the module id the built-in node set registers under.
const ModuleID = "nodes-builtin"

// Module wraps the built-in node set in a lifecycle-managed module.
// Activation registers the node types; deactivation removes them.
func Module(reg *registry.Registry) module.Module {
	return &module.Static{
		Meta: module.Metadata{
			ID:          ModuleID,
			Name:        "Built-in nodes",
			Version:     "1.0.0",
			Description: "Control flow, math, text, and utility node types.",
		},
		ActivateFunc: func(context.Context) error {
			return Register(reg)
		},
		DeactivateFunc: func(context.Context) error {
			reg.RemoveProvenance(registry.ProvenanceBuiltin)
			return nil
		},
	}
}

// Register adds every built-in node type to the registry.
func Register(reg *registry.Registry) error {
	for _, d := range Descriptors() {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Descriptors returns fresh descriptors for the built-in node types.
func Descriptors() []*registry.Descriptor {
	var out []*registry.Descriptor
	out = append(out, controlDescriptors()...)
	out = append(out, mathDescriptors()...)
	out = append(out, textDescriptors()...)
	out = append(out, utilDescriptors()...)
	return out
}
