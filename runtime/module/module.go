// Package module manages the lifecycle of lifecycle-managed code units: a
// state machine from Unloaded through Loading and Activating to Activated,
// with dependency-ordered activation, load timeouts, and bounded retry.
// Built-in modules ship with the engine; the plugin package layers discovery
// and installation on top of this manager.
package module

import (
	"context"

	"github.com/go-playground/validator/v10"
)

// State is a module's lifecycle state.
type State string

const (
	StateUnloaded   State = "unloaded"
	StateLoading    State = "loading"
	StateLoaded     State = "loaded"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateFailed     State = "failed"
)

// String returns the state's wire name.
func (s State) String() string { return string(s) }

// transient reports whether the state is mid-transition. Dependencies in a
// transient state fail validation.
func (s State) transient() bool { return s == StateLoading || s == StateActivating }

type (
	// Metadata describes a module. ID and Version are mandatory;
	// Dependencies lists module ids that must activate first; Packages
	// lists external package dependencies installed at activation.
	Metadata struct {
		ID           string   `json:"id" yaml:"id" validate:"required"`
		Name         string   `json:"name" yaml:"name"`
		Version      string   `json:"version" yaml:"version" validate:"required"`
		Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
		Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
		Packages     []string `json:"packages,omitempty" yaml:"packages,omitempty"`
		EntryPoint   string   `json:"entry_point,omitempty" yaml:"entry_point,omitempty"`
	}

	// Module is a lifecycle-managed unit of code. Activate and Deactivate
	// may block; the manager bounds them with its load timeout. API is
	// queryable through the manager only while the module is Activated.
	Module interface {
		Metadata() Metadata
		Activate(ctx context.Context) error
		Deactivate(ctx context.Context) error
		API() any
	}

	// LoaderFunc produces a module instance. Loaders run outside the
	// manager lock and must honor ctx cancellation.
	LoaderFunc func(ctx context.Context) (Module, error)

	// PackageInstaller installs a module's declared external package
	// dependencies before activation.
	PackageInstaller interface {
		InstallPackages(ctx context.Context, packages []string) error
	}

	// Static is a Module built from plain values and optional func fields.
	// Built-in modules and tests use it instead of declaring a type.
	Static struct {
		Meta           Metadata
		ActivateFunc   func(ctx context.Context) error
		DeactivateFunc func(ctx context.Context) error
		APIValue       any
	}
)

// Metadata implements Module.
func (s *Static) Metadata() Metadata { return s.Meta }

// Activate implements Module.
func (s *Static) Activate(ctx context.Context) error {
	if s.ActivateFunc == nil {
		return nil
	}
	return s.ActivateFunc(ctx)
}

// Deactivate implements Module.
func (s *Static) Deactivate(ctx context.Context) error {
	if s.DeactivateFunc == nil {
		return nil
	}
	return s.DeactivateFunc(ctx)
}

// API implements Module.
func (s *Static) API() any { return s.APIValue }

var metadataValidator = validator.New()

// ValidateMetadata checks the structural constraints on module metadata.
func ValidateMetadata(m Metadata) error {
	return metadataValidator.Struct(m)
}
