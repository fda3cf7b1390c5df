// Package registry holds the node type catalog: descriptors with typed
// ports and widget metadata, their executors and rollback callables, and
// workflow validation against the catalog.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/weftworks/weft/runtime/graph"
)

// MissingNodeTypesError reports node types referenced by a workflow but
// absent from the catalog. Missing is sorted and deduplicated.
type MissingNodeTypesError struct {
	Missing []string
}

// Error implements error.
func (e *MissingNodeTypesError) Error() string {
	return fmt.Sprintf("workflow references unregistered node types: %s",
		strings.Join(e.Missing, ", "))
}

// Registry is the process-wide node type catalog. Reads are concurrent;
// writes are serialized. Descriptors must not be mutated after registration.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{descriptors: make(map[string]*Descriptor)}
}

// Register adds a descriptor to the catalog. The input schema is derived
// and compiled here. Registering a name twice is an error unless the
// existing entry is an unavailable catalog stub, which a live descriptor
// may replace.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("descriptor is nil")
	}
	if d.Name == "" {
		return fmt.Errorf("descriptor name is required")
	}
	for _, p := range d.Inputs {
		if !p.Type.Valid() {
			return fmt.Errorf("node type %q: input %q has invalid port type %q", d.Name, p.Name, p.Type)
		}
	}
	for _, p := range d.Outputs {
		if !p.Type.Valid() {
			return fmt.Errorf("node type %q: output %q has invalid port type %q", d.Name, p.Name, p.Type)
		}
	}

	d.schemaDoc = deriveSchemaDoc(d)
	schema, err := newSchemaValidator(d.schemaDoc)
	if err != nil {
		return fmt.Errorf("node type %q: %w", d.Name, err)
	}
	d.schema = schema

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.descriptors[d.Name]; ok && existing.Available() {
		return fmt.Errorf("node type %q already registered", d.Name)
	}
	r.descriptors[d.Name] = d
	return nil
}

// MustRegister registers d and panics on error. For static built-in
// catalogs wired at startup.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Remove deletes the named descriptor. It reports whether an entry was
// removed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descriptors[name]; !ok {
		return false
	}
	delete(r.descriptors, name)
	return true
}

// RemoveProvenance deletes every descriptor carrying the given provenance
// tag and returns the removed names, sorted. Used when a plugin unloads.
func (r *Registry) RemoveProvenance(provenance string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for name, d := range r.descriptors {
		if d.Provenance == provenance {
			delete(r.descriptors, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// Lookup returns the named descriptor.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// Executor returns the executor registered for the named node type. Catalog
// stubs have no executor and report false.
func (r *Registry) Executor(name string) (ExecFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok || d.Execute == nil {
		return nil, false
	}
	return d.Execute, true
}

// RollbackFunc returns the rollback callable registered for the named node
// type, if any.
func (r *Registry) RollbackFunc(name string) (RollbackFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok || d.Rollback == nil {
		return nil, false
	}
	return d.Rollback, true
}

// Descriptors returns all registered descriptors sorted by name.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered node types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// Clear removes every descriptor and returns how many were removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.descriptors)
	r.descriptors = make(map[string]*Descriptor)
	return n
}

// ValidateWorkflow returns the node types referenced by g but absent from
// the catalog, sorted and deduplicated. An empty result means the workflow
// resolves completely.
func (r *Registry) ValidateWorkflow(g *graph.Graph) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, typ := range g.TypeNames() {
		if _, ok := r.descriptors[typ]; !ok {
			missing = append(missing, typ)
		}
	}
	sort.Strings(missing)
	return missing
}

// ValidateBindings checks every node's input bindings against its declared
// schema: binding names must match declared ports, required ports must be
// bound or defaulted, literal values must satisfy the derived schema, and
// edge endpoints must have compatible port types. Nodes whose type is not
// registered are skipped; ValidateWorkflow reports those.
func (r *Registry) ValidateBindings(g *graph.Graph) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range g.Nodes() {
		d, ok := r.descriptors[n.Type]
		if !ok {
			continue
		}

		literals := make(map[string]any)
		bound := make(map[string]bool, len(n.Inputs))
		ports := make([]string, 0, len(n.Inputs))
		for port := range n.Inputs {
			ports = append(ports, port)
		}
		sort.Strings(ports)
		for _, port := range ports {
			if d.Input(port) == nil {
				return &graph.MalformedGraphError{
					Reason: fmt.Sprintf("node %q: input %q is not declared by node type %q", n.ID, port, n.Type),
				}
			}
			bound[port] = true
			v := n.Inputs[port]
			ref, isRef, err := graph.AsRef(v)
			if err != nil {
				return &graph.MalformedGraphError{
					Reason: fmt.Sprintf("node %q input %q: %v", n.ID, port, err),
				}
			}
			if isRef {
				if err := r.checkEdgeTypes(g, n, port, ref, d); err != nil {
					return err
				}
				continue
			}
			literals[port] = v
		}

		for _, p := range d.Inputs {
			if p.Required && !p.HasDefault && !bound[p.Name] {
				return &graph.MalformedGraphError{
					Reason: fmt.Sprintf("node %q: required input %q is not bound", n.ID, p.Name),
				}
			}
		}

		if err := d.schema.validate(literals); err != nil {
			return &graph.MalformedGraphError{
				Reason: fmt.Sprintf("node %q: invalid inputs: %v", n.ID, err),
			}
		}
	}
	return nil
}

// checkEdgeTypes verifies port type compatibility across one reference
// binding. Source nodes with unregistered types are skipped.
func (r *Registry) checkEdgeTypes(g *graph.Graph, n *graph.Node, port string, ref graph.Ref, d *Descriptor) error {
	src := g.Node(ref.Node)
	if src == nil {
		return nil // parse already rejects dangling refs
	}
	sd, ok := r.descriptors[src.Type]
	if !ok {
		return nil
	}
	out := sd.Output(ref.Output)
	if out == nil {
		return &graph.MalformedGraphError{
			Reason: fmt.Sprintf("node %q input %q: node type %q declares no output %q", n.ID, port, src.Type, ref.Output),
		}
	}
	in := d.Input(port)
	if !Compatible(out.Type, in.Type) {
		return &graph.MalformedGraphError{
			Reason: fmt.Sprintf("node %q input %q: port type %q is not compatible with %q", n.ID, port, out.Type, in.Type),
		}
	}
	return nil
}

// ValidateInputs checks a map of resolved or literal input values for the
// named node type against its derived schema. Reference bindings still
// present in the map are exempt.
func (r *Registry) ValidateInputs(nodeType string, inputs map[string]any) error {
	r.mu.RLock()
	d, ok := r.descriptors[nodeType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown node type %q", nodeType)
	}

	literals := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if _, isRef, err := graph.AsRef(v); err != nil || isRef {
			continue
		}
		literals[k] = v
	}
	if err := d.schema.validate(literals); err != nil {
		return fmt.Errorf("node type %q: invalid inputs: %w", nodeType, err)
	}
	return nil
}
