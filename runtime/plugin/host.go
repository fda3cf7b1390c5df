package plugin

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	goplugin "github.com/hashicorp/go-plugin"

	"github.com/weftworks/weft/runtime/module"
	"github.com/weftworks/weft/runtime/plugin/provider"
	"github.com/weftworks/weft/runtime/registry"
	"github.com/weftworks/weft/runtime/telemetry"
)

// Launcher starts a plugin's provider and returns it together with a stop
// function that tears the provider down. The default launcher runs the
// manifest's binary as a go-plugin subprocess; tests substitute in-process
// providers.
type Launcher func(ctx context.Context, dir, binary string) (provider.NodeProvider, func(), error)

// launchProcess hosts the plugin binary through hashicorp/go-plugin.
func launchProcess(_ context.Context, dir, binary string) (provider.NodeProvider, func(), error) {
	cmd := exec.Command(filepath.Join(dir, binary))
	cmd.Dir = dir
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  provider.Handshake,
		Plugins:          provider.PluginMap(nil),
		Cmd:              cmd,
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("start plugin %s: %w", binary, err)
	}
	raw, err := rpcClient.Dispense(provider.PluginName)
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("dispense provider from %s: %w", binary, err)
	}
	np, ok := raw.(provider.NodeProvider)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("plugin %s does not serve a node provider", binary)
	}
	return np, client.Kill, nil
}

// hosted adapts a discovered plugin to the module lifecycle. Activation
// launches the provider and registers its node types with proxy executors;
// deactivation removes them and stops the provider.
type hosted struct {
	man    *Manifest
	dir    string
	reg    *registry.Registry
	launch Launcher
	logger telemetry.Logger

	mu   sync.Mutex
	np   provider.NodeProvider
	stop func()
}

var _ module.Module = (*hosted)(nil)

func (h *hosted) Metadata() module.Metadata { return h.man.Metadata() }

func (h *hosted) Activate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.np != nil {
		return nil
	}
	if h.man.Binary == "" {
		// Asset-only extension: nothing to launch, no node types to
		// register.
		return nil
	}
	np, stop, err := h.launch(ctx, h.dir, h.man.Binary)
	if err != nil {
		return err
	}
	descriptors, err := np.Describe()
	if err != nil {
		stop()
		return fmt.Errorf("describe plugin %s: %w", h.man.ID, err)
	}
	provenance := registry.PluginProvenance(h.man.ID)
	for _, pd := range descriptors {
		if err := h.reg.Register(h.descriptor(np, pd, provenance)); err != nil {
			h.logger.Warn(ctx, "skipping plugin node type",
				"plugin", h.man.ID, "node_type", pd.Name, "err", err)
		}
	}
	h.np, h.stop = np, stop
	return nil
}

func (h *hosted) Deactivate(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.np == nil {
		return nil
	}
	h.reg.RemoveProvenance(registry.PluginProvenance(h.man.ID))
	h.stop()
	h.np, h.stop = nil, nil
	return nil
}

// API exposes the live provider to other modules.
func (h *hosted) API() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.np
}

// descriptor converts a portable descriptor into a registry descriptor
// whose executor proxies into the plugin process.
func (h *hosted) descriptor(np provider.NodeProvider, pd provider.PortableDescriptor, provenance string) *registry.Descriptor {
	nodeType := pd.Name
	opts := []registry.DescriptorOption{
		registry.WithProvenance(provenance),
		registry.WithExecute(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
			return np.Invoke(nodeType, inputs)
		}),
	}
	if pd.Category != "" {
		opts = append(opts, registry.WithCategory(pd.Category))
	}
	if pd.Description != "" {
		opts = append(opts, registry.WithDescription(pd.Description))
	}
	for _, in := range pd.Inputs {
		var popts []registry.PortOption
		if in.HasDefault {
			popts = append(popts, registry.Default(in.Default))
		}
		if in.Required {
			popts = append(popts, registry.Required())
		}
		opts = append(opts, registry.WithInput(in.Name, portType(in.Type), popts...))
	}
	for _, out := range pd.Outputs {
		opts = append(opts, registry.WithOutput(out.Name, portType(out.Type)))
	}
	if pd.CanRollback {
		opts = append(opts, registry.WithRollback(func(_ context.Context, inputs, outputs map[string]any) error {
			return np.Rollback(nodeType, inputs, outputs)
		}))
	}
	return registry.NewDescriptor(nodeType, opts...)
}

// portType maps a wire type name onto the registry's port type set.
// Unknown names degrade to the any type rather than rejecting the plugin.
func portType(s string) registry.PortType {
	pt := registry.PortType(s)
	if !pt.Valid() {
		return registry.TypeAny
	}
	return pt
}
