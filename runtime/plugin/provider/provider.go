// Package provider is the contract between the weft host and node plugin
// binaries. A plugin implements NodeProvider and calls Serve from main; the
// host launches the binary through hashicorp/go-plugin and talks to it over
// net/rpc with JSON-encoded port values.
package provider

import (
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"
)

// PluginName is the dispense key for the node provider plugin.
const PluginName = "node_provider"

// Handshake guards against launching a binary that is not a weft plugin.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "WEFT_PLUGIN",
	MagicCookieValue: "weft-node-provider-v1",
}

type (
	// PortablePort is the wire form of an input or output port declaration.
	PortablePort struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		Default    any    `json:"default,omitempty"`
		HasDefault bool   `json:"has_default,omitempty"`
		Required   bool   `json:"required,omitempty"`
	}

	// PortableDescriptor is the wire form of a node type definition. The
	// host converts it into a registry descriptor whose executor proxies
	// back to the plugin process.
	PortableDescriptor struct {
		Name        string         `json:"name"`
		Category    string         `json:"category,omitempty"`
		Description string         `json:"description,omitempty"`
		Inputs      []PortablePort `json:"inputs,omitempty"`
		Outputs     []PortablePort `json:"outputs,omitempty"`
		CanRollback bool           `json:"can_rollback,omitempty"`
	}

	// NodeProvider is implemented by plugin binaries. Describe lists the
	// node types the plugin contributes; Invoke executes one of them;
	// Rollback undoes a completed invocation for types that declared
	// CanRollback.
	NodeProvider interface {
		Describe() ([]PortableDescriptor, error)
		Invoke(nodeType string, inputs map[string]any) (map[string]any, error)
		Rollback(nodeType string, inputs, outputs map[string]any) error
	}
)

// Serve hosts the provider implementation. It blocks for the lifetime of
// the plugin process and is the only call a plugin main needs.
func Serve(impl NodeProvider) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap(impl),
	})
}

// PluginMap builds the go-plugin plugin set. The host passes a nil
// implementation; plugin binaries pass theirs.
func PluginMap(impl NodeProvider) map[string]goplugin.Plugin {
	return map[string]goplugin.Plugin{
		PluginName: &providerPlugin{impl: impl},
	}
}

// providerPlugin adapts NodeProvider to go-plugin's netrpc protocol.
type providerPlugin struct {
	impl NodeProvider
}

func (p *providerPlugin) Server(*goplugin.MuxBroker) (any, error) {
	return &providerServer{impl: p.impl}, nil
}

func (p *providerPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &Client{rpc: c}, nil
}
