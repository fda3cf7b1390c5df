package provider

import (
	"encoding/json"
	"net/rpc"
)

// Port values cross the process boundary as JSON so plugins never need the
// host's Go types registered with gob.
type (
	// DescribeReply carries the JSON-encoded descriptor list.
	DescribeReply struct {
		Descriptors []byte
	}

	// InvokeArgs names the node type to run and its JSON-encoded inputs.
	InvokeArgs struct {
		NodeType string
		Inputs   []byte
	}

	// InvokeReply carries the JSON-encoded outputs.
	InvokeReply struct {
		Outputs []byte
	}

	// RollbackArgs carries the completed invocation to undo.
	RollbackArgs struct {
		NodeType string
		Inputs   []byte
		Outputs  []byte
	}

	// RollbackReply is empty; errors travel on the RPC error channel.
	RollbackReply struct{}
)

// providerServer runs inside the plugin process.
type providerServer struct {
	impl NodeProvider
}

func (s *providerServer) Describe(_ struct{}, reply *DescribeReply) error {
	ds, err := s.impl.Describe()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ds)
	if err != nil {
		return err
	}
	reply.Descriptors = raw
	return nil
}

func (s *providerServer) Invoke(args InvokeArgs, reply *InvokeReply) error {
	var inputs map[string]any
	if len(args.Inputs) > 0 {
		if err := json.Unmarshal(args.Inputs, &inputs); err != nil {
			return err
		}
	}
	outputs, err := s.impl.Invoke(args.NodeType, inputs)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(outputs)
	if err != nil {
		return err
	}
	reply.Outputs = raw
	return nil
}

func (s *providerServer) Rollback(args RollbackArgs, _ *RollbackReply) error {
	var inputs, outputs map[string]any
	if len(args.Inputs) > 0 {
		if err := json.Unmarshal(args.Inputs, &inputs); err != nil {
			return err
		}
	}
	if len(args.Outputs) > 0 {
		if err := json.Unmarshal(args.Outputs, &outputs); err != nil {
			return err
		}
	}
	return s.impl.Rollback(args.NodeType, inputs, outputs)
}

// Client is the host-side NodeProvider talking to a plugin process.
type Client struct {
	rpc *rpc.Client
}

var _ NodeProvider = (*Client)(nil)

// Describe implements NodeProvider.
func (c *Client) Describe() ([]PortableDescriptor, error) {
	var reply DescribeReply
	if err := c.rpc.Call("Plugin.Describe", struct{}{}, &reply); err != nil {
		return nil, err
	}
	var ds []PortableDescriptor
	if err := json.Unmarshal(reply.Descriptors, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// Invoke implements NodeProvider.
func (c *Client) Invoke(nodeType string, inputs map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	var reply InvokeReply
	if err := c.rpc.Call("Plugin.Invoke", InvokeArgs{NodeType: nodeType, Inputs: raw}, &reply); err != nil {
		return nil, err
	}
	var outputs map[string]any
	if len(reply.Outputs) > 0 {
		if err := json.Unmarshal(reply.Outputs, &outputs); err != nil {
			return nil, err
		}
	}
	return outputs, nil
}

// Rollback implements NodeProvider.
func (c *Client) Rollback(nodeType string, inputs, outputs map[string]any) error {
	rawIn, err := json.Marshal(inputs)
	if err != nil {
		return err
	}
	rawOut, err := json.Marshal(outputs)
	if err != nil {
		return err
	}
	var reply RollbackReply
	return c.rpc.Call("Plugin.Rollback", RollbackArgs{NodeType: nodeType, Inputs: rawIn, Outputs: rawOut}, &reply)
}
