package pipeline

import (
	"context"

	"github.com/toydogcat/model-server/pkg/types"
)

// Node is the per-request execution primitive: something that can bind
// inputs from upstream, execute, and expose outputs to downstream. Pipeline
// owns Nodes exclusively; edges are non-owning references.
type Node interface {
	Name() string
	// bindIncoming records an incoming edge from "from", where aliases maps
	// the producer's output alias to this node's input name.
	bindIncoming(from Node, aliases map[string]string)
	Execute(ctx context.Context) error
	// Output returns the tensor this node advertises under alias, if any.
	Output(alias string) (types.TensorDescriptor, bool)
	// Close releases any resource the node holds (a DLNode's guard).
	Close()
}

type incomingBinding struct {
	from          Node
	producerAlias string
	consumerInput string
}

// EntryNode sources tensors from the inbound request.
type EntryNode struct {
	name    string
	req     types.PredictRequest
	outputs types.TensorSet
}

func newEntryNode(name string, req types.PredictRequest) *EntryNode {
	return &EntryNode{name: name, req: req}
}

func (n *EntryNode) Name() string { return n.name }

func (n *EntryNode) bindIncoming(Node, map[string]string) {
	// ENTRY has no incoming edges by construction (validated at
	// registration time); nothing to bind.
}

func (n *EntryNode) Execute(ctx context.Context) error {
	n.outputs = make(types.TensorSet)
	for _, name := range n.req.InputNames() {
		if td, ok := n.req.Input(name); ok {
			n.outputs[name] = td
		}
	}
	return nil
}

func (n *EntryNode) Output(alias string) (types.TensorDescriptor, bool) {
	td, ok := n.outputs[alias]
	return td, ok
}

func (n *EntryNode) Close() {}

// ExitNode sinks tensors into the outbound response.
type ExitNode struct {
	name     string
	resp     types.PredictResponse
	incoming []incomingBinding
}

func newExitNode(name string, resp types.PredictResponse) *ExitNode {
	return &ExitNode{name: name, resp: resp}
}

func (n *ExitNode) Name() string { return n.name }

func (n *ExitNode) bindIncoming(from Node, aliases map[string]string) {
	for producerAlias, consumerInput := range aliases {
		n.incoming = append(n.incoming, incomingBinding{from: from, producerAlias: producerAlias, consumerInput: consumerInput})
	}
}

func (n *ExitNode) Execute(ctx context.Context) error {
	for _, b := range n.incoming {
		td, ok := b.from.Output(b.producerAlias)
		if !ok {
			return types.New(types.INVALID_MISSING_OUTPUT, "exit node %q: upstream %q has no output %q", n.name, b.from.Name(), b.producerAlias)
		}
		n.resp.SetOutput(b.consumerInput, td)
	}
	return nil
}

func (n *ExitNode) Output(string) (types.TensorDescriptor, bool) { return types.TensorDescriptor{}, false }

func (n *ExitNode) Close() {}
