package pipeline

import (
	"context"

	"github.com/toydogcat/model-server/internal/registry"
	"github.com/toydogcat/model-server/pkg/types"
)

// DLNode binds required inputs from incoming edges, invokes its pinned
// ModelInstance, and exposes model outputs (translated through its
// output-alias table) to downstream edges. It owns a
// ModelInstanceUnloadGuard for its entire lifetime.
type DLNode struct {
	name          string
	instance      types.ModelInstance
	guard         *registry.ModelInstanceUnloadGuard
	outputAliases map[string]string

	incoming []incomingBinding
	outputs  types.TensorSet
}

func newDLNode(name string, instance types.ModelInstance, guard *registry.ModelInstanceUnloadGuard, outputAliases map[string]string) *DLNode {
	return &DLNode{name: name, instance: instance, guard: guard, outputAliases: outputAliases}
}

func (n *DLNode) Name() string { return n.name }

func (n *DLNode) bindIncoming(from Node, aliases map[string]string) {
	for producerAlias, consumerInput := range aliases {
		n.incoming = append(n.incoming, incomingBinding{from: from, producerAlias: producerAlias, consumerInput: consumerInput})
	}
}

func (n *DLNode) Execute(ctx context.Context) error {
	in := make(types.TensorSet, len(n.incoming))
	for _, b := range n.incoming {
		td, ok := b.from.Output(b.producerAlias)
		if !ok {
			return types.New(types.INVALID_MISSING_INPUT, "node %q: upstream %q has no output %q", n.name, b.from.Name(), b.producerAlias)
		}
		in[b.consumerInput] = td
	}
	out, err := n.instance.Execute(ctx, in)
	if err != nil {
		return err
	}
	n.outputs = out
	return nil
}

// Output translates alias through this node's output-alias table (identity
// if absent, matching validation's rule) before looking up the model's
// raw result.
func (n *DLNode) Output(alias string) (types.TensorDescriptor, bool) {
	concrete := alias
	if mapped, ok := n.outputAliases[alias]; ok {
		concrete = mapped
	}
	td, ok := n.outputs[concrete]
	return td, ok
}

func (n *DLNode) Close() {
	n.guard.Release()
}
