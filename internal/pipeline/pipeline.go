package pipeline

import (
	"context"

	"github.com/toydogcat/model-server/pkg/types"
)

// Pipeline is a short-lived, per-request instantiation of a
// PipelineDefinition's DAG. It owns its Nodes exclusively;
// nodes are stored in a topological order consistent with the definition's
// edges so single-threaded, cooperative execution suffices.
type Pipeline struct {
	name   string
	nodes  []Node // topological order
	byName map[string]Node
	entry  *EntryNode
	exit   *ExitNode
}

func (p *Pipeline) Name() string { return p.name }

// Execute runs every node in topological order. Cancellation is checked
// between node dispatches, not inside them: an in-flight DLNode's external
// Execute call is allowed to finish naturally.
func (p *Pipeline) Execute(ctx context.Context) error {
	defer p.release()
	for _, n := range p.nodes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := n.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) release() {
	for _, n := range p.nodes {
		n.Close()
	}
}

// topoOrder returns node names in an order consistent with connections
// (Kahn's algorithm). The definition has already been validated acyclic by
// the time this runs, so a cycle here indicates a programmer error: a
// Pipeline built from an unvalidated definition.
func topoOrder(nodeInfos []NodeInfo, connections []Connection) ([]string, error) {
	indegree := make(map[string]int, len(nodeInfos))
	outgoing := make(map[string][]string, len(nodeInfos))
	for _, n := range nodeInfos {
		indegree[n.Name] = 0
	}
	for _, c := range connections {
		outgoing[c.From] = append(outgoing[c.From], c.To)
		indegree[c.To]++
	}

	var queue []string
	for _, n := range nodeInfos {
		if indegree[n.Name] == 0 {
			queue = append(queue, n.Name)
		}
	}

	order := make([]string, 0, len(nodeInfos))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, next := range outgoing[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(nodeInfos) {
		return nil, types.New(types.PIPELINE_CYCLE_FOUND, "pipeline contains a cycle undetected at validation time")
	}
	return order, nil
}
