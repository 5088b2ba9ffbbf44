package pipeline

import (
	"context"
	"fmt"

	"github.com/toydogcat/model-server/internal/registry"
	"github.com/toydogcat/model-server/pkg/types"
)

// ModelResolver is the slice of ModelManager the pipeline subsystem needs:
// schema/mode inspection at registration time, and guarded resolution at
// request time. *registry.ModelManager satisfies this directly; tests can
// substitute a smaller fake.
type ModelResolver interface {
	Inspect(name string, version types.ModelVersion) (types.ModelInstance, error)
	GetModelInstance(name string, version types.ModelVersion) (types.ModelInstance, *registry.ModelInstanceUnloadGuard, error)
}

// PipelineDefinition is an immutable, post-validation blueprint. Construct
// one only through PipelineFactory.CreateDefinition, which runs both
// validation phases before it becomes visible to Create.
type PipelineDefinition struct {
	name        string
	nodeInfos   []NodeInfo
	connections []Connection

	byName   map[string]*NodeInfo
	incoming map[string][]Connection // consumer node name -> its incoming connections

	validated bool
}

func newPipelineDefinition(name string, nodeInfos []NodeInfo, connections []Connection) *PipelineDefinition {
	d := &PipelineDefinition{
		name:        name,
		nodeInfos:   append([]NodeInfo(nil), nodeInfos...),
		connections: append([]Connection(nil), connections...),
		byName:      make(map[string]*NodeInfo, len(nodeInfos)),
		incoming:    make(map[string][]Connection, len(nodeInfos)),
	}
	for i := range d.nodeInfos {
		d.byName[d.nodeInfos[i].Name] = &d.nodeInfos[i]
	}
	for _, c := range d.connections {
		d.incoming[c.To] = append(d.incoming[c.To], c)
	}
	return d
}

func (d *PipelineDefinition) Name() string { return d.name }

// validate runs Phase 1 (per-node) then Phase 2 (cycle/connectivity)
// validation.
func (d *PipelineDefinition) validate(manager ModelResolver) error {
	if err := d.validateNodes(manager); err != nil {
		return err
	}
	if err := d.validateForCycles(); err != nil {
		return err
	}
	d.validated = true
	return nil
}

// validateNodes is Phase 1 of definition validation: per-node structural
// and schema checks.
func (d *PipelineDefinition) validateNodes(manager ModelResolver) error {
	seen := make(map[string]bool, len(d.nodeInfos))
	var entryCount, exitCount int
	for _, n := range d.nodeInfos {
		if seen[n.Name] {
			return types.New(types.PIPELINE_NODE_NAME_DUPLICATE, "node name %q used more than once", n.Name)
		}
		seen[n.Name] = true
		switch n.Kind {
		case NodeEntry:
			entryCount++
		case NodeExit:
			exitCount++
		case NodeDL:
		default:
			return types.New(types.PIPELINE_NODE_WRONG_KIND_CONFIGURATION, "node %q has unknown kind %v", n.Name, n.Kind)
		}
	}
	if entryCount == 0 || exitCount == 0 {
		return types.New(types.PIPELINE_MISSING_ENTRY_OR_EXIT, "pipeline %q must have exactly one ENTRY and one EXIT node", d.name)
	}
	if entryCount > 1 {
		return types.New(types.PIPELINE_MULTIPLE_ENTRY_NODES, "pipeline %q has %d ENTRY nodes", d.name, entryCount)
	}
	if exitCount > 1 {
		return types.New(types.PIPELINE_MULTIPLE_EXIT_NODES, "pipeline %q has %d EXIT nodes", d.name, exitCount)
	}

	for _, n := range d.nodeInfos {
		var nodeInputs types.TensorSchema
		if n.Kind == NodeDL {
			inst, err := manager.Inspect(n.ModelName, n.ModelVersion)
			if err != nil {
				return types.New(types.MODEL_NAME_MISSING, "node %q: %v", n.Name, err)
			}
			if err := requireStaticGeometry(n.Name, n.ModelName, inst); err != nil {
				return err
			}
			nodeInputs = inst.InputsInfo()
		}

		for _, conn := range d.incoming[n.Name] {
			sourceInfo, ok := d.byName[conn.From]
			if !ok {
				return types.New(types.PIPELINE_NODE_REFERENCE_MISSING, "node %q: connection references unknown node %q", n.Name, conn.From)
			}

			if len(conn.Aliases) == 0 {
				return types.New(types.PIPELINE_DEFINITION_MISSING_DEPENDENCY_MAPPING, "connection %s->%s has no alias mapping", conn.From, conn.To)
			}

			if sourceInfo.Kind != NodeDL {
				continue
			}

			sourceInst, err := manager.Inspect(sourceInfo.ModelName, sourceInfo.ModelVersion)
			if err != nil {
				return types.New(types.MODEL_MISSING, "node %q: source %q: %v", n.Name, conn.From, err)
			}
			sourceOutputs := sourceInst.OutputsInfo()

			for producerAlias, consumerInput := range conn.Aliases {
				outputName := producerAlias
				if mapped, ok := sourceInfo.OutputAliases[producerAlias]; ok {
					outputName = mapped
				}
				if _, ok := sourceOutputs[outputName]; !ok {
					return types.New(types.INVALID_MISSING_OUTPUT, "connection %s->%s: source model %q has no output %q", conn.From, conn.To, sourceInfo.ModelName, outputName)
				}
				if n.Kind != NodeDL {
					continue
				}
				if _, ok := nodeInputs[consumerInput]; !ok {
					return types.New(types.INVALID_MISSING_INPUT, "connection %s->%s: model %q has no input %q", conn.From, conn.To, n.ModelName, consumerInput)
				}
			}
		}
	}
	return nil
}

func requireStaticGeometry(nodeName, modelName string, inst types.ModelInstance) error {
	if inst.BatchingMode() == types.ModeAuto {
		return types.New(types.FORBIDDEN_MODEL_DYNAMIC_PARAMETER, "node %q: model %q has dynamic batching, forbidden in pipelines", nodeName, modelName)
	}
	for tensorName, spec := range inst.InputsInfo() {
		if spec.ShapeMode == types.ModeAuto {
			return types.New(types.FORBIDDEN_MODEL_DYNAMIC_PARAMETER, "node %q: model %q input %q has dynamic shape, forbidden in pipelines", nodeName, modelName, tensorName)
		}
	}
	for tensorName, spec := range inst.OutputsInfo() {
		if spec.ShapeMode == types.ModeAuto {
			return types.New(types.FORBIDDEN_MODEL_DYNAMIC_PARAMETER, "node %q: model %q output %q has dynamic shape, forbidden in pipelines", nodeName, modelName, tensorName)
		}
	}
	return nil
}

// color states used by validateForCycles' three-color DFS. A single
// visited set would conflate a diamond (two paths converging on a shared
// descendant) with a cycle; white/gray/black distinguishes "never visited"
// from "on the current path" from "fully explored".
type color int

const (
	white color = iota
	gray
	black
)

// validateForCycles is Phase 2 of definition validation: a forward DFS
// from ENTRY, equivalent to an edge-reversed DFS from EXIT.
func (d *PipelineDefinition) validateForCycles() error {
	outgoing := make(map[string][]Connection, len(d.nodeInfos))
	for _, c := range d.connections {
		outgoing[c.From] = append(outgoing[c.From], c)
	}

	var entryName string
	for _, n := range d.nodeInfos {
		if n.Kind == NodeEntry {
			entryName = n.Name
			break
		}
	}
	if entryName == "" {
		return types.New(types.PIPELINE_MISSING_ENTRY_OR_EXIT, "pipeline %q has no ENTRY node", d.name)
	}

	colors := make(map[string]color, len(d.nodeInfos))
	for _, n := range d.nodeInfos {
		colors[n.Name] = white
	}

	var visit func(name string) error
	visit = func(name string) error {
		colors[name] = gray
		for _, c := range outgoing[name] {
			if c.To == name {
				return types.New(types.PIPELINE_CYCLE_FOUND, "node %q is connected to itself", name)
			}
			switch colors[c.To] {
			case white:
				if err := visit(c.To); err != nil {
					return err
				}
			case gray:
				return types.New(types.PIPELINE_CYCLE_FOUND, "cycle found: %q reaches %q which is still on the current path", name, c.To)
			case black:
				// already fully explored via another path: fine, this
				// is a diamond, not a cycle.
			}
		}
		colors[name] = black
		return nil
	}

	if err := visit(entryName); err != nil {
		return err
	}

	visited := 0
	for _, c := range colors {
		if c == black {
			visited++
		}
	}
	if visited < len(d.nodeInfos) {
		return types.New(types.PIPELINE_CONTAINS_UNCONNECTED_NODES, "pipeline %q has nodes unreachable from ENTRY", d.name)
	}
	return nil
}

// create instantiates concrete Nodes from this definition, wires edges,
// and transfers ownership into a Pipeline. If a DL node's model has been
// retired since validation, resolution fails (MODEL_VERSION_NOT_LOADED for a
// pinned version, MODEL_VERSION_MISSING for a version-0 node left without a
// default) and no partial Pipeline is observable: guards already acquired for
// earlier nodes in this call are released before returning.
func (d *PipelineDefinition) create(ctx context.Context, req types.PredictRequest, resp types.PredictResponse, manager ModelResolver) (*Pipeline, error) {
	if !d.validated {
		panic("pipeline: create called on an unvalidated PipelineDefinition")
	}

	nodes := make(map[string]Node, len(d.nodeInfos))
	var guards []*registry.ModelInstanceUnloadGuard
	cleanup := func() {
		for _, g := range guards {
			g.Release()
		}
	}

	var entry *EntryNode
	var exit *ExitNode
	for _, info := range d.nodeInfos {
		switch info.Kind {
		case NodeEntry:
			n := newEntryNode(info.Name, req)
			entry = n
			nodes[info.Name] = n
		case NodeExit:
			n := newExitNode(info.Name, resp)
			exit = n
			nodes[info.Name] = n
		case NodeDL:
			inst, guard, err := manager.GetModelInstance(info.ModelName, info.ModelVersion)
			if err != nil {
				cleanup()
				return nil, err
			}
			guards = append(guards, guard)
			nodes[info.Name] = newDLNode(info.Name, inst, guard, info.OutputAliases)
		default:
			cleanup()
			return nil, fmt.Errorf("pipeline: unknown node kind %v for node %q", info.Kind, info.Name)
		}
	}

	for _, c := range d.connections {
		dst, ok := nodes[c.To]
		if !ok {
			cleanup()
			return nil, types.New(types.PIPELINE_NODE_REFERENCE_MISSING, "connection references unknown node %q", c.To)
		}
		src, ok := nodes[c.From]
		if !ok {
			cleanup()
			return nil, types.New(types.PIPELINE_NODE_REFERENCE_MISSING, "connection references unknown node %q", c.From)
		}
		dst.bindIncoming(src, c.Aliases)
	}

	order, err := topoOrder(d.nodeInfos, d.connections)
	if err != nil {
		cleanup()
		return nil, err
	}
	ordered := make([]Node, 0, len(order))
	for _, name := range order {
		ordered = append(ordered, nodes[name])
	}

	return &Pipeline{name: d.name, nodes: ordered, byName: nodes, entry: entry, exit: exit}, nil
}
