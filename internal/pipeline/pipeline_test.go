package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toydogcat/model-server/internal/pipeline"
	"github.com/toydogcat/model-server/internal/registry"
	"github.com/toydogcat/model-server/internal/registry/teststub"
	"github.com/toydogcat/model-server/pkg/types"
)

func upperSchema(names ...string) types.TensorSchema {
	schema := make(types.TensorSchema, len(names))
	for _, n := range names {
		schema[n] = types.TensorSpec{DType: types.DTypeFP32, ShapeMode: types.ModeFixed}
	}
	return schema
}

func newTestManager(t *testing.T) *registry.ModelManager {
	t.Helper()
	return registry.NewModelManager()
}

func loadStub(t *testing.T, mm *registry.ModelManager, name string, inputs, outputs types.TensorSchema, batch types.Mode) {
	t.Helper()
	loadMappedStub(t, mm, name, inputs, outputs, batch, nil)
}

// loadMappedStub is loadStub plus an explicit output->input copy mapping,
// needed whenever a stub's output tensor name differs from the input it
// should echo (teststub.Instance defaults to same-name passthrough).
func loadMappedStub(t *testing.T, mm *registry.ModelManager, name string, inputs, outputs types.TensorSchema, batch types.Mode, mapping map[string]string) {
	t.Helper()
	mm.RegisterModel(name, func(n string, v types.ModelVersion) types.ModelInstance {
		inst := teststub.New(n, v, inputs, outputs, batch)
		inst.Mapping = mapping
		return inst
	})
	require.NoError(t, mm.LoadVersions(context.Background(), name, []types.ModelVersion{1}, types.ModelConfig{}))
}

// simplePipeline builds ENTRY -> preprocess -> EXIT, a straight-line chain
// matching scenario S2's simplest shape.
func simplePipeline(t *testing.T, mm *registry.ModelManager) *pipeline.PipelineFactory {
	t.Helper()
	loadMappedStub(t, mm, "preprocess", upperSchema("raw"), upperSchema("normalized"), types.ModeFixed, map[string]string{"normalized": "raw"})

	factory := pipeline.NewPipelineFactory()
	nodeInfos := []pipeline.NodeInfo{
		{Name: "entry", Kind: pipeline.NodeEntry},
		{Name: "pre", Kind: pipeline.NodeDL, ModelName: "preprocess", ModelVersion: 1},
		{Name: "exit", Kind: pipeline.NodeExit},
	}
	connections := []pipeline.Connection{
		{From: "entry", To: "pre", Aliases: map[string]string{"raw": "raw"}},
		{From: "pre", To: "exit", Aliases: map[string]string{"normalized": "normalized"}},
	}
	require.NoError(t, factory.CreateDefinition("simple", nodeInfos, connections, mm))
	return factory
}

func TestSimplePipelinePredictRoundTrips(t *testing.T) {
	mm := newTestManager(t)
	factory := simplePipeline(t, mm)

	req := &types.TensorSetRequest{Inputs: types.TensorSet{"raw": {DType: types.DTypeFP32, Data: []byte{1, 2, 3, 4}}}}
	resp := types.NewTensorSetResponse()

	p, err := factory.Create(context.Background(), "simple", req, resp, mm)
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	assert.Equal(t, []byte{1, 2, 3, 4}, resp.Outputs["normalized"].Data)
}

// diamondPipeline builds ENTRY -> {left, right} -> join -> EXIT, matching
// scenario S2's fan-out/fan-in shape.
func diamondPipeline(t *testing.T, mm *registry.ModelManager) *pipeline.PipelineFactory {
	t.Helper()
	loadMappedStub(t, mm, "left", upperSchema("in"), upperSchema("out"), types.ModeFixed, map[string]string{"out": "in"})
	loadMappedStub(t, mm, "right", upperSchema("in"), upperSchema("out"), types.ModeFixed, map[string]string{"out": "in"})
	loadMappedStub(t, mm, "join", upperSchema("a", "b"), upperSchema("merged"), types.ModeFixed, map[string]string{"merged": "a"})

	factory := pipeline.NewPipelineFactory()
	nodeInfos := []pipeline.NodeInfo{
		{Name: "entry", Kind: pipeline.NodeEntry},
		{Name: "left", Kind: pipeline.NodeDL, ModelName: "left", ModelVersion: 1},
		{Name: "right", Kind: pipeline.NodeDL, ModelName: "right", ModelVersion: 1},
		{Name: "join", Kind: pipeline.NodeDL, ModelName: "join", ModelVersion: 1},
		{Name: "exit", Kind: pipeline.NodeExit},
	}
	connections := []pipeline.Connection{
		{From: "entry", To: "left", Aliases: map[string]string{"in": "in"}},
		{From: "entry", To: "right", Aliases: map[string]string{"in": "in"}},
		{From: "left", To: "join", Aliases: map[string]string{"out": "a"}},
		{From: "right", To: "join", Aliases: map[string]string{"out": "b"}},
		{From: "join", To: "exit", Aliases: map[string]string{"merged": "merged"}},
	}
	require.NoError(t, factory.CreateDefinition("diamond", nodeInfos, connections, mm))
	return factory
}

func TestDiamondPipelinePredict(t *testing.T) {
	mm := newTestManager(t)
	factory := diamondPipeline(t, mm)

	req := &types.TensorSetRequest{Inputs: types.TensorSet{"in": {DType: types.DTypeFP32, Data: []byte{7}}}}
	resp := types.NewTensorSetResponse()

	p, err := factory.Create(context.Background(), "diamond", req, resp, mm)
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	assert.Equal(t, []byte{7}, resp.Outputs["merged"].Data)
}

func TestCreateDefinitionRejectsDuplicateName(t *testing.T) {
	mm := newTestManager(t)
	factory := simplePipeline(t, mm)

	err := factory.CreateDefinition("simple", nil, nil, mm)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.PIPELINE_DEFINITION_ALREADY_EXIST))
}

func TestCreateDefinitionRejectsDuplicateNodeName(t *testing.T) {
	mm := newTestManager(t)
	loadStub(t, mm, "m", upperSchema("x"), upperSchema("y"), types.ModeFixed)
	factory := pipeline.NewPipelineFactory()

	nodeInfos := []pipeline.NodeInfo{
		{Name: "n1", Kind: pipeline.NodeEntry},
		{Name: "n1", Kind: pipeline.NodeExit},
	}
	err := factory.CreateDefinition("bad", nodeInfos, nil, mm)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.PIPELINE_NODE_NAME_DUPLICATE))
}

func TestCreateDefinitionRejectsMultipleEntryNodes(t *testing.T) {
	mm := newTestManager(t)
	factory := pipeline.NewPipelineFactory()
	nodeInfos := []pipeline.NodeInfo{
		{Name: "e1", Kind: pipeline.NodeEntry},
		{Name: "e2", Kind: pipeline.NodeEntry},
		{Name: "x", Kind: pipeline.NodeExit},
	}
	err := factory.CreateDefinition("bad", nodeInfos, nil, mm)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.PIPELINE_MULTIPLE_ENTRY_NODES))
}

func TestCreateDefinitionRejectsAutoBatchingModel(t *testing.T) {
	mm := newTestManager(t)
	loadStub(t, mm, "dynamic", upperSchema("x"), upperSchema("y"), types.ModeAuto)

	factory := pipeline.NewPipelineFactory()
	nodeInfos := []pipeline.NodeInfo{
		{Name: "entry", Kind: pipeline.NodeEntry},
		{Name: "d", Kind: pipeline.NodeDL, ModelName: "dynamic", ModelVersion: 1},
		{Name: "exit", Kind: pipeline.NodeExit},
	}
	connections := []pipeline.Connection{
		{From: "entry", To: "d", Aliases: map[string]string{"x": "x"}},
		{From: "d", To: "exit", Aliases: map[string]string{"y": "y"}},
	}
	err := factory.CreateDefinition("bad", nodeInfos, connections, mm)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.FORBIDDEN_MODEL_DYNAMIC_PARAMETER))
}

func TestCreateDefinitionRejectsCycle(t *testing.T) {
	mm := newTestManager(t)
	loadStub(t, mm, "a", upperSchema("in"), upperSchema("out"), types.ModeFixed)
	loadStub(t, mm, "b", upperSchema("in"), upperSchema("out"), types.ModeFixed)
	loadStub(t, mm, "c", upperSchema("in"), upperSchema("out"), types.ModeFixed)

	factory := pipeline.NewPipelineFactory()
	nodeInfos := []pipeline.NodeInfo{
		{Name: "entry", Kind: pipeline.NodeEntry},
		{Name: "a", Kind: pipeline.NodeDL, ModelName: "a", ModelVersion: 1},
		{Name: "b", Kind: pipeline.NodeDL, ModelName: "b", ModelVersion: 1},
		{Name: "c", Kind: pipeline.NodeDL, ModelName: "c", ModelVersion: 1},
		{Name: "exit", Kind: pipeline.NodeExit},
	}
	connections := []pipeline.Connection{
		{From: "entry", To: "a", Aliases: map[string]string{"in": "in"}},
		{From: "a", To: "b", Aliases: map[string]string{"out": "in"}},
		{From: "b", To: "c", Aliases: map[string]string{"out": "in"}},
		{From: "c", To: "a", Aliases: map[string]string{"out": "in"}},
		{From: "c", To: "exit", Aliases: map[string]string{"out": "out"}},
	}
	err := factory.CreateDefinition("cyclic", nodeInfos, connections, mm)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.PIPELINE_CYCLE_FOUND))
}

func TestCreateDefinitionRejectsDanglingNodeReference(t *testing.T) {
	mm := newTestManager(t)
	loadStub(t, mm, "m", upperSchema("x"), upperSchema("y"), types.ModeFixed)

	factory := pipeline.NewPipelineFactory()
	nodeInfos := []pipeline.NodeInfo{
		{Name: "entry", Kind: pipeline.NodeEntry},
		{Name: "d", Kind: pipeline.NodeDL, ModelName: "m", ModelVersion: 1},
		{Name: "exit", Kind: pipeline.NodeExit},
	}
	connections := []pipeline.Connection{
		{From: "entry", To: "d", Aliases: map[string]string{"x": "x"}},
		{From: "ghost", To: "exit", Aliases: map[string]string{"y": "y"}},
	}
	err := factory.CreateDefinition("bad", nodeInfos, connections, mm)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.PIPELINE_NODE_REFERENCE_MISSING))
}

func TestCreatePredictUnregisteredDefinitionFails(t *testing.T) {
	mm := newTestManager(t)
	factory := pipeline.NewPipelineFactory()

	req := &types.TensorSetRequest{}
	resp := types.NewTensorSetResponse()
	_, err := factory.Create(context.Background(), "missing", req, resp, mm)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.PIPELINE_DEFINITION_NAME_MISSING))
}

func TestPredictAfterRetireFailsButInFlightGuardCompletes(t *testing.T) {
	mm := newTestManager(t)
	factory := simplePipeline(t, mm)

	req := &types.TensorSetRequest{Inputs: types.TensorSet{"raw": {DType: types.DTypeFP32, Data: []byte{9}}}}
	resp := types.NewTensorSetResponse()

	p, err := factory.Create(context.Background(), "simple", req, resp, mm)
	require.NoError(t, err)

	// Retiring the underlying model concurrently must block until this
	// pipeline releases its guard by finishing execution.
	retireDone := make(chan error, 1)
	go func() { retireDone <- mm.RetireVersions(context.Background(), "preprocess", []types.ModelVersion{1}) }()

	require.NoError(t, p.Execute(context.Background()))
	require.NoError(t, <-retireDone)

	assert.Equal(t, []byte{9}, resp.Outputs["normalized"].Data)

	// A fresh predict against the now-retired model must fail up front.
	req2 := &types.TensorSetRequest{Inputs: types.TensorSet{"raw": {DType: types.DTypeFP32, Data: []byte{1}}}}
	resp2 := types.NewTensorSetResponse()
	_, err = factory.Create(context.Background(), "simple", req2, resp2, mm)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.MODEL_VERSION_NOT_LOADED))
}
