package pipeline

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toydogcat/model-server/internal/registry"
	"github.com/toydogcat/model-server/internal/registry/teststub"
	"github.com/toydogcat/model-server/pkg/types"
)

func loadMetricsStub(t *testing.T, mm *registry.ModelManager, name string) {
	t.Helper()
	schema := types.TensorSchema{"x": {DType: types.DTypeFP32, ShapeMode: types.ModeFixed}}
	mm.RegisterModel(name, func(n string, v types.ModelVersion) types.ModelInstance {
		return teststub.New(n, v, schema, schema, types.ModeFixed)
	})
	require.NoError(t, mm.LoadVersions(context.Background(), name, []types.ModelVersion{1}, types.ModelConfig{}))
}

func TestDefinitionsTotalIncrementsOnRegisterOutcomes(t *testing.T) {
	mm := registry.NewModelManager()
	loadMetricsStub(t, mm, "echo")
	factory := NewPipelineFactory()
	nodeInfos := []NodeInfo{
		{Name: "in", Kind: NodeEntry},
		{Name: "model", Kind: NodeDL, ModelName: "echo", ModelVersion: 1},
		{Name: "out", Kind: NodeExit},
	}
	connections := []Connection{
		{From: "in", To: "model", Aliases: map[string]string{"x": "x"}},
		{From: "model", To: "out", Aliases: map[string]string{"x": "x"}},
	}

	before := testutil.ToFloat64(definitionsTotal.WithLabelValues("ok"))
	require.NoError(t, factory.CreateDefinition("classify", nodeInfos, connections, mm))
	after := testutil.ToFloat64(definitionsTotal.WithLabelValues("ok"))
	assert.Greater(t, after, before)

	errBefore := testutil.ToFloat64(definitionsTotal.WithLabelValues("error"))
	require.Error(t, factory.CreateDefinition("classify", nodeInfos, connections, mm))
	errAfter := testutil.ToFloat64(definitionsTotal.WithLabelValues("error"))
	assert.Greater(t, errAfter, errBefore)
}

func TestBuildsTotalIncrementsOnCreateOutcomes(t *testing.T) {
	mm := registry.NewModelManager()
	loadMetricsStub(t, mm, "echo")
	factory := NewPipelineFactory()
	nodeInfos := []NodeInfo{
		{Name: "in", Kind: NodeEntry},
		{Name: "model", Kind: NodeDL, ModelName: "echo", ModelVersion: 1},
		{Name: "out", Kind: NodeExit},
	}
	connections := []Connection{
		{From: "in", To: "model", Aliases: map[string]string{"x": "x"}},
		{From: "model", To: "out", Aliases: map[string]string{"x": "x"}},
	}
	require.NoError(t, factory.CreateDefinition("classify", nodeInfos, connections, mm))

	req := &types.TensorSetRequest{Inputs: types.TensorSet{"x": {DType: types.DTypeFP32, Data: []byte{1}}}}
	resp := types.NewTensorSetResponse()

	before := testutil.ToFloat64(buildsTotal.WithLabelValues("classify", "ok"))
	_, err := factory.Create(context.Background(), "classify", req, resp, mm)
	require.NoError(t, err)
	after := testutil.ToFloat64(buildsTotal.WithLabelValues("classify", "ok"))
	assert.Greater(t, after, before)

	errBefore := testutil.ToFloat64(buildsTotal.WithLabelValues("missing", "error"))
	_, err = factory.Create(context.Background(), "missing", req, resp, mm)
	require.Error(t, err)
	errAfter := testutil.ToFloat64(buildsTotal.WithLabelValues("missing", "error"))
	assert.Greater(t, errAfter, errBefore)
}
