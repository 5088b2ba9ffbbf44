package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toydogcat/model-server/pkg/types"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", ""+
		"addr: :9999\n"+
		"log_level: debug\n"+
		"models:\n"+
		"  - name: resnet\n"+
		"    versions: [1, 2]\n"+
		"    base_path: /models/resnet\n"+
		"pipelines:\n"+
		"  - name: classify\n"+
		"    nodes:\n"+
		"      - name: in\n"+
		"        kind: ENTRY\n"+
		"      - name: out\n"+
		"        kind: EXIT\n"+
		"    connections:\n"+
		"      - from: in\n"+
		"        to: out\n"+
		"        aliases: {x: x}\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "resnet", cfg.Models[0].Name)
	assert.Equal(t, []int64{1, 2}, cfg.Models[0].Versions)
	require.Len(t, cfg.Pipelines, 1)
	assert.Equal(t, "classify", cfg.Pipelines[0].Name)
	assert.Len(t, cfg.Pipelines[0].Nodes, 2)
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models":[{"name":"m2","versions":[3]}]}`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "m2", cfg.Models[0].Name)
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\n\n[[models]]\nname=\"m3\"\nversions=[1]\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Addr)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "m3", cfg.Models[0].Name)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	_, err = Load(p)
	assert.Error(t, err)
}

func TestPipelineEntryToDefinitionRejectsUnknownKind(t *testing.T) {
	entry := PipelineEntry{
		Name: "bad",
		Nodes: []NodeEntry{
			{Name: "n1", Kind: "BOGUS"},
		},
	}
	_, _, err := entry.ToDefinition()
	assert.Error(t, err)
}

func TestPipelineEntryToDefinitionBuildsNodesAndConnections(t *testing.T) {
	entry := PipelineEntry{
		Name: "ok",
		Nodes: []NodeEntry{
			{Name: "in", Kind: "entry"},
			{Name: "model", Kind: "dl", ModelName: "resnet", ModelVersion: 2},
			{Name: "out", Kind: "exit"},
		},
		Connections: []ConnectionSpec{
			{From: "in", To: "model", Aliases: map[string]string{"x": "x"}},
			{From: "model", To: "out", Aliases: map[string]string{"y": "y"}},
		},
	}
	nodeInfos, connections, err := entry.ToDefinition()
	require.NoError(t, err)
	require.Len(t, nodeInfos, 3)
	require.Len(t, connections, 2)
	assert.Equal(t, "resnet", nodeInfos[1].ModelName)
}

func TestModelEntrySchemaConversion(t *testing.T) {
	entry := ModelEntry{
		Name: "resnet",
		Inputs: types.TensorSchemaWire{
			"image": {Shape: []int64{1, 3, 224, 224}, DType: "FP32", ShapeMode: "FIXED"},
		},
		Outputs: types.TensorSchemaWire{
			"logits": {Shape: []int64{1, 1000}, DType: "FP32"},
		},
		Batching: "auto",
	}

	inputs := entry.InputsSchema()
	require.Contains(t, inputs, "image")
	assert.Equal(t, types.DTypeFP32, inputs["image"].DType)
	assert.Equal(t, types.Shape{1, 3, 224, 224}, inputs["image"].Shape)

	outputs := entry.OutputsSchema()
	require.Contains(t, outputs, "logits")
	assert.Equal(t, types.ModeFixed, outputs["logits"].ShapeMode)

	assert.Equal(t, types.ModeAuto, entry.BatchingMode())
}

func TestModelEntryBatchingModeDefaultsToFixed(t *testing.T) {
	entry := ModelEntry{Name: "resnet"}
	assert.Equal(t, types.ModeFixed, entry.BatchingMode())
}

func TestModelEntryToModelConfigExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	entry := ModelEntry{Name: "resnet", BasePath: "~/models/resnet"}
	assert.Equal(t, filepath.Join(home, "models/resnet"), entry.ToModelConfig().BasePath)
}
