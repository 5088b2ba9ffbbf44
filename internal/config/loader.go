package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/toydogcat/model-server/internal/common/fsutil"
	"github.com/toydogcat/model-server/internal/pipeline"
	"github.com/toydogcat/model-server/pkg/types"
)

// Config holds everything a startup binary needs to bring a registry and
// pipeline factory to a ready state, plus the ambient HTTP server knobs.
// Zero values mean "unspecified" and are replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile   string `json:"log_file" yaml:"log_file" toml:"log_file"`
	RateLimit string `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`

	CORSOrigins           []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes          int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	PredictTimeoutSeconds int64    `json:"predict_timeout_seconds" yaml:"predict_timeout_seconds" toml:"predict_timeout_seconds"`

	AuditDSN string `json:"audit_dsn" yaml:"audit_dsn" toml:"audit_dsn"`

	Artifacts ArtifactConfig `json:"artifacts" yaml:"artifacts" toml:"artifacts"`

	Models    []ModelEntry    `json:"models" yaml:"models" toml:"models"`
	Pipelines []PipelineEntry `json:"pipelines" yaml:"pipelines" toml:"pipelines"`
}

// ArtifactConfig configures the optional MinIO-backed artifact loader.
// Empty Endpoint disables it; models load however their factory already
// knows how without a CustomLoader attached.
type ArtifactConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Bucket    string `json:"bucket" yaml:"bucket" toml:"bucket"`
	AccessKey string `json:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl" toml:"use_ssl"`
}

// ModelEntry describes one model to register and load at startup. Inputs,
// Outputs and Batching declare the schema a factory needs to build a
// ModelInstance before any real weights are read off disk; a factory that
// talks to an actual runtime may ignore them and derive the schema from the
// artifact itself instead.
type ModelEntry struct {
	Name     string            `json:"name" yaml:"name" toml:"name"`
	Versions []int64           `json:"versions" yaml:"versions" toml:"versions"`
	BasePath string            `json:"base_path" yaml:"base_path" toml:"base_path"`
	Backend  string            `json:"backend" yaml:"backend" toml:"backend"`
	Params   map[string]string `json:"params" yaml:"params" toml:"params"`

	Inputs   types.TensorSchemaWire `json:"inputs" yaml:"inputs" toml:"inputs"`
	Outputs  types.TensorSchemaWire `json:"outputs" yaml:"outputs" toml:"outputs"`
	Batching string                 `json:"batching" yaml:"batching" toml:"batching"`
}

func (e ModelEntry) ToModelConfig() types.ModelConfig {
	basePath := e.BasePath
	if expanded, err := fsutil.ExpandHome(basePath); err == nil {
		basePath = expanded
	}
	return types.ModelConfig{Name: e.Name, BasePath: basePath, Backend: e.Backend, Params: e.Params}
}

func (e ModelEntry) ToVersions() []types.ModelVersion {
	out := make([]types.ModelVersion, len(e.Versions))
	for i, v := range e.Versions {
		out[i] = types.ModelVersion(v)
	}
	return out
}

func (e ModelEntry) InputsSchema() types.TensorSchema  { return e.Inputs.ToTensorSchema() }
func (e ModelEntry) OutputsSchema() types.TensorSchema { return e.Outputs.ToTensorSchema() }
func (e ModelEntry) BatchingMode() types.Mode          { return types.ParseShapeMode(strings.ToUpper(e.Batching)) }

// PipelineEntry describes one pipeline definition to register at startup.
type PipelineEntry struct {
	Name        string           `json:"name" yaml:"name" toml:"name"`
	Nodes       []NodeEntry      `json:"nodes" yaml:"nodes" toml:"nodes"`
	Connections []ConnectionSpec `json:"connections" yaml:"connections" toml:"connections"`
}

// NodeEntry is a config-file node. Kind is free text ("ENTRY"/"DL"/"EXIT")
// parsed through pipeline.ParseNodeKind, the same parser the HTTP admin API
// uses, so a typo'd kind is rejected here with PIPELINE_NODE_WRONG_KIND_CONFIGURATION
// instead of surfacing later as a confusing validation failure.
type NodeEntry struct {
	Name          string            `json:"name" yaml:"name" toml:"name"`
	Kind          string            `json:"kind" yaml:"kind" toml:"kind"`
	ModelName     string            `json:"model_name" yaml:"model_name" toml:"model_name"`
	ModelVersion  int64             `json:"model_version" yaml:"model_version" toml:"model_version"`
	OutputAliases map[string]string `json:"output_aliases" yaml:"output_aliases" toml:"output_aliases"`
}

type ConnectionSpec struct {
	From    string            `json:"from" yaml:"from" toml:"from"`
	To      string            `json:"to" yaml:"to" toml:"to"`
	Aliases map[string]string `json:"aliases" yaml:"aliases" toml:"aliases"`
}

// ToDefinition converts a config-file pipeline entry into the NodeInfo/
// Connection slices PipelineFactory.CreateDefinition expects, resolving
// each node's Kind string up front.
func (p PipelineEntry) ToDefinition() ([]pipeline.NodeInfo, []pipeline.Connection, error) {
	nodeInfos := make([]pipeline.NodeInfo, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		kind, err := pipeline.ParseNodeKind(n.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline %q: node %q: %w", p.Name, n.Name, err)
		}
		nodeInfos = append(nodeInfos, pipeline.NodeInfo{
			Name:          n.Name,
			Kind:          kind,
			ModelName:     n.ModelName,
			ModelVersion:  types.ModelVersion(n.ModelVersion),
			OutputAliases: n.OutputAliases,
		})
	}
	connections := make([]pipeline.Connection, 0, len(p.Connections))
	for _, c := range p.Connections {
		connections = append(connections, pipeline.Connection{From: c.From, To: c.To, Aliases: c.Aliases})
	}
	return nodeInfos, connections, nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
