package types

import (
	"encoding/base64"
	"strings"
)

// TensorWire is the JSON-safe wire representation of a TensorDescriptor:
// raw bytes travel base64-encoded, matching the shape/dtype/data triple the
// core operates on internally.
type TensorWire struct {
	Shape []int64 `json:"shape,omitempty"`
	DType string  `json:"dtype"`
	Data  string  `json:"data"`
}

func EncodeTensor(td TensorDescriptor) TensorWire {
	return TensorWire{
		Shape: []int64(td.Shape),
		DType: td.DType.String(),
		Data:  base64.StdEncoding.EncodeToString(td.Data),
	}
}

func (w TensorWire) Decode() (TensorDescriptor, error) {
	data, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return TensorDescriptor{}, err
	}
	return TensorDescriptor{Shape: Shape(w.Shape), DType: parseDType(w.DType), Data: data}, nil
}

func parseDType(s string) DType {
	return ParseDType(s)
}

// ParseDType maps a wire/config dtype string onto a DType, exported so both
// the tensor wire codec and internal/config's model schema loader share one
// mapping instead of drifting apart.
func ParseDType(s string) DType {
	switch s {
	case "FP32":
		return DTypeFP32
	case "FP16":
		return DTypeFP16
	case "INT32":
		return DTypeINT32
	case "INT64":
		return DTypeINT64
	case "UINT8":
		return DTypeUINT8
	case "BOOL":
		return DTypeBOOL
	case "STRING":
		return DTypeSTRING
	default:
		return DTypeInvalid
	}
}

// ParseShapeMode maps "FIXED"/"AUTO" (case-insensitively, defaulting to
// FIXED) onto a Mode, for config-declared tensor specs.
func ParseShapeMode(s string) Mode {
	if strings.EqualFold(s, "AUTO") {
		return ModeAuto
	}
	return ModeFixed
}

// TensorSpecWire is the JSON/YAML/TOML-safe declaration of one TensorSpec,
// used by a startup config's model schema and by any admin API that lets an
// operator declare a model's shape ahead of load.
type TensorSpecWire struct {
	Shape     []int64 `json:"shape,omitempty" yaml:"shape,omitempty" toml:"shape,omitempty"`
	DType     string  `json:"dtype" yaml:"dtype" toml:"dtype"`
	ShapeMode string  `json:"shape_mode,omitempty" yaml:"shape_mode,omitempty" toml:"shape_mode,omitempty"`
}

func (w TensorSpecWire) ToTensorSpec() TensorSpec {
	return TensorSpec{Shape: Shape(w.Shape), DType: ParseDType(w.DType), ShapeMode: ParseShapeMode(w.ShapeMode)}
}

// TensorSchemaWire is a name-keyed set of TensorSpecWire entries, decoding
// directly into a TensorSchema.
type TensorSchemaWire map[string]TensorSpecWire

func (w TensorSchemaWire) ToTensorSchema() TensorSchema {
	out := make(TensorSchema, len(w))
	for name, spec := range w {
		out[name] = spec.ToTensorSpec()
	}
	return out
}

// PredictHTTPRequest is the JSON body accepted by the single-model and
// pipeline predict endpoints.
type PredictHTTPRequest struct {
	Inputs map[string]TensorWire `json:"inputs"`
}

func (r PredictHTTPRequest) ToTensorSet() (TensorSet, error) {
	out := make(TensorSet, len(r.Inputs))
	for name, w := range r.Inputs {
		td, err := w.Decode()
		if err != nil {
			return nil, err
		}
		out[name] = td
	}
	return out, nil
}

// PredictHTTPResponse is the JSON body returned by a successful predict.
type PredictHTTPResponse struct {
	Outputs map[string]TensorWire `json:"outputs"`
}

func NewPredictHTTPResponse(outputs TensorSet) PredictHTTPResponse {
	resp := PredictHTTPResponse{Outputs: make(map[string]TensorWire, len(outputs))}
	for name, td := range outputs {
		resp.Outputs[name] = EncodeTensor(td)
	}
	return resp
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// ModelConfigWire is the JSON body accepted by the load/reload endpoints.
type ModelConfigWire struct {
	Versions []int64           `json:"versions"`
	BasePath string            `json:"base_path,omitempty"`
	Backend  string            `json:"backend,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

func (c ModelConfigWire) ToModelConfig(name string) ModelConfig {
	return ModelConfig{Name: name, BasePath: c.BasePath, Backend: c.Backend, Params: c.Params}
}

func (c ModelConfigWire) ToVersions() []ModelVersion {
	out := make([]ModelVersion, len(c.Versions))
	for i, v := range c.Versions {
		out[i] = ModelVersion(v)
	}
	return out
}

// ModelSummary describes one registered model for GET /v1/models.
type ModelSummary struct {
	Name           string  `json:"name"`
	Versions       []int64 `json:"versions"`
	DefaultVersion int64   `json:"default_version"`
}

type ListModelsResponse struct {
	Models []ModelSummary `json:"models"`
}

// PipelineNodeWire and PipelineConnectionWire are the JSON shapes accepted
// by POST /v1/pipelines when registering a new pipeline definition.
type PipelineNodeWire struct {
	Name          string            `json:"name"`
	Kind          string            `json:"kind"`
	ModelName     string            `json:"model_name,omitempty"`
	ModelVersion  int64             `json:"model_version,omitempty"`
	OutputAliases map[string]string `json:"output_aliases,omitempty"`
}

type PipelineConnectionWire struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	Aliases map[string]string `json:"aliases"`
}

type CreatePipelineRequest struct {
	Nodes       []PipelineNodeWire       `json:"nodes"`
	Connections []PipelineConnectionWire `json:"connections"`
}

// StatusResponse is returned by GET /status: a coarse liveness/inventory
// snapshot, not a substitute for /metrics.
type StatusResponse struct {
	Ready         bool     `json:"ready"`
	Models        []string `json:"models"`
	PipelineNames []string `json:"pipelines"`
}
