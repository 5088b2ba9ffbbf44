// Package teststub provides well-behaved fake ModelInstance implementations
// standing in for a real inference runtime, the same role
// internal/manager/adapter_llama_stub.go played for llama.cpp in the
// teacher: something that satisfies the collaborator contract exactly,
// without doing real tensor compute, so the registry and pipeline packages
// can be exercised in tests without a GPU or a model file.
package teststub

import (
	"context"
	"sync"

	"github.com/toydogcat/model-server/pkg/types"
)

// Instance is a minimal ModelInstance whose Execute just copies configured
// input tensors to configured output tensors verbatim (an "echo" model),
// useful for exercising pipeline wiring without any real computation.
type Instance struct {
	name    string
	version types.ModelVersion

	mu      sync.Mutex
	cfg     types.ModelConfig
	inputs  types.TensorSchema
	outputs types.TensorSchema
	batch   types.Mode

	// Mapping applied by Execute: output name -> input name it copies
	// from. If nil, Execute copies same-named tensors through.
	Mapping map[string]string
}

// New builds a stub instance with the given declared schema. batch controls
// the batching mode reported to validators; per-tensor shape mode lives on
// each TensorSpec in inputs/outputs.
func New(name string, version types.ModelVersion, inputs, outputs types.TensorSchema, batch types.Mode) *Instance {
	return &Instance{name: name, version: version, inputs: inputs, outputs: outputs, batch: batch}
}

func (i *Instance) Name() string { return i.name }
func (i *Instance) Version() types.ModelVersion { return i.version }

func (i *Instance) ModelConfig() types.ModelConfig {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cfg
}

func (i *Instance) InputsInfo() types.TensorSchema { return i.inputs }
func (i *Instance) OutputsInfo() types.TensorSchema { return i.outputs }
func (i *Instance) BatchingMode() types.Mode { return i.batch }

func (i *Instance) Load(ctx context.Context, cfg types.ModelConfig) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cfg = cfg
	return nil
}

func (i *Instance) Reload(ctx context.Context, cfg types.ModelConfig) error {
	return i.Load(ctx, cfg)
}

func (i *Instance) Retire(ctx context.Context) error { return nil }

func (i *Instance) Execute(ctx context.Context, inputs types.TensorSet) (types.TensorSet, error) {
	out := make(types.TensorSet, len(i.outputs))
	for outName := range i.outputs {
		srcName := outName
		if i.Mapping != nil {
			if mapped, ok := i.Mapping[outName]; ok {
				srcName = mapped
			}
		}
		if td, ok := inputs[srcName]; ok {
			out[outName] = td
		}
	}
	return out, nil
}

// FailingLoad is a ModelInstanceFactory-friendly instance whose Load always
// fails, used to exercise Model.AddVersions' partial-failure contract. It
// embeds *Instance rather than Instance so wrapping an existing stub never
// copies its sync.Mutex.
type FailingLoad struct {
	*Instance
	Err error
}

// NewFailingLoad wraps a fresh stub instance so its Load always fails.
func NewFailingLoad(name string, version types.ModelVersion, inputs, outputs types.TensorSchema, batch types.Mode, err error) *FailingLoad {
	return &FailingLoad{Instance: New(name, version, inputs, outputs, batch), Err: err}
}

func (f *FailingLoad) Load(ctx context.Context, cfg types.ModelConfig) error {
	return f.Err
}
