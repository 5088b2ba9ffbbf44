package teststub

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/toydogcat/model-server/pkg/types"
)

// TokenizerInstance is a demo ModelInstance that performs real, if trivial,
// tensor compute: it BPE-encodes a "text" input tensor into an "input_ids"
// int32 output tensor via tiktoken-go, the same way a text model's
// pre-processing stage would. cmd/inferd builds it for models configured
// with the "tokenizer" backend, giving a DL node whose Execute does
// something an EntryNode's raw passthrough can't.
type TokenizerInstance struct {
	name    string
	version types.ModelVersion

	mu  sync.Mutex
	cfg types.ModelConfig
	enc *tiktoken.Tiktoken
}

// NewTokenizer builds an unloaded tokenizer-backed instance. Load picks the
// tiktoken encoding from cfg.Params["encoding"] (default "cl100k_base") and
// resolves the encoder then, since tiktoken-go's tables are cached
// process-wide.
func NewTokenizer(name string, version types.ModelVersion) *TokenizerInstance {
	return &TokenizerInstance{name: name, version: version}
}

func (t *TokenizerInstance) Name() string                { return t.name }
func (t *TokenizerInstance) Version() types.ModelVersion  { return t.version }
func (t *TokenizerInstance) ModelConfig() types.ModelConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

func (t *TokenizerInstance) InputsInfo() types.TensorSchema {
	return types.TensorSchema{
		"text": {DType: types.DTypeSTRING, ShapeMode: types.ModeFixed},
	}
}

func (t *TokenizerInstance) OutputsInfo() types.TensorSchema {
	return types.TensorSchema{
		"input_ids": {DType: types.DTypeINT32, ShapeMode: types.ModeFixed},
	}
}

func (t *TokenizerInstance) BatchingMode() types.Mode { return types.ModeFixed }

func (t *TokenizerInstance) Load(ctx context.Context, cfg types.ModelConfig) error {
	encoding := cfg.Params["encoding"]
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.cfg = cfg
	t.enc = enc
	t.mu.Unlock()
	return nil
}

func (t *TokenizerInstance) Reload(ctx context.Context, cfg types.ModelConfig) error {
	return t.Load(ctx, cfg)
}

func (t *TokenizerInstance) Retire(ctx context.Context) error { return nil }

func (t *TokenizerInstance) Execute(ctx context.Context, inputs types.TensorSet) (types.TensorSet, error) {
	t.mu.Lock()
	enc := t.enc
	t.mu.Unlock()
	if enc == nil {
		return nil, types.New(types.MODEL_VERSION_NOT_LOADED, "tokenizer %q not loaded", t.name)
	}
	td, ok := inputs["text"]
	if !ok {
		return nil, types.New(types.INVALID_MISSING_INPUT, "tokenizer %q: missing input %q", t.name, "text")
	}
	ids := enc.Encode(string(td.Data), nil, nil)
	buf := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(id))
	}
	return types.TensorSet{
		"input_ids": {
			Shape: types.Shape{int64(len(ids))},
			DType: types.DTypeINT32,
			Data:  buf,
		},
	}, nil
}
