package types

import "context"

// ModelVersion identifies one loaded artifact within a Model. Strictly
// positive; a version of 0 always means "use the current default" at the
// API boundary, never a real version.
type ModelVersion int64

// ModelConfig is the collaborator-supplied configuration handed to a
// ModelInstance's Load/Reload. Concrete fields beyond the ones the core
// inspects (batching/shape mode live on the instance itself) are opaque
// to the core and only meaningful to the instance and its loader.
type ModelConfig struct {
	Name     string
	BasePath string
	Backend  string
	Params   map[string]string
}

// ModelInstance is the collaborator contract for one concrete (name,
// version) pair: something capable of loading, reloading, retiring itself
// and executing a bound inference request. Model-artifact I/O and tensor
// compute live entirely on the other side of this interface; the core
// never inspects bytes beyond routing them.
type ModelInstance interface {
	Name() string
	Version() ModelVersion

	// ModelConfig returns the configuration currently backing this
	// instance (post most-recent successful Load/Reload).
	ModelConfig() ModelConfig
	InputsInfo() TensorSchema
	OutputsInfo() TensorSchema
	BatchingMode() Mode

	Load(ctx context.Context, cfg ModelConfig) error
	// Reload swaps in a new configuration. Implementations must keep
	// serving in-flight callers on the prior configuration until they
	// finish; the registry only guarantees new lookups observe the new
	// state once Reload returns.
	Reload(ctx context.Context, cfg ModelConfig) error
	Retire(ctx context.Context) error

	Execute(ctx context.Context, inputs TensorSet) (TensorSet, error)
}

// CustomLoader is an opaque capability a Model may have attached at
// registration time. The core only carries the attachment; loader
// semantics (where artifacts come from, how they're fetched) are entirely
// up to the implementation. See internal/artifact.MinioLoader for a
// concrete one.
type CustomLoader interface {
	LoaderName() string
}

// ModelInstanceFactory constructs a blank, unloaded ModelInstance for a
// given (name, version). Model.AddVersions calls this once per requested
// version and then Loads the result; this is the seam collaborators use to
// plug in a real runtime (llama.cpp, ONNX Runtime, a remote inference
// service, ...).
type ModelInstanceFactory func(name string, version ModelVersion) ModelInstance
