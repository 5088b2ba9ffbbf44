package registry

import (
	"context"
	"sync"

	"github.com/toydogcat/model-server/pkg/types"
)

// ModelManager is the process-wide registry mapping model name to Model
// state. It is the collaborator the pipeline subsystem resolves models
// through, and the entry point the configuration loader and CLI drive
// lifecycle operations through.
type ModelManager struct {
	mu     sync.RWMutex
	models map[string]*Model

	publisher EventPublisher
}

// Option configures a ModelManager at construction time.
type Option func(*ModelManager)

// WithEventPublisher wires an EventPublisher (see events.go) that receives
// a notification for every lifecycle transition. Defaults to a no-op
// publisher, matching internal/manager/events.go's noopPublisher default.
func WithEventPublisher(p EventPublisher) Option {
	return func(m *ModelManager) { m.publisher = p }
}

// NewModelManager builds an empty, ready-to-use registry.
func NewModelManager(opts ...Option) *ModelManager {
	m := &ModelManager{
		models:    make(map[string]*Model),
		publisher: noopPublisher{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterModel creates an empty Model under name if one doesn't already
// exist, and returns it either way. factory is only consulted the first
// time name is registered.
func (mm *ModelManager) RegisterModel(name string, factory types.ModelInstanceFactory) *Model {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if model, ok := mm.models[name]; ok {
		return model
	}
	model := NewModel(name, factory)
	mm.models[name] = model
	return model
}

func (mm *ModelManager) getModel(name string) (*Model, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	model, ok := mm.models[name]
	if !ok {
		return nil, types.New(types.MODEL_NAME_MISSING, "model %q is not registered", name)
	}
	return model, nil
}

// LoadVersions loads versions of an already-registered model.
func (mm *ModelManager) LoadVersions(ctx context.Context, name string, versions []types.ModelVersion, cfg types.ModelConfig) error {
	model, err := mm.getModel(name)
	if err != nil {
		versionOpsTotal.WithLabelValues(name, "load_versions", "error").Inc()
		return err
	}
	err = model.AddVersions(ctx, versions, cfg)
	mm.publish("load_versions", name, versions, err)
	return err
}

// ReloadVersions reloads already-loaded versions of a model.
func (mm *ModelManager) ReloadVersions(ctx context.Context, name string, versions []types.ModelVersion, cfg types.ModelConfig) error {
	model, err := mm.getModel(name)
	if err != nil {
		return err
	}
	err = model.ReloadVersions(ctx, versions, cfg)
	mm.publish("reload_versions", name, versions, err)
	return err
}

// RetireVersions retires listed versions of a model.
func (mm *ModelManager) RetireVersions(ctx context.Context, name string, versions []types.ModelVersion) error {
	model, err := mm.getModel(name)
	if err != nil {
		return err
	}
	err = model.RetireVersions(ctx, versions)
	mm.publish("retire_versions", name, versions, err)
	return err
}

// RetireAllVersions retires every version of a model.
func (mm *ModelManager) RetireAllVersions(ctx context.Context, name string) error {
	model, err := mm.getModel(name)
	if err != nil {
		return err
	}
	err = model.RetireAllVersions(ctx)
	mm.publish("retire_all_versions", name, nil, err)
	return err
}

// GetModelInstance resolves (name, version) to an instance plus a guard
// pinning it against retirement. version == 0 means "use the model's
// default". The caller owns the returned guard and must Release it.
func (mm *ModelManager) GetModelInstance(name string, version types.ModelVersion) (types.ModelInstance, *ModelInstanceUnloadGuard, error) {
	model, err := mm.getModel(name)
	if err != nil {
		return nil, nil, err
	}
	return model.getInstanceWithGuard(version)
}

// Inspect resolves (name, version) to an instance for schema/config
// inspection only, without acquiring a guard. Used by pipeline definition
// validation, which needs to read a model's declared
// input/output schema and batching mode but must not hold a request-time
// pin at registration time.
func (mm *ModelManager) Inspect(name string, version types.ModelVersion) (types.ModelInstance, error) {
	model, err := mm.getModel(name)
	if err != nil {
		return nil, err
	}
	return model.resolveForInspection(version)
}

// GetModel exposes the underlying Model for callers (config loader, CLI)
// that need direct access, e.g. to attach a CustomLoader.
func (mm *ModelManager) GetModel(name string) (*Model, error) {
	return mm.getModel(name)
}

// ListModels returns the registered model names.
func (mm *ModelManager) ListModels() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	names := make([]string, 0, len(mm.models))
	for name := range mm.models {
		names = append(names, name)
	}
	return names
}

// Shutdown retires every version of every registered model, cascading a
// process-wide teardown.
func (mm *ModelManager) Shutdown(ctx context.Context) error {
	mm.mu.RLock()
	models := make([]*Model, 0, len(mm.models))
	for _, model := range mm.models {
		models = append(models, model)
	}
	mm.mu.RUnlock()

	var firstErr error
	for _, model := range models {
		if err := model.RetireAllVersions(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (mm *ModelManager) publish(name, model string, versions []types.ModelVersion, err error) {
	fields := map[string]any{"versions": versions}
	result := "ok"
	if err != nil {
		fields["error"] = err.Error()
		result = "error"
	}
	versionOpsTotal.WithLabelValues(model, name, result).Inc()
	mm.publisher.Publish(Event{Name: name, ModelName: model, Fields: fields})
}
