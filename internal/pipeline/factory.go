package pipeline

import (
	"context"
	"sync"

	"github.com/toydogcat/model-server/pkg/types"
)

// PipelineFactory holds every registered PipelineDefinition and mints a
// per-request Pipeline from one on demand. It is the pipeline-side
// counterpart of registry.ModelManager: definitions are
// long-lived and validated once at registration; Pipelines are short-lived
// and rebuilt for every predict call.
type PipelineFactory struct {
	mu          sync.RWMutex
	definitions map[string]*PipelineDefinition
}

func NewPipelineFactory() *PipelineFactory {
	return &PipelineFactory{definitions: make(map[string]*PipelineDefinition)}
}

// CreateDefinition validates and registers a new pipeline definition. The
// name must not already be in use; validation runs outside the lock since
// it may call into the model manager, then a double-checked insert guards
// against a concurrent registration of the same name winning the race.
func (f *PipelineFactory) CreateDefinition(name string, nodeInfos []NodeInfo, connections []Connection, manager ModelResolver) error {
	f.mu.RLock()
	_, exists := f.definitions[name]
	f.mu.RUnlock()
	if exists {
		definitionsTotal.WithLabelValues("error").Inc()
		return types.New(types.PIPELINE_DEFINITION_ALREADY_EXIST, "pipeline %q already registered", name)
	}

	def := newPipelineDefinition(name, nodeInfos, connections)
	if err := def.validate(manager); err != nil {
		definitionsTotal.WithLabelValues("error").Inc()
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.definitions[name]; exists {
		definitionsTotal.WithLabelValues("error").Inc()
		return types.New(types.PIPELINE_DEFINITION_ALREADY_EXIST, "pipeline %q already registered", name)
	}
	f.definitions[name] = def
	definitionsTotal.WithLabelValues("ok").Inc()
	return nil
}

// RemoveDefinition drops a registered definition. It does not affect
// Pipelines already in flight, since each owns its nodes independently.
func (f *PipelineFactory) RemoveDefinition(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.definitions[name]; !ok {
		return types.New(types.PIPELINE_DEFINITION_NAME_MISSING, "pipeline %q not registered", name)
	}
	delete(f.definitions, name)
	return nil
}

// ListDefinitions returns the names of every registered pipeline.
func (f *PipelineFactory) ListDefinitions() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.definitions))
	for name := range f.definitions {
		names = append(names, name)
	}
	return names
}

// Create resolves the named definition and builds a fresh Pipeline bound
// to req/resp. Every DL node's model is re-resolved and guarded at this
// point, not at registration time, so a model retired after registration
// fails here rather than silently using a stale instance: a pinned version
// that was retired surfaces as MODEL_VERSION_NOT_LOADED, and a version-0
// node whose model has no available version left surfaces as
// MODEL_VERSION_MISSING.
func (f *PipelineFactory) Create(ctx context.Context, name string, req types.PredictRequest, resp types.PredictResponse, manager ModelResolver) (*Pipeline, error) {
	f.mu.RLock()
	def, ok := f.definitions[name]
	f.mu.RUnlock()
	if !ok {
		buildsTotal.WithLabelValues(name, "error").Inc()
		return nil, types.New(types.PIPELINE_DEFINITION_NAME_MISSING, "pipeline %q not registered", name)
	}
	p, err := def.create(ctx, req, resp, manager)
	if err != nil {
		buildsTotal.WithLabelValues(name, "error").Inc()
		return nil, err
	}
	buildsTotal.WithLabelValues(name, "ok").Inc()
	return p, nil
}
