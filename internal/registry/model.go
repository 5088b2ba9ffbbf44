package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/toydogcat/model-server/pkg/types"
)

// Model holds the versioned set of ModelInstances for one model name and
// manages default-version election plus load/reload/retire transitions.
// A sync.RWMutex guards the version map; readers resolve a version and
// hand back a plain lookup, writers (add/reload/retire) are mutually
// exclusive with each other and with readers.
type Model struct {
	name    string
	factory types.ModelInstanceFactory

	mu             sync.RWMutex
	versions       map[types.ModelVersion]*instanceEntry
	defaultVersion types.ModelVersion
	loader         types.CustomLoader
}

// NewModel constructs an empty Model. factory is consulted by AddVersions to
// build a blank instance for each requested version before loading it.
func NewModel(name string, factory types.ModelInstanceFactory) *Model {
	return &Model{
		name:     name,
		factory:  factory,
		versions: make(map[types.ModelVersion]*instanceEntry),
	}
}

func (m *Model) Name() string { return m.name }

// SetCustomLoader attaches a capability object; its lifetime is the
// Model's. Concrete loader behavior is out of scope for the registry;
// it only carries the attachment.
func (m *Model) SetCustomLoader(loader types.CustomLoader) {
	m.mu.Lock()
	m.loader = loader
	m.mu.Unlock()
}

func (m *Model) CustomLoader() types.CustomLoader {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loader
}

// AddVersions constructs and loads a ModelInstance for each version not yet
// present, then re-elects the default. Versions that fail to load are not
// inserted; versions that succeed remain even if a later one in the same
// call fails. The first error encountered, if any, is returned.
func (m *Model) AddVersions(ctx context.Context, versions []types.ModelVersion, cfg types.ModelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, v := range versions {
		if _, present := m.versions[v]; present {
			continue
		}
		inst := m.factory(m.name, v)
		if err := inst.Load(ctx, cfg); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entry := newInstanceEntry(v, inst)
		entry.markAvailable()
		m.versions[v] = entry
	}
	m.updateDefaultVersionLocked()
	return firstErr
}

// ReloadVersions directs each already-present listed version to reload
// under cfg. Versions not currently present are skipped. The reload
// itself is the collaborator's atomic swap; the registry neither waits for
// nor blocks on outstanding guards, since in-flight callers stay valid
// against the old configuration by the collaborator's own contract.
func (m *Model) ReloadVersions(ctx context.Context, versions []types.ModelVersion, cfg types.ModelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, v := range versions {
		entry, ok := m.versions[v]
		if !ok {
			continue
		}
		if err := entry.instance.Reload(ctx, cfg); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entry.markAvailable()
	}
	m.updateDefaultVersionLocked()
	return firstErr
}

// RetireVersions transitions each listed, present version to RETIRED,
// waiting for any outstanding guards to drain. Once this returns (with a
// nil error), no later lookup resolves those versions; guards acquired
// before the call continue to completion. The write lock is released while
// waiting for drain — holding it here would serialize unrelated lifecycle
// calls behind a slow drain for no correctness benefit, and the observable
// contract only needs the state flip (done under the lock, below) to
// precede the return.
func (m *Model) RetireVersions(ctx context.Context, versions []types.ModelVersion) error {
	m.mu.Lock()
	type pending struct {
		entry *instanceEntry
		wait  <-chan struct{}
	}
	var waiters []pending
	for _, v := range versions {
		entry, ok := m.versions[v]
		if !ok {
			continue
		}
		waiters = append(waiters, pending{entry: entry, wait: entry.beginRetire()})
	}
	m.mu.Unlock()

	for _, p := range waiters {
		select {
		case <-p.wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	for _, p := range waiters {
		if err := p.entry.instance.Retire(ctx); err != nil {
			// Best-effort: the instance failed to release its own
			// resources, but the registry contract (no new lookups
			// resolve it) still holds, so we still mark it retired.
			_ = err
		}
		p.entry.finishRetire()
	}
	m.updateDefaultVersionLocked()
	m.mu.Unlock()
	return nil
}

// RetireAllVersions retires every currently known version.
func (m *Model) RetireAllVersions(ctx context.Context) error {
	m.mu.RLock()
	versions := make([]types.ModelVersion, 0, len(m.versions))
	for v := range m.versions {
		versions = append(versions, v)
	}
	m.mu.RUnlock()
	return m.RetireVersions(ctx, versions)
}

// GetModelInstanceByVersion returns the instance at v without acquiring a
// guard. Callers that intend to execute against the result must combine
// this with guard acquisition (see ModelManager.GetModelInstance); this
// method alone is only safe for inspection (schema, config).
func (m *Model) GetModelInstanceByVersion(v types.ModelVersion) (types.ModelInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.versions[v]
	if !ok {
		return nil, false
	}
	return entry.instance, true
}

// GetDefaultModelInstance returns the instance at the current default
// version, or false if there is none (defaultVersion == 0).
func (m *Model) GetDefaultModelInstance() (types.ModelInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.defaultVersion == 0 {
		return nil, false
	}
	entry, ok := m.versions[m.defaultVersion]
	if !ok {
		return nil, false
	}
	return entry.instance, true
}

// DefaultVersion returns the current default version, or 0 if none.
func (m *Model) DefaultVersion() types.ModelVersion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultVersion
}

// getInstanceWithGuard resolves version (0 meaning "use default") and
// acquires a guard on it in one composite operation. The read lock is
// released before guard acquisition to avoid ever blocking on guard drain
// while holding the map lock.
func (m *Model) getInstanceWithGuard(version types.ModelVersion) (types.ModelInstance, *ModelInstanceUnloadGuard, error) {
	m.mu.RLock()
	v := version
	if v == 0 {
		v = m.defaultVersion
	}
	if v == 0 {
		m.mu.RUnlock()
		return nil, nil, types.New(types.MODEL_VERSION_MISSING, "model %q has no default version", m.name)
	}
	entry, ok := m.versions[v]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, types.New(types.MODEL_VERSION_MISSING, "model %q has no version %d", m.name, v)
	}

	guard, err := entry.acquireGuard()
	if err != nil {
		return nil, nil, err
	}
	return entry.instance, guard, nil
}

// resolveForInspection resolves version (0 meaning default) without
// acquiring a guard, for use at pipeline-definition validation time where
// only the schema is needed, not an execution pin.
func (m *Model) resolveForInspection(version types.ModelVersion) (types.ModelInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := version
	if v == 0 {
		v = m.defaultVersion
	}
	if v == 0 {
		return nil, types.New(types.MODEL_VERSION_MISSING, "model %q has no default version", m.name)
	}
	entry, ok := m.versions[v]
	if !ok {
		return nil, types.New(types.MODEL_VERSION_MISSING, "model %q has no version %d", m.name, v)
	}
	return entry.instance, nil
}

// updateDefaultVersionLocked re-elects the default version as the greatest
// key whose instance is AVAILABLE, or 0 if none qualify. Callers must hold
// mu for writing.
func (m *Model) updateDefaultVersionLocked() {
	versions := make([]types.ModelVersion, 0, len(m.versions))
	for v := range m.versions {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	for _, v := range versions {
		if m.versions[v].isAvailable() {
			m.defaultVersion = v
			return
		}
	}
	m.defaultVersion = 0
}

// Versions returns the sorted (ascending) list of version keys currently in
// the map, retired ones included.
func (m *Model) Versions() []types.ModelVersion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := make([]types.ModelVersion, 0, len(m.versions))
	for v := range m.versions {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}
