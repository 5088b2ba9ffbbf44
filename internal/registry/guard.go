package registry

import (
	"sync"

	"github.com/toydogcat/model-server/pkg/types"
)

type instanceState int32

const (
	stateLoading instanceState = iota
	stateAvailable
	stateRetiring
	stateRetired
)

// instanceEntry wraps one loaded ModelInstance with the lifecycle state and
// guard bookkeeping the collaborator interface itself doesn't carry. Model
// owns instanceEntry values exclusively; ModelInstanceUnloadGuard holds a
// non-owning pointer back into one.
type instanceEntry struct {
	version  types.ModelVersion
	instance types.ModelInstance

	mu     sync.Mutex
	state  instanceState
	guards int
	drain  chan struct{}
}

func newInstanceEntry(version types.ModelVersion, instance types.ModelInstance) *instanceEntry {
	return &instanceEntry{version: version, instance: instance, state: stateLoading}
}

// acquireGuard returns a ModelInstanceUnloadGuard pinning this instance
// against retirement, failing if the instance isn't currently AVAILABLE.
func (e *instanceEntry) acquireGuard() (*ModelInstanceUnloadGuard, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateAvailable {
		guardsTotal.WithLabelValues("denied").Inc()
		return nil, types.New(types.MODEL_VERSION_NOT_LOADED, "version %d is not available", e.version)
	}
	e.guards++
	guardsTotal.WithLabelValues("acquired").Inc()
	return &ModelInstanceUnloadGuard{entry: e}, nil
}

func (e *instanceEntry) releaseGuard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guards--
	if e.guards == 0 && e.state == stateRetiring && e.drain != nil {
		select {
		case <-e.drain:
		default:
			close(e.drain)
		}
	}
}

// beginRetire flips the entry to RETIRING, which blocks all future guard
// acquisition, and returns a channel that closes once every outstanding
// guard has released (already-closed if there were none). Guards acquired
// before this call complete normally against the still-loaded instance.
func (e *instanceEntry) beginRetire() (wait <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateRetired || e.state == stateRetiring {
		if e.drain == nil {
			ch := make(chan struct{})
			close(ch)
			e.drain = ch
		}
		return e.drain
	}
	e.state = stateRetiring
	if e.guards == 0 {
		ch := make(chan struct{})
		close(ch)
		e.drain = ch
		return ch
	}
	e.drain = make(chan struct{})
	return e.drain
}

func (e *instanceEntry) finishRetire() {
	e.mu.Lock()
	e.state = stateRetired
	e.mu.Unlock()
}

func (e *instanceEntry) markAvailable() {
	e.mu.Lock()
	e.state = stateAvailable
	e.mu.Unlock()
}

func (e *instanceEntry) isAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateAvailable
}

// ModelInstanceUnloadGuard is a scoped "do-not-retire" pin on a specific
// ModelInstance. It must be released on every exit path; Release is
// idempotent so a deferred call is always safe even after an earlier
// explicit release.
type ModelInstanceUnloadGuard struct {
	entry *instanceEntry
	once  sync.Once
}

// Release drops the pin. Safe to call multiple times and safe to call on a
// nil guard (a no-op), so callers can defer it unconditionally.
func (g *ModelInstanceUnloadGuard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.entry.releaseGuard()
	})
}
