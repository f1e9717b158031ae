// Package state implements the pluggable per-plugin key/value state
// store handlers reach through execreq.API's State() surface: namespaced
// storage, gated per-namespace by the execution's StatePermission (spec
// §3 "state.namespaces").
package state

import (
	"sync"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// DeniedError is returned when a namespace access is not granted.
type DeniedError struct {
	Namespace string
	Op        string
}

func (e *DeniedError) Error() string {
	return "state: " + e.Op + " denied for namespace " + e.Namespace
}

// Store is an in-process, per-plugin namespaced key/value store. Each
// plugin ID gets an isolated namespace map; Store itself never persists
// across process restarts, matching the spec's "scoped to the plugin,
// not global" state model.
type Store struct {
	mu     sync.RWMutex
	byPlugin map[string]map[string]map[string]any
}

// New builds an empty in-memory state store.
func New() *Store {
	return &Store{byPlugin: make(map[string]map[string]map[string]any)}
}

func (s *Store) namespace(pluginID, ns string) map[string]any {
	plugin, ok := s.byPlugin[pluginID]
	if !ok {
		plugin = make(map[string]map[string]any)
		s.byPlugin[pluginID] = plugin
	}
	space, ok := plugin[ns]
	if !ok {
		space = make(map[string]any)
		plugin[ns] = space
	}
	return space
}

// Scoped is the per-execution handle a handler's API.State() call
// returns: a view pinned to one plugin ID and gated by its
// PermissionSpec.State.Namespaces grants.
type Scoped struct {
	store    *Store
	pluginID string
	spec     execreq.StatePermission
}

// NewScoped builds a Scoped view for one plugin execution.
func NewScoped(store *Store, pluginID string, spec execreq.StatePermission) *Scoped {
	return &Scoped{store: store, pluginID: pluginID, spec: spec}
}

func (s *Scoped) grant(ns string) (read, write bool) {
	if s.spec.Namespaces == nil {
		return false, false
	}
	g, ok := s.spec.Namespaces[ns]
	if !ok {
		return false, false
	}
	return g.Read, g.Write
}

// Get reads key from namespace ns, failing if ns isn't granted read
// access.
func (s *Scoped) Get(ns, key string) (any, bool, error) {
	read, _ := s.grant(ns)
	if !read {
		return nil, false, &DeniedError{Namespace: ns, Op: "read"}
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	space := s.store.byPlugin[s.pluginID][ns]
	v, ok := space[key]
	return v, ok, nil
}

// Set writes key in namespace ns, failing if ns isn't granted write
// access.
func (s *Scoped) Set(ns, key string, value any) error {
	_, write := s.grant(ns)
	if !write {
		return &DeniedError{Namespace: ns, Op: "write"}
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.namespace(s.pluginID, ns)[key] = value
	return nil
}

// Delete removes key from namespace ns, failing if ns isn't granted
// write access. Deleting an absent key is a no-op.
func (s *Scoped) Delete(ns, key string) error {
	_, write := s.grant(ns)
	if !write {
		return &DeniedError{Namespace: ns, Op: "write"}
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.namespace(s.pluginID, ns), key)
	return nil
}

// Keys lists the keys stored in namespace ns, failing if ns isn't
// granted read access.
func (s *Scoped) Keys(ns string) ([]string, error) {
	read, _ := s.grant(ns)
	if !read {
		return nil, &DeniedError{Namespace: ns, Op: "read"}
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	space := s.store.byPlugin[s.pluginID][ns]
	keys := make([]string, 0, len(space))
	for k := range space {
		keys = append(keys, k)
	}
	return keys, nil
}
