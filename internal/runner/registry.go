// Package runner implements the in-process handler runner (C4): it loads
// a registered handler, builds its ExecutionContext, calls it, drains the
// cleanup stack exactly once, and normalizes whatever comes back into a
// RunResult or a classified error.
package runner

import (
	"fmt"
	"sync"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// HandlerFunc is a loaded handler's entry point. Input is already
// decoded; the returned value is shape-detected against
// execreq.HandlerReturn before being wrapped in a RunResult.
type HandlerFunc func(ctx *execreq.ExecutionContext, input any) (any, error)

// Registry maps (pluginID, HandlerRef) to a loaded HandlerFunc. In this
// substrate, "loading a handler" means resolving a registered Go
// function rather than dynamically importing source, since handlers
// compiled into the host process are registered at init time or via a
// plugin-specific entry point built against this same package.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler function to a plugin ID and HandlerRef.
// Registering the same key twice replaces the previous binding.
func (r *Registry) Register(pluginID string, ref execreq.HandlerRef, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key(pluginID, ref)] = fn
}

// Lookup resolves a handler function, returning ErrHandlerNotFound if
// none was registered for pluginID/ref.
func (r *Registry) Lookup(pluginID string, ref execreq.HandlerRef) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[key(pluginID, ref)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s#%s", ErrHandlerNotFound, pluginID, ref.File, ref.Export)
	}
	return fn, nil
}

func key(pluginID string, ref execreq.HandlerRef) string {
	return pluginID + "\x00" + ref.File + "\x00" + ref.Export
}
