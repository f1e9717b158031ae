package backend

import "context"

// Options configures the factory's backend selection.
type Options struct {
	Mode Mode

	// Local indicates the host process runs on the same machine as its
	// plugins. Together with UntrustedPluginsPresent this is the other
	// half of the ModeAuto decision (spec §4.7).
	Local bool

	// UntrustedPluginsPresent disables the in-process shortcut for
	// ModeAuto even on a local platform.
	UntrustedPluginsPresent bool
}

// Select resolves opts to a concrete Mode, collapsing ModeAuto into the
// decision rule from spec §4.7: in-process when local and no untrusted
// plugins are present, otherwise the worker pool.
func (o Options) Select() Mode {
	if o.Mode != ModeAuto && o.Mode != "" {
		return o.Mode
	}
	if o.Local && !o.UntrustedPluginsPresent {
		return ModeInProcess
	}
	return ModePool
}

// Registry holds one constructed Backend per Mode, used by the factory
// to resolve a request's selected mode to a concrete implementation.
type Registry struct {
	backends map[Mode]Backend
}

// NewRegistry builds an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[Mode]Backend)}
}

// Bind registers a concrete backend under mode, replacing any previous
// binding.
func (r *Registry) Bind(mode Mode, b Backend) {
	r.backends[mode] = b
}

// Resolve selects a backend for opts, returning an *UnboundError if the
// resolved mode has no registered implementation.
func (r *Registry) Resolve(opts Options) (Backend, error) {
	mode := opts.Select()
	b, ok := r.backends[mode]
	if !ok {
		return nil, &UnboundError{Mode: mode}
	}
	return b, nil
}

// StartAll starts every bound backend that implements Starter, so a host
// doesn't need to know which concrete backends require their own
// goroutines before Resolve is first called.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, b := range r.backends {
		s, ok := b.(Starter)
		if !ok {
			continue
		}
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// UnboundError is returned when a resolved Mode has no backend bound to
// it in the registry.
type UnboundError struct {
	Mode Mode
}

func (e *UnboundError) Error() string {
	return "backend: no implementation bound for mode " + string(e.Mode)
}
