package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

type stubBackend struct {
	name string
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) Execute(ctx context.Context, req *execreq.ExecutionRequest, platform execreq.PlatformServices, runtime execreq.Runtime, api execreq.API) (*execreq.RunResult, error) {
	return &execreq.RunResult{Metadata: execreq.BackendMeta{Backend: s.name}}, nil
}
func (s *stubBackend) Health(ctx context.Context) Health { return Health{Healthy: true} }
func (s *stubBackend) Stats() any                        { return nil }
func (s *stubBackend) Shutdown(ctx context.Context) error { return nil }

func TestOptionsSelectAutoPrefersInProcessWhenLocalAndTrusted(t *testing.T) {
	opts := Options{Mode: ModeAuto, Local: true}
	assert.Equal(t, ModeInProcess, opts.Select())
}

func TestOptionsSelectAutoFallsBackToPoolWhenUntrustedPluginsPresent(t *testing.T) {
	opts := Options{Mode: ModeAuto, Local: true, UntrustedPluginsPresent: true}
	assert.Equal(t, ModePool, opts.Select())
}

func TestOptionsSelectAutoFallsBackToPoolWhenRemote(t *testing.T) {
	opts := Options{Mode: ModeAuto, Local: false}
	assert.Equal(t, ModePool, opts.Select())
}

func TestOptionsSelectExplicitModeWins(t *testing.T) {
	opts := Options{Mode: ModeSubprocess, Local: true}
	assert.Equal(t, ModeSubprocess, opts.Select())
}

func TestRegistryResolveReturnsBoundBackend(t *testing.T) {
	reg := NewRegistry()
	reg.Bind(ModeInProcess, &stubBackend{name: "in-process"})

	b, err := reg.Resolve(Options{Mode: ModeInProcess})
	require.NoError(t, err)
	assert.Equal(t, "in-process", b.Name())
}

func TestRegistryResolveUnboundModeErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve(Options{Mode: ModeSubprocess})
	require.Error(t, err)

	var unbound *UnboundError
	assert.True(t, errors.As(err, &unbound))
	assert.Equal(t, ModeSubprocess, unbound.Mode)
}
