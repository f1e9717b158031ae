// Package backend implements the execution backend façade (C7): a
// uniform {Execute, Health, Stats, Shutdown} contract over the
// in-process runner (C4), worker pool (C6), and subprocess runner (C5),
// so callers assemble one ExecutionRequest and never depend on which
// concrete strategy actually served it.
package backend

import (
	"context"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// Mode selects which concrete backend a request is dispatched to.
type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeInProcess  Mode = "in-process"
	ModePool       Mode = "pool"
	ModeSubprocess Mode = "subprocess"
)

// Health reports a backend's current operating status, surfaced by host
// adapters on a status endpoint.
type Health struct {
	Healthy bool
	Detail  string
}

// Backend is the uniform contract every concrete execution strategy
// implements (spec §4.7).
type Backend interface {
	Name() string
	Execute(ctx context.Context, req *execreq.ExecutionRequest, platform execreq.PlatformServices, runtime execreq.Runtime, api execreq.API) (*execreq.RunResult, error)
	Health(ctx context.Context) Health
	Stats() any
	Shutdown(ctx context.Context) error
}

// Starter is implemented by backends that must spin up background
// goroutines before accepting work (the worker pool's workers and
// health loop).
type Starter interface {
	Start(ctx context.Context) error
}
