package invoke

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/backend"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/permissions"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

var (
	ErrMaxDepthExceeded = errors.New("invoke: max chain depth exceeded")
	ErrMaxHopsExceeded  = errors.New("invoke: max chain hops exceeded")
	ErrBudgetExhausted  = errors.New("invoke: time budget exhausted")
)

// Request is what a handler passes to Broker.Invoke: the target
// plugin, an optional specific handler, opaque input, and an optional
// per-call timeout (spec §4.9).
type Request struct {
	PluginID  string
	Handler   execreq.HandlerRef
	Input     any
	TimeoutMs int64
}

// Result mirrors RunResult but never raises: a failed nested
// invocation is reported as data, not unwound through the caller, so
// a handler can inspect and react to a callee's failure (spec §4.9
// "error mapping without unwinding caller exceptions").
type Result struct {
	OK    bool             `json:"ok"`
	Data  any              `json:"data,omitempty"`
	Error *errkind.Envelope `json:"error,omitempty"`
}

// HandlerQuota resolves a target plugin/handler's declared quota
// timeout, used to clamp the child chain's time budget.
type HandlerQuota func(pluginID string, ref execreq.HandlerRef) time.Duration

// APIBuilder constructs the execreq.API façade a nested invocation's
// handler receives, carrying the derived child chain so depth/hops keep
// accumulating across further recursive invokes (spec §4.9). It is an
// injected function rather than a direct dependency on internal/api,
// which itself imports internal/invoke for its own InvokeClient.
type APIBuilder func(callerPluginID string, chain Chain) execreq.API

// Broker dispatches cross-plugin invocations through C7, enforcing the
// caller's invoke permission, the chained depth/hop/time budget, and a
// per-target circuit breaker so a consistently failing callee doesn't
// keep absorbing caller time (spec §4.9).
type Broker struct {
	backends *backend.Registry
	quota    HandlerQuota
	logger   *slog.Logger

	platform   execreq.PlatformServices
	apiBuilder APIBuilder

	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds an invoke broker. quota may be nil, in which case child
// chains are only clamped by the caller's own remaining budget and the
// request's own timeout.
func New(backends *backend.Registry, quota HandlerQuota, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{backends: backends, quota: quota, logger: logger, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// SetPlatform wires the platform services passed to a nested invocation's
// backend call. Unset, nested executions get a nil execreq.PlatformServices.
func (b *Broker) SetPlatform(p execreq.PlatformServices) { b.platform = p }

// SetAPIBuilder wires the callback used to build the execreq.API façade
// for a nested invocation's handler. Unset, nested executions get a nil
// execreq.API and can't themselves invoke, schedule jobs, or emit events.
func (b *Broker) SetAPIBuilder(build APIBuilder) { b.apiBuilder = build }

// Invoke dispatches req as a nested execution of its target plugin,
// under chain's inherited depth/hop/time budget. The caller's
// permission context (from ctx) must allow invoking the target plugin.
// Every rejection path (permission denial, chain-limit overflow, breaker
// trip, handler failure) is mapped into Result.Error rather than raised,
// so a recursive self-invoke chain never unwinds past the caller that
// only sees its own ok:true path (spec §4.9).
func (b *Broker) Invoke(ctx context.Context, chain Chain, callerPluginID string, req Request) (*Result, error) {
	pc := permissions.FromContext(ctx)
	if err := permissions.CheckInvoke(pc, req.PluginID); err != nil {
		var de *permissions.DeniedError
		if errors.As(err, &de) {
			return mapError(de.AsPluginError()), nil
		}
		return mapError(errkind.Wrap(errkind.PermissionDenied, err, "invoke: permission denied")), nil
	}

	var quotaTimeout time.Duration
	if b.quota != nil {
		quotaTimeout = b.quota(req.PluginID, req.Handler)
	}
	requestedTimeout := time.Duration(req.TimeoutMs) * time.Millisecond

	child, err := chain.Child(requestedTimeout, quotaTimeout)
	if err != nil {
		return mapError(mapChainError(err)), nil
	}

	execReq := &execreq.ExecutionRequest{
		ExecutionID: uuid.NewString(),
		Descriptor: execreq.Descriptor{
			Host:            execreq.HostWorkflow,
			PluginID:        req.PluginID,
			RequestID:       uuid.NewString(),
			ParentRequestID: callerPluginID,
			Permissions:     pc.Spec,
		},
		HandlerRef: req.Handler,
		Input:      req.Input,
		TimeoutMs:  int64(child.Remaining / time.Millisecond),
	}

	var childAPI execreq.API
	if b.apiBuilder != nil {
		childAPI = b.apiBuilder(req.PluginID, child)
	}

	br := b.breakerFor(req.PluginID)
	value, breakErr := br.Execute(func() (any, error) {
		be, err := b.backends.Resolve(backend.Options{})
		if err != nil {
			return nil, err
		}
		// runtime is left nil: a sandboxed Runtime needs the callee's
		// plugin root resolved through a manifest registry, which the
		// broker doesn't own (spec §1 manifest discovery is out of scope).
		return be.Execute(ctx, execReq, b.platform, nil, childAPI)
	})

	if breakErr != nil {
		return mapError(breakErr), nil
	}

	result, ok := value.(*execreq.RunResult)
	if !ok {
		return mapError(errkind.New(errkind.HandlerError, "invoke: unexpected result value")), nil
	}
	return &Result{OK: true, Data: result.Data}, nil
}

// mapChainError translates a Chain.Child budget-overflow error into its
// closed Kind (spec §4.9: DEPTH_EXCEEDED, HOPS_EXCEEDED, TIMEOUT).
func mapChainError(err error) *errkind.PluginError {
	switch {
	case errors.Is(err, ErrMaxDepthExceeded):
		return errkind.Wrap(errkind.DepthExceeded, err, "invoke: max chain depth exceeded")
	case errors.Is(err, ErrMaxHopsExceeded):
		return errkind.Wrap(errkind.HopsExceeded, err, "invoke: max chain hops exceeded")
	case errors.Is(err, ErrBudgetExhausted):
		return errkind.Wrap(errkind.Timeout, err, "invoke: time budget exhausted")
	default:
		return errkind.Wrap(errkind.ValidationError, err, "invoke: chain limit exceeded")
	}
}

func (b *Broker) breakerFor(pluginID string) *gobreaker.CircuitBreaker {
	if cb, ok := b.breakers[pluginID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        pluginID,
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("invoke circuit breaker state change", "target", name, "from", from, "to", to)
		},
	})
	b.breakers[pluginID] = cb
	return cb
}

func mapError(err error) *Result {
	return &Result{OK: false, Error: errkind.Normalize(err)}
}
