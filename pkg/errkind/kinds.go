// Package errkind implements the stable error taxonomy shared by every
// component of the execution substrate (C12). The kind set is closed and
// versioned; adding a new kind is a protocol change.
package errkind

// ProtocolVersion identifies the wire shape of Envelope. Bump on breaking
// changes to the envelope's JSON shape, not on new Kind values.
const ProtocolVersion = "1.0"

// Kind is a stable, serializable error category.
type Kind string

const (
	Timeout               Kind = "TIMEOUT"
	Aborted                Kind = "ABORTED"
	PermissionDenied       Kind = "PERMISSION_DENIED"
	HandlerError           Kind = "HANDLER_ERROR"
	HandlerContractError   Kind = "HANDLER_CONTRACT_ERROR"
	HandlerNotFound        Kind = "HANDLER_NOT_FOUND"
	WorkspaceError         Kind = "WORKSPACE_ERROR"
	ValidationError        Kind = "VALIDATION_ERROR"
	QueueFull              Kind = "QUEUE_FULL"
	AcquireTimeout         Kind = "ACQUIRE_TIMEOUT"
	WorkerCrashed          Kind = "WORKER_CRASHED"
	WorkerUnhealthy        Kind = "WORKER_UNHEALTHY"
	Unknown                Kind = "UNKNOWN_ERROR"

	// DepthExceeded and HopsExceeded are the invoke broker's (C9) chain
	// budget overflow codes (spec §4.9). They extend the closed set
	// beyond §4.11's host-facing enumeration because InvokeResult.error
	// is a narrower, invoke-specific envelope, not a value a host
	// adapter turns directly into an HTTP response.
	DepthExceeded Kind = "DEPTH_EXCEEDED"
	HopsExceeded  Kind = "HOPS_EXCEEDED"

	// JobSubmitRejectedDegraded is returned by the job broker (C10) when
	// the degradation controller (C11) rejects a submission outright
	// (spec §4.10 "fail with JOB_SUBMIT_REJECTED_DEGRADED (HTTP 503)").
	JobSubmitRejectedDegraded Kind = "JOB_SUBMIT_REJECTED_DEGRADED"
)

// httpStatus maps each Kind to the canonical HTTP status used by host
// adapters (C13). Order mirrors spec §4.11.
var httpStatus = map[Kind]int{
	Timeout:              504,
	Aborted:              499,
	PermissionDenied:     403,
	HandlerError:         500,
	HandlerContractError: 500,
	HandlerNotFound:      404,
	WorkspaceError:       500,
	ValidationError:      400,
	QueueFull:            429,
	AcquireTimeout:       503,
	WorkerCrashed:        500,
	WorkerUnhealthy:      503,
	Unknown:              500,
	DepthExceeded:        400,
	HopsExceeded:         400,
	JobSubmitRejectedDegraded: 503,
}

// HTTPStatus returns the canonical HTTP status for a Kind, defaulting to
// 500 for an unrecognized value rather than zero.
func HTTPStatus(k Kind) int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return 500
}

// Valid reports whether k is a member of the closed kind set.
func Valid(k Kind) bool {
	_, ok := httpStatus[k]
	return ok
}
