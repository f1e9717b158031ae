package errkind

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PluginError is the exception shape a runner raises for any
// non-recoverable condition (spec §3, RunResult/errors). It always
// carries a recognized Kind so normalization is lossless.
type PluginError struct {
	Code    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *PluginError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PluginError) Unwrap() error { return e.Cause }

// New constructs a PluginError with the given kind and message.
func New(code Kind, message string) *PluginError {
	return &PluginError{Code: code, Message: message}
}

// Newf constructs a PluginError with a formatted message.
func Newf(code Kind, format string, args ...any) *PluginError {
	return &PluginError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and a wrapped cause; returns nil if err is nil.
func Wrap(code Kind, err error, message string) *PluginError {
	if err == nil {
		return nil
	}
	return &PluginError{Code: code, Message: message, Cause: err}
}

// TraceInfo carries distributed tracing identifiers through the envelope,
// mirroring the trace/span propagation described in §4.4 and §4.9.
type TraceInfo struct {
	TraceID string `json:"traceId,omitempty"`
	SpanID  string `json:"spanId,omitempty"`
}

// Envelope is the stable, serialized shape of an error crossing a
// component boundary (spec §3, §6, §7).
type Envelope struct {
	Code    Kind           `json:"code"`
	HTTP    int            `json:"http"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Trace   *TraceInfo     `json:"trace,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Envelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Normalize converts an arbitrary error into an Envelope following the
// rule in §4.11: a recognized PluginError passes its code through;
// anything else becomes HANDLER_ERROR; a non-error panic value (handled
// by the caller before reaching here) becomes UNKNOWN_ERROR.
func Normalize(err error) *Envelope {
	if err == nil {
		return nil
	}

	var pe *PluginError
	if errors.As(err, &pe) {
		return &Envelope{
			Code:    pe.Code,
			HTTP:    HTTPStatus(pe.Code),
			Message: pe.Message,
			Details: pe.Details,
		}
	}

	return &Envelope{
		Code:    HandlerError,
		HTTP:    HTTPStatus(HandlerError),
		Message: err.Error(),
	}
}

// NormalizePanic builds the envelope for a recovered non-error panic
// value, per §4.11 ("non-Error throws become UNKNOWN_ERROR").
func NormalizePanic(v any) *Envelope {
	return &Envelope{
		Code:    Unknown,
		HTTP:    HTTPStatus(Unknown),
		Message: fmt.Sprintf("%v", v),
	}
}

// Bytes and ParseEnvelope keep the envelope serialization
// stable as required by the "round-trip / idempotence" testable property
// in spec §8: serialize/deserialize must reproduce the original object
// under the declared kind set.
func (e *Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes a previously-serialized Envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("errkind: invalid envelope: %w", err)
	}
	return &e, nil
}
