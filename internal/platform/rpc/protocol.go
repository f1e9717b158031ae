// Package rpc implements the platform service bridge wire protocol (C3):
// a Unix-domain stream socket carrying newline-delimited JSON messages,
// correlated by CorrelationID so a single connection can multiplex many
// concurrent in-flight calls.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const ProtocolVersion = "1.0"

var (
	ErrInvalidMessage      = errors.New("platform/rpc: invalid message")
	ErrMissingCorrelation  = errors.New("platform/rpc: missing correlation id")
	ErrUnsupportedVersion  = errors.New("platform/rpc: unsupported protocol version")
)

// MessageType identifies the kind of frame exchanged over the socket.
type MessageType string

const (
	MessageTypeRequest   MessageType = "request"
	MessageTypeResponse  MessageType = "response"
	MessageTypeError     MessageType = "error"
	MessageTypeHandshake MessageType = "handshake"
)

// Message is one newline-delimited JSON frame.
type Message struct {
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlationId"`
	Version       string          `json:"version,omitempty"`
	Service       string          `json:"service,omitempty"`
	Method        string          `json:"method,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *ErrorFrame     `json:"error,omitempty"`
}

// ErrorFrame is the structured error carried on a MessageTypeError frame,
// shaped to round-trip through pkg/errkind.Envelope on the client side.
type ErrorFrame struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewRequest builds a request frame for service.method with a freshly
// generated correlation ID.
func NewRequest(service, method string, params any) (*Message, error) {
	raw, err := marshalOrNil(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:          MessageTypeRequest,
		CorrelationID: uuid.New().String(),
		Service:       service,
		Method:        method,
		Params:        raw,
	}, nil
}

// NewResponse builds a response frame matching a request's correlation ID.
func NewResponse(correlationID string, result any) (*Message, error) {
	raw, err := marshalOrNil(result)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:          MessageTypeResponse,
		CorrelationID: correlationID,
		Result:        raw,
	}, nil
}

// NewErrorResponse builds an error frame matching a request's correlation ID.
func NewErrorResponse(correlationID, code, message string, details map[string]any) *Message {
	return &Message{
		Type:          MessageTypeError,
		CorrelationID: correlationID,
		Error:         &ErrorFrame{Code: code, Message: message, Details: details},
	}
}

// NewHandshake builds the first frame a client sends after dialing.
func NewHandshake() *Message {
	return &Message{
		Type:          MessageTypeHandshake,
		CorrelationID: uuid.New().String(),
		Version:       ProtocolVersion,
	}
}

func marshalOrNil(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("platform/rpc: marshal: %w", err)
	}
	return data, nil
}

// Validate checks structural well-formedness of a decoded message.
func (m *Message) Validate() error {
	if m.CorrelationID == "" {
		return ErrMissingCorrelation
	}
	switch m.Type {
	case MessageTypeRequest:
		if m.Method == "" {
			return fmt.Errorf("%w: request missing method", ErrInvalidMessage)
		}
	case MessageTypeHandshake:
		if m.Version == "" {
			return fmt.Errorf("%w: handshake missing version", ErrInvalidMessage)
		}
	case MessageTypeResponse, MessageTypeError:
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// UnmarshalParams decodes the Params field into v.
func (m *Message) UnmarshalParams(v any) error {
	if m.Params == nil {
		return nil
	}
	return json.Unmarshal(m.Params, v)
}

// UnmarshalResult decodes the Result field into v.
func (m *Message) UnmarshalResult(v any) error {
	if m.Result == nil {
		return nil
	}
	return json.Unmarshal(m.Result, v)
}

// IsVersionSupported reports whether version matches the one protocol
// version this bridge speaks.
func IsVersionSupported(version string) bool {
	return version == ProtocolVersion
}
