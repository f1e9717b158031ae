package debug

import (
	"context"
	"log/slog"
	"time"
)

// EventType classifies an Event sent to a Shell.
type EventType string

const (
	EventPaused   EventType = "paused"
	EventResumed  EventType = "resumed"
	EventAborted  EventType = "aborted"
	EventFinished EventType = "finished"
)

// Event notifies a Shell that an execution reached a breakpoint (or
// moved past one).
type Event struct {
	Type          EventType
	HandlerExport string
	RequestID     string
	Result        any
	Err           error
	Timestamp     time.Time
}

// CommandType is an action a Shell sends back to resume or stop a
// paused execution.
type CommandType string

const (
	CommandContinue CommandType = "continue"
	CommandAbort    CommandType = "abort"
)

// Command is sent from a Shell to the Adapter that is blocked in
// Pause.
type Command struct {
	Type CommandType
}

// Adapter gates one execution's cleanup-stack drain behind a
// breakpoint. A host wires it in only when breakpoints were requested;
// with a nil Adapter, Pause is a no-op.
type Adapter struct {
	config    *Config
	logger    *slog.Logger
	eventChan chan *Event
	cmdChan   chan *Command
}

// NewAdapter builds an Adapter bound to cfg. logger may be nil, in
// which case slog.Default() is used.
func NewAdapter(cfg *Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		config:    cfg,
		logger:    logger,
		eventChan: make(chan *Event, 4),
		cmdChan:   make(chan *Command, 1),
	}
}

// EventChan is read by a Shell to learn when an execution pauses.
func (a *Adapter) EventChan() <-chan *Event { return a.eventChan }

// CommandChan is written by a Shell to resume or abort a paused
// execution.
func (a *Adapter) CommandChan() chan<- *Command { return a.cmdChan }

// Pause blocks the caller at handlerExport if it is a registered
// breakpoint, until a Shell sends a Command or ctx is canceled. It
// returns ctx.Err() on cancellation, a non-nil error if the command was
// Abort, and nil otherwise (continue, or no breakpoint matched).
func (a *Adapter) Pause(ctx context.Context, handlerExport, requestID string, result any) error {
	if a == nil || !a.config.ShouldPauseAt(handlerExport) {
		return nil
	}

	a.logger.Info("execution paused at breakpoint", "handler", handlerExport, "request", requestID)
	a.eventChan <- &Event{Type: EventPaused, HandlerExport: handlerExport, RequestID: requestID, Result: result, Timestamp: time.Now()}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case cmd := <-a.cmdChan:
		switch cmd.Type {
		case CommandAbort:
			a.eventChan <- &Event{Type: EventAborted, HandlerExport: handlerExport, RequestID: requestID, Timestamp: time.Now()}
			return context.Canceled
		default:
			a.eventChan <- &Event{Type: EventResumed, HandlerExport: handlerExport, RequestID: requestID, Timestamp: time.Now()}
			return nil
		}
	}
}

// Close signals any Shell reading EventChan that no more events are
// coming.
func (a *Adapter) Close() {
	if a == nil {
		return
	}
	close(a.eventChan)
}
