package debug

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Shell is a minimal line-oriented debugger console: it prints each
// Event from an Adapter and reads one command per pause.
type Shell struct {
	adapter *Adapter
	input   io.Reader
	output  io.Writer
}

// NewShell builds a Shell reading commands from stdin and writing
// events to stdout.
func NewShell(adapter *Adapter) *Shell {
	return &Shell{adapter: adapter, input: os.Stdin, output: os.Stdout}
}

// Run drains events from the adapter until it closes or ctx is done,
// prompting for a command on every pause.
func (s *Shell) Run(ctx context.Context) error {
	reader := bufio.NewReader(s.input)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-s.adapter.EventChan():
			if !ok {
				return nil
			}
			if err := s.handle(ctx, reader, event); err != nil {
				return err
			}
		}
	}
}

func (s *Shell) handle(ctx context.Context, reader *bufio.Reader, event *Event) error {
	switch event.Type {
	case EventPaused:
		fmt.Fprintf(s.output, "paused at %s (request %s); result so far: %v\n", event.HandlerExport, event.RequestID, event.Result)
		fmt.Fprint(s.output, "(continue/abort) > ")
		line, _ := reader.ReadString('\n')
		cmd := CommandContinue
		if strings.TrimSpace(strings.ToLower(line)) == "abort" {
			cmd = CommandAbort
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.adapter.CommandChan() <- &Command{Type: cmd}:
		}
	case EventResumed:
		fmt.Fprintf(s.output, "resumed %s\n", event.HandlerExport)
	case EventAborted:
		fmt.Fprintf(s.output, "aborted %s\n", event.HandlerExport)
	case EventFinished:
		fmt.Fprintln(s.output, "execution finished")
	}
	return nil
}
