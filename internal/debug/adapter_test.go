package debug

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPauseNoBreakpointReturnsImmediately(t *testing.T) {
	a := NewAdapter(New(nil), nil)
	err := a.Pause(context.Background(), "echo", "req-1", nil)
	assert.NoError(t, err)
}

func TestPauseBlocksUntilContinueCommand(t *testing.T) {
	a := NewAdapter(New([]string{"echo"}), nil)

	done := make(chan error, 1)
	go func() {
		done <- a.Pause(context.Background(), "echo", "req-1", "result")
	}()

	select {
	case ev := <-a.EventChan():
		assert.Equal(t, EventPaused, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a paused event")
	}

	a.CommandChan() <- &Command{Type: CommandContinue}

	select {
	case ev := <-a.EventChan():
		assert.Equal(t, EventResumed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a resumed event")
	}

	require.NoError(t, <-done)
}

func TestPauseAbortReturnsCanceled(t *testing.T) {
	a := NewAdapter(New([]string{"echo"}), nil)

	done := make(chan error, 1)
	go func() {
		done <- a.Pause(context.Background(), "echo", "req-1", nil)
	}()

	<-a.EventChan() // paused
	a.CommandChan() <- &Command{Type: CommandAbort}
	<-a.EventChan() // aborted

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPauseRespectsContextCancellation(t *testing.T) {
	a := NewAdapter(New([]string{"echo"}), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- a.Pause(ctx, "echo", "req-1", nil)
	}()

	<-a.EventChan() // paused
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigBreakpointManagement(t *testing.T) {
	c := New(nil)
	assert.False(t, c.Enabled)

	c.AddBreakpoint("echo")
	assert.True(t, c.Enabled)
	assert.True(t, c.ShouldPauseAt("echo"))

	c.RemoveBreakpoint("echo")
	assert.False(t, c.Enabled)
	assert.False(t, c.ShouldPauseAt("echo"))
}
