package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultCallTimeout is applied to a Call when ctx carries no deadline
// (spec §4.3 "platform calls default to a 30s timeout").
const DefaultCallTimeout = 30 * time.Second

var ErrConnectionClosed = errors.New("platform/rpc: connection closed")

// Client is the subprocess-side handle to the platform bridge: it dials
// once, then multiplexes concurrent Call invocations over the same
// connection by correlation ID.
type Client struct {
	fc *FrameConn

	mu      sync.Mutex
	pending map[string]chan *Message
	closed  bool
}

// Dial connects to the bridge socket, performs the handshake with token,
// and starts the background read loop.
func Dial(ctx context.Context, socketPath, token string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("platform/rpc: dial: %w", err)
	}
	fc := NewFrameConn(conn)

	hello := NewHandshake()
	if token != "" {
		params, _ := marshalOrNil(struct {
			Token string `json:"token"`
		}{Token: token})
		hello.Params = params
	}
	if err := fc.Send(hello); err != nil {
		fc.Close()
		return nil, err
	}
	reply, err := fc.Recv()
	if err != nil {
		fc.Close()
		return nil, err
	}
	if reply.Type == MessageTypeError {
		fc.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuthenticationFailed, reply.Error.Message)
	}

	c := &Client{fc: fc, pending: make(map[string]chan *Message)}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		msg, err := c.fc.Recv()
		if err != nil {
			c.closeAll()
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.CorrelationID]
		if ok {
			delete(c.pending, msg.CorrelationID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (c *Client) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call invokes service.method and decodes the result into out (if non-nil).
// If ctx carries no deadline, DefaultCallTimeout is applied.
func (c *Client) Call(ctx context.Context, service, method string, params, out any) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	req, err := NewRequest(service, method, params)
	if err != nil {
		return err
	}

	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.pending[req.CorrelationID] = ch
	c.mu.Unlock()

	if err := c.fc.Send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.CorrelationID)
		c.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.CorrelationID)
		c.mu.Unlock()
		return ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return ErrConnectionClosed
		}
		if msg.Type == MessageTypeError {
			return fmt.Errorf("platform/rpc: %s: %s", msg.Error.Code, msg.Error.Message)
		}
		if out != nil {
			return msg.UnmarshalResult(out)
		}
		return nil
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.closeAll()
	return c.fc.Close()
}
