package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// FrameConn wraps a net.Conn with newline-delimited JSON framing: one
// Message per line, no length prefix, so either side can be a simple
// line-buffered reader (spec §4.3/§6 "platform bridge transport").
type FrameConn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
}

// NewFrameConn wraps an already-dialed/accepted connection.
func NewFrameConn(conn net.Conn) *FrameConn {
	return &FrameConn{conn: conn, reader: bufio.NewReader(conn)}
}

// Send writes one frame, terminated by a newline. Safe for concurrent
// callers; writes are serialized so frames from different goroutines
// never interleave.
func (f *FrameConn) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("platform/rpc: encode frame: %w", err)
	}
	data = append(data, '\n')

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_, err = f.conn.Write(data)
	return err
}

// Recv blocks until the next newline-terminated frame arrives, or the
// connection is closed.
func (f *FrameConn) Recv() (*Message, error) {
	line, err := f.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Close closes the underlying connection.
func (f *FrameConn) Close() error { return f.conn.Close() }
