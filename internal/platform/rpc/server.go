package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

var ErrServerClosed = errors.New("platform/rpc: server closed")

// Handler serves one request frame and returns the result to encode into
// the response, or an error to encode into an error frame.
type Handler func(ctx context.Context, claims *Claims, service, method string, params []byte) (any, error)

// ServerConfig configures the platform bridge server.
type ServerConfig struct {
	// SocketPath is the Unix-domain socket path to listen on.
	SocketPath string
	Issuer     *TokenIssuer
	Logger     *slog.Logger
	Handler    Handler
}

// Server accepts platform-bridge connections over a Unix-domain socket
// (spec §4.3/§6). One server is shared by every subprocess-isolated
// handler invocation in a process.
type Server struct {
	cfg      ServerConfig
	logger   *slog.Logger
	listener net.Listener

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer constructs a server that has not yet started listening.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Start removes any stale socket file, listens, and begins accepting
// connections in the background until ctx is canceled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	_ = os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("platform/rpc: listen: %w", err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.logger.Warn("platform bridge accept failed", "error", err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, NewFrameConn(conn))
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, fc *FrameConn) {
	defer fc.Close()

	hello, err := fc.Recv()
	if err != nil || hello.Type != MessageTypeHandshake || !IsVersionSupported(hello.Version) {
		return
	}

	var claims *Claims
	if s.cfg.Issuer != nil {
		var auth struct {
			Token string `json:"token"`
		}
		_ = hello.UnmarshalParams(&auth)
		claims, err = s.cfg.Issuer.Validate(auth.Token)
		if err != nil {
			_ = fc.Send(NewErrorResponse(hello.CorrelationID, "permission_denied", "authentication failed", nil))
			return
		}
	}
	_ = fc.Send(&Message{Type: MessageTypeHandshake, CorrelationID: hello.CorrelationID, Version: ProtocolVersion})

	for {
		msg, err := fc.Recv()
		if err != nil {
			return
		}
		if msg.Type != MessageTypeRequest {
			continue
		}
		go s.dispatch(ctx, fc, claims, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, fc *FrameConn, claims *Claims, req *Message) {
	if s.cfg.Handler == nil {
		_ = fc.Send(NewErrorResponse(req.CorrelationID, "handler_error", "no handler configured", nil))
		return
	}
	result, err := s.cfg.Handler(ctx, claims, req.Service, req.Method, req.Params)
	if err != nil {
		_ = fc.Send(NewErrorResponse(req.CorrelationID, "handler_error", err.Error(), nil))
		return
	}
	resp, err := NewResponse(req.CorrelationID, result)
	if err != nil {
		_ = fc.Send(NewErrorResponse(req.CorrelationID, "handler_error", err.Error(), nil))
		return
	}
	_ = fc.Send(resp)
}

// Close stops accepting new connections. In-flight requests are not
// interrupted.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.Remove(s.cfg.SocketPath)
	return nil
}
