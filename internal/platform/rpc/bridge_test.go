package rpc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientServerRoundTrip(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "bridge.sock")
	issuer := NewTokenIssuer([]byte("test-secret"), time.Minute)

	srv := NewServer(ServerConfig{
		SocketPath: socketPath,
		Issuer:     issuer,
		Handler: func(ctx context.Context, claims *Claims, service, method string, params []byte) (any, error) {
			assert.Equal(t, "exec-1", claims.ExecutionID)
			assert.Equal(t, "logger", service)
			assert.Equal(t, "info", method)
			return map[string]string{"status": "logged"}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer srv.Close()

	token, err := issuer.Issue("exec-1", "demo-plugin")
	require.NoError(t, err)

	client, err := Dial(context.Background(), socketPath, token)
	require.NoError(t, err)
	defer client.Close()

	var out map[string]string
	err = client.Call(context.Background(), "logger", "info", map[string]string{"msg": "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "logged", out["status"])
}

func TestClientDialFailsWithBadToken(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "bridge.sock")
	issuer := NewTokenIssuer([]byte("test-secret"), time.Minute)

	srv := NewServer(ServerConfig{SocketPath: socketPath, Issuer: issuer})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer srv.Close()

	_, err := Dial(context.Background(), socketPath, "not-a-real-token")
	assert.Error(t, err)
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Millisecond)
	token, err := issuer.Issue("exec-1", "demo-plugin")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = issuer.Validate(token)
	assert.Error(t, err)
}
