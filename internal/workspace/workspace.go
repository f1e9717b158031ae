// Package workspace leases a working directory to an execution (C2): a
// deterministic local checkout, or a materialized ephemeral snapshot,
// scoped to one ExecutionRequest and released exactly once.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

var (
	// ErrNotLeased is returned by Path for an execution ID that was
	// never leased, or already released. Release of such an ID is a
	// no-op.
	ErrNotLeased = errors.New("workspace: no active lease for this execution")
)

// Lease is a materialized working directory handed to a runner for the
// duration of one execution.
type Lease struct {
	ExecutionID string
	Root        string
	Mode        execreq.WorkspaceMode
	SnapshotID  string
}

// Manager leases and releases workspace directories. The zero value is
// not usable; construct with NewManager.
type Manager struct {
	mu     sync.Mutex
	baseDir string
	leases map[string]*Lease
}

// NewManager creates a workspace manager rooted at baseDir. baseDir is
// created on first lease if it doesn't already exist.
func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir: baseDir,
		leases:  make(map[string]*Lease),
	}
}

// Lease materializes a working directory for req and returns it. Leasing
// the same execution ID twice returns the existing lease rather than
// creating a second one (spec §4.2 "lease is idempotent per execution").
func (m *Manager) Lease(ctx context.Context, req *execreq.ExecutionRequest) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.leases[req.ExecutionID]; ok {
		return existing, nil
	}

	if err := os.MkdirAll(m.baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("workspace: create base dir: %w", err)
	}

	var lease *Lease
	var err error
	switch req.Workspace.Mode {
	case execreq.WorkspaceEphemeral:
		lease, err = m.leaseEphemeral(req)
	default:
		lease, err = m.leaseLocal(req)
	}
	if err != nil {
		return nil, err
	}

	m.leases[req.ExecutionID] = lease
	return lease, nil
}

// leaseLocal binds directly to the caller-provided Cwd: no copy, no
// isolation, used when a host adapter already owns the directory (e.g.
// the CLI invoked from inside a repository checkout).
func (m *Manager) leaseLocal(req *execreq.ExecutionRequest) (*Lease, error) {
	root := req.Workspace.Cwd
	if root == "" {
		root = req.PluginRoot
	}
	return &Lease{
		ExecutionID: req.ExecutionID,
		Root:        root,
		Mode:        execreq.WorkspaceLocal,
	}, nil
}

// leaseEphemeral materializes an isolated directory keyed deterministically
// by (execution ID, plugin root) under baseDir, so retries of the same
// execution ID reuse the same path rather than leaking a new directory
// per attempt.
func (m *Manager) leaseEphemeral(req *execreq.ExecutionRequest) (*Lease, error) {
	id := deterministicID(req.ExecutionID, req.PluginRoot)
	root := filepath.Join(m.baseDir, id)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("workspace: create ephemeral dir: %w", err)
	}
	return &Lease{
		ExecutionID: req.ExecutionID,
		Root:        root,
		Mode:        execreq.WorkspaceEphemeral,
		SnapshotID:  req.Workspace.SnapshotID,
	}, nil
}

// Path returns the leased root for an execution ID, or ErrNotLeased.
func (m *Manager) Path(executionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lease, ok := m.leases[executionID]
	if !ok {
		return "", ErrNotLeased
	}
	return lease.Root, nil
}

// Release releases the lease for executionID. For an ephemeral
// workspace, the materialized directory is removed; for a local
// workspace, releasing only forgets the bookkeeping entry, since the
// directory was never owned by the manager. Release is idempotent: a
// second call for an already-released execution ID is a no-op
// (spec §4.2 "release is idempotent").
func (m *Manager) Release(ctx context.Context, executionID string) error {
	m.mu.Lock()
	lease, ok := m.leases[executionID]
	if ok {
		delete(m.leases, executionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if lease.Mode == execreq.WorkspaceEphemeral {
		return os.RemoveAll(lease.Root)
	}
	return nil
}

func deterministicID(executionID, pluginRoot string) string {
	sum := sha256.Sum256([]byte(executionID + "\x00" + pluginRoot))
	return hex.EncodeToString(sum[:16])
}
