package permissions

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

var _ execreq.Runtime = (*Runtime)(nil)

// FS is the sandboxed filesystem surface handed to a handler through
// execreq.Runtime. Every call resolves p against root and checks it
// against the execution's PermissionContext before touching disk (C1).
type FS interface {
	ReadFile(p string) ([]byte, error)
	WriteFile(p string, data []byte, perm fs.FileMode) error
	Stat(p string) (fs.FileInfo, error)
	Mkdir(p string, perm fs.FileMode) error
	ReadDir(p string) ([]fs.DirEntry, error)
	Remove(p string) error
}

// Fetch is the sandboxed outbound-HTTP surface handed to a handler
// through execreq.Runtime. Do checks req.URL.Host against the
// execution's network permission before the request leaves the process.
type Fetch interface {
	Do(req *http.Request) (*http.Response, error)
}

// sandboxedFS implements FS by resolving every path against root and
// running it through CheckRead/CheckWrite first.
type sandboxedFS struct {
	pc   *PermissionContext
	root string
}

func (f *sandboxedFS) resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		return "", &DeniedError{Class: "filesystem", Message: "absolute paths are not permitted"}
	}
	return filepath.Join(f.root, filepath.FromSlash(p)), nil
}

func (f *sandboxedFS) ReadFile(p string) ([]byte, error) {
	if err := CheckRead(f.pc, p); err != nil {
		return nil, err
	}
	resolved, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}

func (f *sandboxedFS) WriteFile(p string, data []byte, perm fs.FileMode) error {
	if err := CheckWrite(f.pc, p); err != nil {
		return err
	}
	resolved, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return fmt.Errorf("permissions: prepare parent dir: %w", err)
	}
	return os.WriteFile(resolved, data, perm)
}

func (f *sandboxedFS) Stat(p string) (fs.FileInfo, error) {
	if err := CheckRead(f.pc, p); err != nil {
		return nil, err
	}
	resolved, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Stat(resolved)
}

func (f *sandboxedFS) Mkdir(p string, perm fs.FileMode) error {
	if err := CheckWrite(f.pc, p); err != nil {
		return err
	}
	resolved, err := f.resolve(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(resolved, perm)
}

func (f *sandboxedFS) ReadDir(p string) ([]fs.DirEntry, error) {
	if err := CheckRead(f.pc, p); err != nil {
		return nil, err
	}
	resolved, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(resolved)
}

func (f *sandboxedFS) Remove(p string) error {
	if err := CheckWrite(f.pc, p); err != nil {
		return err
	}
	resolved, err := f.resolve(p)
	if err != nil {
		return err
	}
	return os.RemoveAll(resolved)
}

// sandboxedFetch implements Fetch by checking the request host against
// the execution's network permission before delegating to an underlying
// client.
type sandboxedFetch struct {
	pc     *PermissionContext
	client *http.Client
}

func (f *sandboxedFetch) Do(req *http.Request) (*http.Response, error) {
	if err := CheckNetwork(f.pc, req.URL.Host); err != nil {
		return nil, err
	}
	return f.client.Do(req)
}

// Runtime implements execreq.Runtime: it is the concrete sandbox a
// handler's fs/fetch/env surface is interposed through, whichever mode
// (C4 in-process or C5 subprocess) is actually running the handler.
type Runtime struct {
	pc    *PermissionContext
	root  string
	env   map[string]string
	fs    *sandboxedFS
	fetch *sandboxedFetch
}

// NewRuntime builds a sandboxed Runtime scoped to pc and rooted at root
// (the workspace lease's Root). processEnv is the full inherited
// environment (e.g. from os.Environ, parsed to a map); Env() returns only
// the subset pc's environment permission allows.
func NewRuntime(pc *PermissionContext, root string, processEnv map[string]string) *Runtime {
	return &Runtime{
		pc:    pc,
		root:  root,
		env:   processEnv,
		fs:    &sandboxedFS{pc: pc, root: root},
		fetch: &sandboxedFetch{pc: pc, client: http.DefaultClient},
	}
}

func (r *Runtime) FS() any    { return r.fs }
func (r *Runtime) Fetch() any { return r.fetch }

// Env returns the subset of the inherited environment pc's environment
// permission allows a handler to read (spec §3 "environment allow
// list"); variables CheckEnvVar denies are simply absent, not zeroed.
func (r *Runtime) Env() map[string]string {
	allowed := make(map[string]string, len(r.env))
	for k, v := range r.env {
		if CheckEnvVar(r.pc, k) == nil {
			allowed[k] = v
		}
	}
	return allowed
}

// ProcessEnviron parses os.Environ()-style "KEY=VALUE" entries into a
// map, for callers building NewRuntime from the real process
// environment.
func ProcessEnviron(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
