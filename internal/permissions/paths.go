package permissions

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// CheckRead checks whether p, interpreted relative to the workspace root,
// may be read under pc's filesystem permission.
func CheckRead(pc *PermissionContext, p string) error {
	return emit(pc, "filesystem.read", p, checkPath(pc, p, execreq.FSRead))
}

// CheckWrite checks whether p may be written.
func CheckWrite(pc *PermissionContext, p string) error {
	return emit(pc, "filesystem.write", p, checkPath(pc, p, execreq.FSWrite))
}

func checkPath(pc *PermissionContext, p string, want execreq.FSMode) error {
	if pc == nil {
		return &DeniedError{Class: "filesystem", Resource: "", Message: "no permission context"}
	}

	if err := rejectTraversal(p); err != nil {
		return err
	}

	fs := pc.Spec.Filesystem
	if !fsModeSatisfies(fs.Mode, want) {
		return &DeniedError{Class: "filesystem", Message: "filesystem access mode does not permit this operation"}
	}

	normalized := normalizePath(p)

	for _, pattern := range fs.Deny {
		if globMatch(pattern, normalized) {
			return &DeniedError{Class: "filesystem", Message: "path matches deny pattern"}
		}
	}

	if len(fs.Allow) == 0 {
		return &DeniedError{Class: "filesystem", Message: "no allow patterns configured"}
	}
	for _, pattern := range fs.Allow {
		if globMatch(pattern, normalized) {
			return nil
		}
	}
	return &DeniedError{Class: "filesystem", Allowed: fs.Allow, Message: "path not in allowed patterns"}
}

// fsModeSatisfies reports whether a granted mode covers a requested one:
// write implies read, read does not imply write, none implies nothing.
func fsModeSatisfies(granted, want execreq.FSMode) bool {
	switch want {
	case execreq.FSRead:
		return granted == execreq.FSRead || granted == execreq.FSWrite
	case execreq.FSWrite:
		return granted == execreq.FSWrite
	default:
		return false
	}
}

// rejectTraversal denies any path that escapes the workspace root via
// "..", even after cleaning, so a handler cannot read outside its lease
// by construction of the string it passes in (spec §9 "path traversal is
// a denial, not a clamp").
func rejectTraversal(p string) error {
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || filepath.IsAbs(p) {
		return &DeniedError{Class: "filesystem", Message: "path escapes workspace root"}
	}
	return nil
}

func normalizePath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	return path.Clean(p)
}

func globMatch(pattern, p string) bool {
	matched, err := doublestar.Match(normalizePath(pattern), p)
	return err == nil && matched
}
