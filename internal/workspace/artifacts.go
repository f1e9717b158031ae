package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ArtifactWriter copies every file under root matching one of patterns
// into outdir, preserving relative paths, implementing
// orchestrator.ArtifactWriter (spec §4.8 step 7 "artifact collection").
type ArtifactWriter struct {
	root string
}

// NewArtifactWriter builds an ArtifactWriter rooted at a leased
// workspace directory.
func NewArtifactWriter(root string) *ArtifactWriter {
	return &ArtifactWriter{root: root}
}

// Write walks root, copying every regular file whose path (relative to
// root, slash-separated) matches one of patterns into outdir. An empty
// patterns list collects nothing, matching the orchestrator's "no
// artifacts declared" default.
func (w *ArtifactWriter) Write(ctx context.Context, outdir string, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return fmt.Errorf("workspace: create artifacts outdir: %w", err)
	}

	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !matchesAny(patterns, rel) {
			return nil
		}
		return copyFile(path, filepath.Join(outdir, filepath.FromSlash(rel)))
	})
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
