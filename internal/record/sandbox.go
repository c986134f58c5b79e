package record

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox confines record paths to a configured directory.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at dir. The directory does not need to
// exist yet.
func NewSandbox(dir string) (*Sandbox, error) {
	if dir == "" {
		return nil, fmt.Errorf("record directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve record directory: %w", err)
	}
	return &Sandbox{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute sandbox directory.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve returns the absolute path for p. Relative paths are taken from the
// sandbox root; the result, after symlink resolution, must stay inside it.
func (s *Sandbox) Resolve(p string) (string, error) {
	p = strings.ReplaceAll(p, "\x00", "")
	if p == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	clean := filepath.Clean(p)

	if !within(clean, s.root) && !within(clean, realPath(s.root)) {
		return "", fmt.Errorf("path is outside record directory: %s", p)
	}

	// A symlink inside the directory must not lead out of it.
	if _, err := os.Lstat(clean); err == nil {
		real := realPath(clean)
		if !within(real, s.root) && !within(real, realPath(s.root)) {
			return "", fmt.Errorf("path is outside record directory: %s", p)
		}
	}
	return clean, nil
}

func realPath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return p
}

func within(p, dir string) bool {
	if p == dir {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
