package clipboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/spf13/afero"

	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
)

// CommandRunner runs a copy command with stdin attached.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	if out, err := cmd.CombinedOutput(); err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// SurfaceFallback stages text in a temporary file, selects all of it and
// pipes it to a platform copy command. The surface is removed on every exit
// path.
type SurfaceFallback struct {
	fs       afero.Fs
	dir      string
	command  []string
	runner   CommandRunner
	lookPath func(string) (string, error)
	getenv   func(string) string
	goos     string

	live atomic.Int64
}

// FallbackOption configures a SurfaceFallback.
type FallbackOption func(*SurfaceFallback)

// WithFs sets the filesystem surfaces are created on.
func WithFs(fs afero.Fs) FallbackOption {
	return func(f *SurfaceFallback) { f.fs = fs }
}

// WithSurfaceDir sets the directory for surfaces.
func WithSurfaceDir(dir string) FallbackOption {
	return func(f *SurfaceFallback) { f.dir = dir }
}

// WithCommand fixes the copy command instead of detecting one. The string
// is split on whitespace.
func WithCommand(command string) FallbackOption {
	return func(f *SurfaceFallback) { f.command = strings.Fields(command) }
}

// WithRunner replaces command execution.
func WithRunner(r CommandRunner) FallbackOption {
	return func(f *SurfaceFallback) { f.runner = r }
}

// WithLookPath replaces executable lookup during detection.
func WithLookPath(fn func(string) (string, error)) FallbackOption {
	return func(f *SurfaceFallback) { f.lookPath = fn }
}

// WithPlatform overrides the OS and environment used for detection.
func WithPlatform(goos string, getenv func(string) string) FallbackOption {
	return func(f *SurfaceFallback) {
		f.goos = goos
		f.getenv = getenv
	}
}

// NewSurfaceFallback creates a fallback on the OS filesystem.
func NewSurfaceFallback(opts ...FallbackOption) *SurfaceFallback {
	f := &SurfaceFallback{
		fs:       afero.NewOsFs(),
		runner:   execRunner{},
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
		goos:     runtime.GOOS,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Live returns the number of surfaces currently allocated.
func (f *SurfaceFallback) Live() int64 {
	return f.live.Load()
}

// Copy implements Fallback.
func (f *SurfaceFallback) Copy(ctx context.Context, text string) error {
	argv, err := f.resolveCommand()
	if err != nil {
		return assisterrors.Wrap(assisterrors.ErrorTypeFallbackFailed, "no clipboard command", err)
	}

	surface, err := afero.TempFile(f.fs, f.dir, "form-assist-*.txt")
	if err != nil {
		return assisterrors.Wrap(assisterrors.ErrorTypeFallbackFailed, "cannot create copy surface", err)
	}
	f.live.Add(1)
	defer func() {
		_ = surface.Close()
		_ = f.fs.Remove(surface.Name())
		f.live.Add(-1)
	}()

	if _, err := io.WriteString(surface, text); err != nil {
		return assisterrors.Wrap(assisterrors.ErrorTypeFallbackFailed, "cannot write copy surface", err)
	}
	if _, err := surface.Seek(0, io.SeekStart); err != nil {
		return assisterrors.Wrap(assisterrors.ErrorTypeFallbackFailed, "cannot select copy surface", err)
	}

	if err := f.runner.Run(ctx, argv[0], argv[1:], surface); err != nil {
		return assisterrors.Wrap(assisterrors.ErrorTypeFallbackFailed, "copy command failed", err)
	}
	return nil
}

// candidates lists copy commands for a platform in preference order.
func candidates(goos string, getenv func(string) string) [][]string {
	switch goos {
	case "darwin":
		return [][]string{{"pbcopy"}}
	case "windows":
		return [][]string{{"clip"}}
	}
	var out [][]string
	if getenv("WAYLAND_DISPLAY") != "" {
		out = append(out, []string{"wl-copy"})
	}
	return append(out,
		[]string{"xclip", "-selection", "clipboard"},
		[]string{"xsel", "--clipboard", "--input"},
	)
}

func (f *SurfaceFallback) resolveCommand() ([]string, error) {
	if len(f.command) > 0 {
		return f.command, nil
	}
	tried := make([]string, 0, 4)
	for _, argv := range candidates(f.goos, f.getenv) {
		if _, err := f.lookPath(argv[0]); err == nil {
			return argv, nil
		}
		tried = append(tried, argv[0])
	}
	return nil, fmt.Errorf("none of %s found", strings.Join(tried, ", "))
}
