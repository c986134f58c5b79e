package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-form-assistant/internal/assist"
	"github.com/a3tai/mcp-form-assistant/internal/browser"
	"github.com/a3tai/mcp-form-assistant/internal/bulk"
	"github.com/a3tai/mcp-form-assistant/internal/clipboard"
	"github.com/a3tai/mcp-form-assistant/internal/config"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
	"github.com/a3tai/mcp-form-assistant/internal/manifest"
)

const certJSON = `{
  "Certificate_No": "AD123",
  "Certificate_Type": "AD",
  "Exporter": "Acme Exports",
  "Discharge_Place": "GOLI",
  "Descriptions": ["Box A", "Box B"]
}`

type stubCopier struct {
	mu      sync.Mutex
	outcome clipboard.Outcome
	texts   []string
}

func (c *stubCopier) result() clipboard.Result {
	if c.outcome == clipboard.OutcomeFailed {
		return clipboard.Result{Outcome: c.outcome, Err: errors.New("no clipboard")}
	}
	return clipboard.Result{Outcome: c.outcome}
}

func (c *stubCopier) Copy(_ context.Context, text string) clipboard.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return c.result()
}

func (c *stubCopier) CopyBulk(_ context.Context, _ clipboard.Kind, src bulk.Source) clipboard.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, _ := bulk.FormatSource(src)
	c.texts = append(c.texts, text)
	return c.result()
}

func (c *stubCopier) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.texts) == 0 {
		return ""
	}
	return c.texts[len(c.texts)-1]
}

type stubWindow struct {
	ids    []string
	closed int
}

func (w *stubWindow) URL() string { return config.DefaultFormURL }

func (w *stubWindow) TryEnhance(_ context.Context, ids []string) (browser.EnhanceResult, error) {
	w.ids = ids
	return browser.EnhanceOK, nil
}

func (w *stubWindow) Close() error {
	w.closed++
	return nil
}

type stubOpener struct {
	win *stubWindow
	err error
}

func (o *stubOpener) Open(context.Context, string) (browser.Window, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.win, nil
}

// useCopier swaps the clipboard for the duration of the test.
func useCopier(t *testing.T, c *stubCopier) {
	t.Helper()
	orig := newCopier
	newCopier = func(*config.Config, logging.Logger) assist.Copier { return c }
	t.Cleanup(func() { newCopier = orig })
}

func useOpener(t *testing.T, o browser.Opener) {
	t.Helper()
	orig := newOpener
	newOpener = func(*config.Config, logging.Logger) browser.Opener { return o }
	t.Cleanup(func() { newOpener = orig })
}

func recordDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cert.json"), []byte(certJSON), 0o644))
	return dir
}

// execute runs the CLI and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestManifestCmd(t *testing.T) {
	dir := recordDir(t)

	t.Run("text", func(t *testing.T) {
		out, _, err := execute(t, "", "--dir", dir, "manifest", "cert.json")
		require.NoError(t, err)
		assert.Contains(t, out, "Certificate Number (certificateNumber): AD123")
		assert.Contains(t, out, "Out-Bound Border (outBoundBorder): GOLI")
		assert.Contains(t, out, "Cargo Description (cargoDescription): Box A\n     Box B")
	})

	t.Run("json", func(t *testing.T) {
		out, _, err := execute(t, "", "--dir", dir, "manifest", "--format", "json", "cert.json")
		require.NoError(t, err)
		var m manifest.Manifest
		require.NoError(t, json.Unmarshal([]byte(out), &m))
		assert.Equal(t, 22, m.Len())
	})

	t.Run("bulk", func(t *testing.T) {
		out, _, err := execute(t, "", "--dir", dir, "manifest", "-f", "bulk", "cert.json")
		require.NoError(t, err)
		pairs, err := bulk.Parse(out)
		require.NoError(t, err)
		assert.Len(t, pairs, 22)
	})

	t.Run("stdin", func(t *testing.T) {
		out, _, err := execute(t, `{"Exporter": "From Stdin"}`, "--dir", dir, "manifest", "-")
		require.NoError(t, err)
		assert.Contains(t, out, "Exporter (exporterName): From Stdin")
	})

	t.Run("startup record flag", func(t *testing.T) {
		out, _, err := execute(t, "", "--dir", dir, "--record", "cert.json", "manifest")
		require.NoError(t, err)
		assert.Contains(t, out, "Exporter (exporterName): Acme Exports")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := execute(t, "", "--dir", dir, "manifest", "-f", "xml")
		require.Error(t, err)
	})

	t.Run("record outside directory", func(t *testing.T) {
		_, _, err := execute(t, "", "--dir", dir, "manifest", "../cert.json")
		require.Error(t, err)
	})
}

func TestInstructionsCmd(t *testing.T) {
	out, _, err := execute(t, "", "--dir", recordDir(t), "instructions", "cert.json")
	require.NoError(t, err)
	assert.Contains(t, out, "Invesco application - AD certificate, out-bound border GOLI")
	assert.Contains(t, out, `   - Cargo Origin: Select "OUTSIDE UGANDA"`)
}

func TestCopyCmd(t *testing.T) {
	dir := recordDir(t)

	t.Run("field", func(t *testing.T) {
		c := &stubCopier{outcome: clipboard.OutcomeOK}
		useCopier(t, c)

		out, _, err := execute(t, "", "--dir", dir, "copy", "exporterName", "cert.json")
		require.NoError(t, err)
		assert.Equal(t, "Copied exporterName\n", out)
		assert.Equal(t, "Acme Exports", c.last())
	})

	t.Run("fallback", func(t *testing.T) {
		useCopier(t, &stubCopier{outcome: clipboard.OutcomeFallbackUsed})

		out, _, err := execute(t, "", "--dir", dir, "copy", "certificateNumber", "cert.json")
		require.NoError(t, err)
		assert.Contains(t, out, "fallback copy command")
	})

	t.Run("failure prints a notice", func(t *testing.T) {
		useCopier(t, &stubCopier{outcome: clipboard.OutcomeFailed})

		_, errOut, err := execute(t, "", "--dir", dir, "copy", "exporterName", "cert.json")
		require.Error(t, err)
		assert.Contains(t, errOut, "error: Could not copy Exporter to the clipboard.")
	})

	t.Run("unknown key", func(t *testing.T) {
		useCopier(t, &stubCopier{outcome: clipboard.OutcomeOK})

		_, _, err := execute(t, "", "--dir", dir, "copy", "nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown field")
	})

	t.Run("key required", func(t *testing.T) {
		_, _, err := execute(t, "", "--dir", dir, "copy")
		require.Error(t, err)
	})
}

func TestCopyAllCmd(t *testing.T) {
	dir := recordDir(t)
	c := &stubCopier{outcome: clipboard.OutcomeOK}
	useCopier(t, c)

	out, _, err := execute(t, "", "--dir", dir, "copy-all", "cert.json")
	require.NoError(t, err)
	assert.Equal(t, "Copied all fields\n", out)
	pairs, err := bulk.Parse(c.last())
	require.NoError(t, err)
	assert.Len(t, pairs, 22)

	_, _, err = execute(t, "", "--dir", dir, "copy-all", "--source", "record", "cert.json")
	require.NoError(t, err)
	pairs, err = bulk.Parse(c.last())
	require.NoError(t, err)
	assert.Len(t, pairs, 5)

	_, _, err = execute(t, "", "--dir", dir, "copy-all", "-s", "other")
	require.Error(t, err)
}

func TestOpenCmd(t *testing.T) {
	dir := recordDir(t)

	t.Run("browser disabled", func(t *testing.T) {
		out, errOut, err := execute(t, "", "--dir", dir, "--open-browser=false", "open")
		require.NoError(t, err)
		assert.Contains(t, out, "Form:  "+config.DefaultFormURL)
		assert.Contains(t, errOut, "info: Open the form manually: "+config.DefaultFormURL)
	})

	t.Run("window highlighted", func(t *testing.T) {
		win := &stubWindow{}
		useOpener(t, &stubOpener{win: win})

		_, _, err := execute(t, "", "--dir", dir, "--enhance-delay", "1ms", "open", "--keep-open=false")
		require.NoError(t, err)
		assert.Equal(t, []string{"certificateNumber", "importerName", "exporterName"}, win.ids)
		assert.Equal(t, 1, win.closed)
	})

	t.Run("opener fails", func(t *testing.T) {
		useOpener(t, &stubOpener{err: errors.New("chrome not found")})

		_, errOut, err := execute(t, "", "--dir", dir, "open")
		require.NoError(t, err)
		assert.Contains(t, errOut, "warning: Could not open the form window automatically")
	})
}

func TestFieldsCmd(t *testing.T) {
	dir := recordDir(t)

	out, _, err := execute(t, "", "--dir", dir, "fields", "cert.json")
	require.NoError(t, err)
	assert.Contains(t, out, "Descriptions")
	assert.Contains(t, out, "list(2)")
	assert.Contains(t, out, "Box A | Box B")

	out, _, err = execute(t, "", "--dir", dir, "fields", "-f", "json", "cert.json")
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	assert.Equal(t, "AD123", fields["Certificate_No"])
	assert.Equal(t, []interface{}{"Box A", "Box B"}, fields["Descriptions"])

	out, _, err = execute(t, "", "--dir", dir, "fields")
	require.NoError(t, err)
	assert.Equal(t, "No fields found\n", out)
}

func TestInvalidConfiguration(t *testing.T) {
	_, _, err := execute(t, "", "--dir", t.TempDir(), "--log-level", "loud", "manifest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
