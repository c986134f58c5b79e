package record

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
)

// Loader reads records from files inside a sandboxed directory.
type Loader struct {
	sandbox     *Sandbox
	maxFileSize int64
	log         logging.Logger
}

// NewLoader creates a loader for records stored under dir.
func NewLoader(dir string, maxFileSize int64, log logging.Logger) (*Loader, error) {
	sb, err := NewSandbox(dir)
	if err != nil {
		return nil, err
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("maximum file size must be positive")
	}
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Loader{sandbox: sb, maxFileSize: maxFileSize, log: log}, nil
}

// Dir returns the sandbox directory.
func (l *Loader) Dir() string {
	return l.sandbox.Root()
}

// Load reads a .json or .pdf record file. Files without an extension are
// recognised by their content.
func (l *Loader) Load(path string) (Record, error) {
	resolved, err := l.sandbox.Resolve(path)
	if err != nil {
		return Record{}, assisterrors.Wrap(assisterrors.ErrorTypeInvalidRecord, "record path rejected", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return Record{}, assisterrors.Wrap(assisterrors.ErrorTypeInvalidRecord, "cannot access record file", err)
	}
	if info.IsDir() {
		return Record{}, assisterrors.New(assisterrors.ErrorTypeInvalidRecord, "record path is a directory").WithContext(resolved)
	}
	if info.Size() > l.maxFileSize {
		return Record{}, assisterrors.New(assisterrors.ErrorTypeInvalidRecord, "record file too large").
			WithContext(fmt.Sprintf("%d bytes (max %d)", info.Size(), l.maxFileSize))
	}

	ext := strings.ToLower(filepath.Ext(resolved))
	if ext == "" {
		ext, err = sniffFormat(resolved)
		if err != nil {
			return Record{}, err
		}
	}

	var rec Record
	switch ext {
	case ".json":
		f, err := os.Open(resolved)
		if err != nil {
			return Record{}, fmt.Errorf("failed to open record file: %w", err)
		}
		defer f.Close()
		rec, err = ReadJSON(f)
		if err != nil {
			return Record{}, err
		}
	case ".pdf":
		rec, err = ReadAcroFormFile(resolved)
		if err != nil {
			return Record{}, err
		}
	default:
		return Record{}, assisterrors.New(assisterrors.ErrorTypeInvalidRecord, "unsupported record format").WithContext(ext)
	}

	l.log.Debug("Loaded record", map[string]interface{}{
		"path":   resolved,
		"fields": rec.Len(),
	})
	return rec, nil
}

// sniffFormat maps a file's leading bytes to the extension of its format:
// "%PDF-" for a PDF, an opening brace for a JSON object.
func sniffFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open record file: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("failed to read record file: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return ".pdf", nil
	case bytes.HasPrefix(bytes.TrimLeft(head, " \t\r\n"), []byte("{")):
		return ".json", nil
	}
	return "", nil
}

// Read parses a JSON record from r, bounded by the loader's size limit.
func (l *Loader) Read(r io.Reader) (Record, error) {
	limited := io.LimitReader(r, l.maxFileSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record: %w", err)
	}
	if int64(len(data)) > l.maxFileSize {
		return Record{}, assisterrors.New(assisterrors.ErrorTypeInvalidRecord, "record input too large")
	}
	return ParseJSON(data)
}
