package clipboard

import (
	"context"

	"github.com/atotto/clipboard"

	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
)

// SystemWriter writes to the OS clipboard.
type SystemWriter struct{}

// WriteAll implements Writer.
func (SystemWriter) WriteAll(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if clipboard.Unsupported {
		return assisterrors.New(assisterrors.ErrorTypeClipboardUnavailable, "system clipboard is not available")
	}
	if err := clipboard.WriteAll(text); err != nil {
		return assisterrors.Wrap(assisterrors.ErrorTypeClipboardDenied, "system clipboard rejected the write", err)
	}
	return nil
}
