// Package clipboard moves text onto the system clipboard. A primary writer is
// tried first; when it fails the text is staged on a temporary surface and
// handed to a platform copy command.
package clipboard

import (
	"context"
	"fmt"

	"github.com/a3tai/mcp-form-assistant/internal/bulk"
	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
)

// Outcome is the result class of a copy.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeFallbackUsed Outcome = "fallbackUsed"
	OutcomeFailed       Outcome = "failed"
)

// Succeeded reports whether the text reached the clipboard by either path.
func (o Outcome) Succeeded() bool {
	return o == OutcomeOK || o == OutcomeFallbackUsed
}

// Kind labels what was copied, for logs and metrics.
type Kind string

const (
	KindField  Kind = "field"
	KindAll    Kind = "all"
	KindRecord Kind = "record"
)

// Result is returned by every copy. Err is set only when Outcome is failed.
type Result struct {
	Outcome Outcome
	Err     error
}

// Writer is the primary clipboard path.
type Writer interface {
	WriteAll(ctx context.Context, text string) error
}

// Fallback is the secondary clipboard path.
type Fallback interface {
	Copy(ctx context.Context, text string) error
}

// Observer is notified of every copy outcome.
type Observer interface {
	CopyRecorded(kind, outcome string)
}

// Service performs copies with fallback.
type Service struct {
	writer   Writer
	fallback Fallback
	observer Observer
	log      logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWriter replaces the primary writer.
func WithWriter(w Writer) Option {
	return func(s *Service) { s.writer = w }
}

// WithFallback replaces the fallback path.
func WithFallback(f Fallback) Option {
	return func(s *Service) { s.fallback = f }
}

// WithObserver attaches an outcome observer such as a metrics recorder.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a Service using the system clipboard and a temp-file
// surface fallback unless overridden.
func NewService(opts ...Option) *Service {
	s := &Service{
		writer:   SystemWriter{},
		fallback: NewSurfaceFallback(),
		log:      logging.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Copy places a single value on the clipboard.
func (s *Service) Copy(ctx context.Context, value string) Result {
	return s.copyText(ctx, KindField, value)
}

// CopyAll places the bulk rendering of src on the clipboard.
func (s *Service) CopyAll(ctx context.Context, src bulk.Source) Result {
	return s.CopyBulk(ctx, KindAll, src)
}

// CopyBulk is CopyAll with an explicit kind label.
func (s *Service) CopyBulk(ctx context.Context, kind Kind, src bulk.Source) Result {
	text, err := bulk.FormatSource(src)
	if err != nil {
		res := Result{Outcome: OutcomeFailed, Err: fmt.Errorf("failed to format bulk copy: %w", err)}
		s.record(kind, res)
		return res
	}
	return s.copyText(ctx, kind, text)
}

func (s *Service) copyText(ctx context.Context, kind Kind, text string) Result {
	primaryErr := guard(func() error { return s.writer.WriteAll(ctx, text) })
	if primaryErr == nil {
		res := Result{Outcome: OutcomeOK}
		s.record(kind, res)
		return res
	}

	s.log.Warn("Primary clipboard write failed, using fallback", map[string]interface{}{
		"kind":  string(kind),
		"error": primaryErr.Error(),
	})

	if s.fallback == nil {
		res := Result{
			Outcome: OutcomeFailed,
			Err:     assisterrors.Wrap(assisterrors.ErrorTypeFallbackFailed, "copy failed", primaryErr).WithContext("no fallback configured"),
		}
		s.record(kind, res)
		return res
	}

	fallbackErr := guard(func() error { return s.fallback.Copy(ctx, text) })
	if fallbackErr == nil {
		res := Result{Outcome: OutcomeFallbackUsed}
		s.record(kind, res)
		return res
	}

	res := Result{
		Outcome: OutcomeFailed,
		Err: assisterrors.Wrap(assisterrors.ErrorTypeFallbackFailed, "copy failed",
			fmt.Errorf("primary: %w; fallback: %w", primaryErr, fallbackErr)),
	}
	s.record(kind, res)
	return res
}

func (s *Service) record(kind Kind, res Result) {
	fields := map[string]interface{}{
		"kind":    string(kind),
		"outcome": string(res.Outcome),
	}
	if res.Err != nil {
		s.log.WithError(res.Err).Error("Clipboard copy failed", fields)
	} else {
		s.log.Debug("Clipboard copy", fields)
	}
	if s.observer != nil {
		s.observer.CopyRecorded(string(kind), string(res.Outcome))
	}
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
