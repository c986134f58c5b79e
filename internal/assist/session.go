// Package assist drives an assistance session: it builds the manifest for a
// record, renders instructions, performs copies and tracks the copy buttons'
// feedback state.
package assist

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a3tai/mcp-form-assistant/internal/browser"
	"github.com/a3tai/mcp-form-assistant/internal/bulk"
	"github.com/a3tai/mcp-form-assistant/internal/clipboard"
	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
	"github.com/a3tai/mcp-form-assistant/internal/manifest"
	"github.com/a3tai/mcp-form-assistant/internal/mapper"
	"github.com/a3tai/mcp-form-assistant/internal/record"
)

const (
	DefaultFormURL        = "https://www.invesco-ug.com/business/application/new"
	DefaultLoginURL       = "https://www.invesco-ug.com/auth/login"
	DefaultEnhanceDelay   = 2 * time.Second
	DefaultFeedbackWindow = time.Second
	enhanceTimeout        = 10 * time.Second
)

// Copy targets besides individual field keys.
const (
	TargetAll    = "all"
	TargetRecord = "record"
)

// ButtonState is the declarative state of a copy button.
type ButtonState string

const (
	StateIdle       ButtonState = "idle"
	StateJustCopied ButtonState = "justCopied"
)

// Label is the button caption for the state.
func (s ButtonState) Label() string {
	if s == StateJustCopied {
		return "Copied!"
	}
	return "Copy"
}

// Copier performs clipboard transfers.
type Copier interface {
	Copy(ctx context.Context, value string) clipboard.Result
	CopyBulk(ctx context.Context, kind clipboard.Kind, src bulk.Source) clipboard.Result
}

// Metrics receives session counters.
type Metrics interface {
	ManifestBuilt()
	EnhancementRecorded(result string)
}

type nopMetrics struct{}

func (nopMetrics) ManifestBuilt()             {}
func (nopMetrics) EnhancementRecorded(string) {}

// Session is one operator's assistance session over a single record.
type Session struct {
	id     string
	record record.Record
	rules  *mapper.RuleSet
	schema *manifest.Schema

	copier   Copier
	opener   browser.Opener
	notifier Notifier
	metrics  Metrics
	log      logging.Logger

	formURL        string
	loginURL       string
	enhanceDelay   time.Duration
	feedbackWindow time.Duration
	now            func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	copiedAt map[string]time.Time
	windows  []browser.Window
	closed   bool
}

// Option configures a Session.
type Option func(*Session)

// WithRules sets the rule table used to derive values.
func WithRules(rs *mapper.RuleSet) Option {
	return func(s *Session) { s.rules = rs }
}

// WithSchema sets the manifest schema.
func WithSchema(sc *manifest.Schema) Option {
	return func(s *Session) { s.schema = sc }
}

// WithCopier sets the clipboard transfer service.
func WithCopier(c Copier) Option {
	return func(s *Session) { s.copier = c }
}

// WithOpener enables OpenForm with the given window opener.
func WithOpener(o browser.Opener) Option {
	return func(s *Session) { s.opener = o }
}

// WithNotifier sets where operator-facing notices go.
func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithMetrics sets the manifest and enhancement counters.
func WithMetrics(m Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithFormURL sets the application form URL.
func WithFormURL(u string) Option {
	return func(s *Session) { s.formURL = u }
}

// WithLoginURL sets the login page URL.
func WithLoginURL(u string) Option {
	return func(s *Session) { s.loginURL = u }
}

// WithEnhanceDelay sets how long OpenForm waits before highlighting fields.
func WithEnhanceDelay(d time.Duration) Option {
	return func(s *Session) { s.enhanceDelay = d }
}

// WithFeedbackWindow sets how long a copy target stays in the copied state.
func WithFeedbackWindow(d time.Duration) Option {
	return func(s *Session) { s.feedbackWindow = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session for rec. Without WithOpener, OpenForm only
// reports the URL.
func NewSession(rec record.Record, opts ...Option) *Session {
	s := &Session{
		id:             uuid.NewString(),
		record:         rec,
		notifier:       &NoticeBuffer{},
		metrics:        nopMetrics{},
		log:            logging.NewNoOpLogger(),
		formURL:        DefaultFormURL,
		loginURL:       DefaultLoginURL,
		enhanceDelay:   DefaultEnhanceDelay,
		feedbackWindow: DefaultFeedbackWindow,
		now:            time.Now,
		copiedAt:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rules == nil {
		s.rules = mapper.Default()
	}
	if s.schema == nil {
		s.schema = manifest.Default()
	}
	if s.copier == nil {
		s.copier = clipboard.NewService(clipboard.WithLogger(s.log))
	}
	s.log = s.log.With(map[string]interface{}{"session": s.id})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Record returns the session's record.
func (s *Session) Record() record.Record { return s.record }

// FormURL returns the target form URL.
func (s *Session) FormURL() string { return s.formURL }

// LoginURL returns the login URL.
func (s *Session) LoginURL() string { return s.loginURL }

// SchemaVersion returns the manifest schema version.
func (s *Session) SchemaVersion() string { return s.schema.Version }

// Manifest builds a fresh manifest for the record.
func (s *Session) Manifest() manifest.Manifest {
	m := s.schema.Build(s.record, s.rules.Map(s.record))
	s.metrics.ManifestBuilt()

	var review []string
	for _, e := range m.Entries {
		if e.NeedsReview {
			review = append(review, e.Key)
		}
	}
	if len(review) > 0 {
		err := assisterrors.New(assisterrors.ErrorTypeMissingDataDefault, "placeholder defaults used").
			WithContext(strings.Join(review, ", "))
		s.log.WithError(err).Info("Manifest built with defaults", map[string]interface{}{"fields": len(review)})
	}
	return m
}

// CopyField copies one manifest entry's value and returns the entry copied.
func (s *Session) CopyField(ctx context.Context, key string) (manifest.Entry, clipboard.Result, error) {
	entry, ok := s.Manifest().Lookup(key)
	if !ok {
		return manifest.Entry{}, clipboard.Result{}, assisterrors.New(assisterrors.ErrorTypeUnknownField, "unknown field").WithContext(key)
	}
	res := s.copier.Copy(ctx, entry.Value)
	s.afterCopy(key, entry.Label, res)
	return entry, res, nil
}

// CopyAll copies the whole manifest as a bulk block.
func (s *Session) CopyAll(ctx context.Context) clipboard.Result {
	res := s.copier.CopyBulk(ctx, clipboard.KindAll, s.Manifest())
	s.afterCopy(TargetAll, "all fields", res)
	return res
}

// CopyRecord copies the raw record as a bulk block.
func (s *Session) CopyRecord(ctx context.Context) clipboard.Result {
	res := s.copier.CopyBulk(ctx, clipboard.KindRecord, s.record)
	s.afterCopy(TargetRecord, "the extracted record", res)
	return res
}

func (s *Session) afterCopy(target, what string, res clipboard.Result) {
	if res.Outcome.Succeeded() {
		s.mu.Lock()
		s.copiedAt[target] = s.now()
		s.mu.Unlock()
		return
	}
	msg := "Could not copy " + what + " to the clipboard. Select the value and copy it manually."
	if res.Err != nil {
		s.log.WithError(res.Err).Warn("Copy failed", map[string]interface{}{"target": target})
	}
	s.notify(NoticeError, msg, "")
}

// ButtonState returns the feedback state of a copy target.
func (s *Session) ButtonState(target string) ButtonState {
	s.mu.Lock()
	at, ok := s.copiedAt[target]
	s.mu.Unlock()
	if ok && s.now().Sub(at) < s.feedbackWindow {
		return StateJustCopied
	}
	return StateIdle
}

// ButtonStates returns the state of every field target plus the bulk ones.
func (s *Session) ButtonStates() map[string]ButtonState {
	out := make(map[string]ButtonState, len(s.schema.Fields)+2)
	for _, d := range s.schema.Fields {
		out[d.Key] = s.ButtonState(d.Key)
	}
	out[TargetAll] = s.ButtonState(TargetAll)
	out[TargetRecord] = s.ButtonState(TargetRecord)
	return out
}

// OpenForm opens the form in an auxiliary window and schedules field
// highlighting. It does not wait for the highlighting. When no window can be
// opened the operator is told the URL instead and the opener's error is
// returned.
func (s *Session) OpenForm(ctx context.Context) error {
	if s.opener == nil {
		s.notify(NoticeInfo, "Open the form manually", s.formURL)
		return nil
	}

	win, err := s.opener.Open(ctx, s.formURL)
	if err != nil {
		s.log.WithError(err).Warn("Could not open form window", map[string]interface{}{"url": s.formURL})
		s.notify(NoticeWarning, "Could not open the form window automatically. Open it manually", s.formURL)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = win.Close()
		return nil
	}
	s.windows = append(s.windows, win)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.enhance(win)
	return nil
}

func (s *Session) enhance(win browser.Window) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.EnhancementRecorded(string(browser.EnhanceUnsupported))
			s.log.Warn("Form window enhancement panicked", map[string]interface{}{"panic": r})
		}
	}()

	timer := time.NewTimer(s.enhanceDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.ctx.Done():
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, enhanceTimeout)
	defer cancel()

	result, err := win.TryEnhance(ctx, s.schema.HighlightKeys())
	if result == "" {
		result = browser.EnhanceUnsupported
	}
	s.metrics.EnhancementRecorded(string(result))
	if err != nil {
		s.log.WithError(err).Info("Form window not enhanced", map[string]interface{}{"url": win.URL()})
		return
	}
	s.log.Debug("Form window enhanced", map[string]interface{}{"url": win.URL()})
}

// Wait blocks until scheduled enhancements have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close stops pending enhancements, waits for them and closes any windows
// the session opened.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	windows := s.windows
	s.windows = nil
	s.mu.Unlock()

	for _, w := range windows {
		if err := w.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close form window", nil)
		}
	}
	return nil
}

func (s *Session) notify(level NoticeLevel, msg, url string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(Notice{Level: level, Message: msg, URL: url, Time: s.now()})
}
