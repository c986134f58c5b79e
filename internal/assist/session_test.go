package assist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-form-assistant/internal/browser"
	"github.com/a3tai/mcp-form-assistant/internal/bulk"
	"github.com/a3tai/mcp-form-assistant/internal/clipboard"
	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
	"github.com/a3tai/mcp-form-assistant/internal/record"
)

type fakeCopier struct {
	mu      sync.Mutex
	outcome clipboard.Outcome
	values  []string
	kinds   []clipboard.Kind
}

func (c *fakeCopier) result() clipboard.Result {
	if c.outcome == clipboard.OutcomeFailed {
		return clipboard.Result{Outcome: c.outcome, Err: assisterrors.New(assisterrors.ErrorTypeFallbackFailed, "copy failed")}
	}
	return clipboard.Result{Outcome: c.outcome}
}

func (c *fakeCopier) Copy(_ context.Context, value string) clipboard.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, value)
	c.kinds = append(c.kinds, clipboard.KindField)
	return c.result()
}

func (c *fakeCopier) CopyBulk(_ context.Context, kind clipboard.Kind, src bulk.Source) clipboard.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, _ := bulk.FormatSource(src)
	c.values = append(c.values, text)
	c.kinds = append(c.kinds, kind)
	return c.result()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type countingMetrics struct {
	mu           sync.Mutex
	manifests    int
	enhancements map[string]int
}

func (m *countingMetrics) ManifestBuilt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests++
}

func (m *countingMetrics) EnhancementRecorded(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enhancements == nil {
		m.enhancements = map[string]int{}
	}
	m.enhancements[result]++
}

func (m *countingMetrics) enhanced(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enhancements[result]
}

func sampleRecord() record.Record {
	return record.New(map[string]record.Value{
		"Certificate_No":   record.Scalar("AD-2024-001"),
		"Certificate_Type": record.Scalar("AD"),
		"Importer":         record.Scalar("Kivu Traders SARL"),
		"Exporter":         record.Scalar("Kampala Exports Ltd"),
		"Forwarder":        record.Scalar("Trans Africa Ltd"),
		"Discharge_Place":  record.Scalar("KASENYI"),
		"Descriptions":     record.Sequence("Box A", "Box B"),
	})
}

func TestSession_Manifest(t *testing.T) {
	m := &countingMetrics{}
	s := NewSession(sampleRecord(), WithMetrics(m), WithLogger(logging.NewTestLogger(t)))
	defer s.Close()

	man := s.Manifest()
	assert.Equal(t, 22, man.Len())

	e, _ := man.Lookup("cargoOrigin")
	assert.Equal(t, "OUTSIDE UGANDA", e.Value)
	e, _ = man.Lookup("outBoundBorder")
	assert.Equal(t, "NTOROKO", e.Value)
	e, _ = man.Lookup("cargoDescription")
	assert.Equal(t, "Box A\nBox B", e.Value)

	s.Manifest()
	assert.Equal(t, 2, m.manifests, "manifest is rebuilt on every request")
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "1", s.SchemaVersion())
}

func TestSession_CopyField(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	copier := &fakeCopier{outcome: clipboard.OutcomeOK}
	s := NewSession(sampleRecord(), WithCopier(copier), WithClock(clock.Now))
	defer s.Close()

	assert.Equal(t, StateIdle, s.ButtonState("certificateNumber"))

	_, res, err := s.CopyField(context.Background(), "certificateNumber")
	require.NoError(t, err)
	assert.Equal(t, clipboard.OutcomeOK, res.Outcome)
	assert.Equal(t, []string{"AD-2024-001"}, copier.values)

	assert.Equal(t, StateJustCopied, s.ButtonState("certificateNumber"))
	assert.Equal(t, "Copied!", s.ButtonState("certificateNumber").Label())
	assert.Equal(t, StateIdle, s.ButtonState("importerName"))

	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, StateJustCopied, s.ButtonState("certificateNumber"))
	clock.Advance(time.Millisecond)
	assert.Equal(t, StateIdle, s.ButtonState("certificateNumber"))
	assert.Equal(t, "Copy", s.ButtonState("certificateNumber").Label())
}

func TestSession_CopyFieldReturnsEntry(t *testing.T) {
	m := &countingMetrics{}
	s := NewSession(sampleRecord(), WithCopier(&fakeCopier{outcome: clipboard.OutcomeOK}), WithMetrics(m))
	defer s.Close()

	entry, res, err := s.CopyField(context.Background(), "cargoDescription")
	require.NoError(t, err)
	assert.Equal(t, clipboard.OutcomeOK, res.Outcome)
	assert.Equal(t, "cargoDescription", entry.Key)
	assert.Equal(t, "Cargo Description", entry.Label)
	assert.Equal(t, "Box A\nBox B", entry.Value)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.manifests)
}

func TestSession_CopyFieldUnknown(t *testing.T) {
	copier := &fakeCopier{outcome: clipboard.OutcomeOK}
	s := NewSession(sampleRecord(), WithCopier(copier))
	defer s.Close()

	_, _, err := s.CopyField(context.Background(), "Certificate_No")
	require.Error(t, err)
	assert.True(t, assisterrors.Is(err, assisterrors.ErrorTypeUnknownField))
	assert.Empty(t, copier.values)
}

func TestSession_FallbackCountsAsCopied(t *testing.T) {
	s := NewSession(sampleRecord(), WithCopier(&fakeCopier{outcome: clipboard.OutcomeFallbackUsed}))
	defer s.Close()

	_, _, err := s.CopyField(context.Background(), "importerName")
	require.NoError(t, err)
	assert.Equal(t, StateJustCopied, s.ButtonState("importerName"))
}

func TestSession_FailedCopyNotifies(t *testing.T) {
	notices := &NoticeBuffer{}
	s := NewSession(sampleRecord(), WithCopier(&fakeCopier{outcome: clipboard.OutcomeFailed}), WithNotifier(notices))
	defer s.Close()

	_, res, err := s.CopyField(context.Background(), "exporterName")
	require.NoError(t, err)
	assert.Equal(t, clipboard.OutcomeFailed, res.Outcome)
	assert.Equal(t, StateIdle, s.ButtonState("exporterName"))

	got := notices.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, NoticeError, got[0].Level)
	assert.Contains(t, got[0].Message, "Exporter")
	assert.Equal(t, 0, notices.Len())
}

func TestSession_CopyAllAndRecord(t *testing.T) {
	copier := &fakeCopier{outcome: clipboard.OutcomeOK}
	s := NewSession(sampleRecord(), WithCopier(copier))
	defer s.Close()

	require.Equal(t, clipboard.OutcomeOK, s.CopyAll(context.Background()).Outcome)
	require.Equal(t, clipboard.OutcomeOK, s.CopyRecord(context.Background()).Outcome)
	require.Len(t, copier.values, 2)
	assert.Equal(t, []clipboard.Kind{clipboard.KindAll, clipboard.KindRecord}, copier.kinds)

	all, err := bulk.Parse(copier.values[0])
	require.NoError(t, err)
	assert.Len(t, all, 22)
	assert.Equal(t, "certificateNumber", all[0].Key)

	raw, err := bulk.Parse(copier.values[1])
	require.NoError(t, err)
	assert.Equal(t, "Certificate_No", raw[0].Key)
	assert.Equal(t, "Descriptions", raw[2].Key)
	assert.Equal(t, "Box A\nBox B", raw[2].Value)

	states := s.ButtonStates()
	assert.Equal(t, StateJustCopied, states[TargetAll])
	assert.Equal(t, StateJustCopied, states[TargetRecord])
	assert.Equal(t, StateIdle, states["certificateNumber"])
	assert.Len(t, states, 24)
}

func TestSession_RecordIsInjected(t *testing.T) {
	a := NewSession(record.FromStrings(map[string]string{"Certificate_No": "A"}))
	b := NewSession(record.FromStrings(map[string]string{"Certificate_No": "B"}))
	defer a.Close()
	defer b.Close()

	ea, _ := a.Manifest().Lookup("certificateNumber")
	eb, _ := b.Manifest().Lookup("certificateNumber")
	assert.Equal(t, "A", ea.Value)
	assert.Equal(t, "B", eb.Value)
}

// fakeWindow simulates the auxiliary form window.
type fakeWindow struct {
	mu       sync.Mutex
	enhance  func(ctx context.Context) (browser.EnhanceResult, error)
	fieldIDs []string
	closed   int
}

func (w *fakeWindow) URL() string { return DefaultFormURL }

func (w *fakeWindow) TryEnhance(ctx context.Context, ids []string) (browser.EnhanceResult, error) {
	w.mu.Lock()
	w.fieldIDs = ids
	w.mu.Unlock()
	return w.enhance(ctx)
}

func (w *fakeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

type fakeOpener struct {
	win *fakeWindow
	err error
	url string
}

func (o *fakeOpener) Open(_ context.Context, url string) (browser.Window, error) {
	o.url = url
	if o.err != nil {
		return nil, o.err
	}
	return o.win, nil
}

func TestSession_OpenFormEnhances(t *testing.T) {
	m := &countingMetrics{}
	win := &fakeWindow{enhance: func(context.Context) (browser.EnhanceResult, error) {
		return browser.EnhanceOK, nil
	}}
	opener := &fakeOpener{win: win}
	s := NewSession(sampleRecord(), WithOpener(opener), WithMetrics(m), WithEnhanceDelay(time.Millisecond))

	require.NoError(t, s.OpenForm(context.Background()))
	s.Wait()

	assert.Equal(t, DefaultFormURL, opener.url)
	assert.Equal(t, 1, m.enhanced("ok"))
	assert.Equal(t, []string{"certificateNumber", "importerName", "exporterName"}, win.fieldIDs)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, win.closed)
	require.NoError(t, s.Close())
	assert.Equal(t, 1, win.closed)
}

func TestSession_OpenFormDoesNotBlockOnEnhancement(t *testing.T) {
	release := make(chan struct{})
	win := &fakeWindow{enhance: func(ctx context.Context) (browser.EnhanceResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return browser.EnhanceUnsupported, assisterrors.New(assisterrors.ErrorTypeCrossOriginRestricted, "blocked")
	}}
	m := &countingMetrics{}
	s := NewSession(sampleRecord(), WithOpener(&fakeOpener{win: win}), WithMetrics(m), WithEnhanceDelay(0))

	done := make(chan error, 1)
	go func() { done <- s.OpenForm(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OpenForm blocked on enhancement")
	}

	close(release)
	s.Wait()
	assert.Equal(t, 1, m.enhanced("unsupported"))
	require.NoError(t, s.Close())
}

func TestSession_CrossOriginEnhancementNeverRaises(t *testing.T) {
	notices := &NoticeBuffer{}
	m := &countingMetrics{}
	win := &fakeWindow{enhance: func(context.Context) (browser.EnhanceResult, error) {
		panic("SecurityError: Blocked a frame with origin from accessing a cross-origin frame")
	}}
	s := NewSession(sampleRecord(),
		WithOpener(&fakeOpener{win: win}),
		WithNotifier(notices),
		WithMetrics(m),
		WithEnhanceDelay(0),
		WithLogger(logging.NewTestLogger(t)),
	)

	require.NotPanics(t, func() {
		require.NoError(t, s.OpenForm(context.Background()))
		s.Wait()
	})
	assert.Equal(t, 1, m.enhanced("unsupported"))
	assert.Equal(t, 0, notices.Len(), "enhancement failures are logged only")
	require.NoError(t, s.Close())
}

func TestSession_CloseCancelsPendingEnhancement(t *testing.T) {
	m := &countingMetrics{}
	win := &fakeWindow{enhance: func(context.Context) (browser.EnhanceResult, error) {
		return browser.EnhanceOK, nil
	}}
	s := NewSession(sampleRecord(), WithOpener(&fakeOpener{win: win}), WithMetrics(m), WithEnhanceDelay(time.Hour))
	require.NoError(t, s.OpenForm(context.Background()))

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close waited for the enhancement delay")
	}
	assert.Equal(t, 0, m.enhanced("ok"))
	assert.Equal(t, 1, win.closed)
}

func TestSession_OpenFormFailureNotifiesURL(t *testing.T) {
	notices := &NoticeBuffer{}
	s := NewSession(sampleRecord(),
		WithOpener(&fakeOpener{err: errors.New("chrome not found")}),
		WithNotifier(notices),
		WithFormURL("https://example.test/form"),
	)
	defer s.Close()

	err := s.OpenForm(context.Background())
	require.Error(t, err)

	got := notices.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, NoticeWarning, got[0].Level)
	assert.Equal(t, "https://example.test/form", got[0].URL)
}

func TestSession_OpenFormWithoutOpener(t *testing.T) {
	notices := &NoticeBuffer{}
	s := NewSession(sampleRecord(), WithNotifier(notices))
	defer s.Close()

	require.NoError(t, s.OpenForm(context.Background()))
	got := notices.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, DefaultFormURL, got[0].URL)
}

func TestSession_OpenAfterClose(t *testing.T) {
	win := &fakeWindow{enhance: func(context.Context) (browser.EnhanceResult, error) {
		return browser.EnhanceOK, nil
	}}
	s := NewSession(sampleRecord(), WithOpener(&fakeOpener{win: win}))
	require.NoError(t, s.Close())
	require.NoError(t, s.OpenForm(context.Background()))
	assert.Equal(t, 1, win.closed)
}
