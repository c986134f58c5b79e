// Package browser opens the target form in an auxiliary Chrome window and,
// when the page allows it, highlights the fields the operator fills first.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
)

// EnhanceResult is the outcome of TryEnhance.
type EnhanceResult string

const (
	EnhanceOK          EnhanceResult = "ok"
	EnhanceUnsupported EnhanceResult = "unsupported"
)

// Window is an opened auxiliary window.
type Window interface {
	URL() string
	// TryEnhance highlights the given field ids. It never panics; a page
	// that cannot be scripted yields EnhanceUnsupported.
	TryEnhance(ctx context.Context, fieldIDs []string) (EnhanceResult, error)
	Close() error
}

// Opener opens auxiliary windows.
type Opener interface {
	Open(ctx context.Context, url string) (Window, error)
}

const (
	DefaultNavigateTimeout = 30 * time.Second
	highlightResetMillis   = 3000
)

// ChromeOpener opens windows with chromedp.
type ChromeOpener struct {
	headless        bool
	execPath        string
	navigateTimeout time.Duration
	log             logging.Logger
}

// ChromeOption configures a ChromeOpener.
type ChromeOption func(*ChromeOpener)

// WithHeadless runs Chrome without a visible window.
func WithHeadless(headless bool) ChromeOption {
	return func(o *ChromeOpener) { o.headless = headless }
}

// WithExecPath sets the Chrome binary.
func WithExecPath(path string) ChromeOption {
	return func(o *ChromeOpener) { o.execPath = path }
}

// WithNavigateTimeout bounds the initial page load.
func WithNavigateTimeout(d time.Duration) ChromeOption {
	return func(o *ChromeOpener) { o.navigateTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) ChromeOption {
	return func(o *ChromeOpener) { o.log = l }
}

// NewChromeOpener creates an opener for visible Chrome windows.
func NewChromeOpener(opts ...ChromeOption) *ChromeOpener {
	o := &ChromeOpener{
		navigateTimeout: DefaultNavigateTimeout,
		log:             logging.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open starts a browser and navigates to url. The window outlives ctx;
// ctx only bounds the navigation.
func (o *ChromeOpener) Open(ctx context.Context, url string) (Window, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.headless),
		chromedp.WindowSize(1200, 800),
	)
	if o.execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(o.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	w := &chromeWindow{
		url: url,
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		log: o.log,
	}
	w.eval = w.evaluate

	// The first Run starts the browser and binds it to tabCtx.
	if err := chromedp.Run(tabCtx); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	navCtx, navCancel := context.WithTimeout(tabCtx, o.navigateTimeout)
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to open %s: %w", url, err)
	}

	o.log.Info("Opened form window", map[string]interface{}{"url": url})
	return w, nil
}

type chromeWindow struct {
	url    string
	ctx    context.Context
	cancel func()
	once   sync.Once
	log    logging.Logger

	eval func(ctx context.Context, script string, found *int) error
}

func (w *chromeWindow) URL() string {
	return w.url
}

func (w *chromeWindow) evaluate(ctx context.Context, script string, found *int) error {
	runCtx, cancel := context.WithCancel(w.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, chromedp.Evaluate(script, found))
}

func (w *chromeWindow) TryEnhance(ctx context.Context, fieldIDs []string) (result EnhanceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = EnhanceUnsupported
			err = assisterrors.New(assisterrors.ErrorTypeCrossOriginRestricted, "form window enhancement panicked").
				WithContext(fmt.Sprint(r))
		}
	}()

	script, err := HighlightScript(fieldIDs)
	if err != nil {
		return EnhanceUnsupported, err
	}

	var found int
	if err := w.eval(ctx, script, &found); err != nil {
		return EnhanceUnsupported, assisterrors.Wrap(assisterrors.ErrorTypeCrossOriginRestricted,
			"cannot script form window", err)
	}
	if found == 0 && len(fieldIDs) > 0 {
		// Usually the login page or a page that does not expose the form.
		return EnhanceUnsupported, assisterrors.New(assisterrors.ErrorTypeCrossOriginRestricted,
			"form fields not reachable").WithContext(w.url)
	}

	w.log.Debug("Highlighted form fields", map[string]interface{}{"found": found})
	return EnhanceOK, nil
}

func (w *chromeWindow) Close() error {
	w.once.Do(w.cancel)
	return nil
}

// HighlightScript returns JavaScript that outlines and scrolls to each field
// id, resets the outline after three seconds and evaluates to the number of
// fields found.
func HighlightScript(fieldIDs []string) (string, error) {
	if fieldIDs == nil {
		fieldIDs = []string{}
	}
	ids, err := json.Marshal(fieldIDs)
	if err != nil {
		return "", fmt.Errorf("failed to encode field ids: %w", err)
	}
	return fmt.Sprintf(`(function(ids) {
  var found = 0;
  ids.forEach(function(id) {
    var el = document.querySelector('input[id="' + id + '"]') || document.getElementById(id);
    if (!el) { return; }
    found++;
    el.style.border = '2px solid #007bff';
    el.scrollIntoView({behavior: 'smooth', block: 'center'});
    setTimeout(function() { el.style.border = ''; }, %d);
  });
  return found;
})(%s)`, highlightResetMillis, ids), nil
}
