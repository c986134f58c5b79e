package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/a3tai/mcp-form-assistant/internal/assist"
	"github.com/a3tai/mcp-form-assistant/internal/browser"
	"github.com/a3tai/mcp-form-assistant/internal/clipboard"
	"github.com/a3tai/mcp-form-assistant/internal/config"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
	"github.com/a3tai/mcp-form-assistant/internal/manifest"
	"github.com/a3tai/mcp-form-assistant/internal/mapper"
	"github.com/a3tai/mcp-form-assistant/internal/record"
)

const stdinRecord = "-"

// Replaced in tests.
var (
	newCopier = func(cfg *config.Config, log logging.Logger) assist.Copier {
		return clipboard.NewService(
			clipboard.WithFallback(clipboard.NewSurfaceFallback(clipboard.WithCommand(cfg.ClipboardCommand))),
			clipboard.WithLogger(log),
		)
	}
	newOpener = func(cfg *config.Config, log logging.Logger) browser.Opener {
		return browser.NewChromeOpener(
			browser.WithHeadless(cfg.Headless),
			browser.WithExecPath(cfg.BrowserPath),
			browser.WithLogger(log),
		)
	}
)

// app holds what every subcommand needs: configuration, definitions and the
// record loader.
type app struct {
	cfg     *config.Config
	log     logging.Logger
	loader  *record.Loader
	rules   *mapper.RuleSet
	schema  *manifest.Schema
	notices *assist.NoticeBuffer
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	rules, schema, err := manifest.LoadDefinitions(cfg.RulesPath, cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	loader, err := record.NewLoader(cfg.RecordDirectory, cfg.MaxFileSize, log)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		log:     log,
		loader:  loader,
		rules:   rules,
		schema:  schema,
		notices: &assist.NoticeBuffer{},
	}, nil
}

// loadRecord reads the record named by the first argument, falling back to
// --record. "-" reads JSON from stdin. With neither the record is empty.
func (a *app) loadRecord(cmd *cobra.Command, args []string) (record.Record, error) {
	path := a.cfg.RecordPath
	if len(args) > 0 {
		path = args[0]
	}
	switch path {
	case "":
		return record.Empty(), nil
	case stdinRecord:
		return a.loader.Read(cmd.InOrStdin())
	default:
		return a.loader.Load(path)
	}
}

func (a *app) session(rec record.Record, withBrowser bool) *assist.Session {
	opts := []assist.Option{
		assist.WithRules(a.rules),
		assist.WithSchema(a.schema),
		assist.WithCopier(newCopier(a.cfg, a.log)),
		assist.WithNotifier(a.notices),
		assist.WithLogger(a.log),
		assist.WithFormURL(a.cfg.FormURL),
		assist.WithLoginURL(a.cfg.LoginURL),
		assist.WithEnhanceDelay(a.cfg.EnhanceDelay),
		assist.WithFeedbackWindow(a.cfg.FeedbackWindow),
	}
	if withBrowser && a.cfg.OpenBrowser {
		opts = append(opts, assist.WithOpener(newOpener(a.cfg, a.log)))
	}
	return assist.NewSession(rec, opts...)
}

// setup builds the app and a session over the requested record.
func setup(cmd *cobra.Command, args []string, withBrowser bool) (*app, *assist.Session, error) {
	a, err := newApp(cmd)
	if err != nil {
		return nil, nil, err
	}
	rec, err := a.loadRecord(cmd, args)
	if err != nil {
		return nil, nil, err
	}
	return a, a.session(rec, withBrowser), nil
}

// flushNotices writes buffered notices to w.
func (a *app) flushNotices(w io.Writer) {
	for _, n := range a.notices.Drain() {
		if n.URL != "" {
			fmt.Fprintf(w, "%s: %s: %s\n", n.Level, n.Message, n.URL)
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", n.Level, n.Message)
	}
}
