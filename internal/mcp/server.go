package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/a3tai/mcp-form-assistant/internal/assist"
	"github.com/a3tai/mcp-form-assistant/internal/browser"
	"github.com/a3tai/mcp-form-assistant/internal/bulk"
	"github.com/a3tai/mcp-form-assistant/internal/clipboard"
	"github.com/a3tai/mcp-form-assistant/internal/config"
	"github.com/a3tai/mcp-form-assistant/internal/descriptions"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
	"github.com/a3tai/mcp-form-assistant/internal/manifest"
	"github.com/a3tai/mcp-form-assistant/internal/mapper"
	"github.com/a3tai/mcp-form-assistant/internal/metrics"
	"github.com/a3tai/mcp-form-assistant/internal/record"
)

const shutdownTimeout = 5 * time.Second

// Manifest output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatBulk = "bulk"
)

// Bulk copy sources
const (
	SourceManifest = "manifest"
	SourceRecord   = "record"
)

// ToolInfo describes a registered tool for form_server_info.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  string
}

var toolInfos = []ToolInfo{
	{"form_manifest", "Field manifest with values, origins and review marks", "record (optional), format: text|json|bulk"},
	{"form_instructions", "Step-by-step filling instructions", "record (optional)"},
	{"form_copy_field", "Copy one field value to the clipboard", "key (required), record (optional)"},
	{"form_copy_all", "Copy all fields or the raw record as a bulk block", "source: manifest|record, record (optional)"},
	{"form_open", "Open the application form and highlight key fields", "record (optional)"},
	{"form_server_info", "Server status, configuration and copy statistics", "none"},
}

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	loader    *record.Loader
	rules     *mapper.RuleSet
	schema    *manifest.Schema
	startup   record.Record
	copier    assist.Copier
	opener    browser.Opener
	metrics   *metrics.Recorder
	log       logging.Logger
	mcpServer *server.MCPServer

	stdin  io.Reader
	stdout io.Writer

	mu       sync.Mutex
	sessions []*assist.Session // sessions holding open form windows
	closed   bool
}

// Option configures a Server.
type Option func(*Server)

// WithCopier replaces the clipboard service.
func WithCopier(c assist.Copier) Option {
	return func(s *Server) { s.copier = c }
}

// WithOpener replaces the browser opener. It is used even when the
// configuration disables opening a browser.
func WithOpener(o browser.Opener) Option {
	return func(s *Server) { s.opener = o }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithStdio replaces the streams used in stdio mode.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(s *Server) {
		s.stdin = in
		s.stdout = out
	}
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	s := &Server{
		config:  cfg,
		startup: record.Empty(),
		log:     logging.NewNoOpLogger(),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	var err error
	if s.rules, s.schema, err = manifest.LoadDefinitions(cfg.RulesPath, cfg.SchemaPath); err != nil {
		return nil, err
	}

	s.loader, err = record.NewLoader(cfg.RecordDirectory, cfg.MaxFileSize, s.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create record loader: %w", err)
	}
	if cfg.RecordPath != "" {
		if s.startup, err = s.loader.Load(cfg.RecordPath); err != nil {
			return nil, fmt.Errorf("failed to load startup record: %w", err)
		}
	}

	if s.copier == nil {
		s.copier = clipboard.NewService(
			clipboard.WithFallback(clipboard.NewSurfaceFallback(clipboard.WithCommand(cfg.ClipboardCommand))),
			clipboard.WithObserver(s.metrics),
			clipboard.WithLogger(s.log),
		)
	}
	if s.opener == nil && cfg.OpenBrowser {
		s.opener = browser.NewChromeOpener(
			browser.WithHeadless(cfg.Headless),
			browser.WithExecPath(cfg.BrowserPath),
			browser.WithLogger(s.log),
		)
	}

	// Create MCP server
	s.mcpServer = server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false), // tools are fixed at startup
		server.WithRecovery(),
	)

	// Register tools
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	recordParam := mcp.WithString("record",
		mcp.Description("Record file (JSON or filled PDF form) inside the record directory. Uses the startup record when empty"),
	)

	formManifestTool := mcp.NewTool(
		"form_manifest",
		mcp.WithDescription(descriptions.FormManifestDescription),
		recordParam,
		mcp.WithString("format",
			mcp.Description("Output format"),
			mcp.Enum(FormatText, FormatJSON, FormatBulk),
			mcp.DefaultString(FormatText),
		),
	)
	s.mcpServer.AddTool(formManifestTool, s.handleFormManifest)

	formInstructionsTool := mcp.NewTool(
		"form_instructions",
		mcp.WithDescription(descriptions.FormInstructionsDescription),
		recordParam,
	)
	s.mcpServer.AddTool(formInstructionsTool, s.handleFormInstructions)

	formCopyFieldTool := mcp.NewTool(
		"form_copy_field",
		mcp.WithDescription(descriptions.FormCopyFieldDescription),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Manifest field key, e.g. exporterName"),
		),
		recordParam,
	)
	s.mcpServer.AddTool(formCopyFieldTool, s.handleFormCopyField)

	formCopyAllTool := mcp.NewTool(
		"form_copy_all",
		mcp.WithDescription(descriptions.FormCopyAllDescription),
		mcp.WithString("source",
			mcp.Description("What to copy: the resolved manifest or the raw record"),
			mcp.Enum(SourceManifest, SourceRecord),
			mcp.DefaultString(SourceManifest),
		),
		recordParam,
	)
	s.mcpServer.AddTool(formCopyAllTool, s.handleFormCopyAll)

	formOpenTool := mcp.NewTool(
		"form_open",
		mcp.WithDescription(descriptions.FormOpenDescription),
		recordParam,
	)
	s.mcpServer.AddTool(formOpenTool, s.handleFormOpen)

	formServerInfoTool := mcp.NewTool(
		"form_server_info",
		mcp.WithDescription(descriptions.FormServerInfoDescription),
	)
	s.mcpServer.AddTool(formServerInfoTool, s.handleFormServerInfo)
}

// newSession creates a session over the requested record. Callers close it
// unless it must outlive the request.
func (s *Server) newSession(request mcp.CallToolRequest) (*assist.Session, *assist.NoticeBuffer, error) {
	rec := s.startup
	if path := request.GetString("record", ""); path != "" {
		loaded, err := s.loader.Load(path)
		if err != nil {
			return nil, nil, err
		}
		rec = loaded
	}

	notices := &assist.NoticeBuffer{}
	opts := []assist.Option{
		assist.WithRules(s.rules),
		assist.WithSchema(s.schema),
		assist.WithCopier(s.copier),
		assist.WithNotifier(notices),
		assist.WithMetrics(s.metrics),
		assist.WithLogger(s.log),
		assist.WithFormURL(s.config.FormURL),
		assist.WithLoginURL(s.config.LoginURL),
		assist.WithEnhanceDelay(s.config.EnhanceDelay),
		assist.WithFeedbackWindow(s.config.FeedbackWindow),
	}
	if s.opener != nil {
		opts = append(opts, assist.WithOpener(s.opener))
	}
	return assist.NewSession(rec, opts...), notices, nil
}

// Handler functions
func (s *Server) handleFormManifest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", FormatText)

	sess, notices, err := s.newSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer sess.Close()

	m := sess.Manifest()

	var responseText string
	switch format {
	case FormatText:
		responseText = fmt.Sprintf("Field manifest (schema v%s, %d fields)\n\n", m.Version, m.Len())
		responseText += assist.RenderManifest(m)
		if review := m.Defaulted(); len(review) > 0 {
			responseText += fmt.Sprintf("\n%d field(s) hold default values; those marked [review] are placeholders.\n", len(review))
		}
	case FormatJSON:
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode manifest: %v", err)), nil
		}
		responseText = string(data)
	case FormatBulk:
		text, err := bulk.FormatSource(m)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		responseText = text
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q (use text, json or bulk)", format)), nil
	}

	return mcp.NewToolResultText(responseText + formatNotices(notices.Drain())), nil
}

func (s *Server) handleFormInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, notices, err := s.newSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer sess.Close()

	text, err := sess.Instructions()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text + formatNotices(notices.Drain())), nil
}

func (s *Server) handleFormCopyField(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sess, notices, err := s.newSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer sess.Close()

	entry, res, err := sess.CopyField(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return copyResult(entry.Label, res, sess.ButtonState(key), notices), nil
}

func (s *Server) handleFormCopyAll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := request.GetString("source", SourceManifest)

	sess, notices, err := s.newSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer sess.Close()

	var (
		res    clipboard.Result
		target string
		what   string
	)
	switch source {
	case SourceManifest:
		res, target, what = sess.CopyAll(ctx), assist.TargetAll, "All fields"
	case SourceRecord:
		res, target, what = sess.CopyRecord(ctx), assist.TargetRecord, "Extracted record"
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown source %q (use manifest or record)", source)), nil
	}

	return copyResult(what, res, sess.ButtonState(target), notices), nil
}

func (s *Server) handleFormOpen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, notices, err := s.newSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	responseText := fmt.Sprintf("Form: %s\nLogin: %s\n", sess.FormURL(), sess.LoginURL())
	if err := sess.OpenForm(ctx); err != nil {
		_ = sess.Close()
		return mcp.NewToolResultText(responseText + formatNotices(notices.Drain())), nil
	}

	if s.opener == nil {
		_ = sess.Close()
		return mcp.NewToolResultText(responseText + formatNotices(notices.Drain())), nil
	}

	// The session keeps its window open and finishes highlighting after
	// this call returns.
	if !s.keep(sess) {
		_ = sess.Close()
		return mcp.NewToolResultError("server is shutting down"), nil
	}
	responseText += fmt.Sprintf("Opened the form in a browser window. Key fields will be highlighted in %s.\n",
		s.config.EnhanceDelay)
	return mcp.NewToolResultText(responseText + formatNotices(notices.Drain())), nil
}

func (s *Server) handleFormServerInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.formatServerInfo()), nil
}

func (s *Server) keep(sess *assist.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions = append(s.sessions, sess)
	return true
}

// Formatting methods
func copyResult(what string, res clipboard.Result, state assist.ButtonState,
	notices *assist.NoticeBuffer,
) *mcp.CallToolResult {
	var text string
	switch res.Outcome {
	case clipboard.OutcomeOK:
		text = fmt.Sprintf("%s copied to the clipboard. [%s]\n", what, state.Label())
	case clipboard.OutcomeFallbackUsed:
		text = fmt.Sprintf("%s copied to the clipboard using the fallback copy command. [%s]\n", what, state.Label())
	default:
		text = fmt.Sprintf("%s could not be copied to the clipboard.\n", what)
		if res.Err != nil {
			text += fmt.Sprintf("Error: %v\n", res.Err)
		}
		return mcp.NewToolResultError(text + formatNotices(notices.Drain()))
	}
	return mcp.NewToolResultText(text + formatNotices(notices.Drain()))
}

func formatNotices(notices []assist.Notice) string {
	if len(notices) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nNotices:\n")
	for _, n := range notices {
		fmt.Fprintf(&b, "- [%s] %s", n.Level, n.Message)
		if n.URL != "" {
			fmt.Fprintf(&b, ": %s", n.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *Server) formatServerInfo() string {
	cfg := s.config
	text := fmt.Sprintf("📋 %s v%s - Server Information\n", cfg.ServerName, cfg.Version)
	text += fmt.Sprintf("Mode: %s\n", cfg.Mode)
	text += fmt.Sprintf("📁 Record Directory: %s\n", s.loader.Dir())
	text += fmt.Sprintf("📏 Max File Size: %d MB\n", cfg.MaxFileSize/(1024*1024))
	if cfg.RecordPath != "" {
		text += fmt.Sprintf("Startup Record: %s (%d keys)\n", cfg.RecordPath, s.startup.Len())
	} else {
		text += "Startup Record: none\n"
	}
	text += fmt.Sprintf("Rules: v%s (%d derived fields)\n", s.rules.Version, len(s.rules.Outputs()))
	text += fmt.Sprintf("Schema: v%s (%d fields)\n", s.schema.Version, s.schema.Len())
	text += fmt.Sprintf("Form URL: %s\n", cfg.FormURL)
	text += fmt.Sprintf("Login URL: %s\n", cfg.LoginURL)
	if cfg.ClipboardCommand != "" {
		text += fmt.Sprintf("Fallback Copy Command: %s\n", cfg.ClipboardCommand)
	} else {
		text += "Fallback Copy Command: auto-detected\n"
	}
	text += fmt.Sprintf("Browser Window: %t\n", s.opener != nil)

	text += "\n🛠️  Available Tools:\n"
	for _, tool := range toolInfos {
		text += fmt.Sprintf("\n• %s\n", tool.Name)
		text += fmt.Sprintf("  Description: %s\n", tool.Description)
		text += fmt.Sprintf("  Parameters: %s\n", tool.Parameters)
	}

	snapshot := s.metrics.Snapshot()
	if len(snapshot) > 0 {
		names := make([]string, 0, len(snapshot))
		for name := range snapshot {
			names = append(names, name)
		}
		sort.Strings(names)

		text += "\n📊 Statistics:\n"
		for _, name := range names {
			text += fmt.Sprintf("  %s %g\n", name, snapshot[name])
		}
	}
	return text
}

// Close closes the sessions kept open by form_open. It is safe to call more
// than once.
func (s *Server) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = nil
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run starts the MCP server in the configured mode and blocks until ctx is
// cancelled or the transport stops.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	g, gctx := errgroup.WithContext(ctx)

	if s.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		s.serveHTTP(gctx, g, "metrics", s.config.MetricsAddr, mux)
	}

	if s.config.IsServerMode() {
		s.runServerMode(gctx, g)
	} else {
		g.Go(func() error {
			err := s.runStdioMode(gctx)
			if s.config.MetricsAddr != "" && err == nil {
				// stdin closed; stop the metrics listener too
				return errStdioClosed
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStdioClosed) {
		return err
	}
	return nil
}

var errStdioClosed = errors.New("stdio closed")

// runStdioMode runs the server in stdio mode
func (s *Server) runStdioMode(ctx context.Context) error {
	s.log.Debug("Starting form MCP server in stdio mode", map[string]interface{}{
		"record_directory": s.loader.Dir(),
	})

	stdio := server.NewStdioServer(s.mcpServer)
	err := stdio.Listen(ctx, s.stdin, s.stdout)
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves MCP over SSE at the configured address
func (s *Server) runServerMode(ctx context.Context, g *errgroup.Group) {
	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	s.log.Info("Starting form MCP server", map[string]interface{}{
		"address":          addr,
		"record_directory": s.loader.Dir(),
	})
	s.serveHTTP(ctx, g, "mcp", addr, sse)
}

// serveHTTP runs an HTTP listener in g until ctx is done. Request contexts
// derive from ctx so long-lived SSE streams end on shutdown.
func (s *Server) serveHTTP(ctx context.Context, g *errgroup.Group, name, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s listener on %s: %w", name, addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("HTTP listener shutdown failed", map[string]interface{}{"listener": name})
			return srv.Close()
		}
		s.log.Debug("HTTP listener stopped", map[string]interface{}{"listener": name})
		return nil
	})
}
