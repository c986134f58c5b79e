package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/a3tai/mcp-form-assistant/internal/config"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
	"github.com/a3tai/mcp-form-assistant/internal/mcp"
)

const (
	testVersion = "1.2.3"
	devVersion  = "dev"
)

func TestPrintVersion(t *testing.T) {
	oldVersion := version
	oldBuildTime := buildTime
	oldGitCommit := gitCommit

	version = testVersion
	buildTime = "2023-12-01_10:30:00"
	gitCommit = "abc123"

	defer func() {
		// Restore original values
		version = oldVersion
		buildTime = oldBuildTime
		gitCommit = oldGitCommit
	}()

	var buf bytes.Buffer
	printVersion(&buf)
	output := buf.String()

	expectedStrings := []string{
		"MCP Form Assistant",
		"Version: " + testVersion,
		"Build Time: 2023-12-01_10:30:00",
		"Git Commit: abc123",
		"Built with:",
	}

	for _, expected := range expectedStrings {
		if !strings.Contains(output, expected) {
			t.Errorf("printVersion() output missing expected string: %s\nActual output:\n%s", expected, output)
		}
	}
}

func TestPrintVersionWithDefaults(t *testing.T) {
	if version != devVersion {
		t.Skipf("version set by build flags: %s", version)
	}

	var buf bytes.Buffer
	printVersion(&buf)

	if !strings.Contains(buf.String(), "Version: dev") {
		t.Errorf("printVersion() should report the dev version, got:\n%s", buf.String())
	}
}

func TestLoggerOptions(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		logLevel  string
		wantQuiet bool
	}{
		{name: "stdio info is quiet", mode: config.ModeStdio, logLevel: "info", wantQuiet: true},
		{name: "stdio debug logs", mode: config.ModeStdio, logLevel: "debug", wantQuiet: false},
		{name: "server info logs", mode: config.ModeServer, logLevel: "info", wantQuiet: false},
		{name: "server debug logs", mode: config.ModeServer, logLevel: "debug", wantQuiet: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Mode = tt.mode
			cfg.LogLevel = tt.logLevel
			cfg.LogFormat = config.LogFormatJSON

			opts := loggerOptions(cfg)
			if opts.Quiet != tt.wantQuiet {
				t.Errorf("Quiet = %v, want %v", opts.Quiet, tt.wantQuiet)
			}
			if opts.Level != tt.logLevel || opts.Format != config.LogFormatJSON {
				t.Errorf("unexpected options: %+v", opts)
			}
		})
	}
}

func TestRun(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RecordDirectory = t.TempDir()
	cfg.OpenBrowser = false

	// End of input stops a stdio server.
	err := run(context.Background(), cfg, logging.NewTestLogger(t), mcp.WithStdio(strings.NewReader(""), io.Discard))
	if err != nil {
		t.Errorf("run() unexpected error: %v", err)
	}
}

func TestRun_InvalidConfiguration(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RecordDirectory = t.TempDir()
	cfg.RecordPath = "missing.json"

	err := run(context.Background(), cfg, logging.NewNoOpLogger())
	if err == nil {
		t.Fatal("run() expected error for a missing startup record")
	}
	if !strings.Contains(err.Error(), "failed to create MCP server") {
		t.Errorf("run() error = %v", err)
	}
}
