package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Log formats
	LogFormatConsole = "console"
	LogFormatJSON    = "json"

	// Default values
	DefaultPort           = 8080
	DefaultHost           = "127.0.0.1"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = LogFormatConsole
	DefaultMaxFileSize    = 10 * 1024 * 1024 // 10MB
	DefaultFormURL        = "https://www.invesco-ug.com/business/application/new"
	DefaultLoginURL       = "https://www.invesco-ug.com/auth/login"
	DefaultEnhanceDelay   = 2 * time.Second
	DefaultFeedbackWindow = time.Second

	// EnvPrefix is prepended to every environment variable.
	EnvPrefix = "FORM_ASSIST"
	// DefaultEnvFile is loaded, when present, before reading the environment.
	DefaultEnvFile = ".env"
)

// Config holds all configuration for the form assistant
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Record configuration
	RecordDirectory string // records are only read from inside this directory
	RecordPath      string // optional record loaded at startup
	MaxFileSize     int64  // maximum record file size in bytes
	RulesPath       string // optional rule table overriding the built-in one
	SchemaPath      string // optional schema overriding the built-in one

	// Target form
	FormURL        string
	LoginURL       string
	EnhanceDelay   time.Duration
	FeedbackWindow time.Duration

	// Clipboard and browser
	ClipboardCommand string // fixed fallback copy command
	OpenBrowser      bool
	Headless         bool
	BrowserPath      string

	// Observability
	LogLevel    string
	LogFormat   string
	MetricsAddr string // empty disables the /metrics listener

	// Application configuration
	Version    string
	ServerName string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		Mode:            ModeStdio,
		Host:            DefaultHost,
		Port:            DefaultPort,
		RecordDirectory: currentDir,
		MaxFileSize:     DefaultMaxFileSize,
		FormURL:         DefaultFormURL,
		LoginURL:        DefaultLoginURL,
		EnhanceDelay:    DefaultEnhanceDelay,
		FeedbackWindow:  DefaultFeedbackWindow,
		OpenBrowser:     true,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		Version:         "1.0.0",
		ServerName:      "mcp-form-assistant",
	}
}

// LoadFromFlags parses the process command line and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	if err := LoadEnvFile(DefaultEnvFile); err != nil {
		return nil, err
	}
	setupViperEnvironment(viper.GetViper(), cfg)
	DefineFlags(pflag.CommandLine, cfg)
	BindFlags(viper.GetViper(), pflag.CommandLine)
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	return finish(viper.GetViper(), cfg)
}

// Load builds a configuration from an already parsed flag set, the
// environment and an optional .env file. It is used by commands that own
// their flag set.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()

	if err := LoadEnvFile(DefaultEnvFile); err != nil {
		return nil, err
	}
	v := viper.New()
	setupViperEnvironment(v, cfg)
	BindFlags(v, fs)

	return finish(v, cfg)
}

func finish(v *viper.Viper, cfg *Config) (*Config, error) {
	populateConfigFromViper(v, cfg)

	// Expand paths if needed
	if cfg.RecordDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.RecordDirectory); err == nil {
			cfg.RecordDirectory = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("dir", cfg.RecordDirectory)
	v.SetDefault("record", cfg.RecordPath)
	v.SetDefault("max-file-size", cfg.MaxFileSize)
	v.SetDefault("rules", cfg.RulesPath)
	v.SetDefault("schema", cfg.SchemaPath)
	v.SetDefault("form-url", cfg.FormURL)
	v.SetDefault("login-url", cfg.LoginURL)
	v.SetDefault("enhance-delay", cfg.EnhanceDelay)
	v.SetDefault("feedback-window", cfg.FeedbackWindow)
	v.SetDefault("clipboard-cmd", cfg.ClipboardCommand)
	v.SetDefault("open-browser", cfg.OpenBrowser)
	v.SetDefault("headless", cfg.Headless)
	v.SetDefault("browser-path", cfg.BrowserPath)
	v.SetDefault("log-level", cfg.LogLevel)
	v.SetDefault("log-format", cfg.LogFormat)
	v.SetDefault("metrics-addr", cfg.MetricsAddr)
}

// DefineFlags sets up the command line flags on fs
func DefineFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	fs.String("host", cfg.Host, "Server host address (server mode only)")
	fs.Int("port", cfg.Port, "Server port (server mode only)")
	fs.String("dir", cfg.RecordDirectory, "Directory containing record files (JSON or filled PDF forms)")
	fs.String("record", cfg.RecordPath, "Record loaded at startup, relative to --dir")
	fs.Int64("max-file-size", cfg.MaxFileSize, "Maximum record file size in bytes")
	fs.String("rules", cfg.RulesPath, "Rule table YAML overriding the built-in rules")
	fs.String("schema", cfg.SchemaPath, "Manifest schema YAML overriding the built-in schema")
	fs.String("form-url", cfg.FormURL, "Application form URL")
	fs.String("login-url", cfg.LoginURL, "Login page URL")
	fs.Duration("enhance-delay", cfg.EnhanceDelay, "Delay before highlighting fields in the form window")
	fs.Duration("feedback-window", cfg.FeedbackWindow, "How long a copy button shows its copied state")
	fs.String("clipboard-cmd", cfg.ClipboardCommand, "Fallback copy command reading stdin (auto-detected when empty)")
	fs.Bool("open-browser", cfg.OpenBrowser, "Open the form in a Chrome window")
	fs.Bool("headless", cfg.Headless, "Run Chrome without a visible window")
	fs.String("browser-path", cfg.BrowserPath, "Chrome executable (auto-detected when empty)")
	fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-format", cfg.LogFormat, "Log format (console, json)")
	fs.String("metrics-addr", cfg.MetricsAddr, "Address for the /metrics endpoint, e.g. 127.0.0.1:9090 (disabled when empty)")
}

// BindFlags binds every flag in fs to the viper key of the same name
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP Form Assistant - helps transcribe extracted certificate data into the Invesco application form\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                          "+
			"# stdio mode, current directory (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir=/data/records --record=cert.json   "+
			"# stdio mode with a startup record\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --metrics-addr=:9090       # server mode with metrics\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables (also read from %s):\n", DefaultEnvFile)
		fmt.Fprintf(os.Stderr, "  %s_MODE            Server mode\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_DIR             Record directory\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_RECORD          Startup record\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_LOG_LEVEL       Log level\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_CLIPBOARD_CMD   Fallback copy command\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  Every flag maps to %s_<FLAG> with dashes as underscores.\n", EnvPrefix)
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(v *viper.Viper, cfg *Config) {
	cfg.Mode = v.GetString("mode")
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.RecordDirectory = v.GetString("dir")
	cfg.RecordPath = v.GetString("record")
	cfg.MaxFileSize = v.GetInt64("max-file-size")
	cfg.RulesPath = v.GetString("rules")
	cfg.SchemaPath = v.GetString("schema")
	cfg.FormURL = v.GetString("form-url")
	cfg.LoginURL = v.GetString("login-url")
	cfg.EnhanceDelay = v.GetDuration("enhance-delay")
	cfg.FeedbackWindow = v.GetDuration("feedback-window")
	cfg.ClipboardCommand = v.GetString("clipboard-cmd")
	cfg.OpenBrowser = v.GetBool("open-browser")
	cfg.Headless = v.GetBool("headless")
	cfg.BrowserPath = v.GetString("browser-path")
	cfg.LogLevel = v.GetString("log-level")
	cfg.LogFormat = v.GetString("log-format")
	cfg.MetricsAddr = v.GetString("metrics-addr")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.RecordDirectory == "" {
		return errors.New("record directory cannot be empty")
	}
	// The directory may not exist yet; if it does it must be a directory.
	if info, err := os.Stat(c.RecordDirectory); err == nil && !info.IsDir() {
		return fmt.Errorf("record directory %s is not a directory", c.RecordDirectory)
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != LogFormatConsole && c.LogFormat != LogFormatJSON {
		return fmt.Errorf("invalid log format: %s (must be one of: console, json)", c.LogFormat)
	}

	for name, raw := range map[string]string{"form URL": c.FormURL, "login URL": c.LoginURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", name, raw)
		}
	}

	if c.EnhanceDelay < 0 {
		return errors.New("enhance delay cannot be negative")
	}
	if c.FeedbackWindow <= 0 {
		return errors.New("feedback window must be positive")
	}

	return nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, RecordDirectory: %s, RecordPath: %s, LogLevel: %s, MaxFileSize: %d, FormURL: %s}",
		c.Mode, c.Host, c.Port, c.RecordDirectory, c.RecordPath, c.LogLevel, c.MaxFileSize, c.FormURL)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
