// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Backend() BackendConfig
	Identity() IdentityConfig
	Polling() PollingConfig
	History() HistoryConfig
	Export() ExportConfig

	SetBackendBaseURL(string)
	SetExportOutput(string)
	SetExportFormat(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BackendCfg  BackendConfig  `mapstructure:"backend" yaml:"backend"`
	IdentityCfg IdentityConfig `mapstructure:"identity" yaml:"identity"`
	PollingCfg  PollingConfig  `mapstructure:"polling" yaml:"polling"`
	HistoryCfg  HistoryConfig  `mapstructure:"history" yaml:"history"`
	// ExportCfg is usually driven by CLI flags rather than the config file.
	ExportCfg ExportConfig `mapstructure:"export" yaml:"export"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Backend() BackendConfig   { return c.BackendCfg }
func (c *Config) Identity() IdentityConfig { return c.IdentityCfg }
func (c *Config) Polling() PollingConfig   { return c.PollingCfg }
func (c *Config) History() HistoryConfig   { return c.HistoryCfg }
func (c *Config) Export() ExportConfig     { return c.ExportCfg }

func (c *Config) SetBackendBaseURL(u string) { c.BackendCfg.BaseURL = u }
func (c *Config) SetExportOutput(p string)   { c.ExportCfg.Output = p }
func (c *Config) SetExportFormat(f string)   { c.ExportCfg.Format = f }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BackendConfig describes how to reach the job backend.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RequestsPerSecond paces every outbound call; zero disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
	IgnoreTLSErrors   bool    `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Proxy             string  `mapstructure:"proxy" yaml:"proxy"`
	ForceHTTP2        bool    `mapstructure:"force_http2" yaml:"force_http2"`
}

// IdentityConfig selects how the caller is identified.
type IdentityConfig struct {
	// TokenFile holds a bearer token written by an external identity provider.
	// When empty, or when the file is missing, the caller is anonymous.
	TokenFile string `mapstructure:"token_file" yaml:"token_file"`
	// Token is an inline bearer token, normally supplied through RECONCTL_TOKEN.
	Token string `mapstructure:"token" yaml:"-"`
	// UserID overrides the id taken from the token claims.
	UserID      string `mapstructure:"user_id" yaml:"user_id"`
	UserIDClaim string `mapstructure:"user_id_claim" yaml:"user_id_claim"`
	SessionFile string `mapstructure:"session_file" yaml:"session_file"`
	// SessionMarkerOffset is added to the creation time embedded in new session ids.
	SessionMarkerOffset time.Duration `mapstructure:"session_marker_offset" yaml:"session_marker_offset"`
}

// PollBudget is the fixed interval and attempt ceiling for one tool.
type PollBudget struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// Validate checks that the budget can make progress.
func (p PollBudget) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("interval must be a positive duration")
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	return nil
}

// PollingConfig holds the per-tool poll budgets.
type PollingConfig struct {
	Katana  PollBudget `mapstructure:"katana" yaml:"katana"`
	Nmap    PollBudget `mapstructure:"nmap" yaml:"nmap"`
	Whois   PollBudget `mapstructure:"whois" yaml:"whois"`
	Command PollBudget `mapstructure:"command" yaml:"command"`
}

// For returns the budget for a tool kind name.
func (p PollingConfig) For(kind string) (PollBudget, bool) {
	switch kind {
	case "katana":
		return p.Katana, true
	case "nmap":
		return p.Nmap, true
	case "whois":
		return p.Whois, true
	case "command":
		return p.Command, true
	}
	return PollBudget{}, false
}

// HistoryConfig controls how history entries are displayed.
type HistoryConfig struct {
	// DisplayOffset shifts backend timestamps before formatting.
	DisplayOffset   time.Duration `mapstructure:"display_offset" yaml:"display_offset"`
	TimestampLayout string        `mapstructure:"timestamp_layout" yaml:"timestamp_layout"`
	MaxDisplayURLs  int           `mapstructure:"max_display_urls" yaml:"max_display_urls"`
}

// ExportConfig controls how live results are exported.
type ExportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "reconctl")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Backend --
	v.SetDefault("backend.base_url", "http://localhost:5000")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("backend.requests_per_second", 5.0)
	v.SetDefault("backend.burst", 5)
	v.SetDefault("backend.ignore_tls_errors", false)
	v.SetDefault("backend.proxy", "")
	v.SetDefault("backend.force_http2", true)

	// -- Identity --
	v.SetDefault("identity.token_file", "")
	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.user_id_claim", "user_id")
	v.SetDefault("identity.session_file", "~/.reconctl/session")
	v.SetDefault("identity.session_marker_offset", "3h")

	// -- Polling --
	v.SetDefault("polling.katana.interval", "5s")
	v.SetDefault("polling.katana.max_attempts", 60)
	v.SetDefault("polling.nmap.interval", "5s")
	v.SetDefault("polling.nmap.max_attempts", 60)
	v.SetDefault("polling.whois.interval", "3s")
	v.SetDefault("polling.whois.max_attempts", 30)
	v.SetDefault("polling.command.interval", "2s")
	v.SetDefault("polling.command.max_attempts", 60)

	// -- History --
	v.SetDefault("history.display_offset", "-3h")
	v.SetDefault("history.timestamp_layout", "2006-01-02 15:04:05")
	v.SetDefault("history.max_display_urls", 50)

	// -- Export --
	v.SetDefault("export.format", "json")
	v.SetDefault("export.output", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("identity.token", "RECONCTL_TOKEN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BackendCfg.Validate(); err != nil {
		return fmt.Errorf("backend configuration invalid: %w", err)
	}
	budgets := map[string]PollBudget{
		"katana":  c.PollingCfg.Katana,
		"nmap":    c.PollingCfg.Nmap,
		"whois":   c.PollingCfg.Whois,
		"command": c.PollingCfg.Command,
	}
	for name, b := range budgets {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("polling.%s: %w", name, err)
		}
	}
	if c.HistoryCfg.MaxDisplayURLs <= 0 {
		return fmt.Errorf("history.max_display_urls must be a positive integer")
	}
	if c.HistoryCfg.TimestampLayout == "" {
		return fmt.Errorf("history.timestamp_layout is required")
	}
	switch c.ExportCfg.Format {
	case "json", "text":
	default:
		return fmt.Errorf("export.format must be one of json, text")
	}
	return nil
}

// Validate checks the backend configuration.
func (b *BackendConfig) Validate() error {
	if b.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(b.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", b.BaseURL)
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if b.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if b.RequestsPerSecond > 0 && b.Burst <= 0 {
		return fmt.Errorf("burst must be a positive integer when requests_per_second is set")
	}
	if b.Proxy != "" {
		if _, err := url.Parse(b.Proxy); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
	}
	return nil
}
