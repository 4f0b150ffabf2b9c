// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Limits   LimitsConfig   `mapstructure:"limits" yaml:"limits"`
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the headless browser allocator and per-session
// behavior.
type BrowserConfig struct {
	Headless        bool  `mapstructure:"headless" yaml:"headless"`
	Stealth         bool  `mapstructure:"stealth" yaml:"stealth"`
	IgnoreTLSErrors bool  `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	MaxPages        int64 `mapstructure:"max_pages" yaml:"max_pages"`
	// ExecPath points at the browser binary to launch; empty lets chromedp
	// search the usual install locations.
	ExecPath string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// SelectorWait bounds how long click/type/extract wait for their target
	// element before reporting it missing.
	SelectorWait time.Duration `mapstructure:"selector_wait" yaml:"selector_wait"`
}

// LimitsConfig holds the policy constants for rate limiting and dispatch.
type LimitsConfig struct {
	// SessionsPerWindow is the per-user budget; session creation consumes it.
	SessionsPerWindow int           `mapstructure:"sessions_per_window" yaml:"sessions_per_window"`
	Window            time.Duration `mapstructure:"window" yaml:"window"`
	// ActionsPerSecond smooths dispatch across all sessions; 0 disables.
	ActionsPerSecond float64 `mapstructure:"actions_per_second" yaml:"actions_per_second"`
	ActionBurst      int     `mapstructure:"action_burst" yaml:"action_burst"`
	// ActionTimeout bounds a single dispatch against the page.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// SecurityConfig extends the built-in URL policy.
type SecurityConfig struct {
	// DenyHosts are rejected on top of the loopback/private/link-local rules.
	DenyHosts []string `mapstructure:"deny_hosts" yaml:"deny_hosts"`
}

// DatabaseConfig configures the persistence collaborator. The core works
// without it; Enabled=false swaps in the no-op sink.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// AgentConfig configures the AI navigation planner.
type AgentConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	APIKey     string        `mapstructure:"api_key" yaml:"-"`
	Model      string        `mapstructure:"model" yaml:"model"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// MaxPageExcerpt caps how much page text is forwarded into the prompt.
	MaxPageExcerpt int `mapstructure:"max_page_excerpt" yaml:"max_page_excerpt"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "red")
	v.SetDefault("logger.colors.panic", "red")
	v.SetDefault("logger.colors.fatal", "red")

	// Browser
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.max_pages", 8)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.selector_wait", "5s")

	// Limits
	v.SetDefault("limits.sessions_per_window", 10)
	v.SetDefault("limits.window", "1h")
	v.SetDefault("limits.actions_per_second", 4.0)
	v.SetDefault("limits.action_burst", 8)
	v.SetDefault("limits.action_timeout", "30s")

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.dsn", "")

	// Agent
	v.SetDefault("agent.enabled", false)
	v.SetDefault("agent.model", "gemini-2.0-flash")
	v.SetDefault("agent.api_timeout", "45s")
	v.SetDefault("agent.max_page_excerpt", 4000)
}

// NewDefaultConfig returns a Config populated with the defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	// Unmarshal from defaults cannot fail for our own struct, but keep the
	// check so a broken tag is caught in tests rather than silently.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: failed to unmarshal defaults: %v", err))
	}
	return &cfg
}

// Load unmarshals the given viper instance (file + env + flags already bound
// by the CLI layer) into a Config and validates the policy constants.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Limits.SessionsPerWindow <= 0 {
		return fmt.Errorf("limits.sessions_per_window must be positive, got %d", c.Limits.SessionsPerWindow)
	}
	if c.Limits.Window <= 0 {
		return fmt.Errorf("limits.window must be positive, got %s", c.Limits.Window)
	}
	if c.Limits.ActionTimeout <= 0 {
		return fmt.Errorf("limits.action_timeout must be positive, got %s", c.Limits.ActionTimeout)
	}
	if c.Browser.MaxPages <= 0 {
		return fmt.Errorf("browser.max_pages must be positive, got %d", c.Browser.MaxPages)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.enabled is true")
	}
	if c.Agent.Enabled && c.Agent.APIKey == "" {
		return fmt.Errorf("agent.api_key is required when agent.enabled is true")
	}
	return nil
}
