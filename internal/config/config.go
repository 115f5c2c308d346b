// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/papertrawl/papertrawl/internal/scholar"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Search  SearchConfig  `mapstructure:"search"`
	Tor     TorConfig     `mapstructure:"tor"`
	Browser BrowserConfig `mapstructure:"browser"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Queue   QueueConfig   `mapstructure:"queue"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SearchConfig governs the search endpoint and the direct strategy's client.
type SearchConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	UserAgents     []string `mapstructure:"user_agents"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// TorConfig locates the anonymizing proxy daemon. An empty SOCKSAddr runs
// without the proxy and disables circuit rotation.
type TorConfig struct {
	SOCKSAddr       string `mapstructure:"socks_addr"`
	ControlAddr     string `mapstructure:"control_addr"`
	ControlPassword string `mapstructure:"control_password"`
	CheckURL        string `mapstructure:"check_url"`
}

// BrowserConfig configures the headless browser strategy.
type BrowserConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Headless       bool   `mapstructure:"headless"`
	UserAgent      string `mapstructure:"user_agent"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	ResultsWaitSec int    `mapstructure:"results_wait_seconds"`
	ScreenshotDir  string `mapstructure:"screenshot_dir"`
}

// PolicyConfig exposes the retry and pacing tuning shared by both strategies.
// Zero values fall back to the built-in defaults.
type PolicyConfig struct {
	MaxPageOffset          int `mapstructure:"max_page_offset"`
	EmptyPageLimit         int `mapstructure:"empty_page_limit"`
	ConsecutiveErrorLimit  int `mapstructure:"consecutive_error_limit"`
	RotationAttempts       int `mapstructure:"rotation_attempts"`
	RotationWaitSec        int `mapstructure:"rotation_wait_seconds"`
	StabilizeWaitSec       int `mapstructure:"stabilize_wait_seconds"`
	MinRequestDelaySec     int `mapstructure:"min_request_delay_seconds"`
	RequestJitterSec       int `mapstructure:"request_jitter_seconds"`
	ErrorRetryWaitSec      int `mapstructure:"error_retry_wait_seconds"`
	YearPauseSec           int `mapstructure:"year_pause_seconds"`
	BrowserRotateEvery     int `mapstructure:"browser_rotate_every"`
	BrowserMinDelaySeconds int `mapstructure:"browser_min_delay_seconds"`
	BrowserEmptyPageLimit  int `mapstructure:"browser_empty_page_limit"`
}

// QueueConfig sizes the in-memory job queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// DBConfig controls access to the relational database. An empty DSN keeps
// all state in memory.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPERTRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("search.base_url", scholar.DefaultBaseURL)
	v.SetDefault("search.timeout_seconds", 30)
	v.SetDefault("tor.socks_addr", "127.0.0.1:9050")
	v.SetDefault("tor.control_addr", "127.0.0.1:9051")
	v.SetDefault("tor.check_url", "https://api.ipify.org")
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.results_wait_seconds", 10)
	v.SetDefault("policy.max_page_offset", 990)
	v.SetDefault("policy.empty_page_limit", 2)
	v.SetDefault("policy.consecutive_error_limit", 5)
	v.SetDefault("policy.rotation_attempts", 10)
	v.SetDefault("policy.rotation_wait_seconds", 10)
	v.SetDefault("policy.stabilize_wait_seconds", 5)
	v.SetDefault("policy.min_request_delay_seconds", 20)
	v.SetDefault("policy.request_jitter_seconds", 5)
	v.SetDefault("policy.error_retry_wait_seconds", 15)
	v.SetDefault("policy.year_pause_seconds", 60)
	v.SetDefault("policy.browser_rotate_every", 15)
	v.SetDefault("policy.browser_min_delay_seconds", 10)
	v.SetDefault("policy.browser_empty_page_limit", 5)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Search.TimeoutSeconds <= 0 {
		return fmt.Errorf("search.timeout_seconds must be > 0")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Policy.RotationAttempts < 0 {
		return fmt.Errorf("policy.rotation_attempts must be >= 0")
	}
	if c.Policy.EmptyPageLimit <= 0 {
		return fmt.Errorf("policy.empty_page_limit must be > 0")
	}
	if c.Browser.Enabled && c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0 when the browser strategy is enabled")
	}
	return nil
}

// SOCKSProxyURL renders the SOCKS address as a proxy URL, or "" when the
// proxy is disabled.
func (c Config) SOCKSProxyURL() string {
	if c.Tor.SOCKSAddr == "" {
		return ""
	}
	return "socks5://" + c.Tor.SOCKSAddr
}

// DirectPolicy converts the policy section into the direct strategy tuning.
func (c Config) DirectPolicy() scholar.Policy {
	p := c.basePolicy()
	p.MinRequestDelay = time.Duration(c.Policy.MinRequestDelaySec) * time.Second
	return p
}

// BrowserPolicy converts the policy section into the browser strategy
// tuning. The browser paces itself less aggressively and rotates the circuit
// proactively.
func (c Config) BrowserPolicy() scholar.Policy {
	p := c.basePolicy()
	p.MinRequestDelay = time.Duration(c.Policy.BrowserMinDelaySeconds) * time.Second
	p.ProactiveRotateEvery = c.Policy.BrowserRotateEvery
	if c.Policy.BrowserEmptyPageLimit > 0 {
		p.EmptyPageLimit = c.Policy.BrowserEmptyPageLimit
	}
	return p
}

func (c Config) basePolicy() scholar.Policy {
	return scholar.Policy{
		MaxPageOffset:         c.Policy.MaxPageOffset,
		EmptyPageLimit:        c.Policy.EmptyPageLimit,
		ConsecutiveErrorLimit: c.Policy.ConsecutiveErrorLimit,
		RotationAttempts:      c.Policy.RotationAttempts,
		RotationWait:          time.Duration(c.Policy.RotationWaitSec) * time.Second,
		StabilizeWait:         time.Duration(c.Policy.StabilizeWaitSec) * time.Second,
		RequestJitter:         time.Duration(c.Policy.RequestJitterSec) * time.Second,
		ErrorRetryWait:        time.Duration(c.Policy.ErrorRetryWaitSec) * time.Second,
		YearPause:             time.Duration(c.Policy.YearPauseSec) * time.Second,
	}
}

// SearchTimeout returns the direct strategy's per-request timeout.
func (c Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSeconds) * time.Second
}
