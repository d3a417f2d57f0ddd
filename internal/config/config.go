// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Pool     PoolConfig     `mapstructure:"pool" yaml:"pool"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Tabs     TabsConfig     `mapstructure:"tabs" yaml:"tabs"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser processes.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string `mapstructure:"args" yaml:"args"`
}

// PoolConfig tunes the browser/context pool and the session cache.
type PoolConfig struct {
	MaxBrowsers        int           `mapstructure:"max_browsers" yaml:"max_browsers"`
	BrowserIdleTimeout time.Duration `mapstructure:"browser_idle_timeout" yaml:"browser_idle_timeout"`
	ContextIdleTimeout time.Duration `mapstructure:"context_idle_timeout" yaml:"context_idle_timeout"`
	SessionTTL         time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	SessionDir         string        `mapstructure:"session_dir" yaml:"session_dir"`
}

// CaptureConfig holds the knobs that shape a single capture pass.
type CaptureConfig struct {
	ViewportWidth      int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight     int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PageDeadline       time.Duration `mapstructure:"page_deadline" yaml:"page_deadline"`
	ScrollStep         int           `mapstructure:"scroll_step" yaml:"scroll_step"`
	MaxFrames          int           `mapstructure:"max_frames" yaml:"max_frames"`
	ContainerMinHeight int           `mapstructure:"container_min_height" yaml:"container_min_height"`
	ReadyCeiling       time.Duration `mapstructure:"ready_ceiling" yaml:"ready_ceiling"`
	ReadyCeilingHeavy  time.Duration `mapstructure:"ready_ceiling_heavy" yaml:"ready_ceiling_heavy"`
	ReadyCeilingFast   time.Duration `mapstructure:"ready_ceiling_fast" yaml:"ready_ceiling_fast"`
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	SettleDelayFast    time.Duration `mapstructure:"settle_delay_fast" yaml:"settle_delay_fast"`
	ResolveWait        time.Duration `mapstructure:"resolve_wait" yaml:"resolve_wait"`
	FallbackWait       time.Duration `mapstructure:"fallback_wait" yaml:"fallback_wait"`
}

// AuthConfig carries the cues used to classify login state and the default
// form selectors used when the caller supplies none.
type AuthConfig struct {
	LoginPathHints    []string `mapstructure:"login_path_hints" yaml:"login_path_hints"`
	SessionCues       []string `mapstructure:"session_cues" yaml:"session_cues"`
	ErrorCues         []string `mapstructure:"error_cues" yaml:"error_cues"`
	UsernameSelectors []string `mapstructure:"username_selectors" yaml:"username_selectors"`
	PasswordSelectors []string `mapstructure:"password_selectors" yaml:"password_selectors"`
	SubmitSelectors   []string `mapstructure:"submit_selectors" yaml:"submit_selectors"`
}

// TabsConfig configures the heuristic tab detector.
type TabsConfig struct {
	SelectorPatterns []string `mapstructure:"selector_patterns" yaml:"selector_patterns"`
	NoiseWords       []string `mapstructure:"noise_words" yaml:"noise_words"`
	MaxRegions       int      `mapstructure:"max_regions" yaml:"max_regions"`
}

// AnalysisConfig configures the optional external page analysis service.
type AnalysisConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	RateLimit   float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	MaxElements int           `mapstructure:"max_elements" yaml:"max_elements"`
}

// OutputConfig controls where artifacts and run reports land on disk.
type OutputConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	WriteReport bool   `mapstructure:"write_report" yaml:"write_report"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pageproof")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent", "")

	// -- Pool --
	v.SetDefault("pool.max_browsers", 3)
	v.SetDefault("pool.browser_idle_timeout", "5m")
	v.SetDefault("pool.context_idle_timeout", "5m")
	v.SetDefault("pool.session_ttl", "24h")
	v.SetDefault("pool.sweep_interval", "60s")
	v.SetDefault("pool.session_dir", "")

	// -- Capture --
	v.SetDefault("capture.viewport_width", 1920)
	v.SetDefault("capture.viewport_height", 1080)
	v.SetDefault("capture.navigation_timeout", "45s")
	v.SetDefault("capture.page_deadline", "120s")
	v.SetDefault("capture.scroll_step", 800)
	v.SetDefault("capture.max_frames", 10)
	v.SetDefault("capture.container_min_height", 200)
	v.SetDefault("capture.ready_ceiling", "10s")
	v.SetDefault("capture.ready_ceiling_heavy", "20s")
	v.SetDefault("capture.ready_ceiling_fast", "3s")
	v.SetDefault("capture.settle_delay", "300ms")
	v.SetDefault("capture.settle_delay_fast", "150ms")
	v.SetDefault("capture.resolve_wait", "2s")
	v.SetDefault("capture.fallback_wait", "800ms")

	// -- Auth --
	v.SetDefault("auth.login_path_hints", []string{"login", "signin", "sign-in", "auth", "account/login", "session/new"})
	v.SetDefault("auth.session_cues", []string{"sign out", "log out", "logout", "my account", "welcome back", "dashboard"})
	v.SetDefault("auth.error_cues", []string{"invalid", "incorrect", "failed", "try again", "wrong password"})
	v.SetDefault("auth.username_selectors", []string{
		"input[name='username']", "input[name='email']", "input[type='email']",
		"input[id='username']", "input[id='email']", "input[name='login']",
	})
	v.SetDefault("auth.password_selectors", []string{
		"input[type='password']", "input[name='password']", "input[id='password']",
	})
	v.SetDefault("auth.submit_selectors", []string{
		"button[type='submit']", "input[type='submit']", "form button",
	})

	// -- Tabs --
	v.SetDefault("tabs.selector_patterns", []string{
		"[role='tab']", "[role='tablist'] > *", ".tab", ".tabs > *",
		".nav-tabs .nav-link", ".tab-item", "[data-tab]", ".mat-tab-label",
		".MuiTab-root", "ul.tabs li",
	})
	v.SetDefault("tabs.noise_words", []string{"menu", "close", "dropdown", "toggle", "search", "skip"})
	v.SetDefault("tabs.max_regions", 8)

	// -- Analysis --
	v.SetDefault("analysis.enabled", false)
	v.SetDefault("analysis.timeout", "60s")
	v.SetDefault("analysis.max_retries", 2)
	v.SetDefault("analysis.rate_limit", 0.5)
	v.SetDefault("analysis.rate_burst", 1)
	v.SetDefault("analysis.max_elements", 40)

	// -- Output --
	v.SetDefault("output.dir", "captures")
	v.SetDefault("output.write_report", true)
}

// NewConfigFromViper creates a validated configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive values come from the environment, never the config file.
	v.BindEnv("analysis.api_key", "PAGEPROOF_ANALYSIS_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.applyPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig creates a configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.applyPaths()
	return &cfg
}

// applyPaths resolves filesystem defaults that depend on the user's home directory.
func (c *Config) applyPaths() {
	if c.Pool.SessionDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			// Fall back to a relative directory rather than failing startup.
			c.Pool.SessionDir = filepath.Join(".pageproof", "sessions")
			return
		}
		c.Pool.SessionDir = filepath.Join(home, ".pageproof", "sessions")
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Pool.MaxBrowsers <= 0 {
		return fmt.Errorf("pool.max_browsers must be a positive integer")
	}
	if c.Capture.ScrollStep <= 0 {
		return fmt.Errorf("capture.scroll_step must be a positive integer")
	}
	if c.Capture.MaxFrames <= 1 {
		return fmt.Errorf("capture.max_frames must leave room for at least one scroll frame")
	}
	if c.Capture.ViewportWidth <= 0 || c.Capture.ViewportHeight <= 0 {
		return fmt.Errorf("capture viewport dimensions must be positive")
	}
	if c.Pool.SessionTTL <= 0 {
		return fmt.Errorf("pool.session_ttl must be a positive duration")
	}
	if c.Analysis.Enabled && c.Analysis.Endpoint == "" {
		return fmt.Errorf("analysis.endpoint is required when analysis is enabled")
	}
	return nil
}
