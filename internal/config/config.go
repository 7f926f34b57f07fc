// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Page     PageConfig     `mapstructure:"page" yaml:"page"`
	Anchors  AnchorsConfig  `mapstructure:"anchors" yaml:"anchors"`
	Viewer   ViewerConfig   `mapstructure:"viewer" yaml:"viewer"`
	Injector InjectorConfig `mapstructure:"injector" yaml:"injector"`
	Watcher  WatcherConfig  `mapstructure:"watcher" yaml:"watcher"`
	Control  ControlConfig  `mapstructure:"control" yaml:"control"`
	Render   RenderConfig   `mapstructure:"render" yaml:"render"`
	Proxy    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
}

// LoggerConfig defines all the settings for the logger.
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

// BrowserConfig controls how Chrome is launched or attached to.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// RemoteURL attaches to a running browser's DevTools endpoint instead of
	// launching one.
	RemoteURL         string        `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	AutoAcceptDialogs bool          `mapstructure:"auto_accept_dialogs" yaml:"auto_accept_dialogs"`
}

// PageConfig names the product page to open.
type PageConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// AnchorsConfig is the structural contract with the host page.
type AnchorsConfig struct {
	// Insertion lists the insertion point selector followed by its fallbacks.
	Insertion    []string `mapstructure:"insertion" yaml:"insertion"`
	ImageHost    string   `mapstructure:"image_host" yaml:"image_host"`
	ProductImage string   `mapstructure:"product_image" yaml:"product_image"`
	VendorAR     string   `mapstructure:"vendor_ar" yaml:"vendor_ar"`
	// ARExclude marks this system's own AR trigger so it is never mistaken
	// for the vendor control.
	ARExclude string `mapstructure:"ar_exclude" yaml:"ar_exclude"`
}

// ViewerConfig points at the hosted 3D/AR viewer.
type ViewerConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	ProductID string `mapstructure:"product_id" yaml:"product_id"`
	Title     string `mapstructure:"title" yaml:"title"`
}

// InjectorConfig controls the injection attempt and bootstrap schedules.
type InjectorConfig struct {
	// AttemptDelays is the delay before each injection attempt, relative to
	// the previous one.
	AttemptDelays     []time.Duration `mapstructure:"attempt_delays" yaml:"attempt_delays"`
	DefaultViewer     bool            `mapstructure:"default_viewer" yaml:"default_viewer"`
	BootstrapDelay    time.Duration   `mapstructure:"bootstrap_delay" yaml:"bootstrap_delay"`
	BootstrapInterval time.Duration   `mapstructure:"bootstrap_interval" yaml:"bootstrap_interval"`
	BootstrapAttempts int             `mapstructure:"bootstrap_attempts" yaml:"bootstrap_attempts"`
}

// WatcherConfig controls mutation-triggered retries.
type WatcherConfig struct {
	RetryDelay          time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MaxRetriesPerSecond float64       `mapstructure:"max_retries_per_second" yaml:"max_retries_per_second"`
}

// ControlConfig configures the optional control API. An empty Listen
// disables it.
type ControlConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// JWTSecret, when set, requires an HS256 bearer token on every route
	// except /healthz.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// RenderConfig configures offline rendering.
type RenderConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	// Horizon is how much virtual time the session runs before the page is
	// written out.
	Horizon time.Duration `mapstructure:"horizon" yaml:"horizon"`
}

// ProxyConfig configures the injecting proxy. Without a CA pair HTTPS is
// tunneled untouched.
type ProxyConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// Match selects the page URLs whose HTML responses are rewritten.
	Match  string `mapstructure:"match" yaml:"match"`
	CACert string `mapstructure:"ca_cert" yaml:"ca_cert"`
	CAKey  string `mapstructure:"ca_key" yaml:"ca_key"`
}

// NewDefaultConfig creates a configuration populated with all defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "pdp-injector")
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

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.auto_accept_dialogs", true)

	// -- Page --
	v.SetDefault("page.url", "")

	// -- Anchors --
	v.SetDefault("anchors.insertion", []string{
		".css-18m6ozg",
		`[data-testid="product-details"]`,
		".product-details",
		".product-info",
	})
	v.SetDefault("anchors.image_host", ".css-1xvhojq")
	v.SetDefault("anchors.product_image", ".css-1xvhojq img")
	v.SetDefault("anchors.vendor_ar", ".css-1xvhojq .ar-button")
	v.SetDefault("anchors.ar_exclude", ".ar-button-container")

	// -- Viewer --
	v.SetDefault("viewer.endpoint", "https://do3z5bfxzxgi4.cloudfront.net/product")
	v.SetDefault("viewer.product_id", "83fcd4a4-ad5f-42ef-a916-f50a9221ebef")
	v.SetDefault("viewer.title", "3D Viewer")

	// -- Injector --
	v.SetDefault("injector.attempt_delays", []string{"1s", "2s", "2s"})
	v.SetDefault("injector.default_viewer", true)
	v.SetDefault("injector.bootstrap_delay", "1500ms")
	v.SetDefault("injector.bootstrap_interval", "500ms")
	v.SetDefault("injector.bootstrap_attempts", 50)

	// -- Watcher --
	v.SetDefault("watcher.retry_delay", "500ms")
	v.SetDefault("watcher.max_retries_per_second", 4.0)

	// -- Control --
	v.SetDefault("control.listen", "")
	v.SetDefault("control.jwt_secret", "")

	// -- Render --
	v.SetDefault("render.timeout", "30s")
	v.SetDefault("render.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	v.SetDefault("render.horizon", "10s")

	// -- Proxy --
	v.SetDefault("proxy.listen", "127.0.0.1:8081")
	v.SetDefault("proxy.match", "")
	v.SetDefault("proxy.ca_cert", "")
	v.SetDefault("proxy.ca_key", "")
}

// NewConfigFromViper unmarshals, expands and validates the configuration held
// by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("error expanding config paths: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in filesystem paths.
func (c *Config) ExpandPaths() error {
	var err error
	if c.Logger.LogFile, err = homedir.Expand(c.Logger.LogFile); err != nil {
		return fmt.Errorf("logger.log_file: %w", err)
	}
	if c.Browser.UserDataDir, err = homedir.Expand(c.Browser.UserDataDir); err != nil {
		return fmt.Errorf("browser.user_data_dir: %w", err)
	}
	if c.Browser.ExecPath, err = homedir.Expand(c.Browser.ExecPath); err != nil {
		return fmt.Errorf("browser.exec_path: %w", err)
	}
	if c.Proxy.CACert, err = homedir.Expand(c.Proxy.CACert); err != nil {
		return fmt.Errorf("proxy.ca_cert: %w", err)
	}
	if c.Proxy.CAKey, err = homedir.Expand(c.Proxy.CAKey); err != nil {
		return fmt.Errorf("proxy.ca_key: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if len(c.Anchors.Insertion) == 0 {
		return fmt.Errorf("anchors.insertion must list at least one selector")
	}
	if c.Anchors.ImageHost == "" || c.Anchors.ProductImage == "" {
		return fmt.Errorf("anchors.image_host and anchors.product_image are required")
	}
	if err := c.Viewer.Validate(); err != nil {
		return fmt.Errorf("viewer configuration invalid: %w", err)
	}
	if err := c.Injector.Validate(); err != nil {
		return fmt.Errorf("injector configuration invalid: %w", err)
	}
	if c.Watcher.RetryDelay < 0 {
		return fmt.Errorf("watcher.retry_delay must not be negative")
	}
	if c.Watcher.MaxRetriesPerSecond <= 0 {
		return fmt.Errorf("watcher.max_retries_per_second must be positive")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window dimensions must be positive")
	}
	if c.Render.Horizon < 0 {
		return fmt.Errorf("render.horizon must not be negative")
	}
	if err := c.Proxy.Validate(); err != nil {
		return fmt.Errorf("proxy configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the match pattern and that the CA is given as a pair.
func (p *ProxyConfig) Validate() error {
	if _, err := regexp.Compile(p.Match); err != nil {
		return fmt.Errorf("match: %w", err)
	}
	if (p.CACert == "") != (p.CAKey == "") {
		return fmt.Errorf("ca_cert and ca_key must be set together")
	}
	return nil
}

// Validate checks the viewer endpoint.
func (v *ViewerConfig) Validate() error {
	u, err := url.Parse(v.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", v.Endpoint)
	}
	if v.ProductID == "" {
		return fmt.Errorf("product_id is required")
	}
	return nil
}

// Validate checks the injection schedules.
func (i *InjectorConfig) Validate() error {
	if len(i.AttemptDelays) == 0 {
		return fmt.Errorf("attempt_delays must contain at least one delay")
	}
	for n, d := range i.AttemptDelays {
		if d < 0 {
			return fmt.Errorf("attempt_delays[%d] must not be negative", n)
		}
	}
	if i.DefaultViewer {
		if i.BootstrapAttempts <= 0 {
			return fmt.Errorf("bootstrap_attempts must be a positive integer")
		}
		if i.BootstrapInterval <= 0 {
			return fmt.Errorf("bootstrap_interval must be positive")
		}
	}
	return nil
}
