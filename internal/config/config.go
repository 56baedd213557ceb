// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface is the read-only view of the configuration handed to commands.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Generate() GenerateConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	GenerateCfg GenerateConfig `mapstructure:"generate" yaml:"generate"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Generate() GenerateConfig { return c.GenerateCfg }

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

// BrowserConfig holds settings for the headless browser instance and the pages it opens.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout" yaml:"evaluation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	// NavigationRate is the sustained number of page loads started per second. Zero disables throttling.
	NavigationRate float64 `mapstructure:"navigation_rate" yaml:"navigation_rate"`
}

// GenerateConfig holds the defaults for a critical CSS generation run.
// Targets always come from the command line.
type GenerateConfig struct {
	Viewports   []string `mapstructure:"viewports" yaml:"viewports"`
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency"`
	Output      string   `mapstructure:"output" yaml:"output"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
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
	v.SetDefault("logger.service_name", "critcss")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
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
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.concurrency", 4)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.evaluation_timeout", "30s")
	v.SetDefault("browser.post_load_wait", "0s")
	v.SetDefault("browser.navigation_rate", 0.0)

	// -- Generate --
	v.SetDefault("generate.viewports", []string{"414x896", "1200x800", "1920x1080"})
	v.SetDefault("generate.concurrency", 4)
	v.SetDefault("generate.output", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
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
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.GenerateCfg.Validate(); err != nil {
		return fmt.Errorf("generate configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the BrowserConfig settings.
func (b *BrowserConfig) Validate() error {
	if b.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if b.EvaluationTimeout <= 0 {
		return fmt.Errorf("evaluation_timeout must be a positive duration")
	}
	if b.PostLoadWait < 0 {
		return fmt.Errorf("post_load_wait must not be negative")
	}
	if b.NavigationRate < 0 {
		return fmt.Errorf("navigation_rate must not be negative")
	}
	return nil
}

// Validate checks the GenerateConfig settings.
func (g *GenerateConfig) Validate() error {
	if g.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	if len(g.Viewports) == 0 {
		return fmt.Errorf("at least one default viewport is required")
	}
	return nil
}
