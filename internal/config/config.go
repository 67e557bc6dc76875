// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire harness configuration. It replaces the fixed
// constants (base URL, locales, output directory, timeouts) the verification
// scripts used to carry inline.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Target   TargetConfig   `mapstructure:"target" yaml:"target"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Scenario ScenarioConfig `mapstructure:"scenario" yaml:"scenario"`
}

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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the single headless browser process.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// TargetConfig describes the application under verification and where
// artifacts go.
type TargetConfig struct {
	BaseURL   string   `mapstructure:"base_url" yaml:"base_url"`
	Locales   []string `mapstructure:"locales" yaml:"locales"`
	OutputDir string   `mapstructure:"output_dir" yaml:"output_dir"`
	// FixturePath is the SVG uploaded by upload steps. Relative paths are
	// resolved against OutputDir.
	FixturePath string `mapstructure:"fixture_path" yaml:"fixture_path"`
	// Markers maps locale code -> marker key -> expected text. Viper lowercases
	// map keys, so marker keys are matched case-insensitively.
	Markers map[string]map[string]string `mapstructure:"markers" yaml:"markers"`
}

// EngineConfig tunes how scenarios are executed.
type EngineConfig struct {
	// Concurrency is the number of locales run at once. 1 keeps log ordering deterministic.
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	StepTimeout      time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	WaitTimeout      time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	LocaleTimeout    time.Duration `mapstructure:"locale_timeout" yaml:"locale_timeout"`
	SettleDelay      time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ActionsPerSecond float64       `mapstructure:"actions_per_second" yaml:"actions_per_second"`
	ActionBurst      int           `mapstructure:"action_burst" yaml:"action_burst"`
}

// ScenarioConfig is the declarative form of a scenario. An empty step list
// selects the built-in scenario.
type ScenarioConfig struct {
	Name  string       `mapstructure:"name" yaml:"name"`
	Steps []StepConfig `mapstructure:"steps" yaml:"steps"`
}

// StepConfig is one declarative scenario step.
type StepConfig struct {
	Action      string          `mapstructure:"action" yaml:"action"`
	Stage       string          `mapstructure:"stage" yaml:"stage,omitempty"`
	URL         string          `mapstructure:"url" yaml:"url,omitempty"`
	Targets     []LocatorConfig `mapstructure:"targets" yaml:"targets,omitempty"`
	AllowHidden bool            `mapstructure:"allow_hidden" yaml:"allow_hidden,omitempty"`
	Timeout     time.Duration   `mapstructure:"timeout" yaml:"timeout,omitempty"`
	URLPattern  string          `mapstructure:"url_pattern" yaml:"url_pattern,omitempty"`
	Marker      string          `mapstructure:"marker" yaml:"marker,omitempty"`
	MarkerKey   string          `mapstructure:"marker_key" yaml:"marker_key,omitempty"`
	FallbackURL string          `mapstructure:"fallback_url" yaml:"fallback_url,omitempty"`
	Critical    bool            `mapstructure:"critical" yaml:"critical,omitempty"`
}

// LocatorConfig is one candidate locator expression.
type LocatorConfig struct {
	Kind  string `mapstructure:"kind" yaml:"kind"`
	Value string `mapstructure:"value" yaml:"value"`
	Name  string `mapstructure:"name" yaml:"name,omitempty"`
	Exact bool   `mapstructure:"exact" yaml:"exact,omitempty"`
}

var validActions = map[string]bool{
	"navigate":       true,
	"upload":         true,
	"click":          true,
	"wait_for_state": true,
	"screenshot":     true,
}

var validLocatorKinds = map[string]bool{
	"role":  true,
	"text":  true,
	"css":   true,
	"xpath": true,
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
	v.SetDefault("logger.service_name", "uiverify")
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
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.launch_timeout", "30s")

	// -- Target --
	v.SetDefault("target.base_url", "http://localhost:4321")
	v.SetDefault("target.locales", []string{"en", "es"})
	v.SetDefault("target.output_dir", "verification")
	v.SetDefault("target.fixture_path", "test_logo.svg")

	// -- Engine --
	v.SetDefault("engine.concurrency", 1)
	v.SetDefault("engine.step_timeout", "15s")
	v.SetDefault("engine.wait_timeout", "5s")
	v.SetDefault("engine.probe_timeout", "1s")
	v.SetDefault("engine.poll_interval", "100ms")
	v.SetDefault("engine.locale_timeout", "3m")
	v.SetDefault("engine.settle_delay", "1s")
	v.SetDefault("engine.actions_per_second", 4.0)
	v.SetDefault("engine.action_burst", 1)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in filesystem settings.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Target.OutputDir, &c.Target.FixturePath, &c.Logger.LogFile, &c.Browser.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("target configuration invalid: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.Scenario.Validate(); err != nil {
		return fmt.Errorf("scenario configuration invalid: %w", err)
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window dimensions must be positive")
	}
	return nil
}

// Validate checks the target settings.
func (t *TargetConfig) Validate() error {
	if t.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must use http or https, got %q", u.Scheme)
	}
	if len(t.Locales) == 0 {
		return fmt.Errorf("at least one locale is required")
	}
	seen := make(map[string]bool, len(t.Locales))
	for _, l := range t.Locales {
		code := strings.TrimSpace(l)
		if code == "" || strings.ContainsAny(code, `/\`) {
			return fmt.Errorf("invalid locale code %q", l)
		}
		if seen[code] {
			return fmt.Errorf("duplicate locale %q", code)
		}
		seen[code] = true
	}
	if t.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	return nil
}

// Validate checks the engine settings.
func (e *EngineConfig) Validate() error {
	if e.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	durations := map[string]time.Duration{
		"step_timeout":  e.StepTimeout,
		"wait_timeout":  e.WaitTimeout,
		"probe_timeout": e.ProbeTimeout,
		"poll_interval": e.PollInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if e.LocaleTimeout < 0 || e.SettleDelay < 0 {
		return fmt.Errorf("locale_timeout and settle_delay must not be negative")
	}
	if e.ActionsPerSecond < 0 {
		return fmt.Errorf("actions_per_second must not be negative")
	}
	return nil
}

// stageNamePattern restricts stages to names usable as file names unchanged.
var stageNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Validate checks a declarative scenario. An empty scenario is valid and
// selects the built-in one.
func (s *ScenarioConfig) Validate() error {
	for i, step := range s.Steps {
		if !validActions[step.Action] {
			return fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
		for j, loc := range step.Targets {
			if !validLocatorKinds[loc.Kind] {
				return fmt.Errorf("step %d: target %d has unknown kind %q", i, j, loc.Kind)
			}
			if loc.Value == "" {
				return fmt.Errorf("step %d: target %d has an empty value", i, j)
			}
		}
		if step.Stage != "" {
			if !stageNamePattern.MatchString(step.Stage) || strings.Contains(step.Stage, "..") {
				return fmt.Errorf("step %d: stage %q may only contain letters, digits, '.', '_' and '-'", i, step.Stage)
			}
			if strings.HasPrefix(step.Stage, "error-") {
				return fmt.Errorf("step %d: stage %q uses the reserved \"error-\" prefix", i, step.Stage)
			}
		}
		switch step.Action {
		case "navigate":
			if step.URL == "" {
				return fmt.Errorf("step %d: navigate requires a url", i)
			}
		case "upload", "click":
			if len(step.Targets) == 0 {
				return fmt.Errorf("step %d: %s requires at least one target", i, step.Action)
			}
		case "wait_for_state":
			if step.URLPattern == "" && step.Marker == "" && step.MarkerKey == "" {
				return fmt.Errorf("step %d: wait_for_state requires url_pattern, marker or marker_key", i)
			}
		case "screenshot":
			if step.Stage == "" {
				return fmt.Errorf("step %d: screenshot requires a stage", i)
			}
		}
	}
	return nil
}
