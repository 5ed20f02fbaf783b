// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Terminal   TerminalConfig   `mapstructure:"terminal" yaml:"terminal"`
	Loop       LoopConfig       `mapstructure:"loop" yaml:"loop"`
	History    HistoryConfig    `mapstructure:"history" yaml:"history"`
	MissionLog MissionLogConfig `mapstructure:"mission_log" yaml:"mission_log"`
}

// LoggerConfig configures the zap logger and file rotation.
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

// LLMConfig configures the model boundary.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerMinute bounds the call rate against provider quotas.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// BrowserConfig configures the chromedp-backed browser provider.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	// MaxBodyChars bounds rendered page text folded into the context.
	MaxBodyChars int `mapstructure:"max_body_chars" yaml:"max_body_chars"`
}

// TerminalConfig configures the SSH-backed terminal provider.
type TerminalConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	User           string        `mapstructure:"user" yaml:"user"`
	Password       string        `mapstructure:"password" yaml:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// MaxOutputChars bounds captured command output folded into the context.
	MaxOutputChars int `mapstructure:"max_output_chars" yaml:"max_output_chars"`
}

// LoopConfig configures the loop controller.
type LoopConfig struct {
	// MaxRetries caps consecutive schema violations before the loop aborts.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// MaxTurns caps total loop iterations as a safety stop. 0 = unlimited.
	MaxTurns int `mapstructure:"max_turns" yaml:"max_turns"`
	// InitialProvider is the provider active at mission start.
	InitialProvider string `mapstructure:"initial_provider" yaml:"initial_provider"`
}

// HistoryConfig configures the context manager.
type HistoryConfig struct {
	// Window is K: how many recent turns are rendered verbatim.
	Window int `mapstructure:"window" yaml:"window"`
	// CompactionBudgetChars triggers compaction when the rendered context
	// would exceed it.
	CompactionBudgetChars int `mapstructure:"compaction_budget_chars" yaml:"compaction_budget_chars"`
	// UseModelSummaries routes compaction through the LLM summarizer;
	// disabled it falls back to the deterministic digest.
	UseModelSummaries bool `mapstructure:"use_model_summaries" yaml:"use_model_summaries"`
}

// MissionLogConfig selects and configures the append-only mission log sink.
type MissionLogConfig struct {
	// Sink is "file" or "postgres".
	Sink        string `mapstructure:"sink" yaml:"sink"`
	Path        string `mapstructure:"path" yaml:"path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// SetDefaults initializes default values for all configuration sections.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pilot-cli")
	v.SetDefault("logger.log_file", "pilot.log")
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
	v.SetDefault("logger.colors.fatal", "red")

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.requests_per_minute", 30)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36")
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.screenshot_dir", filepath.Join(os.TempDir(), "pilot-screenshots"))
	v.SetDefault("browser.max_body_chars", 20000)

	// -- Terminal --
	v.SetDefault("terminal.host", "localhost")
	v.SetDefault("terminal.port", 2222)
	v.SetDefault("terminal.user", "root")
	v.SetDefault("terminal.connect_timeout", "10s")
	v.SetDefault("terminal.command_timeout", "2m")
	v.SetDefault("terminal.max_output_chars", 30000)

	// -- Loop --
	v.SetDefault("loop.max_retries", 3)
	v.SetDefault("loop.max_turns", 0)
	v.SetDefault("loop.initial_provider", "terminal")

	// -- History --
	v.SetDefault("history.window", 10)
	v.SetDefault("history.compaction_budget_chars", 60000)
	v.SetDefault("history.use_model_summaries", true)

	// -- Mission log --
	v.SetDefault("mission_log.sink", "file")
	v.SetDefault("mission_log.path", "mission.jsonl")
	v.SetDefault("mission_log.postgres_url", "")
}

// New returns a Config populated with defaults only.
func New() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper unmarshals and validates the live viper state.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment, never the config file.
	v.BindEnv("llm.api_key", "PILOT_LLM_API_KEY")
	v.BindEnv("terminal.password", "PILOT_SSH_PASSWORD")

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

// expandPaths resolves "~" in user-supplied file paths.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.MissionLog.Path, &c.Browser.ScreenshotDir} {
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
	if c.Loop.MaxRetries <= 0 {
		return fmt.Errorf("loop.max_retries must be a positive integer")
	}
	if c.History.Window <= 0 {
		return fmt.Errorf("history.window must be a positive integer")
	}
	if c.History.CompactionBudgetChars <= 0 {
		return fmt.Errorf("history.compaction_budget_chars must be a positive integer")
	}
	switch c.MissionLog.Sink {
	case "file":
		if c.MissionLog.Path == "" {
			return fmt.Errorf("mission_log.path is required for the file sink")
		}
	case "postgres":
		if c.MissionLog.PostgresURL == "" {
			return fmt.Errorf("mission_log.postgres_url is required for the postgres sink")
		}
	default:
		return fmt.Errorf("mission_log.sink must be \"file\" or \"postgres\", got %q", c.MissionLog.Sink)
	}
	if c.Terminal.Port <= 0 || c.Terminal.Port > 65535 {
		return fmt.Errorf("terminal.port must be a valid TCP port")
	}
	return nil
}
