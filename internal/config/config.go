// Package config loads uigen settings from defaults, an optional YAML file, .env files
// and UIGEN_* environment variables, in increasing order of precedence. Command-line
// flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/manash/uigen/internal/events"
	"github.com/manash/uigen/internal/history"
	"github.com/manash/uigen/internal/keys"
	"github.com/manash/uigen/internal/logging"
	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/internal/provider/remote"
	"github.com/manash/uigen/internal/waiter"
	"github.com/manash/uigen/pkg/models"
)

const EnvPrefix = "UIGEN"

type Config struct {
	APIKey         string        `mapstructure:"api_key"`
	Profile        string        `mapstructure:"profile"`
	BaseURL        string        `mapstructure:"base_url"`
	EventsURL      string        `mapstructure:"events_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Strategy       string        `mapstructure:"strategy"`
	Frameworks     []string      `mapstructure:"frameworks"`
	OpenBrowser    bool          `mapstructure:"open_browser"`
	Verbose        bool          `mapstructure:"verbose"`

	Wait    WaitConfig    `mapstructure:"wait"`
	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`

	// ConfigDir holds keys.json and the history database.
	ConfigDir string `mapstructure:"-"`
	// ConfigFile is the file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

type WaitConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	GraceAttempts    int           `mapstructure:"grace_attempts"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ResubscribeDelay time.Duration `mapstructure:"resubscribe_delay"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	SentryDSN   string `mapstructure:"sentry_dsn"`
	Environment string `mapstructure:"environment"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoadOptions struct {
	// ConfigFile is an explicit config path. It must exist when set.
	ConfigFile string
	// DotEnvFiles are loaded before reading the environment. Missing files are skipped.
	DotEnvFiles []string
	// Getenv resolves the config directory. Defaults to os.Getenv.
	Getenv func(string) string
}

func setDefaults(v *viper.Viper) {
	policy := waiter.DefaultPolicy()

	v.SetDefault("api_key", "")
	v.SetDefault("profile", keys.DefaultProfile)
	v.SetDefault("base_url", remote.DefaultBaseURL)
	v.SetDefault("events_url", "")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("strategy", string(waiter.StrategyPoll))
	v.SetDefault("frameworks", frameworkNames(models.ValidFrameworks()))
	v.SetDefault("open_browser", true)
	v.SetDefault("verbose", false)

	v.SetDefault("wait.poll_interval", policy.PollInterval)
	v.SetDefault("wait.max_attempts", policy.MaxAttempts)
	v.SetDefault("wait.grace_attempts", policy.GraceAttempts)
	v.SetDefault("wait.timeout", policy.Timeout)
	v.SetDefault("wait.resubscribe_delay", policy.ResubscribeDelay)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.sentry_dsn", "")
	v.SetDefault("log.environment", "production")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
}

// Load layers defaults, the YAML config file, .env files and UIGEN_ environment
// variables, in increasing priority. It does not validate.
func Load(opts LoadOptions) (*Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	for _, f := range opts.DotEnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	configDir, err := keys.ConfigDir(getenv)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigDir = configDir
	cfg.ConfigFile = v.ConfigFileUsed()
	if cfg.History.Path == "" {
		cfg.History.Path = history.DefaultDBPath(configDir)
	}

	return &cfg, nil
}

// Validate checks enums, the framework allow-list and the wait bounds.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an http(s) URL, got %q", c.BaseURL)
	}

	if c.EventsURL != "" {
		u, err := url.Parse(c.EventsURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("events_url must be a ws(s) URL, got %q", c.EventsURL)
		}
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}

	if !waiter.Strategy(c.Strategy).IsValid() {
		return fmt.Errorf("unknown strategy %q: must be one of %v", c.Strategy, waiter.ValidStrategies())
	}

	if len(c.Frameworks) == 0 {
		return fmt.Errorf("frameworks must list at least one of %v", models.ValidFrameworks())
	}
	for _, f := range c.Frameworks {
		if !models.Framework(f).IsValid() {
			return fmt.Errorf("%w in frameworks: %q not in %v", models.ErrInvalidFramework, f, models.ValidFrameworks())
		}
	}

	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("wait: %w", err)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// RequireAPIKey fails when no credential is configured.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: set %s_API_KEY or run 'uigen keys set'", provider.ErrAPIKeyRequired, EnvPrefix)
	}
	return nil
}

// Policy converts the wait section for the waiter package.
func (c *Config) Policy() waiter.Policy {
	return waiter.Policy{
		PollInterval:     c.Wait.PollInterval,
		MaxAttempts:      c.Wait.MaxAttempts,
		GraceAttempts:    c.Wait.GraceAttempts,
		Timeout:          c.Wait.Timeout,
		ResubscribeDelay: c.Wait.ResubscribeDelay,
	}
}

func (c *Config) AllowedFrameworks() []models.Framework {
	out := make([]models.Framework, 0, len(c.Frameworks))
	for _, f := range c.Frameworks {
		out = append(out, models.Framework(f))
	}
	return out
}

// ProviderConfig returns the remote client settings.
func (c *Config) ProviderConfig() *provider.Config {
	return &provider.Config{
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		TimeoutSec: int(c.RequestTimeout / time.Second),
		Verbose:    c.Verbose,
	}
}

// EventsEndpoint is events_url, or the event path derived from base_url.
func (c *Config) EventsEndpoint() (string, error) {
	if c.EventsURL != "" {
		return c.EventsURL, nil
	}
	return events.URLFromBase(c.BaseURL)
}

func (c *Config) LoggingOptions(release string) logging.Options {
	return logging.Options{
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		SentryDSN:   c.Log.SentryDSN,
		Environment: c.Log.Environment,
		Release:     release,
	}
}

// DefaultConfigPath is where Load looks when no --config is given.
func (c *Config) DefaultConfigPath() string {
	return filepath.Join(c.ConfigDir, "config.yaml")
}

type dumpView struct {
	APIKey         string   `yaml:"api_key"`
	Profile        string   `yaml:"profile"`
	BaseURL        string   `yaml:"base_url"`
	EventsURL      string   `yaml:"events_url"`
	RequestTimeout string   `yaml:"request_timeout"`
	Strategy       string   `yaml:"strategy"`
	Frameworks     []string `yaml:"frameworks"`
	OpenBrowser    bool     `yaml:"open_browser"`
	Verbose        bool     `yaml:"verbose"`
	Wait           struct {
		PollInterval     string `yaml:"poll_interval"`
		MaxAttempts      int    `yaml:"max_attempts"`
		GraceAttempts    int    `yaml:"grace_attempts"`
		Timeout          string `yaml:"timeout"`
		ResubscribeDelay string `yaml:"resubscribe_delay"`
	} `yaml:"wait"`
	Log struct {
		Level       string `yaml:"level"`
		Format      string `yaml:"format"`
		SentryDSN   string `yaml:"sentry_dsn"`
		Environment string `yaml:"environment"`
	} `yaml:"log"`
	History struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"history"`
}

// Dump writes the effective configuration as YAML with secrets masked.
func (c *Config) Dump(w io.Writer) error {
	var d dumpView
	d.APIKey = keys.MaskKey(c.APIKey)
	d.Profile = c.Profile
	d.BaseURL = c.BaseURL
	d.EventsURL = c.EventsURL
	d.RequestTimeout = c.RequestTimeout.String()
	d.Strategy = c.Strategy
	d.Frameworks = c.Frameworks
	d.OpenBrowser = c.OpenBrowser
	d.Verbose = c.Verbose
	d.Wait.PollInterval = c.Wait.PollInterval.String()
	d.Wait.MaxAttempts = c.Wait.MaxAttempts
	d.Wait.GraceAttempts = c.Wait.GraceAttempts
	d.Wait.Timeout = c.Wait.Timeout.String()
	d.Wait.ResubscribeDelay = c.Wait.ResubscribeDelay.String()
	d.Log.Level = c.Log.Level
	d.Log.Format = c.Log.Format
	if c.Log.SentryDSN != "" {
		d.Log.SentryDSN = "[REDACTED]"
	}
	d.Log.Environment = c.Log.Environment
	d.History.Enabled = c.History.Enabled
	d.History.Path = c.History.Path

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&d); err != nil {
		return err
	}
	return enc.Close()
}

func frameworkNames(list []models.Framework) []string {
	out := make([]string, len(list))
	for i, f := range list {
		out[i] = string(f)
	}
	return out
}
