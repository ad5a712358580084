package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/clashchain/internal/chain"
	"git.home.luguber.info/inful/clashchain/internal/document"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/retry"
)

// CurrentVersion is the only configuration format version Load accepts.
const CurrentVersion = "1"

// DefaultPath is the configuration file looked up when -c is not given.
const DefaultPath = "clashchain.yaml"

// File names inside the data directory and the temp directory.
const (
	RunFileName       = "clash-verge.yaml"
	CheckFileName     = "clash-verge-check.yaml"
	ProfilesIndexName = "profiles.yaml"
	ProfilesDirName   = "profiles"
	HistoryFileName   = "history.db"
	DefaultBaseConfig = "clash.yaml"
)

// Config is the application configuration.
type Config struct {
	Version    string `yaml:"version"`
	DataDir    string `yaml:"data_dir"`
	BaseConfig string `yaml:"base_config"` // relative to data_dir unless absolute

	Tun    TunConfig    `yaml:"tun"`
	Script ScriptConfig `yaml:"script"`
	// Defaults are merged underneath every generated document. Kept as a node
	// so key order survives into the output.
	Defaults yaml.Node `yaml:"defaults,omitempty"`

	History HistoryConfig `yaml:"history"`
	Watch   WatchConfig   `yaml:"watch"`
	Metrics MetricsConfig `yaml:"metrics"`
	Notify  NotifyConfig  `yaml:"notify"`
	Logging LoggingConfig `yaml:"logging"`

	path string
}

// TunConfig holds the tun toggle consumed by the built-in tun unit.
type TunConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ScriptConfig bounds script units.
type ScriptConfig struct {
	Timeout         string   `yaml:"timeout"`
	AllowedPackages []string `yaml:"allowed_packages,omitempty"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
	// Keep is the number of runs retained; 0 keeps everything.
	Keep int `yaml:"keep,omitempty"`
}

// WatchConfig controls the watch daemon.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
	// Interval enables periodic regeneration when non-empty.
	Interval string `yaml:"interval,omitempty"`
}

// MetricsConfig controls the Prometheus listener of the watch daemon.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// NotifyConfig publishes run summaries to NATS when URL is set.
type NotifyConfig struct {
	URL     string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject"`
	// Backoff and MaxRetries shape the retries of a failed publish.
	Backoff    string `yaml:"backoff,omitempty"`
	MaxRetries *int   `yaml:"max_retries,omitempty"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string { return c.path }

func (c *Config) inDataDir(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// BaseConfigPath is the user's base Clash configuration.
func (c *Config) BaseConfigPath() string { return c.inDataDir(c.BaseConfig) }

// RunFilePath is where the runtime configuration is written for the proxy core.
func (c *Config) RunFilePath() string { return filepath.Join(c.DataDir, RunFileName) }

// CheckFilePath is the scratch destination used by check.
func (c *Config) CheckFilePath() string { return filepath.Join(os.TempDir(), CheckFileName) }

// ProfilesIndexPath is the profile index file.
func (c *Config) ProfilesIndexPath() string { return filepath.Join(c.DataDir, ProfilesIndexName) }

// ProfilesDir holds one source file per profile item.
func (c *Config) ProfilesDir() string { return filepath.Join(c.DataDir, ProfilesDirName) }

// HistoryEnabled reports whether runs are recorded. History is on unless
// explicitly disabled.
func (c *Config) HistoryEnabled() bool {
	return c.History.Enabled == nil || *c.History.Enabled
}

// HistoryPath is the SQLite database file.
func (c *Config) HistoryPath() string { return c.inDataDir(c.History.Path) }

// Flags returns the toggles consumed by the built-in units.
func (c *Config) Flags() chain.Flags {
	return chain.Flags{TunEnabled: c.Tun.Enabled}
}

// ScriptTimeout returns the parsed script time bound.
func (c *Config) ScriptTimeout() time.Duration {
	d, err := time.ParseDuration(c.Script.Timeout)
	if err != nil || d <= 0 {
		return chain.DefaultScriptTimeout
	}
	return d
}

// ScriptOptions returns the options handed to every script unit.
func (c *Config) ScriptOptions() chain.ScriptOptions {
	return chain.ScriptOptions{Timeout: c.ScriptTimeout(), AllowedPackages: c.Script.AllowedPackages}
}

// NotifyRetryPolicy returns the backoff used when publishing a run event fails.
func (c *Config) NotifyRetryPolicy() retry.Policy {
	mode, _ := retry.ParseMode(c.Notify.Backoff)
	retries := -1
	if c.Notify.MaxRetries != nil {
		retries = *c.Notify.MaxRetries
	}
	return retry.NewPolicy(mode, 0, 0, retries)
}

// WatchDebounce returns the parsed debounce delay.
func (c *Config) WatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return defaultDebounce
	}
	return d
}

// WatchInterval returns the periodic regeneration interval, or 0 when disabled.
func (c *Config) WatchInterval() time.Duration {
	if c.Watch.Interval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Watch.Interval)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// DefaultsDocument returns the structural defaults as a document.
func (c *Config) DefaultsDocument() (*document.Document, error) {
	if c.Defaults.Kind == 0 {
		return document.New(), nil
	}
	if c.Defaults.Kind == yaml.ScalarNode && c.Defaults.ShortTag() == "!!null" {
		return document.New(), nil
	}
	doc, err := document.FromNode(&c.Defaults)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid defaults section").Build()
	}
	return doc, nil
}

// Load reads, normalizes, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", configPath).
				WithContext("hint", "run 'clashchain init' to create one").
				Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read config file").
			WithContext("path", configPath).
			Build()
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, err
	}
	cfg.path = configPath

	if cfg.DataDir != "" && !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(filepath.Dir(configPath), cfg.DataDir)
	}
	return cfg, nil
}

// Parse decodes configuration YAML without touching the filesystem or .env files.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse configuration").Build()
	}
	if cfg.Version != CurrentVersion {
		return nil, ferrors.ConfigError("unsupported configuration version").
			WithContext("version", cfg.Version).
			WithContext("expected", CurrentVersion).
			Build()
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	normalizeConfig(&cfg)
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	normalizeConfig(cfg)
	_ = applyDefaults(cfg)
	return cfg
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.AlreadyExistsError("configuration file already exists").
			WithContext("path", configPath).
			WithContext("hint", "use --force to overwrite").
			Build()
	}

	example := Config{
		Version:    CurrentVersion,
		DataDir:    "./data",
		BaseConfig: DefaultBaseConfig,
		Tun:        TunConfig{Enabled: false},
		Script:     ScriptConfig{Timeout: chain.DefaultScriptTimeout.String()},
		History:    HistoryConfig{Path: HistoryFileName, Keep: 200},
		Watch:      WatchConfig{Debounce: defaultDebounce.String()},
		Metrics:    MetricsConfig{Enabled: false, ListenAddr: defaultMetricsAddr},
		Notify:     NotifyConfig{URL: "${CLASHCHAIN_NATS_URL}", Subject: defaultNotifySubject},
		Logging:    LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
		Defaults:   *exampleDefaults(),
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal example configuration").Build()
	}
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create config directory").
				WithContext("path", dir).
				Build()
		}
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write configuration").
			WithContext("path", configPath).
			Build()
	}
	return nil
}

// exampleDefaults is an ordered mapping of common Clash settings.
func exampleDefaults() *yaml.Node {
	pairs := [][2]string{
		{"mixed-port", "7890"},
		{"allow-lan", "false"},
		{"mode", "rule"},
		{"log-level", "info"},
		{"external-controller", "127.0.0.1:9090"},
	}
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range pairs {
		v := &yaml.Node{Kind: yaml.ScalarNode, Value: p[1]}
		switch p[1] {
		case "7890":
			v.Tag = "!!int"
		case "false":
			v.Tag = "!!bool"
		default:
			v.Tag = "!!str"
		}
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p[0]}, v)
	}
	return m
}
