package config

import (
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/clashchain/internal/chain"
)

const (
	defaultDebounce      = 500 * time.Millisecond
	defaultMetricsAddr   = "127.0.0.1:9464"
	defaultNotifySubject = "clashchain.runs"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// PathsDefaultApplier fills the data directory and base config location.
type PathsDefaultApplier struct{}

func (PathsDefaultApplier) Domain() string { return "paths" }

func (PathsDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.DataDir = filepath.Join(dir, "clashchain")
		} else {
			cfg.DataDir = ".clashchain"
		}
	}
	if cfg.BaseConfig == "" {
		cfg.BaseConfig = DefaultBaseConfig
	}
	return nil
}

// ScriptDefaultApplier fills the script time bound and allow-list.
type ScriptDefaultApplier struct{}

func (ScriptDefaultApplier) Domain() string { return "script" }

func (ScriptDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Script.Timeout == "" {
		cfg.Script.Timeout = chain.DefaultScriptTimeout.String()
	}
	if len(cfg.Script.AllowedPackages) == 0 {
		cfg.Script.AllowedPackages = append([]string(nil), chain.DefaultAllowedPackages...)
	}
	return nil
}

// RuntimeDefaultApplier covers history, watch, metrics and notify.
type RuntimeDefaultApplier struct{}

func (RuntimeDefaultApplier) Domain() string { return "runtime" }

func (RuntimeDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.History.Path == "" {
		cfg.History.Path = HistoryFileName
	}
	if cfg.History.Keep < 0 {
		cfg.History.Keep = 0
	}
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = defaultDebounce.String()
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = defaultMetricsAddr
	}
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = defaultNotifySubject
	}
	return nil
}

// LoggingDefaultApplier fills the logging section.
type LoggingDefaultApplier struct{}

func (LoggingDefaultApplier) Domain() string { return "logging" }

func (LoggingDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogLevelInfo
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = LogFormatText
	}
	return nil
}

// DefaultApplierChain runs every domain applier in order.
type DefaultApplierChain struct {
	appliers []DefaultApplier
}

// NewDefaultApplier returns the applier chain used by Load.
func NewDefaultApplier() *DefaultApplierChain {
	return &DefaultApplierChain{appliers: []DefaultApplier{
		PathsDefaultApplier{},
		ScriptDefaultApplier{},
		RuntimeDefaultApplier{},
		LoggingDefaultApplier{},
	}}
}

func (c *DefaultApplierChain) ApplyDefaults(cfg *Config) error {
	for _, a := range c.appliers {
		if err := a.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(cfg *Config) error {
	return NewDefaultApplier().ApplyDefaults(cfg)
}

// normalizeConfig case-folds enumerations before defaults are applied.
func normalizeConfig(cfg *Config) {
	if cfg.Logging.Level != "" {
		cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	}
	if cfg.Logging.Format != "" {
		cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	}
}
