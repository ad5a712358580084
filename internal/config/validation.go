package config

import (
	"time"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/retry"
)

// ValidateConfig checks a defaulted configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.DataDir == "" {
		return ferrors.ValidationError("data_dir must not be empty").Build()
	}
	if err := validateDuration("script.timeout", cfg.Script.Timeout); err != nil {
		return err
	}
	if err := validateDuration("watch.debounce", cfg.Watch.Debounce); err != nil {
		return err
	}
	if cfg.Watch.Interval != "" {
		if err := validateDuration("watch.interval", cfg.Watch.Interval); err != nil {
			return err
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		return ferrors.ValidationError("metrics.listen_addr is required when metrics are enabled").Build()
	}
	if cfg.Notify.Backoff != "" {
		if _, err := retry.ParseMode(cfg.Notify.Backoff); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryValidation, "invalid notify.backoff").
				WithContext("value", cfg.Notify.Backoff).
				Build()
		}
	}
	if cfg.Notify.MaxRetries != nil && *cfg.Notify.MaxRetries < 0 {
		return ferrors.ValidationError("notify.max_retries cannot be negative").Build()
	}
	if _, err := cfg.DefaultsDocument(); err != nil {
		return err
	}
	return nil
}

func validateDuration(field, raw string) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return ferrors.ValidationError("invalid duration").
			WithContext("field", field).
			WithContext("value", raw).
			Build()
	}
	if d <= 0 {
		return ferrors.ValidationError("duration must be positive").
			WithContext("field", field).
			WithContext("value", raw).
			Build()
	}
	return nil
}
