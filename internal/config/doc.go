// Package config loads the clashchain application configuration.
//
// Loading runs in a fixed order: .env files, ${VAR} expansion, YAML decode,
// version check, CLASHCHAIN_* environment overrides, normalization, domain
// default appliers and finally validation. Every failure is a classified error.
package config
