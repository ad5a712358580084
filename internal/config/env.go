package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// Environment variables that override configuration values.
const (
	EnvDataDir    = "CLASHCHAIN_DATA_DIR"
	EnvTunEnabled = "CLASHCHAIN_TUN_ENABLED"
	EnvLogLevel   = "CLASHCHAIN_LOG_LEVEL"
)

var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads .env and .env.local from the working directory when
// present. Variables already set in the process environment win.
func loadEnvFiles() {
	for _, name := range envFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		_ = godotenv.Load(name)
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTunEnabled)); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return ferrors.ValidationError("invalid boolean in environment").
				WithContext("variable", EnvTunEnabled).
				WithContext("value", v).
				Build()
		}
		cfg.Tun.Enabled = enabled
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = LogLevel(v)
	}
	return nil
}
