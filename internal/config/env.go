package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvConfigPath      = "WAFSHIELD_CONFIG"
	EnvLogLevel        = "WAFSHIELD_LOG_LEVEL"
	EnvAPIAddr         = "WAFSHIELD_API_ADDR"
	EnvArtifactsSource = "WAFSHIELD_ARTIFACTS_SOURCE"
	EnvArtifactsDSN    = "WAFSHIELD_ARTIFACTS_DSN"
)

// LoadDotEnv reads .env files into the process environment. Missing files are ignored.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// ApplyEnv overrides config values from the environment and re-validates.
func ApplyEnv(cfg *Config) error {
	if v := getEnv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnv(EnvAPIAddr); v != "" {
		cfg.API.Addr = v
	}
	if v := getEnv(EnvArtifactsSource); v != "" {
		cfg.Artifacts.Source = v
	}
	if v := getEnv(EnvArtifactsDSN); v != "" {
		cfg.Artifacts.DSN = v
	}
	applyDefaults(cfg)
	return Validate(cfg)
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
