package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides read once at start.
const (
	EnvRealtimeURL   = "OPENAI_REALTIME_URL"
	EnvRealtimeModel = "OPENAI_REALTIME_MODEL"
	EnvBaseURL       = "OPENAI_BASE_URL"

	// DotEnvFile is loaded from the working directory before overrides apply.
	DotEnvFile = ".env"
)

// LoadDotEnv adds the variables in path to the process environment without
// replacing ones already set. A missing file is not an error.
func LoadDotEnv(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("load %s: %w", path, err)
	}
	return true, nil
}

// ApplyEnv copies the credential and endpoint overrides into cfg.
func ApplyEnv(cfg *Config) {
	if name := strings.TrimSpace(cfg.Upstream.APIKeyEnv); name != "" {
		cfg.APIKey = strings.TrimSpace(os.Getenv(name))
	}
	if v := strings.TrimSpace(os.Getenv(EnvRealtimeURL)); v != "" {
		cfg.Upstream.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRealtimeModel)); v != "" {
		cfg.Upstream.Model = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		cfg.Assistant.BaseURL = v
	}
}
