package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
	// EnvFile is the .env file that was loaded, if any.
	EnvFile string
}

// Load resolves, reads, parses, and validates the runtime configuration, then
// applies .env and environment overrides.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath}
	content, err := os.ReadFile(resolvedPath)
	switch {
	case err == nil:
		cfg, warnings, perr := Parse(string(content), Default())
		if perr != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, perr)
		}
		loaded.Config = cfg
		loaded.Warnings = warnings
		loaded.Exists = true
	case errors.Is(err, os.ErrNotExist):
		loaded.Config = Default()
		loaded.Warnings = []Warning{{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		}}
	default:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	found, err := LoadDotEnv(DotEnvFile)
	if err != nil {
		loaded.Warnings = append(loaded.Warnings, Warning{Message: err.Error()})
	} else if found {
		loaded.EnvFile = DotEnvFile
	}
	ApplyEnv(&loaded.Config)

	return loaded, nil
}
