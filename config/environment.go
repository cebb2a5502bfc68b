package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath is the configuration file used when no -config flag is given.
const DefaultConfigPath = "config/config.yml"

const appEnvVar = "APP_ENV"

// Canonical APP_ENV values.
const (
	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"
)

var environmentAliases = map[string]string{
	"dev":   EnvironmentDevelopment,
	"stag":  EnvironmentStaging,
	"stage": EnvironmentStaging,
	"prod":  EnvironmentProduction,
}

// AppEnvironment returns the canonical APP_ENV value, development when unset.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike reports whether env should behave like a production deployment.
func IsProductionLike(env string) bool {
	return env == EnvironmentProduction || env == EnvironmentStaging
}

// environmentPath returns config.<env>.yml next to the default file. The
// development environment has no variant.
func environmentPath(defaultPath, env string) (string, bool) {
	if env == EnvironmentDevelopment {
		return "", false
	}
	ext := filepath.Ext(defaultPath)
	return strings.TrimSuffix(defaultPath, ext) + "." + env + ext, true
}

// resolveConfigPath picks the file to load. An explicit path other than the
// default is used as is; otherwise an existing environment variant wins.
func resolveConfigPath(path, defaultPath string) string {
	if path == "" {
		path = defaultPath
	}
	if path != defaultPath {
		return path
	}
	variant, ok := environmentPath(defaultPath, AppEnvironment())
	if !ok {
		return path
	}
	if _, err := os.Stat(variant); err != nil {
		return path
	}
	return variant
}
