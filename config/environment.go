package config

import (
	"os"
	"strings"
)

// APP_ENV selects the per-environment config and snapshot plan files.
const appEnvVar = "APP_ENV"

const (
	envDevelopment = "development"
	envStaging     = "staging"
	envProduction  = "production"
)

var envAliases = map[string]string{
	"dev":         envDevelopment,
	"prod":        envProduction,
	"producation": envProduction,
	"stag":        envStaging,
	"stagging":    envStaging,
}

const (
	DefaultConfigPath = "config/config.yml"
	defaultPlanPath   = "config/snapshots.yml"
)

type envFileSet struct {
	config string
	plan   string
}

var envFiles = map[string]envFileSet{
	envProduction: {config: "config/config.production.yml", plan: "config/snapshots.production.yml"},
	envStaging:    {config: "config/config.staging.yml", plan: "config/snapshots.staging.yml"},
}

// AppEnvironment returns the canonical APP_ENV value, development when
// unset.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return envDevelopment
	}
	if canonical, ok := envAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike reports whether env refuses to start when a configured
// snapshot cannot be opened.
func IsProductionLike(env string) bool {
	return env == envProduction || env == envStaging
}

// resolveEnvSpecificPath swaps the default path for the environment's own
// file. Explicit paths are kept.
func resolveEnvSpecificPath(path, defaultPath, envPath string) string {
	if path == "" {
		path = defaultPath
	}
	if envPath != "" && path == defaultPath {
		return envPath
	}
	return path
}

// ResolveConfigPath resolves the main configuration file for APP_ENV.
func ResolveConfigPath(path string) string {
	return resolveEnvSpecificPath(path, DefaultConfigPath, envFiles[AppEnvironment()].config)
}

func resolvePlanPath(path string) string {
	return resolveEnvSpecificPath(path, defaultPlanPath, envFiles[AppEnvironment()].plan)
}
