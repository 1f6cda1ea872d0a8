package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// Environment variables read by LoadHostSettings.
const (
	EnvInstallRoot   = "KETTLE_INSTALL_ROOT"
	EnvResourceRoot  = "KETTLE_RESOURCE_ROOT"
	EnvLogLevel      = "KETTLE_LOG_LEVEL"
	EnvTesting       = "KETTLE_TESTING"
	EnvDropResources = "KETTLE_DROP_RESOURCE_FRAMES"
	EnvMetricsFile   = "KETTLE_METRICS_FILE"
)

// HostSettings configure the engine process rather than a single project.
type HostSettings struct {
	InstallRoot        string
	ResourceRoot       string
	DropResourceFrames bool
	LogLevel           string
	// Testing forces testing mode for every project.
	Testing bool
	// MetricsFile, when set, receives a Prometheus textfile after each run.
	MetricsFile string
}

// Paths returns the sanitizer roots.
func (s HostSettings) Paths() ports.Paths {
	return ports.Paths{
		InstallRoot:        s.InstallRoot,
		ResourceRoot:       s.ResourceRoot,
		DropResourceFrames: s.DropResourceFrames,
	}
}

// DefaultHostSettings derives the install root from the running executable:
// the binary lives in <install>/bin, resources in <install>/resources.
func DefaultHostSettings() HostSettings {
	install := ""
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		install = filepath.Dir(filepath.Dir(exe))
	}
	settings := HostSettings{
		InstallRoot: install,
		LogLevel:    "info",
	}
	if install != "" {
		settings.ResourceRoot = filepath.Join(install, "resources")
	}
	return settings
}

// LoadHostSettings starts from DefaultHostSettings and applies KETTLE_*
// variables. envFile, when non-empty, is loaded first with godotenv; variables
// already present in the process environment win over the file. A missing
// envFile is not an error.
func LoadHostSettings(envFile string) (HostSettings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return HostSettings{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	return applyEnv(DefaultHostSettings(), os.LookupEnv)
}

func applyEnv(settings HostSettings, lookup func(string) (string, bool)) (HostSettings, error) {
	if v, ok := lookup(EnvInstallRoot); ok && v != "" {
		settings.InstallRoot = filepath.Clean(v)
		settings.ResourceRoot = filepath.Join(settings.InstallRoot, "resources")
	}
	if v, ok := lookup(EnvResourceRoot); ok && v != "" {
		settings.ResourceRoot = filepath.Clean(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup(EnvMetricsFile); ok {
		settings.MetricsFile = v
	}

	var err error
	if settings.Testing, err = boolEnv(lookup, EnvTesting, settings.Testing); err != nil {
		return HostSettings{}, err
	}
	if settings.DropResourceFrames, err = boolEnv(lookup, EnvDropResources, settings.DropResourceFrames); err != nil {
		return HostSettings{}, err
	}
	return settings, nil
}

func boolEnv(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}
