package main

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/alexisbeaulieu97/kettle/internal/app/notebook"
	"github.com/alexisbeaulieu97/kettle/internal/config"
	"github.com/alexisbeaulieu97/kettle/internal/engine"
	"github.com/alexisbeaulieu97/kettle/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/kettle/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/kettle/internal/infrastructure/metrics"
	lualang "github.com/alexisbeaulieu97/kettle/internal/languages/lua"
	starlarklang "github.com/alexisbeaulieu97/kettle/internal/languages/starlark"
	"github.com/alexisbeaulieu97/kettle/internal/ports"
	"github.com/alexisbeaulieu97/kettle/internal/templating"
)

// AppContext bundles long-lived services created at startup.
type AppContext struct {
	Settings config.HostSettings
	Logger   ports.Logger
	Events   *events.LoggingPublisher
	Metrics  *metrics.PrometheusCollector
	Runner   *engine.Runner
	Notebook *notebook.Service
}

type appOptions struct {
	Settings config.HostSettings
	Logger   ports.Logger
	Loader   engine.SourceLoader
	// Stdout receives step output.
	Stdout io.Writer
}

func newAppContext(opts appOptions) (*AppContext, error) {
	log := opts.Logger
	if log == nil {
		log = logging.NewNoOpLogger()
	}

	publisher := events.NewLoggingPublisher(log.With("component", "events"))
	collector := metrics.NewPrometheusCollector(log.With("component", "metrics"))

	templatesDir := ""
	if opts.Settings.ResourceRoot != "" {
		templatesDir = filepath.Join(opts.Settings.ResourceRoot, "templates")
	}

	runner, err := engine.NewRunner(engine.Options{
		Loader:    opts.Loader,
		Languages: engine.NewRegistry(starlarklang.New(), lualang.New()),
		Renderer:  templating.New(templatesDir),
		Paths:     opts.Settings.Paths(),
		Stdout:    opts.Stdout,
		Logger:    log.With("component", "runner"),
		Events:    publisher,
		Metrics:   collector,
	})
	if err != nil {
		return nil, err
	}

	svc := notebook.NewService(runner, notebook.Options{
		Logger:  log.With("component", "notebook"),
		Events:  publisher,
		Metrics: collector,
	})

	return &AppContext{
		Settings: opts.Settings,
		Logger:   log,
		Events:   publisher,
		Metrics:  collector,
		Runner:   runner,
		Notebook: svc,
	}, nil
}

func newLogger(settings config.HostSettings, root *rootFlags, w io.Writer) (*logging.Logger, error) {
	level := settings.LogLevel
	if root.verbose {
		level = "debug"
	}
	return logging.New(logging.Options{
		Writer:        w,
		Level:         level,
		HumanReadable: !root.jsonLogs,
		Layer:         "cli",
	})
}

// deferredLevel is the lowest level worth holding back during a live run.
func deferredLevel(settings config.HostSettings, root *rootFlags) zerolog.Level {
	if root.verbose {
		return zerolog.DebugLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(settings.LogLevel))
	if err != nil || settings.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}
