package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

type fakeUnit struct {
	filename string
	module   string
	source   string
}

func (u *fakeUnit) Filename() string   { return u.filename }
func (u *fakeUnit) ModuleName() string { return u.module }

// fakeLanguage compiles anything and delegates execution to exec.
type fakeLanguage struct {
	mu       sync.Mutex
	requests []ports.CompileRequest
	compile  func(req ports.CompileRequest) error
	exec     func(ctx context.Context, unit *fakeUnit, env *ports.Environment) (*ports.ExecResult, error)
}

func (f *fakeLanguage) Name() string         { return "fake" }
func (f *fakeLanguage) Extensions() []string { return []string{".fake"} }

func (f *fakeLanguage) Compile(req ports.CompileRequest) (ports.CodeUnit, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.compile != nil {
		if err := f.compile(req); err != nil {
			return nil, err
		}
	}
	return &fakeUnit{filename: req.Filename, module: req.ModuleName, source: req.Source}, nil
}

func (f *fakeLanguage) Execute(ctx context.Context, unit ports.CodeUnit, env *ports.Environment) (*ports.ExecResult, error) {
	if f.exec == nil {
		return &ports.ExecResult{}, nil
	}
	return f.exec(ctx, unit.(*fakeUnit), env)
}

func (f *fakeLanguage) lastRequest() ports.CompileRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// staticRenderer renders a recognisable string per template.
type staticRenderer struct {
	err error
}

func (s staticRenderer) RenderTemplate(name string, data any) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	fields := data.(map[string]any)
	return fmt.Sprintf("[%s] %s: %s", name, fields["type"], fields["message"]), nil
}

// recordingMetrics captures counter increments by name.
type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string][]map[string]string
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string][]map[string]string)
	}
	m.counters[name] = append(m.counters[name], labels)
}

func (m *recordingMetrics) SetGauge(context.Context, string, float64, map[string]string)         {}
func (m *recordingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// recordingEvents captures published event types.
type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (e *recordingEvents) Publish(_ context.Context, event ports.DomainEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, event.EventType())
	return nil
}

func (e *recordingEvents) Subscribe(string, ports.EventHandler) (ports.Subscription, error) {
	return nil, nil
}

type fixture struct {
	project *project.Project
	step    *project.Step
	lang    *fakeLanguage
	runner  *Runner
	stdout  *bytes.Buffer
	metrics *recordingMetrics
	events  *recordingEvents

	mu     sync.Mutex
	states []State
}

func (f *fixture) observed() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.states...)
}

func newFixture(t *testing.T, source string) *fixture {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "S01-step.fake"), []byte(source), 0o644))

	f := &fixture{
		project: project.New("demo", "Demo", dir, "", []string{"S01-step.fake"}),
		lang:    &fakeLanguage{},
		stdout:  &bytes.Buffer{},
		metrics: &recordingMetrics{},
		events:  &recordingEvents{},
	}
	f.step = f.project.Steps[0]

	runner, err := NewRunner(Options{
		Languages: NewRegistry(f.lang),
		Renderer:  staticRenderer{},
		Paths:     ports.Paths{InstallRoot: "/opt/kettle", ResourceRoot: "/opt/kettle/resources"},
		Stdout:    f.stdout,
		Metrics:   f.metrics,
		Events:    f.events,
		OnTransition: func(_ *project.Step, state State) {
			f.mu.Lock()
			f.states = append(f.states, state)
			f.mu.Unlock()
		},
	})
	require.NoError(t, err)
	f.runner = runner
	return f
}
