package notebook

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/engine"
	"github.com/alexisbeaulieu97/kettle/internal/infrastructure/events"
	lualang "github.com/alexisbeaulieu97/kettle/internal/languages/lua"
	starlarklang "github.com/alexisbeaulieu97/kettle/internal/languages/starlark"
	"github.com/alexisbeaulieu97/kettle/internal/ports"
	"github.com/alexisbeaulieu97/kettle/internal/status"
	"github.com/alexisbeaulieu97/kettle/internal/templating"
	kettleerrors "github.com/alexisbeaulieu97/kettle/pkg/errors"
)

type scriptedRunner struct {
	mu       sync.Mutex
	outcomes map[string]*engine.Outcome
	errs     map[string]error
	calls    []string
}

func (r *scriptedRunner) Run(_ context.Context, _ *engine.ExecutionContext, _ *project.Project, step *project.Step) (*engine.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, step.Name)
	if err, ok := r.errs[step.Name]; ok {
		return nil, err
	}
	if outcome, ok := r.outcomes[step.Name]; ok {
		return outcome, nil
	}
	return &engine.Outcome{Success: true, State: engine.StateCompleted}, nil
}

type recordingMetrics struct {
	ports.NoOpMetrics
	mu       sync.Mutex
	counters []map[string]string
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == ports.MetricProjectRuns {
		m.counters = append(m.counters, labels)
	}
}

func failedOutcome(kind string) *engine.Outcome {
	return &engine.Outcome{
		Success: false,
		State:   engine.StateFailed,
		Failure: &engine.FailureRecord{Type: kind, Message: "boom"},
	}
}

func newProject(t *testing.T, continueOnError bool) *project.Project {
	t.Helper()
	p := project.New("demo", "Demo", t.TempDir(), "", []string{"S01.star", "S02.star", "S03.star"})
	p.Settings.ContinueOnError = continueOnError
	return p
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{outcomes: map[string]*engine.Outcome{"S02.star": failedOutcome("ValueError")}}
	metrics := &recordingMetrics{}
	svc := NewService(runner, Options{Metrics: metrics})

	var observed []string
	result, err := svc.Run(context.Background(), Request{
		Project:      newProject(t, false),
		OnStepResult: func(sr StepResult) { observed = append(observed, sr.Step.Name+":"+sr.Status().String()) },
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, []string{"S01.star", "S02.star"}, runner.calls)
	assert.Equal(t, []string{"S01.star:success", "S02.star:failed", "S03.star:pending"}, observed)
	assert.Equal(t, Counts{Completed: 1, Failed: 1, Skipped: 1}, result.Counts())
	require.Len(t, result.Failures(), 1)
	assert.Equal(t, "S02.star", result.Failures()[0].Step.Name)
	assert.Equal(t, []map[string]string{{"status": "failure"}}, metrics.counters)
}

func TestRunContinuesOnError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name            string
		projectSetting  bool
		requestOverride bool
	}{
		{name: "project setting", projectSetting: true},
		{name: "request override", requestOverride: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runner := &scriptedRunner{outcomes: map[string]*engine.Outcome{"S01.star": failedOutcome("KeyError")}}
			svc := NewService(runner, Options{})

			result, err := svc.Run(context.Background(), Request{
				Project:         newProject(t, tc.projectSetting),
				ContinueOnError: tc.requestOverride,
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"S01.star", "S02.star", "S03.star"}, runner.calls)
			assert.False(t, result.Success)
			assert.Equal(t, Counts{Completed: 2, Failed: 1}, result.Counts())
		})
	}
}

func TestRunAbortAlwaysStops(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{outcomes: map[string]*engine.Outcome{
		"S01.star": {Success: false, State: engine.StateAborted},
	}}
	svc := NewService(runner, Options{})

	result, err := svc.Run(context.Background(), Request{Project: newProject(t, true)})
	require.NoError(t, err)
	assert.Equal(t, []string{"S01.star"}, runner.calls)
	assert.Equal(t, Counts{Aborted: 1, Skipped: 2}, result.Counts())
	assert.False(t, result.Success)
}

func TestRunAggregatesLoadErrors(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{errs: map[string]error{
		"S01.star": kettleerrors.NewLoadError("S01.star", os.ErrNotExist),
		"S03.star": kettleerrors.NewLoadError("S03.star", os.ErrPermission),
	}}
	svc := NewService(runner, Options{})

	result, err := svc.Run(context.Background(), Request{Project: newProject(t, true)})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Equal(t, Counts{Completed: 1, Failed: 2}, result.Counts())
}

func TestRunSkipsRemainingStepsAfterCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &scriptedRunner{}
	result, err := NewService(runner, Options{}).Run(ctx, Request{Project: newProject(t, false)})
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
	assert.Equal(t, Counts{Skipped: 3}, result.Counts())
	assert.False(t, result.Success)
}

func TestRunSelection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		req     Request
		want    []string
		wantErr string
	}{
		{name: "only", req: Request{Only: "S02.star"}, want: []string{"S02.star"}},
		{name: "from", req: Request{From: "S02.star"}, want: []string{"S02.star", "S03.star"}},
		{name: "unknown step", req: Request{Only: "S09.star"}, wantErr: "S09.star"},
		{name: "only and from", req: Request{Only: "S01.star", From: "S02.star"}, wantErr: "cannot be combined"},
		{name: "dirty without state", req: Request{OnlyDirty: true}, wantErr: "requires run state"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runner := &scriptedRunner{}
			req := tc.req
			req.Project = newProject(t, false)
			_, err := NewService(runner, Options{}).Run(context.Background(), req)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, runner.calls)
		})
	}
}

func TestRunRecordsStateAndRunsOnlyDirtySteps(t *testing.T) {
	t.Parallel()

	p := newProject(t, true)
	for _, step := range p.Steps {
		require.NoError(t, os.WriteFile(step.SourcePath, []byte("x = 1\n"), 0o644))
	}
	store, err := status.Open(p.Directory, p.ID)
	require.NoError(t, err)

	now := time.Now().Add(time.Hour)
	runner := &scriptedRunner{outcomes: map[string]*engine.Outcome{"S02.star": failedOutcome("ValueError")}}
	svc := NewService(runner, Options{Now: func() time.Time { return now }})

	_, err = svc.Run(context.Background(), Request{Project: p, Store: store})
	require.NoError(t, err)

	reloaded, err := status.Open(p.Directory, p.ID)
	require.NoError(t, err)
	state, ok := reloaded.Get("S02.star")
	require.True(t, ok)
	assert.Equal(t, status.StatusFailed, state.Status)
	assert.Equal(t, "ValueError", state.ErrorType)
	assert.True(t, now.Equal(state.LastRun))

	runner.calls = nil
	_, err = svc.Run(context.Background(), Request{Project: p, Store: reloaded, OnlyDirty: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"S02.star"}, runner.calls)
}

func TestRunPublishesProjectEvents(t *testing.T) {
	t.Parallel()

	publisher := events.NewLoggingPublisher(nil)
	var mu sync.Mutex
	var seen []string
	_, err := publisher.Subscribe(ports.AllEvents, func(_ context.Context, event ports.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.EventType())
		return nil
	})
	require.NoError(t, err)

	svc := NewService(&scriptedRunner{}, Options{Events: publisher})
	result, err := svc.Run(context.Background(), Request{Project: newProject(t, false)})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{ports.EventProjectStarted, ports.EventProjectCompleted}, seen)
}

func TestRunWithEngine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := map[string]string{
		"S01-setup.star": "total = 40 + 2\nprint('total', total)\n",
		"S02-check.lua":  "print('lua ok')\n",
		"S03-fail.star":  "ValueError('bad input')\n",
		"S04-after.star": "print('never')\n",
	}
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	p := project.New("demo", "Demo", dir, "", []string{"S01-setup.star", "S02-check.lua", "S03-fail.star", "S04-after.star"})
	p.Settings.Testing = true

	stdout := &bytes.Buffer{}
	runner, err := engine.NewRunner(engine.Options{
		Languages: engine.NewRegistry(starlarklang.New(), lualang.New()),
		Renderer:  templating.New(""),
		Stdout:    stdout,
	})
	require.NoError(t, err)

	result, err := NewService(runner, Options{}).Run(context.Background(), Request{Project: p})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, Counts{Completed: 2, Failed: 1, Skipped: 1}, result.Counts())
	assert.Equal(t, "total 42\nlua ok\n", stdout.String())
	assert.Equal(t, int64(42), p.Steps[0].TestLocals["total"])

	failure := result.Failures()[0]
	require.NotNil(t, failure.Outcome.Failure)
	assert.Equal(t, "ValueError", failure.Outcome.Failure.Type)
	assert.Contains(t, failure.Outcome.Message, "bad input")
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, status.StatusSuccess, StatusOf(engine.StateCompleted))
	assert.Equal(t, status.StatusAborted, StatusOf(engine.StateAborted))
	assert.Equal(t, status.StatusFailed, StatusOf(engine.StateFailed))
	assert.Equal(t, status.StatusPending, StatusOf(engine.StateIdle))
	assert.Equal(t, status.StatusRunning, StatusOf(engine.StateExecuting))
	assert.Equal(t, status.StatusFailed, StepResult{Err: errors.New("x")}.Status())
}
