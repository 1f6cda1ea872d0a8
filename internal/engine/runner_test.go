package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/ports"
	kettleerrors "github.com/alexisbeaulieu97/kettle/pkg/errors"
)

func TestRunCompletesAndFlushesOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "print('hi')\n")
	f.lang.exec = func(_ context.Context, _ *fakeUnit, env *ports.Environment) (*ports.ExecResult, error) {
		require.NoError(t, env.Display.Text("hi\n"))
		return &ports.ExecResult{}, nil
	}
	wc := NewExecutionContext()

	outcome, err := f.runner.Run(context.Background(), wc, f.project, f.step)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, StateCompleted, outcome.State)
	require.Nil(t, outcome.Failure)
	require.Empty(t, outcome.Message)
	require.Equal(t, "hi\n", f.stdout.String())
	require.False(t, wc.IsExecuting())
	require.Equal(t, []State{StateLoading, StateCompiling, StateExecuting, StateCompleted}, f.observed())
	require.Equal(t, []string{ports.EventStepStarted, ports.EventStepCompleted}, f.events.types)
	require.Equal(t, "completed", f.metrics.counters[ports.MetricStepExecutions][0]["state"])
}

func TestRunAppendsFooterAndSeedsNamespace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "x = 1\n")
	var env *ports.Environment
	f.lang.exec = func(_ context.Context, _ *fakeUnit, e *ports.Environment) (*ports.ExecResult, error) {
		env = e
		return nil, nil
	}

	_, err := f.runner.Run(context.Background(), NewExecutionContext(), f.project, f.step)
	require.NoError(t, err)

	req := f.lang.lastRequest()
	require.Equal(t, "x = 1\n"+Footer, req.Source)
	require.Equal(t, f.step.SourcePath, req.Filename)
	require.Equal(t, "S01-step", req.ModuleName)
	require.Equal(t, f.step.SourcePath, env.File)
	require.Equal(t, "demo.S01-step", env.Package)
	require.Equal(t, f.project.SourceDirectory, env.SourceRoot)
}

func TestRunReportsCompileFailureAgainstOriginalSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "def f(:\n  pass\n")
	f.lang.compile = func(req ports.CompileRequest) error {
		return &ports.CompileError{Filename: req.Filename, LineNumber: 1, Message: "got '(' want parameter"}
	}
	wc := NewExecutionContext()

	outcome, err := f.runner.Run(context.Background(), wc, f.project, f.step)
	require.NoError(t, err)
	require.False(t, outcome.Success)
	require.Equal(t, StateFailed, outcome.State)
	require.Equal(t, ports.SyntaxErrorKind, outcome.Failure.Type)
	require.Len(t, outcome.Failure.Stack, 1)
	frame := outcome.Failure.Stack[0]
	require.Equal(t, "S01-step.fake", frame.Filename)
	require.Equal(t, 1, frame.LineNumber)
	require.Equal(t, "def f(:", frame.Line)
	require.Empty(t, frame.Location)
	require.Equal(t, "[user-code-error.txt] SyntaxError: got '(' want parameter", outcome.Message)
	require.Equal(t, "[user-code-error.html] SyntaxError: got '(' want parameter", outcome.HTMLMessage)
	require.False(t, wc.IsExecuting())
	require.NotContains(t, f.observed(), StateExecuting)
}

func TestRunAttributesFooterSyntaxErrorsToLastUserLine(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "x = 1\ny = [1, 2\n")
	f.lang.compile = func(req ports.CompileRequest) error {
		return &ports.CompileError{Filename: req.Filename, LineNumber: 5, Message: "unexpected EOF"}
	}

	outcome, err := f.runner.Run(context.Background(), NewExecutionContext(), f.project, f.step)
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Failure.Stack[0].LineNumber)
	require.Equal(t, "y = [1, 2", outcome.Failure.Stack[0].Line)
}

func TestRunPreCheckAbortsBeforeUserCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "print('never')\n")
	ran := false
	f.lang.exec = func(context.Context, *fakeUnit, *ports.Environment) (*ports.ExecResult, error) {
		ran = true
		return nil, nil
	}
	wc := NewExecutionContext()
	wc.RequestAbort()

	outcome, err := f.runner.Run(context.Background(), wc, f.project, f.step)
	require.NoError(t, err)
	require.False(t, ran)
	require.False(t, outcome.Success)
	require.Equal(t, StateAborted, outcome.State)
	require.Empty(t, outcome.Message)
	require.Empty(t, outcome.HTMLMessage)
	require.Nil(t, outcome.Failure)
	require.False(t, wc.IsExecuting())
	require.False(t, wc.AbortRequested())
	require.Contains(t, f.events.types, ports.EventStepAborted)
}

func TestRunCheckpointAbortDuringExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "loop()\n")
	wc := NewExecutionContext()
	f.lang.exec = func(_ context.Context, _ *fakeUnit, env *ports.Environment) (*ports.ExecResult, error) {
		require.True(t, wc.IsExecuting())
		wc.RequestAbort()
		if err := env.Checkpoint(); err != nil {
			return nil, fmt.Errorf("breathe: %w", err)
		}
		return nil, nil
	}

	outcome, err := f.runner.Run(context.Background(), wc, f.project, f.step)
	require.NoError(t, err)
	require.False(t, outcome.Success)
	require.Equal(t, StateAborted, outcome.State)
	require.False(t, wc.IsExecuting())
}

func TestRunUserAbortIsSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "step.stop()\n")
	f.lang.exec = func(context.Context, *fakeUnit, *ports.Environment) (*ports.ExecResult, error) {
		return nil, fmt.Errorf("stop: %w", ports.ErrUserAbort)
	}
	wc := NewExecutionContext()

	outcome, err := f.runner.Run(context.Background(), wc, f.project, f.step)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, StateCompleted, outcome.State)
	require.Empty(t, outcome.Message)
	require.False(t, wc.IsExecuting())
}

func TestRunContextCancellationIsAbort(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "while True: pass\n")
	ctx, cancel := context.WithCancel(context.Background())
	f.lang.exec = func(ctx context.Context, _ *fakeUnit, _ *ports.Environment) (*ports.ExecResult, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	outcome, err := f.runner.Run(ctx, NewExecutionContext(), f.project, f.step)
	require.NoError(t, err)
	require.Equal(t, StateAborted, outcome.State)
	require.False(t, outcome.Success)
}

func TestRunRuntimeFailureIsSanitizedAndRendered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "x = 1\nValueError('boom')\n")
	f.lang.exec = func(_ context.Context, unit *fakeUnit, _ *ports.Environment) (*ports.ExecResult, error) {
		return nil, &ports.RuntimeError{
			Kind:    "ValueError",
			Message: "boom\nmore detail",
			Frames: []ports.Frame{
				{Filename: "/opt/kettle/lib/harness.star", Location: "run", LineNumber: 4},
				{Filename: unit.filename, Location: ports.ModuleMarker, LineNumber: 2},
			},
		}
	}
	wc := NewExecutionContext()

	outcome, err := f.runner.Run(context.Background(), wc, f.project, f.step)
	require.NoError(t, err)
	require.False(t, outcome.Success)
	require.Equal(t, StateFailed, outcome.State)
	require.Equal(t, "ValueError", outcome.Failure.Type)
	require.Equal(t, "boom", outcome.Failure.Message)
	require.Equal(t, []ports.Frame{{Filename: "S01-step.fake", LineNumber: 2, Line: "ValueError('boom')"}}, outcome.Failure.Stack)
	require.NotEmpty(t, outcome.Message)
	require.NotEmpty(t, outcome.HTMLMessage)

	var runtimeErr *ports.RuntimeError
	require.ErrorAs(t, outcome.Error, &runtimeErr)
	require.False(t, wc.IsExecuting())
}

func TestRunRecoversBackendPanics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "x = 1\n")
	f.lang.exec = func(context.Context, *fakeUnit, *ports.Environment) (*ports.ExecResult, error) {
		panic("interpreter bug")
	}
	wc := NewExecutionContext()

	outcome, err := f.runner.Run(context.Background(), wc, f.project, f.step)
	require.NoError(t, err)
	require.False(t, outcome.Success)
	require.Equal(t, "InternalError", outcome.Failure.Type)
	require.Contains(t, outcome.Failure.Message, "interpreter bug")
	require.False(t, wc.IsExecuting())
}

func TestRunRenderFailureFallsBackToPlainMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "x = 1\n")
	runner, err := NewRunner(Options{Languages: NewRegistry(f.lang), Renderer: staticRenderer{err: errors.New("no templates")}})
	require.NoError(t, err)
	f.lang.exec = func(context.Context, *fakeUnit, *ports.Environment) (*ports.ExecResult, error) {
		return nil, &ports.RuntimeError{Kind: "KeyError", Message: "missing"}
	}

	outcome, err := runner.Run(context.Background(), NewExecutionContext(), f.project, f.step)
	require.NoError(t, err)
	require.Equal(t, "KeyError: missing", outcome.Message)
	require.Equal(t, outcome.Message, outcome.HTMLMessage)
}

func TestRunLoadFailurePropagatesUnrendered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "x = 1\n")
	require.NoError(t, os.Remove(f.step.SourcePath))
	wc := NewExecutionContext()

	outcome, err := f.runner.Run(context.Background(), wc, f.project, f.step)
	require.Nil(t, outcome)
	var loadErr *kettleerrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.False(t, wc.IsExecuting())
	require.Equal(t, []State{StateLoading, StateFailed}, f.observed())
}

func TestRunUnknownLanguageIsInfrastructureError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "x = 1\n")
	require.NoError(t, os.WriteFile(filepath.Join(f.project.SourceDirectory, "S02.py"), []byte("x"), 0o644))
	step := &project.Step{Name: "S02.py", Filename: "S02.py", SourcePath: filepath.Join(f.project.SourceDirectory, "S02.py")}

	outcome, err := f.runner.Run(context.Background(), NewExecutionContext(), f.project, step)
	require.Nil(t, outcome)
	var execErr *kettleerrors.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestRunCapturesLocalsInTestingMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "answer = 42\n")
	f.project.Settings.Testing = true
	f.lang.exec = func(_ context.Context, _ *fakeUnit, env *ports.Environment) (*ports.ExecResult, error) {
		require.True(t, env.CaptureLocals)
		return &ports.ExecResult{Locals: map[string]any{"answer": int64(42)}}, nil
	}

	_, err := f.runner.Run(context.Background(), NewExecutionContext(), f.project, f.step)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"answer": int64(42)}, f.step.TestLocals)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "fail()\n")
	f.lang.exec = func(_ context.Context, unit *fakeUnit, _ *ports.Environment) (*ports.ExecResult, error) {
		return nil, &ports.RuntimeError{Kind: "Failure", Message: "nope", Frames: []ports.Frame{{Filename: unit.filename, Location: ports.ModuleMarker, LineNumber: 1}}}
	}

	first, err := f.runner.Run(context.Background(), NewExecutionContext(), f.project, f.step)
	require.NoError(t, err)
	second, err := f.runner.Run(context.Background(), NewExecutionContext(), f.project, f.step)
	require.NoError(t, err)

	require.Equal(t, first.Success, second.Success)
	require.Equal(t, first.Failure, second.Failure)
	require.Equal(t, first.Message, second.Message)
}

func TestRunIndependentWorkers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "x = 1\n")
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	f.lang.exec = func(_ context.Context, _ *fakeUnit, env *ports.Environment) (*ports.ExecResult, error) {
		started <- struct{}{}
		<-release
		if err := env.Checkpoint(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	aborted := NewExecutionContext()
	healthy := NewExecutionContext()
	outcomes := make([]*Outcome, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, wc := range []*ExecutionContext{aborted, healthy} {
		wg.Add(1)
		go func(i int, wc *ExecutionContext) {
			defer wg.Done()
			outcomes[i], errs[i] = f.runner.Run(context.Background(), wc, f.project, f.step)
		}(i, wc)
	}

	<-started
	<-started
	require.True(t, aborted.IsExecuting())
	require.True(t, healthy.IsExecuting())
	aborted.RequestAbort()
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, StateAborted, outcomes[0].State)
	require.Equal(t, StateCompleted, outcomes[1].State)
	require.False(t, aborted.IsExecuting())
	require.False(t, healthy.IsExecuting())
}

func TestNewRunnerRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(Options{Renderer: staticRenderer{}})
	require.Error(t, err)
	_, err = NewRunner(Options{Languages: NewRegistry()})
	require.Error(t, err)
}
