package engine_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/engine"
	lualang "github.com/alexisbeaulieu97/kettle/internal/languages/lua"
	starlarklang "github.com/alexisbeaulieu97/kettle/internal/languages/starlark"
	"github.com/alexisbeaulieu97/kettle/internal/ports"
	"github.com/alexisbeaulieu97/kettle/internal/templating"
)

type stepHarness struct {
	runner *engine.Runner
	stdout *bytes.Buffer
	dir    string
}

func newStepHarness(t *testing.T) *stepHarness {
	t.Helper()
	dir := t.TempDir()
	install := filepath.Join(dir, "install")
	stdout := &bytes.Buffer{}

	runner, err := engine.NewRunner(engine.Options{
		Languages: engine.NewRegistry(starlarklang.New(), lualang.New()),
		Renderer:  templating.New(""),
		Paths: ports.Paths{
			InstallRoot:  install,
			ResourceRoot: filepath.Join(install, "resources"),
		},
		Stdout: stdout,
	})
	require.NoError(t, err)
	return &stepHarness{runner: runner, stdout: stdout, dir: filepath.Join(dir, "project")}
}

func (s *stepHarness) run(ctx context.Context, t *testing.T, wc *engine.ExecutionContext, name, source string) *engine.Outcome {
	t.Helper()
	require.NoError(t, os.MkdirAll(s.dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, name), []byte(source), 0o644))

	p := project.New("demo", "Demo", s.dir, "", []string{name})
	outcome, err := s.runner.Run(ctx, wc, p, p.Steps[0])
	require.NoError(t, err)
	require.False(t, wc.IsExecuting())
	return outcome
}

var languages = []struct {
	name string
	ext  string
}{
	{name: "starlark", ext: ".star"},
	{name: "lua", ext: ".lua"},
}

func TestRunPrintCompletes(t *testing.T) {
	for _, lang := range languages {
		t.Run(lang.name, func(t *testing.T) {
			s := newStepHarness(t)
			outcome := s.run(context.Background(), t, engine.NewExecutionContext(), "hello"+lang.ext, "print('hi')")

			require.True(t, outcome.Success)
			require.Equal(t, engine.StateCompleted, outcome.State)
			require.Nil(t, outcome.Failure)
			require.Equal(t, "hi\n", s.stdout.String())
		})
	}
}

func TestRunSyntaxErrorReportsOffendingLine(t *testing.T) {
	sources := map[string]string{
		"starlark": "def f(:\n  pass",
		"lua":      "function f(:\n  return 1\nend",
	}
	for _, lang := range languages {
		t.Run(lang.name, func(t *testing.T) {
			s := newStepHarness(t)
			name := "broken" + lang.ext
			outcome := s.run(context.Background(), t, engine.NewExecutionContext(), name, sources[lang.name])

			require.False(t, outcome.Success)
			require.Equal(t, engine.StateFailed, outcome.State)
			require.NotNil(t, outcome.Failure)
			require.Equal(t, ports.SyntaxErrorKind, outcome.Failure.Type)
			require.Len(t, outcome.Failure.Stack, 1)
			require.Equal(t, name, outcome.Failure.Stack[0].Filename)
			require.Equal(t, 1, outcome.Failure.Stack[0].LineNumber)
			require.Contains(t, outcome.Message, "SyntaxError")
			require.Contains(t, outcome.HTMLMessage, "SyntaxError")
		})
	}
}

func TestRunRaisedErrorHasOneUserFrame(t *testing.T) {
	for _, lang := range languages {
		t.Run(lang.name, func(t *testing.T) {
			s := newStepHarness(t)
			name := "raise" + lang.ext
			outcome := s.run(context.Background(), t, engine.NewExecutionContext(), name, "ValueError('boom')")

			require.False(t, outcome.Success)
			require.Equal(t, engine.StateFailed, outcome.State)
			require.Equal(t, "ValueError", outcome.Failure.Type)
			require.Contains(t, outcome.Failure.Message, "boom")
			require.Equal(t, []ports.Frame{{
				Filename:   name,
				LineNumber: 1,
				Line:       "ValueError('boom')",
			}}, outcome.Failure.Stack)

			require.Contains(t, outcome.Message, "ValueError: boom")
			require.Contains(t, outcome.Message, `File "`+name+`", line 1`)
			require.NotContains(t, outcome.Message, "<module>")
			require.Contains(t, outcome.HTMLMessage, "boom")
		})
	}
}

func TestRunPendingAbortSkipsExecution(t *testing.T) {
	for _, lang := range languages {
		t.Run(lang.name, func(t *testing.T) {
			s := newStepHarness(t)
			wc := engine.NewExecutionContext()
			wc.RequestAbort()

			outcome := s.run(context.Background(), t, wc, "skip"+lang.ext, "print('never')")

			require.False(t, outcome.Success)
			require.Equal(t, engine.StateAborted, outcome.State)
			require.Nil(t, outcome.Failure)
			require.Empty(t, outcome.Message)
			require.Empty(t, outcome.HTMLMessage)
			require.Empty(t, s.stdout.String())
			require.False(t, wc.AbortRequested())
		})
	}
}

func TestRunUserStopIsSuccess(t *testing.T) {
	for _, lang := range languages {
		t.Run(lang.name, func(t *testing.T) {
			s := newStepHarness(t)
			outcome := s.run(context.Background(), t, engine.NewExecutionContext(), "stop"+lang.ext, "print('a')\nstep.stop()\nprint('b')")

			require.True(t, outcome.Success)
			require.Equal(t, engine.StateCompleted, outcome.State)
			require.Equal(t, "a\n", s.stdout.String())
		})
	}
}

func TestRunAbortAtCheckpoint(t *testing.T) {
	sources := map[string]string{
		"starlark": "while True:\n    step.breathe()\n",
		"lua":      "while true do\n  step.breathe()\nend",
	}
	for _, lang := range languages {
		t.Run(lang.name, func(t *testing.T) {
			s := newStepHarness(t)
			wc := engine.NewExecutionContext()

			go func() {
				for !wc.IsExecuting() {
					time.Sleep(time.Millisecond)
				}
				wc.RequestAbort()
			}()

			outcome := s.run(context.Background(), t, wc, "loop"+lang.ext, sources[lang.name])
			require.False(t, outcome.Success)
			require.Equal(t, engine.StateAborted, outcome.State)
			require.Empty(t, outcome.Message)
		})
	}
}

func TestRunContextCancelAbortsBusyStep(t *testing.T) {
	sources := map[string]string{
		"starlark": "while True:\n    pass\n",
		"lua":      "while true do end",
	}
	for _, lang := range languages {
		t.Run(lang.name, func(t *testing.T) {
			s := newStepHarness(t)
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			outcome := s.run(ctx, t, engine.NewExecutionContext(), "busy"+lang.ext, sources[lang.name])
			require.False(t, outcome.Success)
			require.Equal(t, engine.StateAborted, outcome.State)
		})
	}
}

func TestRunUnboundedRecursionFails(t *testing.T) {
	sources := map[string]string{
		"starlark": "def f(n):\n    return f(n + 1)\nf(0)\n",
		"lua":      "local function f(n)\n  return 1 + f(n + 1)\nend\nf(0)\n",
	}
	for _, lang := range languages {
		t.Run(lang.name, func(t *testing.T) {
			s := newStepHarness(t)
			outcome := s.run(context.Background(), t, engine.NewExecutionContext(), "recurse"+lang.ext, sources[lang.name])

			require.False(t, outcome.Success)
			require.Equal(t, engine.StateFailed, outcome.State)
			require.NotNil(t, outcome.Failure)
			require.Equal(t, "RecursionError", outcome.Failure.Type)
			require.Contains(t, outcome.Message, "RecursionError")
		})
	}
}

func TestRunLuaErrorAtEndOfInputBlamesLastLine(t *testing.T) {
	s := newStepHarness(t)
	outcome := s.run(context.Background(), t, engine.NewExecutionContext(), "unclosed.lua", "x = 1\ny = 2\nif true then\n  z = 3\n")

	require.False(t, outcome.Success)
	require.NotNil(t, outcome.Failure)
	require.Equal(t, ports.SyntaxErrorKind, outcome.Failure.Type)
	require.Equal(t, []ports.Frame{{
		Filename:   "unclosed.lua",
		LineNumber: 4,
		Line:       "  z = 3",
	}}, outcome.Failure.Stack)
}
