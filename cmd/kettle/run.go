package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/kettle/internal/app/notebook"
	"github.com/alexisbeaulieu97/kettle/internal/config"
	"github.com/alexisbeaulieu97/kettle/internal/engine"
	"github.com/alexisbeaulieu97/kettle/internal/infrastructure/gitsource"
	"github.com/alexisbeaulieu97/kettle/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/kettle/internal/status"
	"github.com/alexisbeaulieu97/kettle/internal/tui"
	"github.com/alexisbeaulieu97/kettle/internal/tui/components"
)

type runOptions struct {
	Target          string
	Only            string
	From            string
	Changed         bool
	ContinueOnError bool
	Testing         bool
	Revision        string
	NoState         bool
	NonInteractive  bool

	root   *rootFlags
	stdout io.Writer
	stderr io.Writer
}

var runCmdRunner = runProject

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}
	plain := false

	cmd := &cobra.Command{
		Use:   "run [project]",
		Short: "Run a project's steps in order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Target = resolveTarget(args)
			opts.NonInteractive = plain || !stdoutIsTerminal()
			opts.root = root
			opts.stdout = cmd.OutOrStdout()
			opts.stderr = cmd.ErrOrStderr()

			if err := validateRunOptions(opts); err != nil {
				return err
			}

			return runCmdRunner(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Only, "only", "", "Run a single step")
	cmd.Flags().StringVar(&opts.From, "from", "", "Start the run at this step")
	cmd.Flags().BoolVar(&opts.Changed, "changed", false, "Run only steps that are pending, dirty or did not succeed")
	cmd.Flags().BoolVar(&opts.ContinueOnError, "continue-on-error", false, "Keep running after a failed step")
	cmd.Flags().BoolVar(&opts.Testing, "testing", false, "Capture step variables for inspection")
	cmd.Flags().StringVar(&opts.Revision, "revision", "", "Run step sources as committed at this git revision")
	cmd.Flags().BoolVar(&opts.NoState, "no-state", false, "Do not read or write .kettle/state.json")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print one line per step instead of the live view")

	return cmd
}

func runProject(opts runOptions) error {
	settings, err := config.LoadHostSettings(opts.root.envFile)
	if err != nil {
		return err
	}

	p, err := config.LoadProject(opts.Target)
	if err != nil {
		return err
	}
	if opts.Testing || settings.Testing {
		p.Settings.Testing = true
	}

	var store *status.Store
	if !opts.NoState {
		if store, err = status.Open(p.Directory, p.ID); err != nil {
			return err
		}
	}

	var loader engine.SourceLoader
	if opts.Revision != "" {
		source, err := gitsource.Open(p.Directory, opts.Revision)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		loader = source
	}

	ctx, _ := logging.WithRunID(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := engine.NewExecutionContext()
	req := notebook.Request{
		Project:         p,
		Worker:          worker,
		Store:           store,
		ContinueOnError: opts.ContinueOnError,
		Only:            opts.Only,
		From:            opts.From,
		OnlyDirty:       opts.Changed,
	}

	var result *notebook.Result
	if opts.NonInteractive {
		result, err = runPlain(ctx, cancel, opts, settings, loader, worker, req)
	} else {
		result, err = runInteractive(ctx, cancel, opts, settings, loader, worker, req)
	}
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("run of %s did not succeed", p.Name)
	}
	return nil
}

func runPlain(ctx context.Context, cancel context.CancelFunc, opts runOptions, settings config.HostSettings, loader engine.SourceLoader, worker *engine.ExecutionContext, req notebook.Request) (*notebook.Result, error) {
	log, err := newLogger(settings, opts.root, opts.stderr)
	if err != nil {
		return nil, err
	}

	app, err := newAppContext(appOptions{Settings: settings, Logger: log, Loader: loader, Stdout: opts.stdout})
	if err != nil {
		return nil, err
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt)
	defer signal.Stop(signals)
	stop := make(chan struct{})
	defer close(stop)
	go watchInterrupts(signals, stop, worker.RequestAbort, cancel)

	req.OnStepResult = func(sr notebook.StepResult) {
		fmt.Fprintln(opts.stdout, tui.FormatEntry(entryFor(sr)))
		if sr.Outcome != nil && sr.Outcome.Message != "" && sr.Status() == status.StatusFailed {
			fmt.Fprintln(opts.stdout, sr.Outcome.Message)
		}
	}

	result, runErr := app.Notebook.Run(ctx, req)
	writeMetrics(ctx, app, settings)
	if runErr != nil {
		return result, runErr
	}
	printSummary(opts.stdout, result)
	return result, nil
}

func runInteractive(ctx context.Context, cancel context.CancelFunc, opts runOptions, settings config.HostSettings, loader engine.SourceLoader, worker *engine.ExecutionContext, req notebook.Request) (*notebook.Result, error) {
	// Logs are held back while the live view owns the terminal.
	deferred := logging.NewDeferred(0, deferredLevel(settings, opts.root))
	stepOutput := &bytes.Buffer{}

	app, err := newAppContext(appOptions{
		Settings: settings,
		Logger:   deferred.Logger(),
		Loader:   loader,
		Stdout:   stepOutput,
	})
	if err != nil {
		return nil, err
	}

	defer func() {
		if log, err := newLogger(settings, opts.root, opts.stderr); err == nil {
			deferred.Replay(log)
		}
	}()

	steps, err := app.Notebook.Select(req)
	if err != nil {
		return nil, err
	}

	model := tui.NewModel(req.Project, steps, tui.Controls{Abort: worker.RequestAbort, Cancel: cancel})
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(opts.stdout))

	sub, err := tui.Forward(app.Events, program.Send)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	type runResult struct {
		result *notebook.Result
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		result, runErr := app.Notebook.Run(ctx, req)
		msg := tui.RunDoneMsg{Err: runErr}
		if result != nil {
			msg.Success = result.Success
		}
		program.Send(msg)
		done <- runResult{result: result, err: runErr}
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return nil, fmt.Errorf("live view failed: %w", err)
	}

	outcome := <-done
	writeMetrics(ctx, app, settings)

	if stepOutput.Len() > 0 {
		fmt.Fprint(opts.stdout, stepOutput.String())
	}
	if outcome.result != nil {
		for _, failure := range outcome.result.Failures() {
			if failure.Outcome != nil && failure.Outcome.Message != "" {
				fmt.Fprintln(opts.stdout, failure.Outcome.Message)
			}
		}
	}
	return outcome.result, outcome.err
}

// watchInterrupts requests a cooperative abort on the first interrupt and
// cancels the run on the second.
func watchInterrupts(signals <-chan os.Signal, stop <-chan struct{}, abort, cancel func()) {
	count := 0
	for {
		select {
		case <-stop:
			return
		case <-signals:
			count++
			if count == 1 {
				abort()
				continue
			}
			cancel()
			return
		}
	}
}

func writeMetrics(ctx context.Context, app *AppContext, settings config.HostSettings) {
	if settings.MetricsFile == "" {
		return
	}
	if err := app.Metrics.WriteTextfile(settings.MetricsFile); err != nil {
		app.Logger.Warn(ctx, "failed to write metrics textfile", "path", settings.MetricsFile, "error", err)
	}
}

func printSummary(w io.Writer, result *notebook.Result) {
	counts := result.Counts()
	fmt.Fprintf(w, "%d completed, %d failed, %d aborted, %d skipped in %s\n",
		counts.Completed, counts.Failed, counts.Aborted, counts.Skipped, result.Duration.Round(time.Millisecond))
}

func entryFor(sr notebook.StepResult) components.StepEntry {
	entry := components.StepEntry{Name: status.Key(sr.Step), Status: sr.Status()}
	switch {
	case sr.Err != nil:
		entry.Detail = sr.Err.Error()
	case sr.Outcome != nil:
		entry.Duration = sr.Outcome.Duration
		if sr.Outcome.Failure != nil {
			entry.Detail = sr.Outcome.Failure.Type + ": " + sr.Outcome.Failure.Message
		}
	}
	return entry
}

