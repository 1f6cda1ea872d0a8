package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/ports"
	kettleerrors "github.com/alexisbeaulieu97/kettle/pkg/errors"
)

// Options configures a Runner.
type Options struct {
	Loader    SourceLoader
	Languages *Registry
	Renderer  ports.TemplateRenderer
	Paths     ports.Paths
	// Stdout receives step output. Defaults to io.Discard.
	Stdout  io.Writer
	Logger  ports.Logger
	Events  ports.EventPublisher
	Metrics ports.MetricsCollector
	// OnTransition, when set, observes every state change.
	OnTransition func(step *project.Step, state State)
}

// Runner executes one step at a time on the caller's worker. A single Runner
// may be shared by several workers as long as each passes its own
// ExecutionContext.
type Runner struct {
	loader   SourceLoader
	compiler *Compiler
	reporter *Reporter
	paths    ports.Paths
	stdout   io.Writer
	logger   ports.Logger
	events   ports.EventPublisher
	metrics  ports.MetricsCollector
	observe  func(*project.Step, State)
	active   atomic.Int64
}

// NewRunner builds a Runner from opts.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Languages == nil {
		return nil, errors.New("runner requires a language registry")
	}
	if opts.Renderer == nil {
		return nil, errors.New("runner requires a template renderer")
	}
	loader := opts.Loader
	if loader == nil {
		loader = NewFileLoader()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = ports.NoOpMetrics{}
	}

	return &Runner{
		loader:   loader,
		compiler: &Compiler{Languages: opts.Languages},
		reporter: &Reporter{Sanitizer: StackSanitizer{Paths: opts.Paths}, Renderer: opts.Renderer},
		paths:    opts.Paths,
		stdout:   stdout,
		logger:   opts.Logger,
		events:   opts.Events,
		metrics:  metrics,
		observe:  opts.OnTransition,
	}, nil
}

// Run loads, compiles and executes step under wc. Every user-code outcome,
// including syntax errors and aborts, is reported through the Outcome; the
// error return is reserved for infrastructure problems such as unreadable
// source, which are never rendered.
func (r *Runner) Run(ctx context.Context, wc *ExecutionContext, p *project.Project, step *project.Step) (*Outcome, error) {
	if wc == nil {
		return nil, kettleerrors.NewExecutionError(step.Filename, errors.New("execution context is nil"))
	}

	started := time.Now()
	r.publish(ctx, ports.EventStepStarted, p, step, nil)
	r.debug(ctx, "step starting", "step", step.Filename)

	r.transition(step, StateLoading)
	source, err := r.loader.Load(ctx, step.SourcePath)
	if err != nil {
		r.transition(step, StateFailed)
		r.publish(ctx, ports.EventStepFailed, p, step, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	r.transition(step, StateCompiling)
	lang, unit, err := r.compiler.Compile(step, source)
	if err != nil {
		var compileErr *ports.CompileError
		if !errors.As(err, &compileErr) {
			r.transition(step, StateFailed)
			r.publish(ctx, ports.EventStepFailed, p, step, map[string]interface{}{"error": err.Error()})
			return nil, kettleerrors.NewExecutionError(step.Filename, err)
		}
		record := r.reporter.CompileFailure(compileErr, p.SourceDirectory)
		outcome := r.failed(ctx, compileErr, record)
		return r.finish(ctx, p, step, languageName(lang), outcome, started), nil
	}

	r.transition(step, StateExecuting)
	outcome := r.execute(ctx, wc, lang, unit, p, step, source)
	return r.finish(ctx, p, step, lang.Name(), outcome, started), nil
}

func (r *Runner) execute(ctx context.Context, wc *ExecutionContext, lang ports.Language, unit ports.CodeUnit, p *project.Project, step *project.Step, source string) (outcome *Outcome) {
	wc.begin()
	defer wc.end()

	r.metrics.SetGauge(ctx, ports.MetricActiveSteps, float64(r.active.Add(1)), nil)
	defer func() {
		r.metrics.SetGauge(ctx, ports.MetricActiveSteps, float64(r.active.Add(-1)), nil)
	}()

	display := newBufferedDisplay(r.stdout)
	defer display.flush() //nolint:errcheck

	defer func() {
		if rec := recover(); rec != nil {
			err := &ports.RuntimeError{Kind: "InternalError", Message: fmt.Sprint(rec)}
			outcome = r.failed(ctx, err, r.reporter.RuntimeFailure(err, step.SourcePath, source, p.SourceDirectory))
		}
	}()

	if err := wc.Checkpoint(); err != nil {
		return &Outcome{Success: false, State: StateAborted}
	}

	res, err := lang.Execute(ctx, unit, &ports.Environment{
		File:          step.SourcePath,
		Package:       p.PackageName(step),
		SourceRoot:    p.SourceDirectory,
		Paths:         r.paths,
		Display:       display,
		Checkpoint:    wc.Checkpoint,
		ReadSource: func(path string) (string, error) {
			return r.loader.Load(ctx, path)
		},
		CaptureLocals: p.Settings.Testing,
	})
	if p.Settings.Testing && res != nil {
		step.TestLocals = res.Locals
	}

	switch {
	case err == nil, errors.Is(err, ports.ErrUserAbort):
		return &Outcome{Success: true, State: StateCompleted}
	case errors.Is(err, ports.ErrThreadAbort), ctx.Err() != nil:
		return &Outcome{Success: false, State: StateAborted}
	default:
		record := r.reporter.RuntimeFailure(err, step.SourcePath, source, p.SourceDirectory)
		return r.failed(ctx, err, record)
	}
}

func (r *Runner) failed(ctx context.Context, err error, record FailureRecord) *Outcome {
	outcome := &Outcome{Success: false, State: StateFailed, Error: err, Failure: &record}
	text, html, renderErr := r.reporter.Render(record)
	if renderErr != nil {
		r.warn(ctx, "failed to render user code error", "error", renderErr)
		text = fmt.Sprintf("%s: %s", record.Type, record.Message)
		html = text
	}
	outcome.Message = text
	outcome.HTMLMessage = html
	return outcome
}

func (r *Runner) finish(ctx context.Context, p *project.Project, step *project.Step, language string, outcome *Outcome, started time.Time) *Outcome {
	outcome.Duration = time.Since(started)
	r.transition(step, outcome.State)

	labels := map[string]string{"language": language, "state": string(outcome.State)}
	r.metrics.IncCounter(ctx, ports.MetricStepExecutions, labels)
	r.metrics.ObserveHistogram(ctx, ports.MetricStepDuration, outcome.Duration.Seconds(), map[string]string{"language": language})

	fields := map[string]interface{}{
		"state":       string(outcome.State),
		"success":     outcome.Success,
		"duration_ms": outcome.Duration.Milliseconds(),
	}
	eventType := ports.EventStepCompleted
	switch outcome.State {
	case StateAborted:
		eventType = ports.EventStepAborted
	case StateFailed:
		eventType = ports.EventStepFailed
		if outcome.Failure != nil {
			fields["error_type"] = outcome.Failure.Type
			fields["error"] = outcome.Failure.Message
		}
	}
	r.publish(ctx, eventType, p, step, fields)
	return outcome
}

func (r *Runner) transition(step *project.Step, state State) {
	if r.observe != nil {
		r.observe(step, state)
	}
}

func (r *Runner) publish(ctx context.Context, eventType string, p *project.Project, step *project.Step, fields map[string]interface{}) {
	if r.events == nil {
		return
	}
	payload := map[string]interface{}{"project": p.ID, "step": step.Filename}
	for k, v := range fields {
		payload[k] = v
	}
	if err := r.events.Publish(ctx, ports.Event{Type: eventType, Fields: payload}); err != nil {
		r.warn(ctx, "failed to publish event", "event_type", eventType, "error", err)
	}
}

func (r *Runner) debug(ctx context.Context, msg string, fields ...interface{}) {
	if r.logger != nil {
		r.logger.Debug(ctx, msg, fields...)
	}
}

func (r *Runner) warn(ctx context.Context, msg string, fields ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(ctx, msg, fields...)
	}
}

func languageName(lang ports.Language) string {
	if lang == nil {
		return "unknown"
	}
	return lang.Name()
}
