// Package notebook runs a project's steps in order on a single worker.
package notebook

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/engine"
	"github.com/alexisbeaulieu97/kettle/internal/ports"
	"github.com/alexisbeaulieu97/kettle/internal/status"
)

// StepRunner executes a single step. *engine.Runner satisfies it.
type StepRunner interface {
	Run(ctx context.Context, wc *engine.ExecutionContext, p *project.Project, step *project.Step) (*engine.Outcome, error)
}

// Options configures a Service.
type Options struct {
	Logger  ports.Logger
	Events  ports.EventPublisher
	Metrics ports.MetricsCollector
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service coordinates project runs and records their results.
type Service struct {
	runner  StepRunner
	logger  ports.Logger
	events  ports.EventPublisher
	metrics ports.MetricsCollector
	now     func() time.Time
}

// NewService constructs a project run service.
func NewService(runner StepRunner, opts Options) *Service {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = ports.NoOpMetrics{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		runner:  runner,
		logger:  opts.Logger,
		events:  opts.Events,
		metrics: metrics,
		now:     now,
	}
}

// Request configures a project run.
type Request struct {
	Project *project.Project
	// Worker is the execution context of the worker running the steps. Abort
	// requests are delivered through it. Defaults to a fresh context.
	Worker *engine.ExecutionContext
	// Store, when set, receives one record per executed step and is saved
	// once the run ends.
	Store *status.Store
	// ContinueOnError keeps running after a failed step in addition to the
	// project's own setting. Aborts always stop the run.
	ContinueOnError bool
	// Only runs a single step, named by file name or relative path.
	Only string
	// From skips the steps listed before the named one.
	From string
	// OnlyDirty limits the run to steps that are pending or dirty. It needs
	// a Store.
	OnlyDirty bool
	// OnStepResult observes every step as soon as it finishes or is skipped.
	OnStepResult func(StepResult)
}

// Run executes the selected steps in manifest order. Step failures are
// reported through the Result; the error return aggregates infrastructure
// problems such as unreadable sources or an unsavable state file.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	steps, err := s.Select(req)
	if err != nil {
		return nil, err
	}

	p := req.Project
	worker := req.Worker
	if worker == nil {
		worker = engine.NewExecutionContext()
	}
	continueOnError := req.ContinueOnError || p.Settings.ContinueOnError

	started := s.now()
	result := &Result{Project: p}
	var errs *multierror.Error

	s.info(ctx, "running project", "project", p.ID, "steps", len(steps), "continue_on_error", continueOnError)
	s.publish(ctx, ports.EventProjectStarted, map[string]interface{}{
		"project":    p.ID,
		"name":       p.Name,
		"step_count": len(steps),
	})

	stopped := false
	for _, step := range steps {
		if stopped || ctx.Err() != nil {
			result.add(req, StepResult{Step: step, Skipped: true})
			continue
		}

		at := s.now()
		outcome, runErr := s.runner.Run(ctx, worker, p, step)
		if runErr == nil && outcome == nil {
			runErr = fmt.Errorf("step %s produced no outcome", step.Filename)
		}
		sr := StepResult{Step: step, Outcome: outcome, Err: runErr}
		result.add(req, sr)
		s.record(req.Store, step, at, sr)

		if runErr != nil {
			errs = multierror.Append(errs, runErr)
			s.warn(ctx, "step could not run", "step", step.Filename, "error", runErr)
			stopped = !continueOnError
			continue
		}

		switch outcome.State {
		case engine.StateAborted:
			stopped = true
		case engine.StateFailed:
			stopped = !continueOnError
		}
	}

	if req.Store != nil {
		if err := req.Store.Save(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("save run state: %w", err))
		}
	}

	result.Duration = s.now().Sub(started)
	s.finish(ctx, result, errs)
	return result, errs.ErrorOrNil()
}

// Select returns the steps req would run, in run order.
func (s *Service) Select(req Request) ([]*project.Step, error) {
	p := req.Project
	if p == nil {
		return nil, fmt.Errorf("run requires a project")
	}
	if req.OnlyDirty && req.Store == nil {
		return nil, fmt.Errorf("running only dirty steps requires run state")
	}

	steps := p.Steps
	switch {
	case req.Only != "" && req.From != "":
		return nil, fmt.Errorf("only and from cannot be combined")
	case req.Only != "":
		step, err := p.Step(req.Only)
		if err != nil {
			return nil, err
		}
		steps = []*project.Step{step}
	case req.From != "":
		step, err := p.Step(req.From)
		if err != nil {
			return nil, err
		}
		for i, candidate := range p.Steps {
			if candidate == step {
				steps = p.Steps[i:]
				break
			}
		}
	}

	if !req.OnlyDirty {
		return steps, nil
	}

	entries, err := status.Reconcile(p, req.Store)
	if err != nil {
		return nil, fmt.Errorf("reconcile run state: %w", err)
	}
	wanted := make(map[*project.Step]bool, len(entries))
	for _, entry := range entries {
		wanted[entry.Step] = !entry.Ran || entry.Dirty() || entry.State.Status != status.StatusSuccess
	}
	selected := make([]*project.Step, 0, len(steps))
	for _, step := range steps {
		if wanted[step] {
			selected = append(selected, step)
		}
	}
	return selected, nil
}

func (s *Service) record(store *status.Store, step *project.Step, at time.Time, sr StepResult) {
	if store == nil {
		return
	}
	key := status.Key(step)
	if sr.Err != nil {
		store.Record(key, status.StatusFailed, at, 0, "", sr.Err.Error())
		return
	}
	errorType, message := "", ""
	if sr.Outcome.Failure != nil {
		errorType = sr.Outcome.Failure.Type
		message = sr.Outcome.Failure.Message
	}
	store.Record(key, StatusOf(sr.Outcome.State), at, sr.Outcome.Duration, errorType, message)
}

func (s *Service) finish(ctx context.Context, result *Result, errs *multierror.Error) {
	result.Success = errs.ErrorOrNil() == nil
	for _, sr := range result.Steps {
		if !sr.Succeeded() {
			result.Success = false
			break
		}
	}

	outcome := "success"
	eventType := ports.EventProjectCompleted
	if !result.Success {
		outcome = "failure"
		eventType = ports.EventProjectFailed
	}
	s.metrics.IncCounter(ctx, ports.MetricProjectRuns, map[string]string{"status": outcome})

	counts := result.Counts()
	fields := map[string]interface{}{
		"project":     result.Project.ID,
		"success":     result.Success,
		"duration_ms": result.Duration.Milliseconds(),
		"completed":   counts.Completed,
		"failed":      counts.Failed,
		"aborted":     counts.Aborted,
		"skipped":     counts.Skipped,
	}
	if errs.ErrorOrNil() != nil {
		fields["error"] = errs.Error()
	}
	s.publish(ctx, eventType, fields)
	s.info(ctx, "project run finished", "project", result.Project.ID, "success", result.Success, "duration_ms", result.Duration.Milliseconds())
}

func (s *Service) publish(ctx context.Context, eventType string, fields map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ports.Event{Type: eventType, Fields: fields}); err != nil {
		s.warn(ctx, "failed to publish domain event", "event_type", eventType, "error", err)
	}
}

func (s *Service) info(ctx context.Context, msg string, fields ...interface{}) {
	if s.logger != nil {
		s.logger.Info(ctx, msg, fields...)
	}
}

func (s *Service) warn(ctx context.Context, msg string, fields ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(ctx, msg, fields...)
	}
}
