package engine

import (
	"sync/atomic"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// ExecutionContext is the per-worker execution record. A worker owns exactly
// one and passes it to every Run call; other goroutines may only call
// RequestAbort and IsExecuting.
type ExecutionContext struct {
	executing      atomic.Bool
	abortRequested atomic.Bool
}

// NewExecutionContext returns an idle context with no pending abort.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{}
}

// RequestAbort asks the step running on this worker to stop at its next
// checkpoint. A request made while idle is observed by the next run's
// pre-check.
func (c *ExecutionContext) RequestAbort() {
	c.abortRequested.Store(true)
}

// AbortRequested reports whether an abort is pending.
func (c *ExecutionContext) AbortRequested() bool {
	return c.abortRequested.Load()
}

// IsExecuting reports whether a step is currently running on this worker.
func (c *ExecutionContext) IsExecuting() bool {
	return c.executing.Load()
}

// Checkpoint consumes a pending abort request and returns ErrThreadAbort. A
// request is honoured once.
func (c *ExecutionContext) Checkpoint() error {
	if c.abortRequested.CompareAndSwap(true, false) {
		return ports.ErrThreadAbort
	}
	return nil
}

func (c *ExecutionContext) begin() {
	c.executing.Store(true)
}

func (c *ExecutionContext) end() {
	c.executing.Store(false)
}
