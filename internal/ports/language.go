package ports

import (
	"context"
	"errors"
	"fmt"
)

const (
	// HostModuleName is the predeclared module through which step code reaches
	// the host (display output and the cancellation checkpoint).
	HostModuleName = "__kettle__"

	// ModuleMarker is the location reported for frames executing at the top
	// level of a file rather than inside a function.
	ModuleMarker = "<module>"

	// SyntaxErrorKind labels compile failures in failure records.
	SyntaxErrorKind = "SyntaxError"
)

var (
	// ErrThreadAbort is raised at a checkpoint when the worker's execution
	// context carries a pending abort request.
	ErrThreadAbort = errors.New("step aborted by engine")

	// ErrUserAbort is raised by step code that stops itself on purpose.
	ErrUserAbort = errors.New("step stopped by user code")
)

// RaisableKinds are the error kinds every backend predeclares as callables
// that raise an error of that kind.
var RaisableKinds = []string{
	"AssertionError",
	"IndexError",
	"KeyError",
	"RuntimeError",
	"TypeError",
	"ValueError",
}

// Language compiles and executes step source for one interpreter. Each
// implementation owns the translation between interpreter-native failures and
// the CompileError / RuntimeError shapes the engine reports.
//
// Execute must return:
//   - nil when the code unit ran to completion,
//   - an error wrapping ErrThreadAbort or ErrUserAbort for the two abort kinds,
//   - the context's error when ctx was cancelled mid-run,
//   - a *RuntimeError for anything else raised by step code.
//
// When env.CaptureLocals is set the result carries the globals reached so
// far, even alongside an error.
type Language interface {
	Name() string
	Extensions() []string
	Compile(req CompileRequest) (CodeUnit, error)
	Execute(ctx context.Context, unit CodeUnit, env *Environment) (*ExecResult, error)
}

// CodeUnit is the compiled form of a step's source plus footer.
type CodeUnit interface {
	Filename() string
	ModuleName() string
}

// CompileRequest carries everything a Language needs to compile a step.
type CompileRequest struct {
	// Filename is the absolute path of the step source, used for diagnostics.
	Filename string
	// Source is the user source with the synchronization footer appended.
	Source string
	// ModuleName is the step name without its extension.
	ModuleName string
}

// Environment seeds the namespace a code unit runs in and connects it to the
// host.
type Environment struct {
	// File is the value of the __file__ global.
	File string
	// Package is the synthesized qualifier bound to __package__.
	Package string
	// SourceRoot is the project source directory used to resolve loads.
	SourceRoot string
	// Paths locates the engine's own library and resource trees.
	Paths Paths
	// Display receives everything step code prints.
	Display Display
	// Checkpoint is invoked by step.breathe(); it returns ErrThreadAbort when
	// an abort is pending.
	Checkpoint func() error
	// ReadSource reads a library module's text with the same decoding rules as
	// step sources.
	ReadSource func(path string) (string, error)
	// CaptureLocals asks the backend to return the final globals.
	CaptureLocals bool
}

// ExecResult is what a successful Execute returns.
type ExecResult struct {
	Locals map[string]any
}

// Display is the output sink step code writes through.
type Display interface {
	Text(s string) error
	// Whitespace writes the given number of blank lines and flushes any
	// buffered output. Whitespace(0) only flushes.
	Whitespace(lines int) error
}

// Paths are the engine install and resource roots used to tell engine frames
// from user frames.
type Paths struct {
	InstallRoot  string
	ResourceRoot string
	// Frames under ResourceRoot are kept even though that tree sits inside
	// InstallRoot. DropResourceFrames treats them as engine frames instead.
	DropResourceFrames bool
}

// Frame is one entry of a captured stack, oldest first.
type Frame struct {
	Filename   string `json:"filename"`
	Location   string `json:"location,omitempty"`
	LineNumber int    `json:"line_number"`
	Line       string `json:"line"`
}

// CompileError reports a syntax failure in step source.
type CompileError struct {
	Kind       string
	Filename   string
	LineNumber int
	Line       string
	Message    string
}

func (e *CompileError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s:%d: %s", e.kind(), e.Filename, e.LineNumber, e.Message)
}

func (e *CompileError) kind() string {
	if e.Kind == "" {
		return SyntaxErrorKind
	}
	return e.Kind
}

// Type returns the failure kind, defaulting to SyntaxErrorKind.
func (e *CompileError) Type() string {
	if e == nil {
		return ""
	}
	return e.kind()
}

// RuntimeError reports a failure raised while step code was executing.
type RuntimeError struct {
	Kind    string
	Message string
	Frames  []Frame
	Err     error
}

func (e *RuntimeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the interpreter-native error.
func (e *RuntimeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TemplateRenderer turns a data record into text using a named template.
type TemplateRenderer interface {
	RenderTemplate(name string, data any) (string, error)
}
