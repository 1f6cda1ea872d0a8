// Package starlarklang runs step sources written in Starlark.
package starlarklang

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// Name identifies the backend in metrics and events.
const Name = "starlark"

// Steps read like scripts, so the dialect allows top-level control flow,
// while loops, set literals and global reassignment. Recursion stays off:
// unbounded recursion would overflow the goroutine stack, which is fatal to
// the process rather than a recoverable panic. A recursive call fails with
// "called recursively" instead, reported as a RecursionError.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Language is the Starlark step backend.
type Language struct{}

var _ ports.Language = (*Language)(nil)

// New returns a Starlark backend.
func New() *Language {
	return &Language{}
}

func (l *Language) Name() string { return Name }

func (l *Language) Extensions() []string { return []string{".star", ".sky"} }

type codeUnit struct {
	filename string
	module   string
	program  *starlark.Program
}

func (u *codeUnit) Filename() string   { return u.filename }
func (u *codeUnit) ModuleName() string { return u.module }

// Compile parses and resolves req.Source.
func (l *Language) Compile(req ports.CompileRequest) (ports.CodeUnit, error) {
	_, program, err := starlark.SourceProgramOptions(fileOptions, req.Filename, req.Source, isPredeclared)
	if err != nil {
		return nil, compileError(req.Filename, err)
	}
	return &codeUnit{filename: req.Filename, module: req.ModuleName, program: program}, nil
}

// Execute runs the code unit on a fresh thread. Cancelling ctx cancels the
// thread at its next instruction.
func (l *Language) Execute(ctx context.Context, unit ports.CodeUnit, env *ports.Environment) (*ports.ExecResult, error) {
	cu, ok := unit.(*codeUnit)
	if !ok {
		return nil, fmt.Errorf("starlark backend cannot execute %T", unit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := newHost(env)
	thread := &starlark.Thread{Name: cu.module, Print: h.print}
	thread.Load = newModuleLoader(env, h).load

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	globals, err := cu.program.Init(thread, h.predeclared(env.File, env.Package))

	var result *ports.ExecResult
	if env.CaptureLocals {
		result = &ports.ExecResult{Locals: toLocals(globals)}
	}
	if err != nil {
		return result, translate(ctx, err)
	}
	return result, nil
}

func isPredeclared(name string) bool {
	switch name {
	case ports.HostModuleName, "step", "display", "__file__", "__package__":
		return true
	}
	for _, kind := range ports.RaisableKinds {
		if name == kind {
			return true
		}
	}
	return false
}

// compileError converts parse and resolve failures. Starlark resolves names
// before any statement runs, so an undefined name surfaces here as a
// NameError and none of the step's earlier lines execute.
func compileError(filename string, err error) error {
	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return &ports.CompileError{
			Kind:       ports.SyntaxErrorKind,
			Filename:   filename,
			LineNumber: int(syntaxErr.Pos.Line),
			Message:    syntaxErr.Msg,
		}
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) && len(resolveErrs) > 0 {
		first := resolveErrs[0]
		kind := ports.SyntaxErrorKind
		if strings.HasPrefix(first.Msg, "undefined:") {
			kind = "NameError"
		}
		return &ports.CompileError{
			Kind:       kind,
			Filename:   filename,
			LineNumber: int(first.Pos.Line),
			Message:    first.Msg,
		}
	}

	return &ports.CompileError{Kind: ports.SyntaxErrorKind, Filename: filename, Message: err.Error()}
}
