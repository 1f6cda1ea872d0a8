// Package lualang runs step sources written in Lua 5.1.
package lualang

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// Name identifies the backend in metrics and events.
const Name = "lua"

// Language is the Lua step backend.
type Language struct{}

var _ ports.Language = (*Language)(nil)

// New returns a Lua backend.
func New() *Language {
	return &Language{}
}

func (l *Language) Name() string { return Name }

func (l *Language) Extensions() []string { return []string{".lua"} }

type codeUnit struct {
	filename string
	module   string
	proto    *lua.FunctionProto
}

func (u *codeUnit) Filename() string   { return u.filename }
func (u *codeUnit) ModuleName() string { return u.module }

// Compile parses req.Source into a function prototype.
func (l *Language) Compile(req ports.CompileRequest) (ports.CodeUnit, error) {
	chunk, err := parse.Parse(strings.NewReader(req.Source), req.Filename)
	if err != nil {
		return nil, compileError(req.Filename, err)
	}
	proto, err := lua.Compile(chunk, req.Filename)
	if err != nil {
		return nil, compileError(req.Filename, err)
	}
	return &codeUnit{filename: req.Filename, module: req.ModuleName, proto: proto}, nil
}

// Execute runs the code unit in a fresh interpreter state bound to ctx.
func (l *Language) Execute(ctx context.Context, unit ports.CodeUnit, env *ports.Environment) (*ports.ExecResult, error) {
	cu, ok := unit.(*codeUnit)
	if !ok {
		return nil, fmt.Errorf("lua backend cannot execute %T", unit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	L := lua.NewState(lua.Options{CallStackSize: maxCallDepth})
	defer L.Close()
	L.SetContext(ctx)

	r := &run{env: env}
	r.install(L)
	setPackagePath(L, env)
	baseline := globalNames(L)

	L.Push(L.NewFunctionFromProto(cu.proto))
	err := L.PCall(0, lua.MultRet, L.NewFunction(r.handler))

	var result *ports.ExecResult
	if env.CaptureLocals {
		result = &ports.ExecResult{Locals: captureLocals(L, baseline)}
	}

	if r.signal != nil {
		return result, r.signal
	}
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	return result, r.translate(err)
}

// maxCallDepth bounds nested calls; deeper recursion fails with a stack
// overflow error instead of exhausting memory.
const maxCallDepth = 200

// endOfInput stands for a position past the last line. The compiler clamps it
// to the last line of the step.
const endOfInput = math.MaxInt32

// sourceLine maps the parser's negative end-of-input line onto endOfInput.
func sourceLine(line int) int {
	if line < 0 {
		return endOfInput
	}
	return line
}

func compileError(filename string, err error) error {
	var parseErr *parse.Error
	if errors.As(err, &parseErr) {
		return &ports.CompileError{
			Kind:       ports.SyntaxErrorKind,
			Filename:   filename,
			LineNumber: sourceLine(parseErr.Pos.Line),
			Message:    parseErr.Message,
		}
	}

	var luaErr *lua.CompileError
	if errors.As(err, &luaErr) {
		return &ports.CompileError{
			Kind:       ports.SyntaxErrorKind,
			Filename:   filename,
			LineNumber: sourceLine(luaErr.Line),
			Message:    luaErr.Message,
		}
	}

	return &ports.CompileError{Kind: ports.SyntaxErrorKind, Filename: filename, Message: err.Error()}
}

// setPackagePath lets require() find modules in the source directory and the
// engine library.
func setPackagePath(L *lua.LState, env *ports.Environment) {
	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	var paths []string
	if env.SourceRoot != "" {
		paths = append(paths, filepath.Join(env.SourceRoot, "?.lua"))
	}
	if env.Paths.InstallRoot != "" {
		paths = append(paths, filepath.Join(env.Paths.InstallRoot, "lib", "?.lua"))
	}
	if env.Paths.ResourceRoot != "" {
		paths = append(paths, filepath.Join(env.Paths.ResourceRoot, "?.lua"))
	}
	if len(paths) == 0 {
		return
	}
	L.SetField(pkg, "path", lua.LString(strings.Join(paths, ";")))
}
