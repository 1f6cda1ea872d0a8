package starlarklang

import (
	"context"
	"errors"
	"strings"

	"go.starlark.net/starlark"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

const (
	builtinFilename  = "<builtin>"
	toplevelFunction = "<toplevel>"
)

// translate maps an Init failure onto the engine's error contract.
func translate(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ports.ErrUserAbort):
		return ports.ErrUserAbort
	case errors.Is(err, ports.ErrThreadAbort):
		return ports.ErrThreadAbort
	case ctx.Err() != nil:
		return ctx.Err()
	}

	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		return &ports.RuntimeError{Kind: "EvalError", Message: err.Error(), Err: err}
	}

	kind, message := classify(evalErr)
	return &ports.RuntimeError{
		Kind:    kind,
		Message: message,
		Frames:  frames(evalErr.CallStack),
		Err:     err,
	}
}

func classify(evalErr *starlark.EvalError) (string, string) {
	var raised *raisedError
	if errors.As(evalErr, &raised) {
		return raised.kind, raised.message
	}

	msg := evalErr.Msg
	switch {
	case strings.HasPrefix(msg, "fail: "):
		return "Failure", strings.TrimPrefix(msg, "fail: ")
	case strings.Contains(msg, "by zero"):
		return "ZeroDivisionError", msg
	case strings.HasPrefix(msg, "key ") && strings.Contains(msg, "not in"):
		return "KeyError", msg
	case strings.Contains(msg, "out of range"):
		return "IndexError", msg
	case strings.Contains(msg, "has no ") && strings.Contains(msg, "field or method"):
		return "AttributeError", msg
	case strings.HasPrefix(msg, "unsupported "), strings.HasPrefix(msg, "invalid call of non-function"):
		return "TypeError", msg
	case strings.Contains(msg, "called recursively"), strings.Contains(msg, "stack overflow"):
		return "RecursionError", msg
	}
	return "EvalError", msg
}

// frames converts a Starlark call stack, outermost first, dropping builtin
// frames.
func frames(stack starlark.CallStack) []ports.Frame {
	out := make([]ports.Frame, 0, len(stack))
	for _, fr := range stack {
		filename := fr.Pos.Filename()
		if filename == builtinFilename || fr.Pos.Line == 0 {
			continue
		}
		location := fr.Name
		if location == toplevelFunction {
			location = ports.ModuleMarker
		}
		out = append(out, ports.Frame{
			Filename:   filename,
			Location:   location,
			LineNumber: int(fr.Pos.Line),
		})
	}
	return out
}
