package starlarklang

import (
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// raisedError is returned by the predeclared error kinds.
type raisedError struct {
	kind    string
	message string
}

func (e *raisedError) Error() string { return e.message }

// host binds the __kettle__ module to one execution environment.
type host struct {
	env    *ports.Environment
	module *starlarkstruct.Module
	kinds  starlark.StringDict
}

func newHost(env *ports.Environment) *host {
	h := &host{env: env, kinds: make(starlark.StringDict, len(ports.RaisableKinds))}

	step := &starlarkstruct.Module{
		Name: "step",
		Members: starlark.StringDict{
			"breathe": starlark.NewBuiltin("breathe", h.breathe),
			"stop":    starlark.NewBuiltin("stop", h.stop),
		},
	}
	display := &starlarkstruct.Module{
		Name: "display",
		Members: starlark.StringDict{
			"text":       starlark.NewBuiltin("text", h.text),
			"whitespace": starlark.NewBuiltin("whitespace", h.whitespace),
		},
	}
	h.module = &starlarkstruct.Module{
		Name:    ports.HostModuleName,
		Members: starlark.StringDict{"step": step, "display": display},
	}

	for _, kind := range ports.RaisableKinds {
		h.kinds[kind] = raiser(kind)
	}
	return h
}

// predeclared returns the namespace seed for a file.
func (h *host) predeclared(file, pkg string) starlark.StringDict {
	names := starlark.StringDict{
		ports.HostModuleName: h.module,
		"step":               h.module.Members["step"],
		"display":            h.module.Members["display"],
		"__file__":           starlark.String(file),
		"__package__":        starlark.String(pkg),
	}
	for kind, fn := range h.kinds {
		names[kind] = fn
	}
	return names
}

func (h *host) print(_ *starlark.Thread, msg string) {
	_ = h.env.Display.Text(msg + "\n")
}

func (h *host) breathe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if h.env.Checkpoint != nil {
		if err := h.env.Checkpoint(); err != nil {
			return nil, err
		}
	}
	return starlark.None, nil
}

func (h *host) stop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return nil, ports.ErrUserAbort
}

func (h *host) text(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &value); err != nil {
		return nil, err
	}
	if err := h.env.Display.Text(str(value) + "\n"); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (h *host) whitespace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	lines := 1
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &lines); err != nil {
		return nil, err
	}
	if err := h.env.Display.Whitespace(lines); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func raiser(kind string) *starlark.Builtin {
	return starlark.NewBuiltin(kind, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		parts := make([]string, 0, len(args))
		for _, arg := range args {
			parts = append(parts, str(arg))
		}
		return nil, &raisedError{kind: kind, message: strings.Join(parts, " ")}
	})
}

func str(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
