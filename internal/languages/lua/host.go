package lualang

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// run holds the per-execution host state. signal records an abort raised by
// a host function so that it survives a pcall inside step code.
type run struct {
	env    *ports.Environment
	signal error
}

func (r *run) install(L *lua.LState) {
	step := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"breathe": r.breathe,
		"stop":    r.stop,
	})
	display := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"text":       r.text,
		"whitespace": r.whitespace,
	})
	host := L.NewTable()
	L.SetField(host, "step", step)
	L.SetField(host, "display", display)

	L.SetGlobal(ports.HostModuleName, host)
	L.SetGlobal("step", step)
	L.SetGlobal("display", display)
	L.SetGlobal("__file__", lua.LString(r.env.File))
	L.SetGlobal("__package__", lua.LString(r.env.Package))
	L.SetGlobal("print", L.NewFunction(r.print))

	for _, kind := range ports.RaisableKinds {
		L.SetGlobal(kind, L.NewFunction(raiser(kind)))
	}
}

func (r *run) breathe(L *lua.LState) int {
	if r.env.Checkpoint == nil {
		return 0
	}
	if err := r.env.Checkpoint(); err != nil {
		r.abort(L, err)
	}
	return 0
}

func (r *run) stop(L *lua.LState) int {
	r.abort(L, ports.ErrUserAbort)
	return 0
}

func (r *run) abort(L *lua.LState, err error) {
	r.signal = err
	L.RaiseError("%s", err.Error())
}

func (r *run) print(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	_ = r.env.Display.Text(strings.Join(parts, "\t") + "\n")
	return 0
}

func (r *run) text(L *lua.LState) int {
	value := L.ToStringMeta(L.CheckAny(1)).String()
	if err := r.env.Display.Text(value + "\n"); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (r *run) whitespace(L *lua.LState) int {
	lines := L.OptInt(1, 1)
	if err := r.env.Display.Whitespace(lines); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// raiser raises a table {kind, message} so the handler can recover the kind
// without parsing the message.
func raiser(kind string) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		raised := L.NewTable()
		raised.RawSetString("kind", lua.LString(kind))
		raised.RawSetString("message", lua.LString(strings.Join(parts, " ")))
		L.Error(raised, 0)
		return 0
	}
}
