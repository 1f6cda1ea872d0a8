package lualang

import (
	lua "github.com/yuin/gopher-lua"
)

func globalNames(L *lua.LState) map[string]struct{} {
	names := make(map[string]struct{})
	L.G.Global.ForEach(func(key, _ lua.LValue) {
		if s, ok := key.(lua.LString); ok {
			names[string(s)] = struct{}{}
		}
	})
	return names
}

// captureLocals returns the data-valued globals step code defined.
func captureLocals(L *lua.LState, baseline map[string]struct{}) map[string]any {
	locals := make(map[string]any)
	L.G.Global.ForEach(func(key, value lua.LValue) {
		name, ok := key.(lua.LString)
		if !ok {
			return
		}
		if _, builtin := baseline[string(name)]; builtin {
			return
		}
		if value.Type() == lua.LTFunction {
			return
		}
		locals[string(name)] = toGo(value, 0)
	})
	return locals
}

func toGo(value lua.LValue, depth int) any {
	switch v := value.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if depth > 16 {
			return v.String()
		}
		if n := v.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, toGo(v.RawGetInt(i), depth+1))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, item lua.LValue) {
			out[k.String()] = toGo(item, depth+1)
		})
		return out
	default:
		if value == lua.LNil {
			return nil
		}
		return value.String()
	}
}
