package starlarklang

import (
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// toLocals converts data-valued globals to Go values. Functions and modules
// are left out.
func toLocals(globals starlark.StringDict) map[string]any {
	locals := make(map[string]any, len(globals))
	for name, value := range globals {
		switch value.(type) {
		case *starlark.Function, *starlark.Builtin, *starlarkstruct.Module:
			continue
		}
		locals[name] = toGo(value)
	}
	return locals
}

func toGo(value starlark.Value) any {
	switch v := value.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		return v.String()
	case starlark.Float:
		return float64(v)
	case starlark.String:
		return string(v)
	case *starlark.List:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = toGo(v.Index(i))
		}
		return out
	case starlark.Tuple:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = toGo(item)
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			out[str(item[0])] = toGo(item[1])
		}
		return out
	default:
		return value.String()
	}
}
