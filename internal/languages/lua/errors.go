package lualang

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

const maxStackDepth = 200

var positionPrefix = regexp.MustCompile(`^(.+?):(\d+): `)

// failure is what the message handler captures while the stack is intact.
type failure struct {
	kind    string
	message string
	frames  []ports.Frame
}

// handler runs before the interpreter unwinds, so it is the only place the
// frames of the failing call are still visible.
func (r *run) handler(L *lua.LState) int {
	f := &failure{frames: captureFrames(L)}

	switch v := L.Get(1).(type) {
	case *lua.LTable:
		f.kind = lua.LVAsString(v.RawGetString("kind"))
		f.message = lua.LVAsString(v.RawGetString("message"))
		if f.kind == "" {
			f.kind = "LuaError"
			f.message = v.String()
		}
	case lua.LString:
		f.message = positionPrefix.ReplaceAllString(string(v), "")
		f.kind = classify(f.message)
	default:
		f.message = L.Get(1).String()
		f.kind = "LuaError"
	}

	ud := L.NewUserData()
	ud.Value = f
	L.Push(ud)
	return 1
}

func (r *run) translate(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &ports.RuntimeError{Kind: "LuaError", Message: err.Error(), Err: err}
	}
	if ud, ok := apiErr.Object.(*lua.LUserData); ok {
		if f, ok := ud.Value.(*failure); ok {
			return &ports.RuntimeError{Kind: f.kind, Message: f.message, Frames: f.frames, Err: err}
		}
	}
	message := positionPrefix.ReplaceAllString(apiErr.Object.String(), "")
	return &ports.RuntimeError{Kind: classify(message), Message: message, Err: err}
}

func classify(message string) string {
	switch {
	case strings.HasPrefix(message, "attempt to "):
		return "TypeError"
	case strings.Contains(message, "stack overflow"):
		return "RecursionError"
	case strings.Contains(message, "assertion failed"):
		return "AssertionError"
	}
	return "LuaError"
}

// captureFrames walks the live call stack, skipping Go functions, and
// returns it oldest first.
func captureFrames(L *lua.LState) []ports.Frame {
	var frames []ports.Frame
	for level := 0; level < maxStackDepth; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		if _, err := L.GetInfo("Sln", dbg, lua.LNil); err != nil {
			continue
		}
		if dbg.What == "G" || dbg.CurrentLine <= 0 {
			continue
		}

		location := dbg.Name
		switch {
		case dbg.What == "main" || dbg.LineDefined == 0:
			location = ports.ModuleMarker
		case location == "" || location == "?":
			location = fmt.Sprintf("function <%d>", dbg.LineDefined)
		}
		frames = append(frames, ports.Frame{
			Filename:   strings.TrimPrefix(dbg.Source, "@"),
			Location:   location,
			LineNumber: dbg.CurrentLine,
		})
	}

	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames
}
