package engine

import (
	"path/filepath"
	"strings"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// StackSanitizer removes the engine's own frames from the front of a captured
// stack and rewrites the survivors for display.
type StackSanitizer struct {
	Paths ports.Paths
}

// IsInternal reports whether filename belongs to the engine: under the
// install root and, unless DropResourceFrames is set, outside the resource
// root.
func (s StackSanitizer) IsInternal(filename string) bool {
	if !underRoot(filename, s.Paths.InstallRoot) {
		return false
	}
	if !s.Paths.DropResourceFrames && underRoot(filename, s.Paths.ResourceRoot) {
		return false
	}
	return true
}

// Sanitize drops leading internal frames, always keeping the last one, then
// re-roots filenames under sourceRoot and clears the top-level marker. The
// input slice is not modified.
func (s StackSanitizer) Sanitize(frames []ports.Frame, sourceRoot string) []ports.Frame {
	start := 0
	for start < len(frames)-1 && s.IsInternal(frames[start].Filename) {
		start++
	}

	out := make([]ports.Frame, 0, len(frames)-start)
	for _, frame := range frames[start:] {
		out = append(out, FormatFrame(frame, sourceRoot))
	}
	return out
}

// FormatFrame makes the frame's filename relative to sourceRoot when it lies
// under it and turns the module marker into an absent location.
func FormatFrame(frame ports.Frame, sourceRoot string) ports.Frame {
	if rel, ok := relativeTo(frame.Filename, sourceRoot); ok {
		frame.Filename = rel
	}
	if frame.Location == ports.ModuleMarker {
		frame.Location = ""
	}
	return frame
}

// underRoot is a path-boundary-aware prefix check: "/opt/kettle-extra/x" is
// not under "/opt/kettle".
func underRoot(path, root string) bool {
	_, ok := relativeTo(path, root)
	return ok
}

func relativeTo(path, root string) (string, bool) {
	if root == "" || path == "" {
		return "", false
	}
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(prefix):], true
}
