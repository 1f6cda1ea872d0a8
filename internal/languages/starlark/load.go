package starlarklang

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

const (
	libraryPrefix  = "@kettle/"
	resourcePrefix = "@resources/"
)

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// moduleLoader executes each load() target once per step run.
type moduleLoader struct {
	env   *ports.Environment
	host  *host
	cache map[string]*loadEntry
}

func newModuleLoader(env *ports.Environment, h *host) *moduleLoader {
	return &moduleLoader{env: env, host: h, cache: make(map[string]*loadEntry)}
}

func (m *moduleLoader) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	path, err := m.resolve(module)
	if err != nil {
		return nil, err
	}

	entry, seen := m.cache[path]
	if entry != nil {
		return entry.globals, entry.err
	}
	if seen {
		return nil, fmt.Errorf("cycle in load graph involving %s", module)
	}

	m.cache[path] = nil
	source, err := m.read(path)
	var globals starlark.StringDict
	if err == nil {
		globals, err = starlark.ExecFileOptions(fileOptions, thread, path, source, m.host.predeclared(path, m.env.Package))
	}
	m.cache[path] = &loadEntry{globals: globals, err: err}
	return globals, err
}

func (m *moduleLoader) resolve(module string) (string, error) {
	switch {
	case strings.HasPrefix(module, libraryPrefix):
		if m.env.Paths.InstallRoot == "" {
			return "", fmt.Errorf("cannot load %s: install root is not configured", module)
		}
		return filepath.Join(m.env.Paths.InstallRoot, "lib", strings.TrimPrefix(module, libraryPrefix)), nil
	case strings.HasPrefix(module, resourcePrefix):
		if m.env.Paths.ResourceRoot == "" {
			return "", fmt.Errorf("cannot load %s: resource root is not configured", module)
		}
		return filepath.Join(m.env.Paths.ResourceRoot, strings.TrimPrefix(module, resourcePrefix)), nil
	case filepath.IsAbs(module):
		return filepath.Clean(module), nil
	default:
		return filepath.Join(m.env.SourceRoot, module), nil
	}
}

func (m *moduleLoader) read(path string) (string, error) {
	if m.env.ReadSource != nil {
		return m.env.ReadSource(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
