package project

import (
	"path/filepath"
	"strings"
)

// Step is one unit of user code belonging to a project.
type Step struct {
	// Name is the step's file name as listed in the manifest, e.g. "S01-intro.star".
	Name string
	// Filename is the step path relative to the project source directory.
	Filename string
	// SourcePath is the absolute path the source is loaded from.
	SourcePath string
	// TestLocals holds the globals captured by the last run in testing mode.
	TestLocals map[string]any
}

// Extension returns the lower-cased file extension including the dot.
func (s Step) Extension() string {
	return strings.ToLower(filepath.Ext(s.Name))
}

// ModuleName is the step name without its last extension.
func (s Step) ModuleName() string {
	base := filepath.Base(s.Name)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		return base[:idx]
	}
	return base
}

// Validate ensures the step carries the fields the engine relies on.
func (s Step) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return newMissingFieldError("name")
	}
	if s.Extension() == "" {
		return newDomainError(ErrCodeLanguage, "step file has no extension", map[string]interface{}{"step": s.Name})
	}
	if strings.TrimSpace(s.SourcePath) == "" {
		return newMissingFieldError("source_path").WithContext(map[string]interface{}{"step": s.Name})
	}
	return nil
}
