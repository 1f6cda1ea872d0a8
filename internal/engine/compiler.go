package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// Footer is appended to every step before compilation. The zero-width write
// flushes buffered display output and breathe() is the trailing cancellation
// checkpoint.
const Footer = "\n" +
	ports.HostModuleName + ".display.whitespace(0)\n" +
	ports.HostModuleName + ".step.breathe()\n"

// Registry maps step file extensions to languages.
type Registry struct {
	mu        sync.RWMutex
	languages map[string]ports.Language
}

// NewRegistry registers the given languages under each of their extensions.
func NewRegistry(languages ...ports.Language) *Registry {
	r := &Registry{languages: make(map[string]ports.Language)}
	for _, lang := range languages {
		r.Register(lang)
	}
	return r
}

// Register adds or replaces a language.
func (r *Registry) Register(lang ports.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range lang.Extensions() {
		r.languages[strings.ToLower(ext)] = lang
	}
}

// ForStep returns the language that handles the step's file extension.
func (r *Registry) ForStep(step *project.Step) (ports.Language, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.languages[step.Extension()]
	if !ok {
		return nil, fmt.Errorf("no language registered for %q files", step.Extension())
	}
	return lang, nil
}

// Compiler turns step source into code units.
type Compiler struct {
	Languages *Registry
}

// Compile appends the footer to source and compiles it with the step's
// language. A syntax error is returned as *ports.CompileError with its line
// number and text taken from the original, footer-free source.
func (c *Compiler) Compile(step *project.Step, source string) (ports.Language, ports.CodeUnit, error) {
	lang, err := c.Languages.ForStep(step)
	if err != nil {
		return nil, nil, err
	}

	unit, err := lang.Compile(ports.CompileRequest{
		Filename:   step.SourcePath,
		Source:     source + Footer,
		ModuleName: step.ModuleName(),
	})
	if err != nil {
		var compileErr *ports.CompileError
		if errors.As(err, &compileErr) {
			return lang, nil, anchorCompileError(compileErr, step.SourcePath, source)
		}
		return lang, nil, err
	}
	return lang, unit, nil
}

// anchorCompileError pins the reported line inside the user's source. Parsers
// that only notice a problem at end of input (an unclosed bracket, say) can
// report a line inside the footer; that is attributed to the last user line.
func anchorCompileError(err *ports.CompileError, filename, source string) *ports.CompileError {
	lines := splitSourceLines(source)
	line := err.LineNumber
	switch {
	case line > len(lines):
		line = len(lines)
	case line <= 0 && len(lines) > 0:
		line = 1
	}
	text := ""
	if line > 0 {
		text = strings.TrimRight(lines[line-1], " \t\r")
	}
	return &ports.CompileError{
		Kind:       err.Type(),
		Filename:   filename,
		LineNumber: line,
		Line:       text,
		Message:    err.Message,
	}
}

func splitSourceLines(source string) []string {
	if source == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(source, "\n"), "\n")
}
