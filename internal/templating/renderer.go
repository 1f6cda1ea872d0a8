// Package templating renders the user-facing error templates. Templates are
// embedded in the binary and may be overridden by files of the same name in
// the resource directory.
package templating

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	texttemplate "text/template"
)

//go:embed templates/*
var embedded embed.FS

// Renderer implements ports.TemplateRenderer. Files ending in .html are
// parsed with html/template for contextual escaping; everything else uses
// text/template.
type Renderer struct {
	overrides string
	mu        sync.Mutex
	text      map[string]*texttemplate.Template
	html      map[string]*htmltemplate.Template
}

// New returns a Renderer serving the embedded templates. When overrideDir is
// not empty, a template file found there wins over the embedded copy.
func New(overrideDir string) *Renderer {
	return &Renderer{
		overrides: overrideDir,
		text:      make(map[string]*texttemplate.Template),
		html:      make(map[string]*htmltemplate.Template),
	}
}

// RenderTemplate executes the named template with data.
func (r *Renderer) RenderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if strings.HasSuffix(name, ".html") {
		tmpl, err := r.htmlTemplate(name)
		if err != nil {
			return "", err
		}
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("render %s: %w", name, err)
		}
		return buf.String(), nil
	}

	tmpl, err := r.textTemplate(name)
	if err != nil {
		return "", err
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) textTemplate(name string) (*texttemplate.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tmpl, ok := r.text[name]; ok {
		return tmpl, nil
	}
	body, err := r.read(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := texttemplate.New(name).Option("missingkey=zero").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	r.text[name] = tmpl
	return tmpl, nil
}

func (r *Renderer) htmlTemplate(name string) (*htmltemplate.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tmpl, ok := r.html[name]; ok {
		return tmpl, nil
	}
	body, err := r.read(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := htmltemplate.New(name).Option("missingkey=zero").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	r.html[name] = tmpl
	return tmpl, nil
}

func (r *Renderer) read(name string) (string, error) {
	if r.overrides != "" {
		data, err := os.ReadFile(filepath.Join(r.overrides, name))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read template %s: %w", name, err)
		}
	}
	data, err := fs.ReadFile(embedded, path.Join("templates", name))
	if err != nil {
		return "", fmt.Errorf("template %s not found: %w", name, err)
	}
	return string(data), nil
}
