package project

import (
	"path/filepath"
	"strings"
)

// Project is a named collection of steps sharing a source root.
type Project struct {
	ID        string
	Name      string
	Directory string
	// SourceDirectory is the root that diagnostics are made relative to.
	SourceDirectory string
	Steps           []*Step
	Settings        Settings
}

// Settings holds project-wide execution switches.
type Settings struct {
	ContinueOnError bool
	Testing         bool
}

// New builds a project rooted at dir with one step per file name. Step files
// are resolved under sourceDir, which defaults to dir.
func New(id, name, dir, sourceDir string, stepNames []string) *Project {
	if sourceDir == "" {
		sourceDir = dir
	} else if !filepath.IsAbs(sourceDir) {
		sourceDir = filepath.Join(dir, sourceDir)
	}

	p := &Project{
		ID:              id,
		Name:            name,
		Directory:       filepath.Clean(dir),
		SourceDirectory: filepath.Clean(sourceDir),
	}
	for _, stepName := range stepNames {
		rel := filepath.FromSlash(stepName)
		p.Steps = append(p.Steps, &Step{
			Name:       filepath.Base(rel),
			Filename:   rel,
			SourcePath: filepath.Join(p.SourceDirectory, rel),
		})
	}
	return p
}

// Validate ensures the project satisfies all invariants.
func (p *Project) Validate() error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return newMissingFieldError("id")
	}
	if strings.TrimSpace(p.SourceDirectory) == "" {
		return newMissingFieldError("source_directory")
	}

	seen := make(map[string]struct{}, len(p.Steps))
	for _, step := range p.Steps {
		if err := step.Validate(); err != nil {
			return err
		}
		if _, ok := seen[step.Filename]; ok {
			return newDuplicateError(step.Filename)
		}
		seen[step.Filename] = struct{}{}
	}
	return nil
}

// Step looks up a step by its name or relative filename.
func (p *Project) Step(name string) (*Step, error) {
	for _, step := range p.Steps {
		if step.Name == name || step.Filename == filepath.FromSlash(name) {
			return step, nil
		}
	}
	return nil, newNotFoundError(name)
}

// PackageName synthesizes the cosmetic qualifier bound to a step's
// __package__ global: the project id with dots replaced by dashes, followed
// by the step path without extension, all joined with dots.
func (p *Project) PackageName(step *Step) string {
	parts := []string{strings.ReplaceAll(p.ID, ".", "-")}
	rel := step.Filename
	if ext := filepath.Ext(rel); ext != "" {
		rel = strings.TrimSuffix(rel, ext)
	}
	for _, segment := range strings.Split(filepath.ToSlash(rel), "/") {
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, ".")
}
