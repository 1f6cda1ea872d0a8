package config

import (
	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
)

// ManifestFile is the file name a project directory must contain.
const ManifestFile = "kettle.yaml"

// Manifest represents the kettle.yaml project document.
type Manifest struct {
	Version     string `yaml:"version" validate:"required,semver"`
	ID          string `yaml:"id" validate:"required,project_id"`
	Name        string `yaml:"name" validate:"required,min=1,max=100"`
	Description string `yaml:"description,omitempty"`
	// SourceDirectory is relative to the manifest's directory unless absolute.
	SourceDirectory string   `yaml:"source_directory,omitempty"`
	Settings        Settings `yaml:"settings,omitempty"`
	// Steps lists step files in execution order, relative to SourceDirectory.
	Steps []string `yaml:"steps" validate:"required,min=1,dive,step_file"`
}

// Settings holds project-wide execution switches.
type Settings struct {
	ContinueOnError bool `yaml:"continue_on_error,omitempty"`
	Testing         bool `yaml:"testing,omitempty"`
}

// ToProject builds the domain project for a manifest read from dir.
func (m *Manifest) ToProject(dir string) *project.Project {
	p := project.New(m.ID, m.Name, dir, m.SourceDirectory, m.Steps)
	p.Settings = project.Settings{
		ContinueOnError: m.Settings.ContinueOnError,
		Testing:         m.Settings.Testing,
	}
	return p
}
