package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	kettleerrors "github.com/alexisbeaulieu97/kettle/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseManifest loads a manifest file from disk, validates it, and returns the resulting model.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kettleerrors.NewParseError(path, 0, err)
	}
	return parseManifest(path, data)
}

func parseManifest(path string, data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, kettleerrors.NewParseError(path, extractLine(err), err)
	}

	if err := ValidateManifest(&manifest); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// LoadProject reads dir/kettle.yaml and returns the project it describes.
// dir may also name the manifest file itself.
func LoadProject(dir string) (*project.Project, error) {
	path := dir
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		path = filepath.Join(dir, ManifestFile)
	} else {
		dir = filepath.Dir(dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}

	manifest, err := ParseManifest(path)
	if err != nil {
		return nil, err
	}

	p := manifest.ToProject(abs)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
