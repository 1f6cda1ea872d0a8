package config

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	kettleerrors "github.com/alexisbeaulieu97/kettle/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern    = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	projectIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
	stepExtensions   = map[string]struct{}{".star": {}, ".sky": {}, ".lua": {}}
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("project_id", func(fl validator.FieldLevel) bool {
			return projectIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("step_file", func(fl validator.FieldLevel) bool {
			return isStepFile(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns the configured validator instance for use outside the config package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}

// ValidateManifest performs schema and cross-field validation on the manifest.
func ValidateManifest(manifest *Manifest) error {
	if manifest == nil {
		return kettleerrors.NewValidationError("manifest", "manifest is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(manifest); err != nil {
		return convertValidationError(err)
	}

	seen := make(map[string]int, len(manifest.Steps))
	for i, step := range manifest.Steps {
		key := path.Clean(filepath.ToSlash(step))
		if first, exists := seen[key]; exists {
			return kettleerrors.NewValidationError(fieldForStep(i), fmt.Sprintf("duplicate step %q (first listed at steps[%d])", step, first), nil)
		}
		seen[key] = i
	}

	return nil
}

// isStepFile accepts relative, non-escaping paths with a known step extension.
func isStepFile(name string) bool {
	if strings.TrimSpace(name) == "" || strings.Contains(name, "\x00") {
		return false
	}
	slashed := filepath.ToSlash(name)
	if path.IsAbs(slashed) || filepath.IsAbs(name) {
		return false
	}
	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	_, ok := stepExtensions[strings.ToLower(path.Ext(cleaned))]
	return ok
}
