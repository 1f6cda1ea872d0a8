package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	kettleerrors "github.com/alexisbeaulieu97/kettle/pkg/errors"
)

// convertValidationError normalizes validator errors into kettle validation errors.
func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return kettleerrors.NewValidationError(field, msg, err)
	}

	return kettleerrors.NewValidationError("manifest", err.Error(), err)
}

// yamlishFieldName turns "Manifest.Steps[1]" into "steps[1]" and
// "Manifest.SourceDirectory" into "source_directory".
func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = snakeCase(part)
	}
	return strings.Join(parts, ".")
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && name[i-1] != '[' {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "i_d" {
		return "id"
	}
	return out
}

func fieldForStep(index int) string {
	return fmt.Sprintf("steps[%d]", index)
}
