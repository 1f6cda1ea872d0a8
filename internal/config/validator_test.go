package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	kettleerrors "github.com/alexisbeaulieu97/kettle/pkg/errors"
)

func TestValidateManifest(t *testing.T) {
	t.Parallel()

	valid := func() *Manifest {
		return &Manifest{
			Version: "1.0.0",
			ID:      "demo",
			Name:    "Demo",
			Steps:   []string{"S01-intro.star", "S02-data.lua"},
		}
	}

	cases := []struct {
		name   string
		mutate func(m *Manifest)
		field  string
	}{
		{name: "valid manifest passes", mutate: func(*Manifest) {}},
		{name: "missing id", mutate: func(m *Manifest) { m.ID = "" }, field: "id"},
		{name: "uppercase id", mutate: func(m *Manifest) { m.ID = "Demo" }, field: "id"},
		{name: "missing name", mutate: func(m *Manifest) { m.Name = "" }, field: "name"},
		{name: "unknown extension", mutate: func(m *Manifest) { m.Steps = []string{"S01.py"} }, field: "steps[0]"},
		{name: "absolute step", mutate: func(m *Manifest) { m.Steps = []string{"/etc/S01.star"} }, field: "steps[0]"},
		{name: "duplicate step", mutate: func(m *Manifest) { m.Steps = []string{"a/S01.star", "a/./S01.star"} }, field: "steps[1]"},
		{name: "nested step", mutate: func(m *Manifest) { m.Steps = []string{"lessons/one/S01.star"} }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := valid()
			tc.mutate(m)
			err := ValidateManifest(m)
			if tc.field == "" {
				require.NoError(t, err)
				return
			}

			var validationErr *kettleerrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Equal(t, tc.field, validationErr.Field)
		})
	}
}

func TestValidateManifestNil(t *testing.T) {
	t.Parallel()

	err := ValidateManifest(nil)
	require.IsType(t, &kettleerrors.ValidationError{}, err)
}

func TestIsStepFile(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"S01.star":        true,
		"S01.STAR":        true,
		"deep/S01.lua":    true,
		"S01.sky":         true,
		"":                false,
		"  ":              false,
		"noext":           false,
		"../S01.star":     false,
		"a/../../S.star":  false,
		"/abs/S01.star":   false,
		"S01.star\x00.py": false,
	}
	for name, want := range cases {
		require.Equal(t, want, isStepFile(name), "isStepFile(%q)", name)
	}
}

func TestGetValidatorIsShared(t *testing.T) {
	t.Parallel()

	require.Same(t, GetValidator(), GetValidator())
}
