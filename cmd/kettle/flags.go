package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/alexisbeaulieu97/kettle/internal/config"
)

var stdoutIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func resolveTarget(args []string) string {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "."
	}
	return args[0]
}

func validateRunOptions(opts runOptions) error {
	abs, err := filepath.Abs(opts.Target)
	if err != nil {
		return fmt.Errorf("resolve project path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("project does not exist: %w", err)
	}
	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(abs, config.ManifestFile)); err != nil {
			return fmt.Errorf("no %s in %s", config.ManifestFile, abs)
		}
	}
	if opts.Only != "" && opts.From != "" {
		return fmt.Errorf("--only and --from cannot be combined")
	}
	return nil
}
