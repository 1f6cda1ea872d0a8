package status

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/infrastructure/gitsource"
	"github.com/alexisbeaulieu97/kettle/pkg/diff"
)

// Reasons a step is reported dirty.
const (
	ReasonMarked   = "marked dirty"
	ReasonMissing  = "file missing"
	ReasonModified = "modified since last run"
)

// Entry is the reconciled view of one step.
type Entry struct {
	Step  *project.Step
	State StepState
	// Ran reports whether the step has any recorded run.
	Ran    bool
	Reason string
}

// Dirty reports whether the step needs to run again.
func (e Entry) Dirty() bool {
	return e.State.Dirty
}

// Key is the store key for step: its filename with forward slashes.
func Key(step *project.Step) string {
	return filepath.ToSlash(filepath.Clean(step.Filename))
}

// Reconcile merges the stored state with the file system. A step is dirty
// when it is already marked dirty, when its file no longer exists, or when
// the file was modified after its last recorded run. Newly dirty steps are
// marked in the store; callers decide whether to Save.
func Reconcile(p *project.Project, store *Store) ([]Entry, error) {
	entries := make([]Entry, 0, len(p.Steps))
	for _, step := range p.Steps {
		key := Key(step)
		state, ran := store.Get(key)
		if !ran {
			state.Status = StatusPending
		}

		reason := ""
		switch info, err := os.Stat(step.SourcePath); {
		case state.Dirty:
			reason = ReasonMarked
		case errors.Is(err, fs.ErrNotExist):
			reason = ReasonMissing
		case err != nil:
			return nil, err
		case ran && info.ModTime().After(state.LastRun):
			reason = ReasonModified
		}

		if reason != "" && !state.Dirty {
			store.MarkDirty(key)
			state.Dirty = true
		}

		entries = append(entries, Entry{Step: step, State: state, Ran: ran, Reason: reason})
	}
	return entries, nil
}

// Diff renders the working copy of step against its committed version. An
// untracked step is diffed against empty content.
func Diff(ctx context.Context, source *gitsource.Loader, step *project.Step) (string, error) {
	committed, err := source.Read(ctx, step.SourcePath)
	if err != nil && !errors.Is(err, gitsource.ErrNotTracked) {
		return "", err
	}

	current, err := os.ReadFile(step.SourcePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	label := Key(step)
	return diff.GenerateUnifiedDiff(committed, current, "a/"+label+"@"+source.Revision(), "b/"+label), nil
}
