// Package gitsource reads step sources out of a git repository instead of
// the working tree.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/text/encoding"

	"github.com/alexisbeaulieu97/kettle/internal/engine"
	kettleerrors "github.com/alexisbeaulieu97/kettle/pkg/errors"
)

// DefaultRevision is read when no revision is configured.
const DefaultRevision = "HEAD"

// ErrNotTracked is returned when a path does not exist at the revision.
var ErrNotTracked = errors.New("file not tracked at revision")

// Loader implements engine.SourceLoader over a committed revision.
type Loader struct {
	repo     *git.Repository
	root     string
	revision string
	fallback encoding.Encoding
}

var _ engine.SourceLoader = (*Loader)(nil)

// Open locates the repository containing dir, walking up parent directories
// the way the git command does.
func Open(dir, revision string) (*Loader, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolve worktree: %w", err)
	}

	if revision == "" {
		revision = DefaultRevision
	}

	return &Loader{
		repo:     repo,
		root:     canonical(wt.Filesystem.Root()),
		revision: revision,
		fallback: engine.PlatformEncoding(),
	}, nil
}

// Root returns the worktree root.
func (l *Loader) Root() string {
	return l.root
}

// Revision returns the revision the loader reads from.
func (l *Loader) Revision() string {
	return l.revision
}

// Load returns the committed text of path. Failures are *errors.LoadError.
func (l *Loader) Load(ctx context.Context, path string) (string, error) {
	raw, err := l.Read(ctx, path)
	if err != nil {
		return "", kettleerrors.NewLoadError(path, err)
	}
	return engine.Decode(raw, l.fallback), nil
}

// Read returns the raw committed bytes of path. A path that is not part of
// the revision yields ErrNotTracked.
func (l *Loader) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel, err := l.relative(path)
	if err != nil {
		return nil, err
	}

	commit, err := l.commit()
	if err != nil {
		return nil, err
	}

	file, err := commit.File(rel)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%s at %s: %w", rel, l.revision, ErrNotTracked)
		}
		return nil, fmt.Errorf("read %s at %s: %w", rel, l.revision, err)
	}

	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", rel, err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (l *Loader) commit() (*object.Commit, error) {
	hash, err := l.repo.ResolveRevision(plumbing.Revision(l.revision))
	if err != nil {
		return nil, fmt.Errorf("resolve revision %s: %w", l.revision, err)
	}
	commit, err := l.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	return commit, nil
}

// relative converts path into the slash-separated form git trees use.
func (l *Loader) relative(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	rel, err := filepath.Rel(l.root, canonical(path))
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside repository %s", path, l.root)
	}
	return filepath.ToSlash(rel), nil
}

// canonical resolves symlinks in the longest existing prefix of path so
// temp directories behind symlinks compare equal.
func canonical(path string) string {
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(canonical(parent), filepath.Base(path))
}
