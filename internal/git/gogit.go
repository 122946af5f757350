package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	defaultAuthorName  = "vigil"
	defaultAuthorEmail = "vigil@localhost"
)

// GoGit implements VCS with go-git, for hosts without a git binary.
// Unlike CLI it commits the whole index, so paths staged by someone else
// before approval are included.
type GoGit struct {
	dir string
}

// NewGoGit creates a GoGit rooted at dir.
func NewGoGit(dir string) *GoGit {
	return &GoGit{dir: dir}
}

func (g *GoGit) Name() string { return string(BackendGoGit) }

func (g *GoGit) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(g.dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s: %w", g.dir, ErrNotARepository)
		}
		return nil, fmt.Errorf("failed to open repository at %s: %w", g.dir, err)
	}
	return repo, nil
}

// IsRepo checks whether the directory is inside a git work tree.
func (g *GoGit) IsRepo(ctx context.Context) bool {
	_, err := g.open()
	return err == nil
}

// Commit stages opts.Paths and commits the index.
func (g *GoGit) Commit(ctx context.Context, opts CommitOptions) (string, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}
	repo, err := g.open()
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	// go-git wants paths relative to the worktree root, which may be above dir
	root := wt.Filesystem.Root()
	staged := make([]string, 0, len(opts.Paths))
	for _, p := range opts.Paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(g.dir, p)
		}
		rel, err := filepath.Rel(root, full)
		if err != nil {
			return "", fmt.Errorf("path %s is outside the repository: %w", p, err)
		}
		rel = filepath.ToSlash(rel)
		if _, statErr := os.Stat(full); os.IsNotExist(statErr) {
			if _, err := wt.Remove(rel); err != nil {
				return "", fmt.Errorf("failed to stage removal of %s: %w", rel, err)
			}
		} else if _, err := wt.Add(rel); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", rel, err)
		}
		staged = append(staged, rel)
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	changed := false
	for _, rel := range staged {
		if fs, ok := status[rel]; ok && fs.Staging != gogit.Unmodified && fs.Staging != gogit.Untracked {
			changed = true
			break
		}
	}
	if !changed {
		return "", ErrNothingToCommit
	}

	name, email := opts.AuthorName, opts.AuthorEmail
	if name == "" || email == "" {
		name, email = g.identity(repo)
	}
	sig := &object.Signature{Name: name, Email: email, When: time.Now()}
	hash, err := wt.Commit(opts.Message, &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		if errors.Is(err, gogit.ErrEmptyCommit) {
			return "", ErrNothingToCommit
		}
		return "", fmt.Errorf("commit failed: %w", err)
	}
	return hash.String(), nil
}

// identity falls back to the repository's user config, then to a fixed name.
func (g *GoGit) identity(repo *gogit.Repository) (string, string) {
	cfg, err := repo.Config()
	if err == nil && cfg.User.Name != "" && cfg.User.Email != "" {
		return cfg.User.Name, cfg.User.Email
	}
	return defaultAuthorName, defaultAuthorEmail
}
