// Package git provides the source-control clients the commit batcher uses:
// one that shells out to the git binary and one built on go-git.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNothingToCommit is returned when none of the requested paths differ
	// from HEAD. Callers treat it as a successful no-op.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrNotARepository is returned when the directory is not inside a git work tree.
	ErrNotARepository = errors.New("not a repository")
)

// Backend selects a VCS implementation.
type Backend string

const (
	// BackendCLI runs the git executable.
	BackendCLI Backend = "git"

	// BackendGoGit uses the pure-Go go-git library.
	BackendGoGit Backend = "go-git"
)

// VCS is the narrow source-control surface the commit batcher needs.
type VCS interface {
	// Name returns the backend name.
	Name() string

	// IsRepo reports whether the working directory is inside a repository.
	IsRepo(ctx context.Context) bool

	// Commit stages exactly opts.Paths and records one commit containing
	// only those paths. Returns ErrNothingToCommit when they are unchanged.
	Commit(ctx context.Context, opts CommitOptions) (string, error)
}

// CommitOptions describes one commit.
type CommitOptions struct {
	// Paths are relative to the working directory.
	Paths   []string
	Message string

	// AuthorName and AuthorEmail override the repository identity when set.
	AuthorName  string
	AuthorEmail string
}

func (o CommitOptions) validate() error {
	if o.Message == "" {
		return fmt.Errorf("commit message is required")
	}
	if len(o.Paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}
	return nil
}

// Config holds configuration for VCS initialization.
type Config struct {
	// Backend is "git" (default) or "go-git".
	Backend Backend

	// WorkingDir is the directory to use for VCS operations.
	// If empty, the current working directory is used.
	WorkingDir string
}

// New creates the VCS for cfg.Backend. It does not require the directory to
// be a repository yet; IsRepo answers that at commit time.
func New(ctx context.Context, cfg Config) (VCS, error) {
	workingDir := cfg.WorkingDir
	if workingDir == "" {
		var err error
		workingDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	workingDir, err := filepath.Abs(workingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.WorkingDir, err)
	}

	switch cfg.Backend {
	case BackendCLI, "":
		return NewCLI(ctx, workingDir)
	case BackendGoGit:
		return NewGoGit(workingDir), nil
	default:
		return nil, fmt.Errorf("unsupported VCS backend: %s", cfg.Backend)
	}
}
