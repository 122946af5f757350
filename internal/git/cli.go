package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CLI implements VCS using the git executable.
type CLI struct {
	// gitPath is the path to the git executable
	gitPath string
	dir     string
}

// NewCLI creates a CLI rooted at dir.
// It verifies that git is available on the system.
func NewCLI(ctx context.Context, dir string) (*CLI, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	// Verify git works
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &CLI{gitPath: gitPath, dir: dir}, nil
}

func (g *CLI) Name() string { return string(BackendCLI) }

// IsRepo checks whether the directory is inside a git work tree.
func (g *CLI) IsRepo(ctx context.Context) bool {
	out, err := g.run(ctx, nil, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// Commit stages opts.Paths and commits only those paths. Anything else that
// happens to be staged stays staged and out of the commit.
func (g *CLI) Commit(ctx context.Context, opts CommitOptions) (string, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}
	if !g.IsRepo(ctx) {
		return "", fmt.Errorf("%s: %w", g.dir, ErrNotARepository)
	}

	// -A stages deletions of tracked paths as well as edits
	addArgs := append([]string{"add", "-A", "--"}, opts.Paths...)
	if out, err := g.run(ctx, nil, addArgs...); err != nil {
		return "", fmt.Errorf("git add failed in %s: %w\n%s", g.dir, err, out)
	}

	// diff --quiet exits 1 when there are staged differences
	diffArgs := append([]string{"diff", "--cached", "--quiet", "--"}, opts.Paths...)
	_, err := g.run(ctx, nil, diffArgs...)
	if err == nil {
		return "", ErrNothingToCommit
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		return "", fmt.Errorf("git diff failed in %s: %w", g.dir, err)
	}

	var env []string
	args := []string{"commit", "-m", opts.Message}
	if opts.AuthorName != "" && opts.AuthorEmail != "" {
		args = append(args, "--author", fmt.Sprintf("%s <%s>", opts.AuthorName, opts.AuthorEmail))
		env = []string{
			"GIT_COMMITTER_NAME=" + opts.AuthorName,
			"GIT_COMMITTER_EMAIL=" + opts.AuthorEmail,
		}
	}
	args = append(args, "--")
	args = append(args, opts.Paths...)

	if out, err := g.run(ctx, env, args...); err != nil {
		output := string(out)
		if strings.Contains(output, "nothing to commit") || strings.Contains(output, "no changes added to commit") {
			return "", ErrNothingToCommit
		}
		return "", fmt.Errorf("git commit failed in %s: %w\n%s", g.dir, err, strings.TrimSpace(output))
	}

	// Get the commit hash
	head, err := g.run(ctx, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get commit hash in %s: %w", g.dir, err)
	}
	return strings.TrimSpace(string(head)), nil
}

func (g *CLI) run(ctx context.Context, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, append([]string{"-C", g.dir}, args...)...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return cmd.CombinedOutput()
}
