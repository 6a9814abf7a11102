// Package gitdir locates the directory shared by every worktree of a git
// repository, which is where the writer lock lives by default.
package gitdir

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNotGitRepository is returned when dir is not inside a git repository.
var ErrNotGitRepository = errors.New("not a git repository")

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Output runs name with args in dir and returns its standard output.
	Output(dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// Output executes a command and returns its standard output. On failure the
// command's standard error is included in the returned error.
func (CLICommandExecutor) Output(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, err
	}
	return out, nil
}

// Resolver finds git metadata directories.
type Resolver struct {
	executor CommandExecutor
}

// NewResolver returns a Resolver that runs the git binary.
func NewResolver() *Resolver {
	return &Resolver{executor: CLICommandExecutor{}}
}

// NewResolverWithExecutor returns a Resolver with a custom executor.
// This is primarily useful for testing.
func NewResolverWithExecutor(executor CommandExecutor) *Resolver {
	return &Resolver{executor: executor}
}

// CommonDir returns the absolute path of the common git directory for the
// repository containing dir. Linked worktrees share it with the main one.
func (r *Resolver) CommonDir(dir string) (string, error) {
	out, err := r.executor.Output(dir, "git", "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotGitRepository, dir, err)
	}

	path := strings.TrimSpace(string(out))
	if path == "" {
		return "", fmt.Errorf("%w: %s: git returned no common dir", ErrNotGitRepository, dir)
	}
	// Git versions without --path-format print a path relative to dir.
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(filepath.Join(dir, path))
		if err != nil {
			return "", err
		}
		path = abs
	}
	return filepath.Clean(path), nil
}

// CommonDir is a convenience wrapper around NewResolver().CommonDir.
func CommonDir(dir string) (string, error) {
	return NewResolver().CommonDir(dir)
}
