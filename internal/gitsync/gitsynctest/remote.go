// Package gitsynctest builds throwaway git repositories for tests that need a
// remote to clone and pull from.
package gitsynctest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Remote is a non-bare repository on the main branch living in a temp dir.
type Remote struct {
	t    *testing.T
	Dir  string
	Repo *git.Repository
}

// NewRemote initialises an empty repository.
func NewRemote(t *testing.T) *Remote {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err, "Failed to init repository")

	return &Remote{t: t, Dir: dir, Repo: repo}
}

// URL returns the address to clone the remote from.
func (r *Remote) URL() string {
	return r.Dir
}

// Write creates or overwrites a file and stages it.
func (r *Remote) Write(path, content string) *Remote {
	r.t.Helper()

	full := filepath.Join(r.Dir, filepath.FromSlash(path))
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0755), "Failed to create directory for %s", path)
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0644), "Failed to write %s", path)

	wt := r.worktree()
	_, err := wt.Add(path)
	require.NoError(r.t, err, "Failed to stage %s", path)
	return r
}

// Remove deletes a file and stages the deletion.
func (r *Remote) Remove(path string) *Remote {
	r.t.Helper()

	wt := r.worktree()
	_, err := wt.Remove(path)
	require.NoError(r.t, err, "Failed to remove %s", path)
	return r
}

// Move renames a file and stages the rename.
func (r *Remote) Move(from, to string) *Remote {
	r.t.Helper()

	wt := r.worktree()
	require.NoError(r.t, os.MkdirAll(filepath.Dir(filepath.Join(r.Dir, filepath.FromSlash(to))), 0755), "Failed to create directory for %s", to)
	_, err := wt.Move(from, to)
	require.NoError(r.t, err, "Failed to move %s to %s", from, to)
	return r
}

// Commit records the staged changes and returns the new revision.
func (r *Remote) Commit(msg string) string {
	r.t.Helper()

	wt := r.worktree()
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(r.t, err, "Failed to commit")
	return hash.String()
}

// Head returns the current revision of the remote.
func (r *Remote) Head() string {
	r.t.Helper()

	ref, err := r.Repo.Head()
	require.NoError(r.t, err, "Failed to resolve HEAD")
	return ref.Hash().String()
}

func (r *Remote) worktree() *git.Worktree {
	r.t.Helper()

	wt, err := r.Repo.Worktree()
	require.NoError(r.t, err, "Failed to open worktree")
	return wt
}

// CommitInClone commits a file directly inside a mirror, producing local
// history that diverges from the remote. It needs the git binary.
func CommitInClone(t *testing.T, dir, path, content string) {
	t.Helper()

	RequireGit(t)

	full := filepath.Join(dir, filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755), "Failed to create directory for %s", path)
	require.NoError(t, os.WriteFile(full, []byte(content), 0644), "Failed to write %s", path)

	for _, args := range [][]string{
		{"add", path},
		{"-c", "user.name=Test", "-c", "user.email=test@example.com", "commit", "-m", "local change"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
}

// RequireGit skips the test when no git binary is installed.
func RequireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}
