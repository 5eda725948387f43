package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"gitdeployer/pkg/cmdutil"
)

// MergeStatus describes how a pull changed the mirror.
type MergeStatus int

const (
	AlreadyUpToDate MergeStatus = iota
	FastForward
	Merged
)

func (s MergeStatus) String() string {
	switch s {
	case AlreadyUpToDate:
		return "already-up-to-date"
	case FastForward:
		return "fast-forward"
	case Merged:
		return "merged"
	default:
		return fmt.Sprintf("MergeStatus(%d)", int(s))
	}
}

// PullResult is the outcome of a successful pull.
type PullResult struct {
	Status MergeStatus
	Before string
	After  string
}

const (
	mergeTimeout   = 5 * time.Minute
	abortTimeout   = 30 * time.Second
	mergeUserName  = "gitdeployer"
	mergeUserEmail = "gitdeployer@localhost"
)

// Pull fetches the remote branch into the mirror and integrates it into the
// working tree. Diverged histories fall back to a merge commit created by the
// git binary, since go-git only fast-forwards.
func (m *Mirror) Pull(ctx context.Context) (PullResult, error) {
	repo, err := m.Open()
	if err != nil {
		return PullResult{}, err
	}

	before, err := Head(repo)
	if err != nil {
		return PullResult{}, &SyncError{Op: "pull", Dir: m.Dir, Err: err}
	}

	if err := m.syncRemoteURL(repo); err != nil {
		return PullResult{}, &SyncError{Op: "pull", Dir: m.Dir, Err: err}
	}

	branch, err := m.branchRef(repo)
	if err != nil {
		return PullResult{}, &SyncError{Op: "pull", Dir: m.Dir, Err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return PullResult{}, &SyncError{Op: "pull", Dir: m.Dir, Err: err}
	}

	m.Logger.Info("pulling git remote repository", "dir", m.Dir, "branch", branch.Short())

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    RemoteName,
		ReferenceName: branch,
		SingleBranch:  true,
		Auth:          m.Remote.auth(),
	})

	switch {
	case err == nil:
		after, err := Head(repo)
		if err != nil {
			return PullResult{}, &SyncError{Op: "pull", Dir: m.Dir, Err: err}
		}
		return PullResult{Status: FastForward, Before: before, After: after}, nil

	case errors.Is(err, git.NoErrAlreadyUpToDate):
		return PullResult{Status: AlreadyUpToDate, Before: before, After: before}, nil

	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return m.merge(ctx, branch, before)

	default:
		return PullResult{}, &SyncError{Op: "pull", Dir: m.Dir, Err: err}
	}
}

// merge integrates the already fetched remote-tracking branch with a merge
// commit. Conflicts are aborted and reported as ErrUnsupportedMerge.
func (m *Mirror) merge(ctx context.Context, branch plumbing.ReferenceName, before string) (PullResult, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return PullResult{}, fmt.Errorf("%w: history diverged and no git binary is available to merge", ErrUnsupportedMerge)
	}

	tracking := plumbing.NewRemoteReferenceName(RemoteName, branch.Short()).String()
	m.Logger.Info("history diverged, merging remote branch", "dir", m.Dir, "ref", tracking)

	opts := cmdutil.ExecOptions{
		Dir:            m.Dir,
		Timeout:        mergeTimeout,
		CombinedOutput: true,
	}

	result, err := cmdutil.Run(ctx, opts, []string{
		"git",
		"-c", "user.name=" + mergeUserName,
		"-c", "user.email=" + mergeUserEmail,
		"merge", "--no-edit", tracking,
	})
	if err != nil {
		output := ""
		if result != nil {
			output = strings.TrimSpace(string(result.Output))
		}
		if abortErr := m.abortMerge(ctx); abortErr != nil {
			m.Logger.Warn("failed to abort merge", "dir", m.Dir, "error", abortErr)
		}
		return PullResult{}, fmt.Errorf("%w: merge of %s failed: %s", ErrUnsupportedMerge, tracking, output)
	}

	// The merge commit was written behind go-git's back, so re-read the
	// repository from disk.
	repo, err := m.Open()
	if err != nil {
		return PullResult{}, err
	}
	after, err := Head(repo)
	if err != nil {
		return PullResult{}, &SyncError{Op: "pull", Dir: m.Dir, Err: err}
	}

	if after == before {
		return PullResult{Status: AlreadyUpToDate, Before: before, After: after}, nil
	}
	return PullResult{Status: Merged, Before: before, After: after}, nil
}

// abortMerge rolls back an interrupted or conflicting merge. It must run even
// when ctx is done, otherwise the mirror stays mid-merge.
func (m *Mirror) abortMerge(ctx context.Context) error {
	opts := cmdutil.ExecOptions{
		Dir:            m.Dir,
		Timeout:        abortTimeout,
		CombinedOutput: true,
	}
	_, err := cmdutil.Run(context.WithoutCancel(ctx), opts, []string{"git", "merge", "--abort"})
	return err
}
