// Package gitsync maintains the local git mirror of a target's source
// repository: cloning it, pulling remote changes and diffing revisions into a
// changeset.ChangeSet.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

const (
	// RemoteName is the name of the remote every mirror tracks.
	RemoteName = "origin"

	gitDirName = ".git"
)

// Remote identifies the repository and branch a mirror follows.
type Remote struct {
	URL      string
	Branch   string
	Username string
	Password string
}

func (r Remote) auth() transport.AuthMethod {
	if r.Username == "" && r.Password == "" {
		return nil
	}
	// Credentials only apply to HTTP(S); SSH remotes use the agent.
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return nil
	}
	return &githttp.BasicAuth{Username: r.Username, Password: r.Password}
}

// Options tunes the git configuration of a freshly cloned mirror.
type Options struct {
	BigFileThreshold string
	Compression      *int
}

// Mirror is the on-disk clone of a remote repository owned by one target.
type Mirror struct {
	Dir     string
	Remote  Remote
	Options Options
	Logger  *slog.Logger
}

// NewMirror returns a Mirror rooted at dir.
func NewMirror(dir string, remote Remote, opts Options, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		Dir:     dir,
		Remote:  remote,
		Options: opts,
		Logger:  logger,
	}
}

// Present reports whether the mirror directory and its git metadata exist.
func (m *Mirror) Present() bool {
	info, err := os.Stat(m.Dir)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(m.Dir, gitDirName))
	return err == nil
}

// Open opens the existing mirror.
func (m *Mirror) Open() (*git.Repository, error) {
	m.Logger.Debug("opening local git repository", "dir", m.Dir)

	repo, err := git.PlainOpen(m.Dir)
	if err != nil {
		return nil, &SyncError{Op: "open", Dir: m.Dir, Err: err}
	}
	return repo, nil
}

// Clone replaces whatever is at the mirror directory with a fresh clone of the
// remote branch. On failure the directory is removed so that the next attempt
// starts from the same clean state.
func (m *Mirror) Clone(ctx context.Context) (*git.Repository, error) {
	if _, err := os.Stat(m.Dir); err == nil {
		m.Logger.Debug("deleting existing directory before cloning", "dir", m.Dir)
		if err := os.RemoveAll(m.Dir); err != nil {
			return nil, &SyncError{Op: "clone", Dir: m.Dir, Err: fmt.Errorf("failed to remove stale directory: %w", err)}
		}
	}

	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return nil, &SyncError{Op: "clone", Dir: m.Dir, Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	m.Logger.Info("cloning git remote repository", "url", RedactURL(m.Remote.URL), "branch", m.Remote.Branch, "dir", m.Dir)

	opts := &git.CloneOptions{
		URL:          m.Remote.URL,
		Auth:         m.Remote.auth(),
		SingleBranch: true,
	}
	if m.Remote.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(m.Remote.Branch)
	}

	repo, err := git.PlainCloneContext(ctx, m.Dir, false, opts)
	if err == nil {
		err = applyOptions(repo, m.Options)
	}
	if err != nil {
		if rmErr := os.RemoveAll(m.Dir); rmErr != nil {
			m.Logger.Warn("failed to remove partial clone", "dir", m.Dir, "error", rmErr)
		}
		return nil, &SyncError{Op: "clone", Dir: m.Dir, Err: err}
	}

	return repo, nil
}

// Head returns the revision the repository's HEAD points to.
func Head(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// branchRef returns the branch to pull: the configured one, or the branch
// currently checked out.
func (m *Mirror) branchRef(repo *git.Repository) (plumbing.ReferenceName, error) {
	if m.Remote.Branch != "" {
		return plumbing.NewBranchReferenceName(m.Remote.Branch), nil
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", errors.New("HEAD is detached and no branch is configured")
	}
	return head.Name(), nil
}

// syncRemoteURL points origin at the configured URL when the configuration
// changed since the mirror was cloned.
func (m *Mirror) syncRemoteURL(repo *git.Repository) error {
	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("failed to read repository config: %w", err)
	}

	remote, ok := cfg.Remotes[RemoteName]
	if !ok {
		return fmt.Errorf("remote %q not configured", RemoteName)
	}
	if len(remote.URLs) == 1 && remote.URLs[0] == m.Remote.URL {
		return nil
	}

	m.Logger.Info("updating remote URL of mirror", "dir", m.Dir, "url", RedactURL(m.Remote.URL))
	remote.URLs = []string{m.Remote.URL}

	return repo.SetConfig(cfg)
}

func applyOptions(repo *git.Repository, opts Options) error {
	if opts.BigFileThreshold == "" && opts.Compression == nil {
		return nil
	}

	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("failed to read repository config: %w", err)
	}

	core := cfg.Raw.Section("core")
	if opts.BigFileThreshold != "" {
		core.SetOption("bigFileThreshold", opts.BigFileThreshold)
	}
	if opts.Compression != nil {
		core.SetOption("compression", strconv.Itoa(*opts.Compression))
	}

	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("failed to write repository config: %w", err)
	}
	return nil
}

// RedactURL strips credentials embedded in a remote URL before logging it.
func RedactURL(rawURL string) string {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return rawURL
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = "xxxxx@" + rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
