package processor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/cbroglie/mustache"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/deployment"
)

const (
	defaultStatusContext = "gitdeployer"
	defaultTokenEnv      = "GITHUB_TOKEN"
)

var statusStates = []string{"error", "failure", "pending", "success"}

// GitHubStatus posts a commit status for the deployed revision.
type GitHubStatus struct {
	Base

	Owner       string
	Repo        string
	Context     string
	State       string
	Description string
	TargetURL   string

	// BaseURL points the client at GitHub Enterprise or a test server.
	BaseURL string
	token   string
}

// NewGitHubStatus reads the stage params. owner and repo default to the
// target's remote when it is hosted on github.com. The token comes from the
// token param or the environment (token_env, GITHUB_TOKEN by default).
func NewGitHubStatus(base Base, remoteURL string, params map[string]any) (*GitHubStatus, error) {
	s := &GitHubStatus{Base: base, Context: defaultStatusContext, State: "success"}

	var err error
	for key, dst := range map[string]*string{
		"owner":       &s.Owner,
		"repo":        &s.Repo,
		"context":     &s.Context,
		"state":       &s.State,
		"description": &s.Description,
		"target_url":  &s.TargetURL,
		"base_url":    &s.BaseURL,
	} {
		v, perr := stringParam(params, key)
		if perr != nil {
			err = errors.Join(err, perr)
			continue
		}
		if v != "" {
			*dst = v
		}
	}
	if err != nil {
		return nil, err
	}

	if s.Owner == "" || s.Repo == "" {
		owner, repo, ok := parseGitHubRemote(remoteURL)
		if !ok {
			return nil, errors.New("params \"owner\" and \"repo\" are required when the remote is not on github.com")
		}
		if s.Owner == "" {
			s.Owner = owner
		}
		if s.Repo == "" {
			s.Repo = repo
		}
	}

	valid := false
	for _, st := range statusStates {
		if s.State == st {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("param \"state\" must be one of %s, got %q", strings.Join(statusStates, ", "), s.State)
	}

	if s.BaseURL != "" {
		if _, err := url.Parse(s.BaseURL); err != nil {
			return nil, fmt.Errorf("param \"base_url\": %w", err)
		}
	}
	for _, tmpl := range []string{s.Description, s.TargetURL} {
		if _, err := mustache.ParseString(tmpl); err != nil {
			return nil, fmt.Errorf("invalid template %q: %w", tmpl, err)
		}
	}

	s.token, err = secretParam(params, "token", defaultTokenEnv)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// ShouldExecute additionally needs a revision to report on.
func (s *GitHubStatus) ShouldExecute(d *deployment.Deployment, cs changeset.ChangeSet) bool {
	return s.Base.ShouldExecute(d, cs) && d.ToRevision != ""
}

func (s *GitHubStatus) Execute(ctx context.Context, d *deployment.Deployment, cs changeset.ChangeSet, _ map[string]any) (deployment.Result, error) {
	if s.token == "" {
		return deployment.Result{}, errors.New("no GitHub token configured")
	}

	client, err := s.client(ctx)
	if err != nil {
		return deployment.Result{}, err
	}

	vars := templateVars(d, cs)
	description := fmt.Sprintf("Deployed %d change(s) to %s", cs.Len(), d.TargetID)
	if s.Description != "" {
		if description, err = mustache.RenderRaw(s.Description, true, vars); err != nil {
			return deployment.Result{}, fmt.Errorf("failed to render description: %w", err)
		}
	}
	targetURL, err := mustache.RenderRaw(s.TargetURL, true, vars)
	if err != nil {
		return deployment.Result{}, fmt.Errorf("failed to render target_url: %w", err)
	}

	status := &github.RepoStatus{
		State:       github.String(s.State),
		Context:     github.String(s.Context),
		Description: github.String(description),
	}
	if targetURL != "" {
		status.TargetURL = github.String(targetURL)
	}

	if _, _, err := client.Repositories.CreateStatus(ctx, s.Owner, s.Repo, d.ToRevision, status); err != nil {
		return deployment.Result{}, fmt.Errorf("failed to create commit status: %w", err)
	}

	return deployment.Unchanged(fmt.Sprintf("Set %s status %q on %s/%s@%s", s.Context, s.State, s.Owner, s.Repo, shortRev(d.ToRevision))), nil
}

func (s *GitHubStatus) client(ctx context.Context) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: s.token},
	)
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)

	if s.BaseURL != "" {
		base := s.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

// parseGitHubRemote extracts owner and repository from github.com remotes in
// https or scp-like form.
func parseGitHubRemote(remote string) (owner, repo string, ok bool) {
	var path string
	switch {
	case strings.HasPrefix(remote, "git@github.com:"):
		path = strings.TrimPrefix(remote, "git@github.com:")
	default:
		u, err := url.Parse(remote)
		if err != nil || u.Hostname() != "github.com" {
			return "", "", false
		}
		path = strings.TrimPrefix(u.Path, "/")
	}

	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
