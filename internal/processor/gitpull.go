package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/deployment"
	"gitdeployer/internal/gitsync"
	"gitdeployer/internal/marker"
	"gitdeployer/internal/target"
)

// ReprocessAllParam makes the git-pull stage report every file of the tree
// as created, whatever the marker says.
const ReprocessAllParam = "reprocess_all_files"

// GitPull brings the target's mirror up to date and computes the ChangeSet
// since the last processed revision. It is always the first stage.
type GitPull struct {
	Base

	TargetID string
	Mirror   *gitsync.Mirror
	Filter   *changeset.Filter
	Markers  marker.Store
}

// NewGitPull creates the git-pull stage for a target.
func NewGitPull(t *target.Target, markers marker.Store, logger *slog.Logger) *GitPull {
	return &GitPull{
		Base:     NewBase(target.TypeGitPull, true, true),
		TargetID: t.ID,
		Mirror:   t.NewMirror(logger),
		Filter:   t.Filter,
		Markers:  markers,
	}
}

// ShouldExecute ignores the incoming ChangeSet: the stage produces it.
func (p *GitPull) ShouldExecute(d *deployment.Deployment, _ changeset.ChangeSet) bool {
	return d.Running
}

func (p *GitPull) Execute(ctx context.Context, d *deployment.Deployment, _ changeset.ChangeSet, params map[string]any) (deployment.Result, error) {
	reprocess, err := boolParam(params, ReprocessAllParam)
	if err != nil {
		return deployment.Result{}, err
	}

	if !p.Mirror.Present() {
		return p.clone(ctx, d)
	}
	return p.pull(ctx, d, reprocess)
}

func (p *GitPull) clone(ctx context.Context, d *deployment.Deployment) (deployment.Result, error) {
	repo, err := p.Mirror.Clone(ctx)
	if err != nil {
		return deployment.Result{}, err
	}

	// A new clone starts from scratch, so no earlier marker may survive it.
	if err := p.Markers.Delete(ctx, p.TargetID); err != nil {
		return deployment.Result{}, fmt.Errorf("failed to reset processed commit marker: %w", err)
	}

	head, err := gitsync.Head(repo)
	if err != nil {
		return deployment.Result{}, &gitsync.SyncError{Op: "clone", Dir: p.Mirror.Dir, Err: err}
	}

	cs, err := gitsync.Diff(ctx, repo, "", head, p.Filter)
	if err != nil {
		return deployment.Result{}, err
	}

	d.SetRevisions("", head)
	loggerFor(d).Info("mirror cloned", "revision", head, "files", cs.Len())

	detail := fmt.Sprintf("Successfully cloned %s into %s", gitsync.RedactURL(p.Mirror.Remote.URL), p.Mirror.Dir)
	return deployment.Replaced(cs, detail), nil
}

func (p *GitPull) pull(ctx context.Context, d *deployment.Deployment, reprocess bool) (deployment.Result, error) {
	res, err := p.Mirror.Pull(ctx)
	if err != nil {
		return deployment.Result{}, err
	}

	repo, err := p.Mirror.Open()
	if err != nil {
		return deployment.Result{}, err
	}

	from, err := p.baseRevision(ctx, loggerFor(d), repo, reprocess)
	if err != nil {
		return deployment.Result{}, err
	}

	cs, err := gitsync.Diff(ctx, repo, from, res.After, p.Filter)
	if err != nil {
		return deployment.Result{}, err
	}

	d.SetRevisions(from, res.After)
	loggerFor(d).Info("mirror pulled", "status", res.Status.String(), "from", from, "to", res.After, "changes", cs.Len())

	var detail string
	switch res.Status {
	case gitsync.AlreadyUpToDate:
		detail = fmt.Sprintf("Already up to date at %s", shortRev(res.After))
	case gitsync.Merged:
		detail = fmt.Sprintf("Merged remote changes, %s..%s", shortRev(res.Before), shortRev(res.After))
	default:
		detail = fmt.Sprintf("Fast-forwarded %s..%s", shortRev(res.Before), shortRev(res.After))
	}
	switch {
	case from == "":
		detail += fmt.Sprintf(", processing all %d files", cs.Len())
	case from != res.Before:
		detail += fmt.Sprintf(", %d changes since %s", cs.Len(), shortRev(from))
	}

	return deployment.Replaced(cs, detail), nil
}

// baseRevision picks the revision to diff from: the marker, or the empty
// revision (everything is new) when there is no usable marker.
func (p *GitPull) baseRevision(ctx context.Context, logger *slog.Logger, repo *git.Repository, reprocess bool) (string, error) {
	if reprocess {
		logger.Info("reprocessing all files")
		return "", nil
	}

	rev, err := p.Markers.Get(ctx, p.TargetID)
	if errors.Is(err, marker.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read processed commit marker: %w", err)
	}

	if !gitsync.HasRevision(repo, rev) {
		logger.Warn("processed revision is not in the mirror, reprocessing all files", "revision", rev)
		return "", nil
	}
	return rev, nil
}

// Preview computes what the next run would process from the mirror as it is,
// without touching the remote. An absent mirror previews as empty.
func (p *GitPull) Preview(ctx context.Context, logger *slog.Logger, reprocess bool) (changeset.ChangeSet, error) {
	if !p.Mirror.Present() {
		return changeset.ChangeSet{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	repo, err := p.Mirror.Open()
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	head, err := gitsync.Head(repo)
	if err != nil {
		return changeset.ChangeSet{}, &gitsync.SyncError{Op: "open", Dir: p.Mirror.Dir, Err: err}
	}

	from, err := p.baseRevision(ctx, logger, repo, reprocess)
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	return gitsync.Diff(ctx, repo, from, head, p.Filter)
}
