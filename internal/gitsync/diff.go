package gitsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"gitdeployer/internal/changeset"
)

// Diff computes the ChangeSet between two revisions of repo, keeping only the
// paths that pass f. An empty from revision yields every file of the to
// revision as created. A rename is reported as a deletion of the old path and
// a creation of the new one.
//
// ErrUnknownRevision is returned when from is not present in the repository.
func Diff(ctx context.Context, repo *git.Repository, from, to string, f *changeset.Filter) (changeset.ChangeSet, error) {
	toTree, err := treeAt(repo, to)
	if err != nil {
		return changeset.ChangeSet{}, err
	}

	if from == "" {
		paths, err := ListFiles(toTree)
		if err != nil {
			return changeset.ChangeSet{}, err
		}
		return f.Apply(changeset.All(paths)), nil
	}

	if from == to {
		return changeset.ChangeSet{}, nil
	}

	fromTree, err := treeAt(repo, from)
	if err != nil {
		return changeset.ChangeSet{}, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return changeset.ChangeSet{}, fmt.Errorf("failed to diff %s..%s: %w", short(from), short(to), err)
	}

	var b changeset.Builder
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return changeset.ChangeSet{}, fmt.Errorf("failed to classify change: %w", err)
		}

		switch action {
		case merkletrie.Insert:
			b.Add(ch.To.Name, changeset.Created)
		case merkletrie.Delete:
			b.Add(ch.From.Name, changeset.Deleted)
		case merkletrie.Modify:
			if ch.From.Name != ch.To.Name {
				b.Add(ch.From.Name, changeset.Deleted)
				b.Add(ch.To.Name, changeset.Created)
			} else {
				b.Add(ch.To.Name, changeset.Updated)
			}
		}
	}

	return f.Apply(b.Build()), nil
}

// ListFiles returns the path of every file in tree.
func ListFiles(tree *object.Tree) ([]string, error) {
	var paths []string
	err := tree.Files().ForEach(func(file *object.File) error {
		paths = append(paths, file.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return paths, nil
}

// HasRevision reports whether rev is a commit known to repo.
func HasRevision(repo *git.Repository, rev string) bool {
	if !plumbing.IsHash(rev) {
		return false
	}
	_, err := repo.CommitObject(plumbing.NewHash(rev))
	return err == nil
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	if !plumbing.IsHash(rev) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRevision, rev)
	}

	commit, err := repo.CommitObject(plumbing.NewHash(rev))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, short(rev))
		}
		return nil, fmt.Errorf("failed to read commit %s: %w", short(rev), err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", short(rev), err)
	}
	return tree, nil
}

func short(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
