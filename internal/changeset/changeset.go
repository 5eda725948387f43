// Package changeset describes the file-level differences handled by a single
// deployment run.
//
// A ChangeSet holds three disjoint, sorted sets of slash-separated paths
// relative to the mirror root: created, updated and deleted. Values are
// immutable; every narrowing operation returns a new ChangeSet. The zero value
// is an empty ChangeSet.
package changeset

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
)

// ErrOverlap is returned when the same path is listed in more than one category.
var ErrOverlap = errors.New("path listed in more than one change category")

// Kind classifies a changed path.
type Kind int

const (
	Created Kind = iota
	Updated
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ChangeSet is an immutable set of created, updated and deleted paths.
type ChangeSet struct {
	created []string
	updated []string
	deleted []string
}

// New builds a ChangeSet from the given path lists. Duplicates inside a list
// are collapsed; a path present in two lists is rejected with ErrOverlap.
func New(created, updated, deleted []string) (ChangeSet, error) {
	seen := make(map[string]Kind)
	lists := [...][]string{created, updated, deleted}

	for kind, paths := range lists {
		for _, p := range paths {
			p = normalize(p)
			if p == "" {
				continue
			}
			if prev, ok := seen[p]; ok && prev != Kind(kind) {
				return ChangeSet{}, fmt.Errorf("%w: %q is both %s and %s", ErrOverlap, p, prev, Kind(kind))
			}
			seen[p] = Kind(kind)
		}
	}

	return fromKinds(seen), nil
}

// All returns a ChangeSet in which every given path is created.
func All(paths []string) ChangeSet {
	cs, _ := New(paths, nil, nil)
	return cs
}

// Created returns a copy of the created paths.
func (c ChangeSet) Created() []string { return slices.Clone(c.created) }

// Updated returns a copy of the updated paths.
func (c ChangeSet) Updated() []string { return slices.Clone(c.updated) }

// Deleted returns a copy of the deleted paths.
func (c ChangeSet) Deleted() []string { return slices.Clone(c.deleted) }

// IsEmpty reports whether no path changed.
func (c ChangeSet) IsEmpty() bool {
	return c.Len() == 0
}

// Len returns the total number of changed paths.
func (c ChangeSet) Len() int {
	return len(c.created) + len(c.updated) + len(c.deleted)
}

// KindOf returns the category of p, if p is part of the ChangeSet.
func (c ChangeSet) KindOf(p string) (Kind, bool) {
	p = normalize(p)
	if contains(c.created, p) {
		return Created, true
	}
	if contains(c.updated, p) {
		return Updated, true
	}
	if contains(c.deleted, p) {
		return Deleted, true
	}
	return 0, false
}

// Select returns a new ChangeSet holding only the paths for which keep
// returns true.
func (c ChangeSet) Select(keep func(p string) bool) ChangeSet {
	return ChangeSet{
		created: selectPaths(c.created, keep),
		updated: selectPaths(c.updated, keep),
		deleted: selectPaths(c.deleted, keep),
	}
}

// Equal reports whether both ChangeSets hold the same paths per category.
func (c ChangeSet) Equal(o ChangeSet) bool {
	return slices.Equal(c.created, o.created) &&
		slices.Equal(c.updated, o.updated) &&
		slices.Equal(c.deleted, o.deleted)
}

func (c ChangeSet) String() string {
	return fmt.Sprintf("created=%d updated=%d deleted=%d", len(c.created), len(c.updated), len(c.deleted))
}

type jsonChangeSet struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	Deleted []string `json:"deleted"`
}

func (c ChangeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonChangeSet{
		Created: nonNil(c.created),
		Updated: nonNil(c.updated),
		Deleted: nonNil(c.deleted),
	})
}

func (c *ChangeSet) UnmarshalJSON(data []byte) error {
	var raw jsonChangeSet
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cs, err := New(raw.Created, raw.Updated, raw.Deleted)
	if err != nil {
		return err
	}
	*c = cs
	return nil
}

// Builder accumulates tree-diff entries into a ChangeSet. Unlike New it never
// fails: a path reported under two different kinds collapses to Updated, which
// covers a delete and re-create of the same path within one diff.
type Builder struct {
	kinds map[string]Kind
}

// Add records p under kind k.
func (b *Builder) Add(p string, k Kind) {
	p = normalize(p)
	if p == "" {
		return
	}
	if b.kinds == nil {
		b.kinds = make(map[string]Kind)
	}
	if prev, ok := b.kinds[p]; ok && prev != k {
		k = Updated
	}
	b.kinds[p] = k
}

// Build returns the accumulated ChangeSet. The Builder can keep being used.
func (b *Builder) Build() ChangeSet {
	return fromKinds(b.kinds)
}

func fromKinds(kinds map[string]Kind) ChangeSet {
	var cs ChangeSet
	for p, k := range kinds {
		switch k {
		case Created:
			cs.created = append(cs.created, p)
		case Updated:
			cs.updated = append(cs.updated, p)
		case Deleted:
			cs.deleted = append(cs.deleted, p)
		}
	}
	sort.Strings(cs.created)
	sort.Strings(cs.updated)
	sort.Strings(cs.deleted)
	return cs
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

func contains(sorted []string, p string) bool {
	_, ok := slices.BinarySearch(sorted, p)
	return ok
}

func selectPaths(paths []string, keep func(string) bool) []string {
	var out []string
	for _, p := range paths {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func nonNil(paths []string) []string {
	if paths == nil {
		return []string{}
	}
	return paths
}
