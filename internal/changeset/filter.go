package changeset

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter keeps the paths matching at least one include pattern (or all paths
// when there are none) and drops the paths matching any exclude pattern.
// Patterns use doublestar syntax, so "content/**" matches at any depth.
//
// A nil *Filter keeps everything.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter validates the patterns and returns a Filter. It returns nil when
// both lists are empty.
func NewFilter(include, exclude []string) (*Filter, error) {
	if len(include) == 0 && len(exclude) == 0 {
		return nil, nil
	}

	for _, p := range include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}
	for _, p := range exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}

	return &Filter{
		include: append([]string(nil), include...),
		exclude: append([]string(nil), exclude...),
	}, nil
}

// Match reports whether p passes the filter.
func (f *Filter) Match(p string) bool {
	if f == nil {
		return true
	}

	p = normalize(p)

	if len(f.include) > 0 && !matchAny(f.include, p) {
		return false
	}
	return !matchAny(f.exclude, p)
}

// Apply returns the subset of cs that passes the filter.
func (f *Filter) Apply(cs ChangeSet) ChangeSet {
	if f == nil {
		return cs
	}
	return cs.Select(f.Match)
}

func matchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		// Patterns were validated in NewFilter, so Match cannot fail here.
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}
